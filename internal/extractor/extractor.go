// Package extractor turns free text into insights to store and into retrieval queries.
// Providers are looked up by name so the host can switch between the offline heuristic
// and an OpenAI-compatible model through configuration.
package extractor

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/starford/ctxstore/internal/apperr"
	"github.com/starford/ctxstore/internal/models"
)

// Extractor is the extraction collaborator. hint is optional surrounding context for the
// text, such as the task being worked on. Its output is untrusted; the chunk store
// validates every insight again before writing it.
type Extractor interface {
	ExtractInsights(ctx context.Context, text, hint string) ([]models.Insight, error)
	ExtractRetrievalQuery(ctx context.Context, text string) (models.Query, error)
}

// Config carries provider settings. Providers ignore the fields they do not use.
type Config struct {
	BaseURL string
	APIKey  string
	Model   string
	Timeout time.Duration
	Logger  *slog.Logger
}

// Factory builds a provider from its config.
type Factory func(cfg Config) (Extractor, error)

var (
	mu        sync.RWMutex
	factories = map[string]Factory{}
)

// Register adds or replaces a provider under name.
func Register(name string, f Factory) {
	mu.Lock()
	defer mu.Unlock()
	factories[name] = f
}

// New builds the provider registered under name.
func New(name string, cfg Config) (Extractor, error) {
	mu.RLock()
	f, ok := factories[name]
	mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("extractor: %q: %w", name, apperr.ErrUnknownExtractor)
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return f(cfg)
}

// Providers lists the registered provider names, sorted.
func Providers() []string {
	mu.RLock()
	defer mu.RUnlock()
	out := make([]string, 0, len(factories))
	for name := range factories {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}

func init() {
	Register(ProviderHeuristic, func(Config) (Extractor, error) { return NewHeuristic(), nil })
	Register(ProviderOpenAI, func(cfg Config) (Extractor, error) { return NewOpenAI(cfg) })
}
