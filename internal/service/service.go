// Package service orchestrates the extractor and the chunk store for the two caller-facing
// paths: enhancing a prompt with stored context, and capturing insights from text.
package service

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/starford/ctxstore/internal/apperr"
	"github.com/starford/ctxstore/internal/chunkstore"
	"github.com/starford/ctxstore/internal/extractor"
	"github.com/starford/ctxstore/internal/metrics"
	"github.com/starford/ctxstore/internal/models"
)

// Delimiter separates the caller's instructions from the injected context block.
const Delimiter = "\n\n---\n\n"

// maxPerBucket caps how many chunks of one bucket are shown in a context block.
const maxPerBucket = 2

// Store is the part of the chunk store the service depends on.
type Store interface {
	Store(ctx context.Context, insights []models.Insight, source models.Source) (*chunkstore.Task, error)
	Retrieve(ctx context.Context, keywords, categories []string, limit int) ([]models.ScoredChunk, error)
}

// EnhanceRequest asks for context relevant to Prompt, appended to Instructions.
type EnhanceRequest struct {
	Prompt       string `json:"prompt"`
	Instructions string `json:"instructions"`
	Limit        int    `json:"limit,omitempty"`
}

// EnhanceResult always carries usable instructions: the enhanced ones on success, the
// original ones otherwise.
type EnhanceResult struct {
	Instructions string               `json:"instructions"`
	Summary      string               `json:"summary"`
	Success      bool                 `json:"success"`
	Chunks       []models.ScoredChunk `json:"chunks"`
	Error        string               `json:"error,omitempty"`
}

// CaptureRequest asks for insights in Text to be stored. Context is optional
// surrounding information passed to the extractor.
type CaptureRequest struct {
	Text    string        `json:"text"`
	Context string        `json:"context,omitempty"`
	Source  models.Source `json:"source,omitempty"`
}

// CaptureResult reports what was queued. Task is nil when nothing was queued.
type CaptureResult struct {
	Success   bool             `json:"success"`
	Summary   string           `json:"summary"`
	TaskID    string           `json:"task_id,omitempty"`
	Extracted int              `json:"extracted"`
	Insights  []models.Insight `json:"insights,omitempty"`
	Error     string           `json:"error,omitempty"`

	Task *chunkstore.Task `json:"-"`
}

// Option configures a Service.
type Option func(*Service)

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(s *Service) {
		if l != nil {
			s.logger = l
		}
	}
}

// WithMetrics sets the metrics collector.
func WithMetrics(c metrics.Collector) Option {
	return func(s *Service) {
		if c != nil {
			s.metrics = c
		}
	}
}

// Service never returns errors to its callers; failures are reported in the result.
type Service struct {
	store     Store
	extractor extractor.Extractor
	logger    *slog.Logger
	metrics   metrics.Collector
}

// New creates a service over store and ex.
func New(store Store, ex extractor.Extractor, opts ...Option) *Service {
	s := &Service{
		store:     store,
		extractor: ex,
		logger:    slog.Default(),
		metrics:   metrics.NewNoopCollector(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Enhance retrieves chunks relevant to the prompt and appends them to the instructions.
// An empty prompt falls back to the instructions as the query text.
func (s *Service) Enhance(ctx context.Context, req EnhanceRequest) (res EnhanceResult) {
	start := time.Now()
	res = EnhanceResult{Instructions: req.Instructions}
	defer func() {
		if r := recover(); r != nil {
			s.logger.Error("service: enhance panicked", slog.Any("panic", r))
			res = EnhanceResult{Instructions: req.Instructions, Summary: "context enhancement failed", Error: fmt.Sprint(r)}
		}
		s.record(ctx, "enhance", start, res.Success, res.Error)
	}()

	text := req.Prompt
	if strings.TrimSpace(text) == "" {
		text = req.Instructions
	}
	if strings.TrimSpace(text) == "" {
		res.Summary = "nothing to search for"
		return res
	}

	q, err := s.extractor.ExtractRetrievalQuery(ctx, text)
	if err == nil && blankQuery(q) {
		err = apperr.ErrNoQuery
	}
	if err != nil {
		s.logger.Warn("service: query extraction failed", slog.String("error", err.Error()))
		res.Summary = "could not derive a retrieval query"
		res.Error = err.Error()
		return res
	}

	chunks, err := s.store.Retrieve(ctx, q.Keywords, q.Categories, req.Limit)
	if err != nil {
		s.logger.Warn("service: retrieve failed", slog.String("error", err.Error()))
		res.Summary = "context retrieval failed"
		res.Error = err.Error()
		return res
	}
	if len(chunks) == 0 {
		res.Summary = "no relevant context found"
		return res
	}

	block, shown, buckets := FormatContext(chunks)
	res.Instructions = req.Instructions + Delimiter + block
	res.Chunks = shown
	res.Success = true
	res.Summary = fmt.Sprintf("added %d chunks from %d categories", len(shown), buckets)
	s.logger.Debug("service: enhanced",
		slog.Int("chunks", len(shown)),
		slog.Int("buckets", buckets),
		slog.Any("keywords", q.Keywords))
	return res
}

// Capture extracts insights from the text and queues them for storage. It returns once
// the batch is queued; the write happens in the background.
func (s *Service) Capture(ctx context.Context, req CaptureRequest) (res CaptureResult) {
	start := time.Now()
	defer func() {
		if r := recover(); r != nil {
			s.logger.Error("service: capture panicked", slog.Any("panic", r))
			res = CaptureResult{Summary: "insight capture failed", Error: fmt.Sprint(r)}
		}
		s.record(ctx, "capture", start, res.Success, res.Error)
	}()

	if strings.TrimSpace(req.Text) == "" {
		res.Summary = "nothing to capture"
		return res
	}
	source := req.Source
	if !source.Valid() {
		source = models.SourceUserPrompt
	}

	insights, err := s.extractor.ExtractInsights(ctx, req.Text, req.Context)
	if err != nil {
		s.logger.Warn("service: insight extraction failed", slog.String("error", err.Error()))
		res.Summary = "could not extract insights"
		res.Error = err.Error()
		return res
	}
	res.Extracted = len(insights)
	res.Insights = insights
	if len(insights) == 0 {
		res.Success = true
		res.Summary = "no insights found"
		return res
	}

	task, err := s.store.Store(ctx, insights, source)
	if err != nil {
		s.logger.Warn("service: store failed", slog.String("error", err.Error()))
		res.Summary = "could not queue insights"
		res.Error = err.Error()
		return res
	}
	res.Task = task
	res.TaskID = task.ID
	res.Success = true
	res.Summary = fmt.Sprintf("queued %d insights", len(insights))
	return res
}

func (s *Service) record(ctx context.Context, op string, start time.Time, ok bool, errMsg string) {
	status := metrics.StatusSuccess
	switch {
	case errMsg != "":
		status = metrics.StatusError
		s.metrics.RecordError(ctx, op, "degraded")
	case !ok:
		status = metrics.StatusEmpty
	}
	s.metrics.RecordOperation(ctx, op, status, time.Since(start).Milliseconds())
}

// blankQuery reports whether q has no usable term once whitespace is trimmed.
func blankQuery(q models.Query) bool {
	for _, terms := range [][]string{q.Keywords, q.Categories} {
		for _, t := range terms {
			if strings.TrimSpace(t) != "" {
				return false
			}
		}
	}
	return true
}
