package internal

import (
	"fmt"
	"log/slog"
	"time"

	validation "github.com/go-ozzo/ozzo-validation/v4"

	"github.com/starford/ctxstore/internal/chunkstore"
	"github.com/starford/ctxstore/internal/extractor"
	"github.com/starford/ctxstore/internal/tree"
)

// Auth modes.
const (
	AuthModeDisabled = "disabled"
	AuthModeToken    = "token"
)

// Config represents the application configuration.
type Config struct {
	App       ApplicationConfig `yaml:"app"`
	Store     StoreConfig       `yaml:"store"`
	Extractor ExtractorConfig   `yaml:"extractor"`
	Auth      AuthConfig        `yaml:"auth"`
	Metrics   MetricsConfig     `yaml:"metrics"`
}

// Validate validates the configuration.
func (c *Config) Validate() error {
	if err := c.App.Validate(); err != nil {
		return err
	}
	if err := c.Store.Validate(); err != nil {
		return err
	}
	if err := c.Extractor.Validate(); err != nil {
		return err
	}
	return c.Auth.Validate()
}

// ApplicationConfig holds application-level configuration.
type ApplicationConfig struct {
	LogLevel slog.Level `yaml:"log_level"`
	HTTP     HTTPConfig `yaml:"http"`
}

// Validate validates the application configuration.
func (c *ApplicationConfig) Validate() error {
	return c.HTTP.Validate()
}

// HTTPConfig holds HTTP server configuration.
type HTTPConfig struct {
	Port int `yaml:"port"`
}

// Address returns HTTP server address.
func (c *HTTPConfig) Address() string {
	return fmt.Sprintf(":%d", c.Port)
}

// Validate validates the HTTP configuration.
func (c *HTTPConfig) Validate() error {
	return validation.ValidateStruct(c,
		validation.Field(&c.Port, validation.Required, validation.Min(1), validation.Max(65535)),
	)
}

// StoreConfig locates the context root and bounds the chunk store.
//
// StartDir is where root discovery begins; an empty value means the working directory.
// Zero limits fall back to the store defaults.
type StoreConfig struct {
	StartDir        string `yaml:"start_dir"`
	DirName         string `yaml:"dir_name"`
	MaxContentChars int    `yaml:"max_content_chars"`
	RecencyWindow   int    `yaml:"recency_window"`
	LoadPerBucket   int    `yaml:"load_per_bucket"`
	DefaultLimit    int    `yaml:"default_limit"`
	Watch           bool   `yaml:"watch"`
}

// Validate validates the store configuration.
func (c *StoreConfig) Validate() error {
	return validation.ValidateStruct(c,
		validation.Field(&c.DirName, validation.Required),
		validation.Field(&c.MaxContentChars, validation.Min(0)),
		validation.Field(&c.RecencyWindow, validation.Min(0)),
		validation.Field(&c.LoadPerBucket, validation.Min(0)),
		validation.Field(&c.DefaultLimit, validation.Min(0)),
	)
}

// Limits converts the configured bounds for the chunk store.
func (c *StoreConfig) Limits() chunkstore.Limits {
	return chunkstore.Limits{
		MaxContentChars: c.MaxContentChars,
		RecencyWindow:   c.RecencyWindow,
		LoadPerBucket:   c.LoadPerBucket,
		DefaultLimit:    c.DefaultLimit,
	}
}

// ExtractorConfig selects and configures the insight extractor.
type ExtractorConfig struct {
	Provider string        `yaml:"provider"`
	BaseURL  string        `yaml:"base_url"`
	APIKey   string        `yaml:"api_key"`
	Model    string        `yaml:"model"`
	Timeout  time.Duration `yaml:"timeout"`
}

// Validate validates the extractor configuration.
func (c *ExtractorConfig) Validate() error {
	providers := make([]any, 0)
	for _, p := range extractor.Providers() {
		providers = append(providers, p)
	}
	if err := validation.ValidateStruct(c,
		validation.Field(&c.Provider, validation.Required, validation.In(providers...)),
		validation.Field(&c.Timeout, validation.Min(time.Duration(0))),
	); err != nil {
		return err
	}
	if c.Provider == extractor.ProviderOpenAI && c.APIKey == "" && c.BaseURL == "" {
		return fmt.Errorf("extractor: provider %q needs api_key or base_url", c.Provider)
	}
	return nil
}

// Options converts the section for extractor.New.
func (c *ExtractorConfig) Options(logger *slog.Logger) extractor.Config {
	return extractor.Config{
		BaseURL: c.BaseURL,
		APIKey:  c.APIKey,
		Model:   c.Model,
		Timeout: c.Timeout,
		Logger:  logger,
	}
}

// AuthConfig holds authentication configuration.
//
// Mode controls how authentication is enforced:
//   - "disabled" (default): no authentication required, suitable for local use.
//   - "token": Bearer token authentication; Token must be non-empty.
type AuthConfig struct {
	Mode  string `yaml:"mode"`
	Token string `yaml:"token"`
}

// Validate validates the auth configuration.
func (c *AuthConfig) Validate() error {
	if c.Mode == "" {
		c.Mode = AuthModeDisabled
	}
	if err := validation.ValidateStruct(c,
		validation.Field(&c.Mode, validation.Required, validation.In(AuthModeDisabled, AuthModeToken)),
	); err != nil {
		return err
	}
	if c.Mode == AuthModeToken && c.Token == "" {
		return fmt.Errorf("auth: mode is %q but token is empty", AuthModeToken)
	}
	return nil
}

// AuthEnabled returns true when authentication is active.
func (c *AuthConfig) AuthEnabled() bool {
	return c.Mode == AuthModeToken
}

// MetricsConfig toggles the Prometheus collector and the /metrics endpoint.
type MetricsConfig struct {
	Enabled bool `yaml:"enabled"`
}

// NewDefaultConfig returns a new Config with sensible default values.
func NewDefaultConfig() *Config {
	return &Config{
		App: ApplicationConfig{
			LogLevel: slog.LevelInfo,
			HTTP: HTTPConfig{
				Port: 8080,
			},
		},
		Store: StoreConfig{
			DirName:         tree.DefaultDirName,
			MaxContentChars: chunkstore.DefaultMaxContentChars,
			RecencyWindow:   chunkstore.DefaultRecencyWindow,
			LoadPerBucket:   chunkstore.DefaultLoadPerBucket,
			DefaultLimit:    chunkstore.DefaultLimit,
			Watch:           true,
		},
		Extractor: ExtractorConfig{
			Provider: extractor.ProviderHeuristic,
			Timeout:  60 * time.Second,
		},
		Auth: AuthConfig{
			Mode: AuthModeDisabled,
		},
		Metrics: MetricsConfig{
			Enabled: true,
		},
	}
}
