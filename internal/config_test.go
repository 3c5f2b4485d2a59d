package internal

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	pkgconfig "github.com/starford/ctxstore/pkg/config"
)

func TestAuthConfig_DisabledMode(t *testing.T) {
	cfg := AuthConfig{Mode: "disabled", Token: ""}
	if err := cfg.Validate(); err != nil {
		t.Fatalf("disabled mode should pass: %v", err)
	}
	if cfg.AuthEnabled() {
		t.Error("disabled mode should not be enabled")
	}
}

func TestAuthConfig_EmptyModeDefaultsDisabled(t *testing.T) {
	cfg := AuthConfig{}
	if err := cfg.Validate(); err != nil {
		t.Fatalf("empty mode should default to disabled: %v", err)
	}
	if cfg.Mode != AuthModeDisabled {
		t.Errorf("mode = %q, want %q", cfg.Mode, AuthModeDisabled)
	}
}

func TestAuthConfig_TokenMode(t *testing.T) {
	cfg := AuthConfig{Mode: "token", Token: "mysecret"}
	if err := cfg.Validate(); err != nil {
		t.Fatalf("token mode with token should pass: %v", err)
	}
	if !cfg.AuthEnabled() {
		t.Error("token mode should be enabled")
	}

	cfg.Token = ""
	err := cfg.Validate()
	if err == nil || !strings.Contains(err.Error(), "token is empty") {
		t.Errorf("empty token: err = %v", err)
	}

	if err := (&AuthConfig{Mode: "magic", Token: "x"}).Validate(); err == nil {
		t.Error("invalid mode should fail validation")
	}
}

func TestDefaultConfig_Valid(t *testing.T) {
	cfg := NewDefaultConfig()
	if err := cfg.Validate(); err != nil {
		t.Fatalf("defaults should validate: %v", err)
	}
	l := cfg.Store.Limits()
	if l.MaxContentChars != 300 || l.RecencyWindow != 1000 || l.LoadPerBucket != 100 || l.DefaultLimit != 6 {
		t.Errorf("limits = %+v", l)
	}
}

func TestStoreConfig_Validate(t *testing.T) {
	cfg := NewDefaultConfig()
	cfg.Store.DirName = ""
	if err := cfg.Validate(); err == nil {
		t.Error("empty dir_name should fail")
	}

	cfg = NewDefaultConfig()
	cfg.Store.RecencyWindow = -1
	if err := cfg.Validate(); err == nil {
		t.Error("negative recency_window should fail")
	}
}

func TestExtractorConfig_Validate(t *testing.T) {
	cases := []struct {
		name string
		cfg  ExtractorConfig
		ok   bool
	}{
		{"heuristic", ExtractorConfig{Provider: "heuristic"}, true},
		{"openai with key", ExtractorConfig{Provider: "openai", APIKey: "k"}, true},
		{"openai with base url", ExtractorConfig{Provider: "openai", BaseURL: "http://localhost:11434/v1"}, true},
		{"openai bare", ExtractorConfig{Provider: "openai"}, false},
		{"unknown", ExtractorConfig{Provider: "magic"}, false},
		{"empty", ExtractorConfig{}, false},
		{"negative timeout", ExtractorConfig{Provider: "heuristic", Timeout: -time.Second}, false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			err := tc.cfg.Validate()
			if tc.ok && err != nil {
				t.Errorf("unexpected error: %v", err)
			}
			if !tc.ok && err == nil {
				t.Error("expected error")
			}
		})
	}
}

func TestFullConfig_AuthValidationCalled(t *testing.T) {
	cfg := NewDefaultConfig()
	cfg.Auth.Mode = "token"
	cfg.Auth.Token = ""
	if err := cfg.Validate(); err == nil {
		t.Fatal("full config validate should catch auth error")
	}
}

func TestLoad_YAMLOverDefaultsWithEnv(t *testing.T) {
	t.Setenv("CTXSTORE_TEST_TOKEN", "from-env")
	path := filepath.Join(t.TempDir(), "config.yaml")
	data := `
app:
  log_level: debug
  http:
    port: 9090
store:
  dir_name: .ctx
  recency_window: 50
  watch: false
extractor:
  provider: heuristic
  timeout: 5s
auth:
  mode: token
  token: ${CTXSTORE_TEST_TOKEN}
`
	if err := os.WriteFile(path, []byte(data), 0o644); err != nil {
		t.Fatal(err)
	}

	cfg := NewDefaultConfig()
	if err := pkgconfig.Load(path, cfg); err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.App.HTTP.Address() != ":9090" || cfg.App.LogLevel.String() != "DEBUG" {
		t.Errorf("app = %+v", cfg.App)
	}
	if cfg.Store.DirName != ".ctx" || cfg.Store.RecencyWindow != 50 || cfg.Store.Watch {
		t.Errorf("store = %+v", cfg.Store)
	}
	if cfg.Store.MaxContentChars != 300 {
		t.Errorf("unset field lost its default: %+v", cfg.Store)
	}
	if cfg.Extractor.Timeout != 5*time.Second {
		t.Errorf("timeout = %v", cfg.Extractor.Timeout)
	}
	if cfg.Auth.Token != "from-env" {
		t.Errorf("token = %q", cfg.Auth.Token)
	}
}
