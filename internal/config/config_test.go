package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.Server.Port != 8080 {
		t.Errorf("Server.Port = %d, want 8080", cfg.Server.Port)
	}
	if cfg.Storage.Driver != "sqlite" || cfg.Storage.DSN != "orchestrator.db" {
		t.Errorf("Storage = %+v", cfg.Storage)
	}
	if cfg.Anthropic.Model != "claude-sonnet-4-20250514" {
		t.Errorf("Anthropic.Model = %q", cfg.Anthropic.Model)
	}
	if cfg.Anthropic.MaxTokens != 4096 {
		t.Errorf("Anthropic.MaxTokens = %d, want 4096", cfg.Anthropic.MaxTokens)
	}
	if cfg.Anthropic.Temperature != 0.7 {
		t.Errorf("Anthropic.Temperature = %g, want 0.7", cfg.Anthropic.Temperature)
	}
	if !cfg.Engine.DataDriven {
		t.Error("Engine.DataDriven = false, want true by default")
	}
	if cfg.Logging.Level != "info" {
		t.Errorf("Logging.Level = %q, want info", cfg.Logging.Level)
	}
}

func TestLoadFromFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	data := `server:
  port: 9191
storage:
  driver: postgres
  dsn: postgres://localhost/orchestrator
engine:
  data_driven: false
`
	if err := os.WriteFile(path, []byte(data), 0o644); err != nil {
		t.Fatalf("WriteFile() error = %v", err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Server.Port != 9191 {
		t.Errorf("Server.Port = %d, want 9191", cfg.Server.Port)
	}
	if cfg.Storage.Driver != "postgres" {
		t.Errorf("Storage.Driver = %q, want postgres", cfg.Storage.Driver)
	}
	if cfg.Engine.DataDriven {
		t.Error("Engine.DataDriven = true, want false from file")
	}
	// Untouched keys still get defaults.
	if cfg.Anthropic.MaxTokens != 4096 {
		t.Errorf("Anthropic.MaxTokens = %d, want 4096", cfg.Anthropic.MaxTokens)
	}
}

func TestLoadEnvOverridesFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte("server:\n  port: 9191\n"), 0o644); err != nil {
		t.Fatalf("WriteFile() error = %v", err)
	}
	t.Setenv("ORCH_SERVER__PORT", "7070")
	t.Setenv("ORCH_STORAGE__DSN", "/var/lib/orchestrator.db")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Server.Port != 7070 {
		t.Errorf("Server.Port = %d, want 7070 from env", cfg.Server.Port)
	}
	if cfg.Storage.DSN != "/var/lib/orchestrator.db" {
		t.Errorf("Storage.DSN = %q", cfg.Storage.DSN)
	}
}

func TestLoadSubstitutesAPIKeyEnvVar(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte("anthropic:\n  api_key: ${TEST_ANTHROPIC_KEY}\n"), 0o644); err != nil {
		t.Fatalf("WriteFile() error = %v", err)
	}
	t.Setenv("TEST_ANTHROPIC_KEY", "sk-ant-test")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Anthropic.APIKey != "sk-ant-test" {
		t.Errorf("Anthropic.APIKey = %q, want substituted value", cfg.Anthropic.APIKey)
	}
}

func TestValidate(t *testing.T) {
	valid := &Config{
		Server:    ServerConfig{Port: 8080},
		Storage:   StorageConfig{Driver: "sqlite", DSN: "orchestrator.db"},
		Anthropic: AnthropicConfig{Model: "claude-sonnet-4-20250514", MaxTokens: 4096, Temperature: 0.7},
		Logging:   LoggingConfig{Level: "info"},
	}
	if errs := Validate(valid); len(errs) != 0 {
		t.Errorf("Validate(valid) = %v, want none", errs)
	}

	broken := &Config{
		Server:    ServerConfig{Port: 0},
		Storage:   StorageConfig{Driver: "oracle", DSN: ""},
		Anthropic: AnthropicConfig{Model: "", MaxTokens: -1, Temperature: 2.5},
		Logging:   LoggingConfig{Level: "verbose"},
	}
	errs := Validate(broken)
	if len(errs) != 7 {
		t.Fatalf("Validate(broken) found %d problems, want 7: %v", len(errs), errs)
	}
	fields := map[string]bool{}
	for _, e := range errs {
		fields[e.Field] = true
		if e.Error() == "" {
			t.Errorf("empty error string for %s", e.Field)
		}
	}
	for _, want := range []string{"server.port", "storage.driver", "storage.dsn", "anthropic.model", "anthropic.max_tokens", "anthropic.temperature", "logging.level"} {
		if !fields[want] {
			t.Errorf("missing validation error for %s", want)
		}
	}
}
