// Package config loads orchestrator configuration from an optional YAML
// file overlaid with ORCH_-prefixed environment variables.
package config

import (
	"os"
	"regexp"
	"strings"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
)

type Config struct {
	Server    ServerConfig    `koanf:"server"`
	Storage   StorageConfig   `koanf:"storage"`
	Anthropic AnthropicConfig `koanf:"anthropic"`
	Engine    EngineConfig    `koanf:"engine"`
	Logging   LoggingConfig   `koanf:"logging"`
}

type ServerConfig struct {
	Port int `koanf:"port"`
}

type StorageConfig struct {
	Driver string `koanf:"driver"` // sqlite, postgres
	DSN    string `koanf:"dsn"`
}

type AnthropicConfig struct {
	APIKey      string  `koanf:"api_key"`
	BaseURL     string  `koanf:"base_url"` // Optional: custom API endpoint
	Model       string  `koanf:"model"`
	MaxTokens   int     `koanf:"max_tokens"`
	Temperature float64 `koanf:"temperature"`
}

type EngineConfig struct {
	// DataDriven selects configuration-driven orchestration. When false
	// the engine falls back to the fixed legacy phase sequence.
	DataDriven bool `koanf:"data_driven"`
}

type LoggingConfig struct {
	Level string `koanf:"level"` // debug, info, warn, error
}

var envVarPattern = regexp.MustCompile(`\$\{([^}]+)\}`)

// Load reads the YAML file at path (a missing file is fine, env vars alone
// suffice) and overlays ORCH_ environment variables, where double
// underscores separate nesting levels (ORCH_STORAGE__DSN -> storage.dsn).
func Load(path string) (*Config, error) {
	k := koanf.New(".")

	if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
		if !os.IsNotExist(err) {
			return nil, err
		}
	}

	if err := k.Load(env.Provider("ORCH_", ".", func(s string) string {
		return strings.Replace(strings.ToLower(strings.TrimPrefix(s, "ORCH_")), "__", ".", -1)
	}), nil); err != nil {
		return nil, err
	}

	// Default values
	if !k.Exists("server.port") {
		k.Set("server.port", 8080)
	}
	if !k.Exists("storage.driver") {
		k.Set("storage.driver", "sqlite")
	}
	if !k.Exists("storage.dsn") {
		k.Set("storage.dsn", "orchestrator.db")
	}
	if !k.Exists("anthropic.model") {
		k.Set("anthropic.model", "claude-sonnet-4-20250514")
	}
	if !k.Exists("anthropic.max_tokens") {
		k.Set("anthropic.max_tokens", 4096)
	}
	if !k.Exists("anthropic.temperature") {
		k.Set("anthropic.temperature", 0.7)
	}
	if !k.Exists("engine.data_driven") {
		k.Set("engine.data_driven", true)
	}
	if !k.Exists("logging.level") {
		k.Set("logging.level", "info")
	}

	var cfg Config
	if err := k.Unmarshal("", &cfg); err != nil {
		return nil, err
	}

	cfg.Anthropic.APIKey = substituteEnvVars(cfg.Anthropic.APIKey)

	return &cfg, nil
}

func substituteEnvVars(s string) string {
	return envVarPattern.ReplaceAllStringFunc(s, func(match string) string {
		varName := envVarPattern.FindStringSubmatch(match)[1]
		return os.Getenv(varName)
	})
}
