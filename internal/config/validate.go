package config

import "fmt"

// ValidationError represents a single validation issue with a config.
type ValidationError struct {
	Field   string
	Message string
}

func (e ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

var recognizedDrivers = map[string]bool{
	"sqlite":   true,
	"sqlite3":  true,
	"postgres": true,
	"pgx":      true,
}

var recognizedLevels = map[string]bool{
	"debug": true,
	"info":  true,
	"warn":  true,
	"error": true,
}

// Validate checks a Config for semantic errors. It returns all problems
// found rather than stopping at the first one.
func Validate(cfg *Config) []ValidationError {
	var errs []ValidationError

	if cfg.Server.Port <= 0 || cfg.Server.Port > 65535 {
		errs = append(errs, ValidationError{
			Field:   "server.port",
			Message: fmt.Sprintf("must be between 1 and 65535, got %d", cfg.Server.Port),
		})
	}

	if !recognizedDrivers[cfg.Storage.Driver] {
		errs = append(errs, ValidationError{
			Field:   "storage.driver",
			Message: fmt.Sprintf("unrecognized driver %q", cfg.Storage.Driver),
		})
	}
	if cfg.Storage.DSN == "" {
		errs = append(errs, ValidationError{Field: "storage.dsn", Message: "is required"})
	}

	if cfg.Anthropic.Model == "" {
		errs = append(errs, ValidationError{Field: "anthropic.model", Message: "is required"})
	}
	if cfg.Anthropic.MaxTokens <= 0 {
		errs = append(errs, ValidationError{
			Field:   "anthropic.max_tokens",
			Message: fmt.Sprintf("must be positive, got %d", cfg.Anthropic.MaxTokens),
		})
	}
	if cfg.Anthropic.Temperature < 0 || cfg.Anthropic.Temperature > 1 {
		errs = append(errs, ValidationError{
			Field:   "anthropic.temperature",
			Message: fmt.Sprintf("must be between 0 and 1, got %g", cfg.Anthropic.Temperature),
		})
	}

	if !recognizedLevels[cfg.Logging.Level] {
		errs = append(errs, ValidationError{
			Field:   "logging.level",
			Message: fmt.Sprintf("unrecognized level %q", cfg.Logging.Level),
		})
	}

	return errs
}
