package config

import (
	"fmt"
	"slices"
)

// validSSLModes are the sslmode values libpq accepts.
var validSSLModes = []string{"disable", "allow", "prefer", "require", "verify-ca", "verify-full"}

// Validate validates configuration values. Returns sentinel errors that can
// be checked with errors.Is().
func (c *Config) Validate() error {
	if c == nil {
		return ErrConfigNil
	}

	if c.ActiveModel == "" {
		return fmt.Errorf("%w: active_model cannot be empty", ErrInvalidActiveModel)
	}

	if !c.Ollama.Enabled && !c.OpenAI.Enabled && !c.Custom.Enabled && !c.OpenRouter.Enabled {
		return fmt.Errorf("%w: enable at least one of ollama, openai, custom, openrouter", ErrNoProviderEnabled)
	}
	if c.Ollama.Enabled && c.Ollama.Host == "" {
		return fmt.Errorf("%w: ollama.host cannot be empty while ollama is enabled", ErrInvalidOllamaHost)
	}

	if c.PostgresHost == "" {
		return fmt.Errorf("%w: host cannot be empty", ErrInvalidPostgresHost)
	}
	if c.PostgresPort < 1 || c.PostgresPort > 65535 {
		return fmt.Errorf("%w: must be between 1 and 65535, got %d", ErrInvalidPostgresPort, c.PostgresPort)
	}
	if c.PostgresDBName == "" {
		return fmt.Errorf("%w: database name cannot be empty", ErrInvalidPostgresDBName)
	}
	if !slices.Contains(validSSLModes, c.PostgresSSLMode) {
		return fmt.Errorf("%w: %q is not a valid sslmode", ErrInvalidPostgresSSLMode, c.PostgresSSLMode)
	}

	if c.ServerAddr == "" {
		return fmt.Errorf("%w: server_addr cannot be empty", ErrInvalidServerAddr)
	}

	return nil
}
