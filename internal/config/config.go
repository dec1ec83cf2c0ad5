// Package config provides application configuration management with
// multi-source priority.
//
// Configuration sources (highest to lowest priority):
//  1. Environment variables (runtime override)
//  2. Config file (~/.daybook/config.yaml)
//  3. Default values
//
// Main configuration categories:
//   - Providers: the local daemon plus the cloud backends (see providers.go)
//   - Storage: PostgreSQL connection (see storage.go)
//   - Server: HTTP listen address and CORS
//   - Tracing: OTLP trace export
//
// Sensitive data (the database password) is masked in MarshalJSON; provider
// API keys never pass through this package at all, they live in the secret
// store.
package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/spf13/viper"
)

var (
	// ErrConfigNil indicates the configuration is nil.
	ErrConfigNil = errors.New("configuration is nil")

	// ErrInvalidActiveModel indicates the active model id is empty.
	ErrInvalidActiveModel = errors.New("invalid active model")

	// ErrInvalidOllamaHost indicates the Ollama host is invalid.
	ErrInvalidOllamaHost = errors.New("invalid Ollama host")

	// ErrInvalidPostgresHost indicates the PostgreSQL host is invalid.
	ErrInvalidPostgresHost = errors.New("invalid PostgreSQL host")

	// ErrInvalidPostgresPort indicates the PostgreSQL port is out of range.
	ErrInvalidPostgresPort = errors.New("invalid PostgreSQL port")

	// ErrInvalidPostgresDBName indicates the PostgreSQL database name is invalid.
	ErrInvalidPostgresDBName = errors.New("invalid PostgreSQL database name")

	// ErrInvalidPostgresSSLMode indicates the PostgreSQL SSL mode is invalid.
	ErrInvalidPostgresSSLMode = errors.New("invalid PostgreSQL SSL mode")

	// ErrInvalidServerAddr indicates the HTTP listen address is invalid.
	ErrInvalidServerAddr = errors.New("invalid server address")

	// ErrNoProviderEnabled indicates every provider is disabled.
	ErrNoProviderEnabled = errors.New("no provider enabled")
)

// Config stores application configuration. The database password is masked
// in MarshalJSON.
type Config struct {
	// ActiveModel is the fallback model id used when a chat's bound model is
	// unavailable.
	ActiveModel string `mapstructure:"active_model" json:"active_model"`

	// Bio is the user's self-description, injected into prompt context when
	// non-blank.
	Bio string `mapstructure:"bio" json:"bio"`

	// MemoryEnabled turns the cross-conversation memory block on.
	MemoryEnabled bool `mapstructure:"memory_enabled" json:"memory_enabled"`

	// Provider configuration (see providers.go)
	Ollama     OllamaConfig  `mapstructure:"ollama" json:"ollama"`
	OpenAI     CloudConfig   `mapstructure:"openai" json:"openai"`
	Custom     CloudConfig   `mapstructure:"custom" json:"custom"`
	OpenRouter CloudConfig   `mapstructure:"openrouter" json:"openrouter"`
	Tracing    TracingConfig `mapstructure:"tracing" json:"tracing"`

	// Storage configuration (see storage.go)
	PostgresHost     string `mapstructure:"postgres_host" json:"postgres_host"`
	PostgresPort     int    `mapstructure:"postgres_port" json:"postgres_port"`
	PostgresUser     string `mapstructure:"postgres_user" json:"postgres_user"`
	PostgresPassword string `mapstructure:"postgres_password" json:"postgres_password"` // SENSITIVE: masked in MarshalJSON
	PostgresDBName   string `mapstructure:"postgres_db_name" json:"postgres_db_name"`
	PostgresSSLMode  string `mapstructure:"postgres_ssl_mode" json:"postgres_ssl_mode"`

	// HTTP server configuration
	ServerAddr  string   `mapstructure:"server_addr" json:"server_addr"`
	CORSOrigins []string `mapstructure:"cors_origins" json:"cors_origins"`
	TrustProxy  bool     `mapstructure:"trust_proxy" json:"trust_proxy"`

	// Logging configuration
	LogLevel string `mapstructure:"log_level" json:"log_level"`
	LogJSON  bool   `mapstructure:"log_json" json:"log_json"`
}

// TracingConfig configures OTLP trace export.
type TracingConfig struct {
	Enabled     bool   `mapstructure:"enabled" json:"enabled"`
	Endpoint    string `mapstructure:"endpoint" json:"endpoint"`
	Environment string `mapstructure:"environment" json:"environment"`
	ServiceName string `mapstructure:"service_name" json:"service_name"`
}

// Load loads configuration.
// Priority: Environment variables > Configuration file > Default values
func Load() (*Config, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return nil, fmt.Errorf("getting user home directory: %w", err)
	}

	configDir := filepath.Join(home, ".daybook")
	if err := os.MkdirAll(configDir, 0o750); err != nil {
		return nil, fmt.Errorf("creating config directory: %w", err)
	}

	viper.SetConfigName("config")
	viper.SetConfigType("yaml")
	viper.AddConfigPath(configDir)
	viper.AddConfigPath(".")

	setDefaults()
	bindEnvVariables()

	if err := viper.ReadInConfig(); err != nil {
		// A missing config file is not an error; defaults apply.
		var configNotFound viper.ConfigFileNotFoundError
		if !errors.As(err, &configNotFound) {
			return nil, fmt.Errorf("reading config file: %w", err)
		}
		slog.Debug("configuration file not found, using default values",
			"search_paths", []string{configDir, "."})
	}

	var cfg Config
	if err := viper.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("parsing configuration: %w", err)
	}

	// DATABASE_URL overrides the individual postgres_* settings.
	if err := cfg.parseDatabaseURL(); err != nil {
		return nil, fmt.Errorf("parsing DATABASE_URL: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating configuration: %w", err)
	}

	return &cfg, nil
}

// setDefaults sets all default configuration values.
func setDefaults() {
	viper.SetDefault("active_model", "llama3")
	viper.SetDefault("memory_enabled", true)

	viper.SetDefault("ollama.enabled", true)
	viper.SetDefault("ollama.host", "http://localhost:11434")
	viper.SetDefault("ollama.context_length", 4096)

	viper.SetDefault("openai.enabled", false)
	viper.SetDefault("openai.models", []string{})
	viper.SetDefault("custom.enabled", false)
	viper.SetDefault("custom.models", []string{})
	viper.SetDefault("openrouter.enabled", false)
	viper.SetDefault("openrouter.models", []string{})

	viper.SetDefault("postgres_host", "localhost")
	viper.SetDefault("postgres_port", 5432)
	viper.SetDefault("postgres_user", "daybook")
	viper.SetDefault("postgres_password", "daybook_dev_password")
	viper.SetDefault("postgres_db_name", "daybook")
	viper.SetDefault("postgres_ssl_mode", "disable")

	viper.SetDefault("server_addr", "localhost:8080")
	viper.SetDefault("cors_origins", []string{"http://localhost:5173"})
	viper.SetDefault("trust_proxy", false)

	viper.SetDefault("log_level", "info")
	viper.SetDefault("log_json", false)

	viper.SetDefault("tracing.enabled", false)
	viper.SetDefault("tracing.endpoint", "localhost:4318")
	viper.SetDefault("tracing.environment", "dev")
	viper.SetDefault("tracing.service_name", "daybook")
}

// bindEnvVariables binds environment overrides explicitly. Provider API keys
// are deliberately absent: they live in the secret store, never in config.
func bindEnvVariables() {
	mustBind := func(key, envVar string) {
		if err := viper.BindEnv(key, envVar); err != nil {
			panic(fmt.Sprintf("BUG: failed to bind %q to %q: %v", key, envVar, err))
		}
	}

	mustBind("active_model", "DAYBOOK_ACTIVE_MODEL")
	mustBind("ollama.host", "DAYBOOK_OLLAMA_HOST")
	mustBind("server_addr", "DAYBOOK_ADDR")
	mustBind("cors_origins", "DAYBOOK_CORS_ORIGINS")
	mustBind("trust_proxy", "DAYBOOK_TRUST_PROXY")
	mustBind("log_level", "DAYBOOK_LOG_LEVEL")
	mustBind("tracing.endpoint", "OTEL_EXPORTER_OTLP_ENDPOINT")
}

// maskedValue is the placeholder for masked sensitive data.
const maskedValue = "████████"

// maskSecret masks a secret string for safe logging. Secrets of 8 characters
// or fewer are fully masked; longer ones keep their first and last two
// characters for debug utility.
func maskSecret(s string) string {
	if s == "" {
		return ""
	}
	if len(s) <= 8 {
		return maskedValue
	}
	return s[:2] + "<" + maskedValue + ">" + s[len(s)-2:]
}

// MarshalJSON implements json.Marshaler with explicit sensitive field
// masking. When adding new sensitive fields, update this method.
func (c Config) MarshalJSON() ([]byte, error) {
	type alias Config
	a := alias(c)
	a.PostgresPassword = maskSecret(a.PostgresPassword)
	data, err := json.Marshal(a)
	if err != nil {
		return nil, fmt.Errorf("marshal config: %w", err)
	}
	return data, nil
}
