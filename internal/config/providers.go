package config

import (
	"github.com/daybook-ai/daybook/internal/provider"
)

// Provider names as they appear in the registry and the secret store.
const (
	ProviderOllama     = "ollama"
	ProviderOpenAI     = "openai"
	ProviderCustom     = "custom"
	ProviderOpenRouter = "openrouter"
)

// OllamaConfig configures the local daemon provider. Its model catalog is
// discovered live from the daemon, so no model list appears here.
type OllamaConfig struct {
	Enabled       bool   `mapstructure:"enabled" json:"enabled"`
	Host          string `mapstructure:"host" json:"host"`
	ContextLength int    `mapstructure:"context_length" json:"context_length"`
}

// CloudConfig configures one cloud provider: the fixed OpenAI endpoint, a
// caller-supplied compatible endpoint, or the OpenRouter aggregator. The
// provider owns exactly the model ids listed in Models.
type CloudConfig struct {
	Enabled       bool     `mapstructure:"enabled" json:"enabled"`
	BaseURL       string   `mapstructure:"base_url" json:"base_url"`
	Models        []string `mapstructure:"models" json:"models"`
	ContextLength int      `mapstructure:"context_length" json:"context_length"`
}

// ProviderConfigs renders the configuration as registry entries, in
// resolution order: the local daemon first, then the cloud providers.
func (c *Config) ProviderConfigs() []provider.Config {
	return []provider.Config{
		{
			Name:          ProviderOllama,
			Enabled:       c.Ollama.Enabled,
			Local:         true,
			BaseURL:       c.Ollama.Host,
			ContextLength: c.Ollama.ContextLength,
		},
		{
			Name:          ProviderOpenAI,
			Enabled:       c.OpenAI.Enabled,
			BaseURL:       c.OpenAI.BaseURL,
			Models:        c.OpenAI.Models,
			ContextLength: c.OpenAI.ContextLength,
		},
		{
			Name:          ProviderCustom,
			Enabled:       c.Custom.Enabled,
			BaseURL:       c.Custom.BaseURL,
			Models:        c.Custom.Models,
			ContextLength: c.Custom.ContextLength,
		},
		{
			Name:          ProviderOpenRouter,
			Enabled:       c.OpenRouter.Enabled,
			BaseURL:       c.OpenRouter.BaseURL,
			Models:        c.OpenRouter.Models,
			ContextLength: c.OpenRouter.ContextLength,
		},
	}
}
