package cmd

import (
	"log/slog"
	"testing"

	"github.com/daybook-ai/daybook/internal/config"
	"github.com/daybook-ai/daybook/internal/provider"
)

func TestParseLogLevel(t *testing.T) {
	t.Parallel()

	tests := []struct {
		in   string
		want slog.Level
	}{
		{in: "debug", want: slog.LevelDebug},
		{in: "DEBUG", want: slog.LevelDebug},
		{in: "info", want: slog.LevelInfo},
		{in: "warn", want: slog.LevelWarn},
		{in: "error", want: slog.LevelError},
		{in: "", want: slog.LevelInfo},
		{in: "verbose", want: slog.LevelInfo},
	}

	for _, tt := range tests {
		if got := parseLogLevel(tt.in); got != tt.want {
			t.Errorf("parseLogLevel(%q) = %v, want %v", tt.in, got, tt.want)
		}
	}
}

func TestNewAdapter(t *testing.T) {
	t.Parallel()

	for _, name := range []string{
		config.ProviderOllama,
		config.ProviderOpenAI,
		config.ProviderCustom,
		config.ProviderOpenRouter,
	} {
		adapter, err := newAdapter(provider.Config{Name: name}, "sk-test")
		if err != nil {
			t.Errorf("newAdapter(%q) error = %v, want nil", name, err)
		}
		if adapter == nil {
			t.Errorf("newAdapter(%q) = nil adapter", name)
		}
	}

	if _, err := newAdapter(provider.Config{Name: "bogus"}, ""); err == nil {
		t.Error("newAdapter(bogus) = nil error, want error")
	}
}
