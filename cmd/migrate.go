package cmd

import (
	"fmt"
	"log/slog"

	"github.com/daybook-ai/daybook/internal/config"
	"github.com/daybook-ai/daybook/internal/log"
	"github.com/daybook-ai/daybook/internal/store"
)

// runMigrate applies pending database migrations and exits.
func runMigrate() error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	logger := log.New(log.Config{Level: parseLogLevel(cfg.LogLevel), JSON: cfg.LogJSON})
	slog.SetDefault(logger)

	if err := store.Migrate(cfg.PostgresURL(), logger); err != nil {
		return fmt.Errorf("migrating database: %w", err)
	}

	logger.Info("database migrations applied")
	return nil
}
