package cmd

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os/signal"
	"strings"
	"sync"
	"syscall"
	"time"

	"golang.org/x/time/rate"

	"github.com/daybook-ai/daybook/api"
	"github.com/daybook-ai/daybook/internal/assemble"
	"github.com/daybook-ai/daybook/internal/config"
	"github.com/daybook-ai/daybook/internal/conversation"
	"github.com/daybook-ai/daybook/internal/log"
	"github.com/daybook-ai/daybook/internal/observability"
	"github.com/daybook-ai/daybook/internal/postprocess"
	"github.com/daybook-ai/daybook/internal/provider"
	"github.com/daybook-ai/daybook/internal/provider/ollama"
	"github.com/daybook-ai/daybook/internal/provider/openaicompat"
	"github.com/daybook-ai/daybook/internal/provider/openrouter"
	"github.com/daybook-ai/daybook/internal/secret"
	"github.com/daybook-ai/daybook/internal/store"
)

// Client-side rate limiting for cloud providers.
const (
	cloudRequestsPerSecond = 2
	cloudRequestBurst      = 5
)

// tracingShutdownTimeout bounds the final trace flush.
const tracingShutdownTimeout = 5 * time.Second

// runServe initializes and starts the HTTP API server.
func runServe() error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	logger := log.New(log.Config{Level: parseLogLevel(cfg.LogLevel), JSON: cfg.LogJSON})
	slog.SetDefault(logger)

	addr, err := parseServeAddr(cfg.ServerAddr)
	if err != nil {
		return fmt.Errorf("parsing address: %w", err)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	logger.Info("starting daybook", "version", Version)

	if cfg.Tracing.Enabled {
		shutdown, err := observability.Setup(ctx, observability.Config{
			Endpoint:    cfg.Tracing.Endpoint,
			Environment: cfg.Tracing.Environment,
			ServiceName: cfg.Tracing.ServiceName,
			Logger:      logger,
		})
		if err != nil {
			return fmt.Errorf("setting up tracing: %w", err)
		}
		defer func() {
			flushCtx, flushCancel := context.WithTimeout(context.Background(), tracingShutdownTimeout)
			defer flushCancel()
			if err := shutdown(flushCtx); err != nil {
				logger.Warn("tracing shutdown", "error", err)
			}
		}()
	}

	databaseURL := cfg.PostgresURL()
	if err := store.Migrate(databaseURL, logger); err != nil {
		return fmt.Errorf("migrating database: %w", err)
	}

	pool, err := store.NewPool(ctx, databaseURL)
	if err != nil {
		return fmt.Errorf("connecting to database: %w", err)
	}
	defer pool.Close()

	st := store.New(pool, logger)

	secrets, err := secret.NewFileStore("")
	if err != nil {
		return fmt.Errorf("opening secret store: %w", err)
	}

	registry, err := provider.NewRegistry(provider.RegistryConfig{
		Providers:   cfg.ProviderConfigs(),
		Secrets:     secretSource{store: secrets},
		Factory:     newAdapter,
		ActiveModel: cfg.ActiveModel,
		Logger:      logger,
	})
	if err != nil {
		return fmt.Errorf("creating provider registry: %w", err)
	}

	builder, err := assemble.New(assemble.Config{
		History: st,
		Tasks:   st,
		Notes:   st,
		Logger:  logger,
	})
	if err != nil {
		return fmt.Errorf("creating context assembler: %w", err)
	}

	ppCfg := postprocess.Config{Registry: registry, Repo: st, Logger: logger, Tasks: st}
	titler, err := postprocess.NewTitler(ppCfg)
	if err != nil {
		return fmt.Errorf("creating titler: %w", err)
	}
	summarizer, err := postprocess.NewSummarizer(ppCfg)
	if err != nil {
		return fmt.Errorf("creating summarizer: %w", err)
	}
	extractor, err := postprocess.NewTaskExtractor(ppCfg)
	if err != nil {
		return fmt.Errorf("creating task extractor: %w", err)
	}

	var wg sync.WaitGroup
	session, err := conversation.New(conversation.Config{
		Registry:  registry,
		Repo:      st,
		Assembler: builder,
		Logger:    logger,
		Titler:    titler,
		SettingsFn: func(context.Context) assemble.Settings {
			return assemble.Settings{Bio: cfg.Bio, MemoryEnabled: cfg.MemoryEnabled}
		},
		BackgroundCtx: ctx,
		WG:            &wg,
	})
	if err != nil {
		return fmt.Errorf("creating conversation session: %w", err)
	}

	server := api.NewServer(api.Config{
		Pool:        pool,
		Chats:       api.NewChatHandler(st, session, summarizer, extractor, logger),
		Days:        api.NewDayHandler(st, logger),
		CORSOrigins: cfg.CORSOrigins,
		Logger:      logger,
	})

	err = server.Run(ctx, addr)

	// Title generation may still be in flight; let it land before exit.
	wg.Wait()
	return err
}

// secretSource adapts the file-backed secret store to the registry contract:
// a provider without a stored key resolves to an empty key, not an error.
type secretSource struct {
	store *secret.FileStore
}

func (s secretSource) APIKey(ctx context.Context, providerName string) (string, error) {
	key, err := s.store.APIKey(ctx, providerName)
	if errors.Is(err, secret.ErrNotFound) {
		return "", nil
	}
	return key, err
}

// newAdapter builds the concrete adapter for one provider entry.
func newAdapter(cfg provider.Config, apiKey string) (provider.Adapter, error) {
	limiter := rate.NewLimiter(rate.Limit(cloudRequestsPerSecond), cloudRequestBurst)

	switch cfg.Name {
	case config.ProviderOllama:
		return ollama.New(cfg.BaseURL), nil
	case config.ProviderOpenAI, config.ProviderCustom:
		return openaicompat.New(openaicompat.Config{
			BaseURL: cfg.BaseURL,
			APIKey:  apiKey,
			Limiter: limiter,
		}), nil
	case config.ProviderOpenRouter:
		return openrouter.New(openrouter.Config{
			BaseURL: cfg.BaseURL,
			APIKey:  apiKey,
			Limiter: limiter,
		}), nil
	default:
		return nil, fmt.Errorf("unknown provider %q", cfg.Name)
	}
}

// parseLogLevel maps the configured level name to a slog level. Unknown
// names fall back to info.
func parseLogLevel(level string) slog.Level {
	switch strings.ToLower(level) {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
