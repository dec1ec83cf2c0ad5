package provider

import (
	"context"
	"fmt"
	"log/slog"
	"slices"
	"sync"
	"time"
)

// Config is the persisted, non-secret configuration of one provider. The API
// key lives in the secret store and is merged in at resolve time.
type Config struct {
	// Name identifies the provider ("ollama", "openai", "custom", "openrouter").
	Name string

	// Enabled marks the provider as usable. Disabled providers never own
	// models and are never available.
	Enabled bool

	// Local marks the local-daemon provider. Its models are discovered live
	// from the daemon and its availability requires the daemon to be
	// reachable.
	Local bool

	// BaseURL overrides the provider's default endpoint.
	BaseURL string

	// ContextLength is the context-size hint for this provider's models.
	// Zero means DefaultContextLength.
	ContextLength int

	// Models lists the model ids this provider serves. Ignored for the local
	// provider, whose catalog comes from the daemon.
	Models []string
}

// AdapterFactory builds the concrete adapter for one provider. The apiKey has
// already been fetched from the secret store; it is empty for providers that
// need none.
type AdapterFactory func(cfg Config, apiKey string) (Adapter, error)

// Resolved is the outcome of Registry.Resolve: the provider that owns the
// model and a ready-to-use adapter.
type Resolved struct {
	Provider      string
	Adapter       Adapter
	ContextLength int
}

// localProbeTimeout bounds daemon reachability checks during resolution.
const localProbeTimeout = 2 * time.Second

// RegistryConfig contains all required parameters for the Registry.
type RegistryConfig struct {
	Providers   []Config
	Secrets     SecretStore
	Factory     AdapterFactory
	ActiveModel string
	Logger      *slog.Logger
}

// Registry holds provider configuration and resolves model identifiers to
// concrete adapters. It is safe for concurrent use.
type Registry struct {
	mu        sync.RWMutex
	providers []Config
	active    string

	secrets SecretStore
	factory AdapterFactory
	logger  *slog.Logger
}

// NewRegistry creates a Registry from the given configuration.
func NewRegistry(cfg RegistryConfig) (*Registry, error) {
	if cfg.Factory == nil {
		return nil, fmt.Errorf("adapter factory is required")
	}
	if cfg.Secrets == nil {
		return nil, fmt.Errorf("secret store is required")
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Registry{
		providers: slices.Clone(cfg.Providers),
		active:    cfg.ActiveModel,
		secrets:   cfg.Secrets,
		factory:   cfg.Factory,
		logger:    logger,
	}, nil
}

// ActiveModel returns the registry's current active model id.
func (r *Registry) ActiveModel() string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.active
}

// SetActiveModel replaces the active model id.
func (r *Registry) SetActiveModel(modelID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.active = modelID
}

// ProviderConfig returns the configuration entry for the named provider.
func (r *Registry) ProviderConfig(name string) (Config, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, p := range r.providers {
		if p.Name == name {
			return p, true
		}
	}
	return Config{}, false
}

// Resolve finds the enabled provider that owns modelID and builds its
// adapter, merging the asynchronously fetched secret key into the non-secret
// configuration. Returns ErrModelNotFound when no provider owns the id.
func (r *Registry) Resolve(ctx context.Context, modelID string) (Resolved, error) {
	r.mu.RLock()
	providers := slices.Clone(r.providers)
	r.mu.RUnlock()

	for _, cfg := range providers {
		if !cfg.Enabled {
			continue
		}
		owns, adapter, err := r.owns(ctx, cfg, modelID)
		if err != nil {
			r.logger.Debug("provider ownership check failed", "provider", cfg.Name, "error", err)
			continue
		}
		if !owns {
			continue
		}
		// The local ownership probe already built the adapter; cloud
		// providers build it here.
		if adapter == nil {
			adapter, err = r.buildAdapter(ctx, cfg)
			if err != nil {
				return Resolved{}, fmt.Errorf("building adapter for %s: %w", cfg.Name, err)
			}
		}
		ctxLen := cfg.ContextLength
		if ctxLen <= 0 {
			ctxLen = DefaultContextLength
		}
		return Resolved{Provider: cfg.Name, Adapter: adapter, ContextLength: ctxLen}, nil
	}

	return Resolved{}, fmt.Errorf("%w: %s", ErrModelNotFound, modelID)
}

// IsAvailable reports whether modelID can serve a turn right now. For the
// local-daemon provider this requires the daemon to be reachable and the
// model installed; for cloud providers it only requires an enabled
// configuration entry that lists the model.
func (r *Registry) IsAvailable(ctx context.Context, modelID string) bool {
	r.mu.RLock()
	providers := slices.Clone(r.providers)
	r.mu.RUnlock()

	for _, cfg := range providers {
		if !cfg.Enabled {
			continue
		}
		owns, _, err := r.owns(ctx, cfg, modelID)
		if err == nil && owns {
			return true
		}
	}
	return false
}

// owns reports whether cfg's provider serves modelID. Cloud providers own the
// ids listed in their configuration; the local provider is asked live. For
// the local provider the adapter built for the probe is returned so callers
// can reuse it instead of constructing a second one.
func (r *Registry) owns(ctx context.Context, cfg Config, modelID string) (bool, Adapter, error) {
	if !cfg.Local {
		return slices.Contains(cfg.Models, modelID), nil, nil
	}

	adapter, err := r.buildAdapter(ctx, cfg)
	if err != nil {
		return false, nil, err
	}
	probeCtx, cancel := context.WithTimeout(ctx, localProbeTimeout)
	defer cancel()

	if p, ok := adapter.(Pinger); ok {
		if err := p.Ping(probeCtx); err != nil {
			return false, nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
		}
	}
	lister, ok := adapter.(ModelLister)
	if !ok {
		return false, nil, nil
	}
	models, err := lister.Models(probeCtx)
	if err != nil {
		return false, nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	for _, m := range models {
		if m.ID == modelID {
			return true, adapter, nil
		}
	}
	return false, nil, nil
}

// buildAdapter constructs the adapter for cfg, fetching the provider's secret
// key first. Local providers skip the key lookup.
func (r *Registry) buildAdapter(ctx context.Context, cfg Config) (Adapter, error) {
	var key string
	if !cfg.Local {
		k, err := r.secrets.APIKey(ctx, cfg.Name)
		if err != nil {
			return nil, fmt.Errorf("fetching api key: %w", err)
		}
		key = k
	}
	return r.factory(cfg, key)
}
