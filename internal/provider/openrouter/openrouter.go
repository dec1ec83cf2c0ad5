// Package openrouter implements the provider adapter for the OpenRouter
// aggregator.
//
// OpenRouter speaks the OpenAI-compatible chat-completion wire, so chat
// traffic is delegated to an openaicompat.Client; on top of that the
// aggregator exposes a model catalog with per-model context lengths, cached
// with a TTL to keep registry lookups cheap.
package openrouter

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"iter"
	"net/http"
	"strings"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/daybook-ai/daybook/internal/provider"
	"github.com/daybook-ai/daybook/internal/provider/openaicompat"
)

// DefaultBaseURL is the OpenRouter API root.
const DefaultBaseURL = "https://openrouter.ai/api/v1"

// DefaultCatalogTTL is how long a fetched model catalog stays fresh.
const DefaultCatalogTTL = 15 * time.Minute

// Config contains the parameters for a Client.
type Config struct {
	// BaseURL overrides the API root. Empty means DefaultBaseURL.
	BaseURL string

	// APIKey is the OpenRouter key, sent as a bearer token.
	APIKey string

	// CatalogTTL overrides the model-catalog cache lifetime. Zero means
	// DefaultCatalogTTL.
	CatalogTTL time.Duration

	// Limiter applies proactive client-side rate limiting. Nil disables it.
	Limiter *rate.Limiter
}

// Client is the aggregator adapter. Safe for concurrent use.
type Client struct {
	baseURL    string
	apiKey     string
	chat       *openaicompat.Client
	httpClient *http.Client

	mu        sync.Mutex
	catalog   []provider.ModelInfo
	fetchedAt time.Time
	ttl       time.Duration
}

// New creates a Client from cfg.
func New(cfg Config) *Client {
	baseURL := cfg.BaseURL
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	baseURL = strings.TrimRight(baseURL, "/")

	ttl := cfg.CatalogTTL
	if ttl <= 0 {
		ttl = DefaultCatalogTTL
	}

	return &Client{
		baseURL: baseURL,
		apiKey:  cfg.APIKey,
		chat: openaicompat.New(openaicompat.Config{
			BaseURL: baseURL,
			APIKey:  cfg.APIKey,
			Limiter: cfg.Limiter,
		}),
		httpClient: &http.Client{Timeout: 30 * time.Second},
		ttl:        ttl,
	}
}

// Stream delegates to the compatible chat wire.
func (c *Client) Stream(ctx context.Context, req provider.Request) iter.Seq2[string, error] {
	return c.chat.Stream(ctx, req)
}

// Generate delegates to the compatible chat wire.
func (c *Client) Generate(ctx context.Context, req provider.Request) (string, error) {
	return c.chat.Generate(ctx, req)
}

type modelsResponse struct {
	Data []struct {
		ID            string `json:"id"`
		Name          string `json:"name"`
		ContextLength int    `json:"context_length"`
		TopProvider   struct {
			ContextLength int `json:"context_length"`
		} `json:"top_provider"`
	} `json:"data"`
}

// Models returns the aggregator's model catalog. Results are cached for the
// configured TTL.
func (c *Client) Models(ctx context.Context) ([]provider.ModelInfo, error) {
	c.mu.Lock()
	if c.catalog != nil && time.Since(c.fetchedAt) < c.ttl {
		cached := c.catalog
		c.mu.Unlock()
		return cached, nil
	}
	c.mu.Unlock()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/models", nil)
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetching models: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("models endpoint returned %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}

	var out modelsResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("decoding models: %w", err)
	}

	models := make([]provider.ModelInfo, 0, len(out.Data))
	for _, m := range out.Data {
		ctxLen := m.ContextLength
		if m.TopProvider.ContextLength > 0 {
			ctxLen = m.TopProvider.ContextLength
		}
		models = append(models, provider.ModelInfo{
			ID:            m.ID,
			DisplayName:   m.Name,
			Provider:      "openrouter",
			ContextLength: ctxLen,
		})
	}

	c.mu.Lock()
	c.catalog = models
	c.fetchedAt = time.Now()
	c.mu.Unlock()

	return models, nil
}
