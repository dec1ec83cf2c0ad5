// Package openaicompat implements the provider adapter for OpenAI-compatible
// chat-completion APIs.
//
// One Client type serves both the fixed cloud provider and the
// custom-base-URL provider; the two differ only in the endpoint they are
// constructed with. Streaming uses server-sent events ("data:" lines
// terminated by "[DONE]").
package openaicompat

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"iter"
	"net/http"
	"strings"

	"golang.org/x/time/rate"

	"github.com/daybook-ai/daybook/internal/provider"
)

// DefaultBaseURL is the standard OpenAI API endpoint.
const DefaultBaseURL = "https://api.openai.com/v1"

// maxLineBytes bounds a single SSE line.
const maxLineBytes = 1024 * 1024

// Config contains the parameters for a Client.
type Config struct {
	// BaseURL is the API root ("https://api.openai.com/v1" or a
	// caller-supplied compatible endpoint). Empty means DefaultBaseURL.
	BaseURL string

	// APIKey is sent as a bearer token. Empty disables the header; some
	// self-hosted compatible servers take no auth.
	APIKey string

	// Limiter applies proactive client-side rate limiting before each
	// request. Nil disables limiting.
	Limiter *rate.Limiter
}

// Client is an adapter for one OpenAI-compatible endpoint. Safe for
// concurrent use.
type Client struct {
	baseURL    string
	apiKey     string
	limiter    *rate.Limiter
	httpClient *http.Client
}

// New creates a Client from cfg.
func New(cfg Config) *Client {
	baseURL := cfg.BaseURL
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	return &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		apiKey:     cfg.APIKey,
		limiter:    cfg.Limiter,
		httpClient: &http.Client{},
	}
}

type completionRequest struct {
	Model     string             `json:"model"`
	Messages  []provider.Message `json:"messages"`
	Stream    bool               `json:"stream"`
	MaxTokens int                `json:"max_tokens,omitempty"`
}

type completionResponse struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
		Delta struct {
			Content string `json:"content"`
		} `json:"delta"`
	} `json:"choices"`
	Error *apiError `json:"error,omitempty"`
}

type apiError struct {
	Message string `json:"message"`
	Type    string `json:"type"`
}

// Stream sends a streaming chat-completion request and yields content deltas
// in arrival order.
func (c *Client) Stream(ctx context.Context, req provider.Request) iter.Seq2[string, error] {
	return func(yield func(string, error) bool) {
		resp, err := c.send(ctx, req, true)
		if err != nil {
			yield("", err)
			return
		}
		defer resp.Body.Close()

		scanner := bufio.NewScanner(resp.Body)
		scanner.Buffer(make([]byte, 0, 64*1024), maxLineBytes)

		for scanner.Scan() {
			line := scanner.Text()
			if !strings.HasPrefix(line, "data:") {
				continue
			}
			data := strings.TrimSpace(strings.TrimPrefix(line, "data:"))
			if data == "" {
				continue
			}
			if data == "[DONE]" {
				return
			}

			var chunk completionResponse
			if err := json.Unmarshal([]byte(data), &chunk); err != nil {
				// Tolerate malformed keep-alive frames from loose
				// compatible servers.
				continue
			}
			if chunk.Error != nil {
				yield("", fmt.Errorf("api error: %s", chunk.Error.Message))
				return
			}
			if len(chunk.Choices) > 0 && chunk.Choices[0].Delta.Content != "" {
				if !yield(chunk.Choices[0].Delta.Content, nil) {
					return
				}
			}
		}
		if err := scanner.Err(); err != nil {
			yield("", fmt.Errorf("reading stream: %w", err))
		}
	}
}

// Generate sends a non-streaming chat-completion request and returns the
// complete text.
func (c *Client) Generate(ctx context.Context, req provider.Request) (string, error) {
	resp, err := c.send(ctx, req, false)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	var out completionResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", fmt.Errorf("decoding completion: %w", err)
	}
	if out.Error != nil {
		return "", fmt.Errorf("api error: %s", out.Error.Message)
	}
	if len(out.Choices) == 0 {
		return "", fmt.Errorf("completion returned no choices")
	}
	return out.Choices[0].Message.Content, nil
}

func (c *Client) send(ctx context.Context, req provider.Request, stream bool) (*http.Response, error) {
	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			return nil, err
		}
	}

	body, err := json.Marshal(completionRequest{
		Model:    req.Model,
		Messages: req.Messages,
		Stream:   stream,
	})
	if err != nil {
		return nil, fmt.Errorf("marshaling request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/chat/completions", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	if c.apiKey != "" {
		httpReq.Header.Set("Authorization", "Bearer "+c.apiKey)
	}
	if stream {
		httpReq.Header.Set("Accept", "text/event-stream")
	}

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("completion request failed: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		defer resp.Body.Close()
		errBody, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("api returned status %d: %s", resp.StatusCode, strings.TrimSpace(string(errBody)))
	}
	return resp, nil
}
