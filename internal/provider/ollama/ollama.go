// Package ollama implements the provider adapter for a local Ollama daemon.
//
// The daemon speaks plain HTTP+JSON on localhost; chat responses stream as
// newline-delimited JSON objects. Beyond the chat/generate contract the
// client covers the daemon's management surface: list, pull, ps, show and
// delete.
package ollama

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

	"github.com/daybook-ai/daybook/internal/provider"
)

// DefaultBaseURL is the daemon's default listen address.
const DefaultBaseURL = "http://localhost:11434"

// maxLineBytes bounds a single NDJSON line from the daemon.
const maxLineBytes = 1024 * 1024

// Client talks to one Ollama daemon. It is safe for concurrent use.
type Client struct {
	baseURL    string
	httpClient *http.Client
}

// New creates a Client for the daemon at baseURL. An empty baseURL means
// DefaultBaseURL. No timeout is set on the underlying http.Client; generation
// calls are bounded only by their context.
func New(baseURL string) *Client {
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	return &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{},
	}
}

type chatRequest struct {
	Model    string             `json:"model"`
	Messages []provider.Message `json:"messages"`
	Stream   bool               `json:"stream"`
	Options  *chatOptions       `json:"options,omitempty"`
}

type chatOptions struct {
	NumCtx int `json:"num_ctx,omitempty"`
}

type chatResponse struct {
	Message struct {
		Role    string `json:"role"`
		Content string `json:"content"`
	} `json:"message"`
	Done  bool   `json:"done"`
	Error string `json:"error,omitempty"`
}

// Stream sends a chat request and yields text deltas as the daemon produces
// them. The sequence is finite and non-restartable; the request body is
// closed when the consumer stops iterating.
func (c *Client) Stream(ctx context.Context, req provider.Request) iter.Seq2[string, error] {
	return func(yield func(string, error) bool) {
		resp, err := c.post(ctx, "/api/chat", chatRequest{
			Model:    req.Model,
			Messages: req.Messages,
			Stream:   true,
			Options:  ctxOptions(req),
		})
		if err != nil {
			yield("", err)
			return
		}
		defer resp.Body.Close()

		scanner := bufio.NewScanner(resp.Body)
		scanner.Buffer(make([]byte, 0, 64*1024), maxLineBytes)

		for scanner.Scan() {
			line := bytes.TrimSpace(scanner.Bytes())
			if len(line) == 0 {
				continue
			}
			var chunk chatResponse
			if err := json.Unmarshal(line, &chunk); err != nil {
				yield("", fmt.Errorf("decoding chat chunk: %w", err))
				return
			}
			if chunk.Error != "" {
				yield("", fmt.Errorf("ollama: %s", chunk.Error))
				return
			}
			if chunk.Message.Content != "" {
				if !yield(chunk.Message.Content, nil) {
					return
				}
			}
			if chunk.Done {
				return
			}
		}
		if err := scanner.Err(); err != nil {
			yield("", fmt.Errorf("reading chat stream: %w", err))
		}
	}
}

// Generate sends a non-streaming chat request and returns the complete text.
func (c *Client) Generate(ctx context.Context, req provider.Request) (string, error) {
	resp, err := c.post(ctx, "/api/chat", chatRequest{
		Model:    req.Model,
		Messages: req.Messages,
		Stream:   false,
		Options:  ctxOptions(req),
	})
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	var out chatResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", fmt.Errorf("decoding chat response: %w", err)
	}
	if out.Error != "" {
		return "", fmt.Errorf("ollama: %s", out.Error)
	}
	return out.Message.Content, nil
}

// Ping reports whether the daemon is reachable.
func (c *Client) Ping(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/", nil)
	if err != nil {
		return err
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %v", provider.ErrUnavailable, err)
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("%w: daemon returned %d", provider.ErrUnavailable, resp.StatusCode)
	}
	return nil
}

type tagsResponse struct {
	Models []struct {
		Name    string `json:"name"`
		Details struct {
			Family        string `json:"family"`
			ParameterSize string `json:"parameter_size"`
		} `json:"details"`
	} `json:"models"`
}

// Models lists the models installed on the daemon.
func (c *Client) Models(ctx context.Context) ([]provider.ModelInfo, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/api/tags", nil)
	if err != nil {
		return nil, err
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("listing models: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("listing models: daemon returned %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}

	var tags tagsResponse
	if err := json.NewDecoder(resp.Body).Decode(&tags); err != nil {
		return nil, fmt.Errorf("decoding model list: %w", err)
	}

	models := make([]provider.ModelInfo, 0, len(tags.Models))
	for _, m := range tags.Models {
		var infoTags []string
		if m.Details.Family != "" {
			infoTags = append(infoTags, m.Details.Family)
		}
		if m.Details.ParameterSize != "" {
			infoTags = append(infoTags, m.Details.ParameterSize)
		}
		models = append(models, provider.ModelInfo{
			ID:          m.Name,
			DisplayName: m.Name,
			Provider:    "ollama",
			Tags:        infoTags,
		})
	}
	return models, nil
}

// Pull downloads a model onto the daemon. Blocks until the pull completes.
func (c *Client) Pull(ctx context.Context, model string) error {
	resp, err := c.post(ctx, "/api/pull", map[string]any{"name": model, "stream": false})
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	var out struct {
		Status string `json:"status"`
		Error  string `json:"error,omitempty"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return fmt.Errorf("decoding pull response: %w", err)
	}
	if out.Error != "" {
		return fmt.Errorf("ollama pull: %s", out.Error)
	}
	return nil
}

// Running lists the models currently loaded in daemon memory.
func (c *Client) Running(ctx context.Context) ([]string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/api/ps", nil)
	if err != nil {
		return nil, err
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("listing running models: %w", err)
	}
	defer resp.Body.Close()

	var out struct {
		Models []struct {
			Name string `json:"name"`
		} `json:"models"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("decoding ps response: %w", err)
	}
	names := make([]string, 0, len(out.Models))
	for _, m := range out.Models {
		names = append(names, m.Name)
	}
	return names, nil
}

// ShowInfo is the daemon's detail record for one installed model.
type ShowInfo struct {
	License    string `json:"license"`
	Modelfile  string `json:"modelfile"`
	Parameters string `json:"parameters"`
	Template   string `json:"template"`
}

// Show returns the daemon's detail record for a model.
func (c *Client) Show(ctx context.Context, model string) (*ShowInfo, error) {
	resp, err := c.post(ctx, "/api/show", map[string]any{"name": model})
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	var info ShowInfo
	if err := json.NewDecoder(resp.Body).Decode(&info); err != nil {
		return nil, fmt.Errorf("decoding show response: %w", err)
	}
	return &info, nil
}

// Delete removes an installed model from the daemon.
func (c *Client) Delete(ctx context.Context, model string) error {
	body, err := json.Marshal(map[string]any{"name": model})
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodDelete, c.baseURL+"/api/delete", bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("deleting model: %w", err)
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("deleting model: daemon returned %d", resp.StatusCode)
	}
	return nil
}

// post issues a JSON POST and returns the raw response after checking for a
// non-200 status.
func (c *Client) post(ctx context.Context, path string, payload any) (*http.Response, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshaling request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("ollama request failed on %s: %w", path, err)
	}
	if resp.StatusCode != http.StatusOK {
		defer resp.Body.Close()
		errBody, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("ollama returned status %d on %s: %s", resp.StatusCode, path, strings.TrimSpace(string(errBody)))
	}
	return resp, nil
}

func ctxOptions(req provider.Request) *chatOptions {
	n := req.ContextLength
	if n <= 0 {
		n = provider.DefaultContextLength
	}
	return &chatOptions{NumCtx: n}
}
