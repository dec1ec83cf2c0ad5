package ollama

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"slices"
	"strings"
	"testing"

	"github.com/daybook-ai/daybook/internal/provider"
)

func ndjson(content string, done bool) string {
	return fmt.Sprintf(`{"message":{"role":"assistant","content":%q},"done":%v}`+"\n", content, done)
}

func collect(t *testing.T, c *Client, req provider.Request) (string, error) {
	t.Helper()
	var b strings.Builder
	for delta, err := range c.Stream(t.Context(), req) {
		if err != nil {
			return b.String(), err
		}
		b.WriteString(delta)
	}
	return b.String(), nil
}

func TestStreamConcatenatesDeltas(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/chat" {
			t.Errorf("path = %q, want /api/chat", r.URL.Path)
		}
		var body chatRequest
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			t.Errorf("decoding request: %v", err)
		}
		if !body.Stream {
			t.Error("request stream = false, want true")
		}
		if body.Options == nil || body.Options.NumCtx != 8192 {
			t.Errorf("options = %+v, want num_ctx 8192", body.Options)
		}

		fmt.Fprint(w, ndjson("Good ", false))
		fmt.Fprint(w, ndjson("morning", false))
		fmt.Fprint(w, ndjson("!", false))
		fmt.Fprint(w, ndjson("", true))
	}))
	defer srv.Close()

	c := New(srv.URL)
	got, err := collect(t, c, provider.Request{Model: "llama3", ContextLength: 8192})
	if err != nil {
		t.Fatalf("Stream() error: %v", err)
	}
	if got != "Good morning!" {
		t.Errorf("streamed text = %q, want %q", got, "Good morning!")
	}
}

func TestStreamDaemonError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		fmt.Fprint(w, ndjson("partial", false))
		fmt.Fprint(w, `{"error":"model runner crashed"}`+"\n")
	}))
	defer srv.Close()

	c := New(srv.URL)
	got, err := collect(t, c, provider.Request{Model: "llama3"})
	if err == nil {
		t.Fatal("Stream() with daemon error: want error, got nil")
	}
	if !strings.Contains(err.Error(), "model runner crashed") {
		t.Errorf("error = %v, want daemon message", err)
	}
	if got != "partial" {
		t.Errorf("deltas before the error = %q, want %q", got, "partial")
	}
}

func TestStreamNon200(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, `{"error":"model not found"}`, http.StatusNotFound)
	}))
	defer srv.Close()

	c := New(srv.URL)
	if _, err := collect(t, c, provider.Request{Model: "missing"}); err == nil {
		t.Fatal("Stream() against 404: want error, got nil")
	}
}

func TestGenerate(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var body chatRequest
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			t.Errorf("decoding request: %v", err)
		}
		if body.Stream {
			t.Error("request stream = true, want false")
		}
		fmt.Fprint(w, ndjson("Evening Notes", true))
	}))
	defer srv.Close()

	c := New(srv.URL)
	got, err := c.Generate(t.Context(), provider.Request{Model: "llama3"})
	if err != nil {
		t.Fatalf("Generate() error: %v", err)
	}
	if got != "Evening Notes" {
		t.Errorf("Generate() = %q, want %q", got, "Evening Notes")
	}
}

func TestPing(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		fmt.Fprint(w, "Ollama is running")
	}))
	c := New(srv.URL)
	if err := c.Ping(t.Context()); err != nil {
		t.Errorf("Ping() against live server: %v", err)
	}

	srv.Close()
	err := c.Ping(t.Context())
	if !errors.Is(err, provider.ErrUnavailable) {
		t.Errorf("Ping() against closed server: error = %v, want ErrUnavailable", err)
	}
}

func TestModels(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/tags" {
			t.Errorf("path = %q, want /api/tags", r.URL.Path)
		}
		fmt.Fprint(w, `{"models":[
			{"name":"llama3:8b","details":{"family":"llama","parameter_size":"8B"}},
			{"name":"qwen3:4b","details":{"family":"qwen3","parameter_size":"4B"}}
		]}`)
	}))
	defer srv.Close()

	c := New(srv.URL)
	models, err := c.Models(t.Context())
	if err != nil {
		t.Fatalf("Models() error: %v", err)
	}
	if len(models) != 2 {
		t.Fatalf("got %d models, want 2", len(models))
	}
	if models[0].ID != "llama3:8b" || models[0].Provider != "ollama" {
		t.Errorf("models[0] = %+v", models[0])
	}
	if !slices.Equal(models[0].Tags, []string{"llama", "8B"}) {
		t.Errorf("models[0].Tags = %v, want [llama 8B]", models[0].Tags)
	}
}

func TestRunning(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/ps" {
			t.Errorf("path = %q, want /api/ps", r.URL.Path)
		}
		fmt.Fprint(w, `{"models":[{"name":"llama3:8b"}]}`)
	}))
	defer srv.Close()

	c := New(srv.URL)
	names, err := c.Running(t.Context())
	if err != nil {
		t.Fatalf("Running() error: %v", err)
	}
	if !slices.Equal(names, []string{"llama3:8b"}) {
		t.Errorf("Running() = %v, want [llama3:8b]", names)
	}
}

func TestDelete(t *testing.T) {
	var gotMethod, gotName string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotMethod = r.Method
		var body struct {
			Name string `json:"name"`
		}
		_ = json.NewDecoder(r.Body).Decode(&body)
		gotName = body.Name
	}))
	defer srv.Close()

	c := New(srv.URL)
	if err := c.Delete(t.Context(), "llama3:8b"); err != nil {
		t.Fatalf("Delete() error: %v", err)
	}
	if gotMethod != http.MethodDelete {
		t.Errorf("method = %q, want DELETE", gotMethod)
	}
	if gotName != "llama3:8b" {
		t.Errorf("deleted model = %q, want llama3:8b", gotName)
	}
}

func TestDefaultBaseURL(t *testing.T) {
	c := New("")
	if c.baseURL != DefaultBaseURL {
		t.Errorf("baseURL = %q, want %q", c.baseURL, DefaultBaseURL)
	}
	c = New("http://localhost:11434/")
	if c.baseURL != "http://localhost:11434" {
		t.Errorf("baseURL = %q, trailing slash not trimmed", c.baseURL)
	}
}
