package testutil

import (
	"context"
	"iter"
	"strings"
	"sync"
	"testing"

	"github.com/daybook-ai/daybook/internal/provider"
	"github.com/daybook-ai/daybook/internal/secret"
)

// FakeAdapter provides deterministic model responses for testing. It matches
// the last user message against registered patterns and streams the
// corresponding chunks; when no pattern matches, the fallback chunks are
// streamed.
//
// Thread-safe for concurrent use.
type FakeAdapter struct {
	mu       sync.Mutex
	rules    []fakeRule
	fallback []string
	err      error
	stepC    chan struct{}
	requests []provider.Request
}

type fakeRule struct {
	pattern string // substring match in the last user message
	chunks  []string
}

// NewFakeAdapter creates a fake adapter streaming the given fallback chunks.
func NewFakeAdapter(fallback ...string) *FakeAdapter {
	return &FakeAdapter{fallback: fallback}
}

// AddReply registers a pattern-chunks pair. When the last user message
// contains the pattern (case-insensitive), those chunks are streamed.
// Patterns are checked in registration order; first match wins.
func (f *FakeAdapter) AddReply(pattern string, chunks ...string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.rules = append(f.rules, fakeRule{pattern: strings.ToLower(pattern), chunks: chunks})
}

// SetErr makes every stream end with err after its chunks, and every Generate
// call fail with it.
func (f *FakeAdapter) SetErr(err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.err = err
}

// Gate makes streaming stepwise: each chunk is emitted only after a value is
// sent on the returned channel. A stream blocked on the gate unblocks and
// stops when its context is cancelled.
func (f *FakeAdapter) Gate() chan<- struct{} {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.stepC = make(chan struct{})
	return f.stepC
}

// Requests returns a copy of all recorded requests, in arrival order.
func (f *FakeAdapter) Requests() []provider.Request {
	f.mu.Lock()
	defer f.mu.Unlock()
	cp := make([]provider.Request, len(f.requests))
	copy(cp, f.requests)
	return cp
}

func (f *FakeAdapter) Stream(ctx context.Context, req provider.Request) iter.Seq2[string, error] {
	chunks, err, stepC := f.record(req)
	return func(yield func(string, error) bool) {
		for _, chunk := range chunks {
			if stepC != nil {
				select {
				case <-stepC:
				case <-ctx.Done():
					return
				}
			}
			if ctx.Err() != nil {
				return
			}
			if !yield(chunk, nil) {
				return
			}
		}
		if err != nil {
			yield("", err)
		}
	}
}

func (f *FakeAdapter) Generate(ctx context.Context, req provider.Request) (string, error) {
	chunks, err, _ := f.record(req)
	if err != nil {
		return "", err
	}
	if ctx.Err() != nil {
		return "", ctx.Err()
	}
	return strings.Join(chunks, ""), nil
}

// record logs the request and resolves the chunks to stream for it.
func (f *FakeAdapter) record(req provider.Request) ([]string, error, chan struct{}) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.requests = append(f.requests, req)

	user := ""
	for _, m := range req.Messages {
		if m.Role == "user" {
			user = m.Content
		}
	}
	lower := strings.ToLower(user)
	for _, r := range f.rules {
		if strings.Contains(lower, r.pattern) {
			return r.chunks, f.err, f.stepC
		}
	}
	return f.fallback, f.err, f.stepC
}

// NewTestRegistry builds a registry with a single enabled cloud provider
// named "test" serving the given models, backed by the fake adapter. The
// first model becomes the active model.
func NewTestRegistry(t *testing.T, a provider.Adapter, models ...string) *provider.Registry {
	t.Helper()
	active := ""
	if len(models) > 0 {
		active = models[0]
	}
	reg, err := provider.NewRegistry(provider.RegistryConfig{
		Providers: []provider.Config{{
			Name:    "test",
			Enabled: true,
			Models:  models,
		}},
		Secrets:     secret.NewMemStore(nil),
		Factory:     func(provider.Config, string) (provider.Adapter, error) { return a, nil },
		ActiveModel: active,
		Logger:      DiscardLogger(),
	})
	if err != nil {
		t.Fatalf("building test registry: %v", err)
	}
	return reg
}
