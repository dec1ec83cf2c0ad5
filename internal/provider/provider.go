// Package provider defines the uniform model-backend contract and the
// registry that resolves a model identifier to a concrete adapter.
//
// Exactly one adapter exists per configured provider. Adapters differ only in
// transport and auth shape; the rest of the engine depends solely on the
// Stream/Generate contract defined here.
package provider

import (
	"context"
	"errors"
	"iter"
)

// Sentinel errors for provider resolution.
var (
	// ErrModelNotFound indicates no configured provider owns the model id.
	ErrModelNotFound = errors.New("model not found")

	// ErrNotConfigured indicates the provider has no usable configuration.
	ErrNotConfigured = errors.New("provider not configured")

	// ErrUnavailable indicates the provider backend is not reachable.
	ErrUnavailable = errors.New("provider unavailable")
)

// DefaultContextLength is the context-size hint passed to adapters when a
// request does not carry one. It does not truncate the assembled prompt;
// overflow handling is the backend's concern.
const DefaultContextLength = 4096

// Message is one chat message on the wire.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// Request is a completion request handed to an adapter.
type Request struct {
	Model    string
	Messages []Message

	// ContextLength is a hint for providers that take an explicit context
	// window parameter. Zero means DefaultContextLength.
	ContextLength int
}

// Adapter is the uniform backend contract.
//
// Stream returns a lazy, finite, non-restartable sequence of text deltas.
// Iteration stops early when the consumer breaks out of the range loop or the
// context is cancelled; a transport failure surfaces as the final non-nil
// error of the sequence. Generate returns the complete response text in one
// call.
type Adapter interface {
	Stream(ctx context.Context, req Request) iter.Seq2[string, error]
	Generate(ctx context.Context, req Request) (string, error)
}

// Pinger is implemented by adapters whose backend reachability can be probed
// cheaply (the local daemon). Cloud adapters do not implement it; their
// availability is a pure configuration question.
type Pinger interface {
	Ping(ctx context.Context) error
}

// ModelLister is implemented by adapters that can enumerate the models their
// backend currently serves.
type ModelLister interface {
	Models(ctx context.Context) ([]ModelInfo, error)
}

// ModelInfo describes one model offered by a provider.
type ModelInfo struct {
	ID            string
	DisplayName   string
	Provider      string
	ContextLength int
	Tags          []string
}

// SecretStore supplies provider API keys. Secrets are never stored alongside
// non-secret provider configuration.
type SecretStore interface {
	APIKey(ctx context.Context, provider string) (string, error)
}
