// Package conversation orchestrates one user turn end-to-end: persistence,
// streaming, cancellation and finalization.
//
// A turn is: persist the user message, persist an empty assistant
// placeholder, assemble context, stream deltas from the resolved adapter and
// write the accumulated text through to the placeholder on every chunk.
// Cancellation is per chat: a new send to the same chat replaces (and thereby
// cancels) the previous turn's token, while sends to different chats run
// independently.
package conversation

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/daybook-ai/daybook/internal/assemble"
	"github.com/daybook-ai/daybook/internal/chat"
	"github.com/daybook-ai/daybook/internal/provider"
)

// ErrNoUsableModel indicates neither the chat's bound model nor the
// registry's active model is available. The turn is abandoned with nothing
// persisted.
var ErrNoUsableModel = errors.New("no usable model available")

// replyFailedText is written into the assistant message when a stream fails.
// Stream failures never propagate to the caller.
const replyFailedText = "Sorry, something went wrong while generating this reply. Please try again."

// Title generation fires after a turn when the chat still has no title and
// its total message count (including the frozen system message) falls in
// this window.
const (
	titleTriggerMin = 2
	titleTriggerMax = 3
)

// TitleGenerator is the post-processor fired after an early turn.
type TitleGenerator interface {
	Generate(ctx context.Context, chatID uuid.UUID) error
}

// Config contains all required parameters for a Session.
type Config struct {
	Registry  *provider.Registry
	Repo      chat.Repository
	Assembler *assemble.Builder
	Logger    *slog.Logger

	// Titler is fired asynchronously after qualifying turns. Nil disables
	// title generation.
	Titler TitleGenerator

	// SettingsFn supplies the user's bio/memory settings per turn. Nil means
	// zero settings (no bio, memory off).
	SettingsFn func(ctx context.Context) assemble.Settings

	// BackgroundCtx outlives individual requests; used for async title
	// generation. Nil means context.Background().
	BackgroundCtx context.Context //nolint:containedctx // App lifecycle context, not a request context

	// WG tracks background goroutines for graceful shutdown. Required when
	// Titler is set.
	WG *sync.WaitGroup
}

func (cfg Config) validate() error {
	if cfg.Registry == nil {
		return errors.New("provider registry is required")
	}
	if cfg.Repo == nil {
		return errors.New("chat repository is required")
	}
	if cfg.Assembler == nil {
		return errors.New("context assembler is required")
	}
	if cfg.Titler != nil && cfg.WG == nil {
		return errors.New("wg is required when titler is set")
	}
	return nil
}

// reply is the ephemeral per-chat turn state: one cancellation token and one
// loading flag per chat id, never shared across chats.
type reply struct {
	cancel  context.CancelFunc
	loading bool
}

// Session orchestrates conversation turns. Safe for concurrent use; sends to
// distinct chats proceed independently.
type Session struct {
	registry   *provider.Registry
	repo       chat.Repository
	assembler  *assemble.Builder
	logger     *slog.Logger
	titler     TitleGenerator
	settingsFn func(ctx context.Context) assemble.Settings
	tracer     trace.Tracer

	bgCtx context.Context //nolint:containedctx // App lifecycle context
	wg    *sync.WaitGroup

	mu      sync.Mutex
	replies map[uuid.UUID]*reply
}

// New creates a Session.
func New(cfg Config) (*Session, error) {
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	settingsFn := cfg.SettingsFn
	if settingsFn == nil {
		settingsFn = func(context.Context) assemble.Settings { return assemble.Settings{} }
	}
	bgCtx := cfg.BackgroundCtx
	if bgCtx == nil {
		bgCtx = context.Background()
	}
	return &Session{
		registry:   cfg.Registry,
		repo:       cfg.Repo,
		assembler:  cfg.Assembler,
		logger:     logger,
		titler:     cfg.Titler,
		settingsFn: settingsFn,
		tracer:     otel.Tracer("daybook/conversation"),
		bgCtx:      bgCtx,
		wg:         cfg.WG,
		replies:    make(map[uuid.UUID]*reply),
	}, nil
}

// SendOption customizes one Send call.
type SendOption func(*SendOptions)

// SendOptions collects the options applied to one Send call.
type SendOptions struct {
	Observer func(delta string)
}

// WithChunkObserver registers fn to be called with every streamed delta, in
// arrival order. Used by streaming surfaces (SSE) that want chunks without
// polling the repository.
func WithChunkObserver(fn func(delta string)) SendOption {
	return func(o *SendOptions) { o.Observer = fn }
}

// Send runs one conversation turn for chatID with the user's text.
//
// A fresh cancellation token is issued for the chat, cancelling any turn
// already in flight for the same chat id. Configuration problems (no usable
// model, unknown chat) are returned before anything is persisted; once
// streaming starts, failures are absorbed into the assistant message text and
// Send returns nil. Cancellation is not an error: the last persisted partial
// text remains.
func (s *Session) Send(ctx context.Context, chatID uuid.UUID, text string, opts ...SendOption) error {
	var options SendOptions
	for _, opt := range opts {
		opt(&options)
	}

	ctx, span := s.tracer.Start(ctx, "conversation.send",
		trace.WithAttributes(attribute.String("chat.id", chatID.String())))
	defer span.End()

	// Step 1: issue a fresh token for this chat, superseding any in-flight
	// turn on the same chat id.
	turnCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	r := &reply{cancel: cancel, loading: true}
	s.mu.Lock()
	if prev, ok := s.replies[chatID]; ok {
		prev.cancel()
	}
	s.replies[chatID] = r
	s.mu.Unlock()

	// Step 10: the loading flag is cleared in all paths.
	defer s.finish(chatID, r)

	// Step 2: resolve the chat and a usable model.
	c, err := s.repo.Chat(ctx, chatID)
	if err != nil {
		return fmt.Errorf("resolving chat: %w", err)
	}
	resolved, model, err := s.resolveModel(ctx, c)
	if err != nil {
		return err
	}
	span.SetAttributes(attribute.String("model", model))

	// Prior messages are captured before the new user message is persisted
	// so the assembler sees exactly the pre-turn transcript.
	prior, err := s.repo.Messages(ctx, chatID)
	if err != nil {
		return fmt.Errorf("loading messages: %w", err)
	}

	// Step 3: persist the user message.
	userMsg := &chat.Message{ID: uuid.New(), ChatID: chatID, Role: chat.RoleUser, Text: text}
	if err := s.repo.AddMessage(ctx, userMsg); err != nil {
		return fmt.Errorf("persisting user message: %w", err)
	}

	// Step 4: persist an empty assistant placeholder so the UI has a stable
	// id to subscribe to before any tokens arrive.
	placeholder := &chat.Message{ID: uuid.New(), ChatID: chatID, Role: chat.RoleAssistant, Text: ""}
	if err := s.repo.AddMessage(ctx, placeholder); err != nil {
		return fmt.Errorf("persisting assistant placeholder: %w", err)
	}

	// Step 5: assemble the prompt.
	messages, err := s.assembler.Build(ctx, c, prior, text, s.settingsFn(ctx))
	if err != nil {
		s.failReply(placeholder.ID, fmt.Errorf("assembling context: %w", err))
		return nil
	}

	// Steps 6-9: stream with write-through persistence.
	s.stream(turnCtx, resolved, model, messages, placeholder.ID, options.Observer)

	// Step 11: fire title generation on early turns, best-effort.
	s.maybeGenerateTitle(c, len(prior)+2)

	return nil
}

// StopReply aborts the chat's current turn if one is in flight. Calling it
// twice, or when nothing is in flight, is a no-op.
func (s *Session) StopReply(chatID uuid.UUID) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if r, ok := s.replies[chatID]; ok {
		r.cancel()
	}
}

// Loading reports whether a reply is currently being generated for the chat.
func (s *Session) Loading(chatID uuid.UUID) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.replies[chatID]
	return ok && r.loading
}

// resolveModel applies the fallback policy: the chat's bound model if
// available, else the registry's active model, else ErrNoUsableModel.
func (s *Session) resolveModel(ctx context.Context, c *chat.Chat) (provider.Resolved, string, error) {
	model := c.Model
	if !s.registry.IsAvailable(ctx, model) {
		active := s.registry.ActiveModel()
		if active == "" || active == model || !s.registry.IsAvailable(ctx, active) {
			return provider.Resolved{}, "", fmt.Errorf("%w: chat %s bound to %q", ErrNoUsableModel, c.ID, c.Model)
		}
		s.logger.Info("falling back to active model", "chat_id", c.ID, "bound", c.Model, "active", active)
		model = active
	}

	resolved, err := s.registry.Resolve(ctx, model)
	if err != nil {
		return provider.Resolved{}, "", fmt.Errorf("%w: %v", ErrNoUsableModel, err)
	}
	return resolved, model, nil
}

// stream consumes the adapter's delta sequence, appending each delta to the
// accumulator and writing the updated text through to the placeholder
// message. One persistence write per chunk: write volume traded for
// crash/resume safety of partial answers.
func (s *Session) stream(turnCtx context.Context, resolved provider.Resolved, model string, messages []provider.Message, placeholderID uuid.UUID, observer func(string)) {
	var acc strings.Builder
	var streamErr error

	req := provider.Request{
		Model:         model,
		Messages:      messages,
		ContextLength: resolved.ContextLength,
	}

	for delta, err := range resolved.Adapter.Stream(turnCtx, req) {
		if turnCtx.Err() != nil {
			// Superseded or stopped: halt without recording an error.
			break
		}
		if err != nil {
			streamErr = err
			break
		}

		acc.WriteString(delta)
		if observer != nil {
			observer(delta)
		}
		if werr := s.repo.UpdateMessageText(turnCtx, placeholderID, acc.String()); werr != nil {
			if turnCtx.Err() != nil {
				break
			}
			streamErr = fmt.Errorf("writing chunk: %w", werr)
			break
		}
	}

	switch {
	case turnCtx.Err() != nil:
		// Step 8: cancelled. Whatever was last persisted remains; this is
		// not an error.
		s.logger.Debug("reply cancelled", "message_id", placeholderID, "persisted_len", acc.Len())

	case streamErr != nil:
		// Step 9: absorbed locally, never re-thrown.
		s.failReply(placeholderID, streamErr)

	default:
		// Step 7: one final write, idempotent when it matches the last
		// chunk write.
		if err := s.repo.UpdateMessageText(turnCtx, placeholderID, acc.String()); err != nil {
			s.logger.Warn("final reply write failed", "message_id", placeholderID, "error", err)
		}
	}
}

// failReply overwrites the assistant message with a short user-facing error
// string.
func (s *Session) failReply(placeholderID uuid.UUID, cause error) {
	s.logger.Error("reply generation failed", "message_id", placeholderID, "error", cause)
	// The turn context may already be dead; the error text must land anyway.
	if err := s.repo.UpdateMessageText(s.bgCtx, placeholderID, replyFailedText); err != nil {
		s.logger.Warn("writing reply error text failed", "message_id", placeholderID, "error", err)
	}
}

// maybeGenerateTitle fires the title generator when the chat has no title yet
// and its total message count falls in the trigger window. Failures are
// swallowed after logging.
func (s *Session) maybeGenerateTitle(c *chat.Chat, totalMessages int) {
	if s.titler == nil || c.Title != "" {
		return
	}
	if totalMessages < titleTriggerMin || totalMessages > titleTriggerMax {
		return
	}

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		if err := s.titler.Generate(s.bgCtx, c.ID); err != nil {
			s.logger.Warn("title generation failed", "chat_id", c.ID, "error", err)
		}
	}()
}

// finish clears the chat's turn state, but only if it still belongs to this
// turn; a superseding send has already installed its own.
func (s *Session) finish(chatID uuid.UUID, r *reply) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r.loading = false
	if cur, ok := s.replies[chatID]; ok && cur == r {
		delete(s.replies, chatID)
	}
}
