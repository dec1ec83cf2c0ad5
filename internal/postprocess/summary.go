package postprocess

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/daybook-ai/daybook/internal/chat"
	"github.com/daybook-ai/daybook/internal/provider"
)

// summaryPersona instructs the model to condense a conversation.
const summaryPersona = `You summarize personal journal conversations. Write a short summary (2-4 sentences) of the conversation below: what the user talked about, how they felt, and anything they decided or planned. Write in third person about "the user". Answer with the summary only.`

// Summarizer produces and stores a chat summary.
type Summarizer struct {
	registry *provider.Registry
	repo     chat.Repository
	logger   *slog.Logger

	// now supplies the summary timestamp; overridable in tests.
	now func() time.Time
}

// NewSummarizer creates a Summarizer.
func NewSummarizer(cfg Config) (*Summarizer, error) {
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Summarizer{registry: cfg.Registry, repo: cfg.Repo, logger: logger, now: time.Now}, nil
}

// Summarize generates a summary for the chat and writes it, together with
// its creation timestamp, to the chat record. Chats with fewer than two
// messages are rejected with ErrNotEnoughMessages.
func (s *Summarizer) Summarize(ctx context.Context, chatID uuid.UUID) error {
	c, err := s.repo.Chat(ctx, chatID)
	if err != nil {
		return fmt.Errorf("resolving chat: %w", err)
	}
	msgs, err := s.repo.Messages(ctx, chatID)
	if err != nil {
		return fmt.Errorf("loading messages: %w", err)
	}
	if len(msgs) < minSummaryMessages {
		return fmt.Errorf("%w: chat %s has %d", ErrNotEnoughMessages, chatID, len(msgs))
	}

	resolved, model, err := resolveFor(ctx, s.registry, c)
	if err != nil {
		return err
	}

	out, err := resolved.Adapter.Generate(ctx, provider.Request{
		Model:         model,
		ContextLength: resolved.ContextLength,
		Messages: []provider.Message{
			{Role: string(chat.RoleSystem), Content: summaryPersona},
			{Role: string(chat.RoleUser), Content: transcript(msgs)},
		},
	})
	if err != nil {
		return fmt.Errorf("generating summary: %w", err)
	}

	summary := strings.TrimSpace(out)
	if summary == "" {
		return fmt.Errorf("model returned empty summary")
	}

	createdAt := s.now()
	if err := s.repo.UpdateChat(ctx, chatID, chat.Update{Summary: &summary, SummaryCreatedAt: &createdAt}); err != nil {
		return fmt.Errorf("writing summary: %w", err)
	}
	s.logger.Debug("summarized chat", "chat_id", chatID)
	return nil
}
