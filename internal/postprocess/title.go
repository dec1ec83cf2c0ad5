package postprocess

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/google/uuid"

	"github.com/daybook-ai/daybook/internal/chat"
	"github.com/daybook-ai/daybook/internal/provider"
)

// titlePersona is the fixed instruction prepended to the history for title
// generation.
const titlePersona = `You write short titles for conversations. Given the conversation below, answer with a title of at most six words that captures what it is about. Answer with the title only: no quotes, no punctuation at the end, no explanation.`

// titleClosing is appended after the transcript.
const titleClosing = `Now write the title.`

// maxTitleRunes truncates runaway model output.
const maxTitleRunes = 80

// Titler generates a chat title from its history.
type Titler struct {
	registry *provider.Registry
	repo     chat.Repository
	logger   *slog.Logger
}

// NewTitler creates a Titler.
func NewTitler(cfg Config) (*Titler, error) {
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Titler{registry: cfg.Registry, repo: cfg.Repo, logger: logger}, nil
}

// Generate produces a title for the chat and writes it to the chat record.
// One generate call; the result is trimmed of wrapping quotes and newlines.
func (t *Titler) Generate(ctx context.Context, chatID uuid.UUID) error {
	c, err := t.repo.Chat(ctx, chatID)
	if err != nil {
		return fmt.Errorf("resolving chat: %w", err)
	}
	msgs, err := t.repo.Messages(ctx, chatID)
	if err != nil {
		return fmt.Errorf("loading messages: %w", err)
	}

	resolved, model, err := resolveFor(ctx, t.registry, c)
	if err != nil {
		return err
	}

	out, err := resolved.Adapter.Generate(ctx, provider.Request{
		Model:         model,
		ContextLength: resolved.ContextLength,
		Messages: []provider.Message{
			{Role: string(chat.RoleSystem), Content: titlePersona},
			{Role: string(chat.RoleUser), Content: transcript(msgs) + "\n" + titleClosing},
		},
	})
	if err != nil {
		return fmt.Errorf("generating title: %w", err)
	}

	title := cleanTitle(out)
	if title == "" {
		return fmt.Errorf("model returned empty title")
	}

	if err := t.repo.UpdateChat(ctx, chatID, chat.Update{Title: &title}); err != nil {
		return fmt.Errorf("writing title: %w", err)
	}
	t.logger.Debug("generated chat title", "chat_id", chatID, "title", title)
	return nil
}

func cleanTitle(s string) string {
	s = strings.TrimSpace(s)
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		s = s[:i]
	}
	s = strings.Trim(s, `"'`)
	s = strings.TrimSpace(s)
	if runes := []rune(s); len(runes) > maxTitleRunes {
		s = string(runes[:maxTitleRunes])
	}
	return s
}
