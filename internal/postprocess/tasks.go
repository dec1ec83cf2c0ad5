package postprocess

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/google/uuid"

	"github.com/daybook-ai/daybook/internal/chat"
	"github.com/daybook-ai/daybook/internal/daily"
	"github.com/daybook-ai/daybook/internal/provider"
)

// taskPersonaFmt embeds the day's existing tasks so the model can
// de-duplicate against them. %s: existing tasks, one per line ("(none)" when
// empty).
const taskPersonaFmt = `You extract actionable tasks from personal conversations. The user already has these tasks for today:
%s
Read the conversation below and answer with ONLY a JSON array of strings: new, concrete tasks the user mentioned wanting to do. Do not repeat tasks they already have. If there are no new tasks, answer with [].`

// TaskExtractor pulls new actionable tasks from a chat transcript.
type TaskExtractor struct {
	registry *provider.Registry
	repo     chat.Repository
	tasks    daily.TaskSource
	logger   *slog.Logger
}

// NewTaskExtractor creates a TaskExtractor.
func NewTaskExtractor(cfg Config) (*TaskExtractor, error) {
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &TaskExtractor{registry: cfg.Registry, repo: cfg.Repo, tasks: cfg.Tasks, logger: logger}, nil
}

// Extract returns the new tasks mentioned in the chat. The model is told to
// answer with only a JSON array, but surrounding prose is tolerated: the
// first top-level array substring is cut out before parsing, and a parse
// failure yields an empty list rather than an error.
func (e *TaskExtractor) Extract(ctx context.Context, chatID uuid.UUID) ([]string, error) {
	c, err := e.repo.Chat(ctx, chatID)
	if err != nil {
		return nil, fmt.Errorf("resolving chat: %w", err)
	}
	msgs, err := e.repo.Messages(ctx, chatID)
	if err != nil {
		return nil, fmt.Errorf("loading messages: %w", err)
	}

	resolved, model, err := resolveFor(ctx, e.registry, c)
	if err != nil {
		return nil, err
	}

	out, err := resolved.Adapter.Generate(ctx, provider.Request{
		Model:         model,
		ContextLength: resolved.ContextLength,
		Messages: []provider.Message{
			{Role: string(chat.RoleSystem), Content: fmt.Sprintf(taskPersonaFmt, e.existingTasks(ctx, c))},
			{Role: string(chat.RoleUser), Content: transcript(msgs)},
		},
	})
	if err != nil {
		return nil, fmt.Errorf("generating task extraction: %w", err)
	}

	return extractJSONArray(out), nil
}

// existingTasks renders the day's tasks for the persona, one per line.
func (e *TaskExtractor) existingTasks(ctx context.Context, c *chat.Chat) string {
	if e.tasks == nil || c.DateString == "" {
		return "(none)"
	}
	tasks, err := e.tasks.TasksForDay(ctx, c.DateString)
	if err != nil {
		e.logger.Warn("loading existing tasks for extraction", "date", c.DateString, "error", err)
		return "(none)"
	}
	if len(tasks) == 0 {
		return "(none)"
	}
	var b strings.Builder
	for _, t := range tasks {
		b.WriteString("- " + t.Title + "\n")
	}
	return strings.TrimRight(b.String(), "\n")
}
