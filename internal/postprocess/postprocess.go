// Package postprocess holds the independent one-shot generation tasks that
// run after a turn or on demand: title generation, chat summarization and
// task extraction.
//
// Every post-processor makes exactly one Generate call. Failures never
// surface to conversational callers; they are logged (title) or returned to
// the invoking surface (summary, tasks) without touching chat history.
package postprocess

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/daybook-ai/daybook/internal/chat"
	"github.com/daybook-ai/daybook/internal/daily"
	"github.com/daybook-ai/daybook/internal/provider"
)

// ErrNotEnoughMessages indicates the chat is too short to summarize.
var ErrNotEnoughMessages = errors.New("not enough messages")

// minSummaryMessages is the minimum transcript length for Summarize.
const minSummaryMessages = 2

// Config contains the shared dependencies for all post-processors.
type Config struct {
	Registry *provider.Registry
	Repo     chat.Repository
	Logger   *slog.Logger

	// Tasks supplies the day's existing tasks so the extractor can
	// de-duplicate. Required for the TaskExtractor only.
	Tasks daily.TaskSource
}

func (cfg Config) validate() error {
	if cfg.Registry == nil {
		return errors.New("provider registry is required")
	}
	if cfg.Repo == nil {
		return errors.New("chat repository is required")
	}
	return nil
}

// resolveFor picks the chat's bound model if available, else the registry's
// active model, and resolves an adapter for it.
func resolveFor(ctx context.Context, registry *provider.Registry, c *chat.Chat) (provider.Resolved, string, error) {
	model := c.Model
	if !registry.IsAvailable(ctx, model) {
		model = registry.ActiveModel()
		if model == "" || !registry.IsAvailable(ctx, model) {
			return provider.Resolved{}, "", fmt.Errorf("%w: no usable model", provider.ErrModelNotFound)
		}
	}
	resolved, err := registry.Resolve(ctx, model)
	if err != nil {
		return provider.Resolved{}, "", err
	}
	return resolved, model, nil
}

// transcript renders the chat's non-system messages as role-prefixed lines.
func transcript(msgs []*chat.Message) string {
	var b strings.Builder
	for _, m := range msgs {
		if m.Role == chat.RoleSystem || !chat.NonBlank(m) {
			continue
		}
		fmt.Fprintf(&b, "%s: %s\n", m.Role, m.Text)
	}
	return b.String()
}

// extractJSONArray pulls the first top-level JSON array out of model output
// and parses it as a string list. A missing or unparseable array yields an
// empty list, never an error.
func extractJSONArray(text string) []string {
	match := firstJSONArray(text)
	if match == "" {
		return []string{}
	}
	var items []string
	if err := json.Unmarshal([]byte(match), &items); err != nil {
		return []string{}
	}
	return items
}

// firstJSONArray returns the first top-level [...] substring of text, cut at
// the bracket balancing the opening one. Brackets inside JSON string literals
// do not count toward the balance. Empty when no balanced array exists.
func firstJSONArray(text string) string {
	start := strings.IndexByte(text, '[')
	if start < 0 {
		return ""
	}

	depth := 0
	inString := false
	escaped := false
	for i := start; i < len(text); i++ {
		c := text[i]
		if inString {
			switch {
			case escaped:
				escaped = false
			case c == '\\':
				escaped = true
			case c == '"':
				inString = false
			}
			continue
		}
		switch c {
		case '"':
			inString = true
		case '[':
			depth++
		case ']':
			depth--
			if depth == 0 {
				return text[start : i+1]
			}
		}
	}
	return ""
}
