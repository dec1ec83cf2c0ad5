// Package assemble builds the ordered prompt for one conversation turn.
//
// The assembled list always follows the same ordering:
//
//  1. the chat's persisted system messages (the frozen persona)
//  2. an optional bio exchange (synthetic user message + assistant ack)
//  3. an optional memory exchange carrying same-day tasks/notes and excerpts
//     from other recent chats, again as an acknowledged two-message pair
//  4. all prior non-system messages with non-blank text, in original order
//  5. the user message being sent
//
// The bio and memory blocks are injected as already-acknowledged exchanges so
// instruction-tuned models treat them as settled context rather than a live
// question. The assembler never truncates against a provider context window;
// it only bounds its own memory block by chat and message caps.
package assemble

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/daybook-ai/daybook/internal/chat"
	"github.com/daybook-ai/daybook/internal/daily"
	"github.com/daybook-ai/daybook/internal/provider"
)

// Bounds for the cross-conversation memory block. These cap token usage
// independent of any provider context length.
const (
	// HistoryChatLimit is how many other recent chats contribute excerpts.
	HistoryChatLimit = 5

	// historyMessagesPerChat caps the recent-message slice per chat.
	historyMessagesPerChat = 8

	// historyMessageMaxRunes caps a single excerpted message.
	historyMessageMaxRunes = 400
)

// Synthetic acknowledgment texts for the injected exchanges.
const (
	bioAck    = "Thanks for sharing. I'll keep that in mind throughout our conversation."
	memoryAck = "Got it. I'll use this context where it helps."
)

// HistorySource is the slice of the chat repository the assembler reads.
type HistorySource interface {
	PreviousChats(ctx context.Context, limit int, excludeID uuid.UUID) ([]*chat.Chat, error)
	Messages(ctx context.Context, chatID uuid.UUID) ([]*chat.Message, error)
}

// Settings are the user-level options that shape the assembled context.
type Settings struct {
	// Bio is the user's self-description. Blank disables the bio exchange.
	Bio string

	// MemoryEnabled turns the cross-conversation memory block on.
	MemoryEnabled bool
}

// Config contains all required parameters for the Builder.
type Config struct {
	History HistorySource
	Tasks   daily.TaskSource
	Notes   daily.NoteSource
	Logger  *slog.Logger

	// Now supplies the assembler clock. Nil means time.Now.
	Now func() time.Time
}

// Builder assembles per-turn prompt context. Safe for concurrent use.
type Builder struct {
	history HistorySource
	tasks   daily.TaskSource
	notes   daily.NoteSource
	logger  *slog.Logger
	now     func() time.Time
}

// New creates a Builder.
func New(cfg Config) (*Builder, error) {
	if cfg.History == nil {
		return nil, fmt.Errorf("history source is required")
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	now := cfg.Now
	if now == nil {
		now = time.Now
	}
	return &Builder{
		history: cfg.History,
		tasks:   cfg.Tasks,
		notes:   cfg.Notes,
		logger:  logger,
		now:     now,
	}, nil
}

// memoryBlock is the JSON payload of the memory exchange.
type memoryBlock struct {
	DateToday    string         `json:"dateToday"`
	DailyContext *dailyContext  `json:"dailyContext,omitempty"`
	ChatHistory  []*chatExcerpt `json:"chatHistory,omitempty"`
}

type dailyContext struct {
	Tasks []daily.Task `json:"tasks,omitempty"`
	Notes []daily.Note `json:"notes,omitempty"`
}

type chatExcerpt struct {
	Type     chat.Type        `json:"type"`
	Date     string           `json:"date"`
	Title    string           `json:"title,omitempty"`
	Messages []excerptMessage `json:"messages"`
}

type excerptMessage struct {
	Role string `json:"role"`
	Text string `json:"text"`
}

// Build returns the ordered prompt for sending userText to c. msgs must be
// the chat's persisted messages in insertion order.
func (b *Builder) Build(ctx context.Context, c *chat.Chat, msgs []*chat.Message, userText string, settings Settings) ([]provider.Message, error) {
	var out []provider.Message

	// 1. Frozen persona.
	for _, m := range msgs {
		if m.Role == chat.RoleSystem {
			out = append(out, provider.Message{Role: string(chat.RoleSystem), Content: m.Text})
		}
	}

	// 2. Bio exchange.
	if bio := strings.TrimSpace(settings.Bio); bio != "" {
		out = append(out,
			provider.Message{Role: string(chat.RoleUser), Content: "Some background about me: " + bio},
			provider.Message{Role: string(chat.RoleAssistant), Content: bioAck},
		)
	}

	// 3. Memory exchange.
	if settings.MemoryEnabled {
		block, err := b.buildMemory(ctx, c)
		if err != nil {
			return nil, err
		}
		if block != nil {
			payload, err := json.Marshal(block)
			if err != nil {
				return nil, fmt.Errorf("marshaling memory block: %w", err)
			}
			out = append(out,
				provider.Message{
					Role:    string(chat.RoleUser),
					Content: "Context about my day and recent conversations, for your reference:\n" + string(payload),
				},
				provider.Message{Role: string(chat.RoleAssistant), Content: memoryAck},
			)
		}
	}

	// 4. Prior non-system messages with visible text.
	for _, m := range msgs {
		if m.Role == chat.RoleSystem || !chat.NonBlank(m) {
			continue
		}
		out = append(out, provider.Message{Role: string(m.Role), Content: m.Text})
	}

	// 5. The new user message.
	out = append(out, provider.Message{Role: string(chat.RoleUser), Content: userText})

	return out, nil
}

// buildMemory assembles the memory block, or nil when both the daily context
// and the chat history are empty.
func (b *Builder) buildMemory(ctx context.Context, c *chat.Chat) (*memoryBlock, error) {
	dateString := c.DateString
	if dateString == "" {
		dateString = b.now().Format(time.DateOnly)
	}

	block := &memoryBlock{DateToday: dateString}
	block.DailyContext = b.buildDaily(ctx, dateString)

	excerpts, err := b.buildHistory(ctx, c.ID)
	if err != nil {
		return nil, err
	}
	block.ChatHistory = excerpts

	if block.DailyContext == nil && len(block.ChatHistory) == 0 {
		return nil, nil
	}
	return block, nil
}

// buildDaily returns the date's tasks and non-blank notes, or nil when the
// date has neither. Source failures degrade to an absent daily context.
func (b *Builder) buildDaily(ctx context.Context, dateString string) *dailyContext {
	var tasks []daily.Task
	if b.tasks != nil {
		var err error
		tasks, err = b.tasks.TasksForDay(ctx, dateString)
		if err != nil {
			b.logger.Warn("loading tasks for daily context", "date", dateString, "error", err)
			tasks = nil
		}
	}

	var notes []daily.Note
	if b.notes != nil {
		all, err := b.notes.NotesForDay(ctx, dateString)
		if err != nil {
			b.logger.Warn("loading notes for daily context", "date", dateString, "error", err)
		} else {
			for _, n := range all {
				if strings.TrimSpace(n.Text) != "" {
					notes = append(notes, n)
				}
			}
		}
	}

	if len(tasks) == 0 && len(notes) == 0 {
		return nil
	}
	return &dailyContext{Tasks: tasks, Notes: notes}
}

// buildHistory excerpts the most recent other chats, each contributing a
// capped slice of its latest non-system messages.
func (b *Builder) buildHistory(ctx context.Context, excludeID uuid.UUID) ([]*chatExcerpt, error) {
	chats, err := b.history.PreviousChats(ctx, HistoryChatLimit, excludeID)
	if err != nil {
		return nil, fmt.Errorf("loading previous chats: %w", err)
	}

	var excerpts []*chatExcerpt
	for _, prev := range chats {
		msgs, err := b.history.Messages(ctx, prev.ID)
		if err != nil {
			b.logger.Warn("loading messages for history excerpt", "chat_id", prev.ID, "error", err)
			continue
		}

		var kept []excerptMessage
		for _, m := range msgs {
			if m.Role == chat.RoleSystem || !chat.NonBlank(m) {
				continue
			}
			kept = append(kept, excerptMessage{Role: string(m.Role), Text: capRunes(m.Text, historyMessageMaxRunes)})
		}
		if len(kept) == 0 {
			continue
		}
		if len(kept) > historyMessagesPerChat {
			kept = kept[len(kept)-historyMessagesPerChat:]
		}

		excerpts = append(excerpts, &chatExcerpt{
			Type:     prev.Type,
			Date:     prev.DateString,
			Title:    prev.Title,
			Messages: kept,
		})
	}
	return excerpts, nil
}

func capRunes(s string, n int) string {
	runes := []rune(s)
	if len(runes) <= n {
		return s
	}
	return string(runes[:n]) + "…"
}
