package testutil

import (
	"context"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/daybook-ai/daybook/internal/chat"
	"github.com/daybook-ai/daybook/internal/daily"
)

// MemRepo is an in-memory chat.Repository for tests.
//
// It preserves the repository's ordering contract: Messages returns messages
// in insertion order, PreviousChats returns chats most-recently-created
// first, and DeleteChat cascades to the chat's messages.
//
// Individual operations can be made to fail by setting the corresponding
// error field. Thread-safe for concurrent use.
type MemRepo struct {
	mu       sync.Mutex
	chats    []*chat.Chat
	messages []*chat.Message

	// Error injection. A non-nil field makes the operation return that error.
	AddChatErr           error
	ChatErr              error
	AddMessageErr        error
	MessagesErr          error
	UpdateMessageTextErr error

	// textWrites records every UpdateMessageText call in order.
	textWrites []TextWrite
}

// TextWrite is one recorded UpdateMessageText call.
type TextWrite struct {
	ID   uuid.UUID
	Text string
}

// NewMemRepo creates an empty in-memory repository.
func NewMemRepo() *MemRepo {
	return &MemRepo{}
}

func (r *MemRepo) AddChat(_ context.Context, c *chat.Chat) error {
	if r.AddChatErr != nil {
		return r.AddChatErr
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	cp := *c
	r.chats = append(r.chats, &cp)
	return nil
}

func (r *MemRepo) Chat(_ context.Context, id uuid.UUID) (*chat.Chat, error) {
	if r.ChatErr != nil {
		return nil, r.ChatErr
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, c := range r.chats {
		if c.ID == id {
			cp := *c
			return &cp, nil
		}
	}
	return nil, chat.ErrChatNotFound
}

func (r *MemRepo) PreviousChats(_ context.Context, limit int, excludeID uuid.UUID) ([]*chat.Chat, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	sorted := slices.Clone(r.chats)
	slices.SortStableFunc(sorted, func(a, b *chat.Chat) int {
		return b.CreatedAt.Compare(a.CreatedAt)
	})
	var out []*chat.Chat
	for _, c := range sorted {
		if c.ID == excludeID {
			continue
		}
		cp := *c
		out = append(out, &cp)
		if len(out) == limit {
			break
		}
	}
	return out, nil
}

func (r *MemRepo) UpdateChat(_ context.Context, id uuid.UUID, upd chat.Update) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, c := range r.chats {
		if c.ID != id {
			continue
		}
		if upd.Title != nil {
			c.Title = *upd.Title
		}
		if upd.Summary != nil {
			c.Summary = *upd.Summary
		}
		if upd.SummaryCreatedAt != nil {
			t := *upd.SummaryCreatedAt
			c.SummaryCreatedAt = &t
		}
		if upd.Model != nil {
			c.Model = *upd.Model
		}
		return nil
	}
	return chat.ErrChatNotFound
}

func (r *MemRepo) DeleteChat(_ context.Context, id uuid.UUID) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	idx := slices.IndexFunc(r.chats, func(c *chat.Chat) bool { return c.ID == id })
	if idx < 0 {
		return chat.ErrChatNotFound
	}
	r.chats = slices.Delete(r.chats, idx, idx+1)
	r.messages = slices.DeleteFunc(r.messages, func(m *chat.Message) bool {
		return m.ChatID == id
	})
	return nil
}

func (r *MemRepo) AddMessage(_ context.Context, m *chat.Message) error {
	if r.AddMessageErr != nil {
		return r.AddMessageErr
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	cp := *m
	if cp.CreatedAt.IsZero() {
		cp.CreatedAt = time.Now()
	}
	r.messages = append(r.messages, &cp)
	return nil
}

func (r *MemRepo) Messages(_ context.Context, chatID uuid.UUID) ([]*chat.Message, error) {
	if r.MessagesErr != nil {
		return nil, r.MessagesErr
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*chat.Message
	for _, m := range r.messages {
		if m.ChatID == chatID {
			cp := *m
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (r *MemRepo) UpdateMessageText(_ context.Context, id uuid.UUID, text string) error {
	if r.UpdateMessageTextErr != nil {
		return r.UpdateMessageTextErr
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, m := range r.messages {
		if m.ID == id {
			m.Text = text
			r.textWrites = append(r.textWrites, TextWrite{ID: id, Text: text})
			return nil
		}
	}
	return chat.ErrMessageNotFound
}

func (r *MemRepo) DeleteMessage(_ context.Context, id uuid.UUID) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	idx := slices.IndexFunc(r.messages, func(m *chat.Message) bool { return m.ID == id })
	if idx < 0 {
		return chat.ErrMessageNotFound
	}
	r.messages = slices.Delete(r.messages, idx, idx+1)
	return nil
}

// TextWrites returns a copy of all recorded UpdateMessageText calls.
func (r *MemRepo) TextWrites() []TextWrite {
	r.mu.Lock()
	defer r.mu.Unlock()
	return slices.Clone(r.textWrites)
}

// MessageCount returns the number of stored messages across all chats.
func (r *MemRepo) MessageCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.messages)
}

// DailyStub serves canned tasks and notes keyed by date string. It implements
// daily.TaskSource and daily.NoteSource.
type DailyStub struct {
	Tasks map[string][]daily.Task
	Notes map[string][]daily.Note

	// Err makes every lookup fail with the given error.
	Err error
}

func (d *DailyStub) TasksForDay(_ context.Context, dateString string) ([]daily.Task, error) {
	if d.Err != nil {
		return nil, d.Err
	}
	return d.Tasks[dateString], nil
}

func (d *DailyStub) NotesForDay(_ context.Context, dateString string) ([]daily.Note, error) {
	if d.Err != nil {
		return nil, d.Err
	}
	return d.Notes[dateString], nil
}
