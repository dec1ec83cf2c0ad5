package chat

import (
	"context"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
)

// memRepo is a minimal in-process Repository for this package's tests.
// testutil.MemRepo is not used here to avoid an import cycle.
type memRepo struct {
	mu       sync.Mutex
	chats    []*Chat
	messages []*Message
}

func (r *memRepo) AddChat(_ context.Context, c *Chat) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.chats = append(r.chats, c)
	return nil
}

func (r *memRepo) Chat(_ context.Context, id uuid.UUID) (*Chat, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, c := range r.chats {
		if c.ID == id {
			return c, nil
		}
	}
	return nil, ErrChatNotFound
}

func (r *memRepo) PreviousChats(_ context.Context, _ int, _ uuid.UUID) ([]*Chat, error) {
	return nil, nil
}

func (r *memRepo) UpdateChat(_ context.Context, _ uuid.UUID, _ Update) error { return nil }
func (r *memRepo) DeleteChat(_ context.Context, _ uuid.UUID) error           { return nil }

func (r *memRepo) AddMessage(_ context.Context, m *Message) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.messages = append(r.messages, m)
	return nil
}

func (r *memRepo) Messages(_ context.Context, chatID uuid.UUID) ([]*Message, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*Message
	for _, m := range r.messages {
		if m.ChatID == chatID {
			out = append(out, m)
		}
	}
	return out, nil
}

func (r *memRepo) UpdateMessageText(_ context.Context, _ uuid.UUID, _ string) error { return nil }
func (r *memRepo) DeleteMessage(_ context.Context, _ uuid.UUID) error               { return nil }

func TestTypeValid(t *testing.T) {
	tests := []struct {
		typ  Type
		want bool
	}{
		{TypeMorning, true},
		{TypeEvening, true},
		{TypeYearEnd, true},
		{TypeGeneral, true},
		{Type("afternoon"), false},
		{Type(""), false},
	}

	for _, tt := range tests {
		if got := tt.typ.Valid(); got != tt.want {
			t.Errorf("Type(%q).Valid() = %v, want %v", tt.typ, got, tt.want)
		}
	}
}

func TestCreateWritesFrozenPersona(t *testing.T) {
	repo := &memRepo{}
	date := time.Date(2025, 3, 14, 9, 0, 0, 0, time.UTC)

	c, err := Create(context.Background(), repo, CreateParams{
		Type:  TypeMorning,
		Model: "llama3",
		Date:  date,
	})
	if err != nil {
		t.Fatalf("Create() error: %v", err)
	}

	if c.DateString != "2025-03-14" {
		t.Errorf("DateString = %q, want %q", c.DateString, "2025-03-14")
	}

	msgs, err := repo.Messages(context.Background(), c.ID)
	if err != nil {
		t.Fatalf("Messages() error: %v", err)
	}
	if len(msgs) != 1 {
		t.Fatalf("got %d messages, want 1", len(msgs))
	}
	if msgs[0].Role != RoleSystem {
		t.Errorf("leading message role = %q, want %q", msgs[0].Role, RoleSystem)
	}
	if want := PersonaFor(TypeMorning, date); msgs[0].Text != want {
		t.Errorf("persona text = %q, want %q", msgs[0].Text, want)
	}
	if !strings.Contains(msgs[0].Text, "Friday, March 14, 2025") {
		t.Errorf("persona does not carry the chat's date: %q", msgs[0].Text)
	}
}

func TestCreateRejectsInvalidType(t *testing.T) {
	repo := &memRepo{}
	_, err := Create(context.Background(), repo, CreateParams{Type: Type("nap")})
	if err == nil {
		t.Fatal("Create() with invalid type: want error, got nil")
	}
	if len(repo.chats) != 0 || len(repo.messages) != 0 {
		t.Errorf("invalid type persisted data: %d chats, %d messages", len(repo.chats), len(repo.messages))
	}
}

func TestPersonaForVariesByType(t *testing.T) {
	date := time.Date(2025, 12, 31, 0, 0, 0, 0, time.UTC)

	tests := []struct {
		typ  Type
		frag string
	}{
		{TypeMorning, "morning check-in"},
		{TypeEvening, "evening reflection"},
		{TypeYearEnd, "year-end review"},
		{TypeGeneral, "open conversation"},
	}

	seen := make(map[string]Type)
	for _, tt := range tests {
		got := PersonaFor(tt.typ, date)
		if !strings.Contains(got, tt.frag) {
			t.Errorf("PersonaFor(%q) missing %q", tt.typ, tt.frag)
		}
		if prev, dup := seen[got]; dup {
			t.Errorf("PersonaFor(%q) identical to PersonaFor(%q)", tt.typ, prev)
		}
		seen[got] = tt.typ
	}
}

func TestSystemMessages(t *testing.T) {
	msgs := []*Message{
		{Role: RoleSystem, Text: "persona"},
		{Role: RoleUser, Text: "hi"},
		{Role: RoleAssistant, Text: "hello"},
	}
	sys := SystemMessages(msgs)
	if len(sys) != 1 || sys[0].Text != "persona" {
		t.Errorf("SystemMessages() = %v, want the single persona message", sys)
	}
}

func TestNonBlank(t *testing.T) {
	if NonBlank(&Message{Text: "  \n\t"}) {
		t.Error("NonBlank() = true for whitespace-only text")
	}
	if !NonBlank(&Message{Text: "x"}) {
		t.Error("NonBlank() = false for visible text")
	}
}
