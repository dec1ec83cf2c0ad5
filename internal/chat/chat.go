// Package chat defines the conversation domain model for daybook.
//
// Responsibilities: chat and message types, persona resolution, and the
// repository contract the engine persists through. Durable storage itself
// lives in internal/store; every other package depends only on the
// interfaces defined here.
package chat

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Sentinel errors for repository operations.
var (
	// ErrChatNotFound indicates the requested chat does not exist.
	ErrChatNotFound = errors.New("chat not found")

	// ErrMessageNotFound indicates the requested message does not exist.
	ErrMessageNotFound = errors.New("message not found")
)

// Type classifies a chat by the moment of the day it belongs to.
type Type string

// Chat types. The persona written at creation time is chosen by type.
const (
	TypeMorning Type = "morning"
	TypeEvening Type = "evening"
	TypeYearEnd Type = "year-end"
	TypeGeneral Type = "general"
)

// Valid reports whether t is a known chat type.
func (t Type) Valid() bool {
	switch t {
	case TypeMorning, TypeEvening, TypeYearEnd, TypeGeneral:
		return true
	}
	return false
}

// Role identifies the author of a message.
type Role string

// Message roles.
const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Chat is one conversation. A chat is bound to a calendar date and a model;
// its leading system message (the persona) is written once at creation and
// never rewritten afterwards.
type Chat struct {
	ID               uuid.UUID
	Model            string
	Provider         string
	Type             Type
	DateString       string // calendar date the chat belongs to, "2006-01-02"
	Title            string
	Summary          string
	SummaryCreatedAt *time.Time
	CreatedAt        time.Time
}

// Message is a single entry in a chat. Messages are append-only and strictly
// ordered by insertion within a chat. An assistant message's Text may grow
// monotonically while its stream is active, then freezes.
type Message struct {
	ID        uuid.UUID
	ChatID    uuid.UUID
	Role      Role
	Text      string
	CreatedAt time.Time
}

// Update carries the mutable chat fields for Repository.UpdateChat.
// Nil fields are left untouched.
type Update struct {
	Title            *string
	Summary          *string
	SummaryCreatedAt *time.Time
	Model            *string
}

// Repository is the durable storage contract for chats and messages.
//
// Ordering: Messages returns messages in insertion order; PreviousChats
// returns chats most-recently-created first. Deleting a chat cascades to its
// messages.
type Repository interface {
	AddChat(ctx context.Context, c *Chat) error
	Chat(ctx context.Context, id uuid.UUID) (*Chat, error)
	PreviousChats(ctx context.Context, limit int, excludeID uuid.UUID) ([]*Chat, error)
	UpdateChat(ctx context.Context, id uuid.UUID, upd Update) error
	DeleteChat(ctx context.Context, id uuid.UUID) error

	AddMessage(ctx context.Context, m *Message) error
	Messages(ctx context.Context, chatID uuid.UUID) ([]*Message, error)
	UpdateMessageText(ctx context.Context, id uuid.UUID, text string) error
	DeleteMessage(ctx context.Context, id uuid.UUID) error
}

// CreateParams are the inputs for Create.
type CreateParams struct {
	Type     Type
	Model    string
	Provider string
	Date     time.Time // chat's calendar date; zero value means now
}

// Create creates a chat and writes its frozen persona as the leading system
// message. The persona text is resolved exactly once here; later edits to
// persona templates never retroactively change existing chats.
func Create(ctx context.Context, repo Repository, p CreateParams) (*Chat, error) {
	if !p.Type.Valid() {
		return nil, fmt.Errorf("invalid chat type %q", p.Type)
	}

	date := p.Date
	if date.IsZero() {
		date = time.Now()
	}

	c := &Chat{
		ID:         uuid.New(),
		Model:      p.Model,
		Provider:   p.Provider,
		Type:       p.Type,
		DateString: date.Format(time.DateOnly),
		CreatedAt:  time.Now(),
	}
	if err := repo.AddChat(ctx, c); err != nil {
		return nil, fmt.Errorf("adding chat: %w", err)
	}

	persona := PersonaFor(p.Type, date)
	sys := &Message{
		ID:        uuid.New(),
		ChatID:    c.ID,
		Role:      RoleSystem,
		Text:      persona,
		CreatedAt: time.Now(),
	}
	if err := repo.AddMessage(ctx, sys); err != nil {
		return nil, fmt.Errorf("adding persona message: %w", err)
	}

	return c, nil
}

// SystemMessages returns the leading system messages (the frozen persona)
// from an ordered message list.
func SystemMessages(msgs []*Message) []*Message {
	var out []*Message
	for _, m := range msgs {
		if m.Role == RoleSystem {
			out = append(out, m)
		}
	}
	return out
}

// NonBlank reports whether a message carries visible text.
func NonBlank(m *Message) bool {
	return strings.TrimSpace(m.Text) != ""
}
