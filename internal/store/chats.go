package store

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/daybook-ai/daybook/internal/chat"
)

// AddChat inserts a new chat. A zero CreatedAt is assigned by the database.
func (s *Store) AddChat(ctx context.Context, c *chat.Chat) error {
	createdAt := c.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now()
		c.CreatedAt = createdAt
	}
	_, err := s.pool.Exec(ctx, `
		INSERT INTO chats (id, model, provider, chat_type, date_string, title, summary, summary_created_at, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		c.ID, c.Model, c.Provider, string(c.Type), c.DateString, c.Title, c.Summary, c.SummaryCreatedAt, createdAt,
	)
	if err != nil {
		return fmt.Errorf("inserting chat: %w", err)
	}
	s.logger.Debug("added chat", "id", c.ID, "type", c.Type)
	return nil
}

// Chat fetches one chat by id.
func (s *Store) Chat(ctx context.Context, id uuid.UUID) (*chat.Chat, error) {
	row := s.pool.QueryRow(ctx, `
		SELECT id, model, provider, chat_type, date_string, title, summary, summary_created_at, created_at
		FROM chats WHERE id = $1`, id)

	c, err := scanChat(row)
	if err != nil {
		if errNoRows(err) {
			return nil, fmt.Errorf("%w: %s", chat.ErrChatNotFound, id)
		}
		return nil, fmt.Errorf("fetching chat: %w", err)
	}
	return c, nil
}

// PreviousChats returns up to limit chats other than excludeID, most recently
// created first.
func (s *Store) PreviousChats(ctx context.Context, limit int, excludeID uuid.UUID) ([]*chat.Chat, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, model, provider, chat_type, date_string, title, summary, summary_created_at, created_at
		FROM chats WHERE id <> $1
		ORDER BY created_at DESC
		LIMIT $2`, excludeID, limit)
	if err != nil {
		return nil, fmt.Errorf("listing previous chats: %w", err)
	}
	defer rows.Close()

	var chats []*chat.Chat
	for rows.Next() {
		c, err := scanChat(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning chat: %w", err)
		}
		chats = append(chats, c)
	}
	return chats, rows.Err()
}

// UpdateChat applies the non-nil fields of upd to the chat.
func (s *Store) UpdateChat(ctx context.Context, id uuid.UUID, upd chat.Update) error {
	tag, err := s.pool.Exec(ctx, `
		UPDATE chats SET
			title = COALESCE($2, title),
			summary = COALESCE($3, summary),
			summary_created_at = COALESCE($4, summary_created_at),
			model = COALESCE($5, model)
		WHERE id = $1`,
		id, upd.Title, upd.Summary, upd.SummaryCreatedAt, upd.Model,
	)
	if err != nil {
		return fmt.Errorf("updating chat: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%w: %s", chat.ErrChatNotFound, id)
	}
	return nil
}

// DeleteChat removes the chat; its messages cascade away with it.
func (s *Store) DeleteChat(ctx context.Context, id uuid.UUID) error {
	tag, err := s.pool.Exec(ctx, `DELETE FROM chats WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("deleting chat: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%w: %s", chat.ErrChatNotFound, id)
	}
	s.logger.Debug("deleted chat", "id", id)
	return nil
}

// AddMessage appends a message to its chat. Ordering within a chat follows
// the database-assigned sequence, not the caller's clock.
func (s *Store) AddMessage(ctx context.Context, m *chat.Message) error {
	createdAt := m.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now()
		m.CreatedAt = createdAt
	}
	_, err := s.pool.Exec(ctx, `
		INSERT INTO messages (id, chat_id, role, body, created_at)
		VALUES ($1, $2, $3, $4, $5)`,
		m.ID, m.ChatID, string(m.Role), m.Text, createdAt,
	)
	if err != nil {
		return fmt.Errorf("inserting message: %w", err)
	}
	return nil
}

// Messages returns the chat's messages in insertion order.
func (s *Store) Messages(ctx context.Context, chatID uuid.UUID) ([]*chat.Message, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, chat_id, role, body, created_at
		FROM messages WHERE chat_id = $1
		ORDER BY seq`, chatID)
	if err != nil {
		return nil, fmt.Errorf("listing messages: %w", err)
	}
	defer rows.Close()

	var msgs []*chat.Message
	for rows.Next() {
		var m chat.Message
		var role string
		if err := rows.Scan(&m.ID, &m.ChatID, &role, &m.Text, &m.CreatedAt); err != nil {
			return nil, fmt.Errorf("scanning message: %w", err)
		}
		m.Role = chat.Role(role)
		msgs = append(msgs, &m)
	}
	return msgs, rows.Err()
}

// UpdateMessageText replaces a message's text. Used by the streaming
// write-through path, so this is the hottest write in the system.
func (s *Store) UpdateMessageText(ctx context.Context, id uuid.UUID, text string) error {
	tag, err := s.pool.Exec(ctx, `UPDATE messages SET body = $2 WHERE id = $1`, id, text)
	if err != nil {
		return fmt.Errorf("updating message text: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%w: %s", chat.ErrMessageNotFound, id)
	}
	return nil
}

// DeleteMessage removes one message.
func (s *Store) DeleteMessage(ctx context.Context, id uuid.UUID) error {
	tag, err := s.pool.Exec(ctx, `DELETE FROM messages WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("deleting message: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%w: %s", chat.ErrMessageNotFound, id)
	}
	return nil
}

// scanChat scans one chat row from a pgx row scanner.
func scanChat(row interface{ Scan(dest ...any) error }) (*chat.Chat, error) {
	var c chat.Chat
	var chatType string
	if err := row.Scan(&c.ID, &c.Model, &c.Provider, &chatType, &c.DateString,
		&c.Title, &c.Summary, &c.SummaryCreatedAt, &c.CreatedAt); err != nil {
		return nil, err
	}
	c.Type = chat.Type(chatType)
	return &c, nil
}
