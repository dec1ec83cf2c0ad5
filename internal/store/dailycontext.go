package store

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/daybook-ai/daybook/internal/daily"
)

// AddTask inserts a task on its date.
func (s *Store) AddTask(ctx context.Context, t *daily.Task) error {
	if t.ID == uuid.Nil {
		t.ID = uuid.New()
	}
	if t.CreatedAt.IsZero() {
		t.CreatedAt = time.Now()
	}
	_, err := s.pool.Exec(ctx, `
		INSERT INTO tasks (id, title, done, date_string, created_at)
		VALUES ($1, $2, $3, $4, $5)`,
		t.ID, t.Title, t.Done, t.DateString, t.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("inserting task: %w", err)
	}
	return nil
}

// TasksForDay returns the date's tasks in creation order.
func (s *Store) TasksForDay(ctx context.Context, dateString string) ([]daily.Task, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, title, done, date_string, created_at
		FROM tasks WHERE date_string = $1
		ORDER BY created_at`, dateString)
	if err != nil {
		return nil, fmt.Errorf("listing tasks: %w", err)
	}
	defer rows.Close()

	var tasks []daily.Task
	for rows.Next() {
		var t daily.Task
		if err := rows.Scan(&t.ID, &t.Title, &t.Done, &t.DateString, &t.CreatedAt); err != nil {
			return nil, fmt.Errorf("scanning task: %w", err)
		}
		tasks = append(tasks, t)
	}
	return tasks, rows.Err()
}

// AddNote inserts a note on its date.
func (s *Store) AddNote(ctx context.Context, n *daily.Note) error {
	if n.ID == uuid.Nil {
		n.ID = uuid.New()
	}
	if n.CreatedAt.IsZero() {
		n.CreatedAt = time.Now()
	}
	_, err := s.pool.Exec(ctx, `
		INSERT INTO notes (id, body, date_string, created_at)
		VALUES ($1, $2, $3, $4)`,
		n.ID, n.Text, n.DateString, n.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("inserting note: %w", err)
	}
	return nil
}

// NotesForDay returns the date's notes in creation order, blank ones
// included; filtering is the consumer's concern.
func (s *Store) NotesForDay(ctx context.Context, dateString string) ([]daily.Note, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, body, date_string, created_at
		FROM notes WHERE date_string = $1
		ORDER BY created_at`, dateString)
	if err != nil {
		return nil, fmt.Errorf("listing notes: %w", err)
	}
	defer rows.Close()

	var notes []daily.Note
	for rows.Next() {
		var n daily.Note
		if err := rows.Scan(&n.ID, &n.Text, &n.DateString, &n.CreatedAt); err != nil {
			return nil, fmt.Errorf("scanning note: %w", err)
		}
		notes = append(notes, n)
	}
	return notes, rows.Err()
}
