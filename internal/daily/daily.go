// Package daily defines the task and note read models the engine injects
// into prompt context. The durable implementations live in internal/store.
package daily

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// Task is one task on a calendar date.
type Task struct {
	ID         uuid.UUID `json:"-"`
	Title      string    `json:"title"`
	Done       bool      `json:"done"`
	DateString string    `json:"-"` // "2006-01-02"
	CreatedAt  time.Time `json:"-"`
}

// Note is one free-form note on a calendar date.
type Note struct {
	ID         uuid.UUID `json:"-"`
	Text       string    `json:"text"`
	DateString string    `json:"-"`
	CreatedAt  time.Time `json:"-"`
}

// TaskSource provides read access to a date's tasks.
type TaskSource interface {
	TasksForDay(ctx context.Context, dateString string) ([]Task, error)
}

// NoteSource provides read access to a date's notes.
type NoteSource interface {
	NotesForDay(ctx context.Context, dateString string) ([]Note, error)
}
