package api

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/daybook-ai/daybook/internal/daily"
	"github.com/daybook-ai/daybook/internal/log"
)

// MaxDayEntryLength bounds task titles and note text.
const MaxDayEntryLength = 2000

// DayStore is the daily-context storage surface the handler drives.
type DayStore interface {
	AddTask(ctx context.Context, t *daily.Task) error
	TasksForDay(ctx context.Context, dateString string) ([]daily.Task, error)
	AddNote(ctx context.Context, n *daily.Note) error
	NotesForDay(ctx context.Context, dateString string) ([]daily.Note, error)
}

// DayHandler handles daily task and note endpoints.
//
// Endpoints:
//   - GET  /api/days/{date}/tasks - List the date's tasks
//   - POST /api/days/{date}/tasks - Add a task to the date
//   - GET  /api/days/{date}/notes - List the date's notes
//   - POST /api/days/{date}/notes - Add a note to the date
type DayHandler struct {
	store  DayStore
	logger log.Logger
}

// NewDayHandler creates a new day handler.
func NewDayHandler(store DayStore, logger log.Logger) *DayHandler {
	return &DayHandler{store: store, logger: logger}
}

// RegisterRoutes registers day routes on the given mux.
func (h *DayHandler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("GET /api/days/{date}/tasks", h.listTasks)
	mux.HandleFunc("POST /api/days/{date}/tasks", h.addTask)
	mux.HandleFunc("GET /api/days/{date}/notes", h.listNotes)
	mux.HandleFunc("POST /api/days/{date}/notes", h.addNote)
}

// TaskResponse is the JSON shape of a task.
type TaskResponse struct {
	ID        string    `json:"id"`
	Title     string    `json:"title"`
	Done      bool      `json:"done"`
	Date      string    `json:"date"`
	CreatedAt time.Time `json:"created_at"`
}

// NoteResponse is the JSON shape of a note.
type NoteResponse struct {
	ID        string    `json:"id"`
	Text      string    `json:"text"`
	Date      string    `json:"date"`
	CreatedAt time.Time `json:"created_at"`
}

func (h *DayHandler) listTasks(w http.ResponseWriter, r *http.Request) {
	date, ok := dateFromPath(w, r)
	if !ok {
		return
	}
	tasks, err := h.store.TasksForDay(r.Context(), date)
	if err != nil {
		h.logger.Error("failed to list tasks", "date", date, "error", err)
		writeError(w, http.StatusInternalServerError, "list_failed", "failed to list tasks")
		return
	}

	out := make([]TaskResponse, 0, len(tasks))
	for _, t := range tasks {
		out = append(out, TaskResponse{
			ID:        t.ID.String(),
			Title:     t.Title,
			Done:      t.Done,
			Date:      t.DateString,
			CreatedAt: t.CreatedAt,
		})
	}
	writeJSON(w, http.StatusOK, map[string]any{"tasks": out, "total": len(out)})
}

// AddTaskRequest is the request body for adding a task.
type AddTaskRequest struct {
	Title string `json:"title"`
	Done  bool   `json:"done"`
}

func (h *DayHandler) addTask(w http.ResponseWriter, r *http.Request) {
	date, ok := dateFromPath(w, r)
	if !ok {
		return
	}
	var req AddTaskRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request", "invalid request body")
		return
	}
	if req.Title == "" {
		writeError(w, http.StatusBadRequest, "missing_title", "title is required")
		return
	}
	if len(req.Title) > MaxDayEntryLength {
		writeError(w, http.StatusBadRequest, "title_too_long", fmt.Sprintf("title too long (max %d bytes)", MaxDayEntryLength))
		return
	}

	t := &daily.Task{
		ID:         uuid.New(),
		Title:      req.Title,
		Done:       req.Done,
		DateString: date,
		CreatedAt:  time.Now(),
	}
	if err := h.store.AddTask(r.Context(), t); err != nil {
		h.logger.Error("failed to add task", "date", date, "error", err)
		writeError(w, http.StatusInternalServerError, "add_failed", "failed to add task")
		return
	}
	writeJSON(w, http.StatusCreated, TaskResponse{
		ID:        t.ID.String(),
		Title:     t.Title,
		Done:      t.Done,
		Date:      t.DateString,
		CreatedAt: t.CreatedAt,
	})
}

func (h *DayHandler) listNotes(w http.ResponseWriter, r *http.Request) {
	date, ok := dateFromPath(w, r)
	if !ok {
		return
	}
	notes, err := h.store.NotesForDay(r.Context(), date)
	if err != nil {
		h.logger.Error("failed to list notes", "date", date, "error", err)
		writeError(w, http.StatusInternalServerError, "list_failed", "failed to list notes")
		return
	}

	out := make([]NoteResponse, 0, len(notes))
	for _, n := range notes {
		out = append(out, NoteResponse{
			ID:        n.ID.String(),
			Text:      n.Text,
			Date:      n.DateString,
			CreatedAt: n.CreatedAt,
		})
	}
	writeJSON(w, http.StatusOK, map[string]any{"notes": out, "total": len(out)})
}

// AddNoteRequest is the request body for adding a note.
type AddNoteRequest struct {
	Text string `json:"text"`
}

func (h *DayHandler) addNote(w http.ResponseWriter, r *http.Request) {
	date, ok := dateFromPath(w, r)
	if !ok {
		return
	}
	var req AddNoteRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request", "invalid request body")
		return
	}
	if req.Text == "" {
		writeError(w, http.StatusBadRequest, "missing_text", "text is required")
		return
	}
	if len(req.Text) > MaxDayEntryLength {
		writeError(w, http.StatusBadRequest, "text_too_long", fmt.Sprintf("text too long (max %d bytes)", MaxDayEntryLength))
		return
	}

	n := &daily.Note{
		ID:         uuid.New(),
		Text:       req.Text,
		DateString: date,
		CreatedAt:  time.Now(),
	}
	if err := h.store.AddNote(r.Context(), n); err != nil {
		h.logger.Error("failed to add note", "date", date, "error", err)
		writeError(w, http.StatusInternalServerError, "add_failed", "failed to add note")
		return
	}
	writeJSON(w, http.StatusCreated, NoteResponse{
		ID:        n.ID.String(),
		Text:      n.Text,
		Date:      n.DateString,
		CreatedAt: n.CreatedAt,
	})
}

// dateFromPath validates the {date} path value, writing the error response
// itself when validation fails.
func dateFromPath(w http.ResponseWriter, r *http.Request) (string, bool) {
	date := r.PathValue("date")
	if _, err := time.Parse(time.DateOnly, date); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_date", "date must be YYYY-MM-DD")
		return "", false
	}
	return date, true
}
