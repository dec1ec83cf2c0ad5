package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/daybook-ai/daybook/internal/daily"
	"github.com/daybook-ai/daybook/internal/testutil"
)

// memDayStore is an in-memory DayStore keyed by date string.
type memDayStore struct {
	tasks map[string][]daily.Task
	notes map[string][]daily.Note
	err   error
}

func newMemDayStore() *memDayStore {
	return &memDayStore{
		tasks: make(map[string][]daily.Task),
		notes: make(map[string][]daily.Note),
	}
}

func (s *memDayStore) AddTask(_ context.Context, t *daily.Task) error {
	if s.err != nil {
		return s.err
	}
	s.tasks[t.DateString] = append(s.tasks[t.DateString], *t)
	return nil
}

func (s *memDayStore) TasksForDay(_ context.Context, dateString string) ([]daily.Task, error) {
	if s.err != nil {
		return nil, s.err
	}
	return s.tasks[dateString], nil
}

func (s *memDayStore) AddNote(_ context.Context, n *daily.Note) error {
	if s.err != nil {
		return s.err
	}
	s.notes[n.DateString] = append(s.notes[n.DateString], *n)
	return nil
}

func (s *memDayStore) NotesForDay(_ context.Context, dateString string) ([]daily.Note, error) {
	if s.err != nil {
		return nil, s.err
	}
	return s.notes[dateString], nil
}

func newDayTestMux(store DayStore) *http.ServeMux {
	mux := http.NewServeMux()
	NewDayHandler(store, testutil.DiscardLogger()).RegisterRoutes(mux)
	return mux
}

func TestDayHandler_AddAndListTasks(t *testing.T) {
	store := newMemDayStore()
	mux := newDayTestMux(store)

	req := httptest.NewRequest(http.MethodPost, "/api/days/2025-03-14/tasks",
		strings.NewReader(`{"title": "Water plants", "done": false}`))
	w := httptest.NewRecorder()
	mux.ServeHTTP(w, req)

	require.Equal(t, http.StatusCreated, w.Code)
	var created TaskResponse
	require.NoError(t, json.NewDecoder(w.Body).Decode(&created))
	assert.Equal(t, "Water plants", created.Title)
	assert.Equal(t, "2025-03-14", created.Date)
	assert.False(t, created.Done)

	req = httptest.NewRequest(http.MethodGet, "/api/days/2025-03-14/tasks", nil)
	w = httptest.NewRecorder()
	mux.ServeHTTP(w, req)

	require.Equal(t, http.StatusOK, w.Code)
	var resp struct {
		Tasks []TaskResponse `json:"tasks"`
		Total int            `json:"total"`
	}
	require.NoError(t, json.NewDecoder(w.Body).Decode(&resp))
	assert.Equal(t, 1, resp.Total)
	require.Len(t, resp.Tasks, 1)
	assert.Equal(t, "Water plants", resp.Tasks[0].Title)
}

func TestDayHandler_AddAndListNotes(t *testing.T) {
	store := newMemDayStore()
	mux := newDayTestMux(store)

	req := httptest.NewRequest(http.MethodPost, "/api/days/2025-03-14/notes",
		strings.NewReader(`{"text": "Slept badly, skipping the gym."}`))
	w := httptest.NewRecorder()
	mux.ServeHTTP(w, req)

	require.Equal(t, http.StatusCreated, w.Code)
	var created NoteResponse
	require.NoError(t, json.NewDecoder(w.Body).Decode(&created))
	assert.Equal(t, "Slept badly, skipping the gym.", created.Text)

	req = httptest.NewRequest(http.MethodGet, "/api/days/2025-03-14/notes", nil)
	w = httptest.NewRecorder()
	mux.ServeHTTP(w, req)

	require.Equal(t, http.StatusOK, w.Code)
	var resp struct {
		Notes []NoteResponse `json:"notes"`
	}
	require.NoError(t, json.NewDecoder(w.Body).Decode(&resp))
	require.Len(t, resp.Notes, 1)
	assert.Equal(t, "2025-03-14", resp.Notes[0].Date)
}

func TestDayHandler_ListEmptyDay(t *testing.T) {
	mux := newDayTestMux(newMemDayStore())

	req := httptest.NewRequest(http.MethodGet, "/api/days/2025-03-14/tasks", nil)
	w := httptest.NewRecorder()
	mux.ServeHTTP(w, req)

	require.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"tasks": [], "total": 0}`, w.Body.String())
}

func TestDayHandler_InvalidDate(t *testing.T) {
	mux := newDayTestMux(newMemDayStore())

	for _, path := range []string{
		"/api/days/14-03-2025/tasks",
		"/api/days/tomorrow/notes",
	} {
		req := httptest.NewRequest(http.MethodGet, path, nil)
		w := httptest.NewRecorder()
		mux.ServeHTTP(w, req)

		assert.Equal(t, http.StatusBadRequest, w.Code, "path %s", path)
	}
}

func TestDayHandler_Validation(t *testing.T) {
	tests := []struct {
		name string
		path string
		body string
	}{
		{name: "task missing title", path: "/tasks", body: `{}`},
		{name: "task title too long", path: "/tasks", body: `{"title": "` + strings.Repeat("a", MaxDayEntryLength+1) + `"}`},
		{name: "note missing text", path: "/notes", body: `{}`},
		{name: "malformed body", path: "/notes", body: `{`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			mux := newDayTestMux(newMemDayStore())
			req := httptest.NewRequest(http.MethodPost, "/api/days/2025-03-14"+tt.path,
				strings.NewReader(tt.body))
			w := httptest.NewRecorder()
			mux.ServeHTTP(w, req)

			assert.Equal(t, http.StatusBadRequest, w.Code)
		})
	}
}

func TestDayHandler_StoreFailure(t *testing.T) {
	store := newMemDayStore()
	store.err = errors.New("connection refused")
	mux := newDayTestMux(store)

	req := httptest.NewRequest(http.MethodGet, "/api/days/2025-03-14/tasks", nil)
	w := httptest.NewRecorder()
	mux.ServeHTTP(w, req)

	assert.Equal(t, http.StatusInternalServerError, w.Code)
}
