package api

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/daybook-ai/daybook/internal/testutil"
)

func newTestServer() *Server {
	return NewServer(Config{
		Chats:       NewChatHandler(testutil.NewMemRepo(), nil, nil, nil, testutil.DiscardLogger()),
		Days:        NewDayHandler(newMemDayStore(), testutil.DiscardLogger()),
		CORSOrigins: []string{"http://localhost:5173"},
		Logger:      testutil.DiscardLogger(),
	})
}

func TestServer_HealthEndpoint(t *testing.T) {
	handler := newTestServer().Handler()

	w := httptest.NewRecorder()
	handler.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/health", nil))

	assert.Equal(t, http.StatusOK, w.Code)
}

func TestServer_RoutesRegistered(t *testing.T) {
	handler := newTestServer().Handler()

	// Unknown routes 404; registered routes answer something else.
	tests := []struct {
		method string
		path   string
		is404  bool
	}{
		{http.MethodGet, "/api/chats", false},
		{http.MethodGet, "/api/days/2025-03-14/tasks", false},
		{http.MethodGet, "/api/days/2025-03-14/notes", false},
		{http.MethodGet, "/api/nope", true},
	}

	for _, tt := range tests {
		w := httptest.NewRecorder()
		handler.ServeHTTP(w, httptest.NewRequest(tt.method, tt.path, nil))
		if tt.is404 {
			assert.Equal(t, http.StatusNotFound, w.Code, "%s %s", tt.method, tt.path)
		} else {
			assert.NotEqual(t, http.StatusNotFound, w.Code, "%s %s", tt.method, tt.path)
		}
	}
}

func TestServer_MiddlewareChain(t *testing.T) {
	handler := newTestServer().Handler()

	// CORS headers from the outer chain reach API responses.
	req := httptest.NewRequest(http.MethodGet, "/api/chats", nil)
	req.Header.Set("Origin", "http://localhost:5173")
	w := httptest.NewRecorder()
	handler.ServeHTTP(w, req)

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "http://localhost:5173", w.Header().Get("Access-Control-Allow-Origin"))
}

func TestServer_RunGracefulShutdown(t *testing.T) {
	srv := newTestServer()

	ctx, cancel := context.WithCancel(t.Context())
	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.Run(ctx, "127.0.0.1:0")
	}()

	// Let the listener start, then cancel.
	time.Sleep(50 * time.Millisecond)
	cancel()

	select {
	case err := <-errCh:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("server did not shut down")
	}
}
