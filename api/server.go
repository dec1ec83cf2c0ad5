// Package api provides the HTTP REST surface for Daybook.
//
// Endpoints:
//
//	GET  /health                     → liveness probe
//	GET  /ready                      → readiness probe (database ping)
//	POST /api/chats                  → create a chat
//	GET  /api/chats                  → list recent chats
//	GET  /api/chats/{id}             → one chat
//	GET  /api/chats/{id}/messages    → the chat's messages in order
//	POST /api/chats/{id}/messages    → send a message (SSE reply stream)
//	POST /api/chats/{id}/stop        → abort the in-flight reply
//	POST /api/chats/{id}/summary     → summarize the chat
//	POST /api/chats/{id}/tasks       → extract new tasks from the chat
//	DELETE /api/chats/{id}           → delete a chat and its messages
//	GET  /api/days/{date}/tasks      → the date's tasks
//	POST /api/days/{date}/tasks      → add a task
//	GET  /api/days/{date}/notes      → the date's notes
//	POST /api/days/{date}/notes      → add a note
//
// File structure:
//   - server.go: HTTP server setup and lifecycle
//   - middleware.go: HTTP middleware (logging, recovery, CORS)
//   - health.go: health check endpoints
//   - chats.go: chat endpoints including the SSE reply stream
//   - days.go: daily task and note endpoints
//   - response.go: JSON response helpers
package api

import (
	"context"
	"net/http"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/daybook-ai/daybook/internal/log"
)

const (
	// DefaultAddr is the default address for the HTTP server.
	DefaultAddr = "localhost:8080"

	// ShutdownTimeout is the maximum time to wait for graceful shutdown.
	ShutdownTimeout = 10 * time.Second

	// ReadHeaderTimeout bounds request header reads.
	ReadHeaderTimeout = 10 * time.Second

	// IdleTimeout is the maximum time to wait for the next request on
	// keep-alive connections.
	IdleTimeout = 120 * time.Second
)

// Config contains all parameters for the Server.
type Config struct {
	Pool        *pgxpool.Pool
	Chats       *ChatHandler
	Days        *DayHandler
	CORSOrigins []string
	Logger      log.Logger
}

// Server is the HTTP server for Daybook's REST API.
type Server struct {
	mux    *http.ServeMux
	cors   []string
	logger log.Logger
}

// NewServer creates an HTTP server with all routes registered.
func NewServer(cfg Config) *Server {
	mux := http.NewServeMux()

	s := &Server{
		mux:    mux,
		cors:   cfg.CORSOrigins,
		logger: cfg.Logger,
	}

	NewHealthHandler(cfg.Pool, cfg.Logger).RegisterRoutes(mux)
	if cfg.Chats != nil {
		cfg.Chats.RegisterRoutes(mux)
	}
	if cfg.Days != nil {
		cfg.Days.RegisterRoutes(mux)
	}

	return s
}

// Handler returns the HTTP handler with middleware applied.
// Middleware order: recovery → logging → CORS → handler
func (s *Server) Handler() http.Handler {
	return chain(s.mux,
		recoveryMiddleware(s.logger),
		loggingMiddleware(s.logger),
		corsMiddleware(s.cors),
	)
}

// Run starts the HTTP server and blocks until the context is cancelled,
// then shuts down gracefully.
func (s *Server) Run(ctx context.Context, addr string) error {
	if addr == "" {
		addr = DefaultAddr
	}

	// No write timeout: reply streams are long-lived SSE responses.
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: ReadHeaderTimeout,
		IdleTimeout:       IdleTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("starting HTTP server", "addr", addr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		s.logger.Info("shutting down HTTP server")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), ShutdownTimeout)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	case err := <-errCh:
		if err == http.ErrServerClosed {
			return nil
		}
		return err
	}
}
