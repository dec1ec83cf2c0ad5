package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/google/uuid"

	"github.com/daybook-ai/daybook/internal/chat"
	"github.com/daybook-ai/daybook/internal/conversation"
	"github.com/daybook-ai/daybook/internal/log"
)

// Request validation constants.
const (
	MaxMessageLength = 10000
	DefaultListLimit = 50
	MaxListLimit     = 200
)

// Conversation is the reply engine surface the handler drives.
type Conversation interface {
	Send(ctx context.Context, chatID uuid.UUID, text string, opts ...conversation.SendOption) error
	StopReply(chatID uuid.UUID)
	Loading(chatID uuid.UUID) bool
}

// Summarizer writes a summary onto a chat.
type Summarizer interface {
	Summarize(ctx context.Context, chatID uuid.UUID) error
}

// TaskExtractor pulls new actionable tasks out of a chat.
type TaskExtractor interface {
	Extract(ctx context.Context, chatID uuid.UUID) ([]string, error)
}

// ChatHandler handles chat-related HTTP endpoints.
//
// Endpoints:
//   - POST   /api/chats                - Create a chat
//   - GET    /api/chats                - List chats, most recent first
//   - GET    /api/chats/{id}           - Get one chat
//   - DELETE /api/chats/{id}           - Delete a chat and its messages
//   - GET    /api/chats/{id}/messages  - List the chat's messages in order
//   - POST   /api/chats/{id}/messages  - Send a user message (SSE reply stream)
//   - POST   /api/chats/{id}/stop      - Cancel the in-flight reply
//   - POST   /api/chats/{id}/summary   - Summarize the chat
//   - POST   /api/chats/{id}/tasks     - Extract new tasks from the chat
type ChatHandler struct {
	repo       chat.Repository
	conv       Conversation
	summarizer Summarizer
	extractor  TaskExtractor
	logger     log.Logger
}

// NewChatHandler creates a new chat handler. summarizer and extractor may be
// nil; their endpoints then answer 501.
func NewChatHandler(repo chat.Repository, conv Conversation, summarizer Summarizer, extractor TaskExtractor, logger log.Logger) *ChatHandler {
	return &ChatHandler{repo: repo, conv: conv, summarizer: summarizer, extractor: extractor, logger: logger}
}

// RegisterRoutes registers chat routes on the given mux.
func (h *ChatHandler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("POST /api/chats", h.create)
	mux.HandleFunc("GET /api/chats", h.list)
	mux.HandleFunc("GET /api/chats/{id}", h.get)
	mux.HandleFunc("DELETE /api/chats/{id}", h.delete)
	mux.HandleFunc("GET /api/chats/{id}/messages", h.messages)
	mux.HandleFunc("POST /api/chats/{id}/messages", h.send)
	mux.HandleFunc("POST /api/chats/{id}/stop", h.stop)
	mux.HandleFunc("POST /api/chats/{id}/summary", h.summarize)
	mux.HandleFunc("POST /api/chats/{id}/tasks", h.extractTasks)
}

// ChatResponse is the JSON shape of a chat.
type ChatResponse struct {
	ID               string     `json:"id"`
	Model            string     `json:"model"`
	Provider         string     `json:"provider"`
	Type             string     `json:"type"`
	Date             string     `json:"date"`
	Title            string     `json:"title"`
	Summary          string     `json:"summary,omitempty"`
	SummaryCreatedAt *time.Time `json:"summary_created_at,omitempty"`
	CreatedAt        time.Time  `json:"created_at"`
	Loading          bool       `json:"loading"`
}

// MessageResponse is the JSON shape of a message.
type MessageResponse struct {
	ID        string    `json:"id"`
	Role      string    `json:"role"`
	Text      string    `json:"text"`
	CreatedAt time.Time `json:"created_at"`
}

func (h *ChatHandler) chatResponse(c *chat.Chat) ChatResponse {
	return ChatResponse{
		ID:               c.ID.String(),
		Model:            c.Model,
		Provider:         c.Provider,
		Type:             string(c.Type),
		Date:             c.DateString,
		Title:            c.Title,
		Summary:          c.Summary,
		SummaryCreatedAt: c.SummaryCreatedAt,
		CreatedAt:        c.CreatedAt,
		Loading:          h.conv != nil && h.conv.Loading(c.ID),
	}
}

// CreateChatRequest is the request body for creating a chat.
type CreateChatRequest struct {
	Type     string `json:"type"`
	Model    string `json:"model"`
	Provider string `json:"provider"`
	Date     string `json:"date"` // "2006-01-02", defaults to today
}

// create creates a chat and its frozen persona message.
func (h *ChatHandler) create(w http.ResponseWriter, r *http.Request) {
	var req CreateChatRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request", "invalid request body")
		return
	}

	typ := chat.Type(req.Type)
	if req.Type == "" {
		typ = chat.TypeGeneral
	}
	if !typ.Valid() {
		writeError(w, http.StatusBadRequest, "invalid_type", fmt.Sprintf("unknown chat type %q", req.Type))
		return
	}

	var date time.Time
	if req.Date != "" {
		var err error
		date, err = time.Parse(time.DateOnly, req.Date)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid_date", "date must be YYYY-MM-DD")
			return
		}
	}

	c, err := chat.Create(r.Context(), h.repo, chat.CreateParams{
		Type:     typ,
		Model:    req.Model,
		Provider: req.Provider,
		Date:     date,
	})
	if err != nil {
		h.logger.Error("failed to create chat", "error", err)
		writeError(w, http.StatusInternalServerError, "create_failed", "failed to create chat")
		return
	}

	writeJSON(w, http.StatusCreated, h.chatResponse(c))
}

// list returns chats most recent first.
// Query parameters:
//   - limit: Maximum number of chats to return (default: 50, max: 200)
func (h *ChatHandler) list(w http.ResponseWriter, r *http.Request) {
	limit := parseIntParam(r, "limit", DefaultListLimit, 1, MaxListLimit)

	chats, err := h.repo.PreviousChats(r.Context(), limit, uuid.Nil)
	if err != nil {
		h.logger.Error("failed to list chats", "error", err)
		writeError(w, http.StatusInternalServerError, "list_failed", "failed to list chats")
		return
	}

	out := make([]ChatResponse, 0, len(chats))
	for _, c := range chats {
		out = append(out, h.chatResponse(c))
	}
	writeJSON(w, http.StatusOK, map[string]any{"chats": out, "total": len(out)})
}

// get returns one chat.
func (h *ChatHandler) get(w http.ResponseWriter, r *http.Request) {
	c, ok := h.chatFromPath(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, h.chatResponse(c))
}

// delete removes a chat and its messages. An in-flight reply is cancelled
// first.
func (h *ChatHandler) delete(w http.ResponseWriter, r *http.Request) {
	c, ok := h.chatFromPath(w, r)
	if !ok {
		return
	}
	if h.conv != nil {
		h.conv.StopReply(c.ID)
	}
	if err := h.repo.DeleteChat(r.Context(), c.ID); err != nil {
		h.logger.Error("failed to delete chat", "chat_id", c.ID, "error", err)
		writeError(w, http.StatusInternalServerError, "delete_failed", "failed to delete chat")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// messages returns the chat's messages in insertion order.
func (h *ChatHandler) messages(w http.ResponseWriter, r *http.Request) {
	c, ok := h.chatFromPath(w, r)
	if !ok {
		return
	}
	msgs, err := h.repo.Messages(r.Context(), c.ID)
	if err != nil {
		h.logger.Error("failed to load messages", "chat_id", c.ID, "error", err)
		writeError(w, http.StatusInternalServerError, "messages_failed", "failed to load messages")
		return
	}

	out := make([]MessageResponse, 0, len(msgs))
	for _, m := range msgs {
		out = append(out, MessageResponse{
			ID:        m.ID.String(),
			Role:      string(m.Role),
			Text:      m.Text,
			CreatedAt: m.CreatedAt,
		})
	}
	writeJSON(w, http.StatusOK, map[string]any{"messages": out, "total": len(out)})
}

// SendMessageRequest is the request body for sending a user message.
type SendMessageRequest struct {
	Text string `json:"text"`
}

// SSEChunkData is the data for "chunk" events.
type SSEChunkData struct {
	Text string `json:"text"`
}

// SSEDoneData is the data for "done" events.
type SSEDoneData struct {
	ChatID string `json:"chat_id"`
}

// SSEErrorData is the data for "error" events.
type SSEErrorData struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// send accepts a user message and streams the assistant reply back as
// Server-Sent Events.
//
// Event types:
//   - chunk: partial reply text {"text": "..."}
//   - done:  the reply finished and is persisted {"chat_id": "..."}
//   - error: the turn failed {"code": "...", "message": "..."}
//
// The request is validated while the response is still JSON; the protocol
// switches to SSE only once the turn is accepted.
func (h *ChatHandler) send(w http.ResponseWriter, r *http.Request) {
	c, ok := h.chatFromPath(w, r)
	if !ok {
		return
	}
	if h.conv == nil {
		writeError(w, http.StatusNotImplemented, "not_configured", "conversation engine not configured")
		return
	}

	var req SendMessageRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request", "invalid request body")
		return
	}
	if req.Text == "" {
		writeError(w, http.StatusBadRequest, "missing_text", "text is required")
		return
	}
	if len(req.Text) > MaxMessageLength {
		writeError(w, http.StatusBadRequest, "text_too_long", fmt.Sprintf("text too long (max %d bytes)", MaxMessageLength))
		return
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		h.logger.Error("streaming not supported")
		writeError(w, http.StatusInternalServerError, "streaming_unsupported", "streaming not supported")
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no") // Disable nginx buffering
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	// Send blocks until the reply finishes; the observer runs inline with
	// each persisted delta, so chunks reach the client in stream order.
	err := h.conv.Send(r.Context(), c.ID, req.Text, conversation.WithChunkObserver(func(delta string) {
		h.writeSSEEvent(w, flusher, "chunk", SSEChunkData{Text: delta})
	}))
	if err != nil {
		h.logger.Error("reply stream failed", "chat_id", c.ID, "error", err)
		code := "send_failed"
		if errors.Is(err, conversation.ErrNoUsableModel) {
			code = "no_usable_model"
		}
		h.writeSSEEvent(w, flusher, "error", SSEErrorData{Code: code, Message: err.Error()})
		return
	}

	h.writeSSEEvent(w, flusher, "done", SSEDoneData{ChatID: c.ID.String()})
}

// stop cancels the chat's in-flight reply. Stopping an idle chat is a no-op.
func (h *ChatHandler) stop(w http.ResponseWriter, r *http.Request) {
	c, ok := h.chatFromPath(w, r)
	if !ok {
		return
	}
	if h.conv != nil {
		h.conv.StopReply(c.ID)
	}
	w.WriteHeader(http.StatusNoContent)
}

// summarize writes a summary onto the chat and returns the updated chat.
func (h *ChatHandler) summarize(w http.ResponseWriter, r *http.Request) {
	c, ok := h.chatFromPath(w, r)
	if !ok {
		return
	}
	if h.summarizer == nil {
		writeError(w, http.StatusNotImplemented, "not_configured", "summarizer not configured")
		return
	}
	if err := h.summarizer.Summarize(r.Context(), c.ID); err != nil {
		h.logger.Error("failed to summarize chat", "chat_id", c.ID, "error", err)
		writeError(w, http.StatusUnprocessableEntity, "summarize_failed", err.Error())
		return
	}

	updated, err := h.repo.Chat(r.Context(), c.ID)
	if err != nil {
		h.logger.Error("failed to reload chat", "chat_id", c.ID, "error", err)
		writeError(w, http.StatusInternalServerError, "reload_failed", "failed to reload chat")
		return
	}
	writeJSON(w, http.StatusOK, h.chatResponse(updated))
}

// extractTasks returns the new tasks mentioned in the chat.
func (h *ChatHandler) extractTasks(w http.ResponseWriter, r *http.Request) {
	c, ok := h.chatFromPath(w, r)
	if !ok {
		return
	}
	if h.extractor == nil {
		writeError(w, http.StatusNotImplemented, "not_configured", "task extractor not configured")
		return
	}
	tasks, err := h.extractor.Extract(r.Context(), c.ID)
	if err != nil {
		h.logger.Error("failed to extract tasks", "chat_id", c.ID, "error", err)
		writeError(w, http.StatusUnprocessableEntity, "extract_failed", err.Error())
		return
	}
	if tasks == nil {
		tasks = []string{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"tasks": tasks})
}

// chatFromPath resolves the {id} path value to a chat, writing the error
// response itself when resolution fails.
func (h *ChatHandler) chatFromPath(w http.ResponseWriter, r *http.Request) (*chat.Chat, bool) {
	id, err := uuid.Parse(r.PathValue("id"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_id", "chat id must be a UUID")
		return nil, false
	}
	c, err := h.repo.Chat(r.Context(), id)
	if err != nil {
		if errors.Is(err, chat.ErrChatNotFound) {
			writeError(w, http.StatusNotFound, "not_found", "chat not found")
			return nil, false
		}
		h.logger.Error("failed to load chat", "chat_id", id, "error", err)
		writeError(w, http.StatusInternalServerError, "load_failed", "failed to load chat")
		return nil, false
	}
	return c, true
}

// writeSSEEvent writes one event to the SSE stream.
func (h *ChatHandler) writeSSEEvent(w http.ResponseWriter, flusher http.Flusher, event string, data any) {
	payload, err := json.Marshal(data)
	if err != nil {
		h.logger.Error("failed to marshal SSE payload", "event", event, "error", err)
		return
	}
	fmt.Fprintf(w, "event: %s\ndata: %s\n\n", event, payload)
	flusher.Flush()
}

// parseIntParam parses an integer query parameter with bounds checking.
func parseIntParam(r *http.Request, name string, defaultVal, min, max int) int {
	str := r.URL.Query().Get(name)
	if str == "" {
		return defaultVal
	}
	val, err := strconv.Atoi(str)
	if err != nil {
		return defaultVal
	}
	if val < min {
		return min
	}
	if val > max {
		return max
	}
	return val
}
