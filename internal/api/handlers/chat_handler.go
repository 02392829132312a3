package handlers

import (
	"context"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	middleware "github.com/markdave123-py/appointly/internal/api/middlewares"
	"github.com/markdave123-py/appointly/internal/api/respond"
	"github.com/markdave123-py/appointly/internal/api/validate"
	"github.com/markdave123-py/appointly/internal/models"
	"github.com/markdave123-py/appointly/internal/services"
)

// ChatAPI is the slice of services.ChatService the chat routes use.
type ChatAPI interface {
	SendMessage(ctx context.Context, userID, sessionID, text string) (*services.SendResult, error)
	History(ctx context.Context, userID, sessionID string, limit int) ([]models.ChatMessage, error)
	CreateSession(ctx context.Context, userID string) (*models.ChatSession, error)
	EndSession(ctx context.Context, userID, sessionID string) error
	ListSessions(ctx context.Context, userID string) ([]models.ChatSession, error)
}

type ChatbotTokenIssuer interface {
	ChatbotToken(ctx context.Context, userID string) (*services.ChatbotToken, error)
}

type ChatHandler struct {
	chat   ChatAPI
	tokens ChatbotTokenIssuer
	dev    bool
}

func NewChatHandler(chat ChatAPI, tokens ChatbotTokenIssuer, dev bool) *ChatHandler {
	return &ChatHandler{chat: chat, tokens: tokens, dev: dev}
}

type sendMessageRequest struct {
	Message   string `json:"message" validate:"required,max=4000"`
	SessionID string `json:"sessionId" validate:"omitempty,uuid"`
}

type sendMessageResponse struct {
	Success   bool      `json:"success"`
	Response  string    `json:"response"`
	SessionID string    `json:"sessionId"`
	Timestamp time.Time `json:"timestamp"`
}

func (h *ChatHandler) SendMessage(w http.ResponseWriter, r *http.Request) {
	userID, ok := middleware.UserIDFromContext(r.Context())
	if !ok {
		respond.Unauthenticated(w)
		return
	}
	var req sendMessageRequest
	if !decodeAndValidate(w, r, &req) {
		return
	}
	text := strings.TrimSpace(req.Message)
	if text == "" {
		respond.ValidationFailed(w, []respond.FieldError{{Field: "message", Message: "is required"}})
		return
	}

	res, err := h.chat.SendMessage(r.Context(), userID, req.SessionID, text)
	if err != nil {
		writeError(w, r, err, h.dev)
		return
	}
	respond.JSON(w, http.StatusOK, sendMessageResponse{
		Success:   true,
		Response:  res.Response,
		SessionID: res.SessionID,
		Timestamp: res.Timestamp,
	})
}

func (h *ChatHandler) History(w http.ResponseWriter, r *http.Request) {
	userID, ok := middleware.UserIDFromContext(r.Context())
	if !ok {
		respond.Unauthenticated(w)
		return
	}
	sessionID, ok := sessionParam(w, r)
	if !ok {
		return
	}
	limit := services.DefaultHistoryLimit
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil {
			respond.ValidationFailed(w, []respond.FieldError{{Field: "limit", Message: "must be an integer"}})
			return
		}
		limit = n
	}

	msgs, err := h.chat.History(r.Context(), userID, sessionID, limit)
	if err != nil {
		writeError(w, r, err, h.dev)
		return
	}
	respond.JSON(w, http.StatusOK, map[string]any{"sessionId": sessionID, "messages": msgs})
}

func (h *ChatHandler) ListSessions(w http.ResponseWriter, r *http.Request) {
	userID, ok := middleware.UserIDFromContext(r.Context())
	if !ok {
		respond.Unauthenticated(w)
		return
	}
	sessions, err := h.chat.ListSessions(r.Context(), userID)
	if err != nil {
		writeError(w, r, err, h.dev)
		return
	}
	if sessions == nil {
		sessions = []models.ChatSession{}
	}
	respond.JSON(w, http.StatusOK, map[string]any{"sessions": sessions})
}

func (h *ChatHandler) CreateSession(w http.ResponseWriter, r *http.Request) {
	userID, ok := middleware.UserIDFromContext(r.Context())
	if !ok {
		respond.Unauthenticated(w)
		return
	}
	session, err := h.chat.CreateSession(r.Context(), userID)
	if err != nil {
		writeError(w, r, err, h.dev)
		return
	}
	respond.JSON(w, http.StatusCreated, map[string]string{"sessionId": session.ID, "message": "Session created"})
}

func (h *ChatHandler) EndSession(w http.ResponseWriter, r *http.Request) {
	userID, ok := middleware.UserIDFromContext(r.Context())
	if !ok {
		respond.Unauthenticated(w)
		return
	}
	sessionID, ok := sessionParam(w, r)
	if !ok {
		return
	}
	if err := h.chat.EndSession(r.Context(), userID, sessionID); err != nil {
		writeError(w, r, err, h.dev)
		return
	}
	respond.JSON(w, http.StatusOK, map[string]string{"message": "Session ended"})
}

func (h *ChatHandler) ChatbotToken(w http.ResponseWriter, r *http.Request) {
	userID, ok := middleware.UserIDFromContext(r.Context())
	if !ok {
		respond.Unauthenticated(w)
		return
	}
	tok, err := h.tokens.ChatbotToken(r.Context(), userID)
	if err != nil {
		writeError(w, r, err, h.dev)
		return
	}
	respond.JSON(w, http.StatusOK, map[string]any{
		"token":     tok.Token,
		"expiresIn": tok.ExpiresIn,
		"user": map[string]string{
			"id":    tok.UserID,
			"email": tok.Email,
		},
	})
}

func sessionParam(w http.ResponseWriter, r *http.Request) (string, bool) {
	id := chi.URLParam(r, "sessionId")
	if details := validate.Var("sessionId", id, "required,uuid"); len(details) > 0 {
		respond.ValidationFailed(w, details)
		return "", false
	}
	return id, true
}
