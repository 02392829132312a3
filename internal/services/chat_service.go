package services

import (
	"context"
	"log/slog"
	"time"

	"github.com/markdave123-py/appointly/internal/core"
	"github.com/markdave123-py/appointly/internal/models"
)

// AssistantUnavailableNotice is recorded as a system message when the
// assistant cannot answer.
const AssistantUnavailableNotice = "assistant unavailable"

type SendResult struct {
	SessionID string
	Response  string
	Timestamp time.Time
}

// ChatService relays user turns to the assistant and records both sides of
// the conversation.
type ChatService struct {
	sessions      *SessionService
	messages      *MessageService
	assistant     core.Assistant
	historyWindow int
	log           *slog.Logger
}

func NewChatService(sessions *SessionService, messages *MessageService, assistant core.Assistant, historyWindow int, log *slog.Logger) *ChatService {
	return &ChatService{
		sessions:      sessions,
		messages:      messages,
		assistant:     assistant,
		historyWindow: historyWindow,
		log:           log,
	}
}

// SendMessage appends the user's text, asks the assistant and appends its
// reply. Without a sessionID a new session is started first.
func (s *ChatService) SendMessage(ctx context.Context, userID, sessionID, text string) (*SendResult, error) {
	if sessionID == "" {
		session, err := s.sessions.Create(ctx, userID, map[string]any{"origin": "message"})
		if err != nil {
			return nil, err
		}
		sessionID = session.ID
	} else {
		session, err := s.sessions.Owned(ctx, sessionID, userID)
		if err != nil {
			return nil, err
		}
		if !session.IsActive {
			return nil, core.E(core.KindConflict, "session has ended", nil)
		}
	}

	var history []models.ChatMessage
	if s.historyWindow > 0 {
		var err error
		if history, err = s.messages.History(ctx, sessionID, s.historyWindow); err != nil {
			return nil, err
		}
	}

	if _, err := s.messages.Append(ctx, sessionID, models.MessageUser, text, nil); err != nil {
		s.log.Error("append user message failed", "svc", "chat.send", "session_id", sessionID, "err", err)
		return nil, err
	}

	reply, err := s.assistant.Reply(ctx, core.AssistantRequest{
		UserID:    userID,
		SessionID: sessionID,
		Message:   text,
		History:   history,
	})
	if err != nil {
		s.log.Warn("assistant call failed", "svc", "chat.send", "session_id", sessionID, "err", err)
		if _, aerr := s.messages.Append(ctx, sessionID, models.MessageSystem, AssistantUnavailableNotice,
			map[string]any{"error": "assistant_unavailable"}); aerr != nil {
			s.log.Error("append system notice failed", "svc", "chat.send", "session_id", sessionID, "err", aerr)
		}
		return nil, core.E(core.KindUnavailable, "assistant unavailable", err)
	}

	msg, err := s.messages.Append(ctx, sessionID, models.MessageAssistant, reply, nil)
	if err != nil {
		s.log.Error("append assistant message failed", "svc", "chat.send", "session_id", sessionID, "err", err)
		return nil, err
	}
	return &SendResult{SessionID: sessionID, Response: reply, Timestamp: msg.CreatedAt}, nil
}

// History returns the owned session's recent messages oldest first.
func (s *ChatService) History(ctx context.Context, userID, sessionID string, limit int) ([]models.ChatMessage, error) {
	if _, err := s.sessions.Owned(ctx, sessionID, userID); err != nil {
		return nil, err
	}
	return s.messages.History(ctx, sessionID, limit)
}

func (s *ChatService) CreateSession(ctx context.Context, userID string) (*models.ChatSession, error) {
	return s.sessions.Create(ctx, userID, nil)
}

func (s *ChatService) EndSession(ctx context.Context, userID, sessionID string) error {
	return s.sessions.End(ctx, sessionID, userID)
}

func (s *ChatService) ListSessions(ctx context.Context, userID string) ([]models.ChatSession, error) {
	return s.sessions.ListForUser(ctx, userID)
}
