package services

import (
	"context"
	"slices"
	"time"

	"github.com/google/uuid"

	"github.com/markdave123-py/appointly/internal/core"
	"github.com/markdave123-py/appointly/internal/models"
)

const (
	DefaultHistoryLimit = 50
	MaxHistoryLimit     = 100
)

type MessageService struct {
	store core.MessageStore
	now   func() time.Time
}

func NewMessageService(store core.MessageStore) *MessageService {
	return &MessageService{store: store, now: time.Now}
}

// Append records one message. It does not check the session state.
func (s *MessageService) Append(ctx context.Context, sessionID string, kind models.MessageType, content string, metadata map[string]any) (*models.ChatMessage, error) {
	msg := &models.ChatMessage{
		ID:          uuid.NewString(),
		SessionID:   sessionID,
		MessageType: kind,
		Content:     content,
		Metadata:    metadata,
		CreatedAt:   s.now().UTC(),
	}
	if err := s.store.AddChatMessage(ctx, msg); err != nil {
		return nil, err
	}
	return msg, nil
}

// History returns the most recent limit messages oldest first.
func (s *MessageService) History(ctx context.Context, sessionID string, limit int) ([]models.ChatMessage, error) {
	msgs, err := s.store.GetRecentMessages(ctx, sessionID, ClampHistoryLimit(limit))
	if err != nil {
		return nil, err
	}
	slices.Reverse(msgs)
	if msgs == nil {
		msgs = []models.ChatMessage{}
	}
	return msgs, nil
}

func ClampHistoryLimit(limit int) int {
	switch {
	case limit < 1:
		return DefaultHistoryLimit
	case limit > MaxHistoryLimit:
		return MaxHistoryLimit
	}
	return limit
}
