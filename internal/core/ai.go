package core

import (
	"context"

	"github.com/markdave123-py/appointly/internal/models"
)

// AssistantRequest is one conversational turn handed to the AI collaborator.
// History is chronological and excludes Message.
type AssistantRequest struct {
	UserID    string
	SessionID string
	Message   string
	History   []models.ChatMessage
}

type Assistant interface {
	Reply(ctx context.Context, req AssistantRequest) (string, error)
}
