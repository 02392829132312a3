// Package events defines the domain events this service emits and the
// publishers that deliver them.
package events

import (
	"context"
	"time"
)

const (
	UserRegistered     = "user.registered"
	ChatSessionStarted = "chat.session.started"
	ChatSessionEnded   = "chat.session.ended"
)

type UserRegisteredPayload struct {
	UserID string    `json:"userId"`
	Email  string    `json:"email"`
	At     time.Time `json:"at"`
}

type SessionPayload struct {
	SessionID string    `json:"sessionId"`
	UserID    string    `json:"userId"`
	At        time.Time `json:"at"`
}

// NoopPublisher drops every event. Used when no broker is configured.
type NoopPublisher struct{}

func (NoopPublisher) Publish(context.Context, string, any) error { return nil }
func (NoopPublisher) Close() error                              { return nil }
