package services

import (
	"context"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/markdave123-py/appointly/internal/core"
	"github.com/markdave123-py/appointly/internal/core/events"
	"github.com/markdave123-py/appointly/internal/models"
)

// recentSessionsLimit bounds ListForUser.
const recentSessionsLimit = 10

// ArchiveQueue accepts ended sessions for transcript archival.
type ArchiveQueue interface {
	Enqueue(sessionID, userID string) bool
}

type SessionService struct {
	store    core.SessionStore
	events   core.EventPublisher
	archiver ArchiveQueue
	log      *slog.Logger
	now      func() time.Time
}

// NewSessionService wires the ledger. archiver may be nil.
func NewSessionService(store core.SessionStore, pub core.EventPublisher, archiver ArchiveQueue, log *slog.Logger) *SessionService {
	return &SessionService{store: store, events: pub, archiver: archiver, log: log, now: time.Now}
}

func (s *SessionService) Create(ctx context.Context, userID string, metadata map[string]any) (*models.ChatSession, error) {
	session := &models.ChatSession{
		ID:              uuid.NewString(),
		UserID:          userID,
		StartedAt:       s.now().UTC(),
		IsActive:        true,
		SessionMetadata: metadata,
	}
	if err := s.store.CreateSession(ctx, session); err != nil {
		s.log.Error("create session failed", "svc", "session.create", "user_id", userID, "err", err)
		return nil, err
	}
	s.publish(ctx, events.ChatSessionStarted, events.SessionPayload{
		SessionID: session.ID, UserID: userID, At: session.StartedAt,
	})
	return session, nil
}

// ListForUser returns the user's most recent sessions, newest first.
func (s *SessionService) ListForUser(ctx context.Context, userID string) ([]models.ChatSession, error) {
	return s.store.ListSessionsByUser(ctx, userID, recentSessionsLimit)
}

// End closes an owned session. Ending an already ended session is a no-op;
// missing or foreign sessions are NotFound.
func (s *SessionService) End(ctx context.Context, sessionID, userID string) error {
	at := s.now().UTC()
	changed, err := s.store.EndSession(ctx, sessionID, userID, at)
	if err != nil {
		s.log.Error("end session failed", "svc", "session.end", "session_id", sessionID, "err", err)
		return err
	}
	if !changed {
		_, err := s.Owned(ctx, sessionID, userID)
		return err
	}

	s.publish(ctx, events.ChatSessionEnded, events.SessionPayload{
		SessionID: sessionID, UserID: userID, At: at,
	})
	if s.archiver != nil && !s.archiver.Enqueue(sessionID, userID) {
		s.log.Warn("archive queue full, transcript skipped", "svc", "session.end", "session_id", sessionID)
	}
	return nil
}

// Owned loads a session and hides sessions of other users behind NotFound.
func (s *SessionService) Owned(ctx context.Context, sessionID, userID string) (*models.ChatSession, error) {
	session, err := s.store.GetSession(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if session.UserID != userID {
		return nil, core.E(core.KindNotFound, "session not found", nil)
	}
	return session, nil
}

func (s *SessionService) publish(ctx context.Context, key string, payload any) {
	if s.events == nil {
		return
	}
	if err := s.events.Publish(ctx, key, payload); err != nil {
		s.log.Warn("publish event failed", "event", key, "err", err)
	}
}
