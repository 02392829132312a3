package core

import (
	"context"
	"time"

	"github.com/markdave123-py/appointly/internal/models"
)

// UserStore persists accounts. Lookups resolve inactive users too; callers
// decide what an inactive account may do. Missing rows are KindNotFound.
type UserStore interface {
	CreateUser(ctx context.Context, user *models.User) error
	GetUserByEmail(ctx context.Context, email string) (*models.User, error)
	GetUserByID(ctx context.Context, id string) (*models.User, error)
	TouchLogin(ctx context.Context, id string, at time.Time) error
}

// RefreshTokenStore keeps the hashed records of issued refresh tokens.
type RefreshTokenStore interface {
	CreateRefreshToken(ctx context.Context, token *models.RefreshToken) error
	GetRefreshTokenByHash(ctx context.Context, hash string) (*models.RefreshToken, error)
	// RotateRefreshToken revokes oldID and inserts next atomically. It fails
	// with KindTokenInvalid when oldID was already revoked.
	RotateRefreshToken(ctx context.Context, oldID string, next *models.RefreshToken, at time.Time) error
	RevokeRefreshToken(ctx context.Context, hash string, at time.Time) error
	RevokeUserRefreshTokens(ctx context.Context, userID string, at time.Time) (int64, error)
	DeleteStaleRefreshTokens(ctx context.Context, now time.Time, revokedBefore time.Time) (int64, error)
}

// SessionStore persists chat sessions.
type SessionStore interface {
	CreateSession(ctx context.Context, session *models.ChatSession) error
	GetSession(ctx context.Context, id string) (*models.ChatSession, error)
	ListSessionsByUser(ctx context.Context, userID string, limit int) ([]models.ChatSession, error)
	// EndSession marks an active session owned by userID as ended and
	// reports whether a row changed.
	EndSession(ctx context.Context, id, userID string, at time.Time) (bool, error)
}

// MessageStore is the append-only message log.
type MessageStore interface {
	AddChatMessage(ctx context.Context, message *models.ChatMessage) error
	// GetRecentMessages returns up to limit messages, newest first.
	GetRecentMessages(ctx context.Context, sessionID string, limit int) ([]models.ChatMessage, error)
	// GetAllMessages returns every message of a session, oldest first.
	GetAllMessages(ctx context.Context, sessionID string) ([]models.ChatMessage, error)
}

// DbClient defines all persistence operations the services need.
// It abstracts Postgres so higher layers never depend on a specific DB.
type DbClient interface {
	UserStore
	RefreshTokenStore
	SessionStore
	MessageStore

	Ping(ctx context.Context) error
	Close() error
}

// ObjectClient defines interactions with S3 or any object storage.
type ObjectClient interface {
	UploadFile(ctx context.Context, bucket, key string, data []byte, contentType string) (url string, err error)
}

// EventPublisher emits domain events. Implementations must be safe for
// concurrent use.
type EventPublisher interface {
	Publish(ctx context.Context, routingKey string, payload any) error
	Close() error
}
