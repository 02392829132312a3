package models

import (
	"time"
)

// User represents an account of the appointment assistant.
type User struct {
	ID           string     `db:"id" json:"id"`
	Email        string     `db:"email" json:"email"`
	PasswordHash string     `db:"password_hash" json:"-"`
	FullName     string     `db:"full_name" json:"fullName"`
	PhoneNumber  *string    `db:"phone_number" json:"phoneNumber,omitempty"`
	IsActive     bool       `db:"is_active" json:"isActive"`
	CreatedAt    time.Time  `db:"created_at" json:"createdAt"`
	LastLoginAt  *time.Time `db:"last_login_at" json:"lastLoginAt,omitempty"`
}

// PublicUser is the profile returned to clients. It never carries the hash.
type PublicUser struct {
	ID          string     `json:"id"`
	Email       string     `json:"email"`
	FullName    string     `json:"fullName"`
	PhoneNumber *string    `json:"phoneNumber,omitempty"`
	CreatedAt   time.Time  `json:"createdAt"`
	LastLoginAt *time.Time `json:"lastLoginAt,omitempty"`
}

// Public strips credentials from the user record.
func (u *User) Public() PublicUser {
	return PublicUser{
		ID:          u.ID,
		Email:       u.Email,
		FullName:    u.FullName,
		PhoneNumber: u.PhoneNumber,
		CreatedAt:   u.CreatedAt,
		LastLoginAt: u.LastLoginAt,
	}
}

// RefreshToken is the persisted record of an issued refresh token.
// Only the SHA-256 of the raw token is kept.
type RefreshToken struct {
	ID        string     `db:"id" json:"id"`
	UserID    string     `db:"user_id" json:"userId"`
	TokenHash string     `db:"token_hash" json:"-"`
	ExpiresAt time.Time  `db:"expires_at" json:"expiresAt"`
	CreatedAt time.Time  `db:"created_at" json:"createdAt"`
	RevokedAt *time.Time `db:"revoked_at" json:"revokedAt,omitempty"`
}

// ChatSession represents one conversation between a user and the assistant.
type ChatSession struct {
	ID              string         `db:"id" json:"id"`
	UserID          string         `db:"user_id" json:"userId"`
	StartedAt       time.Time      `db:"started_at" json:"startedAt"`
	EndedAt         *time.Time     `db:"ended_at" json:"endedAt"`
	IsActive        bool           `db:"is_active" json:"isActive"`
	SessionMetadata map[string]any `db:"session_metadata" json:"sessionMetadata,omitempty"`
}

// MessageType tags who produced a chat message.
type MessageType string

const (
	MessageUser      MessageType = "user"
	MessageAssistant MessageType = "assistant"
	MessageSystem    MessageType = "system"
)

// ChatMessage represents an individual message in a session (user, assistant or system).
type ChatMessage struct {
	ID          string         `db:"id" json:"id"`
	SessionID   string         `db:"session_id" json:"sessionId"`
	MessageType MessageType    `db:"message_type" json:"messageType"`
	Content     string         `db:"content" json:"content"`
	Metadata    map[string]any `db:"metadata" json:"metadata,omitempty"`
	CreatedAt   time.Time      `db:"created_at" json:"createdAt"`
}
