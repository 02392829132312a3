package db

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"

	"github.com/markdave123-py/appointly/internal/config"
	"github.com/markdave123-py/appointly/internal/core"
	"github.com/markdave123-py/appointly/internal/models"
)

type DatabaseClient struct {
	db           *sql.DB
	queryTimeout time.Duration
}

func NewDatabaseClient(ctx context.Context, cfg *config.Config) (*DatabaseClient, error) {
	if cfg == nil {
		return nil, fmt.Errorf("database client configuration is nil")
	}
	if cfg.DatabaseURL == "" {
		return nil, fmt.Errorf("DATABASE_URL is empty")
	}

	db, err := sql.Open("pgx", cfg.DatabaseURL)
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}

	db.SetMaxOpenConns(cfg.DBMaxOpenConns)
	db.SetMaxIdleConns(cfg.DBMaxIdleConns)
	db.SetConnMaxLifetime(30 * time.Minute)
	db.SetConnMaxIdleTime(cfg.DBConnIdleTime)

	pingCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping db: %w", err)
	}

	if err := EnsureBootstrapped(ctx, db); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("bootstrap: %w", err)
	}

	return NewWithDB(db, cfg.DBQueryTimeout), nil
}

// NewWithDB wraps an already opened pool.
func NewWithDB(db *sql.DB, queryTimeout time.Duration) *DatabaseClient {
	if queryTimeout <= 0 {
		queryTimeout = 5 * time.Second
	}
	return &DatabaseClient{db: db, queryTimeout: queryTimeout}
}

func (c *DatabaseClient) Close() error {
	if c.db != nil {
		return c.db.Close()
	}
	return nil
}

func (c *DatabaseClient) Ping(ctx context.Context) error {
	ctx, cancel := c.bound(ctx)
	defer cancel()
	return mapError("ping", c.db.PingContext(ctx))
}

// bound caps every store call so a saturated pool fails fast.
func (c *DatabaseClient) bound(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx, c.queryTimeout)
}

func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

// Implementing the db interface for user

func (c *DatabaseClient) CreateUser(ctx context.Context, user *models.User) error {
	if user == nil {
		return errors.New("nil user")
	}
	ctx, cancel := c.bound(ctx)
	defer cancel()

	user.Email = normalizeEmail(user.Email)
	if user.CreatedAt.IsZero() {
		user.CreatedAt = time.Now().UTC()
	}
	const q = `
		INSERT INTO users (id, email, password_hash, full_name, phone_number, is_active, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`
	_, err := c.db.ExecContext(ctx, q,
		user.ID, user.Email, user.PasswordHash, user.FullName, user.PhoneNumber, user.IsActive, user.CreatedAt)
	return mapError("create user", err)
}

const userColumns = `id, email, password_hash, full_name, phone_number, is_active, created_at, last_login_at`

func scanUser(row interface{ Scan(...any) error }) (*models.User, error) {
	var u models.User
	var phone sql.NullString
	var lastLogin sql.NullTime
	if err := row.Scan(&u.ID, &u.Email, &u.PasswordHash, &u.FullName, &phone, &u.IsActive, &u.CreatedAt, &lastLogin); err != nil {
		return nil, err
	}
	if phone.Valid {
		u.PhoneNumber = &phone.String
	}
	if lastLogin.Valid {
		t := lastLogin.Time
		u.LastLoginAt = &t
	}
	return &u, nil
}

func (c *DatabaseClient) GetUserByEmail(ctx context.Context, email string) (*models.User, error) {
	ctx, cancel := c.bound(ctx)
	defer cancel()

	q := `SELECT ` + userColumns + ` FROM users WHERE email = $1`
	u, err := scanUser(c.db.QueryRowContext(ctx, q, normalizeEmail(email)))
	if err != nil {
		return nil, mapError("get user by email", err)
	}
	return u, nil
}

func (c *DatabaseClient) GetUserByID(ctx context.Context, id string) (*models.User, error) {
	ctx, cancel := c.bound(ctx)
	defer cancel()

	q := `SELECT ` + userColumns + ` FROM users WHERE id = $1`
	u, err := scanUser(c.db.QueryRowContext(ctx, q, id))
	if err != nil {
		return nil, mapError("get user by id", err)
	}
	return u, nil
}

func (c *DatabaseClient) TouchLogin(ctx context.Context, id string, at time.Time) error {
	ctx, cancel := c.bound(ctx)
	defer cancel()

	res, err := c.db.ExecContext(ctx, `UPDATE users SET last_login_at = $2 WHERE id = $1`, id, at)
	if err != nil {
		return mapError("touch login", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return core.E(core.KindNotFound, "touch login: user not found", nil)
	}
	return nil
}

// Implementing the db interface for refresh tokens

func (c *DatabaseClient) CreateRefreshToken(ctx context.Context, t *models.RefreshToken) error {
	if t == nil {
		return errors.New("nil refresh token")
	}
	ctx, cancel := c.bound(ctx)
	defer cancel()

	_, err := c.db.ExecContext(ctx, insertRefreshToken,
		t.ID, t.UserID, t.TokenHash, t.ExpiresAt, t.CreatedAt)
	return mapError("create refresh token", err)
}

const insertRefreshToken = `
	INSERT INTO refresh_tokens (id, user_id, token_hash, expires_at, created_at)
	VALUES ($1, $2, $3, $4, $5)
`

func (c *DatabaseClient) GetRefreshTokenByHash(ctx context.Context, hash string) (*models.RefreshToken, error) {
	ctx, cancel := c.bound(ctx)
	defer cancel()

	const q = `
		SELECT id, user_id, token_hash, expires_at, created_at, revoked_at
		FROM refresh_tokens WHERE token_hash = $1
	`
	var t models.RefreshToken
	var revoked sql.NullTime
	err := c.db.QueryRowContext(ctx, q, hash).Scan(&t.ID, &t.UserID, &t.TokenHash, &t.ExpiresAt, &t.CreatedAt, &revoked)
	if err != nil {
		return nil, mapError("get refresh token", err)
	}
	if revoked.Valid {
		at := revoked.Time
		t.RevokedAt = &at
	}
	return &t, nil
}

func (c *DatabaseClient) RotateRefreshToken(ctx context.Context, oldID string, next *models.RefreshToken, at time.Time) error {
	if next == nil {
		return errors.New("nil refresh token")
	}
	ctx, cancel := c.bound(ctx)
	defer cancel()

	tx, err := c.db.BeginTx(ctx, nil)
	if err != nil {
		return mapError("rotate refresh token", err)
	}
	defer func() { _ = tx.Rollback() }()

	res, err := tx.ExecContext(ctx,
		`UPDATE refresh_tokens SET revoked_at = $2 WHERE id = $1 AND revoked_at IS NULL`, oldID, at)
	if err != nil {
		return mapError("rotate refresh token", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return core.E(core.KindTokenInvalid, "refresh token already used", nil)
	}
	if _, err := tx.ExecContext(ctx, insertRefreshToken,
		next.ID, next.UserID, next.TokenHash, next.ExpiresAt, next.CreatedAt); err != nil {
		return mapError("rotate refresh token", err)
	}
	return mapError("rotate refresh token", tx.Commit())
}

func (c *DatabaseClient) RevokeRefreshToken(ctx context.Context, hash string, at time.Time) error {
	ctx, cancel := c.bound(ctx)
	defer cancel()

	_, err := c.db.ExecContext(ctx,
		`UPDATE refresh_tokens SET revoked_at = $2 WHERE token_hash = $1 AND revoked_at IS NULL`, hash, at)
	return mapError("revoke refresh token", err)
}

func (c *DatabaseClient) RevokeUserRefreshTokens(ctx context.Context, userID string, at time.Time) (int64, error) {
	ctx, cancel := c.bound(ctx)
	defer cancel()

	res, err := c.db.ExecContext(ctx,
		`UPDATE refresh_tokens SET revoked_at = $2 WHERE user_id = $1 AND revoked_at IS NULL`, userID, at)
	if err != nil {
		return 0, mapError("revoke user refresh tokens", err)
	}
	n, _ := res.RowsAffected()
	return n, nil
}

func (c *DatabaseClient) DeleteStaleRefreshTokens(ctx context.Context, now time.Time, revokedBefore time.Time) (int64, error) {
	ctx, cancel := c.bound(ctx)
	defer cancel()

	res, err := c.db.ExecContext(ctx, `
		DELETE FROM refresh_tokens
		WHERE expires_at <= $1 OR (revoked_at IS NOT NULL AND revoked_at < $2)
	`, now, revokedBefore)
	if err != nil {
		return 0, mapError("delete stale refresh tokens", err)
	}
	n, _ := res.RowsAffected()
	return n, nil
}

// Implementing the db interface for chat sessions

func (c *DatabaseClient) CreateSession(ctx context.Context, s *models.ChatSession) error {
	if s == nil {
		return errors.New("nil session")
	}
	ctx, cancel := c.bound(ctx)
	defer cancel()

	meta, err := marshalBag(s.SessionMetadata)
	if err != nil {
		return fmt.Errorf("encode session metadata: %w", err)
	}
	const q = `
		INSERT INTO chat_sessions (id, user_id, started_at, ended_at, is_active, session_metadata)
		VALUES ($1, $2, $3, $4, $5, $6::jsonb)
	`
	_, err = c.db.ExecContext(ctx, q, s.ID, s.UserID, s.StartedAt, s.EndedAt, s.IsActive, meta)
	return mapError("create session", err)
}

const sessionColumns = `id, user_id, started_at, ended_at, is_active, session_metadata`

func scanSession(row interface{ Scan(...any) error }) (*models.ChatSession, error) {
	var s models.ChatSession
	var ended sql.NullTime
	var meta []byte
	if err := row.Scan(&s.ID, &s.UserID, &s.StartedAt, &ended, &s.IsActive, &meta); err != nil {
		return nil, err
	}
	if ended.Valid {
		t := ended.Time
		s.EndedAt = &t
	}
	bag, err := unmarshalBag(meta)
	if err != nil {
		return nil, err
	}
	s.SessionMetadata = bag
	return &s, nil
}

func (c *DatabaseClient) GetSession(ctx context.Context, id string) (*models.ChatSession, error) {
	ctx, cancel := c.bound(ctx)
	defer cancel()

	q := `SELECT ` + sessionColumns + ` FROM chat_sessions WHERE id = $1`
	s, err := scanSession(c.db.QueryRowContext(ctx, q, id))
	if err != nil {
		return nil, mapError("get session", err)
	}
	return s, nil
}

func (c *DatabaseClient) ListSessionsByUser(ctx context.Context, userID string, limit int) ([]models.ChatSession, error) {
	ctx, cancel := c.bound(ctx)
	defer cancel()

	q := `SELECT ` + sessionColumns + ` FROM chat_sessions WHERE user_id = $1 ORDER BY started_at DESC LIMIT $2`
	rows, err := c.db.QueryContext(ctx, q, userID, limit)
	if err != nil {
		return nil, mapError("list sessions", err)
	}
	defer rows.Close()

	out := make([]models.ChatSession, 0, limit)
	for rows.Next() {
		s, err := scanSession(rows)
		if err != nil {
			return nil, mapError("list sessions", err)
		}
		out = append(out, *s)
	}
	if err := rows.Err(); err != nil {
		return nil, mapError("list sessions", err)
	}
	return out, nil
}

func (c *DatabaseClient) EndSession(ctx context.Context, id, userID string, at time.Time) (bool, error) {
	ctx, cancel := c.bound(ctx)
	defer cancel()

	res, err := c.db.ExecContext(ctx, `
		UPDATE chat_sessions SET ended_at = $3, is_active = FALSE
		WHERE id = $1 AND user_id = $2 AND is_active
	`, id, userID, at)
	if err != nil {
		return false, mapError("end session", err)
	}
	n, _ := res.RowsAffected()
	return n > 0, nil
}

// Implementing the db interface for chat messages

func (c *DatabaseClient) AddChatMessage(ctx context.Context, m *models.ChatMessage) error {
	if m == nil {
		return errors.New("nil message")
	}
	ctx, cancel := c.bound(ctx)
	defer cancel()

	meta, err := marshalBag(m.Metadata)
	if err != nil {
		return fmt.Errorf("encode message metadata: %w", err)
	}
	const q = `
		INSERT INTO chat_messages (id, session_id, message_type, content, metadata, created_at)
		VALUES ($1, $2, $3, $4, $5::jsonb, $6)
	`
	_, err = c.db.ExecContext(ctx, q, m.ID, m.SessionID, string(m.MessageType), m.Content, meta, m.CreatedAt)
	return mapError("add chat message", err)
}

func (c *DatabaseClient) GetRecentMessages(ctx context.Context, sessionID string, limit int) ([]models.ChatMessage, error) {
	const q = `
		SELECT id, session_id, message_type, content, metadata, created_at
		FROM chat_messages WHERE session_id = $1
		ORDER BY created_at DESC, seq DESC
		LIMIT $2
	`
	return c.queryMessages(ctx, "recent messages", q, sessionID, limit)
}

func (c *DatabaseClient) GetAllMessages(ctx context.Context, sessionID string) ([]models.ChatMessage, error) {
	const q = `
		SELECT id, session_id, message_type, content, metadata, created_at
		FROM chat_messages WHERE session_id = $1
		ORDER BY created_at ASC, seq ASC
	`
	return c.queryMessages(ctx, "all messages", q, sessionID)
}

func (c *DatabaseClient) queryMessages(ctx context.Context, op, q string, args ...any) ([]models.ChatMessage, error) {
	ctx, cancel := c.bound(ctx)
	defer cancel()

	rows, err := c.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, mapError(op, err)
	}
	defer rows.Close()

	var out []models.ChatMessage
	for rows.Next() {
		var m models.ChatMessage
		var kind string
		var meta []byte
		if err := rows.Scan(&m.ID, &m.SessionID, &kind, &m.Content, &meta, &m.CreatedAt); err != nil {
			return nil, mapError(op, err)
		}
		m.MessageType = models.MessageType(kind)
		if m.Metadata, err = unmarshalBag(meta); err != nil {
			return nil, err
		}
		out = append(out, m)
	}
	if err := rows.Err(); err != nil {
		return nil, mapError(op, err)
	}
	return out, nil
}

func marshalBag(bag map[string]any) (string, error) {
	if len(bag) == 0 {
		return "{}", nil
	}
	b, err := json.Marshal(bag)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

func unmarshalBag(raw []byte) (map[string]any, error) {
	if len(raw) == 0 {
		return nil, nil
	}
	var bag map[string]any
	if err := json.Unmarshal(raw, &bag); err != nil {
		return nil, fmt.Errorf("decode metadata: %w", err)
	}
	if len(bag) == 0 {
		return nil, nil
	}
	return bag, nil
}

var _ core.DbClient = (*DatabaseClient)(nil)
