package db

import (
	"context"
	"database/sql"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/markdave123-py/appointly/internal/core"
	"github.com/markdave123-py/appointly/internal/models"
)

// openTestClient connects to TEST_DATABASE_URL and skips when it is unset.
func openTestClient(t *testing.T) *DatabaseClient {
	t.Helper()
	dsn := os.Getenv("TEST_DATABASE_URL")
	if dsn == "" {
		t.Skip("TEST_DATABASE_URL not set")
	}
	sqlDB, err := sql.Open("pgx", dsn)
	require.NoError(t, err)
	ctx := context.Background()
	require.NoError(t, sqlDB.PingContext(ctx))
	require.NoError(t, EnsureBootstrapped(ctx, sqlDB))
	c := NewWithDB(sqlDB, 5*time.Second)
	t.Cleanup(func() { _ = c.Close() })
	return c
}

func seedUser(t *testing.T, c *DatabaseClient) *models.User {
	t.Helper()
	u := &models.User{
		ID:           uuid.NewString(),
		Email:        "  " + uuid.NewString() + "@Example.com ",
		PasswordHash: "hash",
		FullName:     "Test User",
		IsActive:     true,
	}
	require.NoError(t, c.CreateUser(context.Background(), u))
	return u
}

func TestUserStore(t *testing.T) {
	c := openTestClient(t)
	ctx := context.Background()
	u := seedUser(t, c)

	got, err := c.GetUserByEmail(ctx, " "+u.Email)
	require.NoError(t, err)
	assert.Equal(t, u.ID, got.ID)
	assert.Nil(t, got.LastLoginAt)

	dup := *u
	dup.ID = uuid.NewString()
	assert.True(t, core.IsKind(c.CreateUser(ctx, &dup), core.KindConflict))

	at := time.Now().UTC().Truncate(time.Millisecond)
	require.NoError(t, c.TouchLogin(ctx, u.ID, at))
	got, err = c.GetUserByID(ctx, u.ID)
	require.NoError(t, err)
	require.NotNil(t, got.LastLoginAt)
	assert.WithinDuration(t, at, *got.LastLoginAt, time.Millisecond)

	_, err = c.GetUserByID(ctx, uuid.NewString())
	assert.True(t, core.IsKind(err, core.KindNotFound))
}

func TestRefreshTokenRotation(t *testing.T) {
	c := openTestClient(t)
	ctx := context.Background()
	u := seedUser(t, c)
	now := time.Now().UTC()

	first := &models.RefreshToken{ID: uuid.NewString(), UserID: u.ID, TokenHash: uuid.NewString(), ExpiresAt: now.Add(time.Hour), CreatedAt: now}
	require.NoError(t, c.CreateRefreshToken(ctx, first))

	second := &models.RefreshToken{ID: uuid.NewString(), UserID: u.ID, TokenHash: uuid.NewString(), ExpiresAt: now.Add(time.Hour), CreatedAt: now}
	require.NoError(t, c.RotateRefreshToken(ctx, first.ID, second, now))

	third := &models.RefreshToken{ID: uuid.NewString(), UserID: u.ID, TokenHash: uuid.NewString(), ExpiresAt: now.Add(time.Hour), CreatedAt: now}
	err := c.RotateRefreshToken(ctx, first.ID, third, now)
	assert.True(t, core.IsKind(err, core.KindTokenInvalid))

	_, err = c.GetRefreshTokenByHash(ctx, third.TokenHash)
	assert.True(t, core.IsKind(err, core.KindNotFound), "failed rotation must not insert")

	rec, err := c.GetRefreshTokenByHash(ctx, first.TokenHash)
	require.NoError(t, err)
	assert.NotNil(t, rec.RevokedAt)

	n, err := c.RevokeUserRefreshTokens(ctx, u.ID, now)
	require.NoError(t, err)
	assert.EqualValues(t, 1, n)
}

func TestSessionsAndMessages(t *testing.T) {
	c := openTestClient(t)
	ctx := context.Background()
	u := seedUser(t, c)
	other := seedUser(t, c)

	base := time.Now().UTC().Truncate(time.Microsecond)
	s := &models.ChatSession{ID: uuid.NewString(), UserID: u.ID, StartedAt: base, IsActive: true}
	require.NoError(t, c.CreateSession(ctx, s))

	for i, text := range []string{"m1", "m2", "m3"} {
		require.NoError(t, c.AddChatMessage(ctx, &models.ChatMessage{
			ID: uuid.NewString(), SessionID: s.ID, MessageType: models.MessageUser,
			Content: text, CreatedAt: base.Add(time.Duration(i) * time.Second),
		}))
	}
	recent, err := c.GetRecentMessages(ctx, s.ID, 2)
	require.NoError(t, err)
	require.Len(t, recent, 2)
	assert.Equal(t, "m3", recent[0].Content)
	assert.Equal(t, "m2", recent[1].Content)

	all, err := c.GetAllMessages(ctx, s.ID)
	require.NoError(t, err)
	assert.Len(t, all, 3)
	assert.Equal(t, "m1", all[0].Content)

	ok, err := c.EndSession(ctx, s.ID, other.ID, base)
	require.NoError(t, err)
	assert.False(t, ok)

	ok, err = c.EndSession(ctx, s.ID, u.ID, base)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = c.EndSession(ctx, s.ID, u.ID, base.Add(time.Minute))
	require.NoError(t, err)
	assert.False(t, ok)

	sessions, err := c.ListSessionsByUser(ctx, u.ID, 10)
	require.NoError(t, err)
	require.Len(t, sessions, 1)
	assert.False(t, sessions[0].IsActive)
	require.NotNil(t, sessions[0].EndedAt)
	assert.WithinDuration(t, base, *sessions[0].EndedAt, time.Microsecond)

	err = c.AddChatMessage(ctx, &models.ChatMessage{ID: uuid.NewString(), SessionID: uuid.NewString(), MessageType: models.MessageSystem, Content: "x", CreatedAt: base})
	assert.True(t, core.IsKind(err, core.KindNotFound))
}
