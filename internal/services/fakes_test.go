package services

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/stretchr/testify/mock"

	"github.com/markdave123-py/appointly/internal/core"
	"github.com/markdave123-py/appointly/internal/models"
)

// memStore is an in-memory core.DbClient with the same contracts as the
// Postgres client.
type memStore struct {
	mu       sync.Mutex
	users    map[string]*models.User
	tokens   map[string]*models.RefreshToken
	sessions map[string]*models.ChatSession
	messages []storedMessage
	seq      int64
	failWith error
}

type storedMessage struct {
	seq int64
	msg models.ChatMessage
}

func newMemStore() *memStore {
	return &memStore{
		users:    map[string]*models.User{},
		tokens:   map[string]*models.RefreshToken{},
		sessions: map[string]*models.ChatSession{},
	}
}

var _ core.DbClient = (*memStore)(nil)

func (m *memStore) Ping(context.Context) error { return m.failWith }
func (m *memStore) Close() error               { return nil }

func (m *memStore) CreateUser(_ context.Context, u *models.User) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failWith != nil {
		return m.failWith
	}
	u.Email = strings.ToLower(strings.TrimSpace(u.Email))
	for _, existing := range m.users {
		if existing.Email == u.Email {
			return core.E(core.KindConflict, "create user: already exists", nil)
		}
	}
	cp := *u
	m.users[u.ID] = &cp
	return nil
}

func (m *memStore) GetUserByEmail(_ context.Context, email string) (*models.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failWith != nil {
		return nil, m.failWith
	}
	email = strings.ToLower(strings.TrimSpace(email))
	for _, u := range m.users {
		if u.Email == email {
			cp := *u
			return &cp, nil
		}
	}
	return nil, core.E(core.KindNotFound, "get user by email: not found", nil)
}

func (m *memStore) GetUserByID(_ context.Context, id string) (*models.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failWith != nil {
		return nil, m.failWith
	}
	u, ok := m.users[id]
	if !ok {
		return nil, core.E(core.KindNotFound, "get user by id: not found", nil)
	}
	cp := *u
	return &cp, nil
}

func (m *memStore) TouchLogin(_ context.Context, id string, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	u, ok := m.users[id]
	if !ok {
		return core.E(core.KindNotFound, "touch login: user not found", nil)
	}
	u.LastLoginAt = &at
	return nil
}

func (m *memStore) setActive(id string, active bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.users[id].IsActive = active
}

func (m *memStore) CreateRefreshToken(_ context.Context, t *models.RefreshToken) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.insertTokenLocked(t)
}

func (m *memStore) insertTokenLocked(t *models.RefreshToken) error {
	if _, ok := m.users[t.UserID]; !ok {
		return core.E(core.KindNotFound, "referenced record not found", nil)
	}
	for _, existing := range m.tokens {
		if existing.TokenHash == t.TokenHash {
			return core.E(core.KindConflict, "already exists", nil)
		}
	}
	cp := *t
	m.tokens[t.ID] = &cp
	return nil
}

func (m *memStore) GetRefreshTokenByHash(_ context.Context, hash string) (*models.RefreshToken, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, t := range m.tokens {
		if t.TokenHash == hash {
			cp := *t
			return &cp, nil
		}
	}
	return nil, core.E(core.KindNotFound, "get refresh token: not found", nil)
}

func (m *memStore) RotateRefreshToken(_ context.Context, oldID string, next *models.RefreshToken, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	old, ok := m.tokens[oldID]
	if !ok || old.RevokedAt != nil {
		return core.E(core.KindTokenInvalid, "refresh token already used", nil)
	}
	if err := m.insertTokenLocked(next); err != nil {
		return err
	}
	old.RevokedAt = &at
	return nil
}

func (m *memStore) RevokeRefreshToken(_ context.Context, hash string, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, t := range m.tokens {
		if t.TokenHash == hash && t.RevokedAt == nil {
			t.RevokedAt = &at
		}
	}
	return nil
}

func (m *memStore) RevokeUserRefreshTokens(_ context.Context, userID string, at time.Time) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var n int64
	for _, t := range m.tokens {
		if t.UserID == userID && t.RevokedAt == nil {
			t.RevokedAt = &at
			n++
		}
	}
	return n, nil
}

func (m *memStore) DeleteStaleRefreshTokens(_ context.Context, now, revokedBefore time.Time) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var n int64
	for id, t := range m.tokens {
		if !t.ExpiresAt.After(now) || (t.RevokedAt != nil && t.RevokedAt.Before(revokedBefore)) {
			delete(m.tokens, id)
			n++
		}
	}
	return n, nil
}

func (m *memStore) liveTokens(userID string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, t := range m.tokens {
		if t.UserID == userID && t.RevokedAt == nil {
			n++
		}
	}
	return n
}

func (m *memStore) CreateSession(_ context.Context, s *models.ChatSession) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failWith != nil {
		return m.failWith
	}
	if _, ok := m.users[s.UserID]; !ok {
		return core.E(core.KindNotFound, "referenced record not found", nil)
	}
	cp := *s
	m.sessions[s.ID] = &cp
	return nil
}

func (m *memStore) GetSession(_ context.Context, id string) (*models.ChatSession, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[id]
	if !ok {
		return nil, core.E(core.KindNotFound, "get session: not found", nil)
	}
	cp := *s
	return &cp, nil
}

func (m *memStore) ListSessionsByUser(_ context.Context, userID string, limit int) ([]models.ChatSession, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := []models.ChatSession{}
	for _, s := range m.sessions {
		if s.UserID == userID {
			out = append(out, *s)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].StartedAt.After(out[j].StartedAt) })
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (m *memStore) EndSession(_ context.Context, id, userID string, at time.Time) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[id]
	if !ok || s.UserID != userID || !s.IsActive {
		return false, nil
	}
	s.IsActive = false
	s.EndedAt = &at
	return true, nil
}

func (m *memStore) AddChatMessage(_ context.Context, msg *models.ChatMessage) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failWith != nil {
		return m.failWith
	}
	if _, ok := m.sessions[msg.SessionID]; !ok {
		return core.E(core.KindNotFound, "referenced record not found", nil)
	}
	m.seq++
	m.messages = append(m.messages, storedMessage{seq: m.seq, msg: *msg})
	return nil
}

func (m *memStore) GetRecentMessages(_ context.Context, sessionID string, limit int) ([]models.ChatMessage, error) {
	all := m.ordered(sessionID)
	out := make([]models.ChatMessage, 0, limit)
	for i := len(all) - 1; i >= 0 && len(out) < limit; i-- {
		out = append(out, all[i])
	}
	return out, nil
}

func (m *memStore) GetAllMessages(_ context.Context, sessionID string) ([]models.ChatMessage, error) {
	return m.ordered(sessionID), nil
}

// ordered returns a session's messages by created_at then insertion order.
func (m *memStore) ordered(sessionID string) []models.ChatMessage {
	m.mu.Lock()
	defer m.mu.Unlock()
	var rows []storedMessage
	for _, sm := range m.messages {
		if sm.msg.SessionID == sessionID {
			rows = append(rows, sm)
		}
	}
	sort.SliceStable(rows, func(i, j int) bool {
		if !rows[i].msg.CreatedAt.Equal(rows[j].msg.CreatedAt) {
			return rows[i].msg.CreatedAt.Before(rows[j].msg.CreatedAt)
		}
		return rows[i].seq < rows[j].seq
	})
	out := make([]models.ChatMessage, len(rows))
	for i, r := range rows {
		out[i] = r.msg
	}
	return out
}

type mockAssistant struct {
	mock.Mock
}

func (m *mockAssistant) Reply(ctx context.Context, req core.AssistantRequest) (string, error) {
	args := m.Called(ctx, req)
	return args.String(0), args.Error(1)
}

type mockPublisher struct {
	mock.Mock
}

func (m *mockPublisher) Publish(ctx context.Context, key string, payload any) error {
	return m.Called(ctx, key, payload).Error(0)
}

func (m *mockPublisher) Close() error { return nil }

type recordingQueue struct {
	mu   sync.Mutex
	jobs [][2]string
	full bool
}

func (q *recordingQueue) Enqueue(sessionID, userID string) bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.full {
		return false
	}
	q.jobs = append(q.jobs, [2]string{sessionID, userID})
	return true
}

// fakeClock advances only when told to.
type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{t: time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = c.t.Add(d)
}
