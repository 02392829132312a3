package services

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"github.com/markdave123-py/appointly/internal/core"
	"github.com/markdave123-py/appointly/internal/logging"
	"github.com/markdave123-py/appointly/internal/models"
)

type chatFixture struct {
	store     *memStore
	clock     *fakeClock
	assistant *mockAssistant
	sessions  *SessionService
	messages  *MessageService
	chat      *ChatService
}

func newChatFixture(t *testing.T, window int) *chatFixture {
	t.Helper()
	f := &chatFixture{store: newMemStore(), clock: newFakeClock(), assistant: &mockAssistant{}}
	seedUser(t, f.store, "alice")
	seedUser(t, f.store, "bob")
	f.sessions = NewSessionService(f.store, nil, nil, logging.Discard())
	f.sessions.now = f.clock.Now
	f.messages = NewMessageService(f.store)
	f.messages.now = func() time.Time {
		f.clock.Advance(time.Millisecond)
		return f.clock.Now()
	}
	f.chat = NewChatService(f.sessions, f.messages, f.assistant, window, logging.Discard())
	return f
}

func TestSendMessageRecordsBothTurns(t *testing.T) {
	f := newChatFixture(t, 10)
	ctx := context.Background()
	s, err := f.chat.CreateSession(ctx, "alice")
	require.NoError(t, err)

	f.assistant.On("Reply", mock.Anything, mock.MatchedBy(func(r core.AssistantRequest) bool {
		return r.SessionID == s.ID && r.UserID == "alice" && r.Message == "book a haircut" && len(r.History) == 0
	})).Return("Sure, which day?", nil).Once()

	res, err := f.chat.SendMessage(ctx, "alice", s.ID, "book a haircut")
	require.NoError(t, err)
	assert.Equal(t, s.ID, res.SessionID)
	assert.Equal(t, "Sure, which day?", res.Response)
	assert.False(t, res.Timestamp.IsZero())

	history, err := f.chat.History(ctx, "alice", s.ID, 50)
	require.NoError(t, err)
	require.Len(t, history, 2)
	assert.Equal(t, models.MessageUser, history[0].MessageType)
	assert.Equal(t, models.MessageAssistant, history[1].MessageType)
	f.assistant.AssertExpectations(t)
}

func TestSendMessagePassesHistoryWindow(t *testing.T) {
	f := newChatFixture(t, 2)
	ctx := context.Background()
	s, err := f.chat.CreateSession(ctx, "alice")
	require.NoError(t, err)

	f.assistant.On("Reply", mock.Anything, mock.MatchedBy(func(r core.AssistantRequest) bool {
		return r.Message == "first"
	})).Return("one", nil).Once()
	f.assistant.On("Reply", mock.Anything, mock.MatchedBy(func(r core.AssistantRequest) bool {
		return r.Message == "second" && len(r.History) == 2 &&
			r.History[0].Content == "first" && r.History[1].Content == "one"
	})).Return("two", nil).Once()

	_, err = f.chat.SendMessage(ctx, "alice", s.ID, "first")
	require.NoError(t, err)
	_, err = f.chat.SendMessage(ctx, "alice", s.ID, "second")
	require.NoError(t, err)
	f.assistant.AssertExpectations(t)
}

func TestSendMessageStartsSession(t *testing.T) {
	f := newChatFixture(t, 10)
	ctx := context.Background()
	f.assistant.On("Reply", mock.Anything, mock.Anything).Return("hello", nil)

	res, err := f.chat.SendMessage(ctx, "alice", "", "hi")
	require.NoError(t, err)
	require.NotEmpty(t, res.SessionID)

	sessions, err := f.chat.ListSessions(ctx, "alice")
	require.NoError(t, err)
	require.Len(t, sessions, 1)
	assert.Equal(t, res.SessionID, sessions[0].ID)
	assert.True(t, sessions[0].IsActive)
}

func TestSendMessageAssistantFailure(t *testing.T) {
	f := newChatFixture(t, 10)
	ctx := context.Background()
	s, err := f.chat.CreateSession(ctx, "alice")
	require.NoError(t, err)
	f.assistant.On("Reply", mock.Anything, mock.Anything).Return("", errors.New("upstream 502"))

	_, err = f.chat.SendMessage(ctx, "alice", s.ID, "hi")
	assert.True(t, core.IsKind(err, core.KindUnavailable))

	history, err := f.chat.History(ctx, "alice", s.ID, 50)
	require.NoError(t, err)
	require.Len(t, history, 2)
	assert.Equal(t, "hi", history[0].Content)
	assert.Equal(t, models.MessageSystem, history[1].MessageType)
	assert.Equal(t, AssistantUnavailableNotice, history[1].Content)
}

func TestSendMessageSessionRules(t *testing.T) {
	f := newChatFixture(t, 10)
	ctx := context.Background()
	s, err := f.chat.CreateSession(ctx, "alice")
	require.NoError(t, err)

	_, err = f.chat.SendMessage(ctx, "bob", s.ID, "hi")
	assert.True(t, core.IsKind(err, core.KindNotFound))

	require.NoError(t, f.chat.EndSession(ctx, "alice", s.ID))
	_, err = f.chat.SendMessage(ctx, "alice", s.ID, "hi")
	assert.True(t, core.IsKind(err, core.KindConflict))

	f.assistant.AssertNotCalled(t, "Reply", mock.Anything, mock.Anything)
}

func TestHistoryOwnership(t *testing.T) {
	f := newChatFixture(t, 10)
	ctx := context.Background()
	s, err := f.chat.CreateSession(ctx, "alice")
	require.NoError(t, err)

	_, err = f.chat.History(ctx, "bob", s.ID, 10)
	assert.True(t, core.IsKind(err, core.KindNotFound))
}

// Register, log in, chat twice, read history, end, list.
func TestConversationScenario(t *testing.T) {
	store := newMemStore()
	clock := newFakeClock()
	authority := NewTokenAuthority("scenario-secret", 15*time.Minute, 7*24*time.Hour, WithClock(clock.Now))
	auth, err := NewAuthService(store, authority, nil, logging.Discard(), AuthOptions{BcryptCost: bcrypt.MinCost})
	require.NoError(t, err)
	sessions := NewSessionService(store, nil, nil, logging.Discard())
	sessions.now = clock.Now
	messages := NewMessageService(store)
	messages.now = func() time.Time {
		clock.Advance(time.Second)
		return clock.Now()
	}
	assistant := &mockAssistant{}
	assistant.On("Reply", mock.Anything, mock.Anything).Return("ok", nil)
	chat := NewChatService(sessions, messages, assistant, 10, logging.Discard())
	ctx := context.Background()

	_, err = auth.Register(ctx, RegisterInput{Email: "alice@example.com", Password: "password123", FullName: "Alice"})
	require.NoError(t, err)
	login, err := auth.Login(ctx, "alice@example.com", "password123")
	require.NoError(t, err)
	require.NotEmpty(t, login.AccessToken)
	require.NotEmpty(t, login.RefreshToken)

	claims, err := authority.VerifyAccess(login.AccessToken)
	require.NoError(t, err)
	userID := claims.UserID

	s, err := chat.CreateSession(ctx, userID)
	require.NoError(t, err)

	res, err := chat.SendMessage(ctx, userID, s.ID, "first")
	require.NoError(t, err)
	assert.Equal(t, s.ID, res.SessionID)
	_, err = chat.SendMessage(ctx, userID, s.ID, "second")
	require.NoError(t, err)

	history, err := chat.History(ctx, userID, s.ID, 50)
	require.NoError(t, err)
	require.Len(t, history, 4)
	wantTypes := []models.MessageType{models.MessageUser, models.MessageAssistant, models.MessageUser, models.MessageAssistant}
	wantText := []string{"first", "ok", "second", "ok"}
	for i, m := range history {
		assert.Equal(t, wantTypes[i], m.MessageType, "message %d", i)
		assert.Equal(t, wantText[i], m.Content, "message %d", i)
	}
	assistant.AssertNumberOfCalls(t, "Reply", 2)

	require.NoError(t, chat.EndSession(ctx, userID, s.ID))

	list, err := chat.ListSessions(ctx, userID)
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.False(t, list[0].IsActive)
	assert.NotNil(t, list[0].EndedAt)
}
