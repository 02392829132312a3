package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"

	"github.com/markdave123-py/appointly/internal/core"
	"github.com/markdave123-py/appointly/internal/core/events"
	"github.com/markdave123-py/appointly/internal/models"
)

// revokedRetention is how long revoked refresh records are kept for reuse detection.
const revokedRetention = 30 * 24 * time.Hour

// AuthStore is the slice of the database the auth flows need.
type AuthStore interface {
	core.UserStore
	core.RefreshTokenStore
}

type AuthOptions struct {
	BcryptCost int
	ChatbotTTL time.Duration
}

type AuthService struct {
	store      AuthStore
	authority  *TokenAuthority
	events     core.EventPublisher
	log        *slog.Logger
	bcryptCost int
	chatbotTTL time.Duration
	now        func() time.Time

	// dummyHash keeps unknown-email logins as slow as wrong-password ones.
	dummyHash []byte
}

func NewAuthService(store AuthStore, authority *TokenAuthority, pub core.EventPublisher, log *slog.Logger, opts AuthOptions) (*AuthService, error) {
	if opts.BcryptCost == 0 {
		opts.BcryptCost = bcrypt.DefaultCost
	}
	if opts.ChatbotTTL == 0 {
		opts.ChatbotTTL = 5 * time.Minute
	}
	dummy, err := bcrypt.GenerateFromPassword([]byte("appointly-timing-equalizer"), opts.BcryptCost)
	if err != nil {
		return nil, fmt.Errorf("prepare dummy hash: %w", err)
	}
	return &AuthService{
		store:      store,
		authority:  authority,
		events:     pub,
		log:        log,
		bcryptCost: opts.BcryptCost,
		chatbotTTL: opts.ChatbotTTL,
		now:        authority.now,
		dummyHash:  dummy,
	}, nil
}

type RegisterInput struct {
	Email       string
	Password    string
	FullName    string
	PhoneNumber *string
}

// AuthResult is what login and refresh hand back to the client.
type AuthResult struct {
	User            models.PublicUser
	AccessToken     string
	RefreshToken    string
	AccessExpiresAt time.Time
}

type ChatbotToken struct {
	Token     string
	ExpiresIn int
	UserID    string
	Email     string
}

func (s *AuthService) Register(ctx context.Context, in RegisterInput) (models.PublicUser, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(in.Password), s.bcryptCost)
	if errors.Is(err, bcrypt.ErrPasswordTooLong) {
		return models.PublicUser{}, core.E(core.KindInvalidInput, "password longer than 72 bytes", err)
	}
	if err != nil {
		return models.PublicUser{}, core.E(core.KindInternal, "hash password", err)
	}

	user := &models.User{
		ID:           uuid.NewString(),
		Email:        strings.ToLower(strings.TrimSpace(in.Email)),
		PasswordHash: string(hash),
		FullName:     strings.TrimSpace(in.FullName),
		PhoneNumber:  in.PhoneNumber,
		IsActive:     true,
		CreatedAt:    s.now().UTC(),
	}
	if err := s.store.CreateUser(ctx, user); err != nil {
		if core.IsKind(err, core.KindConflict) {
			s.log.Warn("registration for existing email", "svc", "auth.register")
			return models.PublicUser{}, core.E(core.KindConflict, "email already registered", err)
		}
		s.log.Error("create user failed", "svc", "auth.register", "err", err)
		return models.PublicUser{}, err
	}

	s.publish(ctx, events.UserRegistered, events.UserRegisteredPayload{
		UserID: user.ID, Email: user.Email, At: user.CreatedAt,
	})
	return user.Public(), nil
}

// Login checks the password before the active flag, and answers unknown
// emails with the same kind as wrong passwords.
func (s *AuthService) Login(ctx context.Context, email, password string) (*AuthResult, error) {
	user, err := s.store.GetUserByEmail(ctx, email)
	if err != nil {
		if core.IsKind(err, core.KindNotFound) {
			_ = bcrypt.CompareHashAndPassword(s.dummyHash, []byte(password))
			s.log.Warn("login for unknown email", "svc", "auth.login")
			return nil, core.E(core.KindInvalidCredentials, "invalid credentials", nil)
		}
		s.log.Error("lookup user failed", "svc", "auth.login", "err", err)
		return nil, err
	}
	if err := bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(password)); err != nil {
		s.log.Warn("wrong password", "svc", "auth.login", "user_id", user.ID)
		return nil, core.E(core.KindInvalidCredentials, "invalid credentials", nil)
	}
	if !user.IsActive {
		s.log.Warn("login to inactive account", "svc", "auth.login", "user_id", user.ID)
		return nil, core.E(core.KindAccountInactive, "account inactive", nil)
	}

	now := s.now().UTC()
	if err := s.store.TouchLogin(ctx, user.ID, now); err != nil {
		s.log.Error("touch login failed", "svc", "auth.login", "user_id", user.ID, "err", err)
		return nil, err
	}
	user.LastLoginAt = &now

	access, err := s.authority.IssueAccessToken(user)
	if err != nil {
		return nil, err
	}
	refresh, err := s.authority.IssueRefreshToken(user)
	if err != nil {
		return nil, err
	}
	if err := s.store.CreateRefreshToken(ctx, s.refreshRecord(user.ID, refresh, now)); err != nil {
		s.log.Error("persist refresh token failed", "svc", "auth.login", "user_id", user.ID, "err", err)
		return nil, err
	}

	return &AuthResult{
		User:            user.Public(),
		AccessToken:     access.Token,
		RefreshToken:    refresh.Token,
		AccessExpiresAt: access.ExpiresAt,
	}, nil
}

// Refresh exchanges a live refresh token for a new access/refresh pair. The
// presented token must verify, carry the refresh purpose, and match an
// unrevoked unexpired record. Presenting a revoked token revokes every
// token of its owner.
func (s *AuthService) Refresh(ctx context.Context, raw string) (*AuthResult, error) {
	claims, err := s.authority.Verify(raw)
	if err != nil {
		return nil, err
	}
	if claims.Purpose != PurposeRefresh {
		return nil, core.E(core.KindTokenInvalid, "not a refresh token", nil)
	}

	rec, err := s.store.GetRefreshTokenByHash(ctx, HashToken(raw))
	if err != nil {
		if core.IsKind(err, core.KindNotFound) {
			return nil, core.E(core.KindTokenInvalid, "refresh token not recognised", nil)
		}
		return nil, err
	}
	if rec.UserID != claims.UserID {
		return nil, core.E(core.KindTokenInvalid, "refresh token owner mismatch", nil)
	}

	now := s.now().UTC()
	if rec.RevokedAt != nil {
		n, rerr := s.store.RevokeUserRefreshTokens(ctx, rec.UserID, now)
		if rerr != nil {
			s.log.Error("revoke after reuse failed", "svc", "auth.refresh", "user_id", rec.UserID, "err", rerr)
		}
		s.log.Warn("revoked refresh token presented", "svc", "auth.refresh", "user_id", rec.UserID, "revoked", n)
		return nil, core.E(core.KindTokenInvalid, "refresh token revoked", nil)
	}
	if !now.Before(rec.ExpiresAt) {
		return nil, core.E(core.KindTokenExpired, "refresh record expired", nil)
	}

	user, err := s.store.GetUserByID(ctx, claims.UserID)
	if err != nil {
		if core.IsKind(err, core.KindNotFound) {
			return nil, core.E(core.KindTokenInvalid, "refresh token user missing", nil)
		}
		return nil, err
	}
	if !user.IsActive {
		return nil, core.E(core.KindTokenInvalid, "refresh token user inactive", nil)
	}

	access, err := s.authority.IssueAccessToken(user)
	if err != nil {
		return nil, err
	}
	next, err := s.authority.IssueRefreshToken(user)
	if err != nil {
		return nil, err
	}
	if err := s.store.RotateRefreshToken(ctx, rec.ID, s.refreshRecord(user.ID, next, now), now); err != nil {
		if !core.IsKind(err, core.KindTokenInvalid) {
			s.log.Error("rotate refresh token failed", "svc", "auth.refresh", "user_id", user.ID, "err", err)
		}
		return nil, err
	}

	return &AuthResult{
		User:            user.Public(),
		AccessToken:     access.Token,
		RefreshToken:    next.Token,
		AccessExpiresAt: access.ExpiresAt,
	}, nil
}

// Logout revokes a single refresh token. Unknown tokens are a no-op.
func (s *AuthService) Logout(ctx context.Context, raw string) error {
	return s.store.RevokeRefreshToken(ctx, HashToken(raw), s.now().UTC())
}

// LogoutAll revokes every live refresh token of the user.
func (s *AuthService) LogoutAll(ctx context.Context, userID string) (int64, error) {
	return s.store.RevokeUserRefreshTokens(ctx, userID, s.now().UTC())
}

// CurrentUser resolves the profile behind an authenticated request.
func (s *AuthService) CurrentUser(ctx context.Context, userID string) (models.PublicUser, error) {
	user, err := s.activeUser(ctx, userID)
	if err != nil {
		return models.PublicUser{}, err
	}
	return user.Public(), nil
}

// ChatbotToken mints a short-lived access token for the embedded chat widget.
func (s *AuthService) ChatbotToken(ctx context.Context, userID string) (*ChatbotToken, error) {
	user, err := s.activeUser(ctx, userID)
	if err != nil {
		return nil, err
	}
	tok, err := s.authority.IssueAccessTokenTTL(user, s.chatbotTTL)
	if err != nil {
		return nil, err
	}
	return &ChatbotToken{
		Token:     tok.Token,
		ExpiresIn: int(s.chatbotTTL / time.Second),
		UserID:    user.ID,
		Email:     user.Email,
	}, nil
}

// PurgeStaleTokens deletes expired records and revoked ones past retention.
func (s *AuthService) PurgeStaleTokens(ctx context.Context) (int64, error) {
	now := s.now().UTC()
	return s.store.DeleteStaleRefreshTokens(ctx, now, now.Add(-revokedRetention))
}

func (s *AuthService) activeUser(ctx context.Context, userID string) (*models.User, error) {
	user, err := s.store.GetUserByID(ctx, userID)
	if err != nil {
		return nil, err
	}
	if !user.IsActive {
		return nil, core.E(core.KindNotFound, "user inactive", nil)
	}
	return user, nil
}

// The record expiry is the token's own exp so there is one lifetime to reason about.
func (s *AuthService) refreshRecord(userID string, tok IssuedToken, now time.Time) *models.RefreshToken {
	return &models.RefreshToken{
		ID:        uuid.NewString(),
		UserID:    userID,
		TokenHash: HashToken(tok.Token),
		ExpiresAt: tok.ExpiresAt,
		CreatedAt: now,
	}
}

func (s *AuthService) publish(ctx context.Context, key string, payload any) {
	if s.events == nil {
		return
	}
	if err := s.events.Publish(ctx, key, payload); err != nil {
		s.log.Warn("publish event failed", "event", key, "err", err)
	}
}
