package middleware

import (
	"context"
	"net/http"
	"strings"

	"github.com/markdave123-py/appointly/internal/api/respond"
	"github.com/markdave123-py/appointly/internal/logging"
	"github.com/markdave123-py/appointly/internal/services"
)

type ctxKey int

const (
	userIDKey ctxKey = iota
	emailKey
)

// TokenVerifier checks an access token and returns its claims.
type TokenVerifier interface {
	VerifyAccess(raw string) (*services.Claims, error)
}

// RequireAuth validates the bearer token and attaches the user id and email
// to the request context. Every failure is the same 401.
func RequireAuth(v TokenVerifier) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			raw, ok := bearerToken(r)
			if !ok {
				respond.Unauthenticated(w)
				return
			}
			claims, err := v.VerifyAccess(raw)
			if err != nil {
				logging.FromContext(r.Context()).Debug("rejected bearer token", "err", err)
				respond.Unauthenticated(w)
				return
			}
			next.ServeHTTP(w, r.WithContext(withIdentity(r.Context(), claims)))
		})
	}
}

// OptionalAuth attaches the identity when a valid token is present and
// silently proceeds anonymously otherwise.
func OptionalAuth(v TokenVerifier) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if raw, ok := bearerToken(r); ok {
				if claims, err := v.VerifyAccess(raw); err == nil {
					r = r.WithContext(withIdentity(r.Context(), claims))
				}
			}
			next.ServeHTTP(w, r)
		})
	}
}

func bearerToken(r *http.Request) (string, bool) {
	auth := r.Header.Get("Authorization")
	scheme, token, found := strings.Cut(auth, " ")
	if !found || !strings.EqualFold(scheme, "Bearer") {
		return "", false
	}
	token = strings.TrimSpace(token)
	return token, token != ""
}

func withIdentity(ctx context.Context, c *services.Claims) context.Context {
	ctx = context.WithValue(ctx, userIDKey, c.UserID)
	ctx = context.WithValue(ctx, emailKey, c.Email)
	return logging.IntoContext(ctx, logging.FromContext(ctx).With("user_id", c.UserID))
}

// UserIDFromContext returns the authenticated user id, if any.
func UserIDFromContext(ctx context.Context) (string, bool) {
	id, ok := ctx.Value(userIDKey).(string)
	return id, ok && id != ""
}

func EmailFromContext(ctx context.Context) string {
	email, _ := ctx.Value(emailKey).(string)
	return email
}
