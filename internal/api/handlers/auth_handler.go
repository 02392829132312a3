package handlers

import (
	"context"
	"net/http"
	"strings"

	middleware "github.com/markdave123-py/appointly/internal/api/middlewares"
	"github.com/markdave123-py/appointly/internal/api/respond"
	"github.com/markdave123-py/appointly/internal/models"
	"github.com/markdave123-py/appointly/internal/services"
)

// AuthAPI is the slice of services.AuthService the auth routes use.
type AuthAPI interface {
	Register(ctx context.Context, in services.RegisterInput) (models.PublicUser, error)
	Login(ctx context.Context, email, password string) (*services.AuthResult, error)
	Refresh(ctx context.Context, raw string) (*services.AuthResult, error)
	Logout(ctx context.Context, raw string) error
	LogoutAll(ctx context.Context, userID string) (int64, error)
	CurrentUser(ctx context.Context, userID string) (models.PublicUser, error)
}

type AuthHandler struct {
	auth AuthAPI
	dev  bool
}

func NewAuthHandler(auth AuthAPI, dev bool) *AuthHandler {
	return &AuthHandler{auth: auth, dev: dev}
}

type registerRequest struct {
	Email       string  `json:"email" validate:"required,email"`
	Password    string  `json:"password" validate:"required,min=8,max=72,bcryptmax"`
	FullName    string  `json:"fullName" validate:"required,max=200"`
	PhoneNumber *string `json:"phoneNumber" validate:"omitempty,max=32"`
}

type loginRequest struct {
	Email    string `json:"email" validate:"required,email"`
	Password string `json:"password" validate:"required"`
}

type refreshRequest struct {
	RefreshToken string `json:"refreshToken" validate:"required"`
}

type tokenResponse struct {
	Message      string            `json:"message"`
	User         models.PublicUser `json:"user"`
	AccessToken  string            `json:"accessToken"`
	RefreshToken string            `json:"refreshToken"`
}

func (h *AuthHandler) Register(w http.ResponseWriter, r *http.Request) {
	var req registerRequest
	if !decodeAndValidate(w, r, &req) {
		return
	}
	if strings.TrimSpace(req.FullName) == "" {
		respond.ValidationFailed(w, []respond.FieldError{{Field: "fullName", Message: "is required"}})
		return
	}
	if req.PhoneNumber != nil {
		trimmed := strings.TrimSpace(*req.PhoneNumber)
		if trimmed == "" {
			req.PhoneNumber = nil
		} else {
			req.PhoneNumber = &trimmed
		}
	}

	user, err := h.auth.Register(r.Context(), services.RegisterInput{
		Email:       req.Email,
		Password:    req.Password,
		FullName:    req.FullName,
		PhoneNumber: req.PhoneNumber,
	})
	if err != nil {
		writeError(w, r, err, h.dev)
		return
	}
	respond.JSON(w, http.StatusCreated, map[string]any{
		"message": "User registered successfully",
		"user":    user,
	})
}

func (h *AuthHandler) Login(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if !decodeAndValidate(w, r, &req) {
		return
	}
	res, err := h.auth.Login(r.Context(), req.Email, req.Password)
	if err != nil {
		writeError(w, r, err, h.dev)
		return
	}
	respond.JSON(w, http.StatusOK, tokenResponse{
		Message:      "Login successful",
		User:         res.User,
		AccessToken:  res.AccessToken,
		RefreshToken: res.RefreshToken,
	})
}

func (h *AuthHandler) Refresh(w http.ResponseWriter, r *http.Request) {
	var req refreshRequest
	if !decodeAndValidate(w, r, &req) {
		return
	}
	res, err := h.auth.Refresh(r.Context(), req.RefreshToken)
	if err != nil {
		writeError(w, r, err, h.dev)
		return
	}
	respond.JSON(w, http.StatusOK, tokenResponse{
		Message:      "Token refreshed",
		User:         res.User,
		AccessToken:  res.AccessToken,
		RefreshToken: res.RefreshToken,
	})
}

func (h *AuthHandler) Logout(w http.ResponseWriter, r *http.Request) {
	var req refreshRequest
	if !decodeAndValidate(w, r, &req) {
		return
	}
	if err := h.auth.Logout(r.Context(), req.RefreshToken); err != nil {
		writeError(w, r, err, h.dev)
		return
	}
	respond.JSON(w, http.StatusOK, map[string]string{"message": "Logged out"})
}

func (h *AuthHandler) LogoutAll(w http.ResponseWriter, r *http.Request) {
	userID, ok := middleware.UserIDFromContext(r.Context())
	if !ok {
		respond.Unauthenticated(w)
		return
	}
	n, err := h.auth.LogoutAll(r.Context(), userID)
	if err != nil {
		writeError(w, r, err, h.dev)
		return
	}
	respond.JSON(w, http.StatusOK, map[string]any{"message": "Logged out everywhere", "revoked": n})
}

func (h *AuthHandler) Me(w http.ResponseWriter, r *http.Request) {
	userID, ok := middleware.UserIDFromContext(r.Context())
	if !ok {
		respond.Unauthenticated(w)
		return
	}
	user, err := h.auth.CurrentUser(r.Context(), userID)
	if err != nil {
		writeError(w, r, err, h.dev)
		return
	}
	respond.JSON(w, http.StatusOK, map[string]any{"user": user})
}
