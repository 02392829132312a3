package respond

import (
	"encoding/json"
	"net/http"

	"github.com/markdave123-py/appointly/internal/core"
)

// External messages. Credential and token failures collapse into one text
// each so callers cannot tell which check failed.
const (
	MsgInvalidCredentials = "invalid email or password"
	MsgInvalidToken       = "invalid or expired token"
	MsgValidation         = "validation failed"
)

type errorBody struct {
	Error  string `json:"error"`
	Detail string `json:"detail,omitempty"`
}

type FieldError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

type validationBody struct {
	Error   string       `json:"error"`
	Details []FieldError `json:"details"`
}

func JSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// Status maps an error kind to the HTTP status and public message.
func Status(kind core.Kind) (int, string) {
	switch kind {
	case core.KindConflict:
		return http.StatusConflict, "resource already exists"
	case core.KindInvalidCredentials, core.KindAccountInactive:
		return http.StatusUnauthorized, MsgInvalidCredentials
	case core.KindTokenInvalid, core.KindTokenExpired, core.KindUnauthenticated:
		return http.StatusUnauthorized, MsgInvalidToken
	case core.KindNotFound:
		return http.StatusNotFound, "not found"
	case core.KindInvalidInput:
		return http.StatusBadRequest, MsgValidation
	case core.KindUnavailable:
		return http.StatusServiceUnavailable, "service temporarily unavailable"
	default:
		return http.StatusInternalServerError, "internal server error"
	}
}

// Error writes err as {"error", "detail"}. detail is only filled when dev is set.
func Error(w http.ResponseWriter, err error, dev bool) {
	status, msg := Status(core.KindOf(err))
	body := errorBody{Error: msg}
	if dev && err != nil {
		body.Detail = err.Error()
	}
	JSON(w, status, body)
}

func Unauthenticated(w http.ResponseWriter) {
	JSON(w, http.StatusUnauthorized, errorBody{Error: MsgInvalidToken})
}

func BadRequest(w http.ResponseWriter, msg string) {
	JSON(w, http.StatusBadRequest, errorBody{Error: msg})
}

func ValidationFailed(w http.ResponseWriter, details []FieldError) {
	JSON(w, http.StatusBadRequest, validationBody{Error: MsgValidation, Details: details})
}
