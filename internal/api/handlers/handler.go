package handlers

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"github.com/markdave123-py/appointly/internal/api/respond"
	"github.com/markdave123-py/appointly/internal/api/validate"
	"github.com/markdave123-py/appointly/internal/core"
	"github.com/markdave123-py/appointly/internal/logging"
)

const maxBodyBytes = 1 << 20

// decodeAndValidate reads a JSON body into dst and runs its validate tags.
// It writes the 400 itself and reports false on failure.
func decodeAndValidate(w http.ResponseWriter, r *http.Request, dst any) bool {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil && !errors.Is(err, io.EOF) {
		respond.BadRequest(w, "invalid request body")
		return false
	}
	if details := validate.Struct(dst); len(details) > 0 {
		respond.ValidationFailed(w, details)
		return false
	}
	return true
}

// writeError logs by severity and renders the error for the client.
func writeError(w http.ResponseWriter, r *http.Request, err error, dev bool) {
	l := logging.FromContext(r.Context())
	switch core.KindOf(err) {
	case core.KindInternal, core.KindUnavailable:
		l.Error("request failed", "path", r.URL.Path, "kind", core.KindOf(err).String(), "err", err)
	default:
		l.Debug("request rejected", "path", r.URL.Path, "kind", core.KindOf(err).String())
	}
	respond.Error(w, err, dev)
}
