package handlers

import (
	"context"
	"net/http"
	"time"

	"github.com/markdave123-py/appointly/internal/api/respond"
	"github.com/markdave123-py/appointly/internal/logging"
)

type Pinger interface {
	Ping(ctx context.Context) error
}

type HealthHandler struct {
	db      Pinger
	env     string
	started time.Time
	now     func() time.Time
}

func NewHealthHandler(db Pinger, env string) *HealthHandler {
	return &HealthHandler{db: db, env: env, started: time.Now(), now: time.Now}
}

// Health reports liveness plus database reachability. A failed ping turns
// the response into a 503 so load balancers drain the instance.
func (h *HealthHandler) Health(w http.ResponseWriter, r *http.Request) {
	now := h.now()
	status, dbState, code := "ok", "up", http.StatusOK

	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()
	if err := h.db.Ping(ctx); err != nil {
		logging.FromContext(r.Context()).Warn("health check: database unreachable", "err", err)
		status, dbState, code = "degraded", "down", http.StatusServiceUnavailable
	}

	respond.JSON(w, code, map[string]any{
		"status":      status,
		"timestamp":   now.UTC(),
		"uptime":      now.Sub(h.started).Seconds(),
		"environment": h.env,
		"database":    dbState,
	})
}

func (h *HealthHandler) Root(w http.ResponseWriter, r *http.Request) {
	respond.JSON(w, http.StatusOK, map[string]string{
		"message": "Appointly API",
		"health":  "/health",
	})
}
