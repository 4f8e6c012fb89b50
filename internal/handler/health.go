package handler

import (
	"context"
	"net/http"
	"time"

	"github.com/zhouzirui/tao-chat/backend/internal/service/presence"
	"github.com/zhouzirui/tao-chat/backend/pkg/utils"
)

// Pinger is satisfied by *pgxpool.Pool.
type Pinger interface {
	Ping(ctx context.Context) error
}

// HealthHandler serves liveness and readiness probes.
type HealthHandler struct {
	stats func() presence.Stats
	db    Pinger
}

// NewHealthHandler creates a health handler. db may be nil when the service
// runs on the in-memory stores.
func NewHealthHandler(stats func() presence.Stats, db Pinger) *HealthHandler {
	return &HealthHandler{stats: stats, db: db}
}

func (h *HealthHandler) Health(w http.ResponseWriter, r *http.Request) {
	stats := h.stats()
	utils.RespondJSON(w, http.StatusOK, map[string]any{
		"status":      "ok",
		"connections": stats.Connections,
		"online":      stats.Online,
	})
}

func (h *HealthHandler) Ready(w http.ResponseWriter, r *http.Request) {
	if h.db == nil {
		utils.RespondJSON(w, http.StatusOK, map[string]string{"status": "ready", "storage": "memory"})
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	if err := h.db.Ping(ctx); err != nil {
		utils.RespondJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "not ready", "error": "database unreachable"})
		return
	}

	utils.RespondJSON(w, http.StatusOK, map[string]string{"status": "ready", "storage": "postgres"})
}
