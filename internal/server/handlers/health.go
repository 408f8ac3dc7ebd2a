package handlers

import (
	"net/http"
	"time"

	"feedflow/internal/core"
)

// HealthHandler serves the liveness endpoint
type HealthHandler struct {
	logger   *core.Logger
	registry *core.Registry
	db       *core.Database
}

func NewHealthHandler(logger *core.Logger, registry *core.Registry, db *core.Database) *HealthHandler {
	return &HealthHandler{
		logger:   logger,
		registry: registry,
		db:       db,
	}
}

// HealthResponse is the body of GET /health
type HealthResponse struct {
	Status   string                        `json:"status"`
	Service  string                        `json:"service"`
	Version  string                        `json:"version"`
	Database string                        `json:"database"`
	Features map[string]core.FeatureStatus `json:"features"`
}

// HealthCheckHandler provides a health check endpoint
func (h *HealthHandler) HealthCheckHandler(w http.ResponseWriter, r *http.Request) {
	resp := HealthResponse{
		Status:   "ok",
		Service:  "feedflow",
		Version:  "1.0.0",
		Database: "ok",
		Features: h.registry.GetFeatureStatus(),
	}

	status := http.StatusOK
	if err := h.db.PingWithTimeout(2 * time.Second); err != nil {
		h.logger.WithContext(r.Context()).Error("Database ping failed", "error", err)
		resp.Status = "degraded"
		resp.Database = "unavailable"
		status = http.StatusServiceUnavailable
	}

	core.WriteJSON(w, status, resp)
}
