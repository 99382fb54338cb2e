package handlers

import (
	"net/http"

	"github.com/rs/zerolog"

	"github.com/dvloznov/finsync/internal/api/middleware"
	"github.com/dvloznov/finsync/internal/snapshot"
)

// SnapshotsHandler handles snapshot endpoints.
type SnapshotsHandler struct {
	svc *snapshot.Service
	log zerolog.Logger
}

// NewSnapshotsHandler creates a new snapshots handler.
func NewSnapshotsHandler(svc *snapshot.Service, log zerolog.Logger) *SnapshotsHandler {
	return &SnapshotsHandler{svc: svc, log: log}
}

// CreateSnapshot handles POST /api/snapshots
func (h *SnapshotsHandler) CreateSnapshot(w http.ResponseWriter, r *http.Request) {
	m, err := h.svc.Create(r.Context())
	if err != nil {
		h.log.Error().Err(err).Msg("Failed to create snapshot")
		middleware.WriteError(w, http.StatusInternalServerError, "Failed to create snapshot")
		return
	}
	middleware.WriteJSON(w, http.StatusCreated, m)
}

// ListSnapshots handles GET /api/snapshots
func (h *SnapshotsHandler) ListSnapshots(w http.ResponseWriter, r *http.Request) {
	list, err := h.svc.List()
	if err != nil {
		h.log.Error().Err(err).Msg("Failed to list snapshots")
		middleware.WriteError(w, http.StatusInternalServerError, "Failed to list snapshots")
		return
	}
	middleware.WriteJSON(w, http.StatusOK, map[string]interface{}{
		"snapshots": list,
		"count":     len(list),
	})
}
