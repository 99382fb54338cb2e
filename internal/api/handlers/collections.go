package handlers

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/rs/zerolog"

	"github.com/dvloznov/finsync/internal/api/middleware"
	"github.com/dvloznov/finsync/internal/domain"
	"github.com/dvloznov/finsync/internal/syncer"
)

// CollectionsHandler handles collection endpoints.
type CollectionsHandler struct {
	sync *syncer.Synchronizer
	log  zerolog.Logger
}

// NewCollectionsHandler creates a new collections handler.
func NewCollectionsHandler(s *syncer.Synchronizer, log zerolog.Logger) *CollectionsHandler {
	return &CollectionsHandler{sync: s, log: log}
}

type collectionResponse struct {
	Kind    domain.Kind       `json:"kind"`
	Records domain.Collection `json:"records"`
	Count   int               `json:"count"`
}

// ListCollection handles GET /api/collections/{kind}
func (h *CollectionsHandler) ListCollection(w http.ResponseWriter, r *http.Request, kind domain.Kind) {
	records, err := h.sync.Load(r.Context(), kind)
	if err != nil {
		h.writeSyncError(w, err)
		return
	}
	middleware.WriteJSON(w, http.StatusOK, collectionResponse{Kind: kind, Records: records, Count: len(records)})
}

// ReplaceCollection handles PUT /api/collections/{kind}
func (h *CollectionsHandler) ReplaceCollection(w http.ResponseWriter, r *http.Request, kind domain.Kind) {
	var records domain.Collection
	if err := json.NewDecoder(r.Body).Decode(&records); err != nil {
		middleware.WriteError(w, http.StatusBadRequest, "Invalid request body: expected an array of records")
		return
	}
	if records == nil {
		records = domain.Collection{}
	}

	res, err := h.sync.Save(r.Context(), kind, records)
	if err != nil {
		h.writeSyncError(w, err)
		return
	}
	middleware.WriteJSON(w, http.StatusOK, res)
}

// AddRecord handles POST /api/collections/{kind}
func (h *CollectionsHandler) AddRecord(w http.ResponseWriter, r *http.Request, kind domain.Kind) {
	var rec domain.Record
	if err := json.NewDecoder(r.Body).Decode(&rec); err != nil || rec == nil {
		middleware.WriteError(w, http.StatusBadRequest, "Invalid request body: expected a record object")
		return
	}

	res, err := h.sync.Add(r.Context(), kind, rec)
	if err != nil {
		h.writeSyncError(w, err)
		return
	}
	middleware.WriteJSON(w, http.StatusCreated, res)
}

// DeleteRecord handles DELETE /api/collections/{kind}/{id}
func (h *CollectionsHandler) DeleteRecord(w http.ResponseWriter, r *http.Request, kind domain.Kind, id string) {
	res, err := h.sync.Delete(r.Context(), kind, id)
	if err != nil {
		h.writeSyncError(w, err)
		return
	}
	middleware.WriteJSON(w, http.StatusOK, res)
}

// RecoverCollection handles POST /api/collections/{kind}/recover
func (h *CollectionsHandler) RecoverCollection(w http.ResponseWriter, r *http.Request, kind domain.Kind) {
	records, ok := h.sync.Recover(r.Context(), kind)
	if !ok {
		middleware.WriteError(w, http.StatusNotFound, "Nothing to recover")
		return
	}
	middleware.WriteJSON(w, http.StatusOK, collectionResponse{Kind: kind, Records: records, Count: len(records)})
}

// State handles GET /api/collections/{kind}/state
func (h *CollectionsHandler) State(w http.ResponseWriter, r *http.Request, kind domain.Kind) {
	middleware.WriteJSON(w, http.StatusOK, h.sync.State(r.Context(), kind))
}

func (h *CollectionsHandler) writeSyncError(w http.ResponseWriter, err error) {
	var verr *domain.ValidationError
	switch {
	case errors.As(err, &verr) && verr.Duplicate:
		middleware.WriteJSON(w, http.StatusConflict, map[string]interface{}{
			"error": verr.Error(),
			"index": verr.Index,
			"id":    verr.RecordID,
		})
	case errors.As(err, &verr):
		middleware.WriteJSON(w, http.StatusUnprocessableEntity, map[string]interface{}{
			"error":   verr.Error(),
			"index":   verr.Index,
			"missing": verr.Missing,
		})
	case errors.Is(err, domain.ErrUnknownKind):
		middleware.WriteError(w, http.StatusNotFound, "Unknown kind")
	case errors.Is(err, domain.ErrRecordNotFound):
		middleware.WriteError(w, http.StatusNotFound, "Record not found")
	default:
		h.log.Error().Err(err).Msg("Collection operation failed")
		middleware.WriteError(w, http.StatusInternalServerError, "Internal server error")
	}
}
