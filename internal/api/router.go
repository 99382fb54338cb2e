// Package api exposes the synchronizer and snapshots over HTTP.
package api

import (
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/dvloznov/finsync/internal/api/handlers"
	"github.com/dvloznov/finsync/internal/api/middleware"
	"github.com/dvloznov/finsync/internal/domain"
	"github.com/dvloznov/finsync/internal/metrics"
	"github.com/dvloznov/finsync/internal/snapshot"
	"github.com/dvloznov/finsync/internal/syncer"
)

// NewHandler builds the routed, middleware-wrapped HTTP handler.
func NewHandler(s *syncer.Synchronizer, snaps *snapshot.Service, log zerolog.Logger) http.Handler {
	collections := handlers.NewCollectionsHandler(s, log)
	snapshots := handlers.NewSnapshotsHandler(snaps, log)

	mux := http.NewServeMux()

	// Collection endpoints
	mux.HandleFunc("/api/collections/", func(w http.ResponseWriter, r *http.Request) {
		parts := strings.Split(strings.Trim(strings.TrimPrefix(r.URL.Path, "/api/collections/"), "/"), "/")
		if parts[0] == "" {
			middleware.WriteError(w, http.StatusBadRequest, "Kind is required")
			return
		}
		kind, err := domain.ParseKind(parts[0])
		if err != nil {
			middleware.WriteError(w, http.StatusNotFound, "Unknown kind")
			return
		}

		switch {
		case len(parts) == 1:
			switch r.Method {
			case http.MethodGet:
				collections.ListCollection(w, r, kind)
			case http.MethodPut:
				collections.ReplaceCollection(w, r, kind)
			case http.MethodPost:
				collections.AddRecord(w, r, kind)
			default:
				middleware.WriteError(w, http.StatusMethodNotAllowed, "Method not allowed")
			}
		case len(parts) == 2 && parts[1] == "recover" && r.Method == http.MethodPost:
			collections.RecoverCollection(w, r, kind)
		case len(parts) == 2 && parts[1] == "state" && r.Method == http.MethodGet:
			collections.State(w, r, kind)
		case len(parts) == 2 && r.Method == http.MethodDelete:
			collections.DeleteRecord(w, r, kind, parts[1])
		case len(parts) == 2:
			middleware.WriteError(w, http.StatusMethodNotAllowed, "Method not allowed")
		default:
			middleware.WriteError(w, http.StatusNotFound, "Not found")
		}
	})

	// Snapshot endpoints
	mux.HandleFunc("/api/snapshots", func(w http.ResponseWriter, r *http.Request) {
		switch r.Method {
		case http.MethodGet:
			snapshots.ListSnapshots(w, r)
		case http.MethodPost:
			snapshots.CreateSnapshot(w, r)
		default:
			middleware.WriteError(w, http.StatusMethodNotAllowed, "Method not allowed")
		}
	})

	mux.HandleFunc("/api/kinds", func(w http.ResponseWriter, r *http.Request) {
		middleware.WriteJSON(w, http.StatusOK, map[string]interface{}{"kinds": domain.Kinds})
	})

	mux.Handle("/metrics", metrics.Handler())

	// Health check endpoint
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		middleware.WriteJSON(w, http.StatusOK, map[string]string{
			"status": "healthy",
			"time":   time.Now().Format(time.RFC3339),
		})
	})

	return middleware.Chain(mux,
		middleware.Recovery(log),
		middleware.RequestID,
		middleware.Principal,
		middleware.Logger(log),
		middleware.CORS,
	)
}
