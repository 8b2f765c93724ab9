package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/unklstewy/skyplot/internal/buffer"
	"github.com/unklstewy/skyplot/internal/db"
	"github.com/unklstewy/skyplot/internal/ingest"
	"github.com/unklstewy/skyplot/pkg/flights"
	"github.com/unklstewy/skyplot/pkg/logger"
)

// Handler contains the HTTP handlers
type Handler struct {
	deps   Deps
	logger *logger.Logger
}

// NewHandler creates a new handler
func NewHandler(deps Deps, log *logger.Logger) *Handler {
	return &Handler{
		deps:   deps,
		logger: log.Named("api-handler"),
	}
}

// TableResponse is the renderer payload for one snapshot.
type TableResponse struct {
	Type        string              `json:"type,omitempty"`
	Cycle       uint64              `json:"cycle"`
	FetchedAt   *time.Time          `json:"fetched_at,omitempty"`
	PublishedAt *time.Time          `json:"published_at,omitempty"`
	Count       int                 `json:"count"`
	ColumnOrder []string            `json:"column_order"`
	Columns     flights.ColumnTable `json:"columns"`
}

// NewTableResponse renders a snapshot.
func NewTableResponse(s *buffer.Snapshot) TableResponse {
	resp := TableResponse{
		Cycle:       s.Cycle,
		Count:       s.Len(),
		ColumnOrder: flights.Columns(),
		Columns:     s.Table(),
	}
	if !s.FetchedAt.IsZero() {
		t := s.FetchedAt.UTC()
		resp.FetchedAt = &t
	}
	if !s.PublishedAt.IsZero() {
		t := s.PublishedAt.UTC()
		resp.PublishedAt = &t
	}
	return resp
}

// GetAircraft returns the current buffer as a column table, or with
// ?format=rows as typed rows with nulls for missing values.
func (h *Handler) GetAircraft(w http.ResponseWriter, r *http.Request) {
	snap := h.deps.Buffer.Snapshot()

	switch r.URL.Query().Get("format") {
	case "", "columns":
		respondJSON(w, http.StatusOK, NewTableResponse(snap))
	case "rows":
		respondJSON(w, http.StatusOK, map[string]interface{}{
			"cycle": snap.Cycle,
			"count": snap.Len(),
			"rows":  snap.Rows,
		})
	default:
		respondError(w, http.StatusBadRequest, "format must be columns or rows")
	}
}

// GetAircraftByICAO returns one aircraft as rendered cells.
func (h *Handler) GetAircraftByICAO(w http.ResponseWriter, r *http.Request) {
	icao := strings.ToLower(chi.URLParam(r, "icao24"))

	row, ok := h.deps.Buffer.Snapshot().Find(icao)
	if !ok {
		respondError(w, http.StatusNotFound, "aircraft not found")
		return
	}
	respondJSON(w, http.StatusOK, flights.Cells(row))
}

// GetViewport returns the region and its projected plot ranges.
func (h *Handler) GetViewport(w http.ResponseWriter, r *http.Request) {
	vp, err := h.deps.Region.Viewport()
	if err != nil {
		h.logger.Error("Failed to project viewport", logger.Error(err))
		respondError(w, http.StatusInternalServerError, "failed to project viewport")
		return
	}
	respondJSON(w, http.StatusOK, vp)
}

// GetStatus returns the scheduler status, plus recorded event counts per
// outcome when a database is attached.
func (h *Handler) GetStatus(w http.ResponseWriter, r *http.Request) {
	snap := h.deps.Buffer.Snapshot()
	body := map[string]interface{}{
		"ingest":      h.deps.Ingest.Status(),
		"buffer":      map[string]interface{}{"cycle": snap.Cycle, "rows": snap.Len()},
		"subscribers": h.deps.Buffer.Subscribers(),
	}
	if h.deps.Database != nil {
		stats, err := h.deps.Database.GetStats(r.Context())
		if err != nil {
			h.logger.Warn("Failed to read event stats", logger.Error(err))
		} else {
			body["events"] = stats
		}
	}
	respondJSON(w, http.StatusOK, body)
}

// Refresh requests an immediate cycle.
func (h *Handler) Refresh(w http.ResponseWriter, r *http.Request) {
	err := h.deps.Ingest.TriggerNow()
	switch {
	case err == nil:
		respondJSON(w, http.StatusAccepted, map[string]string{"status": "scheduled"})
	case errors.Is(err, ingest.ErrCycleInFlight):
		respondError(w, http.StatusConflict, "cycle already in flight")
	case errors.Is(err, ingest.ErrNotRunning):
		respondError(w, http.StatusServiceUnavailable, "ingestion not running")
	default:
		h.logger.Error("Refresh failed", logger.Error(err))
		respondError(w, http.StatusInternalServerError, "refresh failed")
	}
}

// GetCycles lists recorded cycle events, newest first.
func (h *Handler) GetCycles(w http.ResponseWriter, r *http.Request) {
	limit := 50
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 || n > 1000 {
			respondError(w, http.StatusBadRequest, "limit must be between 1 and 1000")
			return
		}
		limit = n
	}

	events, err := h.deps.Events.Recent(r.Context(), r.URL.Query().Get("outcome"), limit)
	if err != nil {
		h.logger.Error("Failed to list cycle events", logger.Error(err))
		respondError(w, http.StatusInternalServerError, "failed to list cycle events")
		return
	}
	respondJSON(w, http.StatusOK, map[string]interface{}{
		"count":  len(events),
		"events": events,
	})
}

// GetHealth reports whether the buffer has ever been published and, when a
// database is attached, whether it answers. An unreachable database makes
// the response 503.
func (h *Handler) GetHealth(w http.ResponseWriter, r *http.Request) {
	status := h.deps.Ingest.Status()
	body := map[string]interface{}{
		"status":               "ok",
		"consecutive_failures": status.ConsecutiveFailures,
	}
	if status.Successes == 0 {
		body["status"] = "starting"
	}

	code := http.StatusOK
	if h.deps.Database != nil {
		if db.HealthCheck(r.Context(), h.deps.Database) {
			body["database"] = "ok"
		} else {
			body["database"] = "unreachable"
			body["status"] = "degraded"
			code = http.StatusServiceUnavailable
		}
	}
	respondJSON(w, code, body)
}

func respondJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func respondError(w http.ResponseWriter, status int, message string) {
	respondJSON(w, status, map[string]string{"error": message})
}
