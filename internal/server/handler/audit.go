package handler

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/alanyoungcy/basisbot/internal/domain"
)

// StreamTailer returns the newest entries of a stream.
type StreamTailer interface {
	StreamTail(ctx context.Context, stream string, count int) ([]domain.StreamMessage, error)
}

// ActivityHandler serves the audit log and recent position events.
type ActivityHandler struct {
	audit  domain.AuditStore
	events StreamTailer
	logger *slog.Logger
}

// NewActivityHandler creates an ActivityHandler. events may be nil.
func NewActivityHandler(audit domain.AuditStore, events StreamTailer, logger *slog.Logger) *ActivityHandler {
	return &ActivityHandler{audit: audit, events: events, logger: logger}
}

type auditView struct {
	ID        int64          `json:"id"`
	Event     string         `json:"event"`
	Detail    map[string]any `json:"detail,omitempty"`
	CreatedAt string         `json:"created_at"`
}

// Audit lists audit entries newest first.
// GET /api/audit?limit=&offset=&since=&until=
func (h *ActivityHandler) Audit(w http.ResponseWriter, r *http.Request) {
	entries, err := h.audit.List(r.Context(), parseListOpts(r))
	if err != nil {
		h.logger.ErrorContext(r.Context(), "list audit failed", slog.String("error", err.Error()))
		writeError(w, http.StatusInternalServerError, "failed to list audit log")
		return
	}
	out := make([]auditView, 0, len(entries))
	for _, e := range entries {
		out = append(out, auditView{ID: e.ID, Event: e.Event, Detail: e.Detail, CreatedAt: e.CreatedAt.Format(time.RFC3339Nano)})
	}
	writeJSON(w, http.StatusOK, map[string]any{"entries": out})
}

// Events returns the latest position events, oldest first.
// GET /api/events?limit=
func (h *ActivityHandler) Events(w http.ResponseWriter, r *http.Request) {
	if h.events == nil {
		writeError(w, http.StatusNotImplemented, "event stream requires redis")
		return
	}
	n := defaultLimit
	if v, err := strconv.Atoi(r.URL.Query().Get("limit")); err == nil && v > 0 {
		n = min(v, maxLimit)
	}
	msgs, err := h.events.StreamTail(r.Context(), domain.PositionEventsChannel, n)
	if err != nil {
		h.logger.ErrorContext(r.Context(), "read events failed", slog.String("error", err.Error()))
		writeError(w, http.StatusBadGateway, "event stream unavailable")
		return
	}
	out := make([]json.RawMessage, 0, len(msgs))
	for _, m := range msgs {
		if json.Valid(m.Payload) {
			out = append(out, m.Payload)
		}
	}
	writeJSON(w, http.StatusOK, map[string]any{"events": out})
}
