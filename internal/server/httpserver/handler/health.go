package handler

import (
	"net/http"
	"time"

	"github.com/yndnr/snapfn-go/internal/core/lifecycle"
)

func (h *Handler) health(status string) HealthResponse {
	return HealthResponse{
		Status:      status,
		State:       h.env.State().String(),
		Invocations: h.env.Invocations(),
		Time:        time.Now().UTC().Format(time.RFC3339),
	}
}

// Health handles GET /health. The process is alive whatever its state.
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	h.writeJSON(w, r, http.StatusOK, h.health("healthy"))
}

// Ready handles GET /ready. Only a ready environment accepts invocations.
func (h *Handler) Ready(w http.ResponseWriter, r *http.Request) {
	if h.env.State() != lifecycle.StateReady {
		h.writeError(w, r, http.StatusServiceUnavailable, "SF-ENV-5030", "environment not ready", h.health("unavailable"))
		return
	}
	h.writeJSON(w, r, http.StatusOK, h.health("ready"))
}

// Snapshot handles GET /snapshot.
func (h *Handler) Snapshot(w http.ResponseWriter, r *http.Request) {
	img := h.env.Image()
	if img == nil {
		h.writeError(w, r, http.StatusNotFound, "SF-SNAP-4040", "no snapshot image", nil)
		return
	}
	h.writeJSON(w, r, http.StatusOK, newSnapshotResponse(img))
}
