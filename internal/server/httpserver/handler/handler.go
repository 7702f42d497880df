package handler

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/yndnr/snapfn-go/internal/core/domain"
	"github.com/yndnr/snapfn-go/internal/core/lifecycle"
	"github.com/yndnr/snapfn-go/internal/telemetry/logger"
)

// Invoker dispatches events. *dispatch.Dispatcher implements it.
type Invoker interface {
	Dispatch(ctx context.Context, raw []byte, deadline time.Time) domain.Outcome
	DispatchBatch(ctx context.Context, raw []byte, deadline time.Time) domain.Outcome
}

// Environment reports lifecycle state. *lifecycle.Environment implements it.
type Environment interface {
	State() lifecycle.State
	Image() *lifecycle.Image
	Invocations() uint64
}

// MaxEventSize bounds request bodies. It matches the synchronous invoke
// payload limit of the platform.
const MaxEventSize = 6 << 20

// DeadlineHeader optionally carries the invocation deadline in Unix
// milliseconds.
const DeadlineHeader = "X-Snapfn-Deadline-Ms"

// FunctionErrorHeader marks failed outcomes on the Lambda-compatible endpoint.
const FunctionErrorHeader = "X-Amz-Function-Error"

// Handler serves the emulator endpoints.
type Handler struct {
	invoker Invoker
	env     Environment
	logger  *slog.Logger
}

// New creates a Handler.
func New(invoker Invoker, env Environment, logger *slog.Logger) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{invoker: invoker, env: env, logger: logger}
}

// writeJSON writes a JSON response with the standard envelope.
func (h *Handler) writeJSON(w http.ResponseWriter, r *http.Request, status int, data any) {
	requestID := logger.RequestIDFromContext(r.Context())
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(NewResponse(requestID, data)); err != nil {
		h.logger.Error("failed to encode response", "error", err)
	}
}

// writeError writes an error response with the standard envelope.
func (h *Handler) writeError(w http.ResponseWriter, r *http.Request, status int, code, message string, details any) {
	requestID := logger.RequestIDFromContext(r.Context())
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("X-Error-Code", code)
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(NewErrorResponse(requestID, code, message, details))
}

// StatusForKind maps a failure kind to an HTTP status.
func StatusForKind(kind domain.Kind) int {
	switch kind {
	case domain.KindDecodeError, domain.KindInvalidArgument:
		return http.StatusBadRequest
	case domain.KindUnroutableEvent, domain.KindNotFound:
		return http.StatusNotFound
	case domain.KindVersionConflict:
		return http.StatusConflict
	case domain.KindTimeout:
		return http.StatusGatewayTimeout
	case domain.KindStoreUnavailable, domain.KindUnavailable:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}
