package handler

import (
	"errors"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/yndnr/snapfn-go/internal/core/dispatch"
	"github.com/yndnr/snapfn-go/internal/core/domain"
)

// readEvent reads the request body and the optional deadline header.
func readEvent(w http.ResponseWriter, r *http.Request) ([]byte, time.Time, error) {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, MaxEventSize))
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			return nil, time.Time{}, domain.ErrDecode.WithDetails("event exceeds " + strconv.Itoa(MaxEventSize) + " bytes")
		}
		return nil, time.Time{}, domain.ErrDecode.WithCause(err).WithDetails("read body: " + err.Error())
	}

	var deadline time.Time
	if v := r.Header.Get(DeadlineHeader); v != "" {
		ms, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			return nil, time.Time{}, domain.ErrInvalidArgument.WithDetails(DeadlineHeader + " must be Unix milliseconds")
		}
		deadline = time.UnixMilli(ms)
	}
	return body, deadline, nil
}

func (h *Handler) dispatch(w http.ResponseWriter, r *http.Request) domain.Outcome {
	body, deadline, err := readEvent(w, r)
	if err != nil {
		return domain.Failure(err)
	}
	if dispatch.IsBatch(body) {
		return h.invoker.DispatchBatch(r.Context(), body, deadline)
	}
	return h.invoker.Dispatch(r.Context(), body, deadline)
}

// LambdaInvoke handles POST /2015-03-31/functions/function/invocations the
// way the platform's runtime interface emulator does: the body is the
// outcome, failures carry the function error header and status 200.
func (h *Handler) LambdaInvoke(w http.ResponseWriter, r *http.Request) {
	out := h.dispatch(w, r)

	body, err := out.MarshalJSON()
	if err != nil {
		h.writeError(w, r, http.StatusInternalServerError, "SF-SYS-5000", "encode outcome", err.Error())
		return
	}
	w.Header().Set("Content-Type", "application/json")
	if !out.OK() {
		w.Header().Set(FunctionErrorHeader, "Unhandled")
	}
	w.WriteHeader(http.StatusOK)
	w.Write(body)
}

// Invoke handles POST /invoke and reports failures with HTTP statuses.
func (h *Handler) Invoke(w http.ResponseWriter, r *http.Request) {
	out := h.dispatch(w, r)
	if !out.OK() {
		p := out.ErrorPayload()
		h.writeError(w, r, StatusForKind(out.Kind()), out.Err.Code, p.Message, map[string]string{"kind": p.Type})
		return
	}
	h.writeJSON(w, r, http.StatusOK, out.Value)
}
