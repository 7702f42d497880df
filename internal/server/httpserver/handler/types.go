package handler

import (
	"time"

	"github.com/yndnr/snapfn-go/internal/core/lifecycle"
)

// Response is the standard response envelope.
// Every JSON response except the Lambda-compatible endpoint and /metrics
// uses it.
type Response struct {
	Code      string `json:"code"`
	Message   string `json:"message"`
	RequestID string `json:"request_id"`
	Timestamp int64  `json:"timestamp"`
	Data      any    `json:"data,omitempty"`
	Details   any    `json:"details,omitempty"`
}

// NewResponse creates a success response.
func NewResponse(requestID string, data any) *Response {
	return &Response{
		Code:      "OK",
		Message:   "Success",
		RequestID: requestID,
		Timestamp: time.Now().UnixMilli(),
		Data:      data,
	}
}

// NewErrorResponse creates an error response.
func NewErrorResponse(requestID, code, message string, details any) *Response {
	return &Response{
		Code:      code,
		Message:   message,
		RequestID: requestID,
		Timestamp: time.Now().UnixMilli(),
		Details:   details,
	}
}

// HealthResponse is the body of GET /health and GET /ready.
type HealthResponse struct {
	Status      string `json:"status"`
	State       string `json:"state"`
	Invocations uint64 `json:"invocations"`
	Time        string `json:"time"`
}

// SnapshotResponse is the body of GET /snapshot.
type SnapshotResponse struct {
	ID           string                    `json:"id"`
	CreatedAt    time.Time                 `json:"created_at"`
	BuildVersion string                    `json:"build_version"`
	Fingerprint  string                    `json:"fingerprint"`
	Routes       []string                  `json:"routes"`
	Resources    []SnapshotResourceSummary `json:"resources"`
}

// SnapshotResourceSummary describes one resource without its state.
type SnapshotResourceSummary struct {
	Name       string           `json:"name"`
	Policy     lifecycle.Policy `json:"policy"`
	StateBytes int              `json:"state_bytes"`
}

func newSnapshotResponse(img *lifecycle.Image) *SnapshotResponse {
	resp := &SnapshotResponse{
		ID:           img.ID,
		CreatedAt:    img.CreatedAt,
		BuildVersion: img.BuildVersion,
		Fingerprint:  img.Fingerprint,
		Routes:       img.Routes,
	}
	for _, r := range img.Resources {
		resp.Resources = append(resp.Resources, SnapshotResourceSummary{
			Name:       r.Name,
			Policy:     r.Policy,
			StateBytes: len(r.State),
		})
	}
	return resp
}
