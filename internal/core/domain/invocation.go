package domain

import (
	"crypto/rand"
	"encoding/json"
	"errors"
	"io"
	"strings"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
)

// InvocationIDPrefix is the prefix for runtime-generated invocation IDs.
const InvocationIDPrefix = "inv-"

// Invocation is one request/response cycle.
type Invocation struct {
	// ID is the platform request ID, or a generated inv-{ulid}.
	ID string

	// Deadline is the absolute time by which an outcome must be produced.
	Deadline time.Time

	// Event is the decoded input.
	Event *Event

	// Route is the resolved handler route.
	Route string

	// StartedAt is when dispatching began.
	StartedAt time.Time
}

// Remaining returns the time budget left before the deadline.
func (i *Invocation) Remaining(now time.Time) time.Duration {
	if i.Deadline.IsZero() {
		return 0
	}
	return i.Deadline.Sub(now)
}

// Outcome is the platform-facing result of an invocation. Exactly one of
// Value (success) or Err (failure) is meaningful.
type Outcome struct {
	Value json.RawMessage
	Err   *DomainError
}

// Success builds a successful outcome.
func Success(value json.RawMessage) Outcome {
	if len(value) == 0 {
		value = json.RawMessage("null")
	}
	return Outcome{Value: value}
}

// Failure builds a failed outcome. Errors that are not DomainErrors are
// reported as handler errors with their message.
func Failure(err error) Outcome {
	var de *DomainError
	if errors.As(err, &de) {
		return Outcome{Err: de}
	}
	return Outcome{Err: ErrHandler.WithCause(err).WithDetails(err.Error())}
}

// OK reports whether the outcome is a success.
func (o Outcome) OK() bool {
	return o.Err == nil
}

// Kind returns the failure kind, or "" on success.
func (o Outcome) Kind() Kind {
	if o.Err == nil {
		return ""
	}
	return o.Err.Kind
}

// ErrorPayload is the serialized form of a failed outcome.
// It never carries stack traces.
type ErrorPayload struct {
	Type    string `json:"errorType"`
	Message string `json:"errorMessage"`
	Code    string `json:"errorCode,omitempty"`
}

// ErrorPayload returns the boundary representation of a failed outcome.
func (o Outcome) ErrorPayload() ErrorPayload {
	if o.Err == nil {
		return ErrorPayload{}
	}
	msg := o.Err.Message
	if o.Err.Details != "" {
		msg += ": " + o.Err.Details
	}
	return ErrorPayload{
		Type:    string(o.Err.Kind),
		Message: msg,
		Code:    o.Err.Code,
	}
}

// MarshalJSON encodes a success as its value and a failure as ErrorPayload.
func (o Outcome) MarshalJSON() ([]byte, error) {
	if o.Err != nil {
		return json.Marshal(o.ErrorPayload())
	}
	if len(o.Value) == 0 {
		return []byte("null"), nil
	}
	return o.Value, nil
}

// idSource produces monotonic ULIDs. Its entropy is process-specific state
// and is reseeded after a restore so clones never share ID sequences.
var idSource = struct {
	mu      sync.Mutex
	entropy io.Reader
}{entropy: ulid.Monotonic(rand.Reader, 0)}

// NewInvocationID generates a new invocation ID.
// Format: inv-{ulid_lowercase}.
func NewInvocationID() (string, error) {
	idSource.mu.Lock()
	defer idSource.mu.Unlock()

	id, err := ulid.New(ulid.Timestamp(time.Now()), idSource.entropy)
	if err != nil {
		return "", ErrInvalidArgument.WithCause(err).WithDetails("generate invocation id")
	}
	return InvocationIDPrefix + strings.ToLower(id.String()), nil
}

// ReseedInvocationIDs replaces the monotonic entropy source.
func ReseedInvocationIDs() {
	idSource.mu.Lock()
	defer idSource.mu.Unlock()
	idSource.entropy = ulid.Monotonic(rand.Reader, 0)
}

// ValidateInvocationID checks the format of a runtime-generated ID.
func ValidateInvocationID(id string) bool {
	if !strings.HasPrefix(id, InvocationIDPrefix) {
		return false
	}
	_, err := ulid.Parse(strings.ToUpper(id[len(InvocationIDPrefix):]))
	return err == nil
}
