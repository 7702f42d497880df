package domain

import (
	"bytes"
	"encoding/json"
	"strings"
	"time"
)

// Event is the decoded event envelope delivered by the platform.
//
// The envelope follows the EventBridge shape. Detail is kept as raw JSON so
// handlers decode it into their own types without loss.
type Event struct {
	// Route explicitly selects a handler. When empty, DetailType is used.
	Route string `json:"route,omitempty"`

	ID         string          `json:"id,omitempty"`
	Version    string          `json:"version,omitempty"`
	DetailType string          `json:"detail-type,omitempty"`
	Source     string          `json:"source,omitempty"`
	Account    string          `json:"account,omitempty"`
	Time       time.Time       `json:"time,omitzero"`
	Region     string          `json:"region,omitempty"`
	Resources  []string        `json:"resources,omitempty"`
	Detail     json.RawMessage `json:"detail,omitempty"`

	// Raw is the exact input the event was decoded from.
	Raw json.RawMessage `json:"-"`
}

// DecodeEvent decodes a raw platform event. Anything that is not a JSON
// object is rejected with ErrDecode.
func DecodeEvent(raw []byte) (*Event, error) {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 {
		return nil, ErrDecode.WithDetails("empty event")
	}
	if trimmed[0] != '{' {
		return nil, ErrDecode.WithDetails("event must be a JSON object")
	}

	var ev Event
	if err := json.Unmarshal(trimmed, &ev); err != nil {
		return nil, ErrDecode.WithCause(err).WithDetails(err.Error())
	}
	ev.Raw = append(json.RawMessage(nil), trimmed...)
	return &ev, nil
}

// RouteKey returns the route this event resolves to.
func (e *Event) RouteKey() string {
	if r := strings.TrimSpace(e.Route); r != "" {
		return r
	}
	return strings.TrimSpace(e.DetailType)
}

// DecodeDetail unmarshals the event detail into v.
func (e *Event) DecodeDetail(v any) error {
	if len(e.Detail) == 0 || bytes.Equal(bytes.TrimSpace(e.Detail), []byte("null")) {
		return ErrDecode.WithDetails("event has no detail")
	}
	if err := json.Unmarshal(e.Detail, v); err != nil {
		return ErrDecode.WithCause(err).WithDetails("detail: " + err.Error())
	}
	return nil
}
