package domain

import (
	"bytes"
	"encoding/json"
	"strings"
	"time"
)

// Record constraints.
const (
	MaxKeyLength     = 1024
	MaxPayloadSize   = 400 << 10 // matches the DynamoDB item size limit
	keySeparatorByte = 0x00
)

// Key addresses one item in the durable store.
type Key struct {
	// Partition is required.
	Partition string `json:"pk"`

	// Sort is optional.
	Sort string `json:"sk,omitempty"`
}

// NewKey builds a key with an optional sort component.
func NewKey(partition string, sort ...string) Key {
	k := Key{Partition: partition}
	if len(sort) > 0 {
		k.Sort = sort[0]
	}
	return k
}

// String renders the key for logs.
func (k Key) String() string {
	if k.Sort == "" {
		return k.Partition
	}
	return k.Partition + "/" + k.Sort
}

// Bytes encodes the key for ordered byte-keyed engines.
func (k Key) Bytes() []byte {
	b := make([]byte, 0, len(k.Partition)+len(k.Sort)+1)
	b = append(b, k.Partition...)
	b = append(b, keySeparatorByte)
	b = append(b, k.Sort...)
	return b
}

// KeyFromBytes reverses Key.Bytes.
func KeyFromBytes(b []byte) Key {
	idx := bytes.IndexByte(b, keySeparatorByte)
	if idx < 0 {
		return Key{Partition: string(b)}
	}
	return Key{Partition: string(b[:idx]), Sort: string(b[idx+1:])}
}

// Validate checks key constraints.
func (k Key) Validate() error {
	if strings.TrimSpace(k.Partition) == "" {
		return ErrMissingArgument.WithDetails("partition key is required")
	}
	if len(k.Partition)+len(k.Sort) > MaxKeyLength {
		return ErrInvalidArgument.WithDetails("key exceeds 1024 bytes")
	}
	if strings.IndexByte(k.Partition, keySeparatorByte) >= 0 {
		return ErrInvalidArgument.WithDetails("partition key contains NUL")
	}
	return nil
}

// StateRecord is one item in the durable store.
type StateRecord struct {
	Key Key `json:"key"`

	// Version is the optimistic concurrency version. It is 1 after the
	// first write and grows by exactly one per successful write.
	Version uint64 `json:"version"`

	// Payload is opaque to the runtime.
	Payload json.RawMessage `json:"payload"`

	// LastModified is set by the store on every write.
	LastModified time.Time `json:"last_modified"`

	// ExpiresAt is an optional expiry honored by the store.
	ExpiresAt time.Time `json:"expires_at,omitzero"`
}

// Validate validates the record before a write.
func (r *StateRecord) Validate() error {
	if err := r.Key.Validate(); err != nil {
		return err
	}
	if len(r.Payload) > MaxPayloadSize {
		return ErrRecordValidation.WithDetails("payload exceeds 400KB")
	}
	if len(r.Payload) > 0 && !json.Valid(r.Payload) {
		return ErrRecordValidation.WithDetails("payload is not valid JSON")
	}
	return nil
}

// IsExpired reports whether the record has an expiry in the past.
func (r *StateRecord) IsExpired(now time.Time) bool {
	return !r.ExpiresAt.IsZero() && now.After(r.ExpiresAt)
}

// Clone returns a deep copy of the record.
func (r *StateRecord) Clone() *StateRecord {
	if r == nil {
		return nil
	}
	c := *r
	if r.Payload != nil {
		c.Payload = append(json.RawMessage(nil), r.Payload...)
	}
	return &c
}

// DecodePayload unmarshals the payload into v.
func (r *StateRecord) DecodePayload(v any) error {
	if len(r.Payload) == 0 {
		return ErrRecordValidation.WithDetails("record has no payload")
	}
	if err := json.Unmarshal(r.Payload, v); err != nil {
		return ErrRecordValidation.WithCause(err).WithDetails(err.Error())
	}
	return nil
}
