package memory

import (
	"context"
	"encoding/json"
	"sort"
	"time"

	"github.com/yndnr/snapfn-go/internal/core/domain"
	"github.com/yndnr/snapfn-go/internal/core/service"
	"github.com/yndnr/snapfn-go/pkg/cmap"
)

// Store provides in-memory record storage.
type Store struct {
	records *cmap.Map[string, *domain.StateRecord]
	now     func() time.Time
}

var _ service.StateRepository = (*Store)(nil)

// Option configures the Store.
type Option func(*Store)

// WithClock sets the clock used for expiry checks.
func WithClock(now func() time.Time) Option {
	return func(s *Store) {
		s.now = now
	}
}

// New creates a new in-memory store.
func New(opts ...Option) *Store {
	s := &Store{
		records: cmap.New[string, *domain.StateRecord](),
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func storeKey(k domain.Key) string {
	return string(k.Bytes())
}

// live returns rec unless it is nil or expired.
func (s *Store) live(rec *domain.StateRecord, exists bool) *domain.StateRecord {
	if !exists || rec == nil || rec.IsExpired(s.now()) {
		return nil
	}
	return rec
}

// Get retrieves a record. Reads are always consistent.
func (s *Store) Get(_ context.Context, key domain.Key, _ bool) (*domain.StateRecord, error) {
	rec, ok := s.records.Get(storeKey(key))
	if s.live(rec, ok) == nil {
		return nil, domain.ErrNotFound.WithDetails(key.String())
	}
	// Return a clone to prevent external modification
	return rec.Clone(), nil
}

// Put stores a record if cond holds.
func (s *Store) Put(_ context.Context, rec *domain.StateRecord, cond service.Precondition) (uint64, error) {
	if err := rec.Validate(); err != nil {
		return 0, err
	}

	var version uint64
	err := s.records.Compute(storeKey(rec.Key), func(old *domain.StateRecord, exists bool) (*domain.StateRecord, cmap.Op, error) {
		existing := s.live(old, exists)
		if err := cond.Check(existing); err != nil {
			return nil, cmap.Keep, err
		}
		c := rec.Clone()
		c.Version = service.NextVersion(existing)
		version = c.Version
		return c, cmap.Store, nil
	})
	if err != nil {
		return 0, err
	}
	return version, nil
}

// Delete removes a record if cond holds.
func (s *Store) Delete(_ context.Context, key domain.Key, cond service.Precondition) error {
	return s.records.Compute(storeKey(key), func(old *domain.StateRecord, exists bool) (*domain.StateRecord, cmap.Op, error) {
		existing := s.live(old, exists)
		if existing == nil {
			return nil, cmap.Keep, domain.ErrNotFound.WithDetails(key.String())
		}
		if err := cond.Check(existing); err != nil {
			return nil, cmap.Keep, err
		}
		return nil, cmap.Remove, nil
	})
}

// Close is a no-op.
func (s *Store) Close() error {
	return nil
}

// Len returns the number of stored records, including expired ones not yet
// swept.
func (s *Store) Len() int {
	return s.records.Count()
}

// SweepExpired removes expired records and returns how many were removed.
func (s *Store) SweepExpired() int {
	now := s.now()
	return s.records.Sweep(func(_ string, rec *domain.StateRecord) bool {
		return rec.IsExpired(now)
	})
}

// Export serializes all live records, ordered by key.
func (s *Store) Export() ([]byte, error) {
	now := s.now()
	var out []*domain.StateRecord
	s.records.Range(func(_ string, rec *domain.StateRecord) bool {
		if !rec.IsExpired(now) {
			out = append(out, rec.Clone())
		}
		return true
	})
	sort.Slice(out, func(i, j int) bool {
		if out[i].Key.Partition != out[j].Key.Partition {
			return out[i].Key.Partition < out[j].Key.Partition
		}
		return out[i].Key.Sort < out[j].Key.Sort
	})
	return json.Marshal(out)
}

// Import replaces the store contents with records produced by Export.
func (s *Store) Import(data []byte) error {
	var in []*domain.StateRecord
	if len(data) > 0 {
		if err := json.Unmarshal(data, &in); err != nil {
			return domain.ErrRecordValidation.WithCause(err).WithDetails("decode memory store image: " + err.Error())
		}
	}

	s.records.Clear()
	for _, rec := range in {
		if err := rec.Key.Validate(); err != nil {
			return err
		}
		s.records.Set(storeKey(rec.Key), rec)
	}
	return nil
}
