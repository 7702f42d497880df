package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/dgraph-io/badger/v3"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/yndnr/snapfn-go/internal/core/domain"
	"github.com/yndnr/snapfn-go/internal/core/service"
)

// errReleased is returned by operations on a store whose database handle
// was released for a snapshot and not yet reopened.
var errReleased = domain.ErrStoreUnavailable.WithDetails("badger store is released")

// storedRecord is the value layout under each key.
type storedRecord struct {
	Version      uint64          `json:"v"`
	Payload      json.RawMessage `json:"p,omitempty"`
	LastModified time.Time       `json:"m"`
	ExpiresAt    time.Time       `json:"e,omitzero"`
}

// BadgerStore implements service.StateRepository on Badger v3.
type BadgerStore struct {
	cfg    BadgerConfig
	logger *slog.Logger
	now    func() time.Time

	mu sync.RWMutex
	db *badger.DB // nil while released

	lastGCTime atomic.Int64
	gcRuns     atomic.Uint64

	stopCh chan struct{}
	doneCh chan struct{}
}

var (
	_ service.StateRepository = (*BadgerStore)(nil)
	_ Reconnector             = (*BadgerStore)(nil)
)

// NewBadgerStore opens a Badger database at cfg.Dir.
func NewBadgerStore(cfg BadgerConfig, logger *slog.Logger) (*BadgerStore, error) {
	if cfg.Dir == "" {
		return nil, fmt.Errorf("badger: dir is required")
	}
	if logger == nil {
		logger = slog.Default()
	}

	s := &BadgerStore{
		cfg:    cfg,
		logger: logger,
		now:    time.Now,
	}
	if err := s.open(); err != nil {
		return nil, err
	}

	logger.Info("badger store opened",
		"dir", cfg.Dir,
		"cache_size", cfg.CacheSize,
		"gc_interval", cfg.GCInterval)

	return s, nil
}

func (s *BadgerStore) open() error {
	opts := badger.DefaultOptions(s.cfg.Dir)
	opts.Logger = &badgerLogger{logger: s.logger}
	opts.BlockCacheSize = s.cfg.CacheSize
	opts.ValueLogFileSize = s.cfg.ValueLogFileSize
	opts.NumMemtables = s.cfg.NumMemtables
	opts.NumLevelZeroTables = s.cfg.NumLevelZeroTables
	opts.NumLevelZeroTablesStall = s.cfg.NumLevelZeroTablesStall
	opts.SyncWrites = s.cfg.SyncWrites
	// Conditional writes rely on read-write conflict detection.
	opts.DetectConflicts = true

	db, err := badger.Open(opts)
	if err != nil {
		return fmt.Errorf("badger: open db: %w", err)
	}

	s.db = db
	s.stopCh = make(chan struct{})
	s.doneCh = make(chan struct{})
	go s.gcLoop(db, s.stopCh, s.doneCh)
	return nil
}

// handle returns the open database or errReleased. Callers hold s.mu.RLock.
func (s *BadgerStore) handle() (*badger.DB, error) {
	if s.db == nil {
		return nil, errReleased
	}
	return s.db, nil
}

func decodeStored(key domain.Key, item *badger.Item) (*domain.StateRecord, error) {
	raw, err := item.ValueCopy(nil)
	if err != nil {
		return nil, err
	}
	var sr storedRecord
	if err := json.Unmarshal(raw, &sr); err != nil {
		return nil, domain.ErrStoreUnavailable.WithCause(err).WithDetails("corrupt record " + key.String())
	}
	return &domain.StateRecord{
		Key:          key,
		Version:      sr.Version,
		Payload:      sr.Payload,
		LastModified: sr.LastModified,
		ExpiresAt:    sr.ExpiresAt,
	}, nil
}

// load reads the live record for key inside txn, or nil.
func (s *BadgerStore) load(txn *badger.Txn, key domain.Key) (*domain.StateRecord, error) {
	item, err := txn.Get(key.Bytes())
	if err != nil {
		if errors.Is(err, badger.ErrKeyNotFound) {
			return nil, nil
		}
		return nil, err
	}
	rec, err := decodeStored(key, item)
	if err != nil {
		return nil, err
	}
	if rec.IsExpired(s.now()) {
		return nil, nil
	}
	return rec, nil
}

// Get retrieves a record. Badger reads are always consistent.
func (s *BadgerStore) Get(_ context.Context, key domain.Key, _ bool) (*domain.StateRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	db, err := s.handle()
	if err != nil {
		return nil, err
	}

	var rec *domain.StateRecord
	err = db.View(func(txn *badger.Txn) error {
		var err error
		rec, err = s.load(txn, key)
		return err
	})
	if err != nil {
		return nil, err
	}
	if rec == nil {
		return nil, domain.ErrNotFound.WithDetails(key.String())
	}
	return rec, nil
}

// Put stores a record if cond holds.
func (s *BadgerStore) Put(_ context.Context, rec *domain.StateRecord, cond service.Precondition) (uint64, error) {
	if err := rec.Validate(); err != nil {
		return 0, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	db, err := s.handle()
	if err != nil {
		return 0, err
	}

	var version uint64
	err = db.Update(func(txn *badger.Txn) error {
		existing, err := s.load(txn, rec.Key)
		if err != nil {
			return err
		}
		if err := cond.Check(existing); err != nil {
			return err
		}

		version = service.NextVersion(existing)
		value, err := json.Marshal(storedRecord{
			Version:      version,
			Payload:      rec.Payload,
			LastModified: rec.LastModified,
			ExpiresAt:    rec.ExpiresAt,
		})
		if err != nil {
			return err
		}

		entry := badger.NewEntry(rec.Key.Bytes(), value)
		if !rec.ExpiresAt.IsZero() {
			entry.ExpiresAt = uint64(rec.ExpiresAt.Unix())
		}
		return txn.SetEntry(entry)
	})
	if err != nil {
		return 0, mapBadgerError(err)
	}
	return version, nil
}

// Delete removes a record if cond holds.
func (s *BadgerStore) Delete(_ context.Context, key domain.Key, cond service.Precondition) error {
	s.mu.RLock()
	defer s.mu.RUnlock()

	db, err := s.handle()
	if err != nil {
		return err
	}

	err = db.Update(func(txn *badger.Txn) error {
		existing, err := s.load(txn, key)
		if err != nil {
			return err
		}
		if existing == nil {
			return domain.ErrNotFound.WithDetails(key.String())
		}
		if err := cond.Check(existing); err != nil {
			return err
		}
		return txn.Delete(key.Bytes())
	})
	return mapBadgerError(err)
}

// mapBadgerError turns a concurrent commit into a retryable failure. The
// retry re-reads the record and then reports the real version conflict.
func mapBadgerError(err error) error {
	if errors.Is(err, badger.ErrConflict) {
		return domain.ErrStoreTransient.WithCause(err).WithDetails("concurrent transaction")
	}
	return err
}

// Release closes the database so no file lock or goroutine survives into a
// snapshot image.
func (s *BadgerStore) Release(_ context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closeLocked()
}

// Reconnect reopens the database after restore. It is a no-op when the
// database is already open.
func (s *BadgerStore) Reconnect(_ context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.db != nil {
		return nil
	}
	if err := s.open(); err != nil {
		return err
	}
	s.logger.Info("badger store reopened", "dir", s.cfg.Dir)
	return nil
}

// Close gracefully shuts down the store.
func (s *BadgerStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closeLocked()
}

func (s *BadgerStore) closeLocked() error {
	if s.db == nil {
		return nil
	}

	close(s.stopCh)
	<-s.doneCh

	err := s.db.Close()
	s.db = nil
	if err != nil {
		return fmt.Errorf("close db: %w", err)
	}
	s.logger.Info("badger store closed", "dir", s.cfg.Dir)
	return nil
}

// GC runs value log garbage collection until nothing is left to rewrite.
func (s *BadgerStore) GC(_ context.Context) (uint64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	db, err := s.handle()
	if err != nil {
		return 0, err
	}
	return s.runGC(db)
}

func (s *BadgerStore) runGC(db *badger.DB) (uint64, error) {
	var runs uint64
	for {
		if err := db.RunValueLogGC(s.cfg.GCThreshold); err != nil {
			if errors.Is(err, badger.ErrNoRewrite) || errors.Is(err, badger.ErrRejected) {
				break
			}
			return runs, fmt.Errorf("gc: %w", err)
		}
		runs++
	}

	s.lastGCTime.Store(s.now().UnixMilli())
	s.gcRuns.Add(runs)
	return runs, nil
}

// Stats returns storage statistics.
func (s *BadgerStore) Stats() BadgerStats {
	s.mu.RLock()
	defer s.mu.RUnlock()

	stats := BadgerStats{
		LastGCTime: s.lastGCTime.Load(),
		GCRuns:     s.gcRuns.Load(),
	}
	if s.db != nil {
		lsm, vlog := s.db.Size()
		stats.LSMSize = uint64(lsm)
		stats.ValueLogSize = uint64(vlog)
	}
	return stats
}

// RegisterMetrics registers Badger size gauges. Values are read at scrape
// time.
func (s *BadgerStore) RegisterMetrics(reg prometheus.Registerer) error {
	if reg == nil {
		return nil
	}

	collectors := []prometheus.Collector{
		prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Namespace: "snapfn",
			Subsystem: "badger",
			Name:      "lsm_size_bytes",
			Help:      "Badger LSM tree size in bytes",
		}, func() float64 { return float64(s.Stats().LSMSize) }),
		prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Namespace: "snapfn",
			Subsystem: "badger",
			Name:      "value_log_size_bytes",
			Help:      "Badger value log size in bytes",
		}, func() float64 { return float64(s.Stats().ValueLogSize) }),
		prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Namespace: "snapfn",
			Subsystem: "badger",
			Name:      "last_gc_timestamp_seconds",
			Help:      "Unix timestamp of the last Badger GC run",
		}, func() float64 { return float64(s.Stats().LastGCTime) / 1000.0 }),
	}

	for _, c := range collectors {
		if err := reg.Register(c); err != nil {
			return err
		}
	}
	return nil
}

func (s *BadgerStore) gcLoop(db *badger.DB, stopCh <-chan struct{}, doneCh chan<- struct{}) {
	defer close(doneCh)

	if s.cfg.GCInterval <= 0 {
		<-stopCh
		return
	}

	ticker := time.NewTicker(s.cfg.GCInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			if _, err := s.runGC(db); err != nil {
				s.logger.Error("auto gc failed", "error", err)
			}
		case <-stopCh:
			return
		}
	}
}

// badgerLogger adapts slog.Logger to Badger's Logger interface.
type badgerLogger struct {
	logger *slog.Logger
}

func (l *badgerLogger) Errorf(format string, args ...interface{}) {
	l.logger.Error(fmt.Sprintf(format, args...))
}

func (l *badgerLogger) Warningf(format string, args ...interface{}) {
	l.logger.Warn(fmt.Sprintf(format, args...))
}

func (l *badgerLogger) Infof(format string, args ...interface{}) {
	l.logger.Debug(fmt.Sprintf(format, args...))
}

func (l *badgerLogger) Debugf(format string, args ...interface{}) {
	l.logger.Debug(fmt.Sprintf(format, args...))
}
