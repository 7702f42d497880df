package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"golang.org/x/time/rate"

	"github.com/yndnr/snapfn-go/internal/core/domain"
	"github.com/yndnr/snapfn-go/internal/infra/retry"
	"github.com/yndnr/snapfn-go/internal/telemetry/logger"
	"github.com/yndnr/snapfn-go/internal/telemetry/metric"
)

// StateClientConfig configures a StateClient.
type StateClientConfig struct {
	// Retry bounds the attempts made for transient failures.
	Retry retry.Policy

	// ConsistentReads makes strongly consistent reads the default.
	ConsistentReads bool

	// RateLimit caps store operations per second. Zero disables the limit.
	RateLimit float64

	// Now is the clock used for LastModified. Defaults to time.Now.
	Now func() time.Time
}

// DefaultStateClientConfig returns the default client configuration.
func DefaultStateClientConfig() StateClientConfig {
	return StateClientConfig{
		Retry: retry.DefaultPolicy(),
		Now:   time.Now,
	}
}

// StateClient is the durable state client handed to business logic.
type StateClient struct {
	repo       StateRepository
	policy     retry.Policy
	consistent bool
	limiter    *rate.Limiter
	now        func() time.Time
	metrics    *metric.Registry
}

// ClientOption configures optional StateClient collaborators.
type ClientOption func(*StateClient)

// WithMetrics records operation results and retries in m.
func WithMetrics(m *metric.Registry) ClientOption {
	return func(c *StateClient) {
		c.metrics = m
	}
}

// NewStateClient creates a new StateClient over repo.
func NewStateClient(repo StateRepository, cfg StateClientConfig, opts ...ClientOption) *StateClient {
	if cfg.Retry.MaxAttempts < 1 {
		cfg.Retry = retry.DefaultPolicy()
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}

	c := &StateClient{
		repo:       repo,
		policy:     cfg.Retry,
		consistent: cfg.ConsistentReads,
		now:        cfg.Now,
	}
	if cfg.RateLimit > 0 {
		burst := int(cfg.RateLimit)
		if burst < 1 {
			burst = 1
		}
		c.limiter = rate.NewLimiter(rate.Limit(cfg.RateLimit), burst)
	}

	for _, opt := range opts {
		opt(c)
	}
	return c
}

// ============================================================================
// Per-call options
// ============================================================================

type callOptions struct {
	consistent *bool
	cond       *Precondition
}

// Option modifies a single state operation.
type Option func(*callOptions)

// Consistent requests a strongly consistent read.
func Consistent() Option {
	return func(o *callOptions) {
		v := true
		o.consistent = &v
	}
}

// ExpectVersion guards a write on the stored version. Version 0 means the
// record must not exist. See Put for conflicts reported after a retry.
func ExpectVersion(v uint64) Option {
	return func(o *callOptions) {
		p := IfVersion(v)
		o.cond = &p
	}
}

// ExpectUnversioned guards an update of a record that was read back with
// Version 0 because another producer wrote it without a version attribute.
func ExpectUnversioned() Option {
	return func(o *callOptions) {
		p := IfUnversioned()
		o.cond = &p
	}
}

// Overwrite makes a put unconditional. Without it, Put only creates.
func Overwrite() Option {
	return func(o *callOptions) {
		p := Unconditional()
		o.cond = &p
	}
}

func collect(opts []Option) callOptions {
	var o callOptions
	for _, opt := range opts {
		opt(&o)
	}
	return o
}

// ============================================================================
// Operations
// ============================================================================

// Get reads a record. It returns ErrNotFound when the record does not exist.
func (c *StateClient) Get(ctx context.Context, key domain.Key, opts ...Option) (*domain.StateRecord, error) {
	if err := key.Validate(); err != nil {
		return nil, err
	}

	o := collect(opts)
	consistent := c.consistent
	if o.consistent != nil {
		consistent = *o.consistent
	}

	var rec *domain.StateRecord
	err := c.do(ctx, "get", key, func(ctx context.Context) error {
		var err error
		rec, err = c.repo.Get(ctx, key, consistent)
		return err
	})
	if err != nil {
		return nil, err
	}
	return rec, nil
}

// Put writes rec and returns the stored version.
//
// The default is create-if-absent. Use ExpectVersion to update a record read
// earlier, or Overwrite to replace it regardless of its version. A failed
// guard returns ErrVersionConflict and the stored record is unchanged.
//
// Transient failures are retried, and the outcome of a failed attempt is
// unknown: a write whose response was lost may already be stored. A guarded
// Put that conflicts after a retry may therefore be conflicting with its own
// earlier attempt. Re-read the record before treating the conflict as a
// write lost to another environment.
func (c *StateClient) Put(ctx context.Context, rec *domain.StateRecord, opts ...Option) (uint64, error) {
	if rec == nil {
		return 0, domain.ErrMissingArgument.WithDetails("record is required")
	}
	if err := rec.Validate(); err != nil {
		return 0, err
	}

	cond := IfAbsent()
	if o := collect(opts); o.cond != nil {
		cond = *o.cond
	}

	write := rec.Clone()
	write.LastModified = c.now().UTC()

	var version uint64
	err := c.do(ctx, "put", rec.Key, func(ctx context.Context) error {
		var err error
		version, err = c.repo.Put(ctx, write, cond)
		return err
	})
	if err != nil {
		return 0, err
	}

	rec.Version = version
	rec.LastModified = write.LastModified
	return version, nil
}

// Delete removes a record. It returns ErrNotFound when the record does not
// exist and ErrVersionConflict when an ExpectVersion guard fails.
func (c *StateClient) Delete(ctx context.Context, key domain.Key, opts ...Option) error {
	if err := key.Validate(); err != nil {
		return err
	}

	cond := Unconditional()
	if o := collect(opts); o.cond != nil {
		cond = *o.cond
	}
	if cond.Mode == CondAbsent {
		return domain.ErrInvalidArgument.WithDetails("delete cannot require an absent record")
	}

	return c.do(ctx, "delete", key, func(ctx context.Context) error {
		return c.repo.Delete(ctx, key, cond)
	})
}

// Close closes the underlying repository.
func (c *StateClient) Close() error {
	return c.repo.Close()
}

// do runs one store operation with rate limiting and retries, and maps the
// final error onto the failure kinds callers see.
func (c *StateClient) do(ctx context.Context, op string, key domain.Key, fn func(ctx context.Context) error) error {
	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			c.metrics.ObserveStoreOp(op, "throttled")
			return domain.ErrStoreUnavailable.WithCause(err).WithDetails("rate limit wait: " + err.Error())
		}
	}

	attempts, err := c.policy.Do(ctx, fn, func(err error, attempt int, wait time.Duration) {
		c.metrics.IncStoreRetry(op)
		logger.L(ctx).Debug("retrying store operation",
			"op", op,
			"key", key.String(),
			"attempt", attempt,
			"backoff_ms", wait.Milliseconds(),
			"error", err)
	})

	result, err := classify(ctx, err, attempts)
	c.metrics.ObserveStoreOp(op, result)
	if err != nil && result != "not_found" && result != "conflict" {
		logger.L(ctx).Warn("store operation failed",
			"op", op,
			"key", key.String(),
			"attempts", attempts,
			"error", err)
	}
	return err
}

func classify(ctx context.Context, err error, attempts int) (string, error) {
	if err == nil {
		return "ok", nil
	}

	switch {
	case errors.Is(err, domain.ErrNotFound):
		return "not_found", err
	case errors.Is(err, domain.ErrVersionConflict):
		return "conflict", err
	case errors.Is(err, domain.ErrRecordValidation),
		errors.Is(err, domain.ErrInvalidArgument),
		errors.Is(err, domain.ErrMissingArgument):
		return "invalid", err
	case errors.Is(err, domain.ErrStoreUnavailable):
		return "unavailable", err
	}

	if ctxErr := ctx.Err(); ctxErr != nil {
		if errors.Is(ctxErr, context.DeadlineExceeded) {
			return "timeout", domain.ErrTimeout.WithCause(err).WithDetails("store operation outlived the invocation deadline")
		}
		return "canceled", domain.ErrStoreUnavailable.WithCause(err).WithDetails("canceled")
	}

	if retry.IsTransient(err) {
		return "unavailable", domain.ErrStoreUnavailable.WithCause(err).
			WithDetails(fmt.Sprintf("gave up after %d attempts: %v", attempts, err))
	}
	return "unavailable", domain.ErrStoreUnavailable.WithCause(err).WithDetails(err.Error())
}
