package dispatch

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/yndnr/snapfn-go/internal/core/domain"
	"github.com/yndnr/snapfn-go/internal/core/registry"
	"github.com/yndnr/snapfn-go/internal/telemetry/logger"
	"github.com/yndnr/snapfn-go/internal/telemetry/metric"
)

// Gate admits invocations. *lifecycle.Environment implements it.
type Gate interface {
	BeginInvocation() (done func(), err error)
}

// Config configures a Dispatcher.
type Config struct {
	// DefaultTimeout is the budget for invocations that arrive without a
	// deadline.
	DefaultTimeout time.Duration

	// TimeoutGrace is subtracted from the platform deadline so the timeout
	// outcome is reported before the platform kills the environment. It is
	// ignored when it would leave no budget.
	TimeoutGrace time.Duration
}

// DefaultConfig returns the default dispatcher configuration.
func DefaultConfig() Config {
	return Config{
		DefaultTimeout: 30 * time.Second,
		TimeoutGrace:   50 * time.Millisecond,
	}
}

// Dispatcher turns raw platform events into outcomes, one at a time.
type Dispatcher struct {
	cfg     Config
	reg     *registry.Registry
	gate    Gate
	metrics *metric.Registry
	now     func() time.Time

	mu sync.Mutex
}

// Option configures a Dispatcher.
type Option func(*Dispatcher)

// WithMetrics records invocation outcomes and abandoned handlers.
func WithMetrics(m *metric.Registry) Option {
	return func(d *Dispatcher) {
		d.metrics = m
	}
}

// WithClock overrides time.Now.
func WithClock(now func() time.Time) Option {
	return func(d *Dispatcher) {
		d.now = now
	}
}

// New creates a dispatcher over reg. Invocations are admitted by gate.
func New(reg *registry.Registry, gate Gate, cfg Config, opts ...Option) *Dispatcher {
	if cfg.DefaultTimeout <= 0 {
		cfg.DefaultTimeout = DefaultConfig().DefaultTimeout
	}
	d := &Dispatcher{
		cfg:  cfg,
		reg:  reg,
		gate: gate,
		now:  time.Now,
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Dispatch decodes raw, routes it and runs the handler until it returns or
// the deadline passes. A zero deadline means DefaultTimeout from now.
//
// On timeout the handler goroutine is abandoned, not killed. Any store
// mutation it makes afterwards has an unknown outcome for the caller.
func (d *Dispatcher) Dispatch(ctx context.Context, raw []byte, deadline time.Time) domain.Outcome {
	d.mu.Lock()
	defer d.mu.Unlock()

	done, err := d.gate.BeginInvocation()
	if err != nil {
		return domain.Failure(err)
	}
	defer done()

	ctx, inv := d.begin(ctx, deadline)
	return d.run(ctx, inv, raw)
}

func (d *Dispatcher) begin(ctx context.Context, deadline time.Time) (context.Context, *domain.Invocation) {
	now := d.now()
	if deadline.IsZero() {
		deadline = now.Add(d.cfg.DefaultTimeout)
	}
	if d.cfg.TimeoutGrace > 0 && deadline.Sub(now) > 2*d.cfg.TimeoutGrace {
		deadline = deadline.Add(-d.cfg.TimeoutGrace)
	}

	id := logger.RequestIDFromContext(ctx)
	if id == "" {
		var err error
		if id, err = domain.NewInvocationID(); err != nil {
			id = "inv-unknown"
		}
		ctx = logger.WithRequestID(ctx, id)
	}

	return ctx, &domain.Invocation{
		ID:        id,
		Deadline:  deadline,
		StartedAt: now,
	}
}

type result struct {
	value any
	err   error
}

func (d *Dispatcher) run(ctx context.Context, inv *domain.Invocation, raw []byte) domain.Outcome {
	ev, err := domain.DecodeEvent(raw)
	if err != nil {
		return d.finish(ctx, inv, domain.Failure(err))
	}
	inv.Event = ev
	inv.Route = ev.RouteKey()
	ctx = logger.WithRoute(ctx, inv.Route)

	h, ok := d.reg.Resolve(inv.Route)
	if !ok {
		return d.finish(ctx, inv, domain.Failure(domain.ErrUnroutable.WithDetails(fmt.Sprintf("%q", inv.Route))))
	}

	hctx, cancel := context.WithDeadline(ctx, inv.Deadline)
	defer cancel()

	ch := make(chan result, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				ch <- result{err: domain.ErrHandler.WithDetails(fmt.Sprintf("panic: %v", r))}
			}
		}()
		v, err := h.Handle(hctx, ev)
		ch <- result{value: v, err: err}
	}()

	select {
	case r := <-ch:
		return d.finish(ctx, inv, toOutcome(r))
	case <-hctx.Done():
		// A handler that finished at the deadline still wins.
		select {
		case r := <-ch:
			return d.finish(ctx, inv, toOutcome(r))
		default:
		}
		d.metrics.IncAbandoned()
		details := fmt.Sprintf("handler %q did not finish within %s", inv.Route, inv.Deadline.Sub(inv.StartedAt).Round(time.Millisecond))
		if errors.Is(hctx.Err(), context.Canceled) {
			details = fmt.Sprintf("invocation of %q canceled", inv.Route)
		}
		return d.finish(ctx, inv, domain.Failure(domain.ErrTimeout.WithCause(hctx.Err()).WithDetails(details)))
	}
}

func toOutcome(r result) domain.Outcome {
	if r.err != nil {
		return domain.Failure(r.err)
	}
	value, err := encode(r.value)
	if err != nil {
		return domain.Failure(domain.ErrHandler.WithCause(err).WithDetails("encode result: " + err.Error()))
	}
	return domain.Success(value)
}

func encode(v any) (json.RawMessage, error) {
	switch v := v.(type) {
	case nil:
		return json.RawMessage("null"), nil
	case json.RawMessage:
		if !json.Valid(v) {
			return nil, errors.New("handler returned invalid JSON")
		}
		return v, nil
	default:
		return json.Marshal(v)
	}
}

func (d *Dispatcher) finish(ctx context.Context, inv *domain.Invocation, out domain.Outcome) domain.Outcome {
	elapsed := d.now().Sub(inv.StartedAt)

	label := "success"
	if !out.OK() {
		label = string(out.Kind())
	}
	d.metrics.ObserveInvocation(inv.Route, label, elapsed)

	log := logger.L(ctx)
	if out.OK() {
		log.Info("invocation completed", "duration_ms", elapsed.Milliseconds())
	} else {
		log.Warn("invocation failed",
			"duration_ms", elapsed.Milliseconds(),
			"kind", out.Kind(),
			"code", out.Err.Code,
			"error", out.Err)
	}
	return out
}
