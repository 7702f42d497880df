// Package greet implements a durable invocation counter.
package greet

import (
	"context"
	"encoding/json"
	"errors"

	"github.com/yndnr/snapfn-go/internal/core/domain"
	"github.com/yndnr/snapfn-go/internal/core/registry"
	"github.com/yndnr/snapfn-go/internal/core/service"
	"github.com/yndnr/snapfn-go/internal/telemetry/logger"
)

// Route is the routing key of the greet handler.
const Route = "greet"

// CounterKey addresses the shared counter record.
var CounterKey = domain.NewKey("counter")

// Result is returned to the caller.
type Result struct {
	Count uint64 `json:"count"`
}

type counter struct {
	Count uint64 `json:"count"`
}

// Handler increments the counter and returns the new count. Two concurrent
// increments of the same version never both succeed: the loser fails with
// VersionConflict.
func Handler(state *service.StateClient) registry.Handler {
	return registry.HandlerFunc(func(ctx context.Context, _ *domain.Event) (any, error) {
		return Increment(ctx, state)
	})
}

// Increment performs one guarded read-modify-write of the counter.
func Increment(ctx context.Context, state *service.StateClient) (*Result, error) {
	var (
		current counter
		expect  uint64
	)

	rec, err := state.Get(ctx, CounterKey, service.Consistent())
	switch {
	case errors.Is(err, domain.ErrNotFound):
	case err != nil:
		return nil, err
	default:
		if err := rec.DecodePayload(&current); err != nil {
			return nil, err
		}
		expect = rec.Version
	}

	next := counter{Count: current.Count + 1}
	payload, err := json.Marshal(next)
	if err != nil {
		return nil, err
	}

	write := &domain.StateRecord{Key: CounterKey, Payload: payload}
	if _, err := state.Put(ctx, write, service.ExpectVersion(expect)); err != nil {
		return nil, err
	}

	logger.L(ctx).Debug("counter incremented", "count", next.Count, "version", write.Version)
	return &Result{Count: next.Count}, nil
}
