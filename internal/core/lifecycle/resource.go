package lifecycle

import (
	"context"
	"strings"

	"github.com/yndnr/snapfn-go/internal/core/domain"
)

// State is the lifecycle state of an execution environment.
type State int32

const (
	StateCold State = iota
	StateRestoring
	StateReady
	StateDraining
)

func (s State) String() string {
	switch s {
	case StateCold:
		return "cold"
	case StateRestoring:
		return "restoring"
	case StateReady:
		return "ready"
	case StateDraining:
		return "draining"
	default:
		return "unknown"
	}
}

// Policy says what happens to a resource across a snapshot.
type Policy string

const (
	// PolicySnapshotSafe resources survive a snapshot as-is. They may carry
	// state into the image through Capture and Hydrate.
	PolicySnapshotSafe Policy = "snapshot-safe"

	// PolicyMustReacquire resources hold something a clone must not share:
	// connections, file locks, credentials, entropy. They are released before
	// capture and re-acquired by Restore.
	PolicyMustReacquire Policy = "must-reacquire"
)

// ResourceSpec declares a resource to the environment.
type ResourceSpec struct {
	Name   string
	Policy Policy

	// Warm runs once on the cold path, before capture.
	Warm func(ctx context.Context) error

	// Capture returns the state stored in the image. Snapshot-safe only.
	Capture func(ctx context.Context) ([]byte, error)

	// Hydrate loads state captured by another process. Snapshot-safe only.
	Hydrate func(ctx context.Context, state []byte) error

	// Release runs before capture. Must-reacquire only.
	Release func(ctx context.Context) error

	// Restore re-acquires the resource. Required for must-reacquire.
	Restore func(ctx context.Context) error
}

// Lifecycle errors.
var (
	// ErrMissingRestoreHook indicates a must-reacquire resource without a
	// Restore hook.
	ErrMissingRestoreHook = domain.NewDomainError("SF-LIFE-4001", domain.KindInvalidArgument, "must-reacquire resource has no restore hook")

	// ErrDuplicateResource indicates a resource name was declared twice.
	ErrDuplicateResource = domain.NewDomainError("SF-LIFE-4002", domain.KindInvalidArgument, "resource already declared")

	// ErrAlreadyCaptured indicates the snapshot point was already taken.
	ErrAlreadyCaptured = domain.NewDomainError("SF-LIFE-4090", domain.KindInternal, "snapshot point already captured")

	// ErrInvocationsStarted indicates capture was attempted after an
	// invocation began.
	ErrInvocationsStarted = domain.NewDomainError("SF-LIFE-4091", domain.KindInternal, "invocations already started")

	// ErrWrongState indicates an operation not allowed in the current state.
	ErrWrongState = domain.NewDomainError("SF-LIFE-4092", domain.KindInternal, "operation not allowed in current lifecycle state")
)

func (s ResourceSpec) validate() error {
	name := strings.TrimSpace(s.Name)
	if name == "" {
		return domain.ErrMissingArgument.WithDetails("resource name is required")
	}

	switch s.Policy {
	case PolicySnapshotSafe:
		if s.Release != nil || s.Restore != nil {
			return domain.ErrInvalidArgument.WithDetails("snapshot-safe resource " + name + " cannot have release or restore hooks")
		}
	case PolicyMustReacquire:
		if s.Restore == nil {
			return ErrMissingRestoreHook.WithDetails(name)
		}
		if s.Capture != nil || s.Hydrate != nil {
			return domain.ErrInvalidArgument.WithDetails("must-reacquire resource " + name + " cannot carry state into the image")
		}
	default:
		return domain.ErrInvalidArgument.WithDetails("resource " + name + " has unknown policy " + string(s.Policy))
	}
	return nil
}

type resource struct {
	spec         ResourceSpec
	needsRefresh bool
}
