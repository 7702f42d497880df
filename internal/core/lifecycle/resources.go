package lifecycle

import (
	"context"

	"github.com/yndnr/snapfn-go/internal/core/domain"
)

// EntropyResource reseeds the invocation ID generator after every restore,
// so clones of one image never produce the same ID sequence.
func EntropyResource() ResourceSpec {
	return ResourceSpec{
		Name:   "entropy",
		Policy: PolicyMustReacquire,
		Restore: func(context.Context) error {
			domain.ReseedInvocationIDs()
			return nil
		},
	}
}

// Reconnector is a connection-holding resource, such as a store client.
type Reconnector interface {
	Release(ctx context.Context) error
	Reconnect(ctx context.Context) error
}

// ConnectionResource declares c as must-reacquire.
func ConnectionResource(name string, c Reconnector) ResourceSpec {
	return ResourceSpec{
		Name:    name,
		Policy:  PolicyMustReacquire,
		Release: c.Release,
		Restore: c.Reconnect,
	}
}

// Exporter is an in-process resource whose contents can travel in an image.
type Exporter interface {
	Export() ([]byte, error)
	Import(data []byte) error
}

// ExportedResource declares x as snapshot-safe with its exported state
// captured into the image.
func ExportedResource(name string, x Exporter) ResourceSpec {
	return ResourceSpec{
		Name:   name,
		Policy: PolicySnapshotSafe,
		Capture: func(context.Context) ([]byte, error) {
			return x.Export()
		},
		Hydrate: func(_ context.Context, state []byte) error {
			return x.Import(state)
		},
	}
}
