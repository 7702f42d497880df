package registry

import (
	"context"

	"github.com/yndnr/snapfn-go/internal/core/domain"
)

// Typed adapts a function over a decoded detail type to Handler. A detail
// that does not decode into T fails with ErrDecode before fn is called.
func Typed[T any, R any](fn func(ctx context.Context, detail T) (R, error)) Handler {
	return HandlerFunc(func(ctx context.Context, ev *domain.Event) (any, error) {
		var detail T
		if err := ev.DecodeDetail(&detail); err != nil {
			return nil, err
		}
		return fn(ctx, detail)
	})
}
