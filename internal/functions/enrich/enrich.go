// Package enrich looks up people named by PersonCreated events.
//
// Missing people produce a null result, which batch dispatch drops from
// its output.
package enrich

import (
	"context"

	"github.com/yndnr/snapfn-go/internal/core/domain"
	"github.com/yndnr/snapfn-go/internal/core/registry"
)

// Routes served by this package.
const (
	Route     = "PersonCreated"
	SaveRoute = "person.save"
)

// PersonCreated is the event detail.
type PersonCreated struct {
	ID string `json:"id"`
}

// Handler resolves the person named by a PersonCreated event.
func Handler(people *Repository) registry.Handler {
	return registry.Typed(func(ctx context.Context, d PersonCreated) (*Person, error) {
		if d.ID == "" {
			return nil, domain.ErrDecode.WithDetails("detail.id is required")
		}
		return people.FindByID(ctx, d.ID)
	})
}

// SaveHandler stores the person in the event detail.
func SaveHandler(people *Repository) registry.Handler {
	return registry.Typed(func(ctx context.Context, p Person) (*Person, error) {
		if err := people.Save(ctx, p); err != nil {
			return nil, err
		}
		return &p, nil
	})
}
