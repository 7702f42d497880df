package functions

import (
	"time"

	"github.com/yndnr/snapfn-go/internal/core/registry"
	"github.com/yndnr/snapfn-go/internal/core/service"
	"github.com/yndnr/snapfn-go/internal/functions/enrich"
	"github.com/yndnr/snapfn-go/internal/functions/greet"
)

// Register adds every business route to reg. now is the clock used for
// record expiry; nil means time.Now.
func Register(reg *registry.Registry, state *service.StateClient, now func() time.Time) error {
	people := enrich.NewRepository(state, now)

	routes := []struct {
		route string
		h     registry.Handler
	}{
		{greet.Route, greet.Handler(state)},
		{enrich.Route, enrich.Handler(people)},
		{enrich.SaveRoute, enrich.SaveHandler(people)},
	}
	for _, r := range routes {
		if err := reg.Register(r.route, r.h); err != nil {
			return err
		}
	}
	return nil
}
