package enrich

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"time"

	"github.com/yndnr/snapfn-go/internal/core/domain"
	"github.com/yndnr/snapfn-go/internal/core/service"
)

// ExpireAfter is how long a saved person is kept.
const ExpireAfter = 120 * time.Second

const detailsSort = "DETAILS"

// Person is a stored person.
type Person struct {
	ID        string `json:"id"`
	FirstName string `json:"firstName"`
	LastName  string `json:"lastName"`
}

// Validate checks the required fields.
func (p Person) Validate() error {
	if strings.TrimSpace(p.ID) == "" {
		return domain.ErrMissingArgument.WithDetails("person id is required")
	}
	return nil
}

// PersonKey addresses the details item of a person.
func PersonKey(id string) domain.Key {
	return domain.NewKey("person#"+id, detailsSort)
}

// Repository reads and writes people through the state client.
type Repository struct {
	state *service.StateClient
	now   func() time.Time
}

// NewRepository creates a repository. now defaults to time.Now.
func NewRepository(state *service.StateClient, now func() time.Time) *Repository {
	if now == nil {
		now = time.Now
	}
	return &Repository{state: state, now: now}
}

// FindByID returns the person, or nil when no such person is stored.
func (r *Repository) FindByID(ctx context.Context, id string) (*Person, error) {
	rec, err := r.state.Get(ctx, PersonKey(id))
	if errors.Is(err, domain.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	var p Person
	if err := rec.DecodePayload(&p); err != nil {
		return nil, err
	}
	p.ID = id
	return &p, nil
}

// Save replaces the stored person and resets its expiry.
func (r *Repository) Save(ctx context.Context, p Person) error {
	if err := p.Validate(); err != nil {
		return err
	}
	payload, err := json.Marshal(struct {
		FirstName string `json:"firstName"`
		LastName  string `json:"lastName"`
	}{p.FirstName, p.LastName})
	if err != nil {
		return err
	}

	_, err = r.state.Put(ctx, &domain.StateRecord{
		Key:       PersonKey(p.ID),
		Payload:   payload,
		ExpiresAt: r.now().Add(ExpireAfter).Truncate(time.Second),
	}, service.Overwrite())
	return err
}
