package enrich

import (
	"context"
	"encoding/json"
	"fmt"
	"testing"
	"time"

	"github.com/yndnr/snapfn-go/internal/core/dispatch"
	"github.com/yndnr/snapfn-go/internal/core/domain"
	"github.com/yndnr/snapfn-go/internal/core/registry"
	"github.com/yndnr/snapfn-go/internal/core/service"
	"github.com/yndnr/snapfn-go/internal/storage/memory"
)

const personID = "12345678-1234-1234-1234-123456789012"

var epoch = time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

type fixture struct {
	now    time.Time
	store  *memory.Store
	people *Repository
	d      *dispatch.Dispatcher
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	f := &fixture{now: epoch}
	clock := func() time.Time { return f.now }
	f.store = memory.New(memory.WithClock(clock))
	state := service.NewStateClient(f.store, service.StateClientConfig{Now: clock})
	f.people = NewRepository(state, clock)

	reg := registry.New()
	reg.MustRegister(Route, Handler(f.people))
	reg.MustRegister(SaveRoute, SaveHandler(f.people))
	reg.Seal()
	f.d = dispatch.New(reg, gate{}, dispatch.DefaultConfig())
	return f
}

type gate struct{}

func (gate) BeginInvocation() (func(), error) { return func() {}, nil }

func personCreated(id string) string {
	return fmt.Sprintf(`{
  "version": "0",
  "id": "a7e4d8b5-0f3d-4e6d-9cdc-2b2c0e0fe83c",
  "detail-type": "PersonCreated",
  "source": "de.roamingthings.person",
  "account": "123456789012",
  "time": "2021-08-01T12:34:56Z",
  "region": "eu-central-1",
  "resources": [],
  "detail": {"id": %q}
}`, id)
}

func TestRepository_SaveAndFind(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	if err := f.people.Save(ctx, Person{ID: personID, FirstName: "John", LastName: "Doe"}); err != nil {
		t.Fatalf("Save() error = %v", err)
	}

	got, err := f.people.FindByID(ctx, personID)
	if err != nil {
		t.Fatalf("FindByID() error = %v", err)
	}
	if got == nil || got.FirstName != "John" || got.LastName != "Doe" || got.ID != personID {
		t.Errorf("FindByID() = %+v", got)
	}

	rec, err := f.store.Get(ctx, PersonKey(personID), true)
	if err != nil {
		t.Fatalf("store.Get() error = %v", err)
	}
	if want := epoch.Add(ExpireAfter); !rec.ExpiresAt.Equal(want) {
		t.Errorf("ExpiresAt = %v, want %v", rec.ExpiresAt, want)
	}
	if rec.Key.Partition != "person#"+personID || rec.Key.Sort != "DETAILS" {
		t.Errorf("Key = %v", rec.Key)
	}
}

func TestRepository_SaveOverwrites(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	for _, last := range []string{"Doe", "Roe"} {
		if err := f.people.Save(ctx, Person{ID: personID, FirstName: "John", LastName: last}); err != nil {
			t.Fatalf("Save(%s) error = %v", last, err)
		}
	}
	got, _ := f.people.FindByID(ctx, personID)
	if got == nil || got.LastName != "Roe" {
		t.Errorf("FindByID() = %+v, want last name Roe", got)
	}
}

func TestRepository_Expiry(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	if err := f.people.Save(ctx, Person{ID: personID, FirstName: "John"}); err != nil {
		t.Fatalf("Save() error = %v", err)
	}
	f.now = epoch.Add(ExpireAfter + time.Second)

	got, err := f.people.FindByID(ctx, personID)
	if err != nil || got != nil {
		t.Errorf("FindByID() after expiry = %+v, %v; want nil, nil", got, err)
	}
}

func TestRepository_SaveRequiresID(t *testing.T) {
	f := newFixture(t)
	if err := f.people.Save(context.Background(), Person{FirstName: "John"}); domain.KindOf(err) != domain.KindInvalidArgument {
		t.Errorf("Save() kind = %q, want %q", domain.KindOf(err), domain.KindInvalidArgument)
	}
}

func TestHandler_Enrich(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	_ = f.people.Save(ctx, Person{ID: personID, FirstName: "John", LastName: "Doe"})

	out := f.d.Dispatch(ctx, []byte(personCreated(personID)), time.Time{})
	if !out.OK() {
		t.Fatalf("Dispatch() failed: %v", out.Err)
	}
	var got Person
	if err := json.Unmarshal(out.Value, &got); err != nil {
		t.Fatalf("Unmarshal() error = %v", err)
	}
	want := Person{ID: personID, FirstName: "John", LastName: "Doe"}
	if got != want {
		t.Errorf("Dispatch() = %+v, want %+v", got, want)
	}

	out = f.d.Dispatch(ctx, []byte(personCreated("unknown")), time.Time{})
	if !out.OK() || string(out.Value) != "null" {
		t.Errorf("Dispatch(unknown) = %s, %v; want null", out.Value, out.Err)
	}
}

func TestHandler_EnrichBatch(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	_ = f.people.Save(ctx, Person{ID: personID, FirstName: "John", LastName: "Doe"})

	batch, _ := json.Marshal([]map[string]string{
		{"messageId": "m-1", "body": personCreated(personID)},
		{"messageId": "m-2", "body": personCreated("unknown")},
	})
	out := f.d.DispatchBatch(ctx, batch, time.Time{})
	if !out.OK() {
		t.Fatalf("DispatchBatch() failed: %v", out.Err)
	}

	var got []Person
	if err := json.Unmarshal(out.Value, &got); err != nil {
		t.Fatalf("Unmarshal() error = %v", err)
	}
	if len(got) != 1 || got[0].ID != personID {
		t.Errorf("DispatchBatch() = %+v, want only %s", got, personID)
	}
}

func TestHandler_EnrichMissingID(t *testing.T) {
	f := newFixture(t)
	out := f.d.Dispatch(context.Background(), []byte(`{"detail-type":"PersonCreated","detail":{}}`), time.Time{})
	if out.Kind() != domain.KindDecodeError {
		t.Errorf("Kind() = %q, want DecodeError", out.Kind())
	}
}

func TestHandler_Save(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	out := f.d.Dispatch(ctx, []byte(`{"route":"person.save","detail":{"id":"7","firstName":"Ada","lastName":"Lovelace"}}`), time.Time{})
	if !out.OK() {
		t.Fatalf("Dispatch() failed: %v", out.Err)
	}
	got, err := f.people.FindByID(ctx, "7")
	if err != nil || got == nil || got.FirstName != "Ada" {
		t.Errorf("FindByID() = %+v, %v", got, err)
	}
}
