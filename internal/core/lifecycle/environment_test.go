package lifecycle

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/yndnr/snapfn-go/internal/core/domain"
	"github.com/yndnr/snapfn-go/internal/core/registry"
	"github.com/yndnr/snapfn-go/internal/storage/snapshot"
)

// conn is a must-reacquire resource that counts its hooks.
type conn struct {
	open     atomic.Bool
	releases atomic.Int32
	restores atomic.Int32
	failWith error
}

func (c *conn) Release(context.Context) error {
	c.releases.Add(1)
	c.open.Store(false)
	return nil
}

func (c *conn) Reconnect(context.Context) error {
	c.restores.Add(1)
	if c.failWith != nil {
		return c.failWith
	}
	c.open.Store(true)
	return nil
}

// cache is a snapshot-safe resource that warms once.
type cache struct {
	warms    atomic.Int32
	hydrated []byte
	data     []byte
}

func (c *cache) Export() ([]byte, error) { return c.data, nil }

func (c *cache) Import(data []byte) error {
	c.hydrated = append([]byte(nil), data...)
	c.data = c.hydrated
	return nil
}

type fixture struct {
	conn  *conn
	cache *cache
	hooks atomic.Int32
	route string
}

func newFixture() *fixture {
	return &fixture{conn: &conn{}, cache: &cache{}, route: "greet"}
}

func (f *fixture) Declare(_ context.Context, env *Environment, reg *registry.Registry) error {
	if err := reg.Register(f.route, registry.HandlerFunc(func(context.Context, *domain.Event) (any, error) {
		return "ok", nil
	})); err != nil {
		return err
	}
	if err := env.Declare(ConnectionResource("store", f.conn)); err != nil {
		return err
	}
	spec := ExportedResource("cache", f.cache)
	spec.Warm = func(context.Context) error {
		f.cache.warms.Add(1)
		f.cache.data = []byte(`{"warm":true}`)
		return nil
	}
	if err := env.Declare(spec); err != nil {
		return err
	}
	if err := env.Declare(EntropyResource()); err != nil {
		return err
	}
	return env.OnRestore("count", func(context.Context) error {
		f.hooks.Add(1)
		return nil
	})
}

func newEnv(t *testing.T, opts ...Option) *Environment {
	t.Helper()
	cfg := DefaultConfig()
	cfg.BuildVersion = "v1"
	return NewEnvironment(cfg, opts...)
}

func TestEnvironment_Initialize(t *testing.T) {
	ctx := context.Background()
	f := newFixture()
	env := newEnv(t)

	if env.State() != StateCold {
		t.Fatalf("initial state = %v, want cold", env.State())
	}
	if err := env.Initialize(ctx, f); err != nil {
		t.Fatalf("Initialize() error = %v", err)
	}

	if env.State() != StateReady {
		t.Errorf("state = %v, want ready", env.State())
	}
	if f.conn.releases.Load() != 1 || f.conn.restores.Load() != 1 {
		t.Errorf("release/restore = %d/%d, want 1/1", f.conn.releases.Load(), f.conn.restores.Load())
	}
	if !f.conn.open.Load() {
		t.Error("connection should be re-acquired after the first restore")
	}
	if f.cache.warms.Load() != 1 {
		t.Errorf("warms = %d, want 1", f.cache.warms.Load())
	}
	if f.hooks.Load() != 1 {
		t.Errorf("restore hooks ran %d times, want 1", f.hooks.Load())
	}
	if !env.Registry().Sealed() {
		t.Error("registry should be sealed at the snapshot point")
	}

	img := env.Image()
	if img == nil {
		t.Fatal("Image() = nil after Initialize")
	}
	if img.BuildVersion != "v1" || img.Fingerprint != env.Registry().Fingerprint() {
		t.Errorf("image = %+v", img)
	}
	if len(img.Resources) != 3 {
		t.Fatalf("image resources = %d, want 3", len(img.Resources))
	}
	if r, _ := img.resource("cache"); string(r.State) != `{"warm":true}` {
		t.Errorf("cache state = %s", r.State)
	}
	if r, _ := img.resource("store"); r.State != nil {
		t.Error("must-reacquire resources carry no state")
	}
}

func TestEnvironment_RestoreIsIdempotent(t *testing.T) {
	ctx := context.Background()
	f := newFixture()
	env := newEnv(t)
	if err := env.Initialize(ctx, f); err != nil {
		t.Fatalf("Initialize() error = %v", err)
	}

	for i := 0; i < 2; i++ {
		if err := env.Restore(ctx); err != nil {
			t.Fatalf("Restore() error = %v", err)
		}
	}
	if f.conn.restores.Load() != 1 || f.hooks.Load() != 1 {
		t.Errorf("repeated Restore had side effects: restores=%d hooks=%d", f.conn.restores.Load(), f.hooks.Load())
	}
}

func TestEnvironment_CaptureOnce(t *testing.T) {
	ctx := context.Background()
	env := newEnv(t)
	if err := env.Initialize(ctx, newFixture()); err != nil {
		t.Fatalf("Initialize() error = %v", err)
	}

	if _, err := env.CaptureSnapshotPoint(ctx); !errors.Is(err, ErrAlreadyCaptured) {
		t.Errorf("second capture = %v, want ErrAlreadyCaptured", err)
	}
	if err := env.OnRestore("late", func(context.Context) error { return nil }); !errors.Is(err, ErrAlreadyCaptured) {
		t.Errorf("OnRestore after capture = %v, want ErrAlreadyCaptured", err)
	}
	if err := env.Declare(EntropyResource()); !errors.Is(err, ErrAlreadyCaptured) {
		t.Errorf("Declare after capture = %v, want ErrAlreadyCaptured", err)
	}
}

func TestEnvironment_CaptureRefusedAfterInvocation(t *testing.T) {
	ctx := context.Background()
	env := newEnv(t)
	if err := env.Initialize(ctx, newFixture()); err != nil {
		t.Fatalf("Initialize() error = %v", err)
	}

	done, err := env.BeginInvocation()
	if err != nil {
		t.Fatalf("BeginInvocation() error = %v", err)
	}
	done()

	if _, err := env.CaptureSnapshotPoint(ctx); !errors.Is(err, ErrInvocationsStarted) {
		t.Errorf("capture after invocation = %v, want ErrInvocationsStarted", err)
	}
}

func TestEnvironment_MissingRestoreHook(t *testing.T) {
	env := newEnv(t)

	spec := ResourceSpec{Name: "db", Policy: PolicyMustReacquire}
	if err := env.Declare(spec); !errors.Is(err, ErrMissingRestoreHook) {
		t.Fatalf("Declare() = %v, want ErrMissingRestoreHook", err)
	}

	// A bootstrap that ignores the Declare error still cannot initialize.
	err := env.Initialize(context.Background(), BootstrapFunc(func(_ context.Context, env *Environment, _ *registry.Registry) error {
		_ = env.Declare(spec)
		return nil
	}))
	if !errors.Is(err, ErrMissingRestoreHook) {
		t.Errorf("Initialize() = %v, want ErrMissingRestoreHook", err)
	}
	if env.State() != StateDraining {
		t.Errorf("state = %v, want draining", env.State())
	}
}

func TestResourceSpec_Validate(t *testing.T) {
	noop := func(context.Context) error { return nil }
	tests := []struct {
		name string
		spec ResourceSpec
		ok   bool
	}{
		{"safe plain", ResourceSpec{Name: "cfg", Policy: PolicySnapshotSafe}, true},
		{"reacquire with restore", ResourceSpec{Name: "db", Policy: PolicyMustReacquire, Restore: noop}, true},
		{"no name", ResourceSpec{Policy: PolicySnapshotSafe}, false},
		{"unknown policy", ResourceSpec{Name: "x", Policy: "sometimes"}, false},
		{"safe with restore", ResourceSpec{Name: "x", Policy: PolicySnapshotSafe, Restore: noop}, false},
		{"reacquire with capture", ResourceSpec{Name: "x", Policy: PolicyMustReacquire, Restore: noop,
			Capture: func(context.Context) ([]byte, error) { return nil, nil }}, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if err := tt.spec.validate(); (err == nil) != tt.ok {
				t.Errorf("validate() = %v, want ok=%v", err, tt.ok)
			}
		})
	}
}

func TestEnvironment_DuplicateResource(t *testing.T) {
	env := newEnv(t)
	if err := env.Declare(EntropyResource()); err != nil {
		t.Fatalf("Declare() error = %v", err)
	}
	if err := env.Declare(EntropyResource()); !errors.Is(err, ErrDuplicateResource) {
		t.Errorf("second Declare() = %v, want ErrDuplicateResource", err)
	}
}

func TestEnvironment_ColdStartTimeout(t *testing.T) {
	env := NewEnvironment(Config{ColdStartTimeout: 20 * time.Millisecond, BuildVersion: "v1"})
	release := make(chan struct{})
	defer close(release)

	start := time.Now()
	err := env.Initialize(context.Background(), BootstrapFunc(func(_ context.Context, env *Environment, _ *registry.Registry) error {
		return env.Declare(ResourceSpec{
			Name:   "slow",
			Policy: PolicySnapshotSafe,
			Warm: func(context.Context) error {
				<-release // ignores cancellation
				return nil
			},
		})
	}))

	if !errors.Is(err, domain.ErrInitFailure) || !errors.Is(err, domain.ErrTimeout) {
		t.Errorf("Initialize() = %v, want ErrInitFailure caused by ErrTimeout", err)
	}
	if elapsed := time.Since(start); elapsed > time.Second {
		t.Errorf("Initialize() took %v, want it bounded by the timeout", elapsed)
	}
	if env.State() != StateDraining {
		t.Errorf("state = %v, want draining", env.State())
	}
}

func TestEnvironment_RestoreHookFailureDrains(t *testing.T) {
	f := newFixture()
	f.conn.failWith = errors.New("dial tcp: connection refused")
	env := newEnv(t)

	err := env.Initialize(context.Background(), f)
	if domain.KindOf(err) != domain.KindRestoreFailure {
		t.Fatalf("Initialize() kind = %q, want RestoreFailure (%v)", domain.KindOf(err), err)
	}
	if env.State() != StateDraining {
		t.Errorf("state = %v, want draining", env.State())
	}
	if _, err := env.BeginInvocation(); !errors.Is(err, domain.ErrEnvironmentUnavailable) {
		t.Errorf("BeginInvocation() = %v, want ErrEnvironmentUnavailable", err)
	}
}

func TestEnvironment_ResumeFromImage(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()

	m1, _ := snapshot.NewManager(snapshot.Config{Dir: dir})
	first := newFixture()
	env1 := newEnv(t, WithImageStore(m1))
	if err := env1.Boot(ctx, first); err != nil {
		t.Fatalf("first Boot() error = %v", err)
	}
	if first.cache.warms.Load() != 1 {
		t.Fatalf("cold path should warm, warms = %d", first.cache.warms.Load())
	}

	// A fresh process with the same build resumes instead of warming.
	m2, _ := snapshot.NewManager(snapshot.Config{Dir: dir})
	second := newFixture()
	env2 := newEnv(t, WithImageStore(m2))
	if err := env2.Boot(ctx, second); err != nil {
		t.Fatalf("second Boot() error = %v", err)
	}

	if env2.State() != StateReady {
		t.Errorf("state = %v, want ready", env2.State())
	}
	if second.cache.warms.Load() != 0 {
		t.Errorf("resume should not warm, warms = %d", second.cache.warms.Load())
	}
	if string(second.cache.hydrated) != `{"warm":true}` {
		t.Errorf("hydrated = %s", second.cache.hydrated)
	}
	if second.conn.restores.Load() != 1 || second.hooks.Load() != 1 {
		t.Errorf("restores=%d hooks=%d, want 1/1", second.conn.restores.Load(), second.hooks.Load())
	}
	if env2.Image().ID != env1.Image().ID {
		t.Errorf("resumed image = %s, want %s", env2.Image().ID, env1.Image().ID)
	}
}

func TestEnvironment_ResumeRejectsMismatch(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	m, _ := snapshot.NewManager(snapshot.Config{Dir: dir})
	if err := newEnv(t, WithImageStore(m)).Initialize(ctx, newFixture()); err != nil {
		t.Fatalf("Initialize() error = %v", err)
	}

	t.Run("fingerprint", func(t *testing.T) {
		f := newFixture()
		f.route = "greet.v2"
		env := newEnv(t, WithImageStore(m))
		err := env.Resume(ctx, f)
		if domain.KindOf(err) != domain.KindRestoreFailure {
			t.Errorf("Resume() = %v, want RestoreFailure", err)
		}
		if env.State() != StateDraining {
			t.Errorf("state = %v, want draining", env.State())
		}
	})

	t.Run("build version", func(t *testing.T) {
		env := NewEnvironment(Config{BuildVersion: "v2"}, WithImageStore(m))
		if err := env.Resume(ctx, newFixture()); domain.KindOf(err) != domain.KindRestoreFailure {
			t.Errorf("Resume() = %v, want RestoreFailure", err)
		}
	})

	t.Run("boot with another build initializes cold", func(t *testing.T) {
		f := newFixture()
		env := NewEnvironment(Config{BuildVersion: "v2"}, WithImageStore(m))
		if err := env.Boot(ctx, f); err != nil {
			t.Fatalf("Boot() error = %v", err)
		}
		if f.cache.warms.Load() != 1 {
			t.Errorf("warms = %d, want cold path", f.cache.warms.Load())
		}
	})
}

func TestEnvironment_ResumeWithoutImage(t *testing.T) {
	m, _ := snapshot.NewManager(snapshot.Config{Dir: t.TempDir()})
	env := newEnv(t, WithImageStore(m))

	err := env.Resume(context.Background(), newFixture())
	if !errors.Is(err, domain.ErrRestoreFailure) || !errors.Is(err, snapshot.ErrNoSnapshots) {
		t.Errorf("Resume() = %v, want RestoreFailure caused by ErrNoSnapshots", err)
	}
}

func TestEnvironment_ModeOffDoesNotPersist(t *testing.T) {
	m, _ := snapshot.NewManager(snapshot.Config{Dir: t.TempDir()})
	env := NewEnvironment(Config{BuildVersion: "v1", Mode: ModeOff}, WithImageStore(m))
	if err := env.Boot(context.Background(), newFixture()); err != nil {
		t.Fatalf("Boot() error = %v", err)
	}
	infos, _ := m.List()
	if len(infos) != 0 {
		t.Errorf("images = %d, want none with snapshots off", len(infos))
	}
}

func TestEnvironment_InvocationGate(t *testing.T) {
	env := newEnv(t)
	if _, err := env.BeginInvocation(); !errors.Is(err, domain.ErrEnvironmentUnavailable) {
		t.Fatalf("BeginInvocation() while cold = %v, want ErrEnvironmentUnavailable", err)
	}
	if err := env.Initialize(context.Background(), newFixture()); err != nil {
		t.Fatalf("Initialize() error = %v", err)
	}

	done, err := env.BeginInvocation()
	if err != nil {
		t.Fatalf("BeginInvocation() error = %v", err)
	}

	drained := make(chan error, 1)
	go func() { drained <- env.Drain(context.Background()) }()

	select {
	case <-drained:
		t.Fatal("Drain() returned with an invocation in flight")
	case <-time.After(30 * time.Millisecond):
	}

	done()
	done() // second call is a no-op
	if err := <-drained; err != nil {
		t.Errorf("Drain() error = %v", err)
	}
	if env.Invocations() != 1 {
		t.Errorf("Invocations() = %d, want 1", env.Invocations())
	}
	if _, err := env.BeginInvocation(); !errors.Is(err, domain.ErrEnvironmentUnavailable) {
		t.Errorf("BeginInvocation() while draining = %v", err)
	}
}

func TestEnvironment_Stats(t *testing.T) {
	now := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	env := newEnv(t, WithClock(func() time.Time { return now }))
	if err := env.Initialize(context.Background(), newFixture()); err != nil {
		t.Fatalf("Initialize() error = %v", err)
	}
	now = now.Add(90 * time.Second)

	s := env.Stats()
	if s.State != int(StateReady) || s.Resources != 3 || s.ImageAgeSeconds != 90 {
		t.Errorf("Stats() = %+v", s)
	}
}
