package lifecycle

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/yndnr/snapfn-go/internal/core/domain"
	"github.com/yndnr/snapfn-go/internal/core/registry"
	"github.com/yndnr/snapfn-go/internal/storage/snapshot"
	"github.com/yndnr/snapfn-go/internal/telemetry/logger"
	"github.com/yndnr/snapfn-go/internal/telemetry/metric"
)

// Mode selects whether images are persisted and resumed from.
type Mode string

const (
	ModeAuto Mode = "auto"
	ModeOff  Mode = "off"
)

// DefaultColdStartTimeout bounds initialization when no timeout is configured.
const DefaultColdStartTimeout = 10 * time.Second

// Config configures an Environment.
type Config struct {
	// ColdStartTimeout bounds Initialize and Resume. Zero disables the bound.
	ColdStartTimeout time.Duration

	// BuildVersion is recorded in images and must match on resume.
	BuildVersion string

	Mode Mode
}

// DefaultConfig returns the default environment configuration.
func DefaultConfig() Config {
	return Config{
		ColdStartTimeout: DefaultColdStartTimeout,
		BuildVersion:     "dev",
		Mode:             ModeAuto,
	}
}

// Bootstrap populates a fresh environment: it registers handlers and
// declares resources. It runs on both the cold and the resume path, so it
// must be deterministic for a given build.
type Bootstrap interface {
	Declare(ctx context.Context, env *Environment, reg *registry.Registry) error
}

// BootstrapFunc adapts a function to Bootstrap.
type BootstrapFunc func(ctx context.Context, env *Environment, reg *registry.Registry) error

// Declare calls f.
func (f BootstrapFunc) Declare(ctx context.Context, env *Environment, reg *registry.Registry) error {
	return f(ctx, env, reg)
}

type restoreHook struct {
	name  string
	fn    func(ctx context.Context) error
	epoch uint64 // epoch the hook last ran in
}

// Environment owns the lifecycle of one execution environment: its
// resources, its handler registry and the snapshot image it was captured
// into or resumed from.
type Environment struct {
	cfg      Config
	registry *registry.Registry
	store    ImageStore
	metrics  *metric.Registry
	now      func() time.Time

	state       atomic.Int32
	invocations atomic.Uint64

	// opMu serializes Initialize, Resume, CaptureSnapshotPoint and Restore.
	opMu sync.Mutex

	mu        sync.Mutex
	resources []*resource
	hooks     []*restoreHook
	invalid   []error
	captured  bool
	started   bool
	active    int
	epoch     uint64
	image     *Image
}

// Option configures an Environment.
type Option func(*Environment)

// WithImageStore persists captured images and enables Resume.
func WithImageStore(s ImageStore) Option {
	return func(e *Environment) {
		e.store = s
	}
}

// WithRegistry uses reg instead of a fresh registry.
func WithRegistry(reg *registry.Registry) Option {
	return func(e *Environment) {
		e.registry = reg
	}
}

// WithMetrics records boot durations and exports environment stats.
func WithMetrics(m *metric.Registry) Option {
	return func(e *Environment) {
		e.metrics = m
	}
}

// WithClock overrides time.Now.
func WithClock(now func() time.Time) Option {
	return func(e *Environment) {
		e.now = now
	}
}

// NewEnvironment creates an environment in the cold state.
func NewEnvironment(cfg Config, opts ...Option) *Environment {
	if cfg.Mode == "" {
		cfg.Mode = ModeAuto
	}

	e := &Environment{
		cfg: cfg,
		now: time.Now,
	}
	for _, opt := range opts {
		opt(e)
	}
	if e.registry == nil {
		e.registry = registry.New()
	}
	e.state.Store(int32(StateCold))

	if err := e.metrics.RegisterEnvironment(e.Stats); err != nil {
		logger.Warn("environment metrics not registered", "error", err)
	}
	return e
}

// State returns the current lifecycle state.
func (e *Environment) State() State {
	return State(e.state.Load())
}

// Registry returns the environment's handler registry.
func (e *Environment) Registry() *registry.Registry {
	return e.registry
}

// Image returns the active image, or nil before capture or resume.
func (e *Environment) Image() *Image {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.image
}

// Invocations returns the number of invocations begun so far.
func (e *Environment) Invocations() uint64 {
	return e.invocations.Load()
}

// Stats reports the environment for the metrics collector.
func (e *Environment) Stats() metric.EnvironmentStats {
	e.mu.Lock()
	n := len(e.resources)
	img := e.image
	e.mu.Unlock()

	stats := metric.EnvironmentStats{
		State:       int(e.State()),
		Invocations: e.invocations.Load(),
		Resources:   n,
	}
	if img != nil {
		stats.ImageAgeSeconds = e.now().Sub(img.CreatedAt).Seconds()
	}
	return stats
}

// Declare registers a resource. A must-reacquire resource without a Restore
// hook is rejected here and again by Initialize.
func (e *Environment) Declare(spec ResourceSpec) error {
	spec.Name = strings.TrimSpace(spec.Name)

	e.mu.Lock()
	defer e.mu.Unlock()

	if err := spec.validate(); err != nil {
		e.invalid = append(e.invalid, err)
		return err
	}
	if e.captured {
		return ErrAlreadyCaptured.WithDetails("cannot declare " + spec.Name)
	}
	for _, r := range e.resources {
		if r.spec.Name == spec.Name {
			return ErrDuplicateResource.WithDetails(spec.Name)
		}
	}
	e.resources = append(e.resources, &resource{spec: spec})
	return nil
}

// OnRestore registers a hook that runs once per restore. Hooks can only be
// added before the snapshot point.
func (e *Environment) OnRestore(name string, hook func(ctx context.Context) error) error {
	if hook == nil {
		return domain.ErrMissingArgument.WithDetails("restore hook " + name)
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	if e.captured {
		return ErrAlreadyCaptured.WithDetails("cannot add restore hook " + name)
	}
	e.hooks = append(e.hooks, &restoreHook{name: name, fn: hook})
	return nil
}

// Boot resumes from the latest image when snapshots are enabled and an image
// from this build exists, and initializes from scratch otherwise.
func (e *Environment) Boot(ctx context.Context, boot Bootstrap) error {
	if e.cfg.Mode == ModeAuto && e.store != nil {
		_, info, err := e.store.Latest()
		switch {
		case err == nil && info.BuildVersion == e.cfg.BuildVersion:
			return e.Resume(ctx, boot)
		case err == nil:
			logger.L(ctx).Info("ignoring image from another build",
				"image", info.ID,
				"image_build", info.BuildVersion,
				"build", e.cfg.BuildVersion)
		case errors.Is(err, snapshot.ErrNoSnapshots):
		default:
			logger.L(ctx).Warn("latest image unreadable, initializing cold", "error", err)
		}
	}
	return e.Initialize(ctx, boot)
}

// Initialize runs the cold path: declare, warm, capture the snapshot point,
// perform the first restore and become ready.
func (e *Environment) Initialize(ctx context.Context, boot Bootstrap) error {
	e.opMu.Lock()
	defer e.opMu.Unlock()

	if s := e.State(); s != StateCold {
		return ErrWrongState.WithDetails("initialize from " + s.String())
	}

	err := e.bounded(ctx, "cold", func(ctx context.Context) error {
		return e.initialize(ctx, boot)
	})
	if err != nil {
		e.state.Store(int32(StateDraining))
		if domain.KindOf(err) == domain.KindRestoreFailure {
			return err
		}
		return domain.ErrInitFailure.WithCause(err).WithDetails(err.Error())
	}
	return nil
}

func (e *Environment) initialize(ctx context.Context, boot Bootstrap) error {
	if err := boot.Declare(ctx, e, e.registry); err != nil {
		return fmt.Errorf("bootstrap: %w", err)
	}
	if err := e.checkDeclarations(); err != nil {
		return err
	}

	e.mu.Lock()
	resources := append([]*resource(nil), e.resources...)
	e.mu.Unlock()

	for _, r := range resources {
		if r.spec.Warm == nil {
			continue
		}
		if err := r.spec.Warm(ctx); err != nil {
			return fmt.Errorf("warm %s: %w", r.spec.Name, err)
		}
	}

	if _, err := e.capture(ctx); err != nil {
		return err
	}
	if err := e.restore(ctx); err != nil {
		return domain.ErrRestoreFailure.WithCause(err).WithDetails(err.Error())
	}

	if !e.state.CompareAndSwap(int32(StateCold), int32(StateReady)) {
		return ErrWrongState.WithDetails("environment left cold state during initialization")
	}
	logger.L(ctx).Info("environment ready",
		"path", "cold",
		"routes", e.registry.Len(),
		"resources", len(resources))
	return nil
}

func (e *Environment) checkDeclarations() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if len(e.invalid) > 0 {
		return errors.Join(e.invalid...)
	}
	return nil
}

// CaptureSnapshotPoint takes the environment's one image. Must-reacquire
// resources are released and marked for refresh, snapshot-safe state is
// collected and the registry is sealed. The image is persisted when an image
// store is configured and snapshots are enabled.
func (e *Environment) CaptureSnapshotPoint(ctx context.Context) (*Image, error) {
	e.opMu.Lock()
	defer e.opMu.Unlock()
	return e.capture(ctx)
}

func (e *Environment) capture(ctx context.Context) (*Image, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.started {
		return nil, ErrInvocationsStarted
	}
	if e.captured {
		return nil, ErrAlreadyCaptured
	}

	img := &Image{
		ID:           strings.ToLower(ulid.Make().String()),
		CreatedAt:    e.now().UTC(),
		BuildVersion: e.cfg.BuildVersion,
	}

	for _, r := range e.resources {
		entry := ImageResource{Name: r.spec.Name, Policy: r.spec.Policy}
		switch r.spec.Policy {
		case PolicyMustReacquire:
			if r.spec.Release != nil {
				if err := r.spec.Release(ctx); err != nil {
					return nil, fmt.Errorf("release %s: %w", r.spec.Name, err)
				}
			}
			r.needsRefresh = true
		case PolicySnapshotSafe:
			if r.spec.Capture != nil {
				state, err := r.spec.Capture(ctx)
				if err != nil {
					return nil, fmt.Errorf("capture %s: %w", r.spec.Name, err)
				}
				entry.State = state
			}
		}
		img.Resources = append(img.Resources, entry)
	}

	e.registry.Seal()
	img.Routes = e.registry.Routes()
	img.Fingerprint = registry.Fingerprint(img.Routes)

	e.captured = true
	e.epoch++
	e.image = img

	if e.store != nil && e.cfg.Mode != ModeOff {
		payload, err := json.Marshal(img)
		if err != nil {
			return nil, fmt.Errorf("encode image: %w", err)
		}
		info, err := e.store.Save(snapshot.Meta{
			BuildVersion: img.BuildVersion,
			Fingerprint:  img.Fingerprint,
		}, payload)
		if err != nil {
			return nil, fmt.Errorf("persist image: %w", err)
		}
		logger.L(ctx).Info("snapshot image saved",
			"image", img.ID,
			"file", info.ID,
			"size", info.Size,
			"encrypted", info.Encrypted)
	}

	logger.L(ctx).Info("snapshot point captured",
		"image", img.ID,
		"fingerprint", img.Fingerprint,
		"routes", len(img.Routes),
		"resources", len(img.Resources))
	return img, nil
}

// Resume restores a fresh process from the latest persisted image.
func (e *Environment) Resume(ctx context.Context, boot Bootstrap) error {
	e.opMu.Lock()
	defer e.opMu.Unlock()

	if !e.state.CompareAndSwap(int32(StateCold), int32(StateRestoring)) {
		return ErrWrongState.WithDetails("resume from " + e.State().String())
	}

	err := e.bounded(ctx, "restore", func(ctx context.Context) error {
		return e.resume(ctx, boot)
	})
	if err != nil {
		return e.fail(ctx, err)
	}
	return nil
}

func (e *Environment) resume(ctx context.Context, boot Bootstrap) error {
	if e.store == nil {
		return errors.New("no image store configured")
	}
	payload, info, err := e.store.Latest()
	if err != nil {
		return fmt.Errorf("load image: %w", err)
	}

	var img Image
	if err := json.Unmarshal(payload, &img); err != nil {
		return fmt.Errorf("decode image %s: %w", info.ID, err)
	}

	if err := boot.Declare(ctx, e, e.registry); err != nil {
		return fmt.Errorf("bootstrap: %w", err)
	}
	if err := e.checkDeclarations(); err != nil {
		return err
	}

	if img.BuildVersion != e.cfg.BuildVersion {
		return fmt.Errorf("image built by %q, running %q", img.BuildVersion, e.cfg.BuildVersion)
	}
	if fp := e.registry.Fingerprint(); img.Fingerprint != fp {
		return fmt.Errorf("image route fingerprint %s does not match registry %s", img.Fingerprint, fp)
	}

	if err := e.hydrate(ctx, &img); err != nil {
		return err
	}
	if err := e.restore(ctx); err != nil {
		return err
	}

	if !e.state.CompareAndSwap(int32(StateRestoring), int32(StateReady)) {
		return ErrWrongState.WithDetails("environment left restoring state during resume")
	}
	logger.L(ctx).Info("environment ready",
		"path", "restore",
		"image", img.ID,
		"image_age", e.now().Sub(img.CreatedAt).Round(time.Millisecond).String())
	return nil
}

// hydrate checks the declared resources against the image and loads
// snapshot-safe state from it.
func (e *Environment) hydrate(ctx context.Context, img *Image) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if len(img.Resources) != len(e.resources) {
		return fmt.Errorf("image has %d resources, process declared %d", len(img.Resources), len(e.resources))
	}

	for _, r := range e.resources {
		entry, ok := img.resource(r.spec.Name)
		if !ok {
			return fmt.Errorf("resource %s is not in the image", r.spec.Name)
		}
		if entry.Policy != r.spec.Policy {
			return fmt.Errorf("resource %s is %s in the image, %s in this process", r.spec.Name, entry.Policy, r.spec.Policy)
		}

		switch r.spec.Policy {
		case PolicySnapshotSafe:
			if r.spec.Hydrate != nil && entry.State != nil {
				if err := r.spec.Hydrate(ctx, entry.State); err != nil {
					return fmt.Errorf("hydrate %s: %w", r.spec.Name, err)
				}
			}
		case PolicyMustReacquire:
			r.needsRefresh = true
		}
	}

	e.registry.Seal()
	e.captured = true
	e.epoch++
	e.image = img
	return nil
}

// Restore re-acquires every resource marked for refresh and runs restore
// hooks that have not run since the last snapshot point. Calling it again
// without an intervening snapshot does nothing.
func (e *Environment) Restore(ctx context.Context) error {
	e.opMu.Lock()
	defer e.opMu.Unlock()

	e.mu.Lock()
	captured := e.captured
	e.mu.Unlock()
	if !captured {
		return ErrWrongState.WithDetails("restore before a snapshot point")
	}

	if err := e.restore(ctx); err != nil {
		return e.fail(ctx, err)
	}
	return nil
}

func (e *Environment) restore(ctx context.Context) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if !e.captured {
		return ErrWrongState.WithDetails("restore before a snapshot point")
	}

	for _, r := range e.resources {
		if !r.needsRefresh {
			continue
		}
		if err := r.spec.Restore(ctx); err != nil {
			return fmt.Errorf("restore %s: %w", r.spec.Name, err)
		}
		r.needsRefresh = false
		logger.L(ctx).Debug("resource re-acquired", "resource", r.spec.Name)
	}

	for _, h := range e.hooks {
		if h.epoch == e.epoch {
			continue
		}
		if err := h.fn(ctx); err != nil {
			return fmt.Errorf("restore hook %s: %w", h.name, err)
		}
		h.epoch = e.epoch
	}
	return nil
}

// fail moves the environment to draining. Restore failures are fatal to the
// environment and never retried in-process.
func (e *Environment) fail(ctx context.Context, err error) error {
	e.state.Store(int32(StateDraining))
	logger.L(ctx).Error("restore failed, environment draining", "error", err)

	if domain.KindOf(err) == domain.KindRestoreFailure {
		return err
	}
	return domain.ErrRestoreFailure.WithCause(err).WithDetails(err.Error())
}

// bounded runs fn under the cold start timeout. When the timeout fires
// first, fn is abandoned and the environment starts draining.
func (e *Environment) bounded(ctx context.Context, path string, fn func(ctx context.Context) error) error {
	start := e.now()
	defer func() {
		e.metrics.ObserveBoot(path, e.now().Sub(start))
	}()

	if e.cfg.ColdStartTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, e.cfg.ColdStartTimeout)
		defer cancel()
	}

	done := make(chan error, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				done <- fmt.Errorf("panic during %s boot: %v", path, r)
			}
		}()
		done <- fn(ctx)
	}()

	select {
	case err := <-done:
		return err
	case <-ctx.Done():
		e.state.Store(int32(StateDraining))
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return domain.ErrTimeout.WithCause(ctx.Err()).
				WithDetails(fmt.Sprintf("%s boot exceeded %s", path, e.cfg.ColdStartTimeout))
		}
		return ctx.Err()
	}
}

// BeginInvocation admits one invocation. It fails unless the environment is
// ready. The returned func must be called when the invocation ends.
func (e *Environment) BeginInvocation() (func(), error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if s := e.State(); s != StateReady {
		return nil, domain.ErrEnvironmentUnavailable.WithDetails("environment is " + s.String())
	}
	e.started = true
	e.active++
	e.invocations.Add(1)

	var once sync.Once
	return func() {
		once.Do(func() {
			e.mu.Lock()
			e.active--
			e.mu.Unlock()
		})
	}, nil
}

// Drain stops admitting invocations and waits for in-flight ones to end.
func (e *Environment) Drain(ctx context.Context) error {
	e.state.Store(int32(StateDraining))

	ticker := time.NewTicker(10 * time.Millisecond)
	defer ticker.Stop()
	for {
		e.mu.Lock()
		active := e.active
		e.mu.Unlock()
		if active == 0 {
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}
