package bootstrap

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"

	"github.com/yndnr/snapfn-go/internal/core/dispatch"
	"github.com/yndnr/snapfn-go/internal/core/lifecycle"
	"github.com/yndnr/snapfn-go/internal/core/registry"
	"github.com/yndnr/snapfn-go/internal/core/service"
	"github.com/yndnr/snapfn-go/internal/functions"
	"github.com/yndnr/snapfn-go/internal/infra/buildinfo"
	"github.com/yndnr/snapfn-go/internal/infra/retry"
	"github.com/yndnr/snapfn-go/internal/server/config"
	"github.com/yndnr/snapfn-go/internal/storage"
	"github.com/yndnr/snapfn-go/internal/storage/dynamo"
	"github.com/yndnr/snapfn-go/internal/storage/snapshot"
	"github.com/yndnr/snapfn-go/internal/telemetry/logger"
	"github.com/yndnr/snapfn-go/internal/telemetry/metric"
)

// App is one assembled execution environment.
type App struct {
	Config     *config.Config
	Log        logger.Logger
	Metrics    *metric.Registry
	Repo       service.StateRepository
	State      *service.StateClient
	Images     *snapshot.Manager // nil when snapshots are off
	Env        *lifecycle.Environment
	Dispatcher *dispatch.Dispatcher
}

// Option configures New.
type Option func(*options)

type options struct {
	logOutput io.Writer
	buildTag  string
}

// WithLogOutput sends logs to w instead of stderr.
func WithLogOutput(w io.Writer) Option {
	return func(o *options) {
		o.logOutput = w
	}
}

// WithBuildVersion overrides the build version recorded in images.
func WithBuildVersion(v string) Option {
	return func(o *options) {
		o.buildTag = v
	}
}

// New wires every component for cfg. The environment is left cold; call
// Boot before dispatching.
func New(ctx context.Context, cfg *config.Config, opts ...Option) (*App, error) {
	o := options{
		logOutput: os.Stderr,
		buildTag:  buildinfo.ImageTag(),
	}
	for _, opt := range opts {
		opt(&o)
	}

	log, err := logger.New(logger.Config{
		Level:  cfg.Log.Level,
		Format: cfg.Log.Format,
		Output: o.logOutput,
	})
	if err != nil {
		return nil, fmt.Errorf("init logger: %w", err)
	}
	if cfg.Runtime.FunctionName != "" {
		log = log.With("function", cfg.Runtime.FunctionName)
	}
	logger.SetDefault(log)

	metrics := metric.NewRegistry()

	repo, err := storage.Open(ctx, StorageConfig(cfg, logger.Slog(log)))
	if err != nil {
		return nil, fmt.Errorf("open store: %w", err)
	}

	state := service.NewStateClient(repo, service.StateClientConfig{
		Retry: retry.Policy{
			MaxAttempts: cfg.Store.MaxAttempts,
			BaseBackoff: cfg.Store.BaseBackoff,
			MaxBackoff:  cfg.Store.MaxBackoff,
		},
		ConsistentReads: cfg.Store.ConsistentReads,
		RateLimit:       cfg.Store.RateLimit,
	}, service.WithMetrics(metrics))

	envOpts := []lifecycle.Option{lifecycle.WithMetrics(metrics)}
	var images *snapshot.Manager
	if lifecycle.Mode(cfg.Snapshot.Mode) == lifecycle.ModeAuto {
		images, err = OpenImages(cfg)
		if err != nil {
			_ = repo.Close()
			return nil, err
		}
		envOpts = append(envOpts, lifecycle.WithImageStore(images))
	}

	env := lifecycle.NewEnvironment(lifecycle.Config{
		ColdStartTimeout: cfg.Runtime.ColdStartTimeout(),
		BuildVersion:     o.buildTag,
		Mode:             lifecycle.Mode(cfg.Snapshot.Mode),
	}, envOpts...)

	d := dispatch.New(env.Registry(), env, dispatch.Config{
		DefaultTimeout: cfg.Runtime.InvocationTimeout,
		TimeoutGrace:   cfg.Runtime.TimeoutGrace,
	}, dispatch.WithMetrics(metrics))

	return &App{
		Config:     cfg,
		Log:        log,
		Metrics:    metrics,
		Repo:       repo,
		State:      state,
		Images:     images,
		Env:        env,
		Dispatcher: d,
	}, nil
}

// StorageConfig maps the store section onto the backend configuration.
func StorageConfig(cfg *config.Config, log *slog.Logger) storage.Config {
	sc := storage.DefaultConfig(cfg.Store.DataDir)
	sc.Engine = strings.ToLower(cfg.Store.Engine)
	sc.Logger = log
	sc.Dynamo = dynamo.Config{
		Table:    cfg.Store.TableName,
		Region:   cfg.Store.Region,
		Endpoint: cfg.Store.Endpoint,
	}
	return sc
}

// OpenImages opens the image directory with the configured key.
func OpenImages(cfg *config.Config) (*snapshot.Manager, error) {
	key, err := snapshot.ParseKey(cfg.Snapshot.EncryptionKey)
	if err != nil {
		return nil, err
	}
	mc := snapshot.DefaultConfig(cfg.Snapshot.Dir)
	mc.Keep = cfg.Snapshot.Keep
	mc.Key = key
	m, err := snapshot.NewManager(mc)
	if err != nil {
		return nil, fmt.Errorf("open images: %w", err)
	}
	return m, nil
}

// Boot brings the environment to ready, resuming from the latest image of
// this build when one exists.
func (a *App) Boot(ctx context.Context) error {
	if err := a.Env.Boot(ctx, lifecycle.BootstrapFunc(a.declare)); err != nil {
		return err
	}
	if a.Images != nil {
		if n, err := a.Images.Prune(0); err != nil {
			a.Log.Warn("image prune failed", "error", err)
		} else if n > 0 {
			a.Log.Debug("old images pruned", "removed", n)
		}
	}
	return nil
}

// Capture initializes cold, ignoring existing images, so a fresh image of
// this build is written. It fails when snapshots are off.
func (a *App) Capture(ctx context.Context) (*lifecycle.Image, error) {
	if a.Images == nil {
		return nil, errors.New("snapshots are off")
	}
	if err := a.Env.Initialize(ctx, lifecycle.BootstrapFunc(a.declare)); err != nil {
		return nil, err
	}
	if _, err := a.Images.Prune(0); err != nil {
		a.Log.Warn("image prune failed", "error", err)
	}
	return a.Env.Image(), nil
}

// declare registers the business routes and the process resources. It runs
// on both the cold and the resume path.
func (a *App) declare(_ context.Context, env *lifecycle.Environment, reg *registry.Registry) error {
	if err := env.Declare(lifecycle.EntropyResource()); err != nil {
		return err
	}
	switch repo := a.Repo.(type) {
	case storage.Reconnector:
		if err := env.Declare(lifecycle.ConnectionResource("store", repo)); err != nil {
			return err
		}
	case storage.Exporter:
		if err := env.Declare(lifecycle.ExportedResource("store", repo)); err != nil {
			return err
		}
	}
	return functions.Register(reg, a.State, nil)
}

// Close drains in-flight work and releases the store.
func (a *App) Close(ctx context.Context) error {
	return errors.Join(a.Env.Drain(ctx), a.State.Close())
}
