package bootstrap

import (
	"context"
	"net"
	"time"

	"github.com/yndnr/snapfn-go/internal/infra/confloader"
	"github.com/yndnr/snapfn-go/internal/infra/shutdown"
	"github.com/yndnr/snapfn-go/internal/server/httpserver"
	"github.com/yndnr/snapfn-go/internal/server/lambdaserver"
	"github.com/yndnr/snapfn-go/internal/telemetry/logger"
)

// ShutdownTimeout bounds the shutdown hooks of a serving process.
const ShutdownTimeout = 10 * time.Second

func (a *App) shutdownHandler() *shutdown.Handler {
	h := shutdown.NewHandler(ShutdownTimeout, logger.Slog(a.Log))
	h.OnShutdown("store", func(context.Context) error {
		return a.State.Close()
	})
	h.OnShutdown("environment", a.Env.Drain)
	return h
}

// ServeHTTP boots the environment and serves the local emulator until ctx
// ends or a termination signal arrives. listening, when set, receives the
// bound address.
func (a *App) ServeHTTP(ctx context.Context, listening func(net.Addr)) error {
	if err := a.Boot(ctx); err != nil {
		_ = a.State.Close()
		return err
	}

	router := httpserver.NewRouter(&httpserver.RouterConfig{
		Invoker:     a.Dispatcher,
		Environment: a.Env,
		Metrics:     a.Metrics.Handler(),
		Logger:      logger.Slog(a.Log),
	})
	srv := httpserver.New(a.Config.Server.HTTP.Addr, router)
	addr, err := srv.Listen()
	if err != nil {
		_ = a.State.Close()
		return err
	}

	h := a.shutdownHandler()
	h.OnShutdown("http", srv.Shutdown)

	serveErr := make(chan error, 1)
	go func() {
		serveErr <- srv.Serve()
	}()

	a.Log.Info("emulator listening", "addr", addr.String())
	if listening != nil {
		listening(addr)
	}

	waitCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	go func() {
		if err := <-serveErr; err != nil {
			a.Log.Error("http server failed", "error", err)
			cancel()
		}
	}()

	return h.Wait(waitCtx)
}

// ServeLambda boots the environment and runs the platform's runtime API
// loop. It returns only if the loop does.
func (a *App) ServeLambda(ctx context.Context) error {
	if err := a.Boot(ctx); err != nil {
		_ = a.State.Close()
		return err
	}

	h := a.shutdownHandler()
	lambdaserver.New(a.Dispatcher).Start(ctx, func() {
		if err := h.Shutdown(); err != nil {
			a.Log.Error("shutdown failed", "error", err)
		}
	})
	return h.Shutdown()
}

// WatchConfig reapplies the log level whenever the config file changes.
// It does nothing when no file was loaded. The returned func stops the
// watcher.
func (a *App) WatchConfig(loader *confloader.Loader) (func() error, error) {
	path := loader.FilePath()
	if path == "" {
		return func() error { return nil }, nil
	}

	w, err := confloader.NewWatcher(confloader.WithWatcherLogger(logger.Slog(a.Log)))
	if err != nil {
		return nil, err
	}
	if err := w.Watch(path); err != nil {
		_ = w.Stop()
		return nil, err
	}
	w.OnChange(func(string) {
		cfg, err := Reload(loader)
		if err != nil {
			a.Log.Warn("config reload rejected", "error", err)
			return
		}
		if cfg.Log.Level != logger.GetLevel() {
			logger.SetLevel(cfg.Log.Level)
			a.Log.Info("log level changed", "level", cfg.Log.Level)
		}
	})
	w.StartAsync()
	return w.Stop, nil
}
