package httpserver

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/yndnr/snapfn-go/internal/server/httpserver/handler"
)

// LambdaInvokePath is the invoke path of the platform's runtime interface
// emulator, so existing tooling can target the local server unchanged.
const LambdaInvokePath = "/2015-03-31/functions/function/invocations"

// RouterConfig holds the collaborators of the HTTP router.
type RouterConfig struct {
	Invoker     handler.Invoker
	Environment handler.Environment

	// Metrics serves /metrics. Nil disables the endpoint.
	Metrics http.Handler

	Logger *slog.Logger
}

// NewRouter creates the emulator router.
func NewRouter(cfg *RouterConfig) http.Handler {
	log := cfg.Logger
	if log == nil {
		log = slog.Default()
	}
	h := handler.New(cfg.Invoker, cfg.Environment, log)

	r := chi.NewRouter()
	r.Use(Recover(log))
	r.Use(RequestID())
	r.Use(AccessLog(log))
	r.Use(middleware.CleanPath)

	r.Get("/health", h.Health)
	r.Get("/ready", h.Ready)
	r.Get("/snapshot", h.Snapshot)
	if cfg.Metrics != nil {
		r.Method(http.MethodGet, "/metrics", cfg.Metrics)
	}

	r.Group(func(r chi.Router) {
		r.Use(middleware.AllowContentType("application/json", "text/plain", ""))
		r.Post(LambdaInvokePath, h.LambdaInvoke)
		r.Post("/invoke", h.Invoke)
	})

	return r
}
