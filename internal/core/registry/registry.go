package registry

import (
	"context"
	"encoding/binary"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/spaolacci/murmur3"

	"github.com/yndnr/snapfn-go/internal/core/domain"
)

var (
	// ErrSealed is returned by Register after the registry was sealed.
	ErrSealed = domain.NewDomainError("SF-REG-4091", domain.KindInternal, "handler registry is sealed")

	// ErrDuplicateRoute is returned when a route is registered twice.
	ErrDuplicateRoute = domain.NewDomainError("SF-REG-4090", domain.KindInvalidArgument, "route already registered")
)

// Handler processes one decoded event. The returned value is encoded as the
// invocation result; a nil value encodes as JSON null.
type Handler interface {
	Handle(ctx context.Context, ev *domain.Event) (any, error)
}

// HandlerFunc adapts a function to Handler.
type HandlerFunc func(ctx context.Context, ev *domain.Event) (any, error)

// Handle calls f.
func (f HandlerFunc) Handle(ctx context.Context, ev *domain.Event) (any, error) {
	return f(ctx, ev)
}

// Registry maps route keys to handlers. It is populated during
// initialization and read-only once sealed.
type Registry struct {
	mu       sync.RWMutex
	handlers map[string]Handler
	sealed   bool
}

// New creates an empty registry.
func New() *Registry {
	return &Registry{handlers: make(map[string]Handler)}
}

// Register binds route to h.
func (r *Registry) Register(route string, h Handler) error {
	route = strings.TrimSpace(route)
	if route == "" {
		return domain.ErrMissingArgument.WithDetails("route is required")
	}
	if h == nil {
		return domain.ErrMissingArgument.WithDetails("handler is required for route " + route)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if r.sealed {
		return ErrSealed.WithDetails(route)
	}
	if _, ok := r.handlers[route]; ok {
		return ErrDuplicateRoute.WithDetails(route)
	}
	r.handlers[route] = h
	return nil
}

// MustRegister is Register for static route tables.
func (r *Registry) MustRegister(route string, h Handler) {
	if err := r.Register(route, h); err != nil {
		panic(fmt.Sprintf("registry: %v", err))
	}
}

// Resolve returns the handler bound to route.
func (r *Registry) Resolve(route string) (Handler, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	h, ok := r.handlers[route]
	return h, ok
}

// Routes returns the registered routes in sorted order.
func (r *Registry) Routes() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	routes := make([]string, 0, len(r.handlers))
	for route := range r.handlers {
		routes = append(routes, route)
	}
	sort.Strings(routes)
	return routes
}

// Len returns the number of registered routes.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.handlers)
}

// Seal freezes the route table.
func (r *Registry) Seal() {
	r.mu.Lock()
	r.sealed = true
	r.mu.Unlock()
}

// Sealed reports whether Seal was called.
func (r *Registry) Sealed() bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.sealed
}

// Fingerprint identifies the route table. A restored image is only valid
// for a process whose registry has the same fingerprint.
func (r *Registry) Fingerprint() string {
	return Fingerprint(r.Routes())
}

// Fingerprint hashes a sorted route list with MurmurHash3.
func Fingerprint(routes []string) string {
	h := murmur3.New128()
	var n [4]byte
	for _, route := range routes {
		// Length prefix keeps ["ab","c"] and ["a","bc"] apart.
		binary.BigEndian.PutUint32(n[:], uint32(len(route)))
		h.Write(n[:])
		h.Write([]byte(route))
	}
	hi, lo := h.Sum128()
	return fmt.Sprintf("%016x%016x", hi, lo)
}
