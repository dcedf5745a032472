package httpapi

import (
	"context"
	"log/slog"
	"time"

	"github.com/routeforge/routeforge/internal/compiler"
	"github.com/routeforge/routeforge/internal/events"
	"github.com/routeforge/routeforge/internal/exchange"
	"github.com/routeforge/routeforge/internal/routes"
)

// RegistryAPI is the catalog surface the handlers mutate and query. The
// registry satisfies it.
type RegistryAPI interface {
	Deploy(ctx context.Context, def *routes.Definition) error
	Start(ctx context.Context, tenantID, routeID string) error
	Stop(ctx context.Context, tenantID, routeID string) error
	Delete(ctx context.Context, tenantID, routeID string) error
	Get(tenantID, routeID string) (*routes.Definition, error)
	List(tenantID string) []*routes.Definition
	Active(tenantID, routeID string) (*compiler.Route, bool)
}

// Invoker runs a compiled route against an input exchange. The executor
// satisfies it.
type Invoker interface {
	Invoke(ctx context.Context, route *compiler.Route, ex *exchange.Exchange) (*exchange.Exchange, error)
}

// StreamBus is the event fan-out surface the stream endpoints consume.
type StreamBus interface {
	Subscribe(processID string) *events.Subscription
	Unsubscribe(sub *events.Subscription)
	Publish(event *events.Event)
}

// Option configures a Runner.
type Option func(*Runner)

// WithLogHandler sets a custom slog handler for the Runner instance.
func WithLogHandler(handler slog.Handler) Option {
	return func(r *Runner) {
		if handler != nil {
			r.logger = slog.New(handler).WithGroup("httpapi")
		}
	}
}

// WithDefaultTenant sets the tenant assumed when a request names none.
func WithDefaultTenant(tenant string) Option {
	return func(r *Runner) {
		if tenant != "" {
			r.tenant = tenant
		}
	}
}

// WithTimeouts overrides the HTTP server timeouts. Zero values keep the
// corresponding timeout disabled.
func WithTimeouts(read, write, idle, drain time.Duration) Option {
	return func(r *Runner) {
		r.readTimeout = read
		r.writeTimeout = write
		r.idleTimeout = idle
		if drain > 0 {
			r.drainTimeout = drain
		}
	}
}
