// Package httpapi exposes the route engine over HTTP: catalog mutations,
// route invocation, and the event push stream (SSE and WebSocket).
package httpapi

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/robbyt/go-supervisor/runnables/httpserver"
	"github.com/robbyt/go-supervisor/supervisor"
	"github.com/routeforge/routeforge/internal/server/finitestate"
)

var (
	_ supervisor.Runnable  = (*Runner)(nil)
	_ supervisor.Stateable = (*Runner)(nil)
)

// serverImplementation abstracts the underlying HTTP server sub-runnable.
type serverImplementation interface {
	Run(ctx context.Context) error
	Stop()
	GetState() string
	GetStateChan(ctx context.Context) <-chan string
}

// Runner wraps the go-supervisor httpserver.Runner with the API route table.
type Runner struct {
	address string
	server  serverImplementation
	logger  *slog.Logger

	registry RegistryAPI
	invoker  Invoker
	bus      StreamBus
	tenant   string

	readTimeout  time.Duration
	writeTimeout time.Duration
	idleTimeout  time.Duration
	drainTimeout time.Duration
}

// NewRunner creates the API server runnable listening on address.
func NewRunner(address string, registry RegistryAPI, invoker Invoker, bus StreamBus, opts ...Option) (*Runner, error) {
	r := &Runner{
		address:  address,
		logger:   slog.Default().WithGroup("httpapi"),
		registry: registry,
		invoker:  invoker,
		bus:      bus,
		tenant:   "default",
		// The stream endpoints hold their connection open far longer than a
		// request/response cycle, so the server write timeout stays off.
		readTimeout:  30 * time.Second,
		idleTimeout:  5 * time.Minute,
		drainTimeout: 10 * time.Second,
	}
	for _, opt := range opts {
		opt(r)
	}

	if err := r.initializeRunner(); err != nil {
		return nil, fmt.Errorf("failed to initialize API server runner: %w", err)
	}
	return r, nil
}

// initializeRunner creates the underlying httpserver.Runner with a config
// callback that materializes the API route table.
func (r *Runner) initializeRunner() error {
	configCallback := func() (*httpserver.Config, error) {
		routes, err := r.buildRoutes()
		if err != nil {
			return nil, err
		}

		options := []httpserver.ConfigOption{
			httpserver.WithDrainTimeout(r.drainTimeout),
		}
		if r.readTimeout > 0 {
			options = append(options, httpserver.WithReadTimeout(r.readTimeout))
		}
		if r.writeTimeout > 0 {
			options = append(options, httpserver.WithWriteTimeout(r.writeTimeout))
		}
		if r.idleTimeout > 0 {
			options = append(options, httpserver.WithIdleTimeout(r.idleTimeout))
		}

		config, err := httpserver.NewConfig(r.address, routes, options...)
		if err != nil {
			return nil, fmt.Errorf("failed to create API server config: %w", err)
		}
		return config, nil
	}

	runner, err := httpserver.NewRunner(httpserver.WithConfigCallback(configCallback))
	if err != nil {
		return fmt.Errorf("failed to create API server runner: %w", err)
	}
	r.server = runner
	return nil
}

// buildRoutes assembles the API route table.
func (r *Runner) buildRoutes() ([]httpserver.Route, error) {
	specs := []struct {
		id      string
		path    string
		handler http.HandlerFunc
	}{
		{"health", "/healthz", r.handleHealth},
		{"routes-deploy", "/api/routes/deploy", r.handleDeploy},
		{"routes-list", "/api/routes", r.handleList},
		{"routes-get", "/api/routes/get", r.handleGet},
		{"routes-start", "/api/routes/start", r.handleStart},
		{"routes-stop", "/api/routes/stop", r.handleStop},
		{"routes-delete", "/api/routes/delete", r.handleDelete},
		{"routes-invoke", "/api/routes/invoke", r.handleInvoke},
		{"events-publish", "/api/events/publish", r.handlePublishEvent},
		{"events-stream", "/api/events/stream", r.handleStream},
		{"events-ws", "/api/events/ws", r.handleWebSocket},
	}

	routes := make([]httpserver.Route, 0, len(specs))
	for _, spec := range specs {
		route, err := httpserver.NewRouteFromHandlerFunc(spec.id, spec.path, spec.handler)
		if err != nil {
			return nil, fmt.Errorf("failed to build route %s: %w", spec.id, err)
		}
		routes = append(routes, *route)
	}
	return routes, nil
}

// String returns a unique identifier for this server.
func (r *Runner) String() string {
	return fmt.Sprintf("httpapi.Runner[%s]", r.address)
}

// Run starts the API server.
func (r *Runner) Run(ctx context.Context) error {
	r.logger.Info("Starting API server", "address", r.address)
	return r.server.Run(ctx)
}

// Stop stops the API server.
func (r *Runner) Stop() {
	r.logger.Info("Stopping API server", "address", r.address)
	r.server.Stop()
}

// GetState returns the current state of the server.
func (r *Runner) GetState() string {
	if r.server == nil {
		return "unknown"
	}
	return r.server.GetState()
}

// IsRunning returns whether the server is running.
func (r *Runner) IsRunning() bool {
	return r.server != nil && r.server.GetState() == finitestate.StatusRunning
}

// GetStateChan returns a channel that emits state changes.
func (r *Runner) GetStateChan(ctx context.Context) <-chan string {
	if r.server == nil {
		ch := make(chan string)
		go func() {
			<-ctx.Done()
			close(ch)
		}()
		return ch
	}
	return r.server.GetStateChan(ctx)
}
