// Package executor runs compiled routes against input exchanges, emitting
// per-node telemetry and translating node failures into the execution error
// taxonomy.
package executor

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gofrs/uuid/v5"
	"github.com/routeforge/routeforge/internal/compiler"
	"github.com/routeforge/routeforge/internal/errz"
	"github.com/routeforge/routeforge/internal/events"
	"github.com/routeforge/routeforge/internal/exchange"
)

// DefaultEndpointTimeout bounds external endpoint calls unless the endpoint
// URI overrides it.
const DefaultEndpointTimeout = 30 * time.Second

// EventSink receives per-step telemetry. The event bus satisfies it.
type EventSink interface {
	Publish(event *events.Event)
}

// SagaService is the banking backend the saga node types delegate to.
type SagaService interface {
	Debit(ctx context.Context, account string, amount float64, txnID string) error
	Credit(ctx context.Context, account string, amount float64, txnID string) error
	Compensate(ctx context.Context, account string, amount float64, txnID string) error
	ExecuteTransfer(ctx context.Context, source, dest string, amount float64, description string) (string, error)
}

// RouteResolver resolves direct: endpoint names to installed, active routes.
// The registry satisfies it.
type RouteResolver interface {
	ResolveEndpoint(uri string) (*compiler.Route, bool)
}

// Executor walks compiled step trees.
type Executor struct {
	sink     EventSink
	saga     SagaService
	resolver RouteResolver
	beans    *BeanRegistry
	client   *http.Client
	logger   *slog.Logger

	conditions *conditionCache
	throttles  sync.Map // *compiler.Step -> *rate.Limiter

	defaultTimeout time.Duration
}

// Option configures an Executor.
type Option func(*Executor)

// WithLogHandler sets a custom slog handler for the Executor instance.
func WithLogHandler(handler slog.Handler) Option {
	return func(e *Executor) {
		if handler != nil {
			e.logger = slog.New(handler).WithGroup("executor")
		}
	}
}

// WithSagaService wires the banking backend for saga node types.
func WithSagaService(saga SagaService) Option {
	return func(e *Executor) { e.saga = saga }
}

// WithRouteResolver wires direct: endpoint resolution.
func WithRouteResolver(resolver RouteResolver) Option {
	return func(e *Executor) { e.resolver = resolver }
}

// WithBeanRegistry wires the named host objects reachable via bean: URIs.
func WithBeanRegistry(beans *BeanRegistry) Option {
	return func(e *Executor) { e.beans = beans }
}

// WithHTTPClient overrides the client used for http(s) endpoints.
func WithHTTPClient(client *http.Client) Option {
	return func(e *Executor) { e.client = client }
}

// WithDefaultEndpointTimeout overrides the per-endpoint timeout default.
func WithDefaultEndpointTimeout(timeout time.Duration) Option {
	return func(e *Executor) {
		if timeout > 0 {
			e.defaultTimeout = timeout
		}
	}
}

// New creates an Executor publishing telemetry to sink.
func New(sink EventSink, opts ...Option) *Executor {
	e := &Executor{
		sink:           sink,
		beans:          NewBeanRegistry(),
		client:         &http.Client{},
		logger:         slog.Default().WithGroup("executor"),
		conditions:     newConditionCache(256),
		defaultTimeout: DefaultEndpointTimeout,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// invocation carries the per-call identifiers every emitted event shares.
type invocation struct {
	taskID  string
	routeID string
}

// Invoke runs a compiled route against the input exchange and returns the
// exchange in its final state. Uncaught node failures surface as
// *errz.ExecutionError and trigger a FAILED event for the route root.
func (e *Executor) Invoke(ctx context.Context, route *compiler.Route, ex *exchange.Exchange) (*exchange.Exchange, error) {
	if ex == nil {
		ex = exchange.New()
	}
	ex.FromRouteID = route.Key

	inv := &invocation{
		taskID:  uuid.Must(uuid.NewV4()).String(),
		routeID: route.Key,
	}
	start := time.Now()

	if err := e.runRegion(ctx, inv, route.Steps, ex); err != nil {
		e.emit(inv, &events.Event{
			NodeType:   "route",
			Status:     events.StatusFailed,
			Error:      err.Error(),
			DurationMs: time.Since(start).Milliseconds(),
		})
		return ex, err
	}

	e.emit(inv, &events.Event{
		NodeType:   "route",
		Status:     events.StatusCompleted,
		Result:     ex.Body,
		DurationMs: time.Since(start).Milliseconds(),
	})
	return ex, nil
}

// runRegion executes the steps of one region in order.
func (e *Executor) runRegion(ctx context.Context, inv *invocation, steps []*compiler.Step, ex *exchange.Exchange) error {
	for _, step := range steps {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := e.runStep(ctx, inv, step, ex); err != nil {
			return err
		}
	}
	return nil
}

// runStep emits the STARTED/terminal event pair around one node's action and
// wraps failures with the node's location.
func (e *Executor) runStep(ctx context.Context, inv *invocation, step *compiler.Step, ex *exchange.Exchange) error {
	start := time.Now()
	e.emit(inv, &events.Event{
		NodeType:   string(step.Node.Type),
		ActivityID: step.Node.ID,
		Status:     events.StatusStarted,
	})

	result, err := e.dispatch(ctx, inv, step, ex)
	duration := time.Since(start).Milliseconds()
	if err != nil {
		err = e.locate(inv, step, err)
		e.emit(inv, &events.Event{
			NodeType:   string(step.Node.Type),
			ActivityID: step.Node.ID,
			Status:     events.StatusFailed,
			Error:      err.Error(),
			DurationMs: duration,
		})
		return err
	}

	completed := &events.Event{
		NodeType:   string(step.Node.Type),
		ActivityID: step.Node.ID,
		Status:     events.StatusCompleted,
		DurationMs: duration,
	}
	if msg, ok := result.(logMessage); ok {
		completed.Message = string(msg)
	} else {
		completed.Result = result
	}
	e.emit(inv, completed)
	return nil
}

// locate wraps err with the failing node's coordinates, keeping the
// innermost location when the error is already placed.
func (e *Executor) locate(inv *invocation, step *compiler.Step, err error) error {
	var placed *errz.ExecutionError
	if asExecutionError(err, &placed) {
		return err
	}
	return &errz.ExecutionError{
		RouteID:  inv.routeID,
		NodeID:   step.Node.ID,
		NodeType: string(step.Node.Type),
		Err:      err,
	}
}

func asExecutionError(err error, target **errz.ExecutionError) bool {
	for ; err != nil; err = unwrap(err) {
		if ee, ok := err.(*errz.ExecutionError); ok {
			*target = ee
			return true
		}
	}
	return false
}

func unwrap(err error) error {
	u, ok := err.(interface{ Unwrap() error })
	if !ok {
		return nil
	}
	return u.Unwrap()
}

// emit stamps the invocation identity on an event and publishes it.
func (e *Executor) emit(inv *invocation, event *events.Event) {
	if e.sink == nil {
		return
	}
	event.TaskID = inv.taskID
	event.RouteID = inv.routeID
	event.Type = events.TypeCamelNode
	event.Timestamp = time.Now()
	e.sink.Publish(event)
}

// logMessage marks a dispatch result that belongs in the event message field
// rather than the result field.
type logMessage string

var errNoSagaService = fmt.Errorf("no saga service configured")
