package executor

import (
	"context"
	"sync"
	"testing"

	"github.com/routeforge/routeforge/internal/compiler"
	"github.com/routeforge/routeforge/internal/errz"
	"github.com/routeforge/routeforge/internal/events"
	"github.com/routeforge/routeforge/internal/exchange"
	"github.com/routeforge/routeforge/internal/routes"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// recordingSink collects published events for assertions. Multicast branches
// publish concurrently, so access is guarded.
type recordingSink struct {
	mu     sync.Mutex
	events []*events.Event
}

func (s *recordingSink) Publish(event *events.Event) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, event)
}

func (s *recordingSink) byNode(nodeType string) []*events.Event {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*events.Event
	for _, e := range s.events {
		if e.NodeType == nodeType {
			out = append(out, e)
		}
	}
	return out
}

func compileRoute(t *testing.T, nodes []routes.Node, edges []routes.Edge) *compiler.Route {
	t.Helper()
	def := &routes.Definition{
		SchemaVersion: routes.CurrentSchemaVersion,
		TenantID:      "t1",
		ID:            "r1",
		Status:        routes.StatusDraft,
		Nodes:         nodes,
		Edges:         edges,
	}
	route, err := compiler.New().Compile(def)
	require.NoError(t, err)
	return route
}

func TestInvokeSimpleLogRoute(t *testing.T) {
	t.Parallel()

	sink := &recordingSink{}
	exec := New(sink)

	route := compileRoute(t,
		[]routes.Node{
			{ID: "start", Type: routes.TypeFrom, URI: "direct:r1"},
			{ID: "log1", Type: routes.TypeLog, Message: "hi ${body}"},
		},
		[]routes.Edge{{ID: "e1", Source: "start", Target: "log1"}},
	)

	ex := exchange.New()
	ex.SetBody("world")
	result, err := exec.Invoke(context.Background(), route, ex)
	require.NoError(t, err)
	assert.Equal(t, "world", result.Body)

	logEvents := sink.byNode("log")
	require.Len(t, logEvents, 2)
	assert.Equal(t, events.StatusStarted, logEvents[0].Status)
	assert.Equal(t, events.StatusCompleted, logEvents[1].Status)
	assert.Equal(t, "hi world", logEvents[1].Message)
	assert.Equal(t, "log1", logEvents[1].ActivityID)
	assert.Equal(t, "t1::r1", logEvents[1].RouteID)

	rootEvents := sink.byNode("route")
	require.Len(t, rootEvents, 1)
	assert.Equal(t, events.StatusCompleted, rootEvents[0].Status)
}

func TestInvokeFilterShortCircuits(t *testing.T) {
	t.Parallel()

	sink := &recordingSink{}
	exec := New(sink)

	route := compileRoute(t,
		[]routes.Node{
			{ID: "start", Type: routes.TypeFrom, URI: "direct:r1"},
			{ID: "f", Type: routes.TypeFilter, Expression: "${body.amount} > 1000"},
			{ID: "tr", Type: routes.TypeTransform, Expression: "${body.amount} * 2"},
		},
		[]routes.Edge{
			{ID: "e1", Source: "start", Target: "f"},
			{ID: "e2", Source: "f", Target: "tr"},
		},
	)

	ex := exchange.New()
	ex.SetBody(map[string]any{"amount": float64(500)})
	result, err := exec.Invoke(context.Background(), route, ex)
	require.NoError(t, err)

	assert.Equal(t, float64(500), result.Body.(map[string]any)["amount"])
	assert.Empty(t, sink.byNode("transform"), "filtered branch must not start")
}

func TestInvokeFilterPasses(t *testing.T) {
	t.Parallel()

	sink := &recordingSink{}
	exec := New(sink)

	route := compileRoute(t,
		[]routes.Node{
			{ID: "start", Type: routes.TypeFrom, URI: "direct:r1"},
			{ID: "f", Type: routes.TypeFilter, Expression: "${body.amount} > 1000"},
			{ID: "tr", Type: routes.TypeTransform, Expression: "${body.amount} * 2"},
		},
		[]routes.Edge{
			{ID: "e1", Source: "start", Target: "f"},
			{ID: "e2", Source: "f", Target: "tr"},
		},
	)

	ex := exchange.New()
	ex.SetBody(map[string]any{"amount": float64(1500)})
	result, err := exec.Invoke(context.Background(), route, ex)
	require.NoError(t, err)
	assert.Equal(t, 3000, result.Body)
	require.Len(t, sink.byNode("transform"), 2)
}

func TestInvokeChoiceBranching(t *testing.T) {
	t.Parallel()

	build := func(t *testing.T, sink *recordingSink) (*Executor, *compiler.Route) {
		exec := New(sink)
		route := compileRoute(t,
			[]routes.Node{
				{ID: "start", Type: routes.TypeFrom, URI: "direct:r1"},
				{ID: "c", Type: routes.TypeChoice},
				{ID: "h", Type: routes.TypeLog, Message: "H"},
				{ID: "l", Type: routes.TypeLog, Message: "L"},
			},
			[]routes.Edge{
				{ID: "e1", Source: "start", Target: "c"},
				{ID: "e2", Source: "c", Target: "h", SourceHandle: routes.HandleWhen, Condition: "${header.priority} == 'high'"},
				{ID: "e3", Source: "c", Target: "l", SourceHandle: routes.HandleOtherwise},
			},
		)
		return exec, route
	}

	t.Run("high priority takes the when branch", func(t *testing.T) {
		t.Parallel()
		sink := &recordingSink{}
		exec, route := build(t, sink)
		ex := exchange.New()
		ex.Headers["priority"] = "high"
		_, err := exec.Invoke(context.Background(), route, ex)
		require.NoError(t, err)

		logs := sink.byNode("log")
		require.Len(t, logs, 2)
		assert.Equal(t, "H", logs[1].Message)
	})

	t.Run("low priority takes otherwise", func(t *testing.T) {
		t.Parallel()
		sink := &recordingSink{}
		exec, route := build(t, sink)
		ex := exchange.New()
		ex.Headers["priority"] = "low"
		_, err := exec.Invoke(context.Background(), route, ex)
		require.NoError(t, err)

		logs := sink.byNode("log")
		require.Len(t, logs, 2)
		assert.Equal(t, "L", logs[1].Message)
	})
}

func TestInvokeTryCatch(t *testing.T) {
	t.Parallel()

	t.Run("matching handler absorbs the failure", func(t *testing.T) {
		t.Parallel()
		sink := &recordingSink{}
		exec := New(sink)

		// convertBodyTo(int) on a non-numeric body raises an
		// IllegalArgumentException-classed error.
		route := compileRoute(t,
			[]routes.Node{
				{ID: "start", Type: routes.TypeFrom, URI: "direct:r1"},
				{ID: "tc", Type: routes.TypeTryCatch},
				{ID: "bad", Type: routes.TypeConvertBodyTo, Properties: map[string]string{"type": "int"}},
				{ID: "rescue", Type: routes.TypeLog, Message: "caught ${exception.message}"},
			},
			[]routes.Edge{
				{ID: "e1", Source: "start", Target: "tc"},
				{ID: "e2", Source: "tc", Target: "bad", SourceHandle: routes.HandleTry},
				{ID: "e3", Source: "tc", Target: "rescue", SourceHandle: routes.HandleCatch, ExceptionType: "IllegalArgumentException"},
			},
		)

		ex := exchange.New()
		ex.SetBody("not-a-number")
		_, err := exec.Invoke(context.Background(), route, ex)
		require.NoError(t, err)

		logs := sink.byNode("log")
		require.Len(t, logs, 2)
		assert.Contains(t, logs[1].Message, "caught")
	})

	t.Run("non-matching handler propagates", func(t *testing.T) {
		t.Parallel()
		sink := &recordingSink{}
		exec := New(sink)

		route := compileRoute(t,
			[]routes.Node{
				{ID: "start", Type: routes.TypeFrom, URI: "direct:r1"},
				{ID: "tc", Type: routes.TypeTryCatch},
				{ID: "bad", Type: routes.TypeConvertBodyTo, Properties: map[string]string{"type": "int"}},
				{ID: "rescue", Type: routes.TypeLog, Message: "never"},
			},
			[]routes.Edge{
				{ID: "e1", Source: "start", Target: "tc"},
				{ID: "e2", Source: "tc", Target: "bad", SourceHandle: routes.HandleTry},
				{ID: "e3", Source: "tc", Target: "rescue", SourceHandle: routes.HandleCatch, ExceptionType: "IOException"},
			},
		)

		ex := exchange.New()
		ex.SetBody("nope")
		_, err := exec.Invoke(context.Background(), route, ex)
		require.Error(t, err)

		var execErr *errz.ExecutionError
		require.ErrorAs(t, err, &execErr)
		assert.Equal(t, "bad", execErr.NodeID)

		rootEvents := sink.byNode("route")
		require.Len(t, rootEvents, 1)
		assert.Equal(t, events.StatusFailed, rootEvents[0].Status)
	})
}

func TestInvokeSplit(t *testing.T) {
	t.Parallel()

	sink := &recordingSink{}
	exec := New(sink)

	route := compileRoute(t,
		[]routes.Node{
			{ID: "start", Type: routes.TypeFrom, URI: "direct:r1"},
			{ID: "sp", Type: routes.TypeSplit, Expression: "${body}"},
			{ID: "each", Type: routes.TypeLog, Message: "item ${body}"},
		},
		[]routes.Edge{
			{ID: "e1", Source: "start", Target: "sp"},
			{ID: "e2", Source: "sp", Target: "each"},
		},
	)

	ex := exchange.New()
	ex.SetBody("a, b, c")
	result, err := exec.Invoke(context.Background(), route, ex)
	require.NoError(t, err)

	// Three iterations, original body restored afterwards.
	assert.Equal(t, "a, b, c", result.Body)
	logs := sink.byNode("log")
	require.Len(t, logs, 6)
	assert.Equal(t, "item a", logs[1].Message)
	assert.Equal(t, "item c", logs[5].Message)
}

func TestInvokeMulticast(t *testing.T) {
	t.Parallel()

	sink := &recordingSink{}
	exec := New(sink)

	route := compileRoute(t,
		[]routes.Node{
			{ID: "start", Type: routes.TypeFrom, URI: "direct:r1"},
			{ID: "mc", Type: routes.TypeMulticast},
			{ID: "b1", Type: routes.TypeLog, Message: "one"},
			{ID: "b2", Type: routes.TypeLog, Message: "two"},
		},
		[]routes.Edge{
			{ID: "e1", Source: "start", Target: "mc"},
			{ID: "e2", Source: "mc", Target: "b1"},
			{ID: "e3", Source: "mc", Target: "b2"},
		},
	)

	_, err := exec.Invoke(context.Background(), route, exchange.New())
	require.NoError(t, err)
	assert.Len(t, sink.byNode("log"), 4)
}

func TestInvokeSetBodyConstant(t *testing.T) {
	t.Parallel()

	exec := New(&recordingSink{})
	route := compileRoute(t,
		[]routes.Node{
			{ID: "start", Type: routes.TypeFrom, URI: "direct:r1"},
			{ID: "sb", Type: routes.TypeSetBody, Expression: "${ignored}", ExpressionLanguage: routes.LangConstant},
		},
		[]routes.Edge{{ID: "e1", Source: "start", Target: "sb"}},
	)

	result, err := exec.Invoke(context.Background(), route, exchange.New())
	require.NoError(t, err)
	assert.Equal(t, "${ignored}", result.Body)
}

func TestInvokeSetBodyPlainText(t *testing.T) {
	t.Parallel()

	// A bare word with no template span must stay text; it is not an
	// expression identifier to evaluate away to nil.
	exec := New(&recordingSink{})
	route := compileRoute(t,
		[]routes.Node{
			{ID: "start", Type: routes.TypeFrom, URI: "direct:r1"},
			{ID: "sb", Type: routes.TypeSetBody, Expression: "hello", ExpressionLanguage: routes.LangSimple},
		},
		[]routes.Edge{{ID: "e1", Source: "start", Target: "sb"}},
	)

	ex := exchange.New()
	ex.SetBody("world")
	result, err := exec.Invoke(context.Background(), route, ex)
	require.NoError(t, err)
	assert.Equal(t, "hello", result.Body)
}

func TestInvokeTransformPlainText(t *testing.T) {
	t.Parallel()

	exec := New(&recordingSink{})
	route := compileRoute(t,
		[]routes.Node{
			{ID: "start", Type: routes.TypeFrom, URI: "direct:r1"},
			{ID: "tr", Type: routes.TypeTransform, Expression: "order received"},
		},
		[]routes.Edge{{ID: "e1", Source: "start", Target: "tr"}},
	)

	result, err := exec.Invoke(context.Background(), route, exchange.New())
	require.NoError(t, err)
	assert.Equal(t, "order received", result.Body)
}

func TestInvokeLoopCount(t *testing.T) {
	t.Parallel()

	sink := &recordingSink{}
	exec := New(sink)
	route := compileRoute(t,
		[]routes.Node{
			{ID: "start", Type: routes.TypeFrom, URI: "direct:r1"},
			{ID: "lp", Type: routes.TypeLoop, Expression: "3"},
			{ID: "body", Type: routes.TypeLog, Message: "tick"},
		},
		[]routes.Edge{
			{ID: "e1", Source: "start", Target: "lp"},
			{ID: "e2", Source: "lp", Target: "body"},
		},
	)

	_, err := exec.Invoke(context.Background(), route, exchange.New())
	require.NoError(t, err)
	assert.Len(t, sink.byNode("log"), 6)
}

func TestInvokeEventOrdering(t *testing.T) {
	t.Parallel()

	sink := &recordingSink{}
	exec := New(sink)
	route := compileRoute(t,
		[]routes.Node{
			{ID: "start", Type: routes.TypeFrom, URI: "direct:r1"},
			{ID: "f", Type: routes.TypeFilter, Expression: "true"},
			{ID: "inner", Type: routes.TypeLog, Message: "x"},
		},
		[]routes.Edge{
			{ID: "e1", Source: "start", Target: "f"},
			{ID: "e2", Source: "f", Target: "inner"},
		},
	)

	_, err := exec.Invoke(context.Background(), route, exchange.New())
	require.NoError(t, err)

	// No child event before the parent's STARTED or after its terminal event.
	indexOf := func(nodeID string, status events.Status) int {
		for i, e := range sink.events {
			if e.ActivityID == nodeID && e.Status == status {
				return i
			}
		}
		return -1
	}
	parentStart := indexOf("f", events.StatusStarted)
	parentDone := indexOf("f", events.StatusCompleted)
	childStart := indexOf("inner", events.StatusStarted)
	childDone := indexOf("inner", events.StatusCompleted)

	require.NotEqual(t, -1, parentStart)
	require.NotEqual(t, -1, childDone)
	assert.Greater(t, childStart, parentStart)
	assert.Less(t, childDone, parentDone)
	assert.Less(t, childStart, childDone)
}

func TestInvokeDirectEndpoint(t *testing.T) {
	t.Parallel()

	sink := &recordingSink{}

	callee := compileRoute(t,
		[]routes.Node{
			{ID: "start", Type: routes.TypeFrom, URI: "direct:callee"},
			{ID: "sb", Type: routes.TypeSetBody, Expression: "pong", ExpressionLanguage: routes.LangConstant},
		},
		[]routes.Edge{{ID: "e1", Source: "start", Target: "sb"}},
	)

	resolver := resolverFunc(func(uri string) (*compiler.Route, bool) {
		if uri == "direct:callee" {
			return callee, true
		}
		return nil, false
	})
	exec := New(sink, WithRouteResolver(resolver))

	caller := compileRoute(t,
		[]routes.Node{
			{ID: "start", Type: routes.TypeFrom, URI: "direct:caller"},
			{ID: "out", Type: routes.TypeTo, URI: "direct:callee"},
		},
		[]routes.Edge{{ID: "e1", Source: "start", Target: "out"}},
	)

	ex := exchange.New()
	ex.SetBody("ping")
	result, err := exec.Invoke(context.Background(), caller, ex)
	require.NoError(t, err)
	assert.Equal(t, "pong", result.Body)
}

type resolverFunc func(uri string) (*compiler.Route, bool)

func (f resolverFunc) ResolveEndpoint(uri string) (*compiler.Route, bool) { return f(uri) }

func TestInvokeUnknownEndpointScheme(t *testing.T) {
	t.Parallel()

	exec := New(&recordingSink{})
	route := compileRoute(t,
		[]routes.Node{
			{ID: "start", Type: routes.TypeFrom, URI: "direct:r1"},
			{ID: "out", Type: routes.TypeTo, URI: "carrierpigeon:coop"},
		},
		[]routes.Edge{{ID: "e1", Source: "start", Target: "out"}},
	)

	_, err := exec.Invoke(context.Background(), route, exchange.New())
	require.ErrorIs(t, err, errz.ErrEndpointNotFound)
}

func TestInvokeBeanEndpoint(t *testing.T) {
	t.Parallel()

	beans := NewBeanRegistry()
	beans.Register("greeter", "hello", func(ctx context.Context, ex *exchange.Exchange) (any, error) {
		return "hello " + ex.Body.(string), nil
	})
	exec := New(&recordingSink{}, WithBeanRegistry(beans))

	route := compileRoute(t,
		[]routes.Node{
			{ID: "start", Type: routes.TypeFrom, URI: "direct:r1"},
			{ID: "out", Type: routes.TypeTo, URI: "bean:greeter?method=hello"},
		},
		[]routes.Edge{{ID: "e1", Source: "start", Target: "out"}},
	)

	ex := exchange.New()
	ex.SetBody("world")
	result, err := exec.Invoke(context.Background(), route, ex)
	require.NoError(t, err)
	assert.Equal(t, "hello world", result.Body)
}

func TestConvertBodyTo(t *testing.T) {
	t.Parallel()

	exec := New(&recordingSink{})

	run := func(t *testing.T, target string, body any) (*exchange.Exchange, error) {
		route := compileRoute(t,
			[]routes.Node{
				{ID: "start", Type: routes.TypeFrom, URI: "direct:r1"},
				{ID: "cv", Type: routes.TypeConvertBodyTo, Properties: map[string]string{"type": target}},
			},
			[]routes.Edge{{ID: "e1", Source: "start", Target: "cv"}},
		)
		ex := exchange.New()
		ex.SetBody(body)
		return exec.Invoke(context.Background(), route, ex)
	}

	t.Run("to int", func(t *testing.T) {
		t.Parallel()
		result, err := run(t, "int", "42")
		require.NoError(t, err)
		assert.Equal(t, int64(42), result.Body)
	})

	t.Run("to string", func(t *testing.T) {
		t.Parallel()
		result, err := run(t, "string", float64(4.5))
		require.NoError(t, err)
		assert.Equal(t, "4.5", result.Body)
	})

	t.Run("unsupported target", func(t *testing.T) {
		t.Parallel()
		_, err := run(t, "blob", "x")
		require.Error(t, err)
		assert.Equal(t, errz.ClassIllegalArgument, errz.ClassOf(err))
	})
}
