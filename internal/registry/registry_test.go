package registry

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/routeforge/routeforge/internal/compiler"
	"github.com/routeforge/routeforge/internal/errz"
	"github.com/routeforge/routeforge/internal/routes"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeStore is an in-memory Store with per-operation error injection.
type fakeStore struct {
	mu      sync.Mutex
	rows    map[string]*routes.Definition
	saveErr error
	delErr  error
	loadErr error
}

func newFakeStore() *fakeStore {
	return &fakeStore{rows: make(map[string]*routes.Definition)}
}

func (s *fakeStore) Save(_ context.Context, def *routes.Definition) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.saveErr != nil {
		return s.saveErr
	}
	s.rows[def.Key()] = def.Clone()
	return nil
}

func (s *fakeStore) UpdateStatus(_ context.Context, key string, status routes.Status) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	def, ok := s.rows[key]
	if !ok {
		return errz.ErrRouteNotFound
	}
	def.Status = status
	return nil
}

func (s *fakeStore) Delete(_ context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.delErr != nil {
		return s.delErr
	}
	if _, ok := s.rows[key]; !ok {
		return errz.ErrRouteNotFound
	}
	delete(s.rows, key)
	return nil
}

func (s *fakeStore) LoadAll(_ context.Context) ([]*routes.Definition, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.loadErr != nil {
		return nil, s.loadErr
	}
	defs := make([]*routes.Definition, 0, len(s.rows))
	for _, def := range s.rows {
		defs = append(defs, def.Clone())
	}
	return defs, nil
}

func (s *fakeStore) row(key string) *routes.Definition {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.rows[key]
}

func testDefinition(tenantID, routeID, message string) *routes.Definition {
	return &routes.Definition{
		SchemaVersion: routes.CurrentSchemaVersion,
		TenantID:      tenantID,
		ID:            routeID,
		Status:        routes.StatusDraft,
		Nodes: []routes.Node{
			{ID: "start", Type: routes.TypeFrom, URI: "direct:" + routeID},
			{ID: "log1", Type: routes.TypeLog, Message: message},
		},
		Edges: []routes.Edge{{ID: "e1", Source: "start", Target: "log1"}},
	}
}

func TestDeploy(t *testing.T) {
	t.Parallel()

	t.Run("installs and persists", func(t *testing.T) {
		t.Parallel()
		store := newFakeStore()
		reg := New(compiler.New(), WithStore(store))

		require.NoError(t, reg.Deploy(context.Background(), testDefinition("t1", "r1", "hi")))

		def, err := reg.Get("t1", "r1")
		require.NoError(t, err)
		assert.Equal(t, routes.StatusDeployed, def.Status)

		_, running := reg.Active("t1", "r1")
		assert.True(t, running)

		row := store.row("t1::r1")
		require.NotNil(t, row)
		assert.Equal(t, routes.StatusDeployed, row.Status)
	})

	t.Run("redeploy hot-swaps the compiled form", func(t *testing.T) {
		t.Parallel()
		reg := New(compiler.New())

		require.NoError(t, reg.Deploy(context.Background(), testDefinition("t1", "r1", "v1")))
		first, _ := reg.Active("t1", "r1")

		require.NoError(t, reg.Deploy(context.Background(), testDefinition("t1", "r1", "v2")))
		second, running := reg.Active("t1", "r1")
		require.True(t, running)
		assert.NotSame(t, first, second)
		assert.Equal(t, "v2", second.Steps[1].Node.Message)

		// The same key stays bound; no duplicate entries appear.
		assert.Len(t, reg.List("t1"), 1)
	})

	t.Run("invalid definition is rejected before the running route is touched", func(t *testing.T) {
		t.Parallel()
		reg := New(compiler.New())
		require.NoError(t, reg.Deploy(context.Background(), testDefinition("t1", "r1", "v1")))

		broken := testDefinition("t1", "r1", "v2")
		broken.Edges = nil // log1 becomes unreachable
		err := reg.Deploy(context.Background(), broken)
		require.Error(t, err)

		route, running := reg.Active("t1", "r1")
		require.True(t, running, "prior route must keep serving")
		assert.Equal(t, "v1", route.Steps[1].Node.Message)
	})

	t.Run("store failure rolls back to the snapshot", func(t *testing.T) {
		t.Parallel()
		store := newFakeStore()
		reg := New(compiler.New(), WithStore(store))
		require.NoError(t, reg.Deploy(context.Background(), testDefinition("t1", "r1", "v1")))

		store.saveErr = errors.New("disk full")
		err := reg.Deploy(context.Background(), testDefinition("t1", "r1", "v2"))
		require.Error(t, err)

		route, running := reg.Active("t1", "r1")
		require.True(t, running)
		assert.Equal(t, "v1", route.Steps[1].Node.Message)

		def, getErr := reg.Get("t1", "r1")
		require.NoError(t, getErr)
		assert.Equal(t, "v1", def.Nodes[1].Message)
	})

	t.Run("reserved separator in identifiers", func(t *testing.T) {
		t.Parallel()
		reg := New(compiler.New())
		err := reg.Deploy(context.Background(), testDefinition("bad::tenant", "r1", "x"))
		require.ErrorIs(t, err, errz.ErrValidation)
	})

	t.Run("nil definition", func(t *testing.T) {
		t.Parallel()
		reg := New(compiler.New())
		require.ErrorIs(t, reg.Deploy(context.Background(), nil), errz.ErrValidation)
	})
}

func TestStartStop(t *testing.T) {
	t.Parallel()

	store := newFakeStore()
	reg := New(compiler.New(), WithStore(store))
	ctx := context.Background()
	require.NoError(t, reg.Deploy(ctx, testDefinition("t1", "r1", "hi")))

	// Stop deactivates but keeps the catalog entry.
	require.NoError(t, reg.Stop(ctx, "t1", "r1"))
	_, running := reg.Active("t1", "r1")
	assert.False(t, running)
	def, err := reg.Get("t1", "r1")
	require.NoError(t, err)
	assert.Equal(t, routes.StatusStopped, def.Status)
	assert.Equal(t, routes.StatusStopped, store.row("t1::r1").Status)

	// Double stop.
	require.ErrorIs(t, reg.Stop(ctx, "t1", "r1"), errz.ErrRouteNotDeployed)

	// Start reactivates from the stored definition.
	require.NoError(t, reg.Start(ctx, "t1", "r1"))
	_, running = reg.Active("t1", "r1")
	assert.True(t, running)
	assert.Equal(t, routes.StatusDeployed, store.row("t1::r1").Status)

	// Double start.
	require.ErrorIs(t, reg.Start(ctx, "t1", "r1"), errz.ErrRouteAlreadyDeployed)

	// Unknown key.
	require.ErrorIs(t, reg.Start(ctx, "t1", "nope"), errz.ErrRouteNotFound)
	require.ErrorIs(t, reg.Stop(ctx, "t1", "nope"), errz.ErrRouteNotFound)
}

func TestDelete(t *testing.T) {
	t.Parallel()

	t.Run("removes runtime and row", func(t *testing.T) {
		t.Parallel()
		store := newFakeStore()
		reg := New(compiler.New(), WithStore(store))
		ctx := context.Background()
		require.NoError(t, reg.Deploy(ctx, testDefinition("t1", "r1", "hi")))

		require.NoError(t, reg.Delete(ctx, "t1", "r1"))
		_, running := reg.Active("t1", "r1")
		assert.False(t, running)
		_, err := reg.Get("t1", "r1")
		assert.True(t, IsNotFound(err))
		assert.Nil(t, store.row("t1::r1"))
	})

	t.Run("memory is cleared even when the row delete fails", func(t *testing.T) {
		t.Parallel()
		store := newFakeStore()
		reg := New(compiler.New(), WithStore(store))
		ctx := context.Background()
		require.NoError(t, reg.Deploy(ctx, testDefinition("t1", "r1", "hi")))

		store.delErr = errors.New("connection lost")
		require.Error(t, reg.Delete(ctx, "t1", "r1"))

		_, err := reg.Get("t1", "r1")
		assert.True(t, IsNotFound(err))
		_, running := reg.Active("t1", "r1")
		assert.False(t, running)
	})

	t.Run("retry after a failed row delete clears the orphaned row", func(t *testing.T) {
		t.Parallel()
		store := newFakeStore()
		reg := New(compiler.New(), WithStore(store))
		ctx := context.Background()
		require.NoError(t, reg.Deploy(ctx, testDefinition("t1", "r1", "hi")))

		store.delErr = errors.New("connection lost")
		require.Error(t, reg.Delete(ctx, "t1", "r1"))
		require.NotNil(t, store.row("t1::r1"), "row survives the transient failure")

		// Memory no longer knows the key; the retry must still reach the row.
		store.delErr = nil
		require.NoError(t, reg.Delete(ctx, "t1", "r1"))
		assert.Nil(t, store.row("t1::r1"))

		// Nothing resurrects on the next reload.
		fresh := New(compiler.New(), WithStore(store))
		require.NoError(t, fresh.Reload(ctx))
		assert.Empty(t, fresh.List(""))
	})

	t.Run("unknown route", func(t *testing.T) {
		t.Parallel()
		reg := New(compiler.New())
		require.ErrorIs(t, reg.Delete(context.Background(), "t1", "nope"), errz.ErrRouteNotFound)
	})

	t.Run("unknown route with a store and no row", func(t *testing.T) {
		t.Parallel()
		reg := New(compiler.New(), WithStore(newFakeStore()))
		require.ErrorIs(t, reg.Delete(context.Background(), "t1", "nope"), errz.ErrRouteNotFound)
	})
}

func TestListIsTenantScoped(t *testing.T) {
	t.Parallel()

	reg := New(compiler.New())
	ctx := context.Background()
	require.NoError(t, reg.Deploy(ctx, testDefinition("t1", "b", "x")))
	require.NoError(t, reg.Deploy(ctx, testDefinition("t1", "a", "x")))
	require.NoError(t, reg.Deploy(ctx, testDefinition("t2", "c", "x")))

	t1 := reg.List("t1")
	require.Len(t, t1, 2)
	assert.Equal(t, "a", t1[0].ID)
	assert.Equal(t, "b", t1[1].ID)

	assert.Len(t, reg.List(""), 3)
	assert.Empty(t, reg.List("t3"))
}

func TestResolveEndpoint(t *testing.T) {
	t.Parallel()

	reg := New(compiler.New())
	ctx := context.Background()
	require.NoError(t, reg.Deploy(ctx, testDefinition("t1", "r1", "hi")))

	route, ok := reg.ResolveEndpoint("direct:r1")
	require.True(t, ok)
	assert.Equal(t, "t1::r1", route.Key)

	_, ok = reg.ResolveEndpoint("direct:unknown")
	assert.False(t, ok)

	// A stopped route no longer consumes its endpoint.
	require.NoError(t, reg.Stop(ctx, "t1", "r1"))
	_, ok = reg.ResolveEndpoint("direct:r1")
	assert.False(t, ok)
}

func TestReload(t *testing.T) {
	t.Parallel()

	t.Run("reactivates deployed rows", func(t *testing.T) {
		t.Parallel()
		store := newFakeStore()
		ctx := context.Background()

		seed := New(compiler.New(), WithStore(store))
		require.NoError(t, seed.Deploy(ctx, testDefinition("t1", "r1", "hi")))
		require.NoError(t, seed.Deploy(ctx, testDefinition("t1", "r2", "hi")))
		require.NoError(t, seed.Stop(ctx, "t1", "r2"))

		fresh := New(compiler.New(), WithStore(store))
		require.NoError(t, fresh.Reload(ctx))

		_, running := fresh.Active("t1", "r1")
		assert.True(t, running)
		_, running = fresh.Active("t1", "r2")
		assert.False(t, running, "stopped rows stay stopped")
		assert.Len(t, fresh.List("t1"), 2)
	})

	t.Run("store failure propagates", func(t *testing.T) {
		t.Parallel()
		store := newFakeStore()
		store.loadErr = errors.New("db down")
		reg := New(compiler.New(), WithStore(store))
		require.Error(t, reg.Reload(context.Background()))
	})

	t.Run("no store is a no-op", func(t *testing.T) {
		t.Parallel()
		reg := New(compiler.New())
		require.NoError(t, reg.Reload(context.Background()))
	})
}

func TestTeardown(t *testing.T) {
	t.Parallel()

	reg := New(compiler.New())
	ctx := context.Background()
	require.NoError(t, reg.Deploy(ctx, testDefinition("t1", "r1", "x")))
	require.NoError(t, reg.Deploy(ctx, testDefinition("t1", "r2", "x")))

	reg.Teardown()
	_, running := reg.Active("t1", "r1")
	assert.False(t, running)
	assert.Empty(t, reg.List(""))
	_, ok := reg.ResolveEndpoint("direct:r1")
	assert.False(t, ok)
}

func TestRedeployIsAtomicForReaders(t *testing.T) {
	t.Parallel()

	reg := New(compiler.New())
	ctx := context.Background()
	require.NoError(t, reg.Deploy(ctx, testDefinition("t1", "r1", "v0")))

	stop := make(chan struct{})
	var misses atomic.Int64
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		for {
			select {
			case <-stop:
				return
			default:
			}
			if _, ok := reg.Active("t1", "r1"); !ok {
				misses.Add(1)
			}
			if _, ok := reg.ResolveEndpoint("direct:r1"); !ok {
				misses.Add(1)
			}
		}
	}()

	for i := 0; i < 2000; i++ {
		require.NoError(t, reg.Deploy(ctx, testDefinition("t1", "r1", "v1")))
	}
	close(stop)
	wg.Wait()

	assert.Zero(t, misses.Load(), "a redeploy window left no route installed")
}

func TestLifecycleConcurrentWithReads(t *testing.T) {
	t.Parallel()

	reg := New(compiler.New())
	ctx := context.Background()
	require.NoError(t, reg.Deploy(ctx, testDefinition("t1", "r1", "x")))

	stop := make(chan struct{})
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		for {
			select {
			case <-stop:
				return
			default:
			}
			for _, def := range reg.List("t1") {
				_ = def.Status
			}
			if def, err := reg.Get("t1", "r1"); err == nil {
				_ = def.Status
			}
		}
	}()

	for i := 0; i < 500; i++ {
		require.NoError(t, reg.Stop(ctx, "t1", "r1"))
		require.NoError(t, reg.Start(ctx, "t1", "r1"))
	}
	close(stop)
	wg.Wait()

	def, err := reg.Get("t1", "r1")
	require.NoError(t, err)
	assert.Equal(t, routes.StatusDeployed, def.Status)
}

func TestConcurrentDeploySameKey(t *testing.T) {
	t.Parallel()

	reg := New(compiler.New())
	ctx := context.Background()

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_ = reg.Deploy(ctx, testDefinition("t1", "r1", "x"))
		}()
	}
	wg.Wait()

	assert.Len(t, reg.List("t1"), 1)
	_, running := reg.Active("t1", "r1")
	assert.True(t, running)
}
