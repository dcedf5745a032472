// Package registry holds the in-memory route catalog: definitions indexed by
// internal key, the compiled routes currently installed, and the per-key
// mutation locks that serialize deploy/start/stop/remove on a single route.
package registry

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"

	"github.com/routeforge/routeforge/internal/compiler"
	"github.com/routeforge/routeforge/internal/errz"
	"github.com/routeforge/routeforge/internal/routes"
)

// Store is the durable side of the catalog. *storage.RouteStore satisfies it.
type Store interface {
	Save(ctx context.Context, def *routes.Definition) error
	UpdateStatus(ctx context.Context, key string, status routes.Status) error
	Delete(ctx context.Context, key string) error
	LoadAll(ctx context.Context) ([]*routes.Definition, error)
}

// Registry is the runtime route catalog. Mutations on one key serialize
// through a per-key lock; lookups only take the index read lock.
type Registry struct {
	compiler *compiler.Compiler
	store    Store
	logger   *slog.Logger

	keyLocks sync.Map // internal key -> *sync.Mutex

	mu          sync.RWMutex
	definitions map[string]*routes.Definition
	active      map[string]*compiler.Route
	endpoints   map[string]string // entry URI -> internal key
}

// Option configures a Registry.
type Option func(*Registry)

// WithLogHandler sets a custom slog handler for the Registry instance.
func WithLogHandler(handler slog.Handler) Option {
	return func(r *Registry) {
		if handler != nil {
			r.logger = slog.New(handler).WithGroup("registry")
		}
	}
}

// WithStore wires the durable catalog. Without a store the registry operates
// purely in memory.
func WithStore(store Store) Option {
	return func(r *Registry) { r.store = store }
}

// New creates a Registry compiling with the given compiler.
func New(c *compiler.Compiler, opts ...Option) *Registry {
	r := &Registry{
		compiler:    c,
		logger:      slog.Default().WithGroup("registry"),
		definitions: make(map[string]*routes.Definition),
		active:      make(map[string]*compiler.Route),
		endpoints:   make(map[string]string),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// lockKey returns the mutation lock for one internal key.
func (r *Registry) lockKey(key string) *sync.Mutex {
	mu, _ := r.keyLocks.LoadOrStore(key, &sync.Mutex{})
	return mu.(*sync.Mutex)
}

// Deploy validates, compiles, and installs a definition, replacing any
// previous compiled form under the same key. The compile happens before the
// runtime is touched, and the old→new exchange is a single swap, so readers
// always observe either the prior route or the new one. A store failure swaps
// the snapshot back so the prior route keeps serving.
func (r *Registry) Deploy(ctx context.Context, def *routes.Definition) error {
	if def == nil {
		return fmt.Errorf("%w: nil definition", errz.ErrValidation)
	}
	def = def.Clone()
	if err := def.Normalize(); err != nil {
		return err
	}
	if err := routes.ValidateKeyParts(def.TenantID, def.ID); err != nil {
		return fmt.Errorf("%w: %w", errz.ErrValidation, err)
	}
	if err := r.compiler.Validate(def); err != nil {
		return err
	}

	key := def.Key()
	mu := r.lockKey(key)
	mu.Lock()
	defer mu.Unlock()

	compiled, err := r.compiler.Compile(def)
	if err != nil {
		return fmt.Errorf("%w: %w", errz.ErrCompileFailure, err)
	}
	snapshot := r.swap(key, compiled)

	def.Status = routes.StatusDeployed
	if r.store != nil {
		if err := r.store.Save(ctx, def); err != nil {
			if snapshot != nil {
				r.swap(key, snapshot)
			} else {
				r.uninstall(key)
			}
			return err
		}
	}

	r.mu.Lock()
	r.definitions[key] = def
	r.mu.Unlock()

	r.logger.Info("Route deployed", "key", key, "nodes", len(def.Nodes))
	return nil
}

// Start compiles and activates a stopped route from its stored definition.
func (r *Registry) Start(ctx context.Context, tenantID, routeID string) error {
	key := routes.InternalKey(tenantID, routeID)
	mu := r.lockKey(key)
	mu.Lock()
	defer mu.Unlock()

	r.mu.RLock()
	def := r.definitions[key]
	_, running := r.active[key]
	r.mu.RUnlock()

	if def == nil {
		return fmt.Errorf("%w: %s", errz.ErrRouteNotFound, key)
	}
	if running {
		return fmt.Errorf("%w: %s", errz.ErrRouteAlreadyDeployed, key)
	}

	compiled, err := r.compiler.Compile(def)
	if err != nil {
		return fmt.Errorf("%w: %w", errz.ErrCompileFailure, err)
	}
	r.install(key, compiled)

	// Readers returned by Get/List hold the old pointer; status changes go
	// through clone-and-replace, never an in-place write.
	def = def.Clone()
	def.Status = routes.StatusDeployed
	r.mu.Lock()
	r.definitions[key] = def
	r.mu.Unlock()

	if r.store != nil {
		if err := r.store.UpdateStatus(ctx, key, routes.StatusDeployed); err != nil {
			r.logger.Warn("Route started but status persist failed", "key", key, "error", err)
		}
	}
	r.logger.Info("Route started", "key", key)
	return nil
}

// Stop deactivates a running route. The definition stays in the catalog and
// in-flight invocations holding the compiled route finish undisturbed.
func (r *Registry) Stop(ctx context.Context, tenantID, routeID string) error {
	key := routes.InternalKey(tenantID, routeID)
	mu := r.lockKey(key)
	mu.Lock()
	defer mu.Unlock()

	r.mu.RLock()
	def := r.definitions[key]
	_, running := r.active[key]
	r.mu.RUnlock()

	if def == nil {
		return fmt.Errorf("%w: %s", errz.ErrRouteNotFound, key)
	}
	if !running {
		return fmt.Errorf("%w: %s", errz.ErrRouteNotDeployed, key)
	}

	r.uninstall(key)

	def = def.Clone()
	def.Status = routes.StatusStopped
	r.mu.Lock()
	r.definitions[key] = def
	r.mu.Unlock()

	if r.store != nil {
		if err := r.store.UpdateStatus(ctx, key, routes.StatusStopped); err != nil {
			r.logger.Warn("Route stopped but status persist failed", "key", key, "error", err)
		}
	}
	r.logger.Info("Route stopped", "key", key)
	return nil
}

// Remove drops the compiled form from the runtime without touching the
// persisted row. A stopped route is a no-op.
func (r *Registry) Remove(ctx context.Context, tenantID, routeID string) error {
	key := routes.InternalKey(tenantID, routeID)
	mu := r.lockKey(key)
	mu.Lock()
	defer mu.Unlock()

	r.mu.RLock()
	def := r.definitions[key]
	r.mu.RUnlock()
	if def == nil {
		return fmt.Errorf("%w: %s", errz.ErrRouteNotFound, key)
	}

	if r.uninstall(key) != nil {
		def = def.Clone()
		def.Status = routes.StatusStopped
		r.mu.Lock()
		r.definitions[key] = def
		r.mu.Unlock()
	}
	return nil
}

// Delete removes the route from the runtime and the store. Memory goes first:
// when the row delete fails the route is already gone from the runtime and
// callers retry the delete. The retry therefore attempts the row delete even
// for a key memory no longer knows, so the orphaned row cannot resurrect on
// the next reload.
func (r *Registry) Delete(ctx context.Context, tenantID, routeID string) error {
	key := routes.InternalKey(tenantID, routeID)
	mu := r.lockKey(key)
	mu.Lock()
	defer mu.Unlock()

	r.mu.Lock()
	_, known := r.definitions[key]
	delete(r.definitions, key)
	r.mu.Unlock()
	r.uninstall(key)

	removedRow := false
	if r.store != nil {
		switch err := r.store.Delete(ctx, key); {
		case err == nil:
			removedRow = true
		case errors.Is(err, errz.ErrRouteNotFound):
			// No row to clear; fall through to the in-memory verdict.
		default:
			return err
		}
	}
	if !known && !removedRow {
		return fmt.Errorf("%w: %s", errz.ErrRouteNotFound, key)
	}
	r.logger.Info("Route deleted", "key", key)
	return nil
}

// Get returns the cataloged definition for one route.
func (r *Registry) Get(tenantID, routeID string) (*routes.Definition, error) {
	key := routes.InternalKey(tenantID, routeID)
	r.mu.RLock()
	def := r.definitions[key]
	r.mu.RUnlock()
	if def == nil {
		return nil, fmt.Errorf("%w: %s", errz.ErrRouteNotFound, key)
	}
	return def, nil
}

// List returns the definitions of one tenant ordered by route id. An empty
// tenant lists every route.
func (r *Registry) List(tenantID string) []*routes.Definition {
	r.mu.RLock()
	defs := make([]*routes.Definition, 0, len(r.definitions))
	for _, def := range r.definitions {
		if tenantID == "" || def.TenantID == tenantID {
			defs = append(defs, def)
		}
	}
	r.mu.RUnlock()
	sort.Slice(defs, func(i, j int) bool { return defs[i].Key() < defs[j].Key() })
	return defs
}

// Active returns the compiled route for one key when it is running.
func (r *Registry) Active(tenantID, routeID string) (*compiler.Route, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	route, ok := r.active[routes.InternalKey(tenantID, routeID)]
	return route, ok
}

// ResolveEndpoint maps a direct: consumer URI to the running route that
// consumes it.
func (r *Registry) ResolveEndpoint(uri string) (*compiler.Route, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	key, ok := r.endpoints[uri]
	if !ok {
		return nil, false
	}
	route, ok := r.active[key]
	return route, ok
}

// Reload rebuilds the catalog from the store: every persisted definition
// enters the index, and rows persisted as DEPLOYED are compiled and
// activated. A row that no longer compiles is logged and left stopped rather
// than blocking startup.
func (r *Registry) Reload(ctx context.Context) error {
	if r.store == nil {
		return nil
	}
	defs, err := r.store.LoadAll(ctx)
	if err != nil {
		return err
	}

	for _, def := range defs {
		key := def.Key()
		// Status settles before the definition becomes visible to readers.
		if def.Status == routes.StatusDeployed {
			compiled, err := r.compiler.Compile(def)
			if err != nil {
				r.logger.Error("Persisted route no longer compiles, leaving stopped",
					"key", key, "error", err)
				def.Status = routes.StatusStopped
			} else {
				r.install(key, compiled)
			}
		}
		r.mu.Lock()
		r.definitions[key] = def
		r.mu.Unlock()
	}
	r.logger.Info("Route catalog reloaded", "routes", len(defs))
	return nil
}

// Teardown stops every running route, newest key last, and clears the index.
func (r *Registry) Teardown() {
	r.mu.Lock()
	defer r.mu.Unlock()
	keys := make([]string, 0, len(r.active))
	for key := range r.active {
		keys = append(keys, key)
	}
	sort.Sort(sort.Reverse(sort.StringSlice(keys)))
	for _, key := range keys {
		r.logger.Debug("Stopping route on teardown", "key", key)
		r.dropLocked(key)
	}
	r.definitions = make(map[string]*routes.Definition)
}

// install publishes a compiled route and its entry endpoint.
func (r *Registry) install(key string, route *compiler.Route) {
	r.mu.Lock()
	r.active[key] = route
	if route.EntryURI != "" {
		r.endpoints[route.EntryURI] = key
	}
	r.mu.Unlock()
}

// swap exchanges the installed route for key in one critical section and
// returns the previous one (nil on first deploy). This is the atomic instant
// of a redeploy: readers observe the old route or the new one, never neither.
func (r *Registry) swap(key string, route *compiler.Route) *compiler.Route {
	r.mu.Lock()
	defer r.mu.Unlock()
	prev := r.active[key]
	r.dropLocked(key)
	r.active[key] = route
	if route.EntryURI != "" {
		r.endpoints[route.EntryURI] = key
	}
	return prev
}

// uninstall removes the compiled route for key and returns it for rollback.
func (r *Registry) uninstall(key string) *compiler.Route {
	r.mu.Lock()
	defer r.mu.Unlock()
	route := r.active[key]
	r.dropLocked(key)
	return route
}

func (r *Registry) dropLocked(key string) {
	route, ok := r.active[key]
	if !ok {
		return
	}
	delete(r.active, key)
	if route.EntryURI != "" && r.endpoints[route.EntryURI] == key {
		delete(r.endpoints, route.EntryURI)
	}
}

// IsNotFound reports whether err is the registry's missing-route error.
func IsNotFound(err error) bool {
	return errors.Is(err, errz.ErrRouteNotFound)
}
