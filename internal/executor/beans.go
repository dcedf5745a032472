package executor

import (
	"context"
	"fmt"
	"sync"

	"github.com/routeforge/routeforge/internal/errz"
	"github.com/routeforge/routeforge/internal/exchange"
)

// BeanFunc is one callable method of a registered host object. The returned
// value becomes the exchange body.
type BeanFunc func(ctx context.Context, ex *exchange.Exchange) (any, error)

// BeanRegistry holds the named host objects reachable through bean: URIs.
type BeanRegistry struct {
	mu    sync.RWMutex
	beans map[string]map[string]BeanFunc
}

// NewBeanRegistry creates an empty registry.
func NewBeanRegistry() *BeanRegistry {
	return &BeanRegistry{beans: make(map[string]map[string]BeanFunc)}
}

// Register installs a method on a named bean, replacing any previous
// registration.
func (r *BeanRegistry) Register(name, method string, fn BeanFunc) {
	r.mu.Lock()
	defer r.mu.Unlock()
	methods, ok := r.beans[name]
	if !ok {
		methods = make(map[string]BeanFunc)
		r.beans[name] = methods
	}
	methods[method] = fn
}

// Invoke calls the named method. An empty method name matches a bean with
// exactly one registered method.
func (r *BeanRegistry) Invoke(ctx context.Context, name, method string, ex *exchange.Exchange) (any, error) {
	r.mu.RLock()
	methods, ok := r.beans[name]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %q", errz.ErrBeanNotFound, name)
	}
	if method == "" && len(methods) == 1 {
		for _, fn := range methods {
			return fn(ctx, ex)
		}
	}
	fn, ok := methods[method]
	if !ok {
		return nil, fmt.Errorf("%w: %s.%s", errz.ErrBeanMethodUnknown, name, method)
	}
	return fn(ctx, ex)
}
