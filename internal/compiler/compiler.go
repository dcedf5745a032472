package compiler

import (
	"fmt"
	"log/slog"

	"github.com/routeforge/routeforge/internal/errz"
	"github.com/routeforge/routeforge/internal/routes"
)

// Compiler turns validated definitions into executable step trees.
type Compiler struct {
	policy URIPolicy
	logger *slog.Logger
}

// Option configures a Compiler.
type Option func(*Compiler)

// WithURIPolicy sets the endpoint allowlist policy.
func WithURIPolicy(policy URIPolicy) Option {
	return func(c *Compiler) {
		c.policy = policy
	}
}

// WithLogHandler sets a custom slog handler for the Compiler instance.
func WithLogHandler(handler slog.Handler) Option {
	return func(c *Compiler) {
		if handler != nil {
			c.logger = slog.New(handler).WithGroup("compiler")
		}
	}
}

// New creates a Compiler.
func New(opts ...Option) *Compiler {
	c := &Compiler{
		logger: slog.Default().WithGroup("compiler"),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Validate runs every compile-time check without materializing the tree:
// structural invariants, cycle detection, reachability, and endpoint policy.
func (c *Compiler) Validate(def *routes.Definition) error {
	if err := def.Validate(); err != nil {
		return fmt.Errorf("%w: %w", errz.ErrValidation, err)
	}
	from := def.FromNode()
	if err := checkCycles(def, from.ID); err != nil {
		return err
	}
	if err := checkReachability(def, from.ID); err != nil {
		return err
	}
	return c.policy.checkEndpoints(def)
}

// Compile validates the definition and builds the executable route.
func (c *Compiler) Compile(def *routes.Definition) (*Route, error) {
	if err := c.Validate(def); err != nil {
		return nil, err
	}

	from := def.FromNode()
	b := &builder{def: def, logger: c.logger.With("route", def.Key())}
	steps := b.chain(from.ID)

	return &Route{
		Key:        def.Key(),
		EntryURI:   from.URI,
		Definition: def,
		Steps:      steps,
	}, nil
}
