// Package compiler translates a flat node/edge definition graph into the
// nested, scoped step tree the executor walks. Compilation resolves
// everything that can fail early: structure, graph shape, endpoint policy,
// and catch-type names.
package compiler

import (
	"github.com/routeforge/routeforge/internal/errz"
	"github.com/routeforge/routeforge/internal/routes"
)

// Route is a compiled, executable route.
type Route struct {
	// Key is the internal (tenant-scoped) runtime handle.
	Key string
	// EntryURI is the from node's endpoint, e.g. "direct:orders".
	EntryURI string
	// Definition is the normalized source definition the route was built from.
	Definition *routes.Definition
	// Steps is the execution region rooted at the from node.
	Steps []*Step
}

// Step is one node of the compiled tree. Scoped node types populate their
// region fields; inline types carry none and execution proceeds to the next
// step of the enclosing region.
type Step struct {
	Node routes.Node

	// Whens and Otherwise belong to choice steps.
	Whens     []*WhenBranch
	Otherwise []*Step

	// Try and Catches belong to tryCatch steps.
	Try     []*Step
	Catches []*CatchGroup

	// Children is the region of filter, split, loop and multicast steps.
	Children []*Step
}

// WhenBranch is one guarded region of a choice step, evaluated in declaration
// order.
type WhenBranch struct {
	// Condition is the guard expression, still containing ${...} spans; the
	// executor substitutes and evaluates it per invocation.
	Condition string
	Steps     []*Step
}

// CatchGroup is one typed handler of a tryCatch step. Groups are ordered most
// specific first so the executor takes the first assignable match.
type CatchGroup struct {
	// DeclaredType is the type name as written in the definition, kept for
	// telemetry.
	DeclaredType string
	Class        *errz.Class
	Steps        []*Step
}
