package compiler

import (
	"github.com/routeforge/routeforge/internal/errz"
	"github.com/routeforge/routeforge/internal/routes"
)

// builder materializes the step tree for one definition. The graph has
// already passed cycle detection, so recursion terminates.
type builder struct {
	def    *routes.Definition
	logger interface {
		Warn(msg string, args ...any)
	}
}

// chain builds the region starting at nodeID. For an inline node the
// subtrees of its outgoing edges follow it sequentially; a scoped node owns
// its edges as children and ends the chain at this level, so successors are
// reached through the final child of the scope.
func (b *builder) chain(nodeID string) []*Step {
	node := b.def.NodeByID(nodeID)
	if node == nil {
		return nil
	}
	step := &Step{Node: *node}

	if node.Type.IsScoped() {
		b.buildScope(step)
		return []*Step{step}
	}

	steps := []*Step{step}
	for _, e := range b.def.OutgoingEdges(nodeID) {
		steps = append(steps, b.chain(e.Target)...)
	}
	return steps
}

// buildScope populates the region fields of a scoped step from its outgoing
// edges, grouped by handle.
func (b *builder) buildScope(step *Step) {
	edges := b.def.OutgoingEdges(step.Node.ID)

	switch step.Node.Type {
	case routes.TypeChoice:
		for _, e := range edges {
			switch e.SourceHandle {
			case routes.HandleOtherwise:
				step.Otherwise = append(step.Otherwise, b.chain(e.Target)...)
			default:
				// A when edge; its condition falls back to the node's
				// default expression when empty.
				cond := e.Condition
				if cond == "" {
					cond = step.Node.Expression
				}
				step.Whens = append(step.Whens, &WhenBranch{
					Condition: cond,
					Steps:     b.chain(e.Target),
				})
			}
		}

	case routes.TypeTryCatch:
		// Catch edges group by declared exception type, keeping first-seen
		// order. Unresolvable names fall back to the catchall.
		groups := map[string]*CatchGroup{}
		var order []string
		for _, e := range edges {
			switch e.SourceHandle {
			case routes.HandleCatch:
				declared := e.ExceptionType
				class, ok := errz.ResolveClass(declared)
				if !ok {
					b.logger.Warn("unresolvable catch type, using catchall",
						"node", step.Node.ID, "declared", declared)
					class = errz.ClassException
				}
				g, exists := groups[class.Name()]
				if !exists {
					g = &CatchGroup{DeclaredType: declared, Class: class}
					groups[class.Name()] = g
					order = append(order, class.Name())
				}
				g.Steps = append(g.Steps, b.chain(e.Target)...)
			default:
				step.Try = append(step.Try, b.chain(e.Target)...)
			}
		}
		for _, name := range order {
			step.Catches = append(step.Catches, groups[name])
		}
		// The catchall handler must be consulted last.
		sortCatchall(step.Catches)

	default:
		// filter, split, loop, multicast: a single region of all subtrees.
		for _, e := range edges {
			step.Children = append(step.Children, b.chain(e.Target)...)
		}
	}
}

// sortCatchall moves the Exception catchall group to the end while keeping
// the relative order of typed groups.
func sortCatchall(groups []*CatchGroup) {
	for i, g := range groups {
		if g.Class == errz.ClassException && i != len(groups)-1 {
			moved := groups[i]
			copy(groups[i:], groups[i+1:])
			groups[len(groups)-1] = moved
		}
	}
}
