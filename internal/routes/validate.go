package routes

import (
	"errors"
	"fmt"

	"github.com/routeforge/routeforge/internal/errz"
)

// Validate checks the structural invariants of a definition: key rules,
// exactly one from node with a URI, unique non-empty node ids, edge endpoint
// resolution, and the handle requirements of branching nodes. Graph-shape
// checks (cycles, reachability) and URI policy belong to the compiler.
func (d *Definition) Validate() error {
	var errs []error

	if err := ValidateKeyParts(d.TenantID, d.ID); err != nil {
		errs = append(errs, err)
	}

	fromCount := 0
	seen := make(map[string]bool, len(d.Nodes))
	for _, n := range d.Nodes {
		if n.ID == "" {
			errs = append(errs, fmt.Errorf("%w: node of type %q", errz.ErrEmptyNodeID, n.Type))
			continue
		}
		if seen[n.ID] {
			errs = append(errs, fmt.Errorf("%w: %q", errz.ErrDuplicateNodeID, n.ID))
		}
		seen[n.ID] = true

		if !knownTypes[n.Type] {
			errs = append(errs, fmt.Errorf("%w: node %q has type %q", errz.ErrInvalidNodeType, n.ID, n.Type))
		}
		if n.Type == TypeFrom {
			fromCount++
			if n.URI == "" {
				errs = append(errs, fmt.Errorf("%w: from node %q requires a uri", errz.ErrValidation, n.ID))
			}
		}
	}
	if fromCount != 1 {
		errs = append(errs, fmt.Errorf("%w: found %d", errz.ErrMissingFromNode, fromCount))
	}

	for _, e := range d.Edges {
		if !seen[e.Source] {
			errs = append(errs, fmt.Errorf("%w: edge %q source %q", errz.ErrDanglingEdge, e.ID, e.Source))
		}
		if !seen[e.Target] {
			errs = append(errs, fmt.Errorf("%w: edge %q target %q", errz.ErrDanglingEdge, e.ID, e.Target))
		}
	}

	for _, n := range d.Nodes {
		switch n.Type {
		case TypeChoice:
			if err := d.requireHandle(n.ID, HandleWhen, HandleOtherwise); err != nil {
				errs = append(errs, err)
			}
		case TypeTryCatch:
			if err := d.requireHandle(n.ID, HandleTry); err != nil {
				errs = append(errs, err)
			}
		}
	}

	return errors.Join(errs...)
}

// requireHandle checks that at least one outgoing edge of the node carries
// one of the given handles.
func (d *Definition) requireHandle(nodeID string, handles ...string) error {
	for _, e := range d.OutgoingEdges(nodeID) {
		for _, h := range handles {
			if e.SourceHandle == h {
				return nil
			}
		}
	}
	return fmt.Errorf("%w: node %q requires an outgoing %v edge", errz.ErrMissingHandle, nodeID, handles)
}
