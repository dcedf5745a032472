package compiler

import (
	"fmt"
	"sort"

	"github.com/routeforge/routeforge/internal/errz"
	"github.com/routeforge/routeforge/internal/routes"
)

// DFS colors for cycle detection.
type color int

const (
	white color = iota // unvisited
	gray               // on the current DFS stack
	black              // fully explored
)

// checkCycles walks the graph from the entry node. A back-edge into a node
// still on the DFS stack is a cycle; loops must be expressed with a loop
// scope, never with graph back-edges.
func checkCycles(def *routes.Definition, from string) error {
	colors := make(map[string]color, len(def.Nodes))
	var visit func(id string) error
	visit = func(id string) error {
		switch colors[id] {
		case gray:
			return fmt.Errorf("%w: back-edge into node %q", errz.ErrGraphCycle, id)
		case black:
			return nil
		}
		colors[id] = gray
		for _, e := range def.OutgoingEdges(id) {
			if err := visit(e.Target); err != nil {
				return err
			}
		}
		colors[id] = black
		return nil
	}
	return visit(from)
}

// checkReachability collects every node reachable from the entry and reports
// the ones left over.
func checkReachability(def *routes.Definition, from string) error {
	reachable := make(map[string]bool, len(def.Nodes))
	stack := []string{from}
	for len(stack) > 0 {
		id := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		if reachable[id] {
			continue
		}
		reachable[id] = true
		for _, e := range def.OutgoingEdges(id) {
			stack = append(stack, e.Target)
		}
	}

	var orphans []string
	for _, n := range def.Nodes {
		if !reachable[n.ID] {
			orphans = append(orphans, n.ID)
		}
	}
	if len(orphans) > 0 {
		sort.Strings(orphans)
		return fmt.Errorf("%w: %v", errz.ErrUnreachableNode, orphans)
	}
	return nil
}
