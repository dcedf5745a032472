package fancy

import (
	"fmt"

	"github.com/charmbracelet/lipgloss/tree"
	"github.com/routeforge/routeforge/internal/compiler"
)

// RouteTree renders the compiled step tree of one route for CLI output.
func RouteTree(route *compiler.Route) *tree.Tree {
	t := Tree()
	title := RouteText(route.Key)
	if route.EntryURI != "" {
		title += " " + InfoStyle.Render("from "+EndpointText(route.EntryURI))
	}
	t.Root(title)
	for _, step := range route.Steps {
		t.Child(stepNode(step))
	}
	return t
}

// stepNode renders one step and its nested regions.
func stepNode(step *compiler.Step) *tree.Tree {
	t := tree.New().Root(stepLabel(step))

	for _, when := range step.Whens {
		branch := tree.New().Root(ScopeText("when") + " " + InfoStyle.Render(TruncateString(when.Condition, 48)))
		for _, child := range when.Steps {
			branch.Child(stepNode(child))
		}
		t.Child(branch)
	}
	if len(step.Otherwise) > 0 {
		branch := tree.New().Root(ScopeText("otherwise"))
		for _, child := range step.Otherwise {
			branch.Child(stepNode(child))
		}
		t.Child(branch)
	}
	if len(step.Try) > 0 {
		branch := tree.New().Root(ScopeText("try"))
		for _, child := range step.Try {
			branch.Child(stepNode(child))
		}
		t.Child(branch)
	}
	for _, catch := range step.Catches {
		label := ScopeText("catch")
		if catch.DeclaredType != "" {
			label += " " + InfoStyle.Render(catch.DeclaredType)
		}
		branch := tree.New().Root(label)
		for _, child := range catch.Steps {
			branch.Child(stepNode(child))
		}
		t.Child(branch)
	}
	for _, child := range step.Children {
		t.Child(stepNode(child))
	}
	return t
}

// stepLabel is the one-line description of a step's node.
func stepLabel(step *compiler.Step) string {
	node := step.Node
	label := NodeText(string(node.Type)) + " " + SummaryText(node.ID)
	switch {
	case node.URI != "":
		label += " " + EndpointText(node.URI)
	case node.Expression != "":
		label += " " + InfoStyle.Render(TruncateString(node.Expression, 48))
	case node.Message != "":
		label += " " + InfoStyle.Render(TruncateString(fmt.Sprintf("%q", node.Message), 48))
	}
	return label
}
