// Package routes defines the persisted route definition model: the node/edge
// graph produced by the visual builder, its lifecycle status, and the
// tenant-scoped internal key used as the runtime handle.
package routes

import "strings"

// Status is the catalog lifecycle state of a definition.
type Status string

const (
	StatusDraft    Status = "DRAFT"
	StatusDeployed Status = "DEPLOYED"
	StatusStopped  Status = "STOPPED"
)

// NodeType is a canonical node type token, lower-cased in storage and matched
// case-insensitively on input.
type NodeType string

const (
	TypeFrom          NodeType = "from"
	TypeTo            NodeType = "to"
	TypeLog           NodeType = "log"
	TypeSetBody       NodeType = "setbody"
	TypeTransform     NodeType = "transform"
	TypeFilter        NodeType = "filter"
	TypeChoice        NodeType = "choice"
	TypeDelay         NodeType = "delay"
	TypeSplit         NodeType = "split"
	TypeAggregate     NodeType = "aggregate"
	TypeMulticast     NodeType = "multicast"
	TypeEnrich        NodeType = "enrich"
	TypeTryCatch      NodeType = "trycatch"
	TypeLoop          NodeType = "loop"
	TypeThrottle      NodeType = "throttle"
	TypeWireTap       NodeType = "wiretap"
	TypeConvertBodyTo NodeType = "convertbodyto"
	TypeDebit         NodeType = "debit"
	TypeCredit        NodeType = "credit"
	TypeSagaTransfer  NodeType = "sagatransfer"
	TypeCompensate    NodeType = "compensate"
)

// knownTypes is the full node type set.
var knownTypes = map[NodeType]bool{
	TypeFrom: true, TypeTo: true, TypeLog: true, TypeSetBody: true,
	TypeTransform: true, TypeFilter: true, TypeChoice: true, TypeDelay: true,
	TypeSplit: true, TypeAggregate: true, TypeMulticast: true, TypeEnrich: true,
	TypeTryCatch: true, TypeLoop: true, TypeThrottle: true, TypeWireTap: true,
	TypeConvertBodyTo: true, TypeDebit: true, TypeCredit: true,
	TypeSagaTransfer: true, TypeCompensate: true,
}

// scopedTypes is the set of node types whose outgoing edges become children
// of a nested region rather than sequential successors. The compiler consults
// this single table; no other code decides scoping.
var scopedTypes = map[NodeType]bool{
	TypeFilter:    true,
	TypeSplit:     true,
	TypeLoop:      true,
	TypeChoice:    true,
	TypeTryCatch:  true,
	TypeMulticast: true,
}

// NormalizeType canonicalizes a node type token. Returns false for tokens
// outside the node type set.
func NormalizeType(raw string) (NodeType, bool) {
	t := NodeType(strings.ToLower(strings.TrimSpace(raw)))
	return t, knownTypes[t]
}

// IsScoped reports whether the node type creates a child region.
func (t NodeType) IsScoped() bool { return scopedTypes[t] }

// Expression languages recognized on expression-bearing nodes.
const (
	LangSimple   = "simple"
	LangConstant = "constant"
	LangJSONPath = "jsonpath"
)

// Edge handles for branching nodes.
const (
	HandleWhen      = "when"
	HandleOtherwise = "otherwise"
	HandleTry       = "try"
	HandleCatch     = "catch"
)

// Node is a vertex of the route graph.
type Node struct {
	ID                 string            `json:"id"`
	Type               NodeType          `json:"type"`
	URI                string            `json:"uri,omitempty"`
	Message            string            `json:"message,omitempty"`
	Expression         string            `json:"expression,omitempty"`
	ExpressionLanguage string            `json:"expressionLanguage,omitempty"`
	Properties         map[string]string `json:"properties,omitempty"`
	PositionX          float64           `json:"positionX,omitempty"`
	PositionY          float64           `json:"positionY,omitempty"`
}

// Edge is a directed connection between two nodes. SourceHandle carries the
// semantic port on branching nodes (when/otherwise, try/catch).
type Edge struct {
	ID            string `json:"id"`
	Source        string `json:"source"`
	Target        string `json:"target"`
	SourceHandle  string `json:"sourceHandle,omitempty"`
	Condition     string `json:"condition,omitempty"`
	ExceptionType string `json:"exceptionType,omitempty"`
}

// Definition is the persisted, versioned route artifact.
type Definition struct {
	SchemaVersion int    `json:"schemaVersion"`
	TenantID      string `json:"tenantId"`
	ID            string `json:"id"`
	Name          string `json:"name,omitempty"`
	Description   string `json:"description,omitempty"`
	Status        Status `json:"status"`
	Nodes         []Node `json:"nodes"`
	Edges         []Edge `json:"edges"`
}

// FromNode returns the entry node, or nil when the definition has none.
func (d *Definition) FromNode() *Node {
	for i := range d.Nodes {
		if d.Nodes[i].Type == TypeFrom {
			return &d.Nodes[i]
		}
	}
	return nil
}

// NodeByID returns the node with the given id, or nil.
func (d *Definition) NodeByID(id string) *Node {
	for i := range d.Nodes {
		if d.Nodes[i].ID == id {
			return &d.Nodes[i]
		}
	}
	return nil
}

// OutgoingEdges returns the edges leaving the given node, in declaration
// order.
func (d *Definition) OutgoingEdges(nodeID string) []Edge {
	var out []Edge
	for _, e := range d.Edges {
		if e.Source == nodeID {
			out = append(out, e)
		}
	}
	return out
}
