// Package exchange holds the ephemeral per-invocation state flowing through
// a route: headers, body, and derived properties.
package exchange

import (
	"encoding/json"
	"strconv"
	"strings"
)

// parsedBodyProp caches the decoded body tree so repeated dotted-path lookups
// on a JSON string body parse it only once per body assignment.
const parsedBodyProp = "routeforge.parsedBody"

// Exchange is the mutable state of one route invocation.
type Exchange struct {
	Headers     map[string]any
	Body        any
	Properties  map[string]any
	FromRouteID string
}

// New creates an empty exchange.
func New() *Exchange {
	return &Exchange{
		Headers:    make(map[string]any),
		Properties: make(map[string]any),
	}
}

// SetBody assigns a new body and drops the cached parse tree.
func (e *Exchange) SetBody(body any) {
	e.Body = body
	delete(e.Properties, parsedBodyProp)
}

// Header returns the named header.
func (e *Exchange) Header(name string) (any, bool) {
	v, ok := e.Headers[name]
	return v, ok
}

// Property returns the named property.
func (e *Exchange) Property(name string) (any, bool) {
	v, ok := e.Properties[name]
	return v, ok
}

// BodyPath resolves a dotted path (e.g. "order.customer.id") into the body.
// String bodies are decoded as JSON on first access and the tree is cached in
// the exchange properties. List elements are addressed by decimal index.
func (e *Exchange) BodyPath(path string) (any, bool) {
	root := e.bodyTree()
	if root == nil {
		return nil, false
	}
	if path == "" {
		return root, true
	}
	cur := root
	for _, seg := range strings.Split(path, ".") {
		switch v := cur.(type) {
		case map[string]any:
			next, ok := v[seg]
			if !ok {
				return nil, false
			}
			cur = next
		case []any:
			idx, err := strconv.Atoi(seg)
			if err != nil || idx < 0 || idx >= len(v) {
				return nil, false
			}
			cur = v[idx]
		default:
			return nil, false
		}
	}
	return cur, true
}

// bodyTree returns the body as a traversable value, decoding JSON strings
// lazily.
func (e *Exchange) bodyTree() any {
	switch body := e.Body.(type) {
	case nil:
		return nil
	case string:
		if cached, ok := e.Properties[parsedBodyProp]; ok {
			return cached
		}
		trimmed := strings.TrimSpace(body)
		if !strings.HasPrefix(trimmed, "{") && !strings.HasPrefix(trimmed, "[") {
			return body
		}
		var tree any
		if err := json.Unmarshal([]byte(body), &tree); err != nil {
			return body
		}
		e.Properties[parsedBodyProp] = tree
		return tree
	case []byte:
		var tree any
		if err := json.Unmarshal(body, &tree); err != nil {
			return string(body)
		}
		return tree
	default:
		return body
	}
}

// Copy returns a deep-enough copy for fan-out: header and property maps are
// copied, the body is cloned through JSON when it is a container so parallel
// branches cannot see each other's mutations.
func (e *Exchange) Copy() *Exchange {
	out := &Exchange{
		Headers:     make(map[string]any, len(e.Headers)),
		Properties:  make(map[string]any, len(e.Properties)),
		Body:        cloneValue(e.Body),
		FromRouteID: e.FromRouteID,
	}
	for k, v := range e.Headers {
		out.Headers[k] = v
	}
	for k, v := range e.Properties {
		if k == parsedBodyProp {
			continue
		}
		out.Properties[k] = v
	}
	return out
}

func cloneValue(v any) any {
	switch v.(type) {
	case nil, string, bool, int, int64, float64, json.Number:
		return v
	}
	data, err := json.Marshal(v)
	if err != nil {
		return v
	}
	var out any
	if err := json.Unmarshal(data, &out); err != nil {
		return v
	}
	return out
}
