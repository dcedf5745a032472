package routes

import (
	"encoding/json"
	"fmt"

	"github.com/routeforge/routeforge/internal/errz"
)

// CurrentSchemaVersion is the definition schema produced by this build.
// Version history:
//
//	0 — legacy rows keyed by bare route id, no tenant scoping
//	1 — tenant-scoped keys, canonical lower-case node types
const CurrentSchemaVersion = 1

// ParseDefinition decodes a definition JSON blob and normalizes it: schema
// migrations are applied, the tenant defaults, and node type tokens are
// canonicalized. Rows newer than the runtime schema are rejected.
func ParseDefinition(data []byte) (*Definition, error) {
	var def Definition
	if err := json.Unmarshal(data, &def); err != nil {
		return nil, fmt.Errorf("decoding definition: %w", err)
	}
	if err := def.Normalize(); err != nil {
		return nil, err
	}
	return &def, nil
}

// Normalize migrates the definition forward to the current schema version and
// canonicalizes its fields in place.
func (d *Definition) Normalize() error {
	if d.SchemaVersion > CurrentSchemaVersion {
		return fmt.Errorf("%w: definition %q has schemaVersion %d, runtime supports %d",
			errz.ErrSchemaVersion, d.ID, d.SchemaVersion, CurrentSchemaVersion)
	}
	for v := d.SchemaVersion; v < CurrentSchemaVersion; v++ {
		migrations[v](d)
	}
	d.SchemaVersion = CurrentSchemaVersion

	if d.TenantID == "" {
		d.TenantID = DefaultTenant
	}
	if d.Status == "" {
		d.Status = StatusDraft
	}
	for i := range d.Nodes {
		if t, ok := NormalizeType(string(d.Nodes[i].Type)); ok {
			d.Nodes[i].Type = t
		}
	}
	return nil
}

// migrations rewrite a definition from version v to v+1. Indexed by the
// source version.
var migrations = map[int]func(*Definition){
	// v0 rows predate tenant scoping. The row key rewrite happens in the
	// store; here only the embedded tenant needs a default.
	0: func(d *Definition) {
		if d.TenantID == "" {
			d.TenantID = DefaultTenant
		}
	},
}

// MarshalJSONBlob encodes the definition for catalog persistence.
func (d *Definition) MarshalJSONBlob() ([]byte, error) {
	data, err := json.Marshal(d)
	if err != nil {
		return nil, fmt.Errorf("encoding definition %q: %w", d.ID, err)
	}
	return data, nil
}

// Clone returns a deep copy of the definition. The registry snapshots
// definitions on deploy so later mutations by callers cannot leak into the
// installed index.
func (d *Definition) Clone() *Definition {
	out := *d
	out.Nodes = make([]Node, len(d.Nodes))
	for i, n := range d.Nodes {
		out.Nodes[i] = n
		if n.Properties != nil {
			props := make(map[string]string, len(n.Properties))
			for k, v := range n.Properties {
				props[k] = v
			}
			out.Nodes[i].Properties = props
		}
	}
	out.Edges = make([]Edge, len(d.Edges))
	copy(out.Edges, d.Edges)
	return &out
}
