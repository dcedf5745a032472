package compiler

import (
	"fmt"
	"net/url"
	"strings"

	"github.com/routeforge/routeforge/internal/errz"
	"github.com/routeforge/routeforge/internal/routes"
)

// URIPolicy restricts the endpoints a definition may reference. Empty lists
// permit everything in their dimension.
type URIPolicy struct {
	// AllowedSchemes is matched case-insensitively against the URI scheme
	// (the part before the first ':').
	AllowedSchemes []string
	// AllowedHTTPHosts is matched against the host of http/https URIs.
	AllowedHTTPHosts []string
}

// Check validates one endpoint URI from a from or to node.
func (p URIPolicy) Check(uri string) error {
	scheme, rest, found := strings.Cut(uri, ":")
	if !found || scheme == "" {
		return fmt.Errorf("%w: %q has no scheme", errz.ErrDisallowedURI, uri)
	}
	scheme = strings.ToLower(scheme)

	if len(p.AllowedSchemes) > 0 && !containsFold(p.AllowedSchemes, scheme) {
		return fmt.Errorf("%w: scheme %q", errz.ErrDisallowedURI, scheme)
	}

	if scheme == "http" || scheme == "https" {
		u, err := url.Parse(uri)
		if err != nil {
			return fmt.Errorf("%w: %q: %v", errz.ErrDisallowedURI, uri, err)
		}
		host := u.Hostname()
		if len(p.AllowedHTTPHosts) > 0 && !containsFold(p.AllowedHTTPHosts, host) {
			return fmt.Errorf("%w: host %q", errz.ErrDisallowedURI, host)
		}
	}
	_ = rest
	return nil
}

// checkEndpoints applies the policy to every from/to node carrying a URI.
func (p URIPolicy) checkEndpoints(def *routes.Definition) error {
	for _, n := range def.Nodes {
		switch n.Type {
		case routes.TypeFrom, routes.TypeTo:
			if n.URI == "" {
				continue
			}
			if err := p.Check(n.URI); err != nil {
				return fmt.Errorf("node %q: %w", n.ID, err)
			}
		}
	}
	return nil
}

func containsFold(list []string, s string) bool {
	for _, item := range list {
		if strings.EqualFold(item, s) {
			return true
		}
	}
	return false
}
