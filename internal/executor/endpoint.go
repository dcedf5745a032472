package executor

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/routeforge/routeforge/internal/errz"
	"github.com/routeforge/routeforge/internal/exchange"
	"github.com/routeforge/routeforge/internal/routes"
	"github.com/routeforge/routeforge/internal/template"
)

// runTo forwards the exchange to the target endpoint and reassigns the body
// from whatever comes back.
func (e *Executor) runTo(ctx context.Context, inv *invocation, node *routes.Node, ex *exchange.Exchange) (any, error) {
	uri := node.URI
	if uri == "" {
		uri = node.Properties["uri"]
	}
	if uri == "" {
		// A bare to node is a pass-through.
		return ex.Body, nil
	}
	reply, err := e.callEndpoint(ctx, uri, ex)
	if err != nil {
		return nil, err
	}
	ex.SetBody(reply)
	return ex.Body, nil
}

// callEndpoint dispatches on the URI scheme: direct routes run in-process,
// log sinks log, beans call host objects, http(s) goes over the wire.
func (e *Executor) callEndpoint(ctx context.Context, uri string, ex *exchange.Exchange) (any, error) {
	scheme, rest, found := strings.Cut(uri, ":")
	if !found {
		return nil, fmt.Errorf("%w: %q has no scheme", errz.ErrEndpointNotFound, uri)
	}

	switch strings.ToLower(scheme) {
	case "direct":
		return e.callDirect(ctx, uri, ex)

	case "log":
		e.logger.Info(template.Stringify(ex.Body), "category", rest)
		return ex.Body, nil

	case "bean":
		return e.callBean(ctx, rest, ex)

	case "http", "https":
		return e.callHTTP(ctx, uri, ex)

	default:
		return nil, fmt.Errorf("%w: scheme %q", errz.ErrEndpointNotFound, scheme)
	}
}

// callDirect invokes another installed route in-process. The callee runs
// with its own exchange; the reply body is the callee's final body.
func (e *Executor) callDirect(ctx context.Context, uri string, ex *exchange.Exchange) (any, error) {
	if e.resolver == nil {
		return nil, fmt.Errorf("%w: no route resolver for %q", errz.ErrEndpointNotFound, uri)
	}
	route, ok := e.resolver.ResolveEndpoint(uri)
	if !ok {
		return nil, fmt.Errorf("%w: no route consumes %q", errz.ErrEndpointNotFound, uri)
	}
	callee := ex.Copy()
	result, err := e.Invoke(ctx, route, callee)
	if err != nil {
		return nil, err
	}
	return result.Body, nil
}

// callBean resolves "name?method=m" against the bean registry.
func (e *Executor) callBean(ctx context.Context, rest string, ex *exchange.Exchange) (any, error) {
	name := rest
	method := ""
	if idx := strings.Index(rest, "?"); idx >= 0 {
		name = rest[:idx]
		query, err := url.ParseQuery(rest[idx+1:])
		if err != nil {
			return nil, fmt.Errorf("%w: bean query %q: %v", errz.ErrEndpointNotFound, rest, err)
		}
		method = query.Get("method")
	}
	return e.beans.Invoke(ctx, name, method, ex)
}

// callHTTP posts the body to the URL. A timeout query parameter (ms)
// overrides the default per-endpoint timeout; timeouts are retryable
// failures classed separately from transport errors.
func (e *Executor) callHTTP(ctx context.Context, rawURL string, ex *exchange.Exchange) (any, error) {
	timeout := e.defaultTimeout
	target, err := url.Parse(rawURL)
	if err != nil {
		return nil, fmt.Errorf("%w: %q: %v", errz.ErrEndpointNotFound, rawURL, err)
	}
	query := target.Query()
	if raw := query.Get("timeout"); raw != "" {
		if ms, err := strconv.Atoi(raw); err == nil && ms > 0 {
			timeout = time.Duration(ms) * time.Millisecond
		}
		query.Del("timeout")
		target.RawQuery = query.Encode()
	}

	callCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	payload := []byte(template.Stringify(ex.Body))
	req, err := http.NewRequestWithContext(callCtx, http.MethodPost, target.String(), bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", errz.ErrTransport, err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := e.client.Do(req)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) || callCtx.Err() == context.DeadlineExceeded {
			return nil, fmt.Errorf("%w: %s after %s", errz.ErrEndpointTimeout, target, timeout)
		}
		return nil, fmt.Errorf("%w: %s: %v", errz.ErrTransport, target, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("%w: reading reply from %s: %v", errz.ErrTransport, target, err)
	}
	if resp.StatusCode >= 400 {
		return nil, fmt.Errorf("%w: %s returned %d", errz.ErrTransport, target, resp.StatusCode)
	}
	return string(body), nil
}
