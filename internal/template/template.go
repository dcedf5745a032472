// Package template evaluates the ${path} expression language over an
// exchange. Each span resolves through the header → dotted body path →
// property cascade.
package template

import (
	"encoding/json"
	"fmt"
	"regexp"
	"strconv"

	"github.com/routeforge/routeforge/internal/exchange"
)

// spanPattern matches ${path} spans. Paths are dotted identifiers; the body
// shorthand ${body} resolves the whole body.
var spanPattern = regexp.MustCompile(`\$\{([^}]*)\}`)

// Render substitutes every ${path} span in input. Missing values render as
// the empty string.
func Render(input string, ex *exchange.Exchange) string {
	if input == "" {
		return ""
	}
	return spanPattern.ReplaceAllStringFunc(input, func(match string) string {
		path := spanPattern.FindStringSubmatch(match)[1]
		v, ok := Resolve(path, ex)
		if !ok || v == nil {
			return ""
		}
		return Stringify(v)
	})
}

// RenderQuoted substitutes spans like Render but emits values as expression
// literals: strings are quoted, containers become JSON. The condition
// evaluator uses this so "${header.priority} == 'high'" stays parseable after
// substitution.
func RenderQuoted(input string, ex *exchange.Exchange) string {
	if input == "" {
		return ""
	}
	return spanPattern.ReplaceAllStringFunc(input, func(match string) string {
		path := spanPattern.FindStringSubmatch(match)[1]
		v, ok := Resolve(path, ex)
		if !ok || v == nil {
			return "nil"
		}
		switch val := v.(type) {
		case string:
			return strconv.Quote(val)
		case bool:
			return strconv.FormatBool(val)
		case int, int64, float64, json.Number:
			return Stringify(val)
		default:
			data, err := json.Marshal(val)
			if err != nil {
				return strconv.Quote(Stringify(val))
			}
			return string(data)
		}
	})
}

// Resolve looks up a single path using the cascade: header, then dotted body
// path, then exchange property. The prefixes "header." and "body." force one
// source; "body" alone yields the whole body.
func Resolve(path string, ex *exchange.Exchange) (any, bool) {
	switch {
	case path == "":
		return nil, false
	case path == "body":
		return ex.Body, ex.Body != nil
	case len(path) > 7 && path[:7] == "header.":
		return ex.Header(path[7:])
	case len(path) > 5 && path[:5] == "body.":
		return ex.BodyPath(path[5:])
	}
	if v, ok := ex.Header(path); ok {
		return v, true
	}
	if v, ok := ex.BodyPath(path); ok {
		return v, true
	}
	return ex.Property(path)
}

// IsTemplated reports whether the value contains at least one ${...} span.
func IsTemplated(s string) bool {
	return spanPattern.MatchString(s)
}

// Stringify renders a resolved value as display text. Containers are encoded
// as JSON; numbers drop the float64 artifacts JSON decoding introduces.
func Stringify(v any) string {
	switch val := v.(type) {
	case nil:
		return ""
	case string:
		return val
	case float64:
		return strconv.FormatFloat(val, 'f', -1, 64)
	case json.Number:
		return val.String()
	case bool:
		return strconv.FormatBool(val)
	case map[string]any, []any:
		data, err := json.Marshal(val)
		if err != nil {
			return fmt.Sprintf("%v", val)
		}
		return string(data)
	default:
		return fmt.Sprintf("%v", val)
	}
}
