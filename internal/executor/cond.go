package executor

import (
	"fmt"
	"strings"
	"sync"

	"github.com/expr-lang/expr"
	"github.com/expr-lang/expr/vm"
	"github.com/routeforge/routeforge/internal/exchange"
	"github.com/routeforge/routeforge/internal/template"
)

// conditionCache caches compiled condition programs keyed by the substituted
// expression text. Conditions contain ${...} spans that vary per invocation,
// so the cache works on the post-substitution form.
type conditionCache struct {
	mu       sync.Mutex
	programs map[string]*vm.Program
	max      int
}

func newConditionCache(max int) *conditionCache {
	return &conditionCache{
		programs: make(map[string]*vm.Program),
		max:      max,
	}
}

// eval substitutes templates in the expression, compiles it (with caching),
// and runs it against the exchange environment.
func (c *conditionCache) eval(expression string, ex *exchange.Exchange) (any, error) {
	substituted := template.RenderQuoted(expression, ex)
	program, err := c.compile(substituted)
	if err != nil {
		return nil, fmt.Errorf("compiling condition %q: %w", expression, err)
	}
	env := map[string]any{
		"body":       ex.Body,
		"headers":    ex.Headers,
		"properties": ex.Properties,
	}
	out, err := expr.Run(program, env)
	if err != nil {
		return nil, fmt.Errorf("evaluating condition %q: %w", expression, err)
	}
	return out, nil
}

func (c *conditionCache) compile(source string) (*vm.Program, error) {
	c.mu.Lock()
	program, ok := c.programs[source]
	c.mu.Unlock()
	if ok {
		return program, nil
	}

	program, err := expr.Compile(source, expr.AllowUndefinedVariables())
	if err != nil {
		return nil, err
	}

	c.mu.Lock()
	if len(c.programs) >= c.max {
		// Full cache: drop everything rather than track recency. Conditions
		// in steady state are few; churn here means templates with unbounded
		// value domains, which are not worth caching anyway.
		c.programs = make(map[string]*vm.Program)
	}
	c.programs[source] = program
	c.mu.Unlock()
	return program, nil
}

// evalPredicate evaluates a condition to a boolean. An empty condition is
// false (a choice when-edge without a condition never matches); a plain
// template resolves by truthiness of the substituted value.
func (e *Executor) evalPredicate(condition string, ex *exchange.Exchange) (bool, error) {
	condition = strings.TrimSpace(condition)
	if condition == "" {
		return false, nil
	}
	out, err := e.conditions.eval(condition, ex)
	if err != nil {
		return false, err
	}
	return truthy(out), nil
}

// truthy coalesces an evaluated condition result into a boolean the way the
// templating cascade treats missing and empty values.
func truthy(v any) bool {
	switch val := v.(type) {
	case nil:
		return false
	case bool:
		return val
	case string:
		s := strings.ToLower(strings.TrimSpace(val))
		return s != "" && s != "false" && s != "0" && s != "null"
	case int:
		return val != 0
	case int64:
		return val != 0
	case float64:
		return val != 0
	default:
		return true
	}
}
