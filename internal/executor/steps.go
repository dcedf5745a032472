package executor

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/routeforge/routeforge/internal/compiler"
	"github.com/routeforge/routeforge/internal/errz"
	"github.com/routeforge/routeforge/internal/exchange"
	"github.com/routeforge/routeforge/internal/routes"
	"github.com/routeforge/routeforge/internal/template"
	"golang.org/x/time/rate"
)

// exceptionMessageProp exposes the caught error text to catch regions.
const exceptionMessageProp = "exception.message"

// maxLoopIterations bounds expression-driven loops so a condition that never
// turns falsy cannot spin an invocation forever.
const maxLoopIterations = 10_000

// dispatch runs the semantic action of one step. The returned value becomes
// the COMPLETED event's result (or message, for logMessage values).
func (e *Executor) dispatch(ctx context.Context, inv *invocation, step *compiler.Step, ex *exchange.Exchange) (any, error) {
	node := &step.Node
	switch node.Type {
	case routes.TypeFrom:
		// Entry binding only; the registry resolved it at deploy time.
		return nil, nil

	case routes.TypeTo:
		return e.runTo(ctx, inv, node, ex)

	case routes.TypeLog:
		msg := template.Render(node.Message, ex)
		e.logger.Info(msg, "route", inv.routeID, "node", node.ID)
		return logMessage(msg), nil

	case routes.TypeSetBody:
		if node.ExpressionLanguage == routes.LangConstant {
			ex.SetBody(node.Expression)
		} else {
			ex.SetBody(e.evalValue(node.Expression, ex))
		}
		return ex.Body, nil

	case routes.TypeTransform:
		ex.SetBody(e.evalValue(node.Expression, ex))
		return ex.Body, nil

	case routes.TypeFilter:
		return e.runFilter(ctx, inv, step, ex)

	case routes.TypeSplit:
		return e.runSplit(ctx, inv, step, ex)

	case routes.TypeAggregate:
		// Sequence terminator for a split group; the body passes through.
		return ex.Body, nil

	case routes.TypeMulticast:
		return e.runMulticast(ctx, inv, step, ex)

	case routes.TypeChoice:
		return e.runChoice(ctx, inv, step, ex)

	case routes.TypeTryCatch:
		return e.runTryCatch(ctx, inv, step, ex)

	case routes.TypeLoop:
		return e.runLoop(ctx, inv, step, ex)

	case routes.TypeDelay:
		return e.runDelay(ctx, node, ex)

	case routes.TypeThrottle:
		return nil, e.runThrottle(ctx, step, ex)

	case routes.TypeWireTap:
		e.runWireTap(node, ex)
		return nil, nil

	case routes.TypeEnrich:
		return e.runEnrich(ctx, inv, node, ex)

	case routes.TypeConvertBodyTo:
		return e.runConvertBodyTo(node, ex)

	case routes.TypeDebit, routes.TypeCredit, routes.TypeCompensate, routes.TypeSagaTransfer:
		return e.runSagaNode(ctx, node, ex)

	default:
		return nil, fmt.Errorf("%w: %q", errz.ErrInvalidNodeType, node.Type)
	}
}

// evalValue renders a templated expression. A lone ${path} span yields the
// resolved value with its type intact; anything else renders to a string.
func (e *Executor) evalValue(expr string, ex *exchange.Exchange) any {
	trimmed := strings.TrimSpace(expr)
	if strings.HasPrefix(trimmed, "${") && strings.HasSuffix(trimmed, "}") &&
		!strings.Contains(trimmed[2:], "${") {
		if v, ok := template.Resolve(trimmed[2:len(trimmed)-1], ex); ok {
			return v
		}
		return ""
	}
	rendered := template.Render(expr, ex)
	// Arithmetic like "${body.amount} * 2" survives substitution as an
	// evaluatable expression. Untemplated text never goes through the
	// evaluator: a bare word would compile as an undefined identifier and
	// come back nil instead of keeping its rendered form.
	if template.IsTemplated(expr) {
		if v, err := e.conditions.eval(rendered, ex); err == nil && v != nil {
			return v
		}
	}
	return rendered
}

func (e *Executor) runFilter(ctx context.Context, inv *invocation, step *compiler.Step, ex *exchange.Exchange) (any, error) {
	pass, err := e.evalPredicate(step.Node.Expression, ex)
	if err != nil {
		return nil, err
	}
	if !pass {
		// Short-circuit: skip the scope's children, keep the body.
		return false, nil
	}
	return true, e.runRegion(ctx, inv, step.Children, ex)
}

func (e *Executor) runSplit(ctx context.Context, inv *invocation, step *compiler.Step, ex *exchange.Exchange) (any, error) {
	items := splitItems(e.evalValue(step.Node.Expression, ex))
	originalBody := ex.Body
	for _, item := range items {
		ex.SetBody(item)
		if err := e.runRegion(ctx, inv, step.Children, ex); err != nil {
			ex.SetBody(originalBody)
			return nil, err
		}
	}
	ex.SetBody(originalBody)
	return len(items), nil
}

// splitItems turns an expression result into the ordered sequence a split
// iterates over. Lists iterate element-wise; strings tokenize on commas.
func splitItems(v any) []any {
	switch val := v.(type) {
	case nil:
		return nil
	case []any:
		return val
	case string:
		if val == "" {
			return nil
		}
		parts := strings.Split(val, ",")
		items := make([]any, len(parts))
		for i, p := range parts {
			items[i] = strings.TrimSpace(p)
		}
		return items
	default:
		return []any{val}
	}
}

func (e *Executor) runMulticast(ctx context.Context, inv *invocation, step *compiler.Step, ex *exchange.Exchange) (any, error) {
	if len(step.Children) == 0 {
		return nil, nil
	}

	var (
		wg       sync.WaitGroup
		mu       sync.Mutex
		lastBody any
		errs     []error
	)
	// Parallel fan-out over copies of the same input; the final body is the
	// last branch to complete.
	for _, child := range step.Children {
		wg.Add(1)
		go func(child *compiler.Step) {
			defer wg.Done()
			branchEx := ex.Copy()
			err := e.runRegion(ctx, inv, []*compiler.Step{child}, branchEx)
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				errs = append(errs, err)
				return
			}
			lastBody = branchEx.Body
		}(child)
	}
	wg.Wait()

	if len(errs) > 0 {
		return nil, errors.Join(errs...)
	}
	ex.SetBody(lastBody)
	return ex.Body, nil
}

func (e *Executor) runChoice(ctx context.Context, inv *invocation, step *compiler.Step, ex *exchange.Exchange) (any, error) {
	for _, when := range step.Whens {
		match, err := e.evalPredicate(when.Condition, ex)
		if err != nil {
			return nil, err
		}
		if match {
			return when.Condition, e.runRegion(ctx, inv, when.Steps, ex)
		}
	}
	if len(step.Otherwise) > 0 {
		return "otherwise", e.runRegion(ctx, inv, step.Otherwise, ex)
	}
	return nil, nil
}

func (e *Executor) runTryCatch(ctx context.Context, inv *invocation, step *compiler.Step, ex *exchange.Exchange) (any, error) {
	err := e.runRegion(ctx, inv, step.Try, ex)
	if err == nil {
		return nil, nil
	}
	if ctx.Err() != nil {
		return nil, err
	}

	thrown := errz.ClassOf(err)
	for _, group := range step.Catches {
		if !group.Class.AssignableFrom(thrown) {
			continue
		}
		e.logger.Debug("Exception caught",
			"route", inv.routeID, "node", step.Node.ID,
			"class", thrown.Name(), "handler", group.Class.Name())
		ex.Properties[exceptionMessageProp] = err.Error()
		return group.Class.Name(), e.runRegion(ctx, inv, group.Steps, ex)
	}
	return nil, err
}

func (e *Executor) runLoop(ctx context.Context, inv *invocation, step *compiler.Step, ex *exchange.Exchange) (any, error) {
	rendered := strings.TrimSpace(template.Render(step.Node.Expression, ex))
	if count, err := strconv.Atoi(rendered); err == nil {
		for i := 0; i < count; i++ {
			if err := e.runRegion(ctx, inv, step.Children, ex); err != nil {
				return nil, err
			}
		}
		return count, nil
	}

	iterations := 0
	for ; iterations < maxLoopIterations; iterations++ {
		pass, err := e.evalPredicate(step.Node.Expression, ex)
		if err != nil {
			return nil, err
		}
		if !pass {
			break
		}
		if err := e.runRegion(ctx, inv, step.Children, ex); err != nil {
			return nil, err
		}
	}
	if iterations == maxLoopIterations {
		return nil, fmt.Errorf("loop %q exceeded %d iterations", step.Node.ID, maxLoopIterations)
	}
	return iterations, nil
}

func (e *Executor) runDelay(ctx context.Context, node *routes.Node, ex *exchange.Exchange) (any, error) {
	raw := node.Properties["delay"]
	if raw == "" {
		raw = node.Expression
	}
	ms, err := strconv.Atoi(strings.TrimSpace(template.Render(raw, ex)))
	if err != nil || ms < 0 {
		return nil, errz.NewClassed(errz.ClassIllegalArgument,
			fmt.Errorf("delay node %q has no usable duration: %q", node.ID, raw))
	}
	timer := time.NewTimer(time.Duration(ms) * time.Millisecond)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-timer.C:
		return ms, nil
	}
}

// runThrottle rate-limits completions of this scope across concurrent
// invocations. The limiter is shared per compiled step.
func (e *Executor) runThrottle(ctx context.Context, step *compiler.Step, ex *exchange.Exchange) error {
	perSecond := 1
	raw := step.Node.Properties["requestsPerSecond"]
	if raw == "" {
		raw = step.Node.Expression
	}
	if n, err := strconv.Atoi(strings.TrimSpace(template.Render(raw, ex))); err == nil && n > 0 {
		perSecond = n
	}
	limiterAny, _ := e.throttles.LoadOrStore(step, rate.NewLimiter(rate.Limit(perSecond), perSecond))
	return limiterAny.(*rate.Limiter).Wait(ctx)
}

// runWireTap fires a one-way copy of the exchange at the tap endpoint. The
// caller never waits and tap failures only log.
func (e *Executor) runWireTap(node *routes.Node, ex *exchange.Exchange) {
	tapEx := ex.Copy()
	uri := node.URI
	if uri == "" {
		uri = node.Properties["uri"]
	}
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), e.defaultTimeout)
		defer cancel()
		if _, err := e.callEndpoint(ctx, uri, tapEx); err != nil {
			e.logger.Warn("Wire tap failed", "uri", uri, "error", err)
		}
	}()
}

func (e *Executor) runEnrich(ctx context.Context, inv *invocation, node *routes.Node, ex *exchange.Exchange) (any, error) {
	uri := node.URI
	if uri == "" {
		uri = node.Properties["uri"]
	}
	reply, err := e.callEndpoint(ctx, uri, ex.Copy())
	if err != nil {
		return nil, err
	}
	ex.SetBody(reply)
	return ex.Body, nil
}

func (e *Executor) runConvertBodyTo(node *routes.Node, ex *exchange.Exchange) (any, error) {
	target := node.Properties["type"]
	if target == "" {
		target = "string"
	}
	switch strings.ToLower(target) {
	case "string", "java.lang.string":
		ex.SetBody(template.Stringify(ex.Body))
	case "int", "integer", "java.lang.integer", "long":
		n, err := strconv.ParseInt(strings.TrimSpace(template.Stringify(ex.Body)), 10, 64)
		if err != nil {
			return nil, errz.NewClassed(errz.ClassIllegalArgument,
				fmt.Errorf("body is not convertible to %s: %w", target, err))
		}
		ex.SetBody(n)
	case "float", "double", "java.lang.double":
		f, err := strconv.ParseFloat(strings.TrimSpace(template.Stringify(ex.Body)), 64)
		if err != nil {
			return nil, errz.NewClassed(errz.ClassIllegalArgument,
				fmt.Errorf("body is not convertible to %s: %w", target, err))
		}
		ex.SetBody(f)
	default:
		return nil, errz.NewClassed(errz.ClassIllegalArgument,
			fmt.Errorf("unsupported conversion target %q", target))
	}
	return ex.Body, nil
}
