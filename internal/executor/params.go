package executor

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/gofrs/uuid/v5"
	"github.com/routeforge/routeforge/internal/errz"
	"github.com/routeforge/routeforge/internal/exchange"
	"github.com/routeforge/routeforge/internal/routes"
	"github.com/routeforge/routeforge/internal/template"
)

// paramSpec describes one saga node input and its resolution fallbacks.
type paramSpec struct {
	key      string // node property key, also the primary body path
	alias    string // fallback body path
	header   string // fallback header key
	fallback string // default when every source is absent
}

// resolveParam extracts one parameter in the fixed order: node property
// (templated when it contains ${...}), body path by key, body path by alias,
// header, default. Empty strings and the literal "null" count as absent.
func resolveParam(node *routes.Node, ex *exchange.Exchange, spec paramSpec) (string, bool) {
	if raw, ok := node.Properties[spec.key]; ok {
		if template.IsTemplated(raw) {
			raw = template.Render(raw, ex)
		}
		if present(raw) {
			return raw, true
		}
	}
	if v, ok := ex.BodyPath(spec.key); ok {
		if s := template.Stringify(v); present(s) {
			return s, true
		}
	}
	if spec.alias != "" {
		if v, ok := ex.BodyPath(spec.alias); ok {
			if s := template.Stringify(v); present(s) {
				return s, true
			}
		}
	}
	if spec.header != "" {
		if v, ok := ex.Header(spec.header); ok {
			if s := template.Stringify(v); present(s) {
				return s, true
			}
		}
	}
	if spec.fallback != "" {
		return spec.fallback, true
	}
	return "", false
}

func present(s string) bool {
	s = strings.TrimSpace(s)
	return s != "" && !strings.EqualFold(s, "null")
}

// requireParam resolves a parameter or fails with an argument error.
func requireParam(node *routes.Node, ex *exchange.Exchange, spec paramSpec) (string, error) {
	v, ok := resolveParam(node, ex, spec)
	if !ok {
		return "", errz.NewClassed(errz.ClassIllegalArgument,
			fmt.Errorf("node %q: missing required parameter %q", node.ID, spec.key))
	}
	return v, nil
}

// requireAmount resolves and parses the amount parameter.
func requireAmount(node *routes.Node, ex *exchange.Exchange) (float64, error) {
	raw, err := requireParam(node, ex, paramSpec{key: "amount", header: "amount"})
	if err != nil {
		return 0, err
	}
	amount, parseErr := strconv.ParseFloat(strings.TrimSpace(raw), 64)
	if parseErr != nil {
		return 0, errz.NewClassed(errz.ClassIllegalArgument,
			fmt.Errorf("node %q: amount %q is not a number", node.ID, raw))
	}
	return amount, nil
}

// runSagaNode extracts the banking parameters and delegates to the
// coordinator.
func (e *Executor) runSagaNode(ctx context.Context, node *routes.Node, ex *exchange.Exchange) (any, error) {
	if e.saga == nil {
		return nil, errNoSagaService
	}

	switch node.Type {
	case routes.TypeDebit:
		account, err := requireParam(node, ex, paramSpec{key: "account", alias: "sourceAccount", header: "sourceAccount"})
		if err != nil {
			return nil, err
		}
		amount, err := requireAmount(node, ex)
		if err != nil {
			return nil, err
		}
		txnID, _ := resolveParam(node, ex, paramSpec{
			key: "transactionId", header: "transactionId",
			fallback: uuid.Must(uuid.NewV4()).String(),
		})
		if err := e.saga.Debit(ctx, account, amount, txnID); err != nil {
			return nil, err
		}
		ex.Headers["transactionId"] = txnID
		return map[string]any{"transactionId": txnID, "account": account, "amount": amount}, nil

	case routes.TypeCredit:
		account, err := requireParam(node, ex, paramSpec{key: "account", alias: "destAccount", header: "destAccount"})
		if err != nil {
			return nil, err
		}
		amount, err := requireAmount(node, ex)
		if err != nil {
			return nil, err
		}
		txnID, err := requireParam(node, ex, paramSpec{key: "transactionId", header: "transactionId"})
		if err != nil {
			return nil, err
		}
		if err := e.saga.Credit(ctx, account, amount, txnID); err != nil {
			return nil, err
		}
		return map[string]any{"transactionId": txnID, "account": account, "amount": amount}, nil

	case routes.TypeCompensate:
		account, err := requireParam(node, ex, paramSpec{key: "account", alias: "sourceAccount", header: "sourceAccount"})
		if err != nil {
			return nil, err
		}
		amount, err := requireAmount(node, ex)
		if err != nil {
			return nil, err
		}
		txnID, err := requireParam(node, ex, paramSpec{key: "transactionId", header: "transactionId"})
		if err != nil {
			return nil, err
		}
		if err := e.saga.Compensate(ctx, account, amount, txnID); err != nil {
			return nil, err
		}
		return map[string]any{"transactionId": txnID, "account": account, "amount": amount}, nil

	case routes.TypeSagaTransfer:
		source, err := requireParam(node, ex, paramSpec{key: "sourceAccount", alias: "source", header: "sourceAccount"})
		if err != nil {
			return nil, err
		}
		dest, err := requireParam(node, ex, paramSpec{key: "destAccount", alias: "dest", header: "destAccount"})
		if err != nil {
			return nil, err
		}
		amount, err := requireAmount(node, ex)
		if err != nil {
			return nil, err
		}
		description, _ := resolveParam(node, ex, paramSpec{key: "description", fallback: "transfer"})
		txnID, err := e.saga.ExecuteTransfer(ctx, source, dest, amount, description)
		if txnID != "" {
			ex.Headers["transactionId"] = txnID
		}
		if err != nil {
			return nil, err
		}
		result := map[string]any{
			"transactionId": txnID,
			"sourceAccount": source,
			"destAccount":   dest,
			"amount":        amount,
		}
		ex.SetBody(result)
		return result, nil

	default:
		return nil, fmt.Errorf("%w: %q", errz.ErrInvalidNodeType, node.Type)
	}
}
