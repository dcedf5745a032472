package errz

import "fmt"

// ExecutionError wraps a node-level failure with the location where it
// occurred. It propagates up the step tree until a tryCatch handler matches
// or the invocation returns.
type ExecutionError struct {
	RouteID  string
	NodeID   string
	NodeType string
	Err      error
}

func (e *ExecutionError) Error() string {
	return fmt.Sprintf("route %s: node %s (%s): %v", e.RouteID, e.NodeID, e.NodeType, e.Err)
}

func (e *ExecutionError) Unwrap() error { return e.Err }

// CompensationFailed records a saga failure whose compensating credit also
// failed. Both causes are preserved; Original is the error surfaced to the
// caller's unwrap chain.
type CompensationFailed struct {
	Original     error
	Compensation error
}

func (e *CompensationFailed) Error() string {
	return fmt.Sprintf("transfer failed (%v) and compensation failed (%v)", e.Original, e.Compensation)
}

func (e *CompensationFailed) Unwrap() error { return e.Original }
