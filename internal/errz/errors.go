// Package errz provides shared error definitions for the route engine and its
// subsystems.
package errz

import "errors"

// Definition and catalog errors, surfaced synchronously at deploy time.
var (
	ErrValidation         = errors.New("route validation failed")
	ErrMissingFromNode    = errors.New("definition requires exactly one from node")
	ErrDuplicateNodeID    = errors.New("duplicate node ID")
	ErrEmptyNodeID        = errors.New("empty node ID")
	ErrDanglingEdge       = errors.New("edge references unknown node")
	ErrGraphCycle         = errors.New("cycle detected in route graph")
	ErrUnreachableNode    = errors.New("node not reachable from the from node")
	ErrDisallowedURI      = errors.New("endpoint URI not allowed")
	ErrMissingHandle      = errors.New("missing required edge handle")
	ErrInvalidNodeType    = errors.New("invalid node type")
	ErrInternalKeyTooLong = errors.New("internal route key exceeds maximum length")
	ErrReservedSeparator  = errors.New("identifier must not contain '::'")
)

// Registry and catalog errors.
var (
	ErrRouteNotFound        = errors.New("route not found")
	ErrRouteAlreadyDeployed = errors.New("route already deployed")
	ErrRouteNotDeployed     = errors.New("route not deployed")
	ErrCompileFailure       = errors.New("route compilation failed")
	ErrSchemaVersion        = errors.New("unsupported definition schema version")
)

// Saga pre-condition errors.
var (
	ErrInsufficientBalance = errors.New("insufficient balance")
	ErrAccountNotActive    = errors.New("account not active")
	ErrAccountNotFound     = errors.New("account not found")
	ErrVersionConflict     = errors.New("account version conflict")
	ErrTransactionNotFound = errors.New("transaction not found")
)

// External endpoint errors.
var (
	ErrEndpointTimeout   = errors.New("endpoint timeout")
	ErrTransport         = errors.New("endpoint transport failure")
	ErrEndpointNotFound  = errors.New("endpoint not found")
	ErrBeanNotFound      = errors.New("bean not found")
	ErrBeanMethodUnknown = errors.New("bean method not found")
)
