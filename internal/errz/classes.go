package errz

import (
	"errors"
	"strings"
)

// Class is a node in the closed exception taxonomy used by tryCatch handlers.
// Route definitions declare catch types by name (optionally package-qualified,
// e.g. "java.lang.IllegalArgumentException"); the compiler resolves those
// names against this hierarchy and the executor matches thrown errors by
// assignability.
type Class struct {
	name   string
	parent *Class
}

// Name returns the simple class name.
func (c *Class) Name() string { return c.name }

// AssignableFrom reports whether an error of class other can be handled by a
// catch clause declared with class c.
func (c *Class) AssignableFrom(other *Class) bool {
	for n := other; n != nil; n = n.parent {
		if n == c {
			return true
		}
	}
	return false
}

// The taxonomy. Exception is the root catchall.
var (
	ClassException        = &Class{name: "Exception"}
	ClassRuntimeException = &Class{name: "RuntimeException", parent: ClassException}
	ClassIllegalArgument  = &Class{name: "IllegalArgumentException", parent: ClassRuntimeException}
	ClassIllegalState     = &Class{name: "IllegalStateException", parent: ClassRuntimeException}
	ClassNullPointer      = &Class{name: "NullPointerException", parent: ClassRuntimeException}
	ClassArithmetic       = &Class{name: "ArithmeticException", parent: ClassRuntimeException}
	ClassIO               = &Class{name: "IOException", parent: ClassException}
	ClassTimeout          = &Class{name: "TimeoutException", parent: ClassException}
	ClassSaga             = &Class{name: "SagaException", parent: ClassException}
	ClassInsufficientBal  = &Class{name: "InsufficientBalanceException", parent: ClassSaga}
	ClassAccountNotActive = &Class{name: "AccountNotActiveException", parent: ClassSaga}
	ClassAccountNotFound  = &Class{name: "AccountNotFoundException", parent: ClassSaga}
)

var classIndex = map[string]*Class{}

func init() {
	for _, c := range []*Class{
		ClassException, ClassRuntimeException, ClassIllegalArgument,
		ClassIllegalState, ClassNullPointer, ClassArithmetic, ClassIO,
		ClassTimeout, ClassSaga, ClassInsufficientBal, ClassAccountNotActive,
		ClassAccountNotFound,
	} {
		classIndex[c.name] = c
	}
}

// ResolveClass looks up a declared exception type by simple or qualified name.
// Returns false when the name is not part of the taxonomy; callers fall back
// to the Exception catchall.
func ResolveClass(name string) (*Class, bool) {
	name = strings.TrimSpace(name)
	if name == "" {
		return ClassException, true
	}
	if idx := strings.LastIndex(name, "."); idx >= 0 {
		name = name[idx+1:]
	}
	c, ok := classIndex[name]
	return c, ok
}

// ClassedError attaches a taxonomy class to an underlying error so tryCatch
// handlers can match it.
type ClassedError struct {
	Class *Class
	Err   error
}

func (e *ClassedError) Error() string {
	return e.Class.name + ": " + e.Err.Error()
}

func (e *ClassedError) Unwrap() error { return e.Err }

// NewClassed wraps err with the given class.
func NewClassed(class *Class, err error) error {
	if err == nil {
		return nil
	}
	return &ClassedError{Class: class, Err: err}
}

// ClassOf returns the taxonomy class of err. Sentinel saga and endpoint
// errors map to their dedicated classes; anything else is a plain Exception.
func ClassOf(err error) *Class {
	var classed *ClassedError
	if errors.As(err, &classed) {
		return classed.Class
	}
	switch {
	case errors.Is(err, ErrInsufficientBalance):
		return ClassInsufficientBal
	case errors.Is(err, ErrAccountNotActive):
		return ClassAccountNotActive
	case errors.Is(err, ErrAccountNotFound):
		return ClassAccountNotFound
	case errors.Is(err, ErrEndpointTimeout):
		return ClassTimeout
	case errors.Is(err, ErrTransport):
		return ClassIO
	default:
		return ClassException
	}
}
