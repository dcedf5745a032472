// Package finitestate provides the state machine for money-transfer sagas.
// Each transaction row advances through this machine; the coordinator never
// writes a saga state the machine would reject.
package finitestate

import (
	"log/slog"

	"github.com/robbyt/go-fsm"
)

// Transfer saga states. These are also the persisted saga_state values.
const (
	StateCreated     = "CREATED"     // transaction row created, nothing moved
	StateDebited     = "DEBITED"     // source debited, credit pending
	StateCredited    = "CREDITED"    // destination credited (terminal)
	StateCompensated = "COMPENSATED" // debit rolled back after failure (terminal)
	StateFailed      = "FAILED"      // failed before any money moved (terminal)
)

// TransferTransitions defines the legal saga transitions.
var TransferTransitions = map[string][]string{
	StateCreated:     {StateDebited, StateFailed},
	StateDebited:     {StateCredited, StateCompensated},
	StateCredited:    {}, // terminal
	StateCompensated: {}, // terminal
	StateFailed:      {}, // terminal
}

// Machine is the subset of the fsm behavior the coordinator uses.
type Machine interface {
	Transition(state string) error
	GetState() string
}

// New creates a transfer state machine starting from the given persisted
// state, so primitives invoked on an existing transaction resume where the
// row left off.
func New(handler slog.Handler, initial string) (Machine, error) {
	if initial == "" {
		initial = StateCreated
	}
	return fsm.New(handler, initial, TransferTransitions)
}
