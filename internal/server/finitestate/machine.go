// Package finitestate adapts go-fsm to the lifecycle states the supervisor
// expects from long-running runnables.
package finitestate

import (
	"context"
	"log/slog"
	"time"

	"github.com/robbyt/go-fsm"
)

const (
	StatusNew      = fsm.StatusNew
	StatusBooting  = fsm.StatusBooting
	StatusRunning  = fsm.StatusRunning
	StatusStopping = fsm.StatusStopping
	StatusStopped  = fsm.StatusStopped
	StatusError    = fsm.StatusError
	StatusUnknown  = fsm.StatusUnknown
)

// syncTimeout bounds synchronous state broadcasts so a stalled subscriber
// cannot wedge shutdown.
const syncTimeout = 5 * time.Second

// Machine is the slice of go-fsm the runnables actually use.
type Machine interface {
	// Transition moves the machine to state, failing on an illegal edge.
	Transition(state string) error

	// GetState returns the current lifecycle state.
	GetState() string

	// GetStateChan emits the state on every change until ctx is canceled.
	GetStateChan(ctx context.Context) <-chan string
}

type machine struct {
	*fsm.Machine
}

func (m *machine) GetStateChan(ctx context.Context) <-chan string {
	return m.GetStateChanWithOptions(ctx, fsm.WithSyncTimeout(syncTimeout))
}

// New returns a Machine in StatusNew wired with the standard
// new->booting->running->stopping->stopped transitions.
func New(handler slog.Handler) (Machine, error) {
	inner, err := fsm.New(handler, StatusNew, fsm.TypicalTransitions)
	if err != nil {
		return nil, err
	}
	return &machine{Machine: inner}, nil
}
