// Package saga implements the compensating-transaction coordinator for
// money transfers: debit, credit, and compensate primitives plus the
// orchestrated transfer that rolls a failed credit back.
package saga

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/gofrs/uuid/v5"
	"github.com/routeforge/routeforge/internal/errz"
	"github.com/routeforge/routeforge/internal/saga/finitestate"
	"github.com/routeforge/routeforge/internal/storage"
)

// Tx is the unit-of-work view a primitive operates on. *storage.BankTx
// satisfies it; tests substitute an in-memory fake.
type Tx interface {
	AccountForUpdate(ctx context.Context, number string) (*storage.Account, error)
	UpdateAccount(ctx context.Context, acct *storage.Account) error
	InsertTransaction(ctx context.Context, txn *storage.Transaction) error
	TransactionForUpdate(ctx context.Context, id string) (*storage.Transaction, error)
	UpdateTransaction(ctx context.Context, txn *storage.Transaction) error
}

// Store opens units of work and serves unlocked reads.
type Store interface {
	RunInTx(ctx context.Context, fn func(ctx context.Context, tx Tx) error) error
	GetTransaction(ctx context.Context, id string) (*storage.Transaction, error)
}

// NewBunStore adapts the bun-backed BankStore to the coordinator's Store
// interface.
func NewBunStore(bank *storage.BankStore) Store {
	return bunStore{bank: bank}
}

type bunStore struct {
	bank *storage.BankStore
}

func (s bunStore) RunInTx(ctx context.Context, fn func(ctx context.Context, tx Tx) error) error {
	return s.bank.RunInTx(ctx, func(ctx context.Context, tx *storage.BankTx) error {
		return fn(ctx, tx)
	})
}

func (s bunStore) GetTransaction(ctx context.Context, id string) (*storage.Transaction, error) {
	return s.bank.GetTransaction(ctx, id)
}

// Coordinator executes saga primitives against the account store. Each
// primitive runs in its own database transaction and advances the
// transaction row through the transfer state machine.
type Coordinator struct {
	store   Store
	logger  *slog.Logger
	handler slog.Handler
}

// Option configures a Coordinator.
type Option func(*Coordinator)

// WithLogHandler sets a custom slog handler for the Coordinator instance.
func WithLogHandler(handler slog.Handler) Option {
	return func(c *Coordinator) {
		if handler != nil {
			c.handler = handler
			c.logger = slog.New(handler).WithGroup("saga.Coordinator")
		}
	}
}

// NewCoordinator creates a Coordinator on the given store.
func NewCoordinator(store Store, opts ...Option) *Coordinator {
	c := &Coordinator{
		store:  store,
		logger: slog.Default().WithGroup("saga.Coordinator"),
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.handler == nil {
		c.handler = c.logger.Handler()
	}
	return c
}

// Debit locks the source account, validates it, withdraws the amount, and
// advances the transaction to DEBITED. The transaction row is created on the
// fly when the primitive is invoked outside an orchestrated transfer.
func (c *Coordinator) Debit(ctx context.Context, account string, amount float64, txnID string) error {
	if amount <= 0 {
		return errz.NewClassed(errz.ClassIllegalArgument,
			fmt.Errorf("debit amount must be positive, got %v", amount))
	}
	return c.store.RunInTx(ctx, func(ctx context.Context, tx Tx) error {
		acct, err := tx.AccountForUpdate(ctx, account)
		if err != nil {
			return err
		}
		if acct.Status != storage.AccountActive {
			return fmt.Errorf("%w: %s is %s", errz.ErrAccountNotActive, account, acct.Status)
		}
		if acct.Balance < amount {
			return fmt.Errorf("%w: %s has %v, needs %v",
				errz.ErrInsufficientBalance, account, acct.Balance, amount)
		}

		txn, machine, err := c.transactionState(ctx, tx, txnID, func() *storage.Transaction {
			return &storage.Transaction{
				TransactionID: txnID,
				SourceAccount: account,
				Amount:        amount,
				Status:        storage.TxnPending,
				SagaState:     finitestate.StateCreated,
			}
		})
		if err != nil {
			return err
		}
		if err := machine.Transition(finitestate.StateDebited); err != nil {
			return fmt.Errorf("debit not allowed from saga state %s: %w", txn.SagaState, err)
		}

		acct.Balance -= amount
		if err := tx.UpdateAccount(ctx, acct); err != nil {
			return err
		}
		txn.SagaState = machine.GetState()
		return tx.UpdateTransaction(ctx, txn)
	})
}

// Credit locks the destination account, validates it, deposits the amount,
// and advances the transaction to CREDITED, completing it.
func (c *Coordinator) Credit(ctx context.Context, account string, amount float64, txnID string) error {
	if amount <= 0 {
		return errz.NewClassed(errz.ClassIllegalArgument,
			fmt.Errorf("credit amount must be positive, got %v", amount))
	}
	return c.store.RunInTx(ctx, func(ctx context.Context, tx Tx) error {
		acct, err := tx.AccountForUpdate(ctx, account)
		if err != nil {
			return err
		}
		if acct.Status != storage.AccountActive {
			return fmt.Errorf("%w: %s is %s", errz.ErrAccountNotActive, account, acct.Status)
		}

		txn, machine, err := c.transactionState(ctx, tx, txnID, nil)
		if err != nil {
			return err
		}
		if err := machine.Transition(finitestate.StateCredited); err != nil {
			return fmt.Errorf("credit not allowed from saga state %s: %w", txn.SagaState, err)
		}

		acct.Balance += amount
		if err := tx.UpdateAccount(ctx, acct); err != nil {
			return err
		}
		now := time.Now()
		txn.SagaState = machine.GetState()
		txn.Status = storage.TxnCompleted
		txn.CompletedAt = &now
		return tx.UpdateTransaction(ctx, txn)
	})
}

// Compensate re-credits the debited amount back to the source. It is only
// meaningful for a transaction in DEBITED; any other state is a no-op with a
// warning.
func (c *Coordinator) Compensate(ctx context.Context, account string, amount float64, txnID string) error {
	return c.store.RunInTx(ctx, func(ctx context.Context, tx Tx) error {
		txn, err := tx.TransactionForUpdate(ctx, txnID)
		if err != nil {
			return err
		}
		if txn.SagaState != finitestate.StateDebited {
			c.logger.Warn("Compensate is a no-op outside DEBITED",
				"txn", txnID, "state", txn.SagaState)
			return nil
		}

		acct, err := tx.AccountForUpdate(ctx, account)
		if err != nil {
			return err
		}
		acct.Balance += amount
		if err := tx.UpdateAccount(ctx, acct); err != nil {
			return err
		}

		machine, err := finitestate.New(c.handler, txn.SagaState)
		if err != nil {
			return err
		}
		if err := machine.Transition(finitestate.StateCompensated); err != nil {
			return err
		}
		now := time.Now()
		txn.SagaState = machine.GetState()
		txn.Status = storage.TxnFailed
		txn.CompensatedAt = &now
		return tx.UpdateTransaction(ctx, txn)
	})
}

// ExecuteTransfer orchestrates debit then credit, compensating the debit when
// the credit fails. Returns the transaction id; the row records the outcome
// either way.
func (c *Coordinator) ExecuteTransfer(ctx context.Context, source, dest string, amount float64, description string) (string, error) {
	txnID := uuid.Must(uuid.NewV4()).String()
	logger := c.logger.With("txn", txnID, "source", source, "dest", dest, "amount", amount)

	if amount <= 0 {
		return txnID, errz.NewClassed(errz.ClassIllegalArgument,
			fmt.Errorf("transfer amount must be positive, got %v", amount))
	}

	err := c.store.RunInTx(ctx, func(ctx context.Context, tx Tx) error {
		return tx.InsertTransaction(ctx, &storage.Transaction{
			TransactionID: txnID,
			SourceAccount: source,
			DestAccount:   dest,
			Amount:        amount,
			Description:   description,
			Status:        storage.TxnPending,
			SagaState:     finitestate.StateCreated,
		})
	})
	if err != nil {
		return txnID, err
	}

	if err := c.Debit(ctx, source, amount, txnID); err != nil {
		logger.Warn("Transfer failed before debit completed", "error", err)
		c.markFailed(ctx, txnID, err)
		return txnID, err
	}

	if err := c.Credit(ctx, dest, amount, txnID); err != nil {
		logger.Warn("Credit failed, compensating debit", "error", err)
		if compErr := c.Compensate(ctx, source, amount, txnID); compErr != nil {
			logger.Error("Compensation failed", "error", compErr, "originalError", err)
			c.recordError(ctx, txnID, fmt.Sprintf("credit: %v; compensation: %v", err, compErr))
			return txnID, &errz.CompensationFailed{Original: err, Compensation: compErr}
		}
		c.recordError(ctx, txnID, err.Error())
		return txnID, err
	}

	logger.Debug("Transfer completed")
	return txnID, nil
}

// transactionState loads (or creates, when missing and create is non-nil)
// the transaction row and builds its state machine.
func (c *Coordinator) transactionState(
	ctx context.Context,
	tx Tx,
	txnID string,
	create func() *storage.Transaction,
) (*storage.Transaction, finitestate.Machine, error) {
	txn, err := tx.TransactionForUpdate(ctx, txnID)
	if err != nil {
		if create == nil {
			return nil, nil, err
		}
		txn = create()
		if err := tx.InsertTransaction(ctx, txn); err != nil {
			return nil, nil, err
		}
	}
	machine, err := finitestate.New(c.handler, txn.SagaState)
	if err != nil {
		return nil, nil, err
	}
	return txn, machine, nil
}

// markFailed moves a pre-debit failure to the terminal FAILED state.
func (c *Coordinator) markFailed(ctx context.Context, txnID string, cause error) {
	err := c.store.RunInTx(ctx, func(ctx context.Context, tx Tx) error {
		txn, err := tx.TransactionForUpdate(ctx, txnID)
		if err != nil {
			return err
		}
		machine, err := finitestate.New(c.handler, txn.SagaState)
		if err != nil {
			return err
		}
		if err := machine.Transition(finitestate.StateFailed); err != nil {
			// Already past CREATED; leave the saga state alone.
			return nil
		}
		txn.SagaState = machine.GetState()
		txn.Status = storage.TxnFailed
		txn.ErrorMessage = cause.Error()
		return tx.UpdateTransaction(ctx, txn)
	})
	if err != nil {
		c.logger.Error("Failed to record transfer failure", "txn", txnID, "error", err)
	}
}

// recordError stamps the error message on the transaction row.
func (c *Coordinator) recordError(ctx context.Context, txnID string, message string) {
	err := c.store.RunInTx(ctx, func(ctx context.Context, tx Tx) error {
		txn, err := tx.TransactionForUpdate(ctx, txnID)
		if err != nil {
			return err
		}
		txn.ErrorMessage = message
		if txn.Status == storage.TxnPending {
			txn.Status = storage.TxnFailed
		}
		return tx.UpdateTransaction(ctx, txn)
	})
	if err != nil {
		c.logger.Error("Failed to record transaction error", "txn", txnID, "error", err)
	}
}
