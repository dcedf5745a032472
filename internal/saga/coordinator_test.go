package saga

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"

	"github.com/routeforge/routeforge/internal/errz"
	"github.com/routeforge/routeforge/internal/saga/finitestate"
	"github.com/routeforge/routeforge/internal/storage"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// memStore is an in-memory Store with snapshot rollback, standing in for the
// bun-backed BankStore.
type memStore struct {
	mu       sync.Mutex
	accounts map[string]*storage.Account
	txns     map[string]*storage.Transaction

	// updateAccountHook, when set, can veto an account write.
	updateAccountHook func(acct *storage.Account) error
}

func newMemStore(accounts ...*storage.Account) *memStore {
	s := &memStore{
		accounts: make(map[string]*storage.Account),
		txns:     make(map[string]*storage.Transaction),
	}
	for _, acct := range accounts {
		s.accounts[acct.AccountNumber] = acct
	}
	return s
}

func (s *memStore) RunInTx(ctx context.Context, fn func(ctx context.Context, tx Tx) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	accountSnap := make(map[string]storage.Account, len(s.accounts))
	for k, v := range s.accounts {
		accountSnap[k] = *v
	}
	txnSnap := make(map[string]storage.Transaction, len(s.txns))
	for k, v := range s.txns {
		txnSnap[k] = *v
	}

	if err := fn(ctx, &memTx{store: s}); err != nil {
		s.accounts = make(map[string]*storage.Account, len(accountSnap))
		for k, v := range accountSnap {
			v := v
			s.accounts[k] = &v
		}
		s.txns = make(map[string]*storage.Transaction, len(txnSnap))
		for k, v := range txnSnap {
			v := v
			s.txns[k] = &v
		}
		return err
	}
	return nil
}

func (s *memStore) GetTransaction(_ context.Context, id string) (*storage.Transaction, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	txn, ok := s.txns[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", errz.ErrTransactionNotFound, id)
	}
	return txn, nil
}

func (s *memStore) balance(number string) float64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.accounts[number].Balance
}

type memTx struct {
	store *memStore
}

func (t *memTx) AccountForUpdate(_ context.Context, number string) (*storage.Account, error) {
	acct, ok := t.store.accounts[number]
	if !ok {
		return nil, fmt.Errorf("%w: %s", errz.ErrAccountNotFound, number)
	}
	return acct, nil
}

func (t *memTx) UpdateAccount(_ context.Context, acct *storage.Account) error {
	if t.store.updateAccountHook != nil {
		if err := t.store.updateAccountHook(acct); err != nil {
			return err
		}
	}
	t.store.accounts[acct.AccountNumber] = acct
	return nil
}

func (t *memTx) InsertTransaction(_ context.Context, txn *storage.Transaction) error {
	t.store.txns[txn.TransactionID] = txn
	return nil
}

func (t *memTx) TransactionForUpdate(_ context.Context, id string) (*storage.Transaction, error) {
	txn, ok := t.store.txns[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", errz.ErrTransactionNotFound, id)
	}
	return txn, nil
}

func (t *memTx) UpdateTransaction(_ context.Context, txn *storage.Transaction) error {
	t.store.txns[txn.TransactionID] = txn
	return nil
}

func activeAccount(number string, balance float64) *storage.Account {
	return &storage.Account{AccountNumber: number, Balance: balance, Status: storage.AccountActive}
}

func TestDebit(t *testing.T) {
	t.Parallel()

	t.Run("withdraws and advances the saga", func(t *testing.T) {
		t.Parallel()
		store := newMemStore(activeAccount("ACC-1", 1000))
		c := NewCoordinator(store)

		require.NoError(t, c.Debit(context.Background(), "ACC-1", 300, "txn-1"))
		assert.Equal(t, float64(700), store.balance("ACC-1"))

		txn, err := store.GetTransaction(context.Background(), "txn-1")
		require.NoError(t, err)
		assert.Equal(t, finitestate.StateDebited, txn.SagaState)
		assert.Equal(t, storage.TxnPending, txn.Status)
	})

	t.Run("insufficient balance leaves the account untouched", func(t *testing.T) {
		t.Parallel()
		store := newMemStore(activeAccount("ACC-1", 100))
		c := NewCoordinator(store)

		err := c.Debit(context.Background(), "ACC-1", 300, "txn-1")
		require.ErrorIs(t, err, errz.ErrInsufficientBalance)
		assert.Equal(t, float64(100), store.balance("ACC-1"))
		_, err = store.GetTransaction(context.Background(), "txn-1")
		assert.ErrorIs(t, err, errz.ErrTransactionNotFound)
	})

	t.Run("frozen account rejects debits", func(t *testing.T) {
		t.Parallel()
		acct := activeAccount("ACC-1", 1000)
		acct.Status = storage.AccountFrozen
		store := newMemStore(acct)
		c := NewCoordinator(store)

		err := c.Debit(context.Background(), "ACC-1", 300, "txn-1")
		require.ErrorIs(t, err, errz.ErrAccountNotActive)
	})

	t.Run("unknown account", func(t *testing.T) {
		t.Parallel()
		c := NewCoordinator(newMemStore())
		err := c.Debit(context.Background(), "ACC-404", 300, "txn-1")
		require.ErrorIs(t, err, errz.ErrAccountNotFound)
	})

	t.Run("non-positive amount", func(t *testing.T) {
		t.Parallel()
		c := NewCoordinator(newMemStore(activeAccount("ACC-1", 1000)))
		err := c.Debit(context.Background(), "ACC-1", 0, "txn-1")
		require.Error(t, err)
		assert.Equal(t, errz.ClassIllegalArgument, errz.ClassOf(err))
	})

	t.Run("double debit on one transaction is rejected", func(t *testing.T) {
		t.Parallel()
		store := newMemStore(activeAccount("ACC-1", 1000))
		c := NewCoordinator(store)

		require.NoError(t, c.Debit(context.Background(), "ACC-1", 300, "txn-1"))
		err := c.Debit(context.Background(), "ACC-1", 300, "txn-1")
		require.Error(t, err, "DEBITED does not allow another debit")
		assert.Equal(t, float64(700), store.balance("ACC-1"))
	})
}

func TestCredit(t *testing.T) {
	t.Parallel()

	t.Run("requires an existing transaction", func(t *testing.T) {
		t.Parallel()
		c := NewCoordinator(newMemStore(activeAccount("ACC-2", 0)))
		err := c.Credit(context.Background(), "ACC-2", 300, "txn-missing")
		require.ErrorIs(t, err, errz.ErrTransactionNotFound)
	})

	t.Run("completes a debited transaction", func(t *testing.T) {
		t.Parallel()
		store := newMemStore(activeAccount("ACC-1", 1000), activeAccount("ACC-2", 50))
		c := NewCoordinator(store)

		require.NoError(t, c.Debit(context.Background(), "ACC-1", 300, "txn-1"))
		require.NoError(t, c.Credit(context.Background(), "ACC-2", 300, "txn-1"))

		assert.Equal(t, float64(350), store.balance("ACC-2"))
		txn, err := store.GetTransaction(context.Background(), "txn-1")
		require.NoError(t, err)
		assert.Equal(t, finitestate.StateCredited, txn.SagaState)
		assert.Equal(t, storage.TxnCompleted, txn.Status)
		assert.NotNil(t, txn.CompletedAt)
	})

	t.Run("credit before debit is rejected by the state machine", func(t *testing.T) {
		t.Parallel()
		store := newMemStore(activeAccount("ACC-1", 1000), activeAccount("ACC-2", 0))
		c := NewCoordinator(store)

		_, err := c.ExecuteTransfer(context.Background(), "ACC-1", "ACC-2", 100, "t")
		require.NoError(t, err)

		// The transaction is terminal now; another credit must not apply.
		txn := lastTransaction(t, store)
		err = c.Credit(context.Background(), "ACC-2", 100, txn.TransactionID)
		require.Error(t, err)
		assert.Equal(t, float64(100), store.balance("ACC-2"))
	})
}

func TestCompensate(t *testing.T) {
	t.Parallel()

	t.Run("restores the source balance", func(t *testing.T) {
		t.Parallel()
		store := newMemStore(activeAccount("ACC-1", 1000))
		c := NewCoordinator(store)

		require.NoError(t, c.Debit(context.Background(), "ACC-1", 300, "txn-1"))
		require.NoError(t, c.Compensate(context.Background(), "ACC-1", 300, "txn-1"))

		assert.Equal(t, float64(1000), store.balance("ACC-1"))
		txn, err := store.GetTransaction(context.Background(), "txn-1")
		require.NoError(t, err)
		assert.Equal(t, finitestate.StateCompensated, txn.SagaState)
		assert.Equal(t, storage.TxnFailed, txn.Status)
		assert.NotNil(t, txn.CompensatedAt)
	})

	t.Run("no-op outside DEBITED", func(t *testing.T) {
		t.Parallel()
		store := newMemStore(activeAccount("ACC-1", 1000), activeAccount("ACC-2", 0))
		c := NewCoordinator(store)

		_, err := c.ExecuteTransfer(context.Background(), "ACC-1", "ACC-2", 200, "t")
		require.NoError(t, err)

		txn := lastTransaction(t, store)
		require.NoError(t, c.Compensate(context.Background(), "ACC-1", 200, txn.TransactionID))
		assert.Equal(t, float64(800), store.balance("ACC-1"), "a completed transfer must not be compensated")
	})
}

func TestExecuteTransfer(t *testing.T) {
	t.Parallel()

	t.Run("moves money and conserves the total", func(t *testing.T) {
		t.Parallel()
		store := newMemStore(activeAccount("ACC-1", 1000), activeAccount("ACC-2", 500))
		c := NewCoordinator(store)

		txnID, err := c.ExecuteTransfer(context.Background(), "ACC-1", "ACC-2", 300, "rent")
		require.NoError(t, err)
		require.NotEmpty(t, txnID)

		assert.Equal(t, float64(700), store.balance("ACC-1"))
		assert.Equal(t, float64(800), store.balance("ACC-2"))
		assert.Equal(t, float64(1500), store.balance("ACC-1")+store.balance("ACC-2"))

		txn, err := store.GetTransaction(context.Background(), txnID)
		require.NoError(t, err)
		assert.Equal(t, finitestate.StateCredited, txn.SagaState)
		assert.Equal(t, storage.TxnCompleted, txn.Status)
		assert.Equal(t, "rent", txn.Description)
	})

	t.Run("insufficient balance fails before money moves", func(t *testing.T) {
		t.Parallel()
		store := newMemStore(activeAccount("ACC-1", 100), activeAccount("ACC-2", 0))
		c := NewCoordinator(store)

		txnID, err := c.ExecuteTransfer(context.Background(), "ACC-1", "ACC-2", 300, "")
		require.ErrorIs(t, err, errz.ErrInsufficientBalance)

		assert.Equal(t, float64(100), store.balance("ACC-1"))
		assert.Equal(t, float64(0), store.balance("ACC-2"))

		txn, getErr := store.GetTransaction(context.Background(), txnID)
		require.NoError(t, getErr)
		assert.Equal(t, finitestate.StateFailed, txn.SagaState)
		assert.Equal(t, storage.TxnFailed, txn.Status)
		assert.NotEmpty(t, txn.ErrorMessage)
	})

	t.Run("frozen destination triggers compensation", func(t *testing.T) {
		t.Parallel()
		frozen := activeAccount("ACC-2", 0)
		frozen.Status = storage.AccountFrozen
		store := newMemStore(activeAccount("ACC-1", 1000), frozen)
		c := NewCoordinator(store)

		txnID, err := c.ExecuteTransfer(context.Background(), "ACC-1", "ACC-2", 300, "")
		require.ErrorIs(t, err, errz.ErrAccountNotActive)

		// The debit was rolled back; nothing moved.
		assert.Equal(t, float64(1000), store.balance("ACC-1"))
		assert.Equal(t, float64(0), store.balance("ACC-2"))

		txn, getErr := store.GetTransaction(context.Background(), txnID)
		require.NoError(t, getErr)
		assert.Equal(t, finitestate.StateCompensated, txn.SagaState)
		assert.Equal(t, storage.TxnFailed, txn.Status)
		assert.NotEmpty(t, txn.ErrorMessage)
	})

	t.Run("failed compensation surfaces both causes", func(t *testing.T) {
		t.Parallel()
		frozen := activeAccount("ACC-2", 0)
		frozen.Status = storage.AccountFrozen
		store := newMemStore(activeAccount("ACC-1", 1000), frozen)

		// First write to the source (the debit) goes through; the second
		// (the compensating credit) is vetoed.
		sourceWrites := 0
		store.updateAccountHook = func(acct *storage.Account) error {
			if acct.AccountNumber != "ACC-1" {
				return nil
			}
			sourceWrites++
			if sourceWrites > 1 {
				return errors.New("connection reset")
			}
			return nil
		}
		c := NewCoordinator(store)

		txnID, err := c.ExecuteTransfer(context.Background(), "ACC-1", "ACC-2", 300, "")
		require.Error(t, err)

		var comp *errz.CompensationFailed
		require.ErrorAs(t, err, &comp)
		assert.ErrorIs(t, comp.Original, errz.ErrAccountNotActive)

		// Debit committed, compensation rolled back: the money is still held.
		assert.Equal(t, float64(700), store.balance("ACC-1"))

		txn, getErr := store.GetTransaction(context.Background(), txnID)
		require.NoError(t, getErr)
		assert.Equal(t, finitestate.StateDebited, txn.SagaState)
		assert.Equal(t, storage.TxnFailed, txn.Status)
		assert.Contains(t, txn.ErrorMessage, "compensation")
	})

	t.Run("non-positive amount", func(t *testing.T) {
		t.Parallel()
		c := NewCoordinator(newMemStore())
		_, err := c.ExecuteTransfer(context.Background(), "ACC-1", "ACC-2", -5, "")
		require.Error(t, err)
		assert.Equal(t, errz.ClassIllegalArgument, errz.ClassOf(err))
	})
}

func lastTransaction(t *testing.T, store *memStore) *storage.Transaction {
	t.Helper()
	store.mu.Lock()
	defer store.mu.Unlock()
	require.Len(t, store.txns, 1)
	for _, txn := range store.txns {
		return txn
	}
	return nil
}
