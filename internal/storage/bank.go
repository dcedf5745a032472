package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/routeforge/routeforge/internal/errz"
	"github.com/uptrace/bun"
)

// BankStore is the bun-backed account and transaction-log store. Mutations
// happen inside a database transaction obtained through RunInTx; row-level
// exclusive locks come from SELECT ... FOR UPDATE.
type BankStore struct {
	db *bun.DB
}

// NewBankStore creates a BankStore on the given connection pool.
func NewBankStore(db *bun.DB) *BankStore {
	return &BankStore{db: db}
}

// BankTx is the unit-of-work view handed to RunInTx callbacks.
type BankTx struct {
	tx bun.IDB
}

// RunInTx executes fn inside one database transaction.
func (s *BankStore) RunInTx(ctx context.Context, fn func(ctx context.Context, tx *BankTx) error) error {
	return s.db.RunInTx(ctx, &sql.TxOptions{}, func(ctx context.Context, tx bun.Tx) error {
		return fn(ctx, &BankTx{tx: tx})
	})
}

// GetAccount reads an account without locking.
func (s *BankStore) GetAccount(ctx context.Context, number string) (*Account, error) {
	acct := new(Account)
	err := s.db.NewSelect().Model(acct).Where("account_number = ?", number).Scan(ctx)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", errz.ErrAccountNotFound, number)
	}
	if err != nil {
		return nil, fmt.Errorf("loading account %s: %w", number, err)
	}
	return acct, nil
}

// GetTransaction reads a transaction row without locking.
func (s *BankStore) GetTransaction(ctx context.Context, id string) (*Transaction, error) {
	txn := new(Transaction)
	err := s.db.NewSelect().Model(txn).Where("transaction_id = ?", id).Scan(ctx)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", errz.ErrTransactionNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("loading transaction %s: %w", id, err)
	}
	return txn, nil
}

// CreateAccount inserts a new account row.
func (s *BankStore) CreateAccount(ctx context.Context, acct *Account) error {
	if acct.Status == "" {
		acct.Status = AccountActive
	}
	if _, err := s.db.NewInsert().Model(acct).Exec(ctx); err != nil {
		return fmt.Errorf("creating account %s: %w", acct.AccountNumber, err)
	}
	return nil
}

// AccountForUpdate acquires a row-level exclusive lock on the account.
func (t *BankTx) AccountForUpdate(ctx context.Context, number string) (*Account, error) {
	acct := new(Account)
	err := t.tx.NewSelect().
		Model(acct).
		Where("account_number = ?", number).
		For("UPDATE").
		Scan(ctx)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", errz.ErrAccountNotFound, number)
	}
	if err != nil {
		return nil, fmt.Errorf("locking account %s: %w", number, err)
	}
	return acct, nil
}

// UpdateAccount writes the account back, guarding with the optimistic
// version it was read at. A zero-row update means a concurrent writer
// escaped the lock discipline.
func (t *BankTx) UpdateAccount(ctx context.Context, acct *Account) error {
	readVersion := acct.Version
	acct.Version++
	acct.UpdatedAt = time.Now()
	res, err := t.tx.NewUpdate().
		Model(acct).
		Column("balance", "status", "updated_at", "version").
		Where("account_number = ?", acct.AccountNumber).
		Where("version = ?", readVersion).
		Exec(ctx)
	if err != nil {
		return fmt.Errorf("updating account %s: %w", acct.AccountNumber, err)
	}
	rows, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("updating account %s: %w", acct.AccountNumber, err)
	}
	if rows == 0 {
		return fmt.Errorf("%w: account %s at version %d", errz.ErrVersionConflict, acct.AccountNumber, readVersion)
	}
	return nil
}

// InsertTransaction creates the saga transaction-log row.
func (t *BankTx) InsertTransaction(ctx context.Context, txn *Transaction) error {
	if txn.CreatedAt.IsZero() {
		txn.CreatedAt = time.Now()
	}
	if _, err := t.tx.NewInsert().Model(txn).Exec(ctx); err != nil {
		return fmt.Errorf("creating transaction %s: %w", txn.TransactionID, err)
	}
	return nil
}

// TransactionForUpdate locks the transaction row.
func (t *BankTx) TransactionForUpdate(ctx context.Context, id string) (*Transaction, error) {
	txn := new(Transaction)
	err := t.tx.NewSelect().
		Model(txn).
		Where("transaction_id = ?", id).
		For("UPDATE").
		Scan(ctx)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", errz.ErrTransactionNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("locking transaction %s: %w", id, err)
	}
	return txn, nil
}

// UpdateTransaction writes the transaction row back.
func (t *BankTx) UpdateTransaction(ctx context.Context, txn *Transaction) error {
	if _, err := t.tx.NewUpdate().
		Model(txn).
		WherePK().
		Exec(ctx); err != nil {
		return fmt.Errorf("updating transaction %s: %w", txn.TransactionID, err)
	}
	return nil
}
