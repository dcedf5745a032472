package storage

import (
	"time"

	"github.com/uptrace/bun"
)

// Account lifecycle statuses. Balance mutations require ACTIVE.
const (
	AccountActive = "ACTIVE"
	AccountFrozen = "FROZEN"
	AccountClosed = "CLOSED"
)

// Transaction statuses.
const (
	TxnPending   = "PENDING"
	TxnCompleted = "COMPLETED"
	TxnFailed    = "FAILED"
)

// Saga states of a transaction row. The coordinator's state machine enforces
// the legal transitions.
const (
	SagaCreated     = "CREATED"
	SagaDebited     = "DEBITED"
	SagaCredited    = "CREDITED"
	SagaCompensated = "COMPENSATED"
	SagaFailed      = "FAILED"
)

// RouteRecord is one persisted route definition. The primary key is the
// internal tenant-scoped key.
type RouteRecord struct {
	bun.BaseModel `bun:"table:routes"`

	ID             string    `bun:"id,pk"`
	Name           string    `bun:"name"`
	TenantID       string    `bun:"tenant_id"`
	Description    string    `bun:"description"`
	DefinitionJSON string    `bun:"definition_json"`
	Status         string    `bun:"status"`
	Version        int       `bun:"version"`
	CreatedAt      time.Time `bun:"created_at,nullzero,default:current_timestamp"`
	UpdatedAt      time.Time `bun:"updated_at,nullzero,default:current_timestamp"`
}

// Account is one bank account row. Version is bumped on every update and
// checked optimistically to catch writes that escaped lock discipline.
type Account struct {
	bun.BaseModel `bun:"table:accounts"`

	AccountNumber string    `bun:"account_number,pk"`
	AccountName   string    `bun:"account_name"`
	Balance       float64   `bun:"balance,type:decimal(19,2),notnull"`
	Status        string    `bun:"status"`
	CreatedAt     time.Time `bun:"created_at,nullzero,default:current_timestamp"`
	UpdatedAt     time.Time `bun:"updated_at,nullzero,default:current_timestamp"`
	Version       int64     `bun:"version"`
}

// Transaction is one saga transaction-log row.
type Transaction struct {
	bun.BaseModel `bun:"table:transactions"`

	TransactionID string     `bun:"transaction_id,pk"`
	SourceAccount string     `bun:"source_account"`
	DestAccount   string     `bun:"dest_account"`
	Amount        float64    `bun:"amount,type:decimal(19,2)"`
	Description   string     `bun:"description"`
	Status        string     `bun:"status"`
	SagaState     string     `bun:"saga_state"`
	ErrorMessage  string     `bun:"error_message"`
	CreatedAt     time.Time  `bun:"created_at,nullzero,default:current_timestamp"`
	CompletedAt   *time.Time `bun:"completed_at"`
	CompensatedAt *time.Time `bun:"compensated_at"`
}
