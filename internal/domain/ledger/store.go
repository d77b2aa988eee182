package ledger

import (
	"context"

	"github.com/google/uuid"
)

// Tx is the unit of work a ledger mutation runs in.
// Implementations must hold the account row lock from LockAccount/EnsureAccount
// until the surrounding WithinTx returns.
type Tx interface {
	// LockAccount returns the owner's account locked for update, or ErrAccountNotFound.
	LockAccount(ctx context.Context, ownerID uuid.UUID) (*Account, error)
	// EnsureAccount creates the account with a zero balance when missing and returns it locked.
	EnsureAccount(ctx context.Context, ownerID uuid.UUID) (*Account, error)
	SetBalance(ctx context.Context, accountID uuid.UUID, balance int64) error
	// InsertTransaction returns ErrDuplicateTransaction when a uniqueness constraint rejects the row.
	InsertTransaction(ctx context.Context, t *Transaction) error
	// FindByIdempotencyKey returns nil, nil when no transaction carries the key.
	FindByIdempotencyKey(ctx context.Context, key string) (*Transaction, error)
	// FindDeduction returns the enrich_deduction recorded for a job, or nil, nil.
	FindDeduction(ctx context.Context, jobID uuid.UUID) (*Transaction, error)
}

// Store is the persistence boundary of the ledger.
type Store interface {
	// WithinTx runs fn in one atomic transaction. A non-nil error from fn rolls everything back.
	WithinTx(ctx context.Context, fn func(tx Tx) error) error

	GetAccount(ctx context.Context, ownerID uuid.UUID) (*Account, error)
	ListAccounts(ctx context.Context, p Pagination) ([]Account, error)
	CountAccounts(ctx context.Context) (int, error)
	ListTransactions(ctx context.Context, f TransactionFilter) ([]Transaction, error)
	FindByIdempotencyKey(ctx context.Context, key string) (*Transaction, error)
	// SumTransactions returns the sum of transaction amounts keyed by account id.
	SumTransactions(ctx context.Context) (map[uuid.UUID]int64, error)
}
