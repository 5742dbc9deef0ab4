package ledger

import (
	"context"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Store defines ledger persistence. Implementations must guarantee that
// GetBalanceForUpdate holds a per-user critical section (row lock or
// equivalent) until the surrounding InTx function returns.
type Store interface {
	// InTx runs fn inside one database transaction. Nested calls join the
	// outer transaction.
	InTx(ctx context.Context, fn func(ctx context.Context) error) error

	// GetBalance returns the user's balance, creating a zero balance record
	// if none exists. Read-create, not a debit.
	GetBalance(ctx context.Context, userID uuid.UUID) (decimal.Decimal, error)

	// GetBalanceForUpdate is GetBalance with the balance row locked for the
	// remainder of the enclosing transaction. Must be called inside InTx.
	GetBalanceForUpdate(ctx context.Context, userID uuid.UUID) (decimal.Decimal, error)

	// SetBalance overwrites the user's balance. Only the ledger service
	// calls this, inside the critical section opened by GetBalanceForUpdate.
	SetBalance(ctx context.Context, userID uuid.UUID, amount decimal.Decimal) error

	// InsertTransaction appends a transaction. Returns ErrDuplicateReference
	// when the (user, reference) pair was already recorded.
	InsertTransaction(ctx context.Context, tx *Transaction) error

	// ListTransactions returns the user's transactions newest-first along
	// with the total count.
	ListTransactions(ctx context.Context, userID uuid.UUID, skip, limit int) ([]Transaction, int64, error)
}
