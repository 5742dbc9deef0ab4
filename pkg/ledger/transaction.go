package ledger

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// TransactionKind categorizes a ledger transaction. Exactly one kind
// (KindCreditUsed) subtracts from the balance; all others add.
type TransactionKind string

const (
	KindCreditAdded     TransactionKind = "credit_added"
	KindCreditUsed      TransactionKind = "credit_used"
	KindPlanPurchase    TransactionKind = "plan_purchase"
	KindPlanUpgrade     TransactionKind = "plan_upgrade"
	KindOneTimePurchase TransactionKind = "one_time_purchase"
)

// Valid reports whether k is a known transaction kind.
func (k TransactionKind) Valid() bool {
	switch k {
	case KindCreditAdded, KindCreditUsed, KindPlanPurchase, KindPlanUpgrade, KindOneTimePurchase:
		return true
	}
	return false
}

// Money is a monetary amount in the smallest currency unit, attached to
// purchase-priced transactions. For example, $10.99 USD is
// Money{AmountCents: 1099, Currency: "USD"}.
type Money struct {
	AmountCents int64
	Currency    string
}

// Transaction is one append-only ledger entry. Amount is always stored
// positive; the kind determines the sign of its effect on the balance.
// Transactions are never mutated or deleted.
type Transaction struct {
	ID          uuid.UUID
	UserID      uuid.UUID
	Amount      decimal.Decimal
	Kind        TransactionKind
	ReferenceID string // external correlation key, empty when absent
	Description string
	Monetary    *Money // set for purchase-priced transactions only
	CreatedAt   time.Time
}

// Signed returns the transaction's effect on the balance: negative for
// credit_used, positive otherwise.
func (t Transaction) Signed() decimal.Decimal {
	if t.Kind == KindCreditUsed {
		return t.Amount.Neg()
	}
	return t.Amount
}
