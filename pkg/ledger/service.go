package ledger

import (
	"context"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

const (
	defaultListLimit = 20
	maxListLimit     = 100
)

// Service is the public API of the credit ledger.
type Service struct {
	store Store
	log   *slog.Logger
	now   func() time.Time
}

// Option configures a Service.
type Option func(*Service)

// WithLogger sets the structured logger. Defaults to slog.Default().
func WithLogger(log *slog.Logger) Option {
	return func(s *Service) {
		if log != nil {
			s.log = log
		}
	}
}

// WithClock overrides the time source, used by tests for deterministic
// timestamps.
func WithClock(now func() time.Time) Option {
	return func(s *Service) {
		if now != nil {
			s.now = now
		}
	}
}

// NewService creates a ledger service. Panics on a nil store to fail fast
// during initialization.
func NewService(store Store, opts ...Option) *Service {
	if store == nil {
		panic("ledger: Store is required")
	}
	s := &Service{
		store: store,
		log:   slog.Default(),
		now:   func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// CreditParams describes a balance increase.
type CreditParams struct {
	UserID      uuid.UUID
	Amount      decimal.Decimal
	Kind        TransactionKind
	ReferenceID string
	Description string
	Monetary    *Money
}

// DebitParams describes a balance decrease. The kind is always
// KindCreditUsed.
type DebitParams struct {
	UserID      uuid.UUID
	Amount      decimal.Decimal
	ReferenceID string
	Description string
}

// GetBalance returns the user's current balance, creating a zero balance
// record on first access.
func (s *Service) GetBalance(ctx context.Context, userID uuid.UUID) (decimal.Decimal, error) {
	return s.store.GetBalance(ctx, userID)
}

// Credit appends a transaction and increases the balance by params.Amount
// inside one atomic unit. The balance row is locked for the read-modify-write
// so concurrent operations for the same user serialize.
func (s *Service) Credit(ctx context.Context, params CreditParams) (*Transaction, error) {
	if !params.Amount.IsPositive() {
		return nil, ErrInvalidAmount
	}
	if params.Kind == "" {
		params.Kind = KindCreditAdded
	}
	if !params.Kind.Valid() || params.Kind == KindCreditUsed {
		return nil, ErrInvalidKind
	}

	tx := &Transaction{
		ID:          uuid.New(),
		UserID:      params.UserID,
		Amount:      params.Amount,
		Kind:        params.Kind,
		ReferenceID: params.ReferenceID,
		Description: params.Description,
		Monetary:    params.Monetary,
	}

	err := s.store.InTx(ctx, func(ctx context.Context) error {
		balance, err := s.store.GetBalanceForUpdate(ctx, params.UserID)
		if err != nil {
			return err
		}
		// Stamped inside the per-user critical section so created_at order
		// matches the order operations were admitted.
		tx.CreatedAt = s.now()
		if err := s.store.InsertTransaction(ctx, tx); err != nil {
			return err
		}
		return s.store.SetBalance(ctx, params.UserID, balance.Add(params.Amount))
	})
	if err != nil {
		return nil, err
	}

	s.log.InfoContext(ctx, "credits added",
		slog.String("user_id", params.UserID.String()),
		slog.String("amount", params.Amount.String()),
		slog.String("kind", string(params.Kind)),
		slog.String("reference_id", params.ReferenceID),
	)
	return tx, nil
}

// Debit appends a credit_used transaction and decreases the balance,
// atomically with the balance read. Fails with ErrInsufficientCredits when
// the current balance does not cover the amount; nothing is written in that
// case.
func (s *Service) Debit(ctx context.Context, params DebitParams) (*Transaction, error) {
	if !params.Amount.IsPositive() {
		return nil, ErrInvalidAmount
	}

	tx := &Transaction{
		ID:          uuid.New(),
		UserID:      params.UserID,
		Amount:      params.Amount,
		Kind:        KindCreditUsed,
		ReferenceID: params.ReferenceID,
		Description: params.Description,
	}

	err := s.store.InTx(ctx, func(ctx context.Context) error {
		balance, err := s.store.GetBalanceForUpdate(ctx, params.UserID)
		if err != nil {
			return err
		}
		if balance.LessThan(params.Amount) {
			return ErrInsufficientCredits
		}
		tx.CreatedAt = s.now()
		if err := s.store.InsertTransaction(ctx, tx); err != nil {
			return err
		}
		return s.store.SetBalance(ctx, params.UserID, balance.Sub(params.Amount))
	})
	if err != nil {
		return nil, err
	}

	s.log.InfoContext(ctx, "credits used",
		slog.String("user_id", params.UserID.String()),
		slog.String("amount", params.Amount.String()),
		slog.String("reference_id", params.ReferenceID),
	)
	return tx, nil
}

// ListTransactions returns the user's transactions newest-first and the
// total count. The limit is capped at 100; zero selects the default of 20.
func (s *Service) ListTransactions(ctx context.Context, userID uuid.UUID, skip, limit int) ([]Transaction, int64, error) {
	if skip < 0 {
		skip = 0
	}
	if limit <= 0 {
		limit = defaultListLimit
	}
	if limit > maxListLimit {
		limit = maxListLimit
	}
	return s.store.ListTransactions(ctx, userID, skip, limit)
}
