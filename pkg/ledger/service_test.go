package ledger_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aigensolutions/billingcore/pkg/ledger"
)

// memStore is an in-memory Store whose InTx holds one mutex for the duration
// of the callback, mirroring the row-lock serialization of the pg store.
// Writes apply eagerly; the service validates before writing, so the
// rollback-on-error path never leaves partial state in these tests.
type memStore struct {
	mu       sync.Mutex
	balances map[uuid.UUID]decimal.Decimal
	txs      []ledger.Transaction
	refs     map[string]bool
}

func newMemStore() *memStore {
	return &memStore{
		balances: make(map[uuid.UUID]decimal.Decimal),
		refs:     make(map[string]bool),
	}
}

func (m *memStore) InTx(ctx context.Context, fn func(ctx context.Context) error) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return fn(ctx)
}

func (m *memStore) GetBalance(ctx context.Context, userID uuid.UUID) (decimal.Decimal, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.getOrCreate(userID), nil
}

func (m *memStore) GetBalanceForUpdate(ctx context.Context, userID uuid.UUID) (decimal.Decimal, error) {
	return m.getOrCreate(userID), nil
}

func (m *memStore) SetBalance(ctx context.Context, userID uuid.UUID, amount decimal.Decimal) error {
	m.balances[userID] = amount
	return nil
}

func (m *memStore) InsertTransaction(ctx context.Context, tx *ledger.Transaction) error {
	if tx.ReferenceID != "" {
		key := tx.UserID.String() + "/" + tx.ReferenceID
		if m.refs[key] {
			return ledger.ErrDuplicateReference
		}
		m.refs[key] = true
	}
	m.txs = append(m.txs, *tx)
	return nil
}

func (m *memStore) ListTransactions(ctx context.Context, userID uuid.UUID, skip, limit int) ([]ledger.Transaction, int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var all []ledger.Transaction
	for i := len(m.txs) - 1; i >= 0; i-- {
		if m.txs[i].UserID == userID {
			all = append(all, m.txs[i])
		}
	}
	total := int64(len(all))
	if skip >= len(all) {
		return nil, total, nil
	}
	all = all[skip:]
	if limit < len(all) {
		all = all[:limit]
	}
	return all, total, nil
}

func (m *memStore) getOrCreate(userID uuid.UUID) decimal.Decimal {
	if b, ok := m.balances[userID]; ok {
		return b
	}
	m.balances[userID] = decimal.Zero
	return decimal.Zero
}

func (m *memStore) signedSum(userID uuid.UUID) decimal.Decimal {
	m.mu.Lock()
	defer m.mu.Unlock()
	sum := decimal.Zero
	for _, tx := range m.txs {
		if tx.UserID == userID {
			sum = sum.Add(tx.Signed())
		}
	}
	return sum
}

func dec(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

func TestService_CreditDebitScenario(t *testing.T) {
	t.Parallel()

	store := newMemStore()
	svc := ledger.NewService(store)
	ctx := context.Background()
	userID := uuid.New()

	balance, err := svc.GetBalance(ctx, userID)
	require.NoError(t, err)
	assert.True(t, balance.IsZero())

	_, err = svc.Credit(ctx, ledger.CreditParams{
		UserID:      userID,
		Amount:      dec("100.50"),
		Kind:        ledger.KindCreditAdded,
		ReferenceID: "add-1",
	})
	require.NoError(t, err)

	balance, err = svc.GetBalance(ctx, userID)
	require.NoError(t, err)
	assert.True(t, balance.Equal(dec("100.50")), "got %s", balance)

	_, err = svc.Debit(ctx, ledger.DebitParams{
		UserID:      userID,
		Amount:      dec("50.25"),
		ReferenceID: "use-1",
	})
	require.NoError(t, err)

	balance, err = svc.GetBalance(ctx, userID)
	require.NoError(t, err)
	assert.True(t, balance.Equal(dec("50.25")), "got %s", balance)

	items, total, err := svc.ListTransactions(ctx, userID, 0, 10)
	require.NoError(t, err)
	assert.Equal(t, int64(2), total)
	require.Len(t, items, 2)
	assert.Equal(t, ledger.KindCreditUsed, items[0].Kind) // newest first

	// Over-debit fails and leaves the balance untouched.
	_, err = svc.Debit(ctx, ledger.DebitParams{UserID: userID, Amount: dec("1000.00")})
	require.ErrorIs(t, err, ledger.ErrInsufficientCredits)

	balance, err = svc.GetBalance(ctx, userID)
	require.NoError(t, err)
	assert.True(t, balance.Equal(dec("50.25")), "got %s", balance)
	_, total, err = svc.ListTransactions(ctx, userID, 0, 10)
	require.NoError(t, err)
	assert.Equal(t, int64(2), total)
}

func TestService_CreditValidation(t *testing.T) {
	t.Parallel()

	svc := ledger.NewService(newMemStore())
	ctx := context.Background()

	tests := []struct {
		name    string
		params  ledger.CreditParams
		wantErr error
	}{
		{"zero amount", ledger.CreditParams{UserID: uuid.New(), Amount: decimal.Zero}, ledger.ErrInvalidAmount},
		{"negative amount", ledger.CreditParams{UserID: uuid.New(), Amount: dec("-5")}, ledger.ErrInvalidAmount},
		{"debit kind rejected", ledger.CreditParams{UserID: uuid.New(), Amount: dec("5"), Kind: ledger.KindCreditUsed}, ledger.ErrInvalidKind},
		{"unknown kind", ledger.CreditParams{UserID: uuid.New(), Amount: dec("5"), Kind: "bogus"}, ledger.ErrInvalidKind},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := svc.Credit(ctx, tt.params)
			require.ErrorIs(t, err, tt.wantErr)
		})
	}
}

func TestService_DebitValidation(t *testing.T) {
	t.Parallel()

	svc := ledger.NewService(newMemStore())
	ctx := context.Background()

	_, err := svc.Debit(ctx, ledger.DebitParams{UserID: uuid.New(), Amount: decimal.Zero})
	require.ErrorIs(t, err, ledger.ErrInvalidAmount)

	_, err = svc.Debit(ctx, ledger.DebitParams{UserID: uuid.New(), Amount: dec("1")})
	require.ErrorIs(t, err, ledger.ErrInsufficientCredits)
}

func TestService_DuplicateReference(t *testing.T) {
	t.Parallel()

	svc := ledger.NewService(newMemStore())
	ctx := context.Background()
	userID := uuid.New()

	_, err := svc.Credit(ctx, ledger.CreditParams{UserID: userID, Amount: dec("10"), ReferenceID: "ref-1"})
	require.NoError(t, err)

	_, err = svc.Credit(ctx, ledger.CreditParams{UserID: userID, Amount: dec("10"), ReferenceID: "ref-1"})
	require.ErrorIs(t, err, ledger.ErrDuplicateReference)
}

func TestService_BalanceMatchesTransactionSum_Concurrent(t *testing.T) {
	t.Parallel()

	store := newMemStore()
	svc := ledger.NewService(store)
	ctx := context.Background()
	userID := uuid.New()

	// Seed enough credits that debits never fail.
	_, err := svc.Credit(ctx, ledger.CreditParams{UserID: userID, Amount: dec("1000")})
	require.NoError(t, err)

	const workers = 20
	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(2)
		go func() {
			defer wg.Done()
			_, err := svc.Credit(ctx, ledger.CreditParams{UserID: userID, Amount: dec("3.33")})
			assert.NoError(t, err)
		}()
		go func() {
			defer wg.Done()
			_, err := svc.Debit(ctx, ledger.DebitParams{UserID: userID, Amount: dec("1.11")})
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	balance, err := svc.GetBalance(ctx, userID)
	require.NoError(t, err)
	assert.True(t, balance.Equal(store.signedSum(userID)),
		"balance %s must equal signed transaction sum %s", balance, store.signedSum(userID))
	assert.False(t, balance.IsNegative())
}

func TestService_ListTransactionsPagination(t *testing.T) {
	t.Parallel()

	store := newMemStore()
	svc := ledger.NewService(store)
	ctx := context.Background()
	userID := uuid.New()

	for i := 0; i < 5; i++ {
		_, err := svc.Credit(ctx, ledger.CreditParams{UserID: userID, Amount: dec("1")})
		require.NoError(t, err)
	}

	items, total, err := svc.ListTransactions(ctx, userID, 2, 2)
	require.NoError(t, err)
	assert.Equal(t, int64(5), total)
	assert.Len(t, items, 2)

	// Negative skip and zero limit fall back to defaults.
	items, total, err = svc.ListTransactions(ctx, userID, -1, 0)
	require.NoError(t, err)
	assert.Equal(t, int64(5), total)
	assert.Len(t, items, 5)
}

// balanceLockStore flags when the balance row lock has been taken so tests
// can observe what happens inside the critical section.
type balanceLockStore struct {
	*memStore
	locked bool
}

func (s *balanceLockStore) GetBalanceForUpdate(ctx context.Context, userID uuid.UUID) (decimal.Decimal, error) {
	s.locked = true
	return s.memStore.GetBalanceForUpdate(ctx, userID)
}

func TestService_TimestampStampedInsideCriticalSection(t *testing.T) {
	t.Parallel()

	store := &balanceLockStore{memStore: newMemStore()}
	before := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	after := before.Add(time.Second)
	clock := func() time.Time {
		if store.locked {
			return after
		}
		return before
	}
	svc := ledger.NewService(store, ledger.WithClock(clock))
	ctx := context.Background()
	userID := uuid.New()

	// created_at is the sort key for ListTransactions, so it has to be
	// taken after the balance lock is held or concurrent operations could
	// commit in a different order than their timestamps claim.
	tx, err := svc.Credit(ctx, ledger.CreditParams{UserID: userID, Amount: dec("10")})
	require.NoError(t, err)
	assert.Equal(t, after, tx.CreatedAt)

	store.locked = false
	tx, err = svc.Debit(ctx, ledger.DebitParams{UserID: userID, Amount: dec("5")})
	require.NoError(t, err)
	assert.Equal(t, after, tx.CreatedAt)
}
