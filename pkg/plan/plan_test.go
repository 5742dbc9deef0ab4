package plan_test

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/aigensolutions/billingcore/pkg/plan"
)

type mockStore struct {
	mock.Mock
}

func (m *mockStore) GetByID(ctx context.Context, id uuid.UUID) (*plan.Plan, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*plan.Plan), args.Error(1)
}

func (m *mockStore) ListActivePublic(ctx context.Context) ([]plan.Plan, error) {
	args := m.Called(ctx)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]plan.Plan), args.Error(1)
}

func (m *mockStore) GetByProviderPriceID(ctx context.Context, priceID string) (*plan.Plan, error) {
	args := m.Called(ctx, priceID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*plan.Plan), args.Error(1)
}

func TestCatalog_GetPlan(t *testing.T) {
	t.Parallel()

	t.Run("returns active plan", func(t *testing.T) {
		t.Parallel()

		store := new(mockStore)
		id := uuid.New()
		store.On("GetByID", mock.Anything, id).Return(&plan.Plan{ID: id, Name: "Starter", IsActive: true}, nil)

		catalog := plan.NewCatalog(store)
		p, err := catalog.GetPlan(context.Background(), id)
		require.NoError(t, err)
		assert.Equal(t, "Starter", p.Name)
	})

	t.Run("inactive plan is not found", func(t *testing.T) {
		t.Parallel()

		store := new(mockStore)
		id := uuid.New()
		store.On("GetByID", mock.Anything, id).Return(&plan.Plan{ID: id, IsActive: false}, nil)

		catalog := plan.NewCatalog(store)
		_, err := catalog.GetPlan(context.Background(), id)
		require.ErrorIs(t, err, plan.ErrPlanNotFound)
	})

	t.Run("missing plan", func(t *testing.T) {
		t.Parallel()

		store := new(mockStore)
		id := uuid.New()
		store.On("GetByID", mock.Anything, id).Return(nil, plan.ErrPlanNotFound)

		catalog := plan.NewCatalog(store)
		_, err := catalog.GetPlan(context.Background(), id)
		require.ErrorIs(t, err, plan.ErrPlanNotFound)
	})
}

func TestCatalog_ListActivePublicPlans(t *testing.T) {
	t.Parallel()

	store := new(mockStore)
	store.On("ListActivePublic", mock.Anything).Return([]plan.Plan{
		{Name: "Starter", PriceCents: 900},
		{Name: "Pro", PriceCents: 2900},
	}, nil)

	catalog := plan.NewCatalog(store)
	plans, err := catalog.ListActivePublicPlans(context.Background())
	require.NoError(t, err)
	require.Len(t, plans, 2)
	assert.Equal(t, "Starter", plans[0].Name)
}

func TestPlan_TrialEndsAt(t *testing.T) {
	t.Parallel()

	start := time.Date(2025, 6, 1, 10, 0, 0, 0, time.UTC)

	p := plan.Plan{TrialDays: 14, CreditsAwarded: decimal.NewFromInt(100)}
	assert.Equal(t, start.AddDate(0, 0, 14), p.TrialEndsAt(start))

	noTrial := plan.Plan{TrialDays: 0}
	assert.Equal(t, start, noTrial.TrialEndsAt(start))
}

func TestNewCatalog_NilStorePanics(t *testing.T) {
	t.Parallel()

	assert.Panics(t, func() { plan.NewCatalog(nil) })
}
