// Package plan provides read-only lookup of purchasable plans. Plans are
// immutable reference data managed by administrators; this package has no
// write path.
package plan

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

var ErrPlanNotFound = errors.New("plan: plan not found")

// Plan describes a purchasable subscription plan. ProviderPriceID maps the
// plan to the billing provider's price object for checkout and webhook
// correlation.
type Plan struct {
	ID                uuid.UUID
	Name              string
	CreditAmount      decimal.Decimal
	PriceCents        int64
	Currency          string
	IsTrialEligible   bool
	TrialDays         int
	CreditsAwarded    decimal.Decimal // trial-specific grant, may differ from CreditAmount
	IsActive          bool
	IsPublic          bool
	ProviderPriceID   string
	ProviderProductID string
	CreatedAt         time.Time
}

// TrialEndsAt returns when a trial started at the given time would end.
func (p Plan) TrialEndsAt(startedAt time.Time) time.Time {
	if p.TrialDays <= 0 {
		return startedAt
	}
	return startedAt.AddDate(0, 0, p.TrialDays).UTC()
}

// Store defines plan persistence reads.
type Store interface {
	// GetByID returns the plan regardless of active/public flags; the
	// catalog applies visibility rules.
	GetByID(ctx context.Context, id uuid.UUID) (*Plan, error)

	// ListActivePublic returns active, publicly purchasable plans ordered by
	// price ascending.
	ListActivePublic(ctx context.Context) ([]Plan, error)

	// GetByProviderPriceID resolves the plan a provider price belongs to,
	// used when correlating webhook events.
	GetByProviderPriceID(ctx context.Context, priceID string) (*Plan, error)
}

// Catalog is the read-only plan lookup service.
type Catalog struct {
	store Store
}

// NewCatalog creates a catalog. Panics on a nil store to fail fast during
// initialization.
func NewCatalog(store Store) *Catalog {
	if store == nil {
		panic("plan: Store is required")
	}
	return &Catalog{store: store}
}

// ListActivePublicPlans returns the plans available for self-service
// purchase.
func (c *Catalog) ListActivePublicPlans(ctx context.Context) ([]Plan, error) {
	return c.store.ListActivePublic(ctx)
}

// GetPlan returns the plan with the given ID. Inactive plans are treated as
// missing so retired plans cannot be purchased.
func (c *Catalog) GetPlan(ctx context.Context, id uuid.UUID) (*Plan, error) {
	p, err := c.store.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if !p.IsActive {
		return nil, ErrPlanNotFound
	}
	return p, nil
}

// GetPlanByProviderPrice resolves a provider price ID to its plan. Inactive
// plans are still resolvable here: webhook events can reference plans that
// were retired after the subscription was sold.
func (c *Catalog) GetPlanByProviderPrice(ctx context.Context, priceID string) (*Plan, error) {
	return c.store.GetByProviderPriceID(ctx, priceID)
}
