package plan

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/aigensolutions/billingcore/pkg/pg"
)

const (
	planColumns = `
		id, name, credit_amount, price_cents, currency, is_trial_eligible,
		trial_days, credits_awarded, is_active, is_public,
		coalesce(provider_price_id, ''), coalesce(provider_product_id, ''), created_at
	`

	sqlGetPlanByID = `select ` + planColumns + ` from plans where id = $1`

	sqlGetPlanByProviderPrice = `select ` + planColumns + ` from plans where provider_price_id = $1`

	sqlListActivePublicPlans = `
		select ` + planColumns + `
		from plans
		where is_active and is_public
		order by price_cents asc
	`
)

// PgStore implements Store on a shared pgx pool.
type PgStore struct {
	pool *pgxpool.Pool
}

func NewPgStore(pool *pgxpool.Pool) *PgStore {
	return &PgStore{pool: pool}
}

func (s *PgStore) GetByID(ctx context.Context, id uuid.UUID) (*Plan, error) {
	row := pg.Querier(ctx, s.pool).QueryRow(ctx, sqlGetPlanByID, id)
	p, err := scanPlan(row)
	if pg.IsNotFoundError(err) {
		return nil, ErrPlanNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get plan: %w", err)
	}
	return p, nil
}

func (s *PgStore) GetByProviderPriceID(ctx context.Context, priceID string) (*Plan, error) {
	row := pg.Querier(ctx, s.pool).QueryRow(ctx, sqlGetPlanByProviderPrice, priceID)
	p, err := scanPlan(row)
	if pg.IsNotFoundError(err) {
		return nil, ErrPlanNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get plan by provider price: %w", err)
	}
	return p, nil
}

func (s *PgStore) ListActivePublic(ctx context.Context) ([]Plan, error) {
	rows, err := pg.Querier(ctx, s.pool).Query(ctx, sqlListActivePublicPlans)
	if err != nil {
		return nil, fmt.Errorf("list plans: %w", err)
	}
	defer rows.Close()

	var plans []Plan
	for rows.Next() {
		p, err := scanPlan(rows)
		if err != nil {
			return nil, fmt.Errorf("scan plan: %w", err)
		}
		plans = append(plans, *p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list plans: %w", err)
	}
	return plans, nil
}

func scanPlan(row pgx.Row) (*Plan, error) {
	var p Plan
	err := row.Scan(
		&p.ID, &p.Name, &p.CreditAmount, &p.PriceCents, &p.Currency,
		&p.IsTrialEligible, &p.TrialDays, &p.CreditsAwarded, &p.IsActive,
		&p.IsPublic, &p.ProviderPriceID, &p.ProviderProductID, &p.CreatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &p, nil
}
