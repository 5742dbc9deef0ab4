package subscription

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/aigensolutions/billingcore/pkg/pg"
)

const subscriptionColumns = `id, user_id, plan_id, coalesce(provider_subscription_id, ''), status,
	current_period_start, current_period_end, trial_end_date, is_active,
	auto_renew, cancel_at_period_end, last_renewal_date,
	coalesce(cancellation_reason, ''), created_at, updated_at`

const (
	sqlInsertSubscription = `
		insert into subscriptions (
			id, user_id, plan_id, provider_subscription_id, status,
			current_period_start, current_period_end, trial_end_date, is_active,
			auto_renew, cancel_at_period_end, last_renewal_date,
			cancellation_reason, created_at, updated_at
		)
		values ($1, $2, $3, nullif($4, ''), $5, $6, $7, $8, $9, $10, $11, $12, nullif($13, ''), $14, $15)
	`

	sqlUpdateSubscription = `
		update subscriptions set
			provider_subscription_id = nullif($2, ''),
			status = $3,
			current_period_start = $4,
			current_period_end = $5,
			trial_end_date = $6,
			is_active = $7,
			auto_renew = $8,
			cancel_at_period_end = $9,
			last_renewal_date = $10,
			cancellation_reason = nullif($11, ''),
			updated_at = $12
		where id = $1
	`

	sqlDeactivateForUser = `
		update subscriptions set is_active = false, updated_at = now()
		where user_id = $1 and is_active = true
	`
)

// PgStore implements Store on a shared pgx pool. Queries resolve their
// querier through pg.Querier, so calls made inside pg.RunInTx join that
// transaction.
type PgStore struct {
	pool *pgxpool.Pool
}

// NewPgStore returns a Store backed by the given pool.
func NewPgStore(pool *pgxpool.Pool) *PgStore {
	return &PgStore{pool: pool}
}

func (s *PgStore) InTx(ctx context.Context, fn func(ctx context.Context) error) error {
	return pg.RunInTx(ctx, s.pool, fn)
}

func (s *PgStore) Create(ctx context.Context, sub *Subscription) error {
	db := pg.Querier(ctx, s.pool)
	_, err := db.Exec(ctx, sqlInsertSubscription,
		sub.ID, sub.UserID, sub.PlanID, sub.ProviderSubscriptionID, string(sub.Status),
		sub.CurrentPeriodStart, sub.CurrentPeriodEnd, sub.TrialEndDate, sub.IsActive,
		sub.AutoRenew, sub.CancelAtPeriodEnd, sub.LastRenewalDate,
		sub.CancellationReason, sub.CreatedAt, sub.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert subscription: %w", err)
	}
	return nil
}

func (s *PgStore) GetByID(ctx context.Context, id uuid.UUID) (*Subscription, error) {
	db := pg.Querier(ctx, s.pool)
	row := db.QueryRow(ctx,
		`select `+subscriptionColumns+` from subscriptions where id = $1`, id)
	return scanSubscription(row)
}

func (s *PgStore) GetActiveByUserID(ctx context.Context, userID uuid.UUID) (*Subscription, error) {
	db := pg.Querier(ctx, s.pool)
	row := db.QueryRow(ctx,
		`select `+subscriptionColumns+` from subscriptions
		where user_id = $1 and is_active = true
		order by created_at desc limit 1`, userID)
	return scanSubscription(row)
}

func (s *PgStore) GetByProviderSubID(ctx context.Context, providerSubID string) (*Subscription, error) {
	db := pg.Querier(ctx, s.pool)
	row := db.QueryRow(ctx,
		`select `+subscriptionColumns+` from subscriptions
		where provider_subscription_id = $1
		order by created_at desc limit 1`, providerSubID)
	return scanSubscription(row)
}

func (s *PgStore) Update(ctx context.Context, sub *Subscription) error {
	db := pg.Querier(ctx, s.pool)
	tag, err := db.Exec(ctx, sqlUpdateSubscription,
		sub.ID, sub.ProviderSubscriptionID, string(sub.Status),
		sub.CurrentPeriodStart, sub.CurrentPeriodEnd, sub.TrialEndDate,
		sub.IsActive, sub.AutoRenew, sub.CancelAtPeriodEnd,
		sub.LastRenewalDate, sub.CancellationReason, sub.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("update subscription: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrSubscriptionNotFound
	}
	return nil
}

func (s *PgStore) DeactivateForUser(ctx context.Context, userID uuid.UUID) error {
	db := pg.Querier(ctx, s.pool)
	if _, err := db.Exec(ctx, sqlDeactivateForUser, userID); err != nil {
		return fmt.Errorf("deactivate subscriptions: %w", err)
	}
	return nil
}

func scanSubscription(row pgx.Row) (*Subscription, error) {
	var (
		sub    Subscription
		status string
	)
	err := row.Scan(
		&sub.ID, &sub.UserID, &sub.PlanID, &sub.ProviderSubscriptionID, &status,
		&sub.CurrentPeriodStart, &sub.CurrentPeriodEnd, &sub.TrialEndDate, &sub.IsActive,
		&sub.AutoRenew, &sub.CancelAtPeriodEnd, &sub.LastRenewalDate,
		&sub.CancellationReason, &sub.CreatedAt, &sub.UpdatedAt,
	)
	if pg.IsNotFoundError(err) {
		return nil, ErrSubscriptionNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scan subscription: %w", err)
	}
	sub.Status = Status(status)
	return &sub, nil
}
