package trial

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/aigensolutions/billingcore/pkg/pg"
)

const (
	sqlSelectTrialFlag = `
		select has_consumed_initial_trial from users where id = $1
	`

	sqlSelectTrialFlagForUpdate = `
		select has_consumed_initial_trial from users where id = $1 for update
	`

	sqlConsumeTrial = `
		update users set has_consumed_initial_trial = true, updated_at = now()
		where id = $1
	`
)

// PgUserStore implements UserStore on a shared pgx pool. It also satisfies
// the subscription package's TrialState.
type PgUserStore struct {
	pool *pgxpool.Pool
}

// NewPgUserStore returns a UserStore backed by the given pool.
func NewPgUserStore(pool *pgxpool.Pool) *PgUserStore {
	return &PgUserStore{pool: pool}
}

func (s *PgUserStore) InTx(ctx context.Context, fn func(ctx context.Context) error) error {
	return pg.RunInTx(ctx, s.pool, fn)
}

func (s *PgUserStore) HasConsumedInitialTrial(ctx context.Context, userID uuid.UUID) (bool, error) {
	return s.flag(ctx, userID, sqlSelectTrialFlag)
}

func (s *PgUserStore) GetFlagForUpdate(ctx context.Context, userID uuid.UUID) (bool, error) {
	return s.flag(ctx, userID, sqlSelectTrialFlagForUpdate)
}

func (s *PgUserStore) flag(ctx context.Context, userID uuid.UUID, query string) (bool, error) {
	db := pg.Querier(ctx, s.pool)
	var consumed bool
	err := db.QueryRow(ctx, query, userID).Scan(&consumed)
	if pg.IsNotFoundError(err) {
		return false, ErrUserNotFound
	}
	if err != nil {
		return false, fmt.Errorf("select trial flag: %w", err)
	}
	return consumed, nil
}

func (s *PgUserStore) SetTrialConsumed(ctx context.Context, userID uuid.UUID) error {
	db := pg.Querier(ctx, s.pool)
	tag, err := db.Exec(ctx, sqlConsumeTrial, userID)
	if err != nil {
		return fmt.Errorf("consume trial: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrUserNotFound
	}
	return nil
}
