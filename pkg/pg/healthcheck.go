package pg

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/aigensolutions/billingcore/pkg/retry"
)

// Healthcheck returns a closure that validates database connectivity for
// health endpoints. The optional tracker (nil-safe) records each probe so the
// endpoint can report "degraded" from recent operation failures even while
// pings succeed.
func Healthcheck(conn *pgxpool.Pool, tracker *retry.HealthTracker) func(context.Context) error {
	return func(ctx context.Context) error {
		if err := conn.Ping(ctx); err != nil {
			tracker.RecordFailure()
			return errors.Join(ErrHealthcheckFailed, err)
		}
		if tracker.State() == retry.StateDown {
			return ErrHealthcheckFailed
		}
		return nil
	}
}
