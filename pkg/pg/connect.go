package pg

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/aigensolutions/billingcore/pkg/retry"
)

// Connect establishes a PostgreSQL connection pool, retrying transient
// failures so service startup survives a database that is still coming up.
// The pool recycles connections periodically (MaxConnLifetime) and stays
// bounded; every component of the billing core shares this one pool.
func Connect(ctx context.Context, cfg Config) (*pgxpool.Pool, error) {
	if cfg.ConnectionString == "" {
		return nil, ErrEmptyConnectionString
	}

	connConfig, err := pgxpool.ParseConfig(cfg.ConnectionString)
	if err != nil {
		return nil, errors.Join(ErrFailedToParseDBConfig, err)
	}
	connConfig.MaxConns = cfg.MaxOpenConns
	connConfig.MinConns = cfg.MaxIdleConns
	connConfig.HealthCheckPeriod = cfg.HealthCheckPeriod
	connConfig.MaxConnIdleTime = cfg.MaxConnIdleTime
	connConfig.MaxConnLifetime = cfg.MaxConnLifetime

	pool, err := retry.Do(ctx, retry.Config{
		MaxRetries:    cfg.RetryAttempts,
		InitialDelay:  cfg.RetryInterval,
		MaxDelay:      time.Minute,
		BackoffFactor: 2.0,
		JitterFactor:  0.2,
	}, func(ctx context.Context) (*pgxpool.Pool, error) {
		conn, err := pgxpool.NewWithConfig(ctx, connConfig)
		if err != nil {
			return nil, err
		}
		// Ping catches authentication and permission issues that pool
		// construction alone does not surface.
		if err := conn.Ping(ctx); err != nil {
			conn.Close()
			return nil, err
		}
		return conn, nil
	})
	if err != nil {
		return nil, errors.Join(ErrFailedToOpenDBConnection, err)
	}

	return pool, nil
}
