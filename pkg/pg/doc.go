// Package pg provides the PostgreSQL layer for the billing core: connection
// pooling, schema migrations, health checks, common error predicates, and a
// context-carried transaction helper used to commit ledger, subscription, and
// webhook-event writes atomically.
//
// The package keeps a small API surface on top of battle-tested upstream
// libraries (`pgx/v5` for connectivity, `goose/v3` for schema migrations).
//
// # Architecture
//
//   - Config – a declarative struct populated from environment variables via
//     github.com/caarlos0/env. It controls pool limits, health-check cadence,
//     connection recycling, and migration paths.
//
//   - Connect – opens a *pgxpool.Pool based on Config, retrying transient
//     failures through the retry package until the database becomes
//     available.
//
//   - Migrate – runs goose migrations against the same pool, guaranteeing
//     the schema is current before the service starts serving traffic.
//
//   - RunInTx – begins a transaction, stores it in the context, and commits
//     or rolls back around the supplied function. Stores obtain their
//     querier through Querier, so any stores invoked inside the function
//     transparently share the same transaction. This is how "record the
//     webhook event in the same transaction as the mutation it caused" is
//     implemented without coupling the stores to each other.
//
// # Usage
//
//	var cfg pg.Config
//	if err := config.Load(&cfg); err != nil {
//	    panic(err)
//	}
//
//	ctx := context.Background()
//	pool, err := pg.Connect(ctx, cfg)
//	if err != nil {
//	    panic(err)
//	}
//	defer pool.Close()
//
//	if err := pg.Migrate(ctx, pool, cfg, slog.Default()); err != nil {
//	    panic(err)
//	}
//
// # Error Handling
//
// Helpers such as [IsDuplicateKeyError], [IsForeignKeyViolationError] and
// [IsSerializationFailure] unwrap `*pgconn.PgError` and make error
// classification trivial inside business logic.
package pg
