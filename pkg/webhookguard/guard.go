package webhookguard

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"

	"github.com/aigensolutions/billingcore/pkg/pg"
)

// ErrEventAlreadyProcessed reports that the event id was applied before. It
// is a success outcome for webhook delivery: the caller acknowledges the
// event so the provider stops redelivering it.
var ErrEventAlreadyProcessed = errors.New("webhookguard: event already processed")

const (
	sqlAcquireScopeLock = `select pg_advisory_xact_lock(hashtextextended($1, 0))`

	sqlEventProcessed = `select exists(select 1 from processed_events where event_id = $1)`

	sqlRecordEvent = `
		insert into processed_events (event_id, scope_key, processed_at)
		values ($1, $2, $3)
	`
)

// defaultReplayTTL bounds how long the Redis fast path remembers an event.
// The database record is the durable source of truth; Redis only short-cuts
// the common case of a provider retrying within minutes.
const defaultReplayTTL = 72 * time.Hour

// Guard applies webhook event handlers at most once per event id. The
// handler, the mutation it performs, and the processed-event record commit
// in one database transaction: a crash before commit leaves no record, so
// the provider's retry safely re-applies; a crash after commit is caught by
// the duplicate check.
//
// Events sharing a scope key (one subscription, one user) are serialized
// with a transaction-scoped advisory lock, so two different events for the
// same subscription cannot interleave even though both pass the
// not-yet-seen check.
type Guard struct {
	store eventStore
	redis *redis.Client
	ttl   time.Duration
	log   *slog.Logger
	now   func() time.Time
}

// eventStore is the transactional storage behind a Guard. Production runs
// on Postgres; tests substitute it to observe the lock, check and record
// calls relative to the handler.
type eventStore interface {
	InTx(ctx context.Context, fn func(ctx context.Context) error) error
	AcquireScopeLock(ctx context.Context, scopeKey string) error
	Seen(ctx context.Context, eventID string) (bool, error)
	Record(ctx context.Context, eventID, scopeKey string, processedAt time.Time) error
}

type pgEventStore struct {
	pool *pgxpool.Pool
}

func (s pgEventStore) InTx(ctx context.Context, fn func(ctx context.Context) error) error {
	return pg.RunInTx(ctx, s.pool, fn)
}

func (s pgEventStore) AcquireScopeLock(ctx context.Context, scopeKey string) error {
	if _, err := pg.Querier(ctx, s.pool).Exec(ctx, sqlAcquireScopeLock, scopeKey); err != nil {
		return fmt.Errorf("acquire scope lock: %w", err)
	}
	return nil
}

func (s pgEventStore) Seen(ctx context.Context, eventID string) (bool, error) {
	var processed bool
	if err := pg.Querier(ctx, s.pool).QueryRow(ctx, sqlEventProcessed, eventID).Scan(&processed); err != nil {
		return false, fmt.Errorf("check processed event: %w", err)
	}
	return processed, nil
}

func (s pgEventStore) Record(ctx context.Context, eventID, scopeKey string, processedAt time.Time) error {
	if _, err := pg.Querier(ctx, s.pool).Exec(ctx, sqlRecordEvent, eventID, scopeKey, processedAt); err != nil {
		if pg.IsDuplicateKeyError(err) {
			return ErrEventAlreadyProcessed
		}
		return fmt.Errorf("record processed event: %w", err)
	}
	return nil
}

// Option configures a Guard.
type Option func(*Guard)

// WithRedis enables the duplicate-check fast path. Redis is advisory only;
// its failures degrade to the database check and never fail processing.
func WithRedis(client *redis.Client) Option {
	return func(g *Guard) { g.redis = client }
}

// WithReplayTTL bounds the Redis replay window.
func WithReplayTTL(ttl time.Duration) Option {
	return func(g *Guard) {
		if ttl > 0 {
			g.ttl = ttl
		}
	}
}

// WithLogger sets the structured logger. Defaults to slog.Default().
func WithLogger(log *slog.Logger) Option {
	return func(g *Guard) {
		if log != nil {
			g.log = log
		}
	}
}

// WithClock overrides the time source for deterministic tests.
func WithClock(now func() time.Time) Option {
	return func(g *Guard) {
		if now != nil {
			g.now = now
		}
	}
}

// New creates a Guard. Panics on a nil pool to fail fast during
// initialization.
func New(pool *pgxpool.Pool, opts ...Option) *Guard {
	if pool == nil {
		panic("webhookguard: pgxpool is required")
	}
	g := &Guard{
		store: pgEventStore{pool: pool},
		ttl:   defaultReplayTTL,
		log:   slog.Default(),
		now:   func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

func redisKey(eventID string) string {
	return "webhook:processed:" + eventID
}

// Process runs fn at most once for the given event id. Returns
// ErrEventAlreadyProcessed when the event was applied before; fn's error
// otherwise, with nothing recorded so the provider's retry can run fn
// again.
func (g *Guard) Process(ctx context.Context, eventID, scopeKey string, fn func(ctx context.Context) error) error {
	if eventID == "" {
		return errors.New("webhookguard: event id is required")
	}
	if scopeKey == "" {
		scopeKey = eventID
	}

	if g.seenInRedis(ctx, eventID) {
		return ErrEventAlreadyProcessed
	}

	err := g.store.InTx(ctx, func(ctx context.Context) error {
		if err := g.store.AcquireScopeLock(ctx, scopeKey); err != nil {
			return err
		}

		processed, err := g.store.Seen(ctx, eventID)
		if err != nil {
			return err
		}
		if processed {
			return ErrEventAlreadyProcessed
		}

		if err := fn(ctx); err != nil {
			return err
		}

		return g.store.Record(ctx, eventID, scopeKey, g.now())
	})

	if err == nil || errors.Is(err, ErrEventAlreadyProcessed) {
		g.markInRedis(ctx, eventID)
	}
	return err
}

// seenInRedis is the best-effort fast path. Any Redis failure reads as "not
// seen" and falls through to the transactional check.
func (g *Guard) seenInRedis(ctx context.Context, eventID string) bool {
	if g.redis == nil {
		return false
	}
	n, err := g.redis.Exists(ctx, redisKey(eventID)).Result()
	if err != nil {
		g.log.WarnContext(ctx, "redis duplicate check failed, falling back to database",
			slog.String("event_id", eventID),
			slog.Any("error", err),
		)
		return false
	}
	return n > 0
}

func (g *Guard) markInRedis(ctx context.Context, eventID string) {
	if g.redis == nil {
		return
	}
	if err := g.redis.Set(ctx, redisKey(eventID), 1, g.ttl).Err(); err != nil {
		g.log.WarnContext(ctx, "redis duplicate mark failed",
			slog.String("event_id", eventID),
			slog.Any("error", err),
		)
	}
}
