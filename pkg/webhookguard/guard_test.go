package webhookguard

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// scriptedStore records the calls Process makes against the store, in
// order, so the lock/check/handler/record sequence is observable.
type scriptedStore struct {
	calls     []string
	seen      bool
	recordErr error
}

func (s *scriptedStore) InTx(ctx context.Context, fn func(ctx context.Context) error) error {
	s.calls = append(s.calls, "begin")
	if err := fn(ctx); err != nil {
		s.calls = append(s.calls, "rollback")
		return err
	}
	s.calls = append(s.calls, "commit")
	return nil
}

func (s *scriptedStore) AcquireScopeLock(ctx context.Context, scopeKey string) error {
	s.calls = append(s.calls, "lock:"+scopeKey)
	return nil
}

func (s *scriptedStore) Seen(ctx context.Context, eventID string) (bool, error) {
	s.calls = append(s.calls, "seen:"+eventID)
	return s.seen, nil
}

func (s *scriptedStore) Record(ctx context.Context, eventID, scopeKey string, processedAt time.Time) error {
	s.calls = append(s.calls, "record:"+eventID)
	return s.recordErr
}

func newScriptedGuard(store *scriptedStore) *Guard {
	return &Guard{store: store, now: time.Now}
}

func TestProcessValidation(t *testing.T) {
	t.Parallel()

	g := &Guard{now: time.Now}
	err := g.Process(context.Background(), "", "scope", func(ctx context.Context) error {
		t.Fatal("handler must not run without an event id")
		return nil
	})
	require.Error(t, err)
}

func TestNewPanicsOnNilPool(t *testing.T) {
	t.Parallel()
	assert.Panics(t, func() { New(nil) })
}

func TestProcessOrdering(t *testing.T) {
	t.Parallel()

	t.Run("lock, check, handler and record share one transaction", func(t *testing.T) {
		t.Parallel()
		store := &scriptedStore{}
		g := newScriptedGuard(store)

		err := g.Process(context.Background(), "evt_1", "sub_1", func(ctx context.Context) error {
			store.calls = append(store.calls, "handler")
			return nil
		})
		require.NoError(t, err)
		assert.Equal(t, []string{"begin", "lock:sub_1", "seen:evt_1", "handler", "record:evt_1", "commit"}, store.calls)
	})

	t.Run("duplicate check runs before the handler", func(t *testing.T) {
		t.Parallel()
		store := &scriptedStore{seen: true}
		g := newScriptedGuard(store)

		err := g.Process(context.Background(), "evt_1", "sub_1", func(ctx context.Context) error {
			t.Fatal("handler must not run for a seen event")
			return nil
		})
		require.ErrorIs(t, err, ErrEventAlreadyProcessed)
		assert.Equal(t, []string{"begin", "lock:sub_1", "seen:evt_1", "rollback"}, store.calls)
	})

	t.Run("handler failure records nothing", func(t *testing.T) {
		t.Parallel()
		store := &scriptedStore{}
		g := newScriptedGuard(store)
		boom := errors.New("handler failed")

		err := g.Process(context.Background(), "evt_1", "sub_1", func(ctx context.Context) error {
			return boom
		})
		require.ErrorIs(t, err, boom)
		assert.NotContains(t, store.calls, "record:evt_1")
		assert.Equal(t, "rollback", store.calls[len(store.calls)-1])
	})

	t.Run("record losing an insert race reads as already processed", func(t *testing.T) {
		t.Parallel()
		store := &scriptedStore{recordErr: ErrEventAlreadyProcessed}
		g := newScriptedGuard(store)

		err := g.Process(context.Background(), "evt_1", "sub_1", func(ctx context.Context) error {
			return nil
		})
		require.ErrorIs(t, err, ErrEventAlreadyProcessed)
	})

	t.Run("empty scope key falls back to the event id", func(t *testing.T) {
		t.Parallel()
		store := &scriptedStore{}
		g := newScriptedGuard(store)

		require.NoError(t, g.Process(context.Background(), "evt_1", "", func(ctx context.Context) error {
			return nil
		}))
		assert.Contains(t, store.calls, "lock:evt_1")
	})
}

func TestRedisFastPathDisabled(t *testing.T) {
	t.Parallel()

	g := &Guard{}
	assert.False(t, g.seenInRedis(context.Background(), "evt_1"))
	g.markInRedis(context.Background(), "evt_1")
}

func TestRedisKey(t *testing.T) {
	t.Parallel()
	assert.Equal(t, "webhook:processed:evt_1", redisKey("evt_1"))
}
