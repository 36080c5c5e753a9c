package hold_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"

	"github.com/example/scanbook/internal/booking/hold"
)

func newRedisClient(t *testing.T) *redis.Client {
	t.Helper()
	mr, err := miniredis.Run()
	require.NoError(t, err)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() {
		_ = client.Close()
		mr.Close()
	})
	return client
}

func stores(t *testing.T) map[string]hold.Store {
	return map[string]hold.Store{
		"redis":  hold.NewRedisStore(newRedisClient(t), ""),
		"memory": hold.NewMemoryStore(nil),
	}
}

func TestStoreExclusivity(t *testing.T) {
	for name, store := range stores(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			slotID := uuid.New()
			winner := uuid.New()

			held, err := store.TryHold(ctx, slotID, winner, time.Minute)
			require.NoError(t, err)
			require.True(t, held)

			held, err = store.TryHold(ctx, slotID, uuid.New(), time.Minute)
			require.NoError(t, err)
			require.False(t, held, "second claim on a held slot must lose")

			holder, ok, err := store.Holder(ctx, slotID)
			require.NoError(t, err)
			require.True(t, ok)
			require.Equal(t, winner, holder)
		})
	}
}

func TestStoreConcurrentClaimsSingleWinner(t *testing.T) {
	for name, store := range stores(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			slotID := uuid.New()

			const attempts = 16
			var wg sync.WaitGroup
			results := make(chan bool, attempts)
			for i := 0; i < attempts; i++ {
				wg.Add(1)
				go func() {
					defer wg.Done()
					held, err := store.TryHold(ctx, slotID, uuid.New(), time.Minute)
					require.NoError(t, err)
					results <- held
				}()
			}
			wg.Wait()
			close(results)

			wins := 0
			for held := range results {
				if held {
					wins++
				}
			}
			require.Equal(t, 1, wins, "exactly one concurrent claim succeeds")
		})
	}
}

func TestStoreReleaseReopensSlot(t *testing.T) {
	for name, store := range stores(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			slotID := uuid.New()

			held, err := store.TryHold(ctx, slotID, uuid.New(), time.Minute)
			require.NoError(t, err)
			require.True(t, held)

			require.NoError(t, store.Release(ctx, slotID))
			require.NoError(t, store.Release(ctx, slotID), "release is idempotent")

			held, err = store.TryHold(ctx, slotID, uuid.New(), time.Minute)
			require.NoError(t, err)
			require.True(t, held)
		})
	}
}

func TestStoreReleaseIfOwner(t *testing.T) {
	for name, store := range stores(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			slotID := uuid.New()
			owner := uuid.New()

			held, err := store.TryHold(ctx, slotID, owner, time.Minute)
			require.NoError(t, err)
			require.True(t, held)

			released, err := store.ReleaseIfOwner(ctx, slotID, uuid.New())
			require.NoError(t, err)
			require.False(t, released, "non-owner must not evict the hold")

			released, err = store.ReleaseIfOwner(ctx, slotID, owner)
			require.NoError(t, err)
			require.True(t, released)

			released, err = store.ReleaseIfOwner(ctx, slotID, owner)
			require.NoError(t, err)
			require.False(t, released, "second owner release is a no-op")
		})
	}
}

func TestStoreZeroTTLDefaultsToLiveHold(t *testing.T) {
	for name, store := range stores(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			slotID := uuid.New()
			owner := uuid.New()

			held, err := store.TryHold(ctx, slotID, owner, 0)
			require.NoError(t, err)
			require.True(t, held)

			// The defaulted TTL must leave a live hold, not one born expired.
			holder, ok, err := store.Holder(ctx, slotID)
			require.NoError(t, err)
			require.True(t, ok)
			require.Equal(t, owner, holder)

			held, err = store.TryHold(ctx, slotID, uuid.New(), 0)
			require.NoError(t, err)
			require.False(t, held)
		})
	}
}

func TestRedisStoreTTLExpiry(t *testing.T) {
	mr, err := miniredis.Run()
	require.NoError(t, err)
	defer mr.Close()
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer client.Close()

	store := hold.NewRedisStore(client, "")
	ctx := context.Background()
	slotID := uuid.New()

	held, err := store.TryHold(ctx, slotID, uuid.New(), 100*time.Millisecond)
	require.NoError(t, err)
	require.True(t, held)

	mr.FastForward(150 * time.Millisecond)

	held, err = store.TryHold(ctx, slotID, uuid.New(), time.Minute)
	require.NoError(t, err)
	require.True(t, held, "expired hold frees the slot without an explicit release")
}

func TestMemoryStoreLazyExpiry(t *testing.T) {
	start := time.Date(2024, 5, 10, 9, 0, 0, 0, time.UTC)
	clock := newFakeClock(start)
	store := hold.NewMemoryStore(clock)
	ctx := context.Background()
	slotID := uuid.New()

	held, err := store.TryHold(ctx, slotID, uuid.New(), 420*time.Second)
	require.NoError(t, err)
	require.True(t, held)

	clock.Advance(421 * time.Second)

	_, ok, err := store.Holder(ctx, slotID)
	require.NoError(t, err)
	require.False(t, ok, "expired hold reports no holder")

	held, err = store.TryHold(ctx, slotID, uuid.New(), time.Minute)
	require.NoError(t, err)
	require.True(t, held)
}
