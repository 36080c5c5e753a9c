package hold

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

const (
	defaultHoldPrefix = "hold:slot:"
	defaultHoldTTL    = 7 * time.Minute
)

// releaseIfOwnerLua deletes the hold key only when its value still matches
// the releasing booking. Running it as a script keeps the check-and-delete
// atomic against a competing TryHold.
const releaseIfOwnerLua = `
if redis.call('GET', KEYS[1]) == ARGV[1] then
  return redis.call('DEL', KEYS[1])
end
return 0
`

// RedisStore implements Store on Redis SET NX EX semantics. The key TTL is
// the authoritative hold expiry: once it elapses the slot reverts to
// claimable with no further action from any client.
type RedisStore struct {
	client  redis.Cmdable
	prefix  string
	release *redis.Script
}

// NewRedisStore constructs the store. An empty prefix falls back to the
// default keyspace.
func NewRedisStore(client redis.Cmdable, prefix string) *RedisStore {
	if prefix == "" {
		prefix = defaultHoldPrefix
	}
	return &RedisStore{client: client, prefix: prefix, release: redis.NewScript(releaseIfOwnerLua)}
}

// TryHold attempts the slot claim via SET NX EX.
func (r *RedisStore) TryHold(ctx context.Context, slotID, bookingID uuid.UUID, ttl time.Duration) (bool, error) {
	if ttl <= 0 {
		ttl = defaultHoldTTL
	}
	ok, err := r.client.SetNX(ctx, r.prefix+slotID.String(), bookingID.String(), ttl).Result()
	if err != nil {
		return false, fmt.Errorf("redis setnx: %w", err)
	}
	holdAttempts.WithLabelValues(attemptResult(ok)).Inc()
	return ok, nil
}

// Holder reads the booking id currently holding the slot.
func (r *RedisStore) Holder(ctx context.Context, slotID uuid.UUID) (uuid.UUID, bool, error) {
	val, err := r.client.Get(ctx, r.prefix+slotID.String()).Result()
	if err == redis.Nil {
		return uuid.Nil, false, nil
	}
	if err != nil {
		return uuid.Nil, false, fmt.Errorf("redis get: %w", err)
	}
	id, err := uuid.Parse(val)
	if err != nil {
		return uuid.Nil, false, fmt.Errorf("parse holder: %w", err)
	}
	return id, true, nil
}

// Release removes the hold key unconditionally.
func (r *RedisStore) Release(ctx context.Context, slotID uuid.UUID) error {
	if err := r.client.Del(ctx, r.prefix+slotID.String()).Err(); err != nil {
		return fmt.Errorf("redis del: %w", err)
	}
	return nil
}

// ReleaseIfOwner removes the hold key only if bookingID still owns it.
func (r *RedisStore) ReleaseIfOwner(ctx context.Context, slotID, bookingID uuid.UUID) (bool, error) {
	res, err := r.release.Run(ctx, r.client, []string{r.prefix + slotID.String()}, bookingID.String()).Int64()
	if err != nil {
		return false, fmt.Errorf("redis release script: %w", err)
	}
	return res == 1, nil
}

func attemptResult(ok bool) string {
	if ok {
		return "held"
	}
	return "contended"
}
