package redisclient

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

var ErrLockNotAcquired = errors.New("therapist booking lock not acquired")

// Locker serializes booking attempts per therapist across processes.
// It is an outer fence in front of the per-therapist advisory lock
// taken inside the booking transaction: the transaction lock alone is
// sufficient for correctness, the Redis lock keeps concurrent attempts
// from queueing up inside the database.
type Locker interface {
	WithTherapistLock(ctx context.Context, therapistID uuid.UUID, fn func(ctx context.Context) error) error
}

type redisTherapistLocker struct {
	client *redis.Client
	ttl    time.Duration
	logger zerolog.Logger
}

func NewRedisTherapistLocker(client *redis.Client, ttl time.Duration, logger zerolog.Logger) Locker {
	return &redisTherapistLocker{
		client: client,
		ttl:    ttl,
		logger: logger.With().Str("component", "therapist_locker").Logger(),
	}
}

func (l *redisTherapistLocker) WithTherapistLock(ctx context.Context, therapistID uuid.UUID, fn func(ctx context.Context) error) error {
	key := fmt.Sprintf("lock:therapist:%s", therapistID.String())
	token := uuid.NewString()

	ok, err := l.client.SetNX(ctx, key, token, l.ttl).Result()
	if err != nil {
		// Redis being down must not take bookings down with it: the
		// advisory lock inside the booking transaction still serializes
		// the critical section.
		l.logger.Warn().Err(err).
			Str("therapist_id", therapistID.String()).
			Msg("redis lock unavailable, proceeding on the transaction lock alone")
		return fn(ctx)
	}
	if !ok {
		return ErrLockNotAcquired
	}

	defer func() {
		_ = l.release(ctx, key, token)
	}()

	ctxWithTimeout, cancel := context.WithTimeout(ctx, l.ttl)
	defer cancel()

	return fn(ctxWithTimeout)
}

var unlockScript = redis.NewScript(`
local val = redis.call("GET", KEYS[1])
if val == ARGV[1] then
  return redis.call("DEL", KEYS[1])
else
  return 0
end
`)

func (l *redisTherapistLocker) release(ctx context.Context, key, token string) error {
	_, err := unlockScript.Run(ctx, l.client, []string{key}, token).Result()
	if err != nil && !errors.Is(err, redis.Nil) {
		return fmt.Errorf("release therapist lock: %w", err)
	}
	return nil
}
