package redis

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/go-redis/redis/v8"
	"github.com/google/uuid"

	"unievent-ticketing/internal/logger"
)

var ErrLockTimeout = errors.New("ticket is locked by another operation")

// unlockScript deletes the key only if it still holds our token.
var unlockScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// Redis serialises writers per ticket id with SETNX locks. The database
// guards remain authoritative; the lock only keeps concurrent operations on
// one ticket from replaying each other's transactions.
type Redis struct {
	Client *redis.Client
	TTL    time.Duration
	Wait   time.Duration
	Logger *logger.Logger
}

func NewRedis(client *redis.Client, ttl, wait time.Duration, log *logger.Logger) *Redis {
	if ttl <= 0 {
		ttl = 10 * time.Second
	}
	if wait <= 0 {
		wait = 2 * time.Second
	}
	return &Redis{Client: client, TTL: ttl, Wait: wait, Logger: log}
}

func lockKey(ticketID string) string {
	return "ticket_lock:" + ticketID
}

// IsLocked checks whether a ticket is currently locked without locking it.
func (r *Redis) IsLocked(ctx context.Context, ticketID string) (bool, error) {
	_, err := r.Client.Get(ctx, lockKey(ticketID)).Result()
	if err == redis.Nil {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

// TryLock makes a single attempt to lock the ticket for owner.
func (r *Redis) TryLock(ctx context.Context, ticketID, owner string) (bool, error) {
	return r.Client.SetNX(ctx, lockKey(ticketID), owner, r.TTL).Result()
}

// Unlock releases the lock if owner still holds it.
func (r *Redis) Unlock(ctx context.Context, ticketID, owner string) error {
	return unlockScript.Run(ctx, r.Client, []string{lockKey(ticketID)}, owner).Err()
}

// Lock waits up to r.Wait for the ticket lock and returns its release func.
func (r *Redis) Lock(ctx context.Context, ticketID string) (func(), error) {
	owner := uuid.NewString()

	policy := backoff.NewExponentialBackOff()
	policy.InitialInterval = 10 * time.Millisecond
	policy.MaxInterval = 100 * time.Millisecond
	policy.MaxElapsedTime = r.Wait

	err := backoff.Retry(func() error {
		ok, err := r.TryLock(ctx, ticketID, owner)
		if err != nil {
			return backoff.Permanent(err)
		}
		if !ok {
			return ErrLockTimeout
		}
		return nil
	}, backoff.WithContext(policy, ctx))
	if err != nil {
		if errors.Is(err, ErrLockTimeout) {
			return nil, fmt.Errorf("ticket %s: %w", ticketID, ErrLockTimeout)
		}
		return nil, fmt.Errorf("lock ticket %s: %w", ticketID, err)
	}

	return func() {
		// Release even when the request context is already gone.
		ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), time.Second)
		defer cancel()
		if err := r.Unlock(ctx, ticketID, owner); err != nil && r.Logger != nil {
			r.Logger.Warn("REDIS", fmt.Sprintf("Failed to release lock on ticket %s: %v", ticketID, err))
		}
	}, nil
}
