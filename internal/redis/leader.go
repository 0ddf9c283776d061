package redis

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"
)

// Elector implements single-leader election over a Redis key so that only
// one planner instance runs the planning tick at a time.
type Elector struct {
	client     *redis.Client
	key        string
	ttl        time.Duration
	instanceID string
	logger     *slog.Logger
}

// NewElector returns an Elector competing for the given key.
func NewElector(client *redis.Client, key string, ttl time.Duration, instanceID string, logger *slog.Logger) *Elector {
	return &Elector{client: client, key: key, ttl: ttl, instanceID: instanceID, logger: logger}
}

// renewLeaseScript extends the lease only for its current owner.
var renewLeaseScript = redis.NewScript(`
	if redis.call("get", KEYS[1]) == ARGV[1] then
		return redis.call("pexpire", KEYS[1], ARGV[2])
	end
	return 0
`)

// AcquireOrRenew attempts SETNX; returns true if this instance is the leader.
func (e *Elector) AcquireOrRenew(ctx context.Context) bool {
	ok, err := e.client.SetNX(ctx, e.key, e.instanceID, e.ttl).Result()
	if err != nil {
		e.logger.Error("leader election SetNX", slog.String("error", err.Error()))
		return false
	}
	if ok {
		e.logger.Info("acquired leadership",
			slog.String("key", e.key),
			slog.String("instance_id", e.instanceID),
		)
		return true
	}

	// Already set. Renew only if we own it; the Lua script keeps the
	// ownership check and the expiry atomic.
	result, err := renewLeaseScript.Run(
		ctx, e.client,
		[]string{e.key},
		e.instanceID,
		e.ttl.Milliseconds(),
	).Int()
	if err != nil && !errors.Is(err, redis.Nil) {
		e.logger.Error("leader renewal", slog.String("error", err.Error()))
		return false
	}
	return result == 1
}

// Resign releases the lease if this instance holds it, letting a standby
// take over immediately on clean shutdown.
func (e *Elector) Resign(ctx context.Context) {
	releaseScript := redis.NewScript(`
		if redis.call("get", KEYS[1]) == ARGV[1] then
			return redis.call("del", KEYS[1])
		end
		return 0
	`)
	if err := releaseScript.Run(ctx, e.client, []string{e.key}, e.instanceID).Err(); err != nil &&
		!errors.Is(err, redis.Nil) {
		e.logger.Error("leader resign", slog.String("error", err.Error()))
	}
}
