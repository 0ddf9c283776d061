package redis

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/cryptofarm/cryptofarm/internal/domain"
)

// Daily counter names.
const (
	CounterSocial      = "social"
	CounterTransaction = "transaction"
)

// Counters live past the UTC day they belong to so operators can inspect
// yesterday's usage; rollover itself happens through the day-stamped key.
const counterTTL = 48 * time.Hour

// Slots held by a crashed scheduler must drain eventually, so the slot
// counter expires unless the owning process keeps touching it. The TTL
// must outlive the longest permitted task attempt or the cap leaks.
const defaultSlotTTL = 10 * time.Minute

func dailyKey(counter string, platform domain.Platform, day time.Time) string {
	return fmt.Sprintf("quota:%s:%s:%s", counter, platform, day.UTC().Format("2006-01-02"))
}

// QuotaTracker enforces the safety budgets shared by every scheduler
// instance: per-platform daily action counts and a global cap on
// concurrently running tasks.
type QuotaTracker interface {
	// ReserveDaily consumes one unit of a daily counter. Returns
	// QuotaExhaustedError when the day's budget is spent; the caller leaves
	// the task queued rather than failing it.
	ReserveDaily(ctx context.Context, counter string, platform domain.Platform, limit int) error
	// ReleaseDaily returns one unit, used when a reserved action was never
	// performed.
	ReleaseDaily(ctx context.Context, counter string, platform domain.Platform) error
	// DailyUsage reports how much of today's budget is already consumed.
	DailyUsage(ctx context.Context, counter string, platform domain.Platform) (int, error)
	// AcquireSlot claims one concurrent-execution slot, returning false
	// when all slots are taken.
	AcquireSlot(ctx context.Context, limit int) (bool, error)
	// ReleaseSlot returns a slot claimed by AcquireSlot.
	ReleaseSlot(ctx context.Context) error
}

type quotaTracker struct {
	client  *redis.Client
	slotKey string
	slotTTL time.Duration
	now     func() time.Time
}

// QuotaOption configures a QuotaTracker.
type QuotaOption func(*quotaTracker)

// WithSlotTTL sets how long an unreleased concurrency slot survives.
// Pass the configured task timeout plus a margin so a slot never expires
// under a still-running attempt.
func WithSlotTTL(d time.Duration) QuotaOption {
	return func(q *quotaTracker) {
		if d > 0 {
			q.slotTTL = d
		}
	}
}

// NewQuotaTracker returns a Redis-backed QuotaTracker. The slot key is
// shared by every scheduler instance pointing at the same Redis.
func NewQuotaTracker(client *redis.Client, opts ...QuotaOption) QuotaTracker {
	q := &quotaTracker{
		client:  client,
		slotKey: "quota:slots",
		slotTTL: defaultSlotTTL,
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(q)
	}
	return q
}

// reserveScript increments a bounded counter only while below the limit,
// stamping a TTL on first use. Returns -1 when the budget is spent.
var reserveScript = redis.NewScript(`
	local used = tonumber(redis.call("get", KEYS[1]) or "0")
	if used >= tonumber(ARGV[1]) then
		return -1
	end
	used = redis.call("incr", KEYS[1])
	if used == 1 then
		redis.call("pexpire", KEYS[1], ARGV[2])
	end
	return used
`)

// releaseScript decrements a counter without letting it go negative.
var releaseScript = redis.NewScript(`
	local used = tonumber(redis.call("get", KEYS[1]) or "0")
	if used <= 0 then
		return 0
	end
	return redis.call("decr", KEYS[1])
`)

func (q *quotaTracker) ReserveDaily(ctx context.Context, counter string, platform domain.Platform, limit int) error {
	key := dailyKey(counter, platform, q.now())
	used, err := reserveScript.Run(ctx, q.client, []string{key}, limit, counterTTL.Milliseconds()).Int()
	if err != nil {
		return fmt.Errorf("reserve daily quota %s: %w", key, err)
	}
	if used < 0 {
		return &domain.QuotaExhaustedError{Counter: counter, Platform: platform, Limit: limit}
	}
	return nil
}

func (q *quotaTracker) ReleaseDaily(ctx context.Context, counter string, platform domain.Platform) error {
	key := dailyKey(counter, platform, q.now())
	if err := releaseScript.Run(ctx, q.client, []string{key}).Err(); err != nil {
		return fmt.Errorf("release daily quota %s: %w", key, err)
	}
	return nil
}

func (q *quotaTracker) DailyUsage(ctx context.Context, counter string, platform domain.Platform) (int, error) {
	key := dailyKey(counter, platform, q.now())
	used, err := q.client.Get(ctx, key).Int()
	if err != nil {
		if err == redis.Nil {
			return 0, nil
		}
		return 0, fmt.Errorf("read daily quota %s: %w", key, err)
	}
	return used, nil
}

func (q *quotaTracker) AcquireSlot(ctx context.Context, limit int) (bool, error) {
	held, err := reserveScript.Run(ctx, q.client, []string{q.slotKey}, limit, q.slotTTL.Milliseconds()).Int()
	if err != nil {
		return false, fmt.Errorf("acquire execution slot: %w", err)
	}
	if held < 0 {
		return false, nil
	}
	// Refresh the expiry while slots are actively cycling.
	q.client.PExpire(ctx, q.slotKey, q.slotTTL)
	return true, nil
}

func (q *quotaTracker) ReleaseSlot(ctx context.Context) error {
	if err := releaseScript.Run(ctx, q.client, []string{q.slotKey}).Err(); err != nil {
		return fmt.Errorf("release execution slot: %w", err)
	}
	return nil
}
