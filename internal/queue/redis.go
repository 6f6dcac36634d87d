package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisBackend serves all three queue facets from one Redis connection:
// a sorted set scored by ready time for jobs, INCR counters with expiry for
// the rate windows, and SET NX EX keys for URL locks.
type RedisBackend struct {
	client *redis.Client
	prefix string
}

// popScript atomically takes eligible members out of the sorted set so two
// workers polling concurrently never see the same job.
var popScript = redis.NewScript(`
	local jobs = redis.call('ZRANGEBYSCORE', KEYS[1], '-inf', ARGV[1], 'LIMIT', 0, ARGV[2])
	if #jobs > 0 then
		redis.call('ZREM', KEYS[1], unpack(jobs))
	end
	return jobs
`)

// NewRedisBackend connects to Redis and returns the queue facets.
func NewRedisBackend(redisURL, keyPrefix string) (*Backend, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}

	client := redis.NewClient(opts)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("ping redis: %w", err)
	}

	if keyPrefix == "" {
		keyPrefix = "indexpilot"
	}

	b := &RedisBackend{client: client, prefix: keyPrefix}
	return &Backend{Jobs: b, Limiter: b, Locker: b}, nil
}

func (b *RedisBackend) queueKey() string {
	return b.prefix + ":queue"
}

func (b *RedisBackend) rateKey(method string) string {
	return b.prefix + ":rate:" + method
}

func (b *RedisBackend) lockKey(urlID string) string {
	return b.prefix + ":lock:" + urlID
}

// Push schedules a job; the sorted-set score is its ready time.
func (b *RedisBackend) Push(ctx context.Context, job Job, readyAt time.Time) error {
	payload, err := json.Marshal(job)
	if err != nil {
		return fmt.Errorf("marshal job: %w", err)
	}

	err = b.client.ZAdd(ctx, b.queueKey(), redis.Z{
		Score:  float64(readyAt.Unix()),
		Member: payload,
	}).Err()
	if err != nil {
		return fmt.Errorf("zadd job: %w", err)
	}
	return nil
}

// Pop atomically removes and returns up to limit eligible jobs.
func (b *RedisBackend) Pop(ctx context.Context, now time.Time, limit int) ([]Job, error) {
	raw, err := popScript.Run(ctx, b.client,
		[]string{b.queueKey()},
		strconv.FormatInt(now.Unix(), 10),
		strconv.Itoa(limit),
	).StringSlice()
	if err != nil && err != redis.Nil {
		return nil, fmt.Errorf("pop jobs: %w", err)
	}

	jobs := make([]Job, 0, len(raw))
	for _, member := range raw {
		var job Job
		if err := json.Unmarshal([]byte(member), &job); err != nil {
			// A malformed member would otherwise wedge the queue; drop it.
			continue
		}
		jobs = append(jobs, job)
	}
	return jobs, nil
}

// Depth returns the number of queued jobs, eligible or not.
func (b *RedisBackend) Depth(ctx context.Context) (int, error) {
	n, err := b.client.ZCard(ctx, b.queueKey()).Result()
	if err != nil {
		return 0, fmt.Errorf("zcard queue: %w", err)
	}
	return int(n), nil
}

// Allow consumes one slot in the method window. The first call in a window
// creates the counter and sets its expiry.
func (b *RedisBackend) Allow(ctx context.Context, method string) (bool, error) {
	limit, limited := RateLimit(method)
	if !limited {
		return true, nil
	}

	key := b.rateKey(method)
	count, err := b.client.Incr(ctx, key).Result()
	if err != nil {
		return false, fmt.Errorf("incr rate window: %w", err)
	}
	if count == 1 {
		if err := b.client.Expire(ctx, key, RateWindow).Err(); err != nil {
			return false, fmt.Errorf("expire rate window: %w", err)
		}
	}
	return count <= int64(limit), nil
}

// TryLock acquires a short exclusive URL lock.
func (b *RedisBackend) TryLock(ctx context.Context, urlID string, ttl time.Duration) (bool, error) {
	ok, err := b.client.SetNX(ctx, b.lockKey(urlID), "1", ttl).Result()
	if err != nil {
		return false, fmt.Errorf("acquire url lock: %w", err)
	}
	return ok, nil
}

// Unlock releases a URL lock early.
func (b *RedisBackend) Unlock(ctx context.Context, urlID string) error {
	if err := b.client.Del(ctx, b.lockKey(urlID)).Err(); err != nil {
		return fmt.Errorf("release url lock: %w", err)
	}
	return nil
}

// Close closes the Redis connection.
func (b *RedisBackend) Close() error {
	return b.client.Close()
}
