package core

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// Redis keys and visibility timeout of the notification queue.
const (
	PendingNotificationsKey    = "notifications:pending"
	ProcessingNotificationsKey = "notifications:processing"
	DeadNotificationsKey       = "notifications:dead"
	DefaultVisibilityTimeout   = 30 * time.Second
)

// ErrQueueEmpty is returned by Reserve when nothing is pending.
var ErrQueueEmpty = errors.New("notification queue empty")

// NotificationJob is the queued form of a Notification.
type NotificationJob struct {
	ID           string       `json:"id"`
	Notification Notification `json:"notification"`
	Attempts     int          `json:"attempts"`
	EnqueuedAt   time.Time    `json:"enqueued_at"`
	LastError    string       `json:"last_error,omitempty"`
}

// JobQueue is the reliable queue used between the API and the worker.
// A reserved job stays in the processing set until Ack; if the worker dies
// first, RequeueExpired moves it back to pending after the visibility timeout.
type JobQueue interface {
	Enqueue(ctx context.Context, job NotificationJob) error
	Reserve(ctx context.Context, visibility time.Duration) (NotificationJob, string, error)
	Ack(ctx context.Context, raw string) error
	RequeueExpired(ctx context.Context, now time.Time) (int, error)
	DeadLetter(ctx context.Context, job NotificationJob) error
}

// RedisClientRaw exposes the subset used for queue depth and heartbeats.
type RedisClientRaw interface {
	Set(ctx context.Context, key string, value interface{}, expiration time.Duration) *redis.StatusCmd
	Get(ctx context.Context, key string) *redis.StringCmd
	Scan(ctx context.Context, cursor uint64, match string, count int64) *redis.ScanCmd
	LLen(ctx context.Context, key string) *redis.IntCmd
	ZCard(ctx context.Context, key string) *redis.IntCmd
	ZCount(ctx context.Context, key, min, max string) *redis.IntCmd
}

// NewRedisClient returns a configured go-redis client from URL (e.g., redis://localhost:6379/0).
func NewRedisClient(redisURL string) (*redis.Client, error) {
	if redisURL == "" {
		return nil, errors.New("empty redis url")
	}
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, err
	}

	client := redis.NewClient(opts)
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, err
	}

	return client, nil
}

// reserveScript pops the oldest pending job and parks it in the processing
// set scored by its visibility deadline, atomically.
var reserveScript = redis.NewScript(`
local v = redis.call('RPOP', KEYS[1])
if v then
  redis.call('ZADD', KEYS[2], ARGV[1], v)
end
return v
`)

// requeueScript returns every processing entry whose deadline has passed to
// the pending list.
var requeueScript = redis.NewScript(`
local vals = redis.call('ZRANGEBYSCORE', KEYS[1], '-inf', ARGV[1])
for _, v in ipairs(vals) do
  redis.call('ZREM', KEYS[1], v)
  redis.call('LPUSH', KEYS[2], v)
end
return #vals
`)

// RedisJobQueue implements JobQueue with a pending list and a processing
// sorted set.
type RedisJobQueue struct {
	client *redis.Client
}

func NewRedisJobQueue(client *redis.Client) *RedisJobQueue {
	return &RedisJobQueue{client: client}
}

func (q *RedisJobQueue) Enqueue(ctx context.Context, job NotificationJob) error {
	raw, err := json.Marshal(job)
	if err != nil {
		return err
	}
	return q.client.LPush(ctx, PendingNotificationsKey, raw).Err()
}

// Reserve returns the decoded job and the raw queue entry to pass to Ack.
func (q *RedisJobQueue) Reserve(ctx context.Context, visibility time.Duration) (NotificationJob, string, error) {
	deadline := float64(time.Now().Add(visibility).UnixMilli())
	res, err := reserveScript.Run(ctx, q.client, []string{PendingNotificationsKey, ProcessingNotificationsKey}, deadline).Result()
	if errors.Is(err, redis.Nil) || (err == nil && res == nil) {
		return NotificationJob{}, "", ErrQueueEmpty
	}
	if err != nil {
		return NotificationJob{}, "", err
	}
	raw, ok := res.(string)
	if !ok {
		return NotificationJob{}, "", fmt.Errorf("unexpected reserve response %T", res)
	}
	var job NotificationJob
	if err := json.Unmarshal([]byte(raw), &job); err != nil {
		return NotificationJob{}, raw, fmt.Errorf("decode job: %w", err)
	}
	return job, raw, nil
}

func (q *RedisJobQueue) Ack(ctx context.Context, raw string) error {
	return q.client.ZRem(ctx, ProcessingNotificationsKey, raw).Err()
}

func (q *RedisJobQueue) RequeueExpired(ctx context.Context, now time.Time) (int, error) {
	n, err := requeueScript.Run(ctx, q.client, []string{ProcessingNotificationsKey, PendingNotificationsKey}, now.UnixMilli()).Int()
	if err != nil {
		return 0, err
	}
	return n, nil
}

func (q *RedisJobQueue) DeadLetter(ctx context.Context, job NotificationJob) error {
	raw, err := json.Marshal(job)
	if err != nil {
		return err
	}
	return q.client.LPush(ctx, DeadNotificationsKey, raw).Err()
}
