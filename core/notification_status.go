package core

import (
	"context"
	"encoding/json"
	"strconv"
	"time"
)

// QueueMetrics is a snapshot of the notification queue.
type QueueMetrics struct {
	Pending          int64 `json:"pending"`
	Processing       int64 `json:"processing"`
	Dead             int64 `json:"dead"`
	ExpiredCandidate int64 `json:"expired_candidate"`
}

// NotificationStatus is the body of GET /api/notifications/status.
type NotificationStatus struct {
	Notifier string       `json:"notifier"`
	Queue    QueueMetrics `json:"queue"`
	Workers  struct {
		Active int               `json:"active"`
		Total  int               `json:"total"`
		Items  []WorkerHeartbeat `json:"items"`
	} `json:"workers"`
	UptimeSeconds int64 `json:"uptime_seconds"`
}

// NotificationStatusService reads queue depth and worker heartbeats from Redis.
type NotificationStatusService struct {
	redis     RedisClientRaw
	startedAt time.Time
	now       func() time.Time
}

func NewNotificationStatusService(redis RedisClientRaw) *NotificationStatusService {
	return &NotificationStatusService{redis: redis, startedAt: time.Now(), now: time.Now}
}

// Collect aggregates the queue and every live worker heartbeat.
func (s *NotificationStatusService) Collect(ctx context.Context) (NotificationStatus, error) {
	st := NotificationStatus{Notifier: NotifierQueue}
	queue, err := s.Queue(ctx)
	if err != nil {
		return st, Internal("failed to read notification queue", err)
	}
	st.Queue = queue

	workers, err := s.Workers(ctx)
	if err != nil {
		return st, Internal("failed to read worker heartbeats", err)
	}
	st.Workers.Items = workers
	st.Workers.Total = len(workers)
	for _, w := range workers {
		if w.Status != WorkerStarting {
			st.Workers.Active++
		}
	}
	st.UptimeSeconds = int64(s.now().Sub(s.startedAt).Seconds())
	return st, nil
}

// Queue returns pending/processing/dead counts and how many processing
// entries are past their visibility deadline.
func (s *NotificationStatusService) Queue(ctx context.Context) (QueueMetrics, error) {
	now := s.now().UnixMilli()
	pending, err := s.redis.LLen(ctx, PendingNotificationsKey).Result()
	if err != nil {
		return QueueMetrics{}, err
	}
	processing, err := s.redis.ZCard(ctx, ProcessingNotificationsKey).Result()
	if err != nil {
		return QueueMetrics{}, err
	}
	dead, err := s.redis.LLen(ctx, DeadNotificationsKey).Result()
	if err != nil {
		return QueueMetrics{}, err
	}
	expired, err := s.redis.ZCount(ctx, ProcessingNotificationsKey, "-inf", strconv.FormatInt(now, 10)).Result()
	if err != nil {
		return QueueMetrics{}, err
	}
	return QueueMetrics{Pending: pending, Processing: processing, Dead: dead, ExpiredCandidate: expired}, nil
}

// Workers returns every heartbeat still present in Redis. Entries that
// vanish or fail to decode between SCAN and GET are skipped.
func (s *NotificationStatusService) Workers(ctx context.Context) ([]WorkerHeartbeat, error) {
	iter := s.redis.Scan(ctx, 0, WorkerHeartbeatPrefix+"*", 100).Iterator()
	res := []WorkerHeartbeat{}
	for iter.Next(ctx) {
		val, err := s.redis.Get(ctx, iter.Val()).Result()
		if err != nil {
			continue
		}
		var hb WorkerHeartbeat
		if err := json.Unmarshal([]byte(val), &hb); err != nil {
			continue
		}
		res = append(res, hb)
	}
	if err := iter.Err(); err != nil {
		return nil, err
	}
	return res, nil
}
