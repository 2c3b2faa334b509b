package core

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"runtime"
	"sync"
	"time"

	"github.com/google/uuid"
)

const (
	WorkerHeartbeatPrefix = "notifications:worker:"
	WorkerHeartbeatTTL    = 45 * time.Second

	WorkerStarting = "starting"
	WorkerIdle     = "idle"
	WorkerBusy     = "busy"
)

// WorkerHeartbeatKey returns the Redis key for a worker ID.
func WorkerHeartbeatKey(id string) string {
	return WorkerHeartbeatPrefix + id
}

// NewWorkerID builds an identifier from hostname, pid and a random suffix.
func NewWorkerID() string {
	hostname, _ := os.Hostname()
	if hostname == "" {
		hostname = "worker"
	}
	return fmt.Sprintf("%s:%d:%s", hostname, os.Getpid(), uuid.NewString()[:8])
}

// WorkerHeartbeat is published by each notification worker and read by the
// status endpoint.
type WorkerHeartbeat struct {
	WorkerID       string    `json:"worker_id"`
	Hostname       string    `json:"hostname"`
	PID            int       `json:"pid"`
	Concurrency    int       `json:"concurrency"`
	UptimeSeconds  int64     `json:"uptime_seconds"`
	Status         string    `json:"status"`
	RunningCount   int       `json:"running_count"`
	RunningJobs    []string  `json:"running_jobs,omitempty"`
	DeliveredTotal int64     `json:"delivered_total"`
	FailedTotal    int64     `json:"failed_total"`
	LastError      string    `json:"last_error,omitempty"`
	HeapBytes      uint64    `json:"heap_bytes"`
	NumGoroutine   int       `json:"num_goroutine"`
	StartedAt      time.Time `json:"started_at"`
	UpdatedAt      time.Time `json:"updated_at"`
}

// SaveHeartbeat stores hb as JSON with WorkerHeartbeatTTL.
func SaveHeartbeat(ctx context.Context, client RedisClientRaw, hb WorkerHeartbeat) error {
	hb.UpdatedAt = time.Now()
	data, err := json.Marshal(hb)
	if err != nil {
		return err
	}
	return client.Set(ctx, WorkerHeartbeatKey(hb.WorkerID), data, WorkerHeartbeatTTL).Err()
}

// HeartbeatState tracks one worker process and flushes it to Redis.
type HeartbeatState struct {
	mu       sync.Mutex
	hb       WorkerHeartbeat
	running  map[string]time.Time
	interval time.Duration
}

func NewHeartbeatState(workerID, hostname string, concurrency int) *HeartbeatState {
	now := time.Now()
	return &HeartbeatState{
		hb: WorkerHeartbeat{
			WorkerID:    workerID,
			Hostname:    hostname,
			PID:         os.Getpid(),
			Concurrency: concurrency,
			Status:      WorkerStarting,
			StartedAt:   now,
			UpdatedAt:   now,
			RunningJobs: []string{},
		},
		running:  make(map[string]time.Time),
		interval: 5 * time.Second,
	}
}

// Start flushes immediately and then every interval until ctx is done.
func (s *HeartbeatState) Start(ctx context.Context, client RedisClientRaw) {
	s.Flush(ctx, client)
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.Flush(ctx, client)
		}
	}
}

func (s *HeartbeatState) JobStarted(jobID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.hb.Status = WorkerBusy
	s.running[jobID] = time.Now()
	s.updateRunningLocked()
}

func (s *HeartbeatState) JobFinished(jobID string, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.running, jobID)
	if err != nil {
		s.hb.FailedTotal++
		s.hb.LastError = err.Error()
	} else {
		s.hb.DeliveredTotal++
	}
	s.updateRunningLocked()
}

// Idle marks a worker that has started but has no job yet.
func (s *HeartbeatState) Idle() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.running) == 0 {
		s.hb.Status = WorkerIdle
	}
}

// Snapshot returns a copy of the current heartbeat.
func (s *HeartbeatState) Snapshot() WorkerHeartbeat {
	s.mu.Lock()
	defer s.mu.Unlock()
	hb := s.hb
	hb.RunningJobs = append([]string(nil), s.hb.RunningJobs...)
	return hb
}

func (s *HeartbeatState) updateRunningLocked() {
	s.hb.RunningCount = len(s.running)
	s.hb.RunningJobs = s.hb.RunningJobs[:0]
	for job := range s.running {
		if len(s.hb.RunningJobs) >= 3 {
			break
		}
		s.hb.RunningJobs = append(s.hb.RunningJobs, job)
	}
	if len(s.running) == 0 {
		s.hb.Status = WorkerIdle
	} else {
		s.hb.Status = WorkerBusy
	}
}

// Flush writes the heartbeat once; errors are ignored and retried on the
// next tick.
func (s *HeartbeatState) Flush(ctx context.Context, client RedisClientRaw) {
	s.mu.Lock()
	s.hb.UptimeSeconds = int64(time.Since(s.hb.StartedAt).Seconds())
	var ms runtime.MemStats
	runtime.ReadMemStats(&ms)
	s.hb.HeapBytes = ms.HeapAlloc
	s.hb.NumGoroutine = runtime.NumGoroutine()
	hb := s.hb
	hb.RunningJobs = append([]string(nil), s.hb.RunningJobs...)
	s.mu.Unlock()
	_ = SaveHeartbeat(ctx, client, hb)
}
