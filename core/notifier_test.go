package core

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLogNotifierLogsMessage(t *testing.T) {
	var buf bytes.Buffer
	n := NewLogNotifier(NewLogger(&buf, "info", time.UTC))

	require.NoError(t, n.Send(context.Background(), Notification{To: "a@a.com", Subject: "New album 2 from 1", Body: "New album 2 from 1"}))

	var line map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &line))
	assert.Equal(t, "sending email", line["msg"])
	assert.Equal(t, "a@a.com", line["to"])
	assert.Equal(t, "New album 2 from 1", line["subject"])
}

func TestQueueNotifierEnqueues(t *testing.T) {
	_, client := newTestRedis(t)
	queue := NewRedisJobQueue(client)
	n := NewQueueNotifier(queue, discardLogger())
	ctx := context.Background()

	msg := Notification{To: "a@a.com", Subject: "s", Body: "b"}
	require.NoError(t, n.Send(ctx, msg))

	job, _, err := queue.Reserve(ctx, time.Minute)
	require.NoError(t, err)
	assert.Equal(t, msg, job.Notification)
	assert.NotEmpty(t, job.ID)
	assert.Zero(t, job.Attempts)
	assert.False(t, job.EnqueuedAt.IsZero())
}

type brokenQueue struct{ JobQueue }

func (brokenQueue) Enqueue(context.Context, NotificationJob) error {
	return errors.New("redis: connection refused")
}

func TestQueueNotifierFailureIsInternal(t *testing.T) {
	err := NewQueueNotifier(brokenQueue{}, discardLogger()).Send(context.Background(), Notification{To: "a@a.com"})
	assert.Equal(t, KindInternal, KindOf(err))
}

func TestQueueNotifierWaitsForCommit(t *testing.T) {
	_, client := newTestRedis(t)
	queue := NewRedisJobQueue(client)
	n := NewQueueNotifier(queue, discardLogger())
	m, _ := newFakeTxManager()
	ctx := context.Background()

	err := m.Do(ctx, func(ctx context.Context, q Querier) error {
		require.NoError(t, n.Send(ctx, Notification{To: "a@a.com", Subject: "s", Body: "b"}))
		_, _, err := queue.Reserve(ctx, time.Minute)
		assert.ErrorIs(t, err, ErrQueueEmpty, "nothing is queued before commit")
		return nil
	})
	require.NoError(t, err)

	job, _, err := queue.Reserve(ctx, time.Minute)
	require.NoError(t, err)
	assert.Equal(t, "a@a.com", job.Notification.To)
}

func TestQueueNotifierDropsJobOnRollback(t *testing.T) {
	_, client := newTestRedis(t)
	queue := NewRedisJobQueue(client)
	n := NewQueueNotifier(queue, discardLogger())
	m, _ := newFakeTxManager()
	ctx := context.Background()

	err := m.Do(ctx, func(ctx context.Context, q Querier) error {
		require.NoError(t, n.Send(ctx, Notification{To: "a@a.com"}))
		return Conflict("Insertion failed", nil)
	})
	assert.True(t, IsKind(err, KindConflict))

	_, _, err = queue.Reserve(ctx, time.Minute)
	assert.ErrorIs(t, err, ErrQueueEmpty)
}

func TestQueueNotifierDropsJobOnFailedCommit(t *testing.T) {
	_, client := newTestRedis(t)
	queue := NewRedisJobQueue(client)
	n := NewQueueNotifier(queue, discardLogger())
	m, b := newFakeTxManager()
	b.tx.commitErr = errors.New("connection reset")
	ctx := context.Background()

	err := m.Do(ctx, func(ctx context.Context, q Querier) error {
		return n.Send(ctx, Notification{To: "a@a.com"})
	})
	require.Error(t, err)

	_, _, err = queue.Reserve(ctx, time.Minute)
	assert.ErrorIs(t, err, ErrQueueEmpty)
}
