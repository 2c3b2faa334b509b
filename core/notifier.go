package core

import (
	"context"
	"log/slog"
	"time"

	"github.com/google/uuid"
)

// Notification is one email-style message to a subscriber.
type Notification struct {
	To      string `json:"to"`
	Subject string `json:"subject"`
	Body    string `json:"body"`
}

// Notifier delivers a notification to a subscriber.
type Notifier interface {
	Send(ctx context.Context, n Notification) error
}

// LogNotifier is the mail stub: it only records what would have been sent.
type LogNotifier struct {
	log *slog.Logger
}

func NewLogNotifier(logger *slog.Logger) *LogNotifier {
	if logger == nil {
		logger = slog.Default()
	}
	return &LogNotifier{log: logger}
}

func (n *LogNotifier) Send(ctx context.Context, msg Notification) error {
	n.log.InfoContext(ctx, "sending email", "to", msg.To, "subject", msg.Subject, "body", msg.Body)
	notificationsDispatched.WithLabelValues(NotifierLog, "sent").Inc()
	return nil
}

// QueueNotifier hands notifications to the worker process through Redis.
// Inside a unit of work the job is pushed only after the commit, so a
// rolled-back album never reaches subscribers; a push failing at that point is
// logged and counted. Outside a unit of work Send returns once the job is
// queued.
type QueueNotifier struct {
	queue JobQueue
	log   *slog.Logger
	now   func() time.Time
}

func NewQueueNotifier(queue JobQueue, logger *slog.Logger) *QueueNotifier {
	if logger == nil {
		logger = slog.Default()
	}
	return &QueueNotifier{queue: queue, log: logger, now: time.Now}
}

func (n *QueueNotifier) Send(ctx context.Context, msg Notification) error {
	job := NotificationJob{
		ID:           uuid.NewString(),
		Notification: msg,
		EnqueuedAt:   n.now().UTC(),
	}
	deferred := AfterCommit(ctx, func(ctx context.Context) {
		if err := n.enqueue(ctx, job); err != nil {
			n.log.ErrorContext(ctx, "notification lost after commit", "job_id", job.ID, "to", msg.To, "error", err)
		}
	})
	if deferred {
		return nil
	}
	if err := n.enqueue(ctx, job); err != nil {
		return Internal("failed to queue notification", err)
	}
	return nil
}

func (n *QueueNotifier) enqueue(ctx context.Context, job NotificationJob) error {
	if err := n.queue.Enqueue(ctx, job); err != nil {
		notificationsDispatched.WithLabelValues(NotifierQueue, "failed").Inc()
		return err
	}
	notificationsDispatched.WithLabelValues(NotifierQueue, "queued").Inc()
	return nil
}
