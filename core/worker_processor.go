package core

import (
	"context"
	"log/slog"
)

// DefaultMaxAttempts is how many deliveries a job gets before it is
// dead-lettered.
const DefaultMaxAttempts = 3

// NotificationProcessor delivers reserved jobs and settles them on the queue.
type NotificationProcessor struct {
	queue       JobQueue
	mailer      Notifier
	maxAttempts int
	log         *slog.Logger
}

func NewNotificationProcessor(queue JobQueue, mailer Notifier, maxAttempts int, logger *slog.Logger) *NotificationProcessor {
	if maxAttempts <= 0 {
		maxAttempts = DefaultMaxAttempts
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &NotificationProcessor{queue: queue, mailer: mailer, maxAttempts: maxAttempts, log: logger}
}

// Process delivers job and acks raw. A failed delivery is re-enqueued with
// Attempts+1, or dead-lettered once maxAttempts is reached; the delivery
// error is returned either way. The ack happens last so a crash before it
// leaves the job for RequeueExpired.
func (p *NotificationProcessor) Process(ctx context.Context, job NotificationJob, raw string) error {
	sendErr := p.mailer.Send(ctx, job.Notification)
	if sendErr == nil {
		notificationJobs.WithLabelValues("delivered").Inc()
		return p.ack(ctx, job, raw, nil)
	}

	job.Attempts++
	job.LastError = sendErr.Error()
	if job.Attempts < p.maxAttempts {
		if err := p.queue.Enqueue(ctx, job); err != nil {
			// Leave it in processing; the reclaimer will hand it out again.
			p.log.ErrorContext(ctx, "re-enqueue notification failed", "job_id", job.ID, "error", err)
			return sendErr
		}
		notificationJobs.WithLabelValues("retried").Inc()
		p.log.WarnContext(ctx, "notification retried", "job_id", job.ID, "attempts", job.Attempts, "error", sendErr)
	} else {
		if err := p.queue.DeadLetter(ctx, job); err != nil {
			p.log.ErrorContext(ctx, "dead-letter notification failed", "job_id", job.ID, "error", err)
			return sendErr
		}
		notificationJobs.WithLabelValues("dead").Inc()
		p.log.ErrorContext(ctx, "notification failed after retries", "job_id", job.ID, "attempts", job.Attempts, "error", sendErr)
	}
	return p.ack(ctx, job, raw, sendErr)
}

// Discard acks an entry that could not be decoded.
func (p *NotificationProcessor) Discard(ctx context.Context, raw string, cause error) {
	notificationJobs.WithLabelValues("discarded").Inc()
	p.log.ErrorContext(ctx, "discarding undecodable notification job", "raw", raw, "error", cause)
	if err := p.queue.Ack(ctx, raw); err != nil {
		p.log.ErrorContext(ctx, "ack failed", "error", err)
	}
}

func (p *NotificationProcessor) ack(ctx context.Context, job NotificationJob, raw string, result error) error {
	if err := p.queue.Ack(ctx, raw); err != nil {
		p.log.ErrorContext(ctx, "ack failed", "job_id", job.ID, "error", err)
	}
	return result
}
