package service

import (
	"context"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/amalcenter/scheduling-api/pkg/config"
	"github.com/amalcenter/scheduling-api/pkg/jobs"
)

// ScheduleEvent is the payload handed to the notifier after a write path
// commits. Delivery is best effort and never rolls back scheduling results.
type ScheduleEvent struct {
	Kind        string    `json:"kind"`
	TherapistID string    `json:"therapistId"`
	SessionIDs  []string  `json:"sessionIds"`
	OccurredAt  time.Time `json:"occurredAt"`
}

const (
	EventScheduleGenerated = "schedule.generated"
	EventScheduleOptimized = "schedule.optimized"
	EventBulkApplied       = "schedule.bulk_applied"
	EventSessionCancelled  = "session.cancelled"
)

// Notifier dispatches schedule events to affected parties.
type Notifier interface {
	Notify(ctx context.Context, event ScheduleEvent)
}

// NoopNotifier drops events. Used when dispatch is disabled.
type NoopNotifier struct{}

func (NoopNotifier) Notify(context.Context, ScheduleEvent) {}

// QueueNotifier dispatches events through an in-memory retrying worker
// queue so callers never block on delivery.
type QueueNotifier struct {
	queue  *jobs.Queue
	logger *zap.Logger
}

// NewQueueNotifier builds the notifier worker pool. Call Start before use
// and Stop on shutdown.
func NewQueueNotifier(cfg config.NotifierConfig, logger *zap.Logger) *QueueNotifier {
	if logger == nil {
		logger = zap.NewNop()
	}
	n := &QueueNotifier{logger: logger}
	n.queue = jobs.NewQueue("schedule-notifications", n.deliver, jobs.QueueConfig{
		Workers:     cfg.Workers,
		MaxRetries:  cfg.MaxRetries,
		RetryDelay:  cfg.RetryDelay,
		OnExhausted: n.undeliverable,
		Logger:      logger,
	})
	return n
}

// undeliverable records events that ran out of delivery retries so dropped
// notifications are traceable in the audit trail.
func (n *QueueNotifier) undeliverable(job jobs.Job, err error) {
	event, ok := job.Payload.(ScheduleEvent)
	if !ok {
		return
	}
	n.logger.Error("schedule notification undeliverable",
		zap.String("kind", event.Kind),
		zap.String("therapist_id", event.TherapistID),
		zap.Int("sessions", len(event.SessionIDs)),
		zap.Error(err),
	)
}

func (n *QueueNotifier) Start(ctx context.Context) { n.queue.Start(ctx) }

func (n *QueueNotifier) Stop() { n.queue.Stop() }

// Notify enqueues the event; a full or stopped queue is logged and dropped.
func (n *QueueNotifier) Notify(_ context.Context, event ScheduleEvent) {
	if event.OccurredAt.IsZero() {
		event.OccurredAt = time.Now().UTC()
	}
	err := n.queue.Enqueue(jobs.Job{
		ID:      uuid.NewString(),
		Type:    event.Kind,
		Payload: event,
	})
	if err != nil {
		n.logger.Warn("dropping schedule notification",
			zap.String("kind", event.Kind),
			zap.String("therapist_id", event.TherapistID),
			zap.Error(err),
		)
	}
}

// deliver is the worker handler. Delivery targets (SMS, push, mail) hang off
// this point; for now the event is logged for the audit trail.
func (n *QueueNotifier) deliver(_ context.Context, job jobs.Job) error {
	event, ok := job.Payload.(ScheduleEvent)
	if !ok {
		n.logger.Error("notification payload has unexpected type", zap.String("job_id", job.ID))
		return nil
	}
	n.logger.Info("schedule notification",
		zap.String("kind", event.Kind),
		zap.String("therapist_id", event.TherapistID),
		zap.Int("sessions", len(event.SessionIDs)),
		zap.Time("occurred_at", event.OccurredAt),
	)
	return nil
}
