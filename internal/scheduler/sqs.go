package scheduler

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"github.com/sungwon/govnotify/internal/metrics"
)

// MaxDelay is the longest delay SQS accepts on a single message. Tasks due
// later are re-enqueued by the relay until they are due.
const MaxDelay = 900 * time.Second

// SQSScheduler enqueues tasks as delayed SQS messages.
type SQSScheduler struct {
	client   sqsAPI
	queueURL string
	log      zerolog.Logger
	now      func() time.Time
}

// NewSQSScheduler creates an SQSScheduler.
func NewSQSScheduler(client sqsAPI, queueURL string, log zerolog.Logger) *SQSScheduler {
	return &SQSScheduler{client: client, queueURL: queueURL, log: log, now: time.Now}
}

// ScheduleTasks sends one message per task and stops at the first failure.
func (s *SQSScheduler) ScheduleTasks(ctx context.Context, tasks []Task) error {
	for _, task := range tasks {
		if err := enqueue(ctx, s.client, s.queueURL, task, s.now()); err != nil {
			metrics.SchedulerCallsTotal.WithLabelValues(BackendSQS, "error").Inc()
			s.log.Error().Err(err).Str("webhook_url", task.WebhookURL).Msg("enqueue task failed")
			return fmt.Errorf("schedule tasks: %w", err)
		}
	}
	metrics.SchedulerCallsTotal.WithLabelValues(BackendSQS, "ok").Inc()
	return nil
}

// delayUntil returns the SQS delay in whole seconds, rounded up, for a task
// due at at. The delay is capped at MaxDelay.
func delayUntil(at, now time.Time) int32 {
	d := at.Sub(now)
	if d <= 0 {
		return 0
	}
	if d > MaxDelay {
		d = MaxDelay
	}
	return int32((d + time.Second - 1) / time.Second)
}

func enqueue(ctx context.Context, client sqsAPI, queueURL string, task Task, now time.Time) error {
	body, err := json.Marshal(task)
	if err != nil {
		return fmt.Errorf("marshal task: %w", err)
	}
	return client.SendMessage(ctx, &sqsSendInput{
		QueueURL:     queueURL,
		MessageBody:  string(body),
		DelaySeconds: delayUntil(task.ExecuteAt, now),
	})
}
