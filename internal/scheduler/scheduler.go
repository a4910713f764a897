// Package scheduler hands delivery tasks to an external scheduler that
// calls the job webhook once the task is due.
package scheduler

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"github.com/sungwon/govnotify/internal/config"
	"github.com/sungwon/govnotify/internal/httpclient"
)

// Task asks the scheduler to POST WebhookURL with WebhookAuth as bearer
// token at ExecuteAt.
type Task struct {
	WebhookURL  string    `json:"webhookUrl"`
	WebhookAuth string    `json:"webhookAuth"`
	ExecuteAt   time.Time `json:"executeAt"`
}

// Scheduler accepts tasks for deferred execution.
type Scheduler interface {
	ScheduleTasks(ctx context.Context, tasks []Task) error
}

// Backend names.
const (
	BackendHTTP = "http"
	BackendSQS  = "sqs"
)

// New builds the scheduler backend selected by cfg.Backend.
func New(ctx context.Context, cfg config.SchedulerConfig, log zerolog.Logger) (Scheduler, error) {
	switch cfg.Backend {
	case "", BackendHTTP:
		if cfg.URL == "" {
			return nil, fmt.Errorf("scheduler.url is required for the http backend")
		}
		doer := httpclient.NewBreakerDoer(httpclient.New(cfg.Timeout), "scheduler", httpclient.BreakerSettings{}, log)
		return NewHTTPScheduler(cfg.URL, cfg.APIKey, doer, log), nil
	case BackendSQS:
		if cfg.SQSQueueURL == "" {
			return nil, fmt.Errorf("scheduler.sqs_queue_url is required for the sqs backend")
		}
		client, err := newAWSSQSClient(ctx, cfg.SQSRegion)
		if err != nil {
			return nil, err
		}
		return NewSQSScheduler(client, cfg.SQSQueueURL, log), nil
	default:
		return nil, fmt.Errorf("unknown scheduler backend %q", cfg.Backend)
	}
}
