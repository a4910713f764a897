package scheduler

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/rs/zerolog"
	"github.com/sungwon/govnotify/internal/config"
	"github.com/sungwon/govnotify/internal/httpclient"
	"github.com/sungwon/govnotify/internal/metrics"
	"golang.org/x/sync/errgroup"
)

// Relay consumes tasks from the SQS scheduler queue. Tasks that are not yet
// due are re-enqueued with a fresh delay; due tasks are delivered to their
// webhook.
type Relay struct {
	client     sqsAPI
	queueURL   string
	http       httpclient.Doer
	log        zerolog.Logger
	workers    int
	waitTime   int32
	visTimeout int32
	maxBatch   int32
	now        func() time.Time
}

// NewRelay creates a Relay from the scheduler configuration.
func NewRelay(client sqsAPI, doer httpclient.Doer, cfg config.SchedulerConfig, log zerolog.Logger) *Relay {
	r := &Relay{
		client:     client,
		queueURL:   cfg.SQSQueueURL,
		http:       doer,
		log:        log,
		workers:    cfg.RelayWorkers,
		waitTime:   cfg.SQSWaitTime,
		visTimeout: cfg.SQSVisTimeout,
		maxBatch:   cfg.SQSMaxBatch,
		now:        time.Now,
	}
	if r.workers <= 0 {
		r.workers = 1
	}
	if r.waitTime == 0 {
		r.waitTime = 20
	}
	if r.visTimeout == 0 {
		r.visTimeout = 60
	}
	if r.maxBatch <= 0 || r.maxBatch > 10 {
		r.maxBatch = 10
	}
	return r
}

// NewSQSRelay creates a Relay backed by the AWS SQS client.
func NewSQSRelay(ctx context.Context, cfg config.SchedulerConfig, log zerolog.Logger) (*Relay, error) {
	client, err := newAWSSQSClient(ctx, cfg.SQSRegion)
	if err != nil {
		return nil, err
	}
	return NewRelay(client, httpclient.New(cfg.Timeout), cfg, log), nil
}

// Run polls the queue with the configured number of workers until ctx is
// cancelled.
func (r *Relay) Run(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)
	for i := range r.workers {
		worker := fmt.Sprintf("relay-%d", i)
		g.Go(func() error {
			r.poll(ctx, worker)
			return nil
		})
	}

	r.log.Info().Int("workers", r.workers).Str("queue_url", r.queueURL).Msg("scheduler relay started")
	err := g.Wait()
	r.log.Info().Msg("scheduler relay stopped")
	return err
}

func (r *Relay) poll(ctx context.Context, worker string) {
	for {
		if ctx.Err() != nil {
			return
		}

		msgs, err := r.client.ReceiveMessage(ctx, &sqsReceiveInput{
			QueueURL:            r.queueURL,
			MaxNumberOfMessages: r.maxBatch,
			WaitTimeSeconds:     r.waitTime,
			VisibilityTimeout:   r.visTimeout,
		})
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			r.log.Error().Err(err).Str("worker", worker).Msg("sqs receive error")
			select {
			case <-ctx.Done():
				return
			case <-time.After(time.Second):
			}
			continue
		}

		for _, m := range msgs {
			r.handle(ctx, m)
		}
	}
}

// handle processes one queue message. The message is deleted when it was
// malformed, re-enqueued, delivered, or permanently rejected by the webhook.
// Otherwise it stays on the queue and is redelivered after the visibility
// timeout.
func (r *Relay) handle(ctx context.Context, m sqsReceivedMessage) {
	log := r.log.With().Str("sqs_message_id", m.MessageID).Logger()

	var task Task
	if err := json.Unmarshal([]byte(m.Body), &task); err != nil || task.WebhookURL == "" {
		log.Error().Err(err).Msg("dropping malformed task")
		r.delete(ctx, m, log)
		metrics.RelayMessagesTotal.WithLabelValues("rejected").Inc()
		return
	}
	log = log.With().Str("webhook_url", task.WebhookURL).Logger()

	now := r.now()
	if now.Before(task.ExecuteAt) {
		if err := enqueue(ctx, r.client, r.queueURL, task, now); err != nil {
			log.Error().Err(err).Msg("re-enqueue task failed")
			metrics.RelayMessagesTotal.WithLabelValues("retry").Inc()
			return
		}
		r.delete(ctx, m, log)
		metrics.RelayMessagesTotal.WithLabelValues("deferred").Inc()
		return
	}

	resp, err := r.http.Do(ctx, &httpclient.Request{
		Method:  http.MethodPost,
		URL:     task.WebhookURL,
		Headers: map[string]string{"Authorization": "Bearer " + task.WebhookAuth},
	})
	if err == nil {
		err = httpclient.Classify("webhook", resp)
	}

	switch {
	case err == nil:
		r.delete(ctx, m, log)
		metrics.RelayMessagesTotal.WithLabelValues("delivered").Inc()
		log.Debug().Msg("webhook called")
	case httpclient.IsPermanent(err):
		r.delete(ctx, m, log)
		metrics.RelayMessagesTotal.WithLabelValues("rejected").Inc()
		log.Warn().Err(err).Msg("webhook rejected task")
	default:
		metrics.RelayMessagesTotal.WithLabelValues("retry").Inc()
		log.Error().Err(err).Msg("webhook call failed, task will be redelivered")
	}
}

func (r *Relay) delete(ctx context.Context, m sqsReceivedMessage, log zerolog.Logger) {
	if err := r.client.DeleteMessage(ctx, r.queueURL, m.ReceiptHandle); err != nil {
		log.Error().Err(err).Msg("failed to delete sqs message")
	}
}
