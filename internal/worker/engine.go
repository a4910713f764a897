// Package worker executes delivery jobs when the scheduler calls back.
package worker

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/rs/zerolog"

	"github.com/sungwon/govnotify/internal/apperror"
	"github.com/sungwon/govnotify/internal/delivery"
	"github.com/sungwon/govnotify/internal/directory"
	"github.com/sungwon/govnotify/internal/event"
	"github.com/sungwon/govnotify/internal/job"
	"github.com/sungwon/govnotify/internal/logger"
	"github.com/sungwon/govnotify/internal/message"
	"github.com/sungwon/govnotify/internal/metrics"
	"github.com/sungwon/govnotify/internal/provider"
	"github.com/sungwon/govnotify/internal/storage"
)

// ErrDeliveryFailed is returned when no transport delivered the message.
// The job is failed and is not retried automatically.
var ErrDeliveryFailed = apperror.New(apperror.Unprocessable, "message could not be delivered")

// DefaultJobTimeout bounds resolution and dispatch of one claimed job.
const DefaultJobTimeout = 5 * time.Minute

// Directory resolves recipients and sending organisations.
type Directory interface {
	GetProfile(ctx context.Context, userID uuid.UUID) (*directory.Profile, error)
	GetOrganisationWithCache(ctx context.Context, orgID uuid.UUID) (*directory.Organisation, error)
}

// Dispatcher sends a message over its transports.
type Dispatcher interface {
	Dispatch(ctx context.Context, msg *message.Message, recipient *directory.Profile, org *directory.Organisation, batch *event.Batch) delivery.Outcome
	SendNotice(ctx context.Context, msg *message.Message, recipient *directory.Profile, org *directory.Organisation, text string) error
}

// Deps are the collaborators of an Engine.
type Deps struct {
	DB         storage.Pool
	Directory  Directory
	Dispatcher Dispatcher
	Events     *event.Log
	// SMSNotice is the text of the SMS side channel. Empty disables it.
	SMSNotice string
	// JobTimeout bounds a claimed job's resolution and dispatch.
	// Zero means DefaultJobTimeout.
	JobTimeout time.Duration
	Log        zerolog.Logger
}

// Engine claims and executes jobs.
type Engine struct {
	db         storage.Pool
	jobs       *job.Repository
	messages   *message.Repository
	directory  Directory
	dispatcher Dispatcher
	events     *event.Log
	smsNotice  string
	timeout    time.Duration
	log        zerolog.Logger
}

// NewEngine creates an Engine.
func NewEngine(d Deps) *Engine {
	timeout := d.JobTimeout
	if timeout <= 0 {
		timeout = DefaultJobTimeout
	}
	return &Engine{
		db:         d.DB,
		jobs:       job.NewRepository(d.DB),
		messages:   message.NewRepository(d.DB),
		directory:  d.Directory,
		dispatcher: d.Dispatcher,
		events:     d.Events,
		smsNotice:  d.SMSNotice,
		timeout:    timeout,
		log:        d.Log,
	}
}

// ExecuteJob claims the job with the presented token and delivers its
// message. Claim failures return job.ErrJobNotFound or job.ErrJobInProgress.
// Once claimed, the job ends delivered or failed and the events of the
// execution are committed in one batch, even when the caller goes away:
// work after the claim is detached from ctx's cancellation.
func (e *Engine) ExecuteJob(ctx context.Context, jobID uuid.UUID, token string) error {
	start := time.Now()
	defer func() {
		metrics.JobExecutionDuration.Observe(time.Since(start).Seconds())
	}()

	log := logger.Enrich(ctx, e.log).With().Str("job_id", jobID.String()).Logger()
	batch := e.events.Begin()
	commitCtx := ctx
	defer func() {
		if err := batch.Commit(commitCtx); err != nil {
			log.Error().Err(err).Msg("commit job events failed")
		}
	}()

	j, err := e.jobs.Claim(ctx, jobID, token)
	switch {
	case errors.Is(err, job.ErrJobNotFound):
		metrics.JobsClaimedTotal.WithLabelValues("not_found").Inc()
		log.Warn().Msg("job not found or token mismatch")
		return err
	case errors.Is(err, job.ErrJobInProgress):
		// The claimant records the outcome; logging here would race it.
		metrics.JobsClaimedTotal.WithLabelValues("in_progress").Inc()
		log.Warn().Msg("job already in progress")
		return err
	case err != nil:
		metrics.JobsClaimedTotal.WithLabelValues("error").Inc()
		log.Error().Err(err).Msg("claim job failed")
		return apperror.Wrap(apperror.Unavailable, "failed to claim job", err)
	}
	metrics.JobsClaimedTotal.WithLabelValues("claimed").Inc()

	// A claimed job must reach delivered or failed. Writes use detached;
	// resolution and sends are bounded by the engine's timeout instead.
	detached := context.WithoutCancel(ctx)
	commitCtx = detached
	workCtx, cancel := context.WithTimeout(detached, e.timeout)
	defer cancel()

	log = log.With().Str("message_id", j.EntityID.String()).Logger()
	ref := event.MessageRef{MessageID: j.EntityID, OrganisationID: j.OrganisationID, RecipientID: j.RecipientID}
	batch.Log(event.TypeDeliverMessagePending, ref, map[string]any{"jobId": j.ID.String()})

	msg, recipient, org, err := e.load(workCtx, j)
	if err != nil {
		return e.fail(detached, batch, j, ref, log, fmt.Errorf("resolve delivery context: %w", err))
	}
	ref = msg.Ref()

	out := e.dispatcher.Dispatch(workCtx, msg, recipient, org, batch)
	e.sendNotice(workCtx, msg, recipient, org, log)

	if out.Critical != nil {
		return e.fail(detached, batch, j, ref, log, errors.Join(ErrDeliveryFailed, out.Critical, errors.Join(out.Errors...)))
	}

	err = storage.WithTx(detached, e.db, func(tx pgx.Tx) error {
		if err := e.messages.WithTx(tx).MarkDelivered(detached, j.EntityID); err != nil {
			return err
		}
		return e.jobs.WithTx(tx).MarkDelivered(detached, j.EntityID, j.RecipientID)
	})
	if err != nil {
		return e.fail(detached, batch, j, ref, log, apperror.Wrap(apperror.Internal, "failed to finalize job", err))
	}

	payload := map[string]any{
		"jobId": j.ID.String(),
		"sent":  typeNames(out.Sent),
	}
	if len(out.Errors) > 0 {
		payload["errors"] = errorStrings(out.Errors)
	}
	batch.Log(event.TypeDeliverMessage, ref, payload)
	metrics.JobsFinalizedTotal.WithLabelValues(string(job.StatusDelivered)).Inc()

	log.Info().
		Strs("sent", typeNames(out.Sent)).
		Int("errors", len(out.Errors)).
		Msg("job delivered")
	return nil
}

func (e *Engine) load(ctx context.Context, j *job.Job) (*message.Message, *directory.Profile, *directory.Organisation, error) {
	msg, err := e.messages.Get(ctx, j.EntityID)
	if err != nil {
		return nil, nil, nil, err
	}
	recipient, err := e.directory.GetProfile(ctx, j.RecipientID)
	if err != nil {
		return nil, nil, nil, err
	}
	org, err := e.directory.GetOrganisationWithCache(ctx, msg.OrganisationID)
	if err != nil {
		return nil, nil, nil, err
	}
	return msg, recipient, org, nil
}

// fail marks the job failed, logs deliverMessageError and returns cause.
func (e *Engine) fail(ctx context.Context, batch *event.Batch, j *job.Job, ref event.MessageRef, log zerolog.Logger, cause error) error {
	if err := e.jobs.MarkFailed(ctx, j.EntityID, j.RecipientID); err != nil {
		log.Error().Err(err).Msg("mark job failed")
	}
	batch.Log(event.TypeDeliverMessageError, ref, map[string]any{
		"jobId": j.ID.String(),
		"error": cause.Error(),
	})
	metrics.JobsFinalizedTotal.WithLabelValues(string(job.StatusFailed)).Inc()
	log.Error().Err(cause).Msg("job failed")
	return cause
}

// sendNotice sends the SMS side channel when the recipient asked for it and
// SMS was not already a transport of the message.
func (e *Engine) sendNotice(ctx context.Context, msg *message.Message, recipient *directory.Profile, org *directory.Organisation, log zerolog.Logger) {
	if e.smsNotice == "" || !recipient.NotifyBySMS || recipient.Phone == "" || msg.Prefers(provider.TypeSMS) {
		return
	}
	if err := e.dispatcher.SendNotice(ctx, msg, recipient, org, e.smsNotice); err != nil {
		log.Warn().Err(err).Msg("sms notice failed")
		return
	}
	log.Debug().Msg("sms notice sent")
}

func typeNames(ts []provider.Type) []string {
	out := make([]string, 0, len(ts))
	for _, t := range ts {
		out = append(out, string(t))
	}
	return out
}

func errorStrings(errs []error) []string {
	out := make([]string, 0, len(errs))
	for _, err := range errs {
		out = append(out, err.Error())
	}
	return out
}
