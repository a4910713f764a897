package message

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/rs/zerolog"
	"github.com/sungwon/govnotify/internal/apperror"
	"github.com/sungwon/govnotify/internal/directory"
	"github.com/sungwon/govnotify/internal/event"
	"github.com/sungwon/govnotify/internal/featureflag"
	"github.com/sungwon/govnotify/internal/job"
	"github.com/sungwon/govnotify/internal/logger"
	"github.com/sungwon/govnotify/internal/metrics"
	"github.com/sungwon/govnotify/internal/scheduler"
	"github.com/sungwon/govnotify/internal/storage"
)

// ErrNotConsented is returned when the recipient opted out of messages and
// consent enforcement is on.
var ErrNotConsented = apperror.New(apperror.Unprocessable, "recipient has not consented to receive messages")

// ProfileResolver looks up directory profiles.
type ProfileResolver interface {
	GetProfile(ctx context.Context, userID uuid.UUID) (*directory.Profile, error)
}

// Result identifies what ProcessMessage created.
type Result struct {
	JobID     uuid.UUID `json:"jobId"`
	UserID    uuid.UUID `json:"userId"`
	MessageID uuid.UUID `json:"messageId"`
}

// ProcessorDeps are the collaborators of a Processor.
type ProcessorDeps struct {
	DB        storage.Pool
	Scheduler scheduler.Scheduler
	Profiles  ProfileResolver
	Flags     featureflag.Checker
	Events    *event.Log
	// WebhookBaseURL is the externally reachable base of this API, used to
	// build job execution callbacks.
	WebhookBaseURL string
	Log            zerolog.Logger
}

// Processor creates messages together with their delivery jobs.
type Processor struct {
	db          storage.Pool
	messages    *Repository
	jobs        *job.Repository
	scheduler   scheduler.Scheduler
	profiles    ProfileResolver
	flags       featureflag.Checker
	events      *event.Log
	webhookBase string
	log         zerolog.Logger
	now         func() time.Time
	newToken    func() (string, error)
}

// NewProcessor creates a Processor.
func NewProcessor(d ProcessorDeps) *Processor {
	flags := d.Flags
	if flags == nil {
		flags = featureflag.Static(nil)
	}
	return &Processor{
		db:          d.DB,
		messages:    NewRepository(d.DB),
		jobs:        job.NewRepository(d.DB),
		scheduler:   d.Scheduler,
		profiles:    d.Profiles,
		flags:       flags,
		events:      d.Events,
		webhookBase: strings.TrimRight(d.WebhookBaseURL, "/"),
		log:         d.Log,
		now:         time.Now,
		newToken:    NewToken,
	}
}

// NewToken returns a random 32-byte token, hex encoded.
func NewToken() (string, error) {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("generate token: %w", err)
	}
	return hex.EncodeToString(b), nil
}

// JobWebhookURL is the callback the scheduler invokes to execute a job.
func JobWebhookURL(base string, jobID uuid.UUID) string {
	return strings.TrimRight(base, "/") + "/api/v1/jobs/" + jobID.String() + "/execute"
}

// ProcessMessage stores the message and its job and schedules the job. The
// message, its attachments and the job are committed only when the
// scheduler accepted the task.
func (p *Processor) ProcessMessage(ctx context.Context, in NewMessage, sender Sender) (*Result, error) {
	log := logger.Enrich(ctx, p.log)

	if err := in.Validate(); err != nil {
		metrics.MessagesCreatedTotal.WithLabelValues("rejected").Inc()
		return nil, apperror.Wrap(apperror.Validation, "invalid message", err)
	}

	recipient, err := p.profiles.GetProfile(ctx, in.RecipientID)
	if err != nil {
		metrics.MessagesCreatedTotal.WithLabelValues("rejected").Inc()
		return nil, fmt.Errorf("resolve recipient: %w", err)
	}

	senderName := ""
	if !sender.IsMachine {
		sp, err := p.profiles.GetProfile(ctx, sender.ID)
		if err != nil {
			metrics.MessagesCreatedTotal.WithLabelValues("rejected").Inc()
			return nil, fmt.Errorf("resolve sender: %w", err)
		}
		senderName = sp.Name
	}

	if recipient.OptedOut && p.flags.IsActive(ctx, featureflag.ConsentEnforcement) {
		metrics.MessagesCreatedTotal.WithLabelValues("rejected").Inc()
		return nil, ErrNotConsented
	}

	token, err := p.newToken()
	if err != nil {
		return nil, apperror.Wrap(apperror.Internal, "failed to create message", err)
	}

	msg := in.build(uuid.New(), sender.ID, p.now().UTC())
	jobID := uuid.New()
	log = log.With().Str("message_id", msg.ID.String()).Str("job_id", jobID.String()).Logger()

	var scheduleErr error
	err = storage.WithTx(ctx, p.db, func(tx pgx.Tx) error {
		messages := p.messages.WithTx(tx)
		if err := messages.Insert(ctx, msg); err != nil {
			return err
		}
		if err := messages.InsertAttachments(ctx, msg.ID, msg.Attachments); err != nil {
			return err
		}
		if err := p.jobs.WithTx(tx).Insert(ctx, job.NewJob{
			ID:             jobID,
			EntityID:       msg.ID,
			RecipientID:    msg.RecipientID,
			OrganisationID: msg.OrganisationID,
			Type:           job.TypeDeliverMessage,
			Token:          token,
		}); err != nil {
			return err
		}

		scheduleErr = p.scheduler.ScheduleTasks(ctx, []scheduler.Task{{
			WebhookURL:  JobWebhookURL(p.webhookBase, jobID),
			WebhookAuth: token,
			ExecuteAt:   msg.ScheduledAt,
		}})
		return scheduleErr
	})

	payload := map[string]any{
		"sender":   senderName,
		"receiver": recipient.Name,
	}
	batch := p.events.Begin()

	switch {
	case scheduleErr != nil:
		log.Error().Err(err).Msg("scheduler rejected job, message rolled back")
		payload["error"] = scheduleErr.Error()
		batch.Log(event.TypeScheduleMessageError, msg.Ref(), payload)
		p.commit(ctx, batch, log)
		metrics.MessagesCreatedTotal.WithLabelValues("failed").Inc()
		return nil, apperror.Wrap(apperror.Unavailable, "scheduler unavailable", err)
	case err != nil:
		log.Error().Err(err).Msg("create message failed")
		metrics.MessagesCreatedTotal.WithLabelValues("failed").Inc()
		return nil, apperror.Wrap(apperror.Internal, "failed to create message", err)
	}

	batch.Log(event.TypeCreateRawMessage, msg.Ref(), payload)
	batch.Log(event.TypeScheduleMessage, msg.Ref(), map[string]any{
		"jobId":     jobID.String(),
		"executeAt": msg.ScheduledAt,
	})
	p.commit(ctx, batch, log)

	metrics.MessagesCreatedTotal.WithLabelValues("scheduled").Inc()
	log.Info().Time("execute_at", msg.ScheduledAt).Msg("message scheduled")

	return &Result{JobID: jobID, UserID: msg.RecipientID, MessageID: msg.ID}, nil
}

// MarkSeen records that the recipient opened the message.
func (p *Processor) MarkSeen(ctx context.Context, id uuid.UUID) error {
	ref, err := p.messages.MarkSeen(ctx, id)
	if err != nil {
		return err
	}

	batch := p.events.Begin()
	batch.Log(event.TypeCitizenSeenMessage, ref, nil)
	if err := batch.Commit(ctx); err != nil {
		return apperror.Wrap(apperror.Internal, "failed to record message as seen", err)
	}
	return nil
}

// Get returns a stored message.
func (p *Processor) Get(ctx context.Context, id uuid.UUID) (*Message, error) {
	return p.messages.Get(ctx, id)
}

// commit writes the batch. The message outcome is already decided, so a
// failed commit is only logged.
func (p *Processor) commit(ctx context.Context, batch *event.Batch, log zerolog.Logger) {
	if err := batch.Commit(ctx); err != nil && !errors.Is(err, event.ErrBatchCommitted) {
		log.Error().Err(err).Msg("commit message events failed")
	}
}
