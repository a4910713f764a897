package worker

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/pashagolub/pgxmock/v3"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sungwon/govnotify/internal/apperror"
	"github.com/sungwon/govnotify/internal/delivery"
	"github.com/sungwon/govnotify/internal/directory"
	"github.com/sungwon/govnotify/internal/event"
	"github.com/sungwon/govnotify/internal/job"
	"github.com/sungwon/govnotify/internal/message"
)

var (
	claimColumns = []string{"id", "entity_id", "recipient_id", "organisation_id", "job_type", "status",
		"created_at", "updated_at", "token_ok", "claimed"}
	messageColumns = []string{"id", "organisation_id", "recipient_id", "sender_id", "subject", "body", "html_body", "sms_body",
		"security_level", "preferred_transports", "scheduled_at", "is_delivered", "is_seen", "created_at"}
)

type fakeDirectory struct {
	profile    *directory.Profile
	profileErr error
	orgErr     error
}

func (f *fakeDirectory) GetProfile(context.Context, uuid.UUID) (*directory.Profile, error) {
	return f.profile, f.profileErr
}

func (f *fakeDirectory) GetOrganisationWithCache(_ context.Context, id uuid.UUID) (*directory.Organisation, error) {
	if f.orgErr != nil {
		return nil, f.orgErr
	}
	return &directory.Organisation{ID: id, Name: "City Council"}, nil
}

type fakeDispatcher struct {
	dispatchFn   func(msg *message.Message, batch *event.Batch) delivery.Outcome
	noticeErr    error
	dispatched   int
	noticesSent  int
	noticeTextIn string
	// onDispatch runs before the send; dispatchCtxErr is the send context's
	// error after it.
	onDispatch       func()
	dispatchCtxErr   error
	dispatchDeadline time.Time
}

func (f *fakeDispatcher) Dispatch(ctx context.Context, msg *message.Message, _ *directory.Profile, _ *directory.Organisation, batch *event.Batch) delivery.Outcome {
	f.dispatched++
	if f.onDispatch != nil {
		f.onDispatch()
	}
	f.dispatchCtxErr = ctx.Err()
	f.dispatchDeadline, _ = ctx.Deadline()
	if f.dispatchFn != nil {
		return f.dispatchFn(msg, batch)
	}
	return delivery.Outcome{Sent: msg.PreferredTransports}
}

func (f *fakeDispatcher) SendNotice(_ context.Context, _ *message.Message, _ *directory.Profile, _ *directory.Organisation, text string) error {
	f.noticesSent++
	f.noticeTextIn = text
	return f.noticeErr
}

type engineFixture struct {
	engine     *Engine
	pool       pgxmock.PgxPoolIface
	dir        *fakeDirectory
	dispatcher *fakeDispatcher
	events     *event.MemoryWriter

	jobID, messageID, recipientID, orgID uuid.UUID
	transports                           []string
}

func newEngineFixture(t *testing.T) *engineFixture {
	t.Helper()
	pool, err := pgxmock.NewPool()
	require.NoError(t, err)

	f := &engineFixture{
		pool:        pool,
		dir:         &fakeDirectory{},
		dispatcher:  &fakeDispatcher{},
		events:      event.NewMemoryWriter(),
		jobID:       uuid.New(),
		messageID:   uuid.New(),
		recipientID: uuid.New(),
		orgID:       uuid.New(),
		transports:  []string{"email"},
	}
	f.dir.profile = &directory.Profile{ID: f.recipientID, Name: "Ada", Email: "ada@example.org"}
	f.engine = NewEngine(Deps{
		DB:         pool,
		Directory:  f.dir,
		Dispatcher: f.dispatcher,
		Events:     event.NewLog(f.events, zerolog.Nop()),
		SMSNotice:  "You have a new message.",
		Log:        zerolog.Nop(),
	})
	t.Cleanup(pool.Close)
	return f
}

func (f *engineFixture) expectClaim(status string, tokenOK, claimed bool) {
	now := time.Now().UTC()
	f.pool.ExpectQuery(`WITH prev AS`).WithArgs(f.jobID, "tok").
		WillReturnRows(f.pool.NewRows(claimColumns).AddRow(
			f.jobID, f.messageID, f.recipientID, f.orgID, job.TypeDeliverMessage, status, now, now, tokenOK, claimed))
}

func (f *engineFixture) expectLoadMessage() {
	now := time.Now().UTC()
	f.pool.ExpectQuery(`FROM messages WHERE id`).WithArgs(f.messageID).
		WillReturnRows(f.pool.NewRows(messageColumns).AddRow(
			f.messageID, f.orgID, f.recipientID, uuid.New(), "Parking permit", "Renewed", "", "",
			1, f.transports, now, false, false, now))
	f.pool.ExpectQuery(`FROM message_attachments`).WithArgs(f.messageID).
		WillReturnRows(f.pool.NewRows([]string{"attachment_id", "filename", "content_type"}))
}

func (f *engineFixture) expectFinalize() {
	f.pool.ExpectBegin()
	f.pool.ExpectExec(`UPDATE messages SET is_delivered = true`).WithArgs(f.messageID).
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))
	f.pool.ExpectExec(`UPDATE jobs SET status = 'delivered'`).WithArgs(f.messageID, f.recipientID).
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))
	f.pool.ExpectCommit()
}

func (f *engineFixture) expectMarkFailed() {
	f.pool.ExpectExec(`UPDATE jobs SET status = 'failed'`).WithArgs(f.messageID, f.recipientID).
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))
}

func (f *engineFixture) execute() error {
	return f.engine.ExecuteJob(context.Background(), f.jobID, "tok")
}

func TestExecuteJob_Delivered(t *testing.T) {
	f := newEngineFixture(t)
	f.expectClaim("pending", true, true)
	f.expectLoadMessage()
	f.expectFinalize()

	require.NoError(t, f.execute())
	assert.NoError(t, f.pool.ExpectationsWereMet())

	assert.Equal(t, []event.Type{event.TypeDeliverMessagePending, event.TypeDeliverMessage}, f.events.Types())
	status, ok := f.events.Status(f.messageID)
	require.True(t, ok)
	assert.Equal(t, event.StatusDelivered, status.Status)
	assert.Equal(t, "Parking permit", status.Subject)
	assert.Equal(t, 0, f.dispatcher.noticesSent)
}

func TestExecuteJob_ClaimFailures(t *testing.T) {
	t.Run("NotFound", func(t *testing.T) {
		f := newEngineFixture(t)
		f.pool.ExpectQuery(`WITH prev AS`).WithArgs(f.jobID, "tok").WillReturnError(pgx.ErrNoRows)

		err := f.execute()
		assert.ErrorIs(t, err, job.ErrJobNotFound)
		assert.Equal(t, apperror.NotFound, apperror.KindOf(err))
		assert.Empty(t, f.events.Types())
		assert.Equal(t, 0, f.dispatcher.dispatched)
	})

	t.Run("InProgress", func(t *testing.T) {
		f := newEngineFixture(t)
		f.expectClaim("working", true, false)

		err := f.execute()
		assert.ErrorIs(t, err, job.ErrJobInProgress)
		assert.Empty(t, f.events.Types())
		assert.Equal(t, 0, f.dispatcher.dispatched)
	})

	t.Run("DatabaseError", func(t *testing.T) {
		f := newEngineFixture(t)
		f.pool.ExpectQuery(`WITH prev AS`).WithArgs(f.jobID, "tok").WillReturnError(errors.New("connection reset"))

		err := f.execute()
		assert.Equal(t, apperror.Unavailable, apperror.KindOf(err))
	})
}

func TestExecuteJob_DispatchCriticalFailsJob(t *testing.T) {
	f := newEngineFixture(t)
	sendErr := errors.New("smtp timeout")
	f.dispatcher.dispatchFn = func(msg *message.Message, batch *event.Batch) delivery.Outcome {
		batch.Log(event.TypeEmailError, msg.Ref(), map[string]any{"error": sendErr.Error()})
		return delivery.Outcome{Errors: []error{sendErr}, Critical: delivery.ErrNoTransportSucceeded}
	}
	f.expectClaim("pending", true, true)
	f.expectLoadMessage()
	f.expectMarkFailed()

	err := f.execute()
	assert.ErrorIs(t, err, ErrDeliveryFailed)
	assert.ErrorIs(t, err, delivery.ErrNoTransportSucceeded)
	assert.ErrorIs(t, err, sendErr)
	assert.Equal(t, apperror.Unprocessable, apperror.KindOf(err))
	assert.NoError(t, f.pool.ExpectationsWereMet())

	assert.Equal(t, []event.Type{event.TypeDeliverMessagePending, event.TypeEmailError, event.TypeDeliverMessageError}, f.events.Types())
	status, _ := f.events.Status(f.messageID)
	assert.Equal(t, event.StatusFailed, status.Status)
}

func TestExecuteJob_PartialFailureIsDelivered(t *testing.T) {
	f := newEngineFixture(t)
	f.transports = []string{"email", "sms"}
	f.dispatcher.dispatchFn = func(msg *message.Message, _ *event.Batch) delivery.Outcome {
		return delivery.Outcome{Sent: msg.PreferredTransports[:1], Errors: []error{errors.New("sms gateway 503")}}
	}
	f.expectClaim("pending", true, true)
	f.expectLoadMessage()
	f.expectFinalize()

	require.NoError(t, f.execute())
	events := f.events.Events()
	require.Len(t, events, 2)
	assert.Equal(t, []string{"sms gateway 503"}, events[1].Payload["errors"])
}

func TestExecuteJob_ResolutionFailureSkipsDispatch(t *testing.T) {
	t.Run("MessageMissing", func(t *testing.T) {
		f := newEngineFixture(t)
		f.expectClaim("failed", true, true)
		f.pool.ExpectQuery(`FROM messages WHERE id`).WithArgs(f.messageID).WillReturnError(pgx.ErrNoRows)
		f.expectMarkFailed()

		err := f.execute()
		assert.ErrorIs(t, err, message.ErrMessageNotFound)
		assert.Equal(t, 0, f.dispatcher.dispatched)
		assert.Equal(t, []event.Type{event.TypeDeliverMessagePending, event.TypeDeliverMessageError}, f.events.Types())
	})

	t.Run("DirectoryUnavailable", func(t *testing.T) {
		f := newEngineFixture(t)
		f.dir.profileErr = apperror.Wrap(apperror.Unavailable, "directory unavailable", errors.New("503"))
		f.expectClaim("pending", true, true)
		f.expectLoadMessage()
		f.expectMarkFailed()

		err := f.execute()
		assert.Equal(t, apperror.Unavailable, apperror.KindOf(err))
		assert.Equal(t, 0, f.dispatcher.dispatched)
		assert.NoError(t, f.pool.ExpectationsWereMet())
	})

	t.Run("OrganisationMissing", func(t *testing.T) {
		f := newEngineFixture(t)
		f.dir.orgErr = directory.ErrOrganisationNotFound
		f.expectClaim("pending", true, true)
		f.expectLoadMessage()
		f.expectMarkFailed()

		err := f.execute()
		assert.ErrorIs(t, err, directory.ErrOrganisationNotFound)
		assert.Equal(t, 0, f.dispatcher.dispatched)
	})
}

func TestExecuteJob_FinalizeFailure(t *testing.T) {
	f := newEngineFixture(t)
	f.expectClaim("pending", true, true)
	f.expectLoadMessage()
	f.pool.ExpectBegin()
	f.pool.ExpectExec(`UPDATE messages SET is_delivered = true`).WithArgs(f.messageID).WillReturnError(errors.New("disk full"))
	f.pool.ExpectRollback()
	f.expectMarkFailed()

	err := f.execute()
	assert.Equal(t, apperror.Internal, apperror.KindOf(err))
	assert.Equal(t, "failed to finalize job", apperror.PublicMessage(err))
	assert.NoError(t, f.pool.ExpectationsWereMet())
	assert.Equal(t, []event.Type{event.TypeDeliverMessagePending, event.TypeDeliverMessageError}, f.events.Types())
}

func TestExecuteJob_SMSNotice(t *testing.T) {
	t.Run("SentWhenOptedIn", func(t *testing.T) {
		f := newEngineFixture(t)
		f.dir.profile.NotifyBySMS = true
		f.dir.profile.Phone = "+4915112345678"
		f.dispatcher.noticeErr = errors.New("gateway down")
		f.expectClaim("pending", true, true)
		f.expectLoadMessage()
		f.expectFinalize()

		// A failed notice does not fail the job.
		require.NoError(t, f.execute())
		assert.Equal(t, 1, f.dispatcher.noticesSent)
		assert.Equal(t, "You have a new message.", f.dispatcher.noticeTextIn)
	})

	t.Run("NotSentWhenSMSAlreadyPreferred", func(t *testing.T) {
		f := newEngineFixture(t)
		f.transports = []string{"email", "sms"}
		f.dir.profile.NotifyBySMS = true
		f.dir.profile.Phone = "+4915112345678"
		f.expectClaim("pending", true, true)
		f.expectLoadMessage()
		f.expectFinalize()

		require.NoError(t, f.execute())
		assert.Equal(t, 0, f.dispatcher.noticesSent)
	})

	t.Run("NotSentWithoutPhone", func(t *testing.T) {
		f := newEngineFixture(t)
		f.dir.profile.NotifyBySMS = true
		f.expectClaim("pending", true, true)
		f.expectLoadMessage()
		f.expectFinalize()

		require.NoError(t, f.execute())
		assert.Equal(t, 0, f.dispatcher.noticesSent)
	})
}

func TestExecuteJob_EventCommitFailureDoesNotChangeOutcome(t *testing.T) {
	f := newEngineFixture(t)
	f.events.Err = errors.New("event store down")
	f.expectClaim("pending", true, true)
	f.expectLoadMessage()
	f.expectFinalize()

	assert.NoError(t, f.execute())
	assert.Empty(t, f.events.Events())
}

func TestExecuteJob_CallerCancelsAfterClaim(t *testing.T) {
	t.Run("DeliveredAndRecorded", func(t *testing.T) {
		f := newEngineFixture(t)
		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()
		f.dispatcher.onDispatch = cancel

		f.expectClaim("pending", true, true)
		f.expectLoadMessage()
		f.expectFinalize()

		require.NoError(t, f.engine.ExecuteJob(ctx, f.jobID, "tok"))
		assert.ErrorIs(t, ctx.Err(), context.Canceled)
		assert.NoError(t, f.dispatcher.dispatchCtxErr)
		assert.NoError(t, f.pool.ExpectationsWereMet())
		assert.Equal(t, []event.Type{event.TypeDeliverMessagePending, event.TypeDeliverMessage}, f.events.Types())
	})

	t.Run("FailedAndRecorded", func(t *testing.T) {
		f := newEngineFixture(t)
		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()
		f.dispatcher.onDispatch = cancel
		f.dispatcher.dispatchFn = func(*message.Message, *event.Batch) delivery.Outcome {
			return delivery.Outcome{Critical: delivery.ErrNoTransportSucceeded}
		}

		f.expectClaim("pending", true, true)
		f.expectLoadMessage()
		f.expectMarkFailed()

		err := f.engine.ExecuteJob(ctx, f.jobID, "tok")
		assert.ErrorIs(t, err, ErrDeliveryFailed)
		assert.NoError(t, f.pool.ExpectationsWereMet())
		assert.Equal(t, []event.Type{event.TypeDeliverMessagePending, event.TypeDeliverMessageError}, f.events.Types())
	})
}

func TestExecuteJob_DispatchHasEngineDeadline(t *testing.T) {
	f := newEngineFixture(t)
	f.engine.timeout = time.Minute

	f.expectClaim("pending", true, true)
	f.expectLoadMessage()
	f.expectFinalize()

	start := time.Now()
	require.NoError(t, f.execute())
	assert.WithinDuration(t, start.Add(time.Minute), f.dispatcher.dispatchDeadline, 5*time.Second)
	assert.NoError(t, f.pool.ExpectationsWereMet())
}
