package message

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/pashagolub/pgxmock/v3"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/sungwon/govnotify/internal/apperror"
	"github.com/sungwon/govnotify/internal/directory"
	"github.com/sungwon/govnotify/internal/event"
	"github.com/sungwon/govnotify/internal/featureflag"
	"github.com/sungwon/govnotify/internal/provider"
	"github.com/sungwon/govnotify/internal/scheduler"
)

type fakeScheduler struct {
	tasks []scheduler.Task
	err   error
}

func (f *fakeScheduler) ScheduleTasks(_ context.Context, tasks []scheduler.Task) error {
	f.tasks = append(f.tasks, tasks...)
	return f.err
}

type fakeProfiles struct {
	profiles map[uuid.UUID]*directory.Profile
	calls    int
}

func (f *fakeProfiles) GetProfile(_ context.Context, id uuid.UUID) (*directory.Profile, error) {
	f.calls++
	p, ok := f.profiles[id]
	if !ok {
		return nil, directory.ErrProfileNotFound
	}
	return p, nil
}

type processorFixture struct {
	proc      *Processor
	pool      pgxmock.PgxPoolIface
	scheduler *fakeScheduler
	profiles  *fakeProfiles
	events    *event.MemoryWriter
	recipient *directory.Profile
	sender    Sender
}

var fixedNow = time.Date(2026, 5, 4, 9, 30, 0, 0, time.UTC)

func newProcessorFixture(t *testing.T, flags featureflag.Static) *processorFixture {
	t.Helper()
	pool, err := pgxmock.NewPool()
	require.NoError(t, err)

	recipient := &directory.Profile{ID: uuid.New(), Name: "Ada Citizen", Email: "ada@example.org"}
	senderProfile := &directory.Profile{ID: uuid.New(), Name: "Clerk Jones"}
	profiles := &fakeProfiles{profiles: map[uuid.UUID]*directory.Profile{
		recipient.ID:     recipient,
		senderProfile.ID: senderProfile,
	}}
	sched := &fakeScheduler{}
	events := event.NewMemoryWriter()

	proc := NewProcessor(ProcessorDeps{
		DB:             pool,
		Scheduler:      sched,
		Profiles:       profiles,
		Flags:          flags,
		Events:         event.NewLog(events, zerolog.Nop()),
		WebhookBaseURL: "https://notify.gov.example/",
		Log:            zerolog.Nop(),
	})
	proc.now = func() time.Time { return fixedNow }
	proc.newToken = func() (string, error) { return strings.Repeat("ab", 32), nil }

	return &processorFixture{
		proc:      proc,
		pool:      pool,
		scheduler: sched,
		profiles:  profiles,
		events:    events,
		recipient: recipient,
		sender:    Sender{ID: senderProfile.ID},
	}
}

func (f *processorFixture) input() NewMessage {
	return NewMessage{
		OrganisationID:      uuid.New(),
		RecipientID:         f.recipient.ID,
		Subject:             "Parking permit renewed",
		Body:                "Your permit has been renewed.",
		PreferredTransports: []provider.Type{provider.TypeEmail},
		Attachments:         []Attachment{{ID: uuid.New(), Filename: "permit.pdf"}},
	}
}

func anyArgs(n int) []any {
	args := make([]any, n)
	for i := range args {
		args[i] = pgxmock.AnyArg()
	}
	return args
}

func (f *processorFixture) expectInserts() {
	f.pool.ExpectBegin()
	f.pool.ExpectQuery(`INSERT INTO messages`).WithArgs(anyArgs(11)...).WillReturnRows(f.pool.NewRows([]string{"created_at"}).AddRow(fixedNow))
	f.pool.ExpectExec(`INSERT INTO message_attachments`).
		WithArgs(pgxmock.AnyArg(), pgxmock.AnyArg(), "permit.pdf", "application/octet-stream").
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	f.pool.ExpectExec(`INSERT INTO jobs`).WithArgs(
		pgxmock.AnyArg(), pgxmock.AnyArg(), f.recipient.ID, pgxmock.AnyArg(), "deliverMessage", strings.Repeat("ab", 32),
	).WillReturnResult(pgxmock.NewResult("INSERT", 1))
}

func TestProcessMessage_Success(t *testing.T) {
	f := newProcessorFixture(t, nil)
	defer f.pool.Close()

	f.expectInserts()
	f.pool.ExpectCommit()

	res, err := f.proc.ProcessMessage(context.Background(), f.input(), f.sender)
	require.NoError(t, err)
	assert.NoError(t, f.pool.ExpectationsWereMet())

	assert.Equal(t, f.recipient.ID, res.UserID)
	require.Len(t, f.scheduler.tasks, 1)
	task := f.scheduler.tasks[0]
	assert.Equal(t, "https://notify.gov.example/api/v1/jobs/"+res.JobID.String()+"/execute", task.WebhookURL)
	assert.Equal(t, strings.Repeat("ab", 32), task.WebhookAuth)
	assert.Equal(t, fixedNow, task.ExecuteAt)

	assert.Equal(t, []event.Type{event.TypeCreateRawMessage, event.TypeScheduleMessage}, f.events.Types())
	status, ok := f.events.Status(res.MessageID)
	require.True(t, ok)
	assert.Equal(t, event.StatusScheduled, status.Status)
	assert.Equal(t, "Clerk Jones", f.events.Events()[0].Payload["sender"])
}

func TestProcessMessage_ScheduledAtIsPassedThrough(t *testing.T) {
	f := newProcessorFixture(t, nil)
	defer f.pool.Close()

	f.expectInserts()
	f.pool.ExpectCommit()

	in := f.input()
	in.ScheduledAt = fixedNow.Add(48 * time.Hour)
	_, err := f.proc.ProcessMessage(context.Background(), in, f.sender)
	require.NoError(t, err)
	assert.Equal(t, in.ScheduledAt, f.scheduler.tasks[0].ExecuteAt)
}

func TestProcessMessage_SchedulerFailureRollsBack(t *testing.T) {
	f := newProcessorFixture(t, nil)
	defer f.pool.Close()

	f.scheduler.err = errors.New("scheduler down")
	f.expectInserts()
	f.pool.ExpectRollback()

	res, err := f.proc.ProcessMessage(context.Background(), f.input(), f.sender)
	assert.Nil(t, res)
	assert.Equal(t, apperror.Unavailable, apperror.KindOf(err))
	assert.ErrorIs(t, err, f.scheduler.err)
	assert.NoError(t, f.pool.ExpectationsWereMet())

	assert.Equal(t, []event.Type{event.TypeScheduleMessageError}, f.events.Types())
	assert.Equal(t, event.StatusFailed, f.events.Events()[0].Status)
}

func TestProcessMessage_DatabaseFailureRollsBack(t *testing.T) {
	f := newProcessorFixture(t, nil)
	defer f.pool.Close()

	f.pool.ExpectBegin()
	f.pool.ExpectQuery(`INSERT INTO messages`).WithArgs(anyArgs(11)...).WillReturnError(errors.New("disk full"))
	f.pool.ExpectRollback()

	_, err := f.proc.ProcessMessage(context.Background(), f.input(), f.sender)
	assert.Equal(t, apperror.Internal, apperror.KindOf(err))
	assert.Equal(t, "failed to create message", apperror.PublicMessage(err))
	assert.Empty(t, f.scheduler.tasks)
	assert.Empty(t, f.events.Types())
	assert.NoError(t, f.pool.ExpectationsWereMet())
}

func TestProcessMessage_ConsentEnforcement(t *testing.T) {
	t.Run("OptedOutRejectedWhenActive", func(t *testing.T) {
		f := newProcessorFixture(t, featureflag.Static{featureflag.ConsentEnforcement: true})
		defer f.pool.Close()
		f.recipient.OptedOut = true

		_, err := f.proc.ProcessMessage(context.Background(), f.input(), f.sender)
		assert.ErrorIs(t, err, ErrNotConsented)
		assert.Equal(t, apperror.Unprocessable, apperror.KindOf(err))
		assert.NoError(t, f.pool.ExpectationsWereMet())
	})

	t.Run("OptedOutAllowedWhenInactive", func(t *testing.T) {
		f := newProcessorFixture(t, nil)
		defer f.pool.Close()
		f.recipient.OptedOut = true

		f.expectInserts()
		f.pool.ExpectCommit()

		_, err := f.proc.ProcessMessage(context.Background(), f.input(), f.sender)
		assert.NoError(t, err)
	})
}

func TestProcessMessage_RecipientNotFound(t *testing.T) {
	f := newProcessorFixture(t, nil)
	defer f.pool.Close()

	in := f.input()
	in.RecipientID = uuid.New()

	_, err := f.proc.ProcessMessage(context.Background(), in, f.sender)
	assert.ErrorIs(t, err, directory.ErrProfileNotFound)
	assert.Equal(t, apperror.NotFound, apperror.KindOf(err))
	assert.NoError(t, f.pool.ExpectationsWereMet())
}

func TestProcessMessage_MachineSenderSkipsProfileLookup(t *testing.T) {
	f := newProcessorFixture(t, nil)
	defer f.pool.Close()

	f.expectInserts()
	f.pool.ExpectCommit()

	_, err := f.proc.ProcessMessage(context.Background(), f.input(), Sender{ID: uuid.New(), IsMachine: true})
	require.NoError(t, err)
	assert.Equal(t, 1, f.profiles.calls)
}

func TestProcessMessage_InvalidInput(t *testing.T) {
	f := newProcessorFixture(t, nil)
	defer f.pool.Close()

	in := f.input()
	in.Subject = " "
	in.PreferredTransports = []provider.Type{"fax"}

	_, err := f.proc.ProcessMessage(context.Background(), in, f.sender)
	assert.Equal(t, apperror.Validation, apperror.KindOf(err))
	assert.Equal(t, 0, f.profiles.calls)
}

func TestProcessMessage_RejectsMalformedAttachmentContentType(t *testing.T) {
	for _, ct := range []string{
		"text/plain\r\nBcc: victim@example.com",
		"text/plain\nX-Injected: 1",
		"not a media type",
	} {
		t.Run(ct, func(t *testing.T) {
			f := newProcessorFixture(t, nil)
			defer f.pool.Close()

			in := f.input()
			in.Attachments = []Attachment{{ID: uuid.New(), Filename: "letter.pdf", ContentType: ct}}

			_, err := f.proc.ProcessMessage(context.Background(), in, f.sender)
			assert.Equal(t, apperror.Validation, apperror.KindOf(err))
			assert.ErrorContains(t, err, "attachments[0]: invalid contentType")
		})
	}
}

func TestNewMessage_ValidateAcceptsContentTypeWithParams(t *testing.T) {
	in := NewMessage{
		OrganisationID: uuid.New(),
		RecipientID:    uuid.New(),
		Subject:        "Tax return",
		Body:           "Your return has been received.",
		Attachments: []Attachment{
			{ID: uuid.New(), Filename: "a.txt", ContentType: "text/plain; charset=utf-8"},
			{ID: uuid.New(), Filename: "b.bin"},
		},
	}
	assert.NoError(t, in.Validate())
}

func TestMarkSeen_LogsOpenedEvent(t *testing.T) {
	f := newProcessorFixture(t, nil)
	defer f.pool.Close()

	id, orgID := uuid.New(), uuid.New()
	f.pool.ExpectQuery(`UPDATE messages SET is_seen = true`).WithArgs(id).
		WillReturnRows(f.pool.NewRows([]string{"organisation_id", "recipient_id", "subject"}).AddRow(orgID, f.recipient.ID, "Hi"))

	require.NoError(t, f.proc.MarkSeen(context.Background(), id))

	status, ok := f.events.Status(id)
	require.True(t, ok)
	assert.Equal(t, event.StatusOpened, status.Status)
	assert.Equal(t, event.TypeCitizenSeenMessage, status.EventType)
}

func TestNewToken(t *testing.T) {
	a, err := NewToken()
	require.NoError(t, err)
	b, err := NewToken()
	require.NoError(t, err)
	assert.Len(t, a, 64)
	assert.NotEqual(t, a, b)
}
