package event

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"github.com/sungwon/govnotify/internal/metrics"
)

// ErrBatchCommitted is returned when Commit is called on a batch that has
// already been committed.
var ErrBatchCommitted = errors.New("event batch already committed")

// Writer persists a batch of events and updates the projection for every
// message they touch, atomically.
type Writer interface {
	Write(ctx context.Context, events []Event) error
}

// Log hands out batches bound to a Writer.
type Log struct {
	writer Writer
	log    zerolog.Logger
	now    func() time.Time
}

// NewLog creates a Log writing through w.
func NewLog(w Writer, log zerolog.Logger) *Log {
	return &Log{writer: w, log: log, now: time.Now}
}

// Begin starts a new batch. The batch belongs to the caller and must not be
// shared between goroutines.
func (l *Log) Begin() *Batch {
	return &Batch{writer: l.writer, log: l.log, now: l.now}
}

// Batch buffers events for one unit of work until Commit.
type Batch struct {
	writer    Writer
	log       zerolog.Logger
	now       func() time.Time
	events    []Event
	committed bool
}

// Log buffers an event of type t for the referenced message.
func (b *Batch) Log(t Type, ref MessageRef, payload map[string]any) {
	status, ok := t.Status()
	if !ok {
		b.log.Warn().Str("event_type", string(t)).Msg("unknown event type, recording as failed")
		status = StatusFailed
	}
	if payload == nil {
		payload = map[string]any{}
	}

	b.events = append(b.events, Event{
		MessageID:      ref.MessageID,
		OrganisationID: ref.OrganisationID,
		RecipientID:    ref.RecipientID,
		Subject:        ref.Subject,
		Type:           t,
		Status:         status,
		Payload:        payload,
		CreatedAt:      b.now().UTC(),
	})
}

// Len returns the number of buffered events.
func (b *Batch) Len() int { return len(b.events) }

// Events returns a copy of the buffered events in log order.
func (b *Batch) Events() []Event {
	out := make([]Event, len(b.events))
	copy(out, b.events)
	return out
}

// Commit writes all buffered events in order and updates the projection.
// A batch can be committed once, whether or not the write succeeded.
func (b *Batch) Commit(ctx context.Context) error {
	if b.committed {
		return ErrBatchCommitted
	}
	b.committed = true

	if len(b.events) == 0 {
		return nil
	}

	if err := b.writer.Write(ctx, b.events); err != nil {
		metrics.EventBatchCommitsTotal.WithLabelValues("error").Inc()
		b.log.Error().Err(err).Int("events", len(b.events)).Msg("event batch commit failed")
		return fmt.Errorf("commit event batch: %w", err)
	}

	metrics.EventBatchCommitsTotal.WithLabelValues("ok").Inc()
	for _, e := range b.events {
		metrics.EventsWrittenTotal.WithLabelValues(string(e.Type)).Inc()
	}
	return nil
}
