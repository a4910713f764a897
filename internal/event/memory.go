package event

import (
	"context"
	"sync"

	"github.com/google/uuid"
)

// MemoryWriter keeps events and the projection in memory. It is used by
// tests and by local runs without a database.
type MemoryWriter struct {
	mu       sync.Mutex
	events   []Event
	statuses map[uuid.UUID]MessageStatus
	// Err, when set, is returned by Write and nothing is stored.
	Err error
}

// NewMemoryWriter creates an empty MemoryWriter.
func NewMemoryWriter() *MemoryWriter {
	return &MemoryWriter{statuses: make(map[uuid.UUID]MessageStatus)}
}

// Write appends events and applies last-write-wins to the projection.
func (m *MemoryWriter) Write(_ context.Context, events []Event) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.Err != nil {
		return m.Err
	}

	for _, e := range events {
		e.Seq = int64(len(m.events) + 1)
		m.events = append(m.events, e)
	}
	for _, e := range LatestByMessage(events) {
		row, ok := m.statuses[e.MessageID]
		if !ok {
			row = MessageStatus{
				MessageID:      e.MessageID,
				OrganisationID: e.OrganisationID,
				RecipientID:    e.RecipientID,
				CreatedAt:      e.CreatedAt,
			}
		}
		if e.Subject != "" {
			row.Subject = e.Subject
		}
		row.EventType = e.Type
		row.Status = e.Status
		row.UpdatedAt = e.CreatedAt
		m.statuses[e.MessageID] = row
	}
	return nil
}

// Events returns all stored events in commit order.
func (m *MemoryWriter) Events() []Event {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Event, len(m.events))
	copy(out, m.events)
	return out
}

// Types returns the stored event types in commit order.
func (m *MemoryWriter) Types() []Type {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Type, 0, len(m.events))
	for _, e := range m.events {
		out = append(out, e.Type)
	}
	return out
}

// Status returns the projection row for a message.
func (m *MemoryWriter) Status(messageID uuid.UUID) (MessageStatus, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	row, ok := m.statuses[messageID]
	return row, ok
}
