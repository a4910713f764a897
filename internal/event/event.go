// Package event is the append-only message event log and the per-message
// status projection derived from it.
package event

import (
	"time"

	"github.com/google/uuid"
)

// Type identifies what happened to a message.
type Type string

const (
	TypeCreateRawMessage      Type = "createRawMessage"
	TypeScheduleMessage       Type = "scheduleMessage"
	TypeScheduleMessageError  Type = "scheduleMessageError"
	TypeDeliverMessagePending Type = "deliverMessagePending"
	TypeDeliverMessage        Type = "deliverMessage"
	TypeDeliverMessageError   Type = "deliverMessageError"
	TypeEmailError            Type = "emailError"
	TypeCitizenSeenMessage    Type = "citizenSeenMessage"
)

// Status is the coarse message status an event type maps to.
type Status string

const (
	StatusScheduled Status = "scheduled"
	StatusDelivered Status = "delivered"
	StatusFailed    Status = "failed"
	StatusOpened    Status = "opened"
)

var typeStatus = map[Type]Status{
	TypeCreateRawMessage:      StatusScheduled,
	TypeScheduleMessage:       StatusScheduled,
	TypeScheduleMessageError:  StatusFailed,
	TypeDeliverMessagePending: StatusScheduled,
	TypeDeliverMessage:        StatusDelivered,
	TypeDeliverMessageError:   StatusFailed,
	TypeEmailError:            StatusFailed,
	TypeCitizenSeenMessage:    StatusOpened,
}

// Status returns the fixed status for the event type and whether the type
// is known.
func (t Type) Status() (Status, bool) {
	s, ok := typeStatus[t]
	return s, ok
}

// Valid reports whether s is one of the known statuses.
func (s Status) Valid() bool {
	switch s {
	case StatusScheduled, StatusDelivered, StatusFailed, StatusOpened:
		return true
	}
	return false
}

// MessageRef carries the message fields every event is keyed and indexed by.
type MessageRef struct {
	MessageID      uuid.UUID
	OrganisationID uuid.UUID
	RecipientID    uuid.UUID
	Subject        string
}

// Event is one entry of the log. Seq is assigned by the store and reflects
// commit order; it is zero for events that have not been read back.
type Event struct {
	Seq            int64          `json:"seq"`
	MessageID      uuid.UUID      `json:"messageId"`
	OrganisationID uuid.UUID      `json:"organisationId"`
	RecipientID    uuid.UUID      `json:"recipientId"`
	Subject        string         `json:"subject"`
	Type           Type           `json:"type"`
	Status         Status         `json:"status"`
	Payload        map[string]any `json:"payload"`
	CreatedAt      time.Time      `json:"createdAt"`
}

// MessageStatus is one row of the status projection.
type MessageStatus struct {
	MessageID      uuid.UUID `json:"messageId"`
	OrganisationID uuid.UUID `json:"organisationId"`
	RecipientID    uuid.UUID `json:"recipientId"`
	Subject        string    `json:"subject"`
	EventType      Type      `json:"eventType"`
	Status         Status    `json:"status"`
	CreatedAt      time.Time `json:"createdAt"`
	UpdatedAt      time.Time `json:"updatedAt"`
}

// LatestByMessage returns the last event for every distinct message in
// events, ordered by each message's last occurrence.
func LatestByMessage(events []Event) []Event {
	last := make(map[uuid.UUID]int, len(events))
	for i, e := range events {
		last[e.MessageID] = i
	}

	out := make([]Event, 0, len(last))
	for i, e := range events {
		if last[e.MessageID] == i {
			out = append(out, e)
		}
	}
	return out
}
