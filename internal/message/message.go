// Package message creates messages and schedules their delivery jobs.
package message

import (
	"errors"
	"fmt"
	"mime"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/sungwon/govnotify/internal/event"
	"github.com/sungwon/govnotify/internal/provider"
)

// SecurityLevel controls how much of a message leaves the platform.
type SecurityLevel int

const (
	// SecurityStandard messages are sent in full over external transports.
	SecurityStandard SecurityLevel = 1
	// SecurityHigh messages are only announced externally; the content
	// stays in the platform inbox.
	SecurityHigh SecurityLevel = 2
)

// Attachment links a stored file to a message.
type Attachment struct {
	ID          uuid.UUID `json:"id"`
	Filename    string    `json:"filename"`
	ContentType string    `json:"contentType"`
}

// Message is a notification to one citizen. Content is immutable after
// creation; only IsDelivered and IsSeen change.
type Message struct {
	ID                  uuid.UUID       `json:"id"`
	OrganisationID      uuid.UUID       `json:"organisationId"`
	RecipientID         uuid.UUID       `json:"recipientId"`
	SenderID            uuid.UUID       `json:"senderId"`
	Subject             string          `json:"subject"`
	Body                string          `json:"body"`
	HTMLBody            string          `json:"htmlBody,omitempty"`
	SMSBody             string          `json:"smsBody,omitempty"`
	SecurityLevel       SecurityLevel   `json:"securityLevel"`
	PreferredTransports []provider.Type `json:"preferredTransports"`
	ScheduledAt         time.Time       `json:"scheduledAt"`
	Attachments         []Attachment    `json:"attachments"`
	IsDelivered         bool            `json:"isDelivered"`
	IsSeen              bool            `json:"isSeen"`
	CreatedAt           time.Time       `json:"createdAt"`
}

// Ref returns the fields events about m are keyed by.
func (m *Message) Ref() event.MessageRef {
	return event.MessageRef{
		MessageID:      m.ID,
		OrganisationID: m.OrganisationID,
		RecipientID:    m.RecipientID,
		Subject:        m.Subject,
	}
}

// Prefers reports whether t is one of the message's preferred transports.
func (m *Message) Prefers(t provider.Type) bool {
	for _, p := range m.PreferredTransports {
		if p == t {
			return true
		}
	}
	return false
}

// Sender is the account creating a message.
type Sender struct {
	ID uuid.UUID
	// IsMachine marks API clients acting on behalf of an organisation.
	// Machine senders have no directory profile.
	IsMachine bool
}

// NewMessage is the input to ProcessMessage.
type NewMessage struct {
	OrganisationID      uuid.UUID       `json:"organisationId"`
	RecipientID         uuid.UUID       `json:"recipientId"`
	Subject             string          `json:"subject"`
	Body                string          `json:"body"`
	HTMLBody            string          `json:"htmlBody"`
	SMSBody             string          `json:"smsBody"`
	SecurityLevel       SecurityLevel   `json:"securityLevel"`
	PreferredTransports []provider.Type `json:"preferredTransports"`
	// ScheduledAt defaults to now when zero.
	ScheduledAt time.Time    `json:"scheduledAt"`
	Attachments []Attachment `json:"attachments"`
}

// Validate checks the input before any lookup or write.
func (n NewMessage) Validate() error {
	var errs []error
	if n.OrganisationID == uuid.Nil {
		errs = append(errs, errors.New("organisationId is required"))
	}
	if n.RecipientID == uuid.Nil {
		errs = append(errs, errors.New("recipientId is required"))
	}
	if strings.TrimSpace(n.Subject) == "" {
		errs = append(errs, errors.New("subject is required"))
	}
	if strings.TrimSpace(n.Body) == "" {
		errs = append(errs, errors.New("body is required"))
	}
	switch n.SecurityLevel {
	case 0, SecurityStandard, SecurityHigh:
	default:
		errs = append(errs, fmt.Errorf("securityLevel %d is not supported", n.SecurityLevel))
	}
	for _, t := range n.PreferredTransports {
		if !t.Valid() && t != provider.TypeLifeEvent {
			errs = append(errs, fmt.Errorf("unknown transport %q", t))
		}
	}
	for i, a := range n.Attachments {
		if a.ID == uuid.Nil || a.Filename == "" {
			errs = append(errs, fmt.Errorf("attachments[%d]: id and filename are required", i))
		}
		if a.ContentType != "" {
			if _, _, err := mime.ParseMediaType(a.ContentType); err != nil || strings.ContainsAny(a.ContentType, "\r\n") {
				errs = append(errs, fmt.Errorf("attachments[%d]: invalid contentType %q", i, a.ContentType))
			}
		}
	}
	return errors.Join(errs...)
}

func (n NewMessage) build(id, senderID uuid.UUID, now time.Time) *Message {
	m := &Message{
		ID:                  id,
		OrganisationID:      n.OrganisationID,
		RecipientID:         n.RecipientID,
		SenderID:            senderID,
		Subject:             n.Subject,
		Body:                n.Body,
		HTMLBody:            n.HTMLBody,
		SMSBody:             n.SMSBody,
		SecurityLevel:       n.SecurityLevel,
		PreferredTransports: n.PreferredTransports,
		ScheduledAt:         n.ScheduledAt,
		Attachments:         append([]Attachment(nil), n.Attachments...),
	}
	if m.SecurityLevel == 0 {
		m.SecurityLevel = SecurityStandard
	}
	if m.ScheduledAt.IsZero() {
		m.ScheduledAt = now
	}
	if m.PreferredTransports == nil {
		m.PreferredTransports = []provider.Type{}
	}
	for i := range m.Attachments {
		if m.Attachments[i].ContentType == "" {
			m.Attachments[i].ContentType = "application/octet-stream"
		}
	}
	return m
}
