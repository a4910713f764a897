package message

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/sungwon/govnotify/internal/apperror"
	"github.com/sungwon/govnotify/internal/event"
	"github.com/sungwon/govnotify/internal/provider"
	"github.com/sungwon/govnotify/internal/storage"
)

// ErrMessageNotFound is returned when no message has the requested id.
var ErrMessageNotFound = apperror.New(apperror.NotFound, "message not found")

// Repository reads and writes messages and their attachment links.
type Repository struct {
	db storage.DBTX
}

// NewRepository creates a Repository over db.
func NewRepository(db storage.DBTX) *Repository {
	return &Repository{db: db}
}

// WithTx returns a Repository bound to tx.
func (r *Repository) WithTx(tx pgx.Tx) *Repository {
	return &Repository{db: tx}
}

// Insert stores m and sets m.CreatedAt. Attachment links are written by
// InsertAttachments.
func (r *Repository) Insert(ctx context.Context, m *Message) error {
	err := r.db.QueryRow(ctx,
		`INSERT INTO messages (id, organisation_id, recipient_id, sender_id, subject, body, html_body, sms_body,
    security_level, preferred_transports, scheduled_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
RETURNING created_at`,
		m.ID, m.OrganisationID, m.RecipientID, m.SenderID, m.Subject, m.Body, m.HTMLBody, m.SMSBody,
		int(m.SecurityLevel), transportStrings(m.PreferredTransports), m.ScheduledAt,
	).Scan(&m.CreatedAt)
	if err != nil {
		return fmt.Errorf("insert message: %w", err)
	}
	return nil
}

// InsertAttachments links attachments to a message in one statement.
func (r *Repository) InsertAttachments(ctx context.Context, messageID uuid.UUID, attachments []Attachment) error {
	if len(attachments) == 0 {
		return nil
	}

	var sb strings.Builder
	sb.WriteString(`INSERT INTO message_attachments (message_id, attachment_id, filename, content_type) VALUES `)
	args := make([]any, 0, len(attachments)*4)
	for i, a := range attachments {
		if i > 0 {
			sb.WriteString(", ")
		}
		n := i * 4
		fmt.Fprintf(&sb, "($%d, $%d, $%d, $%d)", n+1, n+2, n+3, n+4)
		args = append(args, messageID, a.ID, a.Filename, a.ContentType)
	}

	if _, err := r.db.Exec(ctx, sb.String(), args...); err != nil {
		return fmt.Errorf("insert attachments: %w", err)
	}
	return nil
}

// Get loads a message with its attachment links.
func (r *Repository) Get(ctx context.Context, id uuid.UUID) (*Message, error) {
	var (
		m          Message
		level      int
		transports []string
	)
	err := r.db.QueryRow(ctx,
		`SELECT id, organisation_id, recipient_id, sender_id, subject, body, html_body, sms_body,
    security_level, preferred_transports, scheduled_at, is_delivered, is_seen, created_at
FROM messages WHERE id = $1`, id,
	).Scan(&m.ID, &m.OrganisationID, &m.RecipientID, &m.SenderID, &m.Subject, &m.Body, &m.HTMLBody, &m.SMSBody,
		&level, &transports, &m.ScheduledAt, &m.IsDelivered, &m.IsSeen, &m.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrMessageNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get message %s: %w", id, err)
	}
	m.SecurityLevel = SecurityLevel(level)
	m.PreferredTransports = make([]provider.Type, 0, len(transports))
	for _, t := range transports {
		m.PreferredTransports = append(m.PreferredTransports, provider.Type(t))
	}

	rows, err := r.db.Query(ctx,
		`SELECT attachment_id, filename, content_type FROM message_attachments
WHERE message_id = $1 ORDER BY filename, attachment_id`, id)
	if err != nil {
		return nil, fmt.Errorf("list attachments: %w", err)
	}
	defer rows.Close()

	m.Attachments = []Attachment{}
	for rows.Next() {
		var a Attachment
		if err := rows.Scan(&a.ID, &a.Filename, &a.ContentType); err != nil {
			return nil, fmt.Errorf("scan attachment: %w", err)
		}
		m.Attachments = append(m.Attachments, a)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list attachments: %w", err)
	}
	return &m, nil
}

// MarkDelivered sets the delivered flag. It is idempotent.
func (r *Repository) MarkDelivered(ctx context.Context, id uuid.UUID) error {
	tag, err := r.db.Exec(ctx, `UPDATE messages SET is_delivered = true WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("mark message delivered: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrMessageNotFound
	}
	return nil
}

// MarkSeen sets the seen flag and returns the event reference of the
// message.
func (r *Repository) MarkSeen(ctx context.Context, id uuid.UUID) (event.MessageRef, error) {
	ref := event.MessageRef{MessageID: id}
	err := r.db.QueryRow(ctx,
		`UPDATE messages SET is_seen = true WHERE id = $1
RETURNING organisation_id, recipient_id, subject`, id,
	).Scan(&ref.OrganisationID, &ref.RecipientID, &ref.Subject)
	if errors.Is(err, pgx.ErrNoRows) {
		return event.MessageRef{}, ErrMessageNotFound
	}
	if err != nil {
		return event.MessageRef{}, fmt.Errorf("mark message seen: %w", err)
	}
	return ref, nil
}

func transportStrings(ts []provider.Type) []string {
	out := make([]string, 0, len(ts))
	for _, t := range ts {
		out = append(out, string(t))
	}
	return out
}
