package event

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/rs/zerolog"
	"github.com/sungwon/govnotify/internal/apperror"
	"github.com/sungwon/govnotify/internal/storage"
)

const (
	defaultPageLimit = 20
	maxPageLimit     = 100
)

const upsertStatusSQL = `INSERT INTO message_status
    (message_id, organisation_id, recipient_id, subject, event_type, status, created_at, updated_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
ON CONFLICT (message_id) DO UPDATE SET
    subject    = COALESCE(NULLIF(EXCLUDED.subject, ''), message_status.subject),
    event_type = EXCLUDED.event_type,
    status     = EXCLUDED.status,
    updated_at = EXCLUDED.updated_at`

const statusColumns = `message_id, organisation_id, recipient_id, subject, event_type, status, created_at, updated_at`

// Filter narrows a projection listing. Zero values do not filter.
type Filter struct {
	OrganisationID uuid.UUID
	From           *time.Time
	To             *time.Time
	// Search matches the subject case-insensitively or the recipient id exactly.
	Search string
	Status Status
}

// Page is an offset/limit window. A zero Limit selects the default.
type Page struct {
	Offset int
	Limit  int
}

// ListResult is one page of projection rows plus the unpaginated total.
type ListResult struct {
	Items  []MessageStatus `json:"items"`
	Total  int             `json:"totalCount"`
	Offset int             `json:"offset"`
	Limit  int             `json:"limit"`
}

// Store is the PostgreSQL-backed event log and status projection.
type Store struct {
	db  storage.Pool
	log zerolog.Logger
}

// NewStore creates a Store over db.
func NewStore(db storage.Pool, log zerolog.Logger) *Store {
	return &Store{db: db, log: log}
}

// Write inserts events in order and upserts the projection row of every
// message they touch with that message's last event, in one transaction.
func (s *Store) Write(ctx context.Context, events []Event) error {
	if len(events) == 0 {
		return nil
	}

	query, args, err := buildInsertEvents(events)
	if err != nil {
		return err
	}

	return storage.WithTx(ctx, s.db, func(tx pgx.Tx) error {
		if _, err := tx.Exec(ctx, query, args...); err != nil {
			return fmt.Errorf("insert events: %w", err)
		}
		for _, e := range LatestByMessage(events) {
			if _, err := tx.Exec(ctx, upsertStatusSQL,
				e.MessageID, e.OrganisationID, e.RecipientID, e.Subject,
				string(e.Type), string(e.Status), e.CreatedAt, e.CreatedAt,
			); err != nil {
				return fmt.Errorf("upsert message status %s: %w", e.MessageID, err)
			}
		}
		return nil
	})
}

func buildInsertEvents(events []Event) (string, []any, error) {
	const cols = 8

	var sb strings.Builder
	sb.WriteString(`INSERT INTO events (message_id, organisation_id, recipient_id, subject, event_type, status, payload, created_at) VALUES `)

	args := make([]any, 0, len(events)*cols)
	for i, e := range events {
		payload, err := json.Marshal(e.Payload)
		if err != nil {
			return "", nil, fmt.Errorf("marshal payload for %s: %w", e.Type, err)
		}
		if i > 0 {
			sb.WriteString(", ")
		}
		base := i * cols
		fmt.Fprintf(&sb, "($%d, $%d, $%d, $%d, $%d, $%d, $%d, $%d)",
			base+1, base+2, base+3, base+4, base+5, base+6, base+7, base+8)
		args = append(args, e.MessageID, e.OrganisationID, e.RecipientID, e.Subject,
			string(e.Type), string(e.Status), payload, e.CreatedAt)
	}
	return sb.String(), args, nil
}

// List returns one page of the status projection matching f. An offset past
// the end yields no items and the correct total.
func (s *Store) List(ctx context.Context, f Filter, p Page) (*ListResult, error) {
	if p.Offset < 0 {
		return nil, apperror.New(apperror.Validation, "offset must not be negative")
	}
	if p.Limit < 0 {
		return nil, apperror.New(apperror.Validation, "limit must not be negative")
	}
	if p.Limit == 0 {
		p.Limit = defaultPageLimit
	}
	if p.Limit > maxPageLimit {
		p.Limit = maxPageLimit
	}
	if f.Status != "" && !f.Status.Valid() {
		return nil, apperror.New(apperror.Validation, fmt.Sprintf("unknown status %q", f.Status))
	}

	where, args := f.where()

	var total int64
	if err := s.db.QueryRow(ctx, `SELECT count(*) FROM message_status`+where, args...).Scan(&total); err != nil {
		return nil, fmt.Errorf("count message status: %w", err)
	}

	query := fmt.Sprintf(`SELECT %s FROM message_status%s ORDER BY updated_at DESC, message_id LIMIT $%d OFFSET $%d`,
		statusColumns, where, len(args)+1, len(args)+2)
	rows, err := s.db.Query(ctx, query, append(args, p.Limit, p.Offset)...)
	if err != nil {
		return nil, fmt.Errorf("list message status: %w", err)
	}
	defer rows.Close()

	items := []MessageStatus{}
	for rows.Next() {
		var (
			ms        MessageStatus
			eventType string
			status    string
		)
		if err := rows.Scan(&ms.MessageID, &ms.OrganisationID, &ms.RecipientID, &ms.Subject,
			&eventType, &status, &ms.CreatedAt, &ms.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan message status: %w", err)
		}
		ms.EventType = Type(eventType)
		ms.Status = Status(status)
		items = append(items, ms)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate message status: %w", err)
	}

	return &ListResult{Items: items, Total: int(total), Offset: p.Offset, Limit: p.Limit}, nil
}

func (f Filter) where() (string, []any) {
	var (
		conds []string
		args  []any
	)
	next := func(v any) string {
		args = append(args, v)
		return fmt.Sprintf("$%d", len(args))
	}

	if f.OrganisationID != uuid.Nil {
		conds = append(conds, "organisation_id = "+next(f.OrganisationID))
	}
	if f.From != nil {
		conds = append(conds, "created_at >= "+next(*f.From))
	}
	if f.To != nil {
		conds = append(conds, "created_at < "+next(*f.To))
	}
	if q := strings.TrimSpace(f.Search); q != "" {
		like := next("%" + escapeLike(q) + "%")
		conds = append(conds, fmt.Sprintf("(subject ILIKE %s OR recipient_id::text = %s)", like, next(strings.ToLower(q))))
	}
	if f.Status != "" {
		conds = append(conds, "status = "+next(string(f.Status)))
	}

	if len(conds) == 0 {
		return "", nil
	}
	return " WHERE " + strings.Join(conds, " AND "), args
}

func escapeLike(s string) string {
	return strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`).Replace(s)
}

// History returns every event of one message in commit order.
func (s *Store) History(ctx context.Context, messageID uuid.UUID) ([]Event, error) {
	rows, err := s.db.Query(ctx,
		`SELECT id, message_id, organisation_id, recipient_id, subject, event_type, status, payload, created_at
FROM events WHERE message_id = $1 ORDER BY id`, messageID)
	if err != nil {
		return nil, fmt.Errorf("query events: %w", err)
	}
	defer rows.Close()

	events := []Event{}
	for rows.Next() {
		var (
			e         Event
			eventType string
			status    string
			payload   []byte
		)
		if err := rows.Scan(&e.Seq, &e.MessageID, &e.OrganisationID, &e.RecipientID, &e.Subject,
			&eventType, &status, &payload, &e.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan event: %w", err)
		}
		e.Type = Type(eventType)
		e.Status = Status(status)
		if len(payload) > 0 {
			if err := json.Unmarshal(payload, &e.Payload); err != nil {
				return nil, fmt.Errorf("decode payload of event %d: %w", e.Seq, err)
			}
		}
		events = append(events, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate events: %w", err)
	}
	return events, nil
}

// latestPerMessageSQL picks the next batch of message ids first so the
// window functions only see that batch's events.
const latestPerMessageSQL = `WITH batch AS (
    SELECT DISTINCT message_id FROM events
    WHERE message_id > $1
    ORDER BY message_id
    LIMIT $2
)
SELECT DISTINCT ON (e.message_id)
    e.message_id, e.organisation_id, e.recipient_id,
    COALESCE(max(NULLIF(e.subject, '')) OVER (PARTITION BY e.message_id), '') AS subject,
    e.event_type, e.status,
    min(e.created_at) OVER (PARTITION BY e.message_id) AS first_at,
    e.created_at
FROM events e
JOIN batch USING (message_id)
ORDER BY e.message_id, e.id DESC`

// SyncProjection rebuilds the projection for every message in the event log,
// batchSize messages per transaction. It returns the number of messages
// synced.
func (s *Store) SyncProjection(ctx context.Context, batchSize int) (int, error) {
	if batchSize <= 0 {
		return 0, apperror.New(apperror.Validation, "batch size must be positive")
	}

	var (
		cursor = uuid.Nil
		synced int
	)
	for {
		n, last, err := s.syncBatch(ctx, cursor, batchSize)
		if err != nil {
			return synced, err
		}
		synced += n
		s.log.Debug().Int("batch", n).Int("synced", synced).Msg("projection batch synced")
		if n < batchSize {
			return synced, nil
		}
		cursor = last
	}
}

func (s *Store) syncBatch(ctx context.Context, after uuid.UUID, limit int) (int, uuid.UUID, error) {
	var (
		n    int
		last uuid.UUID
	)
	err := storage.WithTx(ctx, s.db, func(tx pgx.Tx) error {
		rows, err := tx.Query(ctx, latestPerMessageSQL, after, limit)
		if err != nil {
			return fmt.Errorf("query latest events: %w", err)
		}
		latest, err := scanLatest(rows)
		if err != nil {
			return err
		}

		for _, r := range latest {
			if _, err := tx.Exec(ctx, upsertStatusSQL,
				r.MessageID, r.OrganisationID, r.RecipientID, r.Subject,
				string(r.EventType), string(r.Status), r.CreatedAt, r.UpdatedAt,
			); err != nil {
				return fmt.Errorf("upsert message status %s: %w", r.MessageID, err)
			}
			last = r.MessageID
		}
		n = len(latest)
		return nil
	})
	return n, last, err
}

func scanLatest(rows pgx.Rows) ([]MessageStatus, error) {
	defer rows.Close()

	var out []MessageStatus
	for rows.Next() {
		var (
			ms        MessageStatus
			eventType string
			status    string
		)
		if err := rows.Scan(&ms.MessageID, &ms.OrganisationID, &ms.RecipientID, &ms.Subject,
			&eventType, &status, &ms.CreatedAt, &ms.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan latest event: %w", err)
		}
		ms.EventType = Type(eventType)
		ms.Status = Status(status)
		out = append(out, ms)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate latest events: %w", err)
	}
	return out, nil
}
