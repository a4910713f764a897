// Package job persists delivery jobs and implements the exclusive claim.
package job

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/sungwon/govnotify/internal/apperror"
	"github.com/sungwon/govnotify/internal/storage"
)

// Status is the lifecycle state of a job.
type Status string

const (
	StatusPending   Status = "pending"
	StatusWorking   Status = "working"
	StatusFailed    Status = "failed"
	StatusDelivered Status = "delivered"
)

// TypeDeliverMessage is the job type for message delivery.
const TypeDeliverMessage = "deliverMessage"

var (
	// ErrJobNotFound is returned when no claimable job matches the id and
	// token. Delivered jobs are never claimable.
	ErrJobNotFound = apperror.New(apperror.NotFound, "job doesn't exist")
	// ErrJobInProgress is returned when the job is already being worked.
	ErrJobInProgress = apperror.New(apperror.Conflict, "job already in progress")
)

// Job is one recipient-scoped unit of delivery work.
type Job struct {
	ID             uuid.UUID `json:"id"`
	EntityID       uuid.UUID `json:"entityId"`
	RecipientID    uuid.UUID `json:"recipientId"`
	OrganisationID uuid.UUID `json:"organisationId"`
	Type           string    `json:"type"`
	Status         Status    `json:"status"`
	CreatedAt      time.Time `json:"createdAt"`
	UpdatedAt      time.Time `json:"updatedAt"`
}

// NewJob is a job to be inserted. Token is the single-use bearer token the
// scheduler presents back when executing it.
type NewJob struct {
	ID             uuid.UUID
	EntityID       uuid.UUID
	RecipientID    uuid.UUID
	OrganisationID uuid.UUID
	Type           string
	Token          string
}

// Repository reads and writes the jobs table.
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

// Insert stores a pending job.
func (r *Repository) Insert(ctx context.Context, j NewJob) error {
	_, err := r.db.Exec(ctx,
		`INSERT INTO jobs (id, entity_id, recipient_id, organisation_id, job_type, token, status)
VALUES ($1, $2, $3, $4, $5, $6, 'pending')`,
		j.ID, j.EntityID, j.RecipientID, j.OrganisationID, j.Type, j.Token)
	if err != nil {
		return fmt.Errorf("insert job: %w", err)
	}
	return nil
}

// claimSQL locks the job row and moves it to working in one statement.
// prev reports what the row looked like before the claim; claimed is empty
// unless the transition happened.
const claimSQL = `WITH prev AS (
    SELECT id, entity_id, recipient_id, organisation_id, job_type, status, created_at, updated_at,
           token = $2 AS token_ok
    FROM jobs
    WHERE id = $1 AND status <> 'delivered'
    FOR UPDATE
), claimed AS (
    UPDATE jobs SET status = 'working', updated_at = now()
    FROM prev
    WHERE jobs.id = prev.id AND prev.token_ok AND prev.status <> 'working'
    RETURNING jobs.id, jobs.updated_at
)
SELECT prev.id, prev.entity_id, prev.recipient_id, prev.organisation_id, prev.job_type,
       prev.status, prev.created_at, COALESCE(claimed.updated_at, prev.updated_at), prev.token_ok, claimed.id IS NOT NULL
FROM prev LEFT JOIN claimed ON claimed.id = prev.id`

// Claim moves the job to working if the token matches and the job is
// neither delivered nor already working. When the job is already working
// the job is returned together with ErrJobInProgress.
func (r *Repository) Claim(ctx context.Context, id uuid.UUID, token string) (*Job, error) {
	var (
		j       Job
		status  string
		tokenOK bool
		claimed bool
	)
	err := r.db.QueryRow(ctx, claimSQL, id, token).Scan(
		&j.ID, &j.EntityID, &j.RecipientID, &j.OrganisationID, &j.Type,
		&status, &j.CreatedAt, &j.UpdatedAt, &tokenOK, &claimed)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrJobNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("claim job %s: %w", id, err)
	}

	j.Status = Status(status)
	switch {
	case j.Status == StatusWorking:
		return &j, ErrJobInProgress
	case !tokenOK:
		return nil, ErrJobNotFound
	case !claimed:
		// Locked row was claimable but the update did not apply.
		return nil, fmt.Errorf("claim job %s: update not applied", id)
	}

	j.Status = StatusWorking
	return &j, nil
}

// MarkFailed sets every non-delivered job of (entityID, recipientID) to failed.
func (r *Repository) MarkFailed(ctx context.Context, entityID, recipientID uuid.UUID) error {
	_, err := r.db.Exec(ctx,
		`UPDATE jobs SET status = 'failed', updated_at = now()
WHERE entity_id = $1 AND recipient_id = $2 AND status <> 'delivered'`, entityID, recipientID)
	if err != nil {
		return fmt.Errorf("mark job failed: %w", err)
	}
	return nil
}

// MarkDelivered sets the jobs of (entityID, recipientID) to delivered. It is
// idempotent.
func (r *Repository) MarkDelivered(ctx context.Context, entityID, recipientID uuid.UUID) error {
	_, err := r.db.Exec(ctx,
		`UPDATE jobs SET status = 'delivered', updated_at = now()
WHERE entity_id = $1 AND recipient_id = $2`, entityID, recipientID)
	if err != nil {
		return fmt.Errorf("mark job delivered: %w", err)
	}
	return nil
}
