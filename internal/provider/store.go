package provider

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/rs/zerolog"
	"github.com/sungwon/govnotify/internal/apperror"
	"github.com/sungwon/govnotify/internal/storage"
)

var (
	// ErrNotFound is returned when no live provider has the requested id.
	ErrNotFound = apperror.New(apperror.NotFound, "provider not found")
	// ErrDuplicate is returned when another live provider of the same
	// organisation and type has the same name or from address.
	ErrDuplicate = apperror.New(apperror.Unprocessable, "a provider with the same name or from address already exists")
)

const (
	defaultPageLimit = 20
	maxPageLimit     = 100
)

const providerColumns = `id, organisation_id, type, kind, name, from_address, from_name, settings, is_primary, throttle, created_at, updated_at, deleted_at`

// Filter narrows a provider listing.
type Filter struct {
	OrganisationID uuid.UUID
	Type           Type
}

// Page is an offset/limit window. A zero Limit selects the default.
type Page struct {
	Offset int
	Limit  int
}

// ListResult is one page of providers plus the unpaginated total.
type ListResult struct {
	Items  []Provider `json:"items"`
	Total  int        `json:"totalCount"`
	Offset int        `json:"offset"`
	Limit  int        `json:"limit"`
}

// Store persists provider configuration in PostgreSQL.
type Store struct {
	db       storage.Pool
	defaults Defaults
	log      zerolog.Logger
}

// NewStore creates a Store. defaults supplies the provider returned by
// GetPrimaryOrDefault when an organisation has no primary.
func NewStore(db storage.Pool, defaults Defaults, log zerolog.Logger) *Store {
	return &Store{db: db, defaults: defaults, log: log}
}

// Get returns a live provider by id.
func (s *Store) Get(ctx context.Context, id uuid.UUID) (*Provider, error) {
	p, err := scanProvider(s.db.QueryRow(ctx,
		`SELECT `+providerColumns+` FROM providers WHERE id = $1 AND deleted_at IS NULL`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get provider %s: %w", id, err)
	}
	return p, nil
}

// GetPrimaryOrDefault returns the organisation's primary provider for t, or
// the configured default when there is none. Only storage errors fail it.
func (s *Store) GetPrimaryOrDefault(ctx context.Context, organisationID uuid.UUID, t Type) (*Provider, error) {
	p, err := scanProvider(s.db.QueryRow(ctx,
		`SELECT `+providerColumns+` FROM providers
WHERE organisation_id = $1 AND type = $2 AND is_primary AND deleted_at IS NULL
LIMIT 1`, organisationID, string(t)))
	if errors.Is(err, pgx.ErrNoRows) {
		s.log.Debug().
			Stringer("organisation_id", organisationID).
			Str("type", string(t)).
			Msg("no primary provider, using default")
		return s.defaults.For(t), nil
	}
	if err != nil {
		return nil, fmt.Errorf("get primary %s provider for %s: %w", t, organisationID, err)
	}
	return p, nil
}

// List returns one page of an organisation's live providers.
func (s *Store) List(ctx context.Context, f Filter, p Page) (*ListResult, error) {
	if f.OrganisationID == uuid.Nil {
		return nil, apperror.New(apperror.Validation, "organisation id is required")
	}
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

	where := ` WHERE organisation_id = $1 AND deleted_at IS NULL`
	args := []any{f.OrganisationID}
	if f.Type != "" {
		if !f.Type.Valid() {
			return nil, apperror.New(apperror.Validation, "type must be email or sms")
		}
		where += ` AND type = $2`
		args = append(args, string(f.Type))
	}

	var total int64
	if err := s.db.QueryRow(ctx, `SELECT count(*) FROM providers`+where, args...).Scan(&total); err != nil {
		return nil, fmt.Errorf("count providers: %w", err)
	}

	query := fmt.Sprintf(`SELECT %s FROM providers%s ORDER BY created_at, id LIMIT $%d OFFSET $%d`,
		providerColumns, where, len(args)+1, len(args)+2)
	rows, err := s.db.Query(ctx, query, append(args, p.Limit, p.Offset)...)
	if err != nil {
		return nil, fmt.Errorf("list providers: %w", err)
	}
	defer rows.Close()

	items := []Provider{}
	for rows.Next() {
		prov, err := scanProvider(rows)
		if err != nil {
			return nil, fmt.Errorf("scan provider: %w", err)
		}
		items = append(items, *prov)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate providers: %w", err)
	}

	return &ListResult{Items: items, Total: int(total), Offset: p.Offset, Limit: p.Limit}, nil
}

// Create inserts a provider. It becomes primary when requested or when no
// other live provider of its organisation and type exists; other primaries
// are demoted in the same transaction.
func (s *Store) Create(ctx context.Context, in Input) (*Provider, error) {
	if err := in.Validate(); err != nil {
		return nil, apperror.Wrap(apperror.Validation, "invalid provider", err)
	}

	settings, err := json.Marshal(in.Settings)
	if err != nil {
		return nil, fmt.Errorf("marshal settings: %w", err)
	}

	id := uuid.New()
	var created *Provider
	err = storage.WithTx(ctx, s.db, func(tx pgx.Tx) error {
		primary, err := s.prepareWrite(ctx, tx, id, in)
		if err != nil {
			return err
		}

		created, err = scanProvider(tx.QueryRow(ctx,
			`INSERT INTO providers (id, organisation_id, type, kind, name, from_address, from_name, settings, is_primary, throttle)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
RETURNING `+providerColumns,
			id, in.OrganisationID, string(in.Type), string(in.Kind), in.Name, in.FromAddress, in.FromName,
			settings, primary, in.throttle()))
		if err != nil {
			return fmt.Errorf("insert provider: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, classifyWriteError(err)
	}

	s.log.Info().
		Stringer("provider_id", created.ID).
		Stringer("organisation_id", created.OrganisationID).
		Str("type", string(created.Type)).
		Bool("primary", created.Primary).
		Msg("provider created")
	return created, nil
}

// Update replaces the mutable fields of a live provider. Organisation and
// type cannot change. Primary assignment follows the same rule as Create.
func (s *Store) Update(ctx context.Context, id uuid.UUID, in Input) (*Provider, error) {
	var (
		orgID   uuid.UUID
		typeStr string
	)
	err := s.db.QueryRow(ctx,
		`SELECT organisation_id, type FROM providers WHERE id = $1 AND deleted_at IS NULL`, id).
		Scan(&orgID, &typeStr)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get provider %s: %w", id, err)
	}

	in.OrganisationID = orgID
	in.Type = Type(typeStr)
	if err := in.Validate(); err != nil {
		return nil, apperror.Wrap(apperror.Validation, "invalid provider", err)
	}

	settings, err := json.Marshal(in.Settings)
	if err != nil {
		return nil, fmt.Errorf("marshal settings: %w", err)
	}

	var updated *Provider
	err = storage.WithTx(ctx, s.db, func(tx pgx.Tx) error {
		primary, err := s.prepareWrite(ctx, tx, id, in)
		if err != nil {
			return err
		}

		updated, err = scanProvider(tx.QueryRow(ctx,
			`UPDATE providers
SET kind = $2, name = $3, from_address = $4, from_name = $5, settings = $6, is_primary = $7, throttle = $8, updated_at = now()
WHERE id = $1 AND deleted_at IS NULL
RETURNING `+providerColumns,
			id, string(in.Kind), in.Name, in.FromAddress, in.FromName, settings, primary, in.throttle()))
		if errors.Is(err, pgx.ErrNoRows) {
			return ErrNotFound
		}
		if err != nil {
			return fmt.Errorf("update provider: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, classifyWriteError(err)
	}

	s.log.Info().
		Stringer("provider_id", updated.ID).
		Bool("primary", updated.Primary).
		Msg("provider updated")
	return updated, nil
}

// prepareWrite serialises writers of one (organisation, type), rejects
// duplicates, decides whether the row being written is primary and demotes
// the other primaries when it is.
func (s *Store) prepareWrite(ctx context.Context, tx pgx.Tx, id uuid.UUID, in Input) (bool, error) {
	lockKey := in.OrganisationID.String() + ":" + string(in.Type)
	if _, err := tx.Exec(ctx, `SELECT pg_advisory_xact_lock(hashtext($1))`, lockKey); err != nil {
		return false, fmt.Errorf("lock providers: %w", err)
	}

	var duplicate bool
	if err := tx.QueryRow(ctx,
		`SELECT EXISTS (
    SELECT 1 FROM providers
    WHERE organisation_id = $1 AND type = $2 AND deleted_at IS NULL AND id <> $3
      AND (lower(name) = lower($4) OR ($5 <> '' AND lower(from_address) = lower($5)))
)`, in.OrganisationID, string(in.Type), id, in.Name, in.FromAddress).Scan(&duplicate); err != nil {
		return false, fmt.Errorf("check duplicate provider: %w", err)
	}
	if duplicate {
		return false, ErrDuplicate
	}

	var others bool
	if err := tx.QueryRow(ctx,
		`SELECT EXISTS (
    SELECT 1 FROM providers
    WHERE organisation_id = $1 AND type = $2 AND deleted_at IS NULL AND id <> $3
)`, in.OrganisationID, string(in.Type), id).Scan(&others); err != nil {
		return false, fmt.Errorf("check other providers: %w", err)
	}

	primary := in.Primary || !others
	if primary {
		if _, err := tx.Exec(ctx,
			`UPDATE providers SET is_primary = false, updated_at = now()
WHERE organisation_id = $1 AND type = $2 AND is_primary AND deleted_at IS NULL AND id <> $3`,
			in.OrganisationID, string(in.Type), id); err != nil {
			return false, fmt.Errorf("demote primary providers: %w", err)
		}
	}
	return primary, nil
}

// Delete soft-deletes a live provider. A deleted primary is not replaced.
func (s *Store) Delete(ctx context.Context, id uuid.UUID) error {
	tag, err := s.db.Exec(ctx,
		`UPDATE providers SET deleted_at = now(), updated_at = now() WHERE id = $1 AND deleted_at IS NULL`, id)
	if err != nil {
		return fmt.Errorf("delete provider %s: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	s.log.Info().Stringer("provider_id", id).Msg("provider deleted")
	return nil
}

func classifyWriteError(err error) error {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == "23505" {
		return apperror.Wrap(apperror.Conflict, "concurrent primary provider update", err)
	}
	return err
}

func scanProvider(row pgx.Row) (*Provider, error) {
	var (
		p        Provider
		typ      string
		kind     string
		settings []byte
	)
	if err := row.Scan(&p.ID, &p.OrganisationID, &typ, &kind, &p.Name, &p.FromAddress, &p.FromName,
		&settings, &p.Primary, &p.Throttle, &p.CreatedAt, &p.UpdatedAt, &p.DeletedAt); err != nil {
		return nil, err
	}
	p.Type = Type(typ)
	p.Kind = Kind(kind)
	if len(settings) > 0 {
		if err := json.Unmarshal(settings, &p.Settings); err != nil {
			return nil, fmt.Errorf("decode settings of provider %s: %w", p.ID, err)
		}
	}
	return &p, nil
}
