// Package directory resolves citizen profiles and organisations from the
// user directory service, caching organisations in Redis.
package directory

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/sungwon/govnotify/internal/apperror"
	"github.com/sungwon/govnotify/internal/httpclient"
	"github.com/sungwon/govnotify/internal/metrics"
)

var (
	ErrProfileNotFound      = apperror.New(apperror.NotFound, "recipient not found")
	ErrOrganisationNotFound = apperror.New(apperror.NotFound, "organisation not found")
)

// Profile is the part of a user profile delivery needs.
type Profile struct {
	ID    uuid.UUID `json:"id"`
	Name  string    `json:"name"`
	Email string    `json:"email"`
	Phone string    `json:"phone"`
	// OptedOut is set when the user withdrew consent to receive messages.
	OptedOut bool `json:"optedOut"`
	// NotifyBySMS is set when the user wants an SMS notice for new messages.
	NotifyBySMS bool `json:"notifyBySms"`
}

// Organisation is a sending organisation.
type Organisation struct {
	ID   uuid.UUID `json:"id"`
	Name string    `json:"name"`
}

// Client calls the directory service over HTTP.
type Client struct {
	baseURL string
	apiKey  string
	http    httpclient.Doer
}

// NewClient creates a Client for the service at baseURL.
func NewClient(baseURL, apiKey string, doer httpclient.Doer) *Client {
	return &Client{baseURL: strings.TrimRight(baseURL, "/"), apiKey: apiKey, http: doer}
}

// GetProfile fetches a user profile.
func (c *Client) GetProfile(ctx context.Context, userID uuid.UUID) (*Profile, error) {
	var p Profile
	if err := c.get(ctx, "/api/v1/profiles/"+userID.String(), ErrProfileNotFound, &p); err != nil {
		return nil, err
	}
	return &p, nil
}

// GetOrganisation fetches an organisation.
func (c *Client) GetOrganisation(ctx context.Context, orgID uuid.UUID) (*Organisation, error) {
	var o Organisation
	if err := c.get(ctx, "/api/v1/organisations/"+orgID.String(), ErrOrganisationNotFound, &o); err != nil {
		return nil, err
	}
	return &o, nil
}

func (c *Client) get(ctx context.Context, path string, notFound error, out any) error {
	headers := map[string]string{"Accept": "application/json"}
	if c.apiKey != "" {
		headers["Authorization"] = "Bearer " + c.apiKey
	}

	resp, err := c.http.Do(ctx, &httpclient.Request{
		Method:  http.MethodGet,
		URL:     c.baseURL + path,
		Headers: headers,
	})
	if err != nil {
		return apperror.Wrap(apperror.Unavailable, "directory unavailable", err)
	}
	if resp.StatusCode == http.StatusNotFound {
		return notFound
	}
	if err := httpclient.Classify("directory", resp); err != nil {
		return apperror.Wrap(apperror.Unavailable, "directory unavailable", err)
	}

	if err := json.Unmarshal(resp.Body, out); err != nil {
		return fmt.Errorf("decode directory response for %s: %w", path, err)
	}
	return nil
}

// OrganisationCache stores organisations by id.
type OrganisationCache interface {
	Get(ctx context.Context, id uuid.UUID) (*Organisation, bool, error)
	Set(ctx context.Context, id uuid.UUID, org *Organisation) error
}

// Directory combines the HTTP client with an optional organisation cache.
type Directory struct {
	client *Client
	cache  OrganisationCache
	log    zerolog.Logger
}

// New creates a Directory. cache may be nil.
func New(client *Client, cache OrganisationCache, log zerolog.Logger) *Directory {
	return &Directory{client: client, cache: cache, log: log}
}

// GetProfile fetches a user profile.
func (d *Directory) GetProfile(ctx context.Context, userID uuid.UUID) (*Profile, error) {
	return d.client.GetProfile(ctx, userID)
}

// GetOrganisationWithCache returns the organisation from the cache, falling
// back to the directory and populating the cache. Cache failures are logged
// and never fail the lookup.
func (d *Directory) GetOrganisationWithCache(ctx context.Context, orgID uuid.UUID) (*Organisation, error) {
	if d.cache != nil {
		org, ok, err := d.cache.Get(ctx, orgID)
		switch {
		case err != nil:
			metrics.OrganisationCacheTotal.WithLabelValues("error").Inc()
			d.log.Warn().Err(err).Stringer("organisation_id", orgID).Msg("organisation cache read failed")
		case ok:
			metrics.OrganisationCacheTotal.WithLabelValues("hit").Inc()
			return org, nil
		default:
			metrics.OrganisationCacheTotal.WithLabelValues("miss").Inc()
		}
	}

	org, err := d.client.GetOrganisation(ctx, orgID)
	if err != nil {
		return nil, err
	}

	if d.cache != nil {
		if err := d.cache.Set(ctx, orgID, org); err != nil {
			d.log.Warn().Err(err).Stringer("organisation_id", orgID).Msg("organisation cache write failed")
		}
	}
	return org, nil
}
