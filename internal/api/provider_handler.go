package api

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/google/uuid"
	"github.com/sungwon/govnotify/internal/provider"
)

// ProviderStore manages provider configuration.
type ProviderStore interface {
	Get(ctx context.Context, id uuid.UUID) (*provider.Provider, error)
	List(ctx context.Context, f provider.Filter, p provider.Page) (*provider.ListResult, error)
	Create(ctx context.Context, in provider.Input) (*provider.Provider, error)
	Update(ctx context.Context, id uuid.UUID, in provider.Input) (*provider.Provider, error)
	Delete(ctx context.Context, id uuid.UUID) error
}

// providerListResponse mirrors provider.ListResult with redacted items.
type providerListResponse struct {
	Items  []provider.Provider `json:"items"`
	Total  int                 `json:"totalCount"`
	Offset int                 `json:"offset"`
	Limit  int                 `json:"limit"`
}

// redactedSecret replaces stored credentials in responses.
const redactedSecret = "********"

// redact strips credentials before a provider is returned to a client.
func redact(p provider.Provider) provider.Provider {
	if p.Settings.Password != "" {
		p.Settings.Password = redactedSecret
	}
	if p.Settings.APIKey != "" {
		p.Settings.APIKey = redactedSecret
	}
	return p
}

// keepSecret returns the stored credential when an update leaves it blank
// or echoes the redacted value back.
func keepSecret(in, stored string) string {
	if in == "" || in == redactedSecret {
		return stored
	}
	return in
}

// CreateProviderHandler handles POST /api/v1/organisations/{orgId}/providers.
func CreateProviderHandler(store ProviderStore) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		orgID, ok := uuidParam(w, r, "orgId")
		if !ok {
			return
		}

		var in provider.Input
		if err := json.NewDecoder(r.Body).Decode(&in); err != nil {
			respondError(w, http.StatusBadRequest, "invalid request body")
			return
		}
		in.OrganisationID = orgID

		p, err := store.Create(r.Context(), in)
		if err != nil {
			respondErr(w, r, err)
			return
		}
		respondJSON(w, http.StatusCreated, redact(*p))
	}
}

// ListProvidersHandler handles GET /api/v1/organisations/{orgId}/providers.
func ListProvidersHandler(store ProviderStore) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		orgID, ok := uuidParam(w, r, "orgId")
		if !ok {
			return
		}

		var p provider.Page
		if p.Offset, ok = queryInt(r, "offset"); !ok {
			respondError(w, http.StatusBadRequest, "offset must be an integer")
			return
		}
		if p.Limit, ok = queryInt(r, "limit"); !ok {
			respondError(w, http.StatusBadRequest, "limit must be an integer")
			return
		}

		res, err := store.List(r.Context(), provider.Filter{
			OrganisationID: orgID,
			Type:           provider.Type(r.URL.Query().Get("type")),
		}, p)
		if err != nil {
			respondErr(w, r, err)
			return
		}

		items := make([]provider.Provider, 0, len(res.Items))
		for _, item := range res.Items {
			items = append(items, redact(item))
		}
		respondJSON(w, http.StatusOK, providerListResponse{
			Items:  items,
			Total:  res.Total,
			Offset: res.Offset,
			Limit:  res.Limit,
		})
	}
}

// GetProviderHandler handles GET /api/v1/organisations/{orgId}/providers/{id}.
func GetProviderHandler(store ProviderStore) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		p, ok := ownedProvider(w, r, store)
		if !ok {
			return
		}
		respondJSON(w, http.StatusOK, redact(*p))
	}
}

// UpdateProviderHandler handles PUT /api/v1/organisations/{orgId}/providers/{id}.
func UpdateProviderHandler(store ProviderStore) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		existing, ok := ownedProvider(w, r, store)
		if !ok {
			return
		}

		var in provider.Input
		if err := json.NewDecoder(r.Body).Decode(&in); err != nil {
			respondError(w, http.StatusBadRequest, "invalid request body")
			return
		}
		in.Settings.Password = keepSecret(in.Settings.Password, existing.Settings.Password)
		in.Settings.APIKey = keepSecret(in.Settings.APIKey, existing.Settings.APIKey)

		p, err := store.Update(r.Context(), existing.ID, in)
		if err != nil {
			respondErr(w, r, err)
			return
		}
		respondJSON(w, http.StatusOK, redact(*p))
	}
}

// DeleteProviderHandler handles DELETE /api/v1/organisations/{orgId}/providers/{id}.
func DeleteProviderHandler(store ProviderStore) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		existing, ok := ownedProvider(w, r, store)
		if !ok {
			return
		}

		if err := store.Delete(r.Context(), existing.ID); err != nil {
			respondErr(w, r, err)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}
}

// ownedProvider loads the provider named by the URL and answers 404 when it
// belongs to another organisation.
func ownedProvider(w http.ResponseWriter, r *http.Request, store ProviderStore) (*provider.Provider, bool) {
	orgID, ok := uuidParam(w, r, "orgId")
	if !ok {
		return nil, false
	}
	id, ok := uuidParam(w, r, "id")
	if !ok {
		return nil, false
	}

	p, err := store.Get(r.Context(), id)
	if err != nil {
		respondErr(w, r, err)
		return nil, false
	}
	if p.OrganisationID != orgID {
		respondErr(w, r, provider.ErrNotFound)
		return nil, false
	}
	return p, true
}
