package api

import (
	"context"
	"net/http"

	"github.com/google/uuid"
	"github.com/sungwon/govnotify/internal/event"
)

// EventQuerier reads the status projection and the event log.
type EventQuerier interface {
	List(ctx context.Context, f event.Filter, p event.Page) (*event.ListResult, error)
	History(ctx context.Context, messageID uuid.UUID) ([]event.Event, error)
}

// ListEventsHandler handles GET /api/v1/events.
//
// Query parameters: organisationId, from, to (RFC 3339), search, status,
// offset, limit.
func ListEventsHandler(q EventQuerier) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var f event.Filter
		if v := r.URL.Query().Get("organisationId"); v != "" {
			id, err := uuid.Parse(v)
			if err != nil {
				respondError(w, http.StatusBadRequest, "invalid organisationId")
				return
			}
			f.OrganisationID = id
		}

		var ok bool
		if f.From, ok = queryTime(r, "from"); !ok {
			respondError(w, http.StatusBadRequest, "from must be an RFC 3339 timestamp")
			return
		}
		if f.To, ok = queryTime(r, "to"); !ok {
			respondError(w, http.StatusBadRequest, "to must be an RFC 3339 timestamp")
			return
		}
		f.Search = r.URL.Query().Get("search")
		f.Status = event.Status(r.URL.Query().Get("status"))

		var p event.Page
		if p.Offset, ok = queryInt(r, "offset"); !ok {
			respondError(w, http.StatusBadRequest, "offset must be an integer")
			return
		}
		if p.Limit, ok = queryInt(r, "limit"); !ok {
			respondError(w, http.StatusBadRequest, "limit must be an integer")
			return
		}

		res, err := q.List(r.Context(), f, p)
		if err != nil {
			respondErr(w, r, err)
			return
		}
		respondJSON(w, http.StatusOK, res)
	}
}

// MessageEventsHandler handles GET /api/v1/events/{messageId}.
func MessageEventsHandler(q EventQuerier) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, ok := uuidParam(w, r, "messageId")
		if !ok {
			return
		}

		events, err := q.History(r.Context(), id)
		if err != nil {
			respondErr(w, r, err)
			return
		}
		respondJSON(w, http.StatusOK, map[string]any{
			"messageId": id,
			"events":    events,
		})
	}
}
