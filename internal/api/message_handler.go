package api

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/google/uuid"
	"github.com/sungwon/govnotify/internal/auth"
	"github.com/sungwon/govnotify/internal/message"
)

// OnBehalfOfHeader names the directory user an authenticated client creates
// a message for. Without it the client itself is the sender.
const OnBehalfOfHeader = "X-On-Behalf-Of"

// MessageService creates and reads messages.
type MessageService interface {
	ProcessMessage(ctx context.Context, in message.NewMessage, sender message.Sender) (*message.Result, error)
	MarkSeen(ctx context.Context, id uuid.UUID) error
	Get(ctx context.Context, id uuid.UUID) (*message.Message, error)
}

// CreateMessageHandler handles POST /api/v1/messages.
func CreateMessageHandler(svc MessageService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		sender, ok := senderFromRequest(w, r)
		if !ok {
			return
		}

		var req message.NewMessage
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			respondError(w, http.StatusBadRequest, "invalid request body")
			return
		}

		res, err := svc.ProcessMessage(r.Context(), req, sender)
		if err != nil {
			respondErr(w, r, err)
			return
		}
		respondJSON(w, http.StatusCreated, res)
	}
}

// GetMessageHandler handles GET /api/v1/messages/{id}.
func GetMessageHandler(svc MessageService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, ok := uuidParam(w, r, "id")
		if !ok {
			return
		}

		msg, err := svc.Get(r.Context(), id)
		if err != nil {
			respondErr(w, r, err)
			return
		}
		respondJSON(w, http.StatusOK, msg)
	}
}

// MarkSeenHandler handles POST /api/v1/messages/{id}/seen.
func MarkSeenHandler(svc MessageService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, ok := uuidParam(w, r, "id")
		if !ok {
			return
		}

		if err := svc.MarkSeen(r.Context(), id); err != nil {
			respondErr(w, r, err)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}
}

func senderFromRequest(w http.ResponseWriter, r *http.Request) (message.Sender, bool) {
	if v := r.Header.Get(OnBehalfOfHeader); v != "" {
		id, err := uuid.Parse(v)
		if err != nil {
			respondError(w, http.StatusBadRequest, "invalid "+OnBehalfOfHeader+" header")
			return message.Sender{}, false
		}
		return message.Sender{ID: id}, true
	}

	client, ok := auth.ClientFromContext(r.Context())
	if !ok {
		respondError(w, http.StatusUnauthorized, "sender required")
		return message.Sender{}, false
	}
	return message.Sender{ID: client.SenderID, IsMachine: true}, true
}
