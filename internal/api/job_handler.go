package api

import (
	"context"
	"net/http"

	"github.com/google/uuid"
	"github.com/sungwon/govnotify/internal/auth"
)

// JobExecutor runs a delivery job.
type JobExecutor interface {
	ExecuteJob(ctx context.Context, jobID uuid.UUID, token string) error
}

// ExecuteJobHandler handles POST /api/v1/jobs/{id}/execute. The bearer token
// is the job's own token, issued when the message was created.
func ExecuteJobHandler(exec JobExecutor) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, ok := uuidParam(w, r, "id")
		if !ok {
			return
		}

		token, err := auth.BearerToken(r)
		if err != nil {
			w.Header().Set("WWW-Authenticate", "Bearer")
			respondError(w, http.StatusUnauthorized, err.Error())
			return
		}

		if err := exec.ExecuteJob(r.Context(), id, token); err != nil {
			respondErr(w, r, err)
			return
		}
		respondJSON(w, http.StatusOK, map[string]string{
			"jobId":  id.String(),
			"status": "delivered",
		})
	}
}
