package scheduler

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"

	"github.com/rs/zerolog"
	"github.com/sungwon/govnotify/internal/httpclient"
	"github.com/sungwon/govnotify/internal/metrics"
)

// HTTPScheduler posts tasks to the scheduler service's task endpoint.
type HTTPScheduler struct {
	url    string
	apiKey string
	http   httpclient.Doer
	log    zerolog.Logger
}

// NewHTTPScheduler creates an HTTPScheduler. doer is normally a
// *httpclient.BreakerDoer.
func NewHTTPScheduler(baseURL, apiKey string, doer httpclient.Doer, log zerolog.Logger) *HTTPScheduler {
	return &HTTPScheduler{
		url:    strings.TrimRight(baseURL, "/") + "/api/v1/tasks",
		apiKey: apiKey,
		http:   doer,
		log:    log,
	}
}

type scheduleRequest struct {
	Tasks []Task `json:"tasks"`
}

// ScheduleTasks submits all tasks in one request.
func (s *HTTPScheduler) ScheduleTasks(ctx context.Context, tasks []Task) error {
	if len(tasks) == 0 {
		return nil
	}

	body, err := json.Marshal(scheduleRequest{Tasks: tasks})
	if err != nil {
		return fmt.Errorf("marshal tasks: %w", err)
	}

	headers := map[string]string{"Content-Type": "application/json"}
	if s.apiKey != "" {
		headers["Authorization"] = "Bearer " + s.apiKey
	}

	resp, err := s.http.Do(ctx, &httpclient.Request{
		Method:  http.MethodPost,
		URL:     s.url,
		Headers: headers,
		Body:    body,
	})
	if err == nil {
		err = httpclient.Classify("scheduler", resp)
	}
	if err != nil {
		metrics.SchedulerCallsTotal.WithLabelValues(BackendHTTP, "error").Inc()
		s.log.Error().Err(err).Int("tasks", len(tasks)).Msg("schedule tasks failed")
		return fmt.Errorf("schedule tasks: %w", err)
	}

	metrics.SchedulerCallsTotal.WithLabelValues(BackendHTTP, "ok").Inc()
	s.log.Debug().Int("tasks", len(tasks)).Msg("tasks scheduled")
	return nil
}
