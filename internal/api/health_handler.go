package api

import (
	"context"
	"net/http"
	"sort"
)

// Pinger reports whether a dependency is reachable.
type Pinger interface {
	Ping(ctx context.Context) error
}

// PingerFunc adapts a function to Pinger.
type PingerFunc func(ctx context.Context) error

// Ping implements Pinger.
func (f PingerFunc) Ping(ctx context.Context) error { return f(ctx) }

// HealthzHandler handles GET /healthz.
// Always returns 200 OK with {"status":"ok"}.
func HealthzHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		respondJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	}
}

// ReadyzHandler handles GET /readyz. Every named dependency is pinged; any
// failure answers 503 with a Retry-After header and the failing names.
func ReadyzHandler(checks map[string]Pinger) http.HandlerFunc {
	names := make([]string, 0, len(checks))
	for name := range checks {
		names = append(names, name)
	}
	sort.Strings(names)

	return func(w http.ResponseWriter, r *http.Request) {
		results := make(map[string]string, len(names))
		var failed []string
		for _, name := range names {
			if err := checks[name].Ping(r.Context()); err != nil {
				results[name] = "unavailable"
				failed = append(failed, name)
				continue
			}
			results[name] = "ok"
		}

		if len(failed) > 0 {
			w.Header().Set("Retry-After", "30")
			respondJSON(w, http.StatusServiceUnavailable, map[string]any{
				"status": "unavailable",
				"error":  failed[0] + " unavailable",
				"checks": results,
			})
			return
		}
		respondJSON(w, http.StatusOK, map[string]any{"status": "ok", "checks": results})
	}
}
