// Package api exposes the message, job, event and provider endpoints over
// HTTP.
package api

import (
	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
	"github.com/sungwon/govnotify/internal/auth"
)

// Deps are the services the router dispatches to.
type Deps struct {
	Messages  MessageService
	Jobs      JobExecutor
	Events    EventQuerier
	Providers ProviderStore
	// Ready are the dependencies checked by /readyz, by name.
	Ready map[string]Pinger
	// Authenticate resolves client API keys. When nil the client endpoints
	// are served without authentication.
	Authenticate auth.LookupFunc
	Log          zerolog.Logger
}

// NewRouter creates a chi.Mux with all routes, middleware, and handlers configured.
func NewRouter(d Deps) *chi.Mux {
	r := chi.NewRouter()

	// Global middleware
	r.Use(CorrelationIDMiddleware)
	r.Use(LoggingMiddleware(d.Log))
	r.Use(RecoverMiddleware(d.Log))

	// Health and metrics (no auth required)
	r.Get("/healthz", HealthzHandler())
	r.Get("/readyz", ReadyzHandler(d.Ready))
	r.Handle("/metrics", promhttp.Handler())

	r.Route("/api/v1", func(r chi.Router) {
		// Scheduler callbacks authenticate with the job token.
		r.Post("/jobs/{id}/execute", ExecuteJobHandler(d.Jobs))

		r.Group(func(r chi.Router) {
			if d.Authenticate != nil {
				r.Use(auth.BearerAuth(d.Authenticate))
			}

			r.Post("/messages", CreateMessageHandler(d.Messages))
			r.Get("/messages/{id}", GetMessageHandler(d.Messages))
			r.Post("/messages/{id}/seen", MarkSeenHandler(d.Messages))

			r.Get("/events", ListEventsHandler(d.Events))
			r.Get("/events/{messageId}", MessageEventsHandler(d.Events))

			r.Route("/organisations/{orgId}/providers", func(r chi.Router) {
				r.Post("/", CreateProviderHandler(d.Providers))
				r.Get("/", ListProvidersHandler(d.Providers))
				r.Get("/{id}", GetProviderHandler(d.Providers))
				r.Put("/{id}", UpdateProviderHandler(d.Providers))
				r.Delete("/{id}", DeleteProviderHandler(d.Providers))
			})
		})
	})

	return r
}
