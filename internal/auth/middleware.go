package auth

import (
	"context"
	"errors"
	"net/http"
	"strings"
)

type contextKey string

const clientKey contextKey = "api_client"

var (
	// ErrMissingToken is returned when the request has no Authorization header.
	ErrMissingToken = errors.New("authorization header required")
	// ErrMalformedToken is returned when the header is not "Bearer <token>".
	ErrMalformedToken = errors.New("invalid authorization format, expected Bearer <token>")
)

// ClientFromContext retrieves the authenticated client from the request
// context.
func ClientFromContext(ctx context.Context) (Client, bool) {
	c, ok := ctx.Value(clientKey).(Client)
	return c, ok
}

// WithClient stores the authenticated client in the context.
func WithClient(ctx context.Context, c Client) context.Context {
	return context.WithValue(ctx, clientKey, c)
}

// BearerToken extracts the token of an "Authorization: Bearer <token>"
// header.
func BearerToken(r *http.Request) (string, error) {
	header := r.Header.Get("Authorization")
	if header == "" {
		return "", ErrMissingToken
	}

	parts := strings.SplitN(header, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") || parts[1] == "" {
		return "", ErrMalformedToken
	}
	return parts[1], nil
}

// LookupFunc resolves an API key to its client.
type LookupFunc func(ctx context.Context, apiKey string) (Client, error)

// BearerAuth returns an HTTP middleware that validates Bearer token authentication.
// On success, the client is stored in the request context.
func BearerAuth(lookup LookupFunc) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			apiKey, err := BearerToken(r)
			if err != nil {
				unauthorized(w, err.Error())
				return
			}

			client, err := lookup(r.Context(), apiKey)
			if err != nil {
				unauthorized(w, "invalid API key")
				return
			}

			next.ServeHTTP(w, r.WithContext(WithClient(r.Context(), client)))
		})
	}
}

func unauthorized(w http.ResponseWriter, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("WWW-Authenticate", "Bearer")
	w.WriteHeader(http.StatusUnauthorized)
	_, _ = w.Write([]byte(`{"error":"` + msg + `"}`))
}
