package httpclient

import (
	"context"
	"errors"
	"time"

	"github.com/rs/zerolog"
	"github.com/sony/gobreaker"
)

// BreakerSettings configures a circuit breaker around a remote service.
type BreakerSettings struct {
	// ConsecutiveFailures trips the breaker. Defaults to 5.
	ConsecutiveFailures uint32
	// OpenTimeout is how long the breaker stays open. Defaults to 30s.
	OpenTimeout time.Duration
	// HalfOpenRequests is the number of trial requests allowed while half-open.
	// Defaults to 1.
	HalfOpenRequests uint32
}

// ErrBreakerOpen is returned when the breaker rejects a call without
// contacting the remote service.
var ErrBreakerOpen = errors.New("circuit breaker open")

// BreakerDoer wraps a Doer with a circuit breaker. Transport errors and
// non-permanent error statuses count as failures; permanent 4xx responses
// are returned to the caller without tripping the breaker.
type BreakerDoer struct {
	next    Doer
	service string
	cb      *gobreaker.CircuitBreaker
}

// NewBreakerDoer creates a BreakerDoer for service.
func NewBreakerDoer(next Doer, service string, s BreakerSettings, log zerolog.Logger) *BreakerDoer {
	if s.ConsecutiveFailures == 0 {
		s.ConsecutiveFailures = 5
	}
	if s.OpenTimeout == 0 {
		s.OpenTimeout = 30 * time.Second
	}
	if s.HalfOpenRequests == 0 {
		s.HalfOpenRequests = 1
	}

	cb := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        service,
		MaxRequests: s.HalfOpenRequests,
		Timeout:     s.OpenTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= s.ConsecutiveFailures
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			log.Warn().
				Str("breaker", name).
				Str("from", from.String()).
				Str("to", to.String()).
				Msg("circuit breaker state changed")
		},
		IsSuccessful: func(err error) bool {
			return err == nil || IsPermanent(err)
		},
	})

	return &BreakerDoer{next: next, service: service, cb: cb}
}

// Do executes req through the breaker. Non-2xx responses are returned as a
// *StatusError.
func (b *BreakerDoer) Do(ctx context.Context, req *Request) (*Response, error) {
	res, err := b.cb.Execute(func() (any, error) {
		resp, err := b.next.Do(ctx, req)
		if err != nil {
			return nil, err
		}
		if err := Classify(b.service, resp); err != nil {
			return resp, err
		}
		return resp, nil
	})
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		return nil, errors.Join(ErrBreakerOpen, err)
	}
	resp, _ := res.(*Response)
	return resp, err
}

// State returns the breaker state name.
func (b *BreakerDoer) State() string {
	return b.cb.State().String()
}
