package httpclient

import (
	"errors"
	"fmt"
)

// StatusError is a non-2xx response from a remote service.
type StatusError struct {
	Service    string
	StatusCode int
	Body       string
	// Permanent indicates the request will not succeed on retry.
	Permanent bool
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("%s: unexpected status %d: %s", e.Service, e.StatusCode, truncate(e.Body, 256))
}

// Classify returns nil for 2xx responses and a StatusError otherwise. 4xx
// responses other than 408 and 429 are permanent.
func Classify(service string, resp *Response) error {
	if resp.OK() {
		return nil
	}
	return &StatusError{
		Service:    service,
		StatusCode: resp.StatusCode,
		Body:       string(resp.Body),
		Permanent:  isPermanent(resp.StatusCode),
	}
}

func isPermanent(code int) bool {
	switch {
	case code == 408, code == 429:
		return false
	case code >= 400 && code < 500:
		return true
	default:
		return false
	}
}

// IsPermanent reports whether err carries a permanent StatusError.
func IsPermanent(err error) bool {
	var se *StatusError
	if errors.As(err, &se) {
		return se.Permanent
	}
	return false
}

// StatusCode returns the status of a StatusError in err's chain, or 0.
func StatusCode(err error) int {
	var se *StatusError
	if errors.As(err, &se) {
		return se.StatusCode
	}
	return 0
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
