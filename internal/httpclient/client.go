// Package httpclient is the small HTTP seam shared by the outbound clients
// (directory, scheduler, relay, HTTP SMS transport).
package httpclient

import (
	"bytes"
	"context"
	"io"
	"net/http"
	"time"
)

// Doer executes HTTP requests. Tests substitute a func-backed fake.
type Doer interface {
	Do(ctx context.Context, req *Request) (*Response, error)
}

// Request is an outgoing HTTP request.
type Request struct {
	Method  string
	URL     string
	Headers map[string]string
	Body    []byte
}

// Response is a fully read HTTP response.
type Response struct {
	StatusCode int
	Headers    map[string]string
	Body       []byte
}

// OK reports whether the status code is 2xx.
func (r *Response) OK() bool {
	return r.StatusCode >= 200 && r.StatusCode < 300
}

// Client wraps net/http.Client to implement Doer.
type Client struct {
	client *http.Client
}

// New creates a Client with the given timeout.
func New(timeout time.Duration) *Client {
	return &Client{client: &http.Client{Timeout: timeout}}
}

// Do executes req and reads the whole response body.
func (c *Client) Do(ctx context.Context, req *Request) (*Response, error) {
	httpReq, err := http.NewRequestWithContext(ctx, req.Method, req.URL, bytes.NewReader(req.Body))
	if err != nil {
		return nil, err
	}
	for k, v := range req.Headers {
		httpReq.Header.Set(k, v)
	}

	resp, err := c.client.Do(httpReq)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}

	headers := make(map[string]string, len(resp.Header))
	for k := range resp.Header {
		headers[k] = resp.Header.Get(k)
	}

	return &Response{
		StatusCode: resp.StatusCode,
		Headers:    headers,
		Body:       body,
	}, nil
}

// DoerFunc adapts a function to Doer.
type DoerFunc func(ctx context.Context, req *Request) (*Response, error)

// Do calls f.
func (f DoerFunc) Do(ctx context.Context, req *Request) (*Response, error) {
	return f(ctx, req)
}
