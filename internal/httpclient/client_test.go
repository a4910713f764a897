package httpclient

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func TestClient_Do(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "Bearer tok" {
			t.Errorf("expected bearer header, got %q", r.Header.Get("Authorization"))
		}
		body, _ := io.ReadAll(r.Body)
		w.Header().Set("X-Echo", "yes")
		w.WriteHeader(http.StatusAccepted)
		w.Write(body)
	}))
	defer srv.Close()

	resp, err := New(5*time.Second).Do(context.Background(), &Request{
		Method:  http.MethodPost,
		URL:     srv.URL,
		Headers: map[string]string{"Authorization": "Bearer tok"},
		Body:    []byte(`{"ping":true}`),
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if resp.StatusCode != http.StatusAccepted || !resp.OK() {
		t.Errorf("expected 202, got %d", resp.StatusCode)
	}
	if string(resp.Body) != `{"ping":true}` {
		t.Errorf("unexpected body %q", resp.Body)
	}
	if resp.Headers["X-Echo"] != "yes" {
		t.Errorf("expected echoed header, got %v", resp.Headers)
	}
}

func TestClient_DoHonoursContext(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		<-r.Context().Done()
	}))
	defer srv.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	_, err := New(5*time.Second).Do(ctx, &Request{Method: http.MethodGet, URL: srv.URL})
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("expected deadline exceeded, got %v", err)
	}
}

func TestClassify(t *testing.T) {
	tests := []struct {
		code     int
		wantNil  bool
		wantPerm bool
	}{
		{200, true, false},
		{204, true, false},
		{400, false, true},
		{401, false, true},
		{404, false, true},
		{408, false, false},
		{429, false, false},
		{500, false, false},
		{503, false, false},
	}

	for _, tt := range tests {
		t.Run(fmt.Sprintf("status %d", tt.code), func(t *testing.T) {
			err := Classify("scheduler", &Response{StatusCode: tt.code, Body: []byte("body")})
			if tt.wantNil {
				if err != nil {
					t.Fatalf("expected nil, got %v", err)
				}
				return
			}
			if err == nil {
				t.Fatal("expected error")
			}
			if IsPermanent(err) != tt.wantPerm {
				t.Errorf("expected permanent=%v", tt.wantPerm)
			}
			if StatusCode(fmt.Errorf("wrapped: %w", err)) != tt.code {
				t.Errorf("expected status %d through wrapping", tt.code)
			}
		})
	}
}
