package transport

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"testing"

	"github.com/sungwon/govnotify/internal/httpclient"
	"github.com/sungwon/govnotify/internal/message"
	"github.com/sungwon/govnotify/internal/provider"
)

func smsProvider() *provider.Provider {
	return &provider.Provider{
		Name: "gateway",
		Type: provider.TypeSMS,
		Kind: provider.KindHTTP,
		Settings: provider.Settings{
			Endpoint: "https://sms.example/send",
			APIKey:   "sms-key",
			SenderID: "CITY",
		},
	}
}

func TestHTTPSMS_Send(t *testing.T) {
	var got *httpclient.Request
	client := httpclient.DoerFunc(func(_ context.Context, req *httpclient.Request) (*httpclient.Response, error) {
		got = req
		return &httpclient.Response{StatusCode: http.StatusAccepted}, nil
	})
	s := NewHTTPSMS(smsProvider(), client)

	msg := testMessage()
	msg.SMSBody = "Permit renewed"
	if err := s.Send(context.Background(), msg, testAddress()); err != nil {
		t.Fatalf("expected no error, got %v", err)
	}

	if got.Method != http.MethodPost || got.URL != "https://sms.example/send" {
		t.Errorf("unexpected request %s %s", got.Method, got.URL)
	}
	if got.Headers["Authorization"] != "Bearer sms-key" {
		t.Errorf("unexpected auth header %q", got.Headers["Authorization"])
	}

	var body smsRequest
	if err := json.Unmarshal(got.Body, &body); err != nil {
		t.Fatalf("invalid body: %v", err)
	}
	if body.To != "+4915112345678" || body.From != "CITY" || body.Message != "Permit renewed" {
		t.Errorf("unexpected body %+v", body)
	}
	if body.Reference != msg.ID.String() {
		t.Errorf("expected reference %s, got %s", msg.ID, body.Reference)
	}
}

func TestHTTPSMS_Text(t *testing.T) {
	msg := testMessage()
	addr := testAddress()

	if got := smsText(msg, addr); got != msg.Subject {
		t.Errorf("expected subject fallback, got %q", got)
	}

	msg.SecurityLevel = message.SecurityHigh
	msg.SMSBody = "secret details"
	got := smsText(msg, addr)
	if strings.Contains(got, "secret") || !strings.Contains(got, "City Council") {
		t.Errorf("expected notice only, got %q", got)
	}

	msg.SecurityLevel = message.SecurityStandard
	msg.SMSBody = strings.Repeat("x", maxSMSLength+10)
	if got := smsText(msg, addr); len(got) != maxSMSLength {
		t.Errorf("expected truncation to %d, got %d", maxSMSLength, len(got))
	}
}

func TestHTTPSMS_ErrorStatus(t *testing.T) {
	client := httpclient.DoerFunc(func(context.Context, *httpclient.Request) (*httpclient.Response, error) {
		return &httpclient.Response{StatusCode: http.StatusBadRequest, Body: []byte(`{"error":"invalid number"}`)}, nil
	})
	s := NewHTTPSMS(smsProvider(), client)

	err := s.Send(context.Background(), testMessage(), testAddress())
	if !httpclient.IsPermanent(err) {
		t.Errorf("expected permanent status error, got %v", err)
	}
}

func TestHTTPSMS_TransportError(t *testing.T) {
	boom := errors.New("connection reset")
	client := httpclient.DoerFunc(func(context.Context, *httpclient.Request) (*httpclient.Response, error) {
		return nil, boom
	})
	s := NewHTTPSMS(smsProvider(), client)

	if err := s.Send(context.Background(), testMessage(), testAddress()); !errors.Is(err, boom) {
		t.Errorf("expected wrapped transport error, got %v", err)
	}
}

func TestHTTPSMS_CanSend(t *testing.T) {
	s := NewHTTPSMS(smsProvider(), nil)
	if s.CanSend(testMessage(), Address{Email: "a@b.c"}) {
		t.Error("expected no phone to be rejected")
	}
	if !s.CanSend(testMessage(), testAddress()) {
		t.Error("expected phone recipient to be accepted")
	}
}
