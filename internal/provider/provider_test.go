package provider

import (
	"strings"
	"testing"

	"github.com/google/uuid"
	"github.com/sungwon/govnotify/internal/config"
)

func TestInput_Validate(t *testing.T) {
	orgID := uuid.New()

	tests := []struct {
		name    string
		in      Input
		wantErr string
	}{
		{"valid smtp", emailInput(orgID), ""},
		{"valid http sms", Input{OrganisationID: orgID, Type: TypeSMS, Kind: KindHTTP, Name: "sms gw", Settings: Settings{Endpoint: "https://sms.example/send"}}, ""},
		{"valid stdout", Input{OrganisationID: orgID, Type: TypeSMS, Kind: KindStdout, Name: "dev"}, ""},
		{"missing org", Input{Type: TypeSMS, Kind: KindStdout, Name: "dev"}, "organisationId is required"},
		{"blank name", Input{OrganisationID: orgID, Type: TypeSMS, Kind: KindStdout, Name: "   "}, "name is required"},
		{"life event has no provider", Input{OrganisationID: orgID, Type: TypeLifeEvent, Kind: KindStdout, Name: "x"}, "type must be email or sms"},
		{"http without endpoint", Input{OrganisationID: orgID, Type: TypeSMS, Kind: KindHTTP, Name: "x"}, "settings.endpoint is required"},
		{"http for email", Input{OrganisationID: orgID, Type: TypeEmail, Kind: KindHTTP, Name: "x", Settings: Settings{Endpoint: "https://mail.example"}}, "must be of type sms"},
		{"smtp for sms", Input{OrganisationID: orgID, Type: TypeSMS, Kind: KindSMTP, Name: "x", FromAddress: "a@b.c", Settings: Settings{Host: "h"}}, "must be of type email"},
		{"unknown kind", Input{OrganisationID: orgID, Type: TypeEmail, Kind: "pigeon", Name: "x"}, "kind must be"},
		{"negative throttle", Input{OrganisationID: orgID, Type: TypeSMS, Kind: KindStdout, Name: "x", Throttle: -1}, "throttle must not be negative"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.in.Validate()
			if tt.wantErr == "" {
				if err != nil {
					t.Fatalf("expected no error, got %v", err)
				}
				return
			}
			if err == nil || !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("expected error containing %q, got %v", tt.wantErr, err)
			}
		})
	}
}

func TestDefaultsFromConfig(t *testing.T) {
	d := DefaultsFromConfig(config.DeliveryConfig{
		DefaultEmail: config.ProviderDefault{
			Kind: "smtp", Name: "relay", FromAddress: "no-reply@notify.gov.example",
			Host: "mail.internal", Port: 2525, Throttle: 50,
		},
	})

	email := d.For(TypeEmail)
	if email.Kind != KindSMTP || email.Settings.Host != "mail.internal" || email.Settings.Port != 2525 {
		t.Errorf("unexpected email default: %+v", email)
	}
	if email.Throttle != 50 {
		t.Errorf("expected throttle 50, got %d", email.Throttle)
	}
	if !email.IsDefault || !email.Primary {
		t.Error("expected default provider to be flagged default and primary")
	}

	sms := d.For(TypeSMS)
	if sms.Kind != KindStdout {
		t.Errorf("expected stdout for unconfigured sms default, got %s", sms.Kind)
	}
	if sms.Throttle != DefaultThrottle {
		t.Errorf("expected default throttle, got %d", sms.Throttle)
	}

	// For returns copies.
	email.Name = "mutated"
	if d.For(TypeEmail).Name != "relay" {
		t.Error("expected For to return an independent copy")
	}
}
