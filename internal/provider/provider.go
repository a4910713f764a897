// Package provider stores per-organisation transport provider
// configuration and resolves the provider to use for a transport type.
package provider

import (
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Type is a transport type a provider serves.
type Type string

const (
	TypeEmail Type = "email"
	TypeSMS   Type = "sms"
	// TypeLifeEvent marks a message as platform-only. It never has a provider.
	TypeLifeEvent Type = "lifeEvent"
)

// Valid reports whether t can be configured with a provider.
func (t Type) Valid() bool {
	return t == TypeEmail || t == TypeSMS
}

// Kind selects the transport implementation built for a provider.
type Kind string

const (
	KindSMTP   Kind = "smtp"
	KindHTTP   Kind = "http"
	KindStdout Kind = "stdout"
)

// DefaultThrottle is the sends-per-second limit applied when none is given.
const DefaultThrottle = 10

// Settings holds the connection parameters of a provider, stored as JSONB.
type Settings struct {
	Host     string `json:"host,omitempty"`
	Port     int    `json:"port,omitempty"`
	Username string `json:"username,omitempty"`
	Password string `json:"password,omitempty"`
	Endpoint string `json:"endpoint,omitempty"`
	APIKey   string `json:"apiKey,omitempty"`
	SenderID string `json:"senderId,omitempty"`
	UseTLS   bool   `json:"useTls,omitempty"`
	// StartTLS upgrades a plain connection and fails when the server does
	// not offer STARTTLS. Ignored with UseTLS.
	StartTLS bool `json:"startTls,omitempty"`
}

// Provider is one configured provider, or the built-in default when
// IsDefault is set.
type Provider struct {
	ID             uuid.UUID  `json:"id"`
	OrganisationID uuid.UUID  `json:"organisationId"`
	Type           Type       `json:"type"`
	Kind           Kind       `json:"kind"`
	Name           string     `json:"name"`
	FromAddress    string     `json:"fromAddress"`
	FromName       string     `json:"fromName"`
	Settings       Settings   `json:"settings"`
	Primary        bool       `json:"primary"`
	Throttle       int        `json:"throttle"`
	IsDefault      bool       `json:"isDefault,omitempty"`
	CreatedAt      time.Time  `json:"createdAt"`
	UpdatedAt      time.Time  `json:"updatedAt"`
	DeletedAt      *time.Time `json:"deletedAt,omitempty"`
}

// Input is the body accepted by Create and Update. OrganisationID and Type
// are ignored by Update.
type Input struct {
	OrganisationID uuid.UUID `json:"organisationId"`
	Type           Type      `json:"type"`
	Kind           Kind      `json:"kind"`
	Name           string    `json:"name"`
	FromAddress    string    `json:"fromAddress"`
	FromName       string    `json:"fromName"`
	Settings       Settings  `json:"settings"`
	Primary        bool      `json:"primary"`
	Throttle       int       `json:"throttle"`
}

// Validate checks the fields required for the provider's type and kind.
func (in *Input) Validate() error {
	var errs []error

	in.Name = strings.TrimSpace(in.Name)
	in.FromAddress = strings.TrimSpace(in.FromAddress)

	if in.OrganisationID == uuid.Nil {
		errs = append(errs, errors.New("organisationId is required"))
	}
	if !in.Type.Valid() {
		errs = append(errs, errors.New("type must be email or sms"))
	}
	if in.Name == "" {
		errs = append(errs, errors.New("name is required"))
	}
	if in.Throttle < 0 {
		errs = append(errs, errors.New("throttle must not be negative"))
	}

	switch in.Kind {
	case KindSMTP:
		if in.Type != TypeEmail {
			errs = append(errs, errors.New("smtp providers must be of type email"))
		}
		if in.Settings.Host == "" {
			errs = append(errs, errors.New("smtp: settings.host is required"))
		}
		if in.FromAddress == "" {
			errs = append(errs, errors.New("smtp: fromAddress is required"))
		}
	case KindHTTP:
		if in.Type != TypeSMS {
			errs = append(errs, errors.New("http providers must be of type sms"))
		}
		if in.Settings.Endpoint == "" {
			errs = append(errs, errors.New("http: settings.endpoint is required"))
		}
	case KindStdout:
		// No configuration required.
	default:
		errs = append(errs, errors.New("kind must be smtp, http or stdout"))
	}

	return errors.Join(errs...)
}

func (in Input) throttle() int {
	if in.Throttle == 0 {
		return DefaultThrottle
	}
	return in.Throttle
}
