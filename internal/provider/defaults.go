package provider

import (
	"github.com/sungwon/govnotify/internal/config"
)

// Defaults holds the organisation-independent fallback provider per
// transport type. It is built once from configuration and never persisted.
type Defaults struct {
	Email Provider
	SMS   Provider
}

// DefaultsFromConfig builds Defaults from the delivery configuration.
func DefaultsFromConfig(cfg config.DeliveryConfig) Defaults {
	return Defaults{
		Email: fromDefault(TypeEmail, cfg.DefaultEmail),
		SMS:   fromDefault(TypeSMS, cfg.DefaultSMS),
	}
}

func fromDefault(t Type, d config.ProviderDefault) Provider {
	p := Provider{
		Type:        t,
		Kind:        Kind(d.Kind),
		Name:        d.Name,
		FromAddress: d.FromAddress,
		FromName:    d.FromName,
		Settings: Settings{
			Host:     d.Host,
			Port:     d.Port,
			Username: d.Username,
			Password: d.Password,
			Endpoint: d.Endpoint,
			APIKey:   d.APIKey,
			SenderID: d.SenderID,
			UseTLS:   d.UseTLS,
			StartTLS: d.StartTLS,
		},
		Throttle: d.Throttle,
	}
	return p
}

// For returns a copy of the default provider for t. Unconfigured types fall
// back to a stdout provider.
func (d Defaults) For(t Type) *Provider {
	var p Provider
	switch t {
	case TypeEmail:
		p = d.Email
	case TypeSMS:
		p = d.SMS
	}

	p.Type = t
	if p.Kind == "" {
		p.Kind = KindStdout
	}
	if p.Name == "" {
		p.Name = "default " + string(t)
	}
	if p.Throttle == 0 {
		p.Throttle = DefaultThrottle
	}
	p.Primary = true
	p.IsDefault = true
	return &p
}
