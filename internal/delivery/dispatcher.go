// Package delivery fans a message out over its preferred transports.
package delivery

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/sungwon/govnotify/internal/directory"
	"github.com/sungwon/govnotify/internal/event"
	"github.com/sungwon/govnotify/internal/logger"
	"github.com/sungwon/govnotify/internal/message"
	"github.com/sungwon/govnotify/internal/metrics"
	"github.com/sungwon/govnotify/internal/provider"
	"github.com/sungwon/govnotify/internal/transport"
)

// ErrNoTransportSucceeded is the critical error of a dispatch in which no
// transport delivered the message.
var ErrNoTransportSucceeded = errors.New("no transport succeeded")

// ProviderResolver returns the provider to use for a transport type.
type ProviderResolver interface {
	GetPrimaryOrDefault(ctx context.Context, orgID uuid.UUID, t provider.Type) (*provider.Provider, error)
}

// TransportBuilder builds the transport for a provider.
type TransportBuilder interface {
	Build(p *provider.Provider) (transport.Transport, error)
}

// Outcome is the result of one dispatch.
type Outcome struct {
	Sent    []provider.Type
	Skipped []provider.Type
	// Errors are the non-critical per-transport failures.
	Errors []error
	// Critical is set when the job must fail.
	Critical error
}

// Dispatcher sends messages over their preferred transports, one after the
// other.
type Dispatcher struct {
	providers  ProviderResolver
	transports TransportBuilder
	log        zerolog.Logger
}

// NewDispatcher creates a Dispatcher.
func NewDispatcher(providers ProviderResolver, transports TransportBuilder, log zerolog.Logger) *Dispatcher {
	return &Dispatcher{providers: providers, transports: transports, log: log}
}

// AddressFor is the delivery address of recipient for messages from org.
func AddressFor(recipient *directory.Profile, org *directory.Organisation) transport.Address {
	addr := transport.Address{
		Name:  recipient.Name,
		Email: recipient.Email,
		Phone: recipient.Phone,
	}
	if org != nil {
		addr.Organisation = org.Name
	}
	return addr
}

// Dispatch sends msg over each preferred transport except lifeEvent. A
// transport whose provider cannot be resolved, or which cannot send to the
// recipient, is skipped. Send failures are recorded and dispatch continues.
// The dispatch succeeds when at least one transport sent the message, or
// when no external transport was requested.
func (d *Dispatcher) Dispatch(ctx context.Context, msg *message.Message, recipient *directory.Profile, org *directory.Organisation, batch *event.Batch) Outcome {
	log := logger.Enrich(ctx, d.log).With().Str("message_id", msg.ID.String()).Logger()
	addr := AddressFor(recipient, org)

	var (
		out       Outcome
		requested int
	)
	for _, t := range msg.PreferredTransports {
		if t == provider.TypeLifeEvent {
			continue
		}
		requested++
		tlog := log.With().Str("transport", string(t)).Logger()

		tr, err := d.resolve(ctx, msg.OrganisationID, t)
		if err != nil {
			tlog.Warn().Err(err).Msg("provider resolution failed, skipping transport")
			skip(&out, t)
			continue
		}
		tlog = tlog.With().Str("provider", tr.Name()).Logger()

		if !tr.CanSend(msg, addr) {
			tlog.Info().Msg("recipient cannot receive over transport, skipping")
			skip(&out, t)
			continue
		}

		if err := tr.Send(ctx, msg, addr); err != nil {
			tlog.Error().Err(err).Msg("transport send failed")
			out.Errors = append(out.Errors, fmt.Errorf("%s via %s: %w", t, tr.Name(), err))
			if t == provider.TypeEmail {
				batch.Log(event.TypeEmailError, msg.Ref(), map[string]any{
					"provider": tr.Name(),
					"error":    err.Error(),
				})
			}
			continue
		}

		tlog.Info().Msg("message sent")
		out.Sent = append(out.Sent, t)
	}

	if requested > 0 && len(out.Sent) == 0 {
		out.Critical = ErrNoTransportSucceeded
	}
	return out
}

// SendNotice sends text as a standalone SMS to the recipient, announcing
// msg. It is used for the SMS side channel.
func (d *Dispatcher) SendNotice(ctx context.Context, msg *message.Message, recipient *directory.Profile, org *directory.Organisation, text string) error {
	tr, err := d.resolve(ctx, msg.OrganisationID, provider.TypeSMS)
	if err != nil {
		return err
	}

	notice := *msg
	notice.SecurityLevel = message.SecurityStandard
	notice.Body = text
	notice.HTMLBody = ""
	notice.SMSBody = text
	notice.Attachments = nil

	addr := AddressFor(recipient, org)
	if !tr.CanSend(&notice, addr) {
		return fmt.Errorf("sms notice: recipient cannot receive sms")
	}
	if err := tr.Send(ctx, &notice, addr); err != nil {
		return fmt.Errorf("sms notice via %s: %w", tr.Name(), err)
	}
	return nil
}

func (d *Dispatcher) resolve(ctx context.Context, orgID uuid.UUID, t provider.Type) (transport.Transport, error) {
	p, err := d.providers.GetPrimaryOrDefault(ctx, orgID, t)
	if err != nil {
		return nil, fmt.Errorf("resolve %s provider: %w", t, err)
	}
	tr, err := d.transports.Build(p)
	if err != nil {
		return nil, fmt.Errorf("build %s transport: %w", t, err)
	}
	return tr, nil
}

func skip(out *Outcome, t provider.Type) {
	out.Skipped = append(out.Skipped, t)
	metrics.TransportSendsTotal.WithLabelValues(string(t), "skipped").Inc()
}
