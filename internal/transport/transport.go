// Package transport sends messages over a provider's channel. A Factory
// builds one Transport per provider configuration.
package transport

import (
	"context"
	"errors"

	"github.com/sungwon/govnotify/internal/message"
)

// ErrUnsupportedKind is returned when a provider's kind has no
// implementation.
var ErrUnsupportedKind = errors.New("transport: unsupported provider kind")

// Address is where a message is sent for one recipient.
type Address struct {
	Name  string
	Email string
	Phone string
	// Organisation is the display name of the sending organisation.
	Organisation string
}

// Transport delivers a message over one channel.
type Transport interface {
	// Name identifies the provider behind the transport in logs.
	Name() string
	// CanSend reports whether msg can be sent to addr, for example whether
	// the recipient has an address for this channel.
	CanSend(msg *message.Message, addr Address) bool
	// Send delivers msg to addr.
	Send(ctx context.Context, msg *message.Message, addr Address) error
}
