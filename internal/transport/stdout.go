package transport

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"
	"sync"

	"github.com/sungwon/govnotify/internal/message"
	"github.com/sungwon/govnotify/internal/provider"
)

// Stdout writes messages to standard output instead of delivering them.
// It is the default provider kind in development.
type Stdout struct {
	name   string
	kind   provider.Type
	from   string
	mu     sync.Mutex
	writer io.Writer
}

// NewStdout creates a Stdout transport for p.
func NewStdout(p *provider.Provider) *Stdout {
	return newStdoutWriter(p, os.Stdout)
}

func newStdoutWriter(p *provider.Provider, w io.Writer) *Stdout {
	return &Stdout{name: p.Name, kind: p.Type, from: p.FromAddress, writer: w}
}

func (s *Stdout) Name() string { return s.name }

// CanSend requires the recipient address for the provider's channel.
func (s *Stdout) CanSend(_ *message.Message, addr Address) bool {
	if s.kind == provider.TypeSMS {
		return addr.Phone != ""
	}
	return addr.Email != ""
}

// Send prints the message envelope. Bodies of high security messages are
// never printed.
func (s *Stdout) Send(_ context.Context, msg *message.Message, addr Address) error {
	to := addr.Email
	if s.kind == provider.TypeSMS {
		to = addr.Phone
	}

	var b strings.Builder
	fmt.Fprintf(&b, "--- stdout %s transport: message ---\n", s.kind)
	fmt.Fprintf(&b, "ID:      %s\n", msg.ID)
	fmt.Fprintf(&b, "From:    %s\n", s.from)
	fmt.Fprintf(&b, "To:      %s\n", to)
	fmt.Fprintf(&b, "Subject: %s\n", msg.Subject)
	if msg.SecurityLevel == message.SecurityHigh {
		b.WriteString("Body:    (withheld)\n")
	} else {
		fmt.Fprintf(&b, "Body:    (%d bytes)\n", len(msg.Body))
	}
	for _, a := range msg.Attachments {
		fmt.Fprintf(&b, "Attach:  %s (%s)\n", a.Filename, a.ContentType)
	}
	b.WriteString("--- end ---\n")

	s.mu.Lock()
	defer s.mu.Unlock()
	if _, err := io.WriteString(s.writer, b.String()); err != nil {
		return fmt.Errorf("stdout: write: %w", err)
	}
	return nil
}
