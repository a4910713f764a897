package transport

import (
	"context"
	"crypto/tls"
	"fmt"
	"net"
	"net/mail"
	"strconv"
	"time"

	"github.com/emersion/go-sasl"
	gosmtp "github.com/emersion/go-smtp"

	"github.com/sungwon/govnotify/internal/attachment"
	"github.com/sungwon/govnotify/internal/message"
	"github.com/sungwon/govnotify/internal/provider"
)

const (
	smtpDialTimeout    = 10 * time.Second
	smtpSessionTimeout = 2 * time.Minute
)

// SMTP sends email through an SMTP relay. With UseTLS the connection uses
// implicit TLS; with StartTLS a plain connection is upgraded before AUTH.
type SMTP struct {
	name        string
	addr        string
	useTLS      bool
	startTLS    bool
	tlsConfig   *tls.Config
	username    string
	password    string
	from        mail.Address
	attachments attachment.Store
	now         func() time.Time
}

// NewSMTP creates an SMTP transport for p. attachments may be nil when
// messages never carry attachments.
func NewSMTP(p *provider.Provider, attachments attachment.Store) *SMTP {
	port := p.Settings.Port
	if port == 0 {
		port = 587
		if p.Settings.UseTLS {
			port = 465
		}
	}
	return &SMTP{
		name:        p.Name,
		addr:        net.JoinHostPort(p.Settings.Host, strconv.Itoa(port)),
		useTLS:      p.Settings.UseTLS,
		startTLS:    p.Settings.StartTLS,
		tlsConfig:   &tls.Config{ServerName: p.Settings.Host, MinVersion: tls.VersionTLS12},
		username:    p.Settings.Username,
		password:    p.Settings.Password,
		from:        mail.Address{Name: p.FromName, Address: p.FromAddress},
		attachments: attachments,
		now:         time.Now,
	}
}

func (s *SMTP) Name() string { return s.name }

// CanSend requires a parseable recipient email address.
func (s *SMTP) CanSend(_ *message.Message, addr Address) bool {
	if addr.Email == "" {
		return false
	}
	_, err := mail.ParseAddress(addr.Email)
	return err == nil
}

// Send builds the MIME message and hands it to the relay.
func (s *SMTP) Send(ctx context.Context, msg *message.Message, addr Address) error {
	raw, err := s.build(ctx, msg, addr)
	if err != nil {
		return fmt.Errorf("smtp: build message: %w", err)
	}

	c, err := s.dial(ctx)
	if err != nil {
		return fmt.Errorf("smtp: connect %s: %w", s.addr, err)
	}
	defer c.Close()

	if s.username != "" {
		if err := c.Auth(sasl.NewPlainClient("", s.username, s.password)); err != nil {
			return fmt.Errorf("smtp: auth: %w", err)
		}
	}
	if err := c.Mail(s.from.Address, nil); err != nil {
		return fmt.Errorf("smtp: mail from: %w", err)
	}
	if err := c.Rcpt(addr.Email, nil); err != nil {
		return fmt.Errorf("smtp: rcpt to: %w", err)
	}

	w, err := c.Data()
	if err != nil {
		return fmt.Errorf("smtp: data: %w", err)
	}
	if _, err := w.Write(raw); err != nil {
		w.Close()
		return fmt.Errorf("smtp: write data: %w", err)
	}
	if err := w.Close(); err != nil {
		return fmt.Errorf("smtp: data: %w", err)
	}
	return c.Quit()
}

// dial connects to the relay. The whole SMTP session must finish before
// ctx's deadline, or within smtpSessionTimeout when ctx has none.
func (s *SMTP) dial(ctx context.Context) (*gosmtp.Client, error) {
	dialCtx, cancel := context.WithTimeout(ctx, smtpDialTimeout)
	defer cancel()

	var (
		conn net.Conn
		err  error
	)
	if s.useTLS {
		d := &tls.Dialer{Config: s.tlsConfig.Clone()}
		conn, err = d.DialContext(dialCtx, "tcp", s.addr)
	} else {
		var d net.Dialer
		conn, err = d.DialContext(dialCtx, "tcp", s.addr)
	}
	if err != nil {
		return nil, err
	}

	deadline, ok := ctx.Deadline()
	if !ok {
		deadline = time.Now().Add(smtpSessionTimeout)
	}
	_ = conn.SetDeadline(deadline)

	if s.useTLS || !s.startTLS {
		return gosmtp.NewClient(conn), nil
	}
	// NewClientStartTLS closes conn on failure.
	c, err := gosmtp.NewClientStartTLS(conn, s.tlsConfig.Clone())
	if err != nil {
		return nil, fmt.Errorf("starttls: %w", err)
	}
	return c, nil
}

func (s *SMTP) build(ctx context.Context, msg *message.Message, addr Address) ([]byte, error) {
	e := &email{
		From:      s.from,
		To:        mail.Address{Name: addr.Name, Address: addr.Email},
		Subject:   msg.Subject,
		MessageID: msg.ID.String() + "@" + domainOf(s.from.Address),
		Date:      s.now().UTC(),
	}

	if msg.SecurityLevel == message.SecurityHigh {
		e.Text = noticeText(addr.Organisation)
		return e.bytes()
	}

	e.Text = msg.Body
	e.HTML = msg.HTMLBody
	for _, a := range msg.Attachments {
		if s.attachments == nil {
			return nil, fmt.Errorf("attachment %s: no attachment store configured", a.ID)
		}
		data, err := s.attachments.Get(ctx, a.ID)
		if err != nil {
			return nil, fmt.Errorf("attachment %s: %w", a.ID, err)
		}
		e.Attachments = append(e.Attachments, file{Name: a.Filename, ContentType: a.ContentType, Data: data})
	}
	return e.bytes()
}

func domainOf(address string) string {
	for i := len(address) - 1; i >= 0; i-- {
		if address[i] == '@' {
			return address[i+1:]
		}
	}
	return "localhost"
}
