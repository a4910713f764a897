// Package mailsink is a development SMTP server that accepts mail from the
// email transport and keeps it in memory instead of delivering it.
package mailsink

import (
	"sync/atomic"

	gosmtp "github.com/emersion/go-smtp"
	"github.com/rs/zerolog"

	"github.com/sungwon/govnotify/internal/config"
	"github.com/sungwon/govnotify/internal/logger"
)

// Backend implements the go-smtp Backend interface.
// It manages session creation and enforces connection limits.
type Backend struct {
	mailbox        *Mailbox
	log            zerolog.Logger
	username       string
	password       string
	allowedDomains []string
	maxConns       int
	active         atomic.Int64
}

// NewBackend creates a Backend storing accepted mail in mailbox. When
// cfg.Username is set, clients must authenticate with AUTH PLAIN.
func NewBackend(mailbox *Mailbox, cfg config.MailSinkConfig, log zerolog.Logger) *Backend {
	maxConns := cfg.MaxConnections
	if maxConns <= 0 {
		maxConns = 50
	}
	return &Backend{
		mailbox:        mailbox,
		log:            log,
		username:       cfg.Username,
		password:       cfg.Password,
		allowedDomains: cfg.AllowedDomains,
		maxConns:       maxConns,
	}
}

// NewSession is called after a client sends EHLO/HELO. It enforces connection
// limits and creates a new Session for the connection.
func (b *Backend) NewSession(conn *gosmtp.Conn) (gosmtp.Session, error) {
	current := b.active.Add(1)
	if int(current) > b.maxConns {
		b.active.Add(-1)
		b.log.Warn().
			Int64("active", current-1).
			Int("max", b.maxConns).
			Msg("connection limit reached")
		return nil, &gosmtp.SMTPError{
			Code:         421,
			EnhancedCode: gosmtp.EnhancedCode{4, 7, 0},
			Message:      "Too many connections",
		}
	}

	sessionLog := b.log.With().
		Str("correlation_id", logger.NewCorrelationID()).
		Str("remote_host", conn.Hostname()).
		Logger()

	sessionLog.Debug().Msg("new SMTP session")

	return &Session{
		backend:       b,
		log:           sessionLog,
		authenticated: b.username == "",
	}, nil
}

// ActiveSessions returns the current number of active SMTP sessions.
func (b *Backend) ActiveSessions() int64 {
	return b.active.Load()
}

// NewServer configures a go-smtp server for b.
func NewServer(b *Backend, cfg config.MailSinkConfig) *gosmtp.Server {
	s := gosmtp.NewServer(b)
	s.Addr = cfg.Addr()
	s.Domain = "govnotify-mail-sink"
	s.ReadTimeout = cfg.ReadTimeout
	s.WriteTimeout = cfg.WriteTimeout
	s.MaxMessageBytes = cfg.MaxMessageSize
	s.MaxRecipients = 50
	// The sink only listens on development hosts without TLS.
	s.AllowInsecureAuth = true
	return s
}
