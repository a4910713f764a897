package mailsink

import (
	"bytes"
	"crypto/subtle"
	"io"
	"strings"
	"time"

	"github.com/emersion/go-sasl"
	gosmtp "github.com/emersion/go-smtp"
	"github.com/rs/zerolog"
)

var errAuthRequired = &gosmtp.SMTPError{
	Code:         530,
	EnhancedCode: gosmtp.EnhancedCode{5, 7, 0},
	Message:      "Authentication required",
}

// Session handles a single SMTP connection.
type Session struct {
	backend       *Backend
	log           zerolog.Logger
	authenticated bool
	sender        string
	recipients    []string
}

// AuthMechanisms lists the supported SASL mechanisms.
func (s *Session) AuthMechanisms() []string {
	return []string{sasl.Plain}
}

// Auth starts a SASL PLAIN exchange checked against the configured
// credentials.
func (s *Session) Auth(mech string) (sasl.Server, error) {
	if mech != sasl.Plain {
		return nil, gosmtp.ErrAuthUnsupported
	}
	return sasl.NewPlainServer(func(_, username, password string) error {
		userOK := subtle.ConstantTimeCompare([]byte(username), []byte(s.backend.username)) == 1
		passOK := subtle.ConstantTimeCompare([]byte(password), []byte(s.backend.password)) == 1
		if !userOK || !passOK {
			s.log.Warn().Str("username", username).Msg("auth failed")
			return &gosmtp.SMTPError{
				Code:         535,
				EnhancedCode: gosmtp.EnhancedCode{5, 7, 8},
				Message:      "Authentication failed",
			}
		}
		s.authenticated = true
		return nil
	}), nil
}

// Mail handles MAIL FROM. The sender domain must be allowed when allowed
// domains are configured.
func (s *Session) Mail(from string, _ *gosmtp.MailOptions) error {
	if !s.authenticated {
		return errAuthRequired
	}

	addr, err := parseAddress(from)
	domain := domainFromEmail(addr)
	if err != nil || !IsValidDomain(domain) {
		s.log.Warn().Str("from", from).Msg("invalid sender address format")
		return &gosmtp.SMTPError{
			Code:         550,
			EnhancedCode: gosmtp.EnhancedCode{5, 1, 7},
			Message:      "Invalid sender address",
		}
	}

	if !s.isDomainAllowed(domain) {
		s.log.Warn().
			Str("from", addr).
			Str("domain", domain).
			Strs("allowed", s.backend.allowedDomains).
			Msg("sender domain not allowed")
		return &gosmtp.SMTPError{
			Code:         550,
			EnhancedCode: gosmtp.EnhancedCode{5, 7, 1},
			Message:      "Sender domain not allowed",
		}
	}

	s.sender = addr
	return nil
}

// Rcpt handles RCPT TO.
func (s *Session) Rcpt(to string, _ *gosmtp.RcptOptions) error {
	if !s.authenticated {
		return errAuthRequired
	}

	addr, err := parseAddress(to)
	if err != nil {
		s.log.Warn().Str("to", to).Msg("invalid recipient address format")
		return &gosmtp.SMTPError{
			Code:         550,
			EnhancedCode: gosmtp.EnhancedCode{5, 1, 1},
			Message:      "Invalid recipient address",
		}
	}

	s.recipients = append(s.recipients, addr)
	return nil
}

// Data reads the message and stores it in the mailbox. Bodies are never
// logged.
func (s *Session) Data(r io.Reader) error {
	if !s.authenticated {
		return errAuthRequired
	}
	if len(s.recipients) == 0 {
		return &gosmtp.SMTPError{
			Code:         503,
			EnhancedCode: gosmtp.EnhancedCode{5, 5, 1},
			Message:      "No recipients specified",
		}
	}

	var buf bytes.Buffer
	if _, err := io.Copy(&buf, r); err != nil {
		s.log.Error().Err(err).Msg("failed to read message data")
		return &gosmtp.SMTPError{
			Code:         451,
			EnhancedCode: gosmtp.EnhancedCode{4, 3, 0},
			Message:      "Error reading message",
		}
	}

	received := Received{
		From:       s.sender,
		To:         append([]string(nil), s.recipients...),
		Raw:        buf.Bytes(),
		ReceivedAt: time.Now().UTC(),
	}
	if err := parse(received.Raw, &received); err != nil {
		s.log.Warn().Err(err).Msg("captured message could not be decoded")
	}
	s.backend.mailbox.Add(received)

	s.log.Info().
		Str("from", s.sender).
		Int("recipient_count", len(s.recipients)).
		Int("size", len(received.Raw)).
		Msg("message captured")
	return nil
}

// Reset clears the envelope but keeps the authentication state.
func (s *Session) Reset() {
	s.sender = ""
	s.recipients = nil
}

// Logout releases the connection slot.
func (s *Session) Logout() error {
	s.backend.active.Add(-1)
	s.log.Debug().Msg("session closed")
	return nil
}

func (s *Session) isDomainAllowed(domain string) bool {
	if len(s.backend.allowedDomains) == 0 {
		return true
	}
	for _, d := range s.backend.allowedDomains {
		if strings.EqualFold(d, domain) {
			return true
		}
	}
	return false
}
