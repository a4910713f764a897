package transport

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/sungwon/govnotify/internal/httpclient"
	"github.com/sungwon/govnotify/internal/message"
	"github.com/sungwon/govnotify/internal/provider"
)

// maxSMSLength is the longest text sent in one request; longer texts are
// truncated.
const maxSMSLength = 640

// HTTPSMS sends text messages through a JSON SMS gateway.
type HTTPSMS struct {
	name     string
	endpoint string
	apiKey   string
	senderID string
	client   httpclient.Doer
}

type smsRequest struct {
	To      string `json:"to"`
	From    string `json:"from,omitempty"`
	Message string `json:"message"`
	// Reference lets the gateway deduplicate retried sends.
	Reference string `json:"reference"`
}

// NewHTTPSMS creates an HTTPSMS transport for p. client is expected to
// classify non-2xx responses, as httpclient.BreakerDoer does.
func NewHTTPSMS(p *provider.Provider, client httpclient.Doer) *HTTPSMS {
	senderID := p.Settings.SenderID
	if senderID == "" {
		senderID = p.FromName
	}
	return &HTTPSMS{
		name:     p.Name,
		endpoint: p.Settings.Endpoint,
		apiKey:   p.Settings.APIKey,
		senderID: senderID,
		client:   client,
	}
}

func (s *HTTPSMS) Name() string { return s.name }

// CanSend requires a phone number and some text to send.
func (s *HTTPSMS) CanSend(msg *message.Message, addr Address) bool {
	return addr.Phone != "" && smsText(msg, addr) != ""
}

// Send posts the text to the gateway.
func (s *HTTPSMS) Send(ctx context.Context, msg *message.Message, addr Address) error {
	body, err := json.Marshal(smsRequest{
		To:        addr.Phone,
		From:      s.senderID,
		Message:   smsText(msg, addr),
		Reference: msg.ID.String(),
	})
	if err != nil {
		return fmt.Errorf("sms: marshal request: %w", err)
	}

	headers := map[string]string{"Content-Type": "application/json"}
	if s.apiKey != "" {
		headers["Authorization"] = "Bearer " + s.apiKey
	}

	resp, err := s.client.Do(ctx, &httpclient.Request{
		Method:  http.MethodPost,
		URL:     s.endpoint,
		Headers: headers,
		Body:    body,
	})
	if err != nil {
		return fmt.Errorf("sms: send: %w", err)
	}
	if err := httpclient.Classify("sms gateway", resp); err != nil {
		return fmt.Errorf("sms: send: %w", err)
	}
	return nil
}

// smsText is the short body when given, otherwise the subject. High
// security messages only announce that a message is waiting.
func smsText(msg *message.Message, addr Address) string {
	var text string
	switch {
	case msg.SecurityLevel == message.SecurityHigh:
		text = noticeText(addr.Organisation)
	case msg.SMSBody != "":
		text = msg.SMSBody
	default:
		text = msg.Subject
	}
	if r := []rune(text); len(r) > maxSMSLength {
		text = string(r[:maxSMSLength])
	}
	return text
}

func noticeText(organisation string) string {
	if organisation == "" {
		return "You have received a new message. Sign in to your inbox to read it."
	}
	return fmt.Sprintf("You have received a new message from %s. Sign in to your inbox to read it.", organisation)
}
