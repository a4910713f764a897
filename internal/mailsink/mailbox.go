package mailsink

import (
	"net/mail"
	"sync"
	"time"
)

// Received is one captured message. Bodies and parts are filled when the
// raw message could be decoded.
type Received struct {
	From       string
	To         []string
	Subject    string
	Header     mail.Header
	TextBody   string
	HTMLBody   string
	Parts      []Part
	Raw        []byte
	ReceivedAt time.Time
}

// Mailbox keeps the most recent captured messages up to a fixed capacity.
type Mailbox struct {
	mu       sync.Mutex
	capacity int
	messages []Received
	notify   chan struct{}
}

// NewMailbox creates a Mailbox holding at most capacity messages.
func NewMailbox(capacity int) *Mailbox {
	if capacity <= 0 {
		capacity = 500
	}
	return &Mailbox{capacity: capacity, notify: make(chan struct{}, 1)}
}

// Add stores m, evicting the oldest message when full.
func (b *Mailbox) Add(m Received) {
	b.mu.Lock()
	b.messages = append(b.messages, m)
	if len(b.messages) > b.capacity {
		b.messages = b.messages[len(b.messages)-b.capacity:]
	}
	b.mu.Unlock()

	select {
	case b.notify <- struct{}{}:
	default:
	}
}

// Messages returns the captured messages, oldest first.
func (b *Mailbox) Messages() []Received {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]Received, len(b.messages))
	copy(out, b.messages)
	return out
}

// Len returns the number of captured messages.
func (b *Mailbox) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.messages)
}

// Notify is signalled after messages are added.
func (b *Mailbox) Notify() <-chan struct{} {
	return b.notify
}
