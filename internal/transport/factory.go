package transport

import (
	"context"
	"fmt"
	"io"
	"os"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/time/rate"

	"github.com/sungwon/govnotify/internal/attachment"
	"github.com/sungwon/govnotify/internal/httpclient"
	"github.com/sungwon/govnotify/internal/message"
	"github.com/sungwon/govnotify/internal/metrics"
	"github.com/sungwon/govnotify/internal/provider"
)

// Factory builds transports from provider configurations. Rate limiters and
// circuit breakers live as long as the Factory and are shared by every
// transport built for the same provider.
type Factory struct {
	attachments attachment.Store
	client      httpclient.Doer
	breaker     httpclient.BreakerSettings
	stdout      io.Writer
	log         zerolog.Logger

	mu       sync.Mutex
	limiters map[string]*rate.Limiter
	breakers map[string]*httpclient.BreakerDoer
}

// NewFactory creates a Factory. client performs the HTTP requests of HTTP
// transports; attachments is read by the SMTP transport.
func NewFactory(attachments attachment.Store, client httpclient.Doer, log zerolog.Logger) *Factory {
	return &Factory{
		attachments: attachments,
		client:      client,
		stdout:      os.Stdout,
		log:         log,
		limiters:    make(map[string]*rate.Limiter),
		breakers:    make(map[string]*httpclient.BreakerDoer),
	}
}

// Build returns the transport for p, throttled to p.Throttle sends per
// second.
func (f *Factory) Build(p *provider.Provider) (Transport, error) {
	var t Transport
	switch p.Kind {
	case provider.KindSMTP:
		t = NewSMTP(p, f.attachments)
	case provider.KindHTTP:
		if p.Type != provider.TypeSMS {
			return nil, fmt.Errorf("%w: %s for %s", ErrUnsupportedKind, p.Kind, p.Type)
		}
		t = NewHTTPSMS(p, f.breakerFor(p))
	case provider.KindStdout:
		t = newStdoutWriter(p, f.stdout)
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedKind, p.Kind)
	}

	return &limited{
		Transport: t,
		channel:   p.Type,
		limiter:   f.limiterFor(p),
	}, nil
}

func providerKey(p *provider.Provider) string {
	if p.IsDefault {
		return "default:" + string(p.Type)
	}
	return p.ID.String()
}

func (f *Factory) limiterFor(p *provider.Provider) *rate.Limiter {
	throttle := p.Throttle
	if throttle <= 0 {
		throttle = provider.DefaultThrottle
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	key := providerKey(p)
	l, ok := f.limiters[key]
	if !ok {
		l = rate.NewLimiter(rate.Limit(throttle), throttle)
		f.limiters[key] = l
		return l
	}
	// The provider may have been updated since the limiter was created.
	if l.Limit() != rate.Limit(throttle) {
		l.SetLimit(rate.Limit(throttle))
		l.SetBurst(throttle)
	}
	return l
}

func (f *Factory) breakerFor(p *provider.Provider) *httpclient.BreakerDoer {
	f.mu.Lock()
	defer f.mu.Unlock()

	key := providerKey(p)
	b, ok := f.breakers[key]
	if !ok {
		b = httpclient.NewBreakerDoer(f.client, "provider "+key, f.breaker, f.log)
		f.breakers[key] = b
	}
	return b
}

// limited waits for the provider's rate limiter before each send and
// records send metrics.
type limited struct {
	Transport
	channel provider.Type
	limiter *rate.Limiter
}

func (l *limited) Send(ctx context.Context, msg *message.Message, addr Address) error {
	if err := l.limiter.Wait(ctx); err != nil {
		metrics.TransportSendsTotal.WithLabelValues(string(l.channel), "failed").Inc()
		return fmt.Errorf("%s: throttle: %w", l.Name(), err)
	}

	start := time.Now()
	err := l.Transport.Send(ctx, msg, addr)
	metrics.TransportSendDuration.WithLabelValues(string(l.channel)).Observe(time.Since(start).Seconds())

	result := "sent"
	if err != nil {
		result = "failed"
	}
	metrics.TransportSendsTotal.WithLabelValues(string(l.channel), result).Inc()
	return err
}
