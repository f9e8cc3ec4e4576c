package events

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/url"
	"sync"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
)

// Publisher delivers envelopes to the internal pipeline.
type Publisher interface {
	Publish(ctx context.Context, routingKey string, env Envelope) error
	Close() error
}

// ErrPublisherClosed is returned by Publish after Close.
var ErrPublisherClosed = errors.New("events: publisher closed")

// Noop discards every event. It is used when no broker is configured.
type Noop struct{}

func (Noop) Publish(context.Context, string, Envelope) error { return nil }
func (Noop) Close() error                                    { return nil }

// Channel is the subset of *amqp.Channel used for publishing.
type Channel interface {
	PublishWithContext(ctx context.Context, exchange, key string, mandatory, immediate bool, msg amqp.Publishing) error
	Close() error
}

// Dialer opens a connection and returns a publishing channel on it with the
// exchange already declared. The returned closer releases the connection.
type Dialer func(ctx context.Context, rawURL, exchange string) (Channel, func() error, error)

// AMQPConfig configures an AMQPPublisher.
type AMQPConfig struct {
	URL      string
	Exchange string
	// DialTimeout bounds one connection attempt. A shorter ctx deadline wins.
	DialTimeout time.Duration
	// RedialBackoff is how long Publish fails fast after a failed dial.
	RedialBackoff time.Duration
	// Dialer overrides the default amqp.DialConfig based connection (tests).
	Dialer Dialer
}

const (
	defaultDialTimeout   = 5 * time.Second
	defaultRedialBackoff = 5 * time.Second
	amqpHeartbeat        = 10 * time.Second
)

// ErrBrokerUnavailable is returned while a failed dial is backing off.
var ErrBrokerUnavailable = errors.New("events: broker unavailable")

// AMQPPublisher publishes JSON envelopes to a topic exchange. A single
// channel is shared; it is re-dialed after a failure. The mutex guards only
// the channel fields and is never held across network I/O.
type AMQPPublisher struct {
	cfg    AMQPConfig
	logger *slog.Logger
	now    func() time.Time

	mu         sync.Mutex
	ch         Channel
	closeConn  func() error
	closed     bool
	retryAfter time.Time
}

// NewAMQPPublisher connects to the broker and declares the exchange.
func NewAMQPPublisher(ctx context.Context, log *slog.Logger, cfg AMQPConfig) (*AMQPPublisher, error) {
	if log == nil {
		log = slog.Default()
	}
	if cfg.URL == "" {
		return nil, fmt.Errorf("events: broker url is required")
	}
	if cfg.Exchange == "" {
		return nil, fmt.Errorf("events: exchange is required")
	}
	if cfg.DialTimeout <= 0 {
		cfg.DialTimeout = defaultDialTimeout
	}
	if cfg.RedialBackoff <= 0 {
		cfg.RedialBackoff = defaultRedialBackoff
	}
	if cfg.Dialer == nil {
		cfg.Dialer = dialAMQP
	}
	p := &AMQPPublisher{
		cfg:    cfg,
		now:    time.Now,
		logger: log.With(slog.String("service", "events")),
	}
	if _, err := p.channel(ctx); err != nil {
		return nil, err
	}
	return p, nil
}

// Publish sends env to the exchange with routingKey.
func (p *AMQPPublisher) Publish(ctx context.Context, routingKey string, env Envelope) error {
	if env.Meta.ID == "" {
		return fmt.Errorf("events: envelope id is required")
	}
	if env.Meta.CorrelationID == "" {
		env.Meta.CorrelationID = env.Meta.ID
	}
	if env.Meta.Time.IsZero() {
		env.Meta.Time = time.Now().UTC()
	}
	body, err := json.Marshal(env)
	if err != nil {
		return fmt.Errorf("marshal envelope: %w", err)
	}
	msg := amqp.Publishing{
		ContentType:   "application/json",
		Body:          body,
		DeliveryMode:  amqp.Persistent,
		MessageId:     env.Meta.ID,
		CorrelationId: env.Meta.CorrelationID,
		Type:          env.Meta.Type,
		Timestamp:     env.Meta.Time,
		AppId:         Producer,
	}

	ch, err := p.channel(ctx)
	if err != nil {
		return err
	}
	if err := ch.PublishWithContext(ctx, p.cfg.Exchange, routingKey, false, false, msg); err != nil {
		p.discard(ch)
		return fmt.Errorf("publish %s: %w", routingKey, err)
	}
	return nil
}

// Close releases the channel and the connection.
func (p *AMQPPublisher) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return nil
	}
	p.closed = true
	p.resetLocked()
	return nil
}

// channel returns the shared channel, dialing outside the lock when there is
// none. Concurrent dials may race; the loser's connection is closed.
func (p *AMQPPublisher) channel(ctx context.Context) (Channel, error) {
	p.mu.Lock()
	switch {
	case p.closed:
		p.mu.Unlock()
		return nil, ErrPublisherClosed
	case p.ch != nil:
		ch := p.ch
		p.mu.Unlock()
		return ch, nil
	case p.now().Before(p.retryAfter):
		p.mu.Unlock()
		return nil, ErrBrokerUnavailable
	}
	p.mu.Unlock()

	dialCtx, cancel := context.WithTimeout(ctx, p.cfg.DialTimeout)
	defer cancel()
	ch, closeConn, err := p.cfg.Dialer(dialCtx, p.cfg.URL, p.cfg.Exchange)

	p.mu.Lock()
	defer p.mu.Unlock()
	if err != nil {
		p.retryAfter = p.now().Add(p.cfg.RedialBackoff)
		p.logger.Error("broker connect failed", slog.String("host", brokerHost(p.cfg.URL)), slog.Any("error", err))
		return nil, fmt.Errorf("events: connect: %w", err)
	}
	if p.closed || p.ch != nil {
		_ = ch.Close()
		_ = closeConn()
		if p.closed {
			return nil, ErrPublisherClosed
		}
		return p.ch, nil
	}
	p.ch, p.closeConn = ch, closeConn
	p.retryAfter = time.Time{}
	p.logger.Info("broker connected", slog.String("host", brokerHost(p.cfg.URL)), slog.String("exchange", p.cfg.Exchange))
	return ch, nil
}

// discard drops ch after a failed publish unless it was already replaced.
func (p *AMQPPublisher) discard(ch Channel) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.ch == ch {
		p.resetLocked()
	}
}

func (p *AMQPPublisher) resetLocked() {
	if p.ch != nil {
		_ = p.ch.Close()
		p.ch = nil
	}
	if p.closeConn != nil {
		_ = p.closeConn()
		p.closeConn = nil
	}
}

// dialAMQP connects with a deadline taken from ctx. The deadline also covers
// the AMQP handshake; the library clears it once the connection is open.
func dialAMQP(ctx context.Context, rawURL, exchange string) (Channel, func() error, error) {
	deadline, ok := ctx.Deadline()
	if !ok {
		deadline = time.Now().Add(defaultDialTimeout)
	}
	conn, err := amqp.DialConfig(rawURL, amqp.Config{
		Heartbeat: amqpHeartbeat,
		Locale:    "en_US",
		Dial: func(network, addr string) (net.Conn, error) {
			d := net.Dialer{Deadline: deadline}
			c, err := d.DialContext(ctx, network, addr)
			if err != nil {
				return nil, err
			}
			if err := c.SetDeadline(deadline); err != nil {
				_ = c.Close()
				return nil, err
			}
			return c, nil
		},
	})
	if err != nil {
		return nil, nil, err
	}
	ch, err := conn.Channel()
	if err != nil {
		_ = conn.Close()
		return nil, nil, fmt.Errorf("open channel: %w", err)
	}
	if err := ch.ExchangeDeclare(exchange, "topic", true, false, false, false, nil); err != nil {
		_ = ch.Close()
		_ = conn.Close()
		return nil, nil, fmt.Errorf("declare exchange %s: %w", exchange, err)
	}
	return ch, conn.Close, nil
}

func brokerHost(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil {
		return ""
	}
	return u.Host
}
