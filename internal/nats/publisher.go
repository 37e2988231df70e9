package nats

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/yegors/co-atc-safety/internal/safety"
	"github.com/yegors/co-atc-safety/pkg/logger"
)

// ErrNotConnected is returned when publishing without a live connection
var ErrNotConnected = errors.New("not connected to NATS")

// Conn is the subset of *nats.Conn the publisher uses
type Conn interface {
	Publish(subject string, data []byte) error
	FlushWithContext(ctx context.Context) error
	Drain() error
}

// Publisher publishes safety events on <prefix>.<event_type>
type Publisher struct {
	conn   Conn
	prefix string
	logger *logger.Logger

	mu     sync.Mutex
	closed bool
}

// Connect dials the NATS server with unlimited reconnects
func Connect(url, prefix string, log *logger.Logger) (*Publisher, error) {
	log = log.Named("nats-pub")

	opts := []nats.Option{
		nats.Name("safety-monitor"),
		nats.ReconnectWait(2 * time.Second),
		nats.MaxReconnects(-1),
		nats.DisconnectErrHandler(func(nc *nats.Conn, err error) {
			log.Warn("NATS disconnected", logger.Error(err))
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			log.Info("NATS reconnected", logger.String("url", nc.ConnectedUrl()))
		}),
		nats.ClosedHandler(func(nc *nats.Conn) {
			log.Info("NATS connection closed")
		}),
	}

	conn, err := nats.Connect(url, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to NATS at %s: %w", url, err)
	}

	log.Info("NATS connected", logger.String("url", url), logger.String("subject_prefix", prefix))
	return NewPublisher(conn, prefix, log), nil
}

// NewPublisher wraps an existing connection
func NewPublisher(conn Conn, prefix string, log *logger.Logger) *Publisher {
	return &Publisher{conn: conn, prefix: prefix, logger: log}
}

// Subject returns the subject an event type is published on
func (p *Publisher) Subject(t safety.EventType) string {
	if p.prefix == "" {
		return string(t)
	}
	return p.prefix + "." + string(t)
}

// Name implements safety.Sink
func (p *Publisher) Name() string { return "nats" }

// Deliver implements safety.Sink. The message is flushed so a delivery
// error surfaces here rather than being lost in the client buffer.
func (p *Publisher) Deliver(ctx context.Context, event safety.SafetyEvent) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.closed || p.conn == nil {
		return ErrNotConnected
	}

	data, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to encode event: %w", err)
	}

	subject := p.Subject(event.Type)
	if err := p.conn.Publish(subject, data); err != nil {
		return fmt.Errorf("failed to publish on %s: %w", subject, err)
	}
	if err := p.conn.FlushWithContext(ctx); err != nil {
		return fmt.Errorf("failed to flush %s: %w", subject, err)
	}
	return nil
}

// Close drains pending messages and closes the connection
func (p *Publisher) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.closed || p.conn == nil {
		return nil
	}
	p.closed = true
	return p.conn.Drain()
}
