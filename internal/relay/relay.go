// Package relay forwards device service events to a NATS subject so other
// processes can follow wake results and list changes.
package relay

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/HerbHall/jump/internal/event"
	"github.com/HerbHall/jump/internal/metrics"
	"github.com/nats-io/nats.go"
	"go.uber.org/zap"
)

// Config configures the NATS relay. An empty NATSURL disables it.
type Config struct {
	NATSURL string `mapstructure:"nats_url"`
	Subject string `mapstructure:"subject"`
	Name    string `mapstructure:"name"`
}

// DefaultConfig returns the relay defaults.
func DefaultConfig() Config {
	return Config{Subject: "jump.events", Name: "jump"}
}

// Enabled reports whether a broker URL is configured.
func (c Config) Enabled() bool { return c.NATSURL != "" }

// Publisher sends a payload to a subject. *nats.Conn satisfies it.
type Publisher interface {
	Publish(subject string, data []byte) error
}

var _ Publisher = (*nats.Conn)(nil)

// ErrClosed is returned by Forward after Close.
var ErrClosed = errors.New("relay closed")

// Dial connects to the broker named in cfg. The connection reconnects
// forever; disconnects and reconnects are logged.
func Dial(cfg Config, logger *zap.Logger) (*nats.Conn, error) {
	if !cfg.Enabled() {
		return nil, errors.New("relay: nats_url is empty")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	name := cfg.Name
	if name == "" {
		name = DefaultConfig().Name
	}
	nc, err := nats.Connect(cfg.NATSURL,
		nats.Name(name),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(2*time.Second),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err != nil {
				logger.Warn("nats disconnected", zap.Error(err))
			}
		}),
		nats.ReconnectHandler(func(c *nats.Conn) {
			logger.Info("nats reconnected", zap.String("url", c.ConnectedUrl()))
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("connect to nats %s: %w", cfg.NATSURL, err)
	}
	logger.Info("connected to nats", zap.String("url", cfg.NATSURL), zap.String("name", name))
	return nc, nil
}

// Relay publishes every bus event to <subject>.<topic>.
type Relay struct {
	pub     Publisher
	subject string
	logger  *zap.Logger

	mu     sync.Mutex
	closed bool
	unsub  func()
}

// New creates a relay over pub. subject defaults to jump.events.
func New(pub Publisher, subject string, logger *zap.Logger) *Relay {
	if subject == "" {
		subject = DefaultConfig().Subject
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Relay{pub: pub, subject: subject, logger: logger}
}

// Attach subscribes the relay to every topic on bus. Attaching twice
// replaces the earlier subscription.
func (r *Relay) Attach(bus event.Subscriber) {
	unsub := bus.SubscribeAll(func(_ context.Context, ev event.Event) {
		if err := r.Forward(ev); err != nil && !errors.Is(err, ErrClosed) {
			r.logger.Warn("relay publish failed",
				zap.String("topic", ev.Topic),
				zap.Error(err),
			)
		}
	})
	r.mu.Lock()
	prev := r.unsub
	r.unsub = unsub
	r.mu.Unlock()
	if prev != nil {
		prev()
	}
}

// Subject returns the subject ev is published to.
func (r *Relay) Subject(ev event.Event) string {
	if ev.Topic == "" {
		return r.subject
	}
	return r.subject + "." + ev.Topic
}

// Forward encodes ev as JSON and publishes it.
func (r *Relay) Forward(ev event.Event) error {
	r.mu.Lock()
	closed := r.closed
	r.mu.Unlock()
	if closed {
		return ErrClosed
	}

	data, err := json.Marshal(ev)
	if err != nil {
		metrics.RelayMessagesTotal.WithLabelValues("failed").Inc()
		return fmt.Errorf("encode %s event: %w", ev.Topic, err)
	}
	if err := r.pub.Publish(r.Subject(ev), data); err != nil {
		metrics.RelayMessagesTotal.WithLabelValues("failed").Inc()
		return fmt.Errorf("publish %s: %w", r.Subject(ev), err)
	}
	metrics.RelayMessagesTotal.WithLabelValues("published").Inc()
	return nil
}

// Close detaches from the bus. Later Forward calls return ErrClosed.
// The broker connection is owned by the caller.
func (r *Relay) Close() {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return
	}
	r.closed = true
	unsub := r.unsub
	r.unsub = nil
	r.mu.Unlock()
	if unsub != nil {
		unsub()
	}
}

// Drain flushes pending messages on nc and closes it.
func Drain(nc *nats.Conn, logger *zap.Logger) {
	if nc == nil || nc.IsClosed() {
		return
	}
	if err := nc.Drain(); err != nil && logger != nil {
		logger.Warn("nats drain failed", zap.Error(err))
	}
	nc.Close()
}
