package ingress

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/nats-io/nats.go"

	"miszen/internal/events"
)

const (
	sourceNATS   = "nats"
	drainTimeout = 10 * time.Second
)

// Enqueuer accepts decoded events. *dispatcher.Dispatcher implements it.
type Enqueuer interface {
	Enqueue(ev events.Event) bool
}

// Observer is told about every message and whether it was queued.
type Observer func(source string, accepted bool)

// Decoder turns raw messages into queued events.
type Decoder struct {
	queue   Enqueuer
	observe Observer
	logger  *slog.Logger
}

func NewDecoder(queue Enqueuer, observe Observer, logger *slog.Logger) *Decoder {
	if observe == nil {
		observe = func(string, bool) {}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Decoder{queue: queue, observe: observe, logger: logger}
}

// Handle decodes data as an event and enqueues it. Malformed payloads are
// logged and dropped.
func (d *Decoder) Handle(source string, data []byte) bool {
	var ev events.Event
	if err := json.Unmarshal(data, &ev); err != nil {
		d.logger.Warn("ingress_event_decode_failed",
			"source", source,
			"bytes", len(data),
			"error", err,
		)
		d.observe(source, false)
		return false
	}

	queued := d.queue.Enqueue(ev)
	d.observe(source, queued)
	if queued {
		d.logger.Debug("ingress_event_queued", "source", source, "event_id", ev.ID, "event_type", ev.Type)
	}
	return queued
}

// Subscriber feeds events published on a NATS subject into the dispatcher.
type Subscriber struct {
	url     string
	subject string
	decoder *Decoder
	logger  *slog.Logger
}

func NewSubscriber(url, subject string, decoder *Decoder, logger *slog.Logger) *Subscriber {
	if logger == nil {
		logger = slog.Default()
	}
	return &Subscriber{url: url, subject: subject, decoder: decoder, logger: logger}
}

// Run connects, subscribes and blocks until ctx is cancelled. The connection
// is drained before returning, so messages already received are still
// handed to the decoder.
func (s *Subscriber) Run(ctx context.Context) error {
	closed := make(chan struct{})
	nc, err := nats.Connect(s.url,
		nats.Name("miszen"),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(2*time.Second),
		nats.DrainTimeout(drainTimeout),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			s.logger.Warn("nats_disconnected", "error", err)
		}),
		nats.ReconnectHandler(func(c *nats.Conn) {
			s.logger.Info("nats_reconnected", "url", c.ConnectedUrl())
		}),
		nats.ClosedHandler(func(*nats.Conn) {
			close(closed)
		}),
	)
	if err != nil {
		return fmt.Errorf("failed to connect to NATS at %s: %w", s.url, err)
	}

	if _, err := nc.Subscribe(s.subject, func(msg *nats.Msg) {
		s.decoder.Handle(sourceNATS, msg.Data)
	}); err != nil {
		nc.Close()
		return fmt.Errorf("failed to subscribe to %s: %w", s.subject, err)
	}
	s.logger.Info("nats_subscribed", "subject", s.subject)

	<-ctx.Done()

	// Drain closes the connection once pending messages are handled.
	if err := nc.Drain(); err != nil {
		s.logger.Warn("nats_drain_failed", "error", err)
		nc.Close()
	}
	<-closed
	s.logger.Info("nats_unsubscribed", "subject", s.subject)
	return nil
}
