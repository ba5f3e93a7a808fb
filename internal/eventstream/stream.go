// VidPulse - Video Engagement Stream Analytics
// Copyright 2026 VidPulse contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/vidpulse/vidpulse

// Package eventstream carries validated engagement events from the ingest
// boundary to the aggregator over a Watermill in-process Pub/Sub.
//
// The router stack gives the consume side panic recovery, exponential-backoff
// retries for transient aggregator errors, and a poison topic for payloads
// that fail after all retries. Delivery is at-least-once; the aggregator's
// dedup guard makes redelivery harmless.
package eventstream

import (
	"context"
	"fmt"
	"time"

	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/ThreeDotsLabs/watermill/message/router/middleware"
	"github.com/ThreeDotsLabs/watermill/pubsub/gochannel"
	"github.com/goccy/go-json"
	"github.com/google/uuid"

	"github.com/vidpulse/vidpulse/internal/logging"
	"github.com/vidpulse/vidpulse/internal/models"
)

// Topics on the internal bus.
const (
	TopicEvents = "engagement.events"
	TopicPoison = "dlq.engagement"
)

// correlationIDKey is the message metadata key tying a bus message back to
// the ingest request that produced it.
const correlationIDKey = "correlation_id"

// Sink consumes events off the bus.
type Sink interface {
	Ingest(e *models.Event) error
}

// SinkFunc adapts a function to Sink.
type SinkFunc func(e *models.Event) error

// Ingest calls f.
func (f SinkFunc) Ingest(e *models.Event) error { return f(e) }

// Config holds the stream's tuning knobs.
type Config struct {
	// BufferSize is the Pub/Sub output channel buffer per subscriber.
	BufferSize int64

	// RetryMaxRetries bounds handler retries before a message is poisoned.
	RetryMaxRetries int

	// RetryInitialInterval seeds the handler retry backoff.
	RetryInitialInterval time.Duration

	// RetryMaxInterval caps the handler retry backoff.
	RetryMaxInterval time.Duration

	// CloseTimeout is how long Close waits for in-flight handlers.
	CloseTimeout time.Duration
}

func (c Config) withDefaults() Config {
	if c.BufferSize <= 0 {
		c.BufferSize = 1024
	}
	if c.RetryMaxRetries <= 0 {
		c.RetryMaxRetries = 3
	}
	if c.RetryInitialInterval <= 0 {
		c.RetryInitialInterval = 100 * time.Millisecond
	}
	if c.RetryMaxInterval <= 0 {
		c.RetryMaxInterval = 5 * time.Second
	}
	if c.CloseTimeout <= 0 {
		c.CloseTimeout = 30 * time.Second
	}
	return c
}

// Stream is the in-process event bus plus its consuming router.
type Stream struct {
	cfg    Config
	pubsub *gochannel.GoChannel
	router *message.Router
}

// New builds the bus and wires the aggregator handler behind the middleware
// stack. Call Run to start consuming.
func New(cfg Config, sink Sink) (*Stream, error) {
	cfg = cfg.withDefaults()
	logger := NewLoggerAdapter()

	pubsub := gochannel.NewGoChannel(gochannel.Config{
		OutputChannelBuffer: cfg.BufferSize,
	}, logger)

	router, err := message.NewRouter(message.RouterConfig{
		CloseTimeout: cfg.CloseTimeout,
	}, logger)
	if err != nil {
		return nil, fmt.Errorf("create event router: %w", err)
	}

	router.AddMiddleware(middleware.Recoverer)

	retry := middleware.Retry{
		MaxRetries:      cfg.RetryMaxRetries,
		InitialInterval: cfg.RetryInitialInterval,
		MaxInterval:     cfg.RetryMaxInterval,
		Multiplier:      2.0,
		Logger:          logger,
	}
	router.AddMiddleware(retry.Middleware)

	poison, err := middleware.PoisonQueue(pubsub, TopicPoison)
	if err != nil {
		return nil, fmt.Errorf("create poison queue middleware: %w", err)
	}
	router.AddMiddleware(poison)

	s := &Stream{cfg: cfg, pubsub: pubsub, router: router}

	router.AddConsumerHandler(
		"aggregator-consumer",
		TopicEvents,
		pubsub,
		func(msg *message.Message) error {
			return s.handle(sink, msg)
		},
	)

	return s, nil
}

// handle decodes one bus message and folds it into the sink. Decode errors
// are returned so the retry and poison middleware classify them; they never
// panic the router.
func (s *Stream) handle(sink Sink, msg *message.Message) error {
	var e models.Event
	if err := json.Unmarshal(msg.Payload, &e); err != nil {
		return fmt.Errorf("decode event payload: %w", err)
	}
	if err := e.Validate(); err != nil {
		return fmt.Errorf("invalid event on bus: %w", err)
	}
	return sink.Ingest(&e)
}

// Publish validates and publishes one event to the bus.
func (s *Stream) Publish(e *models.Event) error {
	if err := e.Validate(); err != nil {
		return err
	}

	payload, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("encode event: %w", err)
	}

	msg := message.NewMessage(uuid.NewString(), payload)
	msg.Metadata.Set(correlationIDKey, msg.UUID)

	return s.pubsub.Publish(TopicEvents, msg)
}

// Serve runs the router until the context is canceled.
// Implements suture.Service.
func (s *Stream) Serve(ctx context.Context) error {
	return s.router.Run(ctx)
}

// String names the service in supervisor logs.
func (s *Stream) String() string { return "eventstream" }

// Running unblocks once the router's handlers are consuming. Publish before
// this point parks messages in the channel buffer.
func (s *Stream) Running() <-chan struct{} {
	return s.router.Running()
}

// Close shuts the bus down. Run returns once its context is canceled;
// Close releases the Pub/Sub and any parked messages.
func (s *Stream) Close() error {
	if err := s.router.Close(); err != nil {
		logging.Warn().Err(err).Msg("Failed to close event router")
	}
	return s.pubsub.Close()
}
