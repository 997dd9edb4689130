// Copyright 2026 The mirrorkeep Authors
// SPDX-License-Identifier: AGPL-3.0-or-later

//go:build nats

package webhook

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/goccy/go-json"
	natsserver "github.com/nats-io/nats-server/v2/server"
	natsgo "github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"

	"github.com/mirrorkeep/cleanup-engine/internal/config"
	"github.com/mirrorkeep/cleanup-engine/internal/logging"
)

const (
	streamName   = "WEBHOOK_EVENTS"
	subjectName  = "webhook.events"
	consumerName = "webhook-dispatcher"
)

// EventBus carries accepted webhook notifications from intake to the
// Dispatcher over an embedded NATS JetStream stream, decoupling the
// latency of the intake response from the (possibly debounced) work the
// notification triggers.
type EventBus struct {
	cfg        config.NATSConfig
	dispatcher *Dispatcher
	events     *logging.EventLogger

	embedded *natsserver.Server
	conn     *natsgo.Conn
	js       jetstream.JetStream
	consumer jetstream.ConsumeContext

	running atomic.Bool
}

// NewEventBus builds an EventBus bound to dispatcher. The underlying NATS
// connection is established by Start, not here.
func NewEventBus(cfg config.NATSConfig, dispatcher *Dispatcher) (*EventBus, error) {
	return &EventBus{cfg: cfg, dispatcher: dispatcher, events: logging.NewEventLogger()}, nil
}

// Start connects to NATS (embedding a server first if configured),
// ensures the webhook stream exists, and begins consuming.
func (b *EventBus) Start(ctx context.Context) error {
	url := b.cfg.URL
	if b.cfg.EmbeddedServer {
		opts := &natsserver.Options{
			ServerName: "mirrorkeep-webhooks",
			Host:       "127.0.0.1",
			Port:       -1, // random free port; this bus is never dialed externally
			JetStream:  true,
			StoreDir:   b.cfg.StoreDir,
		}
		ns, err := natsserver.NewServer(opts)
		if err != nil {
			return fmt.Errorf("webhook: start embedded nats server: %w", err)
		}
		ns.ConfigureLogger()
		go ns.Start()
		if !ns.ReadyForConnections(10 * time.Second) {
			ns.Shutdown()
			return fmt.Errorf("webhook: embedded nats server not ready")
		}
		b.embedded = ns
		url = ns.ClientURL()
	}

	conn, err := natsgo.Connect(url, natsgo.RetryOnFailedConnect(true), natsgo.MaxReconnects(-1))
	if err != nil {
		return fmt.Errorf("webhook: connect to nats: %w", err)
	}
	b.conn = conn

	js, err := jetstream.New(conn)
	if err != nil {
		conn.Close()
		return fmt.Errorf("webhook: create jetstream context: %w", err)
	}
	b.js = js

	stream, err := js.CreateOrUpdateStream(ctx, jetstream.StreamConfig{
		Name:     streamName,
		Subjects: []string{subjectName},
		Storage:  jetstream.FileStorage,
	})
	if err != nil {
		return fmt.Errorf("webhook: create stream: %w", err)
	}

	consumer, err := stream.CreateOrUpdateConsumer(ctx, jetstream.ConsumerConfig{
		Durable:   consumerName,
		AckPolicy: jetstream.AckExplicitPolicy,
	})
	if err != nil {
		return fmt.Errorf("webhook: create consumer: %w", err)
	}

	cc, err := consumer.Consume(func(msg jetstream.Msg) {
		var n Notification
		if err := json.Unmarshal(msg.Data(), &n); err != nil {
			logging.Ctx(ctx).Error().Err(err).Msg("webhook: malformed bus message")
			_ = msg.Ack()
			return
		}
		b.events.LogEventReceived(ctx, n.ExternalID, string(n.Service), n.EventType)
		start := time.Now()
		if n.Service == "" {
			b.dispatcher.HandleMS(ctx, n)
		} else {
			b.dispatcher.Handle(ctx, n)
		}
		b.events.LogEventProcessed(ctx, n.ExternalID, time.Since(start).Milliseconds())
		_ = msg.Ack()
	})
	if err != nil {
		return fmt.Errorf("webhook: start consumer: %w", err)
	}
	b.consumer = cc

	b.running.Store(true)
	b.events.LogRouterStarted()
	b.events.LogSubscriptionStarted(subjectName, consumerName)
	return nil
}

// Publish enqueues a notification onto the bus; intake calls this so its
// HTTP response never waits on dispatch.
func (b *EventBus) Publish(ctx context.Context, n Notification) error {
	if !b.running.Load() {
		return fmt.Errorf("webhook: event bus not running")
	}
	data, err := json.Marshal(n)
	if err != nil {
		return fmt.Errorf("webhook: marshal notification: %w", err)
	}
	if _, err := b.js.Publish(ctx, subjectName, data); err != nil {
		b.events.LogEventFailed(ctx, n.ExternalID, err)
		return err
	}
	b.events.LogEventPublished(ctx, n.ExternalID, subjectName)
	return nil
}

// Shutdown drains the consumer and closes the NATS connection.
func (b *EventBus) Shutdown(ctx context.Context) {
	b.running.Store(false)
	if b.consumer != nil {
		b.consumer.Stop()
	}
	if b.conn != nil {
		b.conn.Close()
	}
	if b.embedded != nil {
		b.embedded.Shutdown()
	}
	b.events.LogSubscriptionStopped(subjectName)
	b.events.LogRouterStopped()
}

// IsRunning reports whether the bus is actively consuming.
func (b *EventBus) IsRunning() bool {
	return b.running.Load()
}
