// Copyright 2026 The mirrorkeep Authors
// SPDX-License-Identifier: AGPL-3.0-or-later

//go:build !nats

package webhook

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/mirrorkeep/cleanup-engine/internal/config"
	"github.com/mirrorkeep/cleanup-engine/internal/logging"
)

// EventBus is a synchronous, in-process stand-in for the NATS-backed bus:
// Publish dispatches immediately on the caller's goroutine. Builds without
// the "nats" tag trade delivery durability for zero external dependency.
type EventBus struct {
	dispatcher *Dispatcher
	events     *logging.EventLogger
	running    atomic.Bool
}

// NewEventBus builds a synchronous EventBus. cfg is accepted for call-site
// symmetry with the nats build and otherwise unused.
func NewEventBus(cfg config.NATSConfig, dispatcher *Dispatcher) (*EventBus, error) {
	return &EventBus{dispatcher: dispatcher, events: logging.NewEventLogger()}, nil
}

// Start marks the bus running; there is no connection to establish.
func (b *EventBus) Start(ctx context.Context) error {
	b.running.Store(true)
	b.events.LogRouterStarted()
	return nil
}

// Publish dispatches n synchronously.
func (b *EventBus) Publish(ctx context.Context, n Notification) error {
	b.events.LogEventReceived(ctx, n.ExternalID, string(n.Service), n.EventType)
	start := time.Now()
	if n.Service == "" {
		b.dispatcher.HandleMS(ctx, n)
	} else {
		b.dispatcher.Handle(ctx, n)
	}
	b.events.LogEventProcessed(ctx, n.ExternalID, time.Since(start).Milliseconds())
	return nil
}

// Shutdown marks the bus stopped.
func (b *EventBus) Shutdown(ctx context.Context) {
	b.running.Store(false)
	b.events.LogRouterStopped()
}

// IsRunning reports whether Start has been called without a matching
// Shutdown.
func (b *EventBus) IsRunning() bool {
	return b.running.Load()
}
