// Copyright 2026 The mirrorkeep Authors
// SPDX-License-Identifier: AGPL-3.0-or-later

//go:build nats

package services

import (
	"context"
	"fmt"
	"time"
)

// EventBusRunner interface matches the webhook event bus lifecycle.
//
// Satisfied by *webhook.EventBus: a JetStream consumer on an embedded
// NATS broker that carries accepted WebhookEvents from intake to the
// debounce consumer which triggers LibrarySync/HistorySync refreshes.
type EventBusRunner interface {
	Start(ctx context.Context) error
	Shutdown(ctx context.Context)
	IsRunning() bool
}

// EventBusService wraps the webhook event bus as a supervised service.
//
// Example usage:
//
//	bus, _ := webhook.NewEventBus(cfg, dispatcher)
//	svc := services.NewEventBusService(bus)
//	tree.AddMessagingService(svc)
type EventBusService struct {
	bus             EventBusRunner
	shutdownTimeout time.Duration
	name            string
}

// NewEventBusService creates a new event bus service wrapper.
func NewEventBusService(bus EventBusRunner) *EventBusService {
	return &EventBusService{
		bus:             bus,
		shutdownTimeout: 10 * time.Second,
		name:            "webhook-event-bus",
	}
}

// Serve implements suture.Service.
func (s *EventBusService) Serve(ctx context.Context) error {
	if err := s.bus.Start(ctx); err != nil {
		return fmt.Errorf("event bus start failed: %w", err)
	}

	<-ctx.Done()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), s.shutdownTimeout)
	defer cancel()

	s.bus.Shutdown(shutdownCtx)

	return ctx.Err()
}

// String implements fmt.Stringer for logging.
func (s *EventBusService) String() string {
	return s.name
}
