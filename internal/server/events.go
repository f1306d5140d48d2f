// Copyright (C) 2026 Noldarim
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package server exposes the pipeline core over a local REST + WebSocket API.
// Handlers call the stores, executor and recovery controller directly; the
// events those components publish are fanned out to WebSocket clients.
package server

import (
	"context"
	"sync"
	"time"

	"github.com/noldarim/inkwell/internal/logger"
	"github.com/noldarim/inkwell/internal/protocol"
	"github.com/rs/zerolog"
)

var (
	log     *zerolog.Logger
	logOnce sync.Once
)

func getLog() *zerolog.Logger {
	logOnce.Do(func() {
		l := logger.GetAPILogger()
		log = &l
	})
	return log
}

// EventBroadcaster reads every event from the application's event channel
// and fans them out to all connected WebSocket clients.
type EventBroadcaster struct {
	eventChan <-chan protocol.Event
	clients   *ClientRegistry
	dedup     *EventDeduplicator
}

// NewEventBroadcaster creates a broadcaster over eventChan.
func NewEventBroadcaster(eventChan <-chan protocol.Event, clients *ClientRegistry) *EventBroadcaster {
	return &EventBroadcaster{
		eventChan: eventChan,
		clients:   clients,
		dedup:     NewEventDeduplicator(10 * time.Minute),
	}
}

// Run reads events until the channel is closed or context is cancelled.
func (b *EventBroadcaster) Run(ctx context.Context) {
	go b.dedup.Run(ctx, 5*time.Minute)
	for {
		select {
		case event, ok := <-b.eventChan:
			if !ok {
				getLog().Info().Msg("Event broadcaster stopped (channel closed)")
				return
			}
			b.dispatch(event)
		case <-ctx.Done():
			getLog().Info().Msg("Event broadcaster stopped (context cancelled)")
			return
		}
	}
}

func (b *EventBroadcaster) dispatch(event protocol.Event) {
	if !b.dedup.ShouldProcess(event) {
		getLog().Debug().Str("idempotency_key", protocol.GetIdempotencyKey(event)).Msg("Skipping duplicate event")
		return
	}
	if b.clients != nil {
		b.clients.Broadcast(event)
	}
}

// EventDeduplicator drops events whose idempotency key was already seen
// within ttl. Events without a key always pass.
type EventDeduplicator struct {
	seen sync.Map // idempotencyKey -> time.Time
	ttl  time.Duration
	now  func() time.Time
}

// NewEventDeduplicator creates a deduplicator remembering keys for ttl.
func NewEventDeduplicator(ttl time.Duration) *EventDeduplicator {
	return &EventDeduplicator{ttl: ttl, now: time.Now}
}

// ShouldProcess returns true if the event is not a duplicate.
func (d *EventDeduplicator) ShouldProcess(event protocol.Event) bool {
	key := protocol.GetIdempotencyKey(event)
	if key == "" {
		return true
	}
	_, loaded := d.seen.LoadOrStore(key, d.now())
	return !loaded
}

// Sweep forgets keys older than ttl.
func (d *EventDeduplicator) Sweep() {
	now := d.now()
	d.seen.Range(func(key, value any) bool {
		if ts, ok := value.(time.Time); ok && now.Sub(ts) > d.ttl {
			d.seen.Delete(key)
		}
		return true
	})
}

// Run sweeps every interval until ctx is done.
func (d *EventDeduplicator) Run(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			d.Sweep()
		}
	}
}
