// Copyright (C) 2026 Noldarim
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package app wires the stores, the backend connection, the AI invoker, the
// executor and the recovery controller together and turns their change
// notifications into protocol events.
package app

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/noldarim/inkwell/internal/ai"
	"github.com/noldarim/inkwell/internal/config"
	"github.com/noldarim/inkwell/internal/connection"
	"github.com/noldarim/inkwell/internal/executor"
	"github.com/noldarim/inkwell/internal/logger"
	"github.com/noldarim/inkwell/internal/models"
	"github.com/noldarim/inkwell/internal/pipeline"
	"github.com/noldarim/inkwell/internal/protocol"
	"github.com/noldarim/inkwell/internal/recovery"
	"github.com/noldarim/inkwell/internal/research"
	"github.com/noldarim/inkwell/internal/storage"
	"github.com/rs/zerolog"
)

var (
	log     *zerolog.Logger
	logOnce sync.Once
)

func getLog() *zerolog.Logger {
	logOnce.Do(func() {
		l := logger.GetLogger("app")
		log = &l
	})
	return log
}

// App holds every long-lived component.
type App struct {
	Config    *config.AppConfig
	Slots     storage.Store
	Pipelines *pipeline.Store
	Research  *research.Store
	Conn      *connection.Manager
	Invoker   ai.Invoker
	Executor  *executor.Executor
	Recovery  *recovery.Controller
	Templates []models.Template

	events chan protocol.Event
}

type options struct {
	invoker ai.Invoker
	slots   storage.Store
	offline bool
}

// Option configures New.
type Option func(*options)

// WithInvoker replaces the invoker built from cfg.AI.
func WithInvoker(inv ai.Invoker) Option {
	return func(o *options) { o.invoker = inv }
}

// WithSlots replaces the slot store built from cfg.Storage.
func WithSlots(s storage.Store) Option {
	return func(o *options) { o.slots = s }
}

// Offline skips the backend connection entirely.
func Offline() Option {
	return func(o *options) { o.offline = true }
}

// New builds the application. Call Start to connect to the backend and
// Close to release resources.
func New(ctx context.Context, cfg *config.AppConfig, opts ...Option) (*App, error) {
	var o options
	for _, opt := range opts {
		opt(&o)
	}

	templates, err := models.LoadTemplates(cfg.Templates.File)
	if err != nil {
		return nil, fmt.Errorf("failed to load templates: %w", err)
	}

	slots := o.slots
	if slots == nil {
		slots, err = storage.New(&cfg.Storage)
		if err != nil {
			return nil, fmt.Errorf("failed to open storage: %w", err)
		}
	}

	inv := o.invoker
	if inv == nil {
		inv, err = ai.New(ctx, cfg.AI)
		if err != nil {
			slots.Close()
			return nil, fmt.Errorf("failed to create AI invoker: %w", err)
		}
	}

	buf := cfg.Executor.EventBuffer
	if buf <= 0 {
		buf = 100
	}

	a := &App{
		Config:    cfg,
		Slots:     slots,
		Pipelines: pipeline.NewStore(ctx, slots),
		Research:  research.NewStore(ctx, slots),
		Invoker:   inv,
		Templates: templates,
		events:    make(chan protocol.Event, buf),
	}
	a.Executor = executor.New(a.Pipelines, a.Research, inv, executor.WithEvents(a.events))

	recOpts := []recovery.Option{recovery.WithEvents(a.events)}
	if !cfg.Executor.CapRetryAll {
		recOpts = append(recOpts, recovery.WithUncappedRetryAll())
	}
	if o.offline {
		a.Recovery = recovery.New(a.Pipelines, a.Executor, nil, cfg.Executor.MaxRecoveryAttempts, recOpts...)
	} else {
		a.Conn = connection.NewManager(cfg.Connection, cfg.Breaker, a.Pipelines)
		a.Recovery = recovery.New(a.Pipelines, a.Executor, a.Conn, cfg.Executor.MaxRecoveryAttempts, recOpts...)
		a.Conn.OnStateChange(a.onConnectionState)
	}

	a.Pipelines.OnChange(a.onPipelineChange)
	a.Research.OnChange(a.onContextChange)

	getLog().Info().
		Int("pipelines", len(a.Pipelines.Pipelines())).
		Int("templates", len(templates)).
		Bool("offline", o.offline).
		Msg("Application initialised")
	return a, nil
}

// Events returns the stream of everything UI surfaces need to re-render.
func (a *App) Events() <-chan protocol.Event {
	return a.events
}

// Start connects to the backend. It is a no-op when offline.
func (a *App) Start(ctx context.Context) {
	if a.Conn != nil {
		a.Conn.Start(ctx)
	}
}

// Close tears down the connection and closes the slot store.
func (a *App) Close() error {
	if a.Conn != nil {
		a.Conn.Close()
	}
	var errs []error
	if err := a.Slots.Close(); err != nil {
		errs = append(errs, fmt.Errorf("close storage: %w", err))
	}
	return errors.Join(errs...)
}

// Emit publishes ev next to the components' own events. It never blocks.
func (a *App) Emit(ev protocol.Event) {
	select {
	case a.events <- ev:
	default:
		getLog().Warn().Str("event_type", fmt.Sprintf("%T", ev)).Msg("Event channel full, dropping event")
	}
}

func (a *App) onPipelineChange(pipelineID string) {
	p, ok := a.Pipelines.Pipeline(pipelineID)
	if !ok {
		a.Recovery.Forget(pipelineID)
		a.Executor.Forget(pipelineID)
		a.Emit(protocol.PipelineDeletedEvent{
			Metadata:   protocol.NewMetadata(""),
			PipelineID: pipelineID,
		})
		return
	}
	a.Emit(protocol.PipelineUpdatedEvent{
		Metadata: protocol.NewMetadata(""),
		Pipeline: p,
		Paused:   a.Pipelines.IsPausedFor(pipelineID),
	})
}

func (a *App) onContextChange() {
	a.Emit(protocol.ContextUpdatedEvent{Metadata: protocol.NewMetadata("")})
}

func (a *App) onConnectionState(s connection.State) {
	snap := a.Conn.CircuitBreakerState()
	a.Emit(protocol.ConnectionStateEvent{
		Metadata:     protocol.NewMetadata(""),
		State:        string(s),
		BreakerState: string(snap.State),
		FailureCount: snap.FailureCount,
	})
}
