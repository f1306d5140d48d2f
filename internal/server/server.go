// Copyright (C) 2026 Noldarim
// SPDX-License-Identifier: AGPL-3.0-or-later

package server

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/noldarim/inkwell/internal/app"
	"github.com/noldarim/inkwell/internal/config"
)

// Server is the REST + WebSocket API server.
type Server struct {
	httpServer  *http.Server
	broadcaster *EventBroadcaster
	registry    *ClientRegistry
	cancelRuns  context.CancelFunc
}

// New creates and wires up the API server. It does NOT start listening,
// call Run() for that.
func New(cfg *config.ServerConfig, a *app.App) *Server {
	registry := NewClientRegistry()
	broadcaster := NewEventBroadcaster(a.Events(), registry)

	runCtx, cancel := context.WithCancel(context.Background())
	deps := Deps{
		Pipelines: a.Pipelines,
		Research:  a.Research,
		Executor:  a.Executor,
		Recovery:  a.Recovery,
		Templates: a.Templates,
		Emit:      a.Emit,
	}
	if a.Conn != nil {
		deps.Conn = a.Conn
	}

	return &Server{
		httpServer: &http.Server{
			Addr:              fmt.Sprintf("%s:%d", cfg.Host, cfg.Port),
			Handler:           NewRouter(cfg, NewHandlers(runCtx, deps), registry),
			ReadHeaderTimeout: 5 * time.Second,
			ReadTimeout:       15 * time.Second,
			WriteTimeout:      30 * time.Second,
			IdleTimeout:       60 * time.Second,
		},
		broadcaster: broadcaster,
		registry:    registry,
		cancelRuns:  cancel,
	}
}

// NewRouter builds the HTTP routes around handlers.
func NewRouter(cfg *config.ServerConfig, h *Handlers, registry *ClientRegistry) http.Handler {
	r := chi.NewRouter()

	r.Use(RequestID)
	r.Use(Recovery)
	r.Use(Logger)
	r.Use(CORS(cfg.AllowedOrigins))
	r.Use(middleware.RequestSize(1 << 20))

	r.Route("/api/v1", func(r chi.Router) {
		r.Get("/templates", h.GetTemplates)

		r.Get("/pipelines", h.GetPipelines)
		r.Post("/pipelines", h.CreatePipeline)

		r.Route("/pipelines/{id}", func(r chi.Router) {
			r.Get("/", h.GetPipeline)
			r.Delete("/", h.DeletePipeline)
			r.Post("/steps", h.AddStep)
			r.Post("/start", h.StartPipeline)
			r.Post("/reset", h.ResetPipeline)
			r.Post("/pause", h.PausePipeline)
			r.Post("/resume", h.ResumePipeline)

			r.Get("/recovery", h.GetRecovery)
			r.Post("/recovery/dismiss", h.DismissRecovery)
			r.Post("/recovery/{action}", h.DispatchRecovery)
		})

		r.Get("/context", h.GetContext)
		r.Put("/context", h.UpdateContext)
		r.Delete("/context", h.ClearContext)

		r.Get("/connection", h.GetConnection)
		r.Post("/connection/reconnect", h.Reconnect)
	})

	r.Get("/ws", HandleWebSocket(registry, cfg.AllowedOrigins, h.snapshot))
	return r
}

// Run starts the event broadcaster goroutine and the HTTP server.
// Blocks until the server is shut down or the context is cancelled.
func (s *Server) Run(ctx context.Context) error {
	go func() {
		const maxRetries = 3
		for attempt := 1; attempt <= maxRetries; attempt++ {
			func() {
				defer func() {
					if r := recover(); r != nil {
						getLog().Error().Interface("panic", r).Int("attempt", attempt).Msg("Event broadcaster panic")
					}
				}()
				s.broadcaster.Run(ctx)
			}()

			if ctx.Err() != nil {
				return
			}
			if attempt < maxRetries {
				getLog().Warn().Int("attempt", attempt).Msg("Restarting event broadcaster after panic")
				time.Sleep(time.Second)
			}
		}
		getLog().Error().Msg("Event broadcaster exhausted retries, events will no longer be dispatched")
	}()

	getLog().Info().Str("addr", s.httpServer.Addr).Msg("API server listening")
	err := s.httpServer.ListenAndServe()
	if err == http.ErrServerClosed {
		return nil
	}
	return err
}

// Shutdown stops running pipelines and gracefully stops the HTTP server.
func (s *Server) Shutdown(ctx context.Context) error {
	s.cancelRuns()
	return s.httpServer.Shutdown(ctx)
}
