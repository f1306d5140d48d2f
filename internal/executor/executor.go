// Copyright (C) 2026 Noldarim
// SPDX-License-Identifier: AGPL-3.0-or-later

package executor

import (
	"context"
	"fmt"
	"sync"

	"github.com/noldarim/inkwell/internal/ai"
	"github.com/noldarim/inkwell/internal/logger"
	"github.com/noldarim/inkwell/internal/models"
	"github.com/noldarim/inkwell/internal/pipeline"
	"github.com/noldarim/inkwell/internal/protocol"
	"github.com/noldarim/inkwell/internal/research"
	"github.com/rs/zerolog"
	"github.com/samber/lo"
)

var (
	log     *zerolog.Logger
	logOnce sync.Once
)

func getLog() *zerolog.Logger {
	logOnce.Do(func() {
		l := logger.GetExecutorLogger()
		log = &l
	})
	return log
}

// PipelineStore is the part of the pipeline store the executor drives.
type PipelineStore interface {
	Pipeline(pipelineID string) (models.Pipeline, bool)
	UpdateStepStatus(pipelineID, stepID string, status models.StepStatus, opts ...pipeline.StepOption)
	SetPipelineStatus(pipelineID string, status models.PipelineStatus) error
	IsPausedFor(pipelineID string) bool
}

// ContextStore is the part of the research context store the executor reads
// step context from and records step output into.
type ContextStore interface {
	GetContextForStep(stepType models.StepType) map[string]any
	UpdateResearchContext(key string, value any)
	AddGeneratedIdea(stepID string, content any) research.Artifact
	AddHypothesis(stepID string, content any) research.Artifact
	AddLiteratureReview(stepID string, content any) research.Artifact
	AddAnalysis(stepID string, content any) research.Artifact
	AddStyleImprovement(stepID string, content any) research.Artifact
}

// Executor runs pipelines one step at a time.
type Executor struct {
	pipelines PipelineStore
	research  ContextStore
	invoker   ai.Invoker
	events    chan<- protocol.Event

	mu       sync.Mutex
	running  map[string]struct{}
	attempts map[string]map[string]int // pipeline id -> attempt key -> count
}

// Option configures an Executor.
type Option func(*Executor)

// WithEvents makes the executor publish lifecycle events on ch. Sends never
// block; events are dropped when ch is full.
func WithEvents(ch chan<- protocol.Event) Option {
	return func(e *Executor) {
		e.events = ch
	}
}

// New creates an executor over the given stores and invoker.
func New(pipelines PipelineStore, rc ContextStore, invoker ai.Invoker, opts ...Option) *Executor {
	e := &Executor{
		pipelines: pipelines,
		research:  rc,
		invoker:   invoker,
		running:   make(map[string]struct{}),
		attempts:  make(map[string]map[string]int),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// IsExecuting reports whether a Start loop is active for pipelineID.
func (e *Executor) IsExecuting(pipelineID string) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	_, ok := e.running[pipelineID]
	return ok
}

// Executing returns the ids of all pipelines with an active loop.
func (e *Executor) Executing() []string {
	e.mu.Lock()
	defer e.mu.Unlock()
	return lo.Keys(e.running)
}

func (e *Executor) acquire(pipelineID string) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	if _, ok := e.running[pipelineID]; ok {
		return false
	}
	e.running[pipelineID] = struct{}{}
	return true
}

func (e *Executor) release(pipelineID string) {
	e.mu.Lock()
	delete(e.running, pipelineID)
	e.mu.Unlock()
}

func (e *Executor) nextAttempt(pipelineID, key string) int {
	e.mu.Lock()
	defer e.mu.Unlock()
	counts, ok := e.attempts[pipelineID]
	if !ok {
		counts = make(map[string]int)
		e.attempts[pipelineID] = counts
	}
	counts[key]++
	return counts[key]
}

// Forget drops the attempt counters of a deleted pipeline.
func (e *Executor) Forget(pipelineID string) {
	e.mu.Lock()
	delete(e.attempts, pipelineID)
	e.mu.Unlock()
}

// Start runs pipelineID from its first non-completed step until every step
// is completed, a step fails, or a pause flag is seen at a step boundary.
// It blocks for the whole run and returns nil when another loop already
// owns the pipeline. Step failures are recorded on the step, not returned;
// only an unknown step type, a missing pipeline or ctx cancellation produce
// an error.
func (e *Executor) Start(ctx context.Context, pipelineID string) error {
	l := getLog().With().Str("pipeline_id", pipelineID).Logger()

	if !e.acquire(pipelineID) {
		l.Debug().Msg("Pipeline already executing, ignoring start")
		return nil
	}
	defer e.release(pipelineID)

	l.Info().Msg("Pipeline execution started")
	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		p, ok := e.pipelines.Pipeline(pipelineID)
		if !ok {
			return fmt.Errorf("start %s: %w", pipelineID, pipeline.ErrPipelineNotFound)
		}

		idx := p.FirstIncompleteStep()
		if idx >= len(p.Steps) {
			l.Info().Int("steps", len(p.Steps)).Msg("Pipeline finished")
			e.emit(protocol.PipelineLifecycleEvent{
				Metadata:   protocol.NewMetadata(protocol.LifecycleKey(p.ID, "", protocol.PipelineFinished, len(p.Steps))),
				Type:       protocol.PipelineFinished,
				PipelineID: p.ID,
				Name:       p.Name,
				StepIndex:  len(p.Steps),
			})
			return nil
		}

		if e.pipelines.IsPausedFor(pipelineID) {
			if err := e.pipelines.SetPipelineStatus(pipelineID, models.PipelineStatusPaused); err != nil {
				return fmt.Errorf("pause %s: %w", pipelineID, err)
			}
			l.Info().Int("step_index", idx).Msg("Pipeline paused at step boundary")
			e.emit(protocol.PipelineLifecycleEvent{
				Metadata:   protocol.NewMetadata(protocol.LifecycleKey(p.ID, p.Steps[idx].ID, protocol.PipelinePaused, e.nextAttempt(p.ID, p.Steps[idx].ID+":pause"))),
				Type:       protocol.PipelinePaused,
				PipelineID: p.ID,
				Name:       p.Name,
				StepID:     p.Steps[idx].ID,
				StepIndex:  idx,
			})
			return nil
		}

		ok, err := e.runStep(ctx, p, idx)
		if err != nil {
			return err
		}
		if !ok {
			return nil
		}
	}
}

// runStep executes p.Steps[idx] and reports whether the loop may continue.
func (e *Executor) runStep(ctx context.Context, p models.Pipeline, idx int) (bool, error) {
	step := p.Steps[idx]
	l := getLog().With().
		Str("pipeline_id", p.ID).
		Str("step_id", step.ID).
		Str("step_type", string(step.Type)).
		Int("step_index", idx).
		Logger()

	attempt := e.nextAttempt(p.ID, step.ID)
	event := func(t protocol.PipelineLifecycleType) protocol.PipelineLifecycleEvent {
		return protocol.PipelineLifecycleEvent{
			Metadata:   protocol.NewMetadata(protocol.LifecycleKey(p.ID, step.ID, t, attempt)),
			Type:       t,
			PipelineID: p.ID,
			Name:       p.Name,
			StepID:     step.ID,
			StepIndex:  idx,
			StepName:   step.Name,
			StepType:   step.Type,
		}
	}

	handler, known := dispatch[step.Type]
	if !known {
		stepErr := &StepError{Kind: UnknownStepType, StepID: step.ID, StepType: step.Type}
		l.Error().Err(stepErr).Msg("Aborting pipeline run")
		e.pipelines.UpdateStepStatus(p.ID, step.ID, models.StepStatusError, pipeline.WithError(stepErr.Error()))
		ev := event(protocol.PipelineStepFailed)
		ev.Error = stepErr.Error()
		e.emit(ev)
		return false, stepErr
	}

	e.pipelines.UpdateStepStatus(p.ID, step.ID, models.StepStatusRunning)
	e.emit(event(protocol.PipelineStepStarted))
	l.Info().Int("attempt", attempt).Msg("Step started")

	stepCtx := e.research.GetContextForStep(step.Type)
	res, err := e.invoker.Invoke(ctx, step.Type, step.Params, stepCtx)

	if ctx.Err() != nil {
		// Interrupted by shutdown: the step never finished, so it goes back to pending.
		e.pipelines.UpdateStepStatus(p.ID, step.ID, models.StepStatusPending)
		l.Warn().Err(ctx.Err()).Msg("Step interrupted")
		return false, ctx.Err()
	}

	var reason string
	switch {
	case err != nil:
		reason = err.Error()
	case !res.Success:
		reason = res.Error
		if reason == "" {
			reason = "request failed"
		}
	}
	if reason != "" {
		stepErr := &StepError{Kind: RequestFailed, StepID: step.ID, StepType: step.Type, Reason: reason}
		l.Warn().Err(stepErr).Msg("Step failed, halting pipeline")
		e.pipelines.UpdateStepStatus(p.ID, step.ID, models.StepStatusError, pipeline.WithError(reason))
		ev := event(protocol.PipelineStepFailed)
		ev.Error = reason
		e.emit(ev)
		return false, nil
	}

	handler(e.research, step, res.Data)
	e.pipelines.UpdateStepStatus(p.ID, step.ID, models.StepStatusCompleted, pipeline.WithResult(res.Data))
	ev := event(protocol.PipelineStepCompleted)
	ev.Result = res.Data
	e.emit(ev)
	l.Info().Msg("Step completed")
	return true, nil
}

func (e *Executor) emit(ev protocol.Event) {
	if e.events == nil {
		return
	}
	select {
	case e.events <- ev:
	default:
		getLog().Warn().Str("event_type", fmt.Sprintf("%T", ev)).Msg("Event channel full, dropping event")
	}
}
