// Copyright (C) 2026 Noldarim
// SPDX-License-Identifier: AGPL-3.0-or-later

package executor

import (
	"context"
	"fmt"

	"github.com/noldarim/inkwell/internal/models"
	"github.com/noldarim/inkwell/internal/pipeline"
)

// RetryStep returns the first step in error to pending and starts the pipeline again.
func (e *Executor) RetryStep(ctx context.Context, pipelineID string) error {
	step, err := e.firstErrorStep(pipelineID)
	if err != nil {
		return err
	}
	getLog().Info().Str("pipeline_id", pipelineID).Str("step_id", step.ID).Msg("Retrying step")
	e.pipelines.UpdateStepStatus(pipelineID, step.ID, models.StepStatusPending)
	return e.Start(ctx, pipelineID)
}

// SkipStep marks the first step in error completed, with no result, and
// starts the pipeline again from the step after it.
func (e *Executor) SkipStep(ctx context.Context, pipelineID string) error {
	step, err := e.firstErrorStep(pipelineID)
	if err != nil {
		return err
	}
	getLog().Info().Str("pipeline_id", pipelineID).Str("step_id", step.ID).Msg("Skipping step")
	e.pipelines.UpdateStepStatus(pipelineID, step.ID, models.StepStatusCompleted)
	return e.Start(ctx, pipelineID)
}

// RetryAll returns every step in error to pending and starts the pipeline
// again. Pending and completed steps are left as they are.
func (e *Executor) RetryAll(ctx context.Context, pipelineID string) error {
	p, ok := e.pipelines.Pipeline(pipelineID)
	if !ok {
		return fmt.Errorf("retry all %s: %w", pipelineID, pipeline.ErrPipelineNotFound)
	}
	n := 0
	for _, s := range p.Steps {
		if s.Status == models.StepStatusError {
			e.pipelines.UpdateStepStatus(pipelineID, s.ID, models.StepStatusPending)
			n++
		}
	}
	getLog().Info().Str("pipeline_id", pipelineID).Int("reset_steps", n).Msg("Retrying all failed steps")
	return e.Start(ctx, pipelineID)
}

func (e *Executor) firstErrorStep(pipelineID string) (models.Step, error) {
	p, ok := e.pipelines.Pipeline(pipelineID)
	if !ok {
		return models.Step{}, fmt.Errorf("%s: %w", pipelineID, pipeline.ErrPipelineNotFound)
	}
	idx := p.FirstErrorStep()
	if idx < 0 {
		return models.Step{}, fmt.Errorf("%s: %w", pipelineID, ErrNoErrorStep)
	}
	return p.Steps[idx], nil
}
