// Copyright (C) 2026 Noldarim
// SPDX-License-Identifier: AGPL-3.0-or-later

package protocol

import (
	"fmt"

	"github.com/noldarim/inkwell/internal/models"
)

// PipelineLifecycleType defines the type of pipeline lifecycle event
type PipelineLifecycleType string

const (
	// PipelineStepStarted - a step has been marked running and its request sent
	PipelineStepStarted PipelineLifecycleType = "step_started"
	// PipelineStepCompleted - a step's request succeeded
	PipelineStepCompleted PipelineLifecycleType = "step_completed"
	// PipelineStepFailed - a step's request failed; execution halted
	PipelineStepFailed PipelineLifecycleType = "step_failed"
	// PipelinePaused - execution stopped at a step boundary because of a pause flag
	PipelinePaused PipelineLifecycleType = "paused"
	// PipelineFinished - every step is completed
	PipelineFinished PipelineLifecycleType = "finished"
)

// PipelineLifecycleEvent reports progress of an executing pipeline.
type PipelineLifecycleEvent struct {
	Metadata
	Type       PipelineLifecycleType `json:"type"`
	PipelineID string                `json:"pipeline_id"`
	Name       string                `json:"name,omitempty"`

	// Step info (populated for step-related events)
	StepID    string          `json:"step_id,omitempty"`
	StepIndex int             `json:"step_index"`
	StepName  string          `json:"step_name,omitempty"`
	StepType  models.StepType `json:"step_type,omitempty"`

	// Result is set for step_completed, Error for step_failed
	Result any    `json:"result,omitempty"`
	Error  string `json:"error,omitempty"`
}

func (e PipelineLifecycleEvent) GetMetadata() Metadata {
	return e.Metadata
}

// LifecycleKey builds the idempotency key for a lifecycle transition.
func LifecycleKey(pipelineID, stepID string, t PipelineLifecycleType, attempt int) string {
	return fmt.Sprintf("%s:%s:%s:%d", pipelineID, stepID, t, attempt)
}
