// Copyright (C) 2026 Noldarim
// SPDX-License-Identifier: AGPL-3.0-or-later

package models

import (
	"maps"
	"time"
)

// PipelineStatus represents the status of a pipeline
type PipelineStatus string

const (
	PipelineStatusIdle      PipelineStatus = "idle"
	PipelineStatusRunning   PipelineStatus = "running"
	PipelineStatusPaused    PipelineStatus = "paused"
	PipelineStatusError     PipelineStatus = "error"
	PipelineStatusCompleted PipelineStatus = "completed"
)

func (s PipelineStatus) String() string {
	return string(s)
}

// StepStatus represents the status of a single step
type StepStatus string

const (
	StepStatusPending   StepStatus = "pending"
	StepStatusRunning   StepStatus = "running"
	StepStatusCompleted StepStatus = "completed"
	StepStatusError     StepStatus = "error"
)

func (s StepStatus) String() string {
	return string(s)
}

// IsValid reports whether s is one of the four step statuses.
func (s StepStatus) IsValid() bool {
	switch s {
	case StepStatusPending, StepStatusRunning, StepStatusCompleted, StepStatusError:
		return true
	}
	return false
}

// Pipeline is one multi-stage writing/research workflow and its steps.
type Pipeline struct {
	ID               string         `json:"id"`
	Name             string         `json:"name"`
	TemplateID       string         `json:"templateId,omitempty"`
	Status           PipelineStatus `json:"status"`
	Steps            []Step         `json:"steps"`
	CurrentStepIndex int            `json:"currentStepIndex"`
	CreatedAt        time.Time      `json:"createdAt"`
}

// Step is a single unit of AI work inside a pipeline.
type Step struct {
	ID          string         `json:"id"`
	Type        StepType       `json:"type"`
	Name        string         `json:"name"`
	Description string         `json:"description,omitempty"`
	Params      map[string]any `json:"params,omitempty"`
	Status      StepStatus     `json:"status"`
	Result      any            `json:"result"`
	Error       string         `json:"error,omitempty"`
}

// StepSpec is the caller-supplied shape of a step before it joins a pipeline.
// Status is accepted for compatibility but never honoured: new steps are pending.
type StepSpec struct {
	Type        StepType       `json:"type" yaml:"type"`
	Name        string         `json:"name" yaml:"name"`
	Description string         `json:"description,omitempty" yaml:"description"`
	Params      map[string]any `json:"params,omitempty" yaml:"params"`
	Status      StepStatus     `json:"status,omitempty" yaml:"-"`
}

// Clone returns a deep copy of the pipeline's step slice and params maps.
// Results are copied by reference.
func (p Pipeline) Clone() Pipeline {
	out := p
	if p.Steps != nil {
		out.Steps = make([]Step, len(p.Steps))
		for i, s := range p.Steps {
			out.Steps[i] = s.Clone()
		}
	}
	return out
}

// Clone returns a copy of the step with its own params map.
func (s Step) Clone() Step {
	out := s
	if s.Params != nil {
		out.Params = maps.Clone(s.Params)
	}
	return out
}

// StepIndex returns the position of the step with the given id, or -1.
func (p *Pipeline) StepIndex(stepID string) int {
	for i := range p.Steps {
		if p.Steps[i].ID == stepID {
			return i
		}
	}
	return -1
}

// FirstIncompleteStep returns the index of the first step that is not
// completed, or len(Steps) when every step is done.
func (p *Pipeline) FirstIncompleteStep() int {
	for i := range p.Steps {
		if p.Steps[i].Status != StepStatusCompleted {
			return i
		}
	}
	return len(p.Steps)
}

// FirstErrorStep returns the index of the first step in error, or -1.
func (p *Pipeline) FirstErrorStep() int {
	for i := range p.Steps {
		if p.Steps[i].Status == StepStatusError {
			return i
		}
	}
	return -1
}

// HasErrors reports whether any step is in error.
func (p *Pipeline) HasErrors() bool {
	return p.FirstErrorStep() >= 0
}

// RunningCount returns the number of steps currently running.
func (p *Pipeline) RunningCount() int {
	n := 0
	for i := range p.Steps {
		if p.Steps[i].Status == StepStatusRunning {
			n++
		}
	}
	return n
}

// IsComplete reports whether the pipeline has steps and all of them completed.
func (p *Pipeline) IsComplete() bool {
	return len(p.Steps) > 0 && p.FirstIncompleteStep() == len(p.Steps)
}

// DeriveStatus computes the pipeline status implied by its steps.
// A paused pipeline stays paused until a step starts running again.
func (p *Pipeline) DeriveStatus() PipelineStatus {
	switch {
	case p.RunningCount() > 0:
		return PipelineStatusRunning
	case p.HasErrors():
		return PipelineStatusError
	case p.IsComplete():
		return PipelineStatusCompleted
	case p.Status == PipelineStatusPaused:
		return PipelineStatusPaused
	default:
		return PipelineStatusIdle
	}
}
