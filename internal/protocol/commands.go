// Copyright (C) 2025-2026 Noldarim
// SPDX-License-Identifier: AGPL-3.0-or-later

// Here lies the definition of the data the core can receive from UI surfaces.
// All data received from a surface is named: Command.
//
// Commands should be simple high level objects which tell the core which end
// goal is required. They do not carry ids or timestamps the core assigns itself.
package protocol

import "github.com/noldarim/inkwell/internal/models"

// Command represents commands that can be sent to the core
type Command interface {
	GetBaseMessage() Metadata
}

// CreatePipelineCommand creates a pipeline, from a template when TemplateID is set.
type CreatePipelineCommand struct {
	Metadata
	Name       string         `json:"name"`
	TemplateID string         `json:"template_id,omitempty"`
	Params     map[string]any `json:"params,omitempty"`
}

func (c CreatePipelineCommand) GetBaseMessage() Metadata {
	return c.Metadata
}

// AddStepCommand appends a step to a pipeline. PipelineID may be left empty
// when the pipeline is already addressed by the request path.
type AddStepCommand struct {
	Metadata
	PipelineID string          `json:"pipeline_id,omitempty"`
	Step       models.StepSpec `json:"step"`
}

func (c AddStepCommand) GetBaseMessage() Metadata {
	return c.Metadata
}

// UpdateContextCommand sets one research context field
type UpdateContextCommand struct {
	Metadata
	Key   string `json:"key"`
	Value any    `json:"value"`
}

func (c UpdateContextCommand) GetBaseMessage() Metadata {
	return c.Metadata
}
