// Copyright (C) 2026 Noldarim
// SPDX-License-Identifier: AGPL-3.0-or-later

// Here lies the definition of the data the core can send to UI surfaces.
// All data a surface can receive is named: Event.
// Events originate either from Commands (CreatePipelineCommand results in a
// PipelineUpdatedEvent) or from independent sources such as the executor
// loop or the connection manager.
package protocol

import (
	"github.com/noldarim/inkwell/internal/models"
)

// GetIdempotencyKey extracts the idempotency key from any event
func GetIdempotencyKey(event Event) string {
	return event.GetMetadata().IdempotencyKey
}

// PipelineUpdatedEvent carries the new state of a pipeline after any store mutation.
type PipelineUpdatedEvent struct {
	Metadata
	Pipeline models.Pipeline `json:"pipeline"`
	Paused   bool            `json:"paused"`
}

func (e PipelineUpdatedEvent) GetMetadata() Metadata {
	return e.Metadata
}

// PipelineDeletedEvent is sent when a pipeline has been removed
type PipelineDeletedEvent struct {
	Metadata
	PipelineID string `json:"pipeline_id"`
}

func (e PipelineDeletedEvent) GetMetadata() Metadata {
	return e.Metadata
}

// ConnectionStateEvent is sent on every backend connection state transition.
type ConnectionStateEvent struct {
	Metadata
	State        string `json:"state"`
	BreakerState string `json:"breaker_state"`
	FailureCount int    `json:"failure_count"`
}

func (e ConnectionStateEvent) GetMetadata() Metadata {
	return e.Metadata
}

// ContextUpdatedEvent is sent when the research context changes.
type ContextUpdatedEvent struct {
	Metadata
}

func (e ContextUpdatedEvent) GetMetadata() Metadata {
	return e.Metadata
}

// RecoveryStatusEvent is sent after a recovery action has been dispatched.
type RecoveryStatusEvent struct {
	Metadata
	PipelineID string `json:"pipeline_id"`
	Mode       string `json:"mode"`
	Visible    bool   `json:"visible"`
	Attempts   int    `json:"attempts"`
	Message    string `json:"message,omitempty"`
}

func (e RecoveryStatusEvent) GetMetadata() Metadata {
	return e.Metadata
}

// ErrorEvent is sent when an operation fails outside any request.
type ErrorEvent struct {
	Metadata
	Message string `json:"message"`
	Context string `json:"context,omitempty"`
}

func (e ErrorEvent) GetMetadata() Metadata {
	return e.Metadata
}
