// Copyright (C) 2026 Noldarim
// SPDX-License-Identifier: AGPL-3.0-or-later

package protocol

// GetPipelineID methods allow the API server's WebSocket filter to match
// events without maintaining an exhaustive type switch.

func (e PipelineLifecycleEvent) GetPipelineID() string { return e.PipelineID }
func (e PipelineUpdatedEvent) GetPipelineID() string   { return e.Pipeline.ID }
func (e PipelineDeletedEvent) GetPipelineID() string   { return e.PipelineID }
func (e RecoveryStatusEvent) GetPipelineID() string    { return e.PipelineID }
