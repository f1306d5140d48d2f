// Copyright (C) 2026 Noldarim
// SPDX-License-Identifier: AGPL-3.0-or-later

package testutil

import (
	"testing"

	"github.com/noldarim/inkwell/internal/models"
	"github.com/noldarim/inkwell/internal/pipeline"
	"github.com/noldarim/inkwell/internal/protocol"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// StepStatuses returns the status of every step of pipelineID, in order
func StepStatuses(t *testing.T, store *pipeline.Store, pipelineID string) []models.StepStatus {
	t.Helper()
	p, ok := store.Pipeline(pipelineID)
	require.True(t, ok, "pipeline %s not found", pipelineID)
	out := make([]models.StepStatus, len(p.Steps))
	for i, s := range p.Steps {
		out[i] = s.Status
	}
	return out
}

// AssertStepStatuses verifies the status of every step, in order
func AssertStepStatuses(t *testing.T, store *pipeline.Store, pipelineID string, expected ...models.StepStatus) {
	t.Helper()
	assert.Equal(t, expected, StepStatuses(t, store, pipelineID), "step statuses mismatch")
}

// AssertPipelineStatus verifies the pipeline-level status
func AssertPipelineStatus(t *testing.T, store *pipeline.Store, pipelineID string, expected models.PipelineStatus) {
	t.Helper()
	p, ok := store.Pipeline(pipelineID)
	require.True(t, ok, "pipeline %s not found", pipelineID)
	assert.Equal(t, expected, p.Status, "pipeline status mismatch")
}

// AssertAtMostOneRunning verifies no pipeline has two running steps
func AssertAtMostOneRunning(t *testing.T, store *pipeline.Store) {
	t.Helper()
	for _, p := range store.Pipelines() {
		assert.LessOrEqual(t, p.RunningCount(), 1, "pipeline %s has concurrent running steps", p.ID)
	}
}

// AssertLifecycle verifies the captured lifecycle event types, in order
func AssertLifecycle(t *testing.T, capture *EventCapture, expected ...protocol.PipelineLifecycleType) {
	t.Helper()
	assert.Equal(t, expected, capture.LifecycleTypes(), "lifecycle events mismatch")
}
