// Copyright (C) 2026 Noldarim
// SPDX-License-Identifier: AGPL-3.0-or-later

package testutil

import (
	"testing"
	"time"

	"github.com/noldarim/inkwell/internal/models"
	"github.com/noldarim/inkwell/internal/pipeline"
	"github.com/stretchr/testify/assert"
)

// WaitForStepStatus waits until the step at index reaches status
func WaitForStepStatus(t *testing.T, store *pipeline.Store, pipelineID string, index int, status models.StepStatus) {
	t.Helper()
	assert.Eventually(t, func() bool {
		p, ok := store.Pipeline(pipelineID)
		return ok && index < len(p.Steps) && p.Steps[index].Status == status
	}, 2*time.Second, 5*time.Millisecond, "step %d never reached %s", index, status)
}
