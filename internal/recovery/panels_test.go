// Copyright (C) 2026 Noldarim
// SPDX-License-Identifier: AGPL-3.0-or-later

package recovery

import (
	"testing"

	"github.com/noldarim/inkwell/internal/models"
	"github.com/noldarim/inkwell/test/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type idleExecutor struct{ Executor }

func (idleExecutor) IsExecuting(string) bool { return false }

func TestUnknownPipelinesLeaveNoPanel(t *testing.T) {
	stores := testutil.NewStores(t)
	c := New(stores.Pipelines, idleExecutor{}, nil, 3)

	st := c.Status("no-such-pipeline")
	assert.Equal(t, ModeNone, st.Mode)
	assert.False(t, st.Visible)
	c.Dismiss("no-such-pipeline")
	assert.Empty(t, c.panels)

	p := testutil.NewPipeline(t, stores.Pipelines, "p", models.StepTypeBrainstorm)
	c.Dismiss(p.ID)
	require.Len(t, c.panels, 1)

	require.NoError(t, stores.Pipelines.DeletePipeline(p.ID))
	c.Forget(p.ID)
	c.Status(p.ID)
	assert.Empty(t, c.panels)
}
