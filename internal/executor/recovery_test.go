// Copyright (C) 2026 Noldarim
// SPDX-License-Identifier: AGPL-3.0-or-later

package executor_test

import (
	"context"
	"testing"

	"github.com/noldarim/inkwell/internal/executor"
	"github.com/noldarim/inkwell/internal/models"
	"github.com/noldarim/inkwell/internal/pipeline"
	"github.com/noldarim/inkwell/test/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRetryStep(t *testing.T) {
	h := newHarness(t)
	h.invoker.On(models.StepTypeStructure, testutil.Fail("timeout"))
	p := testutil.NewPipeline(t, h.stores.Pipelines, "p",
		models.StepTypeBrainstorm, models.StepTypeStructure, models.StepTypeConclusion)
	ctx := context.Background()

	require.NoError(t, h.exec.Start(ctx, p.ID))
	testutil.AssertStepStatuses(t, h.stores.Pipelines, p.ID, completed, failed, pending)

	require.NoError(t, h.exec.RetryStep(ctx, p.ID))
	testutil.AssertStepStatuses(t, h.stores.Pipelines, p.ID, completed, completed, completed)
	assert.Equal(t, 2, h.invoker.CallCount(models.StepTypeStructure))
	assert.Equal(t, 1, h.invoker.CallCount(models.StepTypeBrainstorm))

	assert.ErrorIs(t, h.exec.RetryStep(ctx, p.ID), executor.ErrNoErrorStep)
}

func TestSkipStep(t *testing.T) {
	h := newHarness(t)
	h.invoker.On(models.StepTypeLiterature, testutil.Fail("no sources"))
	p := testutil.NewPipeline(t, h.stores.Pipelines, "p",
		models.StepTypeHypothesis, models.StepTypeLiterature, models.StepTypeMethodology)
	ctx := context.Background()

	require.NoError(t, h.exec.Start(ctx, p.ID))
	require.NoError(t, h.exec.SkipStep(ctx, p.ID))

	testutil.AssertStepStatuses(t, h.stores.Pipelines, p.ID, completed, completed, completed)
	got, _ := h.stores.Pipelines.Pipeline(p.ID)
	assert.Nil(t, got.Steps[1].Result)
	assert.Empty(t, got.Steps[1].Error)
	assert.Equal(t, 1, h.invoker.CallCount(models.StepTypeLiterature))
	assert.Equal(t, 1, h.invoker.CallCount(models.StepTypeMethodology))
	assert.Empty(t, h.stores.Research.Snapshot().LiteratureReviews)
}

func TestRetryAll_OnlyErrorStepsReset(t *testing.T) {
	h := newHarness(t)
	p := testutil.NewPipeline(t, h.stores.Pipelines, "p",
		models.StepTypeBrainstorm, models.StepTypeHypothesis, models.StepTypeConclusion)
	h.stores.Pipelines.UpdateStepStatus(p.ID, p.Steps[1].ID, models.StepStatusError, pipeline.WithError("earlier failure"))
	testutil.AssertStepStatuses(t, h.stores.Pipelines, p.ID, pending, failed, pending)

	require.NoError(t, h.exec.RetryAll(context.Background(), p.ID))

	testutil.AssertStepStatuses(t, h.stores.Pipelines, p.ID, completed, completed, completed)
	calls := h.invoker.Calls()
	require.Len(t, calls, 3)
	assert.Equal(t, models.StepTypeBrainstorm, calls[0].StepType)
}

func TestRecoveryPrimitives_UnknownPipeline(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	assert.ErrorIs(t, h.exec.RetryStep(ctx, "nope"), pipeline.ErrPipelineNotFound)
	assert.ErrorIs(t, h.exec.SkipStep(ctx, "nope"), pipeline.ErrPipelineNotFound)
	assert.ErrorIs(t, h.exec.RetryAll(ctx, "nope"), pipeline.ErrPipelineNotFound)
}
