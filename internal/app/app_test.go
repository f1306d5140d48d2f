// Copyright (C) 2026 Noldarim
// SPDX-License-Identifier: AGPL-3.0-or-later

package app

import (
	"context"
	"testing"
	"time"

	"github.com/noldarim/inkwell/internal/config"
	"github.com/noldarim/inkwell/internal/models"
	"github.com/noldarim/inkwell/internal/protocol"
	"github.com/noldarim/inkwell/internal/storage"
	"github.com/noldarim/inkwell/test/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newOffline(t *testing.T, inv *testutil.ScriptedInvoker) *App {
	t.Helper()
	a, err := New(context.Background(), config.Default(),
		WithSlots(storage.NewMemoryStore()),
		WithInvoker(inv),
		Offline(),
	)
	require.NoError(t, err)
	t.Cleanup(func() { a.Close() })
	return a
}

func next(t *testing.T, a *App) protocol.Event {
	t.Helper()
	select {
	case ev := <-a.Events():
		return ev
	case <-time.After(2 * time.Second):
		t.Fatal("no event")
		return nil
	}
}

func TestNew_Offline(t *testing.T) {
	a := newOffline(t, testutil.NewScriptedInvoker())

	assert.Nil(t, a.Conn)
	assert.NotNil(t, a.Executor)
	assert.NotNil(t, a.Recovery)
	_, ok := models.FindTemplate(a.Templates, "research-paper")
	assert.True(t, ok)

	// No-op without a connection
	a.Start(context.Background())
}

func TestNew_BadTemplatesFile(t *testing.T) {
	cfg := config.Default()
	cfg.Templates.File = "/nonexistent/templates.yaml"

	_, err := New(context.Background(), cfg, WithSlots(storage.NewMemoryStore()), Offline())
	assert.ErrorContains(t, err, "failed to load templates")
}

func TestStoreChangesBecomeEvents(t *testing.T) {
	a := newOffline(t, testutil.NewScriptedInvoker())

	p := a.Pipelines.CreatePipeline("draft", "")
	updated, ok := next(t, a).(protocol.PipelineUpdatedEvent)
	require.True(t, ok)
	assert.Equal(t, p.ID, updated.Pipeline.ID)
	assert.False(t, updated.Paused)

	require.NoError(t, a.Pipelines.PauseFor(p.ID))
	updated, ok = next(t, a).(protocol.PipelineUpdatedEvent)
	require.True(t, ok)
	assert.True(t, updated.Paused)

	require.NoError(t, a.Pipelines.DeletePipeline(p.ID))
	deleted, ok := next(t, a).(protocol.PipelineDeletedEvent)
	require.True(t, ok)
	assert.Equal(t, p.ID, deleted.PipelineID)

	a.Research.UpdateResearchContext("researchTopic", "bees")
	_, ok = next(t, a).(protocol.ContextUpdatedEvent)
	assert.True(t, ok)
}

func TestExecutorEventsShareTheChannel(t *testing.T) {
	a := newOffline(t, testutil.NewScriptedInvoker())
	p := testutil.NewPipeline(t, a.Pipelines, "run", models.StepTypeBrainstorm)

	require.NoError(t, a.Executor.Start(context.Background(), p.ID))

	var lifecycle []protocol.PipelineLifecycleType
	for len(a.Events()) > 0 {
		if e, ok := (<-a.Events()).(protocol.PipelineLifecycleEvent); ok {
			lifecycle = append(lifecycle, e.Type)
		}
	}
	assert.Equal(t, []protocol.PipelineLifecycleType{
		protocol.PipelineStepStarted,
		protocol.PipelineStepCompleted,
		protocol.PipelineFinished,
	}, lifecycle)
}
