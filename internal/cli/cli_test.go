// Copyright (C) 2026 Noldarim
// SPDX-License-Identifier: AGPL-3.0-or-later

package cli

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/noldarim/inkwell/internal/app"
	"github.com/noldarim/inkwell/internal/config"
	"github.com/noldarim/inkwell/internal/models"
	"github.com/noldarim/inkwell/internal/protocol"
	"github.com/noldarim/inkwell/internal/recovery"
	"github.com/noldarim/inkwell/internal/storage"
	"github.com/noldarim/inkwell/test/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const paperYAML = `
name: Bee paper
variables:
  topic: urban bees
context:
  researchTopic: "{{.topic}}"
steps:
  - type: brainstorm
    params:
      topic: "{{ .topic }}"
      count: 3
  - type: hypothesis
    name: Form hypothesis
    params:
      field: "{{.field}}"
`

func writeFile(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "pipeline.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func newTestApp(t *testing.T, inv *testutil.ScriptedInvoker) *app.App {
	t.Helper()
	a, err := app.New(context.Background(), config.Default(),
		app.WithSlots(storage.NewMemoryStore()),
		app.WithInvoker(inv),
		app.Offline(),
	)
	require.NoError(t, err)
	t.Cleanup(func() { a.Close() })
	return a
}

func TestLoadPipelineFile_Validation(t *testing.T) {
	tests := []struct {
		name    string
		content string
		wantErr string
	}{
		{"valid", paperYAML, ""},
		{"missing name", "steps:\n  - type: brainstorm\n", "name is required"},
		{"no steps", "name: empty\n", "at least one step"},
		{"unknown type", "name: x\nsteps:\n  - type: poetry\n", `unknown type "poetry"`},
		{"bad yaml", "name: [", "failed to parse"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := LoadPipelineFile(writeFile(t, tt.content))
			if tt.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			assert.ErrorContains(t, err, tt.wantErr)
		})
	}
}

func TestPipelineFile_Create(t *testing.T) {
	a := newTestApp(t, testutil.NewScriptedInvoker())
	file, err := LoadPipelineFile(writeFile(t, paperYAML))
	require.NoError(t, err)

	_, err = file.Create(a.Pipelines, a.Research, nil)
	require.ErrorContains(t, err, "undefined template variables: field")
	assert.Empty(t, a.Pipelines.Pipelines())

	p, err := file.Create(a.Pipelines, a.Research, map[string]string{"field": "ecology", "topic": "city bees"})
	require.NoError(t, err)
	require.Len(t, p.Steps, 2)
	assert.Equal(t, "Bee paper", p.Name)
	assert.Equal(t, "brainstorm", p.Steps[0].Name)
	assert.Equal(t, "city bees", p.Steps[0].Params["topic"])
	assert.Equal(t, 3, p.Steps[0].Params["count"])
	assert.Equal(t, "Form hypothesis", p.Steps[1].Name)
	assert.Equal(t, "ecology", p.Steps[1].Params["field"])
	assert.Equal(t, "city bees", a.Research.Snapshot().Fields["researchTopic"])
}

func TestRenderTemplate(t *testing.T) {
	vars := map[string]string{"a": "1"}
	assert.Equal(t, "1 and {{.b}}", renderTemplate("{{.a}} and {{.b}}", vars))
	assert.NoError(t, validateTemplateVars("{{ .a }}", vars))
	assert.EqualError(t, validateTemplateVars("{{.c}} {{.b}}", vars), "undefined template variables: b, c")
}

func TestRunner_Completes(t *testing.T) {
	a := newTestApp(t, testutil.NewScriptedInvoker())
	p := testutil.NewPipeline(t, a.Pipelines, "cli", models.StepTypeBrainstorm, models.StepTypeConclusion)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	r := &runner{app: a, pipelineID: p.ID}
	require.NoError(t, r.watch(ctx))
	testutil.AssertStepStatuses(t, a.Pipelines, p.ID, models.StepStatusCompleted, models.StepStatusCompleted)
}

func TestRunner_NonInteractiveFailureAborts(t *testing.T) {
	inv := testutil.NewScriptedInvoker().On(models.StepTypeHypothesis, testutil.Fail("model overloaded"))
	a := newTestApp(t, inv)
	p := testutil.NewPipeline(t, a.Pipelines, "cli", models.StepTypeBrainstorm, models.StepTypeHypothesis)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	r := &runner{app: a, pipelineID: p.ID}
	err := r.watch(ctx)
	require.ErrorIs(t, err, errAborted)
	assert.ErrorContains(t, err, "model overloaded")
	testutil.AssertStepStatuses(t, a.Pipelines, p.ID, models.StepStatusCompleted, models.StepStatusError)
}

func TestRunner_PausedOfflineStops(t *testing.T) {
	a := newTestApp(t, testutil.NewScriptedInvoker())
	p := testutil.NewPipeline(t, a.Pipelines, "cli", models.StepTypeBrainstorm)
	require.NoError(t, a.Pipelines.PauseFor(p.ID))

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	r := &runner{app: a, pipelineID: p.ID}
	require.NoError(t, r.watch(ctx))
	testutil.AssertStepStatuses(t, a.Pipelines, p.ID, models.StepStatusPending)
}

func TestRenderLifecycle(t *testing.T) {
	started := renderLifecycle(protocol.PipelineLifecycleEvent{
		Type: protocol.PipelineStepStarted, StepIndex: 1, StepName: "hypothesis", StepType: models.StepTypeHypothesis,
	})
	assert.Contains(t, started, "[2]")
	assert.Contains(t, started, "hypothesis")

	failed := renderLifecycle(protocol.PipelineLifecycleEvent{
		Type: protocol.PipelineStepFailed, StepName: "hypothesis", Error: "quota exceeded",
	})
	assert.Contains(t, failed, "quota exceeded")
	assert.Contains(t, failed, "✗")

	assert.Contains(t, renderLifecycle(protocol.PipelineLifecycleEvent{Type: protocol.PipelineFinished}), "finished")
}

func TestRenderRecovery(t *testing.T) {
	out := renderRecovery(recovery.Status{
		Mode:        recovery.ModeStepError,
		Attempts:    3,
		MaxAttempts: 3,
		Message:     "Retry limit reached after 3 attempts.",
		Actions: []recovery.ActionStatus{
			{Action: recovery.ActionRetryStep, Label: "Retry step", Enabled: false},
			{Action: recovery.ActionSkipStep, Label: "Skip step", Enabled: true},
		},
	})
	assert.Contains(t, out, "Retry limit reached")
	assert.Contains(t, out, "Attempts 3/3")
	assert.Contains(t, out, "Retry step (unavailable)")
	assert.Contains(t, out, "Skip step")
}

func TestRenderSummary(t *testing.T) {
	p := models.Pipeline{Steps: []models.Step{
		{Name: "brainstorm", Status: models.StepStatusCompleted, Result: "five ideas"},
		{Name: "hypothesis", Status: models.StepStatusError, Error: "boom"},
	}}
	out := renderSummary(p)
	assert.Contains(t, out, "Failed")
	assert.Contains(t, out, "1/2")
	assert.Contains(t, out, "five ideas")
	assert.Contains(t, out, "boom")
}

func TestPrintTemplates(t *testing.T) {
	templates, err := models.LoadTemplates("")
	require.NoError(t, err)

	var buf bytes.Buffer
	printTemplates(&buf, templates)
	assert.Contains(t, buf.String(), "research-paper")
	assert.Contains(t, buf.String(), "creative-writing")
}

func TestTruncateForDisplay(t *testing.T) {
	assert.Equal(t, "short", truncateForDisplay("short", 10))
	assert.Equal(t, "a b", truncateForDisplay("a\nb", 10))
	assert.Equal(t, "abcdefg...", truncateForDisplay("abcdefghijklmnop", 10))
}
