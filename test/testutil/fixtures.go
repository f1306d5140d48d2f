// Copyright (C) 2025-2026 Noldarim
// SPDX-License-Identifier: AGPL-3.0-or-later

package testutil

import (
	"context"
	"testing"

	"github.com/noldarim/inkwell/internal/models"
	"github.com/noldarim/inkwell/internal/pipeline"
	"github.com/noldarim/inkwell/internal/research"
	"github.com/noldarim/inkwell/internal/storage"
	"github.com/stretchr/testify/require"
)

// Stores bundles both stores over one in-memory slot store.
type Stores struct {
	Slots     *storage.MemoryStore
	Pipelines *pipeline.Store
	Research  *research.Store
}

// NewStores creates empty pipeline and context stores backed by memory
func NewStores(t *testing.T) *Stores {
	t.Helper()
	slots := storage.NewMemoryStore()
	ctx := context.Background()
	return &Stores{
		Slots:     slots,
		Pipelines: pipeline.NewStore(ctx, slots),
		Research:  research.NewStore(ctx, slots),
	}
}

// StepSpecs returns one pending step spec per type, named after the type
func StepSpecs(types ...models.StepType) []models.StepSpec {
	specs := make([]models.StepSpec, 0, len(types))
	for _, st := range types {
		specs = append(specs, models.StepSpec{
			Type:   st,
			Name:   string(st),
			Params: map[string]any{"topic": "urban bees"},
		})
	}
	return specs
}

// NewPipeline creates a pipeline named name holding one step per type
func NewPipeline(t *testing.T, store *pipeline.Store, name string, types ...models.StepType) models.Pipeline {
	t.Helper()
	p := store.CreatePipeline(name, "")
	for _, spec := range StepSpecs(types...) {
		_, err := store.AddStep(p.ID, spec)
		require.NoError(t, err)
	}
	got, ok := store.Pipeline(p.ID)
	require.True(t, ok)
	return got
}

// ResearchPaperSteps is the step sequence of the research-paper workflow
var ResearchPaperSteps = []models.StepType{
	models.StepTypeBrainstorm,
	models.StepTypeHypothesis,
	models.StepTypeLiterature,
	models.StepTypeMethodology,
	models.StepTypeAnalysis,
	models.StepTypeDiscussion,
	models.StepTypeConclusion,
}
