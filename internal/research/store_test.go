// Copyright (C) 2026 Noldarim
// SPDX-License-Identifier: AGPL-3.0-or-later

package research

import (
	"context"
	"testing"

	"github.com/noldarim/inkwell/internal/models"
	"github.com/noldarim/inkwell/internal/storage"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestStore(t *testing.T) (*Store, *storage.MemoryStore) {
	t.Helper()
	slots := storage.NewMemoryStore()
	return NewStore(context.Background(), slots), slots
}

func TestAddArtifacts_InsertionOrderedNoDedup(t *testing.T) {
	s, _ := newTestStore(t)

	s.AddGeneratedIdea("s1", "idea")
	s.AddGeneratedIdea("s1", "idea")
	s.AddGeneratedIdea("s2", "other")

	snap := s.Snapshot()
	require.Len(t, snap.GeneratedIdeas, 3)
	assert.Equal(t, "idea", snap.GeneratedIdeas[0].Content)
	assert.Equal(t, "other", snap.GeneratedIdeas[2].Content)
	assert.Equal(t, "s2", snap.GeneratedIdeas[2].StepID)
	assert.NotEqual(t, snap.GeneratedIdeas[0].ID, snap.GeneratedIdeas[1].ID)
}

func TestGetContextForStep(t *testing.T) {
	s, _ := newTestStore(t)
	s.UpdateResearchContext(KeyResearchTopic, "bees")
	s.UpdateResearchContext(KeyHypothesis, "bees dance")
	s.UpdateResearchContext(KeyMethodology, "observation")
	s.UpdateResearchContext(KeyResults, "they dance")
	s.AddGeneratedIdea("b", "idea")
	s.AddAnalysis("a", "analysis")
	s.AddStyleImprovement("st", "shorter")

	tests := []struct {
		stepType models.StepType
		want     []string
		absent   []string
	}{
		{models.StepTypeBrainstorm, []string{KeyResearchTopic, ListGeneratedIdeas}, []string{KeyHypothesis, ListAnalyses}},
		{models.StepTypeAnalysis, []string{KeyHypothesis, KeyMethodology, ListAnalyses}, []string{KeyResearchTopic, ListGeneratedIdeas}},
		{models.StepTypeConclusion, []string{KeyResearchTopic, KeyHypothesis, KeyResults}, []string{ListAnalyses}},
		{models.StepTypeStyle, []string{KeyResearchTopic, KeyHypothesis, KeyMethodology, KeyResults, ListStyleImprovements}, []string{ListGeneratedIdeas}},
	}
	for _, tt := range tests {
		t.Run(string(tt.stepType), func(t *testing.T) {
			got := s.GetContextForStep(tt.stepType)
			for _, k := range tt.want {
				assert.Contains(t, got, k)
			}
			for _, k := range tt.absent {
				assert.NotContains(t, got, k)
			}
		})
	}
}

func TestGetContextForStep_UnknownTypeReturnsFullContext(t *testing.T) {
	s, _ := newTestStore(t)
	s.UpdateResearchContext(KeyResearchTopic, "bees")
	s.UpdateResearchContext("custom", 42)
	s.AddHypothesis("h", "h1")

	got := s.GetContextForStep(models.StepType("code_review"))

	require.NotNil(t, got)
	assert.Equal(t, "bees", got[KeyResearchTopic])
	assert.Equal(t, 42, got["custom"])
	assert.Len(t, got[ListHypotheses], 1)
	assert.Contains(t, got, ListStyleImprovements)
}

func TestGetContextForStep_EmptyContextIsNeverNil(t *testing.T) {
	s, _ := newTestStore(t)
	for _, st := range append(models.AllStepTypes, "unknown") {
		assert.NotNil(t, s.GetContextForStep(st), st)
	}
}

func TestGetContextForStep_DoesNotMutateStore(t *testing.T) {
	s, _ := newTestStore(t)
	s.UpdateResearchContext(KeyResearchTopic, "bees")
	s.AddGeneratedIdea("b", "idea")

	got := s.GetContextForStep(models.StepTypeBrainstorm)
	got[KeyResearchTopic] = "wasps"
	got[ListGeneratedIdeas] = nil

	snap := s.Snapshot()
	assert.Equal(t, "bees", snap.Fields[KeyResearchTopic])
	assert.Len(t, snap.GeneratedIdeas, 1)
}

func TestClearContext(t *testing.T) {
	s, _ := newTestStore(t)
	s.UpdateResearchContext(KeyData, "rows")
	s.AddAnalysis("a", "x")

	s.ClearContext()

	snap := s.Snapshot()
	assert.Empty(t, snap.Fields)
	assert.NotNil(t, snap.Analyses)
	assert.Empty(t, snap.Analyses)
}

func TestPersistence(t *testing.T) {
	s, slots := newTestStore(t)
	s.UpdateResearchContext(KeyResearchTopic, "bees")
	s.UpdateResearchContext(KeyData, "rows")
	s.UpdateResearchContext(KeyConclusion, "done")
	s.AddLiteratureReview("l", "review")

	restored := NewStore(context.Background(), slots).Snapshot()

	assert.Equal(t, "bees", restored.Fields[KeyResearchTopic])
	assert.Equal(t, "rows", restored.Fields[KeyData])
	assert.Equal(t, "done", restored.Fields[KeyConclusion])
	require.Len(t, restored.LiteratureReviews, 1)
	assert.Equal(t, "review", restored.LiteratureReviews[0].Content)
	assert.NotNil(t, restored.StyleImprovements)
}

func TestPersistence_CorruptSlot(t *testing.T) {
	slots := storage.NewMemoryStore()
	require.NoError(t, slots.Save(context.Background(), storage.ContextSlot, []byte("[]")))

	s := NewStore(context.Background(), slots)

	assert.Empty(t, s.Snapshot().Fields)
	assert.NotNil(t, s.GetContextForStep(models.StepTypeStyle))
}

func TestOnChange(t *testing.T) {
	s, _ := newTestStore(t)
	calls := 0
	s.OnChange(func() { calls++ })

	s.UpdateResearchContext(KeyHypothesis, "h")
	s.AddHypothesis("h", "h")
	s.ClearContext()

	assert.Equal(t, 3, calls)
}
