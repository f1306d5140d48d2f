// Copyright (C) 2026 Noldarim
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package research keeps the research context shared by pipeline steps: a
// set of named fields plus append-only lists of generated artifacts.
package research

import (
	"context"
	"encoding/json"
	"errors"
	"maps"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/noldarim/inkwell/internal/logger"
	"github.com/noldarim/inkwell/internal/models"
	"github.com/noldarim/inkwell/internal/storage"
	"github.com/rs/zerolog"
	"github.com/samber/lo"
)

// Well-known context fields.
const (
	KeyResearchTopic = "researchTopic"
	KeyHypothesis    = "hypothesis"
	KeyMethodology   = "methodology"
	KeyLiterature    = "literature"
	KeyData          = "data"
	KeyResults       = "results"
	KeyDiscussion    = "discussion"
	KeyConclusion    = "conclusion"
)

// Artifact list names, as they appear in step context projections.
const (
	ListGeneratedIdeas    = "generatedIdeas"
	ListHypotheses        = "hypotheses"
	ListLiteratureReviews = "literatureReviews"
	ListAnalyses          = "analyses"
	ListStyleImprovements = "styleImprovements"
)

var textFields = []string{
	KeyResearchTopic, KeyHypothesis, KeyMethodology, KeyLiterature,
	KeyData, KeyResults, KeyDiscussion, KeyConclusion,
}

var (
	log     *zerolog.Logger
	logOnce sync.Once
)

func getLog() *zerolog.Logger {
	logOnce.Do(func() {
		l := logger.GetResearchLogger().With().Str("component", "context_store").Logger()
		log = &l
	})
	return log
}

// Artifact is one output accumulated from a completed step.
type Artifact struct {
	ID        string    `json:"id"`
	StepID    string    `json:"stepId,omitempty"`
	Content   any       `json:"content"`
	CreatedAt time.Time `json:"createdAt"`
}

// Context is the full research context.
type Context struct {
	Fields            map[string]any `json:"researchContext"`
	GeneratedIdeas    []Artifact     `json:"generatedIdeas"`
	Hypotheses        []Artifact     `json:"hypotheses"`
	LiteratureReviews []Artifact     `json:"literatureReviews"`
	Analyses          []Artifact     `json:"analyses"`
	StyleImprovements []Artifact     `json:"styleImprovements"`
}

func emptyContext() Context {
	return Context{
		Fields:            map[string]any{},
		GeneratedIdeas:    []Artifact{},
		Hypotheses:        []Artifact{},
		LiteratureReviews: []Artifact{},
		Analyses:          []Artifact{},
		StyleImprovements: []Artifact{},
	}
}

func (c Context) clone() Context {
	return Context{
		Fields:            maps.Clone(c.Fields),
		GeneratedIdeas:    slices.Clone(c.GeneratedIdeas),
		Hypotheses:        slices.Clone(c.Hypotheses),
		LiteratureReviews: slices.Clone(c.LiteratureReviews),
		Analyses:          slices.Clone(c.Analyses),
		StyleImprovements: slices.Clone(c.StyleImprovements),
	}
}

func (c Context) lists() map[string][]Artifact {
	return map[string][]Artifact{
		ListGeneratedIdeas:    c.GeneratedIdeas,
		ListHypotheses:        c.Hypotheses,
		ListLiteratureReviews: c.LiteratureReviews,
		ListAnalyses:          c.Analyses,
		ListStyleImprovements: c.StyleImprovements,
	}
}

// Store owns the research context.
type Store struct {
	mu        sync.Mutex
	slots     storage.Store
	ctx       Context
	listeners []func()
	newID     func() string
	now       func() time.Time
}

// NewStore creates a store backed by slots, restoring saved context.
func NewStore(ctx context.Context, slots storage.Store) *Store {
	s := &Store{
		slots: slots,
		ctx:   emptyContext(),
		newID: uuid.NewString,
		now:   time.Now,
	}
	s.load(ctx)
	return s
}

func (s *Store) load(ctx context.Context) {
	data, err := s.slots.Load(ctx, storage.ContextSlot)
	if errors.Is(err, storage.ErrNotFound) {
		return
	}
	if err != nil {
		getLog().Warn().Err(err).Msg("Failed to read research context, starting empty")
		return
	}
	var c Context
	if err := json.Unmarshal(data, &c); err != nil {
		getLog().Warn().Err(err).Msg("Corrupt research context, starting empty")
		return
	}

	def := emptyContext()
	s.ctx = Context{
		Fields:            lo.Ternary(c.Fields != nil, c.Fields, def.Fields),
		GeneratedIdeas:    lo.Ternary(c.GeneratedIdeas != nil, c.GeneratedIdeas, def.GeneratedIdeas),
		Hypotheses:        lo.Ternary(c.Hypotheses != nil, c.Hypotheses, def.Hypotheses),
		LiteratureReviews: lo.Ternary(c.LiteratureReviews != nil, c.LiteratureReviews, def.LiteratureReviews),
		Analyses:          lo.Ternary(c.Analyses != nil, c.Analyses, def.Analyses),
		StyleImprovements: lo.Ternary(c.StyleImprovements != nil, c.StyleImprovements, def.StyleImprovements),
	}
}

// commit persists the context, unlocks and notifies listeners.
func (s *Store) commit() {
	data, err := json.Marshal(s.ctx)
	if err != nil {
		getLog().Error().Err(err).Msg("Failed to encode research context")
	} else if err := s.slots.Save(context.Background(), storage.ContextSlot, data); err != nil {
		getLog().Error().Err(err).Msg("Failed to persist research context")
	}
	listeners := slices.Clone(s.listeners)
	s.mu.Unlock()
	for _, fn := range listeners {
		fn()
	}
}

// OnChange registers fn to be called after every mutation.
func (s *Store) OnChange(fn func()) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.listeners = append(s.listeners, fn)
}

// UpdateResearchContext sets one context field. Keys outside the well-known
// set are kept as extensions.
func (s *Store) UpdateResearchContext(key string, value any) {
	s.mu.Lock()
	s.ctx.Fields[key] = value
	s.commit()
	getLog().Debug().Str("key", key).Msg("Context field updated")
}

func (s *Store) appendArtifact(list *[]Artifact, name, stepID string, content any) Artifact {
	s.mu.Lock()
	a := Artifact{ID: s.newID(), StepID: stepID, Content: content, CreatedAt: s.now()}
	*list = append(*list, a)
	n := len(*list)
	s.commit()
	getLog().Debug().Str("list", name).Str("step_id", stepID).Int("size", n).Msg("Artifact added")
	return a
}

// AddGeneratedIdea appends to the generated ideas list.
func (s *Store) AddGeneratedIdea(stepID string, content any) Artifact {
	return s.appendArtifact(&s.ctx.GeneratedIdeas, ListGeneratedIdeas, stepID, content)
}

// AddHypothesis appends to the hypotheses list.
func (s *Store) AddHypothesis(stepID string, content any) Artifact {
	return s.appendArtifact(&s.ctx.Hypotheses, ListHypotheses, stepID, content)
}

// AddLiteratureReview appends to the literature reviews list.
func (s *Store) AddLiteratureReview(stepID string, content any) Artifact {
	return s.appendArtifact(&s.ctx.LiteratureReviews, ListLiteratureReviews, stepID, content)
}

// AddAnalysis appends to the analyses list.
func (s *Store) AddAnalysis(stepID string, content any) Artifact {
	return s.appendArtifact(&s.ctx.Analyses, ListAnalyses, stepID, content)
}

// AddStyleImprovement appends to the style improvements list.
func (s *Store) AddStyleImprovement(stepID string, content any) Artifact {
	return s.appendArtifact(&s.ctx.StyleImprovements, ListStyleImprovements, stepID, content)
}

// projection lists the fields and artifact lists each step type reads.
var projection = map[models.StepType]struct {
	fields []string
	lists  []string
}{
	models.StepTypeBrainstorm:  {[]string{KeyResearchTopic}, []string{ListGeneratedIdeas}},
	models.StepTypeStructure:   {[]string{KeyResearchTopic, KeyHypothesis}, []string{ListGeneratedIdeas}},
	models.StepTypeHypothesis:  {[]string{KeyResearchTopic, KeyLiterature}, []string{ListGeneratedIdeas, ListHypotheses}},
	models.StepTypeMethodology: {[]string{KeyResearchTopic, KeyHypothesis, KeyLiterature}, nil},
	models.StepTypeLiterature:  {[]string{KeyResearchTopic, KeyHypothesis}, []string{ListLiteratureReviews}},
	models.StepTypeAnalysis:    {[]string{KeyHypothesis, KeyMethodology, KeyData}, []string{ListAnalyses}},
	models.StepTypeDiscussion:  {[]string{KeyHypothesis, KeyResults}, []string{ListAnalyses, ListLiteratureReviews}},
	models.StepTypeConclusion:  {[]string{KeyResearchTopic, KeyHypothesis, KeyResults, KeyDiscussion}, nil},
	models.StepTypeStyle:       {textFields, []string{ListStyleImprovements}},
}

// GetContextForStep returns the view of the context a step of the given type
// consumes. Unknown types get the whole context. The result is a fresh map
// and never nil.
func (s *Store) GetContextForStep(stepType models.StepType) map[string]any {
	s.mu.Lock()
	c := s.ctx.clone()
	s.mu.Unlock()

	lists := c.lists()
	proj, ok := projection[stepType]
	if !ok {
		out := maps.Clone(c.Fields)
		for name, l := range lists {
			out[name] = l
		}
		return out
	}

	out := lo.PickByKeys(c.Fields, proj.fields)
	for _, name := range proj.lists {
		out[name] = lists[name]
	}
	return out
}

// Snapshot returns a copy of the whole context.
func (s *Store) Snapshot() Context {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.ctx.clone()
}

// ClearContext resets the context to its empty shape.
func (s *Store) ClearContext() {
	s.mu.Lock()
	s.ctx = emptyContext()
	s.commit()
	getLog().Info().Msg("Research context cleared")
}
