// Copyright (C) 2026 Noldarim
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package pipeline holds the authoritative state of every pipeline and its
// steps. All mutations go through Store methods, each of which is a single
// atomic replacement under the store lock followed by a write to the
// pipeline slot.
package pipeline

import (
	"context"
	"encoding/json"
	"errors"
	"maps"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/noldarim/inkwell/internal/logger"
	"github.com/noldarim/inkwell/internal/models"
	"github.com/noldarim/inkwell/internal/storage"
	"github.com/rs/zerolog"
	"github.com/samber/lo"
)

var (
	ErrPipelineNotFound = errors.New("pipeline not found")
	ErrStepNotFound     = errors.New("step not found")
)

var (
	log     *zerolog.Logger
	logOnce sync.Once
)

func getLog() *zerolog.Logger {
	logOnce.Do(func() {
		l := logger.GetPipelineLogger().With().Str("component", "pipeline_store").Logger()
		log = &l
	})
	return log
}

// ChangeFunc is called after every mutation with the affected pipeline id.
// A deleted pipeline is reported with its id; Pipeline(id) then returns false.
type ChangeFunc func(pipelineID string)

// persistedState is the JSON shape of the pipeline slot.
type persistedState struct {
	Pipelines        []models.Pipeline `json:"pipelines"`
	ActivePipelineID string            `json:"activePipelineId,omitempty"`
	StepResults      map[string]any    `json:"stepResults"`
}

// Store is the pipeline state container.
type Store struct {
	mu          sync.Mutex
	slots       storage.Store
	pipelines   []*models.Pipeline
	activeID    string
	stepResults map[string]any

	paused    bool
	pausedFor map[string]bool

	listeners []ChangeFunc
	newID     func() string
	now       func() time.Time
}

// NewStore creates a store backed by slots, restoring any state previously
// saved there. Unreadable state is logged and replaced with an empty store.
func NewStore(ctx context.Context, slots storage.Store) *Store {
	s := &Store{
		slots:       slots,
		stepResults: make(map[string]any),
		pausedFor:   make(map[string]bool),
		newID:       uuid.NewString,
		now:         time.Now,
	}
	s.load(ctx)
	return s
}

func (s *Store) load(ctx context.Context) {
	data, err := s.slots.Load(ctx, storage.PipelineSlot)
	if errors.Is(err, storage.ErrNotFound) {
		return
	}
	if err != nil {
		getLog().Warn().Err(err).Msg("Failed to read pipeline state, starting empty")
		return
	}

	var st persistedState
	if err := json.Unmarshal(data, &st); err != nil {
		getLog().Warn().Err(err).Msg("Corrupt pipeline state, starting empty")
		return
	}

	for i := range st.Pipelines {
		p := st.Pipelines[i]
		// No invocation survives a restart.
		for j := range p.Steps {
			if p.Steps[j].Status == models.StepStatusRunning || !p.Steps[j].Status.IsValid() {
				p.Steps[j].Status = models.StepStatusPending
			}
		}
		// Pause flags are not persisted, so nothing holds a paused
		// pipeline after a restart.
		if p.Status == models.PipelineStatusRunning || p.Status == models.PipelineStatusPaused {
			p.Status = models.PipelineStatusIdle
		}
		p.Status = p.DeriveStatus()
		p.CurrentStepIndex = min(max(p.CurrentStepIndex, 0), len(p.Steps))
		s.pipelines = append(s.pipelines, &p)
	}
	if st.StepResults != nil {
		s.stepResults = st.StepResults
	}
	if _, ok := s.find(st.ActivePipelineID); ok {
		s.activeID = st.ActivePipelineID
	}

	getLog().Info().Int("pipelines", len(s.pipelines)).Msg("Restored pipeline state")
}

// persist must be called with s.mu held.
func (s *Store) persist() {
	st := persistedState{
		Pipelines:        lo.Map(s.pipelines, func(p *models.Pipeline, _ int) models.Pipeline { return *p }),
		ActivePipelineID: s.activeID,
		StepResults:      s.stepResults,
	}
	data, err := json.Marshal(st)
	if err != nil {
		getLog().Error().Err(err).Msg("Failed to encode pipeline state")
		return
	}
	if err := s.slots.Save(context.Background(), storage.PipelineSlot, data); err != nil {
		getLog().Error().Err(err).Msg("Failed to persist pipeline state")
	}
}

// commit persists, releases the lock and notifies listeners.
func (s *Store) commit(pipelineID string) {
	s.persist()
	listeners := append([]ChangeFunc(nil), s.listeners...)
	s.mu.Unlock()
	for _, fn := range listeners {
		fn(pipelineID)
	}
}

func (s *Store) find(id string) (*models.Pipeline, bool) {
	if id == "" {
		return nil, false
	}
	return lo.Find(s.pipelines, func(p *models.Pipeline) bool { return p.ID == id })
}

// OnChange registers fn to be called after every mutation.
func (s *Store) OnChange(fn ChangeFunc) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.listeners = append(s.listeners, fn)
}

// CreatePipeline allocates an empty idle pipeline and makes it active.
func (s *Store) CreatePipeline(name, templateID string) models.Pipeline {
	s.mu.Lock()
	p := &models.Pipeline{
		ID:         s.newID(),
		Name:       name,
		TemplateID: templateID,
		Status:     models.PipelineStatusIdle,
		Steps:      []models.Step{},
		CreatedAt:  s.now(),
	}
	s.pipelines = append(s.pipelines, p)
	s.activeID = p.ID
	out := p.Clone()
	s.commit(p.ID)

	getLog().Info().Str("pipeline_id", out.ID).Str("name", name).Str("template_id", templateID).Msg("Created pipeline")
	return out
}

// CreateFromTemplate instantiates t as a new active pipeline. params are
// merged over each step's template params.
func (s *Store) CreateFromTemplate(t models.Template, params map[string]any) models.Pipeline {
	s.mu.Lock()
	p := &models.Pipeline{
		ID:         s.newID(),
		Name:       t.Name,
		TemplateID: t.ID,
		Status:     models.PipelineStatusIdle,
		Steps:      make([]models.Step, 0, len(t.Steps)),
		CreatedAt:  s.now(),
	}
	for _, spec := range t.Steps {
		p.Steps = append(p.Steps, s.newStep(spec, params))
	}
	s.pipelines = append(s.pipelines, p)
	s.activeID = p.ID
	out := p.Clone()
	s.commit(p.ID)

	getLog().Info().Str("pipeline_id", out.ID).Str("template_id", t.ID).Int("steps", len(out.Steps)).Msg("Created pipeline from template")
	return out
}

func (s *Store) newStep(spec models.StepSpec, extra map[string]any) models.Step {
	params := make(map[string]any, len(spec.Params)+len(extra))
	maps.Copy(params, spec.Params)
	maps.Copy(params, extra)
	return models.Step{
		ID:          s.newID(),
		Type:        spec.Type,
		Name:        spec.Name,
		Description: spec.Description,
		Params:      params,
		Status:      models.StepStatusPending,
	}
}

// AddStep appends a pending step built from spec and returns its id.
func (s *Store) AddStep(pipelineID string, spec models.StepSpec) (string, error) {
	s.mu.Lock()
	p, ok := s.find(pipelineID)
	if !ok {
		s.mu.Unlock()
		getLog().Warn().Str("pipeline_id", pipelineID).Msg("AddStep: pipeline not found")
		return "", ErrPipelineNotFound
	}

	step := s.newStep(spec, nil)
	p.Steps = append(p.Steps, step)
	p.Status = p.DeriveStatus()
	p.CurrentStepIndex = p.FirstIncompleteStep()
	s.commit(pipelineID)

	getLog().Debug().Str("pipeline_id", pipelineID).Str("step_id", step.ID).Str("type", string(step.Type)).Msg("Added step")
	return step.ID, nil
}

// StepOption modifies an UpdateStepStatus call.
type StepOption func(*stepUpdate)

type stepUpdate struct {
	result    any
	hasResult bool
	errMsg    string
}

// WithResult records v as the step result and in the step results map.
func WithResult(v any) StepOption {
	return func(u *stepUpdate) {
		u.result = v
		u.hasResult = true
	}
}

// WithError records the failure reason on the step.
func WithError(msg string) StepOption {
	return func(u *stepUpdate) {
		u.errMsg = msg
	}
}

// UpdateStepStatus sets a step's status. Unknown ids and transitions that
// would leave two steps running are logged and ignored.
func (s *Store) UpdateStepStatus(pipelineID, stepID string, status models.StepStatus, opts ...StepOption) {
	var u stepUpdate
	for _, opt := range opts {
		opt(&u)
	}

	l := getLog().With().Str("pipeline_id", pipelineID).Str("step_id", stepID).Str("status", string(status)).Logger()

	s.mu.Lock()
	p, ok := s.find(pipelineID)
	if !ok {
		s.mu.Unlock()
		l.Warn().Msg("UpdateStepStatus: pipeline not found")
		return
	}
	idx := p.StepIndex(stepID)
	if idx < 0 {
		s.mu.Unlock()
		l.Warn().Msg("UpdateStepStatus: step not found")
		return
	}
	if !status.IsValid() {
		s.mu.Unlock()
		l.Warn().Msg("UpdateStepStatus: invalid status")
		return
	}
	if status == models.StepStatusRunning {
		for i := range p.Steps {
			if i != idx && p.Steps[i].Status == models.StepStatusRunning {
				s.mu.Unlock()
				l.Warn().Str("running_step_id", p.Steps[i].ID).Msg("UpdateStepStatus: another step is already running")
				return
			}
		}
	}

	step := &p.Steps[idx]
	step.Status = status
	switch status {
	case models.StepStatusError:
		step.Error = u.errMsg
	case models.StepStatusPending:
		step.Error = ""
		step.Result = nil
	default:
		step.Error = ""
	}
	if u.hasResult {
		step.Result = u.result
		s.stepResults[stepID] = u.result
	}

	p.CurrentStepIndex = p.FirstIncompleteStep()
	p.Status = p.DeriveStatus()
	s.commit(pipelineID)

	l.Debug().Msg("Step status updated")
}

// ResetPipeline returns every step to pending and the pipeline to idle.
// The step results map is left untouched so earlier outputs stay readable.
func (s *Store) ResetPipeline(pipelineID string) error {
	s.mu.Lock()
	p, ok := s.find(pipelineID)
	if !ok {
		s.mu.Unlock()
		getLog().Warn().Str("pipeline_id", pipelineID).Msg("ResetPipeline: pipeline not found")
		return ErrPipelineNotFound
	}
	for i := range p.Steps {
		p.Steps[i].Status = models.StepStatusPending
		p.Steps[i].Result = nil
		p.Steps[i].Error = ""
	}
	p.CurrentStepIndex = 0
	p.Status = models.PipelineStatusIdle
	s.commit(pipelineID)

	getLog().Info().Str("pipeline_id", pipelineID).Msg("Pipeline reset")
	return nil
}

// DeletePipeline removes the pipeline, clearing the active pointer if needed.
func (s *Store) DeletePipeline(pipelineID string) error {
	s.mu.Lock()
	_, idx, ok := lo.FindIndexOf(s.pipelines, func(p *models.Pipeline) bool { return p.ID == pipelineID })
	if !ok {
		s.mu.Unlock()
		getLog().Warn().Str("pipeline_id", pipelineID).Msg("DeletePipeline: pipeline not found")
		return ErrPipelineNotFound
	}
	s.pipelines = append(s.pipelines[:idx], s.pipelines[idx+1:]...)
	if s.activeID == pipelineID {
		s.activeID = ""
	}
	delete(s.pausedFor, pipelineID)
	s.commit(pipelineID)

	getLog().Info().Str("pipeline_id", pipelineID).Msg("Pipeline deleted")
	return nil
}

// SetPipelineStatus overrides the pipeline-level status.
func (s *Store) SetPipelineStatus(pipelineID string, status models.PipelineStatus) error {
	s.mu.Lock()
	p, ok := s.find(pipelineID)
	if !ok {
		s.mu.Unlock()
		return ErrPipelineNotFound
	}
	if p.Status == status {
		s.mu.Unlock()
		return nil
	}
	p.Status = status
	s.commit(pipelineID)
	return nil
}

// SetActivePipeline marks pipelineID as the active pipeline.
func (s *Store) SetActivePipeline(pipelineID string) error {
	s.mu.Lock()
	if _, ok := s.find(pipelineID); !ok {
		s.mu.Unlock()
		return ErrPipelineNotFound
	}
	s.activeID = pipelineID
	s.commit(pipelineID)
	return nil
}

// Pipeline returns a copy of the pipeline with the given id.
func (s *Store) Pipeline(pipelineID string) (models.Pipeline, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.find(pipelineID)
	if !ok {
		return models.Pipeline{}, false
	}
	return p.Clone(), true
}

// Pipelines returns copies of all pipelines in creation order.
func (s *Store) Pipelines() []models.Pipeline {
	s.mu.Lock()
	defer s.mu.Unlock()
	return lo.Map(s.pipelines, func(p *models.Pipeline, _ int) models.Pipeline { return p.Clone() })
}

// ActivePipeline returns the active pipeline, if any.
func (s *Store) ActivePipeline() (models.Pipeline, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.find(s.activeID)
	if !ok {
		return models.Pipeline{}, false
	}
	return p.Clone(), true
}

// StepResult returns the last result recorded for stepID. Results survive
// ResetPipeline.
func (s *Store) StepResult(stepID string) (any, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	v, ok := s.stepResults[stepID]
	return v, ok
}
