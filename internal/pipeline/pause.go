// Copyright (C) 2026 Noldarim
// SPDX-License-Identifier: AGPL-3.0-or-later

package pipeline

// Pause state lives outside the persisted slot. A pipeline is paused when
// either the global flag or its own flag is set.

// PausePipeline sets the global pause flag.
func (s *Store) PausePipeline() {
	s.setGlobalPause(true)
}

// ResumePipeline clears the global pause flag.
func (s *Store) ResumePipeline() {
	s.setGlobalPause(false)
}

// SetPausePipeline lets the connection manager suspend and release execution.
func (s *Store) SetPausePipeline(paused bool) {
	s.setGlobalPause(paused)
}

func (s *Store) setGlobalPause(paused bool) {
	s.mu.Lock()
	if s.paused == paused {
		s.mu.Unlock()
		return
	}
	s.paused = paused
	listeners := append([]ChangeFunc(nil), s.listeners...)
	ids := make([]string, 0, len(s.pipelines))
	for _, p := range s.pipelines {
		ids = append(ids, p.ID)
	}
	s.mu.Unlock()

	getLog().Info().Bool("paused", paused).Msg("Global pause changed")
	for _, id := range ids {
		for _, fn := range listeners {
			fn(id)
		}
	}
}

// IsPaused reports the global pause flag.
func (s *Store) IsPaused() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.paused
}

// PauseFor pauses a single pipeline.
func (s *Store) PauseFor(pipelineID string) error {
	return s.setPauseFor(pipelineID, true)
}

// ResumeFor releases a single pipeline's pause flag. The global flag, if set,
// still applies.
func (s *Store) ResumeFor(pipelineID string) error {
	return s.setPauseFor(pipelineID, false)
}

func (s *Store) setPauseFor(pipelineID string, paused bool) error {
	s.mu.Lock()
	if _, ok := s.find(pipelineID); !ok {
		s.mu.Unlock()
		return ErrPipelineNotFound
	}
	if paused {
		s.pausedFor[pipelineID] = true
	} else {
		delete(s.pausedFor, pipelineID)
	}
	listeners := append([]ChangeFunc(nil), s.listeners...)
	s.mu.Unlock()

	getLog().Info().Str("pipeline_id", pipelineID).Bool("paused", paused).Msg("Pipeline pause changed")
	for _, fn := range listeners {
		fn(pipelineID)
	}
	return nil
}

// IsPausedFor reports whether execution of pipelineID should stop at the
// next step boundary.
func (s *Store) IsPausedFor(pipelineID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.paused || s.pausedFor[pipelineID]
}
