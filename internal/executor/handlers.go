// Copyright (C) 2026 Noldarim
// SPDX-License-Identifier: AGPL-3.0-or-later

package executor

import (
	"github.com/noldarim/inkwell/internal/models"
	"github.com/noldarim/inkwell/internal/research"
)

// completionHandler records a successful step's output in the research context.
type completionHandler func(rc ContextStore, step models.Step, data any)

func setField(key string) completionHandler {
	return func(rc ContextStore, _ models.Step, data any) {
		rc.UpdateResearchContext(key, data)
	}
}

// dispatch maps every recognised step type to its completion handler.
// A type missing here is rejected with UnknownStepType.
var dispatch = map[models.StepType]completionHandler{
	models.StepTypeBrainstorm: func(rc ContextStore, step models.Step, data any) {
		rc.AddGeneratedIdea(step.ID, data)
	},
	models.StepTypeStructure: setField("structure"),
	models.StepTypeHypothesis: func(rc ContextStore, step models.Step, data any) {
		rc.AddHypothesis(step.ID, data)
		rc.UpdateResearchContext(research.KeyHypothesis, data)
	},
	models.StepTypeMethodology: setField(research.KeyMethodology),
	models.StepTypeLiterature: func(rc ContextStore, step models.Step, data any) {
		rc.AddLiteratureReview(step.ID, data)
		rc.UpdateResearchContext(research.KeyLiterature, data)
	},
	models.StepTypeAnalysis: func(rc ContextStore, step models.Step, data any) {
		rc.AddAnalysis(step.ID, data)
		rc.UpdateResearchContext(research.KeyResults, data)
	},
	models.StepTypeDiscussion: setField(research.KeyDiscussion),
	models.StepTypeConclusion: setField(research.KeyConclusion),
	models.StepTypeStyle: func(rc ContextStore, step models.Step, data any) {
		rc.AddStyleImprovement(step.ID, data)
	},
}
