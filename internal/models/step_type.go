// Copyright (C) 2026 Noldarim
// SPDX-License-Identifier: AGPL-3.0-or-later

package models

// StepType tags a step with the kind of AI work it performs.
type StepType string

const (
	StepTypeBrainstorm  StepType = "brainstorm"
	StepTypeStructure   StepType = "structure"
	StepTypeHypothesis  StepType = "hypothesis"
	StepTypeMethodology StepType = "methodology"
	StepTypeLiterature  StepType = "literature"
	StepTypeAnalysis    StepType = "analysis"
	StepTypeDiscussion  StepType = "discussion"
	StepTypeConclusion  StepType = "conclusion"
	StepTypeStyle       StepType = "style"
)

// AllStepTypes lists the recognised step types in pipeline order.
var AllStepTypes = []StepType{
	StepTypeBrainstorm,
	StepTypeStructure,
	StepTypeHypothesis,
	StepTypeMethodology,
	StepTypeLiterature,
	StepTypeAnalysis,
	StepTypeDiscussion,
	StepTypeConclusion,
	StepTypeStyle,
}

func (t StepType) String() string {
	return string(t)
}

// IsValid reports whether t is a recognised step type.
func (t StepType) IsValid() bool {
	for _, known := range AllStepTypes {
		if t == known {
			return true
		}
	}
	return false
}
