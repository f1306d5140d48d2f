// Copyright (C) 2026 Noldarim
// SPDX-License-Identifier: AGPL-3.0-or-later

package executor

import (
	"errors"
	"fmt"

	"github.com/noldarim/inkwell/internal/models"
)

// ErrNoErrorStep is returned by step-level recovery when no step is in error.
var ErrNoErrorStep = errors.New("no step in error")

// ErrorKind classifies why a step failed.
type ErrorKind string

const (
	// UnknownStepType - the step's type has no dispatch entry; fatal for the run
	UnknownStepType ErrorKind = "unknown_step_type"
	// RequestFailed - the AI request errored or returned success=false
	RequestFailed ErrorKind = "request_failed"
)

// StepError describes a failed step.
type StepError struct {
	Kind     ErrorKind
	StepID   string
	StepType models.StepType
	Reason   string
}

func (e *StepError) Error() string {
	switch e.Kind {
	case UnknownStepType:
		return fmt.Sprintf("unknown step type %q", e.StepType)
	default:
		return fmt.Sprintf("step %s (%s) failed: %s", e.StepID, e.StepType, e.Reason)
	}
}

// IsUnknownStepType reports whether err is a StepError of kind UnknownStepType.
func IsUnknownStepType(err error) bool {
	var se *StepError
	return errors.As(err, &se) && se.Kind == UnknownStepType
}
