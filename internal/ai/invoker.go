// Copyright (C) 2026 Noldarim
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package ai is the capability pipeline steps call to do their work. Every
// recognised step type maps to one AI request; the executor never sees which
// backend serves it.
package ai

import (
	"context"
	"fmt"
	"sync"

	"github.com/noldarim/inkwell/internal/config"
	"github.com/noldarim/inkwell/internal/logger"
	"github.com/noldarim/inkwell/internal/models"
	"github.com/rs/zerolog"
)

var (
	log     *zerolog.Logger
	logOnce sync.Once
)

func getLog() *zerolog.Logger {
	logOnce.Do(func() {
		l := logger.GetAILogger()
		log = &l
	})
	return log
}

// Result is the outcome of one AI request.
type Result struct {
	Success bool   `json:"success"`
	Data    any    `json:"data,omitempty"`
	Error   string `json:"error,omitempty"`
}

// Invoker performs the AI request for a step. Implementations must return
// within a bounded time; the request timeout is theirs to enforce.
type Invoker interface {
	Invoke(ctx context.Context, stepType models.StepType, params, stepContext map[string]any) (Result, error)
}

// endpoints maps step types to backend endpoint names.
var endpoints = map[models.StepType]string{
	models.StepTypeBrainstorm:  "brainstorm",
	models.StepTypeStructure:   "structure",
	models.StepTypeHypothesis:  "hypothesis",
	models.StepTypeMethodology: "methodology",
	models.StepTypeLiterature:  "literature-review",
	models.StepTypeAnalysis:    "analysis",
	models.StepTypeDiscussion:  "discussion",
	models.StepTypeConclusion:  "conclusion",
	models.StepTypeStyle:       "style-edit",
}

// Endpoint returns the backend endpoint for stepType.
func Endpoint(stepType models.StepType) (string, bool) {
	e, ok := endpoints[stepType]
	return e, ok
}

// New builds the invoker selected by cfg.Provider.
func New(ctx context.Context, cfg config.AIConfig) (Invoker, error) {
	switch cfg.Provider {
	case "http":
		return NewHTTPInvoker(cfg.BaseURL, cfg.Timeout), nil
	case "anthropic":
		return NewAnthropicInvoker(cfg), nil
	case "openai":
		return NewOpenAIInvoker(cfg), nil
	case "google":
		return NewGoogleInvoker(ctx, cfg)
	default:
		return nil, fmt.Errorf("unsupported AI provider: %s", cfg.Provider)
	}
}
