// Copyright (C) 2026 Noldarim
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package forms collects a template's inputs as a structured form and turns
// the answers into step params and research context updates.
package forms

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/charmbracelet/huh"
	"github.com/noldarim/inkwell/internal/models"
	"github.com/noldarim/inkwell/internal/pipeline"
)

// Answers maps template input keys to the collected values.
type Answers map[string]string

// ContextWriter receives research context updates.
type ContextWriter interface {
	UpdateResearchContext(key string, value any)
}

// Form is an interactive form for one template.
type Form struct {
	*huh.Form
	template models.Template
	values   map[string]*string
}

func required(title string) func(string) error {
	return func(s string) error {
		if strings.TrimSpace(s) == "" {
			return fmt.Errorf("%s is required", strings.ToLower(title))
		}
		return nil
	}
}

// New builds the form for t, prefilled from initial.
func New(t models.Template, initial Answers) *Form {
	f := &Form{template: t, values: make(map[string]*string, len(t.Inputs))}

	fields := []huh.Field{
		huh.NewNote().Title(t.Name).Description(t.Description),
	}
	for _, in := range t.Inputs {
		v := initial[in.Key]
		f.values[in.Key] = &v

		if in.Multiline {
			field := huh.NewText().
				Key(in.Key).
				Title(in.Title).
				Placeholder(in.Placeholder).
				Value(&v)
			if in.Required {
				field = field.Validate(required(in.Title))
			}
			fields = append(fields, field)
			continue
		}

		field := huh.NewInput().
			Key(in.Key).
			Title(in.Title).
			Placeholder(in.Placeholder).
			Value(&v)
		if in.Required {
			field = field.Validate(required(in.Title))
		}
		fields = append(fields, field)
	}

	f.Form = huh.NewForm(huh.NewGroup(fields...)).WithTheme(huh.ThemeCharm())
	return f
}

// Answers returns the values currently held by the form.
func (f *Form) Answers() Answers {
	out := make(Answers, len(f.values))
	for k, v := range f.values {
		out[k] = *v
	}
	return out
}

// Run shows the form on the terminal and returns the validated answers.
func (f *Form) Run(ctx context.Context) (Answers, error) {
	if err := f.Form.RunWithContext(ctx); err != nil {
		return nil, err
	}
	answers := f.Answers()
	if err := Validate(f.template, answers); err != nil {
		return nil, err
	}
	return answers, nil
}

// SelectTemplate asks the user to pick one of templates and returns its id.
func SelectTemplate(ctx context.Context, templates []models.Template) (string, error) {
	if len(templates) == 0 {
		return "", errors.New("no templates available")
	}
	opts := make([]huh.Option[string], 0, len(templates))
	for _, t := range templates {
		opts = append(opts, huh.NewOption(fmt.Sprintf("%s (%s)", t.Name, t.Category), t.ID))
	}
	id := templates[0].ID
	err := huh.NewForm(huh.NewGroup(
		huh.NewSelect[string]().
			Title("Pipeline template").
			Options(opts...).
			Value(&id),
	)).WithTheme(huh.ThemeCharm()).RunWithContext(ctx)
	if err != nil {
		return "", err
	}
	return id, nil
}

// Validate reports every required input of t left blank in answers.
func Validate(t models.Template, answers Answers) error {
	var errs []error
	for _, in := range t.Inputs {
		if !in.Required {
			continue
		}
		if err := required(in.Title)(answers[in.Key]); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Apply splits answers into step params and research context updates.
// Blank answers are dropped; unknown keys pass through as params.
func Apply(t models.Template, answers Answers) (params map[string]any, contextUpdates map[string]any) {
	params = make(map[string]any, len(answers))
	contextUpdates = make(map[string]any)

	for k, v := range answers {
		if v = strings.TrimSpace(v); v != "" {
			params[k] = v
		}
	}
	for _, in := range t.Inputs {
		if in.ContextKey == "" {
			continue
		}
		if v, ok := params[in.Key]; ok {
			contextUpdates[in.ContextKey] = v
		}
	}
	return params, contextUpdates
}

// Instantiate validates answers, seeds the research context and creates a
// pipeline from t.
func Instantiate(store *pipeline.Store, rc ContextWriter, t models.Template, answers Answers) (models.Pipeline, error) {
	if err := Validate(t, answers); err != nil {
		return models.Pipeline{}, fmt.Errorf("template %s: %w", t.ID, err)
	}
	params, updates := Apply(t, answers)
	for k, v := range updates {
		rc.UpdateResearchContext(k, v)
	}
	return store.CreateFromTemplate(t, params), nil
}

// FromParams converts loosely typed request params into Answers.
func FromParams(params map[string]any) Answers {
	out := make(Answers, len(params))
	for k, v := range params {
		if v == nil {
			continue
		}
		if s, ok := v.(string); ok {
			out[k] = s
			continue
		}
		out[k] = fmt.Sprint(v)
	}
	return out
}
