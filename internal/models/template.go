// Copyright (C) 2026 Noldarim
// SPDX-License-Identifier: AGPL-3.0-or-later

package models

import (
	_ "embed"
	"errors"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

//go:embed templates/builtin.yaml
var builtinTemplates []byte

// Template is a reusable pipeline recipe: the inputs to collect from the
// user and the steps to instantiate.
type Template struct {
	ID          string          `json:"id" yaml:"id"`
	Name        string          `json:"name" yaml:"name"`
	Description string          `json:"description" yaml:"description"`
	Category    string          `json:"category" yaml:"category"`
	Inputs      []TemplateInput `json:"inputs" yaml:"inputs"`
	Steps       []StepSpec      `json:"steps" yaml:"steps"`
}

// TemplateInput describes one value collected before a pipeline starts.
// ContextKey, when set, also seeds that research context field.
type TemplateInput struct {
	Key         string `json:"key" yaml:"key"`
	Title       string `json:"title" yaml:"title"`
	Placeholder string `json:"placeholder,omitempty" yaml:"placeholder"`
	Required    bool   `json:"required" yaml:"required"`
	Multiline   bool   `json:"multiline" yaml:"multiline"`
	ContextKey  string `json:"contextKey,omitempty" yaml:"context_key"`
}

type templateFile struct {
	Templates []Template `yaml:"templates"`
}

// ParseTemplates decodes and validates a YAML template document.
func ParseTemplates(data []byte) ([]Template, error) {
	var f templateFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("failed to parse template YAML: %w", err)
	}

	seen := make(map[string]bool, len(f.Templates))
	for i := range f.Templates {
		t := &f.Templates[i]
		if err := t.Validate(); err != nil {
			return nil, fmt.Errorf("template %d: %w", i+1, err)
		}
		if seen[t.ID] {
			return nil, fmt.Errorf("template %d: duplicate id '%s'", i+1, t.ID)
		}
		seen[t.ID] = true
	}
	return f.Templates, nil
}

// LoadTemplates returns the built-in templates, overlaid with the templates
// in userFile when it is non-empty. User templates replace built-ins with the
// same id and are appended otherwise.
func LoadTemplates(userFile string) ([]Template, error) {
	templates, err := ParseTemplates(builtinTemplates)
	if err != nil {
		return nil, fmt.Errorf("built-in templates: %w", err)
	}
	if userFile == "" {
		return templates, nil
	}

	data, err := os.ReadFile(userFile)
	if err != nil {
		return nil, fmt.Errorf("failed to read template file: %w", err)
	}
	user, err := ParseTemplates(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", userFile, err)
	}

	index := make(map[string]int, len(templates))
	for i, t := range templates {
		index[t.ID] = i
	}
	for _, t := range user {
		if i, ok := index[t.ID]; ok {
			templates[i] = t
			continue
		}
		index[t.ID] = len(templates)
		templates = append(templates, t)
	}
	return templates, nil
}

// FindTemplate returns the template with the given id.
func FindTemplate(templates []Template, id string) (Template, bool) {
	for _, t := range templates {
		if t.ID == id {
			return t, true
		}
	}
	return Template{}, false
}

// Validate checks the template for errors
func (t *Template) Validate() error {
	if t.ID == "" {
		return errors.New("id is required")
	}
	if t.Name == "" {
		return fmt.Errorf("%s: name is required", t.ID)
	}
	if len(t.Steps) == 0 {
		return fmt.Errorf("%s: at least one step is required", t.ID)
	}
	for i, s := range t.Steps {
		if !s.Type.IsValid() {
			return fmt.Errorf("%s: step %d: unknown step type '%s'", t.ID, i+1, s.Type)
		}
		if s.Name == "" {
			return fmt.Errorf("%s: step %d: name is required", t.ID, i+1)
		}
	}
	keys := make(map[string]bool, len(t.Inputs))
	for i, in := range t.Inputs {
		if in.Key == "" {
			return fmt.Errorf("%s: input %d: key is required", t.ID, i+1)
		}
		if keys[in.Key] {
			return fmt.Errorf("%s: input %d: duplicate key '%s'", t.ID, i+1, in.Key)
		}
		keys[in.Key] = true
	}
	return nil
}
