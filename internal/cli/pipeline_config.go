// Copyright (C) 2026 Noldarim
// SPDX-License-Identifier: AGPL-3.0-or-later

package cli

import (
	"errors"
	"fmt"
	"maps"
	"os"
	"regexp"
	"sort"
	"strings"

	"github.com/noldarim/inkwell/internal/models"
	"github.com/noldarim/inkwell/internal/pipeline"

	"gopkg.in/yaml.v3"
)

// PipelineFileConfig represents a pipeline YAML file
type PipelineFileConfig struct {
	Name        string            `yaml:"name"`
	Description string            `yaml:"description"`
	Variables   map[string]string `yaml:"variables"`
	Context     map[string]string `yaml:"context"`
	Steps       []models.StepSpec `yaml:"steps"`
}

// LoadPipelineFile loads and validates a pipeline YAML file
func LoadPipelineFile(path string) (*PipelineFileConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read pipeline file: %w", err)
	}

	var cfg PipelineFileConfig
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse pipeline YAML: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid pipeline config: %w", err)
	}

	return &cfg, nil
}

// Validate checks the pipeline config for errors
func (p *PipelineFileConfig) Validate() error {
	if p.Name == "" {
		return errors.New("pipeline name is required")
	}
	if len(p.Steps) == 0 {
		return errors.New("pipeline must have at least one step")
	}
	for i, step := range p.Steps {
		if !step.Type.IsValid() {
			return fmt.Errorf("step %d: unknown type %q", i+1, step.Type)
		}
	}
	return nil
}

// ContextWriter receives the file's research context seeds.
type ContextWriter interface {
	UpdateResearchContext(key string, value any)
}

// Create renders the steps with vars and adds the pipeline to store.
// cliVars override variables defined in the YAML file.
func (p *PipelineFileConfig) Create(store *pipeline.Store, rc ContextWriter, cliVars map[string]string) (models.Pipeline, error) {
	vars := make(map[string]string, len(p.Variables)+len(cliVars))
	maps.Copy(vars, p.Variables)
	maps.Copy(vars, cliVars)

	specs := make([]models.StepSpec, len(p.Steps))
	for i, step := range p.Steps {
		rendered, err := renderParams(step.Params, vars)
		if err != nil {
			return models.Pipeline{}, fmt.Errorf("step %d (%s): %w", i+1, step.Type, err)
		}
		step.Params = rendered
		if step.Name == "" {
			step.Name = string(step.Type)
		}
		specs[i] = step
	}
	seeds := make(map[string]string, len(p.Context))
	for k, v := range p.Context {
		if err := validateTemplateVars(v, vars); err != nil {
			return models.Pipeline{}, fmt.Errorf("context %s: %w", k, err)
		}
		seeds[k] = renderTemplate(v, vars)
	}

	for k, v := range seeds {
		rc.UpdateResearchContext(k, v)
	}
	created := store.CreatePipeline(p.Name, "")
	for _, spec := range specs {
		if _, err := store.AddStep(created.ID, spec); err != nil {
			return models.Pipeline{}, err
		}
	}
	out, _ := store.Pipeline(created.ID)
	return out, nil
}

func renderParams(params map[string]any, vars map[string]string) (map[string]any, error) {
	if params == nil {
		return nil, nil
	}
	out := make(map[string]any, len(params))
	for k, v := range params {
		s, ok := v.(string)
		if !ok {
			out[k] = v
			continue
		}
		if err := validateTemplateVars(s, vars); err != nil {
			return nil, fmt.Errorf("param %s: %w", k, err)
		}
		out[k] = renderTemplate(s, vars)
	}
	return out, nil
}

// templateVarPattern matches Go template variable syntax: {{.varName}}
var templateVarPattern = regexp.MustCompile(`\{\{\s*\.(\w+)\s*\}\}`)

// renderTemplate substitutes {{.varName}} for every varName present in vars.
func renderTemplate(templateStr string, vars map[string]string) string {
	return templateVarPattern.ReplaceAllStringFunc(templateStr, func(match string) string {
		submatches := templateVarPattern.FindStringSubmatch(match)
		if len(submatches) < 2 {
			return match
		}
		if value, exists := vars[submatches[1]]; exists {
			return value
		}
		return match
	})
}

// validateTemplateVars checks that every referenced variable has a value.
func validateTemplateVars(templateStr string, vars map[string]string) error {
	var missing []string
	for _, match := range templateVarPattern.FindAllStringSubmatch(templateStr, -1) {
		if _, ok := vars[match[1]]; !ok {
			missing = append(missing, match[1])
		}
	}
	if len(missing) > 0 {
		sort.Strings(missing)
		return fmt.Errorf("undefined template variables: %s", strings.Join(missing, ", "))
	}
	return nil
}
