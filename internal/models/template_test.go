// Copyright (C) 2026 Noldarim
// SPDX-License-Identifier: AGPL-3.0-or-later

package models

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadTemplates_Builtin(t *testing.T) {
	templates, err := LoadTemplates("")
	require.NoError(t, err)

	ids := make([]string, 0, len(templates))
	for _, tmpl := range templates {
		ids = append(ids, tmpl.ID)
	}
	assert.Equal(t, []string{
		"research-paper", "hypothesis-generation", "literature-review", "style-editing", "creative-writing",
	}, ids)

	paper, ok := FindTemplate(templates, "research-paper")
	require.True(t, ok)
	assert.Len(t, paper.Steps, 8)
	assert.Equal(t, StepTypeBrainstorm, paper.Steps[0].Type)
	assert.Equal(t, 5, paper.Steps[0].Params["count"])
	assert.Equal(t, "researchTopic", paper.Inputs[0].ContextKey)
	assert.True(t, paper.Inputs[0].Required)
}

func TestLoadTemplates_UserOverlay(t *testing.T) {
	path := filepath.Join(t.TempDir(), "templates.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
templates:
  - id: style-editing
    name: House Style
    steps:
      - type: style
        name: House style pass
  - id: quick-brainstorm
    name: Quick Brainstorm
    steps:
      - type: brainstorm
        name: Ideas
`), 0644))

	templates, err := LoadTemplates(path)
	require.NoError(t, err)

	style, ok := FindTemplate(templates, "style-editing")
	require.True(t, ok)
	assert.Equal(t, "House Style", style.Name)

	_, ok = FindTemplate(templates, "quick-brainstorm")
	assert.True(t, ok)
	assert.Len(t, templates, 6)
}

func TestParseTemplates_Errors(t *testing.T) {
	tests := []struct {
		name   string
		yaml   string
		errMsg string
	}{
		{"bad yaml", "templates: [", "failed to parse template YAML"},
		{"missing id", "templates:\n  - name: x\n    steps:\n      - {type: style, name: s}\n", "id is required"},
		{"no steps", "templates:\n  - id: a\n    name: A\n", "at least one step"},
		{"unknown type", "templates:\n  - id: a\n    name: A\n    steps:\n      - {type: poetry, name: p}\n", "unknown step type 'poetry'"},
		{"duplicate id", "templates:\n  - id: a\n    name: A\n    steps:\n      - {type: style, name: s}\n  - id: a\n    name: B\n    steps:\n      - {type: style, name: s}\n", "duplicate id 'a'"},
		{"duplicate input", "templates:\n  - id: a\n    name: A\n    inputs:\n      - {key: k}\n      - {key: k}\n    steps:\n      - {type: style, name: s}\n", "duplicate key 'k'"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParseTemplates([]byte(tt.yaml))
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.errMsg)
		})
	}
}
