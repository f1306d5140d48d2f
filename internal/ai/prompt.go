// Copyright (C) 2026 Noldarim
// SPDX-License-Identifier: AGPL-3.0-or-later

package ai

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"text/template"
	"time"

	"github.com/noldarim/inkwell/internal/models"
)

const preamble = `You are a careful academic writing assistant. Answer in plain prose or
markdown. Do not repeat the instructions.
{{with .context}}
Research context (JSON):
{{json .}}
{{end}}
`

var promptSources = map[models.StepType]string{
	models.StepTypeBrainstorm: `Brainstorm {{or .params.count 5}} distinct research ideas{{with .params.topic}} on "{{.}}"{{end}}.
Give each idea a one-line title and two sentences of motivation.`,

	models.StepTypeStructure: `Propose a section-by-section outline for a paper{{with .params.topic}} on "{{.}}"{{end}}.
List each section with the points it should cover.`,

	models.StepTypeHypothesis: `Formulate {{or .params.count 3}} testable hypotheses{{with .params.topic}} about "{{.}}"{{end}}.
For each, state the independent and dependent variables and a falsification criterion.`,

	models.StepTypeMethodology: `Design a research methodology to test the hypothesis in the context.
Cover study design, sampling, measures and threats to validity.`,

	models.StepTypeLiterature: `Write a structured literature review{{with .params.topic}} on "{{.}}"{{end}}.
Group prior work by theme and point out the gaps the hypothesis addresses.`,

	models.StepTypeAnalysis: `Plan the analysis for the data and methodology in the context.
Name the statistical tests, the assumptions to check and how results will be reported.`,

	models.StepTypeDiscussion: `Write a discussion section interpreting the results against the hypothesis and
the reviewed literature. Include limitations.`,

	models.StepTypeConclusion: `Write a concise conclusion restating the contribution, the key findings and
directions for future work.`,

	models.StepTypeStyle: `Edit the draft text for clarity and flow{{with .params.tone}} in a {{.}} tone{{end}}.
{{with .params.text}}Text:
{{.}}
{{end}}Return the revised text followed by a short list of the changes made.`,
}

var prompts = func() map[models.StepType]*template.Template {
	funcs := template.FuncMap{
		"json": func(v any) string {
			b, err := json.MarshalIndent(v, "", "  ")
			if err != nil {
				return fmt.Sprintf("%v", v)
			}
			return string(b)
		},
	}
	out := make(map[models.StepType]*template.Template, len(promptSources))
	for st, src := range promptSources {
		out[st] = template.Must(template.New(string(st)).Funcs(funcs).Parse(src + "\n" + preamble))
	}
	return out
}()

// BuildPrompt renders the instruction text sent to a chat model for stepType.
func BuildPrompt(stepType models.StepType, params, stepContext map[string]any) (string, error) {
	t, ok := prompts[stepType]
	if !ok {
		return "", fmt.Errorf("no prompt for step type %q", stepType)
	}
	if len(stepContext) == 0 {
		stepContext = nil
	}
	var sb strings.Builder
	err := t.Execute(&sb, map[string]any{
		"params":  params,
		"context": stepContext,
	})
	if err != nil {
		return "", fmt.Errorf("failed to render %s prompt: %w", stepType, err)
	}
	return strings.TrimSpace(sb.String()), nil
}

// completer sends one prompt to a chat model and returns the text reply.
type completer interface {
	complete(ctx context.Context, prompt string) (string, error)
}

// chatInvoker adapts a chat model to the Invoker contract.
type chatInvoker struct {
	provider  string
	completer completer
	timeout   time.Duration
}

func (c *chatInvoker) Invoke(ctx context.Context, stepType models.StepType, params, stepContext map[string]any) (Result, error) {
	prompt, err := BuildPrompt(stepType, params, stepContext)
	if err != nil {
		return Result{}, err
	}

	if c.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.timeout)
		defer cancel()
	}

	start := time.Now()
	text, err := c.completer.complete(ctx, prompt)
	if err != nil {
		getLog().Warn().Err(err).Str("provider", c.provider).Str("step_type", string(stepType)).Msg("AI request failed")
		return Result{Success: false, Error: err.Error()}, nil
	}
	getLog().Debug().
		Str("provider", c.provider).
		Str("step_type", string(stepType)).
		Int("chars", len(text)).
		Dur("elapsed", time.Since(start)).
		Msg("AI request finished")

	if strings.TrimSpace(text) == "" {
		return Result{Success: false, Error: "model returned an empty response"}, nil
	}
	return Result{Success: true, Data: text}, nil
}
