// Copyright (C) 2026 Noldarim
// SPDX-License-Identifier: AGPL-3.0-or-later

package cli

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/lipgloss"
	"github.com/noldarim/inkwell/internal/models"
	"github.com/noldarim/inkwell/internal/protocol"
	"github.com/noldarim/inkwell/internal/recovery"
)

var (
	dimStyle     = lipgloss.NewStyle().Foreground(lipgloss.Color("239"))
	labelStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("245"))
	valueStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("252"))
	successStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("35"))
	failStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("196"))
	accentStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("75"))
	warnStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("214"))

	bannerStyle = lipgloss.NewStyle().
			Border(lipgloss.NormalBorder(), true, false).
			BorderForeground(lipgloss.Color("239")).
			Padding(0, 2)
	panelStyle = lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(lipgloss.Color("196")).
			Padding(0, 1)
)

func stepIcon(s models.StepStatus) string {
	switch s {
	case models.StepStatusCompleted:
		return successStyle.Render("✓")
	case models.StepStatusError:
		return failStyle.Render("✗")
	case models.StepStatusRunning:
		return accentStyle.Render("◦")
	default:
		return labelStyle.Render("○")
	}
}

func renderBanner(p models.Pipeline) string {
	lines := []string{
		valueStyle.Bold(true).Render(appName + " run"),
		fmt.Sprintf("%s %s", labelStyle.Render("Pipeline:"), valueStyle.Render(truncateForDisplay(p.Name, 50))),
		fmt.Sprintf("%s %d", labelStyle.Render("Steps:"), len(p.Steps)),
	}
	if p.TemplateID != "" {
		lines = append(lines, fmt.Sprintf("%s %s", labelStyle.Render("Template:"), accentStyle.Render(p.TemplateID)))
	}
	return bannerStyle.Render(strings.Join(lines, "\n"))
}

// renderLifecycle formats one progress line. Returns "" for events not worth
// a line of output.
func renderLifecycle(e protocol.PipelineLifecycleEvent) string {
	pos := dimStyle.Render(fmt.Sprintf("[%d]", e.StepIndex+1))
	switch e.Type {
	case protocol.PipelineStepStarted:
		return fmt.Sprintf("%s %s %s %s", pos, stepIcon(models.StepStatusRunning), e.StepName, dimStyle.Render(string(e.StepType)))
	case protocol.PipelineStepCompleted:
		return fmt.Sprintf("%s %s %s %s", pos, stepIcon(models.StepStatusCompleted), e.StepName,
			dimStyle.Render(truncateForDisplay(resultText(e.Result), 60)))
	case protocol.PipelineStepFailed:
		return fmt.Sprintf("%s %s %s %s", pos, stepIcon(models.StepStatusError), e.StepName, failStyle.Render(e.Error))
	case protocol.PipelinePaused:
		return warnStyle.Render("▸ Paused before step " + fmt.Sprint(e.StepIndex+1))
	case protocol.PipelineFinished:
		return successStyle.Bold(true).Render("▸ Pipeline finished")
	}
	return ""
}

func renderConnection(e protocol.ConnectionStateEvent) string {
	line := fmt.Sprintf("▸ Backend %s", strings.ReplaceAll(e.State, "_", " "))
	if e.FailureCount > 0 {
		line += fmt.Sprintf(" (%d failures)", e.FailureCount)
	}
	if e.State == "connected" {
		return successStyle.Render(line)
	}
	return warnStyle.Render(line)
}

func renderRecovery(st recovery.Status) string {
	lines := []string{failStyle.Bold(true).Render("Recovery")}
	if st.Message != "" {
		lines = append(lines, valueStyle.Render(st.Message))
	}
	lines = append(lines, dimStyle.Render(fmt.Sprintf("Attempts %d/%d", st.Attempts, st.MaxAttempts)))
	for _, a := range st.Actions {
		mark := successStyle.Render("•")
		label := a.Label
		if !a.Enabled {
			mark = dimStyle.Render("·")
			label = dimStyle.Render(label + " (unavailable)")
		}
		lines = append(lines, mark+" "+label)
	}
	return panelStyle.Render(strings.Join(lines, "\n"))
}

func renderSummary(p models.Pipeline) string {
	var completed, failed int
	for _, s := range p.Steps {
		switch s.Status {
		case models.StepStatusCompleted:
			completed++
		case models.StepStatusError:
			failed++
		}
	}

	var status string
	switch p.DeriveStatus() {
	case models.PipelineStatusCompleted:
		status = successStyle.Render("✓") + " " + successStyle.Bold(true).Render("Completed")
	case models.PipelineStatusError:
		status = failStyle.Render("✗") + " " + failStyle.Bold(true).Render("Failed")
	default:
		status = labelStyle.Render("○") + " " + labelStyle.Bold(true).Render("Incomplete")
	}

	stepsInfo := fmt.Sprintf("%d/%d", completed, len(p.Steps))
	if failed > 0 {
		stepsInfo += failStyle.Render(fmt.Sprintf(" (%d failed)", failed))
	}
	lines := []string{status, fmt.Sprintf("%s %s", labelStyle.Render("Steps:"), valueStyle.Render(stepsInfo))}
	for i, s := range p.Steps {
		line := fmt.Sprintf("  %s %s", stepIcon(s.Status), s.Name)
		if s.Status == models.StepStatusCompleted {
			line += " " + dimStyle.Render(truncateForDisplay(resultText(s.Result), 60))
		}
		if s.Error != "" {
			line += " " + failStyle.Render(s.Error)
		}
		lines = append(lines, dimStyle.Render(fmt.Sprintf("%2d", i+1))+line)
	}
	return strings.Join(lines, "\n")
}

func resultText(v any) string {
	switch r := v.(type) {
	case nil:
		return ""
	case string:
		return r
	default:
		return fmt.Sprint(r)
	}
}

func truncateForDisplay(s string, maxLen int) string {
	s = strings.ReplaceAll(s, "\n", " ")
	s = strings.ReplaceAll(s, "\t", " ")
	if r := []rune(s); len(r) > maxLen {
		return string(r[:maxLen-3]) + "..."
	}
	return s
}
