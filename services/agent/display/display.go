// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package display provides the terminal frontend: a styled event sink
// that narrates runs and an interactive confirmation prompt for gated
// steps. Non-interactive sessions fall back to plain line output.
package display

import (
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/charmbracelet/lipgloss"
	"github.com/mattn/go-isatty"

	"github.com/AleutianAI/hostpilot/services/agent"
	"github.com/AleutianAI/hostpilot/services/agent/plan"
)

// Aleutian color palette - deep ocean teals and arctic waters
var (
	colorTealBright = lipgloss.Color("#2CD7C7")
	colorTealDeep   = lipgloss.Color("#16858E")
	colorSlate      = lipgloss.Color("#2C4A54")
	colorWarning    = lipgloss.Color("#F4D03F")
	colorError      = lipgloss.Color("#E74C3C")
)

var (
	styleState   = lipgloss.NewStyle().Foreground(colorTealDeep)
	styleSuccess = lipgloss.NewStyle().Foreground(colorTealBright)
	styleWarning = lipgloss.NewStyle().Foreground(colorWarning)
	styleError   = lipgloss.NewStyle().Foreground(colorError)
	styleMuted   = lipgloss.NewStyle().Foreground(colorSlate)
	styleSummary = lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(colorTealDeep).
			Padding(0, 1)
)

// ConsoleSink narrates a run on the terminal.
//
// Styled output is used only when the writer is an interactive terminal;
// pipes and CI logs get plain lines. All methods are best-effort: write
// errors are ignored, and the orchestrator guards against panics.
type ConsoleSink struct {
	w      io.Writer
	styled bool
}

var _ agent.EventSink = (*ConsoleSink)(nil)

// NewConsoleSink creates a sink writing to w. Styling is enabled when w
// is os.Stdout or os.Stderr on a TTY.
func NewConsoleSink(w io.Writer) *ConsoleSink {
	if w == nil {
		w = os.Stdout
	}
	return &ConsoleSink{w: w, styled: writerIsTerminal(w)}
}

func writerIsTerminal(w io.Writer) bool {
	f, ok := w.(*os.File)
	if !ok {
		return false
	}
	return isatty.IsTerminal(f.Fd()) || isatty.IsCygwinTerminal(f.Fd())
}

func (s *ConsoleSink) render(style lipgloss.Style, text string) string {
	if s.styled {
		return style.Render(text)
	}
	return text
}

func (s *ConsoleSink) OnStateChange(_ string, from, to agent.State) {
	fmt.Fprintf(s.w, "%s\n", s.render(styleState, fmt.Sprintf("  %s → %s", from, to)))
}

func (s *ConsoleSink) OnPlan(_ string, p *plan.Plan) {
	if p == nil {
		return
	}
	fmt.Fprintf(s.w, "%s\n", s.render(styleMuted, fmt.Sprintf("  plan: %s", p.Reasoning)))
	for _, step := range p.Steps {
		line := fmt.Sprintf("    %d. %s", step.StepID, step.ToolName)
		if len(step.Arguments) > 0 {
			if raw, err := json.Marshal(step.Arguments); err == nil {
				line += " " + string(raw)
			}
		}
		fmt.Fprintf(s.w, "%s\n", s.render(styleMuted, line))
	}
}

func (s *ConsoleSink) OnConfidence(_ string, score float64) {
	style := styleSuccess
	if score < 0.8 {
		style = styleWarning
	}
	fmt.Fprintf(s.w, "%s\n", s.render(style, fmt.Sprintf("  confidence: %.2f", score)))
}

func (s *ConsoleSink) OnStepResult(_ string, r plan.StepResult) {
	switch r.Status {
	case plan.StatusSuccess:
		fmt.Fprintf(s.w, "%s\n", s.render(styleSuccess, fmt.Sprintf("  ✓ %s", r.ToolName)))
	case plan.StatusSkipped:
		fmt.Fprintf(s.w, "%s\n", s.render(styleWarning, fmt.Sprintf("  ○ %s (skipped: %s)", r.ToolName, r.Error)))
	case plan.StatusFailed:
		fmt.Fprintf(s.w, "%s\n", s.render(styleError, fmt.Sprintf("  ✗ %s: %s", r.ToolName, r.Error)))
	case plan.StatusError:
		fmt.Fprintf(s.w, "%s\n", s.render(styleError, fmt.Sprintf("  ✗ %s", r.Error)))
	}
}

func (s *ConsoleSink) OnSummary(_ string, summary string) {
	if s.styled {
		fmt.Fprintf(s.w, "%s\n", styleSummary.Render(summary))
		return
	}
	fmt.Fprintf(s.w, "%s\n", summary)
}
