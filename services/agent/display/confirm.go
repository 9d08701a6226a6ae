// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package display

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"

	"github.com/charmbracelet/huh"
	"github.com/mattn/go-isatty"

	"github.com/AleutianAI/hostpilot/services/agent"
	"github.com/AleutianAI/hostpilot/services/agent/registry"
)

// TerminalConfirmer prompts the operator before a gated step runs.
//
// # Description
//
// Interactive sessions get a confirm prompt naming the tool, its risk
// tier, and its arguments. Without a terminal there is nobody to ask,
// so every decision is a denial; permission gaps never become silent
// approvals. Prompt errors (EOF, ctrl-c) also deny.
type TerminalConfirmer struct {
	interactive bool
	logger      *slog.Logger
}

var _ agent.Confirmer = (*TerminalConfirmer)(nil)

// NewTerminalConfirmer detects terminal interactivity from stdin.
func NewTerminalConfirmer(logger *slog.Logger) *TerminalConfirmer {
	if logger == nil {
		logger = slog.Default()
	}
	fd := os.Stdin.Fd()
	return &TerminalConfirmer{
		interactive: isatty.IsTerminal(fd) || isatty.IsCygwinTerminal(fd),
		logger:      logger,
	}
}

// Interactive reports whether prompts can actually be shown.
func (c *TerminalConfirmer) Interactive() bool { return c.interactive }

// Confirm shows the prompt and returns the operator's decision.
func (c *TerminalConfirmer) Confirm(ctx context.Context, stepID int, toolName string, risk registry.RiskTier, args map[string]any) bool {
	if !c.interactive {
		c.logger.Warn("confirmation required but no terminal attached, denying",
			slog.Int("step_id", stepID),
			slog.String("tool", toolName),
			slog.String("risk", risk.String()),
		)
		return false
	}
	if err := ctx.Err(); err != nil {
		return false
	}

	description := fmt.Sprintf("risk: %s", risk)
	if len(args) > 0 {
		if raw, err := json.Marshal(args); err == nil {
			description += "\narguments: " + string(raw)
		}
	}

	approved := false
	err := huh.NewConfirm().
		Title(fmt.Sprintf("Run step %d: %s?", stepID, toolName)).
		Description(description).
		Affirmative("Allow").
		Negative("Deny").
		Value(&approved).
		Run()
	if err != nil {
		c.logger.Warn("confirmation prompt failed, denying",
			slog.String("tool", toolName),
			slog.String("error", err.Error()),
		)
		return false
	}
	return approved
}
