// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package agent

import (
	"context"
	"log/slog"

	"github.com/AleutianAI/hostpilot/services/agent/config"
	"github.com/AleutianAI/hostpilot/services/agent/registry"
)

// Confirmer is the interactive confirmation collaborator: a prompt shown
// to a human before a gated step runs. Implementations must return within
// a bounded time; a hung prompt hangs the step.
type Confirmer interface {
	Confirm(ctx context.Context, stepID int, toolName string, risk registry.RiskTier, args map[string]any) bool
}

// Policy is the pure permission decision function, parameterized by the
// configured safety mode.
//
// # Description
//
//   - Autonomous: always allow.
//   - SemiAutonomous: auto-allow risk-safe tools, defer the rest.
//   - Safe (default): defer every step to the confirmer.
//
// Deferred decisions with no confirmer attached are DENIED. Permission
// gaps are never silently treated as approval.
//
// # Thread Safety
//
// Safe for concurrent use; the policy itself is immutable.
type Policy struct {
	mode      string
	confirmer Confirmer // nil = headless denial for deferred decisions
	logger    *slog.Logger
}

// NewPolicy creates the permission policy. Unknown modes are treated as
// Safe, the most restrictive.
func NewPolicy(mode string, confirmer Confirmer, logger *slog.Logger) *Policy {
	if logger == nil {
		logger = slog.Default()
	}
	switch mode {
	case config.SafetyModeSafe, config.SafetyModeSemiAutonomous, config.SafetyModeAutonomous:
	default:
		logger.Warn("unknown safety mode, defaulting to safe", slog.String("mode", mode))
		mode = config.SafetyModeSafe
	}
	return &Policy{mode: mode, confirmer: confirmer, logger: logger}
}

// Mode returns the active safety mode.
func (p *Policy) Mode() string { return p.mode }

// Allow decides whether a step may run. This is the executor's
// permission gate.
func (p *Policy) Allow(ctx context.Context, stepID int, toolName string, risk registry.RiskTier, args map[string]any) bool {
	switch p.mode {
	case config.SafetyModeAutonomous:
		return true
	case config.SafetyModeSemiAutonomous:
		if risk == registry.RiskSafe {
			return true
		}
	}

	if p.confirmer == nil {
		p.logger.Warn("permission denied: no confirmer attached",
			slog.Int("step_id", stepID),
			slog.String("tool", toolName),
			slog.String("risk", risk.String()),
			slog.String("mode", p.mode),
		)
		return false
	}
	return p.confirmer.Confirm(ctx, stepID, toolName, risk, args)
}
