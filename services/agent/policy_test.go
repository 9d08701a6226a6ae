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
	"testing"

	"github.com/AleutianAI/hostpilot/services/agent/config"
	"github.com/AleutianAI/hostpilot/services/agent/registry"
)

// recordingConfirmer answers a canned verdict and records what it was asked.
type recordingConfirmer struct {
	verdict bool
	calls   []string
}

func (c *recordingConfirmer) Confirm(_ context.Context, _ int, toolName string, _ registry.RiskTier, _ map[string]any) bool {
	c.calls = append(c.calls, toolName)
	return c.verdict
}

func TestPolicyAutonomousAllowsEverything(t *testing.T) {
	confirmer := &recordingConfirmer{verdict: false}
	p := NewPolicy(config.SafetyModeAutonomous, confirmer, slog.Default())

	for _, risk := range []registry.RiskTier{registry.RiskSafe, registry.RiskMedium, registry.RiskHigh} {
		if !p.Allow(context.Background(), 1, "any.tool", risk, nil) {
			t.Fatalf("autonomous mode denied risk %s", risk)
		}
	}
	if len(confirmer.calls) != 0 {
		t.Fatalf("autonomous mode consulted the confirmer %d times", len(confirmer.calls))
	}
}

func TestPolicySemiAutonomousGatesByRisk(t *testing.T) {
	confirmer := &recordingConfirmer{verdict: true}
	p := NewPolicy(config.SafetyModeSemiAutonomous, confirmer, slog.Default())

	if !p.Allow(context.Background(), 1, "sys.get_info", registry.RiskSafe, nil) {
		t.Fatal("semi-autonomous mode denied a safe tool")
	}
	if len(confirmer.calls) != 0 {
		t.Fatal("safe tool was deferred to the confirmer")
	}

	if !p.Allow(context.Background(), 2, "proc.kill", registry.RiskHigh, nil) {
		t.Fatal("confirmer approval was not honored")
	}
	if len(confirmer.calls) != 1 || confirmer.calls[0] != "proc.kill" {
		t.Fatalf("confirmer calls = %v, want [proc.kill]", confirmer.calls)
	}
}

func TestPolicySafeDefersEverything(t *testing.T) {
	confirmer := &recordingConfirmer{verdict: true}
	p := NewPolicy(config.SafetyModeSafe, confirmer, slog.Default())

	p.Allow(context.Background(), 1, "sys.get_info", registry.RiskSafe, nil)
	p.Allow(context.Background(), 2, "proc.kill", registry.RiskHigh, nil)

	if len(confirmer.calls) != 2 {
		t.Fatalf("confirmer consulted %d times, want 2", len(confirmer.calls))
	}
}

func TestPolicyDeniedWithoutConfirmer(t *testing.T) {
	p := NewPolicy(config.SafetyModeSafe, nil, slog.Default())
	if p.Allow(context.Background(), 1, "sys.get_info", registry.RiskSafe, nil) {
		t.Fatal("deferred decision with no confirmer was allowed")
	}

	semi := NewPolicy(config.SafetyModeSemiAutonomous, nil, slog.Default())
	if semi.Allow(context.Background(), 1, "proc.kill", registry.RiskHigh, nil) {
		t.Fatal("high-risk step with no confirmer was allowed")
	}
	if !semi.Allow(context.Background(), 2, "sys.get_info", registry.RiskSafe, nil) {
		t.Fatal("semi-autonomous mode denied a safe tool without a confirmer")
	}
}

func TestPolicyConfirmerDenialIsFinal(t *testing.T) {
	confirmer := &recordingConfirmer{verdict: false}
	p := NewPolicy(config.SafetyModeSafe, confirmer, slog.Default())
	if p.Allow(context.Background(), 1, "fs.list_dir", registry.RiskSafe, nil) {
		t.Fatal("confirmer denial was overridden")
	}
}

func TestPolicyUnknownModeFallsBackToSafe(t *testing.T) {
	p := NewPolicy("yolo", nil, slog.Default())
	if p.Mode() != config.SafetyModeSafe {
		t.Fatalf("Mode() = %q, want %q", p.Mode(), config.SafetyModeSafe)
	}
	if p.Allow(context.Background(), 1, "sys.get_info", registry.RiskSafe, nil) {
		t.Fatal("unknown mode with no confirmer allowed a step")
	}
}
