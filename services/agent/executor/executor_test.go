// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package executor

import (
	"context"
	"errors"
	"testing"

	"github.com/AleutianAI/hostpilot/services/agent/plan"
	"github.com/AleutianAI/hostpilot/services/agent/registry"
)

func newTestRegistry(t *testing.T) *registry.Registry {
	t.Helper()
	r := registry.New(nil)
	tools := []registry.Descriptor{
		{
			Name: "ok.tool",
			Risk: registry.RiskSafe,
			Run: func(_ context.Context, _ map[string]any) (any, error) {
				return map[string]any{"value": 42}, nil
			},
		},
		{
			Name: "err.tool",
			Risk: registry.RiskSafe,
			Run: func(_ context.Context, _ map[string]any) (any, error) {
				return nil, errors.New("disk on fire")
			},
		},
		{
			Name: "panic.tool",
			Risk: registry.RiskSafe,
			Run: func(_ context.Context, _ map[string]any) (any, error) {
				panic("unexpected nil")
			},
		},
		{
			Name: "high.tool",
			Risk: registry.RiskHigh,
			Run: func(_ context.Context, _ map[string]any) (any, error) {
				return "destroyed", nil
			},
		},
	}
	for _, d := range tools {
		if err := r.Register(d); err != nil {
			t.Fatalf("Register(%q) failed: %v", d.Name, err)
		}
	}
	r.Freeze()
	return r
}

func steps(ss ...plan.Step) *plan.Plan {
	return &plan.Plan{Reasoning: "test", ConfidencePrediction: 0.9, Steps: ss}
}

// =============================================================================
// Happy Path
// =============================================================================

func TestExecute_AllStepsSucceed(t *testing.T) {
	e := New(newTestRegistry(t), nil)
	p := steps(
		plan.Step{StepID: 1, ToolName: "ok.tool"},
		plan.Step{StepID: 2, ToolName: "ok.tool"},
	)

	results := e.Execute(context.Background(), p, nil, nil)
	if len(results) != 2 {
		t.Fatalf("expected 2 ledger entries, got %d", len(results))
	}
	for i, r := range results {
		if r.Status != plan.StatusSuccess {
			t.Errorf("entry %d status = %q, want success", i, r.Status)
		}
		if r.Result == nil {
			t.Errorf("entry %d missing result payload", i)
		}
	}
}

func TestExecute_EmptyPlan(t *testing.T) {
	e := New(newTestRegistry(t), nil)
	results := e.Execute(context.Background(), steps(), nil, nil)
	if results == nil {
		t.Fatal("ledger must never be nil")
	}
	if len(results) != 0 {
		t.Fatalf("expected empty ledger, got %d entries", len(results))
	}
}

// =============================================================================
// Unknown Tool
// =============================================================================

func TestExecute_UnknownToolAborts(t *testing.T) {
	e := New(newTestRegistry(t), nil)
	p := steps(
		plan.Step{StepID: 1, ToolName: "no.such_tool", OnFailure: plan.OnFailureAbort},
		plan.Step{StepID: 2, ToolName: "ok.tool"},
	)

	results := e.Execute(context.Background(), p, nil, nil)
	if len(results) != 1 {
		t.Fatalf("expected 1 ledger entry after abort, got %d", len(results))
	}
	if results[0].Status != plan.StatusFailed {
		t.Errorf("status = %q, want failed", results[0].Status)
	}
	if results[0].Error == "" {
		t.Error("expected a failure message for the unknown tool")
	}
}

func TestExecute_UnknownToolContinues(t *testing.T) {
	e := New(newTestRegistry(t), nil)
	p := steps(
		plan.Step{StepID: 1, ToolName: "no.such_tool", OnFailure: plan.OnFailureContinue},
		plan.Step{StepID: 2, ToolName: "ok.tool"},
	)

	results := e.Execute(context.Background(), p, nil, nil)
	if len(results) != 2 {
		t.Fatalf("expected 2 ledger entries, got %d", len(results))
	}
	if results[0].Status != plan.StatusFailed {
		t.Errorf("entry 0 status = %q, want failed", results[0].Status)
	}
	if results[1].Status != plan.StatusSuccess {
		t.Errorf("entry 1 status = %q, want success", results[1].Status)
	}
}

// =============================================================================
// Permission Gate
// =============================================================================

func TestExecute_DenialSkipsAndAborts(t *testing.T) {
	e := New(newTestRegistry(t), nil)
	p := steps(
		plan.Step{StepID: 1, ToolName: "high.tool", OnFailure: plan.OnFailureAbort},
		plan.Step{StepID: 2, ToolName: "ok.tool"},
	)

	denyAll := func(_ context.Context, _ int, _ string, _ registry.RiskTier, _ map[string]any) bool {
		return false
	}
	results := e.Execute(context.Background(), p, denyAll, nil)
	if len(results) != 1 {
		t.Fatalf("expected 1 ledger entry after aborting denial, got %d", len(results))
	}
	if results[0].Status != plan.StatusSkipped {
		t.Errorf("status = %q, want skipped", results[0].Status)
	}
}

func TestExecute_DenialSkipsAndContinues(t *testing.T) {
	e := New(newTestRegistry(t), nil)
	p := steps(
		plan.Step{StepID: 1, ToolName: "high.tool", OnFailure: plan.OnFailureContinue},
		plan.Step{StepID: 2, ToolName: "ok.tool"},
	)

	denyHigh := func(_ context.Context, _ int, _ string, risk registry.RiskTier, _ map[string]any) bool {
		return risk != registry.RiskHigh
	}
	results := e.Execute(context.Background(), p, denyHigh, nil)
	if len(results) != 2 {
		t.Fatalf("expected 2 ledger entries, got %d", len(results))
	}
	if results[0].Status != plan.StatusSkipped {
		t.Errorf("entry 0 status = %q, want skipped", results[0].Status)
	}
	if results[1].Status != plan.StatusSuccess {
		t.Errorf("entry 1 status = %q, want success", results[1].Status)
	}
}

func TestExecute_GateReceivesRiskTier(t *testing.T) {
	e := New(newTestRegistry(t), nil)
	p := steps(plan.Step{StepID: 7, ToolName: "high.tool"})

	var seenRisk registry.RiskTier
	var seenID int
	gate := func(_ context.Context, stepID int, _ string, risk registry.RiskTier, _ map[string]any) bool {
		seenID = stepID
		seenRisk = risk
		return true
	}
	e.Execute(context.Background(), p, gate, nil)
	if seenRisk != registry.RiskHigh {
		t.Errorf("gate saw risk %v, want RiskHigh", seenRisk)
	}
	if seenID != 7 {
		t.Errorf("gate saw step id %d, want 7", seenID)
	}
}

// =============================================================================
// Tool Faults
// =============================================================================

func TestExecute_ToolErrorAborts(t *testing.T) {
	e := New(newTestRegistry(t), nil)
	p := steps(
		plan.Step{StepID: 1, ToolName: "err.tool"},
		plan.Step{StepID: 2, ToolName: "ok.tool"},
	)

	results := e.Execute(context.Background(), p, nil, nil)
	if len(results) != 1 {
		t.Fatalf("expected 1 ledger entry, got %d", len(results))
	}
	if results[0].Status != plan.StatusFailed {
		t.Errorf("status = %q, want failed", results[0].Status)
	}
	if results[0].Error != "disk on fire" {
		t.Errorf("error = %q, want tool message", results[0].Error)
	}
}

func TestExecute_PanicBecomesFailedStep(t *testing.T) {
	e := New(newTestRegistry(t), nil)
	p := steps(
		plan.Step{StepID: 1, ToolName: "panic.tool", OnFailure: plan.OnFailureContinue},
		plan.Step{StepID: 2, ToolName: "ok.tool"},
	)

	results := e.Execute(context.Background(), p, nil, nil)
	if len(results) != 2 {
		t.Fatalf("expected the run to survive the panic, got %d entries", len(results))
	}
	if results[0].Status != plan.StatusFailed {
		t.Errorf("entry 0 status = %q, want failed", results[0].Status)
	}
	if results[0].Error == "" {
		t.Error("expected the panic value in the error message")
	}
	if results[1].Status != plan.StatusSuccess {
		t.Errorf("entry 1 status = %q, want success", results[1].Status)
	}
}

// =============================================================================
// Telemetry Callback
// =============================================================================

func TestExecute_ResultCallbackOrder(t *testing.T) {
	e := New(newTestRegistry(t), nil)
	p := steps(
		plan.Step{StepID: 1, ToolName: "ok.tool"},
		plan.Step{StepID: 2, ToolName: "err.tool", OnFailure: plan.OnFailureContinue},
		plan.Step{StepID: 3, ToolName: "ok.tool"},
	)

	var seen []int
	results := e.Execute(context.Background(), p, nil, func(r plan.StepResult) {
		seen = append(seen, r.StepID)
	})
	if len(results) != 3 {
		t.Fatalf("expected 3 ledger entries, got %d", len(results))
	}
	want := []int{1, 2, 3}
	for i, id := range want {
		if seen[i] != id {
			t.Fatalf("callback order = %v, want %v", seen, want)
		}
	}
}

func TestExecute_ResultCallbackPanicIsContained(t *testing.T) {
	e := New(newTestRegistry(t), nil)
	p := steps(
		plan.Step{StepID: 1, ToolName: "ok.tool"},
		plan.Step{StepID: 2, ToolName: "ok.tool"},
	)

	results := e.Execute(context.Background(), p, nil, func(plan.StepResult) {
		panic("sink crashed")
	})
	if len(results) != 2 {
		t.Fatalf("sink panic must not affect the ledger, got %d entries", len(results))
	}
}
