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
	"time"

	"github.com/google/uuid"

	"github.com/AleutianAI/hostpilot/services/agent/plan"
	"github.com/AleutianAI/hostpilot/services/llm"
)

// ExecutionContext is the mutable, single-owner record of one request.
//
// # Description
//
// Created fresh at the start of Run, mutated only by the state handlers
// of that run, and returned to the caller when the run terminates. It is
// never shared between concurrent runs; the orchestrator serializes Run
// calls on one instance.
type ExecutionContext struct {
	// RequestID uniquely identifies this run in logs and telemetry.
	RequestID string `json:"request_id"`

	// Request is the raw user request text.
	Request string `json:"request"`

	// Diagnostics is the host snapshot collected before planning.
	// Tools that fail are simply absent.
	Diagnostics map[string]any `json:"diagnostics,omitempty"`

	// Plan is the current plan. Immutable once scored.
	Plan *plan.Plan `json:"plan,omitempty"`

	// Confidence is the blended plan score in [0,1].
	Confidence float64 `json:"confidence"`

	// RouterShortcut records whether the plan came from the semantic
	// router rather than the generator.
	RouterShortcut bool `json:"router_shortcut,omitempty"`

	// Results is the append-only step ledger, in execution order.
	Results []plan.StepResult `json:"results"`

	// Err is the terminal error, set only on runs ending in recovery.
	Err error `json:"-"`

	// Summary is the user-facing outcome description.
	Summary string `json:"summary,omitempty"`

	// Acknowledgment is the communication agent's response, when one
	// was obtained.
	Acknowledgment *llm.Acknowledgment `json:"acknowledgment,omitempty"`

	// Risk is the risk assessor's verdict, when validation ran.
	Risk *llm.RiskAssessment `json:"risk,omitempty"`

	// StartedAt is when Run began.
	StartedAt time.Time `json:"started_at"`
}

// newExecutionContext creates the fresh per-run record.
func newExecutionContext(request string) *ExecutionContext {
	return &ExecutionContext{
		RequestID:   uuid.NewString(),
		Request:     request,
		Diagnostics: make(map[string]any),
		Results:     []plan.StepResult{},
		StartedAt:   time.Now(),
	}
}

// Failed reports whether the run ended in error recovery.
func (ec *ExecutionContext) Failed() bool { return ec.Err != nil }

// ErrorMessage returns the terminal error text, or "" for clean runs.
func (ec *ExecutionContext) ErrorMessage() string {
	if ec.Err == nil {
		return ""
	}
	return ec.Err.Error()
}
