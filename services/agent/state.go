// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package agent is the control plane of one automation request: a finite
// state machine that interprets intent, assembles and scores a plan,
// gates risky actions behind the permission policy, executes through the
// tool registry, and records the outcome.
package agent

// State is the orchestrator's position in the request life cycle.
// Exactly one state is current per orchestrator instance at any time.
type State int

const (
	// StateIdle is the resting state between runs and the terminal state
	// of every run-cycle.
	StateIdle State = iota

	// StateNegotiating acknowledges the request and tries the semantic
	// router shortcut.
	StateNegotiating

	// StateDiagnosing collects read-only host metrics for the planner.
	StateDiagnosing

	// StatePlanning delegates to the plan generator.
	StatePlanning

	// StateScoring computes the blended confidence score.
	StateScoring

	// StateValidating consults the risk assessor for low-confidence plans.
	StateValidating

	// StateExecuting walks the plan through the executor.
	StateExecuting

	// StateReporting produces the user-facing summary.
	StateReporting

	// StateLearning archives the run into memory.
	StateLearning

	// StateErrorRecovery converts a terminal fault into a synthetic
	// ledger entry and returns to idle.
	StateErrorRecovery
)

// String returns the lowercase wire name of the state.
func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateNegotiating:
		return "negotiating"
	case StateDiagnosing:
		return "diagnosing"
	case StatePlanning:
		return "planning"
	case StateScoring:
		return "scoring"
	case StateValidating:
		return "validating"
	case StateExecuting:
		return "executing"
	case StateReporting:
		return "reporting"
	case StateLearning:
		return "learning"
	case StateErrorRecovery:
		return "error_recovery"
	default:
		return "unknown"
	}
}
