// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package plan defines the plan document produced by the planning
// collaborator and consumed by the confidence scorer and the executor,
// together with the per-step result ledger entries.
package plan

import (
	"encoding/json"
	"fmt"

	"github.com/go-playground/validator/v10"
)

// =============================================================================
// Failure Policies
// =============================================================================

// OnFailureAbort stops the plan walk at the failing step.
// OnFailureContinue proceeds to the next step after recording the failure.
const (
	OnFailureAbort    = "abort"
	OnFailureContinue = "continue"
)

// =============================================================================
// Plan Document
// =============================================================================

// Plan is an ordered list of tool invocations produced for one user request.
//
// # Description
//
// The plan is the contract between the planning collaborator and the
// execution core. Once it has been scored it is treated as immutable:
// the executor never mutates a plan, and the scorer is a pure function
// over it. ConfidencePrediction is the generator's self-assessed
// confidence in [0,1]; the scorer blends it with structural validity.
//
// # Thread Safety
//
// A Plan is safe for concurrent read access after construction.
type Plan struct {
	// Reasoning is the generator's chain-of-thought explanation.
	Reasoning string `json:"reasoning" validate:"required"`

	// ConfidencePrediction is the generator's self-assessed confidence, 0-1.
	ConfidencePrediction float64 `json:"confidence_prediction" validate:"gte=0,lte=1"`

	// Steps are the ordered tool invocations. Execution order is positional.
	Steps []Step `json:"steps" validate:"required,dive"`
}

// Step is a single tool invocation within a plan.
//
// Dependencies are advisory metadata produced by the plan generator for
// its own sequencing reasoning; the executor walks steps in list order
// and does not enforce them.
type Step struct {
	// StepID is a plan-unique identifier. Not required to be contiguous.
	StepID int `json:"step_id"`

	// ToolName is the registry key of the tool to invoke.
	ToolName string `json:"tool_name" validate:"required"`

	// Arguments is the keyword argument bag passed to the tool.
	Arguments map[string]any `json:"arguments"`

	// Dependencies lists step IDs this step logically depends on.
	Dependencies []int `json:"dependencies,omitempty"`

	// OnFailure is "abort" or "continue". Empty defaults to "abort".
	OnFailure string `json:"on_failure,omitempty" validate:"omitempty,oneof=abort continue"`
}

// FailurePolicy returns the step's effective on_failure policy,
// defaulting to abort when unset.
func (s Step) FailurePolicy() string {
	if s.OnFailure == OnFailureContinue {
		return OnFailureContinue
	}
	return OnFailureAbort
}

// =============================================================================
// Step Results
// =============================================================================

// StepStatus is the terminal status of one attempted step.
type StepStatus string

// Step statuses. StatusError is reserved for the synthetic ledger entry
// appended by error recovery; individual tool failures use StatusFailed.
const (
	StatusSuccess StepStatus = "success"
	StatusFailed  StepStatus = "failed"
	StatusSkipped StepStatus = "skipped"
	StatusError   StepStatus = "error"
)

// StepResult is one entry in the append-only per-request result ledger.
//
// Exactly one StepResult exists for every step that was attempted;
// steps after an aborting failure produce no entry at all.
type StepResult struct {
	// StepID echoes the step's identifier. Zero for synthetic entries.
	StepID int `json:"step_id"`

	// ToolName echoes the step's tool. Empty for synthetic entries.
	ToolName string `json:"tool_name,omitempty"`

	// Status is the terminal outcome of the attempt.
	Status StepStatus `json:"status"`

	// Result is the tool's return value on success. May be nil.
	Result any `json:"result,omitempty"`

	// Error is the failure or denial message. Empty on success.
	Error string `json:"error,omitempty"`
}

// =============================================================================
// Parsing & Validation
// =============================================================================

// planValidator validates decoded plan documents against the struct tags.
// validator.Validate is safe for concurrent use and caches struct metadata.
var planValidator = validator.New()

// Parse decodes and validates a plan document emitted by the generator.
//
// # Description
//
// Decodes the JSON object {reasoning, confidence_prediction, steps[...]}
// and validates the structural schema: reasoning present, confidence in
// [0,1], every step carrying a tool name and a legal on_failure value.
// Semantic checks (does the tool exist in the registry) are the caller's
// concern. Unknown tools are filtered by the planning handler and
// penalized by the scorer, never rejected here.
//
// # Inputs
//
//   - raw: JSON bytes of the plan document.
//
// # Outputs
//
//   - *Plan: The decoded plan. Nil on any error.
//   - error: Non-nil on malformed JSON or schema violation.
func Parse(raw []byte) (*Plan, error) {
	var p Plan
	if err := json.Unmarshal(raw, &p); err != nil {
		return nil, fmt.Errorf("decode plan document: %w", err)
	}
	if err := Validate(&p); err != nil {
		return nil, err
	}
	return &p, nil
}

// Validate checks an already-decoded plan against the structural schema.
//
// Returns a non-nil error naming the first violated constraint. A plan
// with zero steps is structurally valid; the generator emits empty plans
// with explanatory reasoning when no suitable tool exists.
func Validate(p *Plan) error {
	if p == nil {
		return fmt.Errorf("plan is nil")
	}
	if err := planValidator.Struct(p); err != nil {
		return fmt.Errorf("plan schema validation: %w", err)
	}
	return nil
}

// SingleStep builds a one-step plan, used by the semantic router shortcut.
//
// The step aborts on failure: a shortcut plan has nothing to continue to.
func SingleStep(reasoning string, confidence float64, toolName string) *Plan {
	return &Plan{
		Reasoning:            reasoning,
		ConfidencePrediction: confidence,
		Steps: []Step{
			{
				StepID:    1,
				ToolName:  toolName,
				Arguments: map[string]any{},
				OnFailure: OnFailureAbort,
			},
		},
	}
}
