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
	"github.com/AleutianAI/hostpilot/services/agent/plan"
	"github.com/AleutianAI/hostpilot/services/agent/registry"
)

// unknownToolPenalty is subtracted from the structural score for every
// step naming an unregistered tool. The running score may go negative
// before blending; the final score is clamped.
const unknownToolPenalty = 0.3

// defaultConfidencePrediction substitutes for a generator that did not
// self-report. A zero prediction is treated as unreported: generators
// that genuinely mean "no confidence" express it through reasoning and
// an empty step list, not a literal zero.
const defaultConfidencePrediction = 0.5

// ScoreConfidence blends a plan's structural validity with the
// generator's self-reported confidence.
//
// # Description
//
// Starts at 1.0 and subtracts unknownToolPenalty for each step whose
// tool is absent from the registry, then averages with the plan's
// confidence prediction and clamps to [0,1]. Structural validity and
// generator self-report are independent signals on comparable footing.
//
// Deterministic and side-effect free: identical inputs always yield the
// identical score.
func ScoreConfidence(p *plan.Plan, reg *registry.Registry) float64 {
	if p == nil {
		return 0
	}

	structural := 1.0
	for _, step := range p.Steps {
		if !reg.Has(step.ToolName) {
			structural -= unknownToolPenalty
		}
	}

	prediction := p.ConfidencePrediction
	if prediction == 0 {
		prediction = defaultConfidencePrediction
	}

	score := (structural + prediction) / 2
	if score < 0 {
		return 0
	}
	if score > 1 {
		return 1
	}
	return score
}
