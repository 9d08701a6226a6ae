// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package llm holds the model-backed collaborators of the control plane:
// the plan generator, the communication agent, and the risk assessor.
// Every collaborator degrades to a deterministic fallback when its model
// is unreachable; the control plane never depends on model availability.
package llm

import "strings"

// =============================================================================
// Shared Result Types
// =============================================================================

// Acknowledgment is the communication agent's structured response to an
// incoming request: a one-sentence reply plus a longer plain-language
// explanation of what is about to happen.
type Acknowledgment struct {
	Reply       string `json:"reply"`
	Explanation string `json:"explanation"`
}

// Intent is the communication agent's classification of a request.
type Intent struct {
	Intent     string  `json:"intent"`
	Category   string  `json:"category"`
	Confidence float64 `json:"confidence"`
}

// Risk levels reported by the risk assessor.
const (
	RiskLevelLow    = "LOW"
	RiskLevelMedium = "MEDIUM"
	RiskLevelHigh   = "HIGH"
)

// Recommendations reported by the risk assessor.
const (
	RecommendApprove           = "APPROVE"
	RecommendApproveWithChange = "APPROVE_WITH_MODIFICATIONS"
	RecommendReject            = "REJECT"
)

// RiskAssessment is the risk assessor's verdict on a plan.
type RiskAssessment struct {
	RiskLevel      string   `json:"risk_level"`
	Concerns       []string `json:"concerns"`
	Alternatives   []string `json:"alternatives"`
	Recommendation string   `json:"recommendation"`
}

// =============================================================================
// Response Cleanup
// =============================================================================

// extractJSON strips markdown code fences from a model response, returning
// the inner payload. Models under JSON instructions still occasionally wrap
// output in ```json fences.
func extractJSON(text string) string {
	text = strings.TrimSpace(text)
	if !strings.Contains(text, "```") {
		return text
	}
	parts := strings.SplitN(text, "```", 3)
	if len(parts) < 2 {
		return text
	}
	inner := parts[1]
	inner = strings.TrimPrefix(inner, "json")
	return strings.TrimSpace(inner)
}
