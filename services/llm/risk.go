// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package llm

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/sashabaranov/go-openai"
	"golang.org/x/time/rate"

	"github.com/AleutianAI/hostpilot/services/agent/plan"
)

// riskTimeout bounds the deep-analysis cloud call.
const riskTimeout = 15 * time.Second

// highRiskTools and mediumRiskTools drive the rule-based tier. Substring
// checks on "delete"/"kill" and "flush"/"rename" catch tools added later
// without updating these sets.
var (
	highRiskTools = map[string]struct{}{
		"proc.kill":      {},
		"fs.delete_file": {},
		"fs.delete_old":  {},
		"sys.shutdown":   {},
	}
	mediumRiskTools = map[string]struct{}{
		"fs.organize_dir":   {},
		"net.flush_dns":     {},
		"fs.clear_temp":     {},
		"net.reset_adapter": {},
		"fs.bulk_rename":    {},
	}
)

// RiskAgent evaluates plans before execution.
//
// # Description
//
// Two tiers: a rule-based pass that is always available, and an optional
// model-backed deep analysis consulted only when the rules flag the plan
// at medium or above. A deep-analysis failure silently falls back to the
// rule verdict; assessment can delay a plan but never lose one.
//
// # Thread Safety
//
// Safe for concurrent use.
type RiskAgent struct {
	client  *openai.Client // nil = rule-based only
	model   string
	limiter *rate.Limiter
	logger  *slog.Logger
}

// NewRiskAgent creates the risk assessor. An empty apiKey yields
// rule-based-only mode.
func NewRiskAgent(apiKey, model string, logger *slog.Logger) *RiskAgent {
	if logger == nil {
		logger = slog.Default()
	}
	if model == "" {
		model = "gpt-4o-mini"
	}

	var client *openai.Client
	if apiKey != "" {
		client = openai.NewClient(apiKey)
		logger.Info("risk agent: cloud backend connected", slog.String("model", model))
	} else {
		logger.Warn("risk agent: no API key, using rule-based mode")
	}

	return &RiskAgent{
		client:  client,
		model:   model,
		limiter: rate.NewLimiter(commRateLimit, commRateBurst),
		logger:  logger,
	}
}

// Backend reports which backend is live: "cloud" or "rules".
func (r *RiskAgent) Backend() string {
	if r.client != nil {
		return "cloud"
	}
	return "rules"
}

// EvaluatePlan assesses p and returns the verdict.
//
// An empty plan is approved as LOW. The rule tier runs first; when it
// reports medium or above and a model is configured, the deep analysis
// refines the verdict.
func (r *RiskAgent) EvaluatePlan(ctx context.Context, p *plan.Plan) RiskAssessment {
	if p == nil || len(p.Steps) == 0 {
		return RiskAssessment{
			RiskLevel:      RiskLevelLow,
			Concerns:       []string{},
			Alternatives:   []string{},
			Recommendation: RecommendApprove,
		}
	}

	verdict := ruleBasedEval(p.Steps)

	if r.client != nil && verdict.RiskLevel != RiskLevelLow {
		if deep, err := r.deepEval(ctx, p.Steps, verdict); err == nil {
			return deep
		} else {
			r.logger.Warn("risk agent: deep analysis failed, keeping rule verdict",
				slog.String("error", err.Error()),
			)
		}
	}
	return verdict
}

// EvaluateStep assesses a single step with the rule tier only.
func (r *RiskAgent) EvaluateStep(step plan.Step) RiskAssessment {
	return ruleBasedEval([]plan.Step{step})
}

// ruleBasedEval is the always-available tier.
func ruleBasedEval(steps []plan.Step) RiskAssessment {
	concerns := []string{}
	alternatives := []string{}
	risk := RiskLevelLow

	for _, step := range steps {
		tool := step.ToolName

		if _, high := highRiskTools[tool]; high || strings.Contains(tool, "delete") || strings.Contains(tool, "kill") {
			risk = RiskLevelHigh
			concerns = append(concerns, fmt.Sprintf("%q can cause data loss or crash applications", tool))
			alternatives = append(alternatives, fmt.Sprintf("Consider using dry_run=true first for %q", tool))
			continue
		}

		if _, medium := mediumRiskTools[tool]; medium || strings.Contains(tool, "flush") || strings.Contains(tool, "rename") {
			if risk != RiskLevelHigh {
				risk = RiskLevelMedium
			}
			concerns = append(concerns, fmt.Sprintf("%q modifies system state", tool))
		}
	}

	var recommendation string
	switch risk {
	case RiskLevelLow:
		recommendation = RecommendApprove
	case RiskLevelMedium:
		recommendation = RecommendApprove
		if len(alternatives) > 0 {
			recommendation = RecommendApproveWithChange
		}
	default:
		recommendation = RecommendReject
		if len(alternatives) > 0 {
			recommendation = RecommendApproveWithChange
		}
	}

	return RiskAssessment{
		RiskLevel:      risk,
		Concerns:       concerns,
		Alternatives:   alternatives,
		Recommendation: recommendation,
	}
}

// deepEval refines a flagged verdict with the model. The rule verdict is
// returned untouched when the response is missing required keys.
func (r *RiskAgent) deepEval(ctx context.Context, steps []plan.Step, ruleVerdict RiskAssessment) (RiskAssessment, error) {
	ctx, cancel := context.WithTimeout(ctx, riskTimeout)
	defer cancel()

	if err := r.limiter.Wait(ctx); err != nil {
		return ruleVerdict, fmt.Errorf("rate limit wait: %w", err)
	}

	var stepsText strings.Builder
	for _, s := range steps {
		fmt.Fprintf(&stepsText, "- %s (step %d)\n", s.ToolName, s.StepID)
	}

	prompt := fmt.Sprintf(`You are the risk assessor for a host automation system. Evaluate this execution plan for risks.

Steps:
%s
Initial risk assessment: %s

Respond ONLY with valid JSON:
{"risk_level":"LOW|MEDIUM|HIGH","concerns":["..."],"alternatives":["..."],"recommendation":"APPROVE|APPROVE_WITH_MODIFICATIONS|REJECT"}`,
		stepsText.String(), ruleVerdict.RiskLevel)

	resp, err := r.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model: r.model,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleUser, Content: prompt},
		},
	})
	if err != nil {
		return ruleVerdict, fmt.Errorf("risk deep analysis: %w", err)
	}
	if len(resp.Choices) == 0 {
		return ruleVerdict, fmt.Errorf("risk deep analysis returned no choices")
	}

	var parsed RiskAssessment
	if err := json.Unmarshal([]byte(extractJSON(resp.Choices[0].Message.Content)), &parsed); err != nil {
		return ruleVerdict, fmt.Errorf("decode risk response: %w", err)
	}
	if parsed.RiskLevel == "" || parsed.Recommendation == "" {
		return ruleVerdict, nil
	}
	if parsed.Concerns == nil {
		parsed.Concerns = []string{}
	}
	if parsed.Alternatives == nil {
		parsed.Alternatives = []string{}
	}
	return parsed, nil
}
