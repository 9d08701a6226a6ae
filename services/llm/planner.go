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

	"github.com/tmc/langchaingo/llms"
	"github.com/tmc/langchaingo/llms/ollama"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"github.com/AleutianAI/hostpilot/services/agent/memory"
	"github.com/AleutianAI/hostpilot/services/agent/plan"
	"github.com/AleutianAI/hostpilot/services/agent/registry"
)

var llmTracer = otel.Tracer("aleutian.llm")

// plannerTimeout bounds a single plan generation call. Local models on
// modest hardware can take tens of seconds for a multi-step plan.
const plannerTimeout = 120 * time.Second

// plannerSystemPrompt instructs the model to emit the plan document and
// nothing else.
const plannerSystemPrompt = `You are a host automation planner. Your job is to create safe, step-by-step plans to solve computer problems.

CRITICAL RULES:
1. USE ONLY TOOLS LISTED IN "AVAILABLE TOOLS". DO NOT INVENT TOOLS.
2. If the exact tool name is not in the list, DO NOT USE IT.
3. If no suitable tool exists, return an empty plan with reasoning explaining why.
4. Always include dependencies between steps.
5. For risky operations, include backup steps FIRST (only if a backup tool is available).
6. Be conservative. Prefer diagnosis over destructive actions.

OUTPUT FORMAT: a single JSON object, no explanation:
{
  "reasoning": "Brief explanation of approach",
  "confidence_prediction": 0.0-1.0,
  "steps": [
    {
      "step_id": 1,
      "tool_name": "exact_tool_name",
      "arguments": {},
      "dependencies": [],
      "on_failure": "abort" or "continue"
    }
  ]
}`

// OllamaPlanner generates plan documents from a local Ollama model.
//
// # Description
//
// The planner is prompted with the tool catalog, current diagnostics, and
// the memory digest, and must return the JSON plan document. Steps naming
// tools absent from the catalog are filtered out before validation; a plan
// left empty by filtering is still returned, and the scorer penalizes the
// removals.
//
// # Thread Safety
//
// Safe for concurrent use; the underlying client is stateless per call.
type OllamaPlanner struct {
	client *ollama.LLM
	model  string
	logger *slog.Logger
}

// NewOllamaPlanner creates a planner against the given Ollama server.
// Empty serverURL and model fall back to a local default.
func NewOllamaPlanner(serverURL, model string, logger *slog.Logger) (*OllamaPlanner, error) {
	if serverURL == "" {
		serverURL = "http://localhost:11434"
	}
	if model == "" {
		model = "qwen2.5:7b"
	}
	if logger == nil {
		logger = slog.Default()
	}

	client, err := ollama.New(
		ollama.WithServerURL(serverURL),
		ollama.WithModel(model),
		ollama.WithFormat("json"),
	)
	if err != nil {
		return nil, fmt.Errorf("create ollama planner client: %w", err)
	}

	return &OllamaPlanner{client: client, model: model, logger: logger}, nil
}

// GeneratePlan asks the model for a plan toward goal.
//
// # Description
//
// Builds the full prompt (catalog, diagnostics, memory digest, goal),
// generates with low temperature for structured output, extracts the JSON
// payload, filters hallucinated tool names against the catalog, and
// validates the result. Returns an error when the model is unreachable or
// the response is not a structurally valid plan document.
//
// # Inputs
//
//   - ctx: Caller context; a generation timeout is applied internally.
//   - goal: The user's request.
//   - catalog: The registered tools, as shown to the model.
//   - memCtx: Memory digest (recent executions, safety rules, patterns).
//   - diagnostics: Current host snapshot. May be nil.
//
// # Outputs
//
//   - *plan.Plan: Validated plan, possibly with zero steps. Nil on error.
//   - error: Non-nil on transport, decode, or schema failure.
func (p *OllamaPlanner) GeneratePlan(ctx context.Context, goal string, catalog []registry.CatalogEntry, memCtx memory.PlannerContext, diagnostics map[string]any) (*plan.Plan, error) {
	ctx, span := llmTracer.Start(ctx, "llm.GeneratePlan")
	defer span.End()
	span.SetAttributes(
		attribute.String("model", p.model),
		attribute.Int("catalog_size", len(catalog)),
	)

	ctx, cancel := context.WithTimeout(ctx, plannerTimeout)
	defer cancel()

	prompt := buildPlannerPrompt(goal, catalog, memCtx, diagnostics)

	p.logger.Info("generating plan", slog.String("model", p.model))
	raw, err := llms.GenerateFromSinglePrompt(ctx, p.client, prompt,
		llms.WithTemperature(0.3),
		llms.WithMaxTokens(2048),
	)
	if err != nil {
		return nil, fmt.Errorf("plan generation: %w", err)
	}

	var doc plan.Plan
	if err := json.Unmarshal([]byte(extractJSON(raw)), &doc); err != nil {
		return nil, fmt.Errorf("decode plan response: %w", err)
	}

	// Filter hallucinated tools before validation. The model is told not
	// to invent tools; when it does anyway, the offending steps are
	// dropped and the scorer penalizes the gap.
	valid := make(map[string]struct{}, len(catalog))
	for _, entry := range catalog {
		valid[entry.Name] = struct{}{}
	}
	kept := doc.Steps[:0]
	for _, step := range doc.Steps {
		if _, ok := valid[step.ToolName]; ok {
			kept = append(kept, step)
			continue
		}
		p.logger.Warn("removing hallucinated tool from plan",
			slog.String("tool", step.ToolName),
			slog.Int("step_id", step.StepID),
		)
	}
	doc.Steps = kept
	if len(doc.Steps) == 0 {
		p.logger.Warn("plan empty after filtering hallucinations")
	}

	if err := plan.Validate(&doc); err != nil {
		return nil, fmt.Errorf("generated plan invalid: %w", err)
	}

	span.SetAttributes(attribute.Int("plan_steps", len(doc.Steps)))
	p.logger.Info("generated plan",
		slog.Int("steps", len(doc.Steps)),
		slog.Float64("confidence_prediction", doc.ConfidencePrediction),
	)
	return &doc, nil
}

// buildPlannerPrompt assembles the full planner prompt.
func buildPlannerPrompt(goal string, catalog []registry.CatalogEntry, memCtx memory.PlannerContext, diagnostics map[string]any) string {
	var b strings.Builder
	b.WriteString(plannerSystemPrompt)

	b.WriteString("\n\n## Available Tools\n")
	for _, t := range catalog {
		fmt.Fprintf(&b, "- %s: %s (risk: %s", t.Name, t.Description, t.Risk)
		if len(t.RequiredParams) > 0 {
			fmt.Fprintf(&b, ", params: %s", strings.Join(t.RequiredParams, ", "))
		}
		b.WriteString(")\n")
	}

	if len(diagnostics) > 0 {
		b.WriteString("\n## Current System State\n")
		if raw, err := json.Marshal(diagnostics); err == nil {
			b.Write(raw)
			b.WriteByte('\n')
		}
	}

	b.WriteString("\n## Memory Context\n")
	fmt.Fprintf(&b, "Safety Rules: %s\n", strings.Join(memCtx.SafetyRules, "; "))
	if len(memCtx.KnownPatterns) > 0 {
		if raw, err := json.Marshal(memCtx.KnownPatterns); err == nil {
			fmt.Fprintf(&b, "Recent Patterns: %s\n", raw)
		}
	}
	if len(memCtx.RecentExecutions) > 0 {
		if raw, err := json.Marshal(memCtx.RecentExecutions); err == nil {
			fmt.Fprintf(&b, "Recent Executions: %s\n", raw)
		}
	}

	b.WriteString("\n## User Goal\n")
	b.WriteString(goal)
	b.WriteString("\n\nGenerate a JSON plan to achieve this goal safely.\n")
	return b.String()
}
