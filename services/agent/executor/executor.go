// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package executor walks an ordered plan step-by-step against the tool
// registry, applying the caller-supplied permission gate before every
// invocation. The executor has no knowledge of how the plan was produced
// and no LLM involvement; it is the deterministic half of the control
// plane.
package executor

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"github.com/AleutianAI/hostpilot/services/agent/plan"
	"github.com/AleutianAI/hostpilot/services/agent/registry"
)

// =============================================================================
// Prometheus Metrics
// =============================================================================

var (
	executorStepsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "hostpilot",
		Subsystem: "executor",
		Name:      "steps_total",
		Help:      "Step outcomes by status: success, failed, skipped",
	}, []string{"status"})

	executorStepLatency = promauto.NewHistogram(prometheus.HistogramOpts{
		Namespace: "hostpilot",
		Subsystem: "executor",
		Name:      "step_latency_seconds",
		Help:      "Latency of individual tool invocations",
		Buckets:   []float64{0.01, 0.05, 0.1, 0.5, 1.0, 2.0, 5.0, 10.0},
	})
)

// =============================================================================
// OTel Tracer
// =============================================================================

var executorTracer = otel.Tracer("aleutian.agent.executor")

// =============================================================================
// Executor
// =============================================================================

// ConfirmFunc is the permission gate callback. It is called once per step
// before the tool is invoked; returning false skips the step. The executor
// treats the callback as a pure decision: any prompting, policy lookup,
// or fail-closed defaulting happens on the caller's side.
type ConfirmFunc func(ctx context.Context, stepID int, toolName string, risk registry.RiskTier, args map[string]any) bool

// ResultFunc is an optional per-step telemetry callback invoked after each
// ledger entry is appended, in execution order. It must not block; failures
// inside the callback are recovered and logged, never propagated.
type ResultFunc func(result plan.StepResult)

// Executor executes validated plans step by step against a registry.
//
// # Thread Safety
//
// Safe for concurrent use: the executor holds only the registry reference
// and a logger; all per-run state lives on the stack of Execute.
type Executor struct {
	registry *registry.Registry
	logger   *slog.Logger
}

// New creates an executor bound to the given registry.
//
// # Inputs
//
//   - reg: The shared tool registry. Must not be nil.
//   - logger: Logger for step telemetry. May be nil.
func New(reg *registry.Registry, logger *slog.Logger) *Executor {
	if reg == nil {
		panic("executor.New: registry must not be nil")
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Executor{registry: reg, logger: logger}
}

// Execute walks the plan's steps in list order and returns the result ledger.
//
// # Description
//
// For each step, in order:
//
//  1. Resolve the tool name in the registry. A miss appends a failed
//     entry; an abort policy stops the walk, continue moves on.
//  2. Apply the permission gate. Denial appends a skipped entry with the
//     same abort/continue branching. A nil confirm allows everything;
//     callers that need fail-closed behavior encode it in the callback.
//  3. Invoke the tool. An error or panic is captured into a failed entry,
//     same branching. On normal return the entry is success; a tool may
//     itself report an embedded status field, which is surfaced in the
//     result value but not treated as a control-flow fault.
//
// Dependencies on steps are advisory metadata only; ordering is positional.
// Exactly one ledger entry is appended per attempted step; steps after an
// aborting failure produce no entry at all.
//
// # Inputs
//
//   - ctx: Run context, passed through to each tool.
//   - p: The plan to execute. Must not be nil.
//   - confirm: Permission gate. May be nil (allow all).
//   - onResult: Optional per-step telemetry callback. May be nil.
//
// # Outputs
//
//   - []plan.StepResult: The ledger, in execution order. Never nil.
func (e *Executor) Execute(ctx context.Context, p *plan.Plan, confirm ConfirmFunc, onResult ResultFunc) []plan.StepResult {
	ctx, span := executorTracer.Start(ctx, "executor.Execute")
	defer span.End()
	span.SetAttributes(attribute.Int("plan_steps", len(p.Steps)))

	results := make([]plan.StepResult, 0, len(p.Steps))

	record := func(r plan.StepResult) {
		results = append(results, r)
		executorStepsTotal.WithLabelValues(string(r.Status)).Inc()
		e.emit(onResult, r)
	}

	for _, step := range p.Steps {
		// 1. Resolve the tool. Hallucinated names are normally filtered
		// before scoring; a miss here still degrades to a failed step
		// rather than a fault.
		tool, ok := e.registry.Get(step.ToolName)
		if !ok {
			msg := fmt.Sprintf("tool %q not found in registry", step.ToolName)
			e.logger.Error("step failed: unknown tool",
				slog.Int("step_id", step.StepID),
				slog.String("tool", step.ToolName),
			)
			record(plan.StepResult{
				StepID:   step.StepID,
				ToolName: step.ToolName,
				Status:   plan.StatusFailed,
				Error:    msg,
			})
			if step.FailurePolicy() == plan.OnFailureAbort {
				break
			}
			continue
		}

		// 2. Permission gate.
		if confirm != nil && !confirm(ctx, step.StepID, step.ToolName, tool.Risk, step.Arguments) {
			e.logger.Info("step skipped: permission denied",
				slog.Int("step_id", step.StepID),
				slog.String("tool", step.ToolName),
				slog.String("risk", tool.Risk.String()),
			)
			record(plan.StepResult{
				StepID:   step.StepID,
				ToolName: step.ToolName,
				Status:   plan.StatusSkipped,
				Error:    "permission denied",
			})
			if step.FailurePolicy() == plan.OnFailureAbort {
				break
			}
			continue
		}

		// 3. Invoke.
		start := time.Now()
		result, err := e.invoke(ctx, tool, step.Arguments)
		executorStepLatency.Observe(time.Since(start).Seconds())

		if err != nil {
			e.logger.Error("step failed",
				slog.Int("step_id", step.StepID),
				slog.String("tool", step.ToolName),
				slog.String("error", err.Error()),
				slog.Duration("duration", time.Since(start)),
			)
			record(plan.StepResult{
				StepID:   step.StepID,
				ToolName: step.ToolName,
				Status:   plan.StatusFailed,
				Error:    err.Error(),
			})
			if step.FailurePolicy() == plan.OnFailureAbort {
				break
			}
			continue
		}

		e.logger.Info("step completed",
			slog.Int("step_id", step.StepID),
			slog.String("tool", step.ToolName),
			slog.Duration("duration", time.Since(start)),
		)
		record(plan.StepResult{
			StepID:   step.StepID,
			ToolName: step.ToolName,
			Status:   plan.StatusSuccess,
			Result:   result,
		})
	}

	span.SetAttributes(attribute.Int("ledger_entries", len(results)))
	return results
}

// invoke calls the tool, converting panics into errors so a misbehaving
// tool becomes a failed step instead of tearing down the run.
func (e *Executor) invoke(ctx context.Context, tool registry.Descriptor, args map[string]any) (result any, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("tool %q panicked: %v", tool.Name, r)
		}
	}()
	if args == nil {
		args = map[string]any{}
	}
	return tool.Run(ctx, args)
}

// emit delivers a ledger entry to the telemetry callback, recovering any
// panic. Observational sinks must never fail the run.
func (e *Executor) emit(onResult ResultFunc, r plan.StepResult) {
	if onResult == nil {
		return
	}
	defer func() {
		if rec := recover(); rec != nil {
			e.logger.Warn("step telemetry callback panicked",
				slog.Int("step_id", r.StepID),
				slog.Any("panic", rec),
			)
		}
	}()
	onResult(r)
}
