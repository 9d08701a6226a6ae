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
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"github.com/AleutianAI/hostpilot/services/agent/config"
	"github.com/AleutianAI/hostpilot/services/agent/executor"
	"github.com/AleutianAI/hostpilot/services/agent/memory"
	"github.com/AleutianAI/hostpilot/services/agent/plan"
	"github.com/AleutianAI/hostpilot/services/agent/registry"
	"github.com/AleutianAI/hostpilot/services/llm"
)

// =============================================================================
// Prometheus Metrics
// =============================================================================

var (
	agentRunsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "hostpilot",
		Subsystem: "agent",
		Name:      "runs_total",
		Help:      "Completed runs by outcome: completed, recovered",
	}, []string{"outcome"})

	agentRunDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Namespace: "hostpilot",
		Subsystem: "agent",
		Name:      "run_duration_seconds",
		Help:      "Wall time of one full run cycle",
		Buckets:   []float64{0.1, 0.5, 1, 5, 15, 30, 60, 120, 300},
	})

	agentTransitions = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "hostpilot",
		Subsystem: "agent",
		Name:      "state_transitions_total",
		Help:      "FSM transitions by target state",
	}, []string{"to"})
)

var agentTracer = otel.Tracer("aleutian.agent")

// diagnosticTimeout bounds each tool call in the diagnostic battery.
const diagnosticTimeout = 10 * time.Second

// diagnosticBattery names the read-only tools invoked before planning.
// Absent or failing tools are tolerated and omitted from the snapshot.
var diagnosticBattery = []string{
	"sys.get_cpu_usage",
	"sys.get_memory_usage",
	"net.get_config",
	"net.check_connection",
}

// =============================================================================
// Collaborator Interfaces
// =============================================================================

// Planner generates a plan document toward a goal.
type Planner interface {
	GeneratePlan(ctx context.Context, goal string, catalog []registry.CatalogEntry, memCtx memory.PlannerContext, diagnostics map[string]any) (*plan.Plan, error)
}

// Communicator handles user-facing language: acknowledging requests and
// summarizing outcomes.
type Communicator interface {
	Acknowledge(ctx context.Context, message string) llm.Acknowledgment
	Summarize(ctx context.Context, results []plan.StepResult, userInput string) string
}

// RiskAssessor evaluates a plan before execution.
type RiskAssessor interface {
	EvaluatePlan(ctx context.Context, p *plan.Plan) llm.RiskAssessment
}

// Router is the semantic shortcut over safe zero-argument tools.
type Router interface {
	FindPlan(ctx context.Context, query string) (*plan.Plan, bool)
}

// MemoryStore is the recall memory consumed at the planning boundary and
// appended to at learning.
type MemoryStore interface {
	ContextForPlanner(ctx context.Context) memory.PlannerContext
	StoreExecutionResult(result map[string]any)
}

// =============================================================================
// Orchestrator
// =============================================================================

// Deps carries everything the orchestrator needs, wired explicitly at
// startup. Registry, Executor, Planner, and Config are required; the
// rest are optional collaborators the FSM degrades without.
type Deps struct {
	Config   *config.Config
	Registry *registry.Registry
	Executor *executor.Executor
	Planner  Planner

	Router       Router       // nil: every request goes through planning
	Communicator Communicator // nil: templated acknowledgments and summaries
	RiskAssessor RiskAssessor // nil: validation passes through
	Memory       MemoryStore  // nil: no recall, no learning
	Confirmer    Confirmer    // nil: deferred permissions are denied
	Sink         EventSink    // nil: events discarded
	Logger       *slog.Logger
}

// handlerFunc executes one state's work and names the next state.
type handlerFunc func(ctx context.Context, ec *ExecutionContext) (State, error)

// Orchestrator drives one request at a time through the state machine.
//
// # Thread Safety
//
// Safe for concurrent use: concurrent Run calls are serialized, so a
// single ExecutionContext is only ever owned by one in-flight run.
type Orchestrator struct {
	deps     Deps
	policy   *Policy
	sink     guardedSink
	logger   *slog.Logger
	handlers map[State]handlerFunc

	runMu sync.Mutex // serializes Run

	stateMu sync.RWMutex
	state   State
}

// New wires a fully-constructed orchestrator or reports what is missing.
func New(deps Deps) (*Orchestrator, error) {
	if deps.Config == nil {
		return nil, fmt.Errorf("agent.New: Config is required")
	}
	if deps.Registry == nil {
		return nil, fmt.Errorf("agent.New: Registry is required")
	}
	if deps.Executor == nil {
		return nil, fmt.Errorf("agent.New: Executor is required")
	}
	if deps.Planner == nil {
		return nil, fmt.Errorf("agent.New: Planner is required")
	}
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}

	o := &Orchestrator{
		deps:   deps,
		policy: NewPolicy(deps.Config.SafetyMode, deps.Confirmer, deps.Logger),
		sink:   newGuardedSink(deps.Sink, deps.Logger),
		logger: deps.Logger,
		state:  StateIdle,
	}
	// Every state has exactly one handler; the loop treats a missing
	// entry as a handler fault.
	o.handlers = map[State]handlerFunc{
		StateNegotiating:   o.handleNegotiate,
		StateDiagnosing:    o.handleDiagnose,
		StatePlanning:      o.handlePlan,
		StateScoring:       o.handleScore,
		StateValidating:    o.handleValidate,
		StateExecuting:     o.handleExecute,
		StateReporting:     o.handleReport,
		StateLearning:      o.handleLearn,
		StateErrorRecovery: o.handleErrorRecovery,
	}
	return o, nil
}

// Policy exposes the active permission policy.
func (o *Orchestrator) Policy() *Policy { return o.policy }

// State returns the current FSM state.
func (o *Orchestrator) State() State {
	o.stateMu.RLock()
	defer o.stateMu.RUnlock()
	return o.state
}

// Run drives one request through the full life cycle and returns its
// execution context.
//
// # Description
//
// Creates a fresh context, enters Negotiating, and invokes the handler
// for the current state until the machine returns to Idle. Any fault a
// handler returns or panics with is captured into the context and routed
// through ErrorRecovery; Run never lets a fault escape. Concurrent calls
// on the same instance are serialized.
func (o *Orchestrator) Run(ctx context.Context, request string) *ExecutionContext {
	o.runMu.Lock()
	defer o.runMu.Unlock()

	ctx, span := agentTracer.Start(ctx, "agent.Run")
	defer span.End()

	ec := newExecutionContext(request)
	span.SetAttributes(attribute.String("request_id", ec.RequestID))
	o.logger.Info("run started",
		slog.String("request_id", ec.RequestID),
		slog.String("request", request),
	)

	o.transition(ec, StateNegotiating)
	for o.State() != StateIdle {
		state := o.State()
		handler, ok := o.handlers[state]
		if !ok {
			ec.Err = fmt.Errorf("no handler registered for state %s", state)
			o.transition(ec, StateErrorRecovery)
			continue
		}

		next, err := o.invokeHandler(ctx, state, handler, ec)
		if err != nil && state != StateErrorRecovery {
			o.logger.Error("handler fault",
				slog.String("request_id", ec.RequestID),
				slog.String("state", state.String()),
				slog.String("error", err.Error()),
			)
			ec.Err = err
			o.transition(ec, StateErrorRecovery)
			continue
		}
		o.transition(ec, next)
	}

	outcome := "completed"
	if ec.Failed() {
		outcome = "recovered"
	}
	agentRunsTotal.WithLabelValues(outcome).Inc()
	agentRunDuration.Observe(time.Since(ec.StartedAt).Seconds())
	span.SetAttributes(
		attribute.String("outcome", outcome),
		attribute.Int("ledger_entries", len(ec.Results)),
	)
	o.logger.Info("run finished",
		slog.String("request_id", ec.RequestID),
		slog.String("outcome", outcome),
		slog.Int("ledger_entries", len(ec.Results)),
		slog.Duration("duration", time.Since(ec.StartedAt)),
	)
	return ec
}

// invokeHandler runs one handler, converting panics into handler faults.
func (o *Orchestrator) invokeHandler(ctx context.Context, state State, handler handlerFunc, ec *ExecutionContext) (next State, err error) {
	defer func() {
		if r := recover(); r != nil {
			next = StateErrorRecovery
			err = fmt.Errorf("handler %s panicked: %v", state, r)
		}
	}()

	ctx, span := agentTracer.Start(ctx, "agent."+state.String())
	defer span.End()
	return handler(ctx, ec)
}

// transition moves the machine to next and notifies the sink.
func (o *Orchestrator) transition(ec *ExecutionContext, next State) {
	o.stateMu.Lock()
	from := o.state
	o.state = next
	o.stateMu.Unlock()

	agentTransitions.WithLabelValues(next.String()).Inc()
	o.logger.Debug("state transition",
		slog.String("request_id", ec.RequestID),
		slog.String("from", from.String()),
		slog.String("to", next.String()),
	)
	o.sink.OnStateChange(ec.RequestID, from, next)
}

// =============================================================================
// State Handlers
// =============================================================================

// handleNegotiate acknowledges the request and tries the router shortcut.
// Communication failures never block the machine; the acknowledgment is
// best-effort.
func (o *Orchestrator) handleNegotiate(ctx context.Context, ec *ExecutionContext) (State, error) {
	if o.deps.Communicator != nil {
		ack := o.deps.Communicator.Acknowledge(ctx, ec.Request)
		ec.Acknowledgment = &ack
	}

	if o.deps.Router != nil {
		if p, ok := o.deps.Router.FindPlan(ctx, ec.Request); ok {
			ec.Plan = p
			ec.Confidence = p.ConfidencePrediction
			ec.RouterShortcut = true
			o.sink.OnPlan(ec.RequestID, p)
			return StateExecuting, nil
		}
	}
	return StateDiagnosing, nil
}

// handleDiagnose runs the read-only diagnostic battery. Partial failures
// are tolerated; this stage never fails the run.
func (o *Orchestrator) handleDiagnose(ctx context.Context, ec *ExecutionContext) (State, error) {
	for _, name := range diagnosticBattery {
		tool, ok := o.deps.Registry.Get(name)
		if !ok {
			continue
		}
		func() {
			callCtx, cancel := context.WithTimeout(ctx, diagnosticTimeout)
			defer cancel()
			defer func() {
				if r := recover(); r != nil {
					o.logger.Warn("diagnostic tool panicked",
						slog.String("tool", name),
						slog.Any("panic", r),
					)
				}
			}()
			result, err := tool.Run(callCtx, map[string]any{})
			if err != nil {
				o.logger.Warn("diagnostic tool failed",
					slog.String("tool", name),
					slog.String("error", err.Error()),
				)
				return
			}
			ec.Diagnostics[name] = result
		}()
	}
	return StatePlanning, nil
}

// handlePlan delegates to the plan generator. A nil plan or generation
// error is terminal; steps naming unregistered tools are dropped before
// the plan is accepted, whatever the generator did.
func (o *Orchestrator) handlePlan(ctx context.Context, ec *ExecutionContext) (State, error) {
	memCtx := memory.PlannerContext{}
	if o.deps.Memory != nil {
		memCtx = o.deps.Memory.ContextForPlanner(ctx)
	}

	p, err := o.deps.Planner.GeneratePlan(ctx, ec.Request, o.deps.Registry.Catalog(), memCtx, ec.Diagnostics)
	if err != nil {
		return StateErrorRecovery, fmt.Errorf("plan generation failed: %w", err)
	}
	if p == nil {
		return StateErrorRecovery, fmt.Errorf("plan generation returned no plan")
	}

	kept := p.Steps[:0]
	for _, step := range p.Steps {
		if o.deps.Registry.Has(step.ToolName) {
			kept = append(kept, step)
			continue
		}
		o.logger.Warn("dropping step with unregistered tool",
			slog.String("request_id", ec.RequestID),
			slog.String("tool", step.ToolName),
		)
	}
	p.Steps = kept

	ec.Plan = p
	o.sink.OnPlan(ec.RequestID, p)
	return StateScoring, nil
}

// handleScore computes the blended confidence and picks the gate.
func (o *Orchestrator) handleScore(ctx context.Context, ec *ExecutionContext) (State, error) {
	ec.Confidence = ScoreConfidence(ec.Plan, o.deps.Registry)
	o.sink.OnConfidence(ec.RequestID, ec.Confidence)
	o.logger.Info("plan scored",
		slog.String("request_id", ec.RequestID),
		slog.Float64("confidence", ec.Confidence),
		slog.Float64("threshold", o.deps.Config.ConfidenceThreshold),
	)

	if ec.Confidence >= o.deps.Config.ConfidenceThreshold {
		return StateExecuting, nil
	}
	return StateValidating, nil
}

// handleValidate consults the risk assessor for low-confidence plans.
// Only an explicit rejection stops the run; an absent assessor or a
// non-rejecting verdict proceeds to execution, and the permission policy
// still gates each step downstream.
func (o *Orchestrator) handleValidate(ctx context.Context, ec *ExecutionContext) (State, error) {
	if o.deps.RiskAssessor == nil {
		return StateExecuting, nil
	}

	verdict := o.deps.RiskAssessor.EvaluatePlan(ctx, ec.Plan)
	ec.Risk = &verdict
	o.logger.Info("plan risk assessed",
		slog.String("request_id", ec.RequestID),
		slog.String("risk_level", verdict.RiskLevel),
		slog.String("recommendation", verdict.Recommendation),
	)

	if verdict.Recommendation == llm.RecommendReject {
		return StateErrorRecovery, fmt.Errorf("plan rejected by risk assessment: %s",
			strings.Join(verdict.Concerns, "; "))
	}
	return StateExecuting, nil
}

// handleExecute walks the plan through the executor under the permission
// policy, streaming each ledger entry to the sink.
func (o *Orchestrator) handleExecute(ctx context.Context, ec *ExecutionContext) (State, error) {
	ec.Results = o.deps.Executor.Execute(ctx, ec.Plan, o.policy.Allow, func(r plan.StepResult) {
		o.sink.OnStepResult(ec.RequestID, r)
	})
	return StateReporting, nil
}

// handleReport produces the user-facing summary, falling back to a
// counted template without a communicator.
func (o *Orchestrator) handleReport(ctx context.Context, ec *ExecutionContext) (State, error) {
	if o.deps.Communicator != nil {
		ec.Summary = o.deps.Communicator.Summarize(ctx, ec.Results, ec.Request)
	}
	if ec.Summary == "" {
		successes := 0
		for _, r := range ec.Results {
			if r.Status == plan.StatusSuccess {
				successes++
			}
		}
		ec.Summary = fmt.Sprintf("Completed %d/%d steps successfully.", successes, len(ec.Results))
	}
	o.sink.OnSummary(ec.RequestID, ec.Summary)
	return StateLearning, nil
}

// handleLearn archives the run into recall memory. Never fails the run;
// a panicking store is logged and ignored.
func (o *Orchestrator) handleLearn(ctx context.Context, ec *ExecutionContext) (State, error) {
	if o.deps.Memory == nil {
		return StateIdle, nil
	}

	record := map[string]any{
		"request_id": ec.RequestID,
		"request":    ec.Request,
		"confidence": ec.Confidence,
		"summary":    ec.Summary,
		"results":    ec.Results,
		"shortcut":   ec.RouterShortcut,
	}
	if ec.Plan != nil {
		record["reasoning"] = ec.Plan.Reasoning
		record["steps"] = len(ec.Plan.Steps)
	}

	func() {
		defer func() {
			if r := recover(); r != nil {
				o.logger.Warn("memory store panicked", slog.Any("panic", r))
			}
		}()
		o.deps.Memory.StoreExecutionResult(record)
	}()
	return StateIdle, nil
}

// handleErrorRecovery appends the single synthetic error entry carrying
// the terminal fault and returns the machine to idle.
func (o *Orchestrator) handleErrorRecovery(_ context.Context, ec *ExecutionContext) (State, error) {
	msg := "unknown error"
	if ec.Err != nil {
		msg = ec.Err.Error()
	}
	entry := plan.StepResult{
		Status: plan.StatusError,
		Error:  msg,
	}
	ec.Results = append(ec.Results, entry)
	ec.Summary = fmt.Sprintf("Request failed: %s", msg)
	o.sink.OnStepResult(ec.RequestID, entry)
	o.sink.OnSummary(ec.RequestID, ec.Summary)
	return StateIdle, nil
}
