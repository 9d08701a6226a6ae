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
	"testing"

	"github.com/AleutianAI/hostpilot/services/agent/config"
	"github.com/AleutianAI/hostpilot/services/agent/executor"
	"github.com/AleutianAI/hostpilot/services/agent/memory"
	"github.com/AleutianAI/hostpilot/services/agent/plan"
	"github.com/AleutianAI/hostpilot/services/agent/registry"
	"github.com/AleutianAI/hostpilot/services/llm"
)

// =============================================================================
// Fakes
// =============================================================================

type fakePlanner struct {
	plan  *plan.Plan
	err   error
	panic bool

	calls          int
	gotGoal        string
	gotDiagnostics map[string]any
}

func (f *fakePlanner) GeneratePlan(_ context.Context, goal string, _ []registry.CatalogEntry, _ memory.PlannerContext, diagnostics map[string]any) (*plan.Plan, error) {
	f.calls++
	f.gotGoal = goal
	f.gotDiagnostics = diagnostics
	if f.panic {
		panic("planner exploded")
	}
	return f.plan, f.err
}

type fakeRouter struct {
	plan  *plan.Plan
	calls int
}

func (f *fakeRouter) FindPlan(_ context.Context, _ string) (*plan.Plan, bool) {
	f.calls++
	if f.plan == nil {
		return nil, false
	}
	return f.plan, true
}

type fakeComm struct {
	summary  string
	ackCalls int
	sumCalls int
}

func (f *fakeComm) Acknowledge(_ context.Context, message string) llm.Acknowledgment {
	f.ackCalls++
	return llm.Acknowledgment{Reply: "On it.", Explanation: "test acknowledgment for " + message}
}

func (f *fakeComm) Summarize(_ context.Context, _ []plan.StepResult, _ string) string {
	f.sumCalls++
	return f.summary
}

type fakeRisk struct {
	verdict llm.RiskAssessment
	calls   int
}

func (f *fakeRisk) EvaluatePlan(_ context.Context, _ *plan.Plan) llm.RiskAssessment {
	f.calls++
	return f.verdict
}

type fakeMemory struct {
	pctx    memory.PlannerContext
	records []map[string]any
}

func (f *fakeMemory) ContextForPlanner(_ context.Context) memory.PlannerContext { return f.pctx }
func (f *fakeMemory) StoreExecutionResult(result map[string]any) {
	f.records = append(f.records, result)
}

// recordingSink captures the transition trail and emitted events.
type recordingSink struct {
	transitions []string
	plans       int
	confidences []float64
	results     []plan.StepResult
	summaries   []string
}

func (s *recordingSink) OnStateChange(_ string, from, to State) {
	s.transitions = append(s.transitions, from.String()+">"+to.String())
}
func (s *recordingSink) OnPlan(_ string, _ *plan.Plan)         { s.plans++ }
func (s *recordingSink) OnConfidence(_ string, score float64)  { s.confidences = append(s.confidences, score) }
func (s *recordingSink) OnStepResult(_ string, r plan.StepResult) {
	s.results = append(s.results, r)
}
func (s *recordingSink) OnSummary(_ string, summary string) { s.summaries = append(s.summaries, summary) }

// =============================================================================
// Harness
// =============================================================================

func newRunRegistry(t *testing.T) *registry.Registry {
	t.Helper()
	reg := registry.New(slog.Default())

	register := func(name string, risk registry.RiskTier, fn registry.ToolFunc) {
		t.Helper()
		if err := reg.Register(registry.Descriptor{
			Name:        name,
			Description: name,
			Risk:        risk,
			Run:         fn,
		}); err != nil {
			t.Fatalf("Register(%s): %v", name, err)
		}
	}

	register("sys.get_cpu_usage", registry.RiskSafe, func(context.Context, map[string]any) (any, error) {
		return map[string]any{"percent": 12.5}, nil
	})
	register("sys.get_memory_usage", registry.RiskSafe, func(context.Context, map[string]any) (any, error) {
		return map[string]any{"used_percent": 40.0}, nil
	})
	register("sys.get_info", registry.RiskSafe, func(context.Context, map[string]any) (any, error) {
		return "host info", nil
	})
	register("fs.fail_always", registry.RiskSafe, func(context.Context, map[string]any) (any, error) {
		return nil, fmt.Errorf("permission denied")
	})
	register("proc.kill", registry.RiskHigh, func(context.Context, map[string]any) (any, error) {
		return "killed", nil
	})
	reg.Freeze()
	return reg
}

type testDeps struct {
	deps    Deps
	planner *fakePlanner
	router  *fakeRouter
	comm    *fakeComm
	risk    *fakeRisk
	memory  *fakeMemory
	sink    *recordingSink
}

func newTestDeps(t *testing.T, mode string) *testDeps {
	t.Helper()
	cfg := config.Default()
	cfg.SafetyMode = mode
	reg := newRunRegistry(t)

	td := &testDeps{
		planner: &fakePlanner{},
		router:  &fakeRouter{},
		comm:    &fakeComm{summary: "All done."},
		risk:    &fakeRisk{verdict: llm.RiskAssessment{RiskLevel: llm.RiskLevelLow, Recommendation: llm.RecommendApprove}},
		memory:  &fakeMemory{},
		sink:    &recordingSink{},
	}
	td.deps = Deps{
		Config:       cfg,
		Registry:     reg,
		Executor:     executor.New(reg, slog.Default()),
		Planner:      td.planner,
		Router:       td.router,
		Communicator: td.comm,
		RiskAssessor: td.risk,
		Memory:       td.memory,
		Sink:         td.sink,
		Logger:       slog.Default(),
	}
	return td
}

func mustNew(t *testing.T, deps Deps) *Orchestrator {
	t.Helper()
	o, err := New(deps)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return o
}

func singleStepPlan(confidence float64, tool string) *plan.Plan {
	return &plan.Plan{
		Reasoning:            "use " + tool,
		ConfidencePrediction: confidence,
		Steps:                []plan.Step{{StepID: 1, ToolName: tool, Arguments: map[string]any{}}},
	}
}

// =============================================================================
// Tests
// =============================================================================

func TestNewRejectsMissingDeps(t *testing.T) {
	td := newTestDeps(t, config.SafetyModeAutonomous)

	missing := td.deps
	missing.Planner = nil
	if _, err := New(missing); err == nil {
		t.Fatal("New accepted nil Planner")
	}

	missing = td.deps
	missing.Registry = nil
	if _, err := New(missing); err == nil {
		t.Fatal("New accepted nil Registry")
	}
}

func TestRunFullCycleSucceeds(t *testing.T) {
	td := newTestDeps(t, config.SafetyModeAutonomous)
	td.planner.plan = singleStepPlan(0.9, "sys.get_cpu_usage")
	o := mustNew(t, td.deps)

	ec := o.Run(context.Background(), "Check system status")

	if o.State() != StateIdle {
		t.Fatalf("final state = %s, want idle", o.State())
	}
	if ec.Failed() {
		t.Fatalf("run failed: %v", ec.Err)
	}
	if len(ec.Results) != 1 || ec.Results[0].Status != plan.StatusSuccess {
		t.Fatalf("ledger = %+v, want one success entry", ec.Results)
	}
	if ec.Summary != "All done." {
		t.Fatalf("summary = %q", ec.Summary)
	}
	if ec.Acknowledgment == nil || ec.Acknowledgment.Reply == "" {
		t.Fatal("acknowledgment was not recorded")
	}
	if len(td.memory.records) != 1 {
		t.Fatalf("memory records = %d, want 1", len(td.memory.records))
	}
	if td.memory.records[0]["request"] != "Check system status" {
		t.Fatalf("memory record request = %v", td.memory.records[0]["request"])
	}

	// High confidence skips validation entirely.
	if td.risk.calls != 0 {
		t.Fatalf("risk assessor consulted %d times, want 0", td.risk.calls)
	}
	want := []string{
		"idle>negotiating",
		"negotiating>diagnosing",
		"diagnosing>planning",
		"planning>scoring",
		"scoring>executing",
		"executing>reporting",
		"reporting>learning",
		"learning>idle",
	}
	if got := strings.Join(td.sink.transitions, " "); got != strings.Join(want, " ") {
		t.Fatalf("transitions = %v, want %v", td.sink.transitions, want)
	}
}

func TestRunCollectsDiagnosticsForPlanner(t *testing.T) {
	td := newTestDeps(t, config.SafetyModeAutonomous)
	td.planner.plan = singleStepPlan(0.9, "sys.get_info")
	o := mustNew(t, td.deps)

	o.Run(context.Background(), "how is the host doing")

	if td.planner.calls != 1 {
		t.Fatalf("planner called %d times, want 1", td.planner.calls)
	}
	if _, ok := td.planner.gotDiagnostics["sys.get_cpu_usage"]; !ok {
		t.Fatalf("diagnostics missing cpu snapshot: %v", td.planner.gotDiagnostics)
	}
	if _, ok := td.planner.gotDiagnostics["sys.get_memory_usage"]; !ok {
		t.Fatalf("diagnostics missing memory snapshot: %v", td.planner.gotDiagnostics)
	}
	// net.* tools are not registered here; their absence is tolerated.
	if _, ok := td.planner.gotDiagnostics["net.get_config"]; ok {
		t.Fatal("unregistered diagnostic tool produced a snapshot")
	}
}

func TestRunRouterShortcutSkipsPlanning(t *testing.T) {
	td := newTestDeps(t, config.SafetyModeAutonomous)
	td.router.plan = plan.SingleStep("Semantic match: query resembles sys.get_cpu_usage (similarity 0.82)", 0.82, "sys.get_cpu_usage")
	o := mustNew(t, td.deps)

	ec := o.Run(context.Background(), "cpu usage")

	if !ec.RouterShortcut {
		t.Fatal("RouterShortcut not set")
	}
	if td.planner.calls != 0 {
		t.Fatalf("planner called %d times on a shortcut run", td.planner.calls)
	}
	if ec.Confidence != 0.82 {
		t.Fatalf("confidence = %v, want the router similarity 0.82", ec.Confidence)
	}
	if len(ec.Results) != 1 || ec.Results[0].Status != plan.StatusSuccess {
		t.Fatalf("ledger = %+v, want one success entry", ec.Results)
	}
	for _, tr := range td.sink.transitions {
		if strings.Contains(tr, "diagnosing") || strings.Contains(tr, "planning") {
			t.Fatalf("shortcut run visited %s", tr)
		}
	}
}

func TestRunPlannerErrorRecovers(t *testing.T) {
	td := newTestDeps(t, config.SafetyModeAutonomous)
	td.planner.err = fmt.Errorf("model unreachable")
	o := mustNew(t, td.deps)

	ec := o.Run(context.Background(), "do something")

	if o.State() != StateIdle {
		t.Fatalf("final state = %s, want idle", o.State())
	}
	if !ec.Failed() {
		t.Fatal("run did not record a terminal error")
	}
	if len(ec.Results) != 1 {
		t.Fatalf("ledger has %d entries, want exactly one synthetic entry", len(ec.Results))
	}
	entry := ec.Results[0]
	if entry.Status != plan.StatusError {
		t.Fatalf("synthetic entry status = %s, want error", entry.Status)
	}
	if !strings.Contains(entry.Error, "model unreachable") {
		t.Fatalf("synthetic entry error = %q", entry.Error)
	}
	if len(td.memory.records) != 0 {
		t.Fatal("recovered run was archived to memory")
	}
}

func TestRunNilPlanRecovers(t *testing.T) {
	td := newTestDeps(t, config.SafetyModeAutonomous)
	td.planner.plan = nil
	o := mustNew(t, td.deps)

	ec := o.Run(context.Background(), "do something")

	if !ec.Failed() {
		t.Fatal("nil plan did not fail the run")
	}
	if len(ec.Results) != 1 || ec.Results[0].Status != plan.StatusError {
		t.Fatalf("ledger = %+v, want exactly one error entry", ec.Results)
	}
}

func TestRunPlannerPanicIsContained(t *testing.T) {
	td := newTestDeps(t, config.SafetyModeAutonomous)
	td.planner.panic = true
	o := mustNew(t, td.deps)

	ec := o.Run(context.Background(), "do something")

	if o.State() != StateIdle {
		t.Fatalf("final state = %s, want idle", o.State())
	}
	if !ec.Failed() || !strings.Contains(ec.ErrorMessage(), "panicked") {
		t.Fatalf("terminal error = %q, want a contained panic", ec.ErrorMessage())
	}
}

func TestRunDropsUnregisteredPlanSteps(t *testing.T) {
	td := newTestDeps(t, config.SafetyModeAutonomous)
	td.planner.plan = &plan.Plan{
		Reasoning:            "one real, one invented",
		ConfidencePrediction: 0.9,
		Steps: []plan.Step{
			{StepID: 1, ToolName: "sys.get_info"},
			{StepID: 2, ToolName: "made.up_tool"},
		},
	}
	o := mustNew(t, td.deps)

	ec := o.Run(context.Background(), "do something")

	if len(ec.Plan.Steps) != 1 || ec.Plan.Steps[0].ToolName != "sys.get_info" {
		t.Fatalf("plan steps = %+v, want only the registered tool", ec.Plan.Steps)
	}
	if len(ec.Results) != 1 || ec.Results[0].Status != plan.StatusSuccess {
		t.Fatalf("ledger = %+v", ec.Results)
	}
}

func TestRunLowConfidenceConsultsRiskAssessor(t *testing.T) {
	td := newTestDeps(t, config.SafetyModeAutonomous)
	td.planner.plan = singleStepPlan(0.2, "sys.get_info")
	o := mustNew(t, td.deps)

	ec := o.Run(context.Background(), "vague request")

	// structural 1.0 blended with 0.2 = 0.6, below the 0.8 gate.
	if td.risk.calls != 1 {
		t.Fatalf("risk assessor consulted %d times, want 1", td.risk.calls)
	}
	if ec.Risk == nil || ec.Risk.RiskLevel != llm.RiskLevelLow {
		t.Fatalf("risk verdict = %+v", ec.Risk)
	}
	if ec.Failed() {
		t.Fatalf("approved low-confidence run failed: %v", ec.Err)
	}
	joined := strings.Join(td.sink.transitions, " ")
	if !strings.Contains(joined, "scoring>validating") || !strings.Contains(joined, "validating>executing") {
		t.Fatalf("transitions = %v, want the validation detour", td.sink.transitions)
	}
}

func TestRunRejectedPlanRecovers(t *testing.T) {
	td := newTestDeps(t, config.SafetyModeAutonomous)
	td.planner.plan = singleStepPlan(0.2, "proc.kill")
	td.risk.verdict = llm.RiskAssessment{
		RiskLevel:      llm.RiskLevelHigh,
		Concerns:       []string{"terminates a process"},
		Recommendation: llm.RecommendReject,
	}
	o := mustNew(t, td.deps)

	ec := o.Run(context.Background(), "kill everything")

	if !ec.Failed() {
		t.Fatal("rejected plan did not fail the run")
	}
	if !strings.Contains(ec.ErrorMessage(), "terminates a process") {
		t.Fatalf("terminal error = %q, want the concern text", ec.ErrorMessage())
	}
	if len(ec.Results) != 1 || ec.Results[0].Status != plan.StatusError {
		t.Fatalf("ledger = %+v, want exactly one error entry", ec.Results)
	}
}

func TestRunValidationPassesWithoutAssessor(t *testing.T) {
	td := newTestDeps(t, config.SafetyModeAutonomous)
	td.deps.RiskAssessor = nil
	td.planner.plan = singleStepPlan(0.2, "sys.get_info")
	o := mustNew(t, td.deps)

	ec := o.Run(context.Background(), "vague request")
	if ec.Failed() {
		t.Fatalf("run failed without an assessor: %v", ec.Err)
	}
	if len(ec.Results) != 1 || ec.Results[0].Status != plan.StatusSuccess {
		t.Fatalf("ledger = %+v", ec.Results)
	}
}

func TestRunSafeModeWithoutConfirmerSkipsSteps(t *testing.T) {
	td := newTestDeps(t, config.SafetyModeSafe)
	td.deps.Confirmer = nil
	td.planner.plan = singleStepPlan(0.9, "sys.get_info")
	o := mustNew(t, td.deps)

	ec := o.Run(context.Background(), "look around")

	if ec.Failed() {
		t.Fatalf("denied run should complete cleanly, got %v", ec.Err)
	}
	if len(ec.Results) != 1 || ec.Results[0].Status != plan.StatusSkipped {
		t.Fatalf("ledger = %+v, want one skipped entry", ec.Results)
	}
}

func TestRunContinuePolicyRecordsBothOutcomes(t *testing.T) {
	td := newTestDeps(t, config.SafetyModeAutonomous)
	td.planner.plan = &plan.Plan{
		Reasoning:            "fail then recover",
		ConfidencePrediction: 0.9,
		Steps: []plan.Step{
			{StepID: 1, ToolName: "fs.fail_always", OnFailure: plan.OnFailureContinue},
			{StepID: 2, ToolName: "sys.get_info"},
		},
	}
	o := mustNew(t, td.deps)

	ec := o.Run(context.Background(), "resilient plan")

	if len(ec.Results) != 2 {
		t.Fatalf("ledger has %d entries, want 2", len(ec.Results))
	}
	if ec.Results[0].Status != plan.StatusFailed || ec.Results[1].Status != plan.StatusSuccess {
		t.Fatalf("ledger = %+v", ec.Results)
	}
	if ec.Failed() {
		t.Fatal("step failures must not fail the run")
	}
}

func TestRunAbortPolicyTruncatesLedger(t *testing.T) {
	td := newTestDeps(t, config.SafetyModeAutonomous)
	td.planner.plan = &plan.Plan{
		Reasoning:            "fail fast",
		ConfidencePrediction: 0.9,
		Steps: []plan.Step{
			{StepID: 1, ToolName: "fs.fail_always"},
			{StepID: 2, ToolName: "sys.get_info"},
		},
	}
	o := mustNew(t, td.deps)

	ec := o.Run(context.Background(), "fragile plan")

	if len(ec.Results) != 1 || ec.Results[0].Status != plan.StatusFailed {
		t.Fatalf("ledger = %+v, want one failed entry", ec.Results)
	}
}

func TestRunTemplatedSummaryWithoutCommunicator(t *testing.T) {
	td := newTestDeps(t, config.SafetyModeAutonomous)
	td.deps.Communicator = nil
	td.planner.plan = singleStepPlan(0.9, "sys.get_info")
	o := mustNew(t, td.deps)

	ec := o.Run(context.Background(), "quiet mode")

	if ec.Summary != "Completed 1/1 steps successfully." {
		t.Fatalf("summary = %q", ec.Summary)
	}
}

func TestRunSinkPanicsAreContained(t *testing.T) {
	td := newTestDeps(t, config.SafetyModeAutonomous)
	td.planner.plan = singleStepPlan(0.9, "sys.get_info")
	td.deps.Sink = panickySink{}
	o := mustNew(t, td.deps)

	ec := o.Run(context.Background(), "noisy observer")
	if ec.Failed() {
		t.Fatalf("sink panic failed the run: %v", ec.Err)
	}
	if len(ec.Results) != 1 || ec.Results[0].Status != plan.StatusSuccess {
		t.Fatalf("ledger = %+v", ec.Results)
	}
}

type panickySink struct{}

func (panickySink) OnStateChange(string, State, State)   { panic("sink") }
func (panickySink) OnPlan(string, *plan.Plan)            { panic("sink") }
func (panickySink) OnConfidence(string, float64)         { panic("sink") }
func (panickySink) OnStepResult(string, plan.StepResult) { panic("sink") }
func (panickySink) OnSummary(string, string)             { panic("sink") }

func TestRunSequentialRequestsGetFreshContexts(t *testing.T) {
	td := newTestDeps(t, config.SafetyModeAutonomous)
	td.planner.plan = singleStepPlan(0.9, "sys.get_info")
	o := mustNew(t, td.deps)

	first := o.Run(context.Background(), "first")
	second := o.Run(context.Background(), "second")

	if first.RequestID == second.RequestID {
		t.Fatal("runs share a request ID")
	}
	if len(second.Results) != 1 {
		t.Fatalf("second ledger = %+v, want one entry", second.Results)
	}
	if len(td.memory.records) != 2 {
		t.Fatalf("memory records = %d, want 2", len(td.memory.records))
	}
}

func TestStateStringNames(t *testing.T) {
	cases := map[State]string{
		StateIdle:          "idle",
		StateNegotiating:   "negotiating",
		StateDiagnosing:    "diagnosing",
		StatePlanning:      "planning",
		StateScoring:       "scoring",
		StateValidating:    "validating",
		StateExecuting:     "executing",
		StateReporting:     "reporting",
		StateLearning:      "learning",
		StateErrorRecovery: "error_recovery",
	}
	for state, want := range cases {
		if got := state.String(); got != want {
			t.Errorf("State(%d).String() = %q, want %q", int(state), got, want)
		}
	}
}
