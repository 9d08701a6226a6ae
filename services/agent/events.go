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
	"log/slog"

	"github.com/AleutianAI/hostpilot/services/agent/plan"
)

// EventSink receives purely observational callbacks as a run progresses:
// state transitions, the adopted plan, the confidence score, each step
// result, and the final summary. Sinks must be fast; the orchestrator
// calls them inline from the FSM loop.
//
// A sink must never be able to fail the run. Every invocation is wrapped
// in a recover on the orchestrator side.
type EventSink interface {
	OnStateChange(requestID string, from, to State)
	OnPlan(requestID string, p *plan.Plan)
	OnConfidence(requestID string, score float64)
	OnStepResult(requestID string, r plan.StepResult)
	OnSummary(requestID string, summary string)
}

// NopSink discards all events.
type NopSink struct{}

var _ EventSink = NopSink{}

func (NopSink) OnStateChange(string, State, State)   {}
func (NopSink) OnPlan(string, *plan.Plan)            {}
func (NopSink) OnConfidence(string, float64)         {}
func (NopSink) OnStepResult(string, plan.StepResult) {}
func (NopSink) OnSummary(string, string)             {}

// MultiSink fans events out to several sinks in order.
type MultiSink []EventSink

var _ EventSink = MultiSink(nil)

func (m MultiSink) OnStateChange(id string, from, to State) {
	for _, s := range m {
		s.OnStateChange(id, from, to)
	}
}

func (m MultiSink) OnPlan(id string, p *plan.Plan) {
	for _, s := range m {
		s.OnPlan(id, p)
	}
}

func (m MultiSink) OnConfidence(id string, score float64) {
	for _, s := range m {
		s.OnConfidence(id, score)
	}
}

func (m MultiSink) OnStepResult(id string, r plan.StepResult) {
	for _, s := range m {
		s.OnStepResult(id, r)
	}
}

func (m MultiSink) OnSummary(id string, summary string) {
	for _, s := range m {
		s.OnSummary(id, summary)
	}
}

// guardedSink wraps a sink so panics are logged instead of propagated.
type guardedSink struct {
	inner  EventSink
	logger *slog.Logger
}

func newGuardedSink(inner EventSink, logger *slog.Logger) guardedSink {
	if inner == nil {
		inner = NopSink{}
	}
	return guardedSink{inner: inner, logger: logger}
}

func (g guardedSink) recoverPanic() {
	if r := recover(); r != nil {
		g.logger.Warn("event sink panicked", slog.Any("panic", r))
	}
}

func (g guardedSink) OnStateChange(id string, from, to State) {
	defer g.recoverPanic()
	g.inner.OnStateChange(id, from, to)
}

func (g guardedSink) OnPlan(id string, p *plan.Plan) {
	defer g.recoverPanic()
	g.inner.OnPlan(id, p)
}

func (g guardedSink) OnConfidence(id string, score float64) {
	defer g.recoverPanic()
	g.inner.OnConfidence(id, score)
}

func (g guardedSink) OnStepResult(id string, r plan.StepResult) {
	defer g.recoverPanic()
	g.inner.OnStepResult(id, r)
}

func (g guardedSink) OnSummary(id string, summary string) {
	defer g.recoverPanic()
	g.inner.OnSummary(id, summary)
}
