// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package registry

import (
	"context"
	"testing"
)

func nopTool(_ context.Context, _ map[string]any) (any, error) {
	return "ok", nil
}

// =============================================================================
// Register / Freeze Tests
// =============================================================================

func TestRegister_And_Get(t *testing.T) {
	r := New(nil)
	err := r.Register(Descriptor{
		Name:        "sys.get_info",
		Description: "Get OS and host information",
		Risk:        RiskSafe,
		Run:         nopTool,
	})
	if err != nil {
		t.Fatalf("Register returned error: %v", err)
	}

	d, ok := r.Get("sys.get_info")
	if !ok {
		t.Fatal("expected tool to be found")
	}
	if d.Risk != RiskSafe {
		t.Errorf("expected RiskSafe, got %v", d.Risk)
	}

	if _, ok := r.Get("no.such_tool"); ok {
		t.Error("expected miss for unregistered name")
	}
}

func TestRegister_DuplicateName(t *testing.T) {
	r := New(nil)
	d := Descriptor{Name: "t", Run: nopTool}
	if err := r.Register(d); err != nil {
		t.Fatalf("first Register failed: %v", err)
	}
	if err := r.Register(d); err == nil {
		t.Fatal("expected error on duplicate registration")
	}
}

func TestRegister_Invalid(t *testing.T) {
	r := New(nil)
	if err := r.Register(Descriptor{Name: "", Run: nopTool}); err == nil {
		t.Error("expected error for empty name")
	}
	if err := r.Register(Descriptor{Name: "t"}); err == nil {
		t.Error("expected error for nil callable")
	}
}

func TestFreeze_RejectsRegistration(t *testing.T) {
	r := New(nil)
	if err := r.Register(Descriptor{Name: "a", Run: nopTool}); err != nil {
		t.Fatalf("Register failed: %v", err)
	}
	r.Freeze()
	if err := r.Register(Descriptor{Name: "b", Run: nopTool}); err == nil {
		t.Fatal("expected error registering into a frozen registry")
	}
	if r.Len() != 1 {
		t.Errorf("expected 1 tool, got %d", r.Len())
	}
}

// =============================================================================
// Snapshot Tests
// =============================================================================

func TestList_SortedSnapshot(t *testing.T) {
	r := New(nil)
	for _, name := range []string{"net.check_connection", "fs.list_dir", "sys.get_info"} {
		if err := r.Register(Descriptor{Name: name, Run: nopTool}); err != nil {
			t.Fatalf("Register(%q) failed: %v", name, err)
		}
	}

	got := r.List()
	want := []string{"fs.list_dir", "net.check_connection", "sys.get_info"}
	if len(got) != len(want) {
		t.Fatalf("expected %d tools, got %d", len(want), len(got))
	}
	for i, name := range want {
		if got[i].Name != name {
			t.Errorf("List()[%d] = %q, want %q", i, got[i].Name, name)
		}
	}
}

func TestSafeZeroArg_FiltersRiskAndParams(t *testing.T) {
	r := New(nil)
	regs := []Descriptor{
		{Name: "sys.get_info", Risk: RiskSafe, Run: nopTool},
		{Name: "fs.list_dir", Risk: RiskSafe, RequiredParams: []string{"path"}, Run: nopTool},
		{Name: "proc.kill", Risk: RiskHigh, Run: nopTool},
		{Name: "net.check_connection", Risk: RiskSafe, Run: nopTool},
	}
	for _, d := range regs {
		if err := r.Register(d); err != nil {
			t.Fatalf("Register(%q) failed: %v", d.Name, err)
		}
	}

	eligible := r.SafeZeroArg()
	if len(eligible) != 2 {
		t.Fatalf("expected 2 eligible tools, got %d", len(eligible))
	}
	for _, d := range eligible {
		if d.Risk != RiskSafe || len(d.RequiredParams) > 0 {
			t.Errorf("ineligible tool in shortcut set: %+v", d)
		}
	}
}

// =============================================================================
// RiskTier Tests
// =============================================================================

func TestParseRiskTier_UnknownIsHigh(t *testing.T) {
	cases := map[string]RiskTier{
		"safe":     RiskSafe,
		"Medium":   RiskMedium,
		" HIGH ":   RiskHigh,
		"critical": RiskHigh, // unknown names must never weaken the gate
		"":         RiskHigh,
	}
	for in, want := range cases {
		if got := ParseRiskTier(in); got != want {
			t.Errorf("ParseRiskTier(%q) = %v, want %v", in, got, want)
		}
	}
}

func TestRiskTier_RoundTrip(t *testing.T) {
	for _, tier := range []RiskTier{RiskSafe, RiskMedium, RiskHigh} {
		if got := ParseRiskTier(tier.String()); got != tier {
			t.Errorf("round trip %v -> %q -> %v", tier, tier.String(), got)
		}
	}
}
