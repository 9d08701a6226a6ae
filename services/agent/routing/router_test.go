// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package routing

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"

	"github.com/AleutianAI/hostpilot/services/agent/registry"
)

// fakeEmbedder returns fixed 3-dim vectors keyed by substring match, so
// tests control similarity geometry exactly.
type fakeEmbedder struct {
	mu      sync.Mutex
	byToken map[string][]float32
	fail    bool
	calls   int
}

func (f *fakeEmbedder) Model() string { return "fake-embed" }

func (f *fakeEmbedder) Embed(_ context.Context, text string) ([]float32, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if f.fail {
		return nil, errors.New("embedder down")
	}
	for token, vec := range f.byToken {
		if strings.Contains(text, token) {
			return vec, nil
		}
	}
	return []float32{0, 0, 1}, nil
}

func nopTool(_ context.Context, _ map[string]any) (any, error) { return nil, nil }

func newRoutedRegistry(t *testing.T) *registry.Registry {
	t.Helper()
	r := registry.New(nil)
	tools := []registry.Descriptor{
		{Name: "sys.get_cpu_usage", Description: "Report CPU load", Risk: registry.RiskSafe, Run: nopTool},
		{Name: "net.get_config", Description: "Show network interfaces", Risk: registry.RiskSafe, Run: nopTool},
		// Ineligible: required parameter.
		{Name: "fs.list_dir", Risk: registry.RiskSafe, RequiredParams: []string{"path"}, Run: nopTool},
		// Ineligible: high risk.
		{Name: "proc.kill", Risk: registry.RiskHigh, Run: nopTool},
	}
	for _, d := range tools {
		if err := r.Register(d); err != nil {
			t.Fatalf("Register(%q) failed: %v", d.Name, err)
		}
	}
	r.Freeze()
	return r
}

func newWarmedRouter(t *testing.T, emb *fakeEmbedder, store EmbeddingStore) *Router {
	t.Helper()
	router := NewRouter(newRoutedRegistry(t), emb, store, 0, nil)
	if err := router.Warm(context.Background()); err != nil {
		t.Fatalf("Warm failed: %v", err)
	}
	return router
}

func defaultFake() *fakeEmbedder {
	return &fakeEmbedder{byToken: map[string][]float32{
		"CPU":     {1, 0, 0},
		"network": {0, 1, 0},
		// Query tokens.
		"processor": {0.9, 0.1, 0},
		"weather":   {0, 0, 1},
	}}
}

// =============================================================================
// FindPlan Tests
// =============================================================================

func TestFindPlan_ShortcutAboveThreshold(t *testing.T) {
	router := newWarmedRouter(t, defaultFake(), nil)

	p, ok := router.FindPlan(context.Background(), "how busy is the processor")
	if !ok {
		t.Fatal("expected shortcut to fire")
	}
	if len(p.Steps) != 1 || p.Steps[0].ToolName != "sys.get_cpu_usage" {
		t.Fatalf("unexpected shortcut plan: %+v", p)
	}
	if p.ConfidencePrediction < DefaultThreshold {
		t.Errorf("confidence %v below threshold", p.ConfidencePrediction)
	}
}

func TestFindPlan_MissBelowThreshold(t *testing.T) {
	router := newWarmedRouter(t, defaultFake(), nil)

	// Orthogonal to both tool vectors.
	if _, ok := router.FindPlan(context.Background(), "what is the weather"); ok {
		t.Fatal("expected no shortcut for an unrelated query")
	}
}

func TestFindPlan_ColdIndex(t *testing.T) {
	emb := defaultFake()
	router := NewRouter(newRoutedRegistry(t), emb, nil, 0, nil)

	if _, ok := router.FindPlan(context.Background(), "how busy is the processor"); ok {
		t.Fatal("cold index must never shortcut")
	}
	if emb.calls != 0 {
		t.Errorf("cold router embedded the query anyway (%d calls)", emb.calls)
	}
}

func TestFindPlan_QueryEmbedFailure(t *testing.T) {
	emb := defaultFake()
	router := newWarmedRouter(t, emb, nil)

	emb.mu.Lock()
	emb.fail = true
	emb.mu.Unlock()

	if _, ok := router.FindPlan(context.Background(), "how busy is the processor"); ok {
		t.Fatal("embedding failure must degrade to no match")
	}
}

func TestWarm_OnlyEligibleToolsIndexed(t *testing.T) {
	router := newWarmedRouter(t, defaultFake(), nil)

	scores := router.Scores(context.Background(), "anything", 0)
	for _, s := range scores {
		if s.ToolName == "fs.list_dir" || s.ToolName == "proc.kill" {
			t.Errorf("ineligible tool %q present in index", s.ToolName)
		}
	}
}

// =============================================================================
// Scores Tests
// =============================================================================

func TestScores_RankedAndTruncated(t *testing.T) {
	router := newWarmedRouter(t, defaultFake(), nil)

	scores := router.Scores(context.Background(), "how busy is the processor", 0)
	if len(scores) == 0 {
		t.Fatal("expected at least one score")
	}
	if scores[0].ToolName != "sys.get_cpu_usage" {
		t.Errorf("top tool = %q, want sys.get_cpu_usage", scores[0].ToolName)
	}
	for i := 1; i < len(scores); i++ {
		if scores[i].Score > scores[i-1].Score {
			t.Fatal("scores not in descending order")
		}
	}

	top1 := router.Scores(context.Background(), "how busy is the processor", 1)
	if len(top1) != 1 {
		t.Errorf("topK=1 returned %d entries", len(top1))
	}
}

func TestScores_ColdIndexReturnsNil(t *testing.T) {
	router := NewRouter(newRoutedRegistry(t), defaultFake(), nil, 0, nil)
	if scores := router.Scores(context.Background(), "anything", 0); scores != nil {
		t.Fatal("cold index must return nil scores")
	}
}

// =============================================================================
// Persistence Tests
// =============================================================================

// memStore is an in-memory EmbeddingStore for warm-path tests.
type memStore struct {
	mu    sync.Mutex
	data  map[string]map[string][]float32
	saves int
	loads int
}

func newMemStore() *memStore {
	return &memStore{data: make(map[string]map[string][]float32)}
}

func (m *memStore) LoadEmbeddings(_ context.Context, hash string) (map[string][]float32, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.loads++
	return m.data[hash], nil
}

func (m *memStore) SaveEmbeddings(_ context.Context, hash string, vectors map[string][]float32) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.saves++
	m.data[hash] = vectors
	return nil
}

func TestWarm_PersistsAndReloads(t *testing.T) {
	store := newMemStore()

	emb1 := defaultFake()
	newWarmedRouter(t, emb1, store)
	if store.saves != 1 {
		t.Fatalf("expected 1 save after cold warm-up, got %d", store.saves)
	}
	warmCalls := emb1.calls

	// Second router with the same registry and model: must load, not embed.
	emb2 := defaultFake()
	router2 := newWarmedRouter(t, emb2, store)
	if emb2.calls != 0 {
		t.Errorf("second warm-up embedded %d tools despite cache hit", emb2.calls)
	}
	if !router2.IsWarmed() {
		t.Fatal("router not warmed from store")
	}
	if warmCalls == 0 {
		t.Error("first warm-up never called the embedder")
	}

	p, ok := router2.FindPlan(context.Background(), "how busy is the processor")
	if !ok || p.Steps[0].ToolName != "sys.get_cpu_usage" {
		t.Fatal("store-loaded index failed to shortcut")
	}
}

// =============================================================================
// Corpus Hash Tests
// =============================================================================

func TestComputeCorpusHash_OrderIndependent(t *testing.T) {
	a := registry.Descriptor{Name: "a", Description: "d1", Aliases: []string{"x", "y"}}
	b := registry.Descriptor{Name: "b", Description: "d2"}

	h1 := computeCorpusHash([]registry.Descriptor{a, b}, "m")
	h2 := computeCorpusHash([]registry.Descriptor{b, a}, "m")
	if h1 != h2 {
		t.Error("hash must be independent of registration order")
	}
}

func TestComputeCorpusHash_SensitiveToChange(t *testing.T) {
	a := registry.Descriptor{Name: "a", Description: "d1"}
	base := computeCorpusHash([]registry.Descriptor{a}, "m")

	renamed := a
	renamed.Description = "d1 updated"
	if computeCorpusHash([]registry.Descriptor{renamed}, "m") == base {
		t.Error("description change must change the hash")
	}
	if computeCorpusHash([]registry.Descriptor{a}, "other-model") == base {
		t.Error("model change must change the hash")
	}
}
