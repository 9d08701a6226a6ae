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
	"fmt"
	"log/slog"
	"sort"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"golang.org/x/sync/errgroup"

	"github.com/AleutianAI/hostpilot/services/agent/plan"
	"github.com/AleutianAI/hostpilot/services/agent/registry"
)

// =============================================================================
// Prometheus Metrics
// =============================================================================

var (
	routerDecisions = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "hostpilot",
		Subsystem: "routing",
		Name:      "decisions_total",
		Help:      "Router outcomes: hit (shortcut taken), miss (deferred to planner), cold (index not warmed)",
	}, []string{"outcome"})

	routerBestScore = promauto.NewHistogram(prometheus.HistogramOpts{
		Namespace: "hostpilot",
		Subsystem: "routing",
		Name:      "best_score",
		Help:      "Best cosine similarity per routed query",
		Buckets:   prometheus.LinearBuckets(0, 0.1, 11),
	})
)

var routingTracer = otel.Tracer("aleutian.agent.routing")

// warmConcurrency is the number of parallel embedding calls during warm-up.
const warmConcurrency = 10

// DefaultThreshold is the minimum cosine similarity for the shortcut.
// Tuned against the builtin toolkit: below this, matches are coincidental
// word overlap rather than intent.
const DefaultThreshold = 0.47

// ToolScore is one entry in the similarity report returned by Scores.
type ToolScore struct {
	ToolName string  `json:"tool_name"`
	Score    float64 `json:"score"`
}

// Router is the semantic fast path over the safe zero-argument tools.
//
// # Description
//
// At warm-up, the router embeds one document per eligible tool (risk-safe,
// no required parameters) and keeps the unit-normalized vectors in memory,
// persisting them through the optional EmbeddingStore. At query time it
// embeds the query once and compares against every tool vector; a best
// match at or above the threshold produces a one-step plan, anything
// below defers to the LLM planner.
//
// The router degrades gracefully at every stage: a cold index, a failed
// query embedding, or an empty eligible set all report "no match" rather
// than an error. The planner path is always available behind it.
//
// # Thread Safety
//
// Safe for concurrent use after Warm completes.
type Router struct {
	mu      sync.RWMutex
	vectors map[string][]float32 // tool name → unit-normalized vector
	warmed  bool

	registry  *registry.Registry
	embedder  Embedder
	store     EmbeddingStore // nil = in-memory-only
	threshold float64
	logger    *slog.Logger
}

// NewRouter creates an unwarmed router over reg's eligible tools.
//
// # Inputs
//
//   - reg: The shared tool registry. Must not be nil.
//   - embedder: Embedding client. Must not be nil.
//   - store: Optional persistence. Nil disables it.
//   - threshold: Minimum similarity for the shortcut. Pass 0 for the default.
//   - logger: May be nil.
func NewRouter(reg *registry.Registry, embedder Embedder, store EmbeddingStore, threshold float64, logger *slog.Logger) *Router {
	if reg == nil {
		panic("routing.NewRouter: registry must not be nil")
	}
	if embedder == nil {
		panic("routing.NewRouter: embedder must not be nil")
	}
	if threshold <= 0 {
		threshold = DefaultThreshold
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Router{
		vectors:   make(map[string][]float32),
		registry:  reg,
		embedder:  embedder,
		store:     store,
		threshold: threshold,
		logger:    logger,
	}
}

// Warm pre-computes an embedding vector for every eligible tool.
//
// # Description
//
// Checks the persistence store first; the corpus hash captures tool names,
// descriptions, aliases, sample queries, and the model name, so any
// registry or model change is an automatic miss. On a miss, the eligible
// tools are embedded in parallel. Individual tool failures are logged and
// skipped; if every tool fails the router stays cold and FindPlan reports
// no match.
//
// # Inputs
//
//   - ctx: Context for the warm-up calls. Cancellation aborts pending embeds.
//
// # Outputs
//
//   - error: Non-nil only when the warm-up was aborted by ctx.
//
// # Thread Safety
//
// Not safe to call concurrently. Call once at service startup.
func (r *Router) Warm(ctx context.Context) error {
	eligible := r.registry.SafeZeroArg()
	if len(eligible) == 0 {
		r.logger.Info("router warm-up skipped: no eligible tools")
		return nil
	}

	model := ""
	if m, ok := r.embedder.(interface{ Model() string }); ok {
		model = m.Model()
	}
	corpusHash := computeCorpusHash(eligible, model)

	if r.store != nil {
		cached, err := r.store.LoadEmbeddings(ctx, corpusHash)
		if err != nil {
			r.logger.Warn("router warm-up: store load failed, continuing with embedder",
				slog.String("error", err.Error()),
			)
		} else if len(cached) > 0 {
			r.mu.Lock()
			for name, vec := range cached {
				r.vectors[name] = vec // already unit-normalized on save
			}
			r.warmed = true
			r.mu.Unlock()
			r.logger.Info("router warm-up: loaded vectors from store",
				slog.Int("tool_count", len(cached)),
				slog.String("corpus_hash", shortHash(corpusHash)),
			)
			return nil
		}
	}

	r.logger.Info("router warm-up: embedding eligible tools",
		slog.Int("tool_count", len(eligible)),
	)

	type result struct {
		name   string
		vector []float32
	}

	resultCh := make(chan result, len(eligible))
	g, gctx := errgroup.WithContext(ctx)
	sem := make(chan struct{}, warmConcurrency)

	for _, d := range eligible {
		tool := d
		g.Go(func() error {
			sem <- struct{}{}
			defer func() { <-sem }()

			doc := buildEmbeddingDoc(tool.Name, tool.Description, tool.Aliases, tool.SampleQueries)
			vec, err := r.embedder.Embed(gctx, doc)
			if err != nil {
				r.logger.Warn("router warm-up: failed to embed tool",
					slog.String("tool", tool.Name),
					slog.String("error", err.Error()),
				)
				// Individual failure is not fatal.
				return nil
			}
			resultCh <- result{name: tool.Name, vector: vec}
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return fmt.Errorf("router warm-up: %w", err)
	}
	close(resultCh)

	r.mu.Lock()
	for res := range resultCh {
		if unit := unitNormalize(res.vector); unit != nil {
			r.vectors[res.name] = unit
		}
	}
	r.warmed = len(r.vectors) > 0
	embedded := len(r.vectors)

	// Snapshot under lock, write to the store after releasing it.
	var toSave map[string][]float32
	if r.warmed && r.store != nil {
		toSave = make(map[string][]float32, len(r.vectors))
		for k, v := range r.vectors {
			toSave[k] = v
		}
	}
	r.mu.Unlock()

	r.logger.Info("router warm-up complete",
		slog.Int("embedded_tools", embedded),
		slog.Int("eligible_tools", len(eligible)),
	)

	// Persistence failure is non-fatal: vectors are already in RAM.
	if toSave != nil {
		if err := r.store.SaveEmbeddings(ctx, corpusHash, toSave); err != nil {
			r.logger.Warn("router warm-up: failed to persist vectors",
				slog.String("error", err.Error()),
			)
		}
	}
	return nil
}

// IsWarmed reports whether the index holds at least one tool vector.
func (r *Router) IsWarmed() bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.warmed
}

// FindPlan attempts the semantic shortcut for query.
//
// # Description
//
// Embeds the query and finds the best-scoring eligible tool. At or above
// the threshold, returns a one-step plan invoking that tool, with the
// similarity recorded as the plan's confidence prediction. Below the
// threshold, or whenever the index is cold or the query embedding fails,
// returns (nil, false) and the caller proceeds to the LLM planner.
//
// # Outputs
//
//   - *plan.Plan: One-step shortcut plan. Nil when no match.
//   - bool: Whether the shortcut fired.
func (r *Router) FindPlan(ctx context.Context, query string) (*plan.Plan, bool) {
	ctx, span := routingTracer.Start(ctx, "routing.FindPlan")
	defer span.End()

	scores := r.score(ctx, query)
	if scores == nil {
		routerDecisions.WithLabelValues("cold").Inc()
		span.SetAttributes(attribute.String("outcome", "cold"))
		return nil, false
	}

	bestName, bestScore := "", -1.0
	for name, s := range scores {
		if s > bestScore {
			bestName, bestScore = name, s
		}
	}
	if bestName == "" {
		routerDecisions.WithLabelValues("miss").Inc()
		span.SetAttributes(attribute.String("outcome", "miss"))
		return nil, false
	}

	routerBestScore.Observe(bestScore)
	span.SetAttributes(
		attribute.String("best_tool", bestName),
		attribute.Float64("best_score", bestScore),
	)

	if bestScore < r.threshold {
		routerDecisions.WithLabelValues("miss").Inc()
		span.SetAttributes(attribute.String("outcome", "miss"))
		r.logger.Debug("router: below threshold, deferring to planner",
			slog.String("best_tool", bestName),
			slog.Float64("best_score", bestScore),
			slog.Float64("threshold", r.threshold),
		)
		return nil, false
	}

	routerDecisions.WithLabelValues("hit").Inc()
	span.SetAttributes(attribute.String("outcome", "hit"))
	r.logger.Info("router: semantic shortcut",
		slog.String("tool", bestName),
		slog.Float64("score", bestScore),
	)

	reasoning := fmt.Sprintf("Semantic match: query resembles %s (similarity %.2f)", bestName, bestScore)
	return plan.SingleStep(reasoning, bestScore, bestName), true
}

// Scores returns the topK eligible tools ranked by similarity to query,
// for diagnostics and the similarity API. Returns nil when the index is
// cold or the query embedding fails; topK <= 0 returns all entries.
func (r *Router) Scores(ctx context.Context, query string, topK int) []ToolScore {
	ctx, span := routingTracer.Start(ctx, "routing.Scores")
	defer span.End()

	scores := r.score(ctx, query)
	if scores == nil {
		return nil
	}

	out := make([]ToolScore, 0, len(scores))
	for name, s := range scores {
		out = append(out, ToolScore{ToolName: name, Score: s})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Score != out[j].Score {
			return out[i].Score > out[j].Score
		}
		return out[i].ToolName < out[j].ToolName
	})
	if topK > 0 && len(out) > topK {
		out = out[:topK]
	}
	return out
}

// score embeds the query and returns per-tool cosine similarity. Returns
// nil when the index is cold or the query embedding fails; callers treat
// nil as "no match", never as an error.
func (r *Router) score(ctx context.Context, query string) map[string]float64 {
	r.mu.RLock()
	warmed := r.warmed
	r.mu.RUnlock()

	if !warmed {
		return nil
	}

	embedCtx, cancel := context.WithTimeout(ctx, embedQueryTimeout)
	defer cancel()

	queryVec, err := r.embedder.Embed(embedCtx, query)
	if err != nil {
		r.logger.Warn("router: query embedding failed, deferring to planner",
			slog.String("error", err.Error()),
		)
		return nil
	}

	queryUnit := unitNormalize(queryVec)
	if queryUnit == nil {
		return nil
	}

	r.mu.RLock()
	defer r.mu.RUnlock()

	scores := make(map[string]float64, len(r.vectors))
	for toolName, toolVec := range r.vectors {
		sim := dotProduct(queryUnit, toolVec) // dot of two unit vectors = cosine
		if sim > 0 {
			scores[toolName] = float64(sim)
		}
	}
	return scores
}
