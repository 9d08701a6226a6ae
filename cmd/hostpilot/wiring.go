// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package main

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/AleutianAI/hostpilot/services/agent"
	"github.com/AleutianAI/hostpilot/services/agent/config"
	"github.com/AleutianAI/hostpilot/services/agent/executor"
	"github.com/AleutianAI/hostpilot/services/agent/memory"
	"github.com/AleutianAI/hostpilot/services/agent/observability"
	"github.com/AleutianAI/hostpilot/services/agent/registry"
	"github.com/AleutianAI/hostpilot/services/agent/routing"
	"github.com/AleutianAI/hostpilot/services/agent/toolkit"
	"github.com/AleutianAI/hostpilot/services/llm"
	badgerstore "github.com/AleutianAI/hostpilot/services/storage/badger"
)

// routerWarmTimeout bounds the embedding index warm-up at startup.
const routerWarmTimeout = 30 * time.Second

// app is the fully wired agent process.
type app struct {
	cfg      *config.Config
	logger   *slog.Logger
	registry *registry.Registry
	router   *routing.Router
	agent    *agent.Orchestrator

	db              *badgerstore.DB
	shutdownTracing func(context.Context) error
}

// buildApp wires configuration, storage, the tool registry, the semantic
// router, the LLM collaborators, and the orchestrator.
//
// Degradation policy: the planner backend is required; everything else
// (BadgerDB, the router, the cloud agents) degrades with a warning.
// sink and confirmer are per-frontend and provided by the caller.
func buildApp(ctx context.Context, logger *slog.Logger, sink agent.EventSink, confirmer agent.Confirmer) (*app, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	if safetyMode != "" {
		cfg.SafetyMode = safetyMode
	}

	shutdownTracing, err := observability.InitTracing(ctx, cfg.Telemetry, version)
	if err != nil {
		logger.Warn("tracing unavailable", slog.String("error", err.Error()))
		shutdownTracing = func(context.Context) error { return nil }
	}

	// Embedding cache and long-term memory share one BadgerDB. Without a
	// data dir (or on open failure) both run in memory.
	var db *badgerstore.DB
	if cfg.DataDir != "" {
		db, err = badgerstore.Open(cfg.DataDir, logger)
		if err != nil {
			logger.Warn("BadgerDB unavailable, persistence disabled",
				slog.String("path", cfg.DataDir),
				slog.String("error", err.Error()),
			)
			db = nil
		}
	}

	reg := registry.New(logger)
	if err := toolkit.RegisterBuiltins(reg); err != nil {
		return nil, fmt.Errorf("register builtin tools: %w", err)
	}
	reg.Freeze()

	embedder := routing.NewOllamaEmbedder(cfg.Ollama.URL, cfg.Ollama.EmbedModel)
	var store routing.EmbeddingStore
	if db != nil {
		store = routing.NewBadgerEmbeddingStore(db, 0, logger)
	}
	router := routing.NewRouter(reg, embedder, store, cfg.RouterThreshold, logger)

	warmCtx, warmCancel := context.WithTimeout(ctx, routerWarmTimeout)
	defer warmCancel()
	if err := router.Warm(warmCtx); err != nil {
		logger.Warn("semantic router warm-up failed, every request will go through planning",
			slog.String("error", err.Error()),
		)
	}

	planner, err := llm.NewOllamaPlanner(cfg.Ollama.URL, cfg.Ollama.PlannerModel, logger)
	if err != nil {
		if db != nil {
			db.Close()
		}
		return nil, fmt.Errorf("planner backend: %w", err)
	}

	mem := memory.NewManager(db, cfg.ShortTermMax, logger)
	comm := llm.NewCommAgent(cfg.Comm.APIKey, cfg.Comm.Model, logger)
	risk := llm.NewRiskAgent(cfg.Risk.APIKey, cfg.Risk.Model, logger)
	logger.Info("cloud agents wired",
		slog.String("comm_backend", comm.Backend()),
		slog.String("risk_backend", risk.Backend()),
	)

	orchestrator, err := agent.New(agent.Deps{
		Config:       cfg,
		Registry:     reg,
		Executor:     executor.New(reg, logger),
		Planner:      planner,
		Router:       router,
		Communicator: comm,
		RiskAssessor: risk,
		Memory:       mem,
		Confirmer:    confirmer,
		Sink:         sink,
		Logger:       logger,
	})
	if err != nil {
		if db != nil {
			db.Close()
		}
		return nil, err
	}

	logger.Info("agent ready",
		slog.String("safety_mode", cfg.SafetyMode),
		slog.Int("tool_count", reg.Len()),
		slog.Bool("router_warmed", router.IsWarmed()),
		slog.Bool("persistence", db != nil),
	)

	return &app{
		cfg:             cfg,
		logger:          logger,
		registry:        reg,
		router:          router,
		agent:           orchestrator,
		db:              db,
		shutdownTracing: shutdownTracing,
	}, nil
}

// close releases storage and flushes telemetry.
func (a *app) close(ctx context.Context) {
	if a.db != nil {
		if err := a.db.Close(); err != nil {
			a.logger.Warn("BadgerDB close failed", slog.String("error", err.Error()))
		}
	}
	if err := a.shutdownTracing(ctx); err != nil {
		a.logger.Warn("tracing shutdown failed", slog.String("error", err.Error()))
	}
}
