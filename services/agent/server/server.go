// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package server exposes the agent over HTTP: request execution, status,
// the tool catalog, semantic similarity inspection, a WebSocket event
// stream, and Prometheus metrics.
package server

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"

	"github.com/AleutianAI/hostpilot/services/agent"
	"github.com/AleutianAI/hostpilot/services/agent/registry"
	"github.com/AleutianAI/hostpilot/services/agent/routing"
)

// SimilarityScorer is the routing surface the inspection endpoint needs.
type SimilarityScorer interface {
	Scores(ctx context.Context, query string, topK int) []routing.ToolScore
	IsWarmed() bool
}

// Handlers carries the wired collaborators for the HTTP surface.
//
// # Thread Safety
//
// Safe for concurrent use. The orchestrator serializes execution
// internally; concurrent /execute requests queue on its run lock.
type Handlers struct {
	orchestrator *agent.Orchestrator
	registry     *registry.Registry
	scorer       SimilarityScorer // nil: similarity endpoint reports unavailable
	hub          *Hub
	version      string
	logger       *slog.Logger
}

// NewHandlers wires the HTTP handlers. scorer may be nil when the
// semantic router is disabled.
func NewHandlers(o *agent.Orchestrator, reg *registry.Registry, scorer SimilarityScorer, hub *Hub, version string, logger *slog.Logger) *Handlers {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handlers{
		orchestrator: o,
		registry:     reg,
		scorer:       scorer,
		hub:          hub,
		version:      version,
		logger:       logger,
	}
}

// NewRouter builds the gin engine with recovery, tracing middleware, and
// all routes registered under /v1/agent.
func NewRouter(h *Handlers, debug bool) *gin.Engine {
	if debug {
		gin.SetMode(gin.DebugMode)
	} else {
		gin.SetMode(gin.ReleaseMode)
	}

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(otelgin.Middleware("hostpilot-agent"))
	if debug {
		router.Use(gin.Logger())
	}

	v1 := router.Group("/v1")
	RegisterRoutes(v1, h)
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))
	return router
}

// RegisterRoutes attaches the agent endpoints to the /v1 group.
func RegisterRoutes(v1 *gin.RouterGroup, h *Handlers) {
	g := v1.Group("/agent")
	g.GET("/health", h.Health)
	g.GET("/status", h.Status)
	g.GET("/tools", h.Tools)
	g.POST("/similarity", h.Similarity)
	g.POST("/execute", h.Execute)
	g.GET("/events", h.Events)
}

// Health reports liveness.
func (h *Handlers) Health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":  "ok",
		"version": h.version,
	})
}

// Status reports the FSM state and deployment posture.
func (h *Handlers) Status(c *gin.Context) {
	routerWarmed := false
	if h.scorer != nil {
		routerWarmed = h.scorer.IsWarmed()
	}
	c.JSON(http.StatusOK, gin.H{
		"state":         h.orchestrator.State().String(),
		"safety_mode":   h.orchestrator.Policy().Mode(),
		"tool_count":    h.registry.Len(),
		"router_warmed": routerWarmed,
	})
}

// Tools returns the registered tool catalog.
func (h *Handlers) Tools(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"tools": h.registry.Catalog()})
}

// similarityRequest is the /similarity request body.
type similarityRequest struct {
	Query string `json:"query" binding:"required"`
	TopK  int    `json:"top_k"`
}

// Similarity ranks router-eligible tools against a query. Inspection
// only; it never triggers execution.
func (h *Handlers) Similarity(c *gin.Context) {
	if h.scorer == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "semantic router is disabled"})
		return
	}

	var req similarityRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if req.TopK <= 0 {
		req.TopK = 5
	}

	scores := h.scorer.Scores(c.Request.Context(), req.Query, req.TopK)
	if scores == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "router index is cold"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"query": req.Query, "scores": scores})
}

// executeRequest is the /execute request body.
type executeRequest struct {
	Request string `json:"request" binding:"required"`
}

// Execute runs one request through the full agent cycle and returns the
// completed execution context. Runs are serialized; a long-running
// request queues later callers.
func (h *Handlers) Execute(c *gin.Context) {
	var req executeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	ec := h.orchestrator.Run(c.Request.Context(), req.Request)

	status := http.StatusOK
	if ec.Failed() {
		status = http.StatusUnprocessableEntity
	}
	c.JSON(status, gin.H{
		"request_id": ec.RequestID,
		"failed":     ec.Failed(),
		"error":      ec.ErrorMessage(),
		"confidence": ec.Confidence,
		"shortcut":   ec.RouterShortcut,
		"results":    ec.Results,
		"summary":    ec.Summary,
	})
}

// Events upgrades to a WebSocket and streams run events until the
// client disconnects.
func (h *Handlers) Events(c *gin.Context) {
	if h.hub == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "event streaming is disabled"})
		return
	}
	h.hub.ServeWS(c)
}
