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
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/AleutianAI/hostpilot/services/agent"
	"github.com/AleutianAI/hostpilot/services/agent/display"
	"github.com/AleutianAI/hostpilot/services/agent/server"
)

// runRunCommand executes one request through the agent in the terminal.
func runRunCommand(_ *cobra.Command, args []string) {
	logger := newLogger()
	request := strings.Join(args, " ")

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	sink := display.NewConsoleSink(os.Stdout)
	confirmer := display.NewTerminalConfirmer(logger)

	a, err := buildApp(ctx, logger, sink, confirmer)
	if err != nil {
		log.Fatalf("startup failed: %v", err)
	}
	defer a.close(context.Background())

	ec := a.agent.Run(ctx, request)
	if ec.Failed() {
		os.Exit(1)
	}
}

// runServeCommand starts the HTTP server with the WebSocket event stream.
func runServeCommand(cmd *cobra.Command, _ []string) {
	logger := newLogger()

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	// The server frontend streams events over WebSocket and has no
	// interactive terminal, so deferred permissions are denied unless
	// the configured mode auto-allows them.
	hub := server.NewHub(logger)
	a, err := buildApp(ctx, logger, hub, nil)
	if err != nil {
		log.Fatalf("startup failed: %v", err)
	}
	defer a.close(context.Background())

	addr := a.cfg.Server.Addr
	if override, _ := cmd.Flags().GetString("addr"); override != "" {
		addr = override
	}

	handlers := server.NewHandlers(a.agent, a.registry, a.router, hub, version, logger)
	router := server.NewRouter(handlers, debugMode)

	srv := &http.Server{
		Addr:              addr,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		<-ctx.Done()
		logger.Info("shutting down server")
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer shutdownCancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			logger.Warn("server shutdown failed", slog.String("error", err.Error()))
		}
	}()

	logger.Info("starting agent server", slog.String("addr", addr))
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		log.Fatalf("server failed: %v", err)
	}
}

// runToolsCommand prints the registered tool catalog.
func runToolsCommand(_ *cobra.Command, _ []string) {
	logger := newLogger()

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	a, err := buildApp(ctx, logger, agent.NopSink{}, nil)
	if err != nil {
		log.Fatalf("startup failed: %v", err)
	}
	defer a.close(context.Background())

	fmt.Printf("%-24s %-8s %s\n", "TOOL", "RISK", "DESCRIPTION")
	for _, entry := range a.registry.Catalog() {
		desc := entry.Description
		if len(entry.RequiredParams) > 0 {
			desc += fmt.Sprintf(" (params: %s)", strings.Join(entry.RequiredParams, ", "))
		}
		fmt.Printf("%-24s %-8s %s\n", entry.Name, entry.Risk, desc)
	}
}

// runSimilarityCommand ranks router-eligible tools against a query.
func runSimilarityCommand(cmd *cobra.Command, args []string) {
	logger := newLogger()
	query := strings.Join(args, " ")
	topK, _ := cmd.Flags().GetInt("top")

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	a, err := buildApp(ctx, logger, agent.NopSink{}, nil)
	if err != nil {
		log.Fatalf("startup failed: %v", err)
	}
	defer a.close(context.Background())

	scores := a.router.Scores(ctx, query, topK)
	if scores == nil {
		log.Fatal("router index is cold; is the embedding backend reachable?")
	}

	fmt.Printf("Query: %s\n\n", query)
	for i, s := range scores {
		marker := " "
		if s.Score >= a.cfg.RouterThreshold {
			marker = "*"
		}
		fmt.Printf("%s %d. %-24s %.4f\n", marker, i+1, s.ToolName, s.Score)
	}
	fmt.Printf("\n(* above routing threshold %.2f)\n", a.cfg.RouterThreshold)
}
