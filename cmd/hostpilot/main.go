// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Command hostpilot runs the host automation agent.
//
// Usage:
//
//	hostpilot run "check the system status"
//	hostpilot run --mode autonomous "organize my downloads folder"
//	hostpilot serve --addr :8090
//	hostpilot tools
//	hostpilot similarity "how busy is the cpu"
//
// Configuration is read from hostpilot.yaml (or --config) with
// HOSTPILOT_* environment variables taking precedence.
package main

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"
)

const version = "0.3.0"

// Flag values shared across subcommands.
var (
	configPath string
	safetyMode string
	debugMode  bool
)

func main() {
	rootCmd := &cobra.Command{
		Use:     "hostpilot",
		Short:   "Host automation agent with planned, permission-gated tool execution",
		Version: version,
	}
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "hostpilot.yaml", "Path to the config file")
	rootCmd.PersistentFlags().StringVar(&safetyMode, "mode", "", "Safety mode override: safe, semi_autonomous, autonomous")
	rootCmd.PersistentFlags().BoolVar(&debugMode, "debug", false, "Enable debug logging")

	runCmd := &cobra.Command{
		Use:   "run [request]",
		Short: "Run one request through the agent and print the outcome",
		Args:  cobra.MinimumNArgs(1),
		Run:   runRunCommand,
	}

	serveCmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the agent HTTP server",
		Run:   runServeCommand,
	}
	serveCmd.Flags().String("addr", "", "Listen address override (e.g. :8090)")

	toolsCmd := &cobra.Command{
		Use:   "tools",
		Short: "List the registered tools with risk tiers",
		Run:   runToolsCommand,
	}

	similarityCmd := &cobra.Command{
		Use:   "similarity [query]",
		Short: "Show semantic router scores for a query",
		Args:  cobra.MinimumNArgs(1),
		Run:   runSimilarityCommand,
	}
	similarityCmd.Flags().Int("top", 5, "Number of tools to rank")

	rootCmd.AddCommand(runCmd, serveCmd, toolsCmd, similarityCmd)

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// newLogger builds the process logger honoring --debug.
func newLogger() *slog.Logger {
	level := slog.LevelInfo
	if debugMode {
		level = slog.LevelDebug
	}
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
}
