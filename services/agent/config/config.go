// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package config loads the agent configuration: a YAML file layered under
// HOSTPILOT_* environment overrides, validated before use.
package config

import (
	"fmt"
	"os"
	"strconv"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"
)

// Safety modes. Safe prompts for every tool, semi-autonomous prompts for
// medium and high risk, autonomous never prompts.
const (
	SafetyModeSafe           = "safe"
	SafetyModeSemiAutonomous = "semi_autonomous"
	SafetyModeAutonomous     = "autonomous"
)

// Config is the full agent configuration.
type Config struct {
	// ConfidenceThreshold is the minimum blended plan score that skips
	// risk validation.
	ConfidenceThreshold float64 `yaml:"confidence_threshold" validate:"gte=0,lte=1"`

	// RouterThreshold is the minimum cosine similarity for the semantic
	// shortcut.
	RouterThreshold float64 `yaml:"router_threshold" validate:"gte=0,lte=1"`

	// SafetyMode selects the permission policy.
	SafetyMode string `yaml:"safety_mode" validate:"oneof=safe semi_autonomous autonomous"`

	// ShortTermMax bounds the in-session memory ring.
	ShortTermMax int `yaml:"short_term_max" validate:"gte=0"`

	// DataDir holds persistent state (BadgerDB). Empty disables persistence.
	DataDir string `yaml:"data_dir"`

	Ollama    OllamaConfig    `yaml:"ollama"`
	Comm      CloudConfig     `yaml:"comm"`
	Risk      CloudConfig     `yaml:"risk"`
	Server    ServerConfig    `yaml:"server"`
	Telemetry TelemetryConfig `yaml:"telemetry"`
}

// OllamaConfig locates the local model server.
type OllamaConfig struct {
	URL          string `yaml:"url"`
	PlannerModel string `yaml:"planner_model"`
	EmbedModel   string `yaml:"embed_model"`
}

// CloudConfig holds credentials for one cloud collaborator. An empty
// APIKey leaves the collaborator in fallback mode.
type CloudConfig struct {
	APIKey string `yaml:"api_key"`
	Model  string `yaml:"model"`
}

// ServerConfig configures the HTTP API.
type ServerConfig struct {
	Addr string `yaml:"addr"`
}

// TelemetryConfig configures tracing export.
type TelemetryConfig struct {
	// OTLPEndpoint is the gRPC collector address. Empty with Stdout false
	// disables export.
	OTLPEndpoint string `yaml:"otlp_endpoint"`

	// Stdout dumps spans to stdout, for development.
	Stdout bool `yaml:"stdout"`
}

var configValidator = validator.New()

// Default returns the configuration used when no file and no overrides
// are present.
func Default() *Config {
	return &Config{
		ConfidenceThreshold: 0.8,
		RouterThreshold:     0.47,
		SafetyMode:          SafetyModeSafe,
		ShortTermMax:        50,
		Ollama: OllamaConfig{
			URL:          "http://localhost:11434",
			PlannerModel: "qwen2.5:7b",
			EmbedModel:   "nomic-embed-text",
		},
		Comm:   CloudConfig{Model: "gpt-4o-mini"},
		Risk:   CloudConfig{Model: "gpt-4o-mini"},
		Server: ServerConfig{Addr: ":8090"},
	}
}

// Load builds the configuration: defaults, then the YAML file at path
// (skipped when path is empty or absent), then HOSTPILOT_* environment
// overrides, then validation.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		raw, err := os.ReadFile(path)
		switch {
		case os.IsNotExist(err):
			// Absent file is fine; defaults plus env apply.
		case err != nil:
			return nil, fmt.Errorf("read config %s: %w", path, err)
		default:
			if err := yaml.Unmarshal(raw, cfg); err != nil {
				return nil, fmt.Errorf("parse config %s: %w", path, err)
			}
		}
	}

	applyEnv(cfg)

	if err := configValidator.Struct(cfg); err != nil {
		return nil, fmt.Errorf("config validation: %w", err)
	}
	return cfg, nil
}

// applyEnv overlays HOSTPILOT_* environment variables.
func applyEnv(cfg *Config) {
	setString(&cfg.SafetyMode, "HOSTPILOT_SAFETY_MODE")
	setString(&cfg.DataDir, "HOSTPILOT_DATA_DIR")
	setString(&cfg.Ollama.URL, "HOSTPILOT_OLLAMA_URL")
	setString(&cfg.Ollama.PlannerModel, "HOSTPILOT_PLANNER_MODEL")
	setString(&cfg.Ollama.EmbedModel, "HOSTPILOT_EMBED_MODEL")
	setString(&cfg.Comm.APIKey, "HOSTPILOT_COMM_API_KEY")
	setString(&cfg.Comm.Model, "HOSTPILOT_COMM_MODEL")
	setString(&cfg.Risk.APIKey, "HOSTPILOT_RISK_API_KEY")
	setString(&cfg.Risk.Model, "HOSTPILOT_RISK_MODEL")
	setString(&cfg.Server.Addr, "HOSTPILOT_SERVER_ADDR")
	setString(&cfg.Telemetry.OTLPEndpoint, "HOSTPILOT_OTLP_ENDPOINT")
	setFloat(&cfg.ConfidenceThreshold, "HOSTPILOT_CONFIDENCE_THRESHOLD")
	setFloat(&cfg.RouterThreshold, "HOSTPILOT_ROUTER_THRESHOLD")
	setInt(&cfg.ShortTermMax, "HOSTPILOT_SHORT_TERM_MAX")
	setBool(&cfg.Telemetry.Stdout, "HOSTPILOT_TRACE_STDOUT")
}

func setString(dst *string, key string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

func setFloat(dst *float64, key string) {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			*dst = f
		}
	}
}

func setInt(dst *int, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			*dst = n
		}
	}
}

func setBool(dst *bool, key string) {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			*dst = b
		}
	}
}
