// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package registry provides the tool registry: an explicitly constructed,
// append-then-freeze table mapping stable tool names to capability-tagged
// callables. The executor can only dispatch tools registered here.
package registry

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"
)

// =============================================================================
// Risk Tiers
// =============================================================================

// RiskTier is a tool's declared potential for harm, used to gate execution.
type RiskTier int

const (
	// RiskSafe marks read-only tools with no side effects.
	RiskSafe RiskTier = iota

	// RiskMedium marks tools making reversible changes.
	RiskMedium

	// RiskHigh marks destructive or system-altering tools.
	RiskHigh
)

// String returns the lowercase wire name of the tier.
func (r RiskTier) String() string {
	switch r {
	case RiskSafe:
		return "safe"
	case RiskMedium:
		return "medium"
	case RiskHigh:
		return "high"
	default:
		return fmt.Sprintf("risk(%d)", int(r))
	}
}

// ParseRiskTier converts a wire name back into a tier.
// Unknown names map to RiskHigh: an unrecognized tier must never
// weaken the permission gate.
func ParseRiskTier(s string) RiskTier {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "safe":
		return RiskSafe
	case "medium":
		return RiskMedium
	case "high":
		return RiskHigh
	default:
		return RiskHigh
	}
}

// =============================================================================
// Tool Descriptor
// =============================================================================

// ToolFunc is the callable contract for a registered tool. It accepts a
// keyword argument bag and returns a result value or an error. Tools with
// long-running or I/O-bound implementations are responsible for their own
// internal timeouts; the executor passes the run context through.
type ToolFunc func(ctx context.Context, args map[string]any) (any, error)

// Descriptor is the immutable metadata for one registered tool.
//
// # Description
//
// Name is the globally unique registry key. Description, Aliases, and
// SampleQueries are free-text metadata consumed by the semantic router's
// embedding index and by the planner's prompt. RequiredParams is advisory
// to prompt construction; the executor does not independently enforce it
// beyond what the callable itself returns on missing arguments.
//
// # Thread Safety
//
// Descriptors are registered once at process start and never mutated;
// they are safe for concurrent read access.
type Descriptor struct {
	// Name is the stable, globally unique tool identifier (e.g. "sys.get_info").
	Name string

	// Description is the human/model-facing summary of what the tool does.
	Description string

	// Risk is the declared risk tier.
	Risk RiskTier

	// RequiredParams lists argument names the tool needs to operate.
	RequiredParams []string

	// Aliases are alternative phrasings used for semantic matching.
	Aliases []string

	// SampleQueries are example user requests this tool answers.
	SampleQueries []string

	// Run is the callable handle. Must not be nil at registration.
	Run ToolFunc
}

// CatalogEntry is the JSON-friendly projection of a Descriptor handed to
// the planner prompt and to API clients. The callable is omitted.
type CatalogEntry struct {
	Name           string   `json:"name"`
	Description    string   `json:"description"`
	Risk           string   `json:"risk"`
	RequiredParams []string `json:"params"`
	Aliases        []string `json:"aliases,omitempty"`
	SampleQueries  []string `json:"samples,omitempty"`
}

// =============================================================================
// Registry
// =============================================================================

// Registry is the shared, read-mostly tool table.
//
// # Description
//
// Registration happens during startup via Register and is sealed with
// Freeze; after freezing, the table is immutable and safe to share
// read-only across requests. Lookup misses are signaled via the boolean
// return, never via panic or error; callers decide how to react.
//
// # Thread Safety
//
// Safe for concurrent use. Registration and freezing are expected to
// happen before the first concurrent reader, but the mutex makes
// violations safe rather than silently racy.
type Registry struct {
	mu     sync.RWMutex
	tools  map[string]Descriptor
	frozen bool
	logger *slog.Logger
}

// New creates an empty, unfrozen registry.
func New(logger *slog.Logger) *Registry {
	if logger == nil {
		logger = slog.Default()
	}
	return &Registry{
		tools:  make(map[string]Descriptor),
		logger: logger,
	}
}

// Register adds a tool descriptor to the table.
//
// # Description
//
// Returns an error on duplicate names, missing callables, or after
// Freeze has been called. Registration order is statically inspectable:
// startup code calls Register in a plain sequence rather than relying on
// import side effects.
//
// # Inputs
//
//   - d: The descriptor to register. Name and Run must be set.
//
// # Outputs
//
//   - error: Non-nil on duplicate name, nil callable, empty name, or a
//     frozen registry.
func (r *Registry) Register(d Descriptor) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.frozen {
		return fmt.Errorf("register %q: registry is frozen", d.Name)
	}
	if d.Name == "" {
		return fmt.Errorf("register: tool name must not be empty")
	}
	if d.Run == nil {
		return fmt.Errorf("register %q: callable must not be nil", d.Name)
	}
	if _, exists := r.tools[d.Name]; exists {
		return fmt.Errorf("register %q: duplicate tool name", d.Name)
	}

	r.tools[d.Name] = d
	r.logger.Debug("registered tool",
		slog.String("tool", d.Name),
		slog.String("risk", d.Risk.String()),
	)
	return nil
}

// Freeze seals the registry. Further Register calls fail.
//
// Call once after startup registration completes; the table is then
// safely shared read-only across requests.
func (r *Registry) Freeze() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.frozen = true
	r.logger.Info("tool registry frozen", slog.Int("tool_count", len(r.tools)))
}

// Get returns the descriptor for name, and whether it exists.
// Lookup misses never panic; callers decide how to react.
func (r *Registry) Get(name string) (Descriptor, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	d, ok := r.tools[name]
	return d, ok
}

// Has reports whether name is registered.
func (r *Registry) Has(name string) bool {
	_, ok := r.Get(name)
	return ok
}

// Len returns the number of registered tools.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.tools)
}

// List returns a name-sorted snapshot of all descriptors.
//
// The snapshot is a copy; mutating it does not affect the registry.
func (r *Registry) List() []Descriptor {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]Descriptor, 0, len(r.tools))
	for _, d := range r.tools {
		out = append(out, d)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// Catalog returns the JSON-friendly projection of List for planner
// prompts and API responses.
func (r *Registry) Catalog() []CatalogEntry {
	descriptors := r.List()
	out := make([]CatalogEntry, 0, len(descriptors))
	for _, d := range descriptors {
		out = append(out, CatalogEntry{
			Name:           d.Name,
			Description:    d.Description,
			Risk:           d.Risk.String(),
			RequiredParams: append([]string(nil), d.RequiredParams...),
			Aliases:        append([]string(nil), d.Aliases...),
			SampleQueries:  append([]string(nil), d.SampleQueries...),
		})
	}
	return out
}

// SafeZeroArg returns the subset of tools eligible for the semantic
// router shortcut: RiskSafe tools with no required parameters.
func (r *Registry) SafeZeroArg() []Descriptor {
	descriptors := r.List()
	out := make([]Descriptor, 0, len(descriptors))
	for _, d := range descriptors {
		if d.Risk == RiskSafe && len(d.RequiredParams) == 0 {
			out = append(out, d)
		}
	}
	return out
}
