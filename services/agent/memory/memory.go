// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package memory holds the agent's two memory tiers: a bounded in-session
// ring of recent events, and a persistent store of curated safety rules
// and promoted success patterns.
package memory

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	dgbadger "github.com/dgraph-io/badger/v4"
	"github.com/google/uuid"

	badgerstore "github.com/AleutianAI/hostpilot/services/storage/badger"
)

// DefaultShortTermMax bounds the in-session ring. Oldest entries are
// evicted first.
const DefaultShortTermMax = 50

// Entry categories.
const (
	CategoryExecution = "execution"
	CategoryError     = "error"
	CategoryPattern   = "success_pattern"
)

// Badger keys for the persistent tier. Versioned for format changes.
const (
	safetyRulesKey = "memory/rules/v1"
	patternsKey    = "memory/patterns/v1"
)

// defaultSafetyRules seed the persistent tier before any curation.
var defaultSafetyRules = []string{
	"Never delete system files without explicit backup",
	"Always create a restore point before configuration changes",
	"Halt execution if elevated rights are required but not granted",
	"Do not modify network settings without user confirmation",
}

// Entry is a single short-term memory record.
type Entry struct {
	ID        string         `json:"id"`
	Timestamp time.Time      `json:"timestamp"`
	Category  string         `json:"category"`
	Content   map[string]any `json:"content"`
	Tags      []string       `json:"tags,omitempty"`
}

// Pattern is a promoted success pattern in the persistent tier.
type Pattern struct {
	Added   time.Time      `json:"added"`
	Query   string         `json:"query,omitempty"`
	Summary string         `json:"summary,omitempty"`
	Detail  map[string]any `json:"detail,omitempty"`
}

// PlannerContext is the memory digest handed to the plan generator.
type PlannerContext struct {
	RecentExecutions []map[string]any `json:"recent_executions"`
	SafetyRules      []string         `json:"safety_rules"`
	KnownPatterns    []Pattern        `json:"known_patterns"`
}

// =============================================================================
// Short-Term Memory
// =============================================================================

// ShortTerm is the bounded in-session ring. Cleared when the session ends.
//
// # Thread Safety
//
// Safe for concurrent use.
type ShortTerm struct {
	mu      sync.Mutex
	max     int
	entries []Entry
}

// NewShortTerm creates a ring holding at most max entries.
// max <= 0 uses DefaultShortTermMax.
func NewShortTerm(max int) *ShortTerm {
	if max <= 0 {
		max = DefaultShortTermMax
	}
	return &ShortTerm{max: max}
}

// Add appends an entry, evicting the oldest when over capacity.
func (s *ShortTerm) Add(category string, content map[string]any, tags ...string) Entry {
	e := Entry{
		ID:        uuid.NewString(),
		Timestamp: time.Now(),
		Category:  category,
		Content:   content,
		Tags:      tags,
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries = append(s.entries, e)
	if len(s.entries) > s.max {
		s.entries = s.entries[len(s.entries)-s.max:]
	}
	return e
}

// Recent returns the n most recent entries, oldest first.
func (s *ShortTerm) Recent(n int) []Entry {
	s.mu.Lock()
	defer s.mu.Unlock()
	if n <= 0 || n > len(s.entries) {
		n = len(s.entries)
	}
	out := make([]Entry, n)
	copy(out, s.entries[len(s.entries)-n:])
	return out
}

// ByCategory returns all entries with the given category, oldest first.
func (s *ShortTerm) ByCategory(category string) []Entry {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []Entry
	for _, e := range s.entries {
		if e.Category == category {
			out = append(out, e)
		}
	}
	return out
}

// Len returns the current entry count.
func (s *ShortTerm) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.entries)
}

// Clear drops all entries.
func (s *ShortTerm) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries = nil
}

// =============================================================================
// Long-Term Memory
// =============================================================================

// LongTerm is the persistent tier: curated safety rules and promoted
// success patterns, stored as JSON documents in BadgerDB.
//
// A nil DB degrades to in-memory operation; rules and patterns survive
// only the process lifetime. Correct for tests and stateless deployments.
//
// # Thread Safety
//
// Safe for concurrent use.
type LongTerm struct {
	mu     sync.Mutex
	db     *badgerstore.DB // nil = in-memory only
	logger *slog.Logger

	// In-memory fallback state, used only when db is nil.
	memRules    []string
	memPatterns []Pattern
}

// NewLongTerm creates the persistent tier over db. db may be nil.
func NewLongTerm(db *badgerstore.DB, logger *slog.Logger) *LongTerm {
	if logger == nil {
		logger = slog.Default()
	}
	return &LongTerm{db: db, logger: logger}
}

// SafetyRules returns the curated rules, falling back to the defaults
// when nothing has been stored yet. Storage failures also fall back to
// the defaults: a degraded memory must never block planning.
func (l *LongTerm) SafetyRules(ctx context.Context) []string {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.db == nil {
		if len(l.memRules) > 0 {
			return append([]string(nil), l.memRules...)
		}
		return append([]string(nil), defaultSafetyRules...)
	}

	var rules []string
	if err := l.load(ctx, safetyRulesKey, &rules); err != nil {
		l.logger.Warn("long-term memory: load safety rules", slog.String("error", err.Error()))
	}
	if len(rules) == 0 {
		return append([]string(nil), defaultSafetyRules...)
	}
	return rules
}

// AddSafetyRule appends a human-curated rule, deduplicating exact matches.
func (l *LongTerm) AddSafetyRule(ctx context.Context, rule string) error {
	if rule == "" {
		return errors.New("safety rule must not be empty")
	}

	rules := l.SafetyRules(ctx)
	for _, r := range rules {
		if r == rule {
			return nil
		}
	}
	rules = append(rules, rule)

	l.mu.Lock()
	defer l.mu.Unlock()
	if l.db == nil {
		l.memRules = rules
		return nil
	}
	if err := l.save(ctx, safetyRulesKey, rules); err != nil {
		return fmt.Errorf("store safety rule: %w", err)
	}
	l.logger.Info("added safety rule", slog.String("rule", rule))
	return nil
}

// SuccessPatterns returns all promoted patterns, oldest first.
// Storage failures return an empty slice.
func (l *LongTerm) SuccessPatterns(ctx context.Context) []Pattern {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.db == nil {
		return append([]Pattern(nil), l.memPatterns...)
	}

	var patterns []Pattern
	if err := l.load(ctx, patternsKey, &patterns); err != nil {
		l.logger.Warn("long-term memory: load patterns", slog.String("error", err.Error()))
		return nil
	}
	return patterns
}

// PromotePattern appends a success pattern, stamping it with the
// promotion time.
func (l *LongTerm) PromotePattern(ctx context.Context, p Pattern) error {
	p.Added = time.Now()

	patterns := l.SuccessPatterns(ctx)
	patterns = append(patterns, p)

	l.mu.Lock()
	defer l.mu.Unlock()
	if l.db == nil {
		l.memPatterns = patterns
		return nil
	}
	if err := l.save(ctx, patternsKey, patterns); err != nil {
		return fmt.Errorf("promote pattern: %w", err)
	}
	l.logger.Info("promoted pattern to long-term memory", slog.String("query", p.Query))
	return nil
}

// load decodes the JSON document at key into out. A missing key leaves
// out untouched and returns nil.
func (l *LongTerm) load(ctx context.Context, key string, out any) error {
	return l.db.WithReadTxn(ctx, func(txn *dgbadger.Txn) error {
		item, err := txn.Get([]byte(key))
		if errors.Is(err, dgbadger.ErrKeyNotFound) {
			return nil
		}
		if err != nil {
			return fmt.Errorf("get %s: %w", key, err)
		}
		raw, err := item.ValueCopy(nil)
		if err != nil {
			return fmt.Errorf("copy %s: %w", key, err)
		}
		if err := json.Unmarshal(raw, out); err != nil {
			return fmt.Errorf("decode %s: %w", key, err)
		}
		return nil
	})
}

// save encodes v as JSON and writes it at key.
func (l *LongTerm) save(ctx context.Context, key string, v any) error {
	raw, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("encode %s: %w", key, err)
	}
	return l.db.WithTxn(ctx, func(txn *dgbadger.Txn) error {
		return txn.Set([]byte(key), raw)
	})
}

// =============================================================================
// Manager
// =============================================================================

// Manager is the unified interface over both tiers.
//
// # Thread Safety
//
// Safe for concurrent use.
type Manager struct {
	shortTerm *ShortTerm
	longTerm  *LongTerm
}

// NewManager wires both tiers. db may be nil for in-memory operation.
func NewManager(db *badgerstore.DB, shortTermMax int, logger *slog.Logger) *Manager {
	return &Manager{
		shortTerm: NewShortTerm(shortTermMax),
		longTerm:  NewLongTerm(db, logger),
	}
}

// ShortTerm exposes the in-session ring.
func (m *Manager) ShortTerm() *ShortTerm { return m.shortTerm }

// LongTerm exposes the persistent tier.
func (m *Manager) LongTerm() *LongTerm { return m.longTerm }

// StoreExecutionResult records one request's outcome in the session ring.
func (m *Manager) StoreExecutionResult(result map[string]any) {
	m.shortTerm.Add(CategoryExecution, result)
}

// ContextForPlanner builds the memory digest sent to the plan generator:
// the five most recent executions, the curated safety rules, and the five
// most recently promoted patterns.
func (m *Manager) ContextForPlanner(ctx context.Context) PlannerContext {
	recent := m.shortTerm.Recent(5)
	executions := make([]map[string]any, 0, len(recent))
	for _, e := range recent {
		executions = append(executions, e.Content)
	}

	patterns := m.longTerm.SuccessPatterns(ctx)
	if len(patterns) > 5 {
		patterns = patterns[len(patterns)-5:]
	}

	return PlannerContext{
		RecentExecutions: executions,
		SafetyRules:      m.longTerm.SafetyRules(ctx),
		KnownPatterns:    patterns,
	}
}
