// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// agent_store_dump inspects the hostpilot agent's BadgerDB data directory.
//
// The agent persists two kinds of state between restarts: the semantic
// router's tool embedding vectors, and the long-term memory documents
// (curated safety rules and promoted success patterns). This tool opens
// the store read-only and prints a human-readable summary of both:
// embedding corpus hashes, TTL remaining, per-tool vector dimensions and
// L2 norms, the stored safety rules, and the promoted patterns.
//
// Usage:
//
//	agent_store_dump [--path /path/to/data/dir]
//
// If --path is not given, reads HOSTPILOT_DATA_DIR from the environment.
//
// Exit codes:
//
//	0: success (including "empty store", which prints a message)
//	1: error opening or reading the database
package main

import (
	"bytes"
	"encoding/gob"
	"encoding/json"
	"flag"
	"fmt"
	"math"
	"os"
	"sort"
	"strings"
	"time"

	dgbadger "github.com/dgraph-io/badger/v4"
)

// Key layout. Must match the routing store and the memory package exactly.
const (
	embeddingKeyPrefix = "routing/emb/v1/"
	safetyRulesKey     = "memory/rules/v1"
	patternsKey        = "memory/patterns/v1"
)

func main() {
	pathFlag := flag.String("path", "", "Path to the agent data directory (overrides HOSTPILOT_DATA_DIR)")
	flag.Parse()

	dbPath := *pathFlag
	if dbPath == "" {
		dbPath = os.Getenv("HOSTPILOT_DATA_DIR")
	}
	if dbPath == "" {
		fatalf("no data directory: pass --path or set HOSTPILOT_DATA_DIR")
	}

	fmt.Printf("Agent data directory: %s\n", dbPath)

	// Check existence before opening. BadgerDB buries "no such file or
	// directory" in a long error; this message is clearer.
	if _, err := os.Stat(dbPath); os.IsNotExist(err) {
		fmt.Println("Data directory does not exist. The agent has not persisted any state yet.")
		fmt.Println("Run the agent with data_dir set (or HOSTPILOT_DATA_DIR) to populate it.")
		return
	}

	opts := dgbadger.DefaultOptions(dbPath).
		WithLogger(nil).
		WithReadOnly(true)

	db, err := dgbadger.Open(opts)
	if err != nil {
		fatalf("open BadgerDB at %s: %v", dbPath, err)
	}
	defer func() { _ = db.Close() }()

	found := dumpEmbeddings(db)
	found = dumpMemory(db) || found

	if !found {
		fmt.Println("\nStore is empty: no embedding cache entries and no memory documents.")
		fmt.Println("The router warm-up has not completed, or the agent has not finished a request yet.")
	}
}

// =============================================================================
// Embedding Cache
// =============================================================================

// embeddingEntry is one cached corpus under the routing prefix.
type embeddingEntry struct {
	key        string
	corpusHash string
	expiresAt  time.Time
	hasExpiry  bool
	vectors    map[string][]float32
	rawSize    int
	decodeErr  error
}

// dumpEmbeddings prints every cached embedding corpus and reports whether
// any entry was found.
func dumpEmbeddings(db *dgbadger.DB) bool {
	var entries []embeddingEntry

	err := db.View(func(txn *dgbadger.Txn) error {
		iterOpts := dgbadger.DefaultIteratorOptions
		iterOpts.PrefetchValues = true
		it := txn.NewIterator(iterOpts)
		defer it.Close()

		prefix := []byte(embeddingKeyPrefix)
		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			item := it.Item()
			key := string(item.Key())

			e := embeddingEntry{
				key:        key,
				corpusHash: strings.TrimPrefix(key, embeddingKeyPrefix),
			}

			// item.ExpiresAt() is Unix seconds, 0 = no expiry.
			if expiresAt := item.ExpiresAt(); expiresAt > 0 {
				e.hasExpiry = true
				e.expiresAt = time.Unix(int64(expiresAt), 0)
			}

			raw, err := item.ValueCopy(nil)
			if err != nil {
				e.decodeErr = fmt.Errorf("copy value: %w", err)
				entries = append(entries, e)
				continue
			}
			e.rawSize = len(raw)

			if err := gob.NewDecoder(bytes.NewReader(raw)).Decode(&e.vectors); err != nil {
				e.decodeErr = fmt.Errorf("gob decode: %w", err)
			}
			entries = append(entries, e)
		}
		return nil
	})
	if err != nil {
		fatalf("read embedding cache: %v", err)
	}

	if len(entries) == 0 {
		return false
	}

	fmt.Printf("\nEmbedding cache: %d entr%s\n", len(entries), plural(len(entries), "y", "ies"))
	fmt.Println(strings.Repeat("─", 80))

	for i, e := range entries {
		fmt.Printf("\n[%d] Key:         %s\n", i+1, e.key)
		fmt.Printf("    Corpus hash: %s\n", e.corpusHash)

		if e.hasExpiry {
			remaining := time.Until(e.expiresAt)
			if remaining < 0 {
				fmt.Printf("    TTL:         EXPIRED (%s ago)\n", (-remaining).Round(time.Second))
			} else {
				fmt.Printf("    TTL:         %s remaining (expires %s)\n",
					remaining.Round(time.Second),
					e.expiresAt.Format("2006-01-02 15:04:05 MST"),
				)
			}
		} else {
			fmt.Printf("    TTL:         no expiry set\n")
		}

		fmt.Printf("    Raw size:    %s\n", formatBytes(e.rawSize))

		if e.decodeErr != nil {
			fmt.Printf("    DECODE ERROR: %v\n", e.decodeErr)
			continue
		}

		fmt.Printf("    Tools:       %d vectors\n", len(e.vectors))
		printVectorTable(e.vectors)
	}
	return true
}

// printVectorTable prints per-tool vector stats in sorted order.
func printVectorTable(vectors map[string][]float32) {
	toolNames := make([]string, 0, len(vectors))
	colWidth := len("Tool")
	for name := range vectors {
		toolNames = append(toolNames, name)
		if len(name) > colWidth {
			colWidth = len(name)
		}
	}
	sort.Strings(toolNames)
	colWidth += 2

	fmt.Printf("\n    %-*s  %5s  %7s  %s\n", colWidth, "Tool", "Dims", "L2Norm", "Sample (first 4 values)")
	fmt.Printf("    %s  %s  %s  %s\n",
		strings.Repeat("─", colWidth),
		strings.Repeat("─", 5),
		strings.Repeat("─", 7),
		strings.Repeat("─", 40),
	)

	for _, name := range toolNames {
		vec := vectors[name]
		fmt.Printf("    %-*s  %5d  %7.4f  %s\n", colWidth, name, len(vec), l2Norm(vec), formatSample(vec, 4))
	}
}

// =============================================================================
// Long-Term Memory
// =============================================================================

// pattern mirrors the memory package's promoted-pattern document.
type pattern struct {
	Added   time.Time      `json:"added"`
	Query   string         `json:"query,omitempty"`
	Summary string         `json:"summary,omitempty"`
	Detail  map[string]any `json:"detail,omitempty"`
}

// dumpMemory prints the persisted safety rules and success patterns and
// reports whether either document exists.
func dumpMemory(db *dgbadger.DB) bool {
	var rules []string
	var patterns []pattern

	err := db.View(func(txn *dgbadger.Txn) error {
		if raw, ok := readKey(txn, safetyRulesKey); ok {
			if err := json.Unmarshal(raw, &rules); err != nil {
				return fmt.Errorf("decode %s: %w", safetyRulesKey, err)
			}
		}
		if raw, ok := readKey(txn, patternsKey); ok {
			if err := json.Unmarshal(raw, &patterns); err != nil {
				return fmt.Errorf("decode %s: %w", patternsKey, err)
			}
		}
		return nil
	})
	if err != nil {
		fatalf("read memory documents: %v", err)
	}

	if len(rules) == 0 && len(patterns) == 0 {
		return false
	}

	fmt.Printf("\nLong-term memory\n")
	fmt.Println(strings.Repeat("─", 80))

	if len(rules) > 0 {
		fmt.Printf("\nSafety rules (%d):\n", len(rules))
		for i, r := range rules {
			fmt.Printf("  %d. %s\n", i+1, r)
		}
	}

	if len(patterns) > 0 {
		fmt.Printf("\nSuccess patterns (%d):\n", len(patterns))
		for i, p := range patterns {
			fmt.Printf("  %d. [%s] %s\n", i+1, p.Added.Format("2006-01-02 15:04"), p.Query)
			if p.Summary != "" {
				fmt.Printf("     %s\n", p.Summary)
			}
		}
	}
	return true
}

// readKey fetches one key's value, reporting whether it exists.
func readKey(txn *dgbadger.Txn, key string) ([]byte, bool) {
	item, err := txn.Get([]byte(key))
	if err != nil {
		return nil, false
	}
	raw, err := item.ValueCopy(nil)
	if err != nil {
		return nil, false
	}
	return raw, true
}

// =============================================================================
// Formatting
// =============================================================================

// l2Norm computes the L2 norm of a vector. Unit-normalized vectors show
// as approximately 1.0000.
func l2Norm(v []float32) float64 {
	var sum float64
	for _, x := range v {
		sum += float64(x) * float64(x)
	}
	return math.Sqrt(sum)
}

// formatSample returns the first n values of a vector as a bracketed string.
func formatSample(v []float32, n int) string {
	if len(v) == 0 {
		return "[]"
	}
	if n > len(v) {
		n = len(v)
	}
	parts := make([]string, n)
	for i := 0; i < n; i++ {
		parts[i] = fmt.Sprintf("%+.4f", v[i])
	}
	suffix := ""
	if len(v) > n {
		suffix = " ..."
	}
	return "[" + strings.Join(parts, ", ") + suffix + "]"
}

// formatBytes formats a byte count as a human-readable string.
func formatBytes(n int) string {
	switch {
	case n >= 1024*1024:
		return fmt.Sprintf("%.1f MB (%d bytes)", float64(n)/1024/1024, n)
	case n >= 1024:
		return fmt.Sprintf("%.1f KB (%d bytes)", float64(n)/1024, n)
	default:
		return fmt.Sprintf("%d bytes", n)
	}
}

// plural returns the singular or plural suffix based on count.
func plural(n int, singular, pluralSuffix string) string {
	if n == 1 {
		return singular
	}
	return pluralSuffix
}

// fatalf prints to stderr and exits 1.
func fatalf(format string, args ...any) {
	fmt.Fprintf(os.Stderr, "agent_store_dump: "+format+"\n", args...)
	os.Exit(1)
}
