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

// =============================================================================
// Embedding Persistence
// =============================================================================
//
// Tool embedding vectors are expensive to compute but change only when the
// registry or the embedding model changes. This store persists them in
// BadgerDB between service restarts.
//
// Storage layout:
//
//	routing/emb/v1/{corpusHash}  →  gob-encoded map[string][]float32
//	                                 (tool name → unit-normalized vector)
//	                                 TTL: 7 days

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/gob"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"time"

	dgbadger "github.com/dgraph-io/badger/v4"

	"github.com/AleutianAI/hostpilot/services/agent/registry"
	badgerstore "github.com/AleutianAI/hostpilot/services/storage/badger"
)

// embeddingStoreDefaultTTL is the default lifetime of a cached entry.
// 7 days is long enough to survive weekends and short deployments without
// accumulating stale data indefinitely.
const embeddingStoreDefaultTTL = 7 * 24 * time.Hour

// embeddingKeyPrefix is prepended to the corpus hash to form the BadgerDB
// key. Versioned (v1) to allow future format changes without collision.
const embeddingKeyPrefix = "routing/emb/v1/"

// errCacheMiss distinguishes "key not found" (a normal miss) from a genuine
// storage error in LoadEmbeddings.
var errCacheMiss = errors.New("cache miss")

// EmbeddingStore persists tool embedding vectors across service restarts.
//
// # Description
//
// Keyed by corpus hash: a SHA256 digest of all eligible tool documents plus
// the embedding model name. Any change to the registry or model produces a
// different hash, so the previous entry becomes unreachable and expires via
// TTL without explicit invalidation.
//
// The router checks for a nil EmbeddingStore and skips persistence,
// operating in in-memory-only mode. That is the correct behavior for tests
// and for deployments without a cache directory configured.
//
// # Thread Safety
//
// Implementations must be safe for concurrent use.
type EmbeddingStore interface {
	// LoadEmbeddings retrieves cached unit-normalized tool vectors for the
	// given corpus hash. Returns (nil, nil) on cache miss (key absent or
	// TTL expired), (nil, error) on storage failure.
	LoadEmbeddings(ctx context.Context, corpusHash string) (map[string][]float32, error)

	// SaveEmbeddings persists unit-normalized tool vectors for the given
	// corpus hash with the store's TTL. Persistence failure is non-fatal
	// to callers; vectors are recomputed on the next restart.
	SaveEmbeddings(ctx context.Context, corpusHash string, vectors map[string][]float32) error
}

// BadgerEmbeddingStore implements EmbeddingStore backed by the shared
// BadgerDB instance. The DB is opened by the caller at startup; this
// store does not own its lifecycle.
//
// # Thread Safety
//
// Safe for concurrent use. BadgerDB transactions are per-goroutine.
type BadgerEmbeddingStore struct {
	db     *badgerstore.DB
	ttl    time.Duration
	logger *slog.Logger
}

// NewBadgerEmbeddingStore creates a store backed by db.
//
// # Inputs
//
//   - db: Opened BadgerDB wrapper. Must not be nil.
//   - ttl: Lifetime for each cached entry. Pass 0 for the default (7 days).
//   - logger: Logger for hit/miss diagnostics. May be nil.
func NewBadgerEmbeddingStore(db *badgerstore.DB, ttl time.Duration, logger *slog.Logger) *BadgerEmbeddingStore {
	if db == nil {
		panic("NewBadgerEmbeddingStore: db must not be nil")
	}
	if ttl <= 0 {
		ttl = embeddingStoreDefaultTTL
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &BadgerEmbeddingStore{db: db, ttl: ttl, logger: logger}
}

var _ EmbeddingStore = (*BadgerEmbeddingStore)(nil)

// LoadEmbeddings retrieves cached unit-normalized tool vectors.
// Returns (nil, nil) on miss, (nil, error) on storage or decode failure.
func (s *BadgerEmbeddingStore) LoadEmbeddings(ctx context.Context, corpusHash string) (map[string][]float32, error) {
	key := embeddingKey(corpusHash)

	var raw []byte
	err := s.db.WithReadTxn(ctx, func(txn *dgbadger.Txn) error {
		item, err := txn.Get(key)
		if errors.Is(err, dgbadger.ErrKeyNotFound) {
			return errCacheMiss
		}
		if err != nil {
			return fmt.Errorf("get cache key: %w", err)
		}
		raw, err = item.ValueCopy(nil)
		if err != nil {
			return fmt.Errorf("copy value: %w", err)
		}
		return nil
	})

	if errors.Is(err, errCacheMiss) {
		s.logger.Debug("embedding store: miss", slog.String("hash", shortHash(corpusHash)))
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("embedding store load: %w", err)
	}

	vectors, err := gobDecode(raw)
	if err != nil {
		return nil, fmt.Errorf("embedding store decode: %w", err)
	}

	s.logger.Debug("embedding store: hit",
		slog.String("hash", shortHash(corpusHash)),
		slog.Int("tool_count", len(vectors)),
	)
	return vectors, nil
}

// SaveEmbeddings persists unit-normalized tool vectors with the store TTL.
func (s *BadgerEmbeddingStore) SaveEmbeddings(ctx context.Context, corpusHash string, vectors map[string][]float32) error {
	if len(vectors) == 0 {
		return nil
	}

	raw, err := gobEncode(vectors)
	if err != nil {
		return fmt.Errorf("embedding store encode: %w", err)
	}

	key := embeddingKey(corpusHash)
	err = s.db.WithTxn(ctx, func(txn *dgbadger.Txn) error {
		entry := dgbadger.NewEntry(key, raw).WithTTL(s.ttl)
		return txn.SetEntry(entry)
	})
	if err != nil {
		return fmt.Errorf("embedding store save: %w", err)
	}

	s.logger.Debug("embedding store: saved",
		slog.String("hash", shortHash(corpusHash)),
		slog.Int("tool_count", len(vectors)),
		slog.Duration("ttl", s.ttl),
	)
	return nil
}

// =============================================================================
// Corpus Hash
// =============================================================================

// computeCorpusHash computes a deterministic SHA256 hash over every signal
// that shapes the embedding vectors: tool name, description, aliases,
// sample queries, and the embedding model name. Descriptors are sorted by
// name and aliases/samples internally for determinism regardless of
// registration order.
func computeCorpusHash(tools []registry.Descriptor, model string) string {
	sorted := make([]registry.Descriptor, len(tools))
	copy(sorted, tools)
	sort.Slice(sorted, func(i, j int) bool {
		return sorted[i].Name < sorted[j].Name
	})

	h := sha256.New()
	for _, d := range sorted {
		aliases := make([]string, len(d.Aliases))
		copy(aliases, d.Aliases)
		sort.Strings(aliases)

		samples := make([]string, len(d.SampleQueries))
		copy(samples, d.SampleQueries)
		sort.Strings(samples)

		// Tab-delimited fields; newline terminates each tool entry.
		fmt.Fprintf(h, "%s\t%s\t%s\t%s\n",
			d.Name, d.Description, strings.Join(aliases, ","), strings.Join(samples, ","))
	}
	fmt.Fprintf(h, "model=%s\n", model)

	return hex.EncodeToString(h.Sum(nil))
}

// =============================================================================
// Helpers
// =============================================================================

// embeddingKey builds the BadgerDB key for the given corpus hash.
func embeddingKey(corpusHash string) []byte {
	return []byte(embeddingKeyPrefix + corpusHash)
}

// shortHash returns the first 8 characters of a hash for log display.
func shortHash(h string) string {
	if len(h) > 8 {
		return h[:8] + "..."
	}
	return h
}

// gobEncode serializes a map[string][]float32 using encoding/gob.
func gobEncode(vectors map[string][]float32) ([]byte, error) {
	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(vectors); err != nil {
		return nil, fmt.Errorf("gob encode: %w", err)
	}
	return buf.Bytes(), nil
}

// gobDecode deserializes a map[string][]float32 from gob-encoded bytes.
func gobDecode(data []byte) (map[string][]float32, error) {
	var vectors map[string][]float32
	if err := gob.NewDecoder(bytes.NewReader(data)).Decode(&vectors); err != nil {
		return nil, fmt.Errorf("gob decode: %w", err)
	}
	return vectors, nil
}
