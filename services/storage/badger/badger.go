// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package badger wraps a BadgerDB instance with context-aware transaction
// helpers. The wrapper owns nothing beyond the handle: callers open the DB
// at startup, share it across stores, and close it on shutdown.
package badger

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	dgbadger "github.com/dgraph-io/badger/v4"
)

// gcInterval is how often the background value-log GC pass runs.
const gcInterval = 10 * time.Minute

// gcDiscardRatio is the BadgerDB discard ratio for value-log GC. 0.5 means
// a file is rewritten when at least half of it is stale.
const gcDiscardRatio = 0.5

// DB is a process-wide BadgerDB handle.
//
// # Description
//
// Opened once in main and shared by every store that persists service
// state (routing embeddings, long-term memory). Each store namespaces its
// keys with its own prefix; the DB itself imposes no schema.
//
// # Thread Safety
//
// Safe for concurrent use. BadgerDB transactions are per-goroutine.
type DB struct {
	db     *dgbadger.DB
	logger *slog.Logger

	gcStop chan struct{}
	gcDone sync.WaitGroup
	once   sync.Once
}

// Open opens (or creates) a BadgerDB at path and starts the background
// value-log GC loop.
//
// # Inputs
//
//   - path: Directory for the database files. Created if absent.
//   - logger: Logger for open/GC diagnostics. May be nil.
//
// # Outputs
//
//   - *DB: The opened handle. Nil on error.
//   - error: Non-nil if the database cannot be opened.
func Open(path string, logger *slog.Logger) (*DB, error) {
	if logger == nil {
		logger = slog.Default()
	}

	opts := dgbadger.DefaultOptions(path).
		WithLogger(nil) // suppress BadgerDB internal logs

	inner, err := dgbadger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("open badger at %s: %w", path, err)
	}

	d := &DB{
		db:     inner,
		logger: logger,
		gcStop: make(chan struct{}),
	}
	d.gcDone.Add(1)
	go d.gcLoop()

	logger.Info("badger opened", slog.String("path", path))
	return d, nil
}

// Close stops the GC loop and closes the database. Safe to call more
// than once.
func (d *DB) Close() error {
	var err error
	d.once.Do(func() {
		close(d.gcStop)
		d.gcDone.Wait()
		err = d.db.Close()
	})
	return err
}

// WithTxn runs fn inside a read-write transaction, honoring ctx
// cancellation before starting.
func (d *DB) WithTxn(ctx context.Context, fn func(txn *dgbadger.Txn) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return d.db.Update(fn)
}

// WithReadTxn runs fn inside a read-only transaction, honoring ctx
// cancellation before starting.
func (d *DB) WithReadTxn(ctx context.Context, fn func(txn *dgbadger.Txn) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return d.db.View(fn)
}

// gcLoop periodically runs value-log GC until Close is called.
// ErrNoRewrite is the normal "nothing to collect" outcome and is not logged.
func (d *DB) gcLoop() {
	defer d.gcDone.Done()
	ticker := time.NewTicker(gcInterval)
	defer ticker.Stop()

	for {
		select {
		case <-d.gcStop:
			return
		case <-ticker.C:
			if err := d.db.RunValueLogGC(gcDiscardRatio); err != nil && err != dgbadger.ErrNoRewrite {
				d.logger.Warn("badger value-log gc", slog.String("error", err.Error()))
			}
		}
	}
}
