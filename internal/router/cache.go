// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package router

// =============================================================================
// DiscoveryCache — model-discovery result persistence
// =============================================================================
//
// DiscoverModels() round-trips to every configured backend. Workers call
// it frequently (e.g. before every CallLLM to confirm a model is loaded),
// so this cache memoizes results per backend name with a short TTL using
// an embedded BadgerDB instance.
//
// Design choices:
//
//  1. BadgerDB, not a network cache: discovery results are service
//     infrastructure, not user data, and there are at most a handful of
//     backends — an embedded KV store with microsecond access latency is
//     a better fit than anything requiring a network round trip.
//
//  2. BadgerDB native TTL: expiry is enforced by BadgerDB's GC, not
//     application code. Expired keys surface as ErrKeyNotFound, which
//     this cache treats as a miss.
//
//  3. Nil-safe: Router treats a nil *DiscoveryCache as "no cache
//     configured" and always calls through. Callers that don't want the
//     cache simply don't construct one.

import (
	"bytes"
	"context"
	"encoding/gob"
	"errors"
	"fmt"
	"log/slog"
	"time"

	badger "github.com/dgraph-io/badger/v4"

	"github.com/AleutianAI/missioncore/internal/backends"
)

const (
	discoveryCacheDefaultTTL = 5 * time.Minute
	discoveryCacheKeyPrefix  = "router/discover/v1/"
)

// DiscoveryCache persists DiscoverModels() results across calls, keyed by
// backend name.
//
// Thread Safety: safe for concurrent use. BadgerDB transactions are
// per-goroutine.
type DiscoveryCache struct {
	db     *badger.DB
	ttl    time.Duration
	logger *slog.Logger
}

// NewDiscoveryCache opens (or creates) a BadgerDB instance at dir and
// returns a DiscoveryCache backed by it. ttl <= 0 uses the default of 5
// minutes. The caller owns the returned DB's lifecycle and must call
// Close when done.
func NewDiscoveryCache(dir string, ttl time.Duration, logger *slog.Logger) (*DiscoveryCache, error) {
	if ttl <= 0 {
		ttl = discoveryCacheDefaultTTL
	}
	if logger == nil {
		logger = slog.Default()
	}
	opts := badger.DefaultOptions(dir).WithLogger(nil)
	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("router: opening discovery cache: %w", err)
	}
	return &DiscoveryCache{db: db, ttl: ttl, logger: logger}, nil
}

// Close releases the underlying BadgerDB handle.
func (c *DiscoveryCache) Close() error {
	return c.db.Close()
}

// Get retrieves the cached model map for backendName. ok is false on
// miss (absent key, expired TTL, or decode failure — all treated as
// cache-empty rather than fatal).
func (c *DiscoveryCache) Get(ctx context.Context, backendName string) (map[string]backends.ModelInfo, bool) {
	key := discoveryCacheKey(backendName)

	var raw []byte
	err := c.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(key)
		if err != nil {
			return err
		}
		raw, err = item.ValueCopy(nil)
		return err
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		c.logger.Debug("router: discovery cache miss", slog.String("backend", backendName))
		return nil, false
	}
	if err != nil {
		c.logger.Warn("router: discovery cache read failed", slog.String("backend", backendName), slog.String("error", err.Error()))
		return nil, false
	}

	var models map[string]backends.ModelInfo
	if err := gob.NewDecoder(bytes.NewReader(raw)).Decode(&models); err != nil {
		c.logger.Warn("router: discovery cache decode failed", slog.String("backend", backendName), slog.String("error", err.Error()))
		return nil, false
	}
	return models, true
}

// Set persists the model map for backendName with the cache's configured
// TTL. Failures are logged and swallowed — discovery is always
// recoverable by calling through again.
func (c *DiscoveryCache) Set(ctx context.Context, backendName string, models map[string]backends.ModelInfo) {
	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(models); err != nil {
		c.logger.Warn("router: discovery cache encode failed", slog.String("backend", backendName), slog.String("error", err.Error()))
		return
	}

	key := discoveryCacheKey(backendName)
	err := c.db.Update(func(txn *badger.Txn) error {
		entry := badger.NewEntry(key, buf.Bytes()).WithTTL(c.ttl)
		return txn.SetEntry(entry)
	})
	if err != nil {
		c.logger.Warn("router: discovery cache write failed", slog.String("backend", backendName), slog.String("error", err.Error()))
	}
}

func discoveryCacheKey(backendName string) []byte {
	return []byte(discoveryCacheKeyPrefix + backendName)
}
