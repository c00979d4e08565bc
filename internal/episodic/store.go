// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package episodic implements importance-decayed episodic recall over an
// embedded SQLite database (WAL journal, NORMAL synchronous mode).
package episodic

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"
)

const (
	// DefaultDecayRate is the fraction importance is reduced by on every
	// DecayImportance call: importance *= (1 - DefaultDecayRate).
	DefaultDecayRate = 0.05
	// MinImportanceThreshold is the default eviction importance floor.
	MinImportanceThreshold = 0.1
	// DefaultMinAgeDays is the default eviction age floor.
	DefaultMinAgeDays = 30
)

// ErrNotFound is returned when an episode id does not exist.
var ErrNotFound = errors.New("episodic: not found")

const schema = `
CREATE TABLE IF NOT EXISTS episodic_memories (
	id            TEXT PRIMARY KEY,
	content       TEXT NOT NULL,
	memory_type   TEXT NOT NULL,
	domain        TEXT,
	importance    REAL NOT NULL DEFAULT 1.0,
	access_count  INTEGER NOT NULL DEFAULT 0,
	last_accessed TEXT,
	created_at    TEXT NOT NULL,
	updated_at    TEXT,
	entity_type   TEXT,
	entity_id     TEXT,
	supersedes    TEXT,
	superseded_by TEXT,
	metadata      TEXT NOT NULL DEFAULT '{}'
);
CREATE INDEX IF NOT EXISTS idx_episodic_memory_type ON episodic_memories(memory_type);
CREATE INDEX IF NOT EXISTS idx_episodic_importance ON episodic_memories(importance);
`

// Entry is one episodic memory row.
type Entry struct {
	ID           string
	Content      string
	MemoryType   string
	Domain       string
	Importance   float64
	AccessCount  int
	CreatedAt    time.Time
	SupersededBy string
}

// Store is the episodic memory backed by a single-connection SQLite
// database file.
//
// Thread Safety: safe for concurrent use; multi-statement operations
// (decay, eviction) run under an internal mutex for atomicity.
type Store struct {
	mu sync.Mutex
	db *sql.DB
}

// Open creates (or opens) a SQLite database at path with WAL journaling
// and NORMAL synchronous mode, matching the durability/throughput
// tradeoff used throughout this codebase's other embedded stores.
func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("episodic: opening db: %w", err)
	}
	db.SetMaxOpenConns(1)

	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA synchronous=NORMAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA foreign_keys=ON",
	}
	for _, p := range pragmas {
		if _, err := db.Exec(p); err != nil {
			db.Close()
			return nil, fmt.Errorf("episodic: applying %q: %w", p, err)
		}
	}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("episodic: applying schema: %w", err)
	}
	return &Store{db: db}, nil
}

// Close closes the underlying database.
func (s *Store) Close() error {
	return s.db.Close()
}

// Record stores a new episode. importance defaults to 1.0 if <= 0.
func (s *Store) Record(ctx context.Context, content, memoryType, domain string, importance float64) (string, error) {
	if importance <= 0 {
		importance = 1.0
	}
	id := uuid.New().String()[:12]
	now := time.Now().UTC().Format(time.RFC3339)

	s.mu.Lock()
	defer s.mu.Unlock()
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO episodic_memories (id, content, memory_type, domain, importance, access_count, created_at)
		 VALUES (?, ?, ?, ?, ?, 0, ?)`,
		id, content, memoryType, domain, importance, now,
	)
	if err != nil {
		return "", fmt.Errorf("episodic: recording episode: %w", err)
	}
	return id, nil
}

// Search finds up to topK non-superseded episodes whose content contains
// query (SQLite LIKE, case-insensitive for ASCII letters), ordered by
// importance descending. topK <=
// 0 defaults to 10.
func (s *Store) Search(ctx context.Context, query string, topK int) ([]Entry, error) {
	if topK <= 0 {
		topK = 10
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, content, memory_type, domain, importance, access_count, created_at
		 FROM episodic_memories
		 WHERE content LIKE ? AND superseded_by IS NULL
		 ORDER BY importance DESC
		 LIMIT ?`,
		"%"+query+"%", topK,
	)
	if err != nil {
		return nil, fmt.Errorf("episodic: searching: %w", err)
	}
	defer rows.Close()

	var out []Entry
	for rows.Next() {
		var e Entry
		var domain sql.NullString
		var createdAt string
		if err := rows.Scan(&e.ID, &e.Content, &e.MemoryType, &domain, &e.Importance, &e.AccessCount, &createdAt); err != nil {
			return nil, fmt.Errorf("episodic: scanning row: %w", err)
		}
		e.Domain = domain.String
		if t, err := time.Parse(time.RFC3339, createdAt); err == nil {
			e.CreatedAt = t
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

// DecayImportance multiplies the importance of every episode by
// (1 - decayRate). decayRate <= 0 uses DefaultDecayRate. Returns the
// number of rows affected.
func (s *Store) DecayImportance(ctx context.Context, decayRate float64) (int64, error) {
	if decayRate <= 0 {
		decayRate = DefaultDecayRate
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	res, err := s.db.ExecContext(ctx, `UPDATE episodic_memories SET importance = importance * ?`, 1.0-decayRate)
	if err != nil {
		return 0, fmt.Errorf("episodic: decaying importance: %w", err)
	}
	return res.RowsAffected()
}

// EvictLowImportance deletes non-superseded episodes whose importance is
// below minImportance and whose age exceeds minAgeDays. minImportance <=
// 0 uses MinImportanceThreshold; minAgeDays <= 0 uses DefaultMinAgeDays.
// Returns the number of rows deleted.
func (s *Store) EvictLowImportance(ctx context.Context, minImportance float64, minAgeDays int) (int64, error) {
	if minImportance <= 0 {
		minImportance = MinImportanceThreshold
	}
	if minAgeDays <= 0 {
		minAgeDays = DefaultMinAgeDays
	}
	cutoff := time.Now().UTC().AddDate(0, 0, -minAgeDays).Format(time.RFC3339)

	s.mu.Lock()
	defer s.mu.Unlock()
	res, err := s.db.ExecContext(ctx,
		`DELETE FROM episodic_memories WHERE importance < ? AND created_at < ? AND superseded_by IS NULL`,
		minImportance, cutoff,
	)
	if err != nil {
		return 0, fmt.Errorf("episodic: evicting: %w", err)
	}
	return res.RowsAffected()
}

// Count returns the total number of stored episodes.
func (s *Store) Count(ctx context.Context) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var n int
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM episodic_memories`).Scan(&n)
	return n, err
}

// Clear deletes all episodes.
func (s *Store) Clear(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, err := s.db.ExecContext(ctx, `DELETE FROM episodic_memories`)
	return err
}
