// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package vectormemory implements embedding-based recall over an
// in-memory, L2-normalized matrix with brute-force cosine similarity —
// deliberately not an ANN index, since this store is sized for at most
// MaxEntries rows.
package vectormemory

import (
	"context"
	"errors"
	"math"
	"regexp"
	"sort"
	"sync"
	"time"

	"golang.org/x/sync/semaphore"

	"github.com/AleutianAI/missioncore/internal/telemetry"
)

// MaxEntries bounds the store at 10,000 rows; the oldest entry is
// evicted to make room for a new one once this is reached.
const MaxEntries = 10000

const (
	maxTags     = 20
	maxTagLen   = 50
)

var tagPattern = regexp.MustCompile(`^[a-zA-Z0-9_-]+$`)

// Sentinel errors.
var (
	ErrEmbedderNotConfigured = errors.New("vectormemory: embedder not configured")
	ErrInvalidTag            = errors.New("vectormemory: invalid tag")
)

// Embedder computes a single embedding vector for text. The router
// satisfies this via a thin adapter in the host wiring layer.
type Embedder func(ctx context.Context, text string) ([]float32, error)

// Entry is one stored memory.
type Entry struct {
	Text         string
	Vector       []float32 // L2-normalized embedding, persisted directly rather than recomputed
	Tags         []string
	Timestamp    float64
	Source       string
	TemporalType string
	ValidFrom    float64
	ValidTo      float64
	EntityType   string
	EntityID     string
}

// ScoredEntry pairs an Entry with its similarity score from Search.
type ScoredEntry struct {
	Entry Entry
	Score float64
}

// Store is the vector memory. Entries and their L2-normalized embedding
// matrix are guarded by an RWMutex; a separate weight-1 semaphore
// serializes the embed-then-append critical path across concurrent
// callers of Store, distinct from the RWMutex protecting reads.
//
// Thread Safety: safe for concurrent use.
type Store struct {
	mu       sync.RWMutex
	entries  []Entry
	vectors  [][]float32 // row i is the L2-normalized embedding for entries[i]
	embedder Embedder

	storeLock *semaphore.Weighted // weight 1: serializes embed-then-append

	persist *Persistence // optional, nil-safe
}

// NewStore builds an empty Store. persist may be nil to disable disk
// persistence entirely (useful for tests).
func NewStore(embedder Embedder, persist *Persistence) *Store {
	return &Store{
		embedder:  embedder,
		storeLock: semaphore.NewWeighted(1),
		persist:   persist,
	}
}

// Seed populates the store from previously-persisted entries, rebuilding
// the similarity matrix directly from each entry's stored Vector rather
// than re-embedding — mirroring build_vector_matrix in the original
// implementation. Entries at or beyond MaxEntries are truncated to the
// most recent ones, matching Store's own eviction policy.
func (s *Store) Seed(entries []Entry) {
	if len(entries) > MaxEntries {
		entries = entries[len(entries)-MaxEntries:]
	}
	vectors := make([][]float32, len(entries))
	for i, e := range entries {
		vectors[i] = e.Vector
	}

	s.mu.Lock()
	s.entries = append([]Entry(nil), entries...)
	s.vectors = vectors
	s.mu.Unlock()
	telemetry.VectorMemoryEntries.Set(float64(len(entries)))
}

// SetEmbedder installs or replaces the embedding function.
func (s *Store) SetEmbedder(embedder Embedder) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.embedder = embedder
}

// ValidateTags checks a tag list against the store's limits: at most
// maxTags tags, each at most maxTagLen characters, matching
// ^[a-zA-Z0-9_-]+$.
func ValidateTags(tags []string) error {
	if len(tags) > maxTags {
		return ErrInvalidTag
	}
	for _, t := range tags {
		if len(t) == 0 || len(t) > maxTagLen || !tagPattern.MatchString(t) {
			return ErrInvalidTag
		}
	}
	return nil
}

// Store embeds text, validates tags, and appends a new entry, evicting
// the oldest entry first if the store is at MaxEntries. Embedding
// failures propagate; a disk-persistence failure afterward is logged by
// the caller's Persistence and otherwise swallowed.
func (s *Store) Store(ctx context.Context, text string, tags []string, source, temporalType string, validFrom, validTo float64, entityType, entityID string) (int, error) {
	if err := ValidateTags(tags); err != nil {
		return 0, err
	}

	s.mu.RLock()
	embedder := s.embedder
	s.mu.RUnlock()
	if embedder == nil {
		return 0, ErrEmbedderNotConfigured
	}

	if err := s.storeLock.Acquire(ctx, 1); err != nil {
		return 0, err
	}
	defer s.storeLock.Release(1)

	vec, err := embedder(ctx, text)
	if err != nil {
		return 0, err
	}
	normalized := l2Normalize(vec)

	entry := Entry{
		Text:         text,
		Vector:       normalized,
		Tags:         append([]string(nil), tags...),
		Timestamp:    float64(time.Now().UnixNano()) / 1e9,
		Source:       source,
		TemporalType: temporalType,
		ValidFrom:    validFrom,
		ValidTo:      validTo,
		EntityType:   entityType,
		EntityID:     entityID,
	}

	s.mu.Lock()
	for len(s.entries) >= MaxEntries {
		s.entries = s.entries[1:]
		s.vectors = s.vectors[1:]
	}
	s.entries = append(s.entries, entry)
	s.vectors = append(s.vectors, normalized)
	snapshot := append([]Entry(nil), s.entries...)
	s.mu.Unlock()

	if s.persist != nil {
		s.persist.SaveBestEffort(snapshot)
	}
	telemetry.VectorMemoryEntries.Set(float64(len(snapshot)))

	return len(snapshot) - 1, nil
}

// Search embeds query, scores every stored entry by cosine similarity
// against the (already-normalized) query vector, applies an optional
// temporal filter, and returns the top-k results ordered by descending
// score. topK <= 0 defaults to 5.
func (s *Store) Search(ctx context.Context, query string, topK int, temporalFilter string) ([]ScoredEntry, error) {
	if topK <= 0 {
		topK = 5
	}

	s.mu.RLock()
	embedder := s.embedder
	entries := append([]Entry(nil), s.entries...)
	vectors := append([][]float32(nil), s.vectors...)
	s.mu.RUnlock()

	if embedder == nil {
		return nil, ErrEmbedderNotConfigured
	}
	if len(entries) == 0 {
		return nil, nil
	}

	queryVec, err := embedder(ctx, query)
	if err != nil {
		return nil, err
	}
	queryNorm := l2Normalize(queryVec)

	now := float64(time.Now().UnixNano()) / 1e9
	scored := make([]ScoredEntry, 0, len(entries))
	for i, e := range entries {
		if !passesTemporalFilter(e, temporalFilter, now) {
			continue
		}
		scored = append(scored, ScoredEntry{Entry: e, Score: dot(vectors[i], queryNorm)})
	}

	sort.SliceStable(scored, func(i, j int) bool { return scored[i].Score > scored[j].Score })
	if len(scored) > topK {
		scored = scored[:topK]
	}
	return scored, nil
}

// Count returns the number of stored entries.
func (s *Store) Count() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.entries)
}

// Clear removes all entries and, if persistence is configured, deletes
// the backing file.
func (s *Store) Clear() error {
	s.mu.Lock()
	s.entries = nil
	s.vectors = nil
	s.mu.Unlock()
	telemetry.VectorMemoryEntries.Set(0)

	if s.persist != nil {
		return s.persist.DeleteFile()
	}
	return nil
}

func passesTemporalFilter(e Entry, filter string, now float64) bool {
	switch filter {
	case "current":
		if e.ValidFrom != 0 && now < e.ValidFrom {
			return false
		}
		if e.ValidTo != 0 && now > e.ValidTo {
			return false
		}
		return true
	case "historical":
		return e.ValidTo != 0 && now > e.ValidTo
	default:
		return true
	}
}

func l2Normalize(v []float32) []float32 {
	var sumSq float64
	for _, x := range v {
		sumSq += float64(x) * float64(x)
	}
	norm := math.Sqrt(sumSq)
	if norm == 0 {
		return append([]float32(nil), v...)
	}
	out := make([]float32, len(v))
	for i, x := range v {
		out[i] = float32(float64(x) / norm)
	}
	return out
}

func dot(a, b []float32) float64 {
	n := len(a)
	if len(b) < n {
		n = len(b)
	}
	var sum float64
	for i := 0; i < n; i++ {
		sum += float64(a[i]) * float64(b[i])
	}
	return sum
}
