// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package vectormemory

import (
	"context"
	"fmt"
	"math"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

// hashEmbed produces a small deterministic vector from text so tests
// don't depend on a real embedding backend.
func hashEmbed(ctx context.Context, text string) ([]float32, error) {
	v := make([]float32, 4)
	for i, c := range text {
		v[i%4] += float32(c)
	}
	if v[0] == 0 && v[1] == 0 && v[2] == 0 && v[3] == 0 {
		v[0] = 1
	}
	return v, nil
}

func TestStore_L2NormInvariant(t *testing.T) {
	s := NewStore(hashEmbed, nil)
	_, err := s.Store(context.Background(), "hello world", nil, "test", "", 0, 0, "", "")
	require.NoError(t, err)

	s.mu.RLock()
	defer s.mu.RUnlock()
	var sumSq float64
	for _, x := range s.vectors[0] {
		sumSq += float64(x) * float64(x)
	}
	norm := math.Sqrt(sumSq)
	require.InDelta(t, 1.0, norm, 1e-5)
}

func TestStore_EvictsOldestAtCapacity(t *testing.T) {
	s := NewStore(hashEmbed, nil)
	// Shrinking capacity isn't exposed, so first verify the len == rows
	// invariant for a smaller run; the 10001st-insert boundary case is
	// then exercised by seeding the store to MaxEntries directly.
	for i := 0; i < 50; i++ {
		_, err := s.Store(context.Background(), fmt.Sprintf("entry-%d", i), nil, "t", "", 0, 0, "", "")
		require.NoError(t, err)
	}
	require.Equal(t, 50, s.Count())

	s.mu.RLock()
	require.Equal(t, len(s.entries), len(s.vectors))
	s.mu.RUnlock()

	full := make([]Entry, MaxEntries)
	for i := range full {
		full[i] = Entry{Text: fmt.Sprintf("seed-%d", i), Vector: []float32{1, 0, 0, 0}}
	}
	s.Seed(full)
	_, err := s.Store(context.Background(), "newest", nil, "t", "", 0, 0, "", "")
	require.NoError(t, err)
	require.Equal(t, MaxEntries, s.Count())

	s.mu.RLock()
	defer s.mu.RUnlock()
	require.Equal(t, len(s.entries), len(s.vectors))
	require.Equal(t, "seed-1", s.entries[0].Text)
	require.Equal(t, "newest", s.entries[MaxEntries-1].Text)
}

func TestStore_InvalidTagRejected(t *testing.T) {
	s := NewStore(hashEmbed, nil)
	_, err := s.Store(context.Background(), "x", []string{"bad tag with spaces"}, "t", "", 0, 0, "", "")
	require.ErrorIs(t, err, ErrInvalidTag)
}

func TestStore_EmbedderNotConfigured(t *testing.T) {
	s := NewStore(nil, nil)
	_, err := s.Store(context.Background(), "x", nil, "t", "", 0, 0, "", "")
	require.ErrorIs(t, err, ErrEmbedderNotConfigured)
}

func TestStore_SearchOrdersByScoreDescending(t *testing.T) {
	s := NewStore(hashEmbed, nil)
	ctx := context.Background()
	_, err := s.Store(ctx, "apple banana", nil, "t", "", 0, 0, "", "")
	require.NoError(t, err)
	_, err = s.Store(ctx, "zzzzzzzz", nil, "t", "", 0, 0, "", "")
	require.NoError(t, err)

	results, err := s.Search(ctx, "apple banana", 2, "")
	require.NoError(t, err)
	require.Len(t, results, 2)
	require.GreaterOrEqual(t, results[0].Score, results[1].Score)
}

func TestStore_TemporalFilterCurrentRetainsUnboundedEntry(t *testing.T) {
	s := NewStore(hashEmbed, nil)
	_, err := s.Store(context.Background(), "x", nil, "t", "current", 0, 0, "", "")
	require.NoError(t, err)

	results, err := s.Search(context.Background(), "x", 5, "current")
	require.NoError(t, err)
	require.Len(t, results, 1)
}

func TestPersistence_RoundTrip(t *testing.T) {
	dir := t.TempDir()
	p := NewPersistence(filepath.Join(dir, "memory.jsonl"), nil)

	entries := []Entry{
		{Text: "a", Vector: []float32{0.1, 0.2, 0.3}, Tags: []string{"x", "y"}, Timestamp: 1.0, Source: "s"},
		{Text: "b", Vector: []float32{0.4, -0.5}, Timestamp: 2.0, Source: "s2"},
	}
	require.NoError(t, p.Save(entries))

	loaded, err := p.Load()
	require.NoError(t, err)
	require.Equal(t, entries, loaded)
}

func TestStore_SeedRebuildsSearchableMatrixFromPersistedVectors(t *testing.T) {
	s := NewStore(nil, nil)
	s.Seed([]Entry{
		{Text: "a", Vector: []float32{1, 0}, Timestamp: 1.0},
		{Text: "b", Vector: []float32{0, 1}, Timestamp: 2.0},
	})
	require.Equal(t, 2, s.Count())

	s.SetEmbedder(func(ctx context.Context, text string) ([]float32, error) {
		return []float32{1, 0}, nil
	})
	results, err := s.Search(context.Background(), "query", 5, "")
	require.NoError(t, err)
	require.Len(t, results, 2)
	require.Equal(t, "a", results[0].Entry.Text)
}
