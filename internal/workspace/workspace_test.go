// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package workspace

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func openTestWorkspace(t *testing.T) *Workspace {
	t.Helper()
	path := filepath.Join(t.TempDir(), "workspace.db")
	w, err := Open(path)
	require.NoError(t, err)
	t.Cleanup(func() { _ = w.Close() })
	return w
}

func TestWorkspace_AddAndQueryAll(t *testing.T) {
	w := openTestWorkspace(t)
	ctx := context.Background()

	_, err := w.Add(ctx, "m1", "agent-a", "note", "first", "content one", []string{"x"}, nil)
	require.NoError(t, err)
	_, err = w.Add(ctx, "m1", "agent-b", "finding", "second", "content two", nil, []string{"ref1"})
	require.NoError(t, err)

	entries, err := w.Query(ctx, "m1", "", "")
	require.NoError(t, err)
	require.Len(t, entries, 2)
	require.Equal(t, "first", entries[0].Title)
	require.Equal(t, []string{"x"}, entries[0].Tags)
	require.Equal(t, "second", entries[1].Title)
	require.Equal(t, []string{"ref1"}, entries[1].ReferenceList)
}

func TestWorkspace_QueryFiltersByAgentAndType(t *testing.T) {
	w := openTestWorkspace(t)
	ctx := context.Background()

	_, err := w.Add(ctx, "m1", "agent-a", "note", "a1", "x", nil, nil)
	require.NoError(t, err)
	_, err = w.Add(ctx, "m1", "agent-a", "finding", "a2", "y", nil, nil)
	require.NoError(t, err)
	_, err = w.Add(ctx, "m1", "agent-b", "note", "b1", "z", nil, nil)
	require.NoError(t, err)

	byAgent, err := w.Query(ctx, "m1", "agent-a", "")
	require.NoError(t, err)
	require.Len(t, byAgent, 2)

	byType, err := w.Query(ctx, "m1", "", "note")
	require.NoError(t, err)
	require.Len(t, byType, 2)

	both, err := w.Query(ctx, "m1", "agent-a", "note")
	require.NoError(t, err)
	require.Len(t, both, 1)
	require.Equal(t, "a1", both[0].Title)
}

func TestWorkspace_MissionIsolation(t *testing.T) {
	w := openTestWorkspace(t)
	ctx := context.Background()

	_, err := w.Add(ctx, "m1", "agent-a", "note", "t", "c", nil, nil)
	require.NoError(t, err)
	_, err = w.Add(ctx, "m2", "agent-a", "note", "t", "c", nil, nil)
	require.NoError(t, err)

	entries, err := w.Query(ctx, "m1", "", "")
	require.NoError(t, err)
	require.Len(t, entries, 1)
}

func TestWorkspace_GetMissionSummary(t *testing.T) {
	w := openTestWorkspace(t)
	ctx := context.Background()

	empty, err := w.GetMissionSummary(ctx, "missing")
	require.NoError(t, err)
	require.Contains(t, empty, "No entries")

	_, err = w.Add(ctx, "m1", "agent-a", "note", "Findings", "details here", nil, nil)
	require.NoError(t, err)

	summary, err := w.GetMissionSummary(ctx, "m1")
	require.NoError(t, err)
	require.Contains(t, summary, "Mission m1 Summary")
	require.Contains(t, summary, "Findings (agent-a)")
	require.Contains(t, summary, "details here")
}

func TestWorkspace_ClearMissionOnlyAffectsThatMission(t *testing.T) {
	w := openTestWorkspace(t)
	ctx := context.Background()

	_, err := w.Add(ctx, "m1", "a", "note", "t", "c", nil, nil)
	require.NoError(t, err)
	_, err = w.Add(ctx, "m2", "a", "note", "t", "c", nil, nil)
	require.NoError(t, err)

	removed, err := w.ClearMission(ctx, "m1")
	require.NoError(t, err)
	require.Equal(t, int64(1), removed)

	count, err := w.Count(ctx)
	require.NoError(t, err)
	require.Equal(t, 1, count)
}

func TestWorkspace_Clear(t *testing.T) {
	w := openTestWorkspace(t)
	ctx := context.Background()

	_, err := w.Add(ctx, "m1", "a", "note", "t", "c", nil, nil)
	require.NoError(t, err)
	require.NoError(t, w.Clear(ctx))

	count, err := w.Count(ctx)
	require.NoError(t, err)
	require.Equal(t, 0, count)
}
