// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package scheduler

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestBuildLevels_LinearChain(t *testing.T) {
	tasks := map[string]*Task{
		"a": {ID: "a"},
		"b": {ID: "b", DependsOn: []string{"a"}},
		"c": {ID: "c", DependsOn: []string{"b"}},
	}
	levels := buildLevels(tasks)
	require.Equal(t, [][]string{{"a"}, {"b"}, {"c"}}, levels)
}

func TestBuildLevels_CycleEmitsRemainderAsFinalWave(t *testing.T) {
	tasks := map[string]*Task{
		"a": {ID: "a", DependsOn: []string{"b"}},
		"b": {ID: "b", DependsOn: []string{"a"}},
	}
	levels := buildLevels(tasks)
	require.Len(t, levels, 1)
	require.ElementsMatch(t, []string{"a", "b"}, levels[0])
}

func TestSubmitMission_DuplicateRejected(t *testing.T) {
	s := New()
	require.NoError(t, s.SubmitMission("m1", []TaskSpec{{ID: "t1", AgentID: "agent"}}))
	err := s.SubmitMission("m1", []TaskSpec{{ID: "t1", AgentID: "agent"}})
	require.ErrorIs(t, err, ErrMissionAlreadyExists)
}

func TestSubmitMission_AutoAssignsTaskIDs(t *testing.T) {
	s := New()
	require.NoError(t, s.SubmitMission("m1", []TaskSpec{{AgentID: "agent", Task: "do thing"}}))

	mission, err := s.GetMission("m1")
	require.NoError(t, err)
	require.Len(t, mission.Tasks, 1)
	for id := range mission.Tasks {
		require.NotEmpty(t, id)
	}
}

func TestMissionAdvancesAndCompletesAcrossWaves(t *testing.T) {
	s := New()
	specs := []TaskSpec{
		{ID: "a", AgentID: "agent"},
		{ID: "b", AgentID: "agent", DependsOn: []string{"a"}},
	}
	require.NoError(t, s.SubmitMission("m1", specs))

	ready, err := s.GetReadyTasks("m1")
	require.NoError(t, err)
	require.Len(t, ready, 1)
	require.Equal(t, "a", ready[0].ID)

	ok, err := s.CompleteTask(context.Background(), "m1", "a", "done")
	require.NoError(t, err)
	require.True(t, ok)

	mission, err := s.GetMission("m1")
	require.NoError(t, err)
	require.Equal(t, MissionRunning, mission.Status)
	require.Equal(t, 1, mission.CurrentLevel)

	ready, err = s.GetReadyTasks("m1")
	require.NoError(t, err)
	require.Len(t, ready, 1)
	require.Equal(t, "b", ready[0].ID)

	ok, err = s.CompleteTask(context.Background(), "m1", "b", "done")
	require.NoError(t, err)
	require.True(t, ok)

	mission, err = s.GetMission("m1")
	require.NoError(t, err)
	require.Equal(t, MissionCompleted, mission.Status)
	require.NotNil(t, mission.CompletedAt)
}

func TestFailTask_FailsWholeMission(t *testing.T) {
	s := New()
	require.NoError(t, s.SubmitMission("m1", []TaskSpec{{ID: "a", AgentID: "agent"}}))
	ok, err := s.FailTask(context.Background(), "m1", "a", "boom")
	require.NoError(t, err)
	require.True(t, ok)

	mission, err := s.GetMission("m1")
	require.NoError(t, err)
	require.Equal(t, MissionFailed, mission.Status)
	require.Equal(t, TaskFailed, mission.Tasks["a"].Status)
}

func TestStartTask_OnlyTransitionsPending(t *testing.T) {
	s := New()
	require.NoError(t, s.SubmitMission("m1", []TaskSpec{{ID: "a", AgentID: "agent"}}))

	ok, err := s.StartTask("m1", "a")
	require.NoError(t, err)
	require.True(t, ok)

	ok, err = s.StartTask("m1", "a")
	require.NoError(t, err)
	require.False(t, ok)
}

func TestCancelMission_OnlyCancelsRunning(t *testing.T) {
	s := New()
	require.NoError(t, s.SubmitMission("m1", []TaskSpec{{ID: "a", AgentID: "agent"}}))

	ok, err := s.CancelMission("m1")
	require.NoError(t, err)
	require.True(t, ok)

	ok, err = s.CancelMission("m1")
	require.NoError(t, err)
	require.False(t, ok)
}

func TestClearCompleted_RemovesTerminalMissionsOnly(t *testing.T) {
	s := New()
	require.NoError(t, s.SubmitMission("m1", []TaskSpec{{ID: "a", AgentID: "agent"}}))
	require.NoError(t, s.SubmitMission("m2", []TaskSpec{{ID: "a", AgentID: "agent"}}))

	_, err := s.FailTask(context.Background(), "m1", "a", "boom")
	require.NoError(t, err)

	removed := s.ClearCompleted()
	require.Equal(t, 1, removed)
	require.Equal(t, 1, s.MissionCount())
	require.Equal(t, []string{"m2"}, s.ListMissions())
}

func TestGetMission_UnknownReturnsError(t *testing.T) {
	s := New()
	_, err := s.GetMission("nope")
	require.ErrorIs(t, err, ErrMissionNotFound)
}
