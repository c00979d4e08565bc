// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package scheduler implements mission orchestration: a DAG of tasks is
// leveled into dependency waves and advanced one wave at a time as tasks
// complete or fail.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/AleutianAI/missioncore/internal/telemetry"
)

var schedulerTracer = telemetry.Tracer("scheduler")

// Task and mission status strings, stored as plain strings (rather than a
// typed enum) in Task.Status and Mission.Status.
const (
	TaskPending   = "pending"
	TaskRunning   = "running"
	TaskCompleted = "completed"
	TaskFailed    = "failed"

	MissionRunning   = "running"
	MissionCompleted = "completed"
	MissionFailed    = "failed"
)

var (
	// ErrMissionNotFound is returned by operations on an unknown mission id.
	ErrMissionNotFound = errors.New("scheduler: mission not found")
	// ErrMissionAlreadyExists is returned by SubmitMission on a duplicate id.
	ErrMissionAlreadyExists = errors.New("scheduler: mission already exists")
)

// TaskSpec describes one task to submit as part of a mission.
type TaskSpec struct {
	ID         string
	AgentID    string
	Task       string
	DependsOn  []string
}

// Task is the live state of a submitted task.
type Task struct {
	ID        string
	AgentID   string
	Task      string
	DependsOn []string
	Status    string
	Result    string
}

// Mission is the live state of a submitted mission.
type Mission struct {
	ID            string
	Status        string
	Tasks         map[string]*Task
	CompletedTasks int
	TotalTasks    int
	Levels        [][]string
	CurrentLevel  int
	CreatedAt     time.Time
	CompletedAt   *time.Time
}

// Scheduler tracks all in-flight missions.
//
// Thread Safety: safe for concurrent use. A single mutex guards the
// mission map; this is deliberately coarser than a per-mission lock
// because missions are cheap and the critical sections are short.
type Scheduler struct {
	mu       sync.Mutex
	missions map[string]*Mission
}

// New creates an empty Scheduler.
func New() *Scheduler {
	return &Scheduler{missions: make(map[string]*Mission)}
}

// buildLevels partitions tasks into dependency waves: wave 0 contains
// every task whose dependencies are not present in the task set at all
// (external or already-satisfied dependencies), wave 1 contains tasks
// whose dependencies are all in wave 0, and so on. If a cycle leaves a
// non-empty remainder with no ready tasks, that remainder is emitted as
// one final wave rather than looping forever — callers see every task
// scheduled, just not necessarily in dependency order for the cyclic
// subset.
func buildLevels(tasks map[string]*Task) [][]string {
	var levels [][]string
	remaining := make(map[string][]string, len(tasks))
	for id, t := range tasks {
		remaining[id] = t.DependsOn
	}

	for len(remaining) > 0 {
		var ready []string
		for id, deps := range remaining {
			allSatisfied := true
			for _, d := range deps {
				if _, stillPending := remaining[d]; stillPending {
					allSatisfied = false
					break
				}
			}
			if allSatisfied {
				ready = append(ready, id)
			}
		}
		if len(ready) == 0 {
			rest := make([]string, 0, len(remaining))
			for id := range remaining {
				rest = append(rest, id)
			}
			levels = append(levels, rest)
			break
		}
		for _, id := range ready {
			delete(remaining, id)
		}
		levels = append(levels, ready)
	}
	return levels
}

// SubmitMission registers a new mission built from specs. Tasks without
// an explicit ID are assigned a short generated one.
func (s *Scheduler) SubmitMission(missionID string, specs []TaskSpec) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.missions[missionID]; exists {
		return fmt.Errorf("%w: %s", ErrMissionAlreadyExists, missionID)
	}

	taskMap := make(map[string]*Task, len(specs))
	for _, spec := range specs {
		id := spec.ID
		if id == "" {
			id = uuid.New().String()[:8]
		}
		taskMap[id] = &Task{
			ID:        id,
			AgentID:   spec.AgentID,
			Task:      spec.Task,
			DependsOn: spec.DependsOn,
			Status:    TaskPending,
		}
	}

	levels := buildLevels(taskMap)
	s.missions[missionID] = &Mission{
		ID:           missionID,
		Status:       MissionRunning,
		Tasks:        taskMap,
		TotalTasks:   len(taskMap),
		Levels:       levels,
		CurrentLevel: 0,
		CreatedAt:    time.Now().UTC(),
	}
	return nil
}

// GetMission returns a snapshot copy of a mission's state, or
// ErrMissionNotFound if missionID is unknown.
func (s *Scheduler) GetMission(missionID string) (*Mission, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	m, ok := s.missions[missionID]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrMissionNotFound, missionID)
	}
	return cloneMission(m), nil
}

// CompleteTask marks task as completed and advances the mission's
// current wave if every task in it is now completed or failed. If
// advancing exhausts the last wave, the mission itself is marked
// completed.
func (s *Scheduler) CompleteTask(ctx context.Context, missionID, taskID, result string) (bool, error) {
	_, span := schedulerTracer.Start(ctx, "Scheduler.CompleteTask",
		trace.WithAttributes(
			attribute.String("mission_id", missionID),
			attribute.String("task_id", taskID),
		),
	)
	defer span.End()

	s.mu.Lock()
	defer s.mu.Unlock()

	m, ok := s.missions[missionID]
	if !ok {
		err := fmt.Errorf("%w: %s", ErrMissionNotFound, missionID)
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return false, err
	}

	if t, ok := m.Tasks[taskID]; ok {
		t.Status = TaskCompleted
		t.Result = result
	}
	m.CompletedTasks++
	telemetry.RecordTaskTerminal(TaskCompleted)

	if m.CurrentLevel < len(m.Levels) {
		levelComplete := true
		for _, tid := range m.Levels[m.CurrentLevel] {
			t, ok := m.Tasks[tid]
			if !ok {
				continue
			}
			if t.Status != TaskCompleted && t.Status != TaskFailed {
				levelComplete = false
				break
			}
		}
		if levelComplete {
			m.CurrentLevel++
			if m.CurrentLevel >= len(m.Levels) {
				m.Status = MissionCompleted
				now := time.Now().UTC()
				m.CompletedAt = &now
			}
		}
	}
	return true, nil
}

// FailTask marks task as failed with error and fails the entire mission
// immediately — this scheduler does not attempt partial-failure
// recovery or retries within a mission.
func (s *Scheduler) FailTask(ctx context.Context, missionID, taskID, errMsg string) (bool, error) {
	_, span := schedulerTracer.Start(ctx, "Scheduler.FailTask",
		trace.WithAttributes(
			attribute.String("mission_id", missionID),
			attribute.String("task_id", taskID),
		),
	)
	defer span.End()

	s.mu.Lock()
	defer s.mu.Unlock()

	m, ok := s.missions[missionID]
	if !ok {
		err := fmt.Errorf("%w: %s", ErrMissionNotFound, missionID)
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return false, err
	}

	if t, ok := m.Tasks[taskID]; ok {
		t.Status = TaskFailed
		t.Result = errMsg
	}
	m.Status = MissionFailed
	now := time.Now().UTC()
	m.CompletedAt = &now
	telemetry.RecordTaskTerminal(TaskFailed)
	return true, nil
}

// GetReadyTasks lists the pending tasks in the mission's current wave.
func (s *Scheduler) GetReadyTasks(missionID string) ([]Task, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	m, ok := s.missions[missionID]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrMissionNotFound, missionID)
	}

	var ready []Task
	if m.CurrentLevel < len(m.Levels) {
		for _, tid := range m.Levels[m.CurrentLevel] {
			t, ok := m.Tasks[tid]
			if ok && t.Status == TaskPending {
				ready = append(ready, *t)
			}
		}
	}
	return ready, nil
}

// StartTask transitions a pending task to running. Returns false if the
// task doesn't exist or isn't pending.
func (s *Scheduler) StartTask(missionID, taskID string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	m, ok := s.missions[missionID]
	if !ok {
		return false, fmt.Errorf("%w: %s", ErrMissionNotFound, missionID)
	}
	t, ok := m.Tasks[taskID]
	if !ok || t.Status != TaskPending {
		return false, nil
	}
	t.Status = TaskRunning
	return true, nil
}

// ListMissions returns all mission IDs.
func (s *Scheduler) ListMissions() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	ids := make([]string, 0, len(s.missions))
	for id := range s.missions {
		ids = append(ids, id)
	}
	return ids
}

// MissionCount returns the number of tracked missions.
func (s *Scheduler) MissionCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.missions)
}

// CancelMission transitions a running mission to failed. Returns false
// if the mission doesn't exist or isn't running.
func (s *Scheduler) CancelMission(missionID string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	m, ok := s.missions[missionID]
	if !ok {
		return false, fmt.Errorf("%w: %s", ErrMissionNotFound, missionID)
	}
	if m.Status != MissionRunning {
		return false, nil
	}
	m.Status = MissionFailed
	now := time.Now().UTC()
	m.CompletedAt = &now
	return true, nil
}

// ClearCompleted removes every mission in a terminal (completed or
// failed) state and returns the number removed.
func (s *Scheduler) ClearCompleted() int {
	s.mu.Lock()
	defer s.mu.Unlock()

	var toRemove []string
	for id, m := range s.missions {
		if m.Status == MissionCompleted || m.Status == MissionFailed {
			toRemove = append(toRemove, id)
		}
	}
	for _, id := range toRemove {
		delete(s.missions, id)
	}
	return len(toRemove)
}

func cloneMission(m *Mission) *Mission {
	out := &Mission{
		ID: m.ID, Status: m.Status, CompletedTasks: m.CompletedTasks,
		TotalTasks: m.TotalTasks, CurrentLevel: m.CurrentLevel, CreatedAt: m.CreatedAt,
	}
	if m.CompletedAt != nil {
		t := *m.CompletedAt
		out.CompletedAt = &t
	}
	out.Levels = make([][]string, len(m.Levels))
	for i, lvl := range m.Levels {
		out.Levels[i] = append([]string(nil), lvl...)
	}
	out.Tasks = make(map[string]*Task, len(m.Tasks))
	for id, t := range m.Tasks {
		tc := *t
		out.Tasks[id] = &tc
	}
	return out
}
