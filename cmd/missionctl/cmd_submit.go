// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/AleutianAI/missioncore/internal/config"
	"github.com/AleutianAI/missioncore/internal/scheduler"
)

// taskFile is the on-disk shape of a --tasks JSON file: a flat list of
// tasks with optional dependency ids.
type taskFile struct {
	Tasks []struct {
		ID        string   `json:"id"`
		AgentID   string   `json:"agent_id"`
		Task      string   `json:"task"`
		DependsOn []string `json:"depends_on"`
	} `json:"tasks"`
}

var tasksPath string

var submitCmd = &cobra.Command{
	Use:   "submit [mission-id]",
	Short: "Submit a mission from a task list and watch it run to completion",
	Args:  cobra.MaximumNArgs(1),
	RunE:  runSubmit,
}

func init() {
	submitCmd.Flags().StringVar(&tasksPath, "tasks", "", "path to a JSON file describing the mission's tasks")
	_ = submitCmd.MarkFlagRequired("tasks")
}

func runSubmit(cmd *cobra.Command, args []string) error {
	missionID := uuid.New().String()[:8]
	if len(args) == 1 {
		missionID = args[0]
	}

	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("missionctl: %w", err)
	}

	rt, err := buildRuntime(cfg)
	if err != nil {
		return fmt.Errorf("missionctl: %w", err)
	}
	defer rt.Close()

	raw, err := os.ReadFile(tasksPath)
	if err != nil {
		return fmt.Errorf("missionctl: reading %s: %w", tasksPath, err)
	}
	var tf taskFile
	if err := json.Unmarshal(raw, &tf); err != nil {
		return fmt.Errorf("missionctl: parsing %s: %w", tasksPath, err)
	}

	specs := make([]scheduler.TaskSpec, len(tf.Tasks))
	for i, t := range tf.Tasks {
		specs[i] = scheduler.TaskSpec{ID: t.ID, AgentID: t.AgentID, Task: t.Task, DependsOn: t.DependsOn}
	}

	if err := rt.scheduler.SubmitMission(missionID, specs); err != nil {
		return fmt.Errorf("missionctl: submitting mission: %w", err)
	}
	fmt.Printf("Submitted mission %s with %d tasks\n", missionID, len(specs))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		cancel()
	}()

	return watchMission(ctx, rt, missionID)
}

// watchMission polls the scheduler, auto-completing each ready task (the
// demo CLI has no real agent behind it — it just proves the wave
// advancement works end to end) and printing progress until the mission
// reaches a terminal state.
func watchMission(ctx context.Context, rt *runtime, missionID string) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		mission, err := rt.scheduler.GetMission(missionID)
		if err != nil {
			return fmt.Errorf("missionctl: %w", err)
		}
		if mission.Status != scheduler.MissionRunning {
			fmt.Printf("Mission %s finished: %s (%d/%d tasks)\n", missionID, mission.Status, mission.CompletedTasks, mission.TotalTasks)
			return nil
		}

		ready, err := rt.scheduler.GetReadyTasks(missionID)
		if err != nil {
			return fmt.Errorf("missionctl: %w", err)
		}
		if len(ready) == 0 {
			time.Sleep(100 * time.Millisecond)
			continue
		}

		for _, t := range ready {
			if _, err := rt.scheduler.StartTask(missionID, t.ID); err != nil {
				return fmt.Errorf("missionctl: %w", err)
			}
			slog.Info("task started", "mission", missionID, "task", t.ID, "agent", t.AgentID)

			if _, err := rt.workspace.Add(ctx, missionID, t.AgentID, "note", t.ID, "completed: "+t.Task, nil, nil); err != nil {
				slog.Warn("failed to record workspace entry", "error", err)
			}
			if _, err := rt.scheduler.CompleteTask(ctx, missionID, t.ID, "ok"); err != nil {
				return fmt.Errorf("missionctl: %w", err)
			}
			printTaskCompleted(t.ID, t.AgentID)
		}
	}
}
