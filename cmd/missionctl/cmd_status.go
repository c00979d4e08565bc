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
	"fmt"

	"github.com/spf13/cobra"

	"github.com/AleutianAI/missioncore/internal/config"
)

var statusCmd = &cobra.Command{
	Use:   "status <mission-id>",
	Short: "Print a mission's workspace summary",
	Args:  cobra.ExactArgs(1),
	RunE:  runStatus,
}

func runStatus(cmd *cobra.Command, args []string) error {
	missionID := args[0]

	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("missionctl: %w", err)
	}

	rt, err := buildRuntime(cfg)
	if err != nil {
		return fmt.Errorf("missionctl: %w", err)
	}
	defer rt.Close()

	summary, err := rt.workspace.GetMissionSummary(context.Background(), missionID)
	if err != nil {
		return fmt.Errorf("missionctl: %w", err)
	}
	fmt.Println(summary)
	return nil
}
