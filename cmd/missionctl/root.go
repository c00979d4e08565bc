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
	"fmt"
	"log/slog"
	"os"

	"github.com/mattn/go-isatty"
	"github.com/spf13/cobra"

	"github.com/AleutianAI/missioncore/internal/telemetry"
)

var (
	configPath string
	logger     *slog.Logger
)

var rootCmd = &cobra.Command{
	Use:   "missionctl",
	Short: "Drive the missioncore runtime from the command line",
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		level := slog.LevelInfo
		logger = telemetry.NewLogger(level, os.Stderr)
		slog.SetDefault(logger)
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "missioncore.yaml", "path to runtime config")
	rootCmd.AddCommand(submitCmd)
	rootCmd.AddCommand(statusCmd)
}

// isInteractive reports whether stdout is a terminal, matching the
// human-text-vs-machine-output convention used by the progress printer.
func isInteractive() bool {
	return isatty.IsTerminal(os.Stdout.Fd())
}

// printTaskCompleted prints one line of mission progress, using a color
// escape only when stdout is a terminal.
func printTaskCompleted(taskID, agentID string) {
	if isInteractive() {
		fmt.Printf("  \033[32m✓\033[0m %s (%s)\n", taskID, agentID)
		return
	}
	fmt.Printf("  completed %s (%s)\n", taskID, agentID)
}
