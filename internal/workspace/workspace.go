// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package workspace implements the mission-scoped shared workspace: an
// append-only log of entries agents collaborating on a mission leave for
// each other, queryable by agent and entry type.
package workspace

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"
)

// DefaultWorkspacePath is used when no path is given to Open.
const DefaultWorkspacePath = "backend/workspace.db"

const schema = `
CREATE TABLE IF NOT EXISTS workspace_entries (
	id             TEXT PRIMARY KEY,
	mission_id     TEXT NOT NULL,
	agent_id       TEXT NOT NULL,
	entry_type     TEXT NOT NULL,
	title          TEXT NOT NULL,
	content        TEXT NOT NULL,
	tags           TEXT NOT NULL DEFAULT '[]',
	reference_list TEXT NOT NULL DEFAULT '[]',
	created_at     TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_workspace_mission ON workspace_entries(mission_id);
`

// Entry is one workspace log entry.
type Entry struct {
	ID            string
	MissionID     string
	AgentID       string
	EntryType     string
	Title         string
	Content       string
	Tags          []string
	ReferenceList []string
	CreatedAt     time.Time
}

// Workspace is the SQLite-backed shared workspace.
//
// Thread Safety: safe for concurrent use via an internal mutex.
type Workspace struct {
	mu sync.Mutex
	db *sql.DB
}

// Open creates (or opens) a SQLite database at path. An empty path uses
// DefaultWorkspacePath.
func Open(path string) (*Workspace, error) {
	if path == "" {
		path = DefaultWorkspacePath
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("workspace: opening db: %w", err)
	}
	db.SetMaxOpenConns(1)

	pragmas := []string{"PRAGMA journal_mode=WAL", "PRAGMA synchronous=NORMAL", "PRAGMA busy_timeout=5000"}
	for _, p := range pragmas {
		if _, err := db.Exec(p); err != nil {
			db.Close()
			return nil, fmt.Errorf("workspace: applying %q: %w", p, err)
		}
	}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("workspace: applying schema: %w", err)
	}
	return &Workspace{db: db}, nil
}

// Close closes the underlying database.
func (w *Workspace) Close() error {
	return w.db.Close()
}

// Add appends an entry to mission's shared workspace and returns its id.
func (w *Workspace) Add(ctx context.Context, missionID, agentID, entryType, title, content string, tags, references []string) (string, error) {
	id := uuid.New().String()[:12]
	now := time.Now().UTC().Format(time.RFC3339)

	tagsJSON, err := json.Marshal(nonNilSlice(tags))
	if err != nil {
		return "", fmt.Errorf("workspace: marshaling tags: %w", err)
	}
	refsJSON, err := json.Marshal(nonNilSlice(references))
	if err != nil {
		return "", fmt.Errorf("workspace: marshaling reference_list: %w", err)
	}

	w.mu.Lock()
	defer w.mu.Unlock()
	_, err = w.db.ExecContext(ctx,
		`INSERT INTO workspace_entries (id, mission_id, agent_id, entry_type, title, content, tags, reference_list, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		id, missionID, agentID, entryType, title, content, string(tagsJSON), string(refsJSON), now,
	)
	if err != nil {
		return "", fmt.Errorf("workspace: adding entry: %w", err)
	}
	return id, nil
}

// Query lists mission's entries in creation order, optionally filtered
// by agentID and/or entryType. An empty filter value matches any.
func (w *Workspace) Query(ctx context.Context, missionID, agentID, entryType string) ([]Entry, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	var sb strings.Builder
	sb.WriteString(`SELECT id, agent_id, entry_type, title, content, tags, reference_list, created_at
		FROM workspace_entries WHERE mission_id = ?`)
	args := []any{missionID}
	if agentID != "" {
		sb.WriteString(" AND agent_id = ?")
		args = append(args, agentID)
	}
	if entryType != "" {
		sb.WriteString(" AND entry_type = ?")
		args = append(args, entryType)
	}
	sb.WriteString(" ORDER BY created_at ASC")

	rows, err := w.db.QueryContext(ctx, sb.String(), args...)
	if err != nil {
		return nil, fmt.Errorf("workspace: querying: %w", err)
	}
	defer rows.Close()

	var out []Entry
	for rows.Next() {
		var e Entry
		var tagsJSON, refsJSON, createdAt string
		if err := rows.Scan(&e.ID, &e.AgentID, &e.EntryType, &e.Title, &e.Content, &tagsJSON, &refsJSON, &createdAt); err != nil {
			return nil, fmt.Errorf("workspace: scanning row: %w", err)
		}
		e.MissionID = missionID
		_ = json.Unmarshal([]byte(tagsJSON), &e.Tags)
		_ = json.Unmarshal([]byte(refsJSON), &e.ReferenceList)
		if t, err := time.Parse(time.RFC3339, createdAt); err == nil {
			e.CreatedAt = t
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

// GetMissionSummary renders every entry for missionID into a single
// human-readable digest, in creation order.
func (w *Workspace) GetMissionSummary(ctx context.Context, missionID string) (string, error) {
	entries, err := w.Query(ctx, missionID, "", "")
	if err != nil {
		return "", err
	}
	if len(entries) == 0 {
		return fmt.Sprintf("No entries for mission %s", missionID), nil
	}

	var sb strings.Builder
	fmt.Fprintf(&sb, "=== Mission %s Summary ===\n\n", missionID)
	for _, e := range entries {
		fmt.Fprintf(&sb, "### %s (%s)\n%s\n\n", e.Title, e.AgentID, e.Content)
	}
	return sb.String(), nil
}

// ClearMission deletes every entry for missionID and returns the count removed.
func (w *Workspace) ClearMission(ctx context.Context, missionID string) (int64, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	res, err := w.db.ExecContext(ctx, `DELETE FROM workspace_entries WHERE mission_id = ?`, missionID)
	if err != nil {
		return 0, fmt.Errorf("workspace: clearing mission: %w", err)
	}
	return res.RowsAffected()
}

// Count returns the total number of entries across all missions.
func (w *Workspace) Count(ctx context.Context) (int, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	var n int
	err := w.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM workspace_entries`).Scan(&n)
	return n, err
}

// Clear deletes every entry across all missions.
func (w *Workspace) Clear(ctx context.Context) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	_, err := w.db.ExecContext(ctx, `DELETE FROM workspace_entries`)
	return err
}

func nonNilSlice(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}
