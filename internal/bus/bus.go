// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package bus implements the inter-agent message queue: SQLite-backed
// priority+FIFO ordering, prompt-injection screening, and an optional
// in-process NATS wake layer over the durable queue.
package bus

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"

	"github.com/AleutianAI/missioncore/internal/telemetry"
)

const schema = `
CREATE TABLE IF NOT EXISTS agent_messages (
	id            TEXT PRIMARY KEY,
	msg_type      TEXT NOT NULL,
	sender        TEXT NOT NULL,
	recipient     TEXT NOT NULL,
	mission_id    TEXT,
	parent_msg_id TEXT,
	priority      INTEGER NOT NULL DEFAULT 1,
	content       TEXT NOT NULL,
	payload       TEXT NOT NULL DEFAULT '{}',
	created_at    TEXT NOT NULL,
	processed_at  TEXT
);
CREATE INDEX IF NOT EXISTS idx_agent_messages_recipient ON agent_messages(recipient);
CREATE INDEX IF NOT EXISTS idx_agent_messages_processed ON agent_messages(processed_at);
`

// timestampLayout is RFC 3339 with a fixed nine-digit fraction, so stored
// timestamps sort chronologically as text in ORDER BY created_at.
const timestampLayout = "2006-01-02T15:04:05.000000000Z07:00"

// Message is one queued inter-agent message.
type Message struct {
	ID              string
	MsgType         string
	Sender          string
	Recipient       string
	MissionID       string
	ParentMsgID     string
	Priority        int
	Content         string
	Payload         map[string]any
	CreatedAt       time.Time
	ProcessedAt     *time.Time
	InjectionFlagged bool
}

// Notifier is notified after every successful Send, so a consumer can
// wake instead of polling. A nil Notifier is valid — Bus works correctly
// without one, only less efficiently for idle consumers.
type Notifier interface {
	NotifyRecipient(recipient string)
}

// Bus is the SQLite-backed message queue.
//
// Thread Safety: safe for concurrent use. Send and PopNext run under an
// internal mutex so the pop's select-then-mark sequence is atomic.
type Bus struct {
	mu       sync.Mutex
	db       *sql.DB
	notifier Notifier
}

// Open creates (or opens) a SQLite database at path with the same
// WAL/NORMAL/busy_timeout durability profile used by internal/episodic.
func Open(path string, notifier Notifier) (*Bus, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("bus: opening db: %w", err)
	}
	db.SetMaxOpenConns(1)

	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA synchronous=NORMAL",
		"PRAGMA busy_timeout=5000",
	}
	for _, p := range pragmas {
		if _, err := db.Exec(p); err != nil {
			db.Close()
			return nil, fmt.Errorf("bus: applying %q: %w", p, err)
		}
	}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("bus: applying schema: %w", err)
	}
	return &Bus{db: db, notifier: notifier}, nil
}

// Close closes the underlying database.
func (b *Bus) Close() error {
	return b.db.Close()
}

// Send enqueues a message. priority <= 0 defaults to 1 (higher values are
// delivered first). The content is screened for prompt-injection
// patterns; a match never blocks delivery, it only sets
// _injection_warning: true in the stored payload.
func (b *Bus) Send(ctx context.Context, msgType, sender, recipient, missionID, parentMsgID, content string, priority int) (string, error) {
	if priority <= 0 {
		priority = 1
	}
	id := uuid.New().String()[:12]
	now := time.Now().UTC().Format(timestampLayout)

	payload := map[string]any{}
	flagged := detectInjection(content)
	if flagged {
		payload["_injection_warning"] = true
	}
	payloadJSON, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("bus: marshaling payload: %w", err)
	}

	b.mu.Lock()
	_, err = b.db.ExecContext(ctx,
		`INSERT INTO agent_messages (id, msg_type, sender, recipient, mission_id, parent_msg_id, priority, content, payload, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		id, msgType, sender, recipient, nullIfEmpty(missionID), nullIfEmpty(parentMsgID), priority, content, string(payloadJSON), now,
	)
	b.mu.Unlock()
	if err != nil {
		return "", fmt.Errorf("bus: sending message: %w", err)
	}

	if b.notifier != nil {
		b.notifier.NotifyRecipient(recipient)
	}
	telemetry.RecordBusMessage(flagged)
	return id, nil
}

// PopNext atomically selects and marks-processed the single highest
// priority (ties broken by oldest first) unprocessed message for
// recipient. Returns (nil, nil) if there is no pending message.
func (b *Bus) PopNext(ctx context.Context, recipient string) (*Message, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	row := b.db.QueryRowContext(ctx,
		`SELECT id, msg_type, sender, mission_id, parent_msg_id, priority, content, payload, created_at
		 FROM agent_messages
		 WHERE recipient = ? AND processed_at IS NULL
		 ORDER BY priority DESC, created_at ASC
		 LIMIT 1`,
		recipient,
	)

	var (
		id, msgType, senderID, content, payloadJSON, createdAt string
		missionID, parentMsgID                                 sql.NullString
		priority                                                int
	)
	err := row.Scan(&id, &msgType, &senderID, &missionID, &parentMsgID, &priority, &content, &payloadJSON, &createdAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("bus: popping next message: %w", err)
	}

	now := time.Now().UTC().Format(timestampLayout)
	if _, err := b.db.ExecContext(ctx, `UPDATE agent_messages SET processed_at = ? WHERE id = ?`, now, id); err != nil {
		return nil, fmt.Errorf("bus: marking message processed: %w", err)
	}

	var payload map[string]any
	_ = json.Unmarshal([]byte(payloadJSON), &payload)

	created, _ := time.Parse(time.RFC3339Nano, createdAt)
	processed, _ := time.Parse(time.RFC3339Nano, now)

	_, flagged := payload["_injection_warning"]
	return &Message{
		ID: id, MsgType: msgType, Sender: senderID, Recipient: recipient,
		MissionID: missionID.String, ParentMsgID: parentMsgID.String,
		Priority: priority, Content: content, Payload: payload,
		CreatedAt: created, ProcessedAt: &processed, InjectionFlagged: flagged,
	}, nil
}

// HasPending reports whether recipient has any unprocessed message.
func (b *Bus) HasPending(ctx context.Context, recipient string) (bool, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	var n int
	err := b.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM agent_messages WHERE recipient = ? AND processed_at IS NULL`, recipient,
	).Scan(&n)
	return n > 0, err
}

// AgentsWithPendingMessages lists distinct recipients that have at least
// one unprocessed message.
func (b *Bus) AgentsWithPendingMessages(ctx context.Context) ([]string, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	rows, err := b.db.QueryContext(ctx, `SELECT DISTINCT recipient FROM agent_messages WHERE processed_at IS NULL`)
	if err != nil {
		return nil, fmt.Errorf("bus: listing pending recipients: %w", err)
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var r string
		if err := rows.Scan(&r); err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// Count returns the total number of messages ever sent (processed or not).
func (b *Bus) Count(ctx context.Context) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	var n int
	err := b.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM agent_messages`).Scan(&n)
	return n, err
}

// Clear deletes every message.
func (b *Bus) Clear(ctx context.Context) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	_, err := b.db.ExecContext(ctx, `DELETE FROM agent_messages`)
	return err
}

func nullIfEmpty(s string) any {
	if s == "" {
		return nil
	}
	return s
}
