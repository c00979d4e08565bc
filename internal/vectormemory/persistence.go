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
	"bufio"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
)

// DefaultMemoryPath is the default location for the JSONL persistence
// file when none is configured.
const DefaultMemoryPath = "backend/memory.jsonl"

// jsonlEntry is the on-disk shape of an Entry: one JSON object per line.
type jsonlEntry struct {
	Text         string    `json:"text"`
	Vector       []float32 `json:"vector"`
	Tags         []string  `json:"tags"`
	Timestamp    float64   `json:"timestamp"`
	Source       string    `json:"source"`
	TemporalType string    `json:"temporal_type,omitempty"`
	ValidFrom    float64   `json:"valid_from,omitempty"`
	ValidTo      float64   `json:"valid_to,omitempty"`
	EntityType   string    `json:"entity_type,omitempty"`
	EntityID     string    `json:"entity_id,omitempty"`
}

// Persistence manages the JSONL file backing a Store. It is not safe to
// share between stores concurrently writing the same path, but is safe
// for the single Store that owns it.
type Persistence struct {
	path   string
	logger *slog.Logger
}

// NewPersistence builds a Persistence at path. An empty path uses
// DefaultMemoryPath.
func NewPersistence(path string, logger *slog.Logger) *Persistence {
	if path == "" {
		path = DefaultMemoryPath
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Persistence{path: path, logger: logger}
}

// Load reads entries from disk, skipping blank or unparsable lines
// rather than failing the whole load.
func (p *Persistence) Load() ([]Entry, error) {
	f, err := os.Open(p.path)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("vectormemory: opening %s: %w", p.path, err)
	}
	defer f.Close()

	var entries []Entry
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 8*1024*1024)
	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		var raw jsonlEntry
		if err := json.Unmarshal(line, &raw); err != nil {
			p.logger.Warn("vectormemory: skipping unparsable persisted line", slog.String("error", err.Error()))
			continue
		}
		entries = append(entries, Entry{
			Text:         raw.Text,
			Vector:       raw.Vector,
			Tags:         raw.Tags,
			Timestamp:    raw.Timestamp,
			Source:       raw.Source,
			TemporalType: raw.TemporalType,
			ValidFrom:    raw.ValidFrom,
			ValidTo:      raw.ValidTo,
			EntityType:   raw.EntityType,
			EntityID:     raw.EntityID,
		})
	}
	if err := scanner.Err(); err != nil {
		return entries, fmt.Errorf("vectormemory: reading %s: %w", p.path, err)
	}
	return entries, nil
}

// Save truncates and rewrites the file with entries, one JSON object per
// line, then flushes to disk.
func (p *Persistence) Save(entries []Entry) error {
	f, err := os.Create(p.path)
	if err != nil {
		return fmt.Errorf("vectormemory: creating %s: %w", p.path, err)
	}
	defer f.Close()

	w := bufio.NewWriter(f)
	enc := json.NewEncoder(w)
	for _, e := range entries {
		raw := jsonlEntry{
			Text: e.Text, Vector: e.Vector, Tags: e.Tags, Timestamp: e.Timestamp, Source: e.Source,
			TemporalType: e.TemporalType, ValidFrom: e.ValidFrom, ValidTo: e.ValidTo,
			EntityType: e.EntityType, EntityID: e.EntityID,
		}
		if err := enc.Encode(raw); err != nil {
			return fmt.Errorf("vectormemory: encoding entry: %w", err)
		}
	}
	if err := w.Flush(); err != nil {
		return fmt.Errorf("vectormemory: flushing %s: %w", p.path, err)
	}
	return nil
}

// SaveBestEffort calls Save and logs (rather than returns) any failure —
// disk-persistence errors on the store path are recoverable: the next
// successful save catches up.
func (p *Persistence) SaveBestEffort(entries []Entry) {
	if err := p.Save(entries); err != nil {
		p.logger.Warn("vectormemory: persisting entries failed", slog.String("error", err.Error()))
	}
}

// DeleteFile removes the persistence file, if present.
func (p *Persistence) DeleteFile() error {
	err := os.Remove(p.path)
	if os.IsNotExist(err) {
		return nil
	}
	return err
}
