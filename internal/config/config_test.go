// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package config

import (
	"testing"

	"github.com/stretchr/testify/require"
)

const validYAML = `
backends:
  - name: local-ollama
    kind: ollama
    base_url: http://localhost:11434
model_mappings:
  - alias: assistant
    backend: local-ollama
    model: llama3
vector_memory:
  embedding_model_alias: assistant
episodic_memory:
  db_path: /tmp/episodic.db
message_bus:
  db_path: /tmp/bus.db
workspace:
  db_path: /tmp/workspace.db
`

func TestParse_ValidConfigAppliesDefaults(t *testing.T) {
	cfg, err := Parse([]byte(validYAML))
	require.NoError(t, err)
	require.Equal(t, 0.05, cfg.EpisodicMemory.DecayRate)
	require.Equal(t, 0.1, cfg.EpisodicMemory.MinImportance)
	require.Equal(t, 30, cfg.EpisodicMemory.MinAgeDays)
	require.Equal(t, 300, cfg.DiscoveryCache.TTLSeconds)
	require.Equal(t, "missioncore", cfg.Tracing.ServiceName)
}

func TestParse_RejectsMissingBackends(t *testing.T) {
	_, err := Parse([]byte(`
vector_memory:
  embedding_model_alias: assistant
episodic_memory:
  db_path: /tmp/episodic.db
message_bus:
  db_path: /tmp/bus.db
workspace:
  db_path: /tmp/workspace.db
`))
	require.Error(t, err)
}

func TestParse_RejectsInvalidBackendKind(t *testing.T) {
	_, err := Parse([]byte(`
backends:
  - name: b1
    kind: not-a-real-kind
    base_url: http://localhost:1234
vector_memory:
  embedding_model_alias: assistant
episodic_memory:
  db_path: /tmp/episodic.db
message_bus:
  db_path: /tmp/bus.db
workspace:
  db_path: /tmp/workspace.db
`))
	require.Error(t, err)
}

func TestParse_RejectsMissingURL(t *testing.T) {
	_, err := Parse([]byte(`
backends:
  - name: b1
    kind: ollama
vector_memory:
  embedding_model_alias: assistant
episodic_memory:
  db_path: /tmp/episodic.db
message_bus:
  db_path: /tmp/bus.db
workspace:
  db_path: /tmp/workspace.db
`))
	require.Error(t, err)
}

func TestParse_InfluxRequiresFieldsWhenEnabled(t *testing.T) {
	_, err := Parse([]byte(`
backends:
  - name: b1
    kind: ollama
    base_url: http://localhost:11434
vector_memory:
  embedding_model_alias: assistant
episodic_memory:
  db_path: /tmp/episodic.db
message_bus:
  db_path: /tmp/bus.db
workspace:
  db_path: /tmp/workspace.db
influx:
  enabled: true
`))
	require.Error(t, err)
}

func TestLoad_MissingFileReturnsError(t *testing.T) {
	_, err := Load("/nonexistent/path/config.yaml")
	require.Error(t, err)
}
