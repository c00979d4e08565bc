// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package config loads and validates the YAML configuration that wires
// together every component of the runtime: backend endpoints, model
// aliases, and the storage paths for vector memory, episodic memory, the
// message bus, and the shared workspace.
package config

import (
	"fmt"
	"os"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"
)

// BackendConfig describes one configured inference backend.
type BackendConfig struct {
	// Name is the backend's identifier, referenced by ModelMappings.
	Name string `yaml:"name" validate:"required"`
	// Kind selects the adapter implementation: "openai", "llamacpp", or "ollama".
	Kind string `yaml:"kind" validate:"required,oneof=openai llamacpp ollama"`
	// BaseURL is the backend's HTTP endpoint.
	BaseURL string `yaml:"base_url" validate:"required,url"`
	// APIKey authenticates against the backend, if it requires one.
	APIKey string `yaml:"api_key"`
	// RateLimitPerMinute caps outbound requests; <= 0 means unlimited.
	RateLimitPerMinute int `yaml:"rate_limit_per_minute"`
}

// ModelMapping aliases a logical model name to a concrete backend+model pair.
type ModelMapping struct {
	Alias   string `yaml:"alias" validate:"required"`
	Backend string `yaml:"backend" validate:"required"`
	Model   string `yaml:"model" validate:"required"`
}

// VectorMemoryConfig configures C3.
type VectorMemoryConfig struct {
	// EmbeddingModelAlias selects which router alias embeds memory text.
	EmbeddingModelAlias string `yaml:"embedding_model_alias" validate:"required"`
	// PersistPath is the JSONL file backing the store; empty uses
	// vectormemory.DefaultMemoryPath.
	PersistPath string `yaml:"persist_path"`
}

// EpisodicMemoryConfig configures C4.
type EpisodicMemoryConfig struct {
	DBPath            string  `yaml:"db_path" validate:"required"`
	DecayRate         float64 `yaml:"decay_rate"`
	MinImportance     float64 `yaml:"min_importance"`
	MinAgeDays        int     `yaml:"min_age_days"`
}

// MessageBusConfig configures C5.
type MessageBusConfig struct {
	DBPath            string `yaml:"db_path" validate:"required"`
	EnableWakeNotify  bool   `yaml:"enable_wake_notify"`
}

// WorkspaceConfig configures C6b.
type WorkspaceConfig struct {
	DBPath string `yaml:"db_path" validate:"required"`
}

// DiscoveryCacheConfig configures the router's optional BadgerDB-backed
// model-discovery cache.
type DiscoveryCacheConfig struct {
	Enabled bool   `yaml:"enabled"`
	Dir     string `yaml:"dir"`
	TTLSeconds int `yaml:"ttl_seconds"`
}

// InfluxConfig configures the router's optional latency export.
type InfluxConfig struct {
	Enabled bool   `yaml:"enabled"`
	URL     string `yaml:"url" validate:"required_if=Enabled true"`
	Token   string `yaml:"token"`
	Org     string `yaml:"org" validate:"required_if=Enabled true"`
	Bucket  string `yaml:"bucket" validate:"required_if=Enabled true"`
}

// TracingConfig configures OpenTelemetry span emission.
type TracingConfig struct {
	ServiceName    string `yaml:"service_name"`
	ServiceVersion string `yaml:"service_version"`
}

// Config is the top-level runtime configuration.
type Config struct {
	Backends       []BackendConfig      `yaml:"backends" validate:"required,min=1,dive"`
	ModelMappings  []ModelMapping       `yaml:"model_mappings" validate:"dive"`
	VectorMemory   VectorMemoryConfig   `yaml:"vector_memory" validate:"required"`
	EpisodicMemory EpisodicMemoryConfig `yaml:"episodic_memory" validate:"required"`
	MessageBus     MessageBusConfig     `yaml:"message_bus" validate:"required"`
	Workspace      WorkspaceConfig      `yaml:"workspace" validate:"required"`
	DiscoveryCache DiscoveryCacheConfig `yaml:"discovery_cache"`
	Influx         InfluxConfig         `yaml:"influx"`
	Tracing        TracingConfig        `yaml:"tracing"`
}

var validate = validator.New()

// Load reads and validates a Config from path, applying defaults for any
// zero-valued optional numeric fields.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: reading %s: %w", path, err)
	}
	return Parse(data)
}

// Parse validates and applies defaults to YAML bytes, without touching disk.
func Parse(data []byte) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("config: parsing yaml: %w", err)
	}

	applyDefaults(&cfg)

	if err := validate.Struct(&cfg); err != nil {
		return nil, fmt.Errorf("config: validation: %w", err)
	}
	return &cfg, nil
}

func applyDefaults(cfg *Config) {
	if cfg.EpisodicMemory.DecayRate <= 0 {
		cfg.EpisodicMemory.DecayRate = 0.05
	}
	if cfg.EpisodicMemory.MinImportance <= 0 {
		cfg.EpisodicMemory.MinImportance = 0.1
	}
	if cfg.EpisodicMemory.MinAgeDays <= 0 {
		cfg.EpisodicMemory.MinAgeDays = 30
	}
	if cfg.DiscoveryCache.TTLSeconds <= 0 {
		cfg.DiscoveryCache.TTLSeconds = 300
	}
	if cfg.Tracing.ServiceName == "" {
		cfg.Tracing.ServiceName = "missioncore"
	}
}
