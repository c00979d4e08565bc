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
	"time"

	influxdb2 "github.com/influxdata/influxdb-client-go/v2"

	"github.com/AleutianAI/missioncore/internal/backends"
	"github.com/AleutianAI/missioncore/internal/bus"
	"github.com/AleutianAI/missioncore/internal/config"
	"github.com/AleutianAI/missioncore/internal/episodic"
	"github.com/AleutianAI/missioncore/internal/router"
	"github.com/AleutianAI/missioncore/internal/scheduler"
	"github.com/AleutianAI/missioncore/internal/secrets"
	"github.com/AleutianAI/missioncore/internal/telemetry"
	"github.com/AleutianAI/missioncore/internal/vectormemory"
	"github.com/AleutianAI/missioncore/internal/workspace"
)

// runtime bundles every component the CLI drives, constructed once from
// a loaded config.
type runtime struct {
	cfg       *config.Config
	router    *router.Router
	vectorMem *vectormemory.Store
	episodic  *episodic.Store
	bus       *bus.Bus
	scheduler *scheduler.Scheduler
	workspace *workspace.Workspace
	secrets   *secrets.Store
	influx    influxdb2.Client            // nil unless cfg.Influx.Enabled
	notifier  *bus.EmbeddedNotifier       // nil unless cfg.MessageBus.EnableWakeNotify
	shutdown  func(context.Context) error // tracer provider shutdown
}

// routerEmbedder adapts the router's single-alias Embed call to
// vectormemory.Embedder's one-text-in, one-vector-out shape.
func routerEmbedder(r *router.Router, alias string) vectormemory.Embedder {
	return func(ctx context.Context, text string) ([]float32, error) {
		vectors, err := r.Embed(ctx, alias, []string{text})
		if err != nil {
			return nil, err
		}
		if len(vectors) == 0 {
			return nil, fmt.Errorf("missionctl: embed returned no vectors for alias %q", alias)
		}
		return vectors[0], nil
	}
}

func buildRuntime(cfg *config.Config) (*runtime, error) {
	shutdown, err := telemetry.Setup(context.Background(), telemetry.TracingConfig{
		ServiceName:    cfg.Tracing.ServiceName,
		ServiceVersion: cfg.Tracing.ServiceVersion,
	})
	if err != nil {
		return nil, fmt.Errorf("missionctl: setting up tracing: %w", err)
	}

	secretStore := secrets.NewStore()

	var cache *router.DiscoveryCache
	if cfg.DiscoveryCache.Enabled {
		var err error
		cache, err = router.NewDiscoveryCache(cfg.DiscoveryCache.Dir, time.Duration(cfg.DiscoveryCache.TTLSeconds)*time.Second, logger)
		if err != nil {
			return nil, fmt.Errorf("missionctl: opening discovery cache: %w", err)
		}
	}

	var latencyRecorder router.LatencyRecorder
	var influxClient influxdb2.Client
	if cfg.Influx.Enabled {
		influxClient = influxdb2.NewClient(cfg.Influx.URL, cfg.Influx.Token)
		latencyRecorder = router.NewInfluxLatencyRecorder(influxClient, cfg.Influx.Org, cfg.Influx.Bucket, logger)
	}

	r := router.NewRouter(cache, latencyRecorder)
	for _, b := range cfg.Backends {
		if b.APIKey != "" {
			secretStore.Set(b.Name, b.APIKey)
		}
		apiKey, _ := secretStore.Get(b.Name)
		limiter := backends.NewLimiter(b.RateLimitPerMinute)

		var adapter backends.Adapter
		switch b.Kind {
		case "openai":
			adapter = backends.NewOpenAIAdapter(b.BaseURL, apiKey, r.HTTPClient(), limiter)
		case "llamacpp":
			adapter = backends.NewLlamaCppAdapter(b.BaseURL, r.HTTPClient(), limiter)
		case "ollama":
			adapter = backends.NewOllamaAdapter(b.BaseURL, r.HTTPClient(), limiter)
		default:
			return nil, fmt.Errorf("missionctl: unknown backend kind %q for %q", b.Kind, b.Name)
		}
		r.AddBackend(b.Name, adapter)
	}
	for _, m := range cfg.ModelMappings {
		r.AddModelMapping(m.Alias, m.Backend, m.Model)
	}

	vmPersist := vectormemory.NewPersistence(cfg.VectorMemory.PersistPath, logger)
	vm := vectormemory.NewStore(routerEmbedder(r, cfg.VectorMemory.EmbeddingModelAlias), vmPersist)
	seedEntries, err := vmPersist.Load()
	if err != nil {
		return nil, fmt.Errorf("missionctl: loading persisted vector memory: %w", err)
	}
	vm.Seed(seedEntries)

	episodicStore, err := episodic.Open(cfg.EpisodicMemory.DBPath)
	if err != nil {
		return nil, fmt.Errorf("missionctl: opening episodic store: %w", err)
	}

	var notifier *bus.EmbeddedNotifier
	if cfg.MessageBus.EnableWakeNotify {
		notifier, err = bus.NewEmbeddedNotifier(logger)
		if err != nil {
			return nil, fmt.Errorf("missionctl: starting wake notifier: %w", err)
		}
	}
	var busNotifier bus.Notifier
	if notifier != nil {
		busNotifier = notifier
	}
	messageBus, err := bus.Open(cfg.MessageBus.DBPath, busNotifier)
	if err != nil {
		return nil, fmt.Errorf("missionctl: opening message bus: %w", err)
	}

	ws, err := workspace.Open(cfg.Workspace.DBPath)
	if err != nil {
		return nil, fmt.Errorf("missionctl: opening workspace: %w", err)
	}

	return &runtime{
		cfg: cfg, router: r, vectorMem: vm, episodic: episodicStore,
		bus: messageBus, scheduler: scheduler.New(), workspace: ws, secrets: secretStore,
		influx: influxClient, notifier: notifier, shutdown: shutdown,
	}, nil
}

func (rt *runtime) Close() {
	_ = rt.episodic.Close()
	_ = rt.bus.Close()
	_ = rt.workspace.Close()
	rt.secrets.DestroyAll()
	if rt.influx != nil {
		rt.influx.Close()
	}
	if rt.notifier != nil {
		rt.notifier.Close()
	}
	if rt.shutdown != nil {
		_ = rt.shutdown(context.Background())
	}
}
