// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package router provides a uniform chat/embedding entry point over
// whatever backends (internal/backends) are configured, resolving model
// aliases to a concrete backend+model pair.
package router

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/AleutianAI/missioncore/internal/backends"
	"github.com/AleutianAI/missioncore/internal/telemetry"
)

var routerTracer = telemetry.Tracer("router")

// ErrBackendNotFound is returned when no backend at all is configured,
// and (wrapped) by DiscoverModels when the named backend is not registered.
var ErrBackendNotFound = errors.New("router: no backends configured")

// modelMapping resolves an alias to a concrete backend name and the
// backend-local model id.
type modelMapping struct {
	backend string
	model   string
}

// Router holds the backend table and alias map, dispatching calls under
// a lock held only long enough to resolve the target — never across the
// outbound network call.
//
// Thread Safety: safe for concurrent use.
type Router struct {
	mu            sync.Mutex
	backends      map[string]backends.Adapter
	backendOrder  []string // registration order, for deterministic alias-miss fallback
	modelMap      map[string]modelMapping
	httpClient    *http.Client
	cache         *DiscoveryCache // optional, nil-safe
	latency       LatencyRecorder // optional, nil-safe
}

// LatencyRecorder receives one observation per CallLLM/Embed invocation.
// Implementations must be safe for concurrent use. A nil LatencyRecorder
// is valid and simply means no time series is recorded.
type LatencyRecorder interface {
	Record(ctx context.Context, backend, alias string, latency time.Duration, success bool)
}

// NewRouter builds an empty Router sharing one HTTP client across every
// backend call, per the connection-pool policy: at least 10 idle
// connections per host and a 300s ceiling on any single request.
func NewRouter(cache *DiscoveryCache, latency LatencyRecorder) *Router {
	return &Router{
		backends: make(map[string]backends.Adapter),
		modelMap: make(map[string]modelMapping),
		httpClient: &http.Client{
			Timeout: 300 * time.Second,
			Transport: &http.Transport{
				MaxIdleConnsPerHost: 10,
			},
		},
		cache:   cache,
		latency: latency,
	}
}

// HTTPClient returns the router's shared HTTP client, for constructing
// backend adapters that should share its connection pool and timeout.
func (r *Router) HTTPClient() *http.Client {
	return r.httpClient
}

// AddBackend registers a named backend adapter. Registration order is
// preserved and used as the deterministic tie-break for alias misses
// (see Resolve).
func (r *Router) AddBackend(name string, adapter backends.Adapter) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.backends[name]; !exists {
		r.backendOrder = append(r.backendOrder, name)
	}
	r.backends[name] = adapter
}

// AddModelMapping registers an alias → (backend, model) mapping.
func (r *Router) AddModelMapping(alias, backendName, modelID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.modelMap[alias] = modelMapping{backend: backendName, model: modelID}
}

// ListBackends returns the registered backend names in registration order.
func (r *Router) ListBackends() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, len(r.backendOrder))
	copy(out, r.backendOrder)
	return out
}

// GetModelMapping returns the mapping configured for alias, if any.
func (r *Router) GetModelMapping(alias string) (backendName, modelID string, ok bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	m, ok := r.modelMap[alias]
	return m.backend, m.model, ok
}

// resolve determines which adapter and backend-local model id an alias
// maps to. A configured model-map entry wins; otherwise the
// first-registered backend is used with the alias passed through as the
// literal model id. Returns ErrBackendNotFound if no backend is
// configured at all.
func (r *Router) resolve(alias string) (backends.Adapter, string, string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if len(r.backends) == 0 {
		return nil, "", "", ErrBackendNotFound
	}
	if m, ok := r.modelMap[alias]; ok {
		if adapter, ok := r.backends[m.backend]; ok {
			return adapter, m.backend, m.model, nil
		}
	}
	// Arbitrary-backend fallback: deterministic by registration order,
	// not Go's randomized map iteration.
	name := r.backendOrder[0]
	return r.backends[name], name, alias, nil
}

// CallLLM resolves alias to a backend and model, then performs a
// non-streaming chat completion. The router's internal lock is released
// before the outbound call is made.
func (r *Router) CallLLM(ctx context.Context, alias string, messages []backends.Message, maxTokens *int, temperature *float32) (content, model, finishReason string, err error) {
	adapter, backendName, modelID, err := r.resolve(alias)
	if err != nil {
		return "", "", "", err
	}

	ctx, span := routerTracer.Start(ctx, "Router.CallLLM",
		trace.WithAttributes(
			attribute.String("backend", backendName),
			attribute.String("alias", alias),
			attribute.String("model", modelID),
		),
	)
	defer span.End()

	start := time.Now()
	resp, err := adapter.CallLLM(ctx, backends.LlmRequest{
		Model:       modelID,
		Messages:    normalizeMessages(messages),
		MaxTokens:   maxTokens,
		Temperature: temperature,
	})
	elapsed := time.Since(start)
	if r.latency != nil {
		r.latency.Record(ctx, backendName, alias, elapsed, err == nil)
	}
	telemetry.RecordRouterCall(backendName, elapsed.Seconds(), err == nil)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return "", "", "", fmt.Errorf("router: call_llm via %q: %w", backendName, err)
	}
	finish := ""
	if resp.FinishReason != nil {
		finish = *resp.FinishReason
	}
	return resp.Content, resp.Model, finish, nil
}

// Embed resolves alias to a backend and model, then computes embeddings
// for texts, consulting the optional discovery cache only for
// DiscoverModels — embeddings are never cached, since memory content
// changes on every call.
func (r *Router) Embed(ctx context.Context, alias string, texts []string) ([][]float32, error) {
	adapter, backendName, modelID, err := r.resolve(alias)
	if err != nil {
		return nil, err
	}

	ctx, span := routerTracer.Start(ctx, "Router.Embed",
		trace.WithAttributes(
			attribute.String("backend", backendName),
			attribute.String("alias", alias),
			attribute.String("model", modelID),
			attribute.Int("text_count", len(texts)),
		),
	)
	defer span.End()

	start := time.Now()
	vectors, err := adapter.Embed(ctx, modelID, texts)
	elapsed := time.Since(start)
	if r.latency != nil {
		r.latency.Record(ctx, backendName, alias, elapsed, err == nil)
	}
	telemetry.RecordRouterCall(backendName, elapsed.Seconds(), err == nil)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, fmt.Errorf("router: embed via %q: %w", backendName, err)
	}
	return vectors, nil
}

// DiscoverModels lists models for backendName, consulting the discovery
// cache first when one is configured.
func (r *Router) DiscoverModels(ctx context.Context, backendName string) (map[string]backends.ModelInfo, error) {
	r.mu.Lock()
	adapter, ok := r.backends[backendName]
	r.mu.Unlock()
	if !ok {
		return nil, fmt.Errorf("router: %w: %s", ErrBackendNotFound, backendName)
	}

	if r.cache != nil {
		if cached, ok := r.cache.Get(ctx, backendName); ok {
			return cached, nil
		}
	}

	models, err := adapter.DiscoverModels(ctx)
	if err != nil {
		return nil, err
	}
	if r.cache != nil {
		r.cache.Set(ctx, backendName, models)
	}
	return models, nil
}

func normalizeMessages(messages []backends.Message) []backends.Message {
	out := make([]backends.Message, len(messages))
	for i, m := range messages {
		role := m.Role
		if role == "" {
			role = "user"
		}
		out[i] = backends.Message{Role: role, Content: m.Content}
	}
	return out
}
