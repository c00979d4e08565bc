// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package backends

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sort"
)

// LlamaCppAdapter talks to a llama.cpp server's OpenAI-compatible surface.
// It reuses OpenAIAdapter for everything except model discovery (whose
// results are re-tagged as backend "llamacpp") and embeddings, which
// llama.cpp shapes slightly differently: each input yields a single data
// entry rather than a batch the caller must reorder by index, but the
// index field is still honored when present.
//
// Thread Safety: safe for concurrent use.
type LlamaCppAdapter struct {
	*OpenAIAdapter
}

// NewLlamaCppAdapter builds a LlamaCppAdapter. llama.cpp servers are
// typically unauthenticated local processes, so no API key is sent.
func NewLlamaCppAdapter(baseURL string, httpClient *http.Client, limiter *Limiter) *LlamaCppAdapter {
	return &LlamaCppAdapter{OpenAIAdapter: NewOpenAIAdapter(baseURL, "", httpClient, limiter)}
}

// DiscoverModels lists models via GET /v1/models, tagging results as
// backend "llamacpp" instead of "openai".
func (a *LlamaCppAdapter) DiscoverModels(ctx context.Context) (map[string]ModelInfo, error) {
	models, err := a.OpenAIAdapter.DiscoverModels(ctx)
	if err != nil {
		return nil, err
	}
	for id, m := range models {
		m.Backend = "llamacpp"
		models[id] = m
	}
	return models, nil
}

// Embed computes embeddings via POST /v1/embeddings. llama.cpp's server
// returns one data entry per input; entries are still sorted by index
// for parity with the OpenAI wire contract in case the server batches.
func (a *LlamaCppAdapter) Embed(ctx context.Context, modelID string, texts []string) ([][]float32, error) {
	if err := a.limiter.Wait(ctx); err != nil {
		return nil, err
	}
	body, status, err := a.post(ctx, "/v1/embeddings", openaiEmbeddingRequest{Model: modelID, Input: texts})
	if err != nil {
		return nil, err
	}
	if status != http.StatusOK {
		return nil, NewAPIError("llamacpp", status, safeLogString(string(body)))
	}

	var parsed openaiEmbeddingResponse
	if err := json.Unmarshal(body, &parsed); err != nil {
		return nil, fmt.Errorf("llamacpp: parsing embeddings response: %w", err)
	}
	sort.Slice(parsed.Data, func(i, j int) bool { return parsed.Data[i].Index < parsed.Data[j].Index })

	out := make([][]float32, len(parsed.Data))
	for i, d := range parsed.Data {
		out[i] = d.Embedding
	}
	return out, nil
}
