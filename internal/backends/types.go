// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package backends defines the provider-agnostic contract every inference
// backend implements, plus the OpenAI-style, llama.cpp, and Ollama adapters
// that satisfy it.
package backends

import "context"

// Message is one turn of a chat conversation, normalized across backends.
type Message struct {
	Role    string
	Content string
}

// ModelInfo describes one model a backend exposes.
type ModelInfo struct {
	ID            string
	Name          string
	Backend       string
	ContextLength *int
	MaxTokens     *int
	Loaded        bool
}

// UsageInfo reports token accounting for a completion, when the backend
// exposes it.
type UsageInfo struct {
	PromptTokens     int
	CompletionTokens int
	TotalTokens      int
}

// LlmRequest is the normalized shape of a chat completion request. Fields
// left nil/zero are omitted from the outbound wire request.
type LlmRequest struct {
	Model       string
	Messages    []Message
	MaxTokens   *int
	Temperature *float32
	Tools       []map[string]any
}

// LlmResponse is the normalized shape of a chat completion response.
type LlmResponse struct {
	Content      string
	Model        string
	FinishReason *string
	ToolCalls    []map[string]any
	Usage        *UsageInfo
}

// Adapter is the capability contract every backend implementation
// satisfies. Implementations are not required to support every method
// meaningfully — LoadModel/UnloadModel are no-ops for backends that do not
// manage model lifecycle (see OpenAIAdapter).
//
// Thread Safety: implementations must be safe for concurrent use.
type Adapter interface {
	// DiscoverModels lists the models currently available on the backend.
	DiscoverModels(ctx context.Context) (map[string]ModelInfo, error)

	// CallLLM performs a non-streaming chat completion.
	CallLLM(ctx context.Context, req LlmRequest) (LlmResponse, error)

	// CallLLMStream performs a streaming chat completion, forwarding each
	// incremental content token to tokens as it arrives. It returns the
	// full accumulated content once the stream ends. A full tokens
	// channel never blocks or fails the call — sends are non-blocking and
	// a token that cannot be delivered immediately is dropped. The caller
	// must not close tokens while the call is running.
	CallLLMStream(ctx context.Context, req LlmRequest, tokens chan<- string) (string, error)

	// Embed computes embedding vectors for texts, in the same order as
	// the input (backends whose wire response can interleave results by
	// index reorder before returning).
	Embed(ctx context.Context, modelID string, texts []string) ([][]float32, error)

	// LoadModel requests the backend make modelID ready to serve,
	// optionally for ttlSeconds before it may be unloaded. Returns true
	// on success; backends with no load/unload lifecycle return true
	// unconditionally.
	LoadModel(ctx context.Context, modelID string, ttlSeconds *int) (bool, error)

	// UnloadModel requests the backend release modelID's resources.
	UnloadModel(ctx context.Context, modelID string) (bool, error)
}
