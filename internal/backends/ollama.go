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
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
)

// =============================================================================
// Ollama wire types
// =============================================================================

type ollamaTagsResponse struct {
	Models []ollamaModel `json:"models"`
}

type ollamaModel struct {
	Name string `json:"name"`
}

type ollamaChatRequest struct {
	Model    string            `json:"model"`
	Messages []ollamaMessage   `json:"messages"`
	Stream   bool              `json:"stream"`
	Options  map[string]any    `json:"options,omitempty"`
}

type ollamaMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type ollamaChatResponse struct {
	Message         ollamaMessage `json:"message"`
	Model           string        `json:"model"`
	Done            bool          `json:"done"`
	PromptEvalCount *int          `json:"prompt_eval_count"`
	EvalCount       *int          `json:"eval_count"`
}

type ollamaStreamChunk struct {
	Message *ollamaStreamMessage `json:"message"`
	Done    bool                 `json:"done"`
}

type ollamaStreamMessage struct {
	Content string `json:"content"`
}

type ollamaEmbeddingsResponse struct {
	Embeddings [][]float32 `json:"embeddings"`
}

type ollamaEmbeddingResponseLegacy struct {
	Embedding []float32 `json:"embedding"`
}

type ollamaPullRequest struct {
	Name   string `json:"name"`
	Stream bool   `json:"stream"`
}

// =============================================================================
// OllamaAdapter
// =============================================================================

// OllamaAdapter talks to a local Ollama server. Unlike the OpenAI-style
// backends, Ollama streams newline-delimited JSON rather than
// Server-Sent Events, nests generation parameters under "options", and
// manages model residency itself via /api/pull.
//
// Thread Safety: safe for concurrent use.
type OllamaAdapter struct {
	baseURL    string
	httpClient *http.Client
	limiter    *Limiter
}

// NewOllamaAdapter builds an OllamaAdapter. limiter may be nil, in which
// case calls are never throttled; a non-nil limiter is waited on before
// every request, as for the other adapters.
func NewOllamaAdapter(baseURL string, httpClient *http.Client, limiter *Limiter) *OllamaAdapter {
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	return &OllamaAdapter{baseURL: strings.TrimRight(baseURL, "/"), httpClient: httpClient, limiter: limiter}
}

// DiscoverModels lists models via GET /api/tags.
func (a *OllamaAdapter) DiscoverModels(ctx context.Context) (map[string]ModelInfo, error) {
	if err := a.limiter.Wait(ctx); err != nil {
		return nil, err
	}
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, a.baseURL+"/api/tags", nil)
	if err != nil {
		return nil, fmt.Errorf("ollama: building tags request: %w", err)
	}
	resp, err := a.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("ollama: tags request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("ollama: reading tags response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, NewAPIError("ollama", resp.StatusCode, safeLogString(string(body)))
	}

	var parsed ollamaTagsResponse
	if err := json.Unmarshal(body, &parsed); err != nil {
		return nil, fmt.Errorf("ollama: parsing tags response: %w", err)
	}

	models := make(map[string]ModelInfo, len(parsed.Models))
	for _, m := range parsed.Models {
		models[m.Name] = ModelInfo{ID: m.Name, Name: m.Name, Backend: "ollama", Loaded: true}
	}
	return models, nil
}

// CallLLM performs a non-streaming chat completion via POST /api/chat.
func (a *OllamaAdapter) CallLLM(ctx context.Context, req LlmRequest) (LlmResponse, error) {
	if err := a.limiter.Wait(ctx); err != nil {
		return LlmResponse{}, err
	}
	wireReq := ollamaChatRequest{
		Model:    req.Model,
		Messages: convertMessages(req.Messages),
		Stream:   false,
		Options:  buildOptions(req),
	}

	body, status, err := a.post(ctx, "/api/chat", wireReq)
	if err != nil {
		return LlmResponse{}, err
	}
	if status != http.StatusOK {
		return LlmResponse{}, NewAPIError("ollama", status, safeLogString(string(body)))
	}

	var parsed ollamaChatResponse
	if err := json.Unmarshal(body, &parsed); err != nil {
		return LlmResponse{}, fmt.Errorf("ollama: parsing chat response: %w", err)
	}

	promptTokens := 0
	if parsed.PromptEvalCount != nil {
		promptTokens = *parsed.PromptEvalCount
	}
	completionTokens := 0
	if parsed.EvalCount != nil {
		completionTokens = *parsed.EvalCount
	}

	var finish *string
	if parsed.Done {
		finish = nonEmptyPtr("stop")
	}

	return LlmResponse{
		Content:      parsed.Message.Content,
		Model:        parsed.Model,
		FinishReason: finish,
		Usage: &UsageInfo{
			PromptTokens:     promptTokens,
			CompletionTokens: completionTokens,
			TotalTokens:      promptTokens + completionTokens,
		},
	}, nil
}

// CallLLMStream performs a streaming chat completion, parsing Ollama's
// newline-delimited JSON chunks and stopping at the first chunk with
// done: true.
func (a *OllamaAdapter) CallLLMStream(ctx context.Context, req LlmRequest, tokens chan<- string) (string, error) {
	if err := a.limiter.Wait(ctx); err != nil {
		return "", err
	}
	wireReq := ollamaChatRequest{
		Model:    req.Model,
		Messages: convertMessages(req.Messages),
		Stream:   true,
		Options:  buildOptions(req),
	}

	reqBody, err := json.Marshal(wireReq)
	if err != nil {
		return "", fmt.Errorf("ollama: marshaling stream request: %w", err)
	}
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, a.baseURL+"/api/chat", bytes.NewReader(reqBody))
	if err != nil {
		return "", fmt.Errorf("ollama: building stream request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := a.httpClient.Do(httpReq)
	if err != nil {
		return "", fmt.Errorf("ollama: stream request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		errBody, _ := io.ReadAll(resp.Body)
		return "", NewAPIError("ollama", resp.StatusCode, safeLogString(string(errBody)))
	}

	var full strings.Builder
	scanner := bufio.NewScanner(resp.Body)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		var chunk ollamaStreamChunk
		if err := json.Unmarshal([]byte(line), &chunk); err != nil {
			continue
		}
		if chunk.Message != nil && chunk.Message.Content != "" {
			full.WriteString(chunk.Message.Content)
			select {
			case tokens <- chunk.Message.Content:
			default:
			}
		}
		if chunk.Done {
			break
		}
	}
	if err := scanner.Err(); err != nil {
		return full.String(), fmt.Errorf("ollama: reading stream: %w", err)
	}
	return full.String(), nil
}

// Embed computes embeddings via POST /api/embed. It probes the modern
// batch response shape (embeddings[][]) first and falls back to the
// legacy single-vector shape (embedding[]) for older Ollama servers.
func (a *OllamaAdapter) Embed(ctx context.Context, modelID string, texts []string) ([][]float32, error) {
	if err := a.limiter.Wait(ctx); err != nil {
		return nil, err
	}
	body, status, err := a.post(ctx, "/api/embed", map[string]any{"model": modelID, "input": texts})
	if err != nil {
		return nil, err
	}
	if status != http.StatusOK {
		return nil, NewAPIError("ollama", status, safeLogString(string(body)))
	}

	var batch ollamaEmbeddingsResponse
	if err := json.Unmarshal(body, &batch); err == nil && len(batch.Embeddings) > 0 {
		return batch.Embeddings, nil
	}

	var legacy ollamaEmbeddingResponseLegacy
	if err := json.Unmarshal(body, &legacy); err == nil && len(legacy.Embedding) > 0 {
		return [][]float32{legacy.Embedding}, nil
	}

	return nil, fmt.Errorf("ollama: failed to parse embedding response")
}

// LoadModel pulls modelID via POST /api/pull so it is resident before use.
// ttlSeconds is accepted for interface symmetry but unused: Ollama's pull
// endpoint has no TTL concept, it only ensures the model is present.
func (a *OllamaAdapter) LoadModel(ctx context.Context, modelID string, ttlSeconds *int) (bool, error) {
	if err := a.limiter.Wait(ctx); err != nil {
		return false, err
	}
	_, status, err := a.post(ctx, "/api/pull", ollamaPullRequest{Name: modelID, Stream: false})
	if err != nil {
		return false, err
	}
	return status == http.StatusOK, nil
}

// UnloadModel is a no-op: Ollama manages model residency automatically.
func (a *OllamaAdapter) UnloadModel(ctx context.Context, modelID string) (bool, error) {
	return true, nil
}

func (a *OllamaAdapter) post(ctx context.Context, path string, payload any) ([]byte, int, error) {
	reqBody, err := json.Marshal(payload)
	if err != nil {
		return nil, 0, fmt.Errorf("ollama: marshaling request: %w", err)
	}
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, a.baseURL+path, bytes.NewReader(reqBody))
	if err != nil {
		return nil, 0, fmt.Errorf("ollama: building request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := a.httpClient.Do(httpReq)
	if err != nil {
		return nil, 0, fmt.Errorf("ollama: request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, 0, fmt.Errorf("ollama: reading response: %w", err)
	}
	return body, resp.StatusCode, nil
}

func convertMessages(messages []Message) []ollamaMessage {
	out := make([]ollamaMessage, 0, len(messages))
	for _, m := range messages {
		role := m.Role
		if role == "" {
			role = "user"
		}
		out = append(out, ollamaMessage{Role: role, Content: m.Content})
	}
	return out
}

func buildOptions(req LlmRequest) map[string]any {
	options := map[string]any{}
	if req.MaxTokens != nil {
		options["num_predict"] = *req.MaxTokens
	}
	if req.Temperature != nil {
		options["temperature"] = *req.Temperature
	}
	if len(options) == 0 {
		return nil
	}
	return options
}
