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
	"log/slog"
	"net/http"
	"sort"
	"strings"
)

// =============================================================================
// OpenAI-compatible wire types
// =============================================================================

type openaiModelsResponse struct {
	Data []openaiModel `json:"data"`
}

type openaiModel struct {
	ID      string `json:"id"`
	Object  string `json:"object"`
	OwnedBy string `json:"owned_by"`
}

type openaiChatRequest struct {
	Model       string          `json:"model"`
	Messages    []openaiMessage `json:"messages"`
	Stream      bool            `json:"stream"`
	MaxTokens   *int            `json:"max_tokens,omitempty"`
	Temperature *float32        `json:"temperature,omitempty"`
	Tools       []map[string]any `json:"tools,omitempty"`
}

type openaiMessage struct {
	Role      string           `json:"role"`
	Content   string           `json:"content"`
	ToolCalls []map[string]any `json:"tool_calls,omitempty"`
}

type openaiChatResponse struct {
	ID      string          `json:"id"`
	Model   string          `json:"model"`
	Choices []openaiChoice  `json:"choices"`
	Usage   *openaiUsage    `json:"usage,omitempty"`
}

type openaiChoice struct {
	Index        int            `json:"index"`
	Message      openaiMessage  `json:"message"`
	FinishReason string         `json:"finish_reason"`
}

type openaiUsage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

type openaiStreamChunk struct {
	Choices []openaiStreamChoice `json:"choices"`
}

type openaiStreamChoice struct {
	Delta        openaiStreamDelta `json:"delta"`
	FinishReason *string           `json:"finish_reason"`
}

type openaiStreamDelta struct {
	Content string `json:"content"`
}

type openaiEmbeddingRequest struct {
	Model string   `json:"model"`
	Input []string `json:"input"`
}

type openaiEmbeddingResponse struct {
	Data  []openaiEmbeddingData `json:"data"`
	Model string                `json:"model"`
}

type openaiEmbeddingData struct {
	Embedding []float32 `json:"embedding"`
	Index     int       `json:"index"`
}

// =============================================================================
// OpenAIAdapter
// =============================================================================

// OpenAIAdapter talks to any OpenAI-compatible REST API (api.openai.com or
// a self-hosted drop-in) using raw net/http, matching the rest of the
// adapter family rather than pulling in a vendor SDK.
//
// Thread Safety: safe for concurrent use.
type OpenAIAdapter struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
	limiter    *Limiter
}

// NewOpenAIAdapter builds an OpenAIAdapter. apiKey may be empty for
// backends that don't require auth. httpClient should be a shared client
// per the router's connection-pool policy; a nil client falls back to
// http.DefaultClient.
func NewOpenAIAdapter(baseURL, apiKey string, httpClient *http.Client, limiter *Limiter) *OpenAIAdapter {
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	return &OpenAIAdapter{
		baseURL:    strings.TrimRight(baseURL, "/"),
		apiKey:     apiKey,
		httpClient: httpClient,
		limiter:    limiter,
	}
}

func (a *OpenAIAdapter) authHeader(req *http.Request) {
	if a.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+a.apiKey)
	}
	req.Header.Set("Content-Type", "application/json")
}

// DiscoverModels lists models via GET /v1/models.
func (a *OpenAIAdapter) DiscoverModels(ctx context.Context) (map[string]ModelInfo, error) {
	if err := a.limiter.Wait(ctx); err != nil {
		return nil, err
	}
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, a.baseURL+"/v1/models", nil)
	if err != nil {
		return nil, fmt.Errorf("openai: building models request: %w", err)
	}
	a.authHeader(httpReq)

	resp, err := a.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("openai: models request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("openai: reading models response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, NewAPIError("openai", resp.StatusCode, safeLogString(string(body)))
	}

	var parsed openaiModelsResponse
	if err := json.Unmarshal(body, &parsed); err != nil {
		return nil, fmt.Errorf("openai: parsing models response: %w", err)
	}

	models := make(map[string]ModelInfo, len(parsed.Data))
	for _, m := range parsed.Data {
		models[m.ID] = ModelInfo{ID: m.ID, Name: m.ID, Backend: "openai", Loaded: true}
	}
	return models, nil
}

// CallLLM performs a non-streaming chat completion via POST
// /v1/chat/completions.
func (a *OpenAIAdapter) CallLLM(ctx context.Context, req LlmRequest) (LlmResponse, error) {
	if err := a.limiter.Wait(ctx); err != nil {
		return LlmResponse{}, err
	}
	wireReq := openaiChatRequest{
		Model:       req.Model,
		Messages:    toOpenAIMessages(req.Messages),
		Stream:      false,
		MaxTokens:   req.MaxTokens,
		Temperature: req.Temperature,
		Tools:       req.Tools,
	}

	body, status, err := a.post(ctx, "/v1/chat/completions", wireReq)
	if err != nil {
		return LlmResponse{}, err
	}
	if status != http.StatusOK {
		return LlmResponse{}, NewAPIError("openai", status, safeLogString(string(body)))
	}

	var parsed openaiChatResponse
	if err := json.Unmarshal(body, &parsed); err != nil {
		return LlmResponse{}, fmt.Errorf("openai: parsing chat response: %w", err)
	}
	if len(parsed.Choices) == 0 {
		return LlmResponse{}, fmt.Errorf("openai: response contained no choices")
	}

	choice := parsed.Choices[0]
	resp := LlmResponse{
		Content:      choice.Message.Content,
		Model:        parsed.Model,
		FinishReason: nonEmptyPtr(choice.FinishReason),
		ToolCalls:    choice.Message.ToolCalls,
	}
	if parsed.Usage != nil {
		resp.Usage = &UsageInfo{
			PromptTokens:     parsed.Usage.PromptTokens,
			CompletionTokens: parsed.Usage.CompletionTokens,
			TotalTokens:      parsed.Usage.TotalTokens,
		}
	}
	return resp, nil
}

// CallLLMStream performs a streaming chat completion, parsing the
// "data: <json>" / "data: [DONE]" Server-Sent Events wire format.
func (a *OpenAIAdapter) CallLLMStream(ctx context.Context, req LlmRequest, tokens chan<- string) (string, error) {
	if err := a.limiter.Wait(ctx); err != nil {
		return "", err
	}
	wireReq := openaiChatRequest{
		Model:       req.Model,
		Messages:    toOpenAIMessages(req.Messages),
		Stream:      true,
		MaxTokens:   req.MaxTokens,
		Temperature: req.Temperature,
	}

	reqBody, err := json.Marshal(wireReq)
	if err != nil {
		return "", fmt.Errorf("openai: marshaling stream request: %w", err)
	}
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, a.baseURL+"/v1/chat/completions", bytes.NewReader(reqBody))
	if err != nil {
		return "", fmt.Errorf("openai: building stream request: %w", err)
	}
	a.authHeader(httpReq)

	resp, err := a.httpClient.Do(httpReq)
	if err != nil {
		return "", fmt.Errorf("openai: stream request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		errBody, _ := io.ReadAll(resp.Body)
		return "", NewAPIError("openai", resp.StatusCode, safeLogString(string(errBody)))
	}

	var full strings.Builder
	scanner := bufio.NewScanner(resp.Body)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if !strings.HasPrefix(line, "data: ") {
			continue
		}
		data := strings.TrimPrefix(line, "data: ")
		if data == "[DONE]" {
			continue
		}
		var chunk openaiStreamChunk
		if err := json.Unmarshal([]byte(data), &chunk); err != nil {
			slog.Debug("openai: skipping unparsable stream chunk", slog.String("error", err.Error()))
			continue
		}
		for _, choice := range chunk.Choices {
			if choice.Delta.Content == "" {
				continue
			}
			full.WriteString(choice.Delta.Content)
			select {
			case tokens <- choice.Delta.Content:
			default:
			}
		}
	}
	if err := scanner.Err(); err != nil {
		return full.String(), fmt.Errorf("openai: reading stream: %w", err)
	}
	return full.String(), nil
}

// Embed computes embeddings via POST /v1/embeddings, reordering the
// response by index since the server may interleave batch results.
func (a *OpenAIAdapter) Embed(ctx context.Context, modelID string, texts []string) ([][]float32, error) {
	if err := a.limiter.Wait(ctx); err != nil {
		return nil, err
	}
	body, status, err := a.post(ctx, "/v1/embeddings", openaiEmbeddingRequest{Model: modelID, Input: texts})
	if err != nil {
		return nil, err
	}
	if status != http.StatusOK {
		return nil, NewAPIError("openai", status, safeLogString(string(body)))
	}

	var parsed openaiEmbeddingResponse
	if err := json.Unmarshal(body, &parsed); err != nil {
		return nil, fmt.Errorf("openai: parsing embeddings response: %w", err)
	}

	sort.Slice(parsed.Data, func(i, j int) bool { return parsed.Data[i].Index < parsed.Data[j].Index })
	out := make([][]float32, len(parsed.Data))
	for i, d := range parsed.Data {
		out[i] = d.Embedding
	}
	return out, nil
}

// LoadModel is a no-op for OpenAI-compatible backends: they manage model
// residency themselves.
func (a *OpenAIAdapter) LoadModel(ctx context.Context, modelID string, ttlSeconds *int) (bool, error) {
	return true, nil
}

// UnloadModel is a no-op for OpenAI-compatible backends.
func (a *OpenAIAdapter) UnloadModel(ctx context.Context, modelID string) (bool, error) {
	return true, nil
}

func (a *OpenAIAdapter) post(ctx context.Context, path string, payload any) ([]byte, int, error) {
	reqBody, err := json.Marshal(payload)
	if err != nil {
		return nil, 0, fmt.Errorf("openai: marshaling request: %w", err)
	}
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, a.baseURL+path, bytes.NewReader(reqBody))
	if err != nil {
		return nil, 0, fmt.Errorf("openai: building request: %w", err)
	}
	a.authHeader(httpReq)

	resp, err := a.httpClient.Do(httpReq)
	if err != nil {
		return nil, 0, fmt.Errorf("openai: request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, 0, fmt.Errorf("openai: reading response: %w", err)
	}
	return body, resp.StatusCode, nil
}

func toOpenAIMessages(messages []Message) []openaiMessage {
	out := make([]openaiMessage, 0, len(messages))
	for _, m := range messages {
		role := m.Role
		if role == "" {
			role = "user"
		}
		out = append(out, openaiMessage{Role: role, Content: m.Content})
	}
	return out
}

func nonEmptyPtr(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
