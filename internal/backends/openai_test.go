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
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestOpenAIAdapter_CallLLM(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/v1/chat/completions", r.URL.Path)
		require.Equal(t, "Bearer secret", r.Header.Get("Authorization"))
		_ = json.NewEncoder(w).Encode(openaiChatResponse{
			Model: "gpt-test",
			Choices: []openaiChoice{{
				Message:      openaiMessage{Role: "assistant", Content: "hello"},
				FinishReason: "stop",
			}},
			Usage: &openaiUsage{PromptTokens: 3, CompletionTokens: 1, TotalTokens: 4},
		})
	}))
	defer server.Close()

	adapter := NewOpenAIAdapter(server.URL, "secret", server.Client(), nil)
	resp, err := adapter.CallLLM(context.Background(), LlmRequest{
		Model:    "gpt-test",
		Messages: []Message{{Role: "user", Content: "hi"}},
	})
	require.NoError(t, err)
	require.Equal(t, "hello", resp.Content)
	require.Equal(t, "stop", *resp.FinishReason)
	require.Equal(t, 4, resp.Usage.TotalTokens)
}

func TestOpenAIAdapter_CallLLM_APIError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
		_, _ = w.Write([]byte(`{"error":"sk-ant-REDACTED is invalid"}`))
	}))
	defer server.Close()

	adapter := NewOpenAIAdapter(server.URL, "bad", server.Client(), nil)
	_, err := adapter.CallLLM(context.Background(), LlmRequest{Model: "gpt-test"})
	require.Error(t, err)
	var apiErr *ApiError
	require.ErrorAs(t, err, &apiErr)
	require.Equal(t, http.StatusUnauthorized, apiErr.Status)
}

func TestOpenAIAdapter_Embed_ReordersByIndex(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(openaiEmbeddingResponse{
			Data: []openaiEmbeddingData{
				{Embedding: []float32{2}, Index: 2},
				{Embedding: []float32{0}, Index: 0},
				{Embedding: []float32{1}, Index: 1},
			},
		})
	}))
	defer server.Close()

	adapter := NewOpenAIAdapter(server.URL, "", server.Client(), nil)
	out, err := adapter.Embed(context.Background(), "embed-test", []string{"a", "b", "c"})
	require.NoError(t, err)
	require.Equal(t, [][]float32{{0}, {1}, {2}}, out)
}

func TestOpenAIAdapter_CallLLMStream(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		flusher := w.(http.Flusher)
		_, _ = w.Write([]byte("data: {\"choices\":[{\"delta\":{\"content\":\"He\"}}]}\n\n"))
		flusher.Flush()
		_, _ = w.Write([]byte("data: {\"choices\":[{\"delta\":{\"content\":\"llo\"}}]}\n\n"))
		flusher.Flush()
		_, _ = w.Write([]byte("data: [DONE]\n\n"))
		flusher.Flush()
	}))
	defer server.Close()

	adapter := NewOpenAIAdapter(server.URL, "", server.Client(), nil)
	tokens := make(chan string, 8)
	full, err := adapter.CallLLMStream(context.Background(), LlmRequest{Model: "gpt-test"}, tokens)
	require.NoError(t, err)
	require.Equal(t, "Hello", full)
}
