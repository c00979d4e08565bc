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

func TestOllamaAdapter_CallLLM_DoneSetsFinishReason(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(ollamaChatResponse{
			Message:         ollamaMessage{Content: "hi there"},
			Model:           "llama3",
			Done:            true,
			PromptEvalCount: intPtr(5),
			EvalCount:       intPtr(2),
		})
	}))
	defer server.Close()

	adapter := NewOllamaAdapter(server.URL, server.Client(), nil)
	resp, err := adapter.CallLLM(context.Background(), LlmRequest{Model: "llama3"})
	require.NoError(t, err)
	require.Equal(t, "hi there", resp.Content)
	require.Equal(t, "stop", *resp.FinishReason)
	require.Equal(t, 7, resp.Usage.TotalTokens)
}

func TestOllamaAdapter_CallLLMStream_StopsAtDone(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		flusher := w.(http.Flusher)
		_, _ = w.Write([]byte(`{"message":{"content":"foo"},"done":false}` + "\n"))
		flusher.Flush()
		_, _ = w.Write([]byte(`{"message":{"content":"bar"},"done":true}` + "\n"))
		flusher.Flush()
		_, _ = w.Write([]byte(`{"message":{"content":"should-not-appear"},"done":false}` + "\n"))
		flusher.Flush()
	}))
	defer server.Close()

	adapter := NewOllamaAdapter(server.URL, server.Client(), nil)
	tokens := make(chan string, 8)
	full, err := adapter.CallLLMStream(context.Background(), LlmRequest{Model: "llama3"}, tokens)
	require.NoError(t, err)
	require.Equal(t, "foobar", full)
}

func TestOllamaAdapter_Embed_FallsBackToLegacyShape(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"embedding":[0.1,0.2,0.3]}`))
	}))
	defer server.Close()

	adapter := NewOllamaAdapter(server.URL, server.Client(), nil)
	out, err := adapter.Embed(context.Background(), "nomic-embed-text", []string{"hi"})
	require.NoError(t, err)
	require.Equal(t, [][]float32{{0.1, 0.2, 0.3}}, out)
}

func TestOllamaAdapter_Embed_PrefersBatchShape(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"embeddings":[[0.1,0.2],[0.3,0.4]]}`))
	}))
	defer server.Close()

	adapter := NewOllamaAdapter(server.URL, server.Client(), nil)
	out, err := adapter.Embed(context.Background(), "nomic-embed-text", []string{"a", "b"})
	require.NoError(t, err)
	require.Equal(t, [][]float32{{0.1, 0.2}, {0.3, 0.4}}, out)
}

func intPtr(v int) *int { return &v }
