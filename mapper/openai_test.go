package mapper

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// serveEmbeddings answers /embeddings with [len(text), position] vectors in
// reverse order so callers must honour the index field.
func serveEmbeddings(t *testing.T, requests *atomic.Int32) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !strings.HasSuffix(r.URL.Path, "/embeddings") {
			http.NotFound(w, r)
			return
		}
		requests.Add(1)
		var body struct {
			Input []string `json:"input"`
			Model string   `json:"model"`
		}
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		data := make([]map[string]any, 0, len(body.Input))
		for i := len(body.Input) - 1; i >= 0; i-- {
			data = append(data, map[string]any{
				"object":    "embedding",
				"index":     i,
				"embedding": []float64{float64(len(body.Input[i])), float64(i)},
			})
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{
			"object": "list",
			"data":   data,
			"model":  body.Model,
			"usage":  map[string]any{"prompt_tokens": 1, "total_tokens": 1},
		})
	}))
}

func TestOpenAIBackendBatchesAndKeepsOrder(t *testing.T) {
	var requests atomic.Int32
	srv := serveEmbeddings(t, &requests)
	defer srv.Close()

	backend := NewOpenAIBackend(OpenAIConfig{
		Model:       "text-embedding-3-small",
		APIKey:      "test-key",
		BaseURL:     srv.URL,
		BatchSize:   2,
		Concurrency: 2,
	})
	texts := []string{"a", "bb", "ccc", "dddd", "eeeee"}
	vecs, err := backend.Encode(context.Background(), texts)
	require.NoError(t, err)
	require.Len(t, vecs, len(texts))
	for i, text := range texts {
		assert.Equal(t, float32(len(text)), vecs[i][0], text)
		assert.Equal(t, float32(i%2), vecs[i][1], "position within batch")
	}
	assert.Equal(t, int32(3), requests.Load())
	assert.Equal(t, "openai:text-embedding-3-small", backend.ModelID())
}

func TestOpenAIBackendSendsPlaceholderForEmptyText(t *testing.T) {
	var requests atomic.Int32
	srv := serveEmbeddings(t, &requests)
	defer srv.Close()

	backend := NewOpenAIBackend(OpenAIConfig{APIKey: "k", BaseURL: srv.URL, RequestsPerMinute: 600})
	vecs, err := backend.Encode(context.Background(), []string{""})
	require.NoError(t, err)
	assert.Equal(t, float32(1), vecs[0][0])
}

func TestOpenAIBackendReportsAPIErrors(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusBadRequest)
		_, _ = w.Write([]byte(`{"error": {"message": "bad input", "type": "invalid_request_error"}}`))
	}))
	defer srv.Close()

	backend := NewOpenAIBackend(OpenAIConfig{APIKey: "k", BaseURL: srv.URL})
	_, err := backend.Encode(context.Background(), []string{"x"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "openai embeddings")
}

func TestNewEmbedderSelectsBackend(t *testing.T) {
	e, err := NewEmbedder(EmbedderConfig{Backend: BackendLexical, Dimensions: 32}, nil)
	require.NoError(t, err)
	assert.Equal(t, "lexical-32", e.ModelID())

	e, err = NewEmbedder(EmbedderConfig{Backend: BackendOpenAI, OpenAI: OpenAIConfig{Model: "m", APIKey: "k"}}, nil)
	require.NoError(t, err)
	assert.Equal(t, "openai:m", e.ModelID())

	_, err = NewEmbedder(EmbedderConfig{Backend: "word2vec"}, nil)
	assert.Error(t, err)
}
