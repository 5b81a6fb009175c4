package ai

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestClient(t *testing.T, handler http.HandlerFunc) *Client {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	client, err := NewClient(srv.URL, WithLogger(quietLogger()))
	require.NoError(t, err)
	return client
}

func TestCompleteSendsGenerateRequest(t *testing.T) {
	var got generateRequest
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/api/generate", r.URL.Path)
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"model":"llama3.1","response":"Hello!","done":true}`))
	})

	text := client.Complete(context.Background(), "Hi")
	assert.Equal(t, "Hello!", text)
	assert.Equal(t, "llama3.1", got.Model)
	assert.Equal(t, "Hi", got.Prompt)
	assert.False(t, got.Stream)
}

func TestCompleteEmptyResponseIsKept(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"response":""}`))
	})
	assert.Equal(t, "", client.Complete(context.Background(), "Hi"))
}

func TestCompleteFallsBackToApology(t *testing.T) {
	cases := map[string]http.HandlerFunc{
		"non-2xx": func(w http.ResponseWriter, r *http.Request) {
			http.Error(w, "model not loaded", http.StatusInternalServerError)
		},
		"error field": func(w http.ResponseWriter, r *http.Request) {
			_, _ = w.Write([]byte(`{"error":"model 'llama3.1' not found"}`))
		},
		"null error field": func(w http.ResponseWriter, r *http.Request) {
			_, _ = w.Write([]byte(`{"response":"x","error":null}`))
		},
		"empty error field": func(w http.ResponseWriter, r *http.Request) {
			_, _ = w.Write([]byte(`{"response":"x","error":""}`))
		},
		"missing response": func(w http.ResponseWriter, r *http.Request) {
			_, _ = w.Write([]byte(`{"done":true}`))
		},
		"malformed json": func(w http.ResponseWriter, r *http.Request) {
			_, _ = w.Write([]byte(`{"response":`))
		},
	}
	for name, handler := range cases {
		t.Run(name, func(t *testing.T) {
			client := newTestClient(t, handler)
			assert.Equal(t, ApologyMessage, client.Complete(context.Background(), "Hi"))
		})
	}
}

func TestCompleteUnreachableServer(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()

	client, err := NewClient(url, WithLogger(quietLogger()))
	require.NoError(t, err)
	assert.Equal(t, ApologyMessage, client.Complete(context.Background(), "Hi"))
}

func TestGenerateReportsStatus(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	})
	_, err := client.Generate(context.Background(), "Hi")
	var statusErr *HTTPStatusError
	require.ErrorAs(t, err, &statusErr)
	assert.Equal(t, http.StatusServiceUnavailable, statusErr.StatusCode)
}

func TestNewClientOptions(t *testing.T) {
	_, err := NewClient("  ")
	require.Error(t, err)

	custom := &http.Client{}
	client, err := NewClient("http://ollama:11434/", WithModel("mistral"), WithHTTPClient(custom))
	require.NoError(t, err)
	assert.Equal(t, "mistral", client.Model())
	assert.Equal(t, "http://ollama:11434", client.baseURL)
	assert.Same(t, custom, client.httpClient)
}
