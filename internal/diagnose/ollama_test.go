package diagnose

import (
	"context"
	"encoding/json"
	"errors"
	"net"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestOllamaGenerate(t *testing.T) {
	var got generateRequest
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/generate", r.URL.Path)
		assert.Equal(t, http.MethodPost, r.Method)
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		_ = json.NewEncoder(w).Encode(generateResponse{Response: "SUMMARY: ok"})
	}))
	t.Cleanup(server.Close)

	o := NewOllama(zerolog.Nop(), server.URL+"/", "llama3")
	text, err := o.Generate(context.Background(), "hello")
	require.NoError(t, err)

	assert.Equal(t, "SUMMARY: ok", text)
	assert.Equal(t, "llama3", got.Model)
	assert.Equal(t, "hello", got.Prompt)
	assert.False(t, got.Stream)
	assert.InDelta(t, 0.2, got.Options.Temperature, 1e-9)
}

func TestOllamaGenerate_StatusClassification(t *testing.T) {
	cases := []struct {
		status    int
		retryable bool
	}{
		{http.StatusBadRequest, false},
		{http.StatusNotFound, false},
		{http.StatusTooManyRequests, true},
		{http.StatusInternalServerError, true},
		{http.StatusServiceUnavailable, true},
	}

	for _, tc := range cases {
		t.Run(http.StatusText(tc.status), func(t *testing.T) {
			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
				http.Error(w, "nope", tc.status)
			}))
			t.Cleanup(server.Close)

			_, err := NewOllama(zerolog.Nop(), server.URL, "llama3").Generate(context.Background(), "p")

			var be *BackendError
			require.True(t, errors.As(err, &be))
			assert.Equal(t, tc.status, be.StatusCode)
			assert.Equal(t, tc.retryable, be.Retryable)
			assert.False(t, be.Connection)
		})
	}
}

func TestOllamaGenerate_EmptyResponseIsRetryable(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_ = json.NewEncoder(w).Encode(generateResponse{Response: "  "})
	}))
	t.Cleanup(server.Close)

	_, err := NewOllama(zerolog.Nop(), server.URL, "llama3").Generate(context.Background(), "p")

	var be *BackendError
	require.True(t, errors.As(err, &be))
	assert.True(t, be.Retryable)
}

func TestOllamaGenerate_ConnectionRefused(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	addr := ln.Addr().String()
	require.NoError(t, ln.Close())

	_, err = NewOllama(zerolog.Nop(), "http://"+addr, "llama3").Generate(context.Background(), "p")

	var be *BackendError
	require.True(t, errors.As(err, &be))
	assert.True(t, be.Connection)
	assert.True(t, be.Retryable)
}

func TestOllamaReady(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/tags", r.URL.Path)
		_, _ = w.Write([]byte(`{"models":[{"name":"mistral:7b"},{"name":"llama3:latest"}]}`))
	}))
	t.Cleanup(server.Close)

	assert.NoError(t, NewOllama(zerolog.Nop(), server.URL, "llama3").Ready(context.Background()))

	err := NewOllama(zerolog.Nop(), server.URL, "phi3").Ready(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "mistral:7b")
}
