package diagnose

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"
	"syscall"

	"github.com/hashicorp/go-retryablehttp"
	"github.com/rs/zerolog"
)

const ollamaErrorBodyLimit = 1024

// Backend generates a completion for a prompt.
type Backend interface {
	Generate(ctx context.Context, prompt string) (string, error)
}

// BackendError classifies a failed Generate call.
type BackendError struct {
	StatusCode int
	// Connection marks failures to reach the backend at all.
	Connection bool
	Retryable  bool
	Err        error
}

func (e *BackendError) Error() string {
	return e.Err.Error()
}

func (e *BackendError) Unwrap() error {
	return e.Err
}

// Ollama calls a local Ollama server.
type Ollama struct {
	logger  zerolog.Logger
	baseURL string
	model   string
	client  *retryablehttp.Client
}

type generateRequest struct {
	Model   string          `json:"model"`
	Prompt  string          `json:"prompt"`
	Stream  bool            `json:"stream"`
	Options generateOptions `json:"options"`
}

type generateOptions struct {
	Temperature float64 `json:"temperature"`
	TopP        float64 `json:"top_p"`
	NumPredict  int     `json:"num_predict"`
}

type generateResponse struct {
	Response string `json:"response"`
	Error    string `json:"error,omitempty"`
}

type tagsResponse struct {
	Models []struct {
		Name string `json:"name"`
	} `json:"models"`
}

// NewOllama returns a backend for the server at baseURL. Transport retries are
// disabled; the Engine owns the retry policy.
func NewOllama(logger zerolog.Logger, baseURL, model string) *Ollama {
	client := retryablehttp.NewClient()
	client.RetryMax = 0
	client.CheckRetry = func(_ context.Context, _ *http.Response, _ error) (bool, error) {
		return false, nil
	}
	client.Logger = nil
	client.HTTPClient = &http.Client{}

	return &Ollama{
		logger:  logger,
		baseURL: strings.TrimRight(baseURL, "/"),
		model:   model,
		client:  client,
	}
}

// Generate implements Backend. The caller bounds the call with ctx.
func (o *Ollama) Generate(ctx context.Context, prompt string) (string, error) {
	payload, err := json.Marshal(generateRequest{
		Model:  o.model,
		Prompt: prompt,
		Stream: false,
		Options: generateOptions{
			Temperature: 0.2,
			TopP:        0.9,
			NumPredict:  1000,
		},
	})
	if err != nil {
		return "", &BackendError{Err: fmt.Errorf("encode ollama request: %w", err)}
	}

	req, err := retryablehttp.NewRequestWithContext(ctx, http.MethodPost, o.baseURL+"/api/generate", bytes.NewReader(payload))
	if err != nil {
		return "", &BackendError{Err: fmt.Errorf("build ollama request: %w", err)}
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := o.client.Do(req)
	if err != nil {
		return "", classifyTransportError(err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, ollamaErrorBodyLimit))
		return "", &BackendError{
			StatusCode: resp.StatusCode,
			Retryable:  resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= http.StatusInternalServerError,
			Err:        fmt.Errorf("ollama request failed: %s (%s)", resp.Status, strings.TrimSpace(string(body))),
		}
	}

	var decoded generateResponse
	if err := json.NewDecoder(resp.Body).Decode(&decoded); err != nil {
		return "", &BackendError{Retryable: true, Err: fmt.Errorf("decode ollama response: %w", err)}
	}
	if decoded.Error != "" {
		return "", &BackendError{Retryable: true, Err: fmt.Errorf("ollama error: %s", decoded.Error)}
	}
	if strings.TrimSpace(decoded.Response) == "" {
		return "", &BackendError{Retryable: true, Err: errors.New("ollama returned an empty response")}
	}
	return decoded.Response, nil
}

// Ready reports whether the server answers and has the configured model pulled.
func (o *Ollama) Ready(ctx context.Context) error {
	req, err := retryablehttp.NewRequestWithContext(ctx, http.MethodGet, o.baseURL+"/api/tags", nil)
	if err != nil {
		return err
	}
	resp, err := o.client.Do(req)
	if err != nil {
		return classifyTransportError(err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("ollama not responding: %s", resp.Status)
	}

	var tags tagsResponse
	if err := json.NewDecoder(resp.Body).Decode(&tags); err != nil {
		return fmt.Errorf("decode ollama tags: %w", err)
	}
	available := make([]string, 0, len(tags.Models))
	for _, m := range tags.Models {
		if m.Name == o.model || strings.TrimSuffix(m.Name, ":latest") == o.model {
			return nil
		}
		available = append(available, m.Name)
	}
	return fmt.Errorf("model %s not found; available: %s", o.model, strings.Join(available, ", "))
}

func classifyTransportError(err error) error {
	be := &BackendError{Retryable: true, Err: fmt.Errorf("ollama request failed: %w", err)}
	if errors.Is(err, context.Canceled) {
		be.Retryable = false
		return be
	}
	var opErr *net.OpError
	if errors.Is(err, syscall.ECONNREFUSED) || (errors.As(err, &opErr) && opErr.Op == "dial") {
		be.Connection = true
	}
	return be
}
