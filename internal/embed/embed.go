// Package embed implements the embedding client (C2): it batches texts to a
// remote embedding API, retries transient failures with full jitter, and
// preserves input order across batching and retry.
package embed

import (
	"bytes"
	"context"
	"encoding/json"
	stderrors "errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	cidxerrors "github.com/cidx-dev/cidx/internal/errors"
)

const (
	// DefaultBatchCount is the maximum number of texts per request.
	DefaultBatchCount = 128
	// DefaultBatchCharBudget approximates a token budget using characters.
	DefaultBatchCharBudget = 100_000
	// DefaultPerItemCharCeiling truncates any single oversized text.
	DefaultPerItemCharCeiling = 32_000
	// DefaultRequestTimeout is the per-attempt HTTP timeout (§5: 60s/attempt).
	DefaultRequestTimeout = 60 * time.Second

	// circuitMaxFailures opens the breaker after this many consecutive
	// embedBatch failures (each already exhausted its own retries).
	circuitMaxFailures = 5
	// circuitResetTimeout is how long the breaker stays open before allowing
	// one half-open probe request through.
	circuitResetTimeout = 30 * time.Second
)

// Embedder produces fixed-dimension vectors for a batch of texts, preserving
// input order.
type Embedder interface {
	Embed(ctx context.Context, texts []string) ([][]float32, error)
	Dimensions() int
	ModelName() string
}

// Client is the Voyage-style HTTPS embedding client named in §6: POST with
// Authorization: Bearer <key>, body {model, input}, response
// {data: [{embedding, index}], usage}.
type Client struct {
	endpoint   string
	apiKey     string
	model      string
	dimensions int

	httpClient *http.Client
	retryCfg   cidxerrors.RetryConfig
	breaker    *cidxerrors.CircuitBreaker

	batchCount        int
	batchCharBudget   int
	perItemCharCeiling int

	logger *slog.Logger
}

// Config configures a Client.
type Config struct {
	Endpoint   string
	APIKey     string
	Model      string
	Dimensions int
	Logger     *slog.Logger
}

// New builds a Client. httpClient connection pooling mirrors the teacher's
// Ollama client: idle connections are kept warm, but no blanket
// http.Client.Timeout is set so that per-attempt context deadlines remain
// the single source of truth for request timeouts.
func New(cfg Config) *Client {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Client{
		endpoint:   cfg.Endpoint,
		apiKey:     cfg.APIKey,
		model:      cfg.Model,
		dimensions: cfg.Dimensions,
		httpClient: &http.Client{
			Transport: &http.Transport{
				MaxIdleConns:    16,
				IdleConnTimeout: 10 * time.Second,
			},
		},
		retryCfg: cidxerrors.DefaultRetryConfig(),
		breaker: cidxerrors.NewCircuitBreaker("embed-client",
			cidxerrors.WithMaxFailures(circuitMaxFailures),
			cidxerrors.WithResetTimeout(circuitResetTimeout)),
		batchCount:         DefaultBatchCount,
		batchCharBudget:    DefaultBatchCharBudget,
		perItemCharCeiling: DefaultPerItemCharCeiling,
		logger:             logger,
	}
}

// Dimensions returns the configured embedding dimensionality.
func (c *Client) Dimensions() int { return c.dimensions }

// ModelName returns the configured embedding model name.
func (c *Client) ModelName() string { return c.model }

// Embed embeds texts, batching to respect count and character-budget
// limits, and returns vectors in the same order as texts.
func (c *Client) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	truncated := make([]string, len(texts))
	for i, t := range texts {
		truncated[i] = c.truncate(t, i)
	}

	batches := batchTexts(truncated, c.batchCount, c.batchCharBudget)

	result := make([][]float32, len(texts))
	offset := 0
	for _, batch := range batches {
		vecs, err := c.embedBatch(ctx, batch)
		if err != nil {
			return nil, err
		}
		copy(result[offset:offset+len(batch)], vecs)
		offset += len(batch)
	}

	return result, nil
}

func (c *Client) truncate(text string, index int) string {
	if len(text) <= c.perItemCharCeiling {
		return text
	}
	c.logger.Warn("embed: truncating oversized text", slog.Int("index", index), slog.Int("original_len", len(text)))
	return text[:c.perItemCharCeiling]
}

// batchTexts packs texts into ordered groups, each respecting maxCount items
// and maxChars total length. A single item exceeding maxChars still gets its
// own batch (it was already truncated by the caller).
func batchTexts(texts []string, maxCount, maxChars int) [][]string {
	var batches [][]string
	var current []string
	currentChars := 0

	for _, t := range texts {
		if len(current) > 0 && (len(current) >= maxCount || currentChars+len(t) > maxChars) {
			batches = append(batches, current)
			current = nil
			currentChars = 0
		}
		current = append(current, t)
		currentChars += len(t)
	}
	if len(current) > 0 {
		batches = append(batches, current)
	}
	return batches
}

type embedRequest struct {
	Model string   `json:"model"`
	Input []string `json:"input"`
}

type embedDatum struct {
	Embedding []float32 `json:"embedding"`
	Index     int       `json:"index"`
}

type embedResponse struct {
	Data  []embedDatum `json:"data"`
	Usage struct {
		Tokens int `json:"tokens"`
	} `json:"usage"`
}

// embedBatch sends one HTTP request, retrying transient failures per §4.2's
// backoff policy. Auth failures (401/403) fail immediately; malformed-input
// (400) fails the batch without retry. The whole retried operation runs
// behind a circuit breaker: once a batch exhausts its retries enough times
// in a row, later batches fail fast instead of hammering a provider that's
// down.
func (c *Client) embedBatch(ctx context.Context, batch []string) ([][]float32, error) {
	var out [][]float32

	err := c.breaker.Execute(func() error {
		return cidxerrors.Retry(ctx, c.retryCfg, func() error {
			vecs, err := c.doRequest(ctx, batch)
			if err != nil {
				return err
			}
			out = vecs
			return nil
		})
	})
	if err != nil {
		if stderrors.Is(err, cidxerrors.ErrCircuitOpen) {
			return nil, cidxerrors.New(cidxerrors.CodeNetworkCircuitOpen,
				"embedding provider circuit breaker open after repeated failures", err).
				WithSuggestion("wait for the breaker to reset or check the embedding provider's status")
		}
		return nil, err
	}
	return out, nil
}

func (c *Client) doRequest(ctx context.Context, batch []string) ([][]float32, error) {
	reqCtx, cancel := context.WithTimeout(ctx, DefaultRequestTimeout)
	defer cancel()

	body, err := json.Marshal(embedRequest{Model: c.model, Input: batch})
	if err != nil {
		return nil, cidxerrors.InternalError("marshal embed request", err)
	}

	req, err := http.NewRequestWithContext(reqCtx, http.MethodPost, c.endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, cidxerrors.InternalError("build embed request", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.apiKey)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, cidxerrors.NetworkError("embedding request failed", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, cidxerrors.NetworkError("reading embedding response", err)
	}

	switch {
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		return nil, cidxerrors.AuthError(fmt.Sprintf("embedding provider rejected credentials (status %d)", resp.StatusCode), nil).
			WithSuggestion("Check that VOYAGE_API_KEY is set and valid")
	case resp.StatusCode == http.StatusBadRequest:
		return nil, cidxerrors.New(cidxerrors.CodeBadInputDimension, "embedding provider rejected request body", nil).
			WithDetail("status", fmt.Sprintf("%d", resp.StatusCode)).
			WithDetail("body", string(respBody))
	case resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500:
		return nil, cidxerrors.New(cidxerrors.CodeNetworkRateLimited, "embedding provider returned a transient error", nil).
			WithDetail("status", fmt.Sprintf("%d", resp.StatusCode))
	case resp.StatusCode != http.StatusOK:
		return nil, cidxerrors.InternalError(fmt.Sprintf("unexpected embedding provider status %d", resp.StatusCode), nil)
	}

	var parsed embedResponse
	if err := json.Unmarshal(respBody, &parsed); err != nil {
		return nil, cidxerrors.InternalError("parsing embedding response", err)
	}

	vecs := make([][]float32, len(batch))
	for _, d := range parsed.Data {
		if d.Index < 0 || d.Index >= len(vecs) {
			continue
		}
		vecs[d.Index] = d.Embedding
	}
	return vecs, nil
}
