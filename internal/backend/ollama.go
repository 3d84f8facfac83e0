package backend

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/sony/gobreaker"

	"github.com/cindex-dev/cindex/internal/cerrors"
)

// Client talks to an Ollama-compatible model service. It serves both
// embedding and summary generation, with exponential-backoff retry for
// transient transport failures and a circuit breaker around the call path.
type Client struct {
	client    *http.Client
	transport *http.Transport
	cfg       Config
	breaker   *gobreaker.CircuitBreaker
	logger    *slog.Logger

	mu     sync.RWMutex
	closed bool
}

var (
	_ Embedder  = (*Client)(nil)
	_ Generator = (*Client)(nil)
)

// NewClient creates an Ollama client and, unless cfg.SkipVerify is set,
// verifies that the embedding model is installed and produces vectors of
// the configured dimensionality. Both failures are fatal.
func NewClient(ctx context.Context, cfg Config, logger *slog.Logger) (*Client, error) {
	cfg = cfg.withDefaults()
	if logger == nil {
		logger = slog.Default()
	}

	// Short idle timeout: indexing runs are short-lived and connections
	// should drain quickly after cancellation.
	transport := &http.Transport{
		MaxIdleConns:        cfg.PoolSize,
		MaxIdleConnsPerHost: cfg.PoolSize,
		MaxConnsPerHost:     cfg.PoolSize * 2,
		IdleConnTimeout:     10 * time.Second,
	}

	// No http.Client.Timeout: deadlines are applied per request so the
	// configured timeout and caller contexts compose correctly.
	c := &Client{
		client:    &http.Client{Transport: transport},
		transport: transport,
		cfg:       cfg,
		breaker:   newBreaker("ollama", logger),
		logger:    logger,
	}

	if !cfg.SkipVerify {
		if err := c.verify(ctx); err != nil {
			transport.CloseIdleConnections()
			return nil, err
		}
	}

	return c, nil
}

// verify checks model presence via /api/tags and probes the embedding
// dimensionality against the configured value.
func (c *Client) verify(ctx context.Context) error {
	ok, err := c.HasModel(ctx, c.cfg.EmbeddingModel)
	if err != nil {
		return err
	}
	if !ok {
		return cerrors.Newf(cerrors.ErrCodeModelNotFound,
			"embedding model %q is not installed", c.cfg.EmbeddingModel).
			WithSuggestion(fmt.Sprintf("Pull the model first: ollama pull %s", c.cfg.EmbeddingModel))
	}

	vec, err := c.Embed(ctx, "dimension probe")
	if err != nil {
		return err
	}
	if c.cfg.EmbeddingDimensions > 0 && len(vec) != c.cfg.EmbeddingDimensions {
		return cerrors.Newf(cerrors.ErrCodeBackendDimension,
			"model %q returns %d-dimensional vectors, config expects %d",
			c.cfg.EmbeddingModel, len(vec), c.cfg.EmbeddingDimensions).
			WithDetail("model", c.cfg.EmbeddingModel).
			WithDetail("actual", strconv.Itoa(len(vec))).
			WithDetail("expected", strconv.Itoa(c.cfg.EmbeddingDimensions)).
			WithSuggestion("Set EMBEDDING_DIMENSIONS to the model's native size and re-index")
	}
	return nil
}

// Embed generates an embedding for a single text. Empty or whitespace-only
// input returns a zero vector without calling the backend.
func (c *Client) Embed(ctx context.Context, text string) ([]float32, error) {
	if err := c.checkOpen(); err != nil {
		return nil, err
	}

	if strings.TrimSpace(text) == "" {
		return make([]float32, c.cfg.EmbeddingDimensions), nil
	}

	vecs, err := c.embedTexts(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	if len(vecs) == 0 {
		return nil, cerrors.Newf(cerrors.ErrCodeEmbeddingFailed, "backend returned no embedding")
	}
	return vecs[0], nil
}

// EmbedBatch generates embeddings for multiple texts, preserving order.
// Empty entries become zero vectors; the rest are sent in batches of
// cfg.BatchSize.
func (c *Client) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	if err := c.checkOpen(); err != nil {
		return nil, err
	}
	if len(texts) == 0 {
		return [][]float32{}, nil
	}

	type indexedText struct {
		idx  int
		text string
	}
	var nonEmpty []indexedText
	results := make([][]float32, len(texts))

	for i, text := range texts {
		if strings.TrimSpace(text) == "" {
			results[i] = make([]float32, c.cfg.EmbeddingDimensions)
		} else {
			nonEmpty = append(nonEmpty, indexedText{i, text})
		}
	}

	for start := 0; start < len(nonEmpty); start += c.cfg.BatchSize {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		end := start + c.cfg.BatchSize
		if end > len(nonEmpty) {
			end = len(nonEmpty)
		}
		batch := nonEmpty[start:end]

		batchTexts := make([]string, len(batch))
		for i, it := range batch {
			batchTexts[i] = it.text
		}

		vecs, err := c.embedTexts(ctx, batchTexts)
		if err != nil {
			return nil, err
		}
		if len(vecs) != len(batch) {
			return nil, cerrors.Newf(cerrors.ErrCodeEmbeddingFailed,
				"backend returned %d embeddings for %d inputs", len(vecs), len(batch))
		}
		for i, vec := range vecs {
			results[batch[i].idx] = vec
		}
	}

	return results, nil
}

// embedTexts performs one retried /api/embed call and validates the result.
func (c *Client) embedTexts(ctx context.Context, texts []string) ([][]float32, error) {
	// Single string for one text, array for batch.
	var input any
	if len(texts) == 1 {
		input = texts[0]
	} else {
		input = texts
	}

	reqBody := embedRequest{
		Model: c.cfg.EmbeddingModel,
		Input: input,
	}
	if c.cfg.EmbeddingContextWindow > 0 {
		reqBody.Options = &modelOptions{NumCtx: c.cfg.EmbeddingContextWindow}
	}

	var out embedResponse
	err := c.do(ctx, "embed", func(callCtx context.Context) error {
		return c.post(callCtx, "/api/embed", reqBody, &out)
	})
	if err != nil {
		return nil, c.wrapErr(err, c.cfg.EmbeddingModel, cerrors.ErrCodeEmbeddingFailed, "embedding request failed")
	}

	vecs := make([][]float32, len(out.Embeddings))
	for i, emb := range out.Embeddings {
		if c.cfg.EmbeddingDimensions > 0 && len(emb) != c.cfg.EmbeddingDimensions {
			return nil, cerrors.Newf(cerrors.ErrCodeBackendDimension,
				"embedding has %d dimensions, config expects %d", len(emb), c.cfg.EmbeddingDimensions)
		}
		vec := make([]float32, len(emb))
		for j, v := range emb {
			vec[j] = float32(v)
		}
		vecs[i] = normalizeVector(vec)
	}
	return vecs, nil
}

// Generate runs the summary model on a prompt and returns the complete
// (non-streamed) response text.
func (c *Client) Generate(ctx context.Context, prompt string) (string, error) {
	if err := c.checkOpen(); err != nil {
		return "", err
	}

	reqBody := generateRequest{
		Model:  c.cfg.SummaryModel,
		Prompt: prompt,
		Stream: false,
	}
	if c.cfg.SummaryContextWindow > 0 {
		reqBody.Options = &modelOptions{NumCtx: c.cfg.SummaryContextWindow}
	}

	var out generateResponse
	err := c.do(ctx, "generate", func(callCtx context.Context) error {
		return c.post(callCtx, "/api/generate", reqBody, &out)
	})
	if err != nil {
		return "", c.wrapErr(err, c.cfg.SummaryModel, cerrors.ErrCodeSummaryFailed, "summary request failed")
	}

	return strings.TrimSpace(out.Response), nil
}

// ListModels returns the models installed on the backend.
func (c *Client) ListModels(ctx context.Context) ([]ModelInfo, error) {
	if err := c.checkOpen(); err != nil {
		return nil, err
	}

	var out modelListResponse
	err := c.do(ctx, "tags", func(callCtx context.Context) error {
		return c.get(callCtx, "/api/tags", &out)
	})
	if err != nil {
		return nil, c.wrapErr(err, "", cerrors.ErrCodeBackendDown, "model list request failed")
	}
	return out.Models, nil
}

// HasModel reports whether a model is installed, matching either the full
// name with tag or the bare base name.
func (c *Client) HasModel(ctx context.Context, model string) (bool, error) {
	models, err := c.ListModels(ctx)
	if err != nil {
		return false, err
	}

	want := strings.ToLower(model)
	wantBase := strings.SplitN(want, ":", 2)[0]
	for _, m := range models {
		name := strings.ToLower(m.Name)
		if name == want || strings.SplitN(name, ":", 2)[0] == wantBase {
			return true, nil
		}
	}
	return false, nil
}

// Dimensions returns the configured embedding dimensionality.
func (c *Client) Dimensions() int { return c.cfg.EmbeddingDimensions }

// ModelName returns the embedding model identifier.
func (c *Client) ModelName() string { return c.cfg.EmbeddingModel }

// SummaryModel returns the generation model identifier.
func (c *Client) SummaryModel() string { return c.cfg.SummaryModel }

// Available reports whether the backend is reachable and the embedding
// model is installed.
func (c *Client) Available(ctx context.Context) bool {
	ok, err := c.HasModel(ctx, c.cfg.EmbeddingModel)
	return err == nil && ok
}

// Close releases idle connections. Safe to call more than once.
func (c *Client) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return nil
	}
	c.closed = true
	c.transport.CloseIdleConnections()
	return nil
}

func (c *Client) checkOpen() error {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.closed {
		return cerrors.Newf(cerrors.ErrCodeBackendDown, "backend client is closed")
	}
	return nil
}

// do executes fn with a per-attempt deadline, routed through the circuit
// breaker and retried with exponential backoff on transient failures.
func (c *Client) do(ctx context.Context, op string, fn func(ctx context.Context) error) error {
	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = c.cfg.RetryBaseDelay
	bo.MaxInterval = 5 * time.Second
	bo.MaxElapsedTime = 0 // bounded by retry count, not wall clock

	attempt := 0
	operation := func() error {
		attempt++

		callCtx, cancel := context.WithTimeout(ctx, c.cfg.Timeout)
		defer cancel()

		_, err := c.breaker.Execute(func() (any, error) {
			return nil, fn(callCtx)
		})
		if err == nil {
			return nil
		}

		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			return backoff.Permanent(cerrors.New(cerrors.ErrCodeBackendDown, "backend circuit open", err).
				WithSuggestion("Check that Ollama is running: ollama serve"))
		}
		if ctx.Err() != nil {
			return backoff.Permanent(ctx.Err())
		}
		if !isTransient(err) {
			return backoff.Permanent(err)
		}

		c.logger.Debug("backend retry",
			slog.String("op", op),
			slog.Int("attempt", attempt),
			slog.String("error", err.Error()))
		return err
	}

	// #nosec G115 -- MaxRetries is forced positive in withDefaults
	policy := backoff.WithContext(backoff.WithMaxRetries(bo, uint64(c.cfg.MaxRetries)), ctx)
	return backoff.Retry(operation, policy)
}

// post sends a JSON request and decodes a JSON response.
func (c *Client) post(ctx context.Context, path string, in, out any) error {
	body, err := json.Marshal(in)
	if err != nil {
		return fmt.Errorf("marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.Host+path, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	return c.roundTrip(req, out)
}

// get sends a GET request and decodes a JSON response.
func (c *Client) get(ctx context.Context, path string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.cfg.Host+path, nil)
	if err != nil {
		return err
	}
	return c.roundTrip(req, out)
}

func (c *Client) roundTrip(req *http.Request, out any) error {
	resp, err := c.client.Do(req)
	if err != nil {
		return err
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return &statusError{code: resp.StatusCode, body: strings.TrimSpace(string(respBody))}
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

// wrapErr maps a transport-level failure onto the error taxonomy. Errors
// that already carry a code pass through.
func (c *Client) wrapErr(err error, model, fallbackCode, msg string) error {
	var ce *cerrors.Error
	if errors.As(err, &ce) {
		return err
	}

	var se *statusError
	if errors.As(err, &se) && se.code == http.StatusNotFound && model != "" {
		return cerrors.New(cerrors.ErrCodeModelNotFound,
			fmt.Sprintf("model %q not available: %s", model, se.body), err).
			WithSuggestion(fmt.Sprintf("Pull the model first: ollama pull %s", model))
	}

	switch {
	case errors.Is(err, context.DeadlineExceeded):
		return cerrors.Wrapf(cerrors.ErrCodeBackendTimeout, err, "%s after %s", msg, c.cfg.Timeout)
	case isConnectionErr(err):
		return cerrors.Wrapf(cerrors.ErrCodeBackendDown, err, "%s", msg).
			WithSuggestion("Check that Ollama is running: ollama serve")
	}
	return cerrors.Wrapf(fallbackCode, err, "%s", msg)
}

// statusError is a non-200 HTTP response.
type statusError struct {
	code int
	body string
}

func (e *statusError) Error() string {
	return fmt.Sprintf("unexpected status %d: %s", e.code, e.body)
}

// isTransient reports whether a failure is worth retrying: timeouts,
// connection-level faults, throttling, and server-side errors.
func isTransient(err error) bool {
	var se *statusError
	if errors.As(err, &se) {
		return se.code == http.StatusTooManyRequests || se.code >= 500
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var ne net.Error
	if errors.As(err, &ne) && ne.Timeout() {
		return true
	}
	return isConnectionErr(err)
}

// isConnectionErr reports connection-level failures (refused, reset,
// dropped mid-response).
func isConnectionErr(err error) bool {
	return errors.Is(err, syscall.ECONNREFUSED) ||
		errors.Is(err, syscall.ECONNRESET) ||
		errors.Is(err, io.EOF) ||
		errors.Is(err, io.ErrUnexpectedEOF)
}
