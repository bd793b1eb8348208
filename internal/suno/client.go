// Package suno provides the HTTP client for the Suno music-generation
// provider (kie.ai). It normalizes transport failures into typed errors
// and attaches bearer-token authentication to every call.
package suno

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"
)

// Static errors for Suno client operations.
var (
	// ErrAPIKeyRequired is returned when no API key is provided.
	ErrAPIKeyRequired = errors.New("suno: API key is required")
	// ErrTaskIDRequired is returned when a task id is not provided.
	ErrTaskIDRequired = errors.New("suno: task ID is required")
)

// DefaultAuthor is stamped on generated videos when no author is given.
const DefaultAuthor = "MelodyMind AI"

// Client defines the interface for interacting with the Suno API.
type Client interface {
	// Generate submits a music-generation request and returns the
	// provider-assigned task id along with the raw response.
	Generate(ctx context.Context, params GenerateParams) (*TaskResponse, error)

	// RecordInfo queries the status of a generation task, returning the
	// provider's raw status payload.
	RecordInfo(ctx context.Context, taskID string) (json.RawMessage, error)

	// TimestampedLyrics fetches timestamp-aligned lyrics for a completed
	// audio task.
	TimestampedLyrics(ctx context.Context, params LyricsParams) (json.RawMessage, error)

	// GenerateVideo triggers video generation for a completed audio task
	// and returns the provider-assigned video task id.
	GenerateVideo(ctx context.Context, params VideoParams) (*TaskResponse, error)
}

// HTTPClient is the HTTP implementation of the Suno Client interface.
type HTTPClient struct {
	apiKey      string
	baseURL     string
	httpClient  *http.Client
	maxRetries  int
	baseBackoff time.Duration
}

// ClientOption is a function that configures an HTTPClient.
type ClientOption func(*HTTPClient)

// WithHTTPClient sets a custom HTTP client.
func WithHTTPClient(c *http.Client) ClientOption {
	return func(hc *HTTPClient) {
		hc.httpClient = c
	}
}

// WithBaseURL sets a custom base URL for the Suno API.
func WithBaseURL(u string) ClientOption {
	return func(hc *HTTPClient) {
		hc.baseURL = u
	}
}

// WithMaxRetries sets the maximum number of retries for transient failures.
func WithMaxRetries(n int) ClientOption {
	return func(hc *HTTPClient) {
		hc.maxRetries = n
	}
}

// WithBaseBackoff sets the initial backoff duration for retries.
func WithBaseBackoff(d time.Duration) ClientOption {
	return func(hc *HTTPClient) {
		hc.baseBackoff = d
	}
}

// NewClient creates a new Suno HTTP client authenticated with apiKey.
func NewClient(apiKey string, opts ...ClientOption) (*HTTPClient, error) {
	if apiKey == "" {
		return nil, ErrAPIKeyRequired
	}

	c := &HTTPClient{
		apiKey:      apiKey,
		baseURL:     "https://api.kie.ai/api/v1",
		httpClient:  &http.Client{Timeout: 60 * time.Second},
		maxRetries:  3,
		baseBackoff: 1 * time.Second,
	}

	for _, opt := range opts {
		opt(c)
	}

	return c, nil
}

// Generate submits a music-generation request.
func (c *HTTPClient) Generate(ctx context.Context, params GenerateParams) (*TaskResponse, error) {
	raw, err := c.do(ctx, http.MethodPost, c.baseURL+"/generate", params)
	if err != nil {
		return nil, err
	}
	return &TaskResponse{TaskID: parseTaskID(raw), Raw: raw}, nil
}

// RecordInfo queries the status of a generation task.
func (c *HTTPClient) RecordInfo(ctx context.Context, taskID string) (json.RawMessage, error) {
	if taskID == "" {
		return nil, ErrTaskIDRequired
	}
	u := c.baseURL + "/generate/record-info?taskId=" + url.QueryEscape(taskID)
	return c.do(ctx, http.MethodGet, u, nil)
}

// TimestampedLyrics fetches timestamp-aligned lyrics.
func (c *HTTPClient) TimestampedLyrics(ctx context.Context, params LyricsParams) (json.RawMessage, error) {
	if params.TaskID == "" {
		return nil, ErrTaskIDRequired
	}
	return c.do(ctx, http.MethodPost, c.baseURL+"/generate/get-timestamped-lyrics", params)
}

// GenerateVideo triggers video generation for a completed audio task.
func (c *HTTPClient) GenerateVideo(ctx context.Context, params VideoParams) (*TaskResponse, error) {
	if params.TaskID == "" {
		return nil, ErrTaskIDRequired
	}
	if params.Author == "" {
		params.Author = DefaultAuthor
	}
	raw, err := c.do(ctx, http.MethodPost, c.baseURL+"/mp4/generate", params)
	if err != nil {
		return nil, err
	}
	return &TaskResponse{TaskID: parseTaskID(raw), Raw: raw}, nil
}

// do performs a request with exponential backoff retry on transient failures.
func (c *HTTPClient) do(ctx context.Context, method, url string, body any) (json.RawMessage, error) {
	var bodyBytes []byte
	if body != nil {
		var err error
		bodyBytes, err = json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("suno: marshal request: %w", err)
		}
	}

	var lastErr error
	backoff := c.baseBackoff

	for attempt := 0; attempt <= c.maxRetries; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return nil, fmt.Errorf("suno: context cancelled: %w", ctx.Err())
			case <-time.After(backoff):
				backoff *= 2 // Exponential backoff
			}
		}

		raw, err := c.doOnce(ctx, method, url, bodyBytes)
		if err == nil {
			return raw, nil
		}
		if !isRetryable(err) {
			return nil, err
		}
		lastErr = err
	}

	return nil, fmt.Errorf("suno: max retries exceeded: %w", lastErr)
}

// doOnce performs a single HTTP request.
func (c *HTTPClient) doOnce(ctx context.Context, method, url string, body []byte) (json.RawMessage, error) {
	var bodyReader io.Reader
	if body != nil {
		bodyReader = bytes.NewReader(body)
	}

	req, err := http.NewRequestWithContext(ctx, method, url, bodyReader)
	if err != nil {
		return nil, fmt.Errorf("suno: create request: %w", err)
	}

	req.Header.Set("Authorization", "Bearer "+c.apiKey)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, &retryableError{err: fmt.Errorf("suno: request failed: %w", err)}
	}
	defer func() { _ = resp.Body.Close() }()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, &retryableError{err: fmt.Errorf("suno: read response: %w", err)}
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		perr := &ProviderError{StatusCode: resp.StatusCode, Body: string(respBody)}
		// 5xx and rate limits are retryable; other provider errors are final.
		if resp.StatusCode >= 500 || resp.StatusCode == http.StatusTooManyRequests {
			return nil, &retryableError{err: perr}
		}
		return nil, perr
	}

	return respBody, nil
}

// retryableError wraps errors that should be retried.
type retryableError struct {
	err error
}

func (e *retryableError) Error() string {
	return e.err.Error()
}

func (e *retryableError) Unwrap() error {
	return e.err
}

// isRetryable returns true if the error should be retried.
func isRetryable(err error) bool {
	var re *retryableError
	return errors.As(err, &re)
}
