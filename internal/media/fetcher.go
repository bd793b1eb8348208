// Package media provides the asset fetcher that streams provider-hosted
// audio and video files into durable local storage.
package media

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/melodymind/melodymind-api/internal/storage"
)

// FetchError is returned when an asset download fails. The failure is
// retryable: the orchestrator leaves task state unadvanced so a
// redelivered callback retries the download.
type FetchError struct {
	// URL is the remote asset URL.
	URL string
	// StatusCode is the non-2xx response status, or 0 for transport faults.
	StatusCode int
	// Err is the underlying transport error, if any.
	Err error
}

func (e *FetchError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("media: fetch %s: %v", e.URL, e.Err)
	}
	return fmt.Sprintf("media: fetch %s: unexpected status %d", e.URL, e.StatusCode)
}

func (e *FetchError) Unwrap() error {
	return e.Err
}

// Fetcher streams a remote media file to durable local storage.
type Fetcher interface {
	// Fetch downloads remoteURL to the asset named name and returns the
	// local path. Names are deterministic (task id plus extension), so a
	// repeated fetch is an idempotent overwrite.
	Fetch(ctx context.Context, remoteURL, name string) (string, error)
}

// DefaultTimeout bounds a single download. Media payloads are large, so
// this is deliberately much longer than a typical API-call timeout.
const DefaultTimeout = 3 * time.Minute

// HTTPFetcher is the HTTP implementation of Fetcher.
type HTTPFetcher struct {
	store      storage.Store
	httpClient *http.Client
}

// Compile-time check that HTTPFetcher implements Fetcher.
var _ Fetcher = (*HTTPFetcher)(nil)

// FetcherOption is a function that configures an HTTPFetcher.
type FetcherOption func(*HTTPFetcher)

// WithHTTPClient sets a custom HTTP client.
func WithHTTPClient(c *http.Client) FetcherOption {
	return func(f *HTTPFetcher) {
		f.httpClient = c
	}
}

// WithTimeout sets the download timeout.
func WithTimeout(d time.Duration) FetcherOption {
	return func(f *HTTPFetcher) {
		f.httpClient.Timeout = d
	}
}

// NewHTTPFetcher creates a fetcher that writes through store.
func NewHTTPFetcher(store storage.Store, opts ...FetcherOption) *HTTPFetcher {
	f := &HTTPFetcher{
		store:      store,
		httpClient: &http.Client{Timeout: DefaultTimeout},
	}
	for _, opt := range opts {
		opt(f)
	}
	return f
}

// Fetch streams the remote resource through the store. The response body
// is never buffered whole; the store stages it to a temporary file and
// renames it into place once the stream completes.
func (f *HTTPFetcher) Fetch(ctx context.Context, remoteURL, name string) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, remoteURL, nil)
	if err != nil {
		return "", &FetchError{URL: remoteURL, Err: err}
	}

	resp, err := f.httpClient.Do(req)
	if err != nil {
		return "", &FetchError{URL: remoteURL, Err: err}
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return "", &FetchError{URL: remoteURL, StatusCode: resp.StatusCode}
	}

	path, err := f.store.Save(ctx, name, resp.Body)
	if err != nil {
		return "", &FetchError{URL: remoteURL, Err: err}
	}

	return path, nil
}
