// Package fetch retrieves catalog and reference resources by locator.
package fetch

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"strings"
	"time"
)

var (
	// ErrRetrieval wraps every failure to obtain a resource.
	ErrRetrieval = errors.New("retrieval failed")
	// ErrNotFound marks a resource that does not exist at its locator.
	ErrNotFound = errors.New("resource not found")
)

// DefaultTimeout bounds a single HTTP retrieval.
const DefaultTimeout = 60 * time.Second

// Fetcher returns the full content of the resource named by locator.
type Fetcher interface {
	Fetch(ctx context.Context, locator string) ([]byte, error)
}

// FetcherFunc adapts a function to the Fetcher interface.
type FetcherFunc func(ctx context.Context, locator string) ([]byte, error)

// Fetch calls f.
func (f FetcherFunc) Fetch(ctx context.Context, locator string) ([]byte, error) {
	return f(ctx, locator)
}

// HTTPFetcher reads http(s) URLs with an HTTP client and everything else
// (file:// URLs and plain paths) from the local filesystem.
type HTTPFetcher struct {
	Client *http.Client
}

// NewHTTPFetcher returns a fetcher whose client times out after timeout.
// A non-positive timeout selects DefaultTimeout.
func NewHTTPFetcher(timeout time.Duration) *HTTPFetcher {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &HTTPFetcher{Client: &http.Client{Timeout: timeout}}
}

// Fetch implements Fetcher.
func (f *HTTPFetcher) Fetch(ctx context.Context, locator string) ([]byte, error) {
	u, err := url.Parse(locator)
	if err != nil || u.Scheme == "" || len(u.Scheme) == 1 {
		// No scheme, or a Windows drive letter.
		return readFile(locator)
	}
	switch strings.ToLower(u.Scheme) {
	case "http", "https":
		return f.fetchHTTP(ctx, locator)
	case "file":
		return readFile(u.Path)
	default:
		return nil, fmt.Errorf("%w: unsupported scheme %q in %s", ErrRetrieval, u.Scheme, locator)
	}
}

func (f *HTTPFetcher) fetchHTTP(ctx context.Context, locator string) ([]byte, error) {
	client := f.Client
	if client == nil {
		client = http.DefaultClient
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, locator, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrRetrieval, locator, err)
	}
	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrRetrieval, locator, err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusNotFound:
		return nil, fmt.Errorf("%w: %w: %s", ErrRetrieval, ErrNotFound, locator)
	case resp.StatusCode < 200 || resp.StatusCode > 299:
		return nil, fmt.Errorf("%w: %s: status %s", ErrRetrieval, locator, resp.Status)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("%w: reading %s: %v", ErrRetrieval, locator, err)
	}
	return body, nil
}

func readFile(path string) ([]byte, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("%w: %w: %s", ErrRetrieval, ErrNotFound, path)
		}
		return nil, fmt.Errorf("%w: %v", ErrRetrieval, err)
	}
	return data, nil
}
