package archive

import (
	"context"
	"io"
	"net/http"
)

// Fetcher opens a byte stream for a component download URL. Callers must close
// the returned body.
type Fetcher interface {
	Fetch(ctx context.Context, url string) (io.ReadCloser, error)
}

// HTTPFetcher streams component bytes with plain GET requests.
type HTTPFetcher struct {
	httpClient *http.Client
}

// NewHTTPFetcher creates a fetcher using httpClient, or http.DefaultClient when nil.
func NewHTTPFetcher(httpClient *http.Client) *HTTPFetcher {
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	return &HTTPFetcher{httpClient: httpClient}
}

// Fetch returns the response body of a GET on url. Any non-2xx status is a
// *FetchError.
func (f *HTTPFetcher) Fetch(ctx context.Context, url string) (io.ReadCloser, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, &FetchError{URL: url, Err: err}
	}

	resp, err := f.httpClient.Do(req)
	if err != nil {
		return nil, &FetchError{URL: url, Err: err}
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		resp.Body.Close() // Cleanup on error
		return nil, &FetchError{URL: url, StatusCode: resp.StatusCode}
	}

	// Caller must close this body
	return resp.Body, nil
}

// sourceReader remembers the last read error so copy failures can be told
// apart from write failures.
type sourceReader struct {
	r   io.Reader
	err error
}

func (s *sourceReader) Read(p []byte) (int, error) {
	n, err := s.r.Read(p)
	if err != nil && err != io.EOF {
		s.err = err
	}
	return n, err
}
