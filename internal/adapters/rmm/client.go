// Package rmm resolves dataset identifiers to metadata records through the
// records endpoint of the metadata ("RMM") API.
package rmm

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/cenkalti/backoff"

	"github.com/kacper-wojtaszczyk/oar-distribution/internal/model"
)

// maxErrorBody caps how much of an error response is kept for diagnostics.
const maxErrorBody = 512

// Config holds metadata API client settings.
type Config struct {
	BaseURL    string
	HTTPClient *http.Client

	// Timeout bounds each request attempt.
	Timeout time.Duration

	// Retries is the number of extra attempts after a transient failure.
	Retries int
}

// Client interacts with the metadata API.
type Client struct {
	baseURL    string
	httpClient *http.Client
	timeout    time.Duration
	retries    int

	// Retry pacing (internal)
	retryInterval    time.Duration
	maxRetryInterval time.Duration
}

// NewClient creates a new metadata API client.
func NewClient(cfg Config) *Client {
	c := &Client{
		baseURL:          cfg.BaseURL,
		httpClient:       cfg.HTTPClient,
		timeout:          cfg.Timeout,
		retries:          cfg.Retries,
		retryInterval:    500 * time.Millisecond,
		maxRetryInterval: 10 * time.Second,
	}
	if !strings.HasSuffix(c.baseURL, "/") {
		c.baseURL += "/"
	}
	if c.httpClient == nil {
		c.httpClient = http.DefaultClient
	}
	if c.timeout <= 0 {
		c.timeout = 30 * time.Second
	}
	if c.retries < 0 {
		c.retries = 0
	}
	return c
}

// Resolve fetches the metadata record of the identifier together with its
// components. Every failure is a *ResolutionError.
func (c *Client) Resolve(ctx context.Context, id model.Identifier) (model.Record, error) {
	var record model.Record

	operation := func() error {
		r, err := c.apiGetRecord(ctx, id)
		if err != nil {
			if !isTransient(ctx, err) {
				return backoff.Permanent(err)
			}
			return err
		}
		record = r
		return nil
	}

	notify := func(err error, wait time.Duration) {
		slog.WarnContext(ctx, "metadata request failed, retrying", "identifier", id, "error", err, "wait", wait)
	}

	if err := backoff.RetryNotify(operation, c.newBackOff(ctx), notify); err != nil {
		var resErr *ResolutionError
		if errors.As(err, &resErr) {
			return model.Record{}, resErr
		}
		return model.Record{}, &ResolutionError{Identifier: id.String(), Reason: "request failed", Err: err}
	}

	slog.InfoContext(ctx, "metadata resolved", "identifier", id, "components", len(record.Components))
	return record, nil
}

func (c *Client) newBackOff(ctx context.Context) backoff.BackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = c.retryInterval
	b.MaxInterval = c.maxRetryInterval
	b.MaxElapsedTime = 0
	return backoff.WithContext(backoff.WithMaxRetries(b, uint64(c.retries)), ctx)
}

func (c *Client) recordsURL(id model.Identifier) string {
	return c.baseURL + "records?@id=" + url.QueryEscape(id.String()) + "&include=components"
}

func (c *Client) apiGetRecord(ctx context.Context, id model.Identifier) (model.Record, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.recordsURL(id), nil)
	if err != nil {
		return model.Record{}, &ResolutionError{Identifier: id.String(), Reason: "invalid request", Err: err}
	}
	req.Header.Set("Accept", "application/json")

	slog.DebugContext(ctx, "requesting metadata", "url", req.URL.String())
	response, err := c.httpClient.Do(req)
	if err != nil {
		// transport errors stay unwrapped so the retry layer can classify them
		return model.Record{}, err
	}
	defer response.Body.Close()

	if response.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(response.Body, maxErrorBody))
		return model.Record{}, &ResolutionError{
			Identifier: id.String(),
			Reason:     "unexpected status",
			Err:        &apiError{StatusCode: response.StatusCode, Message: strings.TrimSpace(string(body))},
		}
	}

	var doc recordsResponse
	if err := json.NewDecoder(response.Body).Decode(&doc); err != nil {
		return model.Record{}, &ResolutionError{Identifier: id.String(), Reason: "malformed response", Err: err}
	}

	if len(doc.ResultData) == 0 {
		return model.Record{}, &ResolutionError{Identifier: id.String(), Reason: "empty result", Err: ErrNoRecords}
	}
	if len(doc.ResultData) > 1 {
		slog.WarnContext(ctx, "several metadata records match, using first", "identifier", id, "count", len(doc.ResultData))
	}

	first := doc.ResultData[0]
	if first.Components == nil {
		return model.Record{}, &ResolutionError{Identifier: id.String(), Reason: "incomplete record", Err: ErrNoComponents}
	}

	return model.Record{
		ID:         first.ID,
		Title:      first.Title,
		Components: *first.Components,
	}, nil
}

// isTransient reports whether a failed attempt may succeed when retried.
func isTransient(ctx context.Context, err error) bool {
	if ctx.Err() != nil {
		return false
	}
	var apiErr *apiError
	if errors.As(err, &apiErr) {
		return apiErr.StatusCode >= 500 || apiErr.StatusCode == http.StatusTooManyRequests
	}
	var resErr *ResolutionError
	if errors.As(err, &resErr) {
		return false
	}
	// transport error, including a per-attempt timeout
	return true
}
