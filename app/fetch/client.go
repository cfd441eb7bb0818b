package fetch

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
)

// ErrTooLarge is returned when a capped fetch reads past its size limit.
var ErrTooLarge = errors.New("response body too large")

// Client performs content-addressed HTTP GETs with persisted memoization.
// A successful body is stored under the data directory, a failure under the
// error directory; either outcome is permanent for the lifetime of the cache
// entry and is replayed without a network call. Cache writes are best-effort.
//
// The Client exclusively owns writes to both directories. Concurrent fetches
// of the same URL may both hit the network and both write the data entry;
// content for a URL is assumed stable, so last writer wins.
type Client struct {
	httpClient *http.Client
	userAgent  string
	dataDir    string
	errorDir   string
}

func NewClient(httpClient *http.Client, userAgent, cacheDir string) (*Client, error) {
	c := &Client{
		httpClient: httpClient,
		userAgent:  userAgent,
		dataDir:    filepath.Join(cacheDir, "data"),
		errorDir:   filepath.Join(cacheDir, "error"),
	}
	for _, dir := range []string{c.dataDir, c.errorDir} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("failed to create cache directory: %w", err)
		}
	}
	return c, nil
}

// DataDir is the directory holding successful fetch bodies.
func (c *Client) DataDir() string { return c.dataDir }

// ErrorDir is the directory holding persisted failure descriptions.
func (c *Client) ErrorDir() string { return c.errorDir }

// Get fetches a URL, consulting the cache first. sizeLimit, when positive,
// caps the number of body bytes read; exceeding it fails with ErrTooLarge.
// decorate, when non-nil, runs on the outgoing request before it is sent
// (used by the batch job to add auth headers).
//
// A fetch cancelled through ctx fails without writing an error entry, so a
// later retry hits the network again.
func (c *Client) Get(ctx context.Context, rawURL string, sizeLimit int64, decorate func(*http.Request)) ([]byte, error) {
	name := SafeFileName(rawURL)
	dataFile := filepath.Join(c.dataDir, name)
	errorFile := filepath.Join(c.errorDir, name)

	if body, err := os.ReadFile(dataFile); err == nil {
		return body, nil
	}
	if text, err := os.ReadFile(errorFile); err == nil {
		return nil, errors.New(string(text))
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, c.fail(ctx, errorFile, err.Error())
	}
	if c.userAgent != "" {
		req.Header.Set("User-Agent", c.userAgent)
	}
	if decorate != nil {
		decorate(req)
	}

	res, err := c.httpClient.Do(req)
	if err != nil {
		return nil, c.fail(ctx, errorFile, err.Error())
	}
	defer res.Body.Close()

	if res.StatusCode < 200 || res.StatusCode > 299 {
		return nil, c.fail(ctx, errorFile, "HTTP "+res.Status)
	}

	var body []byte
	if sizeLimit > 0 {
		body, err = io.ReadAll(io.LimitReader(res.Body, sizeLimit+1))
		if err == nil && int64(len(body)) > sizeLimit {
			c.fail(ctx, errorFile, fmt.Sprintf("response body exceeds %d bytes", sizeLimit))
			return nil, fmt.Errorf("%w: %s exceeds %d bytes", ErrTooLarge, rawURL, sizeLimit)
		}
	} else {
		body, err = io.ReadAll(res.Body)
	}
	if err != nil {
		return nil, c.fail(ctx, errorFile, err.Error())
	}

	if err := os.WriteFile(dataFile, body, 0o644); err != nil {
		slog.Warn("Failed to write cache entry", "url", rawURL, "error", err)
	}
	return body, nil
}

// fail persists the error description unless the operation was cancelled;
// a cancelled fetch may legitimately be retried later.
func (c *Client) fail(ctx context.Context, errorFile, text string) error {
	if ctx.Err() == nil {
		if err := os.WriteFile(errorFile, []byte(text), 0o644); err != nil {
			slog.Warn("Failed to write error cache entry", "file", errorFile, "error", err)
		}
	}
	return errors.New(text)
}
