// Package api is the client for the remote files REST API: listing uploaded
// files, downloading, streaming byte ranges and deleting.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime"
	nethttp "net/http"
	"net/url"
	"strings"

	"github.com/hashicorp/go-retryablehttp"

	"github.com/driftbox/driftbox/internal/config"
	"github.com/driftbox/driftbox/internal/constants"
	"github.com/driftbox/driftbox/internal/http"
	"github.com/driftbox/driftbox/internal/logging"
	"github.com/driftbox/driftbox/internal/models"
	"github.com/driftbox/driftbox/internal/ratelimit"
	"github.com/driftbox/driftbox/internal/version"
)

// retryLogger adapts the client logger to retryablehttp.LeveledLogger.
type retryLogger struct {
	log *logging.Logger
}

func (l retryLogger) Error(msg string, keysAndValues ...interface{}) {
	l.log.Warn().Fields(keysAndValues).Msg(msg)
}

func (l retryLogger) Info(msg string, keysAndValues ...interface{}) {
	// Only log errors and warnings, not all info
}

func (l retryLogger) Debug(msg string, keysAndValues ...interface{}) {
	l.log.Debug().Fields(keysAndValues).Msg(msg)
}

func (l retryLogger) Warn(msg string, keysAndValues ...interface{}) {
	l.log.Warn().Fields(keysAndValues).Msg(msg)
}

// Client talks to the files API.
type Client struct {
	httpClient *nethttp.Client
	retry      *retryablehttp.Client
	filesURL   string
	streamURL  string
	limiter    *ratelimit.RateLimiter
	log        *logging.Logger
}

// NewClient creates a client for cfg's server. Requests go through the
// configured proxy and are retried on 429/5xx and connection errors.
func NewClient(cfg *config.Config, logger *logging.Logger) (*Client, error) {
	if strings.TrimSpace(cfg.BaseURL) == "" {
		return nil, errors.New("API base URL is empty: set server.base_url or --base-url")
	}
	if logger == nil {
		logger = logging.Nop()
	}

	filesURL, err := cfg.FilesURL()
	if err != nil {
		return nil, err
	}
	streamURL, err := cfg.StreamURL()
	if err != nil {
		return nil, err
	}

	// Configure HTTP client with proxy support
	httpClient, err := http.ConfigureHTTPClient(cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to configure HTTP client: %w", err)
	}

	// Wrap with retry logic
	retryClient := retryablehttp.NewClient()
	retryClient.HTTPClient = httpClient
	retryClient.RetryMax = constants.APIRetryMax
	retryClient.RetryWaitMin = constants.APIRetryWaitMin
	retryClient.RetryWaitMax = constants.APIRetryWaitMax
	retryClient.Logger = retryLogger{log: logger}
	retryClient.ErrorHandler = retryablehttp.PassthroughErrorHandler

	return &Client{
		httpClient: retryClient.StandardClient(),
		retry:      retryClient,
		filesURL:   strings.TrimSuffix(filesURL, "/"),
		streamURL:  strings.TrimSuffix(streamURL, "/"),
		limiter:    ratelimit.NewRateLimiter(constants.APIRatePerSec, constants.APIBurst),
		log:        logger,
	}, nil
}

// FilesURL returns the files collection URL.
func (c *Client) FilesURL() string {
	return c.filesURL
}

// doRequest performs a rate-limited request and turns non-2xx responses into
// *APIError. On success the caller owns resp.Body.
func (c *Client) doRequest(ctx context.Context, method, rawURL string, header nethttp.Header) (*nethttp.Response, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("rate limiter cancelled: %w", err)
	}

	req, err := nethttp.NewRequestWithContext(ctx, method, rawURL, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	for k, v := range header {
		req.Header[k] = v
	}
	req.Header.Set("User-Agent", version.UserAgent())

	resp, err := c.httpClient.Do(req)
	if err != nil {
		c.log.Debug().Err(err).Str("method", method).Str("url", rawURL).Msg("API call failed")
		return nil, fmt.Errorf("request failed: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		defer resp.Body.Close()
		body, _ := io.ReadAll(io.LimitReader(resp.Body, constants.APIErrorBodyLimit))
		return nil, &APIError{Method: method, URL: rawURL, StatusCode: resp.StatusCode, Body: string(body)}
	}
	return resp, nil
}

func (c *Client) fileURL(base, id string) (string, error) {
	if strings.TrimSpace(id) == "" {
		return "", errors.New("file id is empty")
	}
	return base + "/" + url.PathEscape(id), nil
}

// ListFiles returns every file the server knows about.
func (c *Client) ListFiles(ctx context.Context) ([]models.RemoteFile, error) {
	resp, err := c.doRequest(ctx, nethttp.MethodGet, c.filesURL, nethttp.Header{"Accept": {"application/json"}})
	if err != nil {
		return nil, fmt.Errorf("failed to list files: %w", err)
	}
	defer resp.Body.Close()

	var files []models.RemoteFile
	if err := json.NewDecoder(resp.Body).Decode(&files); err != nil {
		return nil, fmt.Errorf("failed to decode file list: %w", err)
	}
	if files == nil {
		files = []models.RemoteFile{}
	}
	return files, nil
}

// Download is an open response body for a file.
type Download struct {
	Body     io.ReadCloser
	Size     int64  // bytes in Body, -1 when unknown
	Name     string // from Content-Disposition, may be empty
	MimeType string

	// Partial and ContentRange are set for 206 responses.
	Partial      bool
	ContentRange string
}

// Close closes the body.
func (d *Download) Close() error {
	return d.Body.Close()
}

// Download opens the attachment for file id.
func (c *Client) Download(ctx context.Context, id string) (*Download, error) {
	u, err := c.fileURL(c.filesURL, id)
	if err != nil {
		return nil, err
	}
	resp, err := c.doRequest(ctx, nethttp.MethodGet, u, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to download %s: %w", id, err)
	}
	return newDownload(resp), nil
}

// Stream opens file id inline. With rng set only that byte range is
// requested; servers without range support answer with the whole file.
func (c *Client) Stream(ctx context.Context, id string, rng *models.ByteRange) (*Download, error) {
	u, err := c.fileURL(c.streamURL, id)
	if err != nil {
		return nil, err
	}
	var header nethttp.Header
	if rng != nil {
		header = nethttp.Header{"Range": {rng.Header()}}
	}
	resp, err := c.doRequest(ctx, nethttp.MethodGet, u, header)
	if err != nil {
		return nil, fmt.Errorf("failed to stream %s: %w", id, err)
	}
	return newDownload(resp), nil
}

func newDownload(resp *nethttp.Response) *Download {
	d := &Download{
		Body:         resp.Body,
		Size:         resp.ContentLength,
		MimeType:     resp.Header.Get("Content-Type"),
		Partial:      resp.StatusCode == nethttp.StatusPartialContent,
		ContentRange: resp.Header.Get("Content-Range"),
	}
	if cd := resp.Header.Get("Content-Disposition"); cd != "" {
		if _, params, err := mime.ParseMediaType(cd); err == nil {
			d.Name = params["filename"]
		}
	}
	return d
}

// DeleteFile removes file id from the server.
func (c *Client) DeleteFile(ctx context.Context, id string) error {
	u, err := c.fileURL(c.filesURL, id)
	if err != nil {
		return err
	}
	resp, err := c.doRequest(ctx, nethttp.MethodDelete, u, nil)
	if err != nil {
		return fmt.Errorf("failed to delete %s: %w", id, err)
	}
	resp.Body.Close()
	return nil
}
