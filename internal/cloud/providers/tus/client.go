// Package tus implements cloud.Uploader over the TUS 1.0.0 resumable upload
// protocol (core + creation + termination extensions) on top of tusgo.
package tus

import (
	"context"
	"errors"
	"fmt"
	nethttp "net/http"
	"net/url"
	"path"
	"strings"
	"sync"

	"github.com/bdragon300/tusgo"

	"github.com/driftbox/driftbox/internal/cloud"
	httpx "github.com/driftbox/driftbox/internal/http"
	"github.com/driftbox/driftbox/internal/version"
)

// Client talks to one TUS creation endpoint.
type Client struct {
	endpoint *url.URL
	filesURL string
	tus      *tusgo.Client

	// sizes caches Upload-Length per location. PATCH needs it and the
	// runner always creates or queries a location before writing to it.
	mu    sync.Mutex
	sizes map[string]int64
}

// New creates a Client. endpoint is the creation URL (POST target) and
// filesURL the base that completed upload ids are appended to for locators.
func New(endpoint, filesURL string, httpClient *nethttp.Client) (*Client, error) {
	u, err := url.Parse(endpoint)
	if err != nil {
		return nil, fmt.Errorf("invalid upload endpoint %q: %w", endpoint, err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return nil, fmt.Errorf("invalid upload endpoint %q: scheme must be http or https", endpoint)
	}
	if httpClient == nil {
		httpClient = nethttp.DefaultClient
	}

	hc := *httpClient
	next := hc.Transport
	if next == nil {
		next = nethttp.DefaultTransport
	}
	hc.Transport = userAgentTransport{next: next}

	return &Client{
		endpoint: u,
		filesURL: strings.TrimSuffix(filesURL, "/"),
		tus:      tusgo.NewClient(&hc, u),
		sizes:    make(map[string]int64),
	}, nil
}

// userAgentTransport stamps every tusgo request with the driftbox user agent.
type userAgentTransport struct {
	next nethttp.RoundTripper
}

func (t userAgentTransport) RoundTrip(req *nethttp.Request) (*nethttp.Response, error) {
	req = req.Clone(req.Context())
	req.Header.Set("User-Agent", version.UserAgent())
	return t.next.RoundTrip(req)
}

// Scheme returns the endpoint scheme; https locations also match "http".
func (c *Client) Scheme() string {
	return c.endpoint.Scheme
}

// Endpoint returns the creation URL.
func (c *Client) Endpoint() string {
	return c.endpoint.String()
}

func (c *Client) remember(location string, size int64) {
	c.mu.Lock()
	c.sizes[location] = size
	c.mu.Unlock()
}

func (c *Client) knownSize(location string) (int64, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	size, ok := c.sizes[location]
	return size, ok
}

// Create issues POST {endpoint} and returns the absolute upload URL.
func (c *Client) Create(ctx context.Context, src cloud.Source) (string, error) {
	var u tusgo.Upload
	resp, err := c.tus.WithContext(ctx).CreateUpload(&u, src.Size, false, src.Metadata())
	if err != nil {
		return "", mapError(err, resp)
	}
	if u.Location == "" {
		return "", fmt.Errorf("%w: create response has no Location header", cloud.ErrProtocol)
	}
	ref, err := url.Parse(u.Location)
	if err != nil {
		return "", fmt.Errorf("%w: invalid Location %q: %v", cloud.ErrProtocol, u.Location, err)
	}
	location := c.endpoint.ResolveReference(ref).String()
	c.remember(location, src.Size)
	return location, nil
}

// Offset issues HEAD {location}.
func (c *Client) Offset(ctx context.Context, location string) (int64, error) {
	var u tusgo.Upload
	resp, err := c.tus.WithContext(ctx).GetUpload(&u, location)
	if err != nil {
		return 0, mapError(err, resp)
	}
	if u.RemoteOffset < 0 {
		return 0, fmt.Errorf("%w: invalid Upload-Offset %d", cloud.ErrProtocol, u.RemoteOffset)
	}
	if u.RemoteSize >= 0 {
		c.remember(location, u.RemoteSize)
	}
	return u.RemoteOffset, nil
}

// WriteChunk issues one PATCH {location} with chunk at offset.
func (c *Client) WriteChunk(ctx context.Context, location string, offset int64, chunk []byte) (int64, error) {
	size, ok := c.knownSize(location)
	if !ok {
		if _, err := c.Offset(ctx, location); err != nil {
			return 0, err
		}
		size, _ = c.knownSize(location)
	}

	u := tusgo.Upload{Location: location, RemoteOffset: offset, RemoteSize: size}
	stream := tusgo.NewUploadStream(c.tus, &u).WithContext(ctx)
	stream.ChunkSize = int64(len(chunk))
	if stream.ChunkSize == 0 {
		return offset, nil
	}

	if _, err := stream.Write(chunk); err != nil {
		return 0, mapError(err, stream.LastResponse)
	}
	return u.RemoteOffset, nil
}

// Finish returns the locator of a completed upload. TUS has no finalize
// request: the server completes the upload when the last byte arrives.
func (c *Client) Finish(_ context.Context, location string, _ cloud.Source) (string, error) {
	u, err := url.Parse(location)
	if err != nil {
		return "", fmt.Errorf("%w: invalid location %q", cloud.ErrProtocol, location)
	}
	id := path.Base(strings.TrimSuffix(u.Path, "/"))
	if id == "" || id == "." || id == "/" {
		return "", fmt.Errorf("%w: location %q has no upload id", cloud.ErrProtocol, location)
	}

	c.mu.Lock()
	delete(c.sizes, location)
	c.mu.Unlock()
	return c.filesURL + "/" + id, nil
}

// Terminate issues DELETE {location}. An already missing upload is not an error.
func (c *Client) Terminate(ctx context.Context, location string) error {
	c.mu.Lock()
	delete(c.sizes, location)
	c.mu.Unlock()

	resp, err := c.tus.WithContext(ctx).DeleteUpload(tusgo.Upload{Location: location})
	if err != nil && !errors.Is(err, tusgo.ErrUploadDoesNotExist) {
		return mapError(err, resp)
	}
	return nil
}

// mapError folds a tusgo failure onto the error taxonomy. A response with
// an error status decides through statusError; without one, tusgo's own
// sentinels decide, and transport errors pass through for retry
// classification.
func mapError(err error, resp *nethttp.Response) error {
	if resp != nil && resp.StatusCode >= 400 {
		return statusError(resp)
	}
	switch {
	case errors.Is(err, tusgo.ErrUploadDoesNotExist):
		return fmt.Errorf("%w: %w", cloud.ErrNotFound, err)
	case errors.Is(err, tusgo.ErrOffsetsNotSynced),
		errors.Is(err, tusgo.ErrUploadTooLarge),
		errors.Is(err, tusgo.ErrProtocol),
		errors.Is(err, tusgo.ErrUnexpectedResponse):
		return fmt.Errorf("%w: %w", cloud.ErrProtocol, err)
	default:
		return err
	}
}

// statusError maps an unexpected response onto the error taxonomy:
// 404/410 mean the upload is gone, other 4xx are protocol violations and
// 5xx stay as retryable StatusErrors.
func statusError(resp *nethttp.Response) error {
	se := httpx.NewStatusError(resp)
	switch {
	case resp.StatusCode == nethttp.StatusNotFound || resp.StatusCode == nethttp.StatusGone:
		return fmt.Errorf("%w: %w", cloud.ErrNotFound, se)
	case resp.StatusCode == nethttp.StatusTooManyRequests:
		return se
	case resp.StatusCode >= 400 && resp.StatusCode < 500:
		return fmt.Errorf("%w: %w", cloud.ErrProtocol, se)
	case resp.StatusCode >= 500:
		return se
	default:
		return fmt.Errorf("%w: %w", cloud.ErrProtocol, se)
	}
}

var _ cloud.Uploader = (*Client)(nil)
