// Package http builds the HTTP clients used for chunk transfers and REST calls,
// and holds the retry/backoff policy shared by every backend.
package http

import (
	"crypto/tls"
	nethttp "net/http"
	"os"

	"golang.org/x/net/http2"

	"github.com/driftbox/driftbox/internal/config"
	"github.com/driftbox/driftbox/internal/constants"
)

// CreateOptimizedClient creates an HTTP client tuned for chunked uploads with proxy support.
//
// Key features:
//   - Proxy support (uses ConfigureHTTPClient as base)
//   - Connection reuse across sequential chunk PATCHes and concurrent sessions
//   - HTTP/2 with runtime toggle (DISABLE_HTTP2 env var), disabled behind proxies
//   - Disabled compression (chunks are opaque bytes)
//   - No overall timeout; a stalled chunk is bounded by ResponseHeaderTimeout and
//     pause/cancel go through the request context
//
// If cfg is nil, proxy settings are read from environment variables.
func CreateOptimizedClient(cfg *config.Config) (*nethttp.Client, error) {
	var baseClient *nethttp.Client
	var err error

	if cfg != nil {
		baseClient, err = ConfigureHTTPClient(cfg)
		if err != nil {
			return nil, err
		}
	} else {
		baseClient = &nethttp.Client{Transport: newTransport()}
		baseClient.Transport.(*nethttp.Transport).Proxy = nethttp.ProxyFromEnvironment
	}

	tr, ok := baseClient.Transport.(*nethttp.Transport)
	if !ok {
		// NTLM mode wraps the transport in ntlmssp.Negotiator; leave it as-is.
		baseClient.Timeout = 0
		return baseClient, nil
	}

	tr.MaxIdleConns = 256
	tr.MaxIdleConnsPerHost = 64
	tr.MaxConnsPerHost = 64
	tr.ResponseHeaderTimeout = constants.HTTPResponseHeaderTimeout
	tr.DisableCompression = true
	tr.ForceAttemptHTTP2 = true

	_ = http2.ConfigureTransport(tr)

	if os.Getenv("DISABLE_HTTP2") == "true" {
		disableHTTP2(tr)
	}

	// Proxies often break HTTP/2 multiplexing mid-transfer.
	if proxyActive(cfg) && os.Getenv("FORCE_HTTP2") != "true" {
		disableHTTP2(tr)
	}

	baseClient.Transport = tr
	baseClient.Timeout = 0

	return baseClient, nil
}

func disableHTTP2(tr *nethttp.Transport) {
	tr.ForceAttemptHTTP2 = false
	tr.TLSNextProto = make(map[string]func(string, *tls.Conn) nethttp.RoundTripper)
}

func proxyActive(cfg *config.Config) bool {
	envProxy := os.Getenv("HTTP_PROXY") != "" || os.Getenv("HTTPS_PROXY") != "" ||
		os.Getenv("http_proxy") != "" || os.Getenv("https_proxy") != ""
	if cfg == nil {
		return envProxy
	}
	switch cfg.ProxyMode {
	case "no-proxy", "":
		return false
	case "system":
		return envProxy
	default:
		return true
	}
}
