package http

import (
	nethttp "net/http"
	"net/url"
	"testing"

	ntlmssp "github.com/Azure/go-ntlmssp"

	"github.com/driftbox/driftbox/internal/config"
)

// TestProxyFuncWithBypass verifies NO_PROXY style matching for the upload server hosts.
func TestProxyFuncWithBypass(t *testing.T) {
	proxyURL, _ := url.Parse("http://proxy.corp:8080")

	tests := []struct {
		name       string
		noProxy    string
		target     string
		wantBypass bool
	}{
		{"empty list proxies everything", "", "https://uploads.example.com/api/uploads/", false},
		{"wildcard domain", "*.example.com", "https://uploads.example.com/api/uploads/", true},
		{"exact domain covers subdomains", "example.com", "https://files.example.com/api/files", true},
		{"cidr", "10.0.0.0/8", "http://10.1.2.3:1080/api/uploads/", true},
		{"non-matching host", "*.internal.corp,10.0.0.0/8", "https://s3.amazonaws.com/bucket", false},
		{"multiple patterns", "*.example.com, 192.168.0.0/16, internal.corp", "http://192.168.1.100/api/stream/x", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			proxyFunc := proxyFuncWithBypass(proxyURL, tt.noProxy)
			req, _ := nethttp.NewRequest("PATCH", tt.target, nil)
			result, err := proxyFunc(req)
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if tt.wantBypass && result != nil {
				t.Errorf("expected bypass (nil) for %s, got %v", tt.target, result)
			}
			if !tt.wantBypass {
				if result == nil {
					t.Fatalf("expected proxy for %s, got nil (direct)", tt.target)
				}
				if result.Host != "proxy.corp:8080" {
					t.Errorf("expected proxy host proxy.corp:8080, got %s", result.Host)
				}
			}
		})
	}
}

func TestBuildProxyURL(t *testing.T) {
	cfg := config.NewConfig()
	cfg.ProxyHost = "proxy.corp"

	u := buildProxyURL(cfg)
	if u.Host != "proxy.corp:8080" {
		t.Errorf("expected default port 8080, got %s", u.Host)
	}
	if u.User != nil {
		t.Error("credentials should not be embedded without a password")
	}

	cfg.ProxyPort = 3128
	cfg.ProxyUser = "alice"
	cfg.ProxyPassword = "s3cret"
	u = buildProxyURL(cfg)
	if u.Host != "proxy.corp:3128" || u.User.Username() != "alice" {
		t.Errorf("unexpected proxy url %s", u.Redacted())
	}
}

func TestConfigureHTTPClient_Modes(t *testing.T) {
	cfg := config.NewConfig()

	client, err := ConfigureHTTPClient(cfg)
	if err != nil {
		t.Fatalf("no-proxy: %v", err)
	}
	if tr, ok := client.Transport.(*nethttp.Transport); !ok || tr.Proxy != nil {
		t.Error("no-proxy mode should use a plain transport without proxy")
	}

	cfg.ProxyMode = "ntlm"
	cfg.ProxyHost = "proxy.corp"
	client, err = ConfigureHTTPClient(cfg)
	if err != nil {
		t.Fatalf("ntlm: %v", err)
	}
	if _, ok := client.Transport.(ntlmssp.Negotiator); !ok {
		t.Errorf("ntlm mode should wrap the transport, got %T", client.Transport)
	}

	cfg.ProxyMode = "socks"
	if _, err := ConfigureHTTPClient(cfg); err == nil {
		t.Error("expected error for unsupported proxy mode")
	}
}

func TestCreateOptimizedClient(t *testing.T) {
	t.Setenv("HTTP_PROXY", "")
	t.Setenv("HTTPS_PROXY", "")
	t.Setenv("http_proxy", "")
	t.Setenv("https_proxy", "")

	client, err := CreateOptimizedClient(config.NewConfig())
	if err != nil {
		t.Fatal(err)
	}
	tr, ok := client.Transport.(*nethttp.Transport)
	if !ok {
		t.Fatalf("expected *http.Transport, got %T", client.Transport)
	}
	if !tr.ForceAttemptHTTP2 || !tr.DisableCompression {
		t.Error("expected HTTP/2 enabled and compression disabled without a proxy")
	}
	if client.Timeout != 0 {
		t.Error("client must not carry an overall timeout")
	}

	cfg := config.NewConfig()
	cfg.ProxyMode = "basic"
	cfg.ProxyHost = "proxy.corp"
	client, err = CreateOptimizedClient(cfg)
	if err != nil {
		t.Fatal(err)
	}
	if client.Transport.(*nethttp.Transport).ForceAttemptHTTP2 {
		t.Error("HTTP/2 should be disabled behind a proxy")
	}
}

func TestNeedsProxyPassword(t *testing.T) {
	cfg := config.NewConfig()
	if NeedsProxyPassword(cfg) {
		t.Error("no-proxy never needs a password")
	}
	cfg.ProxyMode = "basic"
	cfg.ProxyUser = "alice"
	if !NeedsProxyPassword(cfg) {
		t.Error("basic with user and no password needs a prompt")
	}
	cfg.ProxyPassword = "x"
	if NeedsProxyPassword(cfg) {
		t.Error("password already set")
	}
}
