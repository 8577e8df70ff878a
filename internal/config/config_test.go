package config

import (
	"errors"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"testing"
	"time"
)

func TestNewConfig(t *testing.T) {
	cfg := NewConfig()

	if cfg.UploadEndpoint != "/api/uploads/" {
		t.Errorf("expected default UploadEndpoint /api/uploads/, got %s", cfg.UploadEndpoint)
	}
	if cfg.ChunkSize != 5*1024*1024 {
		t.Errorf("expected default ChunkSize 5 MiB, got %d", cfg.ChunkSize)
	}
	if cfg.Backend != BackendTus {
		t.Errorf("expected default backend tus, got %s", cfg.Backend)
	}
	want := []time.Duration{0, time.Second, 3 * time.Second, 5 * time.Second}
	if len(cfg.RetryDelays) != len(want) {
		t.Fatalf("expected %d retry delays, got %d", len(want), len(cfg.RetryDelays))
	}
	for i := range want {
		if cfg.RetryDelays[i] != want[i] {
			t.Errorf("retry delay %d: expected %v, got %v", i, want[i], cfg.RetryDelays[i])
		}
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("defaults should validate, got %v", err)
	}
}

func TestSaveAndLoad(t *testing.T) {
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "config")

	cfg := NewConfig()
	cfg.BaseURL = "https://files.example.com"
	cfg.Backend = BackendS3
	cfg.ChunkSize = 8 * 1024 * 1024
	cfg.RetryDelays = []time.Duration{0, 2 * time.Second}
	cfg.S3.Bucket = "drops"
	cfg.S3.Region = "eu-west-1"
	cfg.S3.SecretAccessKey = "do-not-persist"
	cfg.ProxyMode = "basic"
	cfg.ProxyHost = "proxy.local"
	cfg.ProxyPort = 3128
	cfg.ProxyPassword = "hunter2"

	if err := Save(cfg, configPath, false); err != nil {
		t.Fatalf("Save failed: %v", err)
	}

	if runtime.GOOS != "windows" {
		info, err := os.Stat(configPath)
		if err != nil {
			t.Fatalf("stat: %v", err)
		}
		if info.Mode().Perm() != 0600 {
			t.Errorf("expected 0600 permissions, got %o", info.Mode().Perm())
		}
	}

	loaded, err := Load(configPath)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	if loaded.BaseURL != cfg.BaseURL {
		t.Errorf("BaseURL mismatch: expected %s, got %s", cfg.BaseURL, loaded.BaseURL)
	}
	if loaded.Backend != BackendS3 {
		t.Errorf("Backend mismatch: expected s3, got %s", loaded.Backend)
	}
	if loaded.ChunkSize != cfg.ChunkSize {
		t.Errorf("ChunkSize mismatch: expected %d, got %d", cfg.ChunkSize, loaded.ChunkSize)
	}
	if len(loaded.RetryDelays) != 2 || loaded.RetryDelays[1] != 2*time.Second {
		t.Errorf("RetryDelays mismatch: got %v", loaded.RetryDelays)
	}
	if loaded.S3.Bucket != "drops" || loaded.S3.Region != "eu-west-1" {
		t.Errorf("S3 settings mismatch: got %+v", loaded.S3)
	}
	if loaded.ProxyPort != 3128 {
		t.Errorf("ProxyPort mismatch: expected 3128, got %d", loaded.ProxyPort)
	}
	if loaded.ProxyPassword != "" || loaded.S3.SecretAccessKey != "" {
		t.Error("secrets should not be written when includeSecrets is false")
	}
}

func TestLoad_MissingFileReturnsDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "nope"))
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if cfg.BaseURL != NewConfig().BaseURL {
		t.Errorf("expected default base url, got %s", cfg.BaseURL)
	}
}

func TestLoad_InvalidValue(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config")
	if err := os.WriteFile(path, []byte("[upload]\nchunk_size = lots\n"), 0600); err != nil {
		t.Fatal(err)
	}
	if _, err := Load(path); err == nil {
		t.Fatal("expected error for non-numeric chunk_size")
	}
}

func TestApplyEnv(t *testing.T) {
	t.Setenv("DRIFTBOX_SERVER_BASE_URL", "https://env.example.com")
	t.Setenv("DRIFTBOX_UPLOAD_RETRY_DELAYS", "0,500,1500")

	cfg, err := Load(filepath.Join(t.TempDir(), "missing"))
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.BaseURL != "https://env.example.com" {
		t.Errorf("expected env base url, got %s", cfg.BaseURL)
	}
	want := []time.Duration{0, 500 * time.Millisecond, 1500 * time.Millisecond}
	for i := range want {
		if cfg.RetryDelays[i] != want[i] {
			t.Errorf("delay %d: expected %v, got %v", i, want[i], cfg.RetryDelays[i])
		}
	}
}

func TestLoadFile_IgnoresEnv(t *testing.T) {
	t.Setenv("DRIFTBOX_SERVER_BASE_URL", "https://env.example.com")
	path := filepath.Join(t.TempDir(), "config")
	if err := os.WriteFile(path, []byte("[server]\nbase_url = https://file.example.com\n"), 0600); err != nil {
		t.Fatal(err)
	}

	cfg, err := LoadFile(path)
	if err != nil {
		t.Fatalf("LoadFile failed: %v", err)
	}
	if cfg.BaseURL != "https://file.example.com" {
		t.Errorf("expected file base url, got %s", cfg.BaseURL)
	}
}

func TestEnvName(t *testing.T) {
	if got := EnvName("s3.access_key_id"); got != "DRIFTBOX_S3_ACCESS_KEY_ID" {
		t.Errorf("unexpected env name %s", got)
	}
}

func TestSetGet(t *testing.T) {
	cfg := NewConfig()

	if err := cfg.Set("Upload.Backend", "AZURE"); err != nil {
		t.Fatalf("Set failed: %v", err)
	}
	if v, _ := cfg.Get("upload.backend"); v != "azure" {
		t.Errorf("expected azure, got %s", v)
	}

	if err := cfg.Set("upload.colour", "blue"); !errors.Is(err, ErrUnknownKey) {
		t.Errorf("expected ErrUnknownKey, got %v", err)
	}
	if _, err := cfg.Get("nope.nope"); !errors.Is(err, ErrUnknownKey) {
		t.Errorf("expected ErrUnknownKey, got %v", err)
	}

	if !IsSecret("proxy.password") || IsSecret("proxy.host") {
		t.Error("IsSecret classification is wrong")
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		modify  func(c *Config)
		wantErr error
	}{
		{"defaults", func(c *Config) {}, nil},
		{"empty base url", func(c *Config) { c.BaseURL = "" }, ErrMissingBaseURL},
		{"relative base url", func(c *Config) { c.BaseURL = "/just/a/path" }, ErrInvalidBaseURL},
		{"tiny chunk", func(c *Config) { c.ChunkSize = 1024 }, ErrInvalidChunkSize},
		{"unknown backend", func(c *Config) { c.Backend = "ftp" }, ErrUnknownBackend},
		{"s3 without bucket", func(c *Config) { c.Backend = BackendS3 }, ErrMissingS3Bucket},
		{"s3 small chunk", func(c *Config) {
			c.Backend = BackendS3
			c.S3.Bucket = "b"
			c.ChunkSize = 1024 * 1024
		}, ErrS3ChunkTooSmall},
		{"azure without url", func(c *Config) { c.Backend = BackendAzure }, ErrMissingAzureURL},
		{"ntlm without host", func(c *Config) { c.ProxyMode = "ntlm" }, ErrMissingProxyHost},
		{"bad proxy mode", func(c *Config) { c.ProxyMode = "socks" }, ErrUnknownProxyMode},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := NewConfig()
			tt.modify(cfg)
			err := cfg.Validate()
			if !errors.Is(err, tt.wantErr) {
				t.Errorf("expected %v, got %v", tt.wantErr, err)
			}
		})
	}
}

func TestUploadURL(t *testing.T) {
	cfg := NewConfig()
	cfg.BaseURL = "https://files.example.com/root/"

	got, err := cfg.UploadURL()
	if err != nil {
		t.Fatal(err)
	}
	if got != "https://files.example.com/api/uploads/" {
		t.Errorf("unexpected upload url %s", got)
	}

	cfg.FilesPath = "api/files"
	got, _ = cfg.FilesURL()
	if got != "https://files.example.com/root/api/files" {
		t.Errorf("unexpected files url %s", got)
	}
}

func TestParseRetryDelays(t *testing.T) {
	d, err := ParseRetryDelays(" 0s, 1s ,3s,5s")
	if err != nil {
		t.Fatal(err)
	}
	if FormatRetryDelays(d) != "0s,1s,3s,5s" {
		t.Errorf("round trip mismatch: %s", FormatRetryDelays(d))
	}

	if d, err := ParseRetryDelays(""); err != nil || len(d) != 0 {
		t.Errorf("empty input should give no delays, got %v %v", d, err)
	}

	for _, bad := range []string{"soon", "-1s", "1s,,2s"} {
		if _, err := ParseRetryDelays(bad); !errors.Is(err, ErrInvalidRetryDelays) {
			t.Errorf("%q: expected ErrInvalidRetryDelays, got %v", bad, err)
		}
	}
}

func TestResumeStateFile(t *testing.T) {
	cfg := NewConfig()
	if !strings.HasSuffix(cfg.ResumeStateFile(), "uploads.json") {
		t.Errorf("unexpected default resume file %s", cfg.ResumeStateFile())
	}
	cfg.ResumeStatePath = "/tmp/x.json"
	if cfg.ResumeStateFile() != "/tmp/x.json" {
		t.Errorf("explicit path not honored: %s", cfg.ResumeStateFile())
	}
}
