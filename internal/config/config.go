// Package config provides configuration management for driftbox.
package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"runtime"
	"sort"
	"strconv"
	"strings"
	"time"

	"gopkg.in/ini.v1"

	"github.com/driftbox/driftbox/internal/constants"
)

// Config is the resolved runtime configuration.
//
// Sources, lowest to highest priority: built-in defaults, the INI file,
// DRIFTBOX_* environment variables, command-line flags.
//
// INI format:
//
//	[server]
//	base_url = http://localhost:8080
//	upload_endpoint = /api/uploads/
//	files_path = /api/files
//	stream_path = /api/stream
//
//	[upload]
//	backend = tus
//	chunk_size = 5242880
//	retry_delays = 0s,1s,3s,5s
//
//	[proxy]
//	mode = no-proxy
//
//	[s3]
//	region = us-east-1
//	bucket = uploads
//
//	[azure]
//	container_url = https://acct.blob.core.windows.net/uploads?sv=...
type Config struct {
	// Server settings
	BaseURL        string
	UploadEndpoint string
	FilesPath      string
	StreamPath     string

	// Upload settings
	Backend         string // "tus", "s3" or "azure"
	ChunkSize       int64
	RetryDelays     []time.Duration
	ResumeStatePath string
	MaxResumeAge    time.Duration

	// Proxy settings
	ProxyMode     string // "no-proxy", "system", "basic", "ntlm"
	ProxyHost     string
	ProxyPort     int
	ProxyUser     string
	ProxyPassword string
	NoProxy       string // Comma-separated list of hosts to bypass proxy
	ProxyWarmup   bool

	S3    S3Config
	Azure AzureConfig
}

// S3Config holds settings for the S3 multipart backend.
type S3Config struct {
	Region          string
	Bucket          string
	Prefix          string
	AccessKeyID     string
	SecretAccessKey string
	Endpoint        string // custom endpoint (MinIO etc.), path-style addressing
}

// AzureConfig holds settings for the Azure block blob backend.
type AzureConfig struct {
	ContainerURL string // container URL including SAS token
	Prefix       string
}

// Supported backends
const (
	BackendTus   = "tus"
	BackendS3    = "s3"
	BackendAzure = "azure"
)

// Validation errors
var (
	ErrMissingBaseURL     = errors.New("server.base_url is required")
	ErrInvalidBaseURL     = errors.New("server.base_url must be an absolute http(s) URL")
	ErrUnknownBackend     = errors.New("upload.backend must be one of tus, s3, azure")
	ErrInvalidChunkSize   = errors.New("upload.chunk_size is out of range")
	ErrS3ChunkTooSmall    = errors.New("upload.chunk_size must be at least 5 MiB for the s3 backend")
	ErrMissingS3Bucket    = errors.New("s3.bucket is required for the s3 backend")
	ErrMissingAzureURL    = errors.New("azure.container_url is required for the azure backend")
	ErrUnknownProxyMode   = errors.New("proxy.mode must be one of no-proxy, system, basic, ntlm")
	ErrMissingProxyHost   = errors.New("proxy.host is required for basic and ntlm proxy modes")
	ErrUnknownKey         = errors.New("unknown configuration key")
	ErrInvalidRetryDelays = errors.New("upload.retry_delays must be a comma-separated list of non-negative durations")
)

// NewConfig creates a Config with default values.
func NewConfig() *Config {
	delays := make([]time.Duration, len(constants.DefaultRetryDelays))
	copy(delays, constants.DefaultRetryDelays)

	return &Config{
		BaseURL:        constants.DefaultBaseURL,
		UploadEndpoint: constants.DefaultUploadEndpoint,
		FilesPath:      constants.DefaultFilesPath,
		StreamPath:     constants.DefaultStreamPath,
		Backend:        BackendTus,
		ChunkSize:      constants.DefaultChunkSize,
		RetryDelays:    delays,
		MaxResumeAge:   constants.MaxResumeAge,
		ProxyMode:      "no-proxy",
	}
}

// field binds one "section.key" name to accessors on Config.
type field struct {
	get    func(c *Config) string
	set    func(c *Config, v string) error
	secret bool // not written by Save
}

func str(p func(c *Config) *string) field {
	return field{
		get: func(c *Config) string { return *p(c) },
		set: func(c *Config, v string) error { *p(c) = strings.TrimSpace(v); return nil },
	}
}

var fields = map[string]field{
	"server.base_url":        str(func(c *Config) *string { return &c.BaseURL }),
	"server.upload_endpoint": str(func(c *Config) *string { return &c.UploadEndpoint }),
	"server.files_path":      str(func(c *Config) *string { return &c.FilesPath }),
	"server.stream_path":     str(func(c *Config) *string { return &c.StreamPath }),

	"upload.backend": {
		get: func(c *Config) string { return c.Backend },
		set: func(c *Config, v string) error {
			switch b := strings.ToLower(strings.TrimSpace(v)); b {
			case BackendTus, BackendS3, BackendAzure:
				c.Backend = b
				return nil
			default:
				return fmt.Errorf("%w: %q", ErrUnknownBackend, v)
			}
		},
	},
	"upload.chunk_size": {
		get: func(c *Config) string { return strconv.FormatInt(c.ChunkSize, 10) },
		set: func(c *Config, v string) error {
			n, err := strconv.ParseInt(strings.TrimSpace(v), 10, 64)
			if err != nil {
				return fmt.Errorf("upload.chunk_size: %w", err)
			}
			c.ChunkSize = n
			return nil
		},
	},
	"upload.retry_delays": {
		get: func(c *Config) string { return FormatRetryDelays(c.RetryDelays) },
		set: func(c *Config, v string) error {
			d, err := ParseRetryDelays(v)
			if err != nil {
				return err
			}
			c.RetryDelays = d
			return nil
		},
	},
	"upload.resume_state": str(func(c *Config) *string { return &c.ResumeStatePath }),
	"upload.max_resume_age": {
		get: func(c *Config) string { return c.MaxResumeAge.String() },
		set: func(c *Config, v string) error {
			d, err := time.ParseDuration(strings.TrimSpace(v))
			if err != nil {
				return fmt.Errorf("upload.max_resume_age: %w", err)
			}
			c.MaxResumeAge = d
			return nil
		},
	},

	"proxy.mode": {
		get: func(c *Config) string { return c.ProxyMode },
		set: func(c *Config, v string) error {
			switch m := strings.ToLower(strings.TrimSpace(v)); m {
			case "no-proxy", "system", "basic", "ntlm":
				c.ProxyMode = m
				return nil
			default:
				return fmt.Errorf("%w: %q", ErrUnknownProxyMode, v)
			}
		},
	},
	"proxy.host": str(func(c *Config) *string { return &c.ProxyHost }),
	"proxy.port": {
		get: func(c *Config) string { return strconv.Itoa(c.ProxyPort) },
		set: func(c *Config, v string) error {
			n, err := strconv.Atoi(strings.TrimSpace(v))
			if err != nil {
				return fmt.Errorf("proxy.port: %w", err)
			}
			c.ProxyPort = n
			return nil
		},
	},
	"proxy.user": str(func(c *Config) *string { return &c.ProxyUser }),
	"proxy.password": {
		get:    func(c *Config) string { return c.ProxyPassword },
		set:    func(c *Config, v string) error { c.ProxyPassword = v; return nil },
		secret: true,
	},
	"proxy.no_proxy": str(func(c *Config) *string { return &c.NoProxy }),
	"proxy.warmup": {
		get: func(c *Config) string { return strconv.FormatBool(c.ProxyWarmup) },
		set: func(c *Config, v string) error {
			b, err := strconv.ParseBool(strings.TrimSpace(v))
			if err != nil {
				return fmt.Errorf("proxy.warmup: %w", err)
			}
			c.ProxyWarmup = b
			return nil
		},
	},

	"s3.region":        str(func(c *Config) *string { return &c.S3.Region }),
	"s3.bucket":        str(func(c *Config) *string { return &c.S3.Bucket }),
	"s3.prefix":        str(func(c *Config) *string { return &c.S3.Prefix }),
	"s3.access_key_id": str(func(c *Config) *string { return &c.S3.AccessKeyID }),
	"s3.secret_access_key": {
		get:    func(c *Config) string { return c.S3.SecretAccessKey },
		set:    func(c *Config, v string) error { c.S3.SecretAccessKey = strings.TrimSpace(v); return nil },
		secret: true,
	},
	"s3.endpoint": str(func(c *Config) *string { return &c.S3.Endpoint }),

	"azure.container_url": {
		get:    func(c *Config) string { return c.Azure.ContainerURL },
		set:    func(c *Config, v string) error { c.Azure.ContainerURL = strings.TrimSpace(v); return nil },
		secret: true,
	},
	"azure.prefix": str(func(c *Config) *string { return &c.Azure.Prefix }),
}

// Keys returns all known "section.key" names, sorted.
func Keys() []string {
	keys := make([]string, 0, len(fields))
	for k := range fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Set assigns a value by "section.key" name.
func (c *Config) Set(key, value string) error {
	f, ok := fields[strings.ToLower(key)]
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownKey, key)
	}
	return f.set(c, value)
}

// Get returns a value by "section.key" name.
func (c *Config) Get(key string) (string, error) {
	f, ok := fields[strings.ToLower(key)]
	if !ok {
		return "", fmt.Errorf("%w: %s", ErrUnknownKey, key)
	}
	return f.get(c), nil
}

// IsSecret reports whether a key holds a credential.
func IsSecret(key string) bool {
	return fields[strings.ToLower(key)].secret
}

// Load reads configuration from an INI file and applies environment overrides.
// If the file doesn't exist, defaults plus environment are returned with no error.
func Load(path string) (*Config, error) {
	cfg, err := LoadFile(path)
	if err != nil {
		return nil, err
	}
	if err := cfg.ApplyEnv(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// LoadFile reads the INI file at path (the default path when empty) on top
// of the defaults, without environment overrides. A missing file yields the
// defaults.
func LoadFile(path string) (*Config, error) {
	cfg := NewConfig()

	if path == "" {
		var err error
		path, err = DefaultConfigPath()
		if err != nil {
			return cfg, nil
		}
	}

	if _, err := os.Stat(path); err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return nil, fmt.Errorf("failed to stat config: %w", err)
	}

	iniFile, err := ini.Load(path)
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	for _, key := range Keys() {
		section, name, _ := strings.Cut(key, ".")
		sec := iniFile.Section(section)
		if !sec.HasKey(name) {
			continue
		}
		if err := cfg.Set(key, sec.Key(name).String()); err != nil {
			return nil, fmt.Errorf("%s: %w", path, err)
		}
	}
	return cfg, nil
}

// EnvName returns the environment variable that overrides key,
// e.g. "server.base_url" -> DRIFTBOX_SERVER_BASE_URL.
func EnvName(key string) string {
	return constants.EnvPrefix + strings.ToUpper(strings.ReplaceAll(key, ".", "_"))
}

// ApplyEnv overrides values from DRIFTBOX_* environment variables.
func (c *Config) ApplyEnv() error {
	for _, key := range Keys() {
		if v, ok := os.LookupEnv(EnvName(key)); ok {
			if err := c.Set(key, v); err != nil {
				return fmt.Errorf("%s: %w", EnvName(key), err)
			}
		}
	}
	return nil
}

// Save writes the configuration to an INI file with owner-only permissions.
// Secrets are written only when includeSecrets is true.
func Save(cfg *Config, path string, includeSecrets bool) error {
	if path == "" {
		var err error
		path, err = DefaultConfigPath()
		if err != nil {
			return fmt.Errorf("failed to determine config path: %w", err)
		}
	}

	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	iniFile := ini.Empty()
	for _, key := range Keys() {
		if fields[key].secret && !includeSecrets {
			continue
		}
		section, name, _ := strings.Cut(key, ".")
		sec, err := iniFile.GetSection(section)
		if err != nil {
			sec, err = iniFile.NewSection(section)
			if err != nil {
				return fmt.Errorf("failed to create %s section: %w", section, err)
			}
		}
		sec.Key(name).SetValue(fields[key].get(cfg))
	}

	// Temporary file + rename for atomicity
	tmpPath := path + ".tmp"
	if err := iniFile.SaveTo(tmpPath); err != nil {
		return fmt.Errorf("failed to write config: %w", err)
	}

	if runtime.GOOS != "windows" {
		if err := os.Chmod(tmpPath, 0600); err != nil {
			os.Remove(tmpPath)
			return fmt.Errorf("failed to set config permissions: %w", err)
		}
	}

	if err := os.Rename(tmpPath, path); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("failed to save config: %w", err)
	}

	return nil
}

// Validate checks that the configuration is usable for the selected backend.
func (c *Config) Validate() error {
	if strings.TrimSpace(c.BaseURL) == "" {
		return ErrMissingBaseURL
	}
	u, err := url.Parse(c.BaseURL)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return ErrInvalidBaseURL
	}

	if c.ChunkSize < constants.MinChunkSize || c.ChunkSize > constants.MaxChunkSize {
		return ErrInvalidChunkSize
	}

	switch c.Backend {
	case BackendTus:
	case BackendS3:
		if c.S3.Bucket == "" {
			return ErrMissingS3Bucket
		}
		if c.ChunkSize < constants.MinS3PartSize {
			return ErrS3ChunkTooSmall
		}
	case BackendAzure:
		if c.Azure.ContainerURL == "" {
			return ErrMissingAzureURL
		}
	default:
		return ErrUnknownBackend
	}

	switch c.ProxyMode {
	case "", "no-proxy", "system":
	case "basic", "ntlm":
		if c.ProxyHost == "" {
			return ErrMissingProxyHost
		}
	default:
		return ErrUnknownProxyMode
	}

	return nil
}

// UploadURL resolves the TUS creation endpoint against the base URL.
func (c *Config) UploadURL() (string, error) {
	return c.resolve(c.UploadEndpoint)
}

// FilesURL resolves the REST files path against the base URL.
func (c *Config) FilesURL() (string, error) {
	return c.resolve(c.FilesPath)
}

// StreamURL resolves the REST streaming path against the base URL.
func (c *Config) StreamURL() (string, error) {
	return c.resolve(c.StreamPath)
}

func (c *Config) resolve(ref string) (string, error) {
	base, err := url.Parse(c.BaseURL)
	if err != nil {
		return "", fmt.Errorf("invalid base url: %w", err)
	}
	r, err := url.Parse(ref)
	if err != nil {
		return "", fmt.Errorf("invalid path %q: %w", ref, err)
	}
	return base.ResolveReference(r).String(), nil
}

// ResumeStateFile returns the resume record store path, defaulting into the state directory.
func (c *Config) ResumeStateFile() string {
	if c.ResumeStatePath != "" {
		return c.ResumeStatePath
	}
	return filepath.Join(StateDirectory(), constants.ResumeStateFile)
}

// ParseRetryDelays parses "0s,1s,3s,5s". Bare integers are read as milliseconds.
func ParseRetryDelays(s string) ([]time.Duration, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return []time.Duration{}, nil
	}
	parts := strings.Split(s, ",")
	delays := make([]time.Duration, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		var d time.Duration
		if ms, err := strconv.Atoi(p); err == nil {
			d = time.Duration(ms) * time.Millisecond
		} else {
			d, err = time.ParseDuration(p)
			if err != nil {
				return nil, fmt.Errorf("%w: %q", ErrInvalidRetryDelays, p)
			}
		}
		if d < 0 {
			return nil, fmt.Errorf("%w: %q", ErrInvalidRetryDelays, p)
		}
		delays = append(delays, d)
	}
	return delays, nil
}

// FormatRetryDelays is the inverse of ParseRetryDelays.
func FormatRetryDelays(delays []time.Duration) string {
	parts := make([]string, len(delays))
	for i, d := range delays {
		parts[i] = d.String()
	}
	return strings.Join(parts, ",")
}
