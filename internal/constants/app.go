package constants

import (
	"time"
)

// Application identity
const (
	// AppName is used for the binary name, config directory and env prefix
	AppName = "driftbox"

	// EnvPrefix - environment variables override config file values (DRIFTBOX_BASE_URL, ...)
	EnvPrefix = "DRIFTBOX_"
)

// Chunked upload sizing
const (
	// DefaultChunkSize - bytes sent per PATCH/part/block (5 MiB)
	// Large enough to amortize request overhead, small enough to bound retry cost.
	DefaultChunkSize = 5 * 1024 * 1024

	// MinChunkSize - lower bound accepted from config (256 KiB)
	MinChunkSize = 256 * 1024

	// MaxChunkSize - upper bound accepted from config (256 MiB)
	// One chunk is held in memory per active session.
	MaxChunkSize = 256 * 1024 * 1024

	// MinS3PartSize - AWS S3 minimum part size (5 MiB, except last part)
	MinS3PartSize = 5 * 1024 * 1024

	// MaxS3Parts - AWS S3 part number limit
	MaxS3Parts = 10000

	// MaxAzureBlocks - Azure block blob committed block limit
	MaxAzureBlocks = 50000
)

// Chunk retry schedule
// A chunk send is attempted once and then retried after each delay in turn.
var DefaultRetryDelays = []time.Duration{
	0,
	1 * time.Second,
	3 * time.Second,
	5 * time.Second,
}

// Control-call retry configuration (S3/Azure create, complete, list)
const (
	// MaxRetries - maximum number of attempts for transient errors
	MaxRetries = 5

	// RetryInitialDelay - initial delay before first retry (200ms)
	RetryInitialDelay = 200 * time.Millisecond

	// RetryMaxDelay - maximum delay between retries (15s)
	RetryMaxDelay = 15 * time.Second
)

// Speed/ETA estimation
const (
	// MinSampleInterval - the estimator only re-derives throughput once this much
	// time has elapsed since its baseline sample
	MinSampleInterval = 500 * time.Millisecond
)

// Resume records
const (
	// MaxResumeAge - resume records older than this are pruned (7 days)
	MaxResumeAge = 7 * 24 * time.Hour

	// ResumeStateFile - file name of the resume record store inside the state directory
	ResumeStateFile = "uploads.json"
)

// Remote endpoints (relative to the server base URL)
const (
	// DefaultUploadEndpoint - TUS creation endpoint
	DefaultUploadEndpoint = "/api/uploads/"

	// DefaultFilesPath - REST path for listing/downloading/deleting files
	DefaultFilesPath = "/api/files"

	// DefaultStreamPath - REST path for inline streaming with Range support
	DefaultStreamPath = "/api/stream"

	// DefaultBaseURL - server used when nothing is configured
	DefaultBaseURL = "http://localhost:8080"
)

// Local file collection
const (
	// CollectConcurrency - parallel stat/MIME detection workers when collecting sources
	CollectConcurrency = 8
)

// Disk space safety margin
const (
	// DiskSpaceBufferPercent - extra free space required before a download (15%)
	DiskSpaceBufferPercent = 0.15
)

// Event System
const (
	// EventBusDefaultBuffer - per-subscriber channel buffer
	// Progress events arrive once per chunk per session, so 1000 absorbs bursts
	// from many concurrent sessions without blocking publishers.
	EventBusDefaultBuffer = 1000

	// EventBusMaxBuffer - cap for caller-supplied buffer sizes
	EventBusMaxBuffer = 5000
)

// UI Updates
const (
	// ProgressRefreshInterval - mpb refresh rate for the upload view
	ProgressRefreshInterval = 300 * time.Millisecond

	// SnapshotPollInterval - how often the renderer pulls a registry snapshot
	SnapshotPollInterval = 250 * time.Millisecond

	// ProgressBarWidth - total width of the multi-bar view
	ProgressBarWidth = 100

	// MaxDisplayNameLength - names longer than this are truncated in the middle
	MaxDisplayNameLength = 40
)

// Background operations
const (
	// TerminateTimeout - bound on the best-effort server DELETE after a cancel
	TerminateTimeout = 30 * time.Second
)

// REST client
const (
	// APIRetryMax - go-retryablehttp retry count for file-management calls
	APIRetryMax = 3

	// APIRetryWaitMin - minimum wait between REST retries
	APIRetryWaitMin = 1 * time.Second

	// APIRetryWaitMax - maximum wait between REST retries
	APIRetryWaitMax = 10 * time.Second

	// APIRatePerSec - token bucket refill rate for file-management calls
	APIRatePerSec = 10.0

	// APIBurst - token bucket capacity for file-management calls
	APIBurst = 20.0

	// APIErrorBodyLimit - bytes of an error response kept for the error message
	APIErrorBodyLimit = 4096
)

// HTTP Transport
const (
	// HTTPIdleConnTimeout - keep idle connections around for reuse across chunks
	HTTPIdleConnTimeout = 90 * time.Second

	// HTTPTLSHandshakeTimeout - extended for slow networks and proxies
	HTTPTLSHandshakeTimeout = 60 * time.Second

	// HTTPExpectContinueTimeout - for HTTP 100-continue
	HTTPExpectContinueTimeout = 1 * time.Second

	// HTTPDialTimeout - TCP connect timeout
	HTTPDialTimeout = 30 * time.Second

	// HTTPDialKeepAlive - TCP keep-alive period
	HTTPDialKeepAlive = 30 * time.Second

	// HTTPResponseHeaderTimeout - a chunk PATCH must be acknowledged within this
	HTTPResponseHeaderTimeout = 2 * time.Minute
)
