// Package cloud defines the resumable-upload abstraction shared by every
// backend (TUS, S3 multipart, Azure block blob): the Source being uploaded,
// the Uploader wire operations, and the Result stream a transfer emits.
package cloud

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"path"
	"strconv"
	"strings"
	"time"
)

var (
	// ErrProtocol marks unexpected server behavior (offset mismatch, unexpected
	// status, malformed headers). Never retried.
	ErrProtocol = errors.New("protocol violation")

	// ErrNotFound means the remote upload resource no longer exists.
	ErrNotFound = errors.New("upload resource not found")
)

// Payload is random access to the local bytes of a Source.
type Payload interface {
	io.ReaderAt
	io.Closer
}

// Source describes one local file to upload. It is immutable once created.
type Source struct {
	Name         string    // base name
	RelativePath string    // slash path under a dropped folder root; empty for single files
	MimeType     string    // declared MIME type
	Size         int64     // total bytes
	ModTime      time.Time // used for the resume fingerprint
	Path         string    // local path, empty for in-memory sources

	// Open returns a fresh handle on the payload. Each transfer opens its own.
	Open func() (Payload, error)
}

// Fingerprint identifies a source across process restarts so a previous
// remote upload can be rediscovered.
func (s Source) Fingerprint() string {
	return strings.Join([]string{
		"driftbox",
		s.Name,
		s.MimeType,
		strconv.FormatInt(s.Size, 10),
		strconv.FormatInt(s.ModTime.UnixMilli(), 10),
		s.RelativePath,
	}, "-")
}

// ObjectKey is the key used by object-store backends: the relative path when
// present, otherwise the base name.
func (s Source) ObjectKey() string {
	if s.RelativePath != "" {
		return path.Clean(strings.TrimPrefix(s.RelativePath, "/"))
	}
	return s.Name
}

// Metadata returns the metadata pairs sent on create.
// relativePath is omitted when empty.
func (s Source) Metadata() map[string]string {
	md := map[string]string{
		"filename": s.Name,
		"filetype": s.MimeType,
	}
	if s.RelativePath != "" {
		md["relativePath"] = s.RelativePath
	}
	return md
}

type bytesPayload struct {
	*bytes.Reader
}

func (bytesPayload) Close() error { return nil }

// BytesSource builds an in-memory Source.
func BytesSource(name, mimeType string, data []byte) Source {
	return Source{
		Name:     name,
		MimeType: mimeType,
		Size:     int64(len(data)),
		Open: func() (Payload, error) {
			return bytesPayload{bytes.NewReader(data)}, nil
		},
	}
}

// Uploader is the wire side of one resumable-upload backend. Implementations
// are stateless with respect to sessions: everything needed to continue an
// upload is encoded in the location string.
type Uploader interface {
	// Scheme is the URL scheme prefix of locations this backend produces
	// ("http", "s3", "azblob"); used to filter rediscovered uploads.
	Scheme() string

	// Create allocates a new remote upload resource and returns its location.
	Create(ctx context.Context, src Source) (string, error)

	// Offset returns the number of bytes the server has durably acknowledged.
	Offset(ctx context.Context, location string) (int64, error)

	// WriteChunk sends chunk at offset and returns the acknowledged new offset.
	WriteChunk(ctx context.Context, location string, offset int64, chunk []byte) (int64, error)

	// Finish finalizes a fully transferred upload and returns a stable locator.
	Finish(ctx context.Context, location string, src Source) (string, error)

	// Terminate discards the remote upload resource.
	Terminate(ctx context.Context, location string) error
}

// ResultKind tags a Result.
type ResultKind int

const (
	ResultProgress ResultKind = iota
	ResultCompleted
	ResultFailed
)

func (k ResultKind) String() string {
	switch k {
	case ResultProgress:
		return "progress"
	case ResultCompleted:
		return "completed"
	case ResultFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// Result is one message from a running transfer.
//
//   - ResultProgress: Offset of Total acknowledged; Location set once known
//   - ResultCompleted: Locator set; Offset == Total
//   - ResultFailed: Err set
type Result struct {
	Kind     ResultKind
	Location string
	Offset   int64
	Total    int64
	Locator  string
	Err      error
}

func (r Result) String() string {
	switch r.Kind {
	case ResultProgress:
		return fmt.Sprintf("progress %d/%d", r.Offset, r.Total)
	case ResultCompleted:
		return "completed " + r.Locator
	case ResultFailed:
		return fmt.Sprintf("failed: %v", r.Err)
	default:
		return r.Kind.String()
	}
}
