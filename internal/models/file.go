// Package models holds the wire types of the remote files REST API.
package models

import (
	"fmt"
	"strconv"
	"strings"
)

// RemoteFile is one entry of GET /api/files.
type RemoteFile struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	Size      int64  `json:"size"`
	MimeType  string `json:"mimeType"`
	Path      string `json:"path,omitempty"` // relative path recorded at upload time
	Completed bool   `json:"completed"`
}

// DisplayName is the recorded relative path when present, otherwise the name.
func (f RemoteFile) DisplayName() string {
	if f.Path != "" {
		return f.Path
	}
	return f.Name
}

// ByteRange is an inclusive byte range for streaming. End < 0 means to the
// end of the file.
type ByteRange struct {
	Start int64
	End   int64
}

// Header formats the range as an HTTP Range header value.
func (r ByteRange) Header() string {
	if r.End < 0 {
		return fmt.Sprintf("bytes=%d-", r.Start)
	}
	return fmt.Sprintf("bytes=%d-%d", r.Start, r.End)
}

// ParseByteRange parses "START-END" or "START-".
func ParseByteRange(s string) (ByteRange, error) {
	startStr, endStr, ok := strings.Cut(strings.TrimSpace(s), "-")
	if !ok {
		return ByteRange{}, fmt.Errorf("invalid range %q: expected START-END", s)
	}
	start, err := strconv.ParseInt(startStr, 10, 64)
	if err != nil || start < 0 {
		return ByteRange{}, fmt.Errorf("invalid range start %q", startStr)
	}
	if endStr == "" {
		return ByteRange{Start: start, End: -1}, nil
	}
	end, err := strconv.ParseInt(endStr, 10, 64)
	if err != nil || end < start {
		return ByteRange{}, fmt.Errorf("invalid range end %q", endStr)
	}
	return ByteRange{Start: start, End: end}, nil
}
