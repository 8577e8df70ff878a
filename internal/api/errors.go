package api

import (
	"errors"
	"fmt"
	nethttp "net/http"
	"strings"
)

// ErrNotFound indicates the file id does not exist on the server.
var ErrNotFound = errors.New("file not found")

// APIError is a non-success response from the files API.
type APIError struct {
	Method     string
	URL        string
	StatusCode int
	Body       string
}

func (e *APIError) Error() string {
	msg := fmt.Sprintf("%s %s: %d %s", e.Method, e.URL, e.StatusCode, nethttp.StatusText(e.StatusCode))
	if body := strings.TrimSpace(e.Body); body != "" {
		msg += ": " + body
	}
	return msg
}

// Is reports 404 and 410 responses as ErrNotFound.
func (e *APIError) Is(target error) bool {
	return target == ErrNotFound && (e.StatusCode == nethttp.StatusNotFound || e.StatusCode == nethttp.StatusGone)
}

// IsNotFound checks whether err means the file does not exist.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}
