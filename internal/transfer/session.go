// Package transfer owns upload sessions: the per-file lifecycle records, the
// registry holding them in insertion order, and the Orchestrator that runs
// their transfers and applies user commands.
package transfer

import (
	"math"
	"time"

	"github.com/driftbox/driftbox/internal/cloud"
)

// Status is the lifecycle state of a session.
type Status string

const (
	StatusQueued    Status = "queued"    // Created, transfer not started
	StatusUploading Status = "uploading" // Transfer attached
	StatusPaused    Status = "paused"    // Stopped by user, remote upload kept
	StatusCompleted Status = "completed" // All bytes acknowledged and finalized
	StatusError     Status = "error"     // Transfer failed, see LastError
)

// TransferSession is one file's upload record. Sessions are owned by the
// Orchestrator and only mutated under its lock; observers get SessionView
// copies.
type TransferSession struct {
	ID           string
	Source       cloud.Source
	Name         string
	RelativePath string

	TotalBytes       int64
	TransferredBytes int64
	ProgressPercent  int
	Status           Status

	ThroughputBps float64
	ETASeconds    float64

	LastError     string
	RemoteLocator string
	Location      string

	CreatedAt   time.Time
	StartedAt   time.Time
	CompletedAt time.Time

	generation uint64
	estimator  Estimator
}

// NewTransferSession creates a queued session for src.
func NewTransferSession(id string, src cloud.Source, now time.Time) *TransferSession {
	return &TransferSession{
		ID:           id,
		Source:       src,
		Name:         src.Name,
		RelativePath: src.RelativePath,
		TotalBytes:   src.Size,
		Status:       StatusQueued,
		CreatedAt:    now,
	}
}

// DisplayName is the relative path for folder uploads, otherwise the name.
func (s *TransferSession) DisplayName() string {
	if s.RelativePath != "" {
		return s.RelativePath
	}
	return s.Name
}

// setTransferred records acknowledged bytes. Regressions are ignored.
func (s *TransferSession) setTransferred(n int64) bool {
	if n < s.TransferredBytes {
		return false
	}
	if n > s.TotalBytes {
		n = s.TotalBytes
	}
	s.TransferredBytes = n
	s.ProgressPercent = percentOf(n, s.TotalBytes)
	return true
}

// stopMeasuring zeroes throughput and drops the speed baseline.
func (s *TransferSession) stopMeasuring() {
	s.ThroughputBps = 0
	s.ETASeconds = 0
	s.estimator.Reset()
}

// percentOf rounds transferred/total to a whole percent. 100 is reserved for
// completed sessions: a transfer with every byte acknowledged but not yet
// finalized shows 99.
func percentOf(transferred, total int64) int {
	if total <= 0 {
		return 0
	}
	p := int(math.Round(float64(transferred) / float64(total) * 100))
	if p > 99 {
		return 99
	}
	return p
}

// complete moves the session to completed at 100%.
func (s *TransferSession) complete(locator string, at time.Time) {
	s.Status = StatusCompleted
	s.TransferredBytes = s.TotalBytes
	s.ProgressPercent = 100
	s.RemoteLocator = locator
	s.LastError = ""
	s.CompletedAt = at
	s.stopMeasuring()
}

// SessionView is a point-in-time copy of a session.
type SessionView struct {
	ID           string
	Name         string
	RelativePath string

	TotalBytes       int64
	TransferredBytes int64
	ProgressPercent  int
	Status           Status

	ThroughputBps float64
	ETASeconds    float64

	LastError     string
	RemoteLocator string
	Location      string

	CreatedAt   time.Time
	StartedAt   time.Time
	CompletedAt time.Time
}

// DisplayName is the relative path for folder uploads, otherwise the name.
func (v SessionView) DisplayName() string {
	if v.RelativePath != "" {
		return v.RelativePath
	}
	return v.Name
}

// AverageBps is the mean rate of the last transfer of a completed session,
// measured from its start to completion. It is 0 otherwise.
func (v SessionView) AverageBps() float64 {
	if v.Status != StatusCompleted || v.StartedAt.IsZero() || v.CompletedAt.IsZero() {
		return 0
	}
	elapsed := v.CompletedAt.Sub(v.StartedAt).Seconds()
	if elapsed <= 0 {
		return 0
	}
	return float64(v.TotalBytes) / elapsed
}

// View copies the session's observable fields.
func (s *TransferSession) View() SessionView {
	return SessionView{
		ID:               s.ID,
		Name:             s.Name,
		RelativePath:     s.RelativePath,
		TotalBytes:       s.TotalBytes,
		TransferredBytes: s.TransferredBytes,
		ProgressPercent:  s.ProgressPercent,
		Status:           s.Status,
		ThroughputBps:    s.ThroughputBps,
		ETASeconds:       s.ETASeconds,
		LastError:        s.LastError,
		RemoteLocator:    s.RemoteLocator,
		Location:         s.Location,
		CreatedAt:        s.CreatedAt,
		StartedAt:        s.StartedAt,
		CompletedAt:      s.CompletedAt,
	}
}
