package transfer

import (
	"math"
)

// Registry holds sessions in insertion order. It is not safe for concurrent
// use; the Orchestrator serializes access under its lock.
type Registry struct {
	sessions []*TransferSession
	byID     map[string]*TransferSession
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{byID: make(map[string]*TransferSession)}
}

// Add appends s. A session whose ID is already present is ignored.
func (r *Registry) Add(s *TransferSession) bool {
	if _, exists := r.byID[s.ID]; exists {
		return false
	}
	r.sessions = append(r.sessions, s)
	r.byID[s.ID] = s
	return true
}

// Get returns the session with id, or nil.
func (r *Registry) Get(id string) *TransferSession {
	return r.byID[id]
}

// Remove deletes the session with id, keeping the order of the rest.
func (r *Registry) Remove(id string) bool {
	if _, ok := r.byID[id]; !ok {
		return false
	}
	delete(r.byID, id)
	for i, s := range r.sessions {
		if s.ID == id {
			r.sessions = append(r.sessions[:i], r.sessions[i+1:]...)
			break
		}
	}
	return true
}

// RemoveWhere deletes every session matching pred and returns them in order.
func (r *Registry) RemoveWhere(pred func(*TransferSession) bool) []*TransferSession {
	var removed []*TransferSession
	kept := r.sessions[:0]
	for _, s := range r.sessions {
		if pred(s) {
			removed = append(removed, s)
			delete(r.byID, s.ID)
			continue
		}
		kept = append(kept, s)
	}
	for i := len(kept); i < len(r.sessions); i++ {
		r.sessions[i] = nil
	}
	r.sessions = kept
	return removed
}

// Len returns the number of sessions.
func (r *Registry) Len() int {
	return len(r.sessions)
}

// IDs returns the session ids whose status is one of statuses, in order.
// With no statuses, every id is returned.
func (r *Registry) IDs(statuses ...Status) []string {
	ids := make([]string, 0, len(r.sessions))
	for _, s := range r.sessions {
		if len(statuses) == 0 || hasStatus(s.Status, statuses) {
			ids = append(ids, s.ID)
		}
	}
	return ids
}

func hasStatus(s Status, statuses []Status) bool {
	for _, want := range statuses {
		if s == want {
			return true
		}
	}
	return false
}

// Snapshot copies every session in insertion order.
func (r *Registry) Snapshot() []SessionView {
	views := make([]SessionView, len(r.sessions))
	for i, s := range r.sessions {
		views[i] = s.View()
	}
	return views
}

// Stats summarizes the registry.
type Stats struct {
	Total     int
	Queued    int
	Uploading int
	Paused    int
	Completed int
	Failed    int

	// Percent is the mean of the per-session percents, rounded. Every file
	// weighs the same regardless of size.
	Percent int

	TransferredBytes int64
	TotalBytes       int64

	// ThroughputBps sums the uploading sessions.
	ThroughputBps float64
}

// Stats computes counts per status and aggregate progress.
func (r *Registry) Stats() Stats {
	st := Stats{Total: len(r.sessions)}
	var percentSum int
	for _, s := range r.sessions {
		switch s.Status {
		case StatusQueued:
			st.Queued++
		case StatusUploading:
			st.Uploading++
			st.ThroughputBps += s.ThroughputBps
		case StatusPaused:
			st.Paused++
		case StatusCompleted:
			st.Completed++
		case StatusError:
			st.Failed++
		}
		percentSum += s.ProgressPercent
		st.TransferredBytes += s.TransferredBytes
		st.TotalBytes += s.TotalBytes
	}
	if st.Total > 0 {
		st.Percent = int(math.Round(float64(percentSum) / float64(st.Total)))
	}
	return st
}
