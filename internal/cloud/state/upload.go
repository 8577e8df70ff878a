// Package state persists resume records: which remote upload resource belongs
// to which local source fingerprint, so an interrupted upload can be found
// again after the process restarts.
package state

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"
)

// UploadRecord ties a source fingerprint to a remote upload location.
type UploadRecord struct {
	Fingerprint string    `json:"fingerprint"`
	Location    string    `json:"location"`
	Name        string    `json:"name"`
	Size        int64     `json:"size"`
	CreatedAt   time.Time `json:"created_at"`
	LastUpdate  time.Time `json:"last_update"`
}

type storeFile struct {
	Version int            `json:"version"`
	Uploads []UploadRecord `json:"uploads"`
}

const storeVersion = 1

// Store is a JSON file of UploadRecords. Every mutation is written through
// atomically. A nil *Store is valid and remembers nothing.
type Store struct {
	path    string
	maxAge  time.Duration
	now     func() time.Time
	mu      sync.Mutex
	records []UploadRecord
}

// Open loads the store at path, dropping records older than maxAge.
// A missing file yields an empty store.
func Open(path string, maxAge time.Duration) (*Store, error) {
	s := &Store{path: path, maxAge: maxAge, now: time.Now}

	data, err := os.ReadFile(path)
	switch {
	case err == nil:
		var f storeFile
		if err := json.Unmarshal(data, &f); err != nil {
			return nil, fmt.Errorf("failed to parse resume state %s: %w", path, err)
		}
		s.records = f.Uploads
	case os.IsNotExist(err):
	default:
		return nil, fmt.Errorf("failed to read resume state: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.pruneLocked() > 0 {
		if err := s.saveLocked(); err != nil {
			return nil, err
		}
	}
	return s, nil
}

// Path returns the backing file path.
func (s *Store) Path() string {
	if s == nil {
		return ""
	}
	return s.path
}

// FindPrevious returns the most recently updated record for fingerprint whose
// location uses the given URL scheme ("http" also matches "https").
func (s *Store) FindPrevious(fingerprint, scheme string) (UploadRecord, bool) {
	if s == nil {
		return UploadRecord{}, false
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	var matches []UploadRecord
	for _, r := range s.records {
		if r.Fingerprint == fingerprint && schemeMatches(r.Location, scheme) && !s.expired(r) {
			matches = append(matches, r)
		}
	}
	if len(matches) == 0 {
		return UploadRecord{}, false
	}
	sort.Slice(matches, func(i, j int) bool {
		return matches[i].LastUpdate.After(matches[j].LastUpdate)
	})
	return matches[0], true
}

func schemeMatches(location, scheme string) bool {
	if scheme == "" {
		return true
	}
	if strings.HasPrefix(location, scheme+"://") {
		return true
	}
	return scheme == "http" && strings.HasPrefix(location, "https://")
}

// Remember records (or refreshes) the location for fingerprint.
func (s *Store) Remember(fingerprint, location, name string, size int64) error {
	if s == nil {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	for i := range s.records {
		if s.records[i].Fingerprint == fingerprint && s.records[i].Location == location {
			s.records[i].LastUpdate = now
			return s.saveLocked()
		}
	}
	s.records = append(s.records, UploadRecord{
		Fingerprint: fingerprint,
		Location:    location,
		Name:        name,
		Size:        size,
		CreatedAt:   now,
		LastUpdate:  now,
	})
	return s.saveLocked()
}

// Forget removes the record for (fingerprint, location). An empty location
// removes every record for fingerprint.
func (s *Store) Forget(fingerprint, location string) error {
	if s == nil {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	kept := s.records[:0]
	removed := 0
	for _, r := range s.records {
		if r.Fingerprint == fingerprint && (location == "" || r.Location == location) {
			removed++
			continue
		}
		kept = append(kept, r)
	}
	s.records = kept
	if removed == 0 {
		return nil
	}
	return s.saveLocked()
}

// Records returns a copy of all live records.
func (s *Store) Records() []UploadRecord {
	if s == nil {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]UploadRecord, 0, len(s.records))
	for _, r := range s.records {
		if !s.expired(r) {
			out = append(out, r)
		}
	}
	return out
}

func (s *Store) expired(r UploadRecord) bool {
	return s.maxAge > 0 && s.now().Sub(r.CreatedAt) > s.maxAge
}

func (s *Store) pruneLocked() int {
	kept := s.records[:0]
	for _, r := range s.records {
		if !s.expired(r) {
			kept = append(kept, r)
		}
	}
	pruned := len(s.records) - len(kept)
	s.records = kept
	return pruned
}

// saveLocked writes the store atomically using a temporary file + rename.
func (s *Store) saveLocked() error {
	if err := os.MkdirAll(filepath.Dir(s.path), 0700); err != nil {
		return fmt.Errorf("failed to create state directory: %w", err)
	}

	data, err := json.MarshalIndent(storeFile{Version: storeVersion, Uploads: s.records}, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal resume state: %w", err)
	}

	tmpPath := s.path + ".tmp"
	if err := os.WriteFile(tmpPath, data, 0600); err != nil {
		return fmt.Errorf("failed to write temp state file: %w", err)
	}

	if err := os.Rename(tmpPath, s.path); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("failed to rename state file: %w", err)
	}

	return nil
}
