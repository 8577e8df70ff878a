package state

import (
	"os"
	"path/filepath"
	"runtime"
	"testing"
	"time"
)

func TestStore_FilePermissions(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("file permissions not enforced on Windows")
	}

	path := filepath.Join(t.TempDir(), "state", "uploads.json")
	s, err := Open(path, time.Hour)
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	if err := s.Remember("fp", "http://h/files/1", "a.txt", 10); err != nil {
		t.Fatalf("Remember failed: %v", err)
	}

	info, err := os.Stat(path)
	if err != nil {
		t.Fatalf("stat: %v", err)
	}
	if perm := info.Mode().Perm(); perm != 0600 {
		t.Errorf("expected 0600, got %o", perm)
	}
	if _, err := os.Stat(path + ".tmp"); !os.IsNotExist(err) {
		t.Error("temporary file should not be left behind")
	}
}

func TestStore_RoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "uploads.json")

	s, err := Open(path, 24*time.Hour)
	if err != nil {
		t.Fatal(err)
	}
	if err := s.Remember("fp-1", "https://h/api/uploads/abc", "movie.mp4", 100); err != nil {
		t.Fatal(err)
	}
	if err := s.Remember("fp-2", "s3://bucket/key?uploadId=x", "b.bin", 7); err != nil {
		t.Fatal(err)
	}

	reopened, err := Open(path, 24*time.Hour)
	if err != nil {
		t.Fatal(err)
	}
	if got := len(reopened.Records()); got != 2 {
		t.Fatalf("expected 2 records, got %d", got)
	}

	rec, ok := reopened.FindPrevious("fp-1", "http")
	if !ok {
		t.Fatal("expected https record to match http scheme")
	}
	if rec.Location != "https://h/api/uploads/abc" || rec.Name != "movie.mp4" || rec.Size != 100 {
		t.Errorf("unexpected record %+v", rec)
	}
}

func TestStore_FindPreviousFiltersScheme(t *testing.T) {
	s, err := Open(filepath.Join(t.TempDir(), "u.json"), 0)
	if err != nil {
		t.Fatal(err)
	}
	_ = s.Remember("fp", "s3://bucket/key?uploadId=1", "a", 1)

	if _, ok := s.FindPrevious("fp", "http"); ok {
		t.Error("s3 location must not match http scheme")
	}
	if _, ok := s.FindPrevious("fp", "azblob"); ok {
		t.Error("s3 location must not match azblob scheme")
	}
	if _, ok := s.FindPrevious("fp", "s3"); !ok {
		t.Error("expected s3 match")
	}
	if _, ok := s.FindPrevious("other", "s3"); ok {
		t.Error("different fingerprint must not match")
	}
}

func TestStore_FindPreviousPrefersNewest(t *testing.T) {
	s, err := Open(filepath.Join(t.TempDir(), "u.json"), 0)
	if err != nil {
		t.Fatal(err)
	}
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	clock := base
	s.now = func() time.Time { return clock }

	_ = s.Remember("fp", "http://h/files/old", "a", 1)
	clock = base.Add(time.Minute)
	_ = s.Remember("fp", "http://h/files/new", "a", 1)

	rec, ok := s.FindPrevious("fp", "http")
	if !ok || rec.Location != "http://h/files/new" {
		t.Errorf("expected newest record, got %+v", rec)
	}

	// Refreshing the old one makes it newest
	clock = base.Add(2 * time.Minute)
	_ = s.Remember("fp", "http://h/files/old", "a", 1)
	rec, _ = s.FindPrevious("fp", "http")
	if rec.Location != "http://h/files/old" {
		t.Errorf("expected refreshed record, got %s", rec.Location)
	}
	if len(s.Records()) != 2 {
		t.Errorf("refresh must not duplicate, got %d records", len(s.Records()))
	}
}

func TestStore_Forget(t *testing.T) {
	path := filepath.Join(t.TempDir(), "u.json")
	s, _ := Open(path, 0)
	_ = s.Remember("fp", "http://h/files/1", "a", 1)
	_ = s.Remember("fp", "http://h/files/2", "a", 1)
	_ = s.Remember("keep", "http://h/files/3", "b", 1)

	if err := s.Forget("fp", "http://h/files/1"); err != nil {
		t.Fatal(err)
	}
	if len(s.Records()) != 2 {
		t.Fatalf("expected 2 records, got %d", len(s.Records()))
	}

	if err := s.Forget("fp", ""); err != nil {
		t.Fatal(err)
	}
	reopened, _ := Open(path, 0)
	recs := reopened.Records()
	if len(recs) != 1 || recs[0].Fingerprint != "keep" {
		t.Errorf("expected only the kept record, got %+v", recs)
	}
}

func TestStore_PrunesExpired(t *testing.T) {
	path := filepath.Join(t.TempDir(), "u.json")
	s, _ := Open(path, time.Hour)
	s.now = func() time.Time { return time.Now().Add(-2 * time.Hour) }
	_ = s.Remember("stale", "http://h/files/1", "a", 1)

	reopened, err := Open(path, time.Hour)
	if err != nil {
		t.Fatal(err)
	}
	if _, ok := reopened.FindPrevious("stale", "http"); ok {
		t.Error("expired record should not be found")
	}
	if len(reopened.Records()) != 0 {
		t.Error("expired record should be pruned on open")
	}
}

func TestStore_CorruptFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "u.json")
	if err := os.WriteFile(path, []byte("{not json"), 0600); err != nil {
		t.Fatal(err)
	}
	if _, err := Open(path, 0); err == nil {
		t.Error("expected parse error")
	}
}

func TestStore_NilIsNoop(t *testing.T) {
	var s *Store
	if err := s.Remember("fp", "http://x", "a", 1); err != nil {
		t.Error(err)
	}
	if _, ok := s.FindPrevious("fp", "http"); ok {
		t.Error("nil store found a record")
	}
	if err := s.Forget("fp", ""); err != nil {
		t.Error(err)
	}
	if s.Records() != nil || s.Path() != "" {
		t.Error("nil store should be empty")
	}
}
