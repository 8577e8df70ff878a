package progress

import "testing"

func TestFormatBytes(t *testing.T) {
	tests := []struct {
		n    int64
		want string
	}{
		{0, "0 B"},
		{-5, "0 B"},
		{512, "512 B"},
		{1024, "1 KB"},
		{1536, "1.5 KB"},
		{10 * 1024 * 1024, "10 MB"},
		{2621440, "2.5 MB"},
		{3 * 1024 * 1024 * 1024, "3 GB"},
		{5 * 1024 * 1024 * 1024 * 1024, "5120 GB"},
	}
	for _, tt := range tests {
		if got := FormatBytes(tt.n); got != tt.want {
			t.Errorf("FormatBytes(%d) = %q, want %q", tt.n, got, tt.want)
		}
	}
}

func TestFormatSpeed(t *testing.T) {
	if got := FormatSpeed(2.5 * 1024 * 1024); got != "2.5 MB/s" {
		t.Errorf("FormatSpeed = %q", got)
	}
	if got := FormatSpeed(0); got != "0 B/s" {
		t.Errorf("FormatSpeed(0) = %q", got)
	}
}

func TestFormatETA(t *testing.T) {
	tests := []struct {
		s    float64
		want string
	}{
		{0, "--"},
		{-1, "--"},
		{0.2, "1s"},
		{45, "45s"},
		{65, "1m 05s"},
		{600, "10m 00s"},
		{3723, "1h 02m"},
	}
	for _, tt := range tests {
		if got := FormatETA(tt.s); got != tt.want {
			t.Errorf("FormatETA(%v) = %q, want %q", tt.s, got, tt.want)
		}
	}
}

func TestTruncateName(t *testing.T) {
	if got := truncateName("short.txt", 20); got != "short.txt" {
		t.Errorf("got %q", got)
	}
	if got := truncateName("very/long/folder/structure/file.txt", 14); got != "…/file.txt" {
		t.Errorf("got %q", got)
	}
	if got := truncateName("abcdefghijklmnopqrstuvwxyz", 9); got != "abcd…wxyz" {
		t.Errorf("got %q", got)
	}
}
