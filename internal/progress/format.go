// Package progress renders transfer progress in the terminal: a multi-bar
// view of upload sessions and a single bar for downloads.
package progress

import (
	"fmt"
	"math"
	"path"
	"strconv"
	"strings"
	"unicode/utf8"
)

var sizeUnits = []string{"B", "KB", "MB", "GB"}

// FormatBytes renders n in binary units with at most one decimal:
// "0 B", "512 B", "1.5 KB", "10 MB". GB is the largest unit.
func FormatBytes(n int64) string {
	if n <= 0 {
		return "0 B"
	}
	i := int(math.Floor(math.Log(float64(n)) / math.Log(1024)))
	if i >= len(sizeUnits) {
		i = len(sizeUnits) - 1
	}
	v := float64(n) / math.Pow(1024, float64(i))
	v = math.Round(v*10) / 10
	return strconv.FormatFloat(v, 'f', -1, 64) + " " + sizeUnits[i]
}

// FormatSpeed renders a throughput in bytes per second, "2.5 MB/s".
func FormatSpeed(bps float64) string {
	if bps <= 0 {
		return "0 B/s"
	}
	return FormatBytes(int64(math.Round(bps))) + "/s"
}

// FormatETA renders a remaining time: "45s", "1m 05s", "2h 03m".
// Zero or negative means unknown and renders as "--".
func FormatETA(seconds float64) string {
	if seconds <= 0 || math.IsInf(seconds, 0) || math.IsNaN(seconds) {
		return "--"
	}
	s := int64(math.Ceil(seconds))
	switch {
	case s < 60:
		return fmt.Sprintf("%ds", s)
	case s < 3600:
		return fmt.Sprintf("%dm %02ds", s/60, s%60)
	default:
		return fmt.Sprintf("%dh %02dm", s/3600, (s%3600)/60)
	}
}

// truncateName shortens name to max runes by eliding the middle of its
// directory part, keeping the base name whenever it fits.
func truncateName(name string, max int) string {
	if utf8.RuneCountInString(name) <= max {
		return name
	}
	base := path.Base(name)
	if n := utf8.RuneCountInString(base); n+2 <= max && base != name {
		return "…/" + base
	}
	r := []rune(name)
	keep := max - 1
	head := keep / 2
	tail := keep - head
	return string(r[:head]) + "…" + string(r[len(r)-tail:])
}

// padRight pads s with spaces to width runes.
func padRight(s string, width int) string {
	if n := utf8.RuneCountInString(s); n < width {
		return s + strings.Repeat(" ", width-n)
	}
	return s
}
