package pathutil

import (
	"fmt"
	"path/filepath"
)

// Target is one file of a multi-file download.
type Target struct {
	FileID    string
	Name      string
	LocalPath string
	Size      int64
}

// ResolveCollisions makes every LocalPath unique by inserting the file ID
// before the extension of paths shared by more than one target
// ("out.zip" becomes "out_ABC.zip"). It edits targets in place and returns
// how many targets were renamed.
func ResolveCollisions(targets []Target) int {
	byPath := make(map[string][]int, len(targets))
	for i, t := range targets {
		byPath[t.LocalPath] = append(byPath[t.LocalPath], i)
	}

	renamed := 0
	for p, idx := range byPath {
		if len(idx) < 2 {
			continue
		}
		ext := filepath.Ext(p)
		base := p[:len(p)-len(ext)]
		for _, i := range idx {
			targets[i].LocalPath = fmt.Sprintf("%s_%s%s", base, targets[i].FileID, ext)
			renamed++
		}
	}
	return renamed
}
