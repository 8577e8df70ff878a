package localfs

import (
	"io/fs"
	"path/filepath"
	"time"
)

// FileEntry is a regular file found by Walk.
type FileEntry struct {
	Path    string // full local path
	Rel     string // slash path relative to the walk root
	Name    string // base name
	Size    int64
	ModTime time.Time
}

// WalkFunc is called for every regular file. Returning an error stops the walk.
type WalkFunc func(entry FileEntry) error

// Walk visits every regular file under root in lexical order. Hidden files
// are skipped and hidden directories are not descended into unless
// opts.IncludeHidden is set. Entries that cannot be read are skipped.
func Walk(root string, opts WalkOptions, fn WalkFunc) error {
	return filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			if path == root {
				return err
			}
			return nil
		}

		if path != root && !opts.IncludeHidden && IsHiddenName(d.Name()) {
			if d.IsDir() {
				return filepath.SkipDir
			}
			return nil
		}
		if !d.Type().IsRegular() {
			return nil
		}

		info, err := d.Info()
		if err != nil {
			return nil
		}
		rel, err := filepath.Rel(root, path)
		if err != nil {
			return err
		}

		return fn(FileEntry{
			Path:    path,
			Rel:     filepath.ToSlash(rel),
			Name:    d.Name(),
			Size:    info.Size(),
			ModTime: info.ModTime(),
		})
	})
}
