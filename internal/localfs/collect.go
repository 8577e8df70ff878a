package localfs

import (
	"context"
	"fmt"
	"os"
	"path"
	"path/filepath"

	"golang.org/x/sync/errgroup"

	"github.com/driftbox/driftbox/internal/cloud"
	"github.com/driftbox/driftbox/internal/constants"
	"github.com/driftbox/driftbox/internal/pathutil"
)

// Collect expands paths into upload sources. A file yields one source with
// no relative path. A directory yields one source per regular file beneath
// it, with RelativePath rooted at the directory's own name
// ("photos/2024/a.jpg" for a dropped "photos" folder). "." and other
// relative spellings use the resolved directory name.
//
// Sources come back in argument order, then lexical walk order.
func Collect(ctx context.Context, paths []string, opts CollectOptions) ([]cloud.Source, error) {
	var entries []FileEntry
	var rels []string

	for _, p := range paths {
		info, err := os.Stat(p)
		if err != nil {
			return nil, fmt.Errorf("failed to stat %s: %w", p, err)
		}

		if !info.IsDir() {
			if !info.Mode().IsRegular() {
				return nil, fmt.Errorf("%s is not a regular file", p)
			}
			entries = append(entries, FileEntry{
				Path:    p,
				Name:    filepath.Base(p),
				Size:    info.Size(),
				ModTime: info.ModTime(),
			})
			rels = append(rels, "")
			continue
		}

		abs, err := pathutil.ResolveAbsolutePath(p)
		if err != nil {
			return nil, fmt.Errorf("failed to resolve %s: %w", p, err)
		}
		root := filepath.Base(abs)
		err = Walk(p, WalkOptions{IncludeHidden: opts.IncludeHidden}, func(e FileEntry) error {
			entries = append(entries, e)
			rels = append(rels, path.Join(root, e.Rel))
			return ctx.Err()
		})
		if err != nil {
			return nil, fmt.Errorf("failed to walk %s: %w", p, err)
		}
	}

	limit := opts.Concurrency
	if limit <= 0 {
		limit = constants.CollectConcurrency
	}

	sources := make([]cloud.Source, len(entries))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(limit)
	for i := range entries {
		i := i
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			mimeType, err := DetectMimeType(entries[i].Path)
			if err != nil {
				return fmt.Errorf("failed to read %s: %w", entries[i].Path, err)
			}
			sources[i] = FileSource(entries[i], rels[i], mimeType)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return sources, nil
}

// FileSource builds a source backed by the local file e.
func FileSource(e FileEntry, relativePath, mimeType string) cloud.Source {
	local := e.Path
	return cloud.Source{
		Name:         e.Name,
		RelativePath: relativePath,
		MimeType:     mimeType,
		Size:         e.Size,
		ModTime:      e.ModTime,
		Path:         local,
		Open: func() (cloud.Payload, error) {
			return os.Open(local)
		},
	}
}
