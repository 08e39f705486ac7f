// Package ingest implements the add pipeline (spec §2 C3, §4.3):
// discover image files, extract descriptors, and persist them to the
// catalog through a bounded worker pool.
package ingest

import (
	"context"
	"io/fs"
	"path/filepath"
	"strings"
)

// Walk streams paths under root whose extension (case-insensitively)
// is in extensions. It stops and returns ctx.Err() if ctx is done.
func Walk(ctx context.Context, root string, extensions []string) (<-chan string, error) {
	allow := make(map[string]struct{}, len(extensions))
	for _, ext := range extensions {
		allow[strings.ToLower(strings.TrimPrefix(ext, "."))] = struct{}{}
	}

	out := make(chan string, 64)
	go func() {
		defer close(out)
		_ = filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
			if err != nil {
				return err
			}
			if d.IsDir() {
				return nil
			}
			ext := strings.ToLower(strings.TrimPrefix(filepath.Ext(path), "."))
			if _, ok := allow[ext]; !ok {
				return nil
			}
			select {
			case out <- path:
				return nil
			case <-ctx.Done():
				return ctx.Err()
			}
		})
	}()
	return out, nil
}
