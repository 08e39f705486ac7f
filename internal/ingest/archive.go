package ingest

import (
	"archive/tar"
	"context"
	"io"
	"strings"
	"sync"

	"golang.org/x/sync/errgroup"
)

// RunArchive ingests every matching member of a tar archive (spec §4.3
// "a tar archive" as an alternative input to a directory walk). The
// archive is read sequentially (tar has no random access) and handed
// off to the same bounded worker pool ingestOne uses for directory
// walks.
func (ing *Ingester) RunArchive(ctx context.Context, r io.Reader, extensions []string) (Stats, error) {
	allow := make(map[string]struct{}, len(extensions))
	for _, ext := range extensions {
		allow[strings.ToLower(strings.TrimPrefix(ext, "."))] = struct{}{}
	}

	type member struct {
		path string
		data []byte
	}
	items := make(chan member, 64)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		defer close(items)
		tr := tar.NewReader(r)
		for {
			hdr, err := tr.Next()
			if err == io.EOF {
				return nil
			}
			if err != nil {
				return err
			}
			if hdr.Typeflag != tar.TypeReg {
				continue
			}
			ext := strings.ToLower(strings.TrimPrefix(extOf(hdr.Name), "."))
			if _, ok := allow[ext]; !ok {
				continue
			}
			data, err := io.ReadAll(tr)
			if err != nil {
				return err
			}
			select {
			case items <- member{path: hdr.Name, data: data}:
			case <-gctx.Done():
				return gctx.Err()
			}
		}
	})

	var mu sync.Mutex
	stats := Stats{}
	for i := 0; i < ing.Workers; i++ {
		g.Go(func() error {
			for m := range items {
				out := ing.ingestBytes(gctx, m.path, m.data)
				mu.Lock()
				stats.Scanned++
				stats.BytesRead += out.bytesRead
				switch out.kind {
				case outcomeAdded:
					stats.Added++
					stats.DescriptorsExtracted += out.descriptors
				case outcomeSkipped:
					stats.Skipped++
					stats.Errors = append(stats.Errors, FileError{Path: m.path, Err: out.err.Error()})
				case outcomeFailed:
					stats.Failed++
					stats.Errors = append(stats.Errors, FileError{Path: m.path, Err: out.err.Error()})
				}
				mu.Unlock()
			}
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return stats, err
	}
	return stats, nil
}

func extOf(name string) string {
	if i := strings.LastIndexByte(name, '.'); i >= 0 {
		return name[i+1:]
	}
	return ""
}
