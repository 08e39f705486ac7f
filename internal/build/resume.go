package build

import (
	"os"
	"sort"
	"strconv"
	"strings"

	"github.com/lolishinshi/imsearch-go/internal/config"
)

// ListSegmentPaths returns every existing index.{n} segment file path
// in the config directory, sorted by ascending segment number. Used by
// the search engine to query `--no-merge` builds (spec §4.4) without
// re-deriving the highest-segment scan logic.
func ListSegmentPaths(layout config.Layout) ([]string, error) {
	entries, err := os.ReadDir(layout.Root)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	var nums []int
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		name := e.Name()
		if !strings.HasPrefix(name, "index.") {
			continue
		}
		n, err := strconv.Atoi(strings.TrimPrefix(name, "index."))
		if err != nil {
			continue
		}
		nums = append(nums, n)
	}
	sort.Ints(nums)

	paths := make([]string, len(nums))
	for i, n := range nums {
		paths[i] = layout.SegmentPath(n)
	}
	return paths, nil
}

// highestSegment scans the config directory for index.{n} files and
// returns the largest n found, or -1 if none exist.
func highestSegment(layout config.Layout) (int, error) {
	entries, err := os.ReadDir(layout.Root)
	if os.IsNotExist(err) {
		return -1, nil
	}
	if err != nil {
		return -1, err
	}

	highest := -1
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		name := e.Name()
		if !strings.HasPrefix(name, "index.") {
			continue
		}
		suffix := strings.TrimPrefix(name, "index.")
		n, err := strconv.Atoi(suffix)
		if err != nil {
			continue
		}
		if n > highest {
			highest = n
		}
	}
	return highest, nil
}
