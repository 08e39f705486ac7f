package catalog

import (
	"sort"
	"time"
)

// Image is one catalogued source image. Path is the first path the
// image was ever seen at; Paths is the full ordered, deduplicated set
// (spec §3 "paths: non-empty ordered set of UTF-8 strings").
type Image struct {
	ID      int64
	Hash    string
	Path    string
	Paths   []string
	AddedAt time.Time
}

// VectorStats tracks how many descriptor vectors an image contributed
// and the running prefix sum over insertion order (spec §3
// "cumulative_count is a running prefix sum ... over all images in
// insertion order"), satisfying invariant I3. It is a bookkeeping
// field, not the id the IVF stores: every descriptor is added under
// its parent image's own id (spec §4.4 step 2).
type VectorStats struct {
	ImageID         int64
	VectorCount     int
	CumulativeCount int64
	Indexed         bool
}

// Descriptor is one stored 32-byte binary descriptor together with the
// id of its parent image, the id every one of its copies carries into
// the IVF index (spec §4.4 step 2: "add_with_ids(blob, repeat(id,
// n_kp)) so every vector carries its parent image id").
type Descriptor struct {
	ID      int64
	ImageID int64
	Blob    []byte
}

// IDIndex is an in-memory sorted set of every catalogued image id,
// loaded once at startup to back the search engine's hot-path lookup
// (spec §4.5: "the engine loads all image-ids into an in-memory sorted
// structure to avoid a database round-trip per hit resolution"). IVF
// hits already carry the image id directly, so Contains only needs to
// confirm the id is still live (not tombstoned).
type IDIndex struct {
	ids []int64
}

// NewIDIndex builds an IDIndex from an unsorted id list; it copies and
// sorts, leaving the caller's slice untouched.
func NewIDIndex(ids []int64) *IDIndex {
	sorted := append([]int64(nil), ids...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i] < sorted[j] })
	return &IDIndex{ids: sorted}
}

// Contains reports whether id is a known image id.
func (x *IDIndex) Contains(id int64) bool {
	if x == nil {
		return false
	}
	i := sort.Search(len(x.ids), func(i int) bool { return x.ids[i] >= id })
	return i < len(x.ids) && x.ids[i] == id
}
