package search

import (
	"bytes"
	"encoding/gob"
	"fmt"
	"image"
	_ "image/jpeg"
	_ "image/png"
	"os"
	"path/filepath"

	"github.com/corona10/goimagehash"
	lru "github.com/hashicorp/golang-lru/v2"
)

// PhashCacheSize is the default number of stored image phashes kept
// in memory (spec §4.5: "stored phashes may be cached per image-id").
const PhashCacheSize = 100000

// PhashCache caches perceptual hashes by image id, mirroring the
// teacher's CachedEmbedder LRU-caching shape.
type PhashCache struct {
	cache *lru.Cache[int64, uint64]
}

// NewPhashCache constructs a cache holding up to size entries.
func NewPhashCache(size int) (*PhashCache, error) {
	if size <= 0 {
		size = PhashCacheSize
	}
	cache, err := lru.New[int64, uint64](size)
	if err != nil {
		return nil, err
	}
	return &PhashCache{cache: cache}, nil
}

// ComputePhash decodes raw image bytes and returns their 64-bit
// perceptual hash.
func ComputePhash(raw []byte) (uint64, error) {
	img, _, err := image.Decode(bytes.NewReader(raw))
	if err != nil {
		return 0, err
	}
	hash, err := goimagehash.PerceptionHash(img)
	if err != nil {
		return 0, err
	}
	return hash.GetHash(), nil
}

// Get returns a cached phash for imageID if present.
func (c *PhashCache) Get(imageID int64) (uint64, bool) {
	return c.cache.Get(imageID)
}

// Put stores a phash for imageID.
func (c *PhashCache) Put(imageID int64, hash uint64) {
	c.cache.Add(imageID, hash)
}

// Clear evicts every cached phash (spec §6 `clear-cache`).
func (c *PhashCache) Clear() {
	c.cache.Purge()
}

// Save persists every cached phash to path (spec §4.8/§6's phash.cache
// file), gob-encoding the id/hash pairs and writing them through a
// temp file + rename so a crash mid-write never leaves a truncated
// cache behind, the same atomic-save shape as the teacher's HNSW
// store.
func (c *PhashCache) Save(path string) error {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("phash cache: create directory: %w", err)
		}
	}

	tmpPath := path + ".tmp"
	file, err := os.Create(tmpPath)
	if err != nil {
		return fmt.Errorf("phash cache: create temp file: %w", err)
	}

	keys := c.cache.Keys()
	entries := make(map[int64]uint64, len(keys))
	for _, id := range keys {
		if hash, ok := c.cache.Peek(id); ok {
			entries[id] = hash
		}
	}

	if err := gob.NewEncoder(file).Encode(entries); err != nil {
		file.Close()
		os.Remove(tmpPath)
		return fmt.Errorf("phash cache: encode: %w", err)
	}
	if err := file.Close(); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("phash cache: close temp file: %w", err)
	}
	return os.Rename(tmpPath, path)
}

// Load restores a cache previously written by Save. A missing file is
// not an error: a fresh config directory simply starts with an empty
// cache.
func (c *PhashCache) Load(path string) error {
	file, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("phash cache: open: %w", err)
	}
	defer file.Close()

	var entries map[int64]uint64
	if err := gob.NewDecoder(file).Decode(&entries); err != nil {
		return fmt.Errorf("phash cache: decode: %w", err)
	}
	for id, hash := range entries {
		c.cache.Add(id, hash)
	}
	return nil
}

// Distance returns the Hamming distance between two 64-bit phashes.
func Distance(a, b uint64) int {
	h1 := goimagehash.NewImageHash(a, goimagehash.PHash)
	h2 := goimagehash.NewImageHash(b, goimagehash.PHash)
	d, err := h1.Distance(h2)
	if err != nil {
		return 64
	}
	return d
}
