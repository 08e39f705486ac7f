package config

import (
	"os"
	"path/filepath"
	"strconv"
)

// Dir resolves the config directory: the explicit flag value if
// non-empty, else IMSEARCH_CONF_DIR, else the current directory.
func Dir(flagValue string) string {
	if flagValue != "" {
		return flagValue
	}
	if env := os.Getenv("IMSEARCH_CONF_DIR"); env != "" {
		return env
	}
	return "."
}

// Layout is the set of well-known file paths inside a config directory.
type Layout struct {
	Root         string
	ConfigTOML   string
	CatalogDB    string
	Quantizer    string
	MasterIndex  string
	OnDiskVecs   string
	PhashCache   string
}

// NewLayout computes the Layout for a config directory.
func NewLayout(dir string) Layout {
	return Layout{
		Root:        dir,
		ConfigTOML:  filepath.Join(dir, "config.toml"),
		CatalogDB:   filepath.Join(dir, "imsearch.db"),
		Quantizer:   filepath.Join(dir, "quantizer.bin"),
		MasterIndex: filepath.Join(dir, "index.bin"),
		OnDiskVecs:  filepath.Join(dir, "index.ivfdata"),
		PhashCache:  filepath.Join(dir, "phash.cache"),
	}
}

// SegmentPath returns the path of segment n: index.{n}.
func (l Layout) SegmentPath(n int) string {
	return filepath.Join(l.Root, "index."+strconv.Itoa(n))
}

// EnsureDir creates the config directory if it doesn't exist.
func (l Layout) EnsureDir() error {
	return os.MkdirAll(l.Root, 0o755)
}
