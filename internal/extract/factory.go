package extract

import (
	"fmt"
	"os"
)

// New constructs the process's extractor Library. If libraryPath is
// set, the native ORB library is dlopened at that path; IMSEARCH_EXTRACTOR
// overrides it to "stub" for tests and environments without the native
// library, mirroring the teacher's AMANMCP_EMBEDDER override pattern.
func New(libraryPath string) (Library, error) {
	if os.Getenv("IMSEARCH_EXTRACTOR") == "stub" || libraryPath == "" {
		return NewStub(), nil
	}
	lib, err := OpenNative(libraryPath)
	if err != nil {
		return nil, fmt.Errorf("open extractor library %s: %w", libraryPath, err)
	}
	return lib, nil
}
