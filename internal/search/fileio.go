package search

import "os"

// readFile reads a catalogued image's bytes for on-demand phash
// computation during rerank. A small seam over os.ReadFile so tests
// can swap it; production always reads the catalogued path directly.
var readFile = os.ReadFile
