package catalog

import (
	"crypto/sha256"
	"encoding/hex"

	"lukechampine.com/blake3"
)

// HashBytes returns the catalog's default content hash (BLAKE3) for
// deduplication (spec §4.2, DOMAIN STACK: default hash algorithm).
func HashBytes(data []byte) string {
	return HashBytesWith("blake3", data)
}

// HashBytesWith hashes data with the named algorithm (spec §3
// "computed over the raw file bytes using a configurable algorithm
// (default BLAKE3)"). An unrecognized name falls back to blake3.
func HashBytesWith(algorithm string, data []byte) string {
	switch algorithm {
	case "sha256":
		sum := sha256.Sum256(data)
		return hex.EncodeToString(sum[:])
	default:
		sum := blake3.Sum256(data)
		return hex.EncodeToString(sum[:])
	}
}
