package annindex

import "math/bits"

// HammingDistance returns the number of differing bits between two
// equal-length byte slices (the core metric over binary descriptors,
// spec §1, §4.5).
func HammingDistance(a, b []byte) int32 {
	var dist int32
	n := len(a)
	if len(b) < n {
		n = len(b)
	}
	for i := 0; i < n; i++ {
		dist += int32(bits.OnesCount8(a[i] ^ b[i]))
	}
	return dist
}
