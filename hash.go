package gloomtier

import (
	"crypto/sha256"
	"encoding/binary"
	"math/bits"
	"strconv"
)

// HashScheme derives k bit positions from a value.
//
// Position i is the SHA-256 digest of the UTF-8 string "{i}:{value}",
// read as a 256-bit big-endian unsigned integer and reduced modulo m. The
// encoding is fixed so that any process, in any language, computes the same
// offsets for the same (m, k) and can share one bit array.
type HashScheme struct {
	sizeBits uint64
	k        uint32
}

// NewHashScheme returns the scheme for an array of sizeBits bits queried at k
// positions. Both must be non-zero.
func NewHashScheme(sizeBits uint64, k uint32) *HashScheme {
	return &HashScheme{sizeBits: sizeBits, k: k}
}

// K returns the number of positions derived per value.
func (h *HashScheme) K() uint32 {
	return h.k
}

// SizeBits returns m.
func (h *HashScheme) SizeBits() uint64 {
	return h.sizeBits
}

// Positions returns the k offsets of value, each in [0, m).
func (h *HashScheme) Positions(value string) []uint64 {
	return h.AppendPositions(make([]uint64, 0, h.k), value)
}

// AppendPositions appends the k offsets of value to dst.
func (h *HashScheme) AppendPositions(dst []uint64, value string) []uint64 {
	buf := make([]byte, 0, 12+len(value))
	for i := uint32(0); i < h.k; i++ {
		buf = strconv.AppendUint(buf[:0], uint64(i), 10)
		buf = append(buf, ':')
		buf = append(buf, value...)
		sum := sha256.Sum256(buf)
		dst = append(dst, reduceDigest(sum, h.sizeBits))
	}
	return dst
}

// reduceDigest returns the big-endian integer in sum modulo m.
//
// The digest is consumed 64 bits at a time; the running remainder is always
// below m, which is the precondition of bits.Div64.
func reduceDigest(sum [sha256.Size]byte, m uint64) uint64 {
	var rem uint64
	for i := 0; i < sha256.Size; i += 8 {
		_, rem = bits.Div64(rem, binary.BigEndian.Uint64(sum[i:i+8]), m)
	}
	return rem
}
