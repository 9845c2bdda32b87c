// Package bloom implements the fixed-width, three-hash bloom filter used
// by the SST format. Negative answers are authoritative; positive
// answers must still be confirmed against the index.
package bloom

import "github.com/spaolacci/murmur3"

// numHashes is fixed at three per the SST build protocol: the filter is
// sized to the data (10 bits per expected entry) rather than tuned via a
// target false-positive rate, so a fixed hash count is sufficient.
const numHashes = 3

// Filter is a bit array addressed by double-hashing the two 64-bit
// halves of a single 128-bit murmur3 hash of the key
// (Kirsch-Mitzenmacher optimization), avoiding
// the cost of running numHashes independent hash functions.
type Filter struct {
	bits    []byte
	numBits uint64
}

// New creates an empty filter sized for n expected entries: max(1, 10*n)
// bits, rounded up to a whole number of bytes.
func New(n int) *Filter {
	numBits := uint64(10 * n)
	if numBits < 1 {
		numBits = 1
	}
	byteLen := (numBits + 7) / 8
	return &Filter{
		bits:    make([]byte, byteLen),
		numBits: byteLen * 8,
	}
}

// Add records key as present in the filter.
func (f *Filter) Add(key []byte) {
	for _, h := range f.hashes(key) {
		f.setBit(h)
	}
}

// MayContain reports whether key might have been added. false is
// authoritative; true may be a false positive.
func (f *Filter) MayContain(key []byte) bool {
	for _, h := range f.hashes(key) {
		if !f.getBit(h) {
			return false
		}
	}
	return true
}

// hashes derives numHashes bit positions from a single 128-bit murmur3
// sum, split into two 64-bit halves h1/h2, combined as h1 + i*h2.
func (f *Filter) hashes(key []byte) [numHashes]uint64 {
	h1, h2 := murmur3.Sum128(key)
	var out [numHashes]uint64
	for i := 0; i < numHashes; i++ {
		out[i] = (h1 + uint64(i)*h2) % f.numBits
	}
	return out
}

func (f *Filter) setBit(bit uint64) {
	f.bits[bit/8] |= 1 << (bit % 8)
}

func (f *Filter) getBit(bit uint64) bool {
	return f.bits[bit/8]&(1<<(bit%8)) != 0
}

// Bytes returns the raw bit array. Its length determines numBits on
// decode (always a whole number of bytes; the hash count is fixed).
func (f *Filter) Bytes() []byte {
	return f.bits
}

// NumBits reports the number of addressable bits.
func (f *Filter) NumBits() uint64 {
	return f.numBits
}

// FromBytes reconstructs a filter from its encoded bit array.
func FromBytes(data []byte) *Filter {
	buf := append([]byte(nil), data...)
	return &Filter{bits: buf, numBits: uint64(len(buf)) * 8}
}
