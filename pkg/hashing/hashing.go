// Package hashing provides the hash family shared by every sketch.
//
// Two 64-bit base hashes are computed per key (xxhash64 and murmur3) and the
// i-th member of the family is derived by double hashing, h1 + i*h2 mod 2^64.
// Seeds are fixed so the same key maps to the same positions in every process.
package hashing

import (
	"encoding/binary"

	"github.com/cespare/xxhash/v2"
	"github.com/spaolacci/murmur3"
)

// murmurSeed decorrelates h2 from h1.
const murmurSeed = 0x3c6ef372

// Kernel holds the two base hashes of a key.
type Kernel struct {
	h1 uint64
	h2 uint64
}

// New computes the kernel for key.
func New(key []byte) Kernel {
	h1 := xxhash.Sum64(key)
	h2, _ := murmur3.Sum128WithSeed(key, murmurSeed)
	// Odd stride: h1 + i*h2 never collapses to a single position.
	h2 |= 1
	return Kernel{h1: h1, h2: h2}
}

// At returns the i-th hash of the family.
func (k Kernel) At(i uint64) uint64 {
	return k.h1 + i*k.h2
}

// Base returns the two base hashes.
func (k Kernel) Base() (uint64, uint64) {
	return k.h1, k.h2
}

// Derive returns exactly count hashes of key.
func Derive(key []byte, count int) []uint64 {
	if count <= 0 {
		return nil
	}
	k := New(key)
	out := make([]uint64, count)
	for i := range out {
		out[i] = k.At(uint64(i))
	}
	return out
}

// Sum64 is the single-hash member of the family (h1).
func Sum64(key []byte) uint64 {
	return xxhash.Sum64(key)
}

// KeyString serializes a string key.
func KeyString(s string) []byte {
	return []byte(s)
}

// KeyUint64 serializes an unsigned integer key as 8 big-endian bytes.
func KeyUint64(v uint64) []byte {
	b := make([]byte, 8)
	binary.BigEndian.PutUint64(b, v)
	return b
}

// KeyInt serializes a signed integer key as its 8-byte two's complement.
func KeyInt(v int64) []byte {
	return KeyUint64(uint64(v))
}
