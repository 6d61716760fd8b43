package sketches

import (
	"encoding/binary"
	"fmt"
	"math"

	"github.com/bits-and-blooms/bitset"

	"github.com/sahithikokkula/sketchd/pkg/estimator"
	"github.com/sahithikokkula/sketchd/pkg/hashing"
)

const (
	bloomHeaderSize = 32
	// maxBloomBits bounds the bit array at 4 GiB.
	maxBloomBits = 1 << 35
)

// BloomFilter implements approximate set membership over a fixed bit array.
// Bits are only ever set, so a key that was added is always reported present.
type BloomFilter struct {
	bits *bitset.BitSet
	m    uint64  // number of bits
	k    uint64  // number of hash functions
	n    uint64  // expected elements
	p    float64 // target false positive rate
}

// NewBloomFilter creates a Bloom filter sized for expectedElements keys at
// falsePositiveRate.
func NewBloomFilter(expectedElements int, falsePositiveRate float64) (*BloomFilter, error) {
	if expectedElements <= 0 {
		return nil, fmt.Errorf("%w: expected_elements must be positive, got %d", ErrInvalidParameter, expectedElements)
	}
	if !(falsePositiveRate > 0 && falsePositiveRate < 1) {
		return nil, fmt.Errorf("%w: false_positive_rate must be in (0,1), got %v", ErrInvalidParameter, falsePositiveRate)
	}

	m, k := estimator.OptimalBloom(expectedElements, falsePositiveRate)
	if m > maxBloomBits {
		return nil, fmt.Errorf("%w: %d bits exceeds the supported maximum", ErrInvalidParameter, m)
	}

	return &BloomFilter{
		bits: bitset.New(uint(m)),
		m:    m,
		k:    k,
		n:    uint64(expectedElements),
		p:    falsePositiveRate,
	}, nil
}

// Add sets the k bits of key.
func (bf *BloomFilter) Add(key []byte) {
	h := hashing.New(key)
	for i := uint64(0); i < bf.k; i++ {
		bf.bits.Set(uint(h.At(i) % bf.m))
	}
}

// Contains reports whether key is possibly in the set. False means the key
// was never added.
func (bf *BloomFilter) Contains(key []byte) bool {
	h := hashing.New(key)
	for i := uint64(0); i < bf.k; i++ {
		if !bf.bits.Test(uint(h.At(i) % bf.m)) {
			return false
		}
	}
	return true
}

// SizeEstimate approximates the number of distinct keys added from the fill
// ratio: -(m/k) ln(1 - X/m). It returns +Inf once every bit is set.
func (bf *BloomFilter) SizeEstimate() float64 {
	x := float64(bf.bits.Count())
	if x == 0 {
		return 0
	}
	m := float64(bf.m)
	if x >= m {
		return math.Inf(1)
	}
	return -m / float64(bf.k) * math.Log(1-x/m)
}

// FalsePositiveRate returns the theoretical false positive rate at the
// current estimated fill.
func (bf *BloomFilter) FalsePositiveRate() float64 {
	n := bf.SizeEstimate()
	if math.IsInf(n, 1) {
		return 1
	}
	return estimator.BloomFalsePositiveRate(bf.k, n, bf.m)
}

// FillRatio returns the fraction of bits set.
func (bf *BloomFilter) FillRatio() float64 {
	return float64(bf.bits.Count()) / float64(bf.m)
}

// BitCount returns m.
func (bf *BloomFilter) BitCount() uint64 { return bf.m }

// HashCount returns k.
func (bf *BloomFilter) HashCount() uint64 { return bf.k }

// ExpectedElements returns the capacity the filter was sized for.
func (bf *BloomFilter) ExpectedElements() uint64 { return bf.n }

// TargetRate returns the false positive rate the filter was sized for.
func (bf *BloomFilter) TargetRate() float64 { return bf.p }

// Merge ORs other into bf. Both filters must share m and k.
func (bf *BloomFilter) Merge(other *BloomFilter) error {
	if bf.m != other.m || bf.k != other.k {
		return fmt.Errorf("%w: bloom (m=%d,k=%d) vs (m=%d,k=%d)", ErrDimensionMismatch, bf.m, bf.k, other.m, other.k)
	}
	bf.bits.InPlaceUnion(other.bits)
	return nil
}

// Clone returns a deep copy.
func (bf *BloomFilter) Clone() *BloomFilter {
	c := *bf
	c.bits = bf.bits.Clone()
	return &c
}

// SizeBytes returns the size of the serialized filter.
func (bf *BloomFilter) SizeBytes() int {
	return bloomHeaderSize + len(bf.bits.Bytes())*8
}

// MarshalBinary encodes the filter.
// Layout: m(8) | k(8) | n(8) | p(8) | words(8 each), little endian.
func (bf *BloomFilter) MarshalBinary() ([]byte, error) {
	words := bf.bits.Bytes()
	data := make([]byte, bloomHeaderSize+len(words)*8)

	binary.LittleEndian.PutUint64(data[0:8], bf.m)
	binary.LittleEndian.PutUint64(data[8:16], bf.k)
	binary.LittleEndian.PutUint64(data[16:24], bf.n)
	binary.LittleEndian.PutUint64(data[24:32], math.Float64bits(bf.p))

	offset := bloomHeaderSize
	for _, w := range words {
		binary.LittleEndian.PutUint64(data[offset:offset+8], w)
		offset += 8
	}
	return data, nil
}

// DeserializeBloomFilter loads a filter produced by MarshalBinary.
func DeserializeBloomFilter(data []byte) (*BloomFilter, error) {
	if len(data) < bloomHeaderSize {
		return nil, fmt.Errorf("%w: insufficient data for bloom deserialization", ErrCorrupt)
	}

	m := binary.LittleEndian.Uint64(data[0:8])
	k := binary.LittleEndian.Uint64(data[8:16])
	n := binary.LittleEndian.Uint64(data[16:24])
	p := math.Float64frombits(binary.LittleEndian.Uint64(data[24:32]))

	if m == 0 || m > maxBloomBits || k == 0 {
		return nil, fmt.Errorf("%w: bloom header m=%d k=%d", ErrCorrupt, m, k)
	}
	nwords := (m + 63) / 64
	if uint64(len(data)-bloomHeaderSize) != nwords*8 {
		return nil, fmt.Errorf("%w: data length mismatch: expected %d, got %d", ErrCorrupt, bloomHeaderSize+nwords*8, len(data))
	}

	words := make([]uint64, nwords)
	offset := bloomHeaderSize
	for i := range words {
		words[i] = binary.LittleEndian.Uint64(data[offset : offset+8])
		offset += 8
	}

	return &BloomFilter{
		bits: bitset.From(words),
		m:    m,
		k:    k,
		n:    n,
		p:    p,
	}, nil
}
