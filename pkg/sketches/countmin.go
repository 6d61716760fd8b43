package sketches

import (
	"encoding/binary"
	"fmt"
	"math"

	"github.com/sahithikokkula/sketchd/pkg/hashing"
)

const (
	cmsHeaderSize = 32
	// maxCMSCells bounds the counter matrix at 1 GiB.
	maxCMSCells = 1 << 27
)

// CountMinSketch implements the Count-Min Sketch for frequency estimation.
// Counters only grow, so estimates never fall below the true count.
type CountMinSketch struct {
	table   []uint64 // d rows of w counters, row-major
	d       uint32   // number of hash functions (depth)
	w       uint32   // number of counters per hash (width)
	epsilon float64  // relative error bound
	delta   float64  // probability bound
	count   uint64   // total count of all items
}

// NewCountMinSketch creates a new Count-Min Sketch
// epsilon: relative error bound (e.g., 0.01 for 1% error)
// delta: probability bound (e.g., 0.01 for 99% confidence)
func NewCountMinSketch(epsilon, delta float64) (*CountMinSketch, error) {
	if !(epsilon > 0 && epsilon < 1) {
		return nil, fmt.Errorf("%w: epsilon must be in (0,1), got %v", ErrInvalidParameter, epsilon)
	}
	if !(delta > 0 && delta < 1) {
		return nil, fmt.Errorf("%w: delta must be in (0,1), got %v", ErrInvalidParameter, delta)
	}

	w := math.Ceil(math.E / epsilon)
	d := math.Ceil(math.Log(1 / delta))
	if d < 1 {
		d = 1
	}
	if w*d > maxCMSCells {
		return nil, fmt.Errorf("%w: %vx%v counters exceeds the supported maximum", ErrInvalidParameter, d, w)
	}

	return &CountMinSketch{
		table:   make([]uint64, int(d)*int(w)),
		d:       uint32(d),
		w:       uint32(w),
		epsilon: epsilon,
		delta:   delta,
	}, nil
}

// Add increments the count for key by one.
func (cms *CountMinSketch) Add(key []byte) {
	cms.add(key, 1)
}

// Update increments the count for key by increment. Negative increments are rejected.
func (cms *CountMinSketch) Update(key []byte, increment int64) error {
	if increment < 0 {
		return fmt.Errorf("%w: negative increment %d", ErrInvalidParameter, increment)
	}
	cms.add(key, uint64(increment))
	return nil
}

func (cms *CountMinSketch) add(key []byte, delta uint64) {
	h := hashing.New(key)
	w := uint64(cms.w)
	for i := uint32(0); i < cms.d; i++ {
		j := h.At(uint64(i)) % w
		cms.table[uint64(i)*w+j] += delta
	}
	cms.count += delta
}

// Estimate returns the minimum counter across rows for key.
func (cms *CountMinSketch) Estimate(key []byte) uint64 {
	h := hashing.New(key)
	w := uint64(cms.w)

	minCount := ^uint64(0) // max uint64
	for i := uint32(0); i < cms.d; i++ {
		j := h.At(uint64(i)) % w
		if v := cms.table[uint64(i)*w+j]; v < minCount {
			minCount = v
		}
	}
	return minCount
}

// TotalCount returns the total count of all items
func (cms *CountMinSketch) TotalCount() uint64 {
	return cms.count
}

// ErrorBound returns the theoretical error bound for estimates
func (cms *CountMinSketch) ErrorBound() uint64 {
	return uint64(math.Ceil(cms.epsilon * float64(cms.count)))
}

// Confidence returns the confidence level (1 - delta)
func (cms *CountMinSketch) Confidence() float64 {
	return 1.0 - cms.delta
}

func (cms *CountMinSketch) Width() uint32 { return cms.w }

func (cms *CountMinSketch) Depth() uint32 { return cms.d }

func (cms *CountMinSketch) Epsilon() float64 { return cms.epsilon }

func (cms *CountMinSketch) Delta() float64 { return cms.delta }

// Merge adds other's counters into cms. Both sketches must have the same shape.
func (cms *CountMinSketch) Merge(other *CountMinSketch) error {
	if cms.d != other.d || cms.w != other.w {
		return fmt.Errorf("%w: countmin %dx%d vs %dx%d", ErrDimensionMismatch, cms.d, cms.w, other.d, other.w)
	}

	for i, v := range other.table {
		cms.table[i] += v
	}
	cms.count += other.count
	return nil
}

// Clone returns a deep copy.
func (cms *CountMinSketch) Clone() *CountMinSketch {
	c := *cms
	c.table = append([]uint64(nil), cms.table...)
	return &c
}

// SizeBytes returns the size of the serialized sketch.
func (cms *CountMinSketch) SizeBytes() int {
	return cmsHeaderSize + len(cms.table)*8
}

// MarshalBinary returns the CMS state as bytes
func (cms *CountMinSketch) MarshalBinary() ([]byte, error) {
	// Header: d(4) + w(4) + epsilon(8) + delta(8) + count(8) = 32 bytes
	// Data: d * w * 8 bytes for uint64 values
	data := make([]byte, cms.SizeBytes())

	binary.LittleEndian.PutUint32(data[0:4], cms.d)
	binary.LittleEndian.PutUint32(data[4:8], cms.w)
	binary.LittleEndian.PutUint64(data[8:16], math.Float64bits(cms.epsilon))
	binary.LittleEndian.PutUint64(data[16:24], math.Float64bits(cms.delta))
	binary.LittleEndian.PutUint64(data[24:32], cms.count)

	offset := cmsHeaderSize
	for _, v := range cms.table {
		binary.LittleEndian.PutUint64(data[offset:offset+8], v)
		offset += 8
	}
	return data, nil
}

// DeserializeCountMinSketch loads CMS state from bytes
func DeserializeCountMinSketch(data []byte) (*CountMinSketch, error) {
	if len(data) < cmsHeaderSize {
		return nil, fmt.Errorf("%w: insufficient data for CMS deserialization", ErrCorrupt)
	}

	d := binary.LittleEndian.Uint32(data[0:4])
	w := binary.LittleEndian.Uint32(data[4:8])
	epsilon := math.Float64frombits(binary.LittleEndian.Uint64(data[8:16]))
	delta := math.Float64frombits(binary.LittleEndian.Uint64(data[16:24]))
	count := binary.LittleEndian.Uint64(data[24:32])

	cells := uint64(d) * uint64(w)
	if d == 0 || w == 0 || cells > maxCMSCells {
		return nil, fmt.Errorf("%w: countmin header d=%d w=%d", ErrCorrupt, d, w)
	}
	if expected := cmsHeaderSize + cells*8; uint64(len(data)) != expected {
		return nil, fmt.Errorf("%w: data length mismatch: expected %d, got %d", ErrCorrupt, expected, len(data))
	}

	cms := &CountMinSketch{
		table:   make([]uint64, cells),
		d:       d,
		w:       w,
		epsilon: epsilon,
		delta:   delta,
		count:   count,
	}

	offset := cmsHeaderSize
	for i := range cms.table {
		cms.table[i] = binary.LittleEndian.Uint64(data[offset : offset+8])
		offset += 8
	}
	return cms, nil
}
