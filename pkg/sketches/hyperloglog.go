package sketches

import (
	"encoding/binary"
	"fmt"
	"math"
	"math/bits"

	"github.com/sahithikokkula/sketchd/pkg/estimator"
	"github.com/sahithikokkula/sketchd/pkg/hashing"
)

const (
	// MinPrecision and MaxPrecision bound b, the number of index bits (m = 2^b).
	MinPrecision = 4
	MaxPrecision = 18

	hllHeaderSize = 5
	hashBits      = 64
)

var (
	two64 = math.Exp2(64)

	// LargeRangeThreshold is 2^64/30. Raw estimates above it are replaced by
	// -2^64 * ln(1 - E/2^64), the large-range correction for a 64-bit hash.
	LargeRangeThreshold = two64 / 30
)

// HyperLogLog implements the HyperLogLog algorithm for cardinality estimation
type HyperLogLog struct {
	registers []uint8
	b         uint8   // number of bits for register selection (m = 2^b)
	m         uint32  // number of registers
	alpha     float64 // bias correction constant
}

// NewHyperLogLog creates a HyperLogLog whose standard error 1.04/sqrt(m) is at
// most relativeError. m is rounded up to a power of two, and to at least 2^4.
// Errors small enough to need more than 2^18 registers are rejected.
func NewHyperLogLog(relativeError float64) (*HyperLogLog, error) {
	if !(relativeError > 0 && relativeError < 1) {
		return nil, fmt.Errorf("%w: relative_error must be in (0,1), got %v", ErrInvalidParameter, relativeError)
	}

	m := estimator.RegistersFor(relativeError)
	if m > float64(uint64(1)<<MaxPrecision) {
		return nil, fmt.Errorf("%w: relative_error %v needs more than 2^%d registers", ErrInvalidParameter, relativeError, MaxPrecision)
	}

	b := uint8(bits.Len64(uint64(m) - 1))
	if b < MinPrecision {
		b = MinPrecision
	}
	return NewHyperLogLogPrecision(b)
}

// NewHyperLogLogPrecision creates a HyperLogLog with 2^b registers.
// Standard values: b=10 (1024 registers), b=14 (16384 registers)
func NewHyperLogLogPrecision(b uint8) (*HyperLogLog, error) {
	if b < MinPrecision || b > MaxPrecision {
		return nil, fmt.Errorf("%w: precision must be in [%d,%d], got %d", ErrInvalidParameter, MinPrecision, MaxPrecision, b)
	}

	m := uint32(1) << b
	return &HyperLogLog{
		registers: make([]uint8, m),
		b:         b,
		m:         m,
		alpha:     alphaFor(m),
	}, nil
}

func alphaFor(m uint32) float64 {
	switch {
	case m >= 128:
		return 0.7213 / (1 + 1.079/float64(m))
	case m >= 64:
		return 0.709
	case m >= 32:
		return 0.697
	default:
		return 0.673
	}
}

// Add adds a key to the HyperLogLog
func (hll *HyperLogLog) Add(key []byte) {
	hll.AddHash(hashing.Sum64(key))
}

// AddHash adds an already hashed key.
func (hll *HyperLogLog) AddHash(hash uint64) {
	// Use top b bits for register selection
	j := hash >> (hashBits - hll.b)

	// Remaining bits, shifted to the top, give the run length
	w := hash << hll.b
	rho := uint8(bits.LeadingZeros64(w))
	if limit := hashBits - hll.b; rho > limit {
		rho = limit
	}
	rho++

	if rho > hll.registers[j] {
		hll.registers[j] = rho
	}
}

// Cardinality estimates the number of distinct keys added.
//
// The raw estimate is alpha_m * m^2 / sum(2^-M[j]). When it is at most 2.5m
// and some registers are still zero, linear counting m*ln(m/V) is used
// instead. Above LargeRangeThreshold the large-range correction applies.
func (hll *HyperLogLog) Cardinality() float64 {
	m := float64(hll.m)
	rawEstimate := hll.alpha * m * m / hll.harmonicSum()

	if rawEstimate <= 2.5*m {
		if zeros := hll.countZeros(); zeros != 0 {
			return m * math.Log(m/float64(zeros))
		}
		return rawEstimate
	}

	if rawEstimate <= LargeRangeThreshold {
		return rawEstimate
	}
	return largeRangeCorrection(rawEstimate)
}

func largeRangeCorrection(e float64) float64 {
	return -two64 * math.Log1p(-e/two64)
}

// Count returns Cardinality rounded to the nearest integer.
func (hll *HyperLogLog) Count() uint64 {
	return uint64(math.Round(hll.Cardinality()))
}

// StandardError returns the theoretical standard error for this HLL
func (hll *HyperLogLog) StandardError() float64 {
	return estimator.HLLStandardError(hll.m)
}

// ConfidenceInterval returns approximate confidence bounds
func (hll *HyperLogLog) ConfidenceInterval(confidence float64) (float64, float64) {
	ci := estimator.CardinalityCI(hll.Cardinality(), hll.m, confidence)
	return ci.Lower, ci.Upper
}

// Precision returns b.
func (hll *HyperLogLog) Precision() uint8 { return hll.b }

// RegisterCount returns m.
func (hll *HyperLogLog) RegisterCount() uint32 { return hll.m }

// Registers returns a copy of the register array.
func (hll *HyperLogLog) Registers() []uint8 {
	return append([]uint8(nil), hll.registers...)
}

// Merge combines this HLL with another HLL (must have same parameters)
func (hll *HyperLogLog) Merge(other *HyperLogLog) error {
	if hll.m != other.m {
		return fmt.Errorf("%w: hyperloglog m=%d vs m=%d", ErrDimensionMismatch, hll.m, other.m)
	}

	for i, v := range other.registers {
		if v > hll.registers[i] {
			hll.registers[i] = v
		}
	}
	return nil
}

// Clone returns a deep copy.
func (hll *HyperLogLog) Clone() *HyperLogLog {
	c := *hll
	c.registers = hll.Registers()
	return &c
}

// SizeBytes returns the size of the serialized sketch.
func (hll *HyperLogLog) SizeBytes() int {
	return hllHeaderSize + len(hll.registers)
}

// MarshalBinary returns the HLL state as bytes
func (hll *HyperLogLog) MarshalBinary() ([]byte, error) {
	data := make([]byte, hll.SizeBytes())
	data[0] = hll.b
	binary.LittleEndian.PutUint32(data[1:5], hll.m)
	copy(data[hllHeaderSize:], hll.registers)
	return data, nil
}

// DeserializeHyperLogLog loads HLL state from bytes
func DeserializeHyperLogLog(data []byte) (*HyperLogLog, error) {
	if len(data) < hllHeaderSize {
		return nil, fmt.Errorf("%w: insufficient data for HLL deserialization", ErrCorrupt)
	}

	b := data[0]
	m := binary.LittleEndian.Uint32(data[1:5])

	hll, err := NewHyperLogLogPrecision(b)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCorrupt, err)
	}
	if m != hll.m || len(data) != hllHeaderSize+int(m) {
		return nil, fmt.Errorf("%w: data length mismatch", ErrCorrupt)
	}

	limit := hashBits - b + 1
	for i, v := range data[hllHeaderSize:] {
		if v > limit {
			return nil, fmt.Errorf("%w: register %d holds %d", ErrCorrupt, i, v)
		}
	}

	copy(hll.registers, data[hllHeaderSize:])
	return hll, nil
}

func (hll *HyperLogLog) harmonicSum() float64 {
	sum := 0.0
	for _, reg := range hll.registers {
		sum += math.Exp2(-float64(reg))
	}
	return sum
}

func (hll *HyperLogLog) countZeros() uint32 {
	count := uint32(0)
	for _, reg := range hll.registers {
		if reg == 0 {
			count++
		}
	}
	return count
}
