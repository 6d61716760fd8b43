// Package sketches provides probabilistic data structures for approximate
// membership, frequency and cardinality queries.
//
// Sketches are plain values with no internal locking. Concurrent readers are
// safe; concurrent writers to one instance need external mutual exclusion.
// To combine work done in parallel, give each worker its own sketch and Merge
// the results.
package sketches

import (
	"encoding"
	"encoding/json"
	"fmt"
)

// SketchType represents the type of sketch
type SketchType string

const (
	BloomType          SketchType = "bloom"
	CountMinSketchType SketchType = "countmin"
	HyperLogLogType    SketchType = "hyperloglog"
)

// ParseType validates a sketch type name.
func ParseType(s string) (SketchType, error) {
	switch t := SketchType(s); t {
	case BloomType, CountMinSketchType, HyperLogLogType:
		return t, nil
	}
	return "", fmt.Errorf("%w: unsupported sketch type %q", ErrInvalidParameter, s)
}

// Sketch interface for all sketch types
type Sketch interface {
	encoding.BinaryMarshaler

	// Type returns the sketch type
	Type() SketchType

	// SizeBytes returns the serialized size, header included
	SizeBytes() int
}

// MembershipSketch answers approximate set membership (Bloom filter).
type MembershipSketch interface {
	Sketch
	Add([]byte)
	Contains([]byte) bool
	SizeEstimate() float64
}

// FrequencySketch interface for frequency estimation (Count-Min Sketch)
type FrequencySketch interface {
	Sketch
	Add([]byte)
	Update([]byte, int64) error
	Estimate([]byte) uint64
	TotalCount() uint64
	ErrorBound() uint64
	Confidence() float64
}

// CardinalitySketch interface for cardinality estimation (HyperLogLog)
type CardinalitySketch interface {
	Sketch
	Add([]byte)
	Cardinality() float64
	StandardError() float64
	ConfidenceInterval(float64) (float64, float64)
}

// Ensure implementations satisfy interfaces
var (
	_ MembershipSketch  = (*BloomFilter)(nil)
	_ FrequencySketch   = (*CountMinSketch)(nil)
	_ CardinalitySketch = (*HyperLogLog)(nil)
)

func (bf *BloomFilter) Type() SketchType {
	return BloomType
}

func (cms *CountMinSketch) Type() SketchType {
	return CountMinSketchType
}

func (hll *HyperLogLog) Type() SketchType {
	return HyperLogLogType
}

// Params holds the construction parameters of any sketch type. Only the
// fields relevant to the type are read.
type Params struct {
	ExpectedElements  int     `json:"expected_elements,omitempty"`
	FalsePositiveRate float64 `json:"false_positive_rate,omitempty"`
	Epsilon           float64 `json:"epsilon,omitempty"`
	Delta             float64 `json:"delta,omitempty"`
	RelativeError     float64 `json:"relative_error,omitempty"`
}

// String renders params as JSON for storage.
func (p Params) String() string {
	b, _ := json.Marshal(p)
	return string(b)
}

// New builds an empty sketch of the given type.
func New(kind SketchType, p Params) (Sketch, error) {
	var (
		s   Sketch
		err error
	)
	switch kind {
	case BloomType:
		s, err = NewBloomFilter(p.ExpectedElements, p.FalsePositiveRate)
	case CountMinSketchType:
		s, err = NewCountMinSketch(p.Epsilon, p.Delta)
	case HyperLogLogType:
		s, err = NewHyperLogLog(p.RelativeError)
	default:
		return nil, fmt.Errorf("%w: unsupported sketch type %q", ErrInvalidParameter, kind)
	}
	if err != nil {
		return nil, err
	}
	return s, nil
}

// Decode rebuilds a sketch from MarshalBinary output.
func Decode(kind SketchType, data []byte) (Sketch, error) {
	var (
		s   Sketch
		err error
	)
	switch kind {
	case BloomType:
		s, err = DeserializeBloomFilter(data)
	case CountMinSketchType:
		s, err = DeserializeCountMinSketch(data)
	case HyperLogLogType:
		s, err = DeserializeHyperLogLog(data)
	default:
		return nil, fmt.Errorf("%w: unsupported sketch type %q", ErrCorrupt, kind)
	}
	if err != nil {
		return nil, err
	}
	return s, nil
}

// MergeInto merges src into dst. Both must be the same concrete type.
func MergeInto(dst, src Sketch) error {
	switch d := dst.(type) {
	case *BloomFilter:
		if s, ok := src.(*BloomFilter); ok {
			return d.Merge(s)
		}
	case *CountMinSketch:
		if s, ok := src.(*CountMinSketch); ok {
			return d.Merge(s)
		}
	case *HyperLogLog:
		if s, ok := src.(*HyperLogLog); ok {
			return d.Merge(s)
		}
	}
	return fmt.Errorf("%w: cannot merge %s into %s", ErrDimensionMismatch, src.Type(), dst.Type())
}

// Clone deep-copies any sketch.
func Clone(s Sketch) Sketch {
	switch v := s.(type) {
	case *BloomFilter:
		return v.Clone()
	case *CountMinSketch:
		return v.Clone()
	case *HyperLogLog:
		return v.Clone()
	}
	return nil
}

// Dimensions reports the size metadata of a sketch: bit-array length, matrix
// shape or register count.
func Dimensions(s Sketch) map[string]any {
	switch v := s.(type) {
	case *BloomFilter:
		return map[string]any{"bits": v.BitCount(), "hashes": v.HashCount()}
	case *CountMinSketch:
		return map[string]any{"depth": v.Depth(), "width": v.Width()}
	case *HyperLogLog:
		return map[string]any{"registers": v.RegisterCount(), "precision": v.Precision()}
	}
	return nil
}
