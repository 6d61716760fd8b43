package analysis

import (
	"io"

	"github.com/axiomhq/hyperloglog"
	"github.com/bits-and-blooms/bloom/v3"
	boom "github.com/tylertreat/BoomFilters"
)

// Reference targets wrap established libraries so runs can be compared
// side by side with the native sketches.

type BloomReference struct {
	filter *bloom.BloomFilter
}

func NewBloomReference(expectedElements int, falsePositiveRate float64) *BloomReference {
	return &BloomReference{filter: bloom.NewWithEstimates(uint(expectedElements), falsePositiveRate)}
}

func (r *BloomReference) Add(key []byte)           { r.filter.Add(key) }
func (r *BloomReference) Contains(key []byte) bool { return r.filter.Test(key) }
func (r *BloomReference) SizeBytes() int           { return int(r.filter.Cap()+7) / 8 }

type HyperLogLogReference struct {
	sketch *hyperloglog.Sketch
}

// NewHyperLogLogReference uses 2^14 registers.
func NewHyperLogLogReference() *HyperLogLogReference {
	return &HyperLogLogReference{sketch: hyperloglog.New14()}
}

func (r *HyperLogLogReference) Add(key []byte)       { r.sketch.Insert(key) }
func (r *HyperLogLogReference) Cardinality() float64 { return float64(r.sketch.Estimate()) }

func (r *HyperLogLogReference) SizeBytes() int {
	data, err := r.sketch.MarshalBinary()
	if err != nil {
		return 0
	}
	return len(data)
}

type CountMinReference struct {
	sketch *boom.CountMinSketch
}

func NewCountMinReference(epsilon, delta float64) *CountMinReference {
	return &CountMinReference{sketch: boom.NewCountMinSketch(epsilon, delta)}
}

func (r *CountMinReference) Add(key []byte)             { r.sketch.Add(key) }
func (r *CountMinReference) Estimate(key []byte) uint64 { return r.sketch.Count(key) }

func (r *CountMinReference) SizeBytes() int {
	n, err := r.sketch.WriteDataTo(io.Discard)
	if err != nil {
		return 0
	}
	return n
}

// ExactSet is the baseline every approximate membership target is measured
// against. Its size counts key bytes only.
type ExactSet struct {
	keys  map[string]struct{}
	bytes int
}

func NewExactSet() *ExactSet {
	return &ExactSet{keys: make(map[string]struct{})}
}

func (s *ExactSet) Add(key []byte) {
	if _, ok := s.keys[string(key)]; ok {
		return
	}
	s.keys[string(key)] = struct{}{}
	s.bytes += len(key)
}

func (s *ExactSet) Contains(key []byte) bool {
	_, ok := s.keys[string(key)]
	return ok
}

func (s *ExactSet) Cardinality() float64 { return float64(len(s.keys)) }
func (s *ExactSet) SizeBytes() int       { return s.bytes }
