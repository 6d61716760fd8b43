package sketches

import (
	"errors"
	"fmt"
	"math"
	"math/rand"
	"testing"

	. "github.com/smartystreets/goconvey/convey"

	"github.com/sahithikokkula/sketchd/pkg/hashing"
)

// zipfStream returns a shuffled stream of keys with Zipf-distributed counts,
// plus the exact counts.
func zipfStream(seed int64, keys int, total int) ([]string, map[string]uint64) {
	rng := rand.New(rand.NewSource(seed))
	z := rand.NewZipf(rng, 1.2, 1, uint64(keys-1))
	exact := make(map[string]uint64)
	stream := make([]string, total)
	for i := range stream {
		k := fmt.Sprintf("item-%d", z.Uint64())
		stream[i] = k
		exact[k]++
	}
	return stream, exact
}

func TestCountMinConstruction(t *testing.T) {
	Convey("Width and depth follow e/epsilon and ln(1/delta)", t, func() {
		cms, err := NewCountMinSketch(0.01, 0.01)
		So(err, ShouldBeNil)
		So(cms.Width(), ShouldEqual, uint32(272))
		So(cms.Depth(), ShouldEqual, uint32(5))
		So(cms.Confidence(), ShouldEqual, 0.99)
	})

	Convey("Out of domain parameters are rejected", t, func() {
		for _, tc := range [][2]float64{{0, 0.1}, {-1, 0.1}, {1, 0.1}, {0.1, 0}, {0.1, 1}, {0.1, 1.5}} {
			cms, err := NewCountMinSketch(tc[0], tc[1])
			So(cms, ShouldBeNil)
			So(errors.Is(err, ErrInvalidParameter), ShouldBeTrue)
		}
	})
}

func TestCountMinEstimate(t *testing.T) {
	Convey("Scenario: updates 1, 2, 1", t, func() {
		cms, _ := NewCountMinSketch(0.01, 0.01)
		cms.Add(hashing.KeyInt(1))
		cms.Add(hashing.KeyInt(2))
		cms.Add(hashing.KeyInt(1))
		So(cms.Estimate(hashing.KeyInt(1)), ShouldBeGreaterThanOrEqualTo, uint64(2))
		So(cms.Estimate(hashing.KeyInt(2)), ShouldBeGreaterThanOrEqualTo, uint64(1))
		So(cms.Estimate(hashing.KeyInt(3)), ShouldEqual, uint64(0))
		So(cms.TotalCount(), ShouldEqual, uint64(3))
	})

	Convey("Negative increments are rejected and change nothing", t, func() {
		cms, _ := NewCountMinSketch(0.1, 0.1)
		So(cms.Update([]byte("k"), 4), ShouldBeNil)
		err := cms.Update([]byte("k"), -1)
		So(errors.Is(err, ErrInvalidParameter), ShouldBeTrue)
		So(cms.Estimate([]byte("k")), ShouldEqual, uint64(4))
		So(cms.TotalCount(), ShouldEqual, uint64(4))
	})

	Convey("Estimates never undercount and rarely exceed epsilon*N", t, func() {
		const epsilon, delta = 0.001, 0.01
		stream, exact := zipfStream(7, 5000, 100000)
		cms, _ := NewCountMinSketch(epsilon, delta)
		for _, k := range stream {
			cms.Add([]byte(k))
		}

		bound := epsilon * float64(len(stream))
		over := 0
		for k, v := range exact {
			est := cms.Estimate([]byte(k))
			So(est, ShouldBeGreaterThanOrEqualTo, v)
			if float64(est-v) > bound {
				over++
			}
		}
		So(float64(over), ShouldBeLessThanOrEqualTo, math.Ceil(delta*float64(len(exact))))
		So(cms.ErrorBound(), ShouldBeBetweenOrEqual, uint64(100), uint64(101))
	})
}

func TestCountMinMerge(t *testing.T) {
	Convey("Merging disjoint streams equals one sketch over the concatenation", t, func() {
		stream, _ := zipfStream(11, 2000, 40000)
		left, _ := NewCountMinSketch(0.005, 0.01)
		right, _ := NewCountMinSketch(0.005, 0.01)
		single, _ := NewCountMinSketch(0.005, 0.01)
		for i, k := range stream {
			if i%2 == 0 {
				left.Add([]byte(k))
			} else {
				So(right.Update([]byte(k), 1), ShouldBeNil)
			}
			single.Add([]byte(k))
		}

		So(left.Merge(right), ShouldBeNil)
		So(left.TotalCount(), ShouldEqual, single.TotalCount())
		for _, k := range stream[:500] {
			So(left.Estimate([]byte(k)), ShouldEqual, single.Estimate([]byte(k)))
		}
	})

	Convey("Merging different shapes fails", t, func() {
		a, _ := NewCountMinSketch(0.01, 0.01)
		b, _ := NewCountMinSketch(0.02, 0.01)
		So(errors.Is(a.Merge(b), ErrDimensionMismatch), ShouldBeTrue)
	})
}

func TestCountMinSnapshot(t *testing.T) {
	Convey("Snapshot round trip preserves counters", t, func() {
		cms, _ := NewCountMinSketch(0.01, 0.05)
		for i := 0; i < 1000; i++ {
			cms.Add([]byte(fmt.Sprintf("k%d", i%37)))
		}
		data, err := cms.MarshalBinary()
		So(err, ShouldBeNil)
		So(len(data), ShouldEqual, cms.SizeBytes())

		clone, err := DeserializeCountMinSketch(data)
		So(err, ShouldBeNil)
		So(clone.Width(), ShouldEqual, cms.Width())
		So(clone.Depth(), ShouldEqual, cms.Depth())
		So(clone.Epsilon(), ShouldEqual, 0.01)
		So(clone.Delta(), ShouldEqual, 0.05)
		So(clone.TotalCount(), ShouldEqual, uint64(1000))
		for i := 0; i < 37; i++ {
			k := []byte(fmt.Sprintf("k%d", i))
			So(clone.Estimate(k), ShouldEqual, cms.Estimate(k))
		}

		_, err = DeserializeCountMinSketch(data[:40])
		So(errors.Is(err, ErrCorrupt), ShouldBeTrue)
	})
}
