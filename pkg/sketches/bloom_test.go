package sketches

import (
	"errors"
	"fmt"
	"math"
	"testing"

	. "github.com/smartystreets/goconvey/convey"

	"github.com/sahithikokkula/sketchd/pkg/hashing"
)

func TestBloomConstruction(t *testing.T) {
	Convey("Dimensions follow the optimal formulas", t, func() {
		bf, err := NewBloomFilter(10000, 0.1)
		So(err, ShouldBeNil)
		So(bf.BitCount(), ShouldEqual, uint64(47926))
		So(bf.HashCount(), ShouldEqual, uint64(3))
		So(bf.ExpectedElements(), ShouldEqual, uint64(10000))
		So(bf.TargetRate(), ShouldEqual, 0.1)
	})

	Convey("Out of domain parameters are rejected", t, func() {
		for _, tc := range []struct {
			n int
			p float64
		}{{0, 0.1}, {-5, 0.1}, {100, 0}, {100, 1}, {100, -0.2}, {100, math.NaN()}} {
			bf, err := NewBloomFilter(tc.n, tc.p)
			So(bf, ShouldBeNil)
			So(errors.Is(err, ErrInvalidParameter), ShouldBeTrue)
		}
	})

	Convey("Sizes past the uint64 range are rejected", t, func() {
		bf, err := NewBloomFilter(math.MaxInt64, 1e-300)
		So(bf, ShouldBeNil)
		So(errors.Is(err, ErrInvalidParameter), ShouldBeTrue)
	})
}

func TestBloomMembership(t *testing.T) {
	Convey("Scenario: capacity 10000, rate 0.1, keys {1,2,6}", t, func() {
		bf, err := NewBloomFilter(10000, 0.1)
		So(err, ShouldBeNil)
		for _, k := range []int64{1, 2, 6} {
			bf.Add(hashing.KeyInt(k))
		}
		So(bf.Contains(hashing.KeyInt(1)), ShouldBeTrue)
		So(bf.Contains(hashing.KeyInt(2)), ShouldBeTrue)
		So(bf.Contains(hashing.KeyInt(6)), ShouldBeTrue)
		So(bf.Contains(hashing.KeyInt(3)), ShouldBeFalse)

		fp := 0
		const trials = 20000
		for i := int64(1000); i < 1000+trials; i++ {
			if bf.Contains(hashing.KeyInt(i)) {
				fp++
			}
		}
		So(float64(fp)/trials, ShouldBeLessThan, 0.1)
	})

	Convey("No false negatives, even after further additions", t, func() {
		bf, _ := NewBloomFilter(5000, 0.01)
		for i := 0; i < 5000; i++ {
			key := []byte(fmt.Sprintf("member-%d", i))
			bf.Add(key)
			So(bf.Contains(key), ShouldBeTrue)
		}
		for i := 0; i < 5000; i++ {
			bf.Add([]byte(fmt.Sprintf("other-%d", i)))
		}
		missing := 0
		for i := 0; i < 5000; i++ {
			if !bf.Contains([]byte(fmt.Sprintf("member-%d", i))) {
				missing++
			}
		}
		So(missing, ShouldEqual, 0)
	})

	Convey("Add is idempotent", t, func() {
		bf, _ := NewBloomFilter(100, 0.01)
		bf.Add([]byte("x"))
		fill := bf.FillRatio()
		bf.Add([]byte("x"))
		So(bf.FillRatio(), ShouldEqual, fill)
	})
}

func TestBloomFalsePositiveRate(t *testing.T) {
	Convey("Observed rate at capacity is within 2x of the target", t, func() {
		const n = 10000
		const trials = 20000
		for _, p := range []float64{0.1, 0.01} {
			bf, err := NewBloomFilter(n, p)
			So(err, ShouldBeNil)
			for i := 0; i < n; i++ {
				bf.Add([]byte(fmt.Sprintf("in-%d", i)))
			}
			fp := 0
			for i := 0; i < trials; i++ {
				if bf.Contains([]byte(fmt.Sprintf("out-%d", i))) {
					fp++
				}
			}
			rate := float64(fp) / trials
			So(rate, ShouldBeLessThan, 2*p)
			So(rate, ShouldBeGreaterThan, p/2)
			So(math.Abs(bf.FalsePositiveRate()-p)/p, ShouldBeLessThan, 0.25)
		}
	})
}

func TestBloomSizeEstimate(t *testing.T) {
	Convey("Size estimate tracks distinct additions", t, func() {
		bf, _ := NewBloomFilter(20000, 0.01)
		So(bf.SizeEstimate(), ShouldEqual, 0)
		for i := 0; i < 10000; i++ {
			bf.Add([]byte(fmt.Sprintf("k%d", i)))
		}
		So(math.Abs(bf.SizeEstimate()-10000)/10000, ShouldBeLessThan, 0.05)
	})

	Convey("A saturated filter reports +Inf", t, func() {
		bf, _ := NewBloomFilter(1, 0.5)
		for i := 0; i < 1000; i++ {
			bf.Add([]byte(fmt.Sprintf("k%d", i)))
		}
		So(bf.FillRatio(), ShouldEqual, 1.0)
		So(math.IsInf(bf.SizeEstimate(), 1), ShouldBeTrue)
		So(bf.FalsePositiveRate(), ShouldEqual, 1.0)
	})
}

func TestBloomMerge(t *testing.T) {
	Convey("Merge is a union", t, func() {
		a, _ := NewBloomFilter(1000, 0.01)
		b, _ := NewBloomFilter(1000, 0.01)
		a.Add([]byte("left"))
		b.Add([]byte("right"))
		So(a.Merge(b), ShouldBeNil)
		So(a.Contains([]byte("left")), ShouldBeTrue)
		So(a.Contains([]byte("right")), ShouldBeTrue)
	})

	Convey("Merging different shapes fails", t, func() {
		a, _ := NewBloomFilter(1000, 0.01)
		b, _ := NewBloomFilter(2000, 0.01)
		So(errors.Is(a.Merge(b), ErrDimensionMismatch), ShouldBeTrue)
	})

	Convey("Clone is independent", t, func() {
		a, _ := NewBloomFilter(1000, 0.01)
		c := a.Clone()
		c.Add([]byte("only-in-clone"))
		So(a.Contains([]byte("only-in-clone")), ShouldBeFalse)
	})
}

func TestBloomSnapshot(t *testing.T) {
	Convey("Snapshot round trip preserves state", t, func() {
		bf, _ := NewBloomFilter(1000, 0.05)
		for i := 0; i < 500; i++ {
			bf.Add([]byte(fmt.Sprintf("k%d", i)))
		}
		data, err := bf.MarshalBinary()
		So(err, ShouldBeNil)
		So(len(data), ShouldEqual, bf.SizeBytes())

		clone, err := DeserializeBloomFilter(data)
		So(err, ShouldBeNil)
		So(clone.BitCount(), ShouldEqual, bf.BitCount())
		So(clone.HashCount(), ShouldEqual, bf.HashCount())
		So(clone.TargetRate(), ShouldEqual, 0.05)
		So(clone.FillRatio(), ShouldEqual, bf.FillRatio())
		for i := 0; i < 500; i++ {
			So(clone.Contains([]byte(fmt.Sprintf("k%d", i))), ShouldBeTrue)
		}

		_, err = DeserializeBloomFilter(data[:len(data)-8])
		So(errors.Is(err, ErrCorrupt), ShouldBeTrue)
		_, err = DeserializeBloomFilter(data[:10])
		So(errors.Is(err, ErrCorrupt), ShouldBeTrue)
	})
}
