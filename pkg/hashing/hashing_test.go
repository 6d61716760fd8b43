package hashing

import (
	"fmt"
	"math"
	"testing"

	"github.com/cespare/xxhash/v2"
	. "github.com/smartystreets/goconvey/convey"
)

func TestDerive(t *testing.T) {
	Convey("Derive returns exactly k values", t, func() {
		So(len(Derive([]byte("key"), 7)), ShouldEqual, 7)
		So(Derive([]byte("key"), 0), ShouldBeNil)
	})

	Convey("Derive is reproducible", t, func() {
		a := Derive([]byte("reproducible"), 16)
		b := Derive([]byte("reproducible"), 16)
		So(a, ShouldResemble, b)
	})

	Convey("Values follow double hashing", t, func() {
		k := New([]byte("abc"))
		h1, h2 := k.Base()
		vals := Derive([]byte("abc"), 4)
		for i, v := range vals {
			So(v, ShouldEqual, h1+uint64(i)*h2)
		}
		So(h2&1, ShouldEqual, uint64(1))
	})

	Convey("h1 is xxhash64", t, func() {
		So(Sum64([]byte("abc")), ShouldEqual, xxhash.Sum64String("abc"))
		h1, _ := New([]byte("abc")).Base()
		So(h1, ShouldEqual, Sum64([]byte("abc")))
	})
}

func TestUniformity(t *testing.T) {
	Convey("Bucketed outputs are roughly uniform", t, func() {
		const buckets = 64
		const n = 64000
		counts := make([]int, buckets)
		for i := 0; i < n; i++ {
			for _, v := range Derive([]byte(fmt.Sprintf("key-%d", i)), 3) {
				counts[v%buckets]++
			}
		}
		expected := float64(3*n) / buckets
		for _, c := range counts {
			So(math.Abs(float64(c)-expected)/expected, ShouldBeLessThan, 0.1)
		}
	})
}

func TestKeys(t *testing.T) {
	Convey("Integer keys are fixed width and distinct", t, func() {
		So(len(KeyInt(1)), ShouldEqual, 8)
		So(KeyInt(1), ShouldResemble, KeyUint64(1))
		So(KeyInt(-1), ShouldResemble, KeyUint64(math.MaxUint64))
		So(KeyInt(2), ShouldNotResemble, KeyInt(6))
		So(KeyString("a"), ShouldResemble, []byte("a"))
	})
}
