package analysis

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/sahithikokkula/sketchd/pkg/hashing"
	"github.com/sahithikokkula/sketchd/pkg/shard"
	"github.com/sahithikokkula/sketchd/pkg/sketches"
)

// Demo runs the three toy checks against a plain set and the sketches and
// writes what it sees. It fails on the first check that does not hold.
func Demo(w io.Writer) error {
	fmt.Fprintln(w, "Using Set")
	if err := membershipDemo(w, NewExactSet()); err != nil {
		return err
	}

	fmt.Fprintln(w, "Using Bloom filter")
	bf, err := sketches.NewBloomFilter(10000, 0.1)
	if err != nil {
		return err
	}
	if err := membershipDemo(w, bf); err != nil {
		return err
	}

	fmt.Fprintln(w, "Using Count-Min sketch")
	cms, err := sketches.NewCountMinSketch(0.01, 0.01)
	if err != nil {
		return err
	}
	for _, k := range []int64{1, 2, 1} {
		cms.Add(hashing.KeyInt(k))
	}
	for _, tc := range []struct {
		key  int64
		want uint64
	}{{1, 2}, {2, 1}, {3, 0}} {
		got := cms.Estimate(hashing.KeyInt(tc.key))
		fmt.Fprintf(w, "count %d : %d\n", tc.key, got)
		// one-sided error: never below the true count
		if got < tc.want {
			return fmt.Errorf("%w: count(%d)=%d, want >= %d", errAssertion, tc.key, got, tc.want)
		}
	}

	fmt.Fprintln(w, "Using HyperLogLog")
	hll, err := sketches.NewHyperLogLog(0.01)
	if err != nil {
		return err
	}
	for _, k := range []int64{1, 1, 2, 6} {
		hll.Add(hashing.KeyInt(k))
	}
	fmt.Fprintf(w, "cardinality : %d\n", hll.Count())
	if hll.Count() != 3 {
		return fmt.Errorf("%w: cardinality %d, want 3", errAssertion, hll.Count())
	}
	return nil
}

func membershipDemo(w io.Writer, ds MembershipTarget) error {
	for _, k := range []int64{1, 2, 6} {
		ds.Add(hashing.KeyInt(k))
	}
	for _, k := range []int64{1, 3} {
		verdict := "-ve"
		if ds.Contains(hashing.KeyInt(k)) {
			verdict = "+ve"
		}
		fmt.Fprintf(w, "test %d : %s\n", k, verdict)
	}
	if !ds.Contains(hashing.KeyInt(1)) {
		return fmt.Errorf("%w: key 1 missing", errAssertion)
	}
	return nil
}

// ShardReport compares a sharded build with a sequential one over the same
// keys.
type ShardReport struct {
	Kind       sketches.SketchType
	Shards     int
	Keys       int
	Sequential time.Duration
	Sharded    time.Duration
	Identical  bool
}

// CompareSharded builds the same sketch sequentially and with shard.Build
// over keys drawn from cfg, and reports whether the serialized results match.
func CompareSharded(ctx context.Context, kind sketches.SketchType, params sketches.Params, cfg Config, shards int) (*ShardReport, error) {
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	keys := Keys(cfg, cfg.Iterations*cfg.Population)
	report := &ShardReport{Kind: kind, Shards: shards, Keys: len(keys)}

	start := time.Now()
	seq, err := sketches.New(kind, params)
	if err != nil {
		return nil, err
	}
	adder, ok := seq.(interface{ Add([]byte) })
	if !ok {
		return nil, fmt.Errorf("%w: %s", sketches.ErrInvalidParameter, kind)
	}
	for _, k := range keys {
		adder.Add(k)
	}
	report.Sequential = time.Since(start)

	parts := shard.Split(keys, shards)
	start = time.Now()
	var merged sketches.Sketch
	switch kind {
	case sketches.BloomType:
		merged, err = shard.Bloom(ctx, parts, params.ExpectedElements, params.FalsePositiveRate)
	case sketches.CountMinSketchType:
		merged, err = shard.CountMin(ctx, parts, params.Epsilon, params.Delta)
	case sketches.HyperLogLogType:
		merged, err = shard.HyperLogLog(ctx, parts, params.RelativeError)
	}
	if err != nil {
		return nil, err
	}
	report.Sharded = time.Since(start)

	a, err := seq.MarshalBinary()
	if err != nil {
		return nil, err
	}
	b, err := merged.MarshalBinary()
	if err != nil {
		return nil, err
	}
	report.Identical = string(a) == string(b)
	return report, nil
}
