package analysis

import (
	"bytes"
	"context"
	"strings"
	"testing"

	"github.com/bmizerany/assert"

	"github.com/sahithikokkula/sketchd/pkg/sketches"
)

func TestMembershipExactSet(t *testing.T) {
	rows, err := Membership(context.Background(), NewExactSet(), Config{Iterations: 3, Population: 1000, Seed: 1})
	assert.Equal(t, nil, err)
	assert.Equal(t, 3, len(rows))
	for i, row := range rows {
		assert.Equal(t, i, row.Iteration)
		assert.Equal(t, (i+1)*1000, row.Count)
		assert.Equal(t, 0.0, row.FalsePositivePct)
		assert.Equal(t, 0.0, row.FalseNegativePct)
	}
	assert.T(t, rows[2].SizeBytes > rows[0].SizeBytes)
}

func TestMembershipBloom(t *testing.T) {
	bf, _ := sketches.NewBloomFilter(20000, 0.01)
	rows, err := Membership(context.Background(), bf, Config{Iterations: 4, Population: 5000, Seed: 7})
	assert.Equal(t, nil, err)
	last := rows[len(rows)-1]
	assert.Equal(t, 0.0, last.FalseNegativePct)
	// cumulative rate stays below the target at or under capacity
	assert.T(t, last.FalsePositivePct < 2*0.01*100)
	assert.Equal(t, bf.SizeBytes(), last.SizeBytes)

	ref := NewBloomReference(20000, 0.01)
	refRows, err := Membership(context.Background(), ref, Config{Iterations: 4, Population: 5000, Seed: 7})
	assert.Equal(t, nil, err)
	assert.Equal(t, 0.0, refRows[3].FalseNegativePct)
}

func TestFrequency(t *testing.T) {
	cfg := Config{Iterations: 2, Population: 20000, Universe: 500, Seed: 3}
	cms, _ := sketches.NewCountMinSketch(0.001, 0.01)
	rows, err := Frequency(context.Background(), cms, cfg)
	assert.Equal(t, nil, err)
	for _, row := range rows {
		assert.Equal(t, 0, row.Undercounted)
		assert.T(t, row.Distinct <= 500)
	}

	rows, err = Frequency(context.Background(), NewCountMinReference(0.001, 0.01), cfg)
	assert.Equal(t, nil, err)
	assert.Equal(t, 0, rows[1].Undercounted)
}

func TestCardinality(t *testing.T) {
	cfg := Config{Iterations: 3, Population: 10000, Universe: 20000, Seed: 5}
	hll, _ := sketches.NewHyperLogLog(0.01)
	rows, err := Cardinality(context.Background(), hll, cfg)
	assert.Equal(t, nil, err)
	for _, row := range rows {
		assert.T(t, row.Distinct <= 20000)
		assert.T(t, row.RelErrorPct < 3)
	}

	rows, err = Cardinality(context.Background(), NewHyperLogLogReference(), cfg)
	assert.Equal(t, nil, err)
	assert.T(t, rows[2].RelErrorPct < 5)

	rows, err = Cardinality(context.Background(), NewExactSet(), cfg)
	assert.Equal(t, nil, err)
	assert.Equal(t, 0.0, rows[2].RelErrorPct)
}

func TestRunnerErrors(t *testing.T) {
	_, err := Membership(context.Background(), NewExactSet(), Config{Iterations: 0, Population: 10})
	assert.NotEqual(t, nil, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	rows, err := Cardinality(ctx, NewExactSet(), Config{Iterations: 2, Population: 10})
	assert.Equal(t, context.Canceled, err)
	assert.Equal(t, 0, len(rows))
}

func TestDemo(t *testing.T) {
	var buf bytes.Buffer
	assert.Equal(t, nil, Demo(&buf))
	out := buf.String()
	assert.T(t, strings.Contains(out, "Using Bloom filter\ntest 1 : +ve\ntest 3 : -ve"))
	assert.T(t, strings.Contains(out, "cardinality : 3"))
}

func TestCompareSharded(t *testing.T) {
	cfg := Config{Iterations: 1, Population: 20000, Universe: 5000, Seed: 9}
	for _, tc := range []struct {
		kind   sketches.SketchType
		params sketches.Params
	}{
		{sketches.BloomType, sketches.Params{ExpectedElements: 5000, FalsePositiveRate: 0.01}},
		{sketches.CountMinSketchType, sketches.Params{Epsilon: 0.01, Delta: 0.01}},
		{sketches.HyperLogLogType, sketches.Params{RelativeError: 0.02}},
	} {
		report, err := CompareSharded(context.Background(), tc.kind, tc.params, cfg, 4)
		assert.Equal(t, nil, err)
		assert.Equal(t, 20000, report.Keys)
		assert.T(t, report.Identical)
	}
}
