// Package analysis measures sketch accuracy, speed and size empirically.
//
// Each runner inserts Population fresh keys per iteration and reports
// cumulative error figures after every iteration, the way a long-running
// ingest would observe them. Sizes are the target's own serialized size,
// never process memory.
package analysis

import (
	"context"
	"errors"
	"fmt"
	"math"
	"math/rand"
	"strconv"
	"time"
)

// Config drives a run. Universe bounds the key space for the frequency and
// cardinality runners, so keys repeat; zero means unbounded.
type Config struct {
	Iterations int
	Population int
	Universe   uint64
	Seed       int64
}

func (c Config) validate() error {
	if c.Iterations <= 0 || c.Population <= 0 {
		return fmt.Errorf("iterations and population must be positive, got %d and %d", c.Iterations, c.Population)
	}
	return nil
}

// keyStream yields decimal keys from a seeded source.
type keyStream struct {
	rng      *rand.Rand
	universe uint64
}

func newKeyStream(cfg Config) *keyStream {
	return &keyStream{rng: rand.New(rand.NewSource(cfg.Seed)), universe: cfg.Universe}
}

func (s *keyStream) next() string {
	v := s.rng.Uint64()
	if s.universe > 0 {
		v %= s.universe
	}
	return strconv.FormatUint(v, 10)
}

// MembershipTarget is anything that answers set membership.
type MembershipTarget interface {
	Add([]byte)
	Contains([]byte) bool
	SizeBytes() int
}

// MembershipRow is the cumulative state after one iteration.
type MembershipRow struct {
	Iteration        int
	Count            int
	FalsePositivePct float64
	FalseNegativePct float64
	Elapsed          time.Duration
	SizeBytes        int
}

// Membership adds Population random keys per iteration. After every add it
// checks the first key of the iteration, which must be present, and the new
// key with an "x" suffix, which was never added.
func Membership(ctx context.Context, target MembershipTarget, cfg Config) ([]MembershipRow, error) {
	if err := cfg.validate(); err != nil {
		return nil, err
	}

	keys := newKeyStream(cfg)
	var falsePos, falseNeg int
	rows := make([]MembershipRow, 0, cfg.Iterations)
	for i := 0; i < cfg.Iterations; i++ {
		if err := ctx.Err(); err != nil {
			return rows, err
		}

		start := time.Now()
		var first []byte
		for j := 0; j < cfg.Population; j++ {
			key := keys.next()
			target.Add([]byte(key))
			if first == nil {
				first = []byte(key)
			}
			if !target.Contains(first) {
				falseNeg++
			}
			if target.Contains([]byte(key + "x")) {
				falsePos++
			}
		}

		total := (i + 1) * cfg.Population
		rows = append(rows, MembershipRow{
			Iteration:        i,
			Count:            total,
			FalsePositivePct: percent(falsePos, total),
			FalseNegativePct: percent(falseNeg, total),
			Elapsed:          time.Since(start),
			SizeBytes:        target.SizeBytes(),
		})
	}
	return rows, nil
}

// FrequencyTarget is anything that estimates per-key counts.
type FrequencyTarget interface {
	Add([]byte)
	Estimate([]byte) uint64
	SizeBytes() int
}

// FrequencyRow compares every key seen so far against its exact count.
type FrequencyRow struct {
	Iteration    int
	Count        int
	Distinct     int
	MeanOver     float64
	MaxOver      uint64
	Undercounted int
	Elapsed      time.Duration
	SizeBytes    int
}

// Frequency streams Population keys per iteration through target and an
// exact map, then compares all estimates.
func Frequency(ctx context.Context, target FrequencyTarget, cfg Config) ([]FrequencyRow, error) {
	if err := cfg.validate(); err != nil {
		return nil, err
	}

	keys := newKeyStream(cfg)
	exact := make(map[string]uint64)
	rows := make([]FrequencyRow, 0, cfg.Iterations)
	for i := 0; i < cfg.Iterations; i++ {
		if err := ctx.Err(); err != nil {
			return rows, err
		}

		start := time.Now()
		for j := 0; j < cfg.Population; j++ {
			key := keys.next()
			target.Add([]byte(key))
			exact[key]++
		}
		elapsed := time.Since(start)

		row := FrequencyRow{
			Iteration: i,
			Count:     (i + 1) * cfg.Population,
			Distinct:  len(exact),
			Elapsed:   elapsed,
			SizeBytes: target.SizeBytes(),
		}
		var sumOver uint64
		for k, want := range exact {
			got := target.Estimate([]byte(k))
			if got < want {
				row.Undercounted++
				continue
			}
			over := got - want
			sumOver += over
			if over > row.MaxOver {
				row.MaxOver = over
			}
		}
		row.MeanOver = float64(sumOver) / float64(len(exact))
		rows = append(rows, row)
	}
	return rows, nil
}

// CardinalityTarget is anything that estimates distinct counts.
type CardinalityTarget interface {
	Add([]byte)
	Cardinality() float64
	SizeBytes() int
}

// CardinalityRow compares the estimate against the exact distinct count.
type CardinalityRow struct {
	Iteration   int
	Count       int
	Distinct    int
	Estimate    float64
	RelErrorPct float64
	Elapsed     time.Duration
	SizeBytes   int
}

// Cardinality streams Population keys per iteration through target and an
// exact set.
func Cardinality(ctx context.Context, target CardinalityTarget, cfg Config) ([]CardinalityRow, error) {
	if err := cfg.validate(); err != nil {
		return nil, err
	}

	keys := newKeyStream(cfg)
	seen := make(map[string]struct{})
	rows := make([]CardinalityRow, 0, cfg.Iterations)
	for i := 0; i < cfg.Iterations; i++ {
		if err := ctx.Err(); err != nil {
			return rows, err
		}

		start := time.Now()
		for j := 0; j < cfg.Population; j++ {
			key := keys.next()
			target.Add([]byte(key))
			seen[key] = struct{}{}
		}
		elapsed := time.Since(start)

		est := target.Cardinality()
		rows = append(rows, CardinalityRow{
			Iteration:   i,
			Count:       (i + 1) * cfg.Population,
			Distinct:    len(seen),
			Estimate:    est,
			RelErrorPct: 100 * math.Abs(est-float64(len(seen))) / float64(len(seen)),
			Elapsed:     elapsed,
			SizeBytes:   target.SizeBytes(),
		})
	}
	return rows, nil
}

// Keys draws n keys from the configured stream, for callers that need the
// same keys outside a runner.
func Keys(cfg Config, n int) [][]byte {
	s := newKeyStream(cfg)
	out := make([][]byte, n)
	for i := range out {
		out[i] = []byte(s.next())
	}
	return out
}

var errAssertion = errors.New("assertion failed")

func percent(n, total int) float64 {
	return float64(n) * 100 / float64(total)
}
