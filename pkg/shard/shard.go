// Package shard builds one sketch from many key partitions in parallel.
// Each worker fills a private sketch; the results are merged once at the end,
// so no sketch is ever written by two goroutines.
package shard

import (
	"context"
	"runtime"

	"golang.org/x/sync/errgroup"

	"github.com/sahithikokkula/sketchd/pkg/sketches"
)

const cancelCheckEvery = 4096

// Mergeable is a sketch that can absorb another of its own type.
type Mergeable[S any] interface {
	Merge(S) error
}

// Build fills one sketch per part concurrently and merges them in part order.
func Build[S Mergeable[S]](ctx context.Context, parts [][][]byte, newSketch func() (S, error), add func(S, []byte)) (S, error) {
	if len(parts) == 0 {
		return newSketch()
	}

	results := make([]S, len(parts))
	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(runtime.GOMAXPROCS(0))
	for i, part := range parts {
		i, part := i, part
		g.Go(func() error {
			s, err := newSketch()
			if err != nil {
				return err
			}
			for j, k := range part {
				if j%cancelCheckEvery == 0 && ctx.Err() != nil {
					return ctx.Err()
				}
				add(s, k)
			}
			results[i] = s
			return nil
		})
	}

	var zero S
	if err := g.Wait(); err != nil {
		return zero, err
	}
	for _, s := range results[1:] {
		if err := results[0].Merge(s); err != nil {
			return zero, err
		}
	}
	return results[0], nil
}

// Split deals keys round-robin into n parts.
func Split(keys [][]byte, n int) [][][]byte {
	if n < 1 {
		n = 1
	}
	parts := make([][][]byte, n)
	for i, k := range keys {
		parts[i%n] = append(parts[i%n], k)
	}
	return parts
}

func CountMin(ctx context.Context, parts [][][]byte, epsilon, delta float64) (*sketches.CountMinSketch, error) {
	return Build(ctx, parts,
		func() (*sketches.CountMinSketch, error) { return sketches.NewCountMinSketch(epsilon, delta) },
		(*sketches.CountMinSketch).Add)
}

func HyperLogLog(ctx context.Context, parts [][][]byte, relativeError float64) (*sketches.HyperLogLog, error) {
	return Build(ctx, parts,
		func() (*sketches.HyperLogLog, error) { return sketches.NewHyperLogLog(relativeError) },
		(*sketches.HyperLogLog).Add)
}

func Bloom(ctx context.Context, parts [][][]byte, expectedElements int, falsePositiveRate float64) (*sketches.BloomFilter, error) {
	return Build(ctx, parts,
		func() (*sketches.BloomFilter, error) { return sketches.NewBloomFilter(expectedElements, falsePositiveRate) },
		(*sketches.BloomFilter).Add)
}
