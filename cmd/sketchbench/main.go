package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/dustin/go-humanize"

	"github.com/sahithikokkula/sketchd/pkg/analysis"
	"github.com/sahithikokkula/sketchd/pkg/sketches"
)

func main() {
	var (
		test       = flag.Bool("test", false, "run the toy checks and exit")
		iterations = flag.Int("i", 10, "number of iterations")
		population = flag.Int("p", 1000000, "keys added per iteration")
		capacity   = flag.Int("m", 100000, "bloom capacity, or key universe for countmin and hyperloglog")
		errRate    = flag.Float64("e", 0.01, "error tolerance: false positive rate, epsilon or relative error")
		delta      = flag.Float64("delta", 0.01, "countmin failure probability")
		kind       = flag.String("kind", "bloom", "bloom, countmin, hyperloglog or set")
		reference  = flag.Bool("reference", false, "measure the reference library instead of the native sketch")
		shards     = flag.Int("shards", 0, "also compare a sharded build with this many parts")
		seed       = flag.Int64("seed", 1, "random seed")
	)
	flag.Parse()

	if *test {
		if err := analysis.Demo(os.Stdout); err != nil {
			log.Fatal(err)
		}
		return
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	fmt.Printf("Kind :%s\n", *kind)
	fmt.Printf("Capacity :%s\n", humanize.Comma(int64(*capacity)))
	fmt.Printf("Err Tolerance :%v\n", *errRate)
	fmt.Printf("#Iterations :%d\n", *iterations)
	fmt.Printf("Population per Iteration :%s\n", humanize.Comma(int64(*population)))

	cfg := analysis.Config{Iterations: *iterations, Population: *population, Seed: *seed}
	params := sketches.Params{}
	var err error
	switch *kind {
	case "set":
		err = runMembership(ctx, analysis.NewExactSet(), cfg)
	case string(sketches.BloomType):
		params = sketches.Params{ExpectedElements: *capacity, FalsePositiveRate: *errRate}
		var target analysis.MembershipTarget
		if *reference {
			target = analysis.NewBloomReference(*capacity, *errRate)
		} else {
			target, err = sketches.NewBloomFilter(*capacity, *errRate)
		}
		if err == nil {
			err = runMembership(ctx, target, cfg)
		}
	case string(sketches.CountMinSketchType):
		params = sketches.Params{Epsilon: *errRate, Delta: *delta}
		cfg.Universe = uint64(*capacity)
		var target analysis.FrequencyTarget
		if *reference {
			target = analysis.NewCountMinReference(*errRate, *delta)
		} else {
			target, err = sketches.NewCountMinSketch(*errRate, *delta)
		}
		if err == nil {
			err = runFrequency(ctx, target, cfg)
		}
	case string(sketches.HyperLogLogType):
		params = sketches.Params{RelativeError: *errRate}
		cfg.Universe = uint64(*capacity)
		var target analysis.CardinalityTarget
		if *reference {
			target = analysis.NewHyperLogLogReference()
		} else {
			target, err = sketches.NewHyperLogLog(*errRate)
		}
		if err == nil {
			err = runCardinality(ctx, target, cfg)
		}
	default:
		log.Fatalf("unknown kind %q", *kind)
	}
	if err != nil {
		log.Fatal(err)
	}

	if *shards > 1 && *kind != "set" {
		report, err := analysis.CompareSharded(ctx, sketches.SketchType(*kind), params, cfg, *shards)
		if err != nil {
			log.Fatal(err)
		}
		fmt.Printf("Sequential %v, %d shards %v, identical: %v\n", report.Sequential, report.Shards, report.Sharded, report.Identical)
	}
}

func runMembership(ctx context.Context, target analysis.MembershipTarget, cfg analysis.Config) error {
	fmt.Println("Iteration,      Count,    F +ve,    F -ve,       Time,     Size")
	rows, err := analysis.Membership(ctx, target, cfg)
	for _, r := range rows {
		fmt.Printf("%9d, %10s, %8.4f, %8.4f, %10.6f, %8s\n",
			r.Iteration, humanize.Comma(int64(r.Count)), r.FalsePositivePct, r.FalseNegativePct,
			r.Elapsed.Seconds(), humanize.Bytes(uint64(r.SizeBytes)))
	}
	return err
}

func runFrequency(ctx context.Context, target analysis.FrequencyTarget, cfg analysis.Config) error {
	fmt.Println("Iteration,      Count,  Distinct,  Mean over,  Max over,  Under,       Time,     Size")
	rows, err := analysis.Frequency(ctx, target, cfg)
	for _, r := range rows {
		fmt.Printf("%9d, %10s, %9s, %10.3f, %9d, %6d, %10.6f, %8s\n",
			r.Iteration, humanize.Comma(int64(r.Count)), humanize.Comma(int64(r.Distinct)),
			r.MeanOver, r.MaxOver, r.Undercounted, r.Elapsed.Seconds(), humanize.Bytes(uint64(r.SizeBytes)))
	}
	return err
}

func runCardinality(ctx context.Context, target analysis.CardinalityTarget, cfg analysis.Config) error {
	fmt.Println("Iteration,      Count,  Distinct,   Estimate,  Err %,       Time,     Size")
	rows, err := analysis.Cardinality(ctx, target, cfg)
	for _, r := range rows {
		fmt.Printf("%9d, %10s, %9s, %10.0f, %6.3f, %10.6f, %8s\n",
			r.Iteration, humanize.Comma(int64(r.Count)), humanize.Comma(int64(r.Distinct)),
			r.Estimate, r.RelErrorPct, r.Elapsed.Seconds(), humanize.Bytes(uint64(r.SizeBytes)))
	}
	return err
}
