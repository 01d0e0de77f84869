// NebulaId CLI - Command-line tool for ID generation and inspection
//
// Usage:
//   nebulaid generate [flags]     Generate IDs
//   nebulaid parse <id>           Parse and inspect a numeric ID
//   nebulaid bench [flags]        Run generation benchmarks
//
// The CLI wires the Snowflake and UUID tiers only; the segment algorithm
// needs a durable range store and is exercised through the library API.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"strconv"
	"time"

	nebulaid "github.com/Kirky-X/NebulaId"
)

const version = "1.0.0"

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}

	command := os.Args[1]
	switch command {
	case "generate", "gen", "g":
		cmdGenerate(os.Args[2:])
	case "parse", "p":
		cmdParse(os.Args[2:])
	case "bench", "benchmark", "b":
		cmdBench(os.Args[2:])
	case "version", "--version", "-v":
		fmt.Printf("nebulaid CLI version %s\n", version)
	case "help", "--help", "-h":
		printUsage()
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n\n", command)
		printUsage()
		os.Exit(1)
	}
}

func printUsage() {
	fmt.Fprintf(os.Stderr, `NebulaId CLI - Distributed unique ID generator

Usage:
  nebulaid <command> [flags]

Commands:
  generate, gen, g      Generate IDs
  parse, p              Parse and inspect a numeric ID
  bench, b              Run generation benchmarks
  version               Show version information
  help                  Show this help message

Examples:
  # Generate a single Snowflake ID
  nebulaid generate --dc 1 --worker 42

  # Generate 10 UUIDv7 values
  nebulaid generate --count 10 --algo uuid_v7

  # Render IDs through a template
  nebulaid generate --template "ORD-{id}" --worker 42

  # Inspect an ID's components
  nebulaid parse 1234567890123456789

  # Benchmark generation for 5 seconds
  nebulaid bench --duration 5s

For detailed help on a command:
  nebulaid <command> --help

`)
}

func newAlgorithm(algo string, dcID, workerID int64) (nebulaid.IdAlgorithm, error) {
	switch algo {
	case "snowflake", "sf":
		g, err := nebulaid.NewSnowflakeAlgorithm(nebulaid.SnowflakeConfig{}, dcID, workerID)
		if err != nil {
			return nil, err
		}
		return g, nil
	case "uuid_v7", "v7":
		return nebulaid.NewUuidV7Algorithm(), nil
	case "uuid_v4", "v4":
		return nebulaid.NewUuidV4Algorithm(), nil
	default:
		return nil, fmt.Errorf("unknown algorithm %q (snowflake, uuid_v7, uuid_v4)", algo)
	}
}

// ============================================================================
// Generate Command
// ============================================================================

func cmdGenerate(args []string) {
	fs := flag.NewFlagSet("generate", flag.ExitOnError)
	count := fs.Int("count", 1, "Number of IDs to generate")
	algo := fs.String("algo", "snowflake", "Algorithm: snowflake, uuid_v7, uuid_v4")
	dcID := fs.Int64("dc", 0, "Datacenter ID")
	workerID := fs.Int64("worker", 0, "Worker ID")
	template := fs.String("template", "", "Format template, {id} is the placeholder")
	jsonOutput := fs.Bool("json", false, "Output as JSON")
	batch := fs.Bool("batch", false, "Use batch generation for better throughput")

	fs.Usage = func() {
		fmt.Fprintf(os.Stderr, `Usage: nebulaid generate [flags]

Generate one or more IDs.

Flags:
  --count N          Number of IDs to generate (default: 1)
  --algo NAME        Algorithm: snowflake, uuid_v7, uuid_v4 (default: snowflake)
  --dc N             Datacenter ID (default: 0)
  --worker N         Worker ID (default: 0)
  --template TPL     Format template, {id} is replaced with the raw ID
  --json             Output as JSON with timing details
  --batch            Use batch generation (faster for large counts)

Examples:
  nebulaid generate --dc 1 --worker 42
  nebulaid generate --count 1000 --batch --worker 42
  nebulaid generate --algo uuid_v7 --count 5
`)
	}

	fs.Parse(args)

	alg, err := newAlgorithm(*algo, *dcID, *workerID)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error creating generator: %v\n", err)
		os.Exit(1)
	}

	ctx := context.Background()
	gctx := &nebulaid.GenerateContext{
		Workspace:      "cli",
		Group:          "default",
		BizTag:         "cli",
		DatacenterID:   *dcID,
		WorkerID:       *workerID,
		FormatTemplate: *template,
	}

	startTime := time.Now()
	var ids []nebulaid.Id

	if *batch && *count > 1 {
		ids, err = alg.BatchGenerate(ctx, gctx, *count)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error generating batch: %v\n", err)
			os.Exit(1)
		}
	} else {
		ids = make([]nebulaid.Id, *count)
		for i := 0; i < *count; i++ {
			ids[i], err = alg.Generate(ctx, gctx)
			if err != nil {
				fmt.Fprintf(os.Stderr, "Error generating ID: %v\n", err)
				os.Exit(1)
			}
		}
	}

	duration := time.Since(startTime)

	if *jsonOutput {
		outputJSON(ids, duration, *algo)
		return
	}
	for _, id := range ids {
		fmt.Println(id.String())
	}
	if *count > 100 {
		rate := float64(*count) / duration.Seconds()
		fmt.Fprintf(os.Stderr, "\nGenerated %d IDs in %v (%.0f IDs/sec)\n",
			*count, duration, rate)
	}
}

func outputJSON(ids []nebulaid.Id, duration time.Duration, algo string) {
	type Output struct {
		Algorithm  string   `json:"algorithm"`
		Count      int      `json:"count"`
		Duration   string   `json:"duration"`
		RatePerSec float64  `json:"rate_per_sec"`
		IDs        []string `json:"ids"`
	}

	strs := make([]string, len(ids))
	for i, id := range ids {
		strs[i] = id.String()
	}

	output := Output{
		Algorithm:  algo,
		Count:      len(ids),
		Duration:   duration.String(),
		RatePerSec: float64(len(ids)) / duration.Seconds(),
		IDs:        strs,
	}

	encoder := json.NewEncoder(os.Stdout)
	encoder.SetIndent("", "  ")
	encoder.Encode(output)
}

// ============================================================================
// Parse Command
// ============================================================================

func cmdParse(args []string) {
	fs := flag.NewFlagSet("parse", flag.ExitOnError)
	tsBits := fs.Int("timestamp-bits", nebulaid.LayoutDefault.TimestampBits, "Timestamp bits of the layout")
	dcBits := fs.Int("dc-bits", nebulaid.LayoutDefault.DatacenterBits, "Datacenter bits of the layout")
	workerBits := fs.Int("worker-bits", nebulaid.LayoutDefault.WorkerBits, "Worker bits of the layout")
	seqBits := fs.Int("sequence-bits", nebulaid.LayoutDefault.SequenceBits, "Sequence bits of the layout")
	epoch := fs.Int64("epoch", nebulaid.DefaultEpoch, "Custom epoch in milliseconds")

	fs.Usage = func() {
		fmt.Fprintf(os.Stderr, `Usage: nebulaid parse [flags] <id>

Parse a numeric Snowflake ID into its components. Pass the layout flags when
the ID was generated with a non-default bit allocation.

Examples:
  nebulaid parse 1234567890123456789
  nebulaid parse --dc-bits 0 --worker-bits 10 --sequence-bits 12 1234567890123456789
`)
	}

	fs.Parse(args)
	if fs.NArg() < 1 {
		fs.Usage()
		os.Exit(1)
	}

	raw, err := strconv.ParseInt(fs.Arg(0), 10, 64)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: unable to parse ID %q: %v\n", fs.Arg(0), err)
		os.Exit(1)
	}

	layout := nebulaid.Layout{
		TimestampBits:  *tsBits,
		DatacenterBits: *dcBits,
		WorkerBits:     *workerBits,
		SequenceBits:   *seqBits,
	}
	if err := layout.Validate(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}

	ts, dc, worker, seq := layout.Components(raw)
	timestamp := time.UnixMilli(ts + *epoch)

	fmt.Printf("NebulaId: %d\n", raw)
	fmt.Printf("\n")
	fmt.Printf("Components:\n")
	fmt.Printf("  Timestamp:   %s (%d ms since custom epoch)\n", timestamp.Format(time.RFC3339), ts)
	fmt.Printf("  Datacenter:  %d\n", dc)
	fmt.Printf("  Worker:      %d\n", worker)
	fmt.Printf("  Sequence:    %d\n", seq)
	fmt.Printf("\n")
	fmt.Printf("Encodings:\n")
	fmt.Printf("  Decimal:     %d\n", raw)
	fmt.Printf("  Base62:      %s\n", nebulaid.NumericId(uint64(raw)).Base62())
	fmt.Printf("  Hex:         %x\n", raw)
	fmt.Printf("\n")
	fmt.Printf("Age:           %v\n", time.Since(timestamp).Round(time.Millisecond))
}

// ============================================================================
// Bench Command
// ============================================================================

func cmdBench(args []string) {
	fs := flag.NewFlagSet("bench", flag.ExitOnError)
	duration := fs.Duration("duration", 3*time.Second, "How long to run each benchmark")
	algo := fs.String("algo", "snowflake", "Algorithm: snowflake, uuid_v7, uuid_v4")
	batchSize := fs.Int("batch-size", 100, "Batch size for the batch benchmark")

	fs.Usage = func() {
		fmt.Fprintf(os.Stderr, `Usage: nebulaid bench [flags]

Measure single and batch generation throughput.

Flags:
  --duration D       How long to run each benchmark (default: 3s)
  --algo NAME        Algorithm: snowflake, uuid_v7, uuid_v4 (default: snowflake)
  --batch-size N     Batch size for the batch benchmark (default: 100)
`)
	}

	fs.Parse(args)

	alg, err := newAlgorithm(*algo, 0, 0)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error creating generator: %v\n", err)
		os.Exit(1)
	}

	ctx := context.Background()
	gctx := &nebulaid.GenerateContext{Workspace: "cli", Group: "bench", BizTag: "bench"}

	fmt.Printf("Benchmarking %s for %v...\n\n", *algo, *duration)

	// Single generation.
	count := 0
	deadline := time.Now().Add(*duration)
	start := time.Now()
	for time.Now().Before(deadline) {
		if _, err := alg.Generate(ctx, gctx); err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
		count++
	}
	elapsed := time.Since(start)
	fmt.Printf("Single:  %d IDs in %v (%.0f IDs/sec)\n",
		count, elapsed.Round(time.Millisecond), float64(count)/elapsed.Seconds())

	// Batch generation.
	count = 0
	deadline = time.Now().Add(*duration)
	start = time.Now()
	for time.Now().Before(deadline) {
		ids, err := alg.BatchGenerate(ctx, gctx, *batchSize)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
		count += len(ids)
	}
	elapsed = time.Since(start)
	fmt.Printf("Batch:   %d IDs in %v (%.0f IDs/sec, batch size %d)\n",
		count, elapsed.Round(time.Millisecond), float64(count)/elapsed.Seconds(), *batchSize)
}
