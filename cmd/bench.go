package main

import (
	"context"
	"fmt"
	"io"
	"sort"
	"sync"
	"text/tabwriter"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/sells-group/contractml/internal/contract"
	"github.com/sells-group/contractml/internal/model"
	"github.com/sells-group/contractml/internal/monitoring"
)

// benchStats summarizes per-execution latencies in milliseconds.
type benchStats struct {
	Iterations  int
	Concurrency int
	Errors      int
	Wall        time.Duration
	AvgMs       float64
	MedianMs    float64
	P95Ms       float64
	P99Ms       float64
	MinMs       float64
	MaxMs       float64
}

var benchCmd = &cobra.Command{
	Use:   "bench <domain> <version>",
	Short: "Benchmark contract execution latency",
	Long:  "Builds the contract once, then executes the payload repeatedly and reports avg/median/p95/p99/min/max latency. Executions are not recorded in the execution log.",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		data, _ := cmd.Flags().GetString("data")
		file, _ := cmd.Flags().GetString("file")
		iterations, _ := cmd.Flags().GetInt("iterations")
		concurrency, _ := cmd.Flags().GetInt("concurrency")
		if iterations <= 0 {
			return eris.New("--iterations must be > 0")
		}

		payload, err := readPayload(data, file, cmd.InOrStdin())
		if err != nil {
			return err
		}

		env, err := initEngine(ctx, cfg, "cli", prometheus.NewRegistry())
		if err != nil {
			return err
		}
		defer env.Close()

		c, err := env.Registry.Load(ctx, args[0], args[1])
		if err != nil {
			return eris.Wrapf(err, "bench %s/%s", args[0], args[1])
		}

		// Fail fast on a payload the contract rejects.
		if _, err := c.Execute(ctx, payload); err != nil {
			return eris.Wrap(err, "bench: sample payload rejected")
		}

		stats, err := runBench(ctx, c, payload, iterations, concurrency)
		if err != nil {
			return err
		}
		formatBenchStats(cmd.OutOrStdout(), args[0], args[1], stats)
		return nil
	},
}

func init() {
	benchCmd.Flags().String("data", "", "inline JSON payload")
	benchCmd.Flags().String("file", "", "path to a JSON payload file (- for stdin)")
	benchCmd.Flags().Int("iterations", 1000, "number of executions")
	benchCmd.Flags().Int("concurrency", 1, "concurrent executions")
	rootCmd.AddCommand(benchCmd)
}

// runBench executes payload iterations times with at most concurrency
// executions in flight.
func runBench(ctx context.Context, c *contract.Contract, payload model.Payload, iterations, concurrency int) (benchStats, error) {
	if concurrency <= 0 {
		concurrency = 1
	}

	var (
		mu        sync.Mutex
		latencies = make([]float64, 0, iterations)
		errs      int
	)

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(concurrency)

	start := time.Now()
	for i := 0; i < iterations; i++ {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			t0 := time.Now()
			_, err := c.Execute(gctx, payload)
			ms := float64(time.Since(t0).Microseconds()) / 1000

			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				errs++
				return nil
			}
			latencies = append(latencies, ms)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return benchStats{}, eris.Wrap(err, "bench")
	}

	stats := computeBenchStats(latencies)
	stats.Iterations = iterations
	stats.Concurrency = concurrency
	stats.Errors = errs
	stats.Wall = time.Since(start)
	return stats, nil
}

// computeBenchStats sorts latencies in place and summarizes them.
func computeBenchStats(latencies []float64) benchStats {
	var s benchStats
	if len(latencies) == 0 {
		return s
	}
	sort.Float64s(latencies)

	var total float64
	for _, l := range latencies {
		total += l
	}
	n := len(latencies)
	s.AvgMs = total / float64(n)
	if n%2 == 1 {
		s.MedianMs = latencies[n/2]
	} else {
		s.MedianMs = (latencies[n/2-1] + latencies[n/2]) / 2
	}
	s.P95Ms = monitoring.Percentile(latencies, 95)
	s.P99Ms = monitoring.Percentile(latencies, 99)
	s.MinMs = latencies[0]
	s.MaxMs = latencies[n-1]
	return s
}

func formatBenchStats(out io.Writer, domain, version string, s benchStats) {
	_, _ = fmt.Fprintf(out, "Benchmark %s/%s\n", domain, version)
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintf(w, "Iterations:\t%d\n", s.Iterations)
	_, _ = fmt.Fprintf(w, "Concurrency:\t%d\n", s.Concurrency)
	if s.Errors > 0 {
		_, _ = fmt.Fprintf(w, "Errors:\t%d\n", s.Errors)
	}
	_, _ = fmt.Fprintf(w, "Average:\t%.3fms\n", s.AvgMs)
	_, _ = fmt.Fprintf(w, "Median:\t%.3fms\n", s.MedianMs)
	_, _ = fmt.Fprintf(w, "95th percentile:\t%.3fms\n", s.P95Ms)
	_, _ = fmt.Fprintf(w, "99th percentile:\t%.3fms\n", s.P99Ms)
	_, _ = fmt.Fprintf(w, "Min:\t%.3fms\n", s.MinMs)
	_, _ = fmt.Fprintf(w, "Max:\t%.3fms\n", s.MaxMs)
	if s.Wall > 0 {
		_, _ = fmt.Fprintf(w, "Throughput:\t%.0f/s\n", float64(s.Iterations)/s.Wall.Seconds())
	}
	_ = w.Flush()
}
