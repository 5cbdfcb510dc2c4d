package utils

import (
	"fmt"
	"io"
	"os"
	"time"
)

// Verbose controls whether timing statistics are printed.
// Set to false to suppress output.
var Verbose = true

// Output is the writer where timing statistics are printed.
// Defaults to os.Stdout.
var Output io.Writer = os.Stdout

// TimingStats holds wall-clock time spent in each phase of a run.
type TimingStats struct {
	TotalTime       time.Duration
	DataLoadingTime time.Duration
	MaskTime        time.Duration
	ModelInitTime   time.Duration
	TrainTime       time.Duration
	EvalTime        time.Duration
	TestTime        time.Duration
}

// Phase runs fn and adds its duration to *dst.
func Phase(dst *time.Duration, fn func() error) error {
	start := time.Now()
	err := fn()
	*dst += time.Since(start)
	return err
}

// PrintTimingStats prints the per-phase breakdown.
// Respects the Verbose flag - does nothing if Verbose is false.
func PrintTimingStats(stats *TimingStats, steps int) {
	if !Verbose {
		return
	}
	pct := func(d time.Duration) float64 {
		if stats.TotalTime == 0 {
			return 0
		}
		return float64(d) / float64(stats.TotalTime) * 100
	}
	fmt.Fprintln(Output, "\n=== TIMING STATISTICS ===")
	fmt.Fprintf(Output, "Total run time: %v\n", stats.TotalTime)
	if steps > 0 {
		fmt.Fprintf(Output, "Average time per training step: %v\n", stats.TrainTime/time.Duration(steps))
	}
	fmt.Fprintf(Output, "Training steps completed: %d\n", steps)
	fmt.Fprintln(Output, "\nBreakdown by phase:")
	fmt.Fprintf(Output, "  Data loading: %v (%.1f%%)\n", stats.DataLoadingTime, pct(stats.DataLoadingTime))
	fmt.Fprintf(Output, "  Mask generation: %v (%.1f%%)\n", stats.MaskTime, pct(stats.MaskTime))
	fmt.Fprintf(Output, "  Model initialization: %v (%.1f%%)\n", stats.ModelInitTime, pct(stats.ModelInitTime))
	fmt.Fprintf(Output, "  Training: %v (%.1f%%)\n", stats.TrainTime, pct(stats.TrainTime))
	fmt.Fprintf(Output, "  Superset scoring: %v (%.1f%%)\n", stats.EvalTime, pct(stats.EvalTime))
	fmt.Fprintf(Output, "  Test accuracy: %v (%.1f%%)\n", stats.TestTime, pct(stats.TestTime))
}

// DurationUS converts any time.Duration to micro-seconds as float64
func DurationUS(d time.Duration) float64 {
	return float64(d.Nanoseconds()) / 1_000.0
}
