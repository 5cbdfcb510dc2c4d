package experiment

import (
	"fmt"
	"io"

	"github.com/montanaflynn/stats"
	"github.com/pkg/errors"
)

// MarginStats describes one group of margins.
type MarginStats struct {
	Count  int
	Mean   float64
	Median float64
	P10    float64
	P90    float64
}

// Summary compares held-in and held-out margins.
type Summary struct {
	HeldIn  MarginStats
	HeldOut MarginStats
}

// Split partitions margins by mask membership.
func Split(masks, margins []float64) (heldIn, heldOut []float64, err error) {
	if len(masks) != len(margins) {
		return nil, nil, errors.Errorf("%d mask entries for %d margins", len(masks), len(margins))
	}
	for i, m := range margins {
		if masks[i] != 0 {
			heldIn = append(heldIn, m)
		} else {
			heldOut = append(heldOut, m)
		}
	}
	return heldIn, heldOut, nil
}

// Summarize computes margin statistics for the held-in and held-out groups.
// Percentiles use the nearest-rank method so small groups are well defined.
// An empty group has zero statistics.
func Summarize(r *Result) (Summary, error) {
	in, out, err := Split(r.Masks, r.Margins)
	if err != nil {
		return Summary{}, err
	}
	var s Summary
	if s.HeldIn, err = describe(in); err != nil {
		return Summary{}, errors.Wrap(err, "held-in")
	}
	if s.HeldOut, err = describe(out); err != nil {
		return Summary{}, errors.Wrap(err, "held-out")
	}
	return s, nil
}

func describe(xs []float64) (MarginStats, error) {
	ms := MarginStats{Count: len(xs)}
	if len(xs) == 0 {
		return ms, nil
	}
	data := stats.Float64Data(xs)
	var err error
	if ms.Mean, err = stats.Mean(data); err != nil {
		return ms, err
	}
	if ms.Median, err = stats.Median(data); err != nil {
		return ms, err
	}
	if ms.P10, err = stats.PercentileNearestRank(data, 10); err != nil {
		return ms, err
	}
	if ms.P90, err = stats.PercentileNearestRank(data, 90); err != nil {
		return ms, err
	}
	return ms, nil
}

// Fprint writes a small table of the summary.
func (s Summary) Fprint(w io.Writer) {
	fmt.Fprintf(w, "%-9s %7s %9s %9s %9s %9s\n", "group", "count", "mean", "median", "p10", "p90")
	for _, g := range []struct {
		name string
		ms   MarginStats
	}{{"held-in", s.HeldIn}, {"held-out", s.HeldOut}} {
		fmt.Fprintf(w, "%-9s %7d %9.4f %9.4f %9.4f %9.4f\n", g.name, g.ms.Count, g.ms.Mean, g.ms.Median, g.ms.P10, g.ms.P90)
	}
}
