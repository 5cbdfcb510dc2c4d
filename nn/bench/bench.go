// Package bench times the layers of a model on one batch.
package bench

import (
	"fmt"
	"io"
	"time"

	"cifarmask/nn"
	"cifarmask/tensor"

	"github.com/montanaflynn/stats"
	"github.com/pkg/errors"
)

// LayerTiming holds the median forward and backward time of one layer.
type LayerTiming struct {
	Index     int
	Tag       string
	OutShape  []int
	Forward   time.Duration
	Backward  time.Duration
	Encrypted bool
}

// Profile runs the model numRuns times on x and times every layer. Each
// backward pass starts from an all-ones gradient so every layer sees a
// gradient of its real output shape. Layers that are encrypted in eval
// mode are timed forward only.
func Profile(model *nn.Sequential, x *tensor.Tensor, numRuns int, training bool) ([]LayerTiming, error) {
	if numRuns <= 0 {
		return nil, errors.Errorf("numRuns must be positive, got %d", numRuns)
	}
	model.SetTraining(training)
	n := len(model.Layers)
	fwd := make([][]float64, n)
	bwd := make([][]float64, n)
	out := make([]LayerTiming, n)

	for run := 0; run < numRuns; run++ {
		model.ZeroGrad()
		h := x
		for i, l := range model.Layers {
			start := time.Now()
			next, err := l.Forward(h)
			if err != nil {
				return nil, errors.Wrapf(err, "layer %d (%s)", i, l.Tag())
			}
			fwd[i] = append(fwd[i], float64(time.Since(start)))
			out[i].OutShape = next.Shape
			h = next
		}
		if !training {
			continue
		}
		g := tensor.New(h.Shape...)
		for i := range g.Data {
			g.Data[i] = 1
		}
		for i := n - 1; i >= 0; i-- {
			l := model.Layers[i]
			start := time.Now()
			next, err := l.Backward(g)
			if err != nil {
				return nil, errors.Wrapf(err, "layer %d (%s) backward", i, l.Tag())
			}
			bwd[i] = append(bwd[i], float64(time.Since(start)))
			g = next
		}
	}

	for i, l := range model.Layers {
		out[i].Index = i
		out[i].Tag = l.Tag()
		if e, ok := l.(interface{ Encrypted() bool }); ok {
			out[i].Encrypted = e.Encrypted()
		}
		out[i].Forward = median(fwd[i])
		out[i].Backward = median(bwd[i])
	}
	return out, nil
}

func median(xs []float64) time.Duration {
	if len(xs) == 0 {
		return 0
	}
	m, err := stats.Median(xs)
	if err != nil {
		return 0
	}
	return time.Duration(m)
}

// Total sums the forward and backward medians.
func Total(ts []LayerTiming) (fwd, bwd time.Duration) {
	for _, t := range ts {
		fwd += t.Forward
		bwd += t.Backward
	}
	return fwd, bwd
}

// Fprint writes one line per layer.
func Fprint(w io.Writer, ts []LayerTiming) {
	fmt.Fprintf(w, "%-3s %-44s %-18s %12s %12s\n", "#", "layer", "output", "forward", "backward")
	for _, t := range ts {
		tag := t.Tag
		if t.Encrypted {
			tag += " [HE]"
		}
		if len(tag) > 44 {
			tag = tag[:41] + "..."
		}
		fmt.Fprintf(w, "%-3d %-44s %-18s %12v %12v\n", t.Index, tag, fmt.Sprint(t.OutShape), t.Forward, t.Backward)
	}
	fwd, bwd := Total(ts)
	fmt.Fprintf(w, "%-3s %-44s %-18s %12v %12v\n", "", "total", "", fwd, bwd)
}
