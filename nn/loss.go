package nn

import (
	"math"

	"cifarmask/tensor"

	"github.com/pkg/errors"
)

// CrossEntropyLoss is softmax cross-entropy averaged over the batch, with
// targets smoothed to (1-ε)·onehot + ε/K.
type CrossEntropyLoss struct {
	LabelSmoothing float64
}

// Forward returns the mean loss and its gradient with respect to logits.
func (c *CrossEntropyLoss) Forward(logits *tensor.Tensor, labels []int) (float64, *tensor.Tensor, error) {
	if len(logits.Shape) != 2 || logits.Shape[0] != len(labels) {
		return 0, nil, errors.Errorf("logits %v do not match %d labels", logits.Shape, len(labels))
	}
	batch, k := logits.Shape[0], logits.Shape[1]
	eps := c.LabelSmoothing
	grad := tensor.New(batch, k)
	loss := 0.0
	for b, y := range labels {
		if y < 0 || y >= k {
			return 0, nil, errors.Errorf("label %d out of range [0, %d)", y, k)
		}
		row := logits.Row(b)
		p := Softmax(row)
		logZ := logSumExp(row)
		g := grad.Row(b)
		for j := range row {
			q := eps / float64(k)
			if j == y {
				q += 1 - eps
			}
			loss -= q * (row[j] - logZ)
			g[j] = (p[j] - q) / float64(batch)
		}
	}
	return loss / float64(batch), grad, nil
}

// Softmax returns the numerically stable softmax of logits.
func Softmax(logits []float64) []float64 {
	maxLogit := math.Inf(-1)
	for _, v := range logits {
		if v > maxLogit {
			maxLogit = v
		}
	}
	expSum := 0.0
	out := make([]float64, len(logits))
	for i, v := range logits {
		out[i] = math.Exp(v - maxLogit)
		expSum += out[i]
	}
	for i := range out {
		out[i] /= expSum
	}
	return out
}

func logSumExp(xs []float64) float64 {
	m := math.Inf(-1)
	for _, v := range xs {
		if v > m {
			m = v
		}
	}
	s := 0.0
	for _, v := range xs {
		s += math.Exp(v - m)
	}
	return m + math.Log(s)
}
