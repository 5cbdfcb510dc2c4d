package train

import (
	"cifarmask/core/compute"
	"cifarmask/loader"
	"cifarmask/nn"
	"cifarmask/tensor"

	"github.com/pkg/errors"
	"github.com/sbwhitecap/tqdm"
	"github.com/sbwhitecap/tqdm/iterators"
	"go.uber.org/zap"
)

// Sentinel replaces the true-class logit before the runner-up is taken.
// Margins assume every logit the model emits is above it.
const Sentinel = -1000.0

// Evaluator scores a trained model. It switches the model to eval mode and
// never touches parameters or gradients.
type Evaluator struct {
	Model *nn.Sequential
	Ctx   compute.Context
	// TTA averages the logits of each image and its mirror.
	TTA      bool
	Logger   *zap.Logger
	Progress bool
}

// Logits runs inference on one batch of images.
func (e *Evaluator) Logits(images *tensor.Tensor) (*tensor.Tensor, error) {
	e.Model.SetTraining(false)
	out, err := e.Model.Forward(images)
	if err != nil {
		return nil, err
	}
	if !e.TTA {
		return out, nil
	}
	flipped, err := tensor.FlipHorizontal(images)
	if err != nil {
		return nil, errors.Wrap(err, "mirror batch")
	}
	mirrored, err := e.Model.Forward(flipped)
	if err != nil {
		return nil, errors.Wrap(err, "mirrored forward")
	}
	avg, err := tensor.Add(out, mirrored)
	if err != nil {
		return nil, err
	}
	avg.Scale(0.5)
	return avg, nil
}

// Evaluate returns per-example margins and confidences in stream order.
func (e *Evaluator) Evaluate(stream loader.Stream) (margins, confidences []float64, err error) {
	err = e.each(stream, "scoring", func(b loader.Batch, logits *tensor.Tensor) error {
		m, c, err := ScoreLogits(logits, b.Labels)
		if err != nil {
			return err
		}
		margins = append(margins, m...)
		confidences = append(confidences, c...)
		return nil
	})
	if err != nil {
		return nil, nil, err
	}
	return margins, confidences, nil
}

// Accuracy is the top-1 accuracy over stream.
func (e *Evaluator) Accuracy(stream loader.Stream) (float64, error) {
	correct, total := 0, 0
	err := e.each(stream, "accuracy", func(b loader.Batch, logits *tensor.Tensor) error {
		for i, y := range b.Labels {
			if argmax(logits.Row(i)) == y {
				correct++
			}
		}
		total += len(b.Labels)
		return nil
	})
	if err != nil {
		return 0, err
	}
	if total == 0 {
		return 0, nil
	}
	return float64(correct) / float64(total), nil
}

func (e *Evaluator) each(stream loader.Stream, desc string, fn func(loader.Batch, *tensor.Tensor) error) error {
	it := stream.Iter()
	defer it.Close()

	var stepErr error
	batches := 0
	step := func() bool {
		b, ok := it.Next()
		if !ok {
			return false
		}
		logits, err := e.Logits(b.Images)
		if err != nil {
			stepErr = errors.Wrapf(err, "batch %d", batches)
			return false
		}
		if err := fn(b, logits); err != nil {
			stepErr = errors.Wrapf(err, "batch %d", batches)
			return false
		}
		batches++
		return true
	}

	if e.Progress && stream.Len() > 0 {
		if err := tqdm.With(iterators.Interval(0, stream.Len()), desc, func(interface{}) bool {
			return !step()
		}); err != nil && stepErr == nil {
			stepErr = err
		}
	} else {
		for step() {
		}
	}
	if stepErr != nil {
		return stepErr
	}
	if e.Logger != nil {
		e.Logger.Debug("evaluation pass done", zap.String("pass", desc), zap.Int("batches", batches))
	}
	return errors.Wrap(it.Err(), desc)
}

// ScoreLogits computes, per row of logits, the confidence (logit of the
// true label) and the margin (confidence minus the best other logit).
// logits is not modified.
func ScoreLogits(logits *tensor.Tensor, labels []int) (margins, confidences []float64, err error) {
	if len(logits.Shape) != 2 || logits.Shape[0] != len(labels) {
		return nil, nil, errors.Errorf("logits %v do not match %d labels", logits.Shape, len(labels))
	}
	k := logits.Shape[1]
	margins = make([]float64, len(labels))
	confidences = make([]float64, len(labels))
	row := make([]float64, k)
	for i, y := range labels {
		if y < 0 || y >= k {
			return nil, nil, errors.Errorf("example %d: label %d out of range [0, %d)", i, y, k)
		}
		copy(row, logits.Row(i))
		confidences[i] = row[y]
		row[y] = Sentinel
		margins[i] = confidences[i] - row[argmax(row)]
	}
	return margins, confidences, nil
}

func argmax(xs []float64) int {
	best := 0
	for i, v := range xs {
		if v > xs[best] {
			best = i
		}
	}
	return best
}
