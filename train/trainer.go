// Package train fits a model on the masked training stream and scores
// every example of the superset stream.
package train

import (
	"fmt"
	"math"

	"cifarmask/core/compute"
	"cifarmask/loader"
	"cifarmask/nn"

	"github.com/pkg/errors"
	"github.com/sbwhitecap/tqdm"
	"github.com/sbwhitecap/tqdm/iterators"
	"go.uber.org/zap"
)

// ErrNonFinite is returned when the loss, or an unscaled full precision
// gradient, stops being finite. Training is not resumed.
var ErrNonFinite = errors.New("non-finite value during training")

// Hyper are the optimization hyperparameters.
type Hyper struct {
	LR             float64
	Epochs         int
	PeakEpoch      int
	Momentum       float64
	WeightDecay    float64
	LabelSmoothing float64
}

// DefaultHyper returns the CIFAR defaults.
func DefaultHyper() Hyper {
	return Hyper{
		LR:             0.5,
		Epochs:         25,
		PeakEpoch:      5,
		Momentum:       0.9,
		WeightDecay:    5e-4,
		LabelSmoothing: 0.1,
	}
}

// Trainer owns the model parameters for the duration of Train.
type Trainer struct {
	Model  *nn.Sequential
	Ctx    compute.Context
	Hyper  Hyper
	Logger *zap.Logger
	// Progress renders a progress bar per epoch.
	Progress bool
	// LogEvery logs the loss every n steps; zero logs once per epoch.
	LogEvery int
}

// Stats summarizes a finished training run.
type Stats struct {
	Steps        int
	SkippedSteps int
	FinalLoss    float64
	FinalScale   float64
}

// Train runs Hyper.Epochs passes over stream and returns the loss of the
// last batch. Any failure aborts the run.
func (t *Trainer) Train(stream loader.Stream) (Stats, error) {
	logger := t.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	h := t.Hyper
	ipe := stream.Len()
	if ipe == 0 {
		logger.Warn("training stream is empty, model left at initialization")
	}

	t.Model.SetTraining(true)
	params := t.Model.Params()
	opt := nn.NewSGD(params, h.LR, h.Momentum, h.WeightDecay)
	sched := nn.NewTriangularSchedule(h.Epochs, ipe, h.PeakEpoch)
	scaler := nn.NewGradScaler(t.Ctx.Mixed())
	lossFn := &nn.CrossEntropyLoss{LabelSmoothing: h.LabelSmoothing}

	var stats Stats
	for epoch := 0; epoch < h.Epochs; epoch++ {
		it := stream.Iter()
		var stepErr error
		step := func() bool {
			b, ok := it.Next()
			if !ok {
				return false
			}
			opt.LR = h.LR * sched.Current()
			opt.ZeroGrad()

			logits, err := t.Model.Forward(b.Images)
			if err != nil {
				stepErr = errors.Wrap(err, "forward")
				return false
			}
			loss, grad, err := lossFn.Forward(logits, b.Labels)
			if err != nil {
				stepErr = errors.Wrap(err, "loss")
				return false
			}
			if math.IsNaN(loss) || math.IsInf(loss, 0) {
				stepErr = errors.Wrapf(ErrNonFinite, "loss %v", loss)
				return false
			}
			scaler.ScaleGrad(grad)
			if _, err := t.Model.Backward(grad); err != nil {
				stepErr = errors.Wrap(err, "backward")
				return false
			}
			finite := scaler.Unscale(params)
			switch {
			case finite:
				opt.Step()
			case scaler.Enabled:
				stats.SkippedSteps++
				logger.Debug("skipping step with overflowed gradients",
					zap.Int("step", sched.Steps()), zap.Float64("scale", scaler.Scale))
			default:
				stepErr = errors.Wrap(ErrNonFinite, "gradients")
				return false
			}
			scaler.Update(finite)
			sched.Step()
			stats.Steps++
			stats.FinalLoss = loss

			if t.LogEvery > 0 && sched.Steps()%t.LogEvery == 0 {
				logger.Info("train step", zap.Int("step", sched.Steps()),
					zap.Float64("loss", loss), zap.Float64("lr", opt.LR))
			}
			return true
		}

		if t.Progress && ipe > 0 {
			err := tqdm.With(iterators.Interval(0, ipe), fmt.Sprintf("epoch %d/%d", epoch+1, h.Epochs), func(interface{}) bool {
				return !step()
			})
			if err != nil && stepErr == nil {
				stepErr = errors.Wrap(err, "progress")
			}
		} else {
			for step() {
			}
		}
		it.Close()
		if stepErr == nil {
			stepErr = it.Err()
		}
		if stepErr != nil {
			return stats, errors.Wrapf(stepErr, "epoch %d step %d", epoch, sched.Steps())
		}
		logger.Info("epoch done", zap.Int("epoch", epoch),
			zap.Float64("loss", stats.FinalLoss), zap.Int("steps", stats.Steps))
	}
	stats.FinalScale = scaler.Scale
	return stats, nil
}
