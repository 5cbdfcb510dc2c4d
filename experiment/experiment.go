// Package experiment runs one masked-subset training and margin scoring
// run: generate the mask, build the streams, train on the held-in examples
// and score every training-split example.
package experiment

import (
	"context"
	"math/rand"
	"time"

	"cifarmask/dataset"
	"cifarmask/loader"
	"cifarmask/mask"
	"cifarmask/nn"
	"cifarmask/nn/arch"
	"cifarmask/train"
	"cifarmask/utils"

	"github.com/pkg/errors"
	"go.uber.org/zap"
)

// Result is the outcome of a run. Margins and Confidences follow the
// superset stream order, which is dataset index order. Config is the
// configuration as run, with the seed resolved.
type Result struct {
	Config       utils.Config
	Mask         mask.Mask
	Masks        []float64 // 0/1 encoding of Mask
	Margins      []float64
	Confidences  []float64
	TestAccuracy float64
	TrainStats   train.Stats
	Weights      *utils.ModelWeights
	Timing       utils.TimingStats
}

type options struct {
	train, val *dataset.Dataset
	specs      []arch.Spec
	logger     *zap.Logger
	progress   bool
}

// Option customizes Run.
type Option func(*options)

// WithDatasets supplies already decoded splits instead of reading the
// configured paths. val may be nil to skip test accuracy.
func WithDatasets(train, val *dataset.Dataset) Option {
	return func(o *options) { o.train, o.val = train, val }
}

// WithArch replaces the default ResNet9 architecture.
func WithArch(specs []arch.Spec) Option {
	return func(o *options) { o.specs = specs }
}

// WithLogger sets the logger used by every phase.
func WithLogger(l *zap.Logger) Option {
	return func(o *options) { o.logger = l }
}

// WithProgress renders progress bars during training and scoring.
func WithProgress(on bool) Option {
	return func(o *options) { o.progress = on }
}

// Run executes one run. ctx is checked between phases only; a phase in
// progress always runs to completion or failure.
func Run(ctx context.Context, cfg utils.Config, opts ...Option) (*Result, error) {
	o := options{logger: zap.NewNop()}
	for _, opt := range opts {
		opt(&o)
	}
	if err := utils.ValidateConfig(&cfg); err != nil {
		return nil, errors.Wrap(err, "invalid config")
	}
	cctx, err := cfg.ComputeContext()
	if err != nil {
		return nil, err
	}
	seed, err := cfg.ResolveSeed()
	if err != nil {
		return nil, err
	}
	logger := o.logger
	logger.Info("run seed", zap.Int64("seed", seed))
	res := &Result{Config: cfg}
	timing := &res.Timing
	start := time.Now()

	// datasets
	if err := utils.Phase(&timing.DataLoadingTime, func() error {
		if o.train != nil {
			return nil
		}
		var err error
		if o.train, err = dataset.Read(cfg.Data.TrainDataset); err != nil {
			return errors.Wrap(err, "train dataset")
		}
		if o.val, err = dataset.Read(cfg.Data.ValDataset); err != nil {
			return errors.Wrap(err, "val dataset")
		}
		return nil
	}); err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	// mask
	if err := utils.Phase(&timing.MaskTime, func() error {
		res.Mask = mask.Generate(cfg.Mask.Size, cfg.Mask.Quota, rand.New(rand.NewSource(seed)))
		return nil
	}); err != nil {
		return nil, err
	}
	res.Masks = res.Mask.Float64s()
	logger.Info("mask generated", zap.Int("len", len(res.Mask)), zap.Int("held_in", res.Mask.Count()))

	streams, err := loader.NewStreams(o.train, o.val, res.Mask, loader.StreamConfig{
		BatchSize: cfg.Training.BatchSize,
		Workers:   cfg.Training.Workers,
		Seed:      seed,
	})
	if err != nil {
		return nil, err
	}
	logger.Info("streams ready",
		zap.Int("train_batches", streams.Train.Len()),
		zap.Int("superset_batches", streams.Superset.Len()),
		zap.Int("superset_examples", streams.Superset.Examples()))
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	// model
	specs := o.specs
	if specs == nil {
		specs = arch.ResNet9(dataset.CIFARClasses)
	}
	h := o.train.Header
	var model *nn.Sequential
	if err := utils.Phase(&timing.ModelInitTime, func() error {
		if _, err := arch.Validate(specs, h.Channels, h.Height, h.Width); err != nil {
			return errors.Wrap(err, "architecture")
		}
		var err error
		model, err = nn.Build(specs, cctx, rand.New(rand.NewSource(seed+1)))
		return err
	}); err != nil {
		return nil, err
	}
	logger.Info("model built", zap.Int("params", arch.ParamCount(specs)),
		zap.String("device", string(cctx.Device)), zap.String("precision", string(cctx.Precision)))
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	// train
	trainer := &train.Trainer{
		Model: model,
		Ctx:   cctx,
		Hyper: train.Hyper{
			LR:             cfg.Training.LR,
			Epochs:         cfg.Training.Epochs,
			PeakEpoch:      cfg.Training.PeakEpoch,
			Momentum:       cfg.Training.Momentum,
			WeightDecay:    cfg.Training.WeightDecay,
			LabelSmoothing: cfg.Training.LabelSmoothing,
		},
		Logger:   logger,
		Progress: o.progress,
	}
	if err := utils.Phase(&timing.TrainTime, func() error {
		var err error
		res.TrainStats, err = trainer.Train(streams.Train)
		return err
	}); err != nil {
		return nil, errors.Wrap(err, "train")
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	// score
	ev := &train.Evaluator{Model: model, Ctx: cctx, TTA: cfg.Training.TTA, Logger: logger, Progress: o.progress}
	if err := utils.Phase(&timing.EvalTime, func() error {
		var err error
		res.Margins, res.Confidences, err = ev.Evaluate(streams.Superset)
		return err
	}); err != nil {
		return nil, errors.Wrap(err, "evaluate")
	}
	if len(res.Margins) != streams.Superset.Examples() {
		return nil, errors.Errorf("scored %d examples, superset has %d", len(res.Margins), streams.Superset.Examples())
	}

	if streams.Test != nil {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if err := utils.Phase(&timing.TestTime, func() error {
			var err error
			res.TestAccuracy, err = ev.Accuracy(streams.Test)
			return err
		}); err != nil {
			return nil, errors.Wrap(err, "test accuracy")
		}
		logger.Info("test accuracy", zap.Float64("accuracy", res.TestAccuracy))
	}

	res.Weights = utils.CollectWeights(model.Params(), model.Buffers())
	timing.TotalTime = time.Since(start)
	return res, nil
}
