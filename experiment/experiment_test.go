package experiment

import (
	"bytes"
	"context"
	"math"
	"math/rand"
	"os"
	"path/filepath"
	"testing"

	"cifarmask/dataset"
	"cifarmask/nn/arch"
	"cifarmask/train"
	"cifarmask/utils"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func toyDataset(n int, seed int64) *dataset.Dataset {
	ds := &dataset.Dataset{Header: dataset.Header{Version: dataset.Version, Height: 8, Width: 8, Channels: 3, Count: n}}
	rng := rand.New(rand.NewSource(seed))
	for i := 0; i < n; i++ {
		img := make([]byte, ds.Header.ImageSize())
		rng.Read(img)
		ds.Images = append(ds.Images, img)
		ds.Labels = append(ds.Labels, i%dataset.CIFARClasses)
	}
	return ds
}

func tinyArch() []arch.Spec {
	return []arch.Spec{
		arch.NewConvBN(3, 4),
		arch.MaxPool{Size: 2},
		arch.GlobalMaxPool{},
		arch.Flatten{},
		arch.Linear{In: 4, Out: dataset.CIFARClasses},
		arch.Scale{Weight: 0.125},
	}
}

func tinyConfig(n int) utils.Config {
	cfg := utils.DefaultConfig()
	cfg.Training.Epochs = 2
	cfg.Training.PeakEpoch = 1
	cfg.Training.BatchSize = 8
	cfg.Training.LR = 0.1
	cfg.Mask.Size = n
	cfg.Mask.Quota = n
	cfg.Mask.Seed = 11
	return cfg
}

func TestRunScoresEveryTrainingExample(t *testing.T) {
	const n = 40
	cfg := tinyConfig(n)
	res, err := Run(context.Background(), cfg,
		WithDatasets(toyDataset(n, 1), toyDataset(16, 2)),
		WithArch(tinyArch()))
	require.NoError(t, err)

	require.Len(t, res.Mask, n)
	require.Len(t, res.Masks, n)
	require.Len(t, res.Margins, n)
	require.Len(t, res.Confidences, n)
	for i := range res.Margins {
		// confidence is the label logit; the runner-up never drops to the sentinel
		assert.False(t, math.IsNaN(res.Margins[i]) || math.IsInf(res.Margins[i], 0))
		assert.False(t, math.IsNaN(res.Confidences[i]) || math.IsInf(res.Confidences[i], 0))
		assert.Less(t, res.Margins[i], res.Confidences[i]-train.Sentinel)
	}
	assert.Equal(t, cfg.Training.Epochs*(res.Mask.Count()/cfg.Training.BatchSize), res.TrainStats.Steps)
	assert.GreaterOrEqual(t, res.TestAccuracy, 0.0)
	assert.LessOrEqual(t, res.TestAccuracy, 1.0)
	require.NotNil(t, res.Weights)
	assert.NotEmpty(t, res.Weights.Params)
	assert.NotEmpty(t, res.Weights.Buffers)
	assert.Greater(t, int64(res.Timing.TotalTime), int64(0))
}

func TestRunIsDeterministic(t *testing.T) {
	const n = 24
	run := func() *Result {
		res, err := Run(context.Background(), tinyConfig(n),
			WithDatasets(toyDataset(n, 5), nil),
			WithArch(tinyArch()))
		require.NoError(t, err)
		return res
	}
	a, b := run(), run()
	assert.Equal(t, a.Masks, b.Masks)
	assert.Equal(t, a.Margins, b.Margins)
	assert.Equal(t, a.Confidences, b.Confidences)
	assert.Zero(t, a.TestAccuracy)
}

func TestRunUnseededDrawsFreshMasks(t *testing.T) {
	const n = 40
	ds := toyDataset(n, 5)
	run := func() *Result {
		cfg := tinyConfig(n)
		cfg.Mask.Seed = 0
		cfg.Training.Epochs, cfg.Training.PeakEpoch = 1, 0
		res, err := Run(context.Background(), cfg, WithDatasets(ds, nil), WithArch(tinyArch()))
		require.NoError(t, err)
		return res
	}
	a, b := run(), run()
	assert.NotZero(t, a.Config.Mask.Seed)
	assert.NotEqual(t, a.Config.Mask.Seed, b.Config.Mask.Seed)
	assert.NotEqual(t, a.Masks, b.Masks)

	// the recorded seed replays the same mask
	cfg := tinyConfig(n)
	cfg.Mask.Seed = a.Config.Mask.Seed
	cfg.Training.Epochs, cfg.Training.PeakEpoch = 1, 0
	replay, err := Run(context.Background(), cfg, WithDatasets(ds, nil), WithArch(tinyArch()))
	require.NoError(t, err)
	assert.Equal(t, a.Masks, replay.Masks)
}

func TestRunMaskSizeMismatch(t *testing.T) {
	cfg := tinyConfig(40)
	cfg.Mask.Size = 39
	_, err := Run(context.Background(), cfg, WithDatasets(toyDataset(40, 1), nil), WithArch(tinyArch()))
	assert.Error(t, err)
}

func TestRunRejectsInvalidConfig(t *testing.T) {
	cfg := tinyConfig(40)
	cfg.Training.BatchSize = 0
	_, err := Run(context.Background(), cfg, WithDatasets(toyDataset(40, 1), nil))
	assert.Error(t, err)
}

func TestRunRejectsMismatchedArch(t *testing.T) {
	specs := tinyArch()
	specs[0] = arch.NewConvBN(1, 4)
	_, err := Run(context.Background(), tinyConfig(40), WithDatasets(toyDataset(40, 1), nil), WithArch(specs))
	assert.Error(t, err)
}

func TestRunCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := Run(ctx, tinyConfig(40), WithDatasets(toyDataset(40, 1), nil), WithArch(tinyArch()))
	assert.ErrorIs(t, err, context.Canceled)
}

func TestSummarize(t *testing.T) {
	res := &Result{
		Masks:   []float64{1, 0, 1, 0, 0},
		Margins: []float64{0.9, -0.2, 0.5, 0.1, 0.4},
	}
	s, err := Summarize(res)
	require.NoError(t, err)
	assert.Equal(t, 2, s.HeldIn.Count)
	assert.InDelta(t, 0.7, s.HeldIn.Mean, 1e-12)
	assert.Equal(t, 3, s.HeldOut.Count)
	assert.InDelta(t, 0.1, s.HeldOut.Median, 1e-12)
	assert.InDelta(t, -0.2, s.HeldOut.P10, 1e-12)
	assert.InDelta(t, 0.4, s.HeldOut.P90, 1e-12)
	assert.InDelta(t, 0.5, s.HeldIn.P10, 1e-12)
	assert.InDelta(t, 0.9, s.HeldIn.P90, 1e-12)

	var buf bytes.Buffer
	s.Fprint(&buf)
	assert.Contains(t, buf.String(), "held-in")
	assert.Contains(t, buf.String(), "held-out")
}

func TestSummarizeSmallGroups(t *testing.T) {
	res := &Result{}
	for i := 0; i < 12; i++ {
		in := 0.0
		if i < 5 {
			in = 1
		}
		res.Masks = append(res.Masks, in)
		res.Margins = append(res.Margins, float64(i)/10)
	}
	s, err := Summarize(res)
	require.NoError(t, err)
	assert.Equal(t, 5, s.HeldIn.Count)
	assert.InDelta(t, 0.0, s.HeldIn.P10, 1e-12)
	assert.InDelta(t, 0.4, s.HeldIn.P90, 1e-12)
	assert.Equal(t, 7, s.HeldOut.Count)
	assert.InDelta(t, 0.5, s.HeldOut.P10, 1e-12)
	assert.InDelta(t, 1.1, s.HeldOut.P90, 1e-12)

	one, err := Summarize(&Result{Masks: []float64{1}, Margins: []float64{0.3}})
	require.NoError(t, err)
	assert.Equal(t, MarginStats{Count: 1, Mean: 0.3, Median: 0.3, P10: 0.3, P90: 0.3}, one.HeldIn)
}

func TestSummarizeEmptyGroup(t *testing.T) {
	s, err := Summarize(&Result{Masks: []float64{0, 0}, Margins: []float64{0.1, 0.3}})
	require.NoError(t, err)
	assert.Equal(t, MarginStats{}, s.HeldIn)
	assert.Equal(t, 2, s.HeldOut.Count)

	_, err = Summarize(&Result{Masks: []float64{0}, Margins: []float64{0.1, 0.3}})
	assert.Error(t, err)
}

func TestPlotMargins(t *testing.T) {
	rng := rand.New(rand.NewSource(9))
	res := &Result{}
	for i := 0; i < 200; i++ {
		res.Masks = append(res.Masks, float64(i%2))
		res.Margins = append(res.Margins, rng.Float64()*2-1)
	}
	path := filepath.Join(t.TempDir(), "margins.png")
	require.NoError(t, PlotMargins(res, path))
	info, err := os.Stat(path)
	require.NoError(t, err)
	assert.Greater(t, info.Size(), int64(0))
}
