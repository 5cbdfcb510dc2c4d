package utils

import (
	crand "crypto/rand"
	"encoding/binary"
	"os"

	"cifarmask/core/compute"
	"cifarmask/mask"

	"github.com/pkg/errors"
	"gopkg.in/yaml.v2"
)

// TrainingConfig holds the optimization and loading knobs.
type TrainingConfig struct {
	LR             float64 `yaml:"lr"`
	Epochs         int     `yaml:"epochs"`
	PeakEpoch      int     `yaml:"lr_peak_epoch"`
	BatchSize      int     `yaml:"batch_size"`
	Momentum       float64 `yaml:"momentum"`
	WeightDecay    float64 `yaml:"weight_decay"`
	LabelSmoothing float64 `yaml:"label_smoothing"`
	Workers        int     `yaml:"num_workers"`
	TTA            bool    `yaml:"lr_tta"`
}

// DataConfig points at the prepared dataset containers.
type DataConfig struct {
	TrainDataset string `yaml:"train_dataset"`
	ValDataset   string `yaml:"val_dataset"`
}

// MaskConfig controls the held-in/held-out split.
type MaskConfig struct {
	Size  int `yaml:"size"`
	Quota int `yaml:"quota"`
	// Seed drives the mask, the shuffle order and initialization. Zero
	// means unseeded: ResolveSeed draws a fresh one per run.
	Seed int64 `yaml:"seed"`
}

// ComputeConfig selects device, precision and kernel parallelism.
type ComputeConfig struct {
	Device    string `yaml:"device"`
	Precision string `yaml:"precision"`
	Workers   int    `yaml:"workers"`
}

// Config holds the whole run configuration. It is built once at process
// start and passed to the components that need it.
type Config struct {
	Training TrainingConfig `yaml:"training"`
	Data     DataConfig     `yaml:"data"`
	Mask     MaskConfig     `yaml:"mask"`
	Compute  ComputeConfig  `yaml:"compute"`
}

// DefaultConfig returns the CIFAR defaults.
func DefaultConfig() Config {
	return Config{
		Training: TrainingConfig{
			LR:             0.5,
			Epochs:         25,
			PeakEpoch:      5,
			BatchSize:      512,
			Momentum:       0.9,
			WeightDecay:    5e-4,
			LabelSmoothing: 0.1,
			Workers:        1,
			TTA:            true,
		},
		Data: DataConfig{
			TrainDataset: "data/cifar_train.beton",
			ValDataset:   "data/cifar_val.beton",
		},
		Mask: MaskConfig{
			Size:  mask.DefaultSize,
			Quota: mask.DefaultQuota,
		},
		Compute: ComputeConfig{
			Device:    string(compute.CPU),
			Precision: string(compute.FP64),
		},
	}
}

// LoadConfig reads a YAML file on top of DefaultConfig. Keys missing from
// the file keep their defaults.
func LoadConfig(path string) (Config, error) {
	cfg := DefaultConfig()
	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, errors.Wrap(err, "read config")
	}
	if err := yaml.UnmarshalStrict(data, &cfg); err != nil {
		return cfg, errors.Wrapf(err, "parse config %s", path)
	}
	return cfg, nil
}

// ResolveSeed fills an unset Mask.Seed with a random non-zero value and
// returns the seed in effect. The drawn value is kept in the config so a
// saved copy reproduces the run.
func (c *Config) ResolveSeed() (int64, error) {
	for c.Mask.Seed == 0 {
		var buf [8]byte
		if _, err := crand.Read(buf[:]); err != nil {
			return 0, errors.Wrap(err, "draw seed")
		}
		c.Mask.Seed = int64(binary.LittleEndian.Uint64(buf[:]) >> 1)
	}
	return c.Mask.Seed, nil
}

// ComputeContext resolves the compute section.
func (c *Config) ComputeContext() (compute.Context, error) {
	dev, err := compute.ParseDevice(c.Compute.Device)
	if err != nil {
		return compute.Context{}, err
	}
	prec, err := compute.ParsePrecision(c.Compute.Precision)
	if err != nil {
		return compute.Context{}, err
	}
	return compute.Context{Device: dev, Precision: prec, Workers: c.Compute.Workers}, nil
}

// ValidateConfig validates the run configuration.
func ValidateConfig(config *Config) error {
	t := config.Training
	switch {
	case t.LR <= 0:
		return errors.Errorf("lr must be positive, got %v", t.LR)
	case t.Epochs <= 0:
		return errors.Errorf("epochs must be positive, got %d", t.Epochs)
	case t.PeakEpoch < 0 || t.PeakEpoch > t.Epochs:
		return errors.Errorf("lr_peak_epoch must be in [0, %d], got %d", t.Epochs, t.PeakEpoch)
	case t.BatchSize <= 0:
		return errors.Errorf("batch size must be positive, got %d", t.BatchSize)
	case t.Momentum < 0 || t.Momentum >= 1:
		return errors.Errorf("momentum must be in [0, 1), got %v", t.Momentum)
	case t.WeightDecay < 0:
		return errors.Errorf("weight decay must be non-negative, got %v", t.WeightDecay)
	case t.LabelSmoothing < 0 || t.LabelSmoothing >= 1:
		return errors.Errorf("label smoothing must be in [0, 1), got %v", t.LabelSmoothing)
	case t.Workers <= 0:
		return errors.Errorf("num_workers must be positive, got %d", t.Workers)
	}

	if config.Data.TrainDataset == "" {
		return errors.New("train_dataset is required")
	}
	if config.Data.ValDataset == "" {
		return errors.New("val_dataset is required")
	}

	m := config.Mask
	if m.Size <= 0 {
		return errors.Errorf("mask size must be positive, got %d", m.Size)
	}
	if m.Quota < 0 {
		return errors.Errorf("mask quota must be non-negative, got %d", m.Quota)
	}

	if config.Compute.Workers < 0 {
		return errors.Errorf("compute workers must be non-negative, got %d", config.Compute.Workers)
	}
	_, err := config.ComputeContext()
	return err
}
