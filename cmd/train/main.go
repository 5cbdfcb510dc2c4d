// cifarmask-train trains a ResNet9 on a random half of the first mask.quota
// CIFAR-10 training images and scores every training image.
//
// Usage:
//
//	cifarmask-train --config=run.yaml --output=result.json --plot=margins.png
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"

	"cifarmask/experiment"
	"cifarmask/utils"

	arg "github.com/alexflint/go-arg"
	"go.uber.org/zap"
)

type args struct {
	Config   string   `arg:"--config" help:"YAML run configuration; flags below override it"`
	Output   string   `arg:"--output" default:"result.json" help:"result file (mask, margins, confidences)"`
	Plot     string   `arg:"--plot" help:"margin histogram image (.png, .svg, .pdf)"`
	Weights  string   `arg:"--weights" help:"trained weights file (JSON)"`
	Verbose  bool     `arg:"--verbose" help:"debug logging and timing breakdown"`
	Progress bool     `arg:"--progress" help:"show progress bars"`
	LR       *float64 `arg:"--lr" help:"peak learning rate"`
	Epochs   *int     `arg:"--epochs"`
	Peak     *int     `arg:"--lr-peak-epoch"`
	Batch    *int     `arg:"--batch-size"`
	Workers  *int     `arg:"--num-workers" help:"loader workers"`
	Momentum *float64 `arg:"--momentum"`
	WD       *float64 `arg:"--weight-decay"`
	Smooth   *float64 `arg:"--label-smoothing"`
	TTA      *bool    `arg:"--tta" help:"average logits with the mirrored image"`
	Train    *string  `arg:"--train-dataset"`
	Val      *string  `arg:"--val-dataset"`
	Seed     *int64   `arg:"--seed" help:"mask and initialization seed"`
	Quota    *int     `arg:"--quota" help:"number of leading examples eligible for the mask"`
	Device   *string  `arg:"--device" help:"cpu, or ckks to score the head under encryption"`
	Prec     *string  `arg:"--precision" help:"fp64, fp32 or fp16"`
}

func (args) Description() string {
	return "Train on a masked subset of CIFAR-10 and score every training image."
}

func (a *args) apply(cfg *utils.Config) {
	if a.LR != nil {
		cfg.Training.LR = *a.LR
	}
	if a.Epochs != nil {
		cfg.Training.Epochs = *a.Epochs
	}
	if a.Peak != nil {
		cfg.Training.PeakEpoch = *a.Peak
	}
	if a.Batch != nil {
		cfg.Training.BatchSize = *a.Batch
	}
	if a.Workers != nil {
		cfg.Training.Workers = *a.Workers
	}
	if a.Momentum != nil {
		cfg.Training.Momentum = *a.Momentum
	}
	if a.WD != nil {
		cfg.Training.WeightDecay = *a.WD
	}
	if a.Smooth != nil {
		cfg.Training.LabelSmoothing = *a.Smooth
	}
	if a.TTA != nil {
		cfg.Training.TTA = *a.TTA
	}
	if a.Train != nil {
		cfg.Data.TrainDataset = *a.Train
	}
	if a.Val != nil {
		cfg.Data.ValDataset = *a.Val
	}
	if a.Seed != nil {
		cfg.Mask.Seed = *a.Seed
	}
	if a.Quota != nil {
		cfg.Mask.Quota = *a.Quota
	}
	if a.Device != nil {
		cfg.Compute.Device = *a.Device
	}
	if a.Prec != nil {
		cfg.Compute.Precision = *a.Prec
	}
}

func main() {
	os.Exit(run(os.Args[1:]))
}

// run executes the command and returns the process exit code: 2 for bad
// arguments or configuration, 1 for a failed run.
func run(argv []string) int {
	var a args
	p, err := arg.NewParser(arg.Config{Program: "cifarmask-train"}, &a)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return 2
	}
	switch err := p.Parse(argv); {
	case err == arg.ErrHelp:
		p.WriteHelp(os.Stdout)
		return 0
	case err != nil:
		p.WriteUsage(os.Stderr)
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return 2
	}
	utils.Verbose = a.Verbose

	cfg, err := a.config()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Invalid configuration: %v\n", err)
		return 2
	}

	logger := utils.NewLogger(a.Verbose)
	defer logger.Sync()
	fail := func(msg string, err error) int {
		logger.Error(msg, zap.Error(err))
		return 1
	}

	fmt.Println("╔══════════════════════════════════════════════════════════════╗")
	fmt.Println("║                    cifarmask Trainer                         ║")
	fmt.Println("╚══════════════════════════════════════════════════════════════╝")
	fmt.Printf("\nConfiguration:\n")
	fmt.Printf("  Train data:    %s\n", cfg.Data.TrainDataset)
	fmt.Printf("  Val data:      %s\n", cfg.Data.ValDataset)
	fmt.Printf("  Epochs:        %d (peak %d)\n", cfg.Training.Epochs, cfg.Training.PeakEpoch)
	fmt.Printf("  Learning Rate: %.4f\n", cfg.Training.LR)
	fmt.Printf("  SGD:           momentum %.2f, weight decay %g\n", cfg.Training.Momentum, cfg.Training.WeightDecay)
	fmt.Printf("  Smoothing:     %.2f\n", cfg.Training.LabelSmoothing)
	fmt.Printf("  Batch size:    %d\n", cfg.Training.BatchSize)
	fmt.Printf("  Mask:          %d examples, quota %d, seed %d\n", cfg.Mask.Size, cfg.Mask.Quota, cfg.Mask.Seed)
	fmt.Printf("  Compute:       %s/%s\n", cfg.Compute.Device, cfg.Compute.Precision)
	fmt.Printf("  TTA:           %v\n", cfg.Training.TTA)
	fmt.Println()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	res, err := experiment.Run(ctx, cfg, experiment.WithLogger(logger), experiment.WithProgress(a.Progress))
	if err != nil {
		return fail("run failed", err)
	}

	rf := utils.NewResultFile(res.Mask, res.Margins, res.Confidences, res.Config)
	acc := res.TestAccuracy
	rf.TestAccuracy = &acc
	if err := utils.SaveResult(a.Output, rf); err != nil {
		return fail("saving result", err)
	}
	fmt.Printf("\nResult written to %s\n", a.Output)

	if a.Weights != "" {
		if err := utils.SaveWeights(a.Weights, res.Weights); err != nil {
			return fail("saving weights", err)
		}
		fmt.Printf("Weights written to %s\n", a.Weights)
	}

	if a.Plot != "" {
		if err := experiment.PlotMargins(res, a.Plot); err != nil {
			return fail("plotting margins", err)
		}
		fmt.Printf("Margin histogram written to %s\n", a.Plot)
	}

	fmt.Printf("\nTest accuracy: %.4f\n\n", res.TestAccuracy)
	summary, err := experiment.Summarize(res)
	if err != nil {
		return fail("summarizing margins", err)
	}
	summary.Fprint(os.Stdout)

	if a.Verbose {
		utils.PrintTimingStats(&res.Timing, res.TrainStats.Steps)
	}
	return 0
}

// config loads the optional YAML file, applies the flag overrides,
// validates the result and fixes the seed for this run.
func (a *args) config() (utils.Config, error) {
	cfg := utils.DefaultConfig()
	if a.Config != "" {
		var err error
		if cfg, err = utils.LoadConfig(a.Config); err != nil {
			return cfg, err
		}
	}
	a.apply(&cfg)
	if err := utils.ValidateConfig(&cfg); err != nil {
		return cfg, err
	}
	_, err := cfg.ResolveSeed()
	return cfg, err
}
