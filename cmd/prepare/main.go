// cifarmask-prepare downloads CIFAR-10 and writes the train and validation
// containers read by cifarmask-train.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"

	"cifarmask/dataset"
	"cifarmask/utils"

	arg "github.com/alexflint/go-arg"
	"go.uber.org/zap"
)

type args struct {
	Dir      string `arg:"--dir" default:"data" help:"download and output directory"`
	URL      string `arg:"--url" help:"archive location, defaults to the CIFAR-10 binary release"`
	Train    string `arg:"--train-output" help:"train container, defaults to <dir>/cifar_train.beton"`
	Val      string `arg:"--val-output" help:"validation container, defaults to <dir>/cifar_val.beton"`
	Verbose  bool   `arg:"--verbose"`
	SkipDown bool   `arg:"--skip-download" help:"use an already extracted cifar-10-batches-bin under --dir"`
}

func (args) Description() string {
	return "Download CIFAR-10 and convert it to cifarmask dataset containers."
}

func main() {
	var a args
	arg.MustParse(&a)
	if a.URL == "" {
		a.URL = dataset.CIFARURL
	}
	if a.Train == "" {
		a.Train = filepath.Join(a.Dir, "cifar_train.beton")
	}
	if a.Val == "" {
		a.Val = filepath.Join(a.Dir, "cifar_val.beton")
	}

	logger := utils.NewLogger(a.Verbose)
	defer logger.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	if err := os.MkdirAll(a.Dir, 0755); err != nil {
		logger.Fatal("creating output directory", zap.Error(err))
	}
	if !a.SkipDown {
		archive, err := dataset.Download(ctx, a.URL, a.Dir, logger)
		if err != nil {
			logger.Fatal("download failed", zap.Error(err))
		}
		logger.Info("extracting", zap.String("archive", archive))
		if err := dataset.ExtractCIFAR(archive, a.Dir); err != nil {
			logger.Fatal("extract failed", zap.Error(err))
		}
	}

	n, err := dataset.Convert(a.Train, dataset.TrainBatches(a.Dir)...)
	if err != nil {
		logger.Fatal("converting train split", zap.Error(err))
	}
	logger.Info("wrote train split", zap.String("path", a.Train), zap.Int("records", n))

	n, err = dataset.Convert(a.Val, dataset.TestBatch(a.Dir))
	if err != nil {
		logger.Fatal("converting validation split", zap.Error(err))
	}
	logger.Info("wrote validation split", zap.String("path", a.Val), zap.Int("records", n))
	fmt.Println("Done!")
}
