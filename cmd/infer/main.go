// cifarmask-infer scores a dataset with saved weights: per-example margins
// and confidences plus top-1 accuracy. With --device=ckks the classifier
// head runs under CKKS.
package main

import (
	"fmt"
	"math/rand"
	"os"
	"sort"
	"time"

	"cifarmask/dataset"
	"cifarmask/loader"
	"cifarmask/mask"
	"cifarmask/nn"
	"cifarmask/nn/arch"
	"cifarmask/nn/bench"
	"cifarmask/train"
	"cifarmask/utils"

	arg "github.com/alexflint/go-arg"
	"go.uber.org/zap"
)

type args struct {
	Weights   string `arg:"--weights,required" help:"weights file written by cifarmask-train"`
	Dataset   string `arg:"--dataset" default:"data/cifar_val.beton"`
	Output    string `arg:"--output" help:"result file for margins and confidences"`
	Batch     int    `arg:"--batch-size" default:"512"`
	Workers   int    `arg:"--num-workers" default:"1"`
	TTA       bool   `arg:"--tta" default:"true"`
	Device    string `arg:"--device" default:"cpu" help:"cpu or ckks"`
	Precision string `arg:"--precision" default:"fp64" help:"fp64, fp32 or fp16"`
	TopK      int    `arg:"--topk" default:"3" help:"top predictions to show per example"`
	Show      int    `arg:"--show" default:"5" help:"examples to print predictions for"`
	Profile   int    `arg:"--profile" help:"time every layer over this many runs on one batch"`
	Verbose   bool   `arg:"--verbose"`
}

func main() {
	var a args
	arg.MustParse(&a)
	utils.Verbose = a.Verbose
	logger := utils.NewLogger(a.Verbose)
	defer logger.Sync()

	fmt.Println("╔══════════════════════════════════════════════════════════════╗")
	fmt.Println("║                  cifarmask Inference                         ║")
	fmt.Println("╚══════════════════════════════════════════════════════════════╝")

	cfg := utils.DefaultConfig()
	cfg.Compute.Device = a.Device
	cfg.Compute.Precision = a.Precision
	cfg.Data.ValDataset = a.Dataset
	cfg.Training.BatchSize = a.Batch
	cfg.Training.Workers = a.Workers
	cfg.Training.TTA = a.TTA
	cctx, err := cfg.ComputeContext()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(2)
	}

	weights, err := utils.LoadWeights(a.Weights)
	if err != nil {
		logger.Fatal("loading weights", zap.Error(err))
	}
	ds, err := dataset.Read(a.Dataset)
	if err != nil {
		logger.Fatal("reading dataset", zap.Error(err))
	}
	fmt.Printf("Loaded %d tensors, %d examples\n", len(weights.Params), ds.Len())

	specs := arch.ResNet9(dataset.CIFARClasses)
	start := time.Now()
	model, err := nn.Build(specs, cctx, rand.New(rand.NewSource(0)))
	if err != nil {
		logger.Fatal("building model", zap.Error(err))
	}
	if err := utils.ApplyWeights(weights, model.Params(), model.Buffers()); err != nil {
		logger.Fatal("applying weights", zap.Error(err))
	}
	logger.Info("model ready", zap.Duration("took", time.Since(start)), zap.Bool("encrypted", model.Encrypted()))

	stream, err := loader.New(ds, loader.Options{
		BatchSize: a.Batch,
		Workers:   a.Workers,
		Pipeline:  loader.EvalPipeline(),
	})
	if err != nil {
		logger.Fatal("loader", zap.Error(err))
	}
	ev := &train.Evaluator{Model: model, Ctx: cctx, TTA: a.TTA, Logger: logger, Progress: a.Verbose}

	if a.Profile > 0 {
		profile(stream, model, a.Profile)
	}
	if a.Show > 0 {
		showPredictions(ev, ds, a.Show, a.TopK)
	}

	fmt.Println("\nScoring...")
	start = time.Now()
	margins, confidences, err := ev.Evaluate(stream)
	if err != nil {
		logger.Fatal("scoring", zap.Error(err))
	}
	acc, err := ev.Accuracy(stream)
	if err != nil {
		logger.Fatal("accuracy", zap.Error(err))
	}
	fmt.Printf("Time: %.2fs\n", time.Since(start).Seconds())
	fmt.Printf("Accuracy: %.4f\n", acc)

	if a.Output != "" {
		// every example counts as held-out for a scoring-only run
		rf := utils.NewResultFile(make(mask.Mask, len(margins)), margins, confidences, cfg)
		rf.TestAccuracy = &acc
		if err := utils.SaveResult(a.Output, rf); err != nil {
			logger.Fatal("saving result", zap.Error(err))
		}
		fmt.Printf("Result written to %s\n", a.Output)
	}
}

// showPredictions prints the top-k classes of the first n examples.
func showPredictions(ev *train.Evaluator, ds *dataset.Dataset, n, k int) {
	if n > ds.Len() {
		n = ds.Len()
	}
	idx := make([]int, n)
	for i := range idx {
		idx[i] = i
	}
	sub, err := loader.New(ds, loader.Options{BatchSize: n, Indices: idx, Pipeline: loader.EvalPipeline()})
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return
	}
	it := sub.Iter()
	defer it.Close()
	b, ok := it.Next()
	if !ok {
		return
	}
	logits, err := ev.Logits(b.Images)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return
	}
	fmt.Printf("\nTop-%d predictions:\n", k)
	for i := 0; i < b.Len(); i++ {
		probs := nn.Softmax(logits.Row(i))
		order := make([]int, len(probs))
		for c := range order {
			order[c] = c
		}
		sort.Slice(order, func(x, y int) bool { return probs[order[x]] > probs[order[y]] })
		if k > len(order) {
			k = len(order)
		}
		fmt.Printf("  #%d (label %d):", b.Indices[i], b.Labels[i])
		for _, c := range order[:k] {
			fmt.Printf(" %d=%.3f", c, probs[c])
		}
		fmt.Println()
	}
}

// profile times every layer on the first batch of the stream.
func profile(stream *loader.Loader, model *nn.Sequential, runs int) {
	it := stream.Iter()
	b, ok := it.Next()
	it.Close()
	if !ok {
		fmt.Fprintf(os.Stderr, "Error: no batch to profile: %v\n", it.Err())
		return
	}
	ts, err := bench.Profile(model, b.Images, runs, false)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return
	}
	fmt.Printf("\nLayer profile (%d runs, batch %d):\n", runs, b.Len())
	bench.Fprint(os.Stdout, ts)
}
