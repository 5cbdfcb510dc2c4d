// Package compute describes where and at which numeric precision the
// model runs. A Context is built once per run and handed to model
// construction, the trainer and the evaluator.
package compute

import (
	"runtime"
	"strings"
	"sync"

	"github.com/pkg/errors"
	"github.com/x448/float16"
)

// Device selects the execution backend.
type Device string

const (
	// CPU runs every layer on plain Go kernels.
	CPU Device = "cpu"
	// CKKS scores the linear head under CKKS encryption during evaluation.
	// Training always runs on plaintext.
	CKKS Device = "ckks"
)

// Precision selects the numeric format of activations.
type Precision string

const (
	FP64 Precision = "fp64"
	FP32 Precision = "fp32"
	// FP16 rounds activations and activation gradients through IEEE half
	// precision while parameters stay in full precision.
	FP16 Precision = "fp16"
)

// ParseDevice parses a device name.
func ParseDevice(s string) (Device, error) {
	switch d := Device(strings.ToLower(strings.TrimSpace(s))); d {
	case CPU, CKKS:
		return d, nil
	case "":
		return CPU, nil
	default:
		return "", errors.Errorf("unknown device %q (want cpu or ckks)", s)
	}
}

// ParsePrecision parses a precision name.
func ParsePrecision(s string) (Precision, error) {
	switch p := Precision(strings.ToLower(strings.TrimSpace(s))); p {
	case FP64, FP32, FP16:
		return p, nil
	case "":
		return FP64, nil
	default:
		return "", errors.Errorf("unknown precision %q (want fp64, fp32 or fp16)", s)
	}
}

// Context is the explicit device/precision context.
type Context struct {
	Device    Device
	Precision Precision
	// Workers bounds the goroutines used by batched kernels. Zero means GOMAXPROCS.
	Workers int
}

// Default returns a full precision CPU context.
func Default() Context {
	return Context{Device: CPU, Precision: FP64}
}

// Mixed reports whether gradients need loss scaling.
func (c Context) Mixed() bool { return c.Precision == FP16 }

// Encrypted reports whether evaluation runs the head under CKKS.
func (c Context) Encrypted() bool { return c.Device == CKKS }

// NumWorkers returns the effective kernel parallelism.
func (c Context) NumWorkers() int {
	if c.Workers > 0 {
		return c.Workers
	}
	return runtime.GOMAXPROCS(0)
}

// Round rounds data in place to the context precision.
func (c Context) Round(data []float64) {
	switch c.Precision {
	case FP32:
		for i, v := range data {
			data[i] = float64(float32(v))
		}
	case FP16:
		for i, v := range data {
			data[i] = float64(float16.Fromfloat32(float32(v)).Float32())
		}
	}
}

// ParallelFor splits [0, n) into contiguous chunks and runs fn on each
// chunk in its own goroutine. worker is the chunk number, below NumWorkers().
func (c Context) ParallelFor(n int, fn func(worker, lo, hi int)) {
	workers := c.NumWorkers()
	if workers > n {
		workers = n
	}
	if workers <= 1 {
		if n > 0 {
			fn(0, 0, n)
		}
		return
	}
	chunk := (n + workers - 1) / workers
	var wg sync.WaitGroup
	for w := 0; w < workers; w++ {
		lo := w * chunk
		hi := lo + chunk
		if hi > n {
			hi = n
		}
		if lo >= hi {
			break
		}
		wg.Add(1)
		go func(w, lo, hi int) {
			defer wg.Done()
			fn(w, lo, hi)
		}(w, lo, hi)
	}
	wg.Wait()
}
