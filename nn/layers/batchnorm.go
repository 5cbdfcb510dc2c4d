package layers

import (
	"fmt"
	"math"

	"cifarmask/core/compute"
	"cifarmask/tensor"
)

// BatchNorm2D normalizes every channel of an NCHW batch. In training mode
// it uses batch statistics and updates the running estimates; in eval mode
// it uses the running estimates.
type BatchNorm2D struct {
	channels int
	Momentum float64
	Eps      float64

	Gamma *Param
	Beta  *Param

	RunningMean []float64
	RunningVar  []float64

	training bool
	ctx      compute.Context

	// cached for backward
	xhat   []float64
	invStd []float64
	shape  []int
}

func NewBatchNorm2D(channels int, ctx compute.Context) *BatchNorm2D {
	bn := &BatchNorm2D{
		channels:    channels,
		Momentum:    0.1,
		Eps:         1e-5,
		Gamma:       newParam("bn.weight", channels),
		Beta:        newParam("bn.bias", channels),
		RunningMean: make([]float64, channels),
		RunningVar:  make([]float64, channels),
		training:    true,
		ctx:         ctx,
	}
	for i := 0; i < channels; i++ {
		bn.Gamma.Value.Data[i] = 1
		bn.RunningVar[i] = 1
	}
	return bn
}

func (bn *BatchNorm2D) Forward(x *tensor.Tensor) (*tensor.Tensor, error) {
	if len(x.Shape) != 4 || x.Shape[1] != bn.channels {
		return nil, shapeErr(bn.Tag(), x.Shape, fmt.Sprintf("[B %d H W]", bn.channels))
	}
	batch, hw := x.Shape[0], x.Shape[2]*x.Shape[3]
	n := batch * hw
	out := tensor.New(x.Shape...)
	bn.shape = append(bn.shape[:0], x.Shape...)
	if cap(bn.xhat) < len(x.Data) {
		bn.xhat = make([]float64, len(x.Data))
	}
	bn.xhat = bn.xhat[:len(x.Data)]
	bn.invStd = make([]float64, bn.channels)

	bn.ctx.ParallelFor(bn.channels, func(_, lo, hi int) {
		for c := lo; c < hi; c++ {
			var mean, variance float64
			if bn.training {
				for b := 0; b < batch; b++ {
					for _, v := range x.Data[(b*bn.channels+c)*hw : (b*bn.channels+c+1)*hw] {
						mean += v
					}
				}
				mean /= float64(n)
				for b := 0; b < batch; b++ {
					for _, v := range x.Data[(b*bn.channels+c)*hw : (b*bn.channels+c+1)*hw] {
						d := v - mean
						variance += d * d
					}
				}
				variance /= float64(n)
				unbiased := variance
				if n > 1 {
					unbiased = variance * float64(n) / float64(n-1)
				}
				bn.RunningMean[c] = (1-bn.Momentum)*bn.RunningMean[c] + bn.Momentum*mean
				bn.RunningVar[c] = (1-bn.Momentum)*bn.RunningVar[c] + bn.Momentum*unbiased
			} else {
				mean, variance = bn.RunningMean[c], bn.RunningVar[c]
			}
			inv := 1 / math.Sqrt(variance+bn.Eps)
			bn.invStd[c] = inv
			g, beta := bn.Gamma.Value.Data[c], bn.Beta.Value.Data[c]
			for b := 0; b < batch; b++ {
				off := (b*bn.channels + c) * hw
				for i := off; i < off+hw; i++ {
					xh := (x.Data[i] - mean) * inv
					bn.xhat[i] = xh
					out.Data[i] = g*xh + beta
				}
			}
		}
	})
	bn.ctx.Round(out.Data)
	return out, nil
}

func (bn *BatchNorm2D) Backward(gradOut *tensor.Tensor) (*tensor.Tensor, error) {
	if bn.shape == nil {
		return nil, ErrNoForward
	}
	if len(gradOut.Data) != len(bn.xhat) {
		return nil, shapeErr(bn.Tag()+" backward", gradOut.Shape, fmt.Sprint(bn.shape))
	}
	batch, hw := bn.shape[0], bn.shape[2]*bn.shape[3]
	n := float64(batch * hw)
	gradIn := tensor.New(bn.shape...)

	bn.ctx.ParallelFor(bn.channels, func(_, lo, hi int) {
		for c := lo; c < hi; c++ {
			var sumDy, sumDyXhat float64
			for b := 0; b < batch; b++ {
				off := (b*bn.channels + c) * hw
				for i := off; i < off+hw; i++ {
					sumDy += gradOut.Data[i]
					sumDyXhat += gradOut.Data[i] * bn.xhat[i]
				}
			}
			bn.Gamma.Grad.Data[c] += sumDyXhat
			bn.Beta.Grad.Data[c] += sumDy

			g, inv := bn.Gamma.Value.Data[c], bn.invStd[c]
			for b := 0; b < batch; b++ {
				off := (b*bn.channels + c) * hw
				for i := off; i < off+hw; i++ {
					if bn.training {
						gradIn.Data[i] = g * inv / n * (n*gradOut.Data[i] - sumDy - bn.xhat[i]*sumDyXhat)
					} else {
						gradIn.Data[i] = g * inv * gradOut.Data[i]
					}
				}
			}
		}
	})
	bn.ctx.Round(gradIn.Data)
	return gradIn, nil
}

func (bn *BatchNorm2D) Params() []*Param { return []*Param{bn.Gamma, bn.Beta} }

// Buffers exposes the running statistics. The tensors share storage with
// RunningMean and RunningVar and carry no gradient.
func (bn *BatchNorm2D) Buffers() []*Param {
	return []*Param{
		{Name: "bn.running_mean", Value: &tensor.Tensor{Data: bn.RunningMean, Shape: []int{bn.channels}}},
		{Name: "bn.running_var", Value: &tensor.Tensor{Data: bn.RunningVar, Shape: []int{bn.channels}}},
	}
}

func (bn *BatchNorm2D) SetTraining(training bool) { bn.training = training }

func (bn *BatchNorm2D) Tag() string { return fmt.Sprintf("BatchNorm2D(%d)", bn.channels) }
