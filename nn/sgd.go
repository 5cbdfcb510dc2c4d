package nn

import (
	"cifarmask/nn/layers"

	"gonum.org/v1/gonum/floats"
)

// SGD is stochastic gradient descent with heavy-ball momentum and L2 weight
// decay folded into the gradient:
//
//	d = g + wd·p;  buf = m·buf + d;  p -= lr·buf
type SGD struct {
	LR          float64
	Momentum    float64
	WeightDecay float64

	params []*layers.Param
	bufs   [][]float64
	step   []float64
}

func NewSGD(params []*layers.Param, lr, momentum, weightDecay float64) *SGD {
	bufs := make([][]float64, len(params))
	for i, p := range params {
		bufs[i] = make([]float64, len(p.Value.Data))
	}
	return &SGD{LR: lr, Momentum: momentum, WeightDecay: weightDecay, params: params, bufs: bufs}
}

// ZeroGrad clears the gradients of every managed parameter.
func (o *SGD) ZeroGrad() {
	for _, p := range o.params {
		p.Grad.Zero()
	}
}

// Step applies one update with the current LR.
func (o *SGD) Step() {
	for i, p := range o.params {
		buf := o.bufs[i]
		if cap(o.step) < len(buf) {
			o.step = make([]float64, len(buf))
		}
		d := o.step[:len(buf)]
		copy(d, p.Grad.Data)
		if o.WeightDecay != 0 {
			floats.AddScaled(d, o.WeightDecay, p.Value.Data)
		}
		floats.Scale(o.Momentum, buf)
		floats.Add(buf, d)
		floats.AddScaled(p.Value.Data, -o.LR, buf)
	}
}
