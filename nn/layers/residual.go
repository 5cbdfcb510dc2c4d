package layers

import (
	"strings"

	"cifarmask/core/compute"
	"cifarmask/tensor"

	"github.com/pkg/errors"
)

// ResidualBlock computes x + Main(x).
type ResidualBlock struct {
	Main []Layer
	ctx  compute.Context
}

func NewResidualBlock(mods []Layer, ctx compute.Context) *ResidualBlock {
	return &ResidualBlock{Main: mods, ctx: ctx}
}

func (r *ResidualBlock) Forward(x *tensor.Tensor) (*tensor.Tensor, error) {
	in := x
	var err error
	for _, m := range r.Main {
		in, err = m.Forward(in)
		if err != nil {
			return nil, errors.Wrap(err, "residual body")
		}
	}
	out, err := tensor.Add(in, x)
	if err != nil {
		return nil, errors.Wrap(err, "residual skip")
	}
	r.ctx.Round(out.Data)
	return out, nil
}

// Backward returns the gradient accumulated from both paths.
func (r *ResidualBlock) Backward(g *tensor.Tensor) (*tensor.Tensor, error) {
	grad := g
	var err error
	for i := len(r.Main) - 1; i >= 0; i-- {
		grad, err = r.Main[i].Backward(grad)
		if err != nil {
			return nil, err
		}
	}
	out, err := tensor.Add(grad, g)
	if err != nil {
		return nil, errors.Wrap(err, "residual skip")
	}
	r.ctx.Round(out.Data)
	return out, nil
}

func (r *ResidualBlock) Params() []*Param {
	var ps []*Param
	for _, m := range r.Main {
		ps = append(ps, m.Params()...)
	}
	return ps
}

func (r *ResidualBlock) Buffers() []*Param {
	var bs []*Param
	for _, m := range r.Main {
		if s, ok := m.(Stateful); ok {
			bs = append(bs, s.Buffers()...)
		}
	}
	return bs
}

func (r *ResidualBlock) SetTraining(training bool) {
	for _, m := range r.Main {
		m.SetTraining(training)
	}
}

func (r *ResidualBlock) Tag() string {
	tags := make([]string, len(r.Main))
	for i, m := range r.Main {
		tags[i] = m.Tag()
	}
	return "ResidualBlock[" + strings.Join(tags, ",") + "]"
}
