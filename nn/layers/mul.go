package layers

import (
	"fmt"

	"cifarmask/core/compute"
	"cifarmask/tensor"
)

// Mul multiplies its input by a fixed, non-trainable weight.
type Mul struct {
	Weight float64
	ctx    compute.Context
}

func NewMul(weight float64, ctx compute.Context) *Mul { return &Mul{Weight: weight, ctx: ctx} }

func (m *Mul) Forward(x *tensor.Tensor) (*tensor.Tensor, error) {
	out := x.Clone()
	out.Scale(m.Weight)
	m.ctx.Round(out.Data)
	return out, nil
}

func (m *Mul) Backward(g *tensor.Tensor) (*tensor.Tensor, error) {
	out := g.Clone()
	out.Scale(m.Weight)
	m.ctx.Round(out.Data)
	return out, nil
}

func (m *Mul) Params() []*Param { return nil }
func (m *Mul) SetTraining(bool) {}
func (m *Mul) Tag() string      { return fmt.Sprintf("Mul(%g)", m.Weight) }
