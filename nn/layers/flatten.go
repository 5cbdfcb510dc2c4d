package layers

import (
	"cifarmask/tensor"
)

// Flatten reshapes [B, ...] to [B, features]. Data is shared, not copied.
type Flatten struct {
	inShape []int
}

func NewFlatten() *Flatten { return &Flatten{} }

func (f *Flatten) Forward(x *tensor.Tensor) (*tensor.Tensor, error) {
	if len(x.Shape) < 2 {
		return nil, shapeErr(f.Tag(), x.Shape, "a batched tensor")
	}
	f.inShape = append(f.inShape[:0], x.Shape...)
	return x.Reshape(x.Shape[0], len(x.Data)/x.Shape[0])
}

func (f *Flatten) Backward(g *tensor.Tensor) (*tensor.Tensor, error) {
	if f.inShape == nil {
		return nil, ErrNoForward
	}
	return g.Reshape(f.inShape...)
}

func (f *Flatten) Params() []*Param { return nil }
func (f *Flatten) SetTraining(bool) {}
func (f *Flatten) Tag() string      { return "Flatten" }
