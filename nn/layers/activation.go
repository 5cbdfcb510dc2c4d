package layers

import (
	"cifarmask/tensor"
)

// ReLU applies max(0, x) elementwise.
type ReLU struct {
	mask []bool
}

func NewReLU() *ReLU { return &ReLU{} }

func (r *ReLU) Forward(x *tensor.Tensor) (*tensor.Tensor, error) {
	out := tensor.New(x.Shape...)
	if cap(r.mask) < len(x.Data) {
		r.mask = make([]bool, len(x.Data))
	}
	r.mask = r.mask[:len(x.Data)]
	for i, v := range x.Data {
		if v > 0 {
			out.Data[i] = v
			r.mask[i] = true
		} else {
			r.mask[i] = false
		}
	}
	return out, nil
}

func (r *ReLU) Backward(gradOut *tensor.Tensor) (*tensor.Tensor, error) {
	if r.mask == nil {
		return nil, ErrNoForward
	}
	if len(gradOut.Data) != len(r.mask) {
		return nil, shapeErr(r.Tag()+" backward", gradOut.Shape, "the forward shape")
	}
	gradIn := tensor.New(gradOut.Shape...)
	for i, on := range r.mask {
		if on {
			gradIn.Data[i] = gradOut.Data[i]
		}
	}
	return gradIn, nil
}

func (r *ReLU) Params() []*Param { return nil }
func (r *ReLU) SetTraining(bool) {}
func (r *ReLU) Tag() string      { return "ReLU" }
