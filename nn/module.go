package nn

import (
	"cifarmask/core/ckkswrapper"
	"cifarmask/nn/layers"
	"cifarmask/tensor"

	"github.com/pkg/errors"
)

// Module defines a single layer/unit in the network.
type Module = layers.Layer

// Sequential chains multiple Modules in order.
type Sequential struct {
	Layers []Module
}

// Forward applies each layer in sequence.
func (s *Sequential) Forward(x *tensor.Tensor) (*tensor.Tensor, error) {
	out := x
	var err error
	for i, layer := range s.Layers {
		if out, err = layer.Forward(out); err != nil {
			return nil, errors.Wrapf(err, "layer %d (%s)", i, layer.Tag())
		}
	}
	return out, nil
}

// Backward applies Backward in reverse order and returns the gradient with
// respect to the network input.
func (s *Sequential) Backward(grad *tensor.Tensor) (*tensor.Tensor, error) {
	out := grad
	var err error
	for i := len(s.Layers) - 1; i >= 0; i-- {
		if out, err = s.Layers[i].Backward(out); err != nil {
			return nil, errors.Wrapf(err, "layer %d (%s) backward", i, s.Layers[i].Tag())
		}
	}
	return out, nil
}

// Params returns every trainable parameter in layer order.
func (s *Sequential) Params() []*layers.Param {
	var ps []*layers.Param
	for _, layer := range s.Layers {
		ps = append(ps, layer.Params()...)
	}
	return ps
}

// Buffers returns the non-trainable state of every layer in layer order.
func (s *Sequential) Buffers() []*layers.Param {
	var bs []*layers.Param
	for _, layer := range s.Layers {
		if st, ok := layer.(layers.Stateful); ok {
			bs = append(bs, st.Buffers()...)
		}
	}
	return bs
}

// SetTraining switches every layer between training and eval mode.
func (s *Sequential) SetTraining(training bool) {
	for _, layer := range s.Layers {
		layer.SetTraining(training)
	}
}

// ZeroGrad clears all accumulated gradients.
func (s *Sequential) ZeroGrad() {
	for _, p := range s.Params() {
		p.Grad.Zero()
	}
}

// EnableHE attaches heCtx to every linear layer so that eval-mode forward
// passes score them under CKKS.
func (s *Sequential) EnableHE(heCtx *ckkswrapper.HeContext) error {
	found := false
	for _, layer := range s.Layers {
		if lin, ok := layer.(*layers.Linear); ok {
			if err := lin.EnableHE(heCtx); err != nil {
				return err
			}
			found = true
		}
	}
	if !found {
		return errors.New("model has no linear layer to encrypt")
	}
	return nil
}

// Encrypted returns true if any layer currently runs under CKKS.
func (s *Sequential) Encrypted() bool {
	for _, layer := range s.Layers {
		if lin, ok := layer.(*layers.Linear); ok && lin.Encrypted() {
			return true
		}
	}
	return false
}
