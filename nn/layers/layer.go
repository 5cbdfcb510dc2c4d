package layers

import (
	"math"
	"math/rand"

	"cifarmask/tensor"

	"github.com/pkg/errors"
)

// ErrShape is returned when a layer receives an input it cannot handle.
var ErrShape = errors.New("unexpected input shape")

// ErrNoForward is returned by Backward when no input has been cached.
var ErrNoForward = errors.New("backward called before forward")

// Param is a trainable tensor and the gradient accumulated for it.
type Param struct {
	Name  string
	Value *tensor.Tensor
	Grad  *tensor.Tensor
}

func newParam(name string, shape ...int) *Param {
	return &Param{Name: name, Value: tensor.New(shape...), Grad: tensor.New(shape...)}
}

// Layer is one unit of the network. Backward accumulates parameter
// gradients and returns the gradient with respect to the layer input.
type Layer interface {
	Forward(x *tensor.Tensor) (*tensor.Tensor, error)
	Backward(gradOut *tensor.Tensor) (*tensor.Tensor, error)
	Params() []*Param
	SetTraining(training bool)
	Tag() string
}

// Stateful is implemented by layers that carry non-trainable state which
// must be saved alongside the parameters.
type Stateful interface {
	Buffers() []*Param
}

func shapeErr(layer string, got []int, want string) error {
	return errors.Wrapf(ErrShape, "%s: got %v, want %s", layer, got, want)
}

// kaimingUniform fills w with U(-b, b), b = 1/sqrt(fanIn), the default
// initialization of convolution and linear weights in common frameworks.
func kaimingUniform(w []float64, fanIn int, rng *rand.Rand) {
	bound := 1 / math.Sqrt(float64(fanIn))
	for i := range w {
		w[i] = (2*rng.Float64() - 1) * bound
	}
}
