// Package arch describes network topologies as immutable lists of layer
// configurations. Nothing here allocates parameters; nn.Build turns a
// description into runnable layers.
package arch

import (
	"fmt"
	"strings"

	"github.com/pkg/errors"
)

// Spec is one layer configuration. The concrete types below are the only
// implementations.
type Spec interface {
	// OutShape maps an input shape (channels, height, width) to the output
	// shape. Flattened outputs report height = width = 1.
	OutShape(c, h, w int) (int, int, int, error)
	String() string
	spec()
}

// ConvBN is a bias-free convolution followed by batch normalization and ReLU.
type ConvBN struct {
	In, Out int
	Kernel  int
	Stride  int
	Padding int
}

// NewConvBN returns the common 3x3, stride 1, padding 1 block.
func NewConvBN(in, out int) ConvBN {
	return ConvBN{In: in, Out: out, Kernel: 3, Stride: 1, Padding: 1}
}

// Residual adds its body's output to its input.
type Residual struct {
	Body []Spec
}

// MaxPool takes the max over non-overlapping Size x Size windows.
type MaxPool struct {
	Size int
}

// GlobalMaxPool reduces every channel to its maximum (adaptive max pool to 1x1).
type GlobalMaxPool struct{}

// Flatten turns (C, H, W) into a vector of C*H*W features.
type Flatten struct{}

// Linear is a fully connected layer without bias.
type Linear struct {
	In, Out int
}

// Scale multiplies its input by a constant.
type Scale struct {
	Weight float64
}

func (ConvBN) spec()        {}
func (Residual) spec()      {}
func (MaxPool) spec()       {}
func (GlobalMaxPool) spec() {}
func (Flatten) spec()       {}
func (Linear) spec()        {}
func (Scale) spec()         {}

func (s ConvBN) OutShape(c, h, w int) (int, int, int, error) {
	if c != s.In {
		return 0, 0, 0, errors.Errorf("%s: got %d input channels", s, c)
	}
	if s.Stride <= 0 || s.Kernel <= 0 {
		return 0, 0, 0, errors.Errorf("%s: kernel and stride must be positive", s)
	}
	oh := (h+2*s.Padding-s.Kernel)/s.Stride + 1
	ow := (w+2*s.Padding-s.Kernel)/s.Stride + 1
	if h+2*s.Padding < s.Kernel || w+2*s.Padding < s.Kernel {
		return 0, 0, 0, errors.Errorf("%s: input %dx%d smaller than kernel", s, h, w)
	}
	return s.Out, oh, ow, nil
}

func (s Residual) OutShape(c, h, w int) (int, int, int, error) {
	oc, oh, ow, err := Walk(s.Body, c, h, w)
	if err != nil {
		return 0, 0, 0, err
	}
	if oc != c || oh != h || ow != w {
		return 0, 0, 0, errors.Errorf("residual body changes shape (%d,%d,%d) -> (%d,%d,%d)", c, h, w, oc, oh, ow)
	}
	return c, h, w, nil
}

func (s MaxPool) OutShape(c, h, w int) (int, int, int, error) {
	if s.Size <= 0 || h < s.Size || w < s.Size {
		return 0, 0, 0, errors.Errorf("%s: cannot pool %dx%d", s, h, w)
	}
	return c, h / s.Size, w / s.Size, nil
}

func (GlobalMaxPool) OutShape(c, h, w int) (int, int, int, error) {
	if h <= 0 || w <= 0 {
		return 0, 0, 0, errors.New("global max pool over an empty map")
	}
	return c, 1, 1, nil
}

func (Flatten) OutShape(c, h, w int) (int, int, int, error) { return c * h * w, 1, 1, nil }

func (s Linear) OutShape(c, h, w int) (int, int, int, error) {
	if c*h*w != s.In {
		return 0, 0, 0, errors.Errorf("%s: got %d input features", s, c*h*w)
	}
	return s.Out, 1, 1, nil
}

func (Scale) OutShape(c, h, w int) (int, int, int, error) { return c, h, w, nil }

func (s ConvBN) String() string {
	return fmt.Sprintf("ConvBN(%d->%d, k=%d, s=%d, p=%d)", s.In, s.Out, s.Kernel, s.Stride, s.Padding)
}

func (s Residual) String() string {
	parts := make([]string, len(s.Body))
	for i, b := range s.Body {
		parts[i] = b.String()
	}
	return "Residual[" + strings.Join(parts, ", ") + "]"
}

func (s MaxPool) String() string     { return fmt.Sprintf("MaxPool(%d)", s.Size) }
func (GlobalMaxPool) String() string { return "GlobalMaxPool" }
func (Flatten) String() string       { return "Flatten" }
func (s Linear) String() string      { return fmt.Sprintf("Linear(%d->%d)", s.In, s.Out) }
func (s Scale) String() string       { return fmt.Sprintf("Scale(%g)", s.Weight) }

// ResNet9 is the fixed CIFAR classifier: conv/bn/relu blocks with two
// residual stages, global max pooling, a bias-free linear head and an
// output scale of 0.2.
func ResNet9(numClasses int) []Spec {
	return []Spec{
		ConvBN{In: 3, Out: 64, Kernel: 3, Stride: 1, Padding: 1},
		ConvBN{In: 64, Out: 128, Kernel: 5, Stride: 2, Padding: 2},
		Residual{Body: []Spec{NewConvBN(128, 128), NewConvBN(128, 128)}},
		ConvBN{In: 128, Out: 256, Kernel: 3, Stride: 1, Padding: 1},
		MaxPool{Size: 2},
		Residual{Body: []Spec{NewConvBN(256, 256), NewConvBN(256, 256)}},
		ConvBN{In: 256, Out: 128, Kernel: 3, Stride: 1, Padding: 0},
		GlobalMaxPool{},
		Flatten{},
		Linear{In: 128, Out: numClasses},
		Scale{Weight: 0.2},
	}
}

// Walk threads an input shape through specs and returns the output shape.
func Walk(specs []Spec, c, h, w int) (int, int, int, error) {
	var err error
	for i, s := range specs {
		if c, h, w, err = s.OutShape(c, h, w); err != nil {
			return 0, 0, 0, errors.Wrapf(err, "layer %d", i)
		}
	}
	return c, h, w, nil
}

// Validate checks that specs accept a (c, h, w) input and end in a
// vector of class scores. It returns the number of outputs.
func Validate(specs []Spec, c, h, w int) (int, error) {
	if len(specs) == 0 {
		return 0, errors.New("empty architecture")
	}
	oc, oh, ow, err := Walk(specs, c, h, w)
	if err != nil {
		return 0, err
	}
	if oh != 1 || ow != 1 {
		return 0, errors.Errorf("architecture ends in a %dx%d map, want a vector", oh, ow)
	}
	return oc, nil
}

// ParamCount counts trainable parameters (conv weights, batchnorm affine
// parameters, linear weights).
func ParamCount(specs []Spec) int {
	n := 0
	for _, s := range specs {
		switch s := s.(type) {
		case ConvBN:
			n += s.Out*s.In*s.Kernel*s.Kernel + 2*s.Out
		case Residual:
			n += ParamCount(s.Body)
		case Linear:
			n += s.In * s.Out
		}
	}
	return n
}

// Describe renders one line per top-level layer.
func Describe(specs []Spec) string {
	var sb strings.Builder
	for i, s := range specs {
		fmt.Fprintf(&sb, "%2d %s\n", i, s)
	}
	return sb.String()
}
