package layers

import (
	"fmt"

	"cifarmask/tensor"
)

// MaxPool2D takes the maximum over non-overlapping size x size windows.
// Trailing rows and columns that do not fill a window are dropped.
type MaxPool2D struct {
	size    int
	argmax  []int
	inShape []int
}

func NewMaxPool2D(size int) *MaxPool2D { return &MaxPool2D{size: size} }

func (m *MaxPool2D) Forward(x *tensor.Tensor) (*tensor.Tensor, error) {
	if len(x.Shape) != 4 {
		return nil, shapeErr(m.Tag(), x.Shape, "[B C H W]")
	}
	B, C, H, W := x.Shape[0], x.Shape[1], x.Shape[2], x.Shape[3]
	p := m.size
	outH, outW := H/p, W/p
	if outH == 0 || outW == 0 {
		return nil, shapeErr(m.Tag(), x.Shape, fmt.Sprintf("H and W of at least %d", p))
	}
	out := tensor.New(B, C, outH, outW)
	m.argmax = make([]int, len(out.Data))
	m.inShape = append(m.inShape[:0], x.Shape...)

	for bc := 0; bc < B*C; bc++ {
		in := bc * H * W
		for oy := 0; oy < outH; oy++ {
			for ox := 0; ox < outW; ox++ {
				best := in + (oy*p)*W + ox*p
				for dy := 0; dy < p; dy++ {
					for dx := 0; dx < p; dx++ {
						idx := in + (oy*p+dy)*W + ox*p + dx
						if x.Data[idx] > x.Data[best] {
							best = idx
						}
					}
				}
				o := (bc*outH+oy)*outW + ox
				out.Data[o] = x.Data[best]
				m.argmax[o] = best
			}
		}
	}
	return out, nil
}

func (m *MaxPool2D) Backward(gradOut *tensor.Tensor) (*tensor.Tensor, error) {
	return routeMax(m.Tag(), m.inShape, m.argmax, gradOut)
}

func (m *MaxPool2D) Params() []*Param { return nil }
func (m *MaxPool2D) SetTraining(bool) {}
func (m *MaxPool2D) Tag() string      { return fmt.Sprintf("MaxPool2D(%d)", m.size) }

// GlobalMaxPool reduces each channel map to its maximum, producing [B C 1 1].
type GlobalMaxPool struct {
	argmax  []int
	inShape []int
}

func NewGlobalMaxPool() *GlobalMaxPool { return &GlobalMaxPool{} }

func (g *GlobalMaxPool) Forward(x *tensor.Tensor) (*tensor.Tensor, error) {
	if len(x.Shape) != 4 || x.Shape[2]*x.Shape[3] == 0 {
		return nil, shapeErr(g.Tag(), x.Shape, "[B C H W] with a non-empty map")
	}
	B, C, hw := x.Shape[0], x.Shape[1], x.Shape[2]*x.Shape[3]
	out := tensor.New(B, C, 1, 1)
	g.argmax = make([]int, B*C)
	g.inShape = append(g.inShape[:0], x.Shape...)
	for bc := 0; bc < B*C; bc++ {
		best := bc * hw
		for i := best + 1; i < (bc+1)*hw; i++ {
			if x.Data[i] > x.Data[best] {
				best = i
			}
		}
		out.Data[bc] = x.Data[best]
		g.argmax[bc] = best
	}
	return out, nil
}

func (g *GlobalMaxPool) Backward(gradOut *tensor.Tensor) (*tensor.Tensor, error) {
	return routeMax(g.Tag(), g.inShape, g.argmax, gradOut)
}

func (g *GlobalMaxPool) Params() []*Param { return nil }
func (g *GlobalMaxPool) SetTraining(bool) {}
func (g *GlobalMaxPool) Tag() string      { return "GlobalMaxPool" }

// routeMax sends each output gradient to the input position that won the max.
func routeMax(tag string, inShape, argmax []int, gradOut *tensor.Tensor) (*tensor.Tensor, error) {
	if inShape == nil {
		return nil, ErrNoForward
	}
	if len(gradOut.Data) != len(argmax) {
		return nil, shapeErr(tag+" backward", gradOut.Shape, fmt.Sprintf("%d elements", len(argmax)))
	}
	gradIn := tensor.New(inShape...)
	for o, idx := range argmax {
		gradIn.Data[idx] += gradOut.Data[o]
	}
	return gradIn, nil
}
