package layers

import (
	"fmt"
	"math/rand"

	"cifarmask/core/compute"
	"cifarmask/tensor"

	"gonum.org/v1/gonum/mat"
)

// Conv2D is a bias-free 2D convolution over NCHW batches. Each example is
// lowered to a column matrix (im2col) and multiplied with the flattened
// kernel, so the heavy lifting happens in gonum's matrix product.
type Conv2D struct {
	inChan, outChan int
	kernel          int
	stride, padding int

	W *Param // [outChan, inChan, kernel, kernel]

	ctx       compute.Context
	lastInput *tensor.Tensor
}

// NewConv2D creates a convolution with Kaiming-uniform weights.
func NewConv2D(inChan, outChan, kernel, stride, padding int, ctx compute.Context, rng *rand.Rand) *Conv2D {
	c := &Conv2D{
		inChan:  inChan,
		outChan: outChan,
		kernel:  kernel,
		stride:  stride,
		padding: padding,
		W:       newParam("conv.weight", outChan, inChan, kernel, kernel),
		ctx:     ctx,
	}
	kaimingUniform(c.W.Value.Data, inChan*kernel*kernel, rng)
	return c
}

// GetOutputShape returns the output dimensions for given input dimensions.
func (c *Conv2D) GetOutputShape(inH, inW int) (outH, outW int) {
	return (inH+2*c.padding-c.kernel)/c.stride + 1, (inW+2*c.padding-c.kernel)/c.stride + 1
}

func (c *Conv2D) Forward(x *tensor.Tensor) (*tensor.Tensor, error) {
	if len(x.Shape) != 4 || x.Shape[1] != c.inChan {
		return nil, shapeErr(c.Tag(), x.Shape, fmt.Sprintf("[B %d H W]", c.inChan))
	}
	batch, h, w := x.Shape[0], x.Shape[2], x.Shape[3]
	outH, outW := c.GetOutputShape(h, w)
	if outH <= 0 || outW <= 0 {
		return nil, shapeErr(c.Tag(), x.Shape, "an input at least as large as the kernel")
	}
	c.lastInput = x

	rows, cols := c.inChan*c.kernel*c.kernel, outH*outW
	out := tensor.New(batch, c.outChan, outH, outW)
	wm := mat.NewDense(c.outChan, rows, c.W.Value.Data)
	inSize, outSize := c.inChan*h*w, c.outChan*cols

	c.ctx.ParallelFor(batch, func(_, lo, hi int) {
		buf := make([]float64, rows*cols)
		colm := mat.NewDense(rows, cols, buf)
		for b := lo; b < hi; b++ {
			c.im2col(x.Data[b*inSize:(b+1)*inSize], h, w, outH, outW, buf)
			dst := mat.NewDense(c.outChan, cols, out.Data[b*outSize:(b+1)*outSize])
			dst.Mul(wm, colm)
		}
	})
	c.ctx.Round(out.Data)
	return out, nil
}

func (c *Conv2D) Backward(gradOut *tensor.Tensor) (*tensor.Tensor, error) {
	x := c.lastInput
	if x == nil {
		return nil, ErrNoForward
	}
	batch, h, w := x.Shape[0], x.Shape[2], x.Shape[3]
	outH, outW := c.GetOutputShape(h, w)
	if len(gradOut.Data) != batch*c.outChan*outH*outW {
		return nil, shapeErr(c.Tag()+" backward", gradOut.Shape, fmt.Sprintf("[%d %d %d %d]", batch, c.outChan, outH, outW))
	}

	rows, cols := c.inChan*c.kernel*c.kernel, outH*outW
	inSize, outSize := c.inChan*h*w, c.outChan*cols
	gradIn := tensor.New(x.Shape...)
	wm := mat.NewDense(c.outChan, rows, c.W.Value.Data)

	workers := c.ctx.NumWorkers()
	partial := make([]*mat.Dense, workers)
	c.ctx.ParallelFor(batch, func(worker, lo, hi int) {
		buf := make([]float64, rows*cols)
		colm := mat.NewDense(rows, cols, buf)
		dcol := mat.NewDense(rows, cols, nil)
		gw := mat.NewDense(c.outChan, rows, nil)
		var tmp mat.Dense
		for b := lo; b < hi; b++ {
			g := mat.NewDense(c.outChan, cols, gradOut.Data[b*outSize:(b+1)*outSize])
			c.im2col(x.Data[b*inSize:(b+1)*inSize], h, w, outH, outW, buf)
			tmp.Mul(g, colm.T())
			gw.Add(gw, &tmp)
			dcol.Mul(wm.T(), g)
			c.col2im(dcol.RawMatrix().Data, h, w, outH, outW, gradIn.Data[b*inSize:(b+1)*inSize])
		}
		partial[worker] = gw
	})

	acc := mat.NewDense(c.outChan, rows, c.W.Grad.Data)
	for _, gw := range partial {
		if gw != nil {
			acc.Add(acc, gw)
		}
	}
	c.ctx.Round(gradIn.Data)
	return gradIn, nil
}

// im2col writes the receptive fields of one [inChan, h, w] image into
// cols, laid out as [inChan*k*k, outH*outW]. Padding positions read as 0.
func (c *Conv2D) im2col(img []float64, h, w, outH, outW int, cols []float64) {
	k, L := c.kernel, outH*outW
	for ci := 0; ci < c.inChan; ci++ {
		for dy := 0; dy < k; dy++ {
			for dx := 0; dx < k; dx++ {
				row := cols[((ci*k+dy)*k+dx)*L:]
				for oy := 0; oy < outH; oy++ {
					iy := oy*c.stride - c.padding + dy
					for ox := 0; ox < outW; ox++ {
						ix := ox*c.stride - c.padding + dx
						v := 0.0
						if iy >= 0 && iy < h && ix >= 0 && ix < w {
							v = img[(ci*h+iy)*w+ix]
						}
						row[oy*outW+ox] = v
					}
				}
			}
		}
	}
}

// col2im scatters column gradients back onto the image gradient.
func (c *Conv2D) col2im(cols []float64, h, w, outH, outW int, img []float64) {
	k, L := c.kernel, outH*outW
	for ci := 0; ci < c.inChan; ci++ {
		for dy := 0; dy < k; dy++ {
			for dx := 0; dx < k; dx++ {
				row := cols[((ci*k+dy)*k+dx)*L:]
				for oy := 0; oy < outH; oy++ {
					iy := oy*c.stride - c.padding + dy
					if iy < 0 || iy >= h {
						continue
					}
					for ox := 0; ox < outW; ox++ {
						ix := ox*c.stride - c.padding + dx
						if ix >= 0 && ix < w {
							img[(ci*h+iy)*w+ix] += row[oy*outW+ox]
						}
					}
				}
			}
		}
	}
}

func (c *Conv2D) Params() []*Param { return []*Param{c.W} }
func (c *Conv2D) SetTraining(bool) {}

func (c *Conv2D) Tag() string {
	return fmt.Sprintf("Conv2D(%d->%d,k=%d,s=%d,p=%d)", c.inChan, c.outChan, c.kernel, c.stride, c.padding)
}
