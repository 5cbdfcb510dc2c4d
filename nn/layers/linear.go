package layers

import (
	"fmt"
	"math/rand"

	"cifarmask/core/ckkswrapper"
	"cifarmask/core/compute"
	"cifarmask/tensor"

	"github.com/pkg/errors"
	"github.com/tuneinsight/lattigo/v6/core/rlwe"
	"gonum.org/v1/gonum/mat"
)

// Linear is a fully-connected layer over [B, in] inputs. In eval mode,
// with an HE context attached, the forward pass runs on CKKS ciphertexts:
// each input row is encrypted, multiplied by the plaintext weight rows and
// tree-summed into slot 0.
type Linear struct {
	inDim, outDim int

	W *Param // [out, in]
	B *Param // [out], nil when the layer has no bias

	ctx       compute.Context
	training  bool
	lastInput *tensor.Tensor

	heCtx     *ckkswrapper.HeContext
	serverKit *ckkswrapper.ServerKit
	weightPTs []*rlwe.Plaintext // one encoded row of W per output
	stale     bool              // weightPTs lag behind W
}

// NewLinear creates a layer with Kaiming-uniform weights and zero bias.
func NewLinear(inDim, outDim int, bias bool, ctx compute.Context, rng *rand.Rand) *Linear {
	l := &Linear{
		inDim:    inDim,
		outDim:   outDim,
		W:        newParam("linear.weight", outDim, inDim),
		ctx:      ctx,
		training: true,
	}
	if bias {
		l.B = newParam("linear.bias", outDim)
	}
	kaimingUniform(l.W.Value.Data, inDim, rng)
	return l
}

// EnableHE attaches a CKKS context used for eval-mode forward passes.
func (l *Linear) EnableHE(heCtx *ckkswrapper.HeContext) error {
	if l.inDim > heCtx.Slots() {
		return errors.Errorf("%s: %d inputs exceed %d CKKS slots", l.Tag(), l.inDim, heCtx.Slots())
	}
	l.heCtx = heCtx
	l.serverKit = heCtx.GenServerKit(ckkswrapper.TreeSumRotations(l.inDim))
	return l.SyncHE()
}

// Encrypted reports whether the next forward pass runs under CKKS.
func (l *Linear) Encrypted() bool { return l.heCtx != nil && !l.training }

// SyncHE re-encodes the weight rows after the plaintext weights changed.
func (l *Linear) SyncHE() error {
	if l.serverKit == nil {
		return nil
	}
	l.weightPTs = make([]*rlwe.Plaintext, l.outDim)
	for j := 0; j < l.outDim; j++ {
		pt, err := l.serverKit.EncodeVector(l.W.Value.Data[j*l.inDim : (j+1)*l.inDim])
		if err != nil {
			return errors.Wrapf(err, "encode weight row %d", j)
		}
		l.weightPTs[j] = pt
	}
	l.stale = false
	return nil
}

func (l *Linear) Forward(x *tensor.Tensor) (*tensor.Tensor, error) {
	if len(x.Shape) != 2 || x.Shape[1] != l.inDim {
		return nil, shapeErr(l.Tag(), x.Shape, fmt.Sprintf("[B %d]", l.inDim))
	}
	if l.Encrypted() {
		return l.forwardHE(x)
	}
	l.lastInput = x
	batch := x.Shape[0]
	out := tensor.New(batch, l.outDim)
	dst := mat.NewDense(batch, l.outDim, out.Data)
	dst.Mul(mat.NewDense(batch, l.inDim, x.Data), mat.NewDense(l.outDim, l.inDim, l.W.Value.Data).T())
	l.addBias(out)
	l.ctx.Round(out.Data)
	return out, nil
}

func (l *Linear) forwardHE(x *tensor.Tensor) (*tensor.Tensor, error) {
	if l.stale {
		if err := l.SyncHE(); err != nil {
			return nil, errors.Wrap(err, l.Tag())
		}
	}
	batch := x.Shape[0]
	out := tensor.New(batch, l.outDim)
	for b := 0; b < batch; b++ {
		row, err := l.ForwardHE(x.Row(b))
		if err != nil {
			return nil, errors.Wrapf(err, "example %d", b)
		}
		copy(out.Row(b), row)
	}
	l.addBias(out)
	l.ctx.Round(out.Data)
	return out, nil
}

// ForwardHE computes W·x for a single input vector under encryption and
// returns the decrypted outputs (without bias).
func (l *Linear) ForwardHE(x []float64) ([]float64, error) {
	if l.serverKit == nil {
		return nil, errors.Errorf("%s: HE not enabled", l.Tag())
	}
	ct, err := l.heCtx.EncryptVector(x)
	if err != nil {
		return nil, err
	}
	eval := l.serverKit.Evaluator
	out := make([]float64, l.outDim)
	for j, wpt := range l.weightPTs {
		prod, err := eval.MulNew(ct, wpt)
		if err != nil {
			return nil, errors.Wrap(err, "multiply")
		}
		if err := eval.Rescale(prod, prod); err != nil {
			return nil, errors.Wrap(err, "rescale")
		}
		sum, err := l.serverKit.TreeSum(prod, l.inDim)
		if err != nil {
			return nil, err
		}
		vals, err := l.heCtx.DecryptVector(sum, 1)
		if err != nil {
			return nil, err
		}
		out[j] = vals[0]
	}
	return out, nil
}

func (l *Linear) addBias(out *tensor.Tensor) {
	if l.B == nil {
		return
	}
	for b := 0; b < out.Shape[0]; b++ {
		row := out.Row(b)
		for j := range row {
			row[j] += l.B.Value.Data[j]
		}
	}
}

func (l *Linear) Backward(gradOut *tensor.Tensor) (*tensor.Tensor, error) {
	x := l.lastInput
	if x == nil {
		return nil, ErrNoForward
	}
	batch := x.Shape[0]
	if len(gradOut.Data) != batch*l.outDim {
		return nil, shapeErr(l.Tag()+" backward", gradOut.Shape, fmt.Sprintf("[%d %d]", batch, l.outDim))
	}
	g := mat.NewDense(batch, l.outDim, gradOut.Data)
	xm := mat.NewDense(batch, l.inDim, x.Data)
	wm := mat.NewDense(l.outDim, l.inDim, l.W.Value.Data)

	var gw mat.Dense
	gw.Mul(g.T(), xm)
	acc := mat.NewDense(l.outDim, l.inDim, l.W.Grad.Data)
	acc.Add(acc, &gw)

	if l.B != nil {
		for b := 0; b < batch; b++ {
			for j := 0; j < l.outDim; j++ {
				l.B.Grad.Data[j] += gradOut.Data[b*l.outDim+j]
			}
		}
	}

	gradIn := tensor.New(batch, l.inDim)
	mat.NewDense(batch, l.inDim, gradIn.Data).Mul(g, wm)
	l.ctx.Round(gradIn.Data)
	return gradIn, nil
}

func (l *Linear) Params() []*Param {
	if l.B == nil {
		return []*Param{l.W}
	}
	return []*Param{l.W, l.B}
}

// SetTraining switches modes. Leaving training marks the encoded weights
// stale; the next encrypted forward pass re-encodes them.
func (l *Linear) SetTraining(training bool) {
	if l.training && !training && l.serverKit != nil {
		l.stale = true
	}
	l.training = training
}

func (l *Linear) Tag() string { return fmt.Sprintf("Linear(%d->%d)", l.inDim, l.outDim) }
