package layers

import (
	"math/rand"
	"testing"

	"cifarmask/tensor"

	"github.com/stretchr/testify/require"
)

func randTensor(rng *rand.Rand, shape ...int) *tensor.Tensor {
	t := tensor.New(shape...)
	for i := range t.Data {
		t.Data[i] = rng.NormFloat64()
	}
	return t
}

// projectedLoss returns sum(out * r), a scalar whose gradient w.r.t. out is r.
func projectedLoss(t *testing.T, l Layer, x, r *tensor.Tensor) float64 {
	t.Helper()
	out, err := l.Forward(x)
	require.NoError(t, err)
	require.Equal(t, len(r.Data), len(out.Data))
	s := 0.0
	for i, v := range out.Data {
		s += v * r.Data[i]
	}
	return s
}

// checkInputGrad compares Backward against central differences on the input.
func checkInputGrad(t *testing.T, l Layer, x *tensor.Tensor, tol float64) {
	t.Helper()
	rng := rand.New(rand.NewSource(7))
	out, err := l.Forward(x)
	require.NoError(t, err)
	r := randTensor(rng, out.Shape...)
	gradIn, err := l.Backward(r)
	require.NoError(t, err)
	require.Equal(t, x.Shape, gradIn.Shape)

	const h = 1e-5
	for i := range x.Data {
		orig := x.Data[i]
		x.Data[i] = orig + h
		plus := projectedLoss(t, l, x, r)
		x.Data[i] = orig - h
		minus := projectedLoss(t, l, x, r)
		x.Data[i] = orig
		require.InDelta(t, (plus-minus)/(2*h), gradIn.Data[i], tol, "input %d", i)
	}
}

// checkParamGrads compares accumulated parameter gradients against central
// differences.
func checkParamGrads(t *testing.T, l Layer, x *tensor.Tensor, tol float64) {
	t.Helper()
	rng := rand.New(rand.NewSource(11))
	out, err := l.Forward(x)
	require.NoError(t, err)
	r := randTensor(rng, out.Shape...)
	for _, p := range l.Params() {
		p.Grad.Zero()
	}
	_, err = l.Backward(r)
	require.NoError(t, err)

	const h = 1e-5
	for _, p := range l.Params() {
		for i := range p.Value.Data {
			orig := p.Value.Data[i]
			p.Value.Data[i] = orig + h
			plus := projectedLoss(t, l, x, r)
			p.Value.Data[i] = orig - h
			minus := projectedLoss(t, l, x, r)
			p.Value.Data[i] = orig
			require.InDelta(t, (plus-minus)/(2*h), p.Grad.Data[i], tol, "%s[%d]", p.Name, i)
		}
	}
}
