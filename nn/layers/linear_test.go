package layers

import (
	"math/rand"
	"testing"

	"cifarmask/core/ckkswrapper"
	"cifarmask/core/compute"
	"cifarmask/tensor"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLinear_Forward(t *testing.T) {
	l := NewLinear(3, 2, true, compute.Default(), rand.New(rand.NewSource(1)))
	copy(l.W.Value.Data, []float64{1, 0, -1, 2, 1, 0})
	copy(l.B.Value.Data, []float64{0.5, -0.5})

	x, err := tensor.FromData([]float64{1, 2, 3, 0, 1, 0}, 2, 3)
	require.NoError(t, err)
	out, err := l.Forward(x)
	require.NoError(t, err)
	assert.Equal(t, []int{2, 2}, out.Shape)
	assert.Equal(t, []float64{-1.5, 3.5, 0.5, 0.5}, out.Data)
}

func TestLinear_NoBias(t *testing.T) {
	l := NewLinear(4, 2, false, compute.Default(), rand.New(rand.NewSource(1)))
	assert.Nil(t, l.B)
	assert.Len(t, l.Params(), 1)
}

func TestLinear_InitBound(t *testing.T) {
	l := NewLinear(16, 4, false, compute.Default(), rand.New(rand.NewSource(1)))
	for _, w := range l.W.Value.Data {
		assert.LessOrEqual(t, w*w, 1.0/16)
	}
}

func TestLinear_Gradients(t *testing.T) {
	rng := rand.New(rand.NewSource(6))
	l := NewLinear(5, 3, true, compute.Default(), rng)
	x := randTensor(rng, 4, 5)
	checkInputGrad(t, l, x, 1e-6)
	checkParamGrads(t, l, x, 1e-6)
}

func TestLinear_RejectsWrongWidth(t *testing.T) {
	l := NewLinear(5, 3, false, compute.Default(), rand.New(rand.NewSource(1)))
	_, err := l.Forward(tensor.New(2, 4))
	assert.ErrorIs(t, err, ErrShape)
}

func TestLinear_EncryptedEvalMatchesPlain(t *testing.T) {
	rng := rand.New(rand.NewSource(12))
	l := NewLinear(8, 3, false, compute.Default(), rng)
	x := randTensor(rng, 2, 8)

	l.SetTraining(false)
	plain, err := l.Forward(x)
	require.NoError(t, err)

	require.NoError(t, l.EnableHE(ckkswrapper.NewHeContext()))
	assert.True(t, l.Encrypted())
	enc, err := l.Forward(x)
	require.NoError(t, err)
	assert.InDeltaSlice(t, plain.Data, enc.Data, 1e-3)

	// training always runs in the clear
	l.SetTraining(true)
	assert.False(t, l.Encrypted())
}

func TestLinear_EncryptedEvalSeesTrainedWeights(t *testing.T) {
	rng := rand.New(rand.NewSource(13))
	l := NewLinear(4, 2, false, compute.Default(), rng)
	require.NoError(t, l.EnableHE(ckkswrapper.NewHeContext()))
	x := randTensor(rng, 1, 4)

	// weights updated while training must reach the encrypted path
	l.SetTraining(true)
	for i := range l.W.Value.Data {
		l.W.Value.Data[i] += 0.5
	}
	l.SetTraining(false)
	assert.True(t, l.stale)

	enc, err := l.Forward(x)
	require.NoError(t, err)
	assert.False(t, l.stale)

	l.heCtx, l.serverKit = nil, nil
	plain, err := l.Forward(x)
	require.NoError(t, err)
	assert.InDeltaSlice(t, plain.Data, enc.Data, 1e-3)
}

func TestLinear_ForwardHEWithoutContext(t *testing.T) {
	l := NewLinear(2, 1, false, compute.Default(), rand.New(rand.NewSource(1)))
	_, err := l.ForwardHE([]float64{1, 2})
	assert.Error(t, err)
}
