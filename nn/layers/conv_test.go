package layers

import (
	"math/rand"
	"testing"

	"cifarmask/core/compute"
	"cifarmask/tensor"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestConv2D_Identity1x1(t *testing.T) {
	conv := NewConv2D(1, 1, 1, 1, 0, compute.Default(), rand.New(rand.NewSource(1)))
	conv.W.Value.Data[0] = 1

	input := tensor.New(1, 1, 3, 3)
	for i := range input.Data {
		input.Data[i] = float64(i + 1)
	}
	out, err := conv.Forward(input)
	require.NoError(t, err)
	assert.Equal(t, []int{1, 1, 3, 3}, out.Shape)
	assert.Equal(t, input.Data, out.Data)
}

func TestConv2D_PaddedSum(t *testing.T) {
	// an all-ones 3x3 kernel with padding 1 sums each neighbourhood
	conv := NewConv2D(1, 1, 3, 1, 1, compute.Default(), rand.New(rand.NewSource(1)))
	for i := range conv.W.Value.Data {
		conv.W.Value.Data[i] = 1
	}
	input := tensor.New(1, 1, 3, 3)
	for i := range input.Data {
		input.Data[i] = 1
	}
	out, err := conv.Forward(input)
	require.NoError(t, err)
	assert.Equal(t, []float64{4, 6, 4, 6, 9, 6, 4, 6, 4}, out.Data)
}

func TestConv2D_OutputShape(t *testing.T) {
	conv := NewConv2D(3, 8, 3, 2, 1, compute.Default(), rand.New(rand.NewSource(1)))
	h, w := conv.GetOutputShape(32, 32)
	assert.Equal(t, 16, h)
	assert.Equal(t, 16, w)

	out, err := conv.Forward(tensor.New(2, 3, 32, 32))
	require.NoError(t, err)
	assert.Equal(t, []int{2, 8, 16, 16}, out.Shape)
}

func TestConv2D_RejectsWrongChannels(t *testing.T) {
	conv := NewConv2D(3, 8, 3, 1, 1, compute.Default(), rand.New(rand.NewSource(1)))
	_, err := conv.Forward(tensor.New(1, 2, 4, 4))
	assert.ErrorIs(t, err, ErrShape)
}

func TestConv2D_BackwardBeforeForward(t *testing.T) {
	conv := NewConv2D(1, 1, 3, 1, 1, compute.Default(), rand.New(rand.NewSource(1)))
	_, err := conv.Backward(tensor.New(1, 1, 3, 3))
	assert.ErrorIs(t, err, ErrNoForward)
}

func TestConv2D_Gradients(t *testing.T) {
	rng := rand.New(rand.NewSource(3))
	ctx := compute.Context{Device: compute.CPU, Precision: compute.FP64, Workers: 2}
	conv := NewConv2D(2, 3, 3, 1, 1, ctx, rng)
	x := randTensor(rng, 3, 2, 4, 4)
	checkInputGrad(t, conv, x, 1e-6)
	checkParamGrads(t, conv, x, 1e-6)
}

func TestConv2D_WorkerCountDoesNotChangeResult(t *testing.T) {
	x := randTensor(rand.New(rand.NewSource(5)), 4, 2, 5, 5)
	var outs [][]float64
	for _, workers := range []int{1, 3} {
		ctx := compute.Context{Device: compute.CPU, Precision: compute.FP64, Workers: workers}
		conv := NewConv2D(2, 2, 3, 1, 1, ctx, rand.New(rand.NewSource(9)))
		out, err := conv.Forward(x)
		require.NoError(t, err)
		outs = append(outs, out.Data)
	}
	assert.InDeltaSlice(t, outs[0], outs[1], 1e-12)
}
