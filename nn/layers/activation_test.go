package layers

import (
	"testing"

	"cifarmask/core/compute"
	"cifarmask/tensor"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestReLU(t *testing.T) {
	r := NewReLU()
	out, err := r.Forward(tensor.NewWithData([]float64{-2, 0, 3}))
	require.NoError(t, err)
	assert.Equal(t, []float64{0, 0, 3}, out.Data)

	g, err := r.Backward(tensor.NewWithData([]float64{1, 1, 1}))
	require.NoError(t, err)
	assert.Equal(t, []float64{0, 0, 1}, g.Data)
}

func TestMul(t *testing.T) {
	m := NewMul(0.125, compute.Default())
	x := tensor.NewWithData([]float64{8, -16})
	out, err := m.Forward(x)
	require.NoError(t, err)
	assert.Equal(t, []float64{1, -2}, out.Data)
	assert.Equal(t, []float64{8, -16}, x.Data, "input untouched")

	g, err := m.Backward(tensor.NewWithData([]float64{1, 2}))
	require.NoError(t, err)
	assert.Equal(t, []float64{0.125, 0.25}, g.Data)
}

func TestMulRoundsToHalf(t *testing.T) {
	m := NewMul(1000, compute.Context{Device: compute.CPU, Precision: compute.FP16})
	out, err := m.Forward(tensor.NewWithData([]float64{100}))
	require.NoError(t, err)
	assert.True(t, out.Data[0] > 65504, "overflow to +Inf expected, got %v", out.Data[0])
}
