package nn

import (
	"math"
	"testing"

	"cifarmask/nn/layers"
	"cifarmask/tensor"

	"github.com/stretchr/testify/assert"
)

func TestGradScalerUnscale(t *testing.T) {
	g := NewGradScaler(true)
	grad := tensor.NewWithData([]float64{1})
	g.ScaleGrad(grad)
	assert.Equal(t, 65536.0, grad.Data[0])

	p := newTestParam(0, 65536*0.25)
	assert.True(t, g.Unscale([]*layers.Param{p}))
	assert.Equal(t, 0.25, p.Grad.Data[0])
}

func TestGradScalerBackoff(t *testing.T) {
	g := NewGradScaler(true)
	p := newTestParam(0, math.Inf(1))
	finite := g.Unscale([]*layers.Param{p})
	assert.False(t, finite)
	g.Update(finite)
	assert.Equal(t, 32768.0, g.Scale)
}

func TestGradScalerGrowth(t *testing.T) {
	g := NewGradScaler(true)
	g.GrowthInterval = 3
	for i := 0; i < 3; i++ {
		g.Update(true)
	}
	assert.Equal(t, 131072.0, g.Scale)
	g.Update(false)
	g.Update(true)
	g.Update(true)
	assert.Equal(t, 65536.0, g.Scale, "backoff resets the growth tracker")
}

func TestGradScalerDisabled(t *testing.T) {
	g := NewGradScaler(false)
	grad := tensor.NewWithData([]float64{3})
	g.ScaleGrad(grad)
	assert.Equal(t, 3.0, grad.Data[0])
	g.Update(false)
	assert.Equal(t, 65536.0, g.Scale)
	assert.False(t, g.Unscale([]*layers.Param{newTestParam(0, math.NaN())}))
}
