package nn

import (
	"cifarmask/nn/layers"
	"cifarmask/tensor"
)

// GradScaler implements dynamic loss scaling for reduced precision
// backward passes. The loss gradient is multiplied by Scale before
// backprop; parameter gradients are divided by it before the optimizer
// step. Steps with overflowed gradients are skipped and the scale backs off.
type GradScaler struct {
	Enabled        bool
	Scale          float64
	GrowthFactor   float64
	BackoffFactor  float64
	GrowthInterval int

	growthTracker int
}

// NewGradScaler returns a scaler with the usual defaults. A disabled
// scaler is a no-op that reports every step finite.
func NewGradScaler(enabled bool) *GradScaler {
	return &GradScaler{
		Scale:          65536,
		GrowthFactor:   2,
		BackoffFactor:  0.5,
		GrowthInterval: 2000,
		Enabled:        enabled,
	}
}

// ScaleGrad multiplies the loss gradient in place.
func (g *GradScaler) ScaleGrad(grad *tensor.Tensor) {
	if g.Enabled {
		grad.Scale(g.Scale)
	}
}

// Unscale divides parameter gradients by the scale and reports whether
// all of them are finite.
func (g *GradScaler) Unscale(params []*layers.Param) bool {
	finite := true
	for _, p := range params {
		if g.Enabled {
			p.Grad.Scale(1 / g.Scale)
		}
		if !tensor.AllFinite(p.Grad.Data) {
			finite = false
		}
	}
	return finite
}

// Update adjusts the scale after a step.
func (g *GradScaler) Update(finite bool) {
	if !g.Enabled {
		return
	}
	if !finite {
		g.Scale *= g.BackoffFactor
		g.growthTracker = 0
		return
	}
	g.growthTracker++
	if g.growthTracker == g.GrowthInterval {
		g.Scale *= g.GrowthFactor
		g.growthTracker = 0
	}
}
