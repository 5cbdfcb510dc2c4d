package nn

import (
	"math/rand"

	"cifarmask/core/ckkswrapper"
	"cifarmask/core/compute"
	"cifarmask/nn/arch"
	"cifarmask/nn/layers"

	"github.com/pkg/errors"
)

// Build materializes specs into runnable layers. Weights are drawn from rng.
// On a CKKS context the linear head is additionally keyed for encrypted
// evaluation.
func Build(specs []arch.Spec, ctx compute.Context, rng *rand.Rand) (*Sequential, error) {
	mods, err := buildLayers(specs, ctx, rng)
	if err != nil {
		return nil, err
	}
	model := &Sequential{Layers: mods}
	if ctx.Encrypted() {
		if err := model.EnableHE(ckkswrapper.NewHeContext()); err != nil {
			return nil, errors.Wrap(err, "enable ckks")
		}
	}
	return model, nil
}

func buildLayers(specs []arch.Spec, ctx compute.Context, rng *rand.Rand) ([]Module, error) {
	var mods []Module
	for _, s := range specs {
		switch s := s.(type) {
		case arch.ConvBN:
			mods = append(mods,
				layers.NewConv2D(s.In, s.Out, s.Kernel, s.Stride, s.Padding, ctx, rng),
				layers.NewBatchNorm2D(s.Out, ctx),
				layers.NewReLU(),
			)
		case arch.Residual:
			body, err := buildLayers(s.Body, ctx, rng)
			if err != nil {
				return nil, errors.Wrap(err, "residual body")
			}
			mods = append(mods, layers.NewResidualBlock(body, ctx))
		case arch.MaxPool:
			mods = append(mods, layers.NewMaxPool2D(s.Size))
		case arch.GlobalMaxPool:
			mods = append(mods, layers.NewGlobalMaxPool())
		case arch.Flatten:
			mods = append(mods, layers.NewFlatten())
		case arch.Linear:
			mods = append(mods, layers.NewLinear(s.In, s.Out, false, ctx, rng))
		case arch.Scale:
			mods = append(mods, layers.NewMul(s.Weight, ctx))
		default:
			return nil, errors.Errorf("unsupported layer spec %T", s)
		}
	}
	return mods, nil
}
