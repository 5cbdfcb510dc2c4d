package loader

import (
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
)

func ramp(n int) []float64 {
	img := make([]float64, n)
	for i := range img {
		img[i] = float64(i)
	}
	return img
}

func TestRandomHorizontalFlip(t *testing.T) {
	img := ramp(6) // 1 channel, 2x3
	RandomHorizontalFlip{P: 1}.Apply(img, 1, 2, 3, rand.New(rand.NewSource(0)))
	assert.Equal(t, []float64{2, 1, 0, 5, 4, 3}, img)

	img = ramp(6)
	RandomHorizontalFlip{P: 0}.Apply(img, 1, 2, 3, rand.New(rand.NewSource(0)))
	assert.Equal(t, ramp(6), img)
}

func TestRandomTranslate(t *testing.T) {
	const p = 2
	for seed := int64(0); seed < 20; seed++ {
		ref := rand.New(rand.NewSource(seed))
		dy := ref.Intn(2*p+1) - p
		dx := ref.Intn(2*p+1) - p

		img := ramp(2 * 4 * 4)
		RandomTranslate{Padding: p, Fill: []float64{-1, -2}}.Apply(img, 2, 4, 4, rand.New(rand.NewSource(seed)))
		for ch := 0; ch < 2; ch++ {
			for y := 0; y < 4; y++ {
				for x := 0; x < 4; x++ {
					sy, sx := y+dy, x+dx
					want := float64(-1 - ch)
					if sy >= 0 && sy < 4 && sx >= 0 && sx < 4 {
						want = float64((ch*4+sy)*4 + sx)
					}
					assert.Equal(t, want, img[(ch*4+y)*4+x], "seed %d ch %d (%d,%d)", seed, ch, y, x)
				}
			}
		}
	}
}

func TestCutoutStaysInside(t *testing.T) {
	rng := rand.New(rand.NewSource(3))
	for i := 0; i < 50; i++ {
		img := ramp(3 * 8 * 8)
		Cutout{Size: 4, Fill: []float64{-7}}.Apply(img, 3, 8, 8, rng)
		filled := 0
		for _, v := range img {
			if v == -7 {
				filled++
			}
		}
		assert.Equal(t, 3*16, filled)
	}
}

func TestNormalize(t *testing.T) {
	img := []float64{10, 20, 30, 40}
	Normalize{Mean: []float64{10, 20}, Std: []float64{2, 4}}.Apply(img, 2, 1, 2, nil)
	assert.Equal(t, []float64{0, 5, 2.5, 5}, img)
}

func TestEvalPipelineIsDeterministic(t *testing.T) {
	a, b := ramp(12), ramp(12)
	EvalPipeline().Apply(a, 3, 2, 2, rand.New(rand.NewSource(1)))
	EvalPipeline().Apply(b, 3, 2, 2, rand.New(rand.NewSource(2)))
	assert.Equal(t, a, b)
	assert.InDelta(t, (0-CIFARMean[0])/CIFARStd[0], a[0], 1e-12)
}
