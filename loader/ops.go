package loader

import (
	"math/rand"
)

// CIFAR channel statistics on the 0..255 pixel scale.
var (
	CIFARMean = []float64{125.307, 122.961, 113.8575}
	CIFARStd  = []float64{51.5865, 50.847, 51.255}
)

// Op transforms one CHW image in place. Ops that need randomness draw from
// rng, which is owned by the batch being assembled.
type Op interface {
	Apply(img []float64, c, h, w int, rng *rand.Rand)
}

// Pipeline applies its ops in order.
type Pipeline []Op

func (p Pipeline) Apply(img []float64, c, h, w int, rng *rand.Rand) {
	for _, op := range p {
		op.Apply(img, c, h, w, rng)
	}
}

// RandomHorizontalFlip mirrors the image left to right with probability P.
type RandomHorizontalFlip struct {
	P float64
}

func (f RandomHorizontalFlip) Apply(img []float64, c, h, w int, rng *rand.Rand) {
	if rng.Float64() >= f.P {
		return
	}
	for row := 0; row < c*h; row++ {
		line := img[row*w : (row+1)*w]
		for i, j := 0, w-1; i < j; i, j = i+1, j-1 {
			line[i], line[j] = line[j], line[i]
		}
	}
}

// RandomTranslate pads the image by Padding on every side with the
// per-channel Fill value and crops a random h x w window back out.
type RandomTranslate struct {
	Padding int
	Fill    []float64
}

func (t RandomTranslate) Apply(img []float64, c, h, w int, rng *rand.Rand) {
	p := t.Padding
	if p <= 0 {
		return
	}
	dy := rng.Intn(2*p+1) - p
	dx := rng.Intn(2*p+1) - p
	src := append([]float64(nil), img...)
	for ch := 0; ch < c; ch++ {
		fill := channelValue(t.Fill, ch)
		for y := 0; y < h; y++ {
			sy := y + dy
			for x := 0; x < w; x++ {
				sx := x + dx
				v := fill
				if sy >= 0 && sy < h && sx >= 0 && sx < w {
					v = src[(ch*h+sy)*w+sx]
				}
				img[(ch*h+y)*w+x] = v
			}
		}
	}
}

// Cutout overwrites a random Size x Size square, fully inside the image,
// with the per-channel Fill value.
type Cutout struct {
	Size int
	Fill []float64
}

func (ct Cutout) Apply(img []float64, c, h, w int, rng *rand.Rand) {
	s := ct.Size
	if s <= 0 || s > h || s > w {
		return
	}
	y0 := rng.Intn(h - s + 1)
	x0 := rng.Intn(w - s + 1)
	for ch := 0; ch < c; ch++ {
		fill := channelValue(ct.Fill, ch)
		for y := y0; y < y0+s; y++ {
			row := img[(ch*h+y)*w:]
			for x := x0; x < x0+s; x++ {
				row[x] = fill
			}
		}
	}
}

// Normalize maps every channel to (v - Mean) / Std.
type Normalize struct {
	Mean []float64
	Std  []float64
}

func (n Normalize) Apply(img []float64, c, h, w int, _ *rand.Rand) {
	hw := h * w
	for ch := 0; ch < c; ch++ {
		m, s := channelValue(n.Mean, ch), channelValue(n.Std, ch)
		if s == 0 {
			s = 1
		}
		plane := img[ch*hw : (ch+1)*hw]
		for i, v := range plane {
			plane[i] = (v - m) / s
		}
	}
}

func channelValue(vals []float64, ch int) float64 {
	switch {
	case len(vals) == 0:
		return 0
	case ch < len(vals):
		return vals[ch]
	default:
		return vals[len(vals)-1]
	}
}

// TrainPipeline is flip, translate and cutout followed by normalization.
func TrainPipeline() Pipeline {
	return Pipeline{
		RandomHorizontalFlip{P: 0.5},
		RandomTranslate{Padding: 2, Fill: CIFARMean},
		Cutout{Size: 4, Fill: CIFARMean},
		Normalize{Mean: CIFARMean, Std: CIFARStd},
	}
}

// EvalPipeline only normalizes.
func EvalPipeline() Pipeline {
	return Pipeline{Normalize{Mean: CIFARMean, Std: CIFARStd}}
}
