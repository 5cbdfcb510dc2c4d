// Package mask builds the held-in/held-out membership vector of a run.
//
// Every example gets an independent fair coin flip, and only examples
// below the positional quota are eligible at all:
//
//	mask[i] = (u_i > 0.5) && (i < quota)
//
// With the defaults the first 10,000 of 50,000 training images are
// candidates and roughly half of them end up in the training set.
package mask

import (
	"math/rand"
)

const (
	DefaultSize  = 50000
	DefaultQuota = 10000
)

// Mask marks which training examples the model is trained on.
type Mask []bool

// Generate draws n uniforms from rng and combines the resulting coin flips
// with the quota. Identical rng state yields an identical mask.
func Generate(n, quota int, rng *rand.Rand) Mask {
	flips := make([]bool, n)
	for i := range flips {
		flips[i] = rng.Float64() > 0.5
	}
	return Combine(flips, quota)
}

// Combine applies the positional quota to precomputed coin flips.
func Combine(coinflips []bool, quota int) Mask {
	m := make(Mask, len(coinflips))
	for i, f := range coinflips {
		m[i] = f && i < quota
	}
	return m
}

// Indices returns the ascending positions of held-in examples. The slice
// is freshly allocated on every call.
func (m Mask) Indices() []int {
	idx := make([]int, 0, m.Count())
	for i, in := range m {
		if in {
			idx = append(idx, i)
		}
	}
	return idx
}

// Count is the number of held-in examples.
func (m Mask) Count() int {
	n := 0
	for _, in := range m {
		if in {
			n++
		}
	}
	return n
}

// Float64s returns the 0/1 encoding of the mask.
func (m Mask) Float64s() []float64 {
	out := make([]float64, len(m))
	for i, in := range m {
		if in {
			out[i] = 1
		}
	}
	return out
}

// Bytes returns the mask as one 0/1 byte per example.
func (m Mask) Bytes() []byte {
	out := make([]byte, len(m))
	for i, in := range m {
		if in {
			out[i] = 1
		}
	}
	return out
}

// FromBytes is the inverse of Bytes. Any non-zero byte is held in.
func FromBytes(b []byte) Mask {
	m := make(Mask, len(b))
	for i, v := range b {
		m[i] = v != 0
	}
	return m
}

// Clone returns an independent copy.
func (m Mask) Clone() Mask {
	return append(Mask(nil), m...)
}
