package mask

import (
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCombineSmallCase(t *testing.T) {
	m := Combine([]bool{true, false, true, true}, 2)
	assert.Equal(t, Mask{true, false, false, false}, m)
	assert.Equal(t, []int{0}, m.Indices())
	assert.Equal(t, []float64{1, 0, 0, 0}, m.Float64s())
}

func TestGenerateRespectsQuota(t *testing.T) {
	m := Generate(DefaultSize, DefaultQuota, rand.New(rand.NewSource(0)))
	require.Len(t, m, DefaultSize)
	for i, in := range m {
		if in {
			require.Less(t, i, DefaultQuota, "index %d held in past quota", i)
		}
	}
	// roughly half of the eligible examples
	assert.InDelta(t, DefaultQuota/2, m.Count(), 300)
}

func TestGenerateDeterministic(t *testing.T) {
	a := Generate(1000, 500, rand.New(rand.NewSource(17)))
	b := Generate(1000, 500, rand.New(rand.NewSource(17)))
	c := Generate(1000, 500, rand.New(rand.NewSource(18)))
	assert.Equal(t, a, b)
	assert.NotEqual(t, a, c)
}

func TestQuotaLargerThanSize(t *testing.T) {
	m := Combine([]bool{true, true}, 10)
	assert.Equal(t, 2, m.Count())
}

func TestIndicesIsACopy(t *testing.T) {
	m := Combine([]bool{true, true, false}, 3)
	idx := m.Indices()
	idx[0] = 99
	assert.Equal(t, []int{0, 1}, m.Indices())
}

func TestBytesRoundTrip(t *testing.T) {
	m := Combine([]bool{true, false, true}, 3)
	assert.Equal(t, []byte{1, 0, 1}, m.Bytes())
	assert.Equal(t, m, FromBytes(m.Bytes()))
	assert.Equal(t, m, m.Clone())
}
