package utils

import (
	"path/filepath"
	"testing"

	"cifarmask/nn/layers"
	"cifarmask/tensor"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTensorToWeightData(t *testing.T) {
	ten := tensor.New(2, 3)
	for i := range ten.Data {
		ten.Data[i] = float64(i) * 0.5
	}
	wd := TensorToWeightData("test_weight", ten)
	assert.Equal(t, "test_weight", wd.Name)
	assert.Equal(t, []int{2, 3}, wd.Shape)
	assert.Equal(t, ten.Data, wd.Data)

	ten.Data[0] = 99
	assert.Equal(t, 0.0, wd.Data[0], "weight data must be a copy")
}

func TestWeightDataToTensor(t *testing.T) {
	wd := &WeightData{Name: "test", Shape: []int{3, 4}, Data: make([]float64, 12)}
	for i := range wd.Data {
		wd.Data[i] = float64(i)
	}
	ten := WeightDataToTensor(wd)
	assert.Equal(t, []int{3, 4}, ten.Shape)
	assert.Equal(t, wd.Data, ten.Data)
}

func testParams(vals ...float64) []*layers.Param {
	var ps []*layers.Param
	for _, v := range vals {
		ps = append(ps, &layers.Param{Name: "w", Value: tensor.NewWithData([]float64{v, v + 1}), Grad: tensor.New(2)})
	}
	return ps
}

func TestSaveLoadApplyWeights(t *testing.T) {
	path := filepath.Join(t.TempDir(), "weights.json")
	params, buffers := testParams(1, 3), testParams(5)
	require.NoError(t, SaveWeights(path, CollectWeights(params, buffers)))

	loaded, err := LoadWeights(path)
	require.NoError(t, err)
	assert.Len(t, loaded.Params, 2)
	assert.Equal(t, "1.w", loaded.Params[1].Name)

	dstP, dstB := testParams(0, 0), testParams(0)
	require.NoError(t, ApplyWeights(loaded, dstP, dstB))
	assert.Equal(t, []float64{3, 4}, dstP[1].Value.Data)
	assert.Equal(t, []float64{5, 6}, dstB[0].Value.Data)
}

func TestApplyWeightsMismatch(t *testing.T) {
	mw := CollectWeights(testParams(1), nil)
	assert.Error(t, ApplyWeights(mw, testParams(1, 2), nil))

	wrongShape := []*layers.Param{{Name: "w", Value: tensor.New(3), Grad: tensor.New(3)}}
	assert.Error(t, ApplyWeights(mw, wrongShape, nil))

	mw.Version = "other"
	assert.Error(t, ApplyWeights(mw, testParams(1), nil))
}

func TestLoadWeightsMissing(t *testing.T) {
	_, err := LoadWeights(filepath.Join(t.TempDir(), "nope.json"))
	assert.Error(t, err)
}
