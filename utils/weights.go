package utils

import (
	"encoding/json"
	"fmt"
	"os"

	"cifarmask/nn/layers"
	"cifarmask/tensor"

	"github.com/pkg/errors"
)

// WeightsVersion tags the checkpoint layout.
const WeightsVersion = "cifarmask-weights-1"

// WeightData represents serializable data for one tensor
type WeightData struct {
	Name  string    `json:"name"`
	Shape []int     `json:"shape"`
	Data  []float64 `json:"data"`
}

// ModelWeights is a checkpoint: trainable parameters followed by buffers
// (batchnorm running statistics), both in layer order.
type ModelWeights struct {
	Version string        `json:"version"`
	Params  []*WeightData `json:"params"`
	Buffers []*WeightData `json:"buffers"`
}

// CollectWeights snapshots params and buffers.
func CollectWeights(params, buffers []*layers.Param) *ModelWeights {
	mw := &ModelWeights{Version: WeightsVersion}
	for i, p := range params {
		mw.Params = append(mw.Params, TensorToWeightData(fmt.Sprintf("%d.%s", i, p.Name), p.Value))
	}
	for i, b := range buffers {
		mw.Buffers = append(mw.Buffers, TensorToWeightData(fmt.Sprintf("%d.%s", i, b.Name), b.Value))
	}
	return mw
}

// ApplyWeights copies a checkpoint into params and buffers in place. The
// model must have the same layout as the one the checkpoint came from.
func ApplyWeights(mw *ModelWeights, params, buffers []*layers.Param) error {
	if mw.Version != WeightsVersion {
		return errors.Errorf("unsupported weights version %q", mw.Version)
	}
	if err := applyAll("param", mw.Params, params); err != nil {
		return err
	}
	return applyAll("buffer", mw.Buffers, buffers)
}

func applyAll(kind string, src []*WeightData, dst []*layers.Param) error {
	if len(src) != len(dst) {
		return errors.Errorf("checkpoint has %d %ss, model has %d", len(src), kind, len(dst))
	}
	for i, wd := range src {
		if len(wd.Data) != len(dst[i].Value.Data) || tensor.SizeOf(wd.Shape) != len(wd.Data) {
			return errors.Errorf("%s %s: checkpoint shape %v, model shape %v", kind, wd.Name, wd.Shape, dst[i].Value.Shape)
		}
		copy(dst[i].Value.Data, wd.Data)
	}
	return nil
}

// SaveWeights saves model weights to a JSON file
func SaveWeights(filepath string, weights *ModelWeights) error {
	data, err := json.Marshal(weights)
	if err != nil {
		return errors.Wrap(err, "failed to marshal weights")
	}
	return errors.Wrap(os.WriteFile(filepath, data, 0644), "failed to write weights")
}

// LoadWeights loads model weights from a JSON file
func LoadWeights(filepath string) (*ModelWeights, error) {
	data, err := os.ReadFile(filepath)
	if err != nil {
		return nil, errors.Wrap(err, "failed to read weights file")
	}
	var weights ModelWeights
	if err := json.Unmarshal(data, &weights); err != nil {
		return nil, errors.Wrap(err, "failed to unmarshal weights")
	}
	return &weights, nil
}

// TensorToWeightData converts a tensor to serializable weight data
func TensorToWeightData(name string, t *tensor.Tensor) *WeightData {
	return &WeightData{
		Name:  name,
		Shape: append([]int{}, t.Shape...),
		Data:  append([]float64{}, t.Data...), // copy
	}
}

// WeightDataToTensor converts weight data back to a tensor
func WeightDataToTensor(wd *WeightData) *tensor.Tensor {
	t := tensor.New(wd.Shape...)
	copy(t.Data, wd.Data)
	return t
}
