package utils

import (
	"encoding/base64"
	"encoding/json"
	"os"

	"cifarmask/mask"

	"github.com/pkg/errors"
)

// ResultFile is the on-disk form of a run: the mask packed as base64 0/1
// bytes, per-example margins and confidences in superset order, and the
// configuration that produced them.
type ResultFile struct {
	Masks        string    `json:"masks"`
	Margins      []float64 `json:"margins"`
	Confidences  []float64 `json:"confidences"`
	TestAccuracy *float64  `json:"test_accuracy,omitempty"`
	Config       Config    `json:"config"`
}

// NewResultFile packs a run result.
func NewResultFile(m mask.Mask, margins, confidences []float64, cfg Config) *ResultFile {
	return &ResultFile{
		Masks:       EncodeBytes(m.Bytes()),
		Margins:     margins,
		Confidences: confidences,
		Config:      cfg,
	}
}

// Mask decodes the packed mask.
func (r *ResultFile) Mask() (mask.Mask, error) {
	b, err := DecodeBytes(r.Masks)
	if err != nil {
		return nil, errors.Wrap(err, "decode mask")
	}
	return mask.FromBytes(b), nil
}

// SaveResult writes r as JSON.
func SaveResult(path string, r *ResultFile) error {
	data, err := json.Marshal(r)
	if err != nil {
		return errors.Wrap(err, "marshal result")
	}
	return errors.Wrapf(os.WriteFile(path, data, 0644), "write %s", path)
}

// LoadResult reads a result file and checks that its vectors line up.
func LoadResult(path string) (*ResultFile, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrap(err, "read result")
	}
	var r ResultFile
	if err := json.Unmarshal(data, &r); err != nil {
		return nil, errors.Wrapf(err, "parse %s", path)
	}
	if len(r.Margins) != len(r.Confidences) {
		return nil, errors.Errorf("%s: %d margins but %d confidences", path, len(r.Margins), len(r.Confidences))
	}
	return &r, nil
}

// EncodeBytes encodes raw bytes to base64 string
func EncodeBytes(data []byte) string {
	return base64.StdEncoding.EncodeToString(data)
}

// DecodeBytes decodes base64 string to raw bytes
func DecodeBytes(encoded string) ([]byte, error) {
	return base64.StdEncoding.DecodeString(encoded)
}
