// Package manifest loads the JSON description of a sequential model
// and adapts it, together with its safetensors weights, into the
// in-memory form the titan encoder consumes.
package manifest

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/goccy/go-json"

	"github.com/titanml/titan/internal/safetensors"
	"github.com/titanml/titan/pkg/titan"
)

// FormatSequential is the only model topology the .titan format can
// represent: a linear ordered stack of layers.
const FormatSequential = "sequential"

// Manifest is the on-disk JSON description of a model to export.
type Manifest struct {
	Format  string      `json:"format"`
	Weights string      `json:"weights"`
	Layers  []LayerSpec `json:"layers"`
}

// LayerSpec describes one layer entry. Dense layers name their weight
// tensors; activation layers carry only a type.
type LayerSpec struct {
	Type        string `json:"type"`
	InFeatures  uint32 `json:"in_features"`
	OutFeatures uint32 `json:"out_features"`
	Bias        bool   `json:"bias"`
	Weights     string `json:"weights"`
	BiasWeights string `json:"bias_weights"`
}

// ShapeMismatchError reports a tensor whose stored shape disagrees with
// the manifest's declared dimensions. Declared dimensions are
// authoritative for the export; the stored shape is only a cross-check,
// so a mismatch means the upstream model is malformed.
type ShapeMismatchError struct {
	Index  int
	Tensor string
	Want   []int
	Got    []int
}

func (e *ShapeMismatchError) Error() string {
	return fmt.Sprintf("layer %d: tensor %q has shape %v, declared dimensions require %v",
		e.Index, e.Tensor, e.Got, e.Want)
}

// Load reads and parses a manifest file. A manifest whose format is not
// "sequential" fails with titan.ErrNotSequential.
func Load(path string) (*Manifest, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var m Manifest
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("parse manifest %s: %w", path, err)
	}
	if m.Format != FormatSequential {
		return nil, fmt.Errorf("%w: manifest format is %q", titan.ErrNotSequential, m.Format)
	}
	if m.Weights == "" && hasDense(m.Layers) {
		return nil, fmt.Errorf("manifest %s: dense layers present but no weights file named", path)
	}
	return &m, nil
}

func hasDense(layers []LayerSpec) bool {
	for _, l := range layers {
		if strings.EqualFold(l.Type, "dense") {
			return true
		}
	}
	return false
}

// Adapt projects the manifest into a titan.Model in a single ordered
// pass. The first layer outside the supported set aborts the whole
// adaptation; no partial model is returned. Inputs are never mutated.
//
// dir anchors the manifest's relative weights path.
func Adapt(m *Manifest, dir string) (titan.Model, error) {
	var weights *safetensors.File
	if m.Weights != "" {
		path := m.Weights
		if !filepath.IsAbs(path) {
			path = filepath.Join(dir, path)
		}
		f, err := safetensors.Open(path)
		if err != nil {
			return nil, fmt.Errorf("open weights: %w", err)
		}
		defer func() { _ = f.Close() }()
		weights = f
	}

	model := make(titan.Model, 0, len(m.Layers))
	for i, spec := range m.Layers {
		layer, err := adaptLayer(weights, i, spec)
		if err != nil {
			return nil, err
		}
		model = append(model, layer)
	}
	return model, nil
}

func adaptLayer(weights *safetensors.File, index int, spec LayerSpec) (titan.Layer, error) {
	switch strings.ToLower(spec.Type) {
	case "dense", "linear":
		return adaptDense(weights, index, spec)
	case "relu":
		return titan.ReLU, nil
	case "sigmoid":
		return titan.Sigmoid, nil
	case "tanh":
		return titan.Tanh, nil
	case "softmax":
		return titan.Softmax, nil
	default:
		return nil, &titan.UnsupportedLayerError{Index: index, Kind: spec.Type}
	}
}

func adaptDense(weights *safetensors.File, index int, spec LayerSpec) (*titan.Dense, error) {
	if weights == nil {
		return nil, fmt.Errorf("layer %d: dense layer but no weights file", index)
	}

	weightName := spec.Weights
	if weightName == "" {
		weightName = fmt.Sprintf("layers.%d.weight", index)
	}
	vals, info, err := weights.ReadF32(weightName)
	if err != nil {
		return nil, fmt.Errorf("layer %d: %w", index, err)
	}

	// Dimensions come from the declaration, never from the tensor; the
	// stored shape only verifies it. Weight tensors are stored
	// output-major, so the expected shape is [out, in].
	wantShape := []int{int(spec.OutFeatures), int(spec.InFeatures)}
	if !shapeEqual(info.Shape, wantShape) {
		return nil, &ShapeMismatchError{Index: index, Tensor: weightName, Want: wantShape, Got: info.Shape}
	}

	d := &titan.Dense{
		InFeatures:  spec.InFeatures,
		OutFeatures: spec.OutFeatures,
		HasBias:     spec.Bias,
		Weights:     vals,
	}

	if spec.Bias {
		biasName := spec.BiasWeights
		if biasName == "" {
			biasName = fmt.Sprintf("layers.%d.bias", index)
		}
		bias, biasInfo, err := weights.ReadF32(biasName)
		if err != nil {
			return nil, fmt.Errorf("layer %d: %w", index, err)
		}
		if !shapeEqual(biasInfo.Shape, []int{int(spec.OutFeatures)}) {
			return nil, &ShapeMismatchError{
				Index:  index,
				Tensor: biasName,
				Want:   []int{int(spec.OutFeatures)},
				Got:    biasInfo.Shape,
			}
		}
		d.Bias = bias
	}
	return d, nil
}

func shapeEqual(a, b []int) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
