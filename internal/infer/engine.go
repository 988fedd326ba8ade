// Package infer executes decoded models with a straightforward
// float32 forward pass. It exists so exported files can be run and
// smoke-checked without the full TitanInfer runtime.
package infer

import (
	"errors"
	"fmt"
	"math"

	"github.com/titanml/titan/pkg/titan"
)

var (
	ErrShapeMismatch = errors.New("input shape mismatch")
	ErrNaNInput      = errors.New("input contains NaN")
)

// Engine runs the forward pass of a fixed model. The model is read-only
// after construction, so one Engine may serve concurrent Predict calls;
// each call allocates its own activation buffers.
type Engine struct {
	model titan.Model
	inDim int // -1 when the model has no dense layer
}

// New validates that the model's dense layers chain: each dense layer's
// input width must equal the previous dense layer's output width, with
// activations passing width through unchanged.
func New(model titan.Model) (*Engine, error) {
	if err := model.Validate(); err != nil {
		return nil, err
	}

	inDim := -1
	width := -1
	for i, layer := range model {
		d, ok := layer.(*titan.Dense)
		if !ok {
			continue
		}
		if width >= 0 && width != int(d.InFeatures) {
			return nil, fmt.Errorf("layer %d: dense expects %d inputs but previous layer produces %d: %w",
				i, d.InFeatures, width, ErrShapeMismatch)
		}
		if inDim < 0 {
			inDim = int(d.InFeatures)
		}
		width = int(d.OutFeatures)
	}

	return &Engine{model: model, inDim: inDim}, nil
}

// InputSize returns the required input vector length, or -1 if the
// model has no dense layer and accepts any length.
func (e *Engine) InputSize() int { return e.inDim }

// Model returns the underlying model.
func (e *Engine) Model() titan.Model { return e.model }

// Predict runs the forward pass over a single input vector.
func (e *Engine) Predict(input []float32) ([]float32, error) {
	if e.inDim >= 0 && len(input) != e.inDim {
		return nil, fmt.Errorf("got %d input values, model expects %d: %w",
			len(input), e.inDim, ErrShapeMismatch)
	}
	for _, v := range input {
		if math.IsNaN(float64(v)) {
			return nil, ErrNaNInput
		}
	}

	// Work on a copy so activation layers never mutate the caller's
	// slice.
	cur := make([]float32, len(input))
	copy(cur, input)

	for _, layer := range e.model {
		switch l := layer.(type) {
		case *titan.Dense:
			cur = dense(l, cur)
		case titan.Activation:
			activate(l.Kind, cur)
		}
	}
	return cur, nil
}

func dense(d *titan.Dense, in []float32) []float32 {
	out := make([]float32, d.OutFeatures)
	for o := range out {
		row := d.Row(o)
		var sum float32
		for i, w := range row {
			sum += w * in[i]
		}
		if d.HasBias {
			sum += d.Bias[o]
		}
		out[o] = sum
	}
	return out
}

func activate(kind titan.LayerType, v []float32) {
	switch kind {
	case titan.LayerReLU:
		for i, x := range v {
			if x < 0 {
				v[i] = 0
			}
		}
	case titan.LayerSigmoid:
		for i, x := range v {
			v[i] = float32(1 / (1 + math.Exp(-float64(x))))
		}
	case titan.LayerTanh:
		for i, x := range v {
			v[i] = float32(math.Tanh(float64(x)))
		}
	case titan.LayerSoftmax:
		softmax(v)
	}
}

// softmax subtracts the max before exponentiating for numerical
// stability, then normalises.
func softmax(v []float32) {
	if len(v) == 0 {
		return
	}
	maxVal := v[0]
	for _, x := range v[1:] {
		if x > maxVal {
			maxVal = x
		}
	}
	var sum float64
	for i, x := range v {
		e := math.Exp(float64(x - maxVal))
		v[i] = float32(e)
		sum += e
	}
	for i := range v {
		v[i] = float32(float64(v[i]) / sum)
	}
}
