package titan

import "fmt"

// Layer is one entry of a sequential model. It is a closed union:
// the only implementations are *Dense and Activation.
type Layer interface {
	// Type returns the wire type id this layer serializes as.
	Type() LayerType

	sealedLayer()
}

// Model is an ordered sequence of layers. Order is the forward
// execution order and is preserved exactly on the wire. A Model is
// treated as immutable once constructed; the encoder only reads it.
type Model []Layer

// Dense is a fully-connected layer: out = W*x (+ bias).
//
// Weights are laid out output-major/input-minor: one row per output
// feature, each row holding that output's weights over all inputs.
// This matches the TitanInfer memory layout and must not be transposed.
type Dense struct {
	InFeatures  uint32
	OutFeatures uint32
	HasBias     bool

	// Weights holds OutFeatures*InFeatures values.
	Weights []float32
	// Bias holds OutFeatures values; it is non-nil iff HasBias.
	Bias []float32
}

func (*Dense) Type() LayerType { return LayerDense }
func (*Dense) sealedLayer()    {}

// Row returns the weight row for output feature i.
func (d *Dense) Row(i int) []float32 {
	in := int(d.InFeatures)
	return d.Weights[i*in : (i+1)*in]
}

func (d *Dense) parameterCount() int64 {
	n := int64(d.OutFeatures) * int64(d.InFeatures)
	if d.HasBias {
		n += int64(d.OutFeatures)
	}
	return n
}

func (d *Dense) validate() error {
	want := int(d.OutFeatures) * int(d.InFeatures)
	if len(d.Weights) != want {
		return fmt.Errorf("weight buffer has %d values, want %d (out=%d in=%d)",
			len(d.Weights), want, d.OutFeatures, d.InFeatures)
	}
	if d.HasBias {
		if len(d.Bias) != int(d.OutFeatures) {
			return fmt.Errorf("bias buffer has %d values, want %d", len(d.Bias), d.OutFeatures)
		}
	} else if d.Bias != nil {
		return fmt.Errorf("bias buffer present but has_bias is false")
	}
	return nil
}

// Activation is a stateless nonlinearity layer. It carries no
// parameters; its record on the wire is the type id alone.
type Activation struct {
	Kind LayerType
}

func (a Activation) Type() LayerType { return a.Kind }
func (Activation) sealedLayer()      {}

// Canonical activation layers.
var (
	ReLU    = Activation{LayerReLU}
	Sigmoid = Activation{LayerSigmoid}
	Tanh    = Activation{LayerTanh}
	Softmax = Activation{LayerSoftmax}
)

func (a Activation) valid() bool {
	return a.Kind >= LayerReLU && a.Kind <= LayerSoftmax
}

// Validate checks the structural invariants of every layer: weight and
// bias buffer lengths agree with declared dimensions, bias presence
// matches the flag, and every layer kind is inside the closed
// enumeration.
func (m Model) Validate() error {
	for i, layer := range m {
		switch l := layer.(type) {
		case *Dense:
			if err := l.validate(); err != nil {
				return &InvalidLayerError{Index: i, Reason: err.Error()}
			}
		case Activation:
			if !l.valid() {
				return &UnsupportedLayerError{Index: i, Kind: l.Kind.String()}
			}
		default:
			return &UnsupportedLayerError{Index: i, Kind: fmt.Sprintf("%T", layer)}
		}
	}
	return nil
}

// ParameterCount sums weight and bias counts across all dense layers.
func (m Model) ParameterCount() int64 {
	var n int64
	for _, layer := range m {
		if d, ok := layer.(*Dense); ok {
			n += d.parameterCount()
		}
	}
	return n
}

// EncodedSize returns the exact byte length Encode will produce for a
// valid model.
func (m Model) EncodedSize() int64 {
	size := int64(headerSize)
	for _, layer := range m {
		size += 4 // type id
		if d, ok := layer.(*Dense); ok {
			size += 4 + 4 + 1 + 4*d.parameterCount()
		}
	}
	return size
}
