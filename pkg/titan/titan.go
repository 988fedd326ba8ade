// Package titan implements the .titan model interchange format.
//
// A .titan file is a flat little-endian serialization of a sequential
// feed-forward network: a fixed header followed by one record per layer,
// in forward-execution order. It describes structure and weights only
// and never implies runtime behaviour.
package titan

import "fmt"

// Format constants must never change for version 1.
const (
	// Magic is the file magic for all .titan files, encoded as "TITN".
	Magic = "TITN"

	// FormatVersion is the current format version. Any change to the
	// layer enumeration or record layouts requires a bump.
	FormatVersion uint32 = 1

	// headerSize is the fixed byte length of the file header:
	// 4 magic + 4 version + 4 layer count.
	headerSize = 12
)

// LayerType identifies a layer record on the wire. The enumeration is a
// closed, versioned contract shared with the TitanInfer runtime.
type LayerType uint32

const (
	LayerDense   LayerType = 1
	LayerReLU    LayerType = 2
	LayerSigmoid LayerType = 3
	LayerTanh    LayerType = 4
	LayerSoftmax LayerType = 5
)

func (t LayerType) String() string {
	switch t {
	case LayerDense:
		return "dense"
	case LayerReLU:
		return "relu"
	case LayerSigmoid:
		return "sigmoid"
	case LayerTanh:
		return "tanh"
	case LayerSoftmax:
		return "softmax"
	default:
		return fmt.Sprintf("type(%d)", uint32(t))
	}
}

// Summary reports what a successful encode produced.
type Summary struct {
	// Layers is the number of layer records written.
	Layers int
	// Parameters is the total weight plus bias element count across
	// all dense layers.
	Parameters int64
}
