package titan

import (
	"errors"
	"fmt"
)

var (
	ErrInvalidMagic       = errors.New("invalid .titan magic")
	ErrUnsupportedVersion = errors.New("unsupported .titan format version")
	ErrCorruptFile        = errors.New("corrupt .titan file")
	ErrNotSequential      = errors.New("model is not a sequential layer stack")
)

// UnsupportedLayerError reports a layer outside the closed type
// enumeration, with its position in the model for diagnosability.
type UnsupportedLayerError struct {
	Index int
	Kind  string
}

func (e *UnsupportedLayerError) Error() string {
	return fmt.Sprintf("unsupported layer type %q at layer %d", e.Kind, e.Index)
}

// InvalidLayerError reports a layer whose declared dimensions and
// buffer lengths disagree.
type InvalidLayerError struct {
	Index  int
	Reason string
}

func (e *InvalidLayerError) Error() string {
	return fmt.Sprintf("invalid layer %d: %s", e.Index, e.Reason)
}
