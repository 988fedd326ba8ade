package titan

import (
	"encoding/binary"
	"fmt"
	"io"
	"math"
	"os"
)

// floatChunk is the number of float32 values converted per write when
// streaming weight buffers (16 KiB scratch).
const floatChunk = 4096

// Encoder serializes models to the .titan wire format. The zero value
// is not usable; construct one per sink with NewEncoder.
//
// An Encoder streams in a single forward pass and never seeks, so the
// sink may be a pipe or any other write-once destination. On error,
// partial output may already exist on the sink; the caller must treat
// it as invalid.
type Encoder struct {
	w       io.Writer
	scratch [16]byte
	floats  []byte
}

func NewEncoder(w io.Writer) *Encoder {
	return &Encoder{w: w}
}

// Encode is shorthand for NewEncoder(w).Encode(m).
func Encode(w io.Writer, m Model) (Summary, error) {
	return NewEncoder(w).Encode(m)
}

// Encode writes the header and every layer record of m, in order.
// The model is re-validated independently of whoever built it: a layer
// kind outside the closed enumeration fails with UnsupportedLayerError
// even if an adapter upstream should have caught it.
//
// An empty model is legal and produces exactly the 12 header bytes.
func (e *Encoder) Encode(m Model) (Summary, error) {
	if err := m.Validate(); err != nil {
		return Summary{}, err
	}

	if err := e.writeHeader(uint32(len(m))); err != nil {
		return Summary{}, err
	}

	var params int64
	for i, layer := range m {
		if err := e.writeLayer(layer); err != nil {
			return Summary{}, fmt.Errorf("layer %d (%s): %w", i, layer.Type(), err)
		}
		if d, ok := layer.(*Dense); ok {
			params += d.parameterCount()
		}
	}

	return Summary{Layers: len(m), Parameters: params}, nil
}

func (e *Encoder) writeHeader(layerCount uint32) error {
	buf := e.scratch[:headerSize]
	copy(buf, Magic)
	binary.LittleEndian.PutUint32(buf[4:], FormatVersion)
	binary.LittleEndian.PutUint32(buf[8:], layerCount)
	return e.write(buf)
}

func (e *Encoder) writeLayer(layer Layer) error {
	// Type id goes first so a decoder can size the record without
	// lookahead.
	if err := e.writeU32(uint32(layer.Type())); err != nil {
		return err
	}

	d, ok := layer.(*Dense)
	if !ok {
		// Activation records carry no payload.
		return nil
	}

	buf := e.scratch[:9]
	binary.LittleEndian.PutUint32(buf[0:], d.InFeatures)
	binary.LittleEndian.PutUint32(buf[4:], d.OutFeatures)
	buf[8] = 0
	if d.HasBias {
		buf[8] = 1
	}
	if err := e.write(buf); err != nil {
		return err
	}

	if err := e.writeFloats(d.Weights); err != nil {
		return err
	}
	if d.HasBias {
		if err := e.writeFloats(d.Bias); err != nil {
			return err
		}
	}
	return nil
}

func (e *Encoder) writeU32(v uint32) error {
	buf := e.scratch[:4]
	binary.LittleEndian.PutUint32(buf, v)
	return e.write(buf)
}

// writeFloats streams a float32 buffer as consecutive little-endian
// values, with no length prefix and no padding.
func (e *Encoder) writeFloats(vals []float32) error {
	if e.floats == nil {
		e.floats = make([]byte, floatChunk*4)
	}
	for len(vals) > 0 {
		n := min(len(vals), floatChunk)
		for i, v := range vals[:n] {
			binary.LittleEndian.PutUint32(e.floats[i*4:], math.Float32bits(v))
		}
		if err := e.write(e.floats[:n*4]); err != nil {
			return err
		}
		vals = vals[n:]
	}
	return nil
}

func (e *Encoder) write(p []byte) error {
	for len(p) > 0 {
		n, err := e.w.Write(p)
		if err != nil {
			return err
		}
		p = p[n:]
	}
	return nil
}

// EncodeFile encodes m to a new file at path, truncating any existing
// file. A failed encode removes the partial file so a failed export
// never leaves an output behind.
func EncodeFile(path string, m Model) (Summary, error) {
	f, err := os.Create(path)
	if err != nil {
		return Summary{}, err
	}

	sum, err := Encode(f, m)
	if err != nil {
		_ = f.Close()
		_ = os.Remove(path)
		return Summary{}, err
	}
	if err := f.Sync(); err != nil {
		_ = f.Close()
		_ = os.Remove(path)
		return Summary{}, err
	}
	if err := f.Close(); err != nil {
		_ = os.Remove(path)
		return Summary{}, err
	}
	return sum, nil
}
