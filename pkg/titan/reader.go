package titan

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"io"
	"math"
	"os"

	"golang.org/x/sys/unix"
)

// Decode reads a complete .titan stream from r and reconstructs the
// model. The stream must end exactly at the last layer record; trailing
// bytes are treated as corruption.
func Decode(r io.Reader) (Model, error) {
	m, err := decodeModel(r)
	if err != nil {
		return nil, err
	}

	// A conformant file has nothing after the final record. Reading
	// past a no-bias dense record into a following type id is the
	// classic decoder bug this guards against.
	var trail [1]byte
	if n, err := io.ReadFull(r, trail[:]); n != 0 || err != io.EOF {
		return nil, fmt.Errorf("%w: %d trailing bytes after last layer record", ErrCorruptFile, n)
	}
	return m, nil
}

// DecodeFile maps path read-only and decodes it. If mmap is
// unavailable the whole file is read into memory instead. All float
// data is copied out, so no mapping outlives the call.
func DecodeFile(path string) (Model, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer func() { _ = f.Close() }()

	stat, err := f.Stat()
	if err != nil {
		return nil, err
	}
	size64 := stat.Size()
	if size64 < headerSize {
		return nil, ErrCorruptFile
	}
	if size64 > int64(int(^uint(0)>>1)) {
		return nil, ErrCorruptFile
	}

	data, err := unix.Mmap(int(f.Fd()), 0, int(size64), unix.PROT_READ, unix.MAP_SHARED)
	if err != nil {
		// Fallback path that does not require mmap support.
		fallback, rerr := io.ReadAll(f)
		if rerr != nil {
			return nil, rerr
		}
		return Decode(bytes.NewReader(fallback))
	}
	defer func() { _ = unix.Munmap(data) }()

	return Decode(bytes.NewReader(data))
}

func decodeModel(r io.Reader) (Model, error) {
	var hdr [headerSize]byte
	if _, err := io.ReadFull(r, hdr[:]); err != nil {
		return nil, fmt.Errorf("%w: short header", ErrCorruptFile)
	}
	if string(hdr[:4]) != Magic {
		return nil, ErrInvalidMagic
	}
	version := binary.LittleEndian.Uint32(hdr[4:])
	if version > FormatVersion {
		return nil, fmt.Errorf("%w: file version %d, max supported %d",
			ErrUnsupportedVersion, version, FormatVersion)
	}
	layerCount := binary.LittleEndian.Uint32(hdr[8:])

	// Grow the model as records arrive rather than trusting the
	// declared count for allocation; a corrupt count should fail on
	// the first short read, not on make().
	var m Model
	for i := uint32(0); i < layerCount; i++ {
		layer, err := decodeLayer(r, int(i))
		if err != nil {
			return nil, err
		}
		m = append(m, layer)
	}
	return m, nil
}

func decodeLayer(r io.Reader, index int) (Layer, error) {
	typeID, err := readU32(r)
	if err != nil {
		return nil, fmt.Errorf("%w: short read in layer %d type id", ErrCorruptFile, index)
	}

	switch LayerType(typeID) {
	case LayerDense:
		return decodeDense(r, index)
	case LayerReLU, LayerSigmoid, LayerTanh, LayerSoftmax:
		return Activation{LayerType(typeID)}, nil
	default:
		return nil, &UnsupportedLayerError{Index: index, Kind: LayerType(typeID).String()}
	}
}

func decodeDense(r io.Reader, index int) (*Dense, error) {
	var buf [9]byte
	if _, err := io.ReadFull(r, buf[:]); err != nil {
		return nil, fmt.Errorf("%w: short read in layer %d dense fields", ErrCorruptFile, index)
	}
	d := &Dense{
		InFeatures:  binary.LittleEndian.Uint32(buf[0:]),
		OutFeatures: binary.LittleEndian.Uint32(buf[4:]),
	}
	switch buf[8] {
	case 0:
	case 1:
		d.HasBias = true
	default:
		return nil, fmt.Errorf("%w: layer %d has_bias byte is %d, want 0 or 1",
			ErrCorruptFile, index, buf[8])
	}

	weightCount := uint64(d.InFeatures) * uint64(d.OutFeatures)
	if weightCount > uint64(int(^uint(0)>>1))/4 {
		return nil, fmt.Errorf("%w: layer %d weight count overflows", ErrCorruptFile, index)
	}

	d.Weights = make([]float32, weightCount)
	if err := readFloats(r, d.Weights); err != nil {
		return nil, fmt.Errorf("%w: short read in layer %d weights", ErrCorruptFile, index)
	}
	if d.HasBias {
		d.Bias = make([]float32, d.OutFeatures)
		if err := readFloats(r, d.Bias); err != nil {
			return nil, fmt.Errorf("%w: short read in layer %d bias", ErrCorruptFile, index)
		}
	}
	return d, nil
}

func readU32(r io.Reader) (uint32, error) {
	var buf [4]byte
	if _, err := io.ReadFull(r, buf[:]); err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint32(buf[:]), nil
}

// readFloats fills dst from consecutive little-endian float32 values,
// preserving bit patterns exactly (NaN payloads included).
func readFloats(r io.Reader, dst []float32) error {
	buf := make([]byte, min(len(dst), floatChunk)*4)
	for len(dst) > 0 {
		n := min(len(dst), floatChunk)
		if _, err := io.ReadFull(r, buf[:n*4]); err != nil {
			return err
		}
		for i := range n {
			dst[i] = math.Float32frombits(binary.LittleEndian.Uint32(buf[i*4:]))
		}
		dst = dst[n:]
	}
	return nil
}
