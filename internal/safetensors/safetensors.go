// Package safetensors reads tensors from safetensors files, converting
// numeric data to float32 on the way out.
package safetensors

import (
	"encoding/binary"
	"fmt"
	"io"
	"math"
	"os"

	"github.com/goccy/go-json"
)

// TensorInfo describes one tensor as declared in the file header.
type TensorInfo struct {
	DType string
	Shape []int
	Start int64
	End   int64
}

// File is an open safetensors file. It must be closed after use.
type File struct {
	f         *os.File
	dataStart int64
	tensors   map[string]TensorInfo
}

type tensorHeader struct {
	DType       string  `json:"dtype"`
	Shape       []int   `json:"shape"`
	DataOffsets []int64 `json:"data_offsets"`
}

// Open parses the header of a safetensors file and keeps the file open
// for tensor reads.
func Open(path string) (*File, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}

	var lenBuf [8]byte
	if _, err := io.ReadFull(f, lenBuf[:]); err != nil {
		_ = f.Close()
		return nil, fmt.Errorf("safetensors: read header length: %w", err)
	}
	headerLen := binary.LittleEndian.Uint64(lenBuf[:])
	if headerLen > 100<<20 {
		_ = f.Close()
		return nil, fmt.Errorf("safetensors: unreasonable header length %d", headerLen)
	}

	headerBytes := make([]byte, headerLen)
	if _, err := io.ReadFull(f, headerBytes); err != nil {
		_ = f.Close()
		return nil, fmt.Errorf("safetensors: read header: %w", err)
	}

	var raw map[string]json.RawMessage
	if err := json.Unmarshal(headerBytes, &raw); err != nil {
		_ = f.Close()
		return nil, fmt.Errorf("safetensors: parse header: %w", err)
	}
	delete(raw, "__metadata__")

	tensors := make(map[string]TensorInfo, len(raw))
	for name, msg := range raw {
		var th tensorHeader
		if err := json.Unmarshal(msg, &th); err != nil {
			_ = f.Close()
			return nil, fmt.Errorf("safetensors: tensor %s: %w", name, err)
		}
		if len(th.DataOffsets) != 2 || th.DataOffsets[1] < th.DataOffsets[0] {
			_ = f.Close()
			return nil, fmt.Errorf("safetensors: tensor %s: invalid data_offsets", name)
		}
		tensors[name] = TensorInfo{
			DType: th.DType,
			Shape: th.Shape,
			Start: th.DataOffsets[0],
			End:   th.DataOffsets[1],
		}
	}

	return &File{
		f:         f,
		dataStart: int64(8 + headerLen),
		tensors:   tensors,
	}, nil
}

func (f *File) Close() error { return f.f.Close() }

// Tensor returns the header entry for name.
func (f *File) Tensor(name string) (TensorInfo, bool) {
	t, ok := f.tensors[name]
	return t, ok
}

// ReadF32 reads the named tensor and converts it to float32.
//
// Supported dtypes are F32, F16, BF16 and F64. F16 and BF16 widen
// exactly; F64 narrows with Go's float64-to-float32 conversion, which
// rounds to nearest, ties to even.
func (f *File) ReadF32(name string) ([]float32, TensorInfo, error) {
	info, ok := f.tensors[name]
	if !ok {
		return nil, TensorInfo{}, fmt.Errorf("safetensors: tensor not found: %s", name)
	}

	n, err := numElements(info.Shape)
	if err != nil {
		return nil, TensorInfo{}, fmt.Errorf("safetensors: tensor %s: %w", name, err)
	}

	elemSize, conv, err := converterFor(info.DType)
	if err != nil {
		return nil, TensorInfo{}, fmt.Errorf("safetensors: tensor %s: %w", name, err)
	}
	if info.End-info.Start != int64(n)*int64(elemSize) {
		return nil, TensorInfo{}, fmt.Errorf("safetensors: tensor %s: data size %d does not match shape %v (%s)",
			name, info.End-info.Start, info.Shape, info.DType)
	}

	raw := make([]byte, info.End-info.Start)
	if _, err := f.f.ReadAt(raw, f.dataStart+info.Start); err != nil {
		return nil, TensorInfo{}, fmt.Errorf("safetensors: read tensor %s: %w", name, err)
	}

	out := make([]float32, n)
	for i := 0; i < n; i++ {
		out[i] = conv(raw[i*elemSize:])
	}
	return out, info, nil
}

func converterFor(dtype string) (int, func([]byte) float32, error) {
	switch dtype {
	case "F32":
		return 4, func(b []byte) float32 {
			return math.Float32frombits(binary.LittleEndian.Uint32(b))
		}, nil
	case "F64":
		return 8, func(b []byte) float32 {
			return float32(math.Float64frombits(binary.LittleEndian.Uint64(b)))
		}, nil
	case "F16":
		return 2, func(b []byte) float32 {
			return fp16ToF32(binary.LittleEndian.Uint16(b))
		}, nil
	case "BF16":
		return 2, func(b []byte) float32 {
			return bf16ToF32(binary.LittleEndian.Uint16(b))
		}, nil
	default:
		return 0, nil, fmt.Errorf("unsupported dtype %s", dtype)
	}
}

func numElements(shape []int) (int, error) {
	n := 1
	for _, d := range shape {
		if d < 0 {
			return 0, fmt.Errorf("negative dimension %d", d)
		}
		n *= d
	}
	return n, nil
}

// bf16ToF32 widens a bfloat16 value. bfloat16 is the top half of a
// float32, so this is exact.
func bf16ToF32(u uint16) float32 {
	return math.Float32frombits(uint32(u) << 16)
}

// fp16ToF32 widens an IEEE 754 half-precision value. Every f16 value is
// representable as f32, so this is exact as well.
func fp16ToF32(u uint16) float32 {
	sign := uint32(u>>15) & 1
	exp := uint32(u>>10) & 0x1f
	frac := uint32(u) & 0x3ff

	switch exp {
	case 0:
		if frac == 0 {
			return math.Float32frombits(sign << 31)
		}
		// Subnormal: renormalise into the f32 exponent range.
		e := uint32(127 - 15 + 1)
		for frac&0x400 == 0 {
			frac <<= 1
			e--
		}
		frac &= 0x3ff
		return math.Float32frombits(sign<<31 | e<<23 | frac<<13)
	case 0x1f:
		return math.Float32frombits(sign<<31 | 0xff<<23 | frac<<13)
	default:
		return math.Float32frombits(sign<<31 | (exp+127-15)<<23 | frac<<13)
	}
}
