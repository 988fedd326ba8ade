package titan

import (
	"bytes"
	"encoding/binary"
	"errors"
	"math"
	"os"
	"path/filepath"
	"testing"
)

func testModel() Model {
	return Model{
		&Dense{
			InFeatures:  4,
			OutFeatures: 8,
			HasBias:     true,
			Weights:     ramp(32, 0.5),
			Bias:        ramp(8, -1),
		},
		ReLU,
		&Dense{
			InFeatures:  8,
			OutFeatures: 1,
			Weights:     ramp(8, 2),
		},
		Sigmoid,
	}
}

func ramp(n int, start float32) []float32 {
	out := make([]float32, n)
	for i := range out {
		out[i] = start + float32(i)*0.25
	}
	return out
}

func TestEmptyModelHeaderInvariant(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	sum, err := Encode(&buf, Model{})
	if err != nil {
		t.Fatalf("encode empty model: %v", err)
	}
	if sum.Layers != 0 || sum.Parameters != 0 {
		t.Fatalf("summary: got %+v want zero", sum)
	}

	want := []byte{'T', 'I', 'T', 'N', 1, 0, 0, 0, 0, 0, 0, 0}
	if !bytes.Equal(buf.Bytes(), want) {
		t.Fatalf("empty model bytes: got %x want %x", buf.Bytes(), want)
	}

	m, err := Decode(bytes.NewReader(buf.Bytes()))
	if err != nil {
		t.Fatalf("decode empty model: %v", err)
	}
	if len(m) != 0 {
		t.Fatalf("decoded layers: got %d want 0", len(m))
	}
}

func TestEncodeDeterministic(t *testing.T) {
	t.Parallel()

	m := testModel()
	var a, b bytes.Buffer
	if _, err := Encode(&a, m); err != nil {
		t.Fatalf("first encode: %v", err)
	}
	if _, err := Encode(&b, m); err != nil {
		t.Fatalf("second encode: %v", err)
	}
	if !bytes.Equal(a.Bytes(), b.Bytes()) {
		t.Fatalf("encoding is not deterministic")
	}
}

func TestDenseRecordLayout(t *testing.T) {
	t.Parallel()

	weights := ramp(6, 10)
	m := Model{&Dense{
		InFeatures:  3,
		OutFeatures: 2,
		HasBias:     true,
		Weights:     weights,
		Bias:        []float32{0.5, -0.5},
	}}

	var buf bytes.Buffer
	if _, err := Encode(&buf, m); err != nil {
		t.Fatalf("encode: %v", err)
	}

	// 4 type + 4 in + 4 out + 1 bias flag + 2*3*4 weights + 2*4 bias.
	record := buf.Bytes()[12:]
	if len(record) != 45 {
		t.Fatalf("dense record length: got %d want 45", len(record))
	}
	if got := binary.LittleEndian.Uint32(record[0:]); got != uint32(LayerDense) {
		t.Fatalf("type id: got %d want %d", got, LayerDense)
	}
	if got := binary.LittleEndian.Uint32(record[4:]); got != 3 {
		t.Fatalf("in_features: got %d want 3", got)
	}
	if got := binary.LittleEndian.Uint32(record[8:]); got != 2 {
		t.Fatalf("out_features: got %d want 2", got)
	}
	if record[12] != 1 {
		t.Fatalf("has_bias: got %d want 1", record[12])
	}

	// First weight value is output feature 0's first input weight.
	first := math.Float32frombits(binary.LittleEndian.Uint32(record[13:]))
	if first != weights[0] {
		t.Fatalf("first weight: got %v want %v", first, weights[0])
	}
}

func TestNoBiasOmitsBiasBlock(t *testing.T) {
	t.Parallel()

	m := Model{
		&Dense{InFeatures: 2, OutFeatures: 2, Weights: ramp(4, 1)},
		Tanh,
	}
	var buf bytes.Buffer
	if _, err := Encode(&buf, m); err != nil {
		t.Fatalf("encode: %v", err)
	}

	// Header + (4+4+4+1+16) dense record + 4-byte tanh record.
	if got := buf.Len(); got != 12+29+4 {
		t.Fatalf("file length: got %d want %d", got, 12+29+4)
	}

	// The bytes right after the weight block must be the next record's
	// type id, not a bias block.
	if got := binary.LittleEndian.Uint32(buf.Bytes()[12+29:]); got != uint32(LayerTanh) {
		t.Fatalf("record after no-bias dense: got type %d want %d", got, LayerTanh)
	}

	decoded, err := Decode(bytes.NewReader(buf.Bytes()))
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	d, ok := decoded[0].(*Dense)
	if !ok || d.HasBias || d.Bias != nil {
		t.Fatalf("decoded dense layer should have no bias: %+v", decoded[0])
	}
}

func TestRoundTripPreservesBitPatterns(t *testing.T) {
	t.Parallel()

	// Includes a quiet NaN with payload, negative zero, and denormals;
	// the codec must not normalise any of them.
	exact := []uint32{
		0x7fc00001,
		0x80000000,
		0x00000001,
		0xff800000,
	}
	weights := make([]float32, 4)
	for i, bits := range exact {
		weights[i] = math.Float32frombits(bits)
	}
	m := Model{&Dense{InFeatures: 2, OutFeatures: 2, Weights: weights}}

	var buf bytes.Buffer
	if _, err := Encode(&buf, m); err != nil {
		t.Fatalf("encode: %v", err)
	}
	decoded, err := Decode(bytes.NewReader(buf.Bytes()))
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	got := decoded[0].(*Dense).Weights
	for i, bits := range exact {
		if math.Float32bits(got[i]) != bits {
			t.Fatalf("weight %d bits: got %08x want %08x", i, math.Float32bits(got[i]), bits)
		}
	}
}

func TestFileRoundTripEndToEnd(t *testing.T) {
	t.Parallel()

	m := testModel()
	path := filepath.Join(t.TempDir(), "model.titan")

	sum, err := EncodeFile(path, m)
	if err != nil {
		t.Fatalf("encode file: %v", err)
	}
	if sum.Layers != 4 {
		t.Fatalf("layer count: got %d want 4", sum.Layers)
	}
	if sum.Parameters != 48 {
		t.Fatalf("parameter count: got %d want 48", sum.Parameters)
	}

	info, err := os.Stat(path)
	if err != nil {
		t.Fatalf("stat: %v", err)
	}
	if info.Size() != m.EncodedSize() {
		t.Fatalf("file size: got %d want %d", info.Size(), m.EncodedSize())
	}

	decoded, err := DecodeFile(path)
	if err != nil {
		t.Fatalf("decode file: %v", err)
	}
	if len(decoded) != len(m) {
		t.Fatalf("decoded layers: got %d want %d", len(decoded), len(m))
	}
	for i, layer := range m {
		if decoded[i].Type() != layer.Type() {
			t.Fatalf("layer %d type: got %s want %s", i, decoded[i].Type(), layer.Type())
		}
	}
	want := m[0].(*Dense)
	got := decoded[0].(*Dense)
	if got.InFeatures != want.InFeatures || got.OutFeatures != want.OutFeatures || !got.HasBias {
		t.Fatalf("dense 0 shape: got %+v", got)
	}
	for i := range want.Weights {
		if math.Float32bits(got.Weights[i]) != math.Float32bits(want.Weights[i]) {
			t.Fatalf("dense 0 weight %d mismatch", i)
		}
	}
	for i := range want.Bias {
		if math.Float32bits(got.Bias[i]) != math.Float32bits(want.Bias[i]) {
			t.Fatalf("dense 0 bias %d mismatch", i)
		}
	}
}

func TestEncodeRejectsUnsupportedLayer(t *testing.T) {
	t.Parallel()

	m := Model{ReLU, Activation{Kind: LayerType(9)}}
	var buf bytes.Buffer
	_, err := Encode(&buf, m)
	var ule *UnsupportedLayerError
	if !errors.As(err, &ule) {
		t.Fatalf("want UnsupportedLayerError, got %v", err)
	}
	if ule.Index != 1 {
		t.Fatalf("offending index: got %d want 1", ule.Index)
	}
	if buf.Len() != 0 {
		t.Fatalf("rejected encode wrote %d bytes", buf.Len())
	}
}

func TestEncodeFileRemovesPartialOutput(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "bad.titan")
	_, err := EncodeFile(path, Model{Activation{Kind: LayerType(42)}})
	if err == nil {
		t.Fatalf("expected error")
	}
	if _, statErr := os.Stat(path); !os.IsNotExist(statErr) {
		t.Fatalf("failed export left a file behind: %v", statErr)
	}
}

func TestEncodeRejectsMismatchedBuffers(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name  string
		layer *Dense
	}{
		{"short weights", &Dense{InFeatures: 3, OutFeatures: 2, Weights: ramp(5, 0)}},
		{"missing bias", &Dense{InFeatures: 2, OutFeatures: 2, HasBias: true, Weights: ramp(4, 0)}},
		{"bias without flag", &Dense{InFeatures: 2, OutFeatures: 2, Weights: ramp(4, 0), Bias: ramp(2, 0)}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			var ile *InvalidLayerError
			_, err := Encode(&bytes.Buffer{}, Model{tc.layer})
			if !errors.As(err, &ile) {
				t.Fatalf("want InvalidLayerError, got %v", err)
			}
		})
	}
}

func TestDecodeRejectsBadHeader(t *testing.T) {
	t.Parallel()

	valid := func() []byte {
		var buf bytes.Buffer
		if _, err := Encode(&buf, testModel()); err != nil {
			t.Fatalf("encode: %v", err)
		}
		return buf.Bytes()
	}

	t.Run("bad magic", func(t *testing.T) {
		t.Parallel()
		data := valid()
		data[0] = 'X'
		if _, err := Decode(bytes.NewReader(data)); !errors.Is(err, ErrInvalidMagic) {
			t.Fatalf("want ErrInvalidMagic, got %v", err)
		}
	})

	t.Run("future version", func(t *testing.T) {
		t.Parallel()
		data := valid()
		binary.LittleEndian.PutUint32(data[4:], FormatVersion+1)
		if _, err := Decode(bytes.NewReader(data)); !errors.Is(err, ErrUnsupportedVersion) {
			t.Fatalf("want ErrUnsupportedVersion, got %v", err)
		}
	})

	t.Run("truncated", func(t *testing.T) {
		t.Parallel()
		data := valid()
		if _, err := Decode(bytes.NewReader(data[:len(data)-3])); !errors.Is(err, ErrCorruptFile) {
			t.Fatalf("want ErrCorruptFile, got %v", err)
		}
	})

	t.Run("trailing bytes", func(t *testing.T) {
		t.Parallel()
		data := append(valid(), 0xAA)
		if _, err := Decode(bytes.NewReader(data)); !errors.Is(err, ErrCorruptFile) {
			t.Fatalf("want ErrCorruptFile, got %v", err)
		}
	})
}

func TestDecodeRejectsUnknownTypeID(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	if _, err := Encode(&buf, Model{ReLU}); err != nil {
		t.Fatalf("encode: %v", err)
	}
	data := buf.Bytes()
	binary.LittleEndian.PutUint32(data[12:], 6)

	_, err := Decode(bytes.NewReader(data))
	var ule *UnsupportedLayerError
	if !errors.As(err, &ule) {
		t.Fatalf("want UnsupportedLayerError, got %v", err)
	}
	if ule.Index != 0 {
		t.Fatalf("offending index: got %d want 0", ule.Index)
	}
}

func TestDecodeRejectsBadBiasFlag(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	if _, err := Encode(&buf, Model{&Dense{InFeatures: 1, OutFeatures: 1, Weights: ramp(1, 0)}}); err != nil {
		t.Fatalf("encode: %v", err)
	}
	data := buf.Bytes()
	data[12+12] = 2 // has_bias byte inside the dense record

	if _, err := Decode(bytes.NewReader(data)); !errors.Is(err, ErrCorruptFile) {
		t.Fatalf("want ErrCorruptFile, got %v", err)
	}
}
