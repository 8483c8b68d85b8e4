package safetensors

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"math"
	"slices"

	"github.com/goccy/go-json"
	"github.com/x448/float16"
)

// Entry is one tensor to be written by Encode.
type Entry struct {
	DType string // "F32" (default), "F16" or "BF16"
	Shape []int
	Data  []float32
}

// Encode writes entries as a safetensors archive. Tensors are laid out in
// name order and the header is space-padded to an 8 byte boundary.
func Encode(entries map[string]Entry) ([]byte, error) {
	names := make([]string, 0, len(entries))
	for n := range entries {
		names = append(names, n)
	}
	slices.Sort(names)

	header := make(map[string]tensorHeader, len(entries))
	var body []byte
	for _, name := range names {
		e := entries[name]
		n, err := numElements(e.Shape)
		if err != nil {
			return nil, fmt.Errorf("tensor %s: %w", name, err)
		}
		if n != len(e.Data) {
			return nil, fmt.Errorf("tensor %s: shape %v holds %d values, got %d", name, e.Shape, n, len(e.Data))
		}
		dtype := e.DType
		if dtype == "" {
			dtype = "F32"
		}
		start := int64(len(body))
		switch dtype {
		case "F32":
			for _, v := range e.Data {
				body = binary.LittleEndian.AppendUint32(body, math.Float32bits(v))
			}
		case "F16":
			for _, v := range e.Data {
				body = binary.LittleEndian.AppendUint16(body, float16.Fromfloat32(v).Bits())
			}
		case "BF16":
			for _, v := range e.Data {
				body = binary.LittleEndian.AppendUint16(body, uint16(math.Float32bits(v)>>16))
			}
		default:
			return nil, fmt.Errorf("tensor %s: unsupported dtype %s", name, dtype)
		}
		header[name] = tensorHeader{
			DType:       dtype,
			Shape:       slices.Clone(e.Shape),
			DataOffsets: []int64{start, int64(len(body))},
		}
	}

	hb, err := json.Marshal(header)
	if err != nil {
		return nil, err
	}
	if pad := len(hb) % 8; pad != 0 {
		hb = append(hb, bytes.Repeat([]byte{' '}, 8-pad)...)
	}

	out := make([]byte, 8, 8+len(hb)+len(body))
	binary.LittleEndian.PutUint64(out, uint64(len(hb)))
	out = append(out, hb...)
	out = append(out, body...)
	return out, nil
}
