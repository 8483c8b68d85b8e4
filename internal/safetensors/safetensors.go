package safetensors

import (
	"encoding/binary"
	"fmt"
	"math"
	"slices"

	"github.com/goccy/go-json"
	"github.com/samcharles93/medaiml/internal/errs"
	"github.com/x448/float16"
)

// maxHeaderLen bounds the JSON header so a corrupt length prefix cannot
// trigger a huge allocation.
const maxHeaderLen = 100 << 20

type TensorInfo struct {
	DType string
	Shape []int
	Start int64
	End   int64
}

// File is a parsed tensor archive backed by an in-memory buffer.
type File struct {
	Tensors map[string]TensorInfo
	data    []byte
}

type tensorHeader struct {
	DType       string  `json:"dtype"`
	Shape       []int   `json:"shape"`
	DataOffsets []int64 `json:"data_offsets"`
}

// Parse validates the archive layout of buf. buf is retained, not copied.
func Parse(buf []byte) (*File, error) {
	if len(buf) < 8 {
		return nil, errs.NewDeserialization("tensor archive", fmt.Errorf("buffer too short (%d bytes)", len(buf)))
	}
	headerLen := binary.LittleEndian.Uint64(buf[:8])
	if headerLen > maxHeaderLen || headerLen > uint64(len(buf)-8) {
		return nil, errs.NewDeserialization("tensor archive", fmt.Errorf("invalid header length %d", headerLen))
	}
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(buf[8:8+headerLen], &raw); err != nil {
		return nil, errs.NewDeserialization("tensor archive header", err)
	}
	delete(raw, "__metadata__")

	data := buf[8+headerLen:]
	tensors := make(map[string]TensorInfo, len(raw))
	for name, msg := range raw {
		var th tensorHeader
		if err := json.Unmarshal(msg, &th); err != nil {
			return nil, errs.NewDeserialization("tensor "+name, err)
		}
		if len(th.DataOffsets) != 2 {
			return nil, errs.NewDeserialization("tensor "+name, fmt.Errorf("invalid data_offsets"))
		}
		start, end := th.DataOffsets[0], th.DataOffsets[1]
		if start < 0 || end < start || end > int64(len(data)) {
			return nil, errs.NewDeserialization("tensor "+name, fmt.Errorf("offsets [%d,%d) outside data of %d bytes", start, end, len(data)))
		}
		tensors[name] = TensorInfo{
			DType: th.DType,
			Shape: th.Shape,
			Start: start,
			End:   end,
		}
	}
	return &File{Tensors: tensors, data: data}, nil
}

func (f *File) Tensor(name string) (TensorInfo, bool) {
	t, ok := f.Tensors[name]
	return t, ok
}

// Names returns the tensor names in lexical order.
func (f *File) Names() []string {
	names := make([]string, 0, len(f.Tensors))
	for n := range f.Tensors {
		names = append(names, n)
	}
	slices.Sort(names)
	return names
}

func (f *File) ReadTensor(name string) ([]byte, TensorInfo, error) {
	t, ok := f.Tensors[name]
	if !ok {
		return nil, TensorInfo{}, fmt.Errorf("tensor not found: %s", name)
	}
	return f.data[t.Start:t.End], t, nil
}

// ReadTensorF32 decodes a tensor to float32 regardless of its stored dtype.
func (f *File) ReadTensorF32(name string) ([]float32, TensorInfo, error) {
	raw, info, err := f.ReadTensor(name)
	if err != nil {
		return nil, TensorInfo{}, err
	}
	n, err := numElements(info.Shape)
	if err != nil {
		return nil, TensorInfo{}, errs.NewDeserialization("tensor "+name, err)
	}
	out := make([]float32, n)
	switch info.DType {
	case "F32":
		if len(raw) != n*4 {
			return nil, TensorInfo{}, errs.NewDeserialization("tensor "+name, fmt.Errorf("invalid f32 data size"))
		}
		for i := range n {
			out[i] = math.Float32frombits(binary.LittleEndian.Uint32(raw[i*4:]))
		}
	case "BF16":
		if len(raw) != n*2 {
			return nil, TensorInfo{}, errs.NewDeserialization("tensor "+name, fmt.Errorf("invalid bf16 data size"))
		}
		for i := range n {
			out[i] = math.Float32frombits(uint32(binary.LittleEndian.Uint16(raw[i*2:])) << 16)
		}
	case "F16":
		if len(raw) != n*2 {
			return nil, TensorInfo{}, errs.NewDeserialization("tensor "+name, fmt.Errorf("invalid f16 data size"))
		}
		for i := range n {
			out[i] = float16.Frombits(binary.LittleEndian.Uint16(raw[i*2:])).Float32()
		}
	default:
		return nil, TensorInfo{}, errs.NewDeserialization("tensor "+name, fmt.Errorf("unsupported dtype %s", info.DType))
	}
	return out, info, nil
}

// numElements allows a zero-rank shape (a scalar holds one element).
func numElements(shape []int) (int, error) {
	n := 1
	for _, d := range shape {
		if d < 0 {
			return 0, fmt.Errorf("invalid dim %d", d)
		}
		if d != 0 && n > (int(^uint(0)>>1))/d {
			return 0, fmt.Errorf("tensor too large")
		}
		n *= d
	}
	return n, nil
}
