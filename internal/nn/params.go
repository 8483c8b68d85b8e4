// Package nn holds the building blocks the classifier and the transformer
// are assembled from: a hierarchical parameter lookup, activations, and the
// dense, embedding and normalization layers.
package nn

import (
	"fmt"
	"math"
	"math/rand"
	"slices"
	"strconv"
	"sync"

	"github.com/samcharles93/medaiml/internal/errs"
	"github.com/samcharles93/medaiml/internal/safetensors"
	"github.com/samcharles93/medaiml/internal/tensor"
)

// InitKind selects how a freshly initialized parameter is filled.
type InitKind uint8

const (
	InitConst InitKind = iota
	InitUniform
	InitNormal
)

// Init is the fill rule used when a parameter is created rather than loaded.
type Init struct {
	Kind  InitKind
	Value float32 // constant, uniform bound or normal stddev
}

func Const(v float32) Init      { return Init{Kind: InitConst, Value: v} }
func Uniform(bound float32) Init { return Init{Kind: InitUniform, Value: bound} }
func Normal(std float32) Init    { return Init{Kind: InitNormal, Value: std} }

// Source resolves a full parameter path to a tensor of exactly shape.
type Source interface {
	Tensor(path string, shape []int, init Init) (*tensor.Tensor, error)
}

// MissingParameterError reports a path absent from the parameter source.
type MissingParameterError struct {
	Path string
}

func (e *MissingParameterError) Error() string {
	return fmt.Sprintf("parameter %q not found", e.Path)
}

func (e *MissingParameterError) Is(target error) bool { return target == errs.ErrDeserialization }

// Params is a view of a Source rooted at a dotted path prefix.
type Params struct {
	src    Source
	prefix string
}

func NewParams(src Source) Params {
	return Params{src: src}
}

// Pp pushes one path segment.
func (p Params) Pp(name string) Params {
	return Params{src: p.src, prefix: p.Path(name)}
}

// Index pushes a numeric path segment, as in "layers.3".
func (p Params) Index(i int) Params {
	return p.Pp(strconv.Itoa(i))
}

// Path returns the full dotted path of name under p.
func (p Params) Path(name string) string {
	if p.prefix == "" {
		return name
	}
	return p.prefix + "." + name
}

func (p Params) Prefix() string { return p.prefix }

// Get resolves name under p. A missing path or a shape that differs from
// shape is a construction error.
func (p Params) Get(name string, init Init, shape ...int) (*tensor.Tensor, error) {
	return p.src.Tensor(p.Path(name), shape, init)
}

// ArchiveSource serves parameters from a parsed tensor archive.
type ArchiveSource struct {
	file *safetensors.File
}

func FromArchive(f *safetensors.File) *ArchiveSource {
	return &ArchiveSource{file: f}
}

func (s *ArchiveSource) Tensor(path string, shape []int, _ Init) (*tensor.Tensor, error) {
	info, ok := s.file.Tensor(path)
	if !ok {
		return nil, &MissingParameterError{Path: path}
	}
	if !slices.Equal(info.Shape, shape) {
		return nil, errs.NewShapeMismatch("parameter "+path, shape, info.Shape)
	}
	data, _, err := s.file.ReadTensorF32(path)
	if err != nil {
		return nil, err
	}
	return tensor.FromData(data, shape...)
}

// InitSource creates parameters on first use from a seeded generator and
// remembers them, so a model built from it can be exported as an archive.
type InitSource struct {
	mu     sync.Mutex
	rng    *rand.Rand
	params map[string]*tensor.Tensor
}

func NewInitSource(seed int64) *InitSource {
	return &InitSource{
		rng:    rand.New(rand.NewSource(seed)),
		params: make(map[string]*tensor.Tensor),
	}
}

func (s *InitSource) Tensor(path string, shape []int, init Init) (*tensor.Tensor, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if t, ok := s.params[path]; ok {
		if !slices.Equal(t.Shape, shape) {
			return nil, errs.NewShapeMismatch("parameter "+path, shape, t.Shape)
		}
		return t, nil
	}
	t := tensor.New(shape...)
	for i := range t.Data {
		switch init.Kind {
		case InitConst:
			t.Data[i] = init.Value
		case InitUniform:
			t.Data[i] = (2*s.rng.Float32() - 1) * init.Value
		case InitNormal:
			t.Data[i] = float32(s.rng.NormFloat64()) * init.Value
		}
	}
	s.params[path] = t
	return t, nil
}

// Entries returns every created parameter in archive form.
func (s *InitSource) Entries() map[string]safetensors.Entry {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[string]safetensors.Entry, len(s.params))
	for name, t := range s.params {
		out[name] = safetensors.Entry{DType: "F32", Shape: slices.Clone(t.Shape), Data: slices.Clone(t.Data)}
	}
	return out
}

// fanInBound is the kaiming-uniform bound used for dense layers.
func fanInBound(in int) float32 {
	if in <= 0 {
		return 0
	}
	return float32(1 / math.Sqrt(float64(in)))
}
