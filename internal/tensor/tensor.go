// Package tensor is the small n-dimensional float32 array runtime the
// classifier and transformer are evaluated on. Arrays are dense and
// row-major; matrix products are delegated to gonum's blas32.
package tensor

import (
	"fmt"
	"slices"

	"github.com/samcharles93/medaiml/internal/errs"
)

// Tensor is a dense row-major array. len(Data) always equals the product of
// Shape.
type Tensor struct {
	Shape []int
	Data  []float32
}

// New allocates a zeroed tensor.
func New(shape ...int) *Tensor {
	n := 1
	for _, d := range shape {
		if d < 0 {
			panic("negative dimension for tensor")
		}
		n *= d
	}
	return &Tensor{Shape: slices.Clone(shape), Data: make([]float32, n)}
}

// FromData wraps data without copying it.
func FromData(data []float32, shape ...int) (*Tensor, error) {
	if n := numel(shape); n != len(data) {
		return nil, errs.NewShapeMismatch("tensor data", n, len(data))
	}
	return &Tensor{Shape: slices.Clone(shape), Data: data}, nil
}

func (t *Tensor) Dims() int { return len(t.Shape) }

// Dim returns the size of axis i; negative i counts from the end.
func (t *Tensor) Dim(i int) int {
	if i < 0 {
		i += len(t.Shape)
	}
	return t.Shape[i]
}

func (t *Tensor) Len() int { return len(t.Data) }

func (t *Tensor) Clone() *Tensor {
	return &Tensor{Shape: slices.Clone(t.Shape), Data: slices.Clone(t.Data)}
}

// Reshape returns a view with a new shape over the same data. One dimension
// may be -1 and is inferred.
func (t *Tensor) Reshape(shape ...int) (*Tensor, error) {
	shape = slices.Clone(shape)
	infer := -1
	known := 1
	for i, d := range shape {
		switch {
		case d == -1 && infer < 0:
			infer = i
		case d < 0:
			return nil, fmt.Errorf("reshape %v: invalid dimension %d", shape, d)
		default:
			known *= d
		}
	}
	if infer >= 0 {
		if known == 0 || len(t.Data)%known != 0 {
			return nil, errs.NewShapeMismatch("reshape", shape, t.Shape)
		}
		shape[infer] = len(t.Data) / known
	}
	if numel(shape) != len(t.Data) {
		return nil, errs.NewShapeMismatch("reshape", shape, t.Shape)
	}
	return &Tensor{Shape: shape, Data: t.Data}, nil
}

// Rows views t as a matrix of (product of leading dims) x (last dim).
func (t *Tensor) Rows() (rows, cols int) {
	if len(t.Shape) == 0 {
		return 1, 1
	}
	cols = t.Shape[len(t.Shape)-1]
	if cols == 0 {
		return 0, 0
	}
	return len(t.Data) / cols, cols
}

// Row returns a view of row i of the Rows() matrix.
func (t *Tensor) Row(i int) []float32 {
	_, c := t.Rows()
	return t.Data[i*c : (i+1)*c]
}

func (t *Tensor) String() string {
	return fmt.Sprintf("Tensor%v", t.Shape)
}

func numel(shape []int) int {
	n := 1
	for _, d := range shape {
		n *= d
	}
	return n
}
