package tensor

import (
	"math"
	"slices"

	"github.com/samcharles93/medaiml/internal/errs"
)

// Add returns a + b. Shapes must match exactly; there is no broadcasting.
func Add(a, b *Tensor) (*Tensor, error) {
	if !slices.Equal(a.Shape, b.Shape) {
		return nil, errs.NewShapeMismatch("add", a.Shape, b.Shape)
	}
	out := a.Clone()
	AddInPlace(out.Data, b.Data)
	return out, nil
}

// AddInPlace adds src to dst element-wise.
func AddInPlace(dst, src []float32) {
	for i := range dst {
		dst[i] += src[i]
	}
}

// Map returns a new tensor with f applied to every element.
func Map(t *Tensor, f func(float32) float32) *Tensor {
	out := &Tensor{Shape: slices.Clone(t.Shape), Data: make([]float32, len(t.Data))}
	for i, v := range t.Data {
		out.Data[i] = f(v)
	}
	return out
}

// Softmax applies the softmax function to x in place.
func Softmax(x []float32) {
	if len(x) == 0 {
		return
	}
	maxv := x[0]
	for i := 1; i < len(x); i++ {
		if x[i] > maxv {
			maxv = x[i]
		}
	}
	var sum float64
	for i := range x {
		v := math.Exp(float64(x[i] - maxv))
		x[i] = float32(v)
		sum += v
	}
	if sum == 0 {
		return
	}
	inv := float32(1.0 / sum)
	for i := range x {
		x[i] *= inv
	}
}

// SoftmaxLastAxis returns the softmax of t over its last axis.
func SoftmaxLastAxis(t *Tensor) *Tensor {
	out := t.Clone()
	rows, _ := out.Rows()
	for r := range rows {
		Softmax(out.Row(r))
	}
	return out
}

// LayerNorm normalizes every row of the last axis to zero mean and unit
// variance, then scales by weight and shifts by bias.
func LayerNorm(x *Tensor, weight, bias []float32, eps float32) (*Tensor, error) {
	rows, cols := x.Rows()
	if len(weight) != cols || len(bias) != cols {
		return nil, errs.NewShapeMismatch("layer norm", cols, []int{len(weight), len(bias)})
	}
	out := &Tensor{Shape: slices.Clone(x.Shape), Data: make([]float32, len(x.Data))}
	for r := range rows {
		src := x.Row(r)
		dst := out.Row(r)
		var mean float64
		for _, v := range src {
			mean += float64(v)
		}
		mean /= float64(cols)
		var variance float64
		for _, v := range src {
			d := float64(v) - mean
			variance += d * d
		}
		variance /= float64(cols)
		inv := 1 / math.Sqrt(variance+float64(eps))
		for i, v := range src {
			dst[i] = float32((float64(v)-mean)*inv)*weight[i] + bias[i]
		}
	}
	return out, nil
}

// Sigmoid computes the logistic sigmoid activation.
func Sigmoid(x float32) float32 {
	return float32(1.0 / (1.0 + math.Exp(float64(-x))))
}

func ReLU(x float32) float32 {
	if x > 0 {
		return x
	}
	return 0
}

// LeakyReLU returns a function scaling negative inputs by alpha.
func LeakyReLU(alpha float32) func(float32) float32 {
	return func(x float32) float32 {
		if x < 0 {
			return alpha * x
		}
		return x
	}
}

// GELU is the tanh approximation of the Gaussian error linear unit.
func GELU(x float32) float32 {
	const (
		sqrt2OverPi = 0.7978845608028654
		coeff       = 0.044715
	)
	v := float64(x)
	return float32(0.5 * v * (1 + math.Tanh(sqrt2OverPi*(v+coeff*v*v*v))))
}

// SplitHeads turns (batch, seq, heads*dim) into (batch, heads, seq, dim).
func SplitHeads(x *Tensor, heads int) (*Tensor, error) {
	if x.Dims() != 3 {
		return nil, errs.NewShapeMismatch("split heads rank", 3, x.Dims())
	}
	b, s, hidden := x.Shape[0], x.Shape[1], x.Shape[2]
	if heads <= 0 || hidden%heads != 0 {
		return nil, errs.NewShapeMismatch("split heads", "hidden divisible by heads", []int{hidden, heads})
	}
	d := hidden / heads
	out := New(b, heads, s, d)
	for bi := range b {
		for si := range s {
			src := x.Data[(bi*s+si)*hidden:]
			for h := range heads {
				dst := out.Data[((bi*heads+h)*s+si)*d:]
				copy(dst[:d], src[h*d:(h+1)*d])
			}
		}
	}
	return out, nil
}

// MergeHeads is the inverse of SplitHeads.
func MergeHeads(x *Tensor) (*Tensor, error) {
	if x.Dims() != 4 {
		return nil, errs.NewShapeMismatch("merge heads rank", 4, x.Dims())
	}
	b, heads, s, d := x.Shape[0], x.Shape[1], x.Shape[2], x.Shape[3]
	hidden := heads * d
	out := New(b, s, hidden)
	for bi := range b {
		for h := range heads {
			for si := range s {
				src := x.Data[((bi*heads+h)*s+si)*d:]
				dst := out.Data[(bi*s+si)*hidden+h*d:]
				copy(dst[:d], src[:d])
			}
		}
	}
	return out, nil
}

// Gather looks up rows of table (rows, width) for every id and returns a
// tensor of shape idShape + (width).
func Gather(table *Tensor, ids []int, idShape ...int) (*Tensor, error) {
	if table.Dims() != 2 {
		return nil, errs.NewShapeMismatch("gather table rank", 2, table.Dims())
	}
	if numel(idShape) != len(ids) {
		return nil, errs.NewShapeMismatch("gather ids", numel(idShape), len(ids))
	}
	rows, width := table.Shape[0], table.Shape[1]
	out := New(append(slices.Clone(idShape), width)...)
	for i, id := range ids {
		if id < 0 || id >= rows {
			return nil, errs.NewShapeMismatch("gather index", rows, id)
		}
		copy(out.Data[i*width:(i+1)*width], table.Data[id*width:(id+1)*width])
	}
	return out, nil
}

// LastPosition selects x[:, seq-1, :] from a (batch, seq, width) tensor.
func LastPosition(x *Tensor) (*Tensor, error) {
	if x.Dims() != 3 || x.Shape[1] == 0 {
		return nil, errs.NewShapeMismatch("last position", "(batch, seq>0, width)", x.Shape)
	}
	b, s, w := x.Shape[0], x.Shape[1], x.Shape[2]
	out := New(b, w)
	for bi := range b {
		copy(out.Data[bi*w:(bi+1)*w], x.Data[(bi*s+s-1)*w:(bi*s+s)*w])
	}
	return out, nil
}

// Argmax returns the index of the largest value; ties resolve to the
// lowest index. It returns -1 for an empty slice.
func Argmax(x []float32) int {
	if len(x) == 0 {
		return -1
	}
	best := 0
	for i := 1; i < len(x); i++ {
		if x[i] > x[best] {
			best = i
		}
	}
	return best
}
