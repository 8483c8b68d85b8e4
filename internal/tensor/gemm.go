package tensor

import (
	"slices"

	"github.com/samcharles93/medaiml/internal/errs"
	"gonum.org/v1/gonum/blas"
	"gonum.org/v1/gonum/blas/blas32"
)

// Gemm computes c = alpha*a·op(b) + beta*c over row-major buffers. a is m×k.
// b is k×n, or n×k when transB is set. c is m×n.
func Gemm(transB bool, m, n, k int, alpha float32, a, b []float32, beta float32, c []float32) {
	if m == 0 || n == 0 {
		return
	}
	if k == 0 {
		for i := range c[:m*n] {
			c[i] *= beta
		}
		return
	}
	tb := blas.NoTrans
	bm := blas32.General{Rows: k, Cols: n, Stride: n, Data: b}
	if transB {
		tb = blas.Trans
		bm = blas32.General{Rows: n, Cols: k, Stride: k, Data: b}
	}
	blas32.Gemm(blas.NoTrans, tb, alpha,
		blas32.General{Rows: m, Cols: k, Stride: k, Data: a},
		bm,
		beta,
		blas32.General{Rows: m, Cols: n, Stride: n, Data: c},
	)
}

// Linear applies x·wᵀ + bias over the last axis of x. w is (out, in) and
// bias, when present, has out elements.
func Linear(x, w *Tensor, bias []float32) (*Tensor, error) {
	if w.Dims() != 2 {
		return nil, errs.NewShapeMismatch("linear weight rank", 2, w.Dims())
	}
	outF, inF := w.Shape[0], w.Shape[1]
	if x.Dims() == 0 || x.Dim(-1) != inF {
		return nil, errs.NewShapeMismatch("linear input features", inF, x.Shape)
	}
	if bias != nil && len(bias) != outF {
		return nil, errs.NewShapeMismatch("linear bias", outF, len(bias))
	}
	rows, _ := x.Rows()
	shape := slices.Clone(x.Shape)
	shape[len(shape)-1] = outF
	out := New(shape...)
	if bias != nil {
		for r := range rows {
			copy(out.Data[r*outF:(r+1)*outF], bias)
		}
	}
	beta := float32(0)
	if bias != nil {
		beta = 1
	}
	Gemm(true, rows, outF, inF, 1, x.Data, w.Data, beta, out.Data)
	return out, nil
}
