package nn

import (
	"fmt"

	"github.com/samcharles93/medaiml/internal/errs"
	"github.com/samcharles93/medaiml/internal/tensor"
)

// Linear is a dense layer computing x·Wᵀ + b with W stored (out, in).
type Linear struct {
	Weight *tensor.Tensor
	Bias   []float32
}

// LoadLinear binds "<p>.weight" (out, in) and "<p>.bias" (out).
func LoadLinear(p Params, in, out int) (*Linear, error) {
	bound := fanInBound(in)
	w, err := p.Get("weight", Uniform(bound), out, in)
	if err != nil {
		return nil, err
	}
	b, err := p.Get("bias", Uniform(bound), out)
	if err != nil {
		return nil, err
	}
	return &Linear{Weight: w, Bias: b.Data}, nil
}

func (l *Linear) In() int  { return l.Weight.Shape[1] }
func (l *Linear) Out() int { return l.Weight.Shape[0] }

func (l *Linear) Forward(x *tensor.Tensor) (*tensor.Tensor, error) {
	return tensor.Linear(x, l.Weight, l.Bias)
}

// Embedding maps integer ids to rows of a (n, dim) table.
type Embedding struct {
	Table *tensor.Tensor
}

func LoadEmbedding(p Params, n, dim int) (*Embedding, error) {
	w, err := p.Get("weight", Normal(1), n, dim)
	if err != nil {
		return nil, err
	}
	return &Embedding{Table: w}, nil
}

func (e *Embedding) Rows() int { return e.Table.Shape[0] }

// Forward looks up ids laid out as shape and returns shape + (dim).
func (e *Embedding) Forward(ids []int, shape ...int) (*tensor.Tensor, error) {
	return tensor.Gather(e.Table, ids, shape...)
}

// LayerNorm normalizes over the last axis.
type LayerNorm struct {
	Weight []float32
	Bias   []float32
	Eps    float32
}

func LoadLayerNorm(p Params, dim int, eps float32) (*LayerNorm, error) {
	if eps <= 0 {
		return nil, fmt.Errorf("layer norm %s: eps must be positive: %w", p.Prefix(), errs.ErrInvalidInput)
	}
	w, err := p.Get("weight", Const(1), dim)
	if err != nil {
		return nil, err
	}
	b, err := p.Get("bias", Const(0), dim)
	if err != nil {
		return nil, err
	}
	return &LayerNorm{Weight: w.Data, Bias: b.Data, Eps: eps}, nil
}

func (n *LayerNorm) Forward(x *tensor.Tensor) (*tensor.Tensor, error) {
	return tensor.LayerNorm(x, n.Weight, n.Bias, n.Eps)
}
