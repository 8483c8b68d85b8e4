package model

import (
	"context"
	"fmt"
	"math"
	"runtime"

	"github.com/samcharles93/medaiml/internal/errs"
	"github.com/samcharles93/medaiml/internal/nn"
	"github.com/samcharles93/medaiml/internal/tensor"
	"golang.org/x/sync/errgroup"
)

// Attention is multi-head self-attention over the whole sequence. There is
// no causal mask: every position attends to every other position.
type Attention struct {
	QProj, KProj, VProj, OutProj *nn.Linear
	Heads                        int
}

func loadAttention(p nn.Params, cfg *TransformerConfig) (*Attention, error) {
	h := cfg.HiddenSize
	a := &Attention{Heads: cfg.NumAttentionHeads}
	for _, proj := range []struct {
		name string
		dst  **nn.Linear
	}{
		{"q_proj", &a.QProj},
		{"k_proj", &a.KProj},
		{"v_proj", &a.VProj},
		{"out_proj", &a.OutProj},
	} {
		l, err := nn.LoadLinear(p.Pp(proj.name), h, h)
		if err != nil {
			return nil, err
		}
		*proj.dst = l
	}
	return a, nil
}

// Forward maps (batch, seq, hidden) to (batch, seq, hidden).
func (a *Attention) Forward(ctx context.Context, x *tensor.Tensor) (*tensor.Tensor, error) {
	project := func(l *nn.Linear) (*tensor.Tensor, error) {
		y, err := l.Forward(x)
		if err != nil {
			return nil, err
		}
		return tensor.SplitHeads(y, a.Heads)
	}
	q, err := project(a.QProj)
	if err != nil {
		return nil, fmt.Errorf("q_proj: %w", err)
	}
	k, err := project(a.KProj)
	if err != nil {
		return nil, fmt.Errorf("k_proj: %w", err)
	}
	v, err := project(a.VProj)
	if err != nil {
		return nil, fmt.Errorf("v_proj: %w", err)
	}

	batch, heads, seq, dim := q.Shape[0], q.Shape[1], q.Shape[2], q.Shape[3]
	scale := float32(1 / math.Sqrt(float64(dim)))
	ctxOut := tensor.New(batch, heads, seq, dim)
	block := seq * dim

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(runtime.GOMAXPROCS(0))
	for bh := range batch * heads {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			off := bh * block
			scores := make([]float32, seq*seq)
			// scores = Q·Kᵀ / sqrt(dim)
			tensor.Gemm(true, seq, seq, dim, scale, q.Data[off:off+block], k.Data[off:off+block], 0, scores)
			for r := range seq {
				tensor.Softmax(scores[r*seq : (r+1)*seq])
			}
			tensor.Gemm(false, seq, dim, seq, 1, scores, v.Data[off:off+block], 0, ctxOut.Data[off:off+block])
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	merged, err := tensor.MergeHeads(ctxOut)
	if err != nil {
		return nil, err
	}
	return a.OutProj.Forward(merged)
}

// FeedForward expands to the intermediate size, applies GELU and projects back.
type FeedForward struct {
	FC1, FC2 *nn.Linear
}

func loadFeedForward(p nn.Params, cfg *TransformerConfig) (*FeedForward, error) {
	fc1, err := nn.LoadLinear(p.Pp("fc1"), cfg.HiddenSize, cfg.IntermediateSize)
	if err != nil {
		return nil, err
	}
	fc2, err := nn.LoadLinear(p.Pp("fc2"), cfg.IntermediateSize, cfg.HiddenSize)
	if err != nil {
		return nil, err
	}
	return &FeedForward{FC1: fc1, FC2: fc2}, nil
}

func (f *FeedForward) Forward(x *tensor.Tensor) (*tensor.Tensor, error) {
	h, err := f.FC1.Forward(x)
	if err != nil {
		return nil, err
	}
	return f.FC2.Forward(tensor.Map(h, tensor.GELU))
}

// DecoderLayer is a pre-norm residual block:
//
//	h1 = x + Attention(Norm1(x))
//	h2 = h1 + FeedForward(Norm2(h1))
type DecoderLayer struct {
	SelfAttn    *Attention
	FeedForward *FeedForward
	Norm1       *nn.LayerNorm
	Norm2       *nn.LayerNorm
}

func loadDecoderLayer(p nn.Params, cfg *TransformerConfig) (*DecoderLayer, error) {
	attn, err := loadAttention(p.Pp("self_attn"), cfg)
	if err != nil {
		return nil, err
	}
	ff, err := loadFeedForward(p.Pp("feed_forward"), cfg)
	if err != nil {
		return nil, err
	}
	eps := float32(cfg.LayerNormEps)
	n1, err := nn.LoadLayerNorm(p.Pp("norm1"), cfg.HiddenSize, eps)
	if err != nil {
		return nil, err
	}
	n2, err := nn.LoadLayerNorm(p.Pp("norm2"), cfg.HiddenSize, eps)
	if err != nil {
		return nil, err
	}
	return &DecoderLayer{SelfAttn: attn, FeedForward: ff, Norm1: n1, Norm2: n2}, nil
}

func (l *DecoderLayer) Forward(ctx context.Context, x *tensor.Tensor) (*tensor.Tensor, error) {
	n1, err := l.Norm1.Forward(x)
	if err != nil {
		return nil, err
	}
	attn, err := l.SelfAttn.Forward(ctx, n1)
	if err != nil {
		return nil, fmt.Errorf("self_attn: %w", err)
	}
	h1, err := tensor.Add(x, attn)
	if err != nil {
		return nil, err
	}

	n2, err := l.Norm2.Forward(h1)
	if err != nil {
		return nil, err
	}
	ff, err := l.FeedForward.Forward(n2)
	if err != nil {
		return nil, fmt.Errorf("feed_forward: %w", err)
	}
	return tensor.Add(h1, ff)
}

// Transformer is a decoder-only language model producing per-position
// vocabulary logits.
type Transformer struct {
	Config        *TransformerConfig
	TokEmbeddings *nn.Embedding
	PosEmbeddings *nn.Embedding
	Layers        []*DecoderLayer
	Norm          *nn.LayerNorm
	LMHead        *nn.Linear
}

// NewTransformer binds every parameter of cfg to p. Any missing or
// mis-shaped parameter fails the whole construction.
func NewTransformer(cfg *TransformerConfig, p nn.Params) (*Transformer, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	tok, err := nn.LoadEmbedding(p.Pp("embeddings").Pp("word_embeddings"), cfg.VocabSize, cfg.HiddenSize)
	if err != nil {
		return nil, fmt.Errorf("build word embeddings: %w", err)
	}
	pos, err := nn.LoadEmbedding(p.Pp("embeddings").Pp("position_embeddings"), cfg.MaxPositionEmbeddings, cfg.HiddenSize)
	if err != nil {
		return nil, fmt.Errorf("build position embeddings: %w", err)
	}

	layers := make([]*DecoderLayer, 0, cfg.NumHiddenLayers)
	lp := p.Pp("decoder").Pp("layers")
	for i := range cfg.NumHiddenLayers {
		layer, err := loadDecoderLayer(lp.Index(i), cfg)
		if err != nil {
			return nil, fmt.Errorf("build decoder layer %d: %w", i, err)
		}
		layers = append(layers, layer)
	}

	norm, err := nn.LoadLayerNorm(p.Pp("layer_norm"), cfg.HiddenSize, float32(cfg.LayerNormEps))
	if err != nil {
		return nil, fmt.Errorf("build final norm: %w", err)
	}
	head, err := nn.LoadLinear(p.Pp("lm_head"), cfg.HiddenSize, cfg.VocabSize)
	if err != nil {
		return nil, fmt.Errorf("build lm_head: %w", err)
	}
	return &Transformer{
		Config:        cfg,
		TokEmbeddings: tok,
		PosEmbeddings: pos,
		Layers:        layers,
		Norm:          norm,
		LMHead:        head,
	}, nil
}

// Embed returns token plus position embeddings for a rectangular batch of
// ids, shape (batch, seq, hidden).
func (m *Transformer) Embed(ids [][]int) (*tensor.Tensor, error) {
	batch := len(ids)
	if batch == 0 || len(ids[0]) == 0 {
		return nil, errs.NewShapeMismatch("input ids", "(batch>0, seq>0)", []int{batch, 0})
	}
	seq := len(ids[0])
	if seq > m.PosEmbeddings.Rows() {
		return nil, errs.NewShapeMismatch("sequence length", fmt.Sprintf("<= %d", m.PosEmbeddings.Rows()), seq)
	}
	flat := make([]int, 0, batch*seq)
	positions := make([]int, 0, batch*seq)
	for b, row := range ids {
		if len(row) != seq {
			return nil, errs.NewShapeMismatch(fmt.Sprintf("input ids row %d", b), seq, len(row))
		}
		flat = append(flat, row...)
		for p := range seq {
			positions = append(positions, p)
		}
	}
	tok, err := m.TokEmbeddings.Forward(flat, batch, seq)
	if err != nil {
		return nil, fmt.Errorf("token embedding: %w", err)
	}
	pos, err := m.PosEmbeddings.Forward(positions, batch, seq)
	if err != nil {
		return nil, fmt.Errorf("position embedding: %w", err)
	}
	return tensor.Add(tok, pos)
}

// Forward returns logits of shape (batch, seq, vocab_size).
func (m *Transformer) Forward(ctx context.Context, ids [][]int) (*tensor.Tensor, error) {
	h, err := m.Embed(ids)
	if err != nil {
		return nil, err
	}
	for i, layer := range m.Layers {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		h, err = layer.Forward(ctx, h)
		if err != nil {
			return nil, fmt.Errorf("decoder layer %d: %w", i, err)
		}
	}
	h, err = m.Norm.Forward(h)
	if err != nil {
		return nil, err
	}
	return m.LMHead.Forward(h)
}
