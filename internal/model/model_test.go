package model

import (
	"context"
	"math"
	"testing"

	"github.com/samcharles93/medaiml/internal/errs"
	"github.com/samcharles93/medaiml/internal/nn"
	"github.com/samcharles93/medaiml/internal/safetensors"
	"github.com/samcharles93/medaiml/internal/tensor"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func tinyTransformerConfig() *TransformerConfig {
	return &TransformerConfig{
		VocabSize:             50,
		HiddenSize:            8,
		NumAttentionHeads:     2,
		NumHiddenLayers:       1,
		IntermediateSize:      16,
		MaxPositionEmbeddings: 16,
		LayerNormEps:          1e-5,
		EOSTokenID:            2,
	}
}

func archiveFrom(t *testing.T, entries map[string]safetensors.Entry) nn.Params {
	t.Helper()
	buf, err := safetensors.Encode(entries)
	require.NoError(t, err)
	f, err := safetensors.Parse(buf)
	require.NoError(t, err)
	return nn.NewParams(nn.FromArchive(f))
}

func testInput(t *testing.T, shape ...int) *tensor.Tensor {
	t.Helper()
	x := tensor.New(shape...)
	for i := range x.Data {
		x.Data[i] = float32(i%7) * 0.1
	}
	return x
}

func TestTransformerForwardShape(t *testing.T) {
	t.Parallel()

	m, err := NewTransformer(tinyTransformerConfig(), nn.NewParams(nn.NewInitSource(7)))
	require.NoError(t, err)

	// "hi" under the char-modulo tokenizer
	logits, err := m.Forward(context.Background(), [][]int{{'h' % 50, 'i' % 50}})
	require.NoError(t, err)
	assert.Equal(t, []int{1, 2, 50}, logits.Shape)
	for _, v := range logits.Data {
		require.False(t, math.IsNaN(float64(v)) || math.IsInf(float64(v), 0))
	}
}

func TestTransformerParameterNames(t *testing.T) {
	t.Parallel()

	src := nn.NewInitSource(1)
	_, err := NewTransformer(tinyTransformerConfig(), nn.NewParams(src))
	require.NoError(t, err)

	entries := src.Entries()
	for _, name := range []string{
		"embeddings.word_embeddings.weight",
		"embeddings.position_embeddings.weight",
		"decoder.layers.0.self_attn.q_proj.weight",
		"decoder.layers.0.self_attn.out_proj.bias",
		"decoder.layers.0.feed_forward.fc1.weight",
		"decoder.layers.0.feed_forward.fc2.bias",
		"decoder.layers.0.norm1.weight",
		"decoder.layers.0.norm2.bias",
		"layer_norm.weight",
		"lm_head.weight",
	} {
		assert.Contains(t, entries, name)
	}
	assert.Equal(t, []int{50, 8}, entries["lm_head.weight"].Shape)
	assert.Equal(t, []int{16, 8}, entries["decoder.layers.0.feed_forward.fc1.weight"].Shape)
}

func TestTransformerFromArchiveMatchesInit(t *testing.T) {
	t.Parallel()

	src := nn.NewInitSource(3)
	cfg := tinyTransformerConfig()
	a, err := NewTransformer(cfg, nn.NewParams(src))
	require.NoError(t, err)
	b, err := NewTransformer(cfg, archiveFrom(t, src.Entries()))
	require.NoError(t, err)

	ids := [][]int{{1, 2, 3}}
	la, err := a.Forward(context.Background(), ids)
	require.NoError(t, err)
	lb, err := b.Forward(context.Background(), ids)
	require.NoError(t, err)
	assert.InDeltaSlice(t, la.Data, lb.Data, 1e-5)
}

func TestTransformerMissingParameter(t *testing.T) {
	t.Parallel()

	src := nn.NewInitSource(3)
	cfg := tinyTransformerConfig()
	_, err := NewTransformer(cfg, nn.NewParams(src))
	require.NoError(t, err)

	entries := src.Entries()
	delete(entries, "lm_head.bias")
	_, err = NewTransformer(cfg, archiveFrom(t, entries))
	require.Error(t, err)
	assert.ErrorIs(t, err, errs.ErrDeserialization)
}

func TestTransformerRejectsBadHeads(t *testing.T) {
	t.Parallel()

	cfg := tinyTransformerConfig()
	cfg.NumAttentionHeads = 3
	_, err := NewTransformer(cfg, nn.NewParams(nn.NewInitSource(1)))
	assert.ErrorIs(t, err, errs.ErrShapeMismatch)
}

func TestTransformerSequenceLimits(t *testing.T) {
	t.Parallel()

	m, err := NewTransformer(tinyTransformerConfig(), nn.NewParams(nn.NewInitSource(1)))
	require.NoError(t, err)

	_, err = m.Forward(context.Background(), [][]int{make([]int, 17)})
	assert.ErrorIs(t, err, errs.ErrShapeMismatch)

	_, err = m.Forward(context.Background(), [][]int{{}})
	assert.ErrorIs(t, err, errs.ErrShapeMismatch)

	_, err = m.Forward(context.Background(), [][]int{{1, 2}, {3}})
	assert.ErrorIs(t, err, errs.ErrShapeMismatch)
}

func TestAttentionSeesLaterPositions(t *testing.T) {
	t.Parallel()

	m, err := NewTransformer(tinyTransformerConfig(), nn.NewParams(nn.NewInitSource(11)))
	require.NoError(t, err)

	a, err := m.Forward(context.Background(), [][]int{{4, 5}})
	require.NoError(t, err)
	b, err := m.Forward(context.Background(), [][]int{{4, 9}})
	require.NoError(t, err)

	// position 0 depends on the token at position 1
	assert.NotEqual(t, a.Data[:50], b.Data[:50])
}

func TestTransformerCanceled(t *testing.T) {
	t.Parallel()

	m, err := NewTransformer(tinyTransformerConfig(), nn.NewParams(nn.NewInitSource(1)))
	require.NoError(t, err)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = m.Forward(ctx, [][]int{{1}})
	assert.ErrorIs(t, err, context.Canceled)
}

func tinyClassifierConfig(hidden ...int) *ClassifierConfig {
	return &ClassifierConfig{
		ModelType:   "mobilenet_small",
		InputShape:  []int{1, 2, 2, 1},
		NumClasses:  2,
		Activation:  "relu",
		HiddenUnits: hidden,
		ClassifierHead: ClassifierHead{
			Dense1: DenseSpec{Units: 3, Activation: "relu"},
			Output: DenseSpec{Units: 2, Activation: "softmax"},
		},
	}
}

func TestClassifierWithoutHiddenLayers(t *testing.T) {
	t.Parallel()

	m, err := NewClassifier(tinyClassifierConfig(), nn.NewParams(nn.NewInitSource(5)))
	require.NoError(t, err)

	layers := m.Layers()
	require.Len(t, layers, 2)
	assert.Equal(t, LayerSummary{Name: "classifier.dense_1", In: 4, Out: 3, Activation: "relu"}, layers[0])
	assert.Equal(t, LayerSummary{Name: "classifier.output", In: 3, Out: 2}, layers[1])

	x := testInput(t, 2, 4)
	y, err := m.Forward(x)
	require.NoError(t, err)
	assert.Equal(t, []int{2, 2}, y.Shape)
}

func TestClassifierHiddenLayers(t *testing.T) {
	t.Parallel()

	src := nn.NewInitSource(5)
	m, err := NewClassifier(tinyClassifierConfig(6, 5), nn.NewParams(src))
	require.NoError(t, err)

	layers := m.Layers()
	require.Len(t, layers, 4)
	assert.Equal(t, "hidden_0", layers[0].Name)
	assert.Equal(t, 4, layers[0].In)
	assert.Equal(t, 6, layers[1].In)
	assert.Equal(t, 5, layers[2].In)
	assert.Contains(t, src.Entries(), "classifier.output.bias")

	y, err := m.Forward(testInput(t, 1, 2, 2, 1))
	require.NoError(t, err)
	assert.Equal(t, []int{1, 2}, y.Shape)
}

func TestClassifierRejectsWrongWidth(t *testing.T) {
	t.Parallel()

	m, err := NewClassifier(tinyClassifierConfig(), nn.NewParams(nn.NewInitSource(5)))
	require.NoError(t, err)
	_, err = m.Forward(testInput(t, 1, 5))
	assert.ErrorIs(t, err, errs.ErrShapeMismatch)
}

func TestClassifierUnknownActivationFallsBack(t *testing.T) {
	t.Parallel()

	cfg := tinyClassifierConfig(4)
	cfg.Activation = "swish"
	m, err := NewClassifier(cfg, nn.NewParams(nn.NewInitSource(5)))
	require.NoError(t, err)
	assert.Equal(t, []string{"swish"}, m.UnknownActivations)
	assert.Equal(t, "relu", m.Layers()[0].Activation)
}

func TestParseConfigs(t *testing.T) {
	t.Parallel()

	cc, err := ParseClassifierConfig([]byte(`{
		"model_type": "mobilenet_small",
		"input_shape": [1, 224, 224, 3],
		"num_classes": 1,
		"activation": "relu",
		"hidden_units": [],
		"classifier_head": {"dense_1": {"units": 64, "activation": "relu"}, "output": {"units": 1, "activation": "sigmoid"}}
	}`))
	require.NoError(t, err)
	assert.Equal(t, 150528, cc.InputFeatures())

	_, err = ParseClassifierConfig([]byte(`{"input_shape": "nope"}`))
	assert.ErrorIs(t, err, errs.ErrDeserialization)

	_, err = ParseClassifierConfig([]byte(`{"input_shape": [1, 4], "num_classes": 0}`))
	assert.ErrorIs(t, err, errs.ErrDeserialization)

	tc, err := ParseTransformerConfig([]byte(`{
		"vocab_size": 50, "hidden_size": 8, "num_attention_heads": 2,
		"num_hidden_layers": 1, "intermediate_size": 16,
		"max_position_embeddings": 16, "layer_norm_eps": 1e-5,
		"bos_token_id": 0, "eos_token_id": 2, "pad_token_id": 1,
		"hidden_act": "gelu", "architectures": ["BioGptForCausalLM"]
	}`))
	require.NoError(t, err)
	assert.Equal(t, 4, tc.HeadDim())
	assert.Equal(t, []string{"BioGptForCausalLM"}, tc.Architectures)

	_, err = ParseTransformerConfig([]byte(`{`))
	assert.ErrorIs(t, err, errs.ErrDeserialization)
}

func TestInitWeightsRebuild(t *testing.T) {
	t.Parallel()

	cc := tinyClassifierConfig(3)
	entries, err := InitClassifierWeights(cc, 1)
	require.NoError(t, err)
	_, err = NewClassifier(cc, archiveFrom(t, entries))
	require.NoError(t, err)

	tc := tinyTransformerConfig()
	entries, err = InitTransformerWeights(tc, 1)
	require.NoError(t, err)
	_, err = NewTransformer(tc, archiveFrom(t, entries))
	require.NoError(t, err)

	tc.NumAttentionHeads = 3
	_, err = InitTransformerWeights(tc, 1)
	assert.ErrorIs(t, err, errs.ErrShapeMismatch)
}

func naiveLinear(x []float32, rows int, l *nn.Linear) []float32 {
	in, out := l.In(), l.Out()
	y := make([]float32, rows*out)
	for r := range rows {
		for j := range out {
			sum := float64(l.Bias[j])
			for i := range in {
				sum += float64(x[r*in+i]) * float64(l.Weight.Data[j*in+i])
			}
			y[r*out+j] = float32(sum)
		}
	}
	return y
}

// naiveAttention evaluates every (batch, head, query) triple directly on
// the unsplit projections.
func naiveAttention(x []float32, batch, seq, hidden int, a *Attention) []float32 {
	rows := batch * seq
	q := naiveLinear(x, rows, a.QProj)
	k := naiveLinear(x, rows, a.KProj)
	v := naiveLinear(x, rows, a.VProj)
	d := hidden / a.Heads
	scale := 1 / math.Sqrt(float64(d))

	ctxOut := make([]float32, rows*hidden)
	for b := range batch {
		for h := range a.Heads {
			col := h * d
			for i := range seq {
				scores := make([]float64, seq)
				maxScore := math.Inf(-1)
				for j := range seq {
					var dot float64
					for t := range d {
						dot += float64(q[(b*seq+i)*hidden+col+t]) * float64(k[(b*seq+j)*hidden+col+t])
					}
					scores[j] = dot * scale
					maxScore = max(maxScore, scores[j])
				}
				var total float64
				for j := range scores {
					scores[j] = math.Exp(scores[j] - maxScore)
					total += scores[j]
				}
				for t := range d {
					var acc float64
					for j := range seq {
						acc += scores[j] / total * float64(v[(b*seq+j)*hidden+col+t])
					}
					ctxOut[(b*seq+i)*hidden+col+t] = float32(acc)
				}
			}
		}
	}
	return naiveLinear(ctxOut, rows, a.OutProj)
}

func sinInput(t *testing.T, shape ...int) *tensor.Tensor {
	t.Helper()
	x := tensor.New(shape...)
	for i := range x.Data {
		x.Data[i] = float32(math.Sin(float64(i) * 0.7))
	}
	return x
}

func identityLinear(t *testing.T, n int) *nn.Linear {
	t.Helper()
	w := tensor.New(n, n)
	for i := range n {
		w.Data[i*n+i] = 1
	}
	return &nn.Linear{Weight: w, Bias: make([]float32, n)}
}

func TestAttentionTwoTokensByHand(t *testing.T) {
	t.Parallel()

	a := &Attention{
		QProj:   identityLinear(t, 2),
		KProj:   identityLinear(t, 2),
		VProj:   identityLinear(t, 2),
		OutProj: identityLinear(t, 2),
		Heads:   1,
	}
	x, err := tensor.FromData([]float32{1, 0, 0, 1}, 1, 2, 2)
	require.NoError(t, err)

	out, err := a.Forward(context.Background(), x)
	require.NoError(t, err)

	// each token scores itself 1/sqrt(2) and the other 0
	s := float32(1 / (1 + math.Exp(-1/math.Sqrt2)))
	assert.InDeltaSlice(t, []float32{s, 1 - s, 1 - s, s}, out.Data, 1e-6)
}

func TestAttentionMatchesPerHeadReference(t *testing.T) {
	t.Parallel()

	cfg := &TransformerConfig{HiddenSize: 4, NumAttentionHeads: 2}
	a, err := loadAttention(nn.NewParams(nn.NewInitSource(5)).Pp("self_attn"), cfg)
	require.NoError(t, err)

	const batch, seq = 2, 3
	x := sinInput(t, batch, seq, cfg.HiddenSize)
	out, err := a.Forward(context.Background(), x)
	require.NoError(t, err)
	assert.Equal(t, []int{batch, seq, cfg.HiddenSize}, out.Shape)
	assert.InDeltaSlice(t, naiveAttention(x.Data, batch, seq, cfg.HiddenSize, a), out.Data, 1e-5)
}

func TestDecoderLayerResidualComposition(t *testing.T) {
	t.Parallel()

	cfg := &TransformerConfig{
		HiddenSize:        4,
		NumAttentionHeads: 2,
		IntermediateSize:  6,
		LayerNormEps:      1e-5,
	}
	l, err := loadDecoderLayer(nn.NewParams(nn.NewInitSource(9)).Pp("layer"), cfg)
	require.NoError(t, err)
	// distinct norms so swapping them shows up
	for i := range cfg.HiddenSize {
		l.Norm1.Weight[i] = 1 + 0.25*float32(i)
		l.Norm2.Bias[i] = 0.1 * float32(i)
	}

	const batch, seq = 2, 3
	rows := batch * seq
	x := sinInput(t, batch, seq, cfg.HiddenSize)
	out, err := l.Forward(context.Background(), x)
	require.NoError(t, err)

	// h1 = x + Attention(Norm1(x))
	n1, err := l.Norm1.Forward(x)
	require.NoError(t, err)
	attn := naiveAttention(n1.Data, batch, seq, cfg.HiddenSize, l.SelfAttn)
	h1 := tensor.New(batch, seq, cfg.HiddenSize)
	for i := range h1.Data {
		h1.Data[i] = x.Data[i] + attn[i]
	}

	// h2 = h1 + FeedForward(Norm2(h1))
	n2, err := l.Norm2.Forward(h1)
	require.NoError(t, err)
	hidden := naiveLinear(n2.Data, rows, l.FeedForward.FC1)
	for i, v := range hidden {
		hidden[i] = tensor.GELU(v)
	}
	ff := naiveLinear(hidden, rows, l.FeedForward.FC2)
	want := make([]float32, len(ff))
	for i := range want {
		want[i] = h1.Data[i] + ff[i]
	}
	assert.InDeltaSlice(t, want, out.Data, 1e-5)
}
