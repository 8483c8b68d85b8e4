package state

import (
	"bytes"
	"context"
	"image"
	"image/color"
	"image/png"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/goccy/go-json"
	"github.com/samcharles93/medaiml/internal/artifact"
	"github.com/samcharles93/medaiml/internal/errs"
	"github.com/samcharles93/medaiml/internal/federated"
	"github.com/samcharles93/medaiml/internal/imaging"
	"github.com/samcharles93/medaiml/internal/inference"
	"github.com/samcharles93/medaiml/internal/logger"
	"github.com/samcharles93/medaiml/internal/model"
	"github.com/samcharles93/medaiml/internal/safetensors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func classifierArtifacts(t *testing.T, outputBias float32) (weights, config []byte) {
	t.Helper()
	cfg := &model.ClassifierConfig{
		ModelType:  "mobilenet_small",
		InputShape: []int{1, imaging.InputSize, imaging.InputSize, imaging.Channels},
		NumClasses: 1,
		Activation: "relu",
		ClassifierHead: model.ClassifierHead{
			Dense1: model.DenseSpec{Units: 2, Activation: "relu"},
			Output: model.DenseSpec{Units: 1, Activation: "sigmoid"},
		},
	}
	entries, err := model.InitClassifierWeights(cfg, 1)
	require.NoError(t, err)
	// make the logit independent of the image
	out := entries["classifier.output.weight"]
	out.Data = make([]float32, len(out.Data))
	entries["classifier.output.weight"] = out
	entries["classifier.output.bias"] = safetensors.Entry{Shape: []int{1}, Data: []float32{outputBias}}

	weights, err = safetensors.Encode(entries)
	require.NoError(t, err)
	config, err = json.Marshal(cfg)
	require.NoError(t, err)
	return weights, config
}

func textArtifacts(t *testing.T) (weights, config []byte) {
	t.Helper()
	cfg := &model.TransformerConfig{
		VocabSize:             50,
		HiddenSize:            8,
		NumAttentionHeads:     2,
		NumHiddenLayers:       1,
		IntermediateSize:      16,
		MaxPositionEmbeddings: 64,
		LayerNormEps:          1e-5,
		EOSTokenID:            2,
	}
	entries, err := model.InitTransformerWeights(cfg, 3)
	require.NoError(t, err)
	weights, err = safetensors.Encode(entries)
	require.NoError(t, err)
	config, err = json.Marshal(cfg)
	require.NoError(t, err)
	return weights, config
}

func testPNG(t *testing.T) []byte {
	t.Helper()
	img := image.NewNRGBA(image.Rect(0, 0, 8, 8))
	for i := range 8 {
		img.SetNRGBA(i, i, color.NRGBA{R: 200, G: 10, B: 90, A: 255})
	}
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, img))
	return buf.Bytes()
}

// appendInChunks splits b the way upload clients do.
func appendInChunks(t *testing.T, fn func([]byte) error, b []byte, size int) {
	t.Helper()
	for len(b) > 0 {
		n := min(size, len(b))
		require.NoError(t, fn(b[:n]))
		b = b[n:]
	}
}

func TestArtifactOperations(t *testing.T) {
	t.Parallel()

	p := New(Options{})
	require.NoError(t, p.AppendBytes("k", []byte("ab")))
	require.NoError(t, p.AppendBytes("k", []byte("cd")))
	assert.Equal(t, []byte("abcd"), p.Bytes("k"))

	p.StoreBytes("k", []byte("x"))
	assert.Equal(t, []byte("x"), p.Bytes("k"))

	info, err := p.Commit("k")
	require.NoError(t, err)
	assert.True(t, info.Sealed)
	assert.ErrorIs(t, p.AppendBytes("k", []byte("y")), errs.ErrSealed)

	p.ClearBytes("k")
	assert.Empty(t, p.Bytes("k"))
	_, ok := p.Stat("k")
	assert.False(t, ok)

	echoed := p.UploadFile([]byte("file"))
	assert.Equal(t, []byte("file"), echoed)
	assert.Equal(t, []string{artifact.UploadSlot}, p.Keys())
}

func TestUploadFileEchoesOwnPayload(t *testing.T) {
	t.Parallel()

	p := New(Options{})
	var wg sync.WaitGroup
	for i := range 32 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			payload := bytes.Repeat([]byte{byte(i)}, 64+i)
			echoed := p.UploadFile(payload)
			assert.Equal(t, payload, echoed)
			payload[0] = 0xff
			assert.NotEqual(t, payload[0], echoed[0])
		}()
	}
	wg.Wait()
	assert.Equal(t, []string{artifact.UploadSlot}, p.Keys())
}

func TestPreload(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "cfg.json")
	require.NoError(t, os.WriteFile(path, []byte(`{"a":1}`), 0o600))

	p := New(Options{})
	require.NoError(t, p.Preload(map[string]string{artifact.ClassifierConfig: path}, 3))
	assert.Equal(t, []byte(`{"a":1}`), p.Bytes(artifact.ClassifierConfig))
	info, _ := p.Stat(artifact.ClassifierConfig)
	assert.Equal(t, 3, info.Chunks)

	err := p.Preload(map[string]string{"x": filepath.Join(t.TempDir(), "missing")}, 0)
	assert.Error(t, err)
}

func TestLoadAndPredict(t *testing.T) {
	t.Parallel()

	cases := []struct {
		bias  float32
		class int
		label string
	}{
		{bias: 2, class: 1, label: "Malaria detected"},
		{bias: -2, class: 0, label: "Healthy"},
		{bias: 0, class: 1, label: "Malaria detected"},
	}
	for _, tc := range cases {
		p := New(Options{})
		w, c := classifierArtifacts(t, tc.bias)
		appendInChunks(t, p.AppendClassifierWeights, w, 1<<16)
		appendInChunks(t, p.AppendClassifierConfig, c, 7)

		pred, err := p.LoadAndPredict(context.Background(), testPNG(t))
		require.NoError(t, err)
		assert.Equal(t, tc.class, pred.ClassIndex)
		assert.Equal(t, tc.label, pred.Label)
	}
}

func TestLoadAndPredictLogsLayers(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	p := New(Options{Logger: logger.JSON(&buf, slog.LevelDebug)})
	w, c := classifierArtifacts(t, 1)
	require.NoError(t, p.AppendClassifierWeights(w))
	require.NoError(t, p.AppendClassifierConfig(c))

	_, err := p.LoadAndPredict(context.Background(), testPNG(t))
	require.NoError(t, err)
	assert.Contains(t, buf.String(), `"msg":"classifier built"`)
	assert.Contains(t, buf.String(), `"name":"classifier.output"`)
}

func TestLoadAndPredictFailures(t *testing.T) {
	t.Parallel()

	p := New(Options{})
	_, err := p.LoadAndPredict(context.Background(), testPNG(t))
	assert.ErrorIs(t, err, errs.ErrMissingArtifact)

	w, c := classifierArtifacts(t, 1)
	require.NoError(t, p.AppendClassifierWeights(w))
	_, err = p.LoadAndPredict(context.Background(), testPNG(t))
	assert.ErrorIs(t, err, errs.ErrMissingArtifact)

	require.NoError(t, p.AppendClassifierConfig([]byte("{not json")))
	_, err = p.LoadAndPredict(context.Background(), testPNG(t))
	assert.ErrorIs(t, err, errs.ErrDeserialization)

	p.ClearBytes(artifact.ClassifierConfig)
	require.NoError(t, p.AppendClassifierConfig(c))
	_, err = p.LoadAndPredict(context.Background(), []byte("not an image"))
	assert.ErrorIs(t, err, errs.ErrImageDecode)

	p.StoreBytes(artifact.ClassifierWeights, []byte("garbage"))
	_, err = p.LoadAndPredict(context.Background(), testPNG(t))
	assert.ErrorIs(t, err, errs.ErrDeserialization)
}

func TestImageOperations(t *testing.T) {
	t.Parallel()

	p := New(Options{})
	ds, err := p.ReadImageData(testPNG(t))
	require.NoError(t, err)
	assert.Equal(t, 8, ds.Width)

	tensors, err := p.DatasetToTensors(ds)
	require.NoError(t, err)
	require.Len(t, tensors, 1)
	assert.Len(t, tensors[0], imaging.InputSize*imaging.InputSize*imaging.Channels)

	_, err = p.DatasetToTensors(imaging.Dataset{Image: []byte("nope")})
	assert.ErrorIs(t, err, errs.ErrImageDecode)
}

func TestTextModelLifecycle(t *testing.T) {
	t.Parallel()

	p := New(Options{MaxNewTokensLimit: 4})
	_, err := p.GenerateResponse(context.Background(), "hi", 3, nil)
	assert.ErrorIs(t, err, errs.ErrNotInitialized)

	_, err = p.InitTextModel(context.Background())
	assert.ErrorIs(t, err, errs.ErrMissingArtifact)
	assert.Nil(t, p.Text())

	w, c := textArtifacts(t)
	appendInChunks(t, p.AppendTextModelWeights, w, 512)
	require.NoError(t, p.AppendTextModelConfig(c))

	tm, err := p.InitTextModel(context.Background())
	require.NoError(t, err)
	assert.Same(t, tm, p.Text())

	_, err = p.InitTextModel(context.Background())
	assert.ErrorIs(t, err, errs.ErrAlreadyInitialized)

	res, err := p.GenerateResponse(context.Background(), "hi", 100, nil)
	require.NoError(t, err)
	assert.LessOrEqual(t, len([]rune(res.Text)), 2+4)
	assert.Contains(t, []inference.StopReason{inference.StopEOS, inference.StopMaxSteps}, res.Reason)
}

func TestInitTextModelFailureLeavesNothing(t *testing.T) {
	t.Parallel()

	p := New(Options{})
	w, _ := textArtifacts(t)
	require.NoError(t, p.AppendTextModelWeights(w))
	require.NoError(t, p.AppendTextModelConfig([]byte(`{"vocab_size": 50, "hidden_size": 9, "num_attention_heads": 2,
		"intermediate_size": 16, "max_position_embeddings": 64, "layer_norm_eps": 1e-5}`)))

	_, err := p.InitTextModel(context.Background())
	assert.ErrorIs(t, err, errs.ErrShapeMismatch)
	assert.Nil(t, p.Text())
}

func TestAggregation(t *testing.T) {
	t.Parallel()

	p := New(Options{})
	_, ok := p.GetAggregatedModel()
	assert.False(t, ok)

	_, err := p.UpdateAggregatedModel(federated.EncodeWeights([]float32{1, 2}), 10)
	require.NoError(t, err)
	agg, err := p.UpdateAggregatedModel(federated.EncodeWeights([]float32{3, 4}), 10)
	require.NoError(t, err)
	assert.InDeltaSlice(t, []float32{2, 3}, agg.Weights, 1e-6)
	assert.Equal(t, uint64(20), agg.Samples)

	_, err = p.UpdateAggregatedModel([]byte{9, 1}, 1)
	assert.ErrorIs(t, err, errs.ErrDeserialization)
	_, err = p.MergeWeights([]float32{1}, 1)
	assert.ErrorIs(t, err, errs.ErrShapeMismatch)

	got, ok := p.GetAggregatedModel()
	require.True(t, ok)
	assert.Equal(t, agg, got)
}

func TestConcurrentMergesAreSerialized(t *testing.T) {
	t.Parallel()

	p := New(Options{})
	var wg sync.WaitGroup
	for i := range 32 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, _ = p.MergeWeights([]float32{float32(i % 2)}, 1)
			_, _ = p.GetAggregatedModel()
		}()
	}
	wg.Wait()

	agg, ok := p.GetAggregatedModel()
	require.True(t, ok)
	assert.Equal(t, uint64(32), agg.Samples)
	assert.Equal(t, 32, agg.Contributions)
	assert.InDelta(t, 0.5, agg.Weights[0], 1e-4)
}
