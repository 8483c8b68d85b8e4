package state

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/samcharles93/medaiml/internal/artifact"
	"github.com/samcharles93/medaiml/internal/errs"
	"github.com/samcharles93/medaiml/internal/federated"
	"github.com/samcharles93/medaiml/internal/imaging"
	"github.com/samcharles93/medaiml/internal/inference"
	"github.com/samcharles93/medaiml/internal/model"
	"github.com/samcharles93/medaiml/internal/nn"
	"github.com/samcharles93/medaiml/internal/safetensors"
	"github.com/samcharles93/medaiml/internal/tensor"
	"github.com/samcharles93/medaiml/internal/tokenizer"
)

// Labels indexed by the thresholded class.
var Labels = [2]string{"Healthy", "Malaria detected"}

// PredictionThreshold is the probability at or above which an image is
// classified as class 1.
const PredictionThreshold = 0.5

type Prediction struct {
	ClassIndex  int     `json:"class_index"`
	Label       string  `json:"label"`
	Probability float32 `json:"probability"`
}

func (p *Process) AppendBytes(key string, b []byte) error {
	err := p.Mutate(func(tx *Tx) error {
		return tx.Store.Append(key, b)
	})
	if err != nil {
		p.metrics.MetricOperationErrorsInc("append")
		return err
	}
	p.metrics.MetricArtifactWrite("append", len(b))
	return nil
}

func (p *Process) StoreBytes(key string, b []byte) {
	_ = p.Mutate(func(tx *Tx) error {
		tx.Store.Store(key, b)
		return nil
	})
	p.metrics.MetricArtifactWrite("store", len(b))
}

// Bytes returns a copy of key, empty when absent.
func (p *Process) Bytes(key string) []byte {
	var out []byte
	_ = p.View(func(tx *Tx) error {
		out = tx.Store.Read(key)
		return nil
	})
	return out
}

func (p *Process) ClearBytes(key string) {
	_ = p.Mutate(func(tx *Tx) error {
		tx.Store.Clear(key)
		return nil
	})
	p.metrics.MetricArtifactOperationInc("clear")
}

func (p *Process) Commit(key string) (artifact.Info, error) {
	var info artifact.Info
	err := p.Mutate(func(tx *Tx) error {
		var err error
		info, err = tx.Store.Commit(key)
		return err
	})
	if err != nil {
		return artifact.Info{}, err
	}
	p.metrics.MetricArtifactOperationInc("commit")
	p.log.Info("artifact committed", "key", key, "size", info.Size, "digest", info.Digest)
	return info, nil
}

func (p *Process) Stat(key string) (artifact.Info, bool) {
	var (
		info artifact.Info
		ok   bool
	)
	_ = p.View(func(tx *Tx) error {
		info, ok = tx.Store.Stat(key)
		return nil
	})
	return info, ok
}

func (p *Process) Keys() []string {
	var keys []string
	_ = p.View(func(tx *Tx) error {
		keys = tx.Store.Keys()
		return nil
	})
	return keys
}

// AppendClassifierWeights and its siblings append to the well-known model
// artifacts.
func (p *Process) AppendClassifierWeights(b []byte) error {
	return p.AppendBytes(artifact.ClassifierWeights, b)
}

func (p *Process) AppendClassifierConfig(b []byte) error {
	return p.AppendBytes(artifact.ClassifierConfig, b)
}

func (p *Process) AppendTextModelWeights(b []byte) error {
	return p.AppendBytes(artifact.TextModelWeights, b)
}

func (p *Process) AppendTextModelConfig(b []byte) error {
	return p.AppendBytes(artifact.TextModelConfig, b)
}

// Preload appends local files to artifacts, one mutation per file.
func (p *Process) Preload(files map[string]string, chunkSize int) error {
	for key, path := range files {
		var n int
		err := p.Mutate(func(tx *Tx) error {
			var err error
			n, err = artifact.LoadFile(tx.Store, key, path, chunkSize)
			return err
		})
		if err != nil {
			return fmt.Errorf("preload %s from %s: %w", key, path, err)
		}
		p.metrics.MetricArtifactWrite("preload", n)
		p.log.Info("artifact preloaded", "key", key, "path", path, "bytes", n)
	}
	return nil
}

// UploadFile replaces the single upload slot with b and echoes it back.
func (p *Process) UploadFile(b []byte) []byte {
	var out []byte
	_ = p.Mutate(func(tx *Tx) error {
		tx.Store.Store(artifact.UploadSlot, b)
		out = tx.Store.Read(artifact.UploadSlot)
		return nil
	})
	p.metrics.MetricArtifactWrite("store", len(b))
	return out
}

func (p *Process) ReadImageData(b []byte) (imaging.Dataset, error) {
	return imaging.Inspect(b)
}

// DatasetToTensors returns the image as one channel-planar sample of
// InputSize x InputSize x 3 values in [0, 1].
func (p *Process) DatasetToTensors(ds imaging.Dataset) ([][]float32, error) {
	img, err := imaging.Prepare(ds.Image)
	if err != nil {
		return nil, err
	}
	return [][]float32{imaging.PixelsCHW(img)}, nil
}

// readRequired copies the named artifacts under one shared lock so they
// come from the same settled state.
func (p *Process) readRequired(keys ...string) ([][]byte, error) {
	out := make([][]byte, len(keys))
	err := p.View(func(tx *Tx) error {
		for i, k := range keys {
			if tx.Store.Len(k) == 0 {
				return errs.NewMissingArtifact(k)
			}
			out[i] = tx.Store.Read(k)
		}
		return nil
	})
	return out, err
}

// LoadAndPredict builds the classifier from the current artifacts and
// classifies one image. The classifier is rebuilt on every call.
func (p *Process) LoadAndPredict(ctx context.Context, image []byte) (Prediction, error) {
	pred, err := p.predict(ctx, image)
	if err != nil {
		p.metrics.MetricOperationErrorsInc("predict")
		return Prediction{}, err
	}
	p.metrics.MetricPredictionInc(pred.Label)
	return pred, nil
}

func (p *Process) predict(ctx context.Context, image []byte) (Prediction, error) {
	blobs, err := p.readRequired(artifact.ClassifierWeights, artifact.ClassifierConfig)
	if err != nil {
		return Prediction{}, err
	}
	cfg, err := model.ParseClassifierConfig(blobs[1])
	if err != nil {
		return Prediction{}, err
	}
	archive, err := safetensors.Parse(blobs[0])
	if err != nil {
		return Prediction{}, err
	}
	clf, err := model.NewClassifier(cfg, nn.NewParams(nn.FromArchive(archive)))
	if err != nil {
		return Prediction{}, fmt.Errorf("build classifier: %w", err)
	}
	for _, name := range clf.UnknownActivations {
		p.log.Warn("unknown activation, using relu", "activation", name)
	}
	p.log.Debug("classifier built", "model_type", cfg.ModelType, "layers", clf.Layers())

	img, err := imaging.Prepare(image)
	if err != nil {
		return Prediction{}, err
	}
	px := imaging.PixelsHWC(img)
	x, err := tensor.FromData(px, 1, len(px))
	if err != nil {
		return Prediction{}, err
	}
	if err := ctx.Err(); err != nil {
		return Prediction{}, err
	}
	logits, err := clf.Forward(x)
	if err != nil {
		return Prediction{}, err
	}

	prob := tensor.Sigmoid(logits.Data[0])
	class := 0
	if prob >= PredictionThreshold {
		class = 1
	}
	return Prediction{ClassIndex: class, Label: Labels[class], Probability: prob}, nil
}

// InitTextModel builds the text model from its artifacts and publishes it.
// It succeeds at most once; nothing is published when it fails.
func (p *Process) InitTextModel(ctx context.Context) (*TextModel, error) {
	p.initMu.Lock()
	defer p.initMu.Unlock()
	if p.text.Load() != nil {
		return nil, fmt.Errorf("text model: %w", errs.ErrAlreadyInitialized)
	}

	start := time.Now()
	blobs, err := p.readRequired(artifact.TextModelWeights, artifact.TextModelConfig)
	if err != nil {
		return nil, err
	}
	tm, err := BuildTextModel(blobs[1], blobs[0], p.limit)
	if err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	p.text.Store(tm)
	p.metrics.MetricTextModelLoadSet(start)
	p.log.Info("text model initialized",
		"layers", tm.Config.NumHiddenLayers,
		"hidden", tm.Config.HiddenSize,
		"vocab", tm.Config.VocabSize,
		"took", time.Since(start))
	return tm, nil
}

// BuildTextModel parses a transformer configuration and weight archive and
// wires a greedy generator over them.
func BuildTextModel(configJSON, weights []byte, limit int) (*TextModel, error) {
	cfg, err := model.ParseTransformerConfig(configJSON)
	if err != nil {
		return nil, err
	}
	archive, err := safetensors.Parse(weights)
	if err != nil {
		return nil, err
	}
	m, err := model.NewTransformer(cfg, nn.NewParams(nn.FromArchive(archive)))
	if err != nil {
		return nil, fmt.Errorf("build text model: %w", err)
	}
	tok, err := tokenizer.NewCharModulo(cfg.VocabSize)
	if err != nil {
		return nil, err
	}
	return &TextModel{
		Config: cfg,
		Model:  m,
		Generator: &inference.Generator{
			Model:     m,
			Tokenizer: tok,
			EOS:       cfg.EOSTokenID,
			BOS:       cfg.BOSTokenID,
			Limit:     limit,
		},
	}, nil
}

// GenerateResponse runs greedy generation on the published text model.
func (p *Process) GenerateResponse(ctx context.Context, prompt string, maxNewTokens int, stream inference.StreamFunc) (*inference.Result, error) {
	tm := p.text.Load()
	if tm == nil {
		return nil, &errs.NotInitializedError{What: "text model"}
	}
	start := time.Now()
	res, err := tm.Generator.Generate(ctx, prompt, maxNewTokens, stream)
	if res != nil {
		p.metrics.MetricGenerationObserve(string(res.Reason), len(res.Tokens), start)
	}
	if err != nil && !errors.Is(err, context.Canceled) && !errors.Is(err, context.DeadlineExceeded) {
		p.metrics.MetricOperationErrorsInc("generate")
	}
	return res, err
}

// UpdateAggregatedModel decodes a serialized weight payload and merges it.
func (p *Process) UpdateAggregatedModel(serialized []byte, samples uint64) (federated.Aggregate, error) {
	w, err := federated.DecodeWeights(serialized)
	if err != nil {
		p.metrics.MetricMergeRejected()
		return federated.Aggregate{}, err
	}
	return p.MergeWeights(w, samples)
}

// MergeWeights merges one contribution and returns the resulting aggregate.
func (p *Process) MergeWeights(w []float32, samples uint64) (federated.Aggregate, error) {
	var agg federated.Aggregate
	err := p.Mutate(func(tx *Tx) error {
		if err := tx.Aggregator.Merge(w, samples); err != nil {
			return err
		}
		agg, _ = tx.Aggregator.Snapshot()
		return nil
	})
	if err != nil {
		p.metrics.MetricMergeRejected()
		p.log.Warn("contribution rejected", "len", len(w), "samples", samples, "error", err)
		return federated.Aggregate{}, err
	}
	p.metrics.MetricMergeAccepted(agg.Samples, agg.Version)
	p.log.Debug("contribution merged", "version", agg.Version, "samples", agg.Samples)
	return agg, nil
}

func (p *Process) GetAggregatedModel() (federated.Aggregate, bool) {
	var (
		agg federated.Aggregate
		ok  bool
	)
	_ = p.View(func(tx *Tx) error {
		agg, ok = tx.Aggregator.Snapshot()
		return nil
	})
	return agg, ok
}
