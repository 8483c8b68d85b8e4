package model

import (
	"fmt"

	"github.com/goccy/go-json"
	"github.com/samcharles93/medaiml/internal/errs"
)

// DenseSpec declares one dense layer of the classifier head.
type DenseSpec struct {
	Units      int    `json:"units"`
	Activation string `json:"activation"`
}

type ClassifierHead struct {
	Dense1 DenseSpec `json:"dense_1"`
	Output DenseSpec `json:"output"`
}

// ClassifierConfig is the declarative description of the image classifier.
// ModelType, Pooling, Framework, PretrainedBase and TrainableBase describe
// how the weights were produced and are carried but not interpreted.
type ClassifierConfig struct {
	ModelType      string         `json:"model_type"`
	InputShape     []int          `json:"input_shape"`
	NumClasses     int            `json:"num_classes"`
	Activation     string         `json:"activation"`
	Pooling        string         `json:"pooling"`
	HiddenUnits    []int          `json:"hidden_units"`
	Framework      string         `json:"framework"`
	PretrainedBase string         `json:"pretrained_base"`
	TrainableBase  bool           `json:"trainable_base"`
	ClassifierHead ClassifierHead `json:"classifier_head"`
}

// InputFeatures is the flattened per-sample input width, the product of
// every input dimension after the batch axis.
func (c *ClassifierConfig) InputFeatures() int {
	n := 1
	for _, d := range c.InputShape[1:] {
		n *= d
	}
	return n
}

func (c *ClassifierConfig) Validate() error {
	if len(c.InputShape) < 2 {
		return invalidConfig("input_shape", "needs a batch axis and at least one feature axis, got %v", c.InputShape)
	}
	for _, d := range c.InputShape[1:] {
		if d <= 0 {
			return invalidConfig("input_shape", "dimensions must be positive, got %v", c.InputShape)
		}
	}
	if c.NumClasses <= 0 {
		return invalidConfig("num_classes", "must be positive, got %d", c.NumClasses)
	}
	for i, u := range c.HiddenUnits {
		if u <= 0 {
			return invalidConfig("hidden_units", "entry %d must be positive, got %d", i, u)
		}
	}
	if c.ClassifierHead.Dense1.Units <= 0 {
		return invalidConfig("classifier_head.dense_1.units", "must be positive, got %d", c.ClassifierHead.Dense1.Units)
	}
	return nil
}

// ParseClassifierConfig decodes and validates a classifier configuration.
func ParseClassifierConfig(b []byte) (*ClassifierConfig, error) {
	var cfg ClassifierConfig
	if err := json.Unmarshal(b, &cfg); err != nil {
		return nil, errs.NewDeserialization("classifier config", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// TransformerConfig is the BioGPT-style decoder configuration. Only the
// size and token fields drive the network; the rest is passed through.
type TransformerConfig struct {
	VocabSize             int     `json:"vocab_size"`
	HiddenSize            int     `json:"hidden_size"`
	NumAttentionHeads     int     `json:"num_attention_heads"`
	NumHiddenLayers       int     `json:"num_hidden_layers"`
	IntermediateSize      int     `json:"intermediate_size"`
	MaxPositionEmbeddings int     `json:"max_position_embeddings"`
	LayerNormEps          float64 `json:"layer_norm_eps"`
	BOSTokenID            int     `json:"bos_token_id"`
	EOSTokenID            int     `json:"eos_token_id"`
	PadTokenID            int     `json:"pad_token_id"`

	HiddenAct     string   `json:"hidden_act,omitempty"`
	ModelType     string   `json:"model_type,omitempty"`
	Architectures []string `json:"architectures,omitempty"`
	TorchDType    string   `json:"torch_dtype,omitempty"`
	IsDecoder     bool     `json:"is_decoder,omitempty"`
	UseCache      bool     `json:"use_cache,omitempty"`
}

// HeadDim is HiddenSize / NumAttentionHeads.
func (c *TransformerConfig) HeadDim() int {
	return c.HiddenSize / c.NumAttentionHeads
}

func (c *TransformerConfig) Validate() error {
	for _, f := range []struct {
		name string
		v    int
	}{
		{"vocab_size", c.VocabSize},
		{"hidden_size", c.HiddenSize},
		{"num_attention_heads", c.NumAttentionHeads},
		{"intermediate_size", c.IntermediateSize},
		{"max_position_embeddings", c.MaxPositionEmbeddings},
	} {
		if f.v <= 0 {
			return invalidConfig(f.name, "must be positive, got %d", f.v)
		}
	}
	if c.NumHiddenLayers < 0 {
		return invalidConfig("num_hidden_layers", "must not be negative, got %d", c.NumHiddenLayers)
	}
	if c.LayerNormEps <= 0 {
		return invalidConfig("layer_norm_eps", "must be positive, got %g", c.LayerNormEps)
	}
	if c.HiddenSize%c.NumAttentionHeads != 0 {
		return errs.NewShapeMismatch("hidden_size % num_attention_heads", 0, c.HiddenSize%c.NumAttentionHeads)
	}
	return nil
}

// ParseTransformerConfig decodes and validates a transformer configuration.
func ParseTransformerConfig(b []byte) (*TransformerConfig, error) {
	var cfg TransformerConfig
	if err := json.Unmarshal(b, &cfg); err != nil {
		return nil, errs.NewDeserialization("transformer config", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func invalidConfig(field, format string, args ...any) error {
	return errs.NewDeserialization("config field "+field, fmt.Errorf(format, args...))
}
