package model

import (
	"fmt"

	"github.com/samcharles93/medaiml/internal/errs"
	"github.com/samcharles93/medaiml/internal/nn"
	"github.com/samcharles93/medaiml/internal/tensor"
)

// LayerSummary describes one dense stage for logs and inspection.
type LayerSummary struct {
	Name       string `json:"name"`
	In         int    `json:"in_features"`
	Out        int    `json:"out_features"`
	Activation string `json:"activation,omitempty"`
}

type denseBlock struct {
	name   string
	linear *nn.Linear
	act    *nn.Activation // nil for the final projection
}

// Classifier is a stack of dense+activation blocks followed by a two stage
// head ending at NumClasses logits.
type Classifier struct {
	Config *ClassifierConfig

	// UnknownActivations lists activation names that fell back to relu.
	UnknownActivations []string

	blocks []denseBlock
}

// NewClassifier binds every layer of cfg to p. Parameters are named
// hidden_<i>, classifier.dense_1 and classifier.output.
func NewClassifier(cfg *ClassifierConfig, p nn.Params) (*Classifier, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	m := &Classifier{Config: cfg}

	act, known := nn.ParseActivation(cfg.Activation)
	if !known {
		m.UnknownActivations = append(m.UnknownActivations, cfg.Activation)
	}

	in := cfg.InputFeatures()
	for i, units := range cfg.HiddenUnits {
		name := fmt.Sprintf("hidden_%d", i)
		l, err := nn.LoadLinear(p.Pp(name), in, units)
		if err != nil {
			return nil, fmt.Errorf("build %s: %w", name, err)
		}
		m.blocks = append(m.blocks, denseBlock{name: name, linear: l, act: &act})
		in = units
	}

	head := cfg.ClassifierHead
	headAct, known := nn.ParseActivation(head.Dense1.Activation)
	if !known {
		m.UnknownActivations = append(m.UnknownActivations, head.Dense1.Activation)
	}
	dense1, err := nn.LoadLinear(p.Pp("classifier").Pp("dense_1"), in, head.Dense1.Units)
	if err != nil {
		return nil, fmt.Errorf("build classifier.dense_1: %w", err)
	}
	m.blocks = append(m.blocks, denseBlock{name: "classifier.dense_1", linear: dense1, act: &headAct})

	output, err := nn.LoadLinear(p.Pp("classifier").Pp("output"), head.Dense1.Units, cfg.NumClasses)
	if err != nil {
		return nil, fmt.Errorf("build classifier.output: %w", err)
	}
	m.blocks = append(m.blocks, denseBlock{name: "classifier.output", linear: output})
	return m, nil
}

// Forward flattens x to (batch, features) and returns (batch, NumClasses)
// logits. No activation follows the output projection.
func (m *Classifier) Forward(x *tensor.Tensor) (*tensor.Tensor, error) {
	if x.Dims() == 0 {
		return nil, errs.NewShapeMismatch("classifier input", "(batch, ...)", x.Shape)
	}
	want := m.Config.InputFeatures()
	h, err := x.Reshape(x.Shape[0], -1)
	if err != nil {
		return nil, errs.NewShapeMismatch("classifier input features", want, x.Shape)
	}
	if h.Shape[1] != want {
		return nil, errs.NewShapeMismatch("classifier input features", want, h.Shape[1])
	}
	for _, b := range m.blocks {
		h, err = b.linear.Forward(h)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", b.name, err)
		}
		if b.act != nil {
			h, err = b.act.Apply(h)
			if err != nil {
				return nil, fmt.Errorf("%s activation: %w", b.name, err)
			}
		}
	}
	return h, nil
}

// Layers summarizes the dense stages in evaluation order.
func (m *Classifier) Layers() []LayerSummary {
	out := make([]LayerSummary, 0, len(m.blocks))
	for _, b := range m.blocks {
		s := LayerSummary{Name: b.name, In: b.linear.In(), Out: b.linear.Out()}
		if b.act != nil {
			s.Activation = b.act.String()
		}
		out = append(out, s)
	}
	return out
}
