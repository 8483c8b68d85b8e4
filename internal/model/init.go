package model

import (
	"github.com/samcharles93/medaiml/internal/nn"
	"github.com/samcharles93/medaiml/internal/safetensors"
)

// InitClassifierWeights builds a classifier from seeded fresh parameters
// and returns them in archive form, named the way NewClassifier reads them.
func InitClassifierWeights(cfg *ClassifierConfig, seed int64) (map[string]safetensors.Entry, error) {
	src := nn.NewInitSource(seed)
	if _, err := NewClassifier(cfg, nn.NewParams(src)); err != nil {
		return nil, err
	}
	return src.Entries(), nil
}

// InitTransformerWeights is InitClassifierWeights for the text model.
func InitTransformerWeights(cfg *TransformerConfig, seed int64) (map[string]safetensors.Entry, error) {
	src := nn.NewInitSource(seed)
	if _, err := NewTransformer(cfg, nn.NewParams(src)); err != nil {
		return nil, err
	}
	return src.Entries(), nil
}
