package main

import (
	"os"
	"path/filepath"
	"slices"
	"testing"

	"github.com/goccy/go-json"
	"github.com/samcharles93/medaiml/internal/federated"
	"github.com/samcharles93/medaiml/internal/model"
	"github.com/samcharles93/medaiml/internal/nn"
	"github.com/samcharles93/medaiml/internal/safetensors"
)

func TestParseUpdateSpec(t *testing.T) {
	path, n, err := parseUpdateSpec("/tmp/a:b.bin:25")
	if err != nil {
		t.Fatalf("parseUpdateSpec: %v", err)
	}
	if path != "/tmp/a:b.bin" || n != 25 {
		t.Fatalf("got %q %d", path, n)
	}
	for _, bad := range []string{"nocolon", ":5", "file:", "file:-1", "file:x"} {
		if _, _, err := parseUpdateSpec(bad); err == nil {
			t.Fatalf("expected error for %q", bad)
		}
	}
}

func TestAggregateFiles(t *testing.T) {
	dir := t.TempDir()
	a := filepath.Join(dir, "a.bin")
	b := filepath.Join(dir, "b.bin")
	if err := os.WriteFile(a, federated.EncodeWeights([]float32{1, 2}), 0o600); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(b, federated.EncodeWeights([]float32{4, 8}), 0o600); err != nil {
		t.Fatal(err)
	}

	agg, err := aggregateFiles([]string{a + ":30", b + ":10"})
	if err != nil {
		t.Fatalf("aggregateFiles: %v", err)
	}
	want := []float32{1.75, 3.5}
	for i, w := range want {
		if d := agg.Weights[i] - w; d > 1e-6 || d < -1e-6 {
			t.Fatalf("weight %d: got %v want %v", i, agg.Weights[i], w)
		}
	}
	if agg.Samples != 40 || agg.Contributions != 2 {
		t.Fatalf("unexpected totals: %+v", agg)
	}

	if _, err := aggregateFiles(nil); err == nil {
		t.Fatal("expected error without updates")
	}
	short := filepath.Join(dir, "short.bin")
	if err := os.WriteFile(short, federated.EncodeWeights([]float32{1}), 0o600); err != nil {
		t.Fatal(err)
	}
	if _, err := aggregateFiles([]string{a + ":1", short + ":1"}); err == nil {
		t.Fatal("expected length mismatch")
	}
}

func TestInitArchiveRebuilds(t *testing.T) {
	textCfg, err := json.Marshal(&model.TransformerConfig{
		VocabSize:             20,
		HiddenSize:            4,
		NumAttentionHeads:     2,
		NumHiddenLayers:       1,
		IntermediateSize:      8,
		MaxPositionEmbeddings: 8,
		LayerNormEps:          1e-5,
	})
	if err != nil {
		t.Fatal(err)
	}
	buf, names, err := initArchive("text", textCfg, 3)
	if err != nil {
		t.Fatalf("initArchive: %v", err)
	}
	if len(names) == 0 || !slices.IsSorted(names) || !slices.Contains(names, "lm_head.weight") {
		t.Fatalf("unexpected tensor names %v", names)
	}
	cfg, err := model.ParseTransformerConfig(textCfg)
	if err != nil {
		t.Fatal(err)
	}
	f, err := safetensors.Parse(buf)
	if err != nil {
		t.Fatalf("parse archive: %v", err)
	}
	if _, err := model.NewTransformer(cfg, nn.NewParams(nn.FromArchive(f))); err != nil {
		t.Fatalf("rebuild transformer: %v", err)
	}

	if _, _, err := initArchive("audio", textCfg, 1); err == nil {
		t.Fatal("expected unknown kind error")
	}
	if _, _, err := initArchive("classifier", []byte("{"), 1); err == nil {
		t.Fatal("expected config error")
	}
}
