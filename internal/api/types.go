package api

import (
	"github.com/samcharles93/medaiml/internal/artifact"
	"github.com/samcharles93/medaiml/internal/imaging"
	"github.com/samcharles93/medaiml/internal/model"
)

type ResponseError struct {
	Message string `json:"message,omitempty"`
	Type    string `json:"type,omitempty"`
	Code    string `json:"code,omitempty"`
	Param   string `json:"param,omitempty"`
}

type ArtifactWriteResponse struct {
	Key     string `json:"key"`
	Written int    `json:"written"`
	Size    int    `json:"size"`
	Chunks  int    `json:"chunks"`
}

type ArtifactListResponse struct {
	Object string          `json:"object"`
	Data   []artifact.Info `json:"data"`
}

type UploadResponse struct {
	Size int    `json:"size"`
	Data []byte `json:"data"`
}

type ImageInspectResponse struct {
	Format string `json:"format"`
	Width  int    `json:"width"`
	Height int    `json:"height"`
}

type ImageTensorResponse struct {
	Shape []int       `json:"shape"`
	Data  [][]float32 `json:"data"`
}

type PredictResponse struct {
	ID          string  `json:"id"`
	ClassIndex  int     `json:"class_index"`
	Label       string  `json:"label"`
	Probability float32 `json:"probability"`
}

type TextModelResponse struct {
	Status        string   `json:"status"`
	VocabSize     int      `json:"vocab_size"`
	HiddenSize    int      `json:"hidden_size"`
	Layers        int      `json:"num_hidden_layers"`
	Heads         int      `json:"num_attention_heads"`
	MaxPositions  int      `json:"max_position_embeddings"`
	Architectures []string `json:"architectures,omitempty"`
}

func textModelResponse(cfg *model.TransformerConfig) TextModelResponse {
	return TextModelResponse{
		Status:        "ready",
		VocabSize:     cfg.VocabSize,
		HiddenSize:    cfg.HiddenSize,
		Layers:        cfg.NumHiddenLayers,
		Heads:         cfg.NumAttentionHeads,
		MaxPositions:  cfg.MaxPositionEmbeddings,
		Architectures: cfg.Architectures,
	}
}

type GenerateRequest struct {
	Prompt       string `json:"prompt"`
	MaxNewTokens *int   `json:"max_new_tokens,omitempty"`
	Stream       bool   `json:"stream,omitempty"`
}

type GenerateUsage struct {
	GeneratedTokens int     `json:"generated_tokens"`
	Steps           int     `json:"steps"`
	DurationMS      float64 `json:"duration_ms"`
	TokensPerSecond float64 `json:"tokens_per_second"`
}

type GenerateResponse struct {
	ID         string        `json:"id"`
	Object     string        `json:"object"`
	Text       string        `json:"text"`
	Tokens     []int         `json:"tokens"`
	StopReason string        `json:"stop_reason"`
	Usage      GenerateUsage `json:"usage"`
}

type GenerateChunk struct {
	ID     string `json:"id"`
	Object string `json:"object"`
	Delta  string `json:"delta"`
}

type FederatedUpdateRequest struct {
	Weights    []float32 `json:"weights"`
	NumSamples uint64    `json:"num_samples"`
}

type FederatedModelResponse struct {
	Object        string    `json:"object"`
	Weights       []float32 `json:"weights"`
	NumSamples    uint64    `json:"num_samples"`
	Contributions int       `json:"contributions"`
	Version       uint64    `json:"version"`
	UpdatedAt     int64     `json:"updated_at"`
}

func imageInspectResponse(ds imaging.Dataset) ImageInspectResponse {
	return ImageInspectResponse{Format: ds.Format, Width: ds.Width, Height: ds.Height}
}
