package inference

import (
	"context"
	"time"

	"github.com/samcharles93/medaiml/internal/tensor"
)

// StreamFunc receives every decoded piece as soon as it is selected.
type StreamFunc func(piece string)

// Model scores a batch of token sequences, returning (batch, seq, vocab)
// logits.
type Model interface {
	Forward(ctx context.Context, ids [][]int) (*tensor.Tensor, error)
}

// StopReason says which terminal state a generation ended in.
type StopReason string

const (
	StopEOS      StopReason = "eos"
	StopMaxSteps StopReason = "max_steps"
	StopCanceled StopReason = "canceled"
)

type Stats struct {
	TokensGenerated int
	Duration        time.Duration
	TPS             float64
}

// Result is the outcome of one generation. Text starts with the prompt and
// carries at most one decoded rune per generated token.
type Result struct {
	ID     string
	Text   string
	Tokens []int
	Steps  int
	Reason StopReason
	Stats  Stats
}
