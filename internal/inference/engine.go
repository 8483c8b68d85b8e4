package inference

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/samcharles93/medaiml/internal/errs"
	"github.com/samcharles93/medaiml/internal/tensor"
	"github.com/samcharles93/medaiml/internal/tokenizer"
)

// Generator runs greedy decoding. Every step re-evaluates the whole
// sequence; there is no key/value cache.
type Generator struct {
	Model     Model
	Tokenizer tokenizer.Tokenizer

	EOS int
	// BOS seeds the sequence when the prompt encodes to nothing.
	BOS int
	// Limit caps maxNewTokens when positive.
	Limit int
}

// Generate appends up to maxNewTokens greedily chosen tokens to prompt.
//
// The loop stops with StopEOS when the end-of-sequence id is chosen (it is
// not appended), with StopMaxSteps after maxNewTokens steps, or with
// StopCanceled when ctx ends. A canceled run returns the partial result
// together with the context error.
func (g *Generator) Generate(ctx context.Context, prompt string, maxNewTokens int, stream StreamFunc) (*Result, error) {
	if ctx == nil {
		return nil, fmt.Errorf("context is required")
	}
	if maxNewTokens < 0 {
		return nil, fmt.Errorf("max new tokens must not be negative, got %d: %w", maxNewTokens, errs.ErrInvalidInput)
	}
	if g.Limit > 0 && maxNewTokens > g.Limit {
		maxNewTokens = g.Limit
	}

	ids, err := safeEncode(g.Tokenizer, prompt)
	if err != nil {
		return nil, fmt.Errorf("encode prompt: %w", err)
	}
	if len(ids) == 0 {
		ids = []int{g.BOS}
	}

	res := &Result{ID: uuid.NewString(), Reason: StopMaxSteps}
	var sb strings.Builder
	sb.WriteString(prompt)

	start := time.Now()
	defer func() {
		res.Text = sb.String()
		res.Stats.TokensGenerated = len(res.Tokens)
		res.Stats.Duration = time.Since(start)
		if s := res.Stats.Duration.Seconds(); s > 0 {
			res.Stats.TPS = float64(len(res.Tokens)) / s
		}
	}()

	for step := range maxNewTokens {
		if err := ctx.Err(); err != nil {
			res.Reason = StopCanceled
			return res, err
		}
		next, err := g.next(ctx, ids)
		if err != nil {
			if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
				res.Reason = StopCanceled
				return res, err
			}
			return nil, fmt.Errorf("generation step %d: %w", step, err)
		}
		res.Steps++
		if next == g.EOS {
			res.Reason = StopEOS
			return res, nil
		}

		ids = append(ids, next)
		res.Tokens = append(res.Tokens, next)
		piece, err := g.Tokenizer.Decode([]int{next})
		if err != nil {
			return nil, fmt.Errorf("decode token %d: %w", next, err)
		}
		sb.WriteString(piece)
		if stream != nil {
			stream(piece)
		}
	}
	return res, nil
}

// next returns the argmax of the last position's logits.
func (g *Generator) next(ctx context.Context, ids []int) (int, error) {
	logits, err := g.Model.Forward(ctx, [][]int{ids})
	if err != nil {
		return 0, err
	}
	last, err := tensor.LastPosition(logits)
	if err != nil {
		return 0, err
	}
	id := tensor.Argmax(last.Row(0))
	if id < 0 {
		return 0, errs.NewShapeMismatch("vocabulary logits", "non-empty", 0)
	}
	return id, nil
}

func safeEncode(tok tokenizer.Tokenizer, prompt string) (ids []int, err error) {
	defer func() {
		if rec := recover(); rec != nil {
			err = fmt.Errorf("panic in Encode: %v", rec)
		}
	}()
	return tok.Encode(prompt)
}
