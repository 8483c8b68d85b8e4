package tokenizer

import (
	"fmt"
	"strings"
	"unicode/utf8"
)

// CharModulo is a placeholder tokenizer: every rune encodes to its code
// point modulo VocabSize, and every id decodes to the rune with that code
// point. It is lossy for any text outside [0, VocabSize).
type CharModulo struct {
	VocabSize int
}

func NewCharModulo(vocabSize int) (*CharModulo, error) {
	if vocabSize <= 0 {
		return nil, fmt.Errorf("char tokenizer: vocab size must be positive, got %d", vocabSize)
	}
	return &CharModulo{VocabSize: vocabSize}, nil
}

func (c *CharModulo) Encode(text string) ([]int, error) {
	ids := make([]int, 0, utf8.RuneCountInString(text))
	for _, r := range text {
		ids = append(ids, int(r)%c.VocabSize)
	}
	return ids, nil
}

func (c *CharModulo) Decode(ids []int) (string, error) {
	var b strings.Builder
	b.Grow(len(ids))
	for _, id := range ids {
		b.WriteRune(c.DecodeOne(id))
	}
	return b.String(), nil
}

// DecodeOne maps an id to its rune. Ids that are not valid code points
// become a space.
func (c *CharModulo) DecodeOne(id int) rune {
	if id < 0 || id > utf8.MaxRune {
		return ' '
	}
	r := rune(id)
	if !utf8.ValidRune(r) {
		return ' '
	}
	return r
}
