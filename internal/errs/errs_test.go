package errs_test

import (
	"errors"
	"fmt"
	"testing"

	"github.com/samcharles93/medaiml/internal/errs"
	"github.com/stretchr/testify/assert"
)

func TestTaxonomyMatchesSentinels(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name     string
		err      error
		sentinel error
	}{
		{"deserialization", errs.NewDeserialization("config", errors.New("eof")), errs.ErrDeserialization},
		{"shape", errs.NewShapeMismatch("weights", 2, 3), errs.ErrShapeMismatch},
		{"missing", errs.NewMissingArtifact("config.json"), errs.ErrMissingArtifact},
		{"image", &errs.ImageDecodeError{Err: errors.New("bad png")}, errs.ErrImageDecode},
		{"not initialized", &errs.NotInitializedError{What: "text model"}, errs.ErrNotInitialized},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			wrapped := fmt.Errorf("request: %w", tc.err)
			assert.ErrorIs(t, wrapped, tc.sentinel)
		})
	}
}

func TestDeserializationUnwraps(t *testing.T) {
	t.Parallel()

	base := errors.New("unexpected end of JSON input")
	err := errs.NewDeserialization("bioGPT_config.json", base)
	assert.ErrorIs(t, err, base)
	assert.True(t, errs.IsDeserialization(err))
	assert.False(t, errs.IsShapeMismatch(err))
	assert.Equal(t, "deserialize bioGPT_config.json: unexpected end of JSON input", err.Error())
}

func TestShapeMismatchMessage(t *testing.T) {
	t.Parallel()

	err := errs.NewShapeMismatch("aggregate weights", 4, 3)
	assert.Equal(t, "aggregate weights: shape mismatch: want 4, got 3", err.Error())
	assert.True(t, errs.IsShapeMismatch(err))
}
