package federated

import (
	"encoding/binary"
	"errors"
	"math"

	"github.com/samcharles93/medaiml/internal/errs"
)

// The weight payload is a single length-prefixed float vector: an unsigned
// LEB128 element count followed by that many little-endian IEEE-754
// float32 values, with no trailing bytes.

// DecodeWeights parses a serialized weight payload.
func DecodeWeights(b []byte) ([]float32, error) {
	n, k := binary.Uvarint(b)
	switch {
	case k == 0:
		return nil, errs.NewDeserialization("weights payload", errors.New("missing element count"))
	case k < 0:
		return nil, errs.NewDeserialization("weights payload", errors.New("element count overflows"))
	}
	body := b[k:]
	if uint64(len(body))%4 != 0 || uint64(len(body))/4 != n {
		return nil, errs.NewDeserialization("weights payload",
			errors.New("body length does not match element count"))
	}
	out := make([]float32, n)
	for i := range out {
		out[i] = math.Float32frombits(binary.LittleEndian.Uint32(body[i*4:]))
	}
	return out, nil
}

// EncodeWeights is the inverse of DecodeWeights.
func EncodeWeights(w []float32) []byte {
	out := binary.AppendUvarint(make([]byte, 0, binary.MaxVarintLen64+4*len(w)), uint64(len(w)))
	for _, v := range w {
		out = binary.LittleEndian.AppendUint32(out, math.Float32bits(v))
	}
	return out
}
