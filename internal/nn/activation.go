package nn

import (
	"fmt"
	"strings"

	"github.com/samcharles93/medaiml/internal/errs"
	"github.com/samcharles93/medaiml/internal/tensor"
)

type ActivationKind uint8

const (
	ActRelu ActivationKind = iota
	ActLeakyRelu
	ActSigmoid
	ActSoftmax
)

// DefaultLeakyAlpha is the negative slope used for "leaky_relu".
const DefaultLeakyAlpha = 0.01

// Activation is a closed set of nonlinearities. Alpha only applies to
// ActLeakyRelu and Axis only to ActSoftmax (negative counts from the end).
type Activation struct {
	Kind  ActivationKind
	Alpha float32
	Axis  int
}

func Relu() Activation                   { return Activation{Kind: ActRelu} }
func LeakyRelu(alpha float32) Activation { return Activation{Kind: ActLeakyRelu, Alpha: alpha} }
func Sigmoid() Activation                { return Activation{Kind: ActSigmoid} }
func Softmax(axis int) Activation        { return Activation{Kind: ActSoftmax, Axis: axis} }

// ParseActivation maps a configuration name to an Activation. Names outside
// the known set resolve to Relu with known=false; configs in the wild rely
// on that default, so it is not an error.
func ParseActivation(name string) (act Activation, known bool) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "relu":
		return Relu(), true
	case "leaky_relu":
		return LeakyRelu(DefaultLeakyAlpha), true
	case "sigmoid":
		return Sigmoid(), true
	case "softmax":
		return Softmax(-1), true
	default:
		return Relu(), false
	}
}

func (a Activation) String() string {
	switch a.Kind {
	case ActRelu:
		return "relu"
	case ActLeakyRelu:
		return fmt.Sprintf("leaky_relu(%g)", a.Alpha)
	case ActSigmoid:
		return "sigmoid"
	case ActSoftmax:
		return fmt.Sprintf("softmax(axis=%d)", a.Axis)
	default:
		return fmt.Sprintf("activation(%d)", a.Kind)
	}
}

// Apply evaluates the activation and returns a new tensor.
func (a Activation) Apply(x *tensor.Tensor) (*tensor.Tensor, error) {
	switch a.Kind {
	case ActRelu:
		return tensor.Map(x, tensor.ReLU), nil
	case ActLeakyRelu:
		return tensor.Map(x, tensor.LeakyReLU(a.Alpha)), nil
	case ActSigmoid:
		return tensor.Map(x, tensor.Sigmoid), nil
	case ActSoftmax:
		return softmaxAxis(x, a.Axis)
	default:
		return nil, fmt.Errorf("unknown activation kind %d", a.Kind)
	}
}

func softmaxAxis(x *tensor.Tensor, axis int) (*tensor.Tensor, error) {
	if axis < 0 {
		axis += x.Dims()
	}
	if axis < 0 || axis >= x.Dims() {
		return nil, errs.NewShapeMismatch("softmax axis", fmt.Sprintf("< %d", x.Dims()), axis)
	}
	if axis == x.Dims()-1 {
		return tensor.SoftmaxLastAxis(x), nil
	}
	outer, inner := 1, 1
	for i := 0; i < axis; i++ {
		outer *= x.Shape[i]
	}
	for i := axis + 1; i < x.Dims(); i++ {
		inner *= x.Shape[i]
	}
	n := x.Shape[axis]
	out := x.Clone()
	lane := make([]float32, n)
	for o := range outer {
		for in := range inner {
			base := o*n*inner + in
			for j := range n {
				lane[j] = out.Data[base+j*inner]
			}
			tensor.Softmax(lane)
			for j := range n {
				out.Data[base+j*inner] = lane[j]
			}
		}
	}
	return out, nil
}
