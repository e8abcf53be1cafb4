package nn

import (
	"github.com/born-ml/taper/internal/tensor"
)

// Flatten collapses all dimensions after the batch dimension, turning a
// [N, C, H, W] feature map into [N, C*H*W] for a linear head.
type Flatten[B tensor.Backend] struct{}

// NewFlatten creates a Flatten module.
func NewFlatten[B tensor.Backend]() *Flatten[B] {
	return &Flatten[B]{}
}

// Forward reshapes the input to two dimensions, keeping the batch dimension.
func (f *Flatten[B]) Forward(input *tensor.Tensor[float32, B]) *tensor.Tensor[float32, B] {
	shape := input.Shape()
	return input.Reshape(shape[0], shape.NumElements()/shape[0])
}

// Parameters returns an empty slice (Flatten has no parameters).
func (f *Flatten[B]) Parameters() []*Parameter[B] {
	return []*Parameter[B]{}
}

// String returns a string representation of the module.
func (f *Flatten[B]) String() string {
	return "Flatten()"
}
