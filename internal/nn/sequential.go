package nn

import (
	"github.com/born-ml/taper/internal/tensor"
)

// Sequential is a container module that chains multiple modules together.
//
// Each module's output becomes the next module's input, creating a
// sequential pipeline of transformations.
//
// Example:
//
//	features := nn.NewSequential(
//	    nn.NewConv2D(3, 64, 3, 3, 1, 1, false, backend),
//	    nn.NewBatchNorm2d(64, backend),
//	    nn.NewReLU[Backend](),
//	)
type Sequential[B tensor.Backend] struct {
	modules []Module[B]
}

// NewSequential creates a new Sequential container.
func NewSequential[B tensor.Backend](modules ...Module[B]) *Sequential[B] {
	return &Sequential[B]{
		modules: modules,
	}
}

// Forward applies all modules in sequence.
func (s *Sequential[B]) Forward(input *tensor.Tensor[float32, B]) *tensor.Tensor[float32, B] {
	output := input
	for _, module := range s.modules {
		output = module.Forward(output)
	}
	return output
}

// Parameters returns the parameters of all contained modules.
func (s *Sequential[B]) Parameters() []*Parameter[B] {
	var params []*Parameter[B]
	for _, module := range s.modules {
		params = append(params, module.Parameters()...)
	}
	return params
}

// Modules returns the contained modules in order.
//
// The pruning walker uses this to pair convolutions with the normalization
// layers that follow them.
func (s *Sequential[B]) Modules() []Module[B] {
	return s.modules
}

// Append adds modules to the end of the container.
func (s *Sequential[B]) Append(modules ...Module[B]) {
	s.modules = append(s.modules, modules...)
}

// Len returns the number of contained modules.
func (s *Sequential[B]) Len() int {
	return len(s.modules)
}
