// Package nn implements the neural network layers used by the Taper toolkit.
//
// This package provides building blocks for constructing convolutional networks:
//   - Module interface: Base interface for all NN components
//   - Parameter: Trainable parameters with gradient tracking
//   - Conv2D, BatchNorm2d, Linear: Trainable layers
//   - ReLU, MaxPool2D: Parameter-free layers
//   - CrossEntropyLoss: Classification loss
//   - Sequential: Container for stacking layers
//
// Design inspired by PyTorch's nn.Module but adapted for Go generics.
package nn

import (
	"github.com/born-ml/taper/internal/tensor"
)

// Module is the base interface for all neural network components.
//
// Every NN module must implement:
//   - Forward: Compute output from input
//   - Parameters: Return all trainable parameters
//
// Modules can be composed to build complex architectures:
//
//	model := nn.NewSequential[Backend](
//	    nn.NewConv2D(3, 64, 3, 3, 1, 1, false, backend),
//	    nn.NewBatchNorm2d(64, backend),
//	    nn.NewReLU[Backend](),
//	)
//
// Type parameter B must satisfy the tensor.Backend interface.
type Module[B tensor.Backend] interface {
	// Forward computes the output of the module given an input tensor.
	//
	// The input tensor should have the appropriate shape for this module.
	// For example, Conv2D expects [batch, channels, height, width].
	Forward(input *tensor.Tensor[float32, B]) *tensor.Tensor[float32, B]

	// Parameters returns all trainable parameters of this module.
	//
	// This includes weights, biases, and any nested module parameters.
	// Returns an empty slice for modules without trainable parameters
	// (e.g., activation functions).
	Parameters() []*Parameter[B]
}

// Container is a module composed of child modules in forward-execution order.
//
// The pruning topology walker flattens containers recursively, so arbitrarily
// nested models expose a single ordered layer sequence.
type Container[B tensor.Backend] interface {
	Module[B]

	// Modules returns the child modules in the order Forward runs them.
	Modules() []Module[B]
}
