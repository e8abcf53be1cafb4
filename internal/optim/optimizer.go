// Package optim implements optimization algorithms for training and pruning
// convolutional networks.
//
// This package provides:
//   - Optimizer interface: Base interface for all optimizers
//   - SGD: Stochastic Gradient Descent with momentum and weight decay
//   - ISTA: Proximal gradient descent with soft-thresholding, used to drive
//     normalization scales to exact zeros for channel pruning
//
// Design inspired by PyTorch's torch.optim but adapted for Go with type safety.
//
// A pruning run drives two optimizers over disjoint parameter groups: the
// normalization scales go to ISTA, everything else to SGD.
//
// Example usage:
//
//	sgd := optim.NewSGD(weights, optim.SGDConfig{LR: 0.1, Momentum: 0.9}, backend)
//	ista := optim.NewISTA(scales, penalties, optim.ISTAConfig{LR: 0.1, Momentum: 0.9}, backend)
//
//	for epoch := range epochs {
//	    backend.Tape().StartRecording()
//	    loss := criterion.Forward(model.Forward(input), targets)
//	    grads := autodiff.Backward(loss, backend)
//
//	    sgd.Step(grads)
//	    ista.Step(grads)
//	    sgd.ZeroGrad()
//	    ista.ZeroGrad()
//	    backend.Tape().Clear()
//	}
package optim

import (
	"github.com/born-ml/taper/internal/nn"
	"github.com/born-ml/taper/internal/tensor"
)

// Optimizer is the base interface for all optimization algorithms.
//
// Optimizers update model parameters based on computed gradients to
// minimize the loss function during training.
type Optimizer interface {
	// Step applies gradient updates to all parameters.
	//
	// Takes a gradient map from Backward() and updates parameters in-place.
	// The gradient map should contain RawTensor -> gradient mapping.
	Step(grads map[*tensor.RawTensor]*tensor.RawTensor)

	// ZeroGrad clears all parameter gradients.
	//
	// This should be called before each backward pass to prevent
	// gradient accumulation from previous iterations.
	ZeroGrad()

	// GetLR returns the current learning rate.
	//
	// Useful for monitoring and learning rate scheduling.
	GetLR() float32
}

// getGradient safely retrieves gradient for a parameter.
//
// Returns nil if no gradient is found (parameter wasn't part of computation graph).
func getGradient[B tensor.Backend](param *nn.Parameter[B], grads map[*tensor.RawTensor]*tensor.RawTensor) *tensor.RawTensor {
	if param == nil {
		return nil
	}
	return grads[param.Tensor().Raw()]
}
