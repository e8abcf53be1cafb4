package optim

import (
	"fmt"

	"github.com/born-ml/taper/internal/nn"
	"github.com/born-ml/taper/internal/tensor"
)

// ISTA implements proximal gradient descent for L1-penalized parameters
// (Iterative Shrinkage-Thresholding Algorithm).
//
// It is meant to own exactly the normalization scale vectors of a network,
// each tagged with the pruning penalty of its layer. Every step first applies
// a momentum SGD update and then the proximal operator of the scaled L1 norm,
// the element-wise soft-threshold:
//
//	w = sign(w) * max(|w| - lr*penalty, 0)
//
// The threshold produces exact zeros: once a scale's magnitude drops below
// lr*penalty it is clamped to 0.0, and the channel it gates contributes a
// constant to the network output. That is what makes the channel removable.
//
// No weight decay is applied; the L1 penalty is the only regularizer on
// these parameters.
type ISTA[B tensor.Backend] struct {
	params     []*nn.Parameter[B]
	penalties  []float32
	lr         float32
	momentum   float32
	velocities map[*nn.Parameter[B]][]float32
	backend    B
}

// ISTAConfig holds configuration for the ISTA optimizer.
type ISTAConfig struct {
	LR       float32 // Learning rate (default: 0.01)
	Momentum float32 // Momentum factor (default: 0.0, range: [0, 1))
}

// NewISTA creates an ISTA optimizer over the given parameters.
//
// penalties must hold one threshold coefficient per parameter, in the same
// order; parameter i is thresholded at lr*penalties[i].
func NewISTA[B tensor.Backend](
	params []*nn.Parameter[B],
	penalties []float32,
	config ISTAConfig,
	backend B,
) *ISTA[B] {
	if len(params) != len(penalties) {
		panic(fmt.Sprintf("ista: %d parameters but %d penalties", len(params), len(penalties)))
	}
	if config.LR == 0 {
		config.LR = 0.01
	}

	return &ISTA[B]{
		params:     params,
		penalties:  penalties,
		lr:         config.LR,
		momentum:   config.Momentum,
		velocities: make(map[*nn.Parameter[B]][]float32),
		backend:    backend,
	}
}

// Step performs one proximal gradient step: momentum SGD followed by
// soft-thresholding.
//
// Parameters with no gradient are skipped entirely, including the threshold;
// a scale that did not participate in the forward pass is left untouched.
func (o *ISTA[B]) Step(grads map[*tensor.RawTensor]*tensor.RawTensor) {
	for i, param := range o.params {
		grad := getGradient(param, grads)
		if grad == nil {
			continue
		}
		o.updateParameter(param, grad.AsFloat32(), o.penalties[i])
	}
}

func (o *ISTA[B]) updateParameter(param *nn.Parameter[B], grad []float32, penalty float32) {
	data := param.Tensor().Raw().AsFloat32()

	velocity, exists := o.velocities[param]
	if !exists {
		velocity = make([]float32, len(data))
		o.velocities[param] = velocity
	}

	threshold := o.lr * penalty
	for i := range data {
		velocity[i] = o.momentum*velocity[i] + grad[i]
		w := data[i] - o.lr*velocity[i]

		// Proximal operator of threshold*|w|.
		switch {
		case w > threshold:
			data[i] = w - threshold
		case w < -threshold:
			data[i] = w + threshold
		default:
			data[i] = 0
		}
	}
}

// ZeroGrad clears gradients for all parameters.
func (o *ISTA[B]) ZeroGrad() {
	for _, param := range o.params {
		param.ZeroGrad()
	}
}

// GetLR returns the current learning rate.
func (o *ISTA[B]) GetLR() float32 {
	return o.lr
}

// SetLR updates the learning rate.
func (o *ISTA[B]) SetLR(lr float32) {
	o.lr = lr
}

// Penalty returns the threshold coefficient attached to parameter i.
func (o *ISTA[B]) Penalty(i int) float32 {
	return o.penalties[i]
}
