package nn

import (
	"fmt"

	"github.com/born-ml/taper/internal/tensor"
)

// BatchNorm2d applies batch normalization over a 4D input [N, C, H, W],
// normalizing each channel over the batch and spatial dimensions.
//
// Forward (training):
//
//	y = (x - mean) / sqrt(var + eps) * gamma + beta
//
// where mean and var are computed per channel over the (N, H, W) axes.
// Running estimates of mean and variance are maintained with exponential
// smoothing and used instead of batch statistics in eval mode.
//
// The per-channel scale gamma is the structured-sparsity handle of this
// toolkit: driving a channel's gamma to exactly zero makes the channel's
// output a constant beta, and pinning beta to zero as well silences it
// entirely, so the channel can be removed without changing the function.
type BatchNorm2d[B tensor.Backend] struct {
	numFeatures int
	eps         float32
	momentum    float32
	training    bool

	gamma *Parameter[B] // [C] scale, initialized to ones
	beta  *Parameter[B] // [C] shift, initialized to zeros

	runningMean *tensor.Tensor[float32, B] // [C], not trainable
	runningVar  *tensor.Tensor[float32, B] // [C], not trainable

	backend B
}

// NewBatchNorm2d creates a batch normalization layer for numFeatures channels
// with the standard eps=1e-5 and momentum=0.1.
func NewBatchNorm2d[B tensor.Backend](numFeatures int, backend B) *BatchNorm2d[B] {
	return NewBatchNorm2dWith(numFeatures, 1e-5, 0.1, backend)
}

// NewBatchNorm2dWith creates a batch normalization layer with explicit
// eps and momentum.
func NewBatchNorm2dWith[B tensor.Backend](numFeatures int, eps, momentum float32, backend B) *BatchNorm2d[B] {
	if numFeatures <= 0 {
		panic(fmt.Sprintf("batchnorm2d: invalid feature count %d", numFeatures))
	}
	if eps <= 0 {
		panic(fmt.Sprintf("batchnorm2d: invalid eps %g", eps))
	}

	shape := tensor.Shape{numFeatures}

	return &BatchNorm2d[B]{
		numFeatures: numFeatures,
		eps:         eps,
		momentum:    momentum,
		training:    true,
		gamma:       NewParameter("batchnorm2d.gamma", Ones(shape, backend)),
		beta:        NewParameter("batchnorm2d.beta", Zeros(shape, backend)),
		runningMean: Zeros(shape, backend),
		runningVar:  Ones(shape, backend),
		backend:     backend,
	}
}

// Forward normalizes the input per channel.
//
// Input: [batch, channels, height, width]
// Output: same shape.
//
// In training mode batch statistics are used and the running estimates are
// updated; in eval mode the running estimates are used.
func (bn *BatchNorm2d[B]) Forward(input *tensor.Tensor[float32, B]) *tensor.Tensor[float32, B] {
	inputShape := input.Shape()
	if len(inputShape) != 4 {
		panic(fmt.Sprintf("batchnorm2d: expected 4D input [N,C,H,W], got %dD", len(inputShape)))
	}
	if inputShape[1] != bn.numFeatures {
		panic(fmt.Sprintf("batchnorm2d: input channels %d != expected %d", inputShape[1], bn.numFeatures))
	}

	var mean, variance *tensor.Tensor[float32, B]
	if bn.training {
		// Per-channel statistics over (N, H, W), kept as [1,C,1,1] so every
		// step stays on the tape for gradient flow
		mean = input.MeanDim(0, true).MeanDim(2, true).MeanDim(3, true)
		centered := input.Sub(mean)
		variance = centered.Mul(centered).MeanDim(0, true).MeanDim(2, true).MeanDim(3, true)

		bn.updateRunningStats(mean, variance, inputShape)
	} else {
		mean = bn.runningMean.Reshape(1, bn.numFeatures, 1, 1)
		variance = bn.runningVar.Reshape(1, bn.numFeatures, 1, 1)
	}

	invStd := variance.AddScalar(bn.eps).Rsqrt()
	normalized := input.Sub(mean).Mul(invStd)

	gammaShaped := bn.gamma.Tensor().Reshape(1, bn.numFeatures, 1, 1)
	betaShaped := bn.beta.Tensor().Reshape(1, bn.numFeatures, 1, 1)

	return normalized.Mul(gammaShaped).Add(betaShaped)
}

// updateRunningStats blends the batch statistics into the running estimates.
// This is pure bookkeeping on the raw values and never touches the tape.
func (bn *BatchNorm2d[B]) updateRunningStats(mean, variance *tensor.Tensor[float32, B], inputShape tensor.Shape) {
	n := inputShape[0] * inputShape[2] * inputShape[3]

	// The running variance uses the unbiased estimator, per convention
	correction := float32(1.0)
	if n > 1 {
		correction = float32(n) / float32(n-1)
	}

	batchMean := mean.Raw().AsFloat32()
	batchVar := variance.Raw().AsFloat32()
	rm := bn.runningMean.Data()
	rv := bn.runningVar.Data()

	for c := 0; c < bn.numFeatures; c++ {
		rm[c] = (1-bn.momentum)*rm[c] + bn.momentum*batchMean[c]
		rv[c] = (1-bn.momentum)*rv[c] + bn.momentum*batchVar[c]*correction
	}
}

// Parameters returns the trainable parameters [gamma, beta].
func (bn *BatchNorm2d[B]) Parameters() []*Parameter[B] {
	return []*Parameter[B]{bn.gamma, bn.beta}
}

// Train switches the layer to training mode (batch statistics).
func (bn *BatchNorm2d[B]) Train() {
	bn.training = true
}

// Eval switches the layer to evaluation mode (running statistics).
func (bn *BatchNorm2d[B]) Eval() {
	bn.training = false
}

// IsTraining reports whether the layer is in training mode.
func (bn *BatchNorm2d[B]) IsTraining() bool {
	return bn.training
}

// Gamma returns the per-channel scale parameter.
func (bn *BatchNorm2d[B]) Gamma() *Parameter[B] {
	return bn.gamma
}

// Beta returns the per-channel shift parameter.
func (bn *BatchNorm2d[B]) Beta() *Parameter[B] {
	return bn.beta
}

// RunningMean returns the running mean estimate [C].
func (bn *BatchNorm2d[B]) RunningMean() *tensor.Tensor[float32, B] {
	return bn.runningMean
}

// RunningVar returns the running variance estimate [C].
func (bn *BatchNorm2d[B]) RunningVar() *tensor.Tensor[float32, B] {
	return bn.runningVar
}

// NumFeatures returns the number of channels.
func (bn *BatchNorm2d[B]) NumFeatures() int {
	return bn.numFeatures
}

// Eps returns the numerical stability constant.
func (bn *BatchNorm2d[B]) Eps() float32 {
	return bn.eps
}

// String returns a string representation of the layer.
func (bn *BatchNorm2d[B]) String() string {
	return fmt.Sprintf("BatchNorm2d(num_features=%d, eps=%g, momentum=%g)",
		bn.numFeatures, bn.eps, bn.momentum)
}
