package prune

import (
	"github.com/born-ml/taper/internal/tensor"
)

// Direction selects which way Rescale moves the normalization scales.
type Direction int

const (
	// DirectionShrink multiplies scales by alpha and the following
	// convolution's weights by 1/alpha. Applied before training so the
	// soft-threshold acts on smaller magnitudes.
	DirectionShrink Direction = iota

	// DirectionGrow inverts the shrink, restoring the original
	// parameterization after training.
	DirectionGrow
)

// Rescale rebalances magnitudes between each normalization layer and the
// convolution that follows it: gamma and beta scale by the factor, the next
// convolution's weights by its reciprocal.
//
// The pass is function-preserving: the normalization output scales linearly
// in (gamma, beta), any ReLU or max-pooling in between commutes with a
// positive factor, and the following convolution is linear in its weights, so
// the composed outputs are unchanged. A normalization with no following
// convolution is left alone.
//
// Shrink followed by grow with the same alpha restores the original values up
// to floating-point rounding.
func Rescale[B tensor.Backend](seq *Sequence[B], alpha float32, direction Direction) {
	factor := alpha
	if direction == DirectionGrow {
		factor = 1 / alpha
	}
	inverse := 1 / factor

	for _, norm := range seq.Prunable() {
		if norm.NextConv < 0 {
			continue
		}

		scaleSlice(norm.Norm.Gamma().Tensor().Data(), factor)
		scaleSlice(norm.Norm.Beta().Tensor().Data(), factor)

		next := seq.Layers[norm.NextConv].Conv
		scaleSlice(next.Weight().Tensor().Data(), inverse)
	}
}

func scaleSlice(data []float32, factor float32) {
	for i := range data {
		data[i] *= factor
	}
}
