package prune

import (
	"github.com/born-ml/taper/internal/tensor"
)

// Sparsify pins every channel whose scale magnitude is at most eps to exactly
// gamma = 0, beta = 0, and returns the number of channels pinned.
//
// After the proximal training phase the zero-gamma channels still emit their
// beta as a constant. Zeroing beta as well makes them emit nothing, so
// removing them in Compress cannot change the network output.
func Sparsify[B tensor.Backend](seq *Sequence[B], eps float32) int {
	pinned := 0
	for _, norm := range seq.Prunable() {
		gamma := norm.Norm.Gamma().Tensor().Data()
		beta := norm.Norm.Beta().Tensor().Data()

		for c := range gamma {
			if abs32(gamma[c]) <= eps {
				gamma[c] = 0
				beta[c] = 0
				pinned++
			}
		}
	}
	return pinned
}

func abs32(x float32) float32 {
	if x < 0 {
		return -x
	}
	return x
}
