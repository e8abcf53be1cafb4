package prune

import (
	"github.com/born-ml/taper/internal/tensor"
)

// ComputePenalties computes the per-layer sparsity penalty vector, one entry
// per prunable normalization layer, indexed like Sequence.Prunable().
//
// For the layer gating convolution l, with every later convolution f:
//
//	own       = k_w(l) * k_h(l) * c_in(l)
//	follow_up = Σ_f  k_w(f) * k_h(f) * c_in(f) + s(f)^2
//	penalty   = rho * (own + follow_up) / (i_w * i_h)
//
// where s(f) is the output feature-map size of f from the spatial trace and
// i_w = i_h = imageDim is a fixed nominal resolution shared by all layers.
//
// The follow-up sum is what makes early layers carry more pruning pressure:
// removing one of their channels cheapens the input side of every downstream
// convolution, so the saving compounds with network depth.
//
// rho = 0 yields all-zero penalties (no pruning pressure). The vector is
// computed once before training and never mutated.
func ComputePenalties[B tensor.Backend](seq *Sequence[B], rho float32, imageDim int) []float32 {
	penalties := make([]float32, 0, seq.NumPrunable())
	area := float32(imageDim * imageDim)

	for _, norm := range seq.Prunable() {
		owner := seq.Layers[norm.OwnerConv]
		kernel := owner.Conv.KernelSize()
		own := float32(kernel[0] * kernel[1] * owner.Conv.InChannels())

		followUp := float32(0)
		for i := norm.OwnerConv + 1; i < len(seq.Layers); i++ {
			layer := seq.Layers[i]
			if layer.Kind != KindConvolution {
				continue
			}
			k := layer.Conv.KernelSize()
			followUp += float32(k[0]*k[1]*layer.Conv.InChannels() + layer.Spatial*layer.Spatial)
		}

		penalties = append(penalties, rho*(own+followUp)/area)
	}

	return penalties
}
