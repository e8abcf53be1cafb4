package prune_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/born-ml/taper/internal/prune"
	"github.com/born-ml/taper/internal/tensor"
)

func TestRescale_RoundTrip(t *testing.T) {
	backend := newBackend()
	model := twoConvNet(backend, 4, 4)

	seq, err := prune.Walk(model, 4)
	require.NoError(t, err)

	prunable := seq.Prunable()
	gammaBefore := append([]float32(nil), prunable[0].Norm.Gamma().Tensor().Data()...)
	convBefore := append([]float32(nil), seq.Convolutions()[1].Conv.Weight().Tensor().Data()...)

	prune.Rescale(seq, 0.5, prune.DirectionShrink)

	// Shrink halves the paired gammas and doubles the next conv's weights.
	for i, g := range prunable[0].Norm.Gamma().Tensor().Data() {
		assert.InDelta(t, 0.5*gammaBefore[i], g, 1e-6)
	}
	for i, w := range seq.Convolutions()[1].Conv.Weight().Tensor().Data() {
		assert.InDelta(t, 2.0*convBefore[i], w, 1e-6)
	}

	prune.Rescale(seq, 0.5, prune.DirectionGrow)

	for i, g := range prunable[0].Norm.Gamma().Tensor().Data() {
		assert.InDelta(t, gammaBefore[i], g, 1e-6)
	}
	for i, w := range seq.Convolutions()[1].Conv.Weight().Tensor().Data() {
		assert.InDelta(t, convBefore[i], w, 1e-6)
	}
}

func TestRescale_LastNormalizationUntouched(t *testing.T) {
	backend := newBackend()
	model := twoConvNet(backend, 4, 4)

	seq, err := prune.Walk(model, 4)
	require.NoError(t, err)

	last := seq.Prunable()[1]
	before := append([]float32(nil), last.Norm.Gamma().Tensor().Data()...)

	prune.Rescale(seq, 0.5, prune.DirectionShrink)

	assert.Equal(t, before, last.Norm.Gamma().Tensor().Data())
}

func TestRescale_FunctionPreserving(t *testing.T) {
	backend := newBackend()
	model := twoConvNet(backend, 4, 4)

	seq, err := prune.Walk(model, 4)
	require.NoError(t, err)

	// Nontrivial shifts and running statistics so the check covers the full
	// affine normalization, then eval mode for deterministic forward passes.
	for li, norm := range seq.Prunable() {
		for c := range norm.Norm.Beta().Tensor().Data() {
			norm.Norm.Beta().Tensor().Data()[c] = 0.1 * float32(c-li)
			norm.Norm.RunningMean().Data()[c] = 0.2 * float32(c)
			norm.Norm.RunningVar().Data()[c] = 1.0 + 0.1*float32(c)
		}
		norm.Norm.Eval()
	}

	input := tensor.Randn[float32](tensor.Shape{2, 1, 4, 4}, backend)

	before := append([]float32(nil), model.Forward(input).Data()...)
	prune.Rescale(seq, 0.5, prune.DirectionShrink)
	after := model.Forward(input).Data()

	require.Len(t, after, len(before))
	for i := range before {
		assert.InDelta(t, before[i], after[i], 1e-4)
	}
}
