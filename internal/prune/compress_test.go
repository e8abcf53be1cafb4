package prune_test

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/born-ml/taper/internal/prune"
	"github.com/born-ml/taper/internal/tensor"
)

func setGammas(t *testing.T, seq *prune.Sequence[Backend], layer int, values []float32) {
	t.Helper()
	gamma := seq.Prunable()[layer].Norm.Gamma().Tensor().Data()
	require.Len(t, gamma, len(values))
	copy(gamma, values)
}

func TestSurvivingChannels(t *testing.T) {
	backend := newBackend()
	seq, err := prune.Walk(twoConvNet(backend, 4, 4), 4)
	require.NoError(t, err)

	setGammas(t, seq, 0, []float32{0, 0.5, 0, 0.8})

	survivors, err := prune.SurvivingChannels(seq, 1e-4)
	require.NoError(t, err)

	assert.Equal(t, []int{1, 3}, survivors[0])
	assert.Equal(t, []int{0, 1, 2, 3}, survivors[1])
}

func TestSurvivingChannels_NoSurvivors(t *testing.T) {
	backend := newBackend()
	seq, err := prune.Walk(twoConvNet(backend, 4, 4), 4)
	require.NoError(t, err)

	setGammas(t, seq, 0, []float32{0, 0, 0, 0})

	_, err = prune.SurvivingChannels(seq, 1e-4)
	require.Error(t, err)
	assert.True(t, errors.Is(err, prune.ErrNoSurvivors))
}

func TestSparsify_PinsScaleAndShift(t *testing.T) {
	backend := newBackend()
	seq, err := prune.Walk(twoConvNet(backend, 4, 4), 4)
	require.NoError(t, err)

	norm := seq.Prunable()[0].Norm
	copy(norm.Gamma().Tensor().Data(), []float32{1e-5, 0.5, -1e-6, 0.8})
	copy(norm.Beta().Tensor().Data(), []float32{0.3, 0.3, 0.3, 0.3})

	pinned := prune.Sparsify(seq, 1e-4)

	assert.Equal(t, 2, pinned)
	assert.Equal(t, []float32{0, 0.5, 0, 0.8}, norm.Gamma().Tensor().Data())
	assert.Equal(t, []float32{0, 0.3, 0, 0.3}, norm.Beta().Tensor().Data())
}

// TestCompress_WeightCopy covers the reference scenario: a two-convolution
// [4,4] network whose first normalization keeps channels {1,3}. The
// compressed first convolution must equal rows {1,3} of the original, and the
// second must keep input columns {1,3} in every output row.
func TestCompress_WeightCopy(t *testing.T) {
	backend := newBackend()
	src, err := prune.Walk(twoConvNet(backend, 4, 4), 4)
	require.NoError(t, err)

	setGammas(t, src, 0, []float32{0, 0.5, 0, 0.8})

	dst, err := prune.Walk(twoConvNet(backend, 2, 4), 4)
	require.NoError(t, err)

	require.NoError(t, prune.Compress(src, dst, 1e-4))

	srcConv1 := src.Convolutions()[0].Conv.Weight().Tensor().Data()
	dstConv1 := dst.Convolutions()[0].Conv.Weight().Tensor().Data()

	// Single input channel, 3x3 kernel: row o is the block [o*9, o*9+9).
	assert.Equal(t, srcConv1[9:18], dstConv1[0:9])
	assert.Equal(t, srcConv1[27:36], dstConv1[9:18])

	srcConv2 := src.Convolutions()[1].Conv.Weight().Tensor().Data()
	dstConv2 := dst.Convolutions()[1].Conv.Weight().Tensor().Data()

	// [out, in, 3, 3] row-major: output row o keeps input columns {1,3}.
	for o := 0; o < 4; o++ {
		for ii, in := range []int{1, 3} {
			srcOff := (o*4 + in) * 9
			dstOff := (o*2 + ii) * 9
			assert.Equal(t, srcConv2[srcOff:srcOff+9], dstConv2[dstOff:dstOff+9])
		}
	}

	// Normalization parameters follow the surviving indices.
	srcNorm := src.Prunable()[0].Norm
	dstNorm := dst.Prunable()[0].Norm
	assert.Equal(t, []float32{0.5, 0.8}, dstNorm.Gamma().Tensor().Data())
	assert.Equal(t, srcNorm.Beta().Tensor().Data()[1], dstNorm.Beta().Tensor().Data()[0])
	assert.Equal(t, srcNorm.RunningVar().Data()[3], dstNorm.RunningVar().Data()[1])
}

func TestCompress_LinearHeadColumnBlocks(t *testing.T) {
	backend := newBackend()
	src, err := prune.Walk(twoConvNet(backend, 4, 4), 4)
	require.NoError(t, err)

	// Prune the second point: channels {0, 2} of the last convolution
	// survive, each owning a block of FinalSpatial^2 = 4 linear columns.
	setGammas(t, src, 1, []float32{0.9, 0, 0.7, 0})

	dst, err := prune.Walk(twoConvNet(backend, 4, 2), 4)
	require.NoError(t, err)

	require.NoError(t, prune.Compress(src, dst, 1e-4))

	srcFC := src.FirstLinear()
	dstFC := dst.FirstLinear()
	srcW := srcFC.Weight().Tensor().Data()
	dstW := dstFC.Weight().Tensor().Data()

	for row := 0; row < srcFC.OutFeatures(); row++ {
		for ci, c := range []int{0, 2} {
			srcOff := row*16 + c*4
			dstOff := row*8 + ci*4
			assert.Equal(t, srcW[srcOff:srcOff+4], dstW[dstOff:dstOff+4])
		}
	}
	assert.Equal(t, srcFC.Bias().Tensor().Data(), dstFC.Bias().Tensor().Data())
}

// TestCompress_OutputPreserving prunes both points of a sparsified network
// and checks the compressed model computes the same function.
func TestCompress_OutputPreserving(t *testing.T) {
	backend := newBackend()
	srcModel := twoConvNet(backend, 4, 4)
	src, err := prune.Walk(srcModel, 4)
	require.NoError(t, err)

	setGammas(t, src, 0, []float32{0, 0.5, 0, 0.8})
	setGammas(t, src, 1, []float32{0.9, 0, 0.7, 0})
	for _, norm := range src.Prunable() {
		for c := range norm.Norm.RunningMean().Data() {
			norm.Norm.RunningMean().Data()[c] = 0.1 * float32(c)
			norm.Norm.RunningVar().Data()[c] = 1.0 + 0.2*float32(c)
			norm.Norm.Beta().Tensor().Data()[c] = 0.05 * float32(c)
		}
	}
	prune.Sparsify(src, 1e-4)

	dstModel := twoConvNet(backend, 2, 2)
	dst, err := prune.Walk(dstModel, 4)
	require.NoError(t, err)

	require.NoError(t, prune.Compress(src, dst, 1e-4))

	for _, norm := range src.Prunable() {
		norm.Norm.Eval()
	}
	for _, norm := range dst.Prunable() {
		norm.Norm.Eval()
	}

	input := tensor.Randn[float32](tensor.Shape{2, 1, 4, 4}, backend)
	want := srcModel.Forward(input).Data()
	got := dstModel.Forward(input).Data()

	require.Len(t, got, len(want))
	for i := range want {
		assert.InDelta(t, want[i], got[i], 1e-4)
	}
}

// TestCompress_AllNonZero checks that compressing a network with no zeroed
// scales reproduces it structurally and value for value.
func TestCompress_AllNonZero(t *testing.T) {
	backend := newBackend()
	src, err := prune.Walk(twoConvNet(backend, 4, 4), 4)
	require.NoError(t, err)

	dst, err := prune.Walk(twoConvNet(backend, 4, 4), 4)
	require.NoError(t, err)

	require.NoError(t, prune.Compress(src, dst, 1e-4))

	for i := range src.Convolutions() {
		assert.Equal(t,
			src.Convolutions()[i].Conv.Weight().Tensor().Data(),
			dst.Convolutions()[i].Conv.Weight().Tensor().Data())
	}
	assert.Equal(t,
		src.FirstLinear().Weight().Tensor().Data(),
		dst.FirstLinear().Weight().Tensor().Data())
}

// TestCompress_MismatchedTargetFailsFast checks validation runs before any
// copy: a wrong target errors out with its weights untouched.
func TestCompress_MismatchedTargetFailsFast(t *testing.T) {
	backend := newBackend()
	src, err := prune.Walk(twoConvNet(backend, 4, 4), 4)
	require.NoError(t, err)

	setGammas(t, src, 0, []float32{0, 0.5, 0, 0.8})

	dst, err := prune.Walk(twoConvNet(backend, 3, 4), 4)
	require.NoError(t, err)

	before := append([]float32(nil), dst.Convolutions()[0].Conv.Weight().Tensor().Data()...)

	require.Error(t, prune.Compress(src, dst, 1e-4))
	assert.Equal(t, before, dst.Convolutions()[0].Conv.Weight().Tensor().Data())
}
