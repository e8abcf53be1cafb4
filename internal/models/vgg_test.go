package models_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/born-ml/taper/internal/autodiff"
	"github.com/born-ml/taper/internal/backend/cpu"
	"github.com/born-ml/taper/internal/models"
	"github.com/born-ml/taper/internal/prune"
	"github.com/born-ml/taper/internal/tensor"
)

type Backend = *autodiff.AutodiffBackend[*cpu.CPUBackend]

func newBackend() Backend {
	return autodiff.New(cpu.New())
}

func TestNewVGG_SmallForward(t *testing.T) {
	backend := newBackend()

	model, err := models.NewVGG([]int{4, models.Pool, 8, models.Pool}, 1, 3, 8, backend)
	require.NoError(t, err)

	input := tensor.Randn[float32](tensor.Shape{2, 1, 8, 8}, backend)
	logits := model.Forward(input)

	assert.True(t, logits.Shape().Equal(tensor.Shape{2, 3}))
}

func TestNewVGG_IsWalkable(t *testing.T) {
	backend := newBackend()

	model, err := models.NewVGG([]int{4, 4, models.Pool, 8, models.Pool}, 3, 10, 8, backend)
	require.NoError(t, err)

	seq, err := prune.Walk[Backend](model, 8)
	require.NoError(t, err)

	assert.Equal(t, 3, seq.NumPrunable())
	assert.Len(t, seq.Convolutions(), 3)
	assert.Equal(t, 2, seq.FinalSpatial())
}

func TestVGG16Config_Shape(t *testing.T) {
	cfg := models.VGG16Config()

	convs, pools := 0, 0
	for _, c := range cfg {
		if c == models.Pool {
			pools++
		} else {
			convs++
		}
	}
	assert.Equal(t, 13, convs)
	assert.Equal(t, 5, pools)
}

func TestCompressedConfig(t *testing.T) {
	cfg := []int{4, models.Pool, 4}
	survivors := [][]int{{1, 3}, {0, 1, 2}}

	compressed, err := models.CompressedConfig(cfg, survivors)
	require.NoError(t, err)
	assert.Equal(t, []int{2, models.Pool, 3}, compressed)
}

func TestCompressedConfig_MismatchedSurvivors(t *testing.T) {
	_, err := models.CompressedConfig([]int{4, 4}, [][]int{{0}})
	require.Error(t, err)
}

func TestNewVGG_InvalidConfig(t *testing.T) {
	backend := newBackend()

	_, err := models.NewVGG(nil, 1, 3, 8, backend)
	require.Error(t, err)

	_, err = models.NewVGG([]int{0}, 1, 3, 8, backend)
	require.Error(t, err)

	_, err = models.NewVGG([]int{4}, 1, 3, 0, backend)
	require.Error(t, err)
}

// TestVGG_PruneRoundTrip compresses a small VGG through the full pipeline:
// sparsify, survivor computation, compressed rebuild, weight copy.
func TestVGG_PruneRoundTrip(t *testing.T) {
	backend := newBackend()

	model, err := models.NewVGG([]int{4, models.Pool, 4}, 1, 3, 4, backend)
	require.NoError(t, err)

	seq, err := prune.Walk[Backend](model, 4)
	require.NoError(t, err)

	copy(seq.Prunable()[0].Norm.Gamma().Tensor().Data(), []float32{0, 0.5, 0, 0.8})
	prune.Sparsify(seq, 1e-4)

	survivors, err := prune.SurvivingChannels(seq, 1e-4)
	require.NoError(t, err)

	cfg, err := models.CompressedConfig(model.Config(), survivors)
	require.NoError(t, err)
	assert.Equal(t, []int{2, models.Pool, 4}, cfg)

	smaller, err := models.NewVGG(cfg, 1, 3, 4, backend)
	require.NoError(t, err)

	dst, err := prune.Walk[Backend](smaller, 4)
	require.NoError(t, err)

	require.NoError(t, prune.Compress(seq, dst, 1e-4))
	assert.Equal(t, 2, dst.Convolutions()[0].Conv.OutChannels())
	assert.Equal(t, 2, dst.Convolutions()[1].Conv.InChannels())
}
