package prune_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/born-ml/taper/internal/prune"
	"github.com/born-ml/taper/internal/tensor"
)

func TestNewSession_WiresPenaltiesAndGroups(t *testing.T) {
	backend := newBackend()
	model := twoConvNet(backend, 4, 4)

	session, err := prune.NewSession(model, prune.SessionConfig{
		Rho:       1.0,
		InputSize: 4,
	}, backend)
	require.NoError(t, err)

	require.Len(t, session.Penalties, 2)
	assert.InDelta(t, 61.0/16.0, session.Penalties[0], 1e-6)
	assert.InDelta(t, 36.0/16.0, session.Penalties[1], 1e-6)

	// Recipe defaults.
	assert.InDelta(t, 0.01, session.Config.LR, 1e-9)
	assert.InDelta(t, 0.9, session.Config.Momentum, 1e-9)
	assert.InDelta(t, 5e-4, session.Config.WeightDecay, 1e-9)
	assert.InDelta(t, 0.01, session.SGD.GetLR(), 1e-9)
	assert.InDelta(t, 0.01, session.ISTA.GetLR(), 1e-9)
}

func TestNewSession_MalformedModel(t *testing.T) {
	backend := newBackend()
	model := twoConvNet(backend, 4, 4)

	_, err := prune.NewSession(model, prune.SessionConfig{InputSize: 0}, backend)
	require.Error(t, err)
}

// TestSession_ZeroEpochs checks that constructing a session and never
// stepping leaves every parameter at its initialization value.
func TestSession_ZeroEpochs(t *testing.T) {
	backend := newBackend()
	model := twoConvNet(backend, 4, 4)

	var before [][]float32
	for _, p := range model.Parameters() {
		before = append(before, append([]float32(nil), p.Tensor().Data()...))
	}

	session, err := prune.NewSession(model, prune.SessionConfig{
		Rho:       1.0,
		InputSize: 4,
	}, backend)
	require.NoError(t, err)

	// An empty gradient map must also leave everything untouched.
	session.Step(map[*tensor.RawTensor]*tensor.RawTensor{})
	session.ZeroGrad()

	for i, p := range model.Parameters() {
		assert.Equal(t, before[i], p.Tensor().Data())
	}
}

// TestSession_IstaStepZeroesScales drives one proximal step with a large
// penalty and checks the scales hit exact zeros while SGD-owned parameters
// only move by their own update.
func TestSession_IstaStepZeroesScales(t *testing.T) {
	backend := newBackend()
	model := twoConvNet(backend, 2, 2)

	session, err := prune.NewSession(model, prune.SessionConfig{
		LR:        0.1,
		Rho:       100.0, // large pruning pressure so one step crosses zero
		InputSize: 4,
	}, backend)
	require.NoError(t, err)

	gamma := session.Seq.Prunable()[0].Norm.Gamma()
	copy(gamma.Tensor().Data(), []float32{0.05, 0.02})

	grad, err := tensor.NewRaw(tensor.Shape{2}, tensor.Float32, backend.Device())
	require.NoError(t, err)

	session.Step(map[*tensor.RawTensor]*tensor.RawTensor{
		gamma.Tensor().Raw(): grad,
	})

	for _, g := range gamma.Tensor().Data() {
		assert.Zero(t, g)
	}
}
