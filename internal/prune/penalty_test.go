package prune_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/born-ml/taper/internal/prune"
)

func TestComputePenalties_KnownValues(t *testing.T) {
	backend := newBackend()
	seq, err := prune.Walk(twoConvNet(backend, 4, 4), 4)
	require.NoError(t, err)

	penalties := prune.ComputePenalties(seq, 1.0, 4)
	require.Len(t, penalties, 2)

	// Layer 0: own = 3*3*1 = 9; follow-up = 3*3*4 + 4^2 = 52; /16.
	assert.InDelta(t, 61.0/16.0, penalties[0], 1e-6)

	// Layer 1: own = 3*3*4 = 36, nothing follows; /16.
	assert.InDelta(t, 36.0/16.0, penalties[1], 1e-6)
}

func TestComputePenalties_LinearInRho(t *testing.T) {
	backend := newBackend()
	seq, err := prune.Walk(twoConvNet(backend, 3, 5), 4)
	require.NoError(t, err)

	base := prune.ComputePenalties(seq, 0.5, 4)
	scaled := prune.ComputePenalties(seq, 1.5, 4)

	require.Len(t, scaled, len(base))
	for i := range base {
		assert.InDelta(t, 3.0*base[i], scaled[i], 1e-6)
	}
}

func TestComputePenalties_ZeroRho(t *testing.T) {
	backend := newBackend()
	seq, err := prune.Walk(twoConvNet(backend, 4, 4), 4)
	require.NoError(t, err)

	for _, p := range prune.ComputePenalties(seq, 0, 4) {
		assert.Zero(t, p)
	}
}
