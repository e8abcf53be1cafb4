// Package prune implements structured channel pruning for convolutional
// networks via L1 regularization on batch-normalization scales.
//
// The pipeline, in order:
//   - Walk flattens a model into an ordered layer sequence with explicit
//     convolution/normalization pairing and a spatial dimension trace.
//   - ComputePenalties derives a per-layer sparsity penalty from the cost a
//     layer's channels impose on every downstream convolution.
//   - optim.ISTA consumes the penalties during training and drives individual
//     normalization scales to exact zeros.
//   - Rescale optionally shrinks scales (and inversely grows the following
//     convolution's weights) around training to sharpen the threshold.
//   - Sparsify pins near-zero channels to exactly zero scale and shift.
//   - Compress rebuilds the network with the zeroed channels physically
//     removed.
//   - Report summarizes per-layer sparsity for monitoring.
package prune

import (
	"errors"
	"fmt"

	"github.com/born-ml/taper/internal/nn"
	"github.com/born-ml/taper/internal/tensor"
)

// ErrMalformedSequence reports a layer ordering the pruner cannot work with,
// such as a normalization layer with no preceding convolution.
var ErrMalformedSequence = errors.New("malformed layer sequence")

// Kind classifies a layer for the pruning passes.
//
// Layers are tagged once during the walk; no pass inspects runtime types
// afterwards.
type Kind int

const (
	// KindOther marks layers the pruner passes over (activations, pooling,
	// linear heads).
	KindOther Kind = iota

	// KindConvolution marks 2D convolutions, the layers whose channels get
	// removed.
	KindConvolution

	// KindNormalization marks batch normalization layers, whose scale
	// parameters gate the channels of their owning convolution.
	KindNormalization
)

// LayerDesc describes one layer of the flattened sequence.
//
// Exactly one of Conv, Norm is set for the corresponding Kind; Module always
// holds the layer itself.
type LayerDesc[B tensor.Backend] struct {
	Kind   Kind
	Module nn.Module[B]

	Conv *nn.Conv2D[B]      // set when Kind == KindConvolution
	Norm *nn.BatchNorm2d[B] // set when Kind == KindNormalization

	// Spatial is the square output feature-map size after this layer, for
	// convolutions. Part of the spatial dimension trace used by the penalty
	// calculator.
	Spatial int

	// OwnerConv is the sequence index of the convolution whose output this
	// normalization layer gates. Only meaningful for KindNormalization.
	OwnerConv int

	// NextConv is the sequence index of the next convolution after this
	// normalization layer, or -1 if none follows. Rescaling and compression
	// pair layers through this link rather than positional adjacency.
	NextConv int
}

// Sequence is a model flattened into forward-execution order, with the
// bookkeeping every pruning pass consumes.
type Sequence[B tensor.Backend] struct {
	Layers []*LayerDesc[B]

	// prunable holds the sequence indices of normalization descriptors, in
	// execution order. Penalty vectors and survivor sets index against this.
	prunable []int

	inputSize int
}

// Walk flattens model into a Sequence, recursing through nn.Container
// modules, and computes the spatial dimension trace from the given square
// input size.
//
// Returns ErrMalformedSequence if a normalization layer appears before any
// convolution.
func Walk[B tensor.Backend](model nn.Module[B], inputSize int) (*Sequence[B], error) {
	if inputSize <= 0 {
		return nil, fmt.Errorf("walk: invalid input size %d", inputSize)
	}

	seq := &Sequence[B]{inputSize: inputSize}
	flatten(model, seq)

	spatial := inputSize
	lastConv := -1
	for i, layer := range seq.Layers {
		switch m := layer.Module.(type) {
		case *nn.Conv2D[B]:
			out := m.ComputeOutputSize(spatial, spatial)
			spatial = out[0]
			layer.Spatial = spatial
			lastConv = i
		case *nn.MaxPool2D[B]:
			out := m.ComputeOutputSize(spatial, spatial)
			spatial = out[0]
		case *nn.BatchNorm2d[B]:
			if lastConv < 0 {
				return nil, fmt.Errorf("walk: normalization at position %d has no preceding convolution: %w",
					i, ErrMalformedSequence)
			}
			if m.NumFeatures() != seq.Layers[lastConv].Conv.OutChannels() {
				return nil, fmt.Errorf("walk: normalization at position %d has %d channels, owning convolution has %d: %w",
					i, m.NumFeatures(), seq.Layers[lastConv].Conv.OutChannels(), ErrMalformedSequence)
			}
			layer.OwnerConv = lastConv
			seq.prunable = append(seq.prunable, i)
		}
	}

	// Link each normalization to the convolution that follows it.
	nextConv := -1
	for i := len(seq.Layers) - 1; i >= 0; i-- {
		layer := seq.Layers[i]
		if layer.Kind == KindNormalization {
			layer.NextConv = nextConv
		}
		if layer.Kind == KindConvolution {
			nextConv = i
		}
	}

	return seq, nil
}

func flatten[B tensor.Backend](module nn.Module[B], seq *Sequence[B]) {
	if container, ok := module.(nn.Container[B]); ok {
		for _, child := range container.Modules() {
			flatten(child, seq)
		}
		return
	}

	desc := &LayerDesc[B]{Kind: KindOther, Module: module, OwnerConv: -1, NextConv: -1}
	switch m := module.(type) {
	case *nn.Conv2D[B]:
		desc.Kind = KindConvolution
		desc.Conv = m
	case *nn.BatchNorm2d[B]:
		desc.Kind = KindNormalization
		desc.Norm = m
	}
	seq.Layers = append(seq.Layers, desc)
}

// Prunable returns the normalization descriptors in execution order.
func (s *Sequence[B]) Prunable() []*LayerDesc[B] {
	out := make([]*LayerDesc[B], len(s.prunable))
	for i, idx := range s.prunable {
		out[i] = s.Layers[idx]
	}
	return out
}

// NumPrunable returns the number of prunable normalization layers.
func (s *Sequence[B]) NumPrunable() int {
	return len(s.prunable)
}

// Convolutions returns the convolution descriptors in execution order.
func (s *Sequence[B]) Convolutions() []*LayerDesc[B] {
	var out []*LayerDesc[B]
	for _, layer := range s.Layers {
		if layer.Kind == KindConvolution {
			out = append(out, layer)
		}
	}
	return out
}

// FirstLinear returns the first linear layer of the sequence, or nil.
// Compression remaps its input columns to the surviving channels of the last
// convolution.
func (s *Sequence[B]) FirstLinear() *nn.Linear[B] {
	for _, layer := range s.Layers {
		if l, ok := layer.Module.(*nn.Linear[B]); ok {
			return l
		}
	}
	return nil
}

// FinalSpatial returns the square feature-map size entering the first linear
// layer: the spatial trace after the last convolution with all later pooling
// applied.
func (s *Sequence[B]) FinalSpatial() int {
	spatial := s.inputSize
	for _, layer := range s.Layers {
		switch m := layer.Module.(type) {
		case *nn.Conv2D[B]:
			spatial = m.ComputeOutputSize(spatial, spatial)[0]
		case *nn.MaxPool2D[B]:
			spatial = m.ComputeOutputSize(spatial, spatial)[0]
		}
	}
	return spatial
}

// InputSize returns the square input resolution the trace was computed from.
func (s *Sequence[B]) InputSize() int {
	return s.inputSize
}
