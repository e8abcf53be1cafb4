// Package models provides configurable VGG-style convolutional networks.
//
// Architectures are driven by a channel configuration slice, so a pruned
// network is the same builder instantiated with the surviving channel counts
// instead of a separate handwritten definition.
package models

import (
	"fmt"

	"github.com/born-ml/taper/internal/nn"
	"github.com/born-ml/taper/internal/tensor"
)

// Pool marks a 2x2 max-pooling stage in a channel configuration.
const Pool = -1

// VGG16Config returns the channel configuration of VGG-16: thirteen 3x3
// convolutions in five pooled stages.
func VGG16Config() []int {
	return []int{64, 64, Pool, 128, 128, Pool, 256, 256, 256, Pool,
		512, 512, 512, Pool, 512, 512, 512, Pool}
}

// CompressedConfig maps a configuration to its pruned counterpart: every
// convolution entry is replaced by its surviving channel count, pooling
// markers stay. survivors must hold one entry per convolution.
func CompressedConfig(cfg []int, survivors [][]int) ([]int, error) {
	out := make([]int, len(cfg))
	conv := 0
	for i, c := range cfg {
		if c == Pool {
			out[i] = Pool
			continue
		}
		if conv >= len(survivors) {
			return nil, fmt.Errorf("models: config has more convolutions than survivor sets (%d)", len(survivors))
		}
		out[i] = len(survivors[conv])
		conv++
	}
	if conv != len(survivors) {
		return nil, fmt.Errorf("models: %d survivor sets for %d convolutions", len(survivors), conv)
	}
	return out, nil
}

// VGG is a VGG-style network: conv/batchnorm/relu blocks with interspersed
// pooling, then a flattening linear classifier.
type VGG[B tensor.Backend] struct {
	seq *nn.Sequential[B]
	cfg []int
}

// NewVGG builds a network from the channel configuration.
//
// Every positive entry becomes a 3x3 stride-1 padded convolution (no bias,
// normalization follows) with that many output channels, followed by batch
// normalization and ReLU; Pool entries become 2x2 max-pooling. The classifier
// is a single linear layer over the flattened final feature map.
func NewVGG[B tensor.Backend](cfg []int, inChannels, numClasses, inputSize int, backend B) (*VGG[B], error) {
	if len(cfg) == 0 {
		return nil, fmt.Errorf("models: empty configuration")
	}
	if inChannels <= 0 || numClasses <= 0 || inputSize <= 0 {
		return nil, fmt.Errorf("models: invalid dimensions in=%d classes=%d input=%d",
			inChannels, numClasses, inputSize)
	}

	seq := nn.NewSequential[B]()
	channels := inChannels
	spatial := inputSize

	for _, c := range cfg {
		if c == Pool {
			if spatial < 2 {
				return nil, fmt.Errorf("models: pooling below 1x1 at input size %d", inputSize)
			}
			seq.Append(nn.NewMaxPool2D(2, 2, backend))
			spatial /= 2
			continue
		}
		if c <= 0 {
			return nil, fmt.Errorf("models: invalid channel count %d", c)
		}
		seq.Append(
			nn.NewConv2D(channels, c, 3, 3, 1, 1, false, backend),
			nn.NewBatchNorm2d(c, backend),
			nn.NewReLU[B](),
		)
		channels = c
	}

	seq.Append(
		nn.NewFlatten[B](),
		nn.NewLinear(channels*spatial*spatial, numClasses, backend),
	)

	return &VGG[B]{seq: seq, cfg: append([]int(nil), cfg...)}, nil
}

// Forward runs the network on a [N, C, H, W] input and returns class logits.
func (v *VGG[B]) Forward(input *tensor.Tensor[float32, B]) *tensor.Tensor[float32, B] {
	return v.seq.Forward(input)
}

// Parameters returns all trainable parameters.
func (v *VGG[B]) Parameters() []*nn.Parameter[B] {
	return v.seq.Parameters()
}

// Modules returns the flattened layer list in execution order.
func (v *VGG[B]) Modules() []nn.Module[B] {
	return v.seq.Modules()
}

// Config returns a copy of the channel configuration the network was built
// from.
func (v *VGG[B]) Config() []int {
	return append([]int(nil), v.cfg...)
}

// Train switches all normalization layers to training mode.
func (v *VGG[B]) Train() {
	v.setTraining(true)
}

// Eval switches all normalization layers to evaluation mode.
func (v *VGG[B]) Eval() {
	v.setTraining(false)
}

func (v *VGG[B]) setTraining(training bool) {
	for _, m := range v.seq.Modules() {
		if bn, ok := m.(*nn.BatchNorm2d[B]); ok {
			if training {
				bn.Train()
			} else {
				bn.Eval()
			}
		}
	}
}
