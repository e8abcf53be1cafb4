package prune

import (
	"github.com/born-ml/taper/internal/nn"
	"github.com/born-ml/taper/internal/optim"
	"github.com/born-ml/taper/internal/tensor"
)

// SessionConfig holds the hyperparameters of a pruning run. Zero values fall
// back to the reference recipe in NewSession.
type SessionConfig struct {
	LR          float32 // learning rate for both optimizers (default: 0.01)
	Momentum    float32 // momentum for both optimizers (default: 0.9)
	WeightDecay float32 // L2 decay for the non-scale parameters (default: 5e-4)

	Rho   float32 // regularization strength feeding the penalty vector
	Alpha float32 // gamma rescaling factor (default: 1.0, i.e. disabled)
	Eps   float32 // zero threshold for sparsify/compress (default: 1e-4)

	InputSize int // square input resolution for the spatial trace
}

// Session carries the full state of one pruning run: the model, its walked
// sequence, the penalty vector, and the two optimizers over their disjoint
// parameter groups. Every phase takes the session instead of reaching for
// shared state.
//
// Parameter split: normalization scales (gamma) go to the proximal ISTA
// optimizer, each tagged with its layer's penalty; every other parameter,
// normalization shifts included, trains under plain SGD with weight decay.
type Session[B tensor.Backend] struct {
	Model     nn.Module[B]
	Seq       *Sequence[B]
	Penalties []float32
	SGD       *optim.SGD[B]
	ISTA      *optim.ISTA[B]
	Config    SessionConfig

	backend B
}

// NewSession walks the model, computes the penalty vector, and builds the two
// optimizers over their parameter groups.
func NewSession[B tensor.Backend](model nn.Module[B], config SessionConfig, backend B) (*Session[B], error) {
	if config.LR == 0 {
		config.LR = 0.01
	}
	if config.Momentum == 0 {
		config.Momentum = 0.9
	}
	if config.WeightDecay == 0 {
		config.WeightDecay = 5e-4
	}
	if config.Alpha == 0 {
		config.Alpha = 1.0
	}
	if config.Eps == 0 {
		config.Eps = 1e-4
	}

	seq, err := Walk(model, config.InputSize)
	if err != nil {
		return nil, err
	}

	penalties := ComputePenalties(seq, config.Rho, config.InputSize)

	var scaleParams []*nn.Parameter[B]
	var scalePenalties []float32
	var sgdParams []*nn.Parameter[B]

	prunableIdx := 0
	for _, layer := range seq.Layers {
		if layer.Kind == KindNormalization {
			scaleParams = append(scaleParams, layer.Norm.Gamma())
			scalePenalties = append(scalePenalties, penalties[prunableIdx])
			sgdParams = append(sgdParams, layer.Norm.Beta())
			prunableIdx++
			continue
		}
		sgdParams = append(sgdParams, layer.Module.Parameters()...)
	}

	return &Session[B]{
		Model:     model,
		Seq:       seq,
		Penalties: penalties,
		SGD: optim.NewSGD(sgdParams, optim.SGDConfig{
			LR:          config.LR,
			Momentum:    config.Momentum,
			WeightDecay: config.WeightDecay,
		}, backend),
		ISTA: optim.NewISTA(scaleParams, scalePenalties, optim.ISTAConfig{
			LR:       config.LR,
			Momentum: config.Momentum,
		}, backend),
		Config:  config,
		backend: backend,
	}, nil
}

// Step applies one update to both parameter groups from a shared gradient map.
// The groups own disjoint tensors, so the order does not matter.
func (s *Session[B]) Step(grads map[*tensor.RawTensor]*tensor.RawTensor) {
	s.SGD.Step(grads)
	s.ISTA.Step(grads)
}

// ZeroGrad clears gradients on both parameter groups.
func (s *Session[B]) ZeroGrad() {
	s.SGD.ZeroGrad()
	s.ISTA.ZeroGrad()
}

// ShrinkScales applies the gamma rescaling trick before training.
func (s *Session[B]) ShrinkScales() {
	Rescale(s.Seq, s.Config.Alpha, DirectionShrink)
}

// GrowScales reverses the rescaling after training.
func (s *Session[B]) GrowScales() {
	Rescale(s.Seq, s.Config.Alpha, DirectionGrow)
}

// Sparsify pins near-zero channels using the session's threshold.
func (s *Session[B]) Sparsify() int {
	return Sparsify(s.Seq, s.Config.Eps)
}

// Report summarizes the current channel sparsity.
func (s *Session[B]) Report() Report {
	return NewReport(s.Seq, s.Config.Eps)
}
