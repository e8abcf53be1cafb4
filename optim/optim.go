// Copyright 2025 Born ML Framework. All rights reserved.
// Use of this source code is governed by an Apache 2.0
// license that can be found in the LICENSE file.

// Package optim provides optimization algorithms for training and pruning.
//
// This package contains:
//   - SGD: Stochastic Gradient Descent with momentum and weight decay
//   - ISTA: proximal gradient descent with soft-thresholding for inducing
//     exact zeros in normalization scales
//   - Optimizer interface for custom optimizers
package optim

import (
	"github.com/born-ml/taper/internal/nn"
	"github.com/born-ml/taper/internal/optim"
	"github.com/born-ml/taper/internal/tensor"
)

// Optimizer defines the common interface for all optimizers.
type Optimizer = optim.Optimizer

// SGD represents the SGD optimizer with momentum and weight decay.
type SGD[B tensor.Backend] = optim.SGD[B]

// SGDConfig contains configuration for the SGD optimizer.
type SGDConfig = optim.SGDConfig

// NewSGD creates a new SGD optimizer.
//
// Example:
//
//	optimizer := optim.NewSGD(
//	    model.Parameters(),
//	    optim.SGDConfig{
//	        LR:          0.01,
//	        Momentum:    0.9,
//	        WeightDecay: 5e-4,
//	    },
//	    backend,
//	)
func NewSGD[B tensor.Backend](params []*nn.Parameter[B], config SGDConfig, backend B) *SGD[B] {
	return optim.NewSGD(params, config, backend)
}

// ISTA represents the proximal soft-thresholding optimizer.
type ISTA[B tensor.Backend] = optim.ISTA[B]

// ISTAConfig contains configuration for the ISTA optimizer.
type ISTAConfig = optim.ISTAConfig

// NewISTA creates a new ISTA optimizer. penalties holds one threshold
// coefficient per parameter, in the same order.
func NewISTA[B tensor.Backend](params []*nn.Parameter[B], penalties []float32, config ISTAConfig, backend B) *ISTA[B] {
	return optim.NewISTA(params, penalties, config, backend)
}
