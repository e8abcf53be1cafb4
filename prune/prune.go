// Copyright 2025 Born ML Framework. All rights reserved.
// Use of this source code is governed by an Apache 2.0
// license that can be found in the LICENSE file.

// Package prune provides the public API for structured channel pruning.
//
// The pruning pipeline: walk the model into an ordered layer sequence,
// compute per-layer sparsity penalties, train with the proximal ISTA
// optimizer until normalization scales hit exact zeros, then sparsify,
// compress, and finetune.
//
// Example:
//
//	session, err := prune.NewSession(model, prune.SessionConfig{
//	    Rho:       1e-7,
//	    InputSize: 32,
//	}, backend)
package prune

import (
	"github.com/born-ml/taper/internal/nn"
	"github.com/born-ml/taper/internal/prune"
	"github.com/born-ml/taper/internal/tensor"
)

// Structural errors surfaced by the pruning passes.
var (
	ErrMalformedSequence = prune.ErrMalformedSequence
	ErrNoSurvivors       = prune.ErrNoSurvivors
)

// Kind classifies a layer in the flattened sequence.
type Kind = prune.Kind

// Layer kinds.
const (
	KindOther         Kind = prune.KindOther
	KindConvolution   Kind = prune.KindConvolution
	KindNormalization Kind = prune.KindNormalization
)

// LayerDesc describes one layer of the flattened sequence.
type LayerDesc[B tensor.Backend] = prune.LayerDesc[B]

// Sequence is a model flattened into forward-execution order.
type Sequence[B tensor.Backend] = prune.Sequence[B]

// Walk flattens a model into a Sequence and computes its spatial trace.
func Walk[B tensor.Backend](model nn.Module[B], inputSize int) (*Sequence[B], error) {
	return prune.Walk(model, inputSize)
}

// ComputePenalties computes the per-layer sparsity penalty vector.
func ComputePenalties[B tensor.Backend](seq *Sequence[B], rho float32, imageDim int) []float32 {
	return prune.ComputePenalties(seq, rho, imageDim)
}

// Direction selects which way Rescale moves the normalization scales.
type Direction = prune.Direction

// Rescale directions.
const (
	DirectionShrink Direction = prune.DirectionShrink
	DirectionGrow   Direction = prune.DirectionGrow
)

// Rescale rebalances magnitudes between normalization scales and following
// convolution weights without changing the network function.
func Rescale[B tensor.Backend](seq *Sequence[B], alpha float32, direction Direction) {
	prune.Rescale(seq, alpha, direction)
}

// Sparsify pins channels with |gamma| <= eps to exactly zero scale and shift.
func Sparsify[B tensor.Backend](seq *Sequence[B], eps float32) int {
	return prune.Sparsify(seq, eps)
}

// SurvivingChannels returns the per-layer surviving channel index sets.
func SurvivingChannels[B tensor.Backend](seq *Sequence[B], eps float32) ([][]int, error) {
	return prune.SurvivingChannels(seq, eps)
}

// Compress copies the surviving weights of a trained sequence into a
// structurally smaller target.
func Compress[B tensor.Backend](src, dst *Sequence[B], eps float32) error {
	return prune.Compress(src, dst, eps)
}

// MetricSink receives scalar metrics for external dashboarding.
type MetricSink = prune.MetricSink

// LayerStats summarizes the scale distribution of one prunable layer.
type LayerStats = prune.LayerStats

// Report is a point-in-time sparsity summary.
type Report = prune.Report

// NewReport computes per-layer zero counts and scale statistics.
func NewReport[B tensor.Backend](seq *Sequence[B], eps float32) Report {
	return prune.NewReport(seq, eps)
}

// Session carries the full state of one pruning run.
type Session[B tensor.Backend] = prune.Session[B]

// SessionConfig holds the hyperparameters of a pruning run.
type SessionConfig = prune.SessionConfig

// NewSession walks the model, computes penalties, and builds the optimizers.
func NewSession[B tensor.Backend](model nn.Module[B], config SessionConfig, backend B) (*Session[B], error) {
	return prune.NewSession(model, config, backend)
}
