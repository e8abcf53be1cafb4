package prune

import (
	"fmt"
	"sort"

	"gonum.org/v1/gonum/stat"

	"github.com/born-ml/taper/internal/tensor"
)

// MetricSink receives scalar metrics for external dashboarding. The pruner
// emits values through it and leaves storage and transport to the caller.
type MetricSink interface {
	Emit(name string, value float64, step int)
}

// LayerStats summarizes the scale distribution of one prunable layer.
type LayerStats struct {
	Layer    int // index among prunable layers
	Channels int
	Zeros    int // channels with |gamma| <= eps

	// Distribution of |gamma| across the layer's channels.
	Mean   float64
	StdDev float64
	Q25    float64
	Median float64
	Q75    float64
}

// Report is a point-in-time sparsity summary of the whole sequence.
type Report struct {
	Layers        []LayerStats
	TotalChannels int
	TotalZeros    int
}

// NewReport computes per-layer zero counts and scale-magnitude statistics,
// treating channels with |gamma| <= eps as zeroed.
func NewReport[B tensor.Backend](seq *Sequence[B], eps float32) Report {
	report := Report{}

	for i, norm := range seq.Prunable() {
		gamma := norm.Norm.Gamma().Tensor().Data()

		magnitudes := make([]float64, len(gamma))
		zeros := 0
		for c, g := range gamma {
			magnitudes[c] = float64(abs32(g))
			if abs32(g) <= eps {
				zeros++
			}
		}
		sort.Float64s(magnitudes)

		report.Layers = append(report.Layers, LayerStats{
			Layer:    i,
			Channels: len(gamma),
			Zeros:    zeros,
			Mean:     stat.Mean(magnitudes, nil),
			StdDev:   stat.StdDev(magnitudes, nil),
			Q25:      stat.Quantile(0.25, stat.Empirical, magnitudes, nil),
			Median:   stat.Quantile(0.5, stat.Empirical, magnitudes, nil),
			Q75:      stat.Quantile(0.75, stat.Empirical, magnitudes, nil),
		})
		report.TotalChannels += len(gamma)
		report.TotalZeros += zeros
	}

	return report
}

// Sparsity returns the overall fraction of zeroed channels, in [0, 1].
func (r Report) Sparsity() float64 {
	if r.TotalChannels == 0 {
		return 0
	}
	return float64(r.TotalZeros) / float64(r.TotalChannels)
}

// EmitTo pushes the report's scalars into the sink under
// "sparsity/layer{i}/..." names plus an overall "sparsity/total".
func (r Report) EmitTo(sink MetricSink, step int) {
	for _, l := range r.Layers {
		prefix := fmt.Sprintf("sparsity/layer%d", l.Layer)
		sink.Emit(prefix+"/zeros", float64(l.Zeros), step)
		sink.Emit(prefix+"/gamma_mean", l.Mean, step)
		sink.Emit(prefix+"/gamma_stddev", l.StdDev, step)
		sink.Emit(prefix+"/gamma_median", l.Median, step)
	}
	sink.Emit("sparsity/total", r.Sparsity(), step)
}

// String renders a one-line-per-layer summary for log output.
func (r Report) String() string {
	out := ""
	for _, l := range r.Layers {
		out += fmt.Sprintf("layer %2d: %3d/%3d zero  |gamma| mean=%.4f std=%.4f q25=%.4f med=%.4f q75=%.4f\n",
			l.Layer, l.Zeros, l.Channels, l.Mean, l.StdDev, l.Q25, l.Median, l.Q75)
	}
	out += fmt.Sprintf("total: %d/%d channels zero (%.1f%%)",
		r.TotalZeros, r.TotalChannels, 100*r.Sparsity())
	return out
}
