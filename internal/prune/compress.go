package prune

import (
	"errors"
	"fmt"

	"github.com/born-ml/taper/internal/nn"
	"github.com/born-ml/taper/internal/tensor"
)

// ErrNoSurvivors reports a layer whose every channel scale reached zero.
// A zero-channel convolution is undefined, so this degenerate outcome is
// surfaced instead of producing a broken model.
var ErrNoSurvivors = errors.New("no surviving channels")

// SurvivingChannels returns, per prunable layer, the channel indices whose
// scale magnitude exceeds eps, in their original order.
//
// Returns ErrNoSurvivors if any layer would lose every channel.
func SurvivingChannels[B tensor.Backend](seq *Sequence[B], eps float32) ([][]int, error) {
	survivors := make([][]int, 0, seq.NumPrunable())

	for i, norm := range seq.Prunable() {
		gamma := norm.Norm.Gamma().Tensor().Data()

		var keep []int
		for c, g := range gamma {
			if abs32(g) > eps {
				keep = append(keep, c)
			}
		}
		if len(keep) == 0 {
			return nil, fmt.Errorf("compress: prunable layer %d lost all %d channels: %w",
				i, len(gamma), ErrNoSurvivors)
		}
		survivors = append(survivors, keep)
	}

	return survivors, nil
}

// Compress copies the surviving weights of a trained model into a structurally
// smaller target.
//
// src is the trained sequence with zeroed channel scales; dst is a freshly
// built sequence whose channel counts at every pruning point must equal the
// surviving-channel counts of src. Every shape is validated before any value
// is copied, so a mismatched target fails fast and leaves dst untouched.
//
// Copy rules:
//   - convolution weights keep the surviving output-channel rows of their own
//     pruning point and the surviving input-channel columns inherited from
//     the previous pruning point
//   - normalization scale, shift and running statistics keep surviving
//     indices
//   - the first linear layer keeps, for each surviving channel of the last
//     convolution, that channel's block of spatial^2 input columns
//   - biases and later linear layers copy by surviving index or verbatim
func Compress[B tensor.Backend](src, dst *Sequence[B], eps float32) error {
	survivors, err := SurvivingChannels(src, eps)
	if err != nil {
		return err
	}

	if src.NumPrunable() != dst.NumPrunable() {
		return fmt.Errorf("compress: source has %d prunable layers, target has %d",
			src.NumPrunable(), dst.NumPrunable())
	}

	srcPrunable := src.Prunable()
	dstPrunable := dst.Prunable()

	if err := validateTarget(src, dst, srcPrunable, dstPrunable, survivors); err != nil {
		return err
	}

	for i := range srcPrunable {
		srcConv := src.Layers[srcPrunable[i].OwnerConv].Conv
		dstConv := dst.Layers[dstPrunable[i].OwnerConv].Conv

		copyConv(srcConv, dstConv, survivors[i], inputSurvivors(srcConv, survivors, i))
		copyNorm(srcPrunable[i].Norm, dstPrunable[i].Norm, survivors[i])
	}

	return copyLinears(src, dst, survivors[len(survivors)-1])
}

// inputSurvivors returns the surviving input-channel set for the convolution
// at pruning point i: the previous point's survivors, or every input channel
// for the first convolution.
func inputSurvivors[B tensor.Backend](conv *nn.Conv2D[B], survivors [][]int, i int) []int {
	if i > 0 {
		return survivors[i-1]
	}
	all := make([]int, conv.InChannels())
	for c := range all {
		all[c] = c
	}
	return all
}

func validateTarget[B tensor.Backend](
	src, dst *Sequence[B],
	srcPrunable, dstPrunable []*LayerDesc[B],
	survivors [][]int,
) error {
	for i := range srcPrunable {
		srcConv := src.Layers[srcPrunable[i].OwnerConv].Conv
		dstConv := dst.Layers[dstPrunable[i].OwnerConv].Conv

		if dstConv.OutChannels() != len(survivors[i]) {
			return fmt.Errorf("compress: convolution %d has %d output channels, %d survive",
				i, dstConv.OutChannels(), len(survivors[i]))
		}
		wantIn := len(inputSurvivors(srcConv, survivors, i))
		if dstConv.InChannels() != wantIn {
			return fmt.Errorf("compress: convolution %d has %d input channels, want %d",
				i, dstConv.InChannels(), wantIn)
		}
		if srcConv.KernelSize() != dstConv.KernelSize() {
			return fmt.Errorf("compress: convolution %d kernel %v != source kernel %v",
				i, dstConv.KernelSize(), srcConv.KernelSize())
		}
		if dstPrunable[i].Norm.NumFeatures() != len(survivors[i]) {
			return fmt.Errorf("compress: normalization %d has %d channels, %d survive",
				i, dstPrunable[i].Norm.NumFeatures(), len(survivors[i]))
		}
	}

	srcLinear, dstLinear := src.FirstLinear(), dst.FirstLinear()
	if (srcLinear == nil) != (dstLinear == nil) {
		return fmt.Errorf("compress: source and target disagree on a linear head")
	}
	if srcLinear != nil {
		spatial := src.FinalSpatial()
		wantIn := len(survivors[len(survivors)-1]) * spatial * spatial
		if dstLinear.InFeatures() != wantIn {
			return fmt.Errorf("compress: linear head has %d input features, want %d",
				dstLinear.InFeatures(), wantIn)
		}
		if dstLinear.OutFeatures() != srcLinear.OutFeatures() {
			return fmt.Errorf("compress: linear head has %d output features, source has %d",
				dstLinear.OutFeatures(), srcLinear.OutFeatures())
		}
	}

	return nil
}

// copyConv moves the kernel blocks of surviving output rows x surviving input
// columns. Weights are [out, in, kh, kw] row-major, so each (out, in) pair
// owns a contiguous kh*kw block.
func copyConv[B tensor.Backend](src, dst *nn.Conv2D[B], outKeep, inKeep []int) {
	kernel := src.KernelSize()
	block := kernel[0] * kernel[1]
	srcIn := src.InChannels()
	dstIn := dst.InChannels()

	srcW := src.Weight().Tensor().Data()
	dstW := dst.Weight().Tensor().Data()

	for oi, o := range outKeep {
		for ii, in := range inKeep {
			srcOff := (o*srcIn + in) * block
			dstOff := (oi*dstIn + ii) * block
			copy(dstW[dstOff:dstOff+block], srcW[srcOff:srcOff+block])
		}
	}

	if src.Bias() != nil && dst.Bias() != nil {
		srcB := src.Bias().Tensor().Data()
		dstB := dst.Bias().Tensor().Data()
		for oi, o := range outKeep {
			dstB[oi] = srcB[o]
		}
	}
}

func copyNorm[B tensor.Backend](src, dst *nn.BatchNorm2d[B], keep []int) {
	srcGamma := src.Gamma().Tensor().Data()
	srcBeta := src.Beta().Tensor().Data()
	srcMean := src.RunningMean().Data()
	srcVar := src.RunningVar().Data()

	dstGamma := dst.Gamma().Tensor().Data()
	dstBeta := dst.Beta().Tensor().Data()
	dstMean := dst.RunningMean().Data()
	dstVar := dst.RunningVar().Data()

	for ci, c := range keep {
		dstGamma[ci] = srcGamma[c]
		dstBeta[ci] = srcBeta[c]
		dstMean[ci] = srcMean[c]
		dstVar[ci] = srcVar[c]
	}
}

// copyLinears remaps the first linear layer's input columns to the surviving
// channels of the last convolution and copies any later linear verbatim.
func copyLinears[B tensor.Backend](src, dst *Sequence[B], lastKeep []int) error {
	var srcLinears, dstLinears []*nn.Linear[B]
	for _, layer := range src.Layers {
		if l, ok := layer.Module.(*nn.Linear[B]); ok {
			srcLinears = append(srcLinears, l)
		}
	}
	for _, layer := range dst.Layers {
		if l, ok := layer.Module.(*nn.Linear[B]); ok {
			dstLinears = append(dstLinears, l)
		}
	}
	if len(srcLinears) != len(dstLinears) {
		return fmt.Errorf("compress: source has %d linear layers, target has %d",
			len(srcLinears), len(dstLinears))
	}
	if len(srcLinears) == 0 {
		return nil
	}

	// First linear: each channel of the incoming feature map owns a
	// contiguous block of spatial^2 columns after flattening.
	srcHead, dstHead := srcLinears[0], dstLinears[0]
	area := src.FinalSpatial() * src.FinalSpatial()

	srcW := srcHead.Weight().Tensor().Data()
	dstW := dstHead.Weight().Tensor().Data()
	srcIn := srcHead.InFeatures()
	dstIn := dstHead.InFeatures()

	for row := 0; row < srcHead.OutFeatures(); row++ {
		for ci, c := range lastKeep {
			srcOff := row*srcIn + c*area
			dstOff := row*dstIn + ci*area
			copy(dstW[dstOff:dstOff+area], srcW[srcOff:srcOff+area])
		}
	}
	copy(dstHead.Bias().Tensor().Data(), srcHead.Bias().Tensor().Data())

	for i := 1; i < len(srcLinears); i++ {
		if srcLinears[i].InFeatures() != dstLinears[i].InFeatures() ||
			srcLinears[i].OutFeatures() != dstLinears[i].OutFeatures() {
			return fmt.Errorf("compress: linear %d shape mismatch", i)
		}
		copy(dstLinears[i].Weight().Tensor().Data(), srcLinears[i].Weight().Tensor().Data())
		copy(dstLinears[i].Bias().Tensor().Data(), srcLinears[i].Bias().Tensor().Data())
	}

	return nil
}
