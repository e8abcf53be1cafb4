package cpu

import (
	"fmt"

	"github.com/born-ml/taper/internal/tensor"
)

// MaxPool2DBackward computes the gradient w.r.t. input for MaxPool2D.
//
// Gradients flow only to the positions that held the max value in the
// forward pass; every other position in the pooling window gets zero.
// maxIndices holds the flat input index of the winner for each output
// position, recorded during the forward pass.
func (cpu *CPUBackend) MaxPool2DBackward(input, grad *tensor.RawTensor, maxIndices []int, kernelSize, stride int) *tensor.RawTensor {
	inputShape := input.Shape()
	gradShape := grad.Shape()

	N := inputShape[0]
	C := inputShape[1]
	HOut := gradShape[2]
	WOut := gradShape[3]

	inputGrad, err := tensor.NewRaw(inputShape, grad.DType(), cpu.device)
	if err != nil {
		panic(fmt.Sprintf("MaxPool2DBackward: failed to create gradient tensor: %v", err))
	}

	expectedLen := N * C * HOut * WOut
	if len(maxIndices) != expectedLen {
		panic(fmt.Sprintf("MaxPool2DBackward: maxIndices length %d != expected %d", len(maxIndices), expectedLen))
	}

	switch grad.DType() {
	case tensor.Float32:
		maxPool2DBackwardFloat32(inputGrad, grad, maxIndices, N, C, HOut, WOut)
	default:
		panic("MaxPool2DBackward: unsupported dtype")
	}

	return inputGrad
}

// maxPool2DBackwardFloat32 routes gradients to max positions.
func maxPool2DBackwardFloat32(
	inputGrad, grad *tensor.RawTensor,
	maxIndices []int,
	N, C, HOut, WOut int,
) {
	inputGradData := inputGrad.AsFloat32()
	gradData := grad.AsFloat32()

	for i := range inputGradData {
		inputGradData[i] = 0.0
	}

	outIdx := 0
	for n := 0; n < N; n++ {
		for c := 0; c < C; c++ {
			for outH := 0; outH < HOut; outH++ {
				for outW := 0; outW < WOut; outW++ {
					maxPos := maxIndices[outIdx]

					gradIdx := n*C*HOut*WOut + c*HOut*WOut + outH*WOut + outW
					inputGradData[maxPos] += gradData[gradIdx]

					outIdx++
				}
			}
		}
	}
}
