package ops

import "github.com/born-ml/taper/internal/tensor"

// maxPool2DGradBackend is satisfied by backends that provide the max pooling
// gradient kernel.
type maxPool2DGradBackend interface {
	MaxPool2DBackward(input, grad *tensor.RawTensor, maxIndices []int, kernelSize, stride int) *tensor.RawTensor
}

// MaxPool2DOp records a max pooling operation for autodiff.
//
// Forward:
//
//	output[n,c,h,w] = max(input[n,c,h*stride+kh,w*stride+kw] for kh,kw in kernel)
//
// Backward:
//   - Gradients flow only to positions that had the max value
//   - For each output position, only one input position receives gradient
//   - All other positions in the pooling window receive zero gradient
//
// Unlike Conv2D which has learnable parameters, MaxPool2D only has input gradients.
type MaxPool2DOp struct {
	input      *tensor.RawTensor
	output     *tensor.RawTensor
	maxIndices []int // Flat indices of max positions for gradient routing
	kernelSize int
	stride     int
}

// NewMaxPool2DOp creates a new MaxPool2D operation.
//
// Max indices are computed here, during the forward pass: without them the
// backward pass cannot route gradients to the winning positions.
func NewMaxPool2DOp(input, output *tensor.RawTensor, kernelSize, stride int) *MaxPool2DOp {
	maxIndices := computeMaxIndices(input, output, kernelSize, stride)

	return &MaxPool2DOp{
		input:      input,
		output:     output,
		maxIndices: maxIndices,
		kernelSize: kernelSize,
		stride:     stride,
	}
}

// computeMaxIndices finds which input position had the max value for each
// output position.
func computeMaxIndices(input, output *tensor.RawTensor, kernelSize, stride int) []int {
	inputShape := input.Shape()
	outputShape := output.Shape()

	n := inputShape[0]
	c := inputShape[1]
	h := inputShape[2]
	w := inputShape[3]
	hOut := outputShape[2]
	wOut := outputShape[3]

	maxIndices := make([]int, n*c*hOut*wOut)

	if input.DType() != tensor.Float32 {
		panic("MaxPool2D: unsupported dtype")
	}

	inputData := input.AsFloat32()

	outIdx := 0
	for in := 0; in < n; in++ {
		for ic := 0; ic < c; ic++ {
			for outH := 0; outH < hOut; outH++ {
				for outW := 0; outW < wOut; outW++ {
					hStart := outH * stride
					wStart := outW * stride

					maxVal := float32(-1e38)
					maxPos := 0

					for kh := 0; kh < kernelSize; kh++ {
						for kw := 0; kw < kernelSize; kw++ {
							inputIdx := ((in*c+ic)*h+hStart+kh)*w + wStart + kw
							val := inputData[inputIdx]

							if val > maxVal {
								maxVal = val
								maxPos = inputIdx
							}
						}
					}

					maxIndices[outIdx] = maxPos
					outIdx++
				}
			}
		}
	}

	return maxIndices
}

// Inputs returns the input tensors.
func (op *MaxPool2DOp) Inputs() []*tensor.RawTensor {
	return []*tensor.RawTensor{op.input}
}

// Output returns the output tensor.
func (op *MaxPool2DOp) Output() *tensor.RawTensor {
	return op.output
}

// Backward computes gradients for MaxPool2D.
//
// This implements the subgradient of the max function:
//
//	∂max(x_i)/∂x_j = 1 if j = argmax(x_i), else 0
func (op *MaxPool2DOp) Backward(outputGrad *tensor.RawTensor, backend tensor.Backend) []*tensor.RawTensor {
	gradBackend, ok := any(backend).(maxPool2DGradBackend)
	if !ok {
		panic("MaxPool2DOp: backend does not provide the max pooling gradient kernel")
	}

	inputGrad := gradBackend.MaxPool2DBackward(op.input, outputGrad, op.maxIndices, op.kernelSize, op.stride)

	return []*tensor.RawTensor{inputGrad}
}
