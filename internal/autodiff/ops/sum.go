package ops

import "github.com/born-ml/taper/internal/tensor"

// SumOp represents a full reduction: output = sum(x) over all elements.
//
// Backward pass: every element contributes 1.0 to the scalar output, so the
// gradient is the scalar output gradient broadcast to the input shape.
type SumOp struct {
	inputs []*tensor.RawTensor // [x]
	output *tensor.RawTensor   // scalar sum(x)
}

// NewSumOp creates a new SumOp.
func NewSumOp(x, output *tensor.RawTensor) *SumOp {
	return &SumOp{
		inputs: []*tensor.RawTensor{x},
		output: output,
	}
}

// Backward computes input gradients for the full sum.
func (op *SumOp) Backward(outputGrad *tensor.RawTensor, _ tensor.Backend) []*tensor.RawTensor {
	x := op.inputs[0]

	gradX := createScalar(x.Shape(), x.DType(), outputGrad.AsFloat32()[0], x.Device())

	return []*tensor.RawTensor{gradX}
}

// Inputs returns the input tensors [x].
func (op *SumOp) Inputs() []*tensor.RawTensor {
	return op.inputs
}

// Output returns the scalar output tensor.
func (op *SumOp) Output() *tensor.RawTensor {
	return op.output
}
