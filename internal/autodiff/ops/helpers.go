package ops

import (
	"fmt"

	"github.com/born-ml/taper/internal/tensor"
)

// reduceBroadcast reduces a gradient tensor to match the target shape.
// This is necessary when broadcasting was used in the forward pass.
//
// Example:
//
//	Forward: a[3,1] + b[3,4] -> c[3,4]  (a was broadcast along dim 1)
//	Backward: grad_c[3,4] -> grad_a[3,1] (sum along dim 1)
func reduceBroadcast(grad *tensor.RawTensor, targetShape tensor.Shape, backend tensor.Backend) *tensor.RawTensor {
	gradShape := grad.Shape()

	// If shapes already match, clone to avoid aliasing issues
	// (prevents inplace operations from modifying shared gradients)
	if gradShape.Equal(targetShape) {
		return grad.Clone()
	}

	// Handle scalar target (empty shape)
	if len(targetShape) == 0 {
		return sumAll(grad)
	}

	// NumPy broadcasting aligns shapes from the right.
	// If target has fewer dimensions, sum away the leading dimensions first.
	gradDims := len(gradShape)
	targetDims := len(targetShape)

	if targetDims < gradDims {
		dimsToSum := gradDims - targetDims
		result := grad
		for i := 0; i < dimsToSum; i++ {
			summed := sumAlongDimension(result, 0)
			// Drop the leading size-1 dimension left by the reduction
			result = backend.Reshape(summed, summed.Shape()[1:].Clone())
		}
		grad = result
		gradShape = grad.Shape()
	}

	// Now sum along dimensions where target is 1
	result := grad
	for i := 0; i < targetDims; i++ {
		if targetShape[i] == 1 && gradShape[i] > 1 {
			result = sumAlongDimension(result, i)
		}
	}

	// Reshape if necessary to match target shape exactly
	if !result.Shape().Equal(targetShape) {
		result = backend.Reshape(result, targetShape)
	}

	return result
}

// sumAll sums all elements of a tensor to a scalar.
func sumAll(t *tensor.RawTensor) *tensor.RawTensor {
	result, err := tensor.NewRaw(tensor.Shape{}, t.DType(), t.Device())
	if err != nil {
		panic(fmt.Sprintf("sumAll: failed to create result: %v", err))
	}

	if t.DType() != tensor.Float32 {
		panic(fmt.Sprintf("sumAll: unsupported dtype %s", t.DType()))
	}

	var sum float32
	for _, v := range t.AsFloat32() {
		sum += v
	}
	result.AsFloat32()[0] = sum

	return result
}

// sumAlongDimension sums a tensor along the specified dimension.
// The reduced dimension is kept with size 1.
func sumAlongDimension(t *tensor.RawTensor, dim int) *tensor.RawTensor {
	shape := t.Shape()
	if dim < 0 || dim >= len(shape) {
		panic(fmt.Sprintf("sumAlongDimension: invalid dimension %d for shape %v", dim, shape))
	}

	outShape := shape.Clone()
	outShape[dim] = 1

	result, err := tensor.NewRaw(outShape, t.DType(), t.Device())
	if err != nil {
		panic(fmt.Sprintf("sumAlongDimension: failed to create result: %v", err))
	}

	if t.DType() != tensor.Float32 {
		panic(fmt.Sprintf("sumAlongDimension: unsupported dtype %s", t.DType()))
	}

	data := t.AsFloat32()
	out := result.AsFloat32()
	for i := range out {
		out[i] = 0
	}

	// Row-major decomposition: index = (o*dimSize + d)*inner + i
	outer := 1
	for d := 0; d < dim; d++ {
		outer *= shape[d]
	}
	dimSize := shape[dim]
	inner := 1
	for d := dim + 1; d < len(shape); d++ {
		inner *= shape[d]
	}

	for o := 0; o < outer; o++ {
		for d := 0; d < dimSize; d++ {
			base := (o*dimSize + d) * inner
			outBase := o * inner
			for i := 0; i < inner; i++ {
				out[outBase+i] += data[base+i]
			}
		}
	}

	return result
}

// negateGradient returns -grad.
func negateGradient(grad *tensor.RawTensor, backend tensor.Backend) *tensor.RawTensor {
	zeros, err := tensor.NewRaw(grad.Shape(), grad.DType(), backend.Device())
	if err != nil {
		panic(fmt.Sprintf("negateGradient: failed to create zeros: %v", err))
	}

	// NewRaw zero-initializes, so this is 0 - grad
	return backend.Sub(zeros, grad)
}

// createScalar creates a tensor of the given shape filled with a constant value.
func createScalar(shape tensor.Shape, dtype tensor.DataType, value float32, device tensor.Device) *tensor.RawTensor {
	result, err := tensor.NewRaw(shape, dtype, device)
	if err != nil {
		panic(fmt.Sprintf("createScalar: failed to create tensor: %v", err))
	}

	if dtype != tensor.Float32 {
		panic(fmt.Sprintf("createScalar: unsupported dtype %s", dtype))
	}

	data := result.AsFloat32()
	for i := range data {
		data[i] = value
	}

	return result
}

// unsqueezeDim reinserts a dimension of size 1 at the given position, so a
// gradient from a keepDim=false reduction lines up with the input shape
// for broadcasting.
func unsqueezeDim(t *tensor.RawTensor, dim int, inputShape tensor.Shape) *tensor.RawTensor {
	ndim := len(inputShape)
	if dim < 0 {
		dim = ndim + dim
	}

	newShape := inputShape.Clone()
	newShape[dim] = 1

	result, err := tensor.NewRaw(newShape, t.DType(), t.Device())
	if err != nil {
		panic(fmt.Sprintf("unsqueezeDim: failed to create result: %v", err))
	}

	// Same element count and ordering, only the shape changes
	copy(result.Data(), t.Data())

	return result
}

// broadcastTo broadcasts a tensor to the target shape, replicating along
// size-1 and missing leading dimensions.
func broadcastTo(t *tensor.RawTensor, targetShape tensor.Shape) *tensor.RawTensor {
	if t.Shape().Equal(targetShape) {
		return t.Clone()
	}

	result, err := tensor.NewRaw(targetShape, t.DType(), t.Device())
	if err != nil {
		panic(fmt.Sprintf("broadcastTo: failed to create result: %v", err))
	}

	if t.DType() != tensor.Float32 {
		panic(fmt.Sprintf("broadcastTo: unsupported dtype %s", t.DType()))
	}

	src := t.AsFloat32()
	dst := result.AsFloat32()
	srcShape := t.Shape()
	srcStrides := srcShape.ComputeStrides()
	dstStrides := targetShape.ComputeStrides()
	offset := len(targetShape) - len(srcShape)

	for i := range dst {
		srcIdx := 0
		temp := i
		for d := 0; d < len(targetShape); d++ {
			coord := temp / dstStrides[d]
			temp %= dstStrides[d]

			srcDim := d - offset
			if srcDim >= 0 {
				if srcShape[srcDim] == 1 {
					coord = 0
				}
				srcIdx += coord * srcStrides[srcDim]
			}
		}
		dst[i] = src[srcIdx]
	}

	return result
}
