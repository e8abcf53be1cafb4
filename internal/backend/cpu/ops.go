package cpu

import (
	"github.com/born-ml/taper/internal/tensor"
)

// Element-wise kernels. The numeric surface of the toolkit is float32;
// int32 tensors carry labels and indices and never see arithmetic.

// addInplace performs inplace addition (a += b).
// Requires: a.Shape().Equal(b.Shape()) && a.IsUnique().
func addInplace(a, b *tensor.RawTensor) {
	switch a.DType() {
	case tensor.Float32:
		aData, bData := a.AsFloat32(), b.AsFloat32()
		for i := range aData {
			aData[i] += bData[i]
		}
	default:
		panic("addInplace: unsupported dtype")
	}
}

// addVectorized performs vectorized addition: result = a + b.
// Requires: a.Shape().Equal(b.Shape()).
func addVectorized(result, a, b *tensor.RawTensor) {
	switch a.DType() {
	case tensor.Float32:
		dst, aData, bData := result.AsFloat32(), a.AsFloat32(), b.AsFloat32()
		for i := range aData {
			dst[i] = aData[i] + bData[i]
		}
	default:
		panic("addVectorized: unsupported dtype")
	}
}

// addWithBroadcast performs addition with broadcasting.
func addWithBroadcast(result, a, b *tensor.RawTensor, outShape tensor.Shape) {
	broadcastBinary(result, a, b, outShape, "add", func(x, y float32) float32 { return x + y })
}

func subInplace(a, b *tensor.RawTensor) {
	switch a.DType() {
	case tensor.Float32:
		aData, bData := a.AsFloat32(), b.AsFloat32()
		for i := range aData {
			aData[i] -= bData[i]
		}
	default:
		panic("subInplace: unsupported dtype")
	}
}

func subVectorized(result, a, b *tensor.RawTensor) {
	switch a.DType() {
	case tensor.Float32:
		dst, aData, bData := result.AsFloat32(), a.AsFloat32(), b.AsFloat32()
		for i := range aData {
			dst[i] = aData[i] - bData[i]
		}
	default:
		panic("subVectorized: unsupported dtype")
	}
}

func subWithBroadcast(result, a, b *tensor.RawTensor, outShape tensor.Shape) {
	broadcastBinary(result, a, b, outShape, "sub", func(x, y float32) float32 { return x - y })
}

func mulInplace(a, b *tensor.RawTensor) {
	switch a.DType() {
	case tensor.Float32:
		aData, bData := a.AsFloat32(), b.AsFloat32()
		for i := range aData {
			aData[i] *= bData[i]
		}
	default:
		panic("mulInplace: unsupported dtype")
	}
}

func mulVectorized(result, a, b *tensor.RawTensor) {
	switch a.DType() {
	case tensor.Float32:
		dst, aData, bData := result.AsFloat32(), a.AsFloat32(), b.AsFloat32()
		for i := range aData {
			dst[i] = aData[i] * bData[i]
		}
	default:
		panic("mulVectorized: unsupported dtype")
	}
}

func mulWithBroadcast(result, a, b *tensor.RawTensor, outShape tensor.Shape) {
	broadcastBinary(result, a, b, outShape, "mul", func(x, y float32) float32 { return x * y })
}

func divInplace(a, b *tensor.RawTensor) {
	switch a.DType() {
	case tensor.Float32:
		aData, bData := a.AsFloat32(), b.AsFloat32()
		for i := range aData {
			aData[i] /= bData[i]
		}
	default:
		panic("divInplace: unsupported dtype")
	}
}

func divVectorized(result, a, b *tensor.RawTensor) {
	switch a.DType() {
	case tensor.Float32:
		dst, aData, bData := result.AsFloat32(), a.AsFloat32(), b.AsFloat32()
		for i := range aData {
			dst[i] = aData[i] / bData[i]
		}
	default:
		panic("divVectorized: unsupported dtype")
	}
}

func divWithBroadcast(result, a, b *tensor.RawTensor, outShape tensor.Shape) {
	broadcastBinary(result, a, b, outShape, "div", func(x, y float32) float32 { return x / y })
}

// broadcastBinary applies op element-wise with broadcast-adjusted strides.
func broadcastBinary(result, a, b *tensor.RawTensor, outShape tensor.Shape, name string, op func(float32, float32) float32) {
	if a.DType() != tensor.Float32 {
		panic(name + "Broadcast: unsupported dtype")
	}

	dst := result.AsFloat32()
	aData := a.AsFloat32()
	bData := b.AsFloat32()

	outStrides := outShape.ComputeStrides()
	aStrides := computeBroadcastStridesForShape(a.Shape(), outShape)
	bStrides := computeBroadcastStridesForShape(b.Shape(), outShape)

	n := outShape.NumElements()
	for i := 0; i < n; i++ {
		aIdx := computeFlatIndex(i, outStrides, aStrides)
		bIdx := computeFlatIndex(i, outStrides, bStrides)
		dst[i] = op(aData[aIdx], bData[bIdx])
	}
}

// transposeData copies src into result with dimensions permuted by axes.
func transposeData(result, src *tensor.RawTensor, axes []int) {
	shape := src.Shape()
	ndim := len(shape)
	srcStrides := shape.ComputeStrides()
	dstStrides := result.Shape().ComputeStrides()

	switch src.DType() {
	case tensor.Float32:
		dst := result.AsFloat32()
		data := src.AsFloat32()

		n := shape.NumElements()
		coords := make([]int, ndim)
		for i := 0; i < n; i++ {
			idx := i
			for dim := 0; dim < ndim; dim++ {
				coords[dim] = idx / srcStrides[dim]
				idx %= srcStrides[dim]
			}

			dstIdx := 0
			for dstDim, srcDim := range axes {
				dstIdx += coords[srcDim] * dstStrides[dstDim]
			}

			dst[dstIdx] = data[i]
		}
	default:
		panic("transpose: unsupported dtype")
	}
}
