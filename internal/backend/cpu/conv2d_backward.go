package cpu

import (
	"fmt"

	"github.com/born-ml/taper/internal/tensor"
)

// Conv2DInputBackward computes the gradient w.r.t. the convolution input
// using transposed convolution.
//
// For each input position, sums contributions from all output positions
// that read it: grad[n, c_out, h_out, w_out] * kernel[c_out, c_in, kh, kw].
//
// Reference: "A guide to convolution arithmetic for deep learning"
// (Dumoulin & Visin, 2016).
func (cpu *CPUBackend) Conv2DInputBackward(input, kernel, grad *tensor.RawTensor, stride, padding int) *tensor.RawTensor {
	inputShape := input.Shape()
	kernelShape := kernel.Shape()
	gradShape := grad.Shape()

	N := inputShape[0]
	CIn := inputShape[1]
	H := inputShape[2]
	W := inputShape[3]
	COut := kernelShape[0]
	KH := kernelShape[2]
	KW := kernelShape[3]
	HOut := gradShape[2]
	WOut := gradShape[3]

	inputGrad, err := tensor.NewRaw(tensor.Shape{N, CIn, H, W}, grad.DType(), cpu.device)
	if err != nil {
		panic(fmt.Sprintf("Conv2DInputBackward: failed to create gradient tensor: %v", err))
	}

	switch grad.DType() {
	case tensor.Float32:
		// Stride specialization lets the compiler drop the bounds check
		if stride == 1 && padding == 0 {
			conv2dInputBackwardStride1NoPad(
				inputGrad, grad, kernel,
				N, CIn, H, W, COut, KH, KW, HOut, WOut,
			)
		} else {
			conv2dInputBackward(
				inputGrad, grad, kernel,
				N, CIn, H, W, COut, KH, KW, HOut, WOut,
				stride, padding,
			)
		}
	default:
		panic("Conv2DInputBackward: unsupported dtype")
	}

	return inputGrad
}

//nolint:gocognit // complexity inherent to convolution backprop
func conv2dInputBackward(
	inputGrad, grad, kernel *tensor.RawTensor,
	n, cIn, h, w, cOut, kH, kW, hOut, wOut, stride, padding int,
) {
	inputGradData := inputGrad.AsFloat32()
	gradData := grad.AsFloat32()
	kernelData := kernel.AsFloat32()

	for i := range inputGradData {
		inputGradData[i] = 0.0
	}

	for batch := 0; batch < n; batch++ {
		// Pre-slice batch planes
		inputGradBatchOffset := batch * cIn * h * w
		inputGradBatch := inputGradData[inputGradBatchOffset : inputGradBatchOffset+cIn*h*w]

		gradBatchOffset := batch * cOut * hOut * wOut
		gradBatch := gradData[gradBatchOffset : gradBatchOffset+cOut*hOut*wOut]

		for outH := 0; outH < hOut; outH++ {
			for outW := 0; outW < wOut; outW++ {
				for outChan := 0; outChan < cOut; outChan++ {
					gradIdx := outChan*hOut*wOut + outH*wOut + outW
					gradVal := gradBatch[gradIdx]

					kernelCOutOffset := outChan * cIn * kH * kW
					kernelCOut := kernelData[kernelCOutOffset : kernelCOutOffset+cIn*kH*kW]

					// Distribute this gradient to all input positions
					for inChan := 0; inChan < cIn; inChan++ {
						inputGradCInOffset := inChan * h * w
						inputGradCIn := inputGradBatch[inputGradCInOffset : inputGradCInOffset+h*w]

						kernelCInOffset := inChan * kH * kW
						kernelCIn := kernelCOut[kernelCInOffset : kernelCInOffset+kH*kW]

						for kh := 0; kh < kH; kh++ {
							for kw := 0; kw < kW; kw++ {
								hPos := outH*stride - padding + kh
								wPos := outW*stride - padding + kw

								if hPos >= 0 && hPos < h && wPos >= 0 && wPos < w {
									kernelIdx := kh*kW + kw
									inputGradIdx := hPos*w + wPos

									inputGradCIn[inputGradIdx] += gradVal * kernelCIn[kernelIdx]
								}
							}
						}
					}
				}
			}
		}
	}
}

// conv2dInputBackwardStride1NoPad is specialized for stride=1, padding=0:
// no bounds checks in the inner loops.
//
//nolint:gocognit // complexity inherent to convolution backprop
func conv2dInputBackwardStride1NoPad(
	inputGrad, grad, kernel *tensor.RawTensor,
	n, cIn, h, w, cOut, kH, kW, hOut, wOut int,
) {
	inputGradData := inputGrad.AsFloat32()
	gradData := grad.AsFloat32()
	kernelData := kernel.AsFloat32()

	for i := range inputGradData {
		inputGradData[i] = 0.0
	}

	for batch := 0; batch < n; batch++ {
		inputGradBatchOffset := batch * cIn * h * w
		inputGradBatch := inputGradData[inputGradBatchOffset : inputGradBatchOffset+cIn*h*w]

		gradBatchOffset := batch * cOut * hOut * wOut
		gradBatch := gradData[gradBatchOffset : gradBatchOffset+cOut*hOut*wOut]

		for outH := 0; outH < hOut; outH++ {
			for outW := 0; outW < wOut; outW++ {
				for outChan := 0; outChan < cOut; outChan++ {
					gradIdx := outChan*hOut*wOut + outH*wOut + outW
					gradVal := gradBatch[gradIdx]

					kernelCOutOffset := outChan * cIn * kH * kW
					kernelCOut := kernelData[kernelCOutOffset : kernelCOutOffset+cIn*kH*kW]

					for inChan := 0; inChan < cIn; inChan++ {
						inputGradCInOffset := inChan * h * w
						inputGradCIn := inputGradBatch[inputGradCInOffset : inputGradCInOffset+h*w]

						kernelCInOffset := inChan * kH * kW
						kernelCIn := kernelCOut[kernelCInOffset : kernelCInOffset+kH*kW]

						for kh := 0; kh < kH; kh++ {
							for kw := 0; kw < kW; kw++ {
								hPos := outH + kh
								wPos := outW + kw

								kernelIdx := kh*kW + kw
								inputGradIdx := hPos*w + wPos

								inputGradCIn[inputGradIdx] += gradVal * kernelCIn[kernelIdx]
							}
						}
					}
				}
			}
		}
	}
}

// Conv2DKernelBackward computes the gradient w.r.t. the convolution kernel.
//
// For each kernel weight, sums over all batch samples and output positions:
// input[n, c_in, h, w] * grad[n, c_out, h_out, w_out], where
// h = h_out*stride - padding + kh and w = w_out*stride - padding + kw.
func (cpu *CPUBackend) Conv2DKernelBackward(input, kernel, grad *tensor.RawTensor, stride, padding int) *tensor.RawTensor {
	inputShape := input.Shape()
	kernelShape := kernel.Shape()
	gradShape := grad.Shape()

	N := inputShape[0]
	CIn := inputShape[1]
	H := inputShape[2]
	W := inputShape[3]
	COut := kernelShape[0]
	KH := kernelShape[2]
	KW := kernelShape[3]
	HOut := gradShape[2]
	WOut := gradShape[3]

	kernelGrad, err := tensor.NewRaw(tensor.Shape{COut, CIn, KH, KW}, grad.DType(), cpu.device)
	if err != nil {
		panic(fmt.Sprintf("Conv2DKernelBackward: failed to create gradient tensor: %v", err))
	}

	switch grad.DType() {
	case tensor.Float32:
		if stride == 1 && padding == 0 {
			conv2dKernelBackwardStride1NoPad(
				kernelGrad, grad, input,
				N, CIn, H, W, COut, KH, KW, HOut, WOut,
			)
		} else {
			conv2dKernelBackward(
				kernelGrad, grad, input,
				N, CIn, H, W, COut, KH, KW, HOut, WOut,
				stride, padding,
			)
		}
	default:
		panic("Conv2DKernelBackward: unsupported dtype")
	}

	return kernelGrad
}

//nolint:gocognit // complexity inherent to convolution backprop
func conv2dKernelBackward(
	kernelGrad, grad, input *tensor.RawTensor,
	N, CIn, H, W, COut, KH, KW, HOut, WOut, stride, padding int,
) {
	kernelGradData := kernelGrad.AsFloat32()
	gradData := grad.AsFloat32()
	inputData := input.AsFloat32()

	for i := range kernelGradData {
		kernelGradData[i] = 0.0
	}

	for cOut := 0; cOut < COut; cOut++ {
		for cIn := 0; cIn < CIn; cIn++ {
			for kh := 0; kh < KH; kh++ {
				for kw := 0; kw < KW; kw++ {
					sum := float32(0.0)

					// Accumulate gradient over all batch and output positions
					for n := 0; n < N; n++ {
						for outH := 0; outH < HOut; outH++ {
							for outW := 0; outW < WOut; outW++ {
								h := outH*stride - padding + kh
								w := outW*stride - padding + kw

								if h >= 0 && h < H && w >= 0 && w < W {
									inputIdx := n*CIn*H*W + cIn*H*W + h*W + w
									gradIdx := n*COut*HOut*WOut + cOut*HOut*WOut + outH*WOut + outW

									sum += inputData[inputIdx] * gradData[gradIdx]
								}
							}
						}
					}

					kernelIdx := cOut*CIn*KH*KW + cIn*KH*KW + kh*KW + kw
					kernelGradData[kernelIdx] = sum
				}
			}
		}
	}
}

// conv2dKernelBackwardStride1NoPad is specialized for stride=1, padding=0.
//
//nolint:gocognit // complexity inherent to convolution backprop
func conv2dKernelBackwardStride1NoPad(
	kernelGrad, grad, input *tensor.RawTensor,
	N, CIn, H, W, COut, KH, KW, HOut, WOut int,
) {
	kernelGradData := kernelGrad.AsFloat32()
	gradData := grad.AsFloat32()
	inputData := input.AsFloat32()

	for i := range kernelGradData {
		kernelGradData[i] = 0.0
	}

	for cOut := 0; cOut < COut; cOut++ {
		for cIn := 0; cIn < CIn; cIn++ {
			for kh := 0; kh < KH; kh++ {
				for kw := 0; kw < KW; kw++ {
					sum := float32(0.0)

					for n := 0; n < N; n++ {
						for outH := 0; outH < HOut; outH++ {
							for outW := 0; outW < WOut; outW++ {
								h := outH + kh
								w := outW + kw

								inputIdx := n*CIn*H*W + cIn*H*W + h*W + w
								gradIdx := n*COut*HOut*WOut + cOut*HOut*WOut + outH*WOut + outW

								sum += inputData[inputIdx] * gradData[gradIdx]
							}
						}
					}

					kernelIdx := cOut*CIn*KH*KW + cIn*KH*KW + kh*KW + kw
					kernelGradData[kernelIdx] = sum
				}
			}
		}
	}
}
