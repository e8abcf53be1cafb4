package main

import (
	"math/rand"

	"github.com/born-ml/taper/internal/autodiff"
	"github.com/born-ml/taper/internal/backend/cpu"
	"github.com/born-ml/taper/internal/tensor"
)

// Backend is the concrete backend the driver runs on.
type Backend = *autodiff.AutodiffBackend[*cpu.CPUBackend]

// Batch holds one training batch of images and labels.
type Batch struct {
	Images *tensor.Tensor[float32, Backend]
	Labels *tensor.Tensor[int32, Backend]
	Size   int
}

// makeSyntheticBatches generates a class-separable synthetic dataset: each
// sample is low-amplitude noise with a bright horizontal band whose position
// encodes the class. Enough signal for a small network to learn quickly
// without any dataset files.
func makeSyntheticBatches(rng *rand.Rand, numBatches, batchSize, numClasses, inputSize int, backend Backend) []*Batch {
	bandHeight := inputSize / numClasses
	if bandHeight == 0 {
		bandHeight = 1
	}

	batches := make([]*Batch, 0, numBatches)
	for b := 0; b < numBatches; b++ {
		images := make([]float32, batchSize*inputSize*inputSize)
		labels := make([]int32, batchSize)

		for s := 0; s < batchSize; s++ {
			class := rng.Intn(numClasses)
			labels[s] = int32(class)

			base := s * inputSize * inputSize
			for i := 0; i < inputSize*inputSize; i++ {
				images[base+i] = 0.1 * rng.Float32()
			}
			for row := class * bandHeight; row < (class+1)*bandHeight && row < inputSize; row++ {
				for col := 0; col < inputSize; col++ {
					images[base+row*inputSize+col] += 1.0
				}
			}
		}

		imagesTensor, err := tensor.FromSlice(images,
			tensor.Shape{batchSize, 1, inputSize, inputSize}, backend)
		if err != nil {
			panic(err)
		}
		labelsTensor, err := tensor.FromSlice(labels, tensor.Shape{batchSize}, backend)
		if err != nil {
			panic(err)
		}

		batches = append(batches, &Batch{
			Images: imagesTensor,
			Labels: labelsTensor,
			Size:   batchSize,
		})
	}

	return batches
}
