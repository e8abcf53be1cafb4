package nn

import (
	"fmt"

	"github.com/born-ml/taper/internal/tensor"
)

// CrossEntropyBackend is an interface for backends that support fused
// softmax + cross-entropy.
type CrossEntropyBackend interface {
	CrossEntropy(logits, targets *tensor.RawTensor) *tensor.RawTensor
}

// CrossEntropyLoss computes cross-entropy loss for multi-class classification.
//
// This implementation uses the LogSoftmax + NLLLoss decomposition for
// numerical stability:
//
//	Loss = -log_probs[target]
//	where log_probs = LogSoftmax(logits)
//
// Gradient (Backward):
//
//	∂L/∂logits = Softmax(logits) - y_one_hot
//
// Expects raw logits (unnormalized scores) as input; the log-sum-exp trick
// prevents overflow when logits exceed the float32 exp limit.
type CrossEntropyLoss[B tensor.Backend] struct {
	backend B
}

// NewCrossEntropyLoss creates a new cross-entropy loss function.
func NewCrossEntropyLoss[B tensor.Backend](backend B) *CrossEntropyLoss[B] {
	return &CrossEntropyLoss[B]{
		backend: backend,
	}
}

// Forward computes cross-entropy loss.
//
// Parameters:
//   - logits: Model predictions with shape [batch_size, num_classes]
//   - targets: Ground truth class indices with shape [batch_size]
//
// Returns a scalar loss value (mean over batch).
//
// When using an autodiff-aware backend, this operation is recorded on the
// tape for gradient computation during the backward pass.
func (c *CrossEntropyLoss[B]) Forward(
	logits *tensor.Tensor[float32, B],
	targets *tensor.Tensor[int32, B],
) *tensor.Tensor[float32, B] {
	if ceBackend, ok := any(c.backend).(CrossEntropyBackend); ok {
		lossRaw := ceBackend.CrossEntropy(logits.Raw(), targets.Raw())
		return tensor.New[float32, B](lossRaw, c.backend)
	}

	panic("CrossEntropyLoss: backend must implement CrossEntropy operation (use autodiff.AutodiffBackend)")
}

// Accuracy computes the fraction of predictions matching the targets.
//
// Parameters:
//   - logits: Model predictions with shape [batch_size, num_classes]
//   - targets: Ground truth class indices with shape [batch_size]
//
// Returns a value in [0, 1].
func Accuracy[B tensor.Backend](
	logits *tensor.Tensor[float32, B],
	targets *tensor.Tensor[int32, B],
) float32 {
	logitsShape := logits.Shape()
	if len(logitsShape) != 2 {
		panic(fmt.Sprintf("accuracy: expected 2D logits, got shape %v", logitsShape))
	}

	batchSize := logitsShape[0]
	if targets.NumElements() != batchSize {
		panic(fmt.Sprintf("accuracy: batch size mismatch: %d logits vs %d targets", batchSize, targets.NumElements()))
	}

	predictions := logits.Argmax(1)
	predData := predictions.Data()
	targetData := targets.Data()

	correct := 0
	for i := 0; i < batchSize; i++ {
		if predData[i] == targetData[i] {
			correct++
		}
	}

	return float32(correct) / float32(batchSize)
}
