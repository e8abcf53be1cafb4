package autodiff_test

import (
	"math"
	"testing"

	"github.com/born-ml/taper/internal/autodiff"
	"github.com/born-ml/taper/internal/backend/cpu"
	"github.com/born-ml/taper/internal/tensor"
)

// TestAutodiffBackend_Name tests the Name method.
func TestAutodiffBackend_Name(t *testing.T) {
	backend := autodiff.New(cpu.New())
	expected := "Autodiff(CPU)"
	if backend.Name() != expected {
		t.Errorf("Name() = %s, want %s", backend.Name(), expected)
	}
}

// TestAutodiffBackend_Device tests the Device method.
func TestAutodiffBackend_Device(t *testing.T) {
	backend := autodiff.New(cpu.New())
	if backend.Device() != tensor.CPU {
		t.Errorf("Device() = %v, want %v", backend.Device(), tensor.CPU)
	}
}

// TestTape_Recording tests tape recording on/off.
func TestTape_Recording(t *testing.T) {
	backend := autodiff.New(cpu.New())
	tape := backend.Tape()

	// Initially not recording
	if tape.IsRecording() {
		t.Error("Tape should not be recording initially")
	}

	tape.StartRecording()
	if !tape.IsRecording() {
		t.Error("Tape should be recording after StartRecording()")
	}

	tape.StopRecording()
	if tape.IsRecording() {
		t.Error("Tape should not be recording after StopRecording()")
	}
}

// TestTape_Clear tests tape clearing.
func TestTape_Clear(t *testing.T) {
	backend := autodiff.New(cpu.New())
	tape := backend.Tape()

	tape.StartRecording()

	a, _ := tensor.FromSlice([]float32{1, 2}, tensor.Shape{2}, backend)
	b, _ := tensor.FromSlice([]float32{3, 4}, tensor.Shape{2}, backend)
	backend.Add(a.Raw(), b.Raw())

	if tape.NumOps() == 0 {
		t.Error("Tape should have recorded operations")
	}

	tape.Clear()

	if tape.NumOps() != 0 {
		t.Errorf("Tape should be empty after Clear(), got %d ops", tape.NumOps())
	}

	// Clear() preserves recording state so the tape can be reset between
	// training steps without re-arming it
	if !tape.IsRecording() {
		t.Error("Tape should still be recording after Clear()")
	}
}

// TestTape_NotRecording tests that operations are not recorded when stopped.
func TestTape_NotRecording(t *testing.T) {
	backend := autodiff.New(cpu.New())

	a, _ := tensor.FromSlice([]float32{1, 2}, tensor.Shape{2}, backend)
	b, _ := tensor.FromSlice([]float32{3, 4}, tensor.Shape{2}, backend)
	backend.Add(a.Raw(), b.Raw())

	if backend.Tape().NumOps() != 0 {
		t.Errorf("Expected 0 operations recorded, got %d", backend.Tape().NumOps())
	}
}

// TestBackward_Add tests gradient flow through addition.
func TestBackward_Add(t *testing.T) {
	backend := autodiff.New(cpu.New())
	backend.Tape().StartRecording()

	a, _ := tensor.FromSlice([]float32{1, 2}, tensor.Shape{2}, backend)
	b, _ := tensor.FromSlice([]float32{3, 4}, tensor.Shape{2}, backend)

	y := a.Add(b)
	gradients := autodiff.Backward(y, backend)

	gradA := gradients[a.Raw()].AsFloat32()
	gradB := gradients[b.Raw()].AsFloat32()

	for i := 0; i < 2; i++ {
		if gradA[i] != 1.0 {
			t.Errorf("gradA[%d] = %f, want 1.0", i, gradA[i])
		}
		if gradB[i] != 1.0 {
			t.Errorf("gradB[%d] = %f, want 1.0", i, gradB[i])
		}
	}
}

// TestBackward_MulSquare tests y = x² which exercises gradient accumulation
// (x appears twice as an input of the same Mul).
func TestBackward_MulSquare(t *testing.T) {
	backend := autodiff.New(cpu.New())
	backend.Tape().StartRecording()

	x, _ := tensor.FromSlice([]float32{3.0}, tensor.Shape{1}, backend)

	y := x.Mul(x) // y = x²
	gradients := autodiff.Backward(y, backend)

	// dy/dx = 2x = 6.0
	grad := gradients[x.Raw()].AsFloat32()[0]
	if math.Abs(float64(grad-6.0)) > 1e-5 {
		t.Errorf("dy/dx = %f, want 6.0", grad)
	}
}

// TestBackward_Div tests gradient flow through division.
func TestBackward_Div(t *testing.T) {
	backend := autodiff.New(cpu.New())
	backend.Tape().StartRecording()

	a, _ := tensor.FromSlice([]float32{6.0}, tensor.Shape{1}, backend)
	b, _ := tensor.FromSlice([]float32{2.0}, tensor.Shape{1}, backend)

	y := a.Div(b)
	gradients := autodiff.Backward(y, backend)

	// d(a/b)/da = 1/b = 0.5
	gradA := gradients[a.Raw()].AsFloat32()[0]
	if math.Abs(float64(gradA-0.5)) > 1e-5 {
		t.Errorf("gradA = %f, want 0.5", gradA)
	}

	// d(a/b)/db = -a/b² = -1.5
	gradB := gradients[b.Raw()].AsFloat32()[0]
	if math.Abs(float64(gradB-(-1.5))) > 1e-5 {
		t.Errorf("gradB = %f, want -1.5", gradB)
	}
}

// TestBackward_MatMul tests gradient flow through matrix multiplication.
func TestBackward_MatMul(t *testing.T) {
	backend := autodiff.New(cpu.New())
	backend.Tape().StartRecording()

	a, _ := tensor.FromSlice([]float32{1, 2, 3, 4}, tensor.Shape{2, 2}, backend)
	b, _ := tensor.FromSlice([]float32{5, 6, 7, 8}, tensor.Shape{2, 2}, backend)

	y := a.MatMul(b)
	gradients := autodiff.Backward(y, backend)

	// With outputGrad = ones: gradA = ones @ B^T, gradB = A^T @ ones
	expectedGradA := []float32{11, 15, 11, 15}
	expectedGradB := []float32{4, 4, 6, 6}

	gradA := gradients[a.Raw()].AsFloat32()
	gradB := gradients[b.Raw()].AsFloat32()

	for i := range expectedGradA {
		if math.Abs(float64(gradA[i]-expectedGradA[i])) > 1e-5 {
			t.Errorf("gradA[%d] = %f, want %f", i, gradA[i], expectedGradA[i])
		}
		if math.Abs(float64(gradB[i]-expectedGradB[i])) > 1e-5 {
			t.Errorf("gradB[%d] = %f, want %f", i, gradB[i], expectedGradB[i])
		}
	}
}

// TestBackward_BroadcastAdd tests that broadcast gradients reduce to the
// original parameter shape, the way a [1,C,1,1] scale broadcasts over [N,C,H,W].
func TestBackward_BroadcastAdd(t *testing.T) {
	backend := autodiff.New(cpu.New())
	backend.Tape().StartRecording()

	x, _ := tensor.FromSlice([]float32{1, 2, 3, 4, 5, 6, 7, 8}, tensor.Shape{2, 2, 1, 2}, backend)
	beta, _ := tensor.FromSlice([]float32{10, 20}, tensor.Shape{2}, backend)
	betaShaped := beta.Reshape(1, 2, 1, 1)

	y := x.Add(betaShaped)
	gradients := autodiff.Backward(y, backend)

	// Each channel of beta receives one gradient per covered element: N*H*W = 4
	gradBeta := gradients[beta.Raw()].AsFloat32()
	for i := 0; i < 2; i++ {
		if math.Abs(float64(gradBeta[i]-4.0)) > 1e-5 {
			t.Errorf("gradBeta[%d] = %f, want 4.0", i, gradBeta[i])
		}
	}
}

// TestBackward_Transpose tests that gradients flow back through transpose.
func TestBackward_Transpose(t *testing.T) {
	backend := autodiff.New(cpu.New())
	backend.Tape().StartRecording()

	w, _ := tensor.FromSlice([]float32{1, 2, 3, 4, 5, 6}, tensor.Shape{3, 2}, backend)
	x, _ := tensor.FromSlice([]float32{1, 1}, tensor.Shape{1, 2}, backend)

	// Linear-layer pattern: y = x @ w^T requires TransposeOp for w's gradient
	y := x.MatMul(w.T())
	gradients := autodiff.Backward(y, backend)

	gradW, ok := gradients[w.Raw()]
	if !ok {
		t.Fatal("No gradient for w (TransposeOp not recorded?)")
	}
	if !gradW.Shape().Equal(tensor.Shape{3, 2}) {
		t.Errorf("gradW shape = %v, want [3 2]", gradW.Shape())
	}

	// y_j = w_j0 + w_j1 + ... summed against x = ones
	expected := []float32{1, 1, 1, 1, 1, 1}
	actual := gradW.AsFloat32()
	for i := range expected {
		if math.Abs(float64(actual[i]-expected[i])) > 1e-5 {
			t.Errorf("gradW[%d] = %f, want %f", i, actual[i], expected[i])
		}
	}
}

// TestBackward_SumDim tests gradient flow through a dimension reduction.
func TestBackward_SumDim(t *testing.T) {
	backend := autodiff.New(cpu.New())
	backend.Tape().StartRecording()

	x, _ := tensor.FromSlice([]float32{1, 2, 3, 4, 5, 6}, tensor.Shape{2, 3}, backend)

	y := x.SumDim(1, false) // [2]
	gradients := autodiff.Backward(y, backend)

	grad := gradients[x.Raw()].AsFloat32()
	for i := range grad {
		if grad[i] != 1.0 {
			t.Errorf("grad[%d] = %f, want 1.0", i, grad[i])
		}
	}
}

// TestBackward_MeanDim tests gradient flow through a mean reduction.
func TestBackward_MeanDim(t *testing.T) {
	backend := autodiff.New(cpu.New())
	backend.Tape().StartRecording()

	x, _ := tensor.FromSlice([]float32{1, 2, 3, 4}, tensor.Shape{4}, backend)

	y := x.MeanDim(0, false)
	gradients := autodiff.Backward(y, backend)

	// d(mean)/dx_i = 1/4
	grad := gradients[x.Raw()].AsFloat32()
	for i := range grad {
		if math.Abs(float64(grad[i]-0.25)) > 1e-6 {
			t.Errorf("grad[%d] = %f, want 0.25", i, grad[i])
		}
	}
}

// TestBackward_ScalarOps tests gradient flow through scalar operations.
func TestBackward_ScalarOps(t *testing.T) {
	backend := autodiff.New(cpu.New())
	backend.Tape().StartRecording()

	x, _ := tensor.FromSlice([]float32{1, 2}, tensor.Shape{2}, backend)

	// y = (x * 3 + 1) / 2
	y := x.MulScalar(3).AddScalar(1).DivScalar(2)
	gradients := autodiff.Backward(y, backend)

	// dy/dx = 3/2
	grad := gradients[x.Raw()].AsFloat32()
	for i := range grad {
		if math.Abs(float64(grad[i]-1.5)) > 1e-6 {
			t.Errorf("grad[%d] = %f, want 1.5", i, grad[i])
		}
	}
}

// TestBackward_Rsqrt tests y = 1/sqrt(x + eps), the invStd computation of
// batch normalization.
func TestBackward_Rsqrt(t *testing.T) {
	backend := autodiff.New(cpu.New())
	backend.Tape().StartRecording()

	x, _ := tensor.FromSlice([]float32{3.0}, tensor.Shape{1}, backend)

	y := x.AddScalar(1).Rsqrt() // y = (x+1)^(-1/2)
	gradients := autodiff.Backward(y, backend)

	// dy/dx = -0.5 * (x+1)^(-3/2) = -0.5 * 4^(-3/2) = -0.0625
	grad := gradients[x.Raw()].AsFloat32()[0]
	if math.Abs(float64(grad-(-0.0625))) > 1e-6 {
		t.Errorf("dy/dx = %f, want -0.0625", grad)
	}
}

// TestAutodiffBackend_ReLU tests forward and backward for ReLU.
func TestAutodiffBackend_ReLU(t *testing.T) {
	backend := autodiff.New(cpu.New())
	backend.Tape().StartRecording()

	x, _ := tensor.FromSlice([]float32{-1, 0, 2, -3, 4}, tensor.Shape{5}, backend)

	raw := backend.ReLU(x.Raw())
	y := tensor.New[float32](raw, backend)

	expected := []float32{0, 0, 2, 0, 4}
	actual := y.Data()
	for i := range expected {
		if actual[i] != expected[i] {
			t.Errorf("ReLU[%d] = %f, want %f", i, actual[i], expected[i])
		}
	}

	gradients := autodiff.Backward(y, backend)

	// Gradient is 1 where x > 0, else 0
	expectedGrad := []float32{0, 0, 1, 0, 1}
	grad := gradients[x.Raw()].AsFloat32()
	for i := range expectedGrad {
		if grad[i] != expectedGrad[i] {
			t.Errorf("grad[%d] = %f, want %f", i, grad[i], expectedGrad[i])
		}
	}
}

// TestAutodiffBackend_CrossEntropy tests cross-entropy forward and gradient.
func TestAutodiffBackend_CrossEntropy(t *testing.T) {
	backend := autodiff.New(cpu.New())
	backend.Tape().StartRecording()

	logits, _ := tensor.FromSlice([]float32{0, 0}, tensor.Shape{1, 2}, backend)
	targets, _ := tensor.FromSlice([]int32{0}, tensor.Shape{1}, backend)

	raw := backend.CrossEntropy(logits.Raw(), targets.Raw())
	loss := tensor.New[float32](raw, backend)

	// Uniform logits over 2 classes: loss = -log(0.5) = ln(2)
	expected := float32(math.Log(2))
	if math.Abs(float64(loss.Data()[0]-expected)) > 1e-5 {
		t.Errorf("loss = %f, want %f", loss.Data()[0], expected)
	}

	gradients := autodiff.Backward(loss, backend)

	// grad = softmax - onehot = [0.5-1, 0.5] = [-0.5, 0.5]
	grad := gradients[logits.Raw()].AsFloat32()
	if math.Abs(float64(grad[0]-(-0.5))) > 1e-5 || math.Abs(float64(grad[1]-0.5)) > 1e-5 {
		t.Errorf("grad = %v, want [-0.5 0.5]", grad)
	}
}

// TestBackward_NoGradientForDetached tests that gradient computation stops at
// tensors used outside the recorded graph.
func TestBackward_NoGradientForDetached(t *testing.T) {
	backend := autodiff.New(cpu.New())

	// Computed before recording starts: not on the tape
	a, _ := tensor.FromSlice([]float32{1, 2}, tensor.Shape{2}, backend)
	b, _ := tensor.FromSlice([]float32{3, 4}, tensor.Shape{2}, backend)
	pre := a.Add(b)

	backend.Tape().StartRecording()

	c, _ := tensor.FromSlice([]float32{5, 6}, tensor.Shape{2}, backend)
	y := pre.Add(c)

	gradients := autodiff.Backward(y, backend)

	if _, ok := gradients[a.Raw()]; ok {
		t.Error("Gradient leaked to tensor computed before recording started")
	}
	if _, ok := gradients[c.Raw()]; !ok {
		t.Error("Expected gradient for recorded input")
	}
}
