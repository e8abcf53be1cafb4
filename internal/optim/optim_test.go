package optim_test

import (
	"testing"

	"github.com/born-ml/taper/internal/autodiff"
	"github.com/born-ml/taper/internal/backend/cpu"
	"github.com/born-ml/taper/internal/nn"
	"github.com/born-ml/taper/internal/optim"
	"github.com/born-ml/taper/internal/tensor"
)

type Backend = *autodiff.AutodiffBackend[*cpu.CPUBackend]

// Helper to check float equality with tolerance.
func floatEqual(a, b, eps float32) bool {
	diff := a - b
	if diff < 0 {
		diff = -diff
	}
	return diff < eps
}

func newParam(t *testing.T, backend Backend, values ...float32) *nn.Parameter[Backend] {
	t.Helper()
	x, err := tensor.FromSlice(values, tensor.Shape{len(values)}, backend)
	if err != nil {
		t.Fatalf("FromSlice: %v", err)
	}
	return nn.NewParameter("x", x)
}

func gradsFor(t *testing.T, backend Backend, param *nn.Parameter[Backend], values ...float32) map[*tensor.RawTensor]*tensor.RawTensor {
	t.Helper()
	grad, err := tensor.NewRaw(tensor.Shape{len(values)}, tensor.Float32, backend.Device())
	if err != nil {
		t.Fatalf("NewRaw: %v", err)
	}
	copy(grad.AsFloat32(), values)
	return map[*tensor.RawTensor]*tensor.RawTensor{param.Tensor().Raw(): grad}
}

// TestSGD_SimpleUpdate tests SGD without momentum.
func TestSGD_SimpleUpdate(t *testing.T) {
	backend := autodiff.New(cpu.New())

	param := newParam(t, backend, 2.0)
	optimizer := optim.NewSGD([]*nn.Parameter[Backend]{param},
		optim.SGDConfig{LR: 0.1}, backend)

	optimizer.Step(gradsFor(t, backend, param, 1.0))

	// x_new = 2.0 - 0.1 * 1.0 = 1.9
	actual := param.Tensor().Raw().AsFloat32()[0]
	if !floatEqual(actual, 1.9, 1e-6) {
		t.Errorf("SGD update: got %f, want 1.9", actual)
	}
}

// TestSGD_WithMomentum tests velocity accumulation over two steps.
func TestSGD_WithMomentum(t *testing.T) {
	backend := autodiff.New(cpu.New())

	param := newParam(t, backend, 1.0)
	optimizer := optim.NewSGD([]*nn.Parameter[Backend]{param},
		optim.SGDConfig{LR: 0.1, Momentum: 0.9}, backend)

	// Step 1: v = 1.0, x = 1.0 - 0.1 = 0.9
	optimizer.Step(gradsFor(t, backend, param, 1.0))
	actual := param.Tensor().Raw().AsFloat32()[0]
	if !floatEqual(actual, 0.9, 1e-6) {
		t.Errorf("momentum step 1: got %f, want 0.9", actual)
	}

	// Step 2: v = 0.9*1.0 + 1.0 = 1.9, x = 0.9 - 0.19 = 0.71
	optimizer.Step(gradsFor(t, backend, param, 1.0))
	actual = param.Tensor().Raw().AsFloat32()[0]
	if !floatEqual(actual, 0.71, 1e-6) {
		t.Errorf("momentum step 2: got %f, want 0.71", actual)
	}
}

// TestSGD_WeightDecay tests the L2 term folded into the gradient.
func TestSGD_WeightDecay(t *testing.T) {
	backend := autodiff.New(cpu.New())

	param := newParam(t, backend, 2.0)
	optimizer := optim.NewSGD([]*nn.Parameter[Backend]{param},
		optim.SGDConfig{LR: 0.1, WeightDecay: 0.5}, backend)

	// g = 1.0 + 0.5*2.0 = 2.0, x = 2.0 - 0.1*2.0 = 1.8
	optimizer.Step(gradsFor(t, backend, param, 1.0))
	actual := param.Tensor().Raw().AsFloat32()[0]
	if !floatEqual(actual, 1.8, 1e-6) {
		t.Errorf("weight decay update: got %f, want 1.8", actual)
	}
}

// TestSGD_SkipsMissingGradient ensures parameters outside the graph stay put.
func TestSGD_SkipsMissingGradient(t *testing.T) {
	backend := autodiff.New(cpu.New())

	param := newParam(t, backend, 3.0)
	optimizer := optim.NewSGD([]*nn.Parameter[Backend]{param},
		optim.SGDConfig{LR: 0.1}, backend)

	optimizer.Step(map[*tensor.RawTensor]*tensor.RawTensor{})

	actual := param.Tensor().Raw().AsFloat32()[0]
	if actual != 3.0 {
		t.Errorf("parameter moved without gradient: got %f", actual)
	}
}

// TestISTA_SoftThreshold checks that the proximal step shrinks toward zero
// and clamps small magnitudes to exact zeros.
func TestISTA_SoftThreshold(t *testing.T) {
	backend := autodiff.New(cpu.New())

	// lr=0.1, penalty=2.0 -> threshold = 0.2
	param := newParam(t, backend, 1.0, -1.0, 0.1, -0.15)
	optimizer := optim.NewISTA([]*nn.Parameter[Backend]{param},
		[]float32{2.0}, optim.ISTAConfig{LR: 0.1}, backend)

	optimizer.Step(gradsFor(t, backend, param, 0, 0, 0, 0))

	data := param.Tensor().Raw().AsFloat32()

	// Large values shrink by the threshold, sign preserved.
	if !floatEqual(data[0], 0.8, 1e-6) {
		t.Errorf("positive shrink: got %f, want 0.8", data[0])
	}
	if !floatEqual(data[1], -0.8, 1e-6) {
		t.Errorf("negative shrink: got %f, want -0.8", data[1])
	}

	// Values inside the threshold become exact zeros, not small floats.
	if data[2] != 0.0 {
		t.Errorf("small positive not zeroed: got %f", data[2])
	}
	if data[3] != 0.0 {
		t.Errorf("small negative not zeroed: got %f", data[3])
	}
}

// TestISTA_GradientThenThreshold checks the gradient step runs before the
// proximal operator.
func TestISTA_GradientThenThreshold(t *testing.T) {
	backend := autodiff.New(cpu.New())

	// w = 0.5, grad = 3.0, lr = 0.1: gradient step gives 0.2, then the
	// threshold 0.1*1.0 shrinks it to 0.1.
	param := newParam(t, backend, 0.5)
	optimizer := optim.NewISTA([]*nn.Parameter[Backend]{param},
		[]float32{1.0}, optim.ISTAConfig{LR: 0.1}, backend)

	optimizer.Step(gradsFor(t, backend, param, 3.0))

	actual := param.Tensor().Raw().AsFloat32()[0]
	if !floatEqual(actual, 0.1, 1e-6) {
		t.Errorf("proximal step: got %f, want 0.1", actual)
	}
}

// TestISTA_Momentum verifies velocity accumulation across steps.
func TestISTA_Momentum(t *testing.T) {
	backend := autodiff.New(cpu.New())

	param := newParam(t, backend, 2.0)
	optimizer := optim.NewISTA([]*nn.Parameter[Backend]{param},
		[]float32{0.5}, optim.ISTAConfig{LR: 0.1, Momentum: 0.9}, backend)

	// Step 1: v=1, w=2-0.1=1.9, threshold 0.05 -> 1.85
	optimizer.Step(gradsFor(t, backend, param, 1.0))
	actual := param.Tensor().Raw().AsFloat32()[0]
	if !floatEqual(actual, 1.85, 1e-6) {
		t.Errorf("ista momentum step 1: got %f, want 1.85", actual)
	}

	// Step 2: v=0.9+1=1.9, w=1.85-0.19=1.66, threshold -> 1.61
	optimizer.Step(gradsFor(t, backend, param, 1.0))
	actual = param.Tensor().Raw().AsFloat32()[0]
	if !floatEqual(actual, 1.61, 1e-6) {
		t.Errorf("ista momentum step 2: got %f, want 1.61", actual)
	}
}

// TestISTA_PenaltyCountMismatch ensures construction rejects misaligned inputs.
func TestISTA_PenaltyCountMismatch(t *testing.T) {
	backend := autodiff.New(cpu.New())
	param := newParam(t, backend, 1.0)

	defer func() {
		if recover() == nil {
			t.Error("expected panic for mismatched penalties")
		}
	}()
	optim.NewISTA([]*nn.Parameter[Backend]{param}, []float32{1.0, 2.0},
		optim.ISTAConfig{LR: 0.1}, backend)
}
