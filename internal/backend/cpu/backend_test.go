package cpu

import (
	"testing"

	"github.com/born-ml/taper/internal/tensor"
)

// Helper to create test backend.
func newTestBackend() *CPUBackend {
	return New()
}

// Helper to check float32 slices are equal within epsilon.
func float32SliceEqual(a, b []float32) bool {
	const epsilon = 1e-5
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		diff := a[i] - b[i]
		if diff < 0 {
			diff = -diff
		}
		if diff > epsilon {
			return false
		}
	}
	return true
}

func fromSlice(t *testing.T, data []float32, shape tensor.Shape) *tensor.RawTensor {
	t.Helper()
	raw, err := tensor.NewRaw(shape, tensor.Float32, tensor.CPU)
	if err != nil {
		t.Fatalf("NewRaw failed: %v", err)
	}
	copy(raw.AsFloat32(), data)
	return raw
}

// TestCPUBackend_New tests backend creation.
func TestCPUBackend_New(t *testing.T) {
	backend := New()
	if backend == nil {
		t.Fatal("New() returned nil")
	}
	if backend.Name() != "CPU" {
		t.Errorf("Expected name 'CPU', got '%s'", backend.Name())
	}
	if backend.Device() != tensor.CPU {
		t.Errorf("Expected device CPU, got %v", backend.Device())
	}
}

// TestCPUBackend_Add tests element-wise addition.
func TestCPUBackend_Add(t *testing.T) {
	backend := newTestBackend()

	t.Run("SameShape", func(t *testing.T) {
		a := fromSlice(t, []float32{1, 2, 3, 4, 5, 6}, tensor.Shape{2, 3})
		b := fromSlice(t, []float32{10, 11, 12, 13, 14, 15}, tensor.Shape{2, 3})

		// Keep a shared so the inplace fast path is not taken
		defer a.ForceNonUnique()()

		result := backend.Add(a, b)
		want := []float32{11, 13, 15, 17, 19, 21}
		if !float32SliceEqual(result.AsFloat32(), want) {
			t.Errorf("Add = %v, want %v", result.AsFloat32(), want)
		}
	})

	t.Run("InplaceFastPath", func(t *testing.T) {
		a := fromSlice(t, []float32{1, 2, 3}, tensor.Shape{3})
		b := fromSlice(t, []float32{1, 1, 1}, tensor.Shape{3})

		result := backend.Add(a, b)
		if result != a {
			t.Error("unique lhs should be modified inplace")
		}
		if !float32SliceEqual(a.AsFloat32(), []float32{2, 3, 4}) {
			t.Errorf("inplace add = %v", a.AsFloat32())
		}
	})

	t.Run("Broadcast", func(t *testing.T) {
		// [1,3,1,1] gamma broadcast over [2,3,2,2] activations
		gamma := fromSlice(t, []float32{1, 2, 3}, tensor.Shape{1, 3, 1, 1})
		x := fromSlice(t, make([]float32, 24), tensor.Shape{2, 3, 2, 2})

		result := backend.Add(x, gamma)
		resultData := result.AsFloat32()
		// Channel c of every batch should equal gamma[c]
		for n := 0; n < 2; n++ {
			for c := 0; c < 3; c++ {
				for i := 0; i < 4; i++ {
					got := resultData[n*12+c*4+i]
					if got != float32(c+1) {
						t.Fatalf("broadcast add: [%d,%d] = %v, want %v", n, c, got, float32(c+1))
					}
				}
			}
		}
	})
}

func TestCPUBackend_SubMulDiv(t *testing.T) {
	backend := newTestBackend()

	a := fromSlice(t, []float32{4, 9, 16}, tensor.Shape{3})
	b := fromSlice(t, []float32{2, 3, 4}, tensor.Shape{3})
	defer a.ForceNonUnique()()

	sub := backend.Sub(a, b)
	if !float32SliceEqual(sub.AsFloat32(), []float32{2, 6, 12}) {
		t.Errorf("Sub = %v", sub.AsFloat32())
	}

	mul := backend.Mul(a, b)
	if !float32SliceEqual(mul.AsFloat32(), []float32{8, 27, 64}) {
		t.Errorf("Mul = %v", mul.AsFloat32())
	}

	div := backend.Div(a, b)
	if !float32SliceEqual(div.AsFloat32(), []float32{2, 3, 4}) {
		t.Errorf("Div = %v", div.AsFloat32())
	}
}

func TestCPUBackend_MatMul(t *testing.T) {
	backend := newTestBackend()

	a := fromSlice(t, []float32{1, 2, 3, 4, 5, 6}, tensor.Shape{2, 3})
	b := fromSlice(t, []float32{7, 8, 9, 10, 11, 12}, tensor.Shape{3, 2})

	result := backend.MatMul(a, b)
	want := []float32{58, 64, 139, 154}
	if !float32SliceEqual(result.AsFloat32(), want) {
		t.Errorf("MatMul = %v, want %v", result.AsFloat32(), want)
	}
}

func TestCPUBackend_Conv2D(t *testing.T) {
	backend := newTestBackend()

	t.Run("Identity", func(t *testing.T) {
		// 1x1 kernel with weight 1 should reproduce the input
		input := fromSlice(t, []float32{1, 2, 3, 4}, tensor.Shape{1, 1, 2, 2})
		kernel := fromSlice(t, []float32{1}, tensor.Shape{1, 1, 1, 1})

		output := backend.Conv2D(input, kernel, 1, 0)
		if !output.Shape().Equal(tensor.Shape{1, 1, 2, 2}) {
			t.Fatalf("output shape = %v", output.Shape())
		}
		if !float32SliceEqual(output.AsFloat32(), input.AsFloat32()) {
			t.Errorf("identity conv = %v", output.AsFloat32())
		}
	})

	t.Run("Sum3x3", func(t *testing.T) {
		// All-ones 3x3 kernel sums each patch
		input := fromSlice(t, []float32{
			1, 2, 3,
			4, 5, 6,
			7, 8, 9,
		}, tensor.Shape{1, 1, 3, 3})
		kernel := fromSlice(t, []float32{1, 1, 1, 1, 1, 1, 1, 1, 1}, tensor.Shape{1, 1, 3, 3})

		output := backend.Conv2D(input, kernel, 1, 0)
		if !output.Shape().Equal(tensor.Shape{1, 1, 1, 1}) {
			t.Fatalf("output shape = %v", output.Shape())
		}
		if output.AsFloat32()[0] != 45 {
			t.Errorf("patch sum = %v, want 45", output.AsFloat32()[0])
		}
	})

	t.Run("Padding", func(t *testing.T) {
		input := fromSlice(t, []float32{1, 2, 3, 4}, tensor.Shape{1, 1, 2, 2})
		kernel := fromSlice(t, []float32{1, 1, 1, 1, 1, 1, 1, 1, 1}, tensor.Shape{1, 1, 3, 3})

		output := backend.Conv2D(input, kernel, 1, 1)
		if !output.Shape().Equal(tensor.Shape{1, 1, 2, 2}) {
			t.Fatalf("padded output shape = %v", output.Shape())
		}
		// Every output sees all four inputs (rest is zero padding)
		want := []float32{10, 10, 10, 10}
		if !float32SliceEqual(output.AsFloat32(), want) {
			t.Errorf("padded conv = %v, want %v", output.AsFloat32(), want)
		}
	})

	t.Run("MultiChannel", func(t *testing.T) {
		// 2 input channels, 1x1 kernels [1, 10]: output = ch0 + 10*ch1
		input := fromSlice(t, []float32{
			1, 2, 3, 4, // channel 0
			5, 6, 7, 8, // channel 1
		}, tensor.Shape{1, 2, 2, 2})
		kernel := fromSlice(t, []float32{1, 10}, tensor.Shape{1, 2, 1, 1})

		output := backend.Conv2D(input, kernel, 1, 0)
		want := []float32{51, 62, 73, 84}
		if !float32SliceEqual(output.AsFloat32(), want) {
			t.Errorf("multichannel conv = %v, want %v", output.AsFloat32(), want)
		}
	})
}

func TestCPUBackend_Conv2DInputBackward(t *testing.T) {
	backend := newTestBackend()

	// 1x1 kernel, weight 2: input grad = 2 * output grad
	input := fromSlice(t, []float32{1, 2, 3, 4}, tensor.Shape{1, 1, 2, 2})
	kernel := fromSlice(t, []float32{2}, tensor.Shape{1, 1, 1, 1})
	grad := fromSlice(t, []float32{1, 1, 1, 1}, tensor.Shape{1, 1, 2, 2})

	inputGrad := backend.Conv2DInputBackward(input, kernel, grad, 1, 0)
	want := []float32{2, 2, 2, 2}
	if !float32SliceEqual(inputGrad.AsFloat32(), want) {
		t.Errorf("input grad = %v, want %v", inputGrad.AsFloat32(), want)
	}
}

func TestCPUBackend_Conv2DKernelBackward(t *testing.T) {
	backend := newTestBackend()

	// 1x1 kernel: kernel grad = sum over positions of input * grad
	input := fromSlice(t, []float32{1, 2, 3, 4}, tensor.Shape{1, 1, 2, 2})
	kernel := fromSlice(t, []float32{2}, tensor.Shape{1, 1, 1, 1})
	grad := fromSlice(t, []float32{1, 1, 1, 1}, tensor.Shape{1, 1, 2, 2})

	kernelGrad := backend.Conv2DKernelBackward(input, kernel, grad, 1, 0)
	if kernelGrad.AsFloat32()[0] != 10 {
		t.Errorf("kernel grad = %v, want 10", kernelGrad.AsFloat32()[0])
	}
}

func TestCPUBackend_MaxPool2D(t *testing.T) {
	backend := newTestBackend()

	input := fromSlice(t, []float32{
		1, 2, 3, 4,
		5, 6, 7, 8,
		9, 10, 11, 12,
		13, 14, 15, 16,
	}, tensor.Shape{1, 1, 4, 4})

	output := backend.MaxPool2D(input, 2, 2)
	if !output.Shape().Equal(tensor.Shape{1, 1, 2, 2}) {
		t.Fatalf("output shape = %v", output.Shape())
	}
	want := []float32{6, 8, 14, 16}
	if !float32SliceEqual(output.AsFloat32(), want) {
		t.Errorf("maxpool = %v, want %v", output.AsFloat32(), want)
	}
}

func TestCPUBackend_MaxPool2DBackward(t *testing.T) {
	backend := newTestBackend()

	input := fromSlice(t, []float32{
		1, 2,
		3, 4,
	}, tensor.Shape{1, 1, 2, 2})
	grad := fromSlice(t, []float32{5}, tensor.Shape{1, 1, 1, 1})

	// Max at flat index 3 (value 4)
	inputGrad := backend.MaxPool2DBackward(input, grad, []int{3}, 2, 2)
	want := []float32{0, 0, 0, 5}
	if !float32SliceEqual(inputGrad.AsFloat32(), want) {
		t.Errorf("maxpool backward = %v, want %v", inputGrad.AsFloat32(), want)
	}
}

func TestCPUBackend_Reductions(t *testing.T) {
	backend := newTestBackend()

	x := fromSlice(t, []float32{1, 2, 3, 4, 5, 6}, tensor.Shape{2, 3})

	t.Run("Sum", func(t *testing.T) {
		sum := backend.Sum(x)
		if sum.AsFloat32()[0] != 21 {
			t.Errorf("Sum = %v, want 21", sum.AsFloat32()[0])
		}
	})

	t.Run("SumDim", func(t *testing.T) {
		rows := backend.SumDim(x, 1, false)
		if !rows.Shape().Equal(tensor.Shape{2}) {
			t.Fatalf("shape = %v", rows.Shape())
		}
		if !float32SliceEqual(rows.AsFloat32(), []float32{6, 15}) {
			t.Errorf("SumDim(1) = %v", rows.AsFloat32())
		}

		cols := backend.SumDim(x, 0, true)
		if !cols.Shape().Equal(tensor.Shape{1, 3}) {
			t.Fatalf("keepDim shape = %v", cols.Shape())
		}
		if !float32SliceEqual(cols.AsFloat32(), []float32{5, 7, 9}) {
			t.Errorf("SumDim(0) = %v", cols.AsFloat32())
		}
	})

	t.Run("SumDimNegative", func(t *testing.T) {
		rows := backend.SumDim(x, -1, false)
		if !float32SliceEqual(rows.AsFloat32(), []float32{6, 15}) {
			t.Errorf("SumDim(-1) = %v", rows.AsFloat32())
		}
	})

	t.Run("MeanDim", func(t *testing.T) {
		mean := backend.MeanDim(x, 1, false)
		if !float32SliceEqual(mean.AsFloat32(), []float32{2, 5}) {
			t.Errorf("MeanDim(1) = %v", mean.AsFloat32())
		}
	})

	t.Run("Argmax", func(t *testing.T) {
		am := backend.Argmax(x, 1)
		data := am.AsInt32()
		if data[0] != 2 || data[1] != 2 {
			t.Errorf("Argmax = %v, want [2 2]", data)
		}

		am0 := backend.Argmax(x, 0)
		data0 := am0.AsInt32()
		for i, v := range data0 {
			if v != 1 {
				t.Errorf("Argmax(0)[%d] = %d, want 1", i, v)
			}
		}
	})
}

func TestCPUBackend_ScalarOps(t *testing.T) {
	backend := newTestBackend()

	x := fromSlice(t, []float32{1, 2, 3}, tensor.Shape{3})

	mul := backend.MulScalar(x, float32(2))
	if !float32SliceEqual(mul.AsFloat32(), []float32{2, 4, 6}) {
		t.Errorf("MulScalar = %v", mul.AsFloat32())
	}

	add := backend.AddScalar(x, float32(10))
	if !float32SliceEqual(add.AsFloat32(), []float32{11, 12, 13}) {
		t.Errorf("AddScalar = %v", add.AsFloat32())
	}
}

func TestCPUBackend_Rsqrt(t *testing.T) {
	backend := newTestBackend()

	x := fromSlice(t, []float32{4, 16, 25}, tensor.Shape{3})
	result := backend.Rsqrt(x)
	if !float32SliceEqual(result.AsFloat32(), []float32{0.5, 0.25, 0.2}) {
		t.Errorf("Rsqrt = %v", result.AsFloat32())
	}
}

func TestCPUBackend_Transpose(t *testing.T) {
	backend := newTestBackend()

	x := fromSlice(t, []float32{1, 2, 3, 4, 5, 6}, tensor.Shape{2, 3})

	result := backend.Transpose(x)
	if !result.Shape().Equal(tensor.Shape{3, 2}) {
		t.Fatalf("transposed shape = %v", result.Shape())
	}
	want := []float32{1, 4, 2, 5, 3, 6}
	if !float32SliceEqual(result.AsFloat32(), want) {
		t.Errorf("Transpose = %v, want %v", result.AsFloat32(), want)
	}
}

func TestCPUBackend_Reshape(t *testing.T) {
	backend := newTestBackend()

	x := fromSlice(t, []float32{1, 2, 3, 4, 5, 6}, tensor.Shape{2, 3})

	result := backend.Reshape(x, tensor.Shape{3, 2})
	if !result.Shape().Equal(tensor.Shape{3, 2}) {
		t.Fatalf("reshaped shape = %v", result.Shape())
	}
	if !float32SliceEqual(result.AsFloat32(), x.AsFloat32()) {
		t.Errorf("reshape should preserve data order")
	}
}
