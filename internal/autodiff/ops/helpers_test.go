package ops

import (
	"testing"

	"github.com/born-ml/taper/internal/tensor"
)

func rawFromSlice(t *testing.T, data []float32, shape tensor.Shape) *tensor.RawTensor {
	t.Helper()
	raw, err := tensor.NewRaw(shape, tensor.Float32, tensor.CPU)
	if err != nil {
		t.Fatalf("NewRaw failed: %v", err)
	}
	copy(raw.AsFloat32(), data)
	return raw
}

func TestReduceBroadcast_SameShape(t *testing.T) {
	backend := tensor.NewMockBackend()
	grad := rawFromSlice(t, []float32{1, 2, 3, 4}, tensor.Shape{2, 2})

	result := reduceBroadcast(grad, tensor.Shape{2, 2}, backend)

	if result == grad {
		t.Error("Expected a clone, got the same tensor (aliasing hazard)")
	}
	for i, v := range result.AsFloat32() {
		if v != grad.AsFloat32()[i] {
			t.Errorf("result[%d] = %f, want %f", i, v, grad.AsFloat32()[i])
		}
	}
}

func TestReduceBroadcast_SumLeadingDim(t *testing.T) {
	backend := tensor.NewMockBackend()
	grad := rawFromSlice(t, []float32{1, 2, 3, 4, 5, 6}, tensor.Shape{3, 2})

	// Forward broadcast was [2] -> [3,2], so the backward reduction sums dim 0
	result := reduceBroadcast(grad, tensor.Shape{2}, backend)

	if !result.Shape().Equal(tensor.Shape{2}) {
		t.Fatalf("result shape = %v, want [2]", result.Shape())
	}
	expected := []float32{9, 12}
	for i, v := range result.AsFloat32() {
		if v != expected[i] {
			t.Errorf("result[%d] = %f, want %f", i, v, expected[i])
		}
	}
}

func TestReduceBroadcast_SumSizeOneDims(t *testing.T) {
	backend := tensor.NewMockBackend()
	grad := rawFromSlice(t, []float32{1, 2, 3, 4, 5, 6, 7, 8}, tensor.Shape{2, 2, 1, 2})

	// The gamma/beta pattern: [1,C,1,1] broadcast over [N,C,H,W]
	result := reduceBroadcast(grad, tensor.Shape{1, 2, 1, 1}, backend)

	if !result.Shape().Equal(tensor.Shape{1, 2, 1, 1}) {
		t.Fatalf("result shape = %v, want [1 2 1 1]", result.Shape())
	}
	// Channel 0: 1+2+5+6 = 14, channel 1: 3+4+7+8 = 22
	expected := []float32{14, 22}
	for i, v := range result.AsFloat32() {
		if v != expected[i] {
			t.Errorf("result[%d] = %f, want %f", i, v, expected[i])
		}
	}
}

func TestReduceBroadcast_ScalarTarget(t *testing.T) {
	backend := tensor.NewMockBackend()
	grad := rawFromSlice(t, []float32{1, 2, 3}, tensor.Shape{3})

	result := reduceBroadcast(grad, tensor.Shape{}, backend)

	if result.NumElements() != 1 {
		t.Fatalf("expected scalar, got shape %v", result.Shape())
	}
	if result.AsFloat32()[0] != 6 {
		t.Errorf("sum = %f, want 6", result.AsFloat32()[0])
	}
}

func TestUnsqueezeDim(t *testing.T) {
	grad := rawFromSlice(t, []float32{1, 2}, tensor.Shape{2})

	result := unsqueezeDim(grad, 1, tensor.Shape{2, 3})

	if !result.Shape().Equal(tensor.Shape{2, 1}) {
		t.Errorf("shape = %v, want [2 1]", result.Shape())
	}
}

func TestBroadcastTo(t *testing.T) {
	src := rawFromSlice(t, []float32{1, 2}, tensor.Shape{2, 1})

	result := broadcastTo(src, tensor.Shape{2, 3})

	expected := []float32{1, 1, 1, 2, 2, 2}
	for i, v := range result.AsFloat32() {
		if v != expected[i] {
			t.Errorf("result[%d] = %f, want %f", i, v, expected[i])
		}
	}
}

func TestNegateGradient(t *testing.T) {
	backend := tensor.NewMockBackend()
	grad := rawFromSlice(t, []float32{1, -2, 3}, tensor.Shape{3})

	result := negateGradient(grad, backend)

	expected := []float32{-1, 2, -3}
	for i, v := range result.AsFloat32() {
		if v != expected[i] {
			t.Errorf("result[%d] = %f, want %f", i, v, expected[i])
		}
	}
}
