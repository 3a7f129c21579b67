package loss

import (
	"math"
	"testing"

	"github.com/fumitoshi0524/ixeoriVision/tensor"
)

func TestMSEValueAndGradient(t *testing.T) {
	pred := tensor.MustNew([]float64{1, 2, 3, 4}, 2, 2)
	pred.SetRequiresGrad(true)
	target := tensor.MustNew([]float64{0, 2, 3, 8}, 2, 2)

	out, err := MSE(pred, target)
	if err != nil {
		t.Fatalf("mse: %v", err)
	}
	// (1 + 0 + 0 + 16) / 4
	if math.Abs(out.At(0)-4.25) > 1e-12 {
		t.Fatalf("got %v, want 4.25", out.At(0))
	}

	if err := out.Backward(); err != nil {
		t.Fatalf("backward: %v", err)
	}
	want := []float64{0.5, 0, 0, -2}
	got := pred.Grad().Data()
	for i := range want {
		if math.Abs(got[i]-want[i]) > 1e-12 {
			t.Fatalf("grad[%d] = %v, want %v", i, got[i], want[i])
		}
	}
}

func TestMSERejectsShapeMismatch(t *testing.T) {
	pred := tensor.Zeros(2, 2)
	target := tensor.Zeros(4)
	if _, err := MSE(pred, target); err == nil {
		t.Fatalf("expected shape mismatch error")
	}
}
