package tensor

import (
	"math"
	"testing"
)

func TestMatMulForwardBackward(t *testing.T) {
	a := MustNew([]float64{
		1, 2,
		3, 4,
	}, 2, 2)
	b := MustNew([]float64{
		0, 1,
		1, 0,
	}, 2, 2)
	a.SetRequiresGrad(true)
	b.SetRequiresGrad(true)

	c, err := MatMul(a, b)
	if err != nil {
		t.Fatalf("matmul failed: %v", err)
	}
	if !floatsAlmostEqual(c.Data(), []float64{2, 1, 4, 3}, 1e-12) {
		t.Fatalf("matmul mismatch: %v", c.Data())
	}
	if err := Sum(c).Backward(); err != nil {
		t.Fatalf("backward failed: %v", err)
	}
	// dA = ones @ B^T, dB = A^T @ ones
	if !floatsAlmostEqual(a.Grad().Data(), []float64{1, 1, 1, 1}, 1e-12) {
		t.Fatalf("grad a mismatch: %v", a.Grad().Data())
	}
	if !floatsAlmostEqual(b.Grad().Data(), []float64{4, 4, 6, 6}, 1e-12) {
		t.Fatalf("grad b mismatch: %v", b.Grad().Data())
	}
}

func TestBatchMatMulMatchesPerBatch(t *testing.T) {
	a := Randn(2, 3, 2, 4)
	b := Randn(2, 3, 4, 5)
	out, err := BatchMatMul(a, b)
	if err != nil {
		t.Fatalf("batch matmul failed: %v", err)
	}
	if got := out.Shape(); got[0] != 2 || got[1] != 3 || got[2] != 2 || got[3] != 5 {
		t.Fatalf("batch matmul shape mismatch: %v", got)
	}
	for s := 0; s < 6; s++ {
		sa := MustNew(a.Data()[s*8:(s+1)*8], 2, 4)
		sb := MustNew(b.Data()[s*20:(s+1)*20], 4, 5)
		ref, err := MatMul(sa, sb)
		if err != nil {
			t.Fatalf("reference matmul failed: %v", err)
		}
		if !floatsAlmostEqual(out.Data()[s*10:(s+1)*10], ref.Data(), 1e-9) {
			t.Fatalf("batch %d mismatch", s)
		}
	}
}

func TestBatchMatMulBackwardNumeric(t *testing.T) {
	Seed(11)
	a := Randn(2, 2, 3)
	b := Randn(2, 3, 2)
	a.SetRequiresGrad(true)
	b.SetRequiresGrad(true)

	out, err := BatchMatMul(a, b)
	if err != nil {
		t.Fatalf("batch matmul failed: %v", err)
	}
	if err := Sum(out).Backward(); err != nil {
		t.Fatalf("backward failed: %v", err)
	}

	objective := func() float64 {
		total := 0.0
		for s := 0; s < 2; s++ {
			for i := 0; i < 2; i++ {
				for j := 0; j < 2; j++ {
					for k := 0; k < 3; k++ {
						total += a.data[s*6+i*3+k] * b.data[s*6+k*2+j]
					}
				}
			}
		}
		return total
	}

	eps := 1e-6
	grad := a.Grad().Data()
	for i := range a.data {
		orig := a.data[i]
		a.data[i] = orig + eps
		plus := objective()
		a.data[i] = orig - eps
		minus := objective()
		a.data[i] = orig
		numeric := (plus - minus) / (2 * eps)
		if math.Abs(numeric-grad[i]) > 1e-5 {
			t.Fatalf("grad a[%d]: analytic %v numeric %v", i, grad[i], numeric)
		}
	}
}

func TestAddBias2D(t *testing.T) {
	a := MustNew([]float64{1, 2, 3, 4}, 2, 2)
	bias := MustNew([]float64{10, 20}, 2)
	a.SetRequiresGrad(true)
	bias.SetRequiresGrad(true)

	out, err := AddBias2D(a, bias)
	if err != nil {
		t.Fatalf("add bias failed: %v", err)
	}
	if !floatsAlmostEqual(out.Data(), []float64{11, 22, 13, 24}, 1e-12) {
		t.Fatalf("bias add mismatch: %v", out.Data())
	}
	if err := Sum(out).Backward(); err != nil {
		t.Fatalf("backward failed: %v", err)
	}
	if !floatsAlmostEqual(bias.Grad().Data(), []float64{2, 2}, 1e-12) {
		t.Fatalf("bias grad mismatch: %v", bias.Grad().Data())
	}
}
