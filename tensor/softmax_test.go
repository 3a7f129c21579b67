package tensor

import (
	"math"
	"testing"
)

func TestSoftmaxRowsSumToOne(t *testing.T) {
	a := Randn(2, 4, 5)
	sm, err := Softmax(a)
	if err != nil {
		t.Fatalf("softmax failed: %v", err)
	}
	data := sm.Data()
	for row := 0; row < 8; row++ {
		sum := 0.0
		for j := 0; j < 5; j++ {
			v := data[row*5+j]
			if v < 0 || v > 1 {
				t.Fatalf("softmax value out of range: %v", v)
			}
			sum += v
		}
		if math.Abs(sum-1) > 1e-9 {
			t.Fatalf("row %d sums to %v", row, sum)
		}
	}
}

func TestSoftmaxSaturatesOnLargeNegatives(t *testing.T) {
	a := MustNew([]float64{0, 0, -1e9, 0.5}, 1, 4)
	sm, err := Softmax(a)
	if err != nil {
		t.Fatalf("softmax failed: %v", err)
	}
	if got := sm.Data()[2]; got != 0 {
		t.Fatalf("saturated position not exactly zero: %v", got)
	}
	sum := 0.0
	for _, v := range sm.Data() {
		sum += v
	}
	if math.Abs(sum-1) > 1e-12 {
		t.Fatalf("row does not renormalize over remaining positions: %v", sum)
	}
}

func TestSoftmaxBackwardNumeric(t *testing.T) {
	Seed(3)
	a := Randn(2, 3)
	a.SetRequiresGrad(true)
	sm, err := Softmax(a)
	if err != nil {
		t.Fatalf("softmax failed: %v", err)
	}
	// weight the outputs so the gradient is not identically zero
	w := MustNew([]float64{1, 2, 3, 4, 5, 6}, 2, 3)
	weighted, err := Mul(sm, w)
	if err != nil {
		t.Fatalf("mul failed: %v", err)
	}
	if err := Sum(weighted).Backward(); err != nil {
		t.Fatalf("backward failed: %v", err)
	}
	grad := a.Grad().Data()

	objective := func() float64 {
		total := 0.0
		for row := 0; row < 2; row++ {
			maxVal := math.Inf(-1)
			for j := 0; j < 3; j++ {
				maxVal = math.Max(maxVal, a.data[row*3+j])
			}
			denom := 0.0
			for j := 0; j < 3; j++ {
				denom += math.Exp(a.data[row*3+j] - maxVal)
			}
			for j := 0; j < 3; j++ {
				total += w.data[row*3+j] * math.Exp(a.data[row*3+j]-maxVal) / denom
			}
		}
		return total
	}
	eps := 1e-6
	for i := range a.data {
		orig := a.data[i]
		a.data[i] = orig + eps
		plus := objective()
		a.data[i] = orig - eps
		minus := objective()
		a.data[i] = orig
		numeric := (plus - minus) / (2 * eps)
		if math.Abs(numeric-grad[i]) > 1e-5 {
			t.Fatalf("grad[%d]: analytic %v numeric %v", i, grad[i], numeric)
		}
	}
}
