package tensor

import (
	"math"
	"testing"
)

func floatsAlmostEqual(a, b []float64, tol float64) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if math.Abs(a[i]-b[i]) > tol {
			return false
		}
	}
	return true
}

func TestAddMulBackward(t *testing.T) {
	a := MustNew([]float64{1, 2, 3, 4}, 2, 2)
	b := MustNew([]float64{0.5, -1, 2, 0.25}, 2, 2)
	a.SetRequiresGrad(true)
	b.SetRequiresGrad(true)

	sum, err := Add(a, b)
	if err != nil {
		t.Fatalf("add failed: %v", err)
	}
	prod, err := Mul(sum, b)
	if err != nil {
		t.Fatalf("mul failed: %v", err)
	}
	loss := Sum(prod)
	if err := loss.Backward(); err != nil {
		t.Fatalf("backward failed: %v", err)
	}

	// d/da (a+b)*b = b, d/db (a+b)*b = a + 2b
	if !floatsAlmostEqual(a.Grad().Data(), []float64{0.5, -1, 2, 0.25}, 1e-12) {
		t.Fatalf("grad a mismatch: %v", a.Grad().Data())
	}
	if !floatsAlmostEqual(b.Grad().Data(), []float64{2, 0, 7, 4.5}, 1e-12) {
		t.Fatalf("grad b mismatch: %v", b.Grad().Data())
	}
}

func TestDivBackwardMatchesNumeric(t *testing.T) {
	a := MustNew([]float64{1, 2, 3}, 3)
	b := MustNew([]float64{2, 4, 8}, 3)
	a.SetRequiresGrad(true)
	b.SetRequiresGrad(true)

	q, err := Div(a, b)
	if err != nil {
		t.Fatalf("div failed: %v", err)
	}
	if err := Sum(q).Backward(); err != nil {
		t.Fatalf("backward failed: %v", err)
	}

	eps := 1e-6
	for i := 0; i < 3; i++ {
		orig := b.data[i]
		b.data[i] = orig + eps
		plus := 0.0
		for j := range a.data {
			plus += a.data[j] / b.data[j]
		}
		b.data[i] = orig - eps
		minus := 0.0
		for j := range a.data {
			minus += a.data[j] / b.data[j]
		}
		b.data[i] = orig
		numeric := (plus - minus) / (2 * eps)
		if math.Abs(numeric-b.Grad().Data()[i]) > 1e-6 {
			t.Fatalf("grad b[%d]: analytic %v numeric %v", i, b.Grad().Data()[i], numeric)
		}
	}
}

func TestSumAxisAndMeanAxis(t *testing.T) {
	a := MustNew([]float64{
		1, 2, 3,
		4, 5, 6,
	}, 2, 3)
	a.SetRequiresGrad(true)

	s, err := SumAxis(a, 1)
	if err != nil {
		t.Fatalf("sum axis failed: %v", err)
	}
	if !floatsAlmostEqual(s.Data(), []float64{6, 15}, 1e-12) {
		t.Fatalf("sum axis mismatch: %v", s.Data())
	}

	m, err := MeanAxis(a, 0)
	if err != nil {
		t.Fatalf("mean axis failed: %v", err)
	}
	if !floatsAlmostEqual(m.Data(), []float64{2.5, 3.5, 4.5}, 1e-12) {
		t.Fatalf("mean axis mismatch: %v", m.Data())
	}

	if err := Sum(s).Backward(); err != nil {
		t.Fatalf("backward failed: %v", err)
	}
	if !floatsAlmostEqual(a.Grad().Data(), []float64{1, 1, 1, 1, 1, 1}, 1e-12) {
		t.Fatalf("sum axis grad mismatch: %v", a.Grad().Data())
	}
}

func TestMaskedFillBlocksGradient(t *testing.T) {
	a := MustNew([]float64{1, 2, 3, 4}, 2, 2)
	mask := MustNew([]float64{1, 0, 0, 1}, 2, 2)
	a.SetRequiresGrad(true)

	filled, err := MaskedFill(a, mask, -1e9)
	if err != nil {
		t.Fatalf("masked fill failed: %v", err)
	}
	want := []float64{1, -1e9, -1e9, 4}
	if !floatsAlmostEqual(filled.Data(), want, 1e-3) {
		t.Fatalf("masked fill mismatch: %v", filled.Data())
	}

	if err := Sum(filled).Backward(); err != nil {
		t.Fatalf("backward failed: %v", err)
	}
	if !floatsAlmostEqual(a.Grad().Data(), []float64{1, 0, 0, 1}, 1e-12) {
		t.Fatalf("masked grad mismatch: %v", a.Grad().Data())
	}
}

func TestDropoutEvalIsIdentity(t *testing.T) {
	a := MustNew([]float64{1, -2, 3}, 3)
	a.SetRequiresGrad(true)
	out, err := Dropout(a, 0.5, false)
	if err != nil {
		t.Fatalf("dropout failed: %v", err)
	}
	if !floatsAlmostEqual(out.Data(), a.Data(), 1e-12) {
		t.Fatalf("eval dropout changed values: %v", out.Data())
	}
	if err := Sum(out).Backward(); err != nil {
		t.Fatalf("backward failed: %v", err)
	}
	if !floatsAlmostEqual(a.Grad().Data(), []float64{1, 1, 1}, 1e-12) {
		t.Fatalf("eval dropout grad mismatch: %v", a.Grad().Data())
	}
}

func TestDropoutTrainingScalesSurvivors(t *testing.T) {
	Seed(7)
	a := Ones(1000)
	out, err := Dropout(a, 0.4, true)
	if err != nil {
		t.Fatalf("dropout failed: %v", err)
	}
	zeros := 0
	for _, v := range out.Data() {
		switch v {
		case 0:
			zeros++
		default:
			if math.Abs(v-1/0.6) > 1e-9 {
				t.Fatalf("survivor not rescaled: %v", v)
			}
		}
	}
	if zeros < 250 || zeros > 550 {
		t.Fatalf("dropout rate far from p: %d/1000 zeroed", zeros)
	}
}

func TestCeluMatchesClosedForm(t *testing.T) {
	alpha := 1.3
	a := MustNew([]float64{-2, -0.5, 0, 0.5, 2}, 5)
	a.SetRequiresGrad(true)
	out := Celu(a, alpha)
	for i, x := range []float64{-2, -0.5, 0, 0.5, 2} {
		want := x
		if x <= 0 {
			want = alpha * (math.Exp(x/alpha) - 1)
		}
		if math.Abs(out.Data()[i]-want) > 1e-12 {
			t.Fatalf("celu(%v) = %v want %v", x, out.Data()[i], want)
		}
	}
	if err := Sum(out).Backward(); err != nil {
		t.Fatalf("backward failed: %v", err)
	}
	grad := a.Grad().Data()
	for i, x := range []float64{-2, -0.5, 0, 0.5, 2} {
		want := 1.0
		if x <= 0 {
			want = math.Exp(x / alpha)
		}
		if math.Abs(grad[i]-want) > 1e-12 {
			t.Fatalf("celu grad at %v = %v want %v", x, grad[i], want)
		}
	}
}
