package optim

import (
	"math"
	"testing"

	"github.com/fumitoshi0524/ixeoriVision/tensor"
)

func almostEqual(a, b []float64, tol float64) bool {
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

func TestSGDPlainAndMomentumSteps(t *testing.T) {
	param := tensor.MustNew([]float64{1, -2}, 2)
	param.SetRequiresGrad(true)
	if err := tensor.Sum(param).Backward(); err != nil {
		t.Fatalf("backward: %v", err)
	}
	opt := NewSGD([]*tensor.Tensor{param}, 0.1, 0)
	if err := opt.Step(); err != nil {
		t.Fatalf("step: %v", err)
	}
	if !almostEqual(param.Data(), []float64{0.9, -2.1}, 1e-9) {
		t.Fatalf("plain step produced %v", param.Data())
	}

	// two momentum updates with unit gradients: lr*(1 + 1.5)
	param2 := tensor.MustNew([]float64{1, -2}, 2)
	param2.SetRequiresGrad(true)
	mopt := NewSGD([]*tensor.Tensor{param2}, 0.1, 0.5)
	for i := 0; i < 2; i++ {
		mopt.ZeroGrad()
		if err := tensor.Sum(param2).Backward(); err != nil {
			t.Fatalf("backward: %v", err)
		}
		if err := mopt.Step(); err != nil {
			t.Fatalf("step: %v", err)
		}
	}
	if !almostEqual(param2.Data(), []float64{0.75, -2.25}, 1e-9) {
		t.Fatalf("momentum steps produced %v", param2.Data())
	}
}

func TestSGDWeightDecayShrinksParameters(t *testing.T) {
	param := tensor.MustNew([]float64{2}, 1)
	param.SetRequiresGrad(true)
	if err := tensor.Sum(param).Backward(); err != nil {
		t.Fatalf("backward: %v", err)
	}
	opt := NewSGDWithConfig([]*tensor.Tensor{param}, SGDConfig{LR: 0.1, WeightDecay: 0.5})
	if err := opt.Step(); err != nil {
		t.Fatalf("step: %v", err)
	}
	// update = grad + 0.5*param = 1 + 1 = 2; param = 2 - 0.1*2
	if !almostEqual(param.Data(), []float64{1.8}, 1e-9) {
		t.Fatalf("weight decay step produced %v", param.Data())
	}
}

func TestAdamConvergesOnQuadratic(t *testing.T) {
	param := tensor.MustNew([]float64{5}, 1)
	param.SetRequiresGrad(true)
	target := tensor.Full(3, 1)
	opt := NewAdam([]*tensor.Tensor{param}, 0.05, 0.9, 0.999, 1e-8)
	for i := 0; i < 200; i++ {
		opt.ZeroGrad()
		diff, err := tensor.Sub(param, target)
		if err != nil {
			t.Fatalf("sub: %v", err)
		}
		if err := tensor.Mean(tensor.Pow(diff, 2)).Backward(); err != nil {
			t.Fatalf("backward: %v", err)
		}
		if err := opt.Step(); err != nil {
			t.Fatalf("step: %v", err)
		}
	}
	if math.Abs(param.At(0)-3) > 0.05 {
		t.Fatalf("adam ended at %v, want near 3", param.At(0))
	}
}

func TestClipGradNormRescales(t *testing.T) {
	param := tensor.MustNew([]float64{3, 4}, 2)
	param.SetRequiresGrad(true)
	if err := tensor.Sum(tensor.Pow(param, 2)).Backward(); err != nil {
		t.Fatalf("backward: %v", err)
	}
	// grads are {6, 8}, norm 10
	norm := ClipGradNorm([]*tensor.Tensor{param}, 5, 2)
	if math.Abs(norm-10) > 1e-9 {
		t.Fatalf("reported norm %v, want 10", norm)
	}
	if !almostEqual(param.Grad().Data(), []float64{3, 4}, 1e-9) {
		t.Fatalf("clipped grads %v, want [3 4]", param.Grad().Data())
	}
}

func TestClipGradValueClamps(t *testing.T) {
	param := tensor.MustNew([]float64{-10, 0.5, 10}, 3)
	param.SetRequiresGrad(true)
	if err := tensor.Sum(tensor.Pow(param, 2)).Backward(); err != nil {
		t.Fatalf("backward: %v", err)
	}
	ClipGradValue([]*tensor.Tensor{param}, 1)
	if !almostEqual(param.Grad().Data(), []float64{-1, 1, 1}, 1e-9) {
		t.Fatalf("clamped grads %v", param.Grad().Data())
	}
}
