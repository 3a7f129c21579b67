package nn

import (
	"math"
	"testing"

	"github.com/fumitoshi0524/ixeoriVision/tensor"
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

func TestLinearRank3AppliesPositionwise(t *testing.T) {
	l := NewLinear(2, 1, true)
	if err := l.Weight().SetData([]float64{1, -1}); err != nil {
		t.Fatalf("set weight: %v", err)
	}
	if err := l.Bias().SetData([]float64{0.5}); err != nil {
		t.Fatalf("set bias: %v", err)
	}
	// [batch=1, regions=3, in=2]
	input := tensor.MustNew([]float64{
		1, 2,
		3, 3,
		-1, 4,
	}, 1, 3, 2)
	out, err := l.Forward(input)
	if err != nil {
		t.Fatalf("forward failed: %v", err)
	}
	if got := out.Shape(); got[0] != 1 || got[1] != 3 || got[2] != 1 {
		t.Fatalf("output shape mismatch: %v", got)
	}
	if !floatsAlmostEqual(out.Data(), []float64{-0.5, 0.5, -4.5}, 1e-12) {
		t.Fatalf("positionwise projection mismatch: %v", out.Data())
	}
}

func TestLinearRejectsWrongFeatureDim(t *testing.T) {
	l := NewLinear(4, 2, true)
	if _, err := l.Forward(tensor.Randn(2, 5)); err == nil {
		t.Fatalf("expected feature mismatch error")
	}
}

func TestSequentialForwardBackward(t *testing.T) {
	linear1 := NewLinear(3, 2, true)
	if err := linear1.Weight().SetData([]float64{
		0.5, -1.0, 1.5,
		-0.25, 0.75, -0.5,
	}); err != nil {
		t.Fatalf("set linear1 weight: %v", err)
	}
	if err := linear1.Bias().SetData([]float64{0.1, -0.2}); err != nil {
		t.Fatalf("set linear1 bias: %v", err)
	}
	linear2 := NewLinear(2, 1, true)
	model := NewSequential(linear1, Relu(), linear2)

	inputs := tensor.MustNew([]float64{
		1, 0, -1,
		2, 1, 0,
	}, 2, 3)
	out, err := model.Forward(inputs)
	if err != nil {
		t.Fatalf("forward failed: %v", err)
	}
	if err := tensor.Sum(out).Backward(); err != nil {
		t.Fatalf("backward failed: %v", err)
	}
	if linear1.Weight().Grad() == nil || linear2.Weight().Grad() == nil {
		t.Fatalf("expected gradients on both linear layers")
	}
	ZeroGradAll(model)
	if linear1.Weight().Grad() != nil {
		t.Fatalf("ZeroGradAll did not clear gradients")
	}
}

func TestGroupNormModuleGroupsByHead(t *testing.T) {
	gn, err := NewGroupNorm(2, 4, 1e-5)
	if err != nil {
		t.Fatalf("new group norm: %v", err)
	}
	input := tensor.MustNew([]float64{1, 3, 10, 30}, 1, 4)
	out, err := gn.Forward(input)
	if err != nil {
		t.Fatalf("forward failed: %v", err)
	}
	data := out.Data()
	// both 2-channel groups standardize to the same +-1 pattern
	if !floatsAlmostEqual(data[:2], data[2:], 1e-3) {
		t.Fatalf("expected per-group standardization: %v", data)
	}

	if _, err := NewGroupNorm(3, 4, 1e-5); err == nil {
		t.Fatalf("expected indivisible group error")
	}
}

func TestSequentialStateDictRoundTrip(t *testing.T) {
	gn, err := NewGroupNorm(2, 4, 1e-5)
	if err != nil {
		t.Fatalf("new group norm: %v", err)
	}
	model := NewSequential(NewLinear(4, 4, true), Celu(1.3), gn)

	state := map[string]*tensor.Tensor{}
	model.StateDict("", state)
	if len(state) != 4 {
		t.Fatalf("expected 4 tensors in state dict, got %d", len(state))
	}

	gn2, err := NewGroupNorm(2, 4, 1e-5)
	if err != nil {
		t.Fatalf("new group norm: %v", err)
	}
	clone := NewSequential(NewLinear(4, 4, true), Celu(1.3), gn2)
	if err := clone.LoadState("", state); err != nil {
		t.Fatalf("LoadState failed: %v", err)
	}
	orig := model.Parameters()
	copied := clone.Parameters()
	for i := range orig {
		if !floatsAlmostEqual(orig[i].Data(), copied[i].Data(), 1e-12) {
			t.Fatalf("parameter %d mismatch after load", i)
		}
	}
}
