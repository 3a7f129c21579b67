package main

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/fumitoshi0524/ixeoriVision/loss"
	"github.com/fumitoshi0524/ixeoriVision/nn"
	"github.com/fumitoshi0524/ixeoriVision/optim"
	"github.com/fumitoshi0524/ixeoriVision/refine"
	"github.com/fumitoshi0524/ixeoriVision/tensor"
)

// Trains a small refinement encoder on synthetic region features: the model
// learns to pool ragged region sets toward per-image targets.
func main() {
	tensor.Seed(42)

	const (
		batch    = 4
		regions  = 6
		embedDim = 32
		heads    = 4
		layers   = 2
	)

	model, err := refine.NewRefiner(layers, embedDim, heads, []int{8, 4, 8}, 0.1, 0.1)
	if err != nil {
		panic(err)
	}

	attFeats := tensor.Randn(batch, regions, embedDim)
	maskData := make([]float64, batch*regions)
	for b := 0; b < batch; b++ {
		// ragged validity: sample b keeps b+3 regions
		for m := 0; m < b+3 && m < regions; m++ {
			maskData[b*regions+m] = 1
		}
	}
	mask := tensor.MustNew(maskData, batch, regions)
	target := tensor.Randn(batch, embedDim)

	opt := optim.NewSGDWithConfig(model.Parameters(), optim.SGDConfig{
		LR:          0.05,
		Momentum:    0.9,
		MaxGradNorm: 5,
	})

	model.Train()
	epochs := 50
	for epoch := 0; epoch < epochs; epoch++ {
		opt.ZeroGrad()
		gv, att, err := model.Forward(nil, attFeats, mask, nil)
		if err != nil {
			panic(err)
		}
		lossVal, err := loss.MSE(gv, target)
		if err != nil {
			panic(err)
		}
		if err := lossVal.Backward(); err != nil {
			panic(err)
		}
		if err := opt.Step(); err != nil {
			panic(err)
		}
		if epoch%10 == 0 || epoch == epochs-1 {
			fmt.Printf("epoch %d loss %.4f gv %v att %v\n",
				epoch, lossVal.At(0), gv.Shape(), att.Shape())
		}
	}

	model.Eval()
	gv, _, err := model.Forward(nil, attFeats, mask, nil)
	if err != nil {
		panic(err)
	}

	path := filepath.Join(os.TempDir(), "refiner_state.json")
	if err := nn.SaveModule(path, model); err != nil {
		panic(err)
	}
	restored, err := refine.NewRefiner(layers, embedDim, heads, []int{8, 4, 8}, 0.1, 0.1)
	if err != nil {
		panic(err)
	}
	if err := nn.LoadModule(path, restored); err != nil {
		panic(err)
	}
	restored.Eval()
	gv2, _, err := restored.Forward(nil, attFeats, mask, nil)
	if err != nil {
		panic(err)
	}

	var maxDiff float64
	restoredData := gv2.Data()
	for i, v := range gv.Data() {
		d := v - restoredData[i]
		if d < 0 {
			d = -d
		}
		if d > maxDiff {
			maxDiff = d
		}
	}
	fmt.Printf("checkpoint round trip max diff %.2e (%s)\n", maxDiff, path)
}
