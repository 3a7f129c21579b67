package optim

import (
	"math"

	"github.com/fumitoshi0524/ixeoriVision/tensor"
)

// ClipGradNorm rescales all gradients in place so their combined norm does
// not exceed maxNorm, and returns the norm seen before clipping.
func ClipGradNorm(params []*tensor.Tensor, maxNorm, normType float64) float64 {
	if maxNorm <= 0 {
		return 0
	}
	if normType <= 0 {
		normType = 2
	}
	total := 0.0
	for _, p := range params {
		if p == nil {
			continue
		}
		total += p.GradPowSum(normType)
	}
	norm := math.Pow(total, 1/normType)
	if norm > maxNorm && norm > 0 {
		scale := maxNorm / norm
		for _, p := range params {
			if p != nil {
				p.ScaleGrad(scale)
			}
		}
	}
	return norm
}

// ClipGradValue clamps every gradient element into [-limit, limit].
func ClipGradValue(params []*tensor.Tensor, limit float64) {
	if limit <= 0 {
		return
	}
	for _, p := range params {
		if p != nil {
			p.ClipGradValue(limit)
		}
	}
}
