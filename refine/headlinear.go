// Package refine implements the visual persistence refinement encoder: a
// stack of multi-head spatial/channel attention layers that iteratively
// sharpen a per-image global feature and the per-region features it is
// pooled from.
package refine

import (
	"math"

	"github.com/fumitoshi0524/ixeoriVision/tensor"
)

// HeadLinear owns an independent affine map per attention head: weight
// [heads, in, out] and bias [heads, out]. Unlike a shared projection applied
// after the head split, every head learns its own transform.
type HeadLinear struct {
	heads  int
	in     int
	out    int
	weight *tensor.Tensor
	bias   *tensor.Tensor
}

func NewHeadLinear(heads, in, out int) *HeadLinear {
	// uniform fan-in init; for a rank-3 weight the fan-in spans the two
	// trailing axes
	bound := 1.0 / math.Sqrt(float64(in*out))
	weight := tensor.Uniform(-bound, bound, heads, in, out)
	bias := tensor.Uniform(-bound, bound, heads, out)
	weight.SetRequiresGrad(true)
	bias.SetRequiresGrad(true)
	return &HeadLinear{heads: heads, in: in, out: out, weight: weight, bias: bias}
}

// Forward accepts [batch, heads, in] or [batch, heads, ..., in] and returns
// the same rank with the last axis mapped to out.
func (h *HeadLinear) Forward(input *tensor.Tensor) (*tensor.Tensor, error) {
	return tensor.HeadLinear(input, h.weight, h.bias)
}

func (h *HeadLinear) Parameters() []*tensor.Tensor {
	return []*tensor.Tensor{h.weight, h.bias}
}

func (h *HeadLinear) ZeroGrad() {
	h.weight.ZeroGrad()
	h.bias.ZeroGrad()
}

func (h *HeadLinear) Weight() *tensor.Tensor { return h.weight }
func (h *HeadLinear) Bias() *tensor.Tensor   { return h.bias }

func (h *HeadLinear) StateDict(prefix string, state map[string]*tensor.Tensor) {
	if state == nil {
		return
	}
	state[joinPrefix(prefix, "weight")] = h.weight.Clone()
	state[joinPrefix(prefix, "bias")] = h.bias.Clone()
}

func (h *HeadLinear) LoadState(prefix string, state map[string]*tensor.Tensor) error {
	return loadNamed(prefix, state, map[string]*tensor.Tensor{
		"weight": h.weight,
		"bias":   h.bias,
	})
}
