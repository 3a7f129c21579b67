package nn

import (
	"fmt"

	"github.com/fumitoshi0524/ixeoriVision/tensor"
)

type LayerNorm struct {
	normalizedShape []int
	eps             float64
	affine          bool
	weight          *tensor.Tensor
	bias            *tensor.Tensor
}

func NewLayerNorm(normalizedShape []int, eps float64, affine bool) *LayerNorm {
	shapeCopy := append([]int(nil), normalizedShape...)
	if eps <= 0 {
		eps = 1e-5
	}
	var weight, bias *tensor.Tensor
	if affine {
		weight = tensor.Ones(shapeCopy...)
		bias = tensor.Zeros(shapeCopy...)
		weight.SetRequiresGrad(true)
		bias.SetRequiresGrad(true)
	}
	return &LayerNorm{
		normalizedShape: shapeCopy,
		eps:             eps,
		affine:          affine,
		weight:          weight,
		bias:            bias,
	}
}

func (ln *LayerNorm) Forward(input *tensor.Tensor) (*tensor.Tensor, error) {
	return tensor.LayerNorm(input, ln.normalizedShape, ln.weight, ln.bias, ln.eps)
}

func (ln *LayerNorm) Parameters() []*tensor.Tensor {
	if !ln.affine {
		return nil
	}
	return []*tensor.Tensor{ln.weight, ln.bias}
}

func (ln *LayerNorm) ZeroGrad() {
	if ln.affine {
		ln.weight.ZeroGrad()
		ln.bias.ZeroGrad()
	}
}

func (ln *LayerNorm) StateDict(prefix string, state map[string]*tensor.Tensor) {
	if state == nil || !ln.affine {
		return
	}
	state[joinPrefix(prefix, "weight")] = ln.weight.Clone()
	state[joinPrefix(prefix, "bias")] = ln.bias.Clone()
}

func (ln *LayerNorm) LoadState(prefix string, state map[string]*tensor.Tensor) error {
	if state == nil {
		return fmt.Errorf("state dict is nil")
	}
	if !ln.affine {
		return nil
	}
	return loadAffinePair(prefix, "LayerNorm", ln.weight, ln.bias, state)
}

// GroupNorm normalizes channel groups of the last axis independently per
// sample. With groups equal to the attention head count, each head's slice
// of the embedding is standardized on its own before the head split.
type GroupNorm struct {
	groups   int
	channels int
	eps      float64
	weight   *tensor.Tensor
	bias     *tensor.Tensor
}

func NewGroupNorm(groups, channels int, eps float64) (*GroupNorm, error) {
	if groups <= 0 || channels%groups != 0 {
		return nil, fmt.Errorf("group norm: %d groups must divide %d channels", groups, channels)
	}
	if eps <= 0 {
		eps = 1e-5
	}
	weight := tensor.Ones(channels)
	bias := tensor.Zeros(channels)
	weight.SetRequiresGrad(true)
	bias.SetRequiresGrad(true)
	return &GroupNorm{groups: groups, channels: channels, eps: eps, weight: weight, bias: bias}, nil
}

func (gn *GroupNorm) Forward(input *tensor.Tensor) (*tensor.Tensor, error) {
	return tensor.GroupNorm(input, gn.groups, gn.weight, gn.bias, gn.eps)
}

func (gn *GroupNorm) Parameters() []*tensor.Tensor {
	return []*tensor.Tensor{gn.weight, gn.bias}
}

func (gn *GroupNorm) ZeroGrad() {
	gn.weight.ZeroGrad()
	gn.bias.ZeroGrad()
}

func (gn *GroupNorm) StateDict(prefix string, state map[string]*tensor.Tensor) {
	if state == nil {
		return
	}
	state[joinPrefix(prefix, "weight")] = gn.weight.Clone()
	state[joinPrefix(prefix, "bias")] = gn.bias.Clone()
}

func (gn *GroupNorm) LoadState(prefix string, state map[string]*tensor.Tensor) error {
	if state == nil {
		return fmt.Errorf("state dict is nil")
	}
	return loadAffinePair(prefix, "GroupNorm", gn.weight, gn.bias, state)
}

func loadAffinePair(prefix, kind string, weight, bias *tensor.Tensor, state map[string]*tensor.Tensor) error {
	wKey := joinPrefix(prefix, "weight")
	w, ok := state[wKey]
	if !ok {
		return fmt.Errorf("%s missing %s", kind, wKey)
	}
	if err := tensor.CopyInto(weight, w); err != nil {
		return fmt.Errorf("load %s: %w", wKey, err)
	}
	bKey := joinPrefix(prefix, "bias")
	b, ok := state[bKey]
	if !ok {
		return fmt.Errorf("%s missing %s", kind, bKey)
	}
	if err := tensor.CopyInto(bias, b); err != nil {
		return fmt.Errorf("load %s: %w", bKey, err)
	}
	return nil
}
