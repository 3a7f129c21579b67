package nn

import (
	"fmt"
	"math"

	"github.com/fumitoshi0524/ixeoriVision/tensor"
)

// Linear applies y = x W^T + b over the last axis. Inputs of rank > 2 are
// flattened over their leading axes and restored afterwards, so per-region
// feature tensors [batch, regions, in] project positionwise.
type Linear struct {
	inFeatures  int
	outFeatures int
	weight      *tensor.Tensor
	bias        *tensor.Tensor
}

func NewLinear(inFeatures, outFeatures int, withBias bool) *Linear {
	w := tensor.Randn(outFeatures, inFeatures)
	scale := math.Sqrt(2.0 / float64(inFeatures+outFeatures))
	w.Scale(scale)
	w.SetRequiresGrad(true)
	var b *tensor.Tensor
	if withBias {
		b = tensor.Randn(outFeatures)
		b.Scale(scale)
		b.SetRequiresGrad(true)
	}
	return &Linear{inFeatures: inFeatures, outFeatures: outFeatures, weight: w, bias: b}
}

func (l *Linear) Forward(input *tensor.Tensor) (*tensor.Tensor, error) {
	shape := input.Shape()
	last := shape[len(shape)-1]
	if last != l.inFeatures {
		return nil, fmt.Errorf("linear: input features %d, want %d", last, l.inFeatures)
	}
	x, err := tensor.Flatten2D(input)
	if err != nil {
		return nil, err
	}
	out, err := tensor.MatMul(x, l.weight.MustTranspose())
	if err != nil {
		return nil, err
	}
	if l.bias != nil {
		out, err = tensor.AddBias2D(out, l.bias)
		if err != nil {
			return nil, err
		}
	}
	if len(shape) == 2 {
		return out, nil
	}
	outShape := append(shape[:len(shape)-1], l.outFeatures)
	return out.Reshape(outShape...)
}

func (l *Linear) Parameters() []*tensor.Tensor {
	params := []*tensor.Tensor{l.weight}
	if l.bias != nil {
		params = append(params, l.bias)
	}
	return params
}

func (l *Linear) ZeroGrad() {
	for _, p := range l.Parameters() {
		p.ZeroGrad()
	}
}

func (l *Linear) Weight() *tensor.Tensor { return l.weight }
func (l *Linear) Bias() *tensor.Tensor   { return l.bias }

func (l *Linear) StateDict(prefix string, state map[string]*tensor.Tensor) {
	if state == nil {
		return
	}
	state[joinPrefix(prefix, "weight")] = l.weight.Clone()
	if l.bias != nil {
		state[joinPrefix(prefix, "bias")] = l.bias.Clone()
	}
}

func (l *Linear) LoadState(prefix string, state map[string]*tensor.Tensor) error {
	if state == nil {
		return fmt.Errorf("state dict is nil")
	}
	key := joinPrefix(prefix, "weight")
	w, ok := state[key]
	if !ok {
		return fmt.Errorf("Linear missing %s", key)
	}
	if err := tensor.CopyInto(l.weight, w); err != nil {
		return fmt.Errorf("load %s: %w", key, err)
	}
	if l.bias != nil {
		key = joinPrefix(prefix, "bias")
		b, ok := state[key]
		if !ok {
			return fmt.Errorf("Linear missing %s", key)
		}
		if err := tensor.CopyInto(l.bias, b); err != nil {
			return fmt.Errorf("load %s: %w", key, err)
		}
	}
	return nil
}
