package refine

import (
	"errors"
	"fmt"

	"github.com/fumitoshi0524/ixeoriVision/nn"
	"github.com/fumitoshi0524/ixeoriVision/tensor"
)

// Refiner runs a stack of attention layers that alternately re-derive the
// global feature from the regions and fold the updated global feature back
// into every region. The globals from every stage are concatenated and
// projected so the final embedding sees the whole refinement trajectory.
type Refiner struct {
	embedDim int
	layers   []*MultiHeadAttention
	fusion   []*fusionBlock
	norms    []*nn.LayerNorm
	proj     *nn.Linear
	final    *nn.LayerNorm
}

// fusionBlock folds the global feature into each region: Linear on the
// concatenated pair, relu, dropout.
type fusionBlock struct {
	lin  *nn.Linear
	drop *nn.Dropout
}

func NewRefiner(numLayers, embedDim, heads int, midDims []int, midDropout, dropout float64) (*Refiner, error) {
	if numLayers <= 0 {
		return nil, errors.New("refiner needs at least one layer")
	}
	r := &Refiner{
		embedDim: embedDim,
		proj:     nn.NewLinear(embedDim*(numLayers+1), embedDim, true),
		final:    nn.NewLayerNorm([]int{embedDim}, 1e-5, true),
	}
	for i := 0; i < numLayers; i++ {
		layer, err := NewMultiHeadAttention(embedDim, heads, midDims, midDropout, dropout)
		if err != nil {
			return nil, err
		}
		r.layers = append(r.layers, layer)
		r.fusion = append(r.fusion, &fusionBlock{
			lin:  nn.NewLinear(embedDim*2, embedDim, true),
			drop: nn.NewDropout(0.3),
		})
		r.norms = append(r.norms, nn.NewLayerNorm([]int{embedDim}, 1e-5, true))
	}
	return r, nil
}

func (r *Refiner) NumLayers() int { return len(r.layers) }

// Precompute projects a fixed set of region features for every layer. The
// result only stays valid while the regions themselves are not refined, so
// it suits single-shot attention, not the refinement loop.
func (r *Refiner) Precompute(attFeats *tensor.Tensor) ([]*Precomputed, error) {
	pres := make([]*Precomputed, len(r.layers))
	for i, layer := range r.layers {
		p, err := layer.Precompute(attFeats)
		if err != nil {
			return nil, err
		}
		pres[i] = p
	}
	return pres, nil
}

// Forward refines attFeats [batch, regions, embed] together with the global
// feature gvFeat [batch, embed]. A nil gvFeat, or one whose last axis is 1,
// is replaced by the mask-weighted mean of the regions. attMask is
// [batch, regions] or nil. pres, when non-nil, supplies precomputed keys and
// values per layer. Returns the refined global feature [batch, embed] and
// region features [batch, regions, embed].
func (r *Refiner) Forward(gvFeat, attFeats, attMask *tensor.Tensor, pres []*Precomputed) (*tensor.Tensor, *tensor.Tensor, error) {
	if attFeats == nil || attFeats.Rank() != 3 {
		return nil, nil, errors.New("region features must be [batch, regions, embed]")
	}
	if attFeats.Dim(2) != r.embedDim {
		return nil, nil, fmt.Errorf("region feature width %d, want %d", attFeats.Dim(2), r.embedDim)
	}
	if pres != nil && len(pres) != len(r.layers) {
		return nil, nil, errors.New("precomputed entries must match layer count")
	}

	gv := gvFeat
	if gv == nil || gv.Dim(gv.Rank()-1) == 1 {
		var err error
		if gv, err = maskedMeanRegions(attFeats, attMask); err != nil {
			return nil, nil, err
		}
	}

	batch, regions := attFeats.Dim(0), attFeats.Dim(1)
	feats := []*tensor.Tensor{gv}
	att := attFeats
	for i, layer := range r.layers {
		var pre *Precomputed
		if pres != nil {
			pre = pres[i]
		}
		next, err := layer.Forward(gv, att, attMask, gv, att, pre)
		if err != nil {
			return nil, nil, err
		}
		gv = next

		gvExp, err := gv.Reshape(batch, 1, r.embedDim)
		if err != nil {
			return nil, nil, err
		}
		if gvExp, err = tensor.Expand(gvExp, batch, regions, r.embedDim); err != nil {
			return nil, nil, err
		}
		paired, err := tensor.Concat(2, gvExp, att)
		if err != nil {
			return nil, nil, err
		}
		fused, err := r.fusion[i].forward(paired)
		if err != nil {
			return nil, nil, err
		}
		if att, err = tensor.Add(fused, att); err != nil {
			return nil, nil, err
		}
		if att, err = r.norms[i].Forward(att); err != nil {
			return nil, nil, err
		}
		feats = append(feats, gv)
	}

	joined, err := tensor.Concat(1, feats...)
	if err != nil {
		return nil, nil, err
	}
	if gv, err = r.proj.Forward(joined); err != nil {
		return nil, nil, err
	}
	if gv, err = r.final.Forward(gv); err != nil {
		return nil, nil, err
	}
	return gv, att, nil
}

func (f *fusionBlock) forward(input *tensor.Tensor) (*tensor.Tensor, error) {
	out, err := f.lin.Forward(input)
	if err != nil {
		return nil, err
	}
	return f.drop.Forward(tensor.Relu(out))
}

func (r *Refiner) Parameters() []*tensor.Tensor {
	var params []*tensor.Tensor
	for _, layer := range r.layers {
		params = append(params, layer.Parameters()...)
	}
	for _, f := range r.fusion {
		params = append(params, f.lin.Parameters()...)
	}
	for _, n := range r.norms {
		params = append(params, n.Parameters()...)
	}
	params = append(params, r.proj.Parameters()...)
	return append(params, r.final.Parameters()...)
}

func (r *Refiner) ZeroGrad() {
	for _, p := range r.Parameters() {
		p.ZeroGrad()
	}
}

func (r *Refiner) Train() {
	for _, layer := range r.layers {
		layer.Train()
	}
	for _, f := range r.fusion {
		f.drop.Train()
	}
}

func (r *Refiner) Eval() {
	for _, layer := range r.layers {
		layer.Eval()
	}
	for _, f := range r.fusion {
		f.drop.Eval()
	}
}

func (r *Refiner) StateDict(prefix string, state map[string]*tensor.Tensor) {
	for i, layer := range r.layers {
		layer.StateDict(joinPrefix(prefix, fmt.Sprintf("layer_%d", i)), state)
	}
	for i, f := range r.fusion {
		f.lin.StateDict(joinPrefix(prefix, fmt.Sprintf("fusion_%d", i)), state)
	}
	for i, n := range r.norms {
		n.StateDict(joinPrefix(prefix, fmt.Sprintf("norm_%d", i)), state)
	}
	r.proj.StateDict(joinPrefix(prefix, "proj"), state)
	r.final.StateDict(joinPrefix(prefix, "final"), state)
}

func (r *Refiner) LoadState(prefix string, state map[string]*tensor.Tensor) error {
	for i, layer := range r.layers {
		if err := layer.LoadState(joinPrefix(prefix, fmt.Sprintf("layer_%d", i)), state); err != nil {
			return err
		}
	}
	for i, f := range r.fusion {
		if err := f.lin.LoadState(joinPrefix(prefix, fmt.Sprintf("fusion_%d", i)), state); err != nil {
			return err
		}
	}
	for i, n := range r.norms {
		if err := n.LoadState(joinPrefix(prefix, fmt.Sprintf("norm_%d", i)), state); err != nil {
			return err
		}
	}
	if err := r.proj.LoadState(joinPrefix(prefix, "proj"), state); err != nil {
		return err
	}
	return r.final.LoadState(joinPrefix(prefix, "final"), state)
}
