package refine

import (
	"errors"
	"fmt"

	"github.com/fumitoshi0524/ixeoriVision/nn"
	"github.com/fumitoshi0524/ixeoriVision/tensor"
)

// SCAttention scores region features along two axes at once: a spatial
// distribution over regions and a channel gate over features. The query is
// fused with every key elementwise, pushed through a per-head transform
// stack, then read out twice: a one-unit head gives spatial logits and a
// full-width head gives the channel gate from the mask-pooled map.
type SCAttention struct {
	heads   int
	midDims []int
	basic   []*HeadLinear
	drops   []*nn.Dropout
	spatial *HeadLinear
	channel *HeadLinear
}

// NewSCAttention builds the scorer. midDims lists the per-head transform
// widths: midDims[0] is the fused query/key width, the interior entries are
// hidden widths, and midDims[len-1] is the channel gate width, which must
// match the value feature width.
func NewSCAttention(heads int, midDims []int, midDropout float64) (*SCAttention, error) {
	if heads <= 0 {
		return nil, errors.New("attention needs at least one head")
	}
	if len(midDims) < 3 {
		return nil, errors.New("attention needs input, hidden and gate widths")
	}
	s := &SCAttention{heads: heads, midDims: append([]int(nil), midDims...)}
	for i := 0; i+2 < len(midDims); i++ {
		s.basic = append(s.basic, NewHeadLinear(heads, midDims[i], midDims[i+1]))
		s.drops = append(s.drops, nn.NewDropout(midDropout))
	}
	hidden := midDims[len(midDims)-2]
	s.spatial = NewHeadLinear(heads, hidden, 1)
	s.channel = NewHeadLinear(heads, hidden, midDims[len(midDims)-1])
	return s, nil
}

// Forward scores key against query and returns the gated context. query is
// [batch, heads, dim] for a single probe or [batch, heads, queries, dim] for
// a probe per position; key and value2 are [batch, heads, regions, dim] and
// value1 matches the output shape. mask is [batch, regions] with ones on
// valid regions, or nil to treat every region as valid.
func (s *SCAttention) Forward(query, key, mask, value1, value2 *tensor.Tensor) (*tensor.Tensor, error) {
	if query == nil || key == nil || value1 == nil || value2 == nil {
		return nil, errors.New("attention requires query, key and both values")
	}
	if key.Rank() != 4 {
		return nil, errors.New("attention key must be [batch, heads, regions, dim]")
	}

	attMap, err := s.fuse(query, key)
	if err != nil {
		return nil, err
	}
	for i, stage := range s.basic {
		if attMap, err = stage.Forward(attMap); err != nil {
			return nil, err
		}
		attMap = tensor.Relu(attMap)
		if attMap, err = s.drops[i].Forward(attMap); err != nil {
			return nil, err
		}
	}

	pooled, err := maskedMeanRegions(attMap, mask)
	if err != nil {
		return nil, err
	}

	logits, err := s.spatial.Forward(attMap)
	if err != nil {
		return nil, err
	}
	if logits, err = tensor.Squeeze(logits, logits.Rank()-1); err != nil {
		return nil, err
	}
	if mask != nil {
		maskExp, err := expandMaskTo(mask, logits.Shape(), logits.Rank()-1)
		if err != nil {
			return nil, err
		}
		if logits, err = tensor.MaskedFill(logits, maskExp, -1e9); err != nil {
			return nil, err
		}
	}
	alpha, err := tensor.Softmax(logits)
	if err != nil {
		return nil, err
	}

	ctx, err := weightedSum(alpha, value2)
	if err != nil {
		return nil, err
	}

	gate, err := s.channel.Forward(pooled)
	if err != nil {
		return nil, err
	}
	gate = tensor.Sigmoid(gate)

	out, err := tensor.Mul(value1, ctx)
	if err != nil {
		return nil, err
	}
	return tensor.Mul(out, gate)
}

// fuse multiplies the query into every key position.
func (s *SCAttention) fuse(query, key *tensor.Tensor) (*tensor.Tensor, error) {
	switch query.Rank() {
	case 3:
		qe, err := tensor.Unsqueeze(query, 2)
		if err != nil {
			return nil, err
		}
		if qe, err = tensor.Expand(qe, key.Shape()...); err != nil {
			return nil, err
		}
		return tensor.Mul(qe, key)
	case 4:
		// a probe per position: pair every query with every key
		b, h := query.Dim(0), query.Dim(1)
		q, m, d := query.Dim(2), key.Dim(2), key.Dim(3)
		qe, err := tensor.Unsqueeze(query, 3)
		if err != nil {
			return nil, err
		}
		if qe, err = tensor.Expand(qe, b, h, q, m, d); err != nil {
			return nil, err
		}
		ke, err := tensor.Unsqueeze(key, 2)
		if err != nil {
			return nil, err
		}
		if ke, err = tensor.Expand(ke, b, h, q, m, d); err != nil {
			return nil, err
		}
		return tensor.Mul(qe, ke)
	default:
		return nil, fmt.Errorf("attention query must be rank 3 or 4, got %d", query.Rank())
	}
}

// weightedSum contracts the spatial weights against the values. A rank-3
// alpha carries one distribution per head, a rank-4 alpha one per query
// position.
func weightedSum(alpha, value *tensor.Tensor) (*tensor.Tensor, error) {
	if alpha.Rank() == 4 {
		return tensor.BatchMatMul(alpha, value)
	}
	ae, err := tensor.Unsqueeze(alpha, 2)
	if err != nil {
		return nil, err
	}
	ctx, err := tensor.BatchMatMul(ae, value)
	if err != nil {
		return nil, err
	}
	return tensor.Squeeze(ctx, 2)
}

// maskedMeanRegions averages over the regions axis (rank-2), counting only
// positions the mask keeps.
func maskedMeanRegions(a, mask *tensor.Tensor) (*tensor.Tensor, error) {
	posAxis := a.Rank() - 2
	if mask == nil {
		return tensor.MeanAxis(a, posAxis)
	}
	maskExp, err := expandMaskTo(mask, a.Shape(), posAxis)
	if err != nil {
		return nil, err
	}
	kept, err := tensor.Mul(a, maskExp)
	if err != nil {
		return nil, err
	}
	num, err := tensor.SumAxis(kept, posAxis)
	if err != nil {
		return nil, err
	}
	den, err := tensor.SumAxis(maskExp, posAxis)
	if err != nil {
		return nil, err
	}
	return tensor.Div(num, den)
}

// expandMaskTo replicates a [batch, regions] mask into the given shape,
// reading the batch from axis 0 and the region index from posAxis. The
// result is a constant: it never carries gradient.
func expandMaskTo(mask *tensor.Tensor, shape []int, posAxis int) (*tensor.Tensor, error) {
	if mask.Rank() != 2 {
		return nil, errors.New("mask must be [batch, regions]")
	}
	if posAxis < 0 || posAxis >= len(shape) {
		return nil, fmt.Errorf("mask axis %d out of range for rank %d", posAxis, len(shape))
	}
	if mask.Dim(0) != shape[0] || mask.Dim(1) != shape[posAxis] {
		return nil, errors.New("mask does not match target shape")
	}
	total := 1
	for _, d := range shape {
		total *= d
	}
	data := make([]float64, total)
	batchStride := total / shape[0]
	posStride := 1
	for i := posAxis + 1; i < len(shape); i++ {
		posStride *= shape[i]
	}
	regions := shape[posAxis]
	for i := range data {
		b := i / batchStride
		m := (i / posStride) % regions
		data[i] = mask.At(b*regions + m)
	}
	return tensor.New(data, shape...)
}

func (s *SCAttention) Parameters() []*tensor.Tensor {
	var params []*tensor.Tensor
	for _, stage := range s.basic {
		params = append(params, stage.Parameters()...)
	}
	params = append(params, s.spatial.Parameters()...)
	params = append(params, s.channel.Parameters()...)
	return params
}

func (s *SCAttention) ZeroGrad() {
	for _, stage := range s.basic {
		stage.ZeroGrad()
	}
	s.spatial.ZeroGrad()
	s.channel.ZeroGrad()
}

func (s *SCAttention) Train() {
	for _, d := range s.drops {
		d.Train()
	}
}

func (s *SCAttention) Eval() {
	for _, d := range s.drops {
		d.Eval()
	}
}

func (s *SCAttention) StateDict(prefix string, state map[string]*tensor.Tensor) {
	for i, stage := range s.basic {
		stage.StateDict(joinPrefix(prefix, fmt.Sprintf("basic_%d", i)), state)
	}
	s.spatial.StateDict(joinPrefix(prefix, "spatial"), state)
	s.channel.StateDict(joinPrefix(prefix, "channel"), state)
}

func (s *SCAttention) LoadState(prefix string, state map[string]*tensor.Tensor) error {
	for i, stage := range s.basic {
		if err := stage.LoadState(joinPrefix(prefix, fmt.Sprintf("basic_%d", i)), state); err != nil {
			return err
		}
	}
	if err := s.spatial.LoadState(joinPrefix(prefix, "spatial"), state); err != nil {
		return err
	}
	return s.channel.LoadState(joinPrefix(prefix, "channel"), state)
}
