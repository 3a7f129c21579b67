package refine

import (
	"errors"
	"fmt"

	"github.com/fumitoshi0524/ixeoriVision/nn"
	"github.com/fumitoshi0524/ixeoriVision/tensor"
)

// MultiHeadAttention projects a global query and the region features into a
// shared embedding, splits them into heads and runs the spatial/channel
// scorer per head. Each of the four inputs gets its own projection block of
// Linear, CELU and a per-head GroupNorm.
type MultiHeadAttention struct {
	embedDim int
	heads    int
	headDim  int

	projQuery  *nn.Sequential
	projKey    *nn.Sequential
	projValue1 *nn.Sequential
	projValue2 *nn.Sequential
	scorer     *SCAttention
	drop       *nn.Dropout
}

// Precomputed holds the projected, head-split key and value of a fixed set
// of region features so repeated attention calls can skip reprojecting them.
type Precomputed struct {
	Key   *tensor.Tensor
	Value *tensor.Tensor
}

func NewMultiHeadAttention(embedDim, heads int, midDims []int, midDropout, dropout float64) (*MultiHeadAttention, error) {
	if heads <= 0 || embedDim%heads != 0 {
		return nil, fmt.Errorf("embed dim %d not divisible by %d heads", embedDim, heads)
	}
	scorer, err := NewSCAttention(heads, midDims, midDropout)
	if err != nil {
		return nil, err
	}
	m := &MultiHeadAttention{
		embedDim: embedDim,
		heads:    heads,
		headDim:  embedDim / heads,
		scorer:   scorer,
	}
	for _, dst := range []**nn.Sequential{&m.projQuery, &m.projKey, &m.projValue1, &m.projValue2} {
		gn, err := nn.NewGroupNorm(heads, embedDim, 1e-5)
		if err != nil {
			return nil, err
		}
		*dst = nn.NewSequential(nn.NewLinear(embedDim, embedDim, true), nn.Celu(1.3), gn)
	}
	if dropout > 0 {
		m.drop = nn.NewDropout(dropout)
	}
	return m, nil
}

// Precompute projects attFeats [batch, regions, embed] once and returns the
// head-split key and value for later Forward calls.
func (m *MultiHeadAttention) Precompute(attFeats *tensor.Tensor) (*Precomputed, error) {
	key, err := m.splitRegions(m.projKey, attFeats)
	if err != nil {
		return nil, err
	}
	value, err := m.splitRegions(m.projValue2, attFeats)
	if err != nil {
		return nil, err
	}
	return &Precomputed{Key: key, Value: value}, nil
}

// Forward attends the global query over the region features. query and
// value1 are [batch, embed]; key and value2 are [batch, regions, embed] and
// are ignored when pre is non-nil. The result is [batch, embed].
func (m *MultiHeadAttention) Forward(query, key, mask, value1, value2 *tensor.Tensor, pre *Precomputed) (*tensor.Tensor, error) {
	q, err := m.splitGlobal(m.projQuery, query)
	if err != nil {
		return nil, err
	}
	v1, err := m.splitGlobal(m.projValue1, value1)
	if err != nil {
		return nil, err
	}
	var k, v2 *tensor.Tensor
	if pre != nil {
		k, v2 = pre.Key, pre.Value
	} else {
		if k, err = m.splitRegions(m.projKey, key); err != nil {
			return nil, err
		}
		if v2, err = m.splitRegions(m.projValue2, value2); err != nil {
			return nil, err
		}
	}
	attn, err := m.scorer.Forward(q, k, mask, v1, v2)
	if err != nil {
		return nil, err
	}
	if attn, err = attn.Reshape(attn.Dim(0), m.embedDim); err != nil {
		return nil, err
	}
	if m.drop != nil {
		return m.drop.Forward(attn)
	}
	return attn, nil
}

// splitGlobal projects [batch, embed] and splits it into [batch, heads, dim].
func (m *MultiHeadAttention) splitGlobal(proj *nn.Sequential, input *tensor.Tensor) (*tensor.Tensor, error) {
	if input == nil || input.Rank() != 2 {
		return nil, errors.New("global feature must be [batch, embed]")
	}
	out, err := proj.Forward(input)
	if err != nil {
		return nil, err
	}
	return out.Reshape(input.Dim(0), m.heads, m.headDim)
}

// splitRegions projects [batch, regions, embed] and splits it into
// [batch, heads, regions, dim].
func (m *MultiHeadAttention) splitRegions(proj *nn.Sequential, input *tensor.Tensor) (*tensor.Tensor, error) {
	if input == nil || input.Rank() != 3 {
		return nil, errors.New("region features must be [batch, regions, embed]")
	}
	out, err := proj.Forward(input)
	if err != nil {
		return nil, err
	}
	if out, err = out.Reshape(input.Dim(0), input.Dim(1), m.heads, m.headDim); err != nil {
		return nil, err
	}
	return tensor.SwapAxes(out, 1, 2)
}

func (m *MultiHeadAttention) Parameters() []*tensor.Tensor {
	var params []*tensor.Tensor
	for _, proj := range m.projections() {
		params = append(params, proj.Parameters()...)
	}
	return append(params, m.scorer.Parameters()...)
}

func (m *MultiHeadAttention) ZeroGrad() {
	for _, proj := range m.projections() {
		proj.ZeroGrad()
	}
	m.scorer.ZeroGrad()
}

func (m *MultiHeadAttention) Train() {
	m.scorer.Train()
	if m.drop != nil {
		m.drop.Train()
	}
}

func (m *MultiHeadAttention) Eval() {
	m.scorer.Eval()
	if m.drop != nil {
		m.drop.Eval()
	}
}

func (m *MultiHeadAttention) projections() []*nn.Sequential {
	return []*nn.Sequential{m.projQuery, m.projKey, m.projValue1, m.projValue2}
}

func (m *MultiHeadAttention) StateDict(prefix string, state map[string]*tensor.Tensor) {
	names := []string{"proj_q", "proj_k", "proj_v1", "proj_v2"}
	for i, proj := range m.projections() {
		proj.StateDict(joinPrefix(prefix, names[i]), state)
	}
	m.scorer.StateDict(joinPrefix(prefix, "scorer"), state)
}

func (m *MultiHeadAttention) LoadState(prefix string, state map[string]*tensor.Tensor) error {
	names := []string{"proj_q", "proj_k", "proj_v1", "proj_v2"}
	for i, proj := range m.projections() {
		if err := proj.LoadState(joinPrefix(prefix, names[i]), state); err != nil {
			return err
		}
	}
	return m.scorer.LoadState(joinPrefix(prefix, "scorer"), state)
}
