package tensor

import (
	"errors"

	"github.com/fumitoshi0524/ixeoriVision/internal/parallel"
)

// HeadLinear applies an independent affine map per attention head: the
// batched contraction [B, H, ..., I] x [H, I, O] -> [B, H, ..., O], plus a
// per-head bias [H, O] when bias is non-nil. Any axes between the head axis
// and the feature axis are treated as positions and flattened internally,
// so rank-3 and rank-4 (and deeper) inputs share one kernel.
func HeadLinear(x, weight, bias *Tensor) (*Tensor, error) {
	if len(weight.shape) != 3 {
		return nil, errors.New("head linear weight must be rank 3 [heads, in, out]")
	}
	heads, in, out := weight.shape[0], weight.shape[1], weight.shape[2]
	rank := len(x.shape)
	if rank < 3 {
		return nil, errors.New("head linear input must be rank >= 3 [batch, heads, ..., in]")
	}
	if x.shape[1] != heads {
		return nil, errors.New("head axis mismatch")
	}
	if x.shape[rank-1] != in {
		return nil, errors.New("input feature axis mismatch")
	}
	if bias != nil {
		if len(bias.shape) != 2 || bias.shape[0] != heads || bias.shape[1] != out {
			return nil, errors.New("head linear bias must be [heads, out]")
		}
	}
	batch := x.shape[0]
	positions := 1
	for i := 2; i < rank-1; i++ {
		positions *= x.shape[i]
	}
	outShape := append([]int(nil), x.shape[:rank-1]...)
	outShape = append(outShape, out)
	result := Zeros(outShape...)

	// x viewed as [batch, heads, positions, in], result as [..., out].
	parallel.For(batch*heads, func(start, end int) {
		for bh := start; bh < end; bh++ {
			h := bh % heads
			w := weight.data[h*in*out : (h+1)*in*out]
			src := x.data[bh*positions*in : (bh+1)*positions*in]
			dst := result.data[bh*positions*out : (bh+1)*positions*out]
			matmulInto(dst, src, w, positions, in, out, false, false)
			if bias != nil {
				bOff := h * out
				for p := 0; p < positions; p++ {
					off := p * out
					for j := 0; j < out; j++ {
						dst[off+j] += bias.data[bOff+j]
					}
				}
			}
		}
	})

	attachGrad(result, func(grad *Tensor, grads map[*Tensor]*Tensor) {
		if x.requiresGrad {
			gx := Zeros(x.shape...)
			parallel.For(batch*heads, func(start, end int) {
				for bh := start; bh < end; bh++ {
					h := bh % heads
					w := weight.data[h*in*out : (h+1)*in*out]
					g := grad.data[bh*positions*out : (bh+1)*positions*out]
					// dX = dOut @ W^T per head
					matmulInto(gx.data[bh*positions*in:(bh+1)*positions*in], g, w, positions, out, in, false, true)
				}
			})
			accumulate(grads, x, gx)
		}
		if weight.requiresGrad {
			gw := Zeros(weight.shape...)
			// dW[h] = sum_b X[b,h]^T @ dOut[b,h]
			parallel.For(heads, func(start, end int) {
				for h := start; h < end; h++ {
					dst := gw.data[h*in*out : (h+1)*in*out]
					for b := 0; b < batch; b++ {
						bh := b*heads + h
						src := x.data[bh*positions*in : (bh+1)*positions*in]
						g := grad.data[bh*positions*out : (bh+1)*positions*out]
						matmulInto(dst, src, g, in, positions, out, true, false)
					}
				}
			})
			accumulate(grads, weight, gw)
		}
		if bias != nil && bias.requiresGrad {
			gb := Zeros(bias.shape...)
			parallel.For(heads, func(start, end int) {
				for h := start; h < end; h++ {
					bOff := h * out
					for b := 0; b < batch; b++ {
						bh := b*heads + h
						g := grad.data[bh*positions*out : (bh+1)*positions*out]
						for p := 0; p < positions; p++ {
							off := p * out
							for j := 0; j < out; j++ {
								gb.data[bOff+j] += g[off+j]
							}
						}
					}
				}
			})
			accumulate(grads, bias, gb)
		}
	}, x, weight, bias)
	return result, nil
}
