package tensor

import (
	"errors"
	"math"
)

// LayerNorm normalizes the last len(normalizedShape) dimensions of the
// input, with optional per-element affine weight and bias.
func LayerNorm(input *Tensor, normalizedShape []int, weight, bias *Tensor, eps float64) (*Tensor, error) {
	if len(normalizedShape) == 0 {
		return nil, errors.New("normalized shape required")
	}
	rank := len(input.shape)
	normRank := len(normalizedShape)
	if normRank > rank {
		return nil, errors.New("normalized shape rank exceeds input rank")
	}
	for i := 0; i < normRank; i++ {
		if input.shape[rank-normRank+i] != normalizedShape[i] {
			return nil, errors.New("normalized shape mismatch")
		}
	}
	normSize := numelOf(normalizedShape)
	if weight != nil && weight.Numel() != normSize {
		return nil, errors.New("weight size mismatch")
	}
	if bias != nil && bias.Numel() != normSize {
		return nil, errors.New("bias size mismatch")
	}
	if eps <= 0 {
		eps = 1e-5
	}

	out := Zeros(input.shape...)
	outer := input.Numel() / normSize
	invStds := make([]float64, outer)
	xhat := make([]float64, input.Numel())

	for o := 0; o < outer; o++ {
		off := o * normSize
		normalizeSlice(input.data[off:off+normSize], out.data[off:off+normSize], xhat[off:off+normSize], weight, bias, 0, eps, &invStds[o])
	}

	needGrad := input.requiresGrad || (weight != nil && weight.requiresGrad) || (bias != nil && bias.requiresGrad)
	if !needGrad {
		return out, nil
	}
	attachGrad(out, func(grad *Tensor, grads map[*Tensor]*Tensor) {
		gInput, gWeight, gBias := normBackward(input, weight, bias, grad, xhat, invStds, normSize, 0)
		if gInput != nil {
			accumulate(grads, input, gInput)
		}
		if gWeight != nil {
			accumulate(grads, weight, gWeight)
		}
		if gBias != nil {
			accumulate(grads, bias, gBias)
		}
	}, input, weight, bias)
	return out, nil
}

// GroupNorm splits the channel (last) axis into groups and normalizes each
// group independently per row. weight and bias, when present, are per
// channel. groups must divide the channel count; the caller uses this to
// enforce that the head count divides the embedding dimension.
func GroupNorm(input *Tensor, groups int, weight, bias *Tensor, eps float64) (*Tensor, error) {
	rank := len(input.shape)
	if rank < 1 {
		return nil, errors.New("GroupNorm requires rank >= 1 tensor")
	}
	channels := input.shape[rank-1]
	if groups <= 0 || channels%groups != 0 {
		return nil, errors.New("group count must divide channel count")
	}
	if weight != nil && weight.Numel() != channels {
		return nil, errors.New("weight size mismatch")
	}
	if bias != nil && bias.Numel() != channels {
		return nil, errors.New("bias size mismatch")
	}
	if eps <= 0 {
		eps = 1e-5
	}
	groupSize := channels / groups
	rows := input.Numel() / channels
	segments := rows * groups

	out := Zeros(input.shape...)
	invStds := make([]float64, segments)
	xhat := make([]float64, input.Numel())

	for s := 0; s < segments; s++ {
		off := s * groupSize
		chanOff := (s % groups) * groupSize
		normalizeSlice(input.data[off:off+groupSize], out.data[off:off+groupSize], xhat[off:off+groupSize], weight, bias, chanOff, eps, &invStds[s])
	}

	needGrad := input.requiresGrad || (weight != nil && weight.requiresGrad) || (bias != nil && bias.requiresGrad)
	if !needGrad {
		return out, nil
	}
	attachGrad(out, func(grad *Tensor, grads map[*Tensor]*Tensor) {
		gInput, gWeight, gBias := normBackward(input, weight, bias, grad, xhat, invStds, groupSize, groups)
		if gInput != nil {
			accumulate(grads, input, gInput)
		}
		if gWeight != nil {
			accumulate(grads, weight, gWeight)
		}
		if gBias != nil {
			accumulate(grads, bias, gBias)
		}
	}, input, weight, bias)
	return out, nil
}

// normalizeSlice standardizes src into dst, stashing the standardized
// values in xh and the inverse std. Affine parameters are read starting at
// chanOff within weight/bias.
func normalizeSlice(src, dst, xh []float64, weight, bias *Tensor, chanOff int, eps float64, invStdOut *float64) {
	n := float64(len(src))
	sum := 0.0
	for _, v := range src {
		sum += v
	}
	mean := sum / n
	varSum := 0.0
	for _, v := range src {
		d := v - mean
		varSum += d * d
	}
	invStd := 1.0 / math.Sqrt(varSum/n+eps)
	*invStdOut = invStd
	for j := range src {
		v := (src[j] - mean) * invStd
		xh[j] = v
		if weight != nil {
			v *= weight.data[chanOff+j]
		}
		if bias != nil {
			v += bias.data[chanOff+j]
		}
		dst[j] = v
	}
}

// normBackward computes the standard normalization backward pass shared by
// LayerNorm (groups == 0 means affine params span the whole segment) and
// GroupNorm (affine params indexed per channel across groups).
func normBackward(input, weight, bias, grad *Tensor, xhat []float64, invStds []float64, segSize, groups int) (gInput, gWeight, gBias *Tensor) {
	if input.requiresGrad {
		gInput = Zeros(input.shape...)
	}
	if weight != nil && weight.requiresGrad {
		gWeight = Zeros(weight.shape...)
	}
	if bias != nil && bias.requiresGrad {
		gBias = Zeros(bias.shape...)
	}
	segSizeF := float64(segSize)
	for s := range invStds {
		off := s * segSize
		chanOff := 0
		if groups > 0 {
			chanOff = (s % groups) * segSize
		}
		sumGrad := 0.0
		sumGradXhat := 0.0
		for j := 0; j < segSize; j++ {
			idx := off + j
			gVal := grad.data[idx]
			scaled := gVal
			if weight != nil {
				scaled *= weight.data[chanOff+j]
			}
			sumGrad += scaled
			sumGradXhat += scaled * xhat[idx]
			if gWeight != nil {
				gWeight.data[chanOff+j] += gVal * xhat[idx]
			}
			if gBias != nil {
				gBias.data[chanOff+j] += gVal
			}
		}
		if gInput != nil {
			invStd := invStds[s]
			for j := 0; j < segSize; j++ {
				idx := off + j
				scaled := grad.data[idx]
				if weight != nil {
					scaled *= weight.data[chanOff+j]
				}
				term := scaled - sumGrad/segSizeF - xhat[idx]*sumGradXhat/segSizeF
				gInput.data[idx] += term * invStd
			}
		}
	}
	return gInput, gWeight, gBias
}
