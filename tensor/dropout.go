package tensor

import (
	"errors"
)

// Dropout zeroes elements with probability p and rescales survivors by
// 1/(1-p) during training. Outside training it is the identity.
func Dropout(input *Tensor, p float64, training bool) (*Tensor, error) {
	if p < 0 || p >= 1 {
		return nil, errors.New("dropout probability must be in [0, 1)")
	}
	if !training || p == 0 {
		out := input.Clone()
		attachGrad(out, func(grad *Tensor, grads map[*Tensor]*Tensor) {
			accumulate(grads, input, grad)
		}, input)
		return out, nil
	}

	scale := 1.0 / (1 - p)
	mask := make([]float64, len(input.data))
	out := Zeros(input.shape...)
	rngLock.Lock()
	for i := range mask {
		if rng.Float64() >= p {
			mask[i] = scale
			out.data[i] = input.data[i] * scale
		}
	}
	rngLock.Unlock()

	attachGrad(out, func(grad *Tensor, grads map[*Tensor]*Tensor) {
		g := Zeros(input.shape...)
		for i := range g.data {
			g.data[i] = grad.data[i] * mask[i]
		}
		accumulate(grads, input, g)
	}, input)
	return out, nil
}
