package tensor

import (
	"math"

	"github.com/fumitoshi0524/ixeoriVision/internal/parallel"
)

func Relu(a *Tensor) *Tensor {
	out := mapUnary(a, func(x float64) float64 {
		if x > 0 {
			return x
		}
		return 0
	})
	attachGrad(out, func(grad *Tensor, grads map[*Tensor]*Tensor) {
		g := Zeros(a.shape...)
		parallel.For(len(g.data), func(start, end int) {
			for i := start; i < end; i++ {
				if a.data[i] > 0 {
					g.data[i] = grad.data[i]
				}
			}
		})
		accumulate(grads, a, g)
	}, a)
	return out
}

func Sigmoid(a *Tensor) *Tensor {
	out := mapUnary(a, func(x float64) float64 {
		return 1 / (1 + math.Exp(-x))
	})
	attachGrad(out, func(grad *Tensor, grads map[*Tensor]*Tensor) {
		g := Zeros(a.shape...)
		parallel.For(len(g.data), func(start, end int) {
			for i := start; i < end; i++ {
				s := out.data[i]
				g.data[i] = grad.data[i] * s * (1 - s)
			}
		})
		accumulate(grads, a, g)
	}, a)
	return out
}

func Tanh(a *Tensor) *Tensor {
	out := mapUnary(a, math.Tanh)
	attachGrad(out, func(grad *Tensor, grads map[*Tensor]*Tensor) {
		g := Zeros(a.shape...)
		parallel.For(len(g.data), func(start, end int) {
			for i := start; i < end; i++ {
				th := out.data[i]
				g.data[i] = grad.data[i] * (1 - th*th)
			}
		})
		accumulate(grads, a, g)
	}, a)
	return out
}

// Celu computes max(0,x) + min(0, alpha*(exp(x/alpha)-1)), a continuously
// differentiable exponential-linear unit.
func Celu(a *Tensor, alpha float64) *Tensor {
	if alpha == 0 {
		alpha = 1
	}
	out := mapUnary(a, func(x float64) float64 {
		if x > 0 {
			return x
		}
		return alpha * (math.Exp(x/alpha) - 1)
	})
	attachGrad(out, func(grad *Tensor, grads map[*Tensor]*Tensor) {
		g := Zeros(a.shape...)
		parallel.For(len(g.data), func(start, end int) {
			for i := start; i < end; i++ {
				if a.data[i] > 0 {
					g.data[i] = grad.data[i]
				} else {
					g.data[i] = grad.data[i] * math.Exp(a.data[i]/alpha)
				}
			}
		})
		accumulate(grads, a, g)
	}, a)
	return out
}
