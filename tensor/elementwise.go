package tensor

import (
	"math"

	"github.com/fumitoshi0524/ixeoriVision/internal/parallel"
)

func Add(a, b *Tensor) (*Tensor, error) {
	if err := ensureSameShape(a, b); err != nil {
		return nil, err
	}
	out := zipWith(a, b, func(x, y float64) float64 { return x + y })
	attachGrad(out, func(grad *Tensor, grads map[*Tensor]*Tensor) {
		if a.requiresGrad {
			accumulate(grads, a, grad)
		}
		if b.requiresGrad {
			accumulate(grads, b, grad)
		}
	}, a, b)
	return out, nil
}

func Sub(a, b *Tensor) (*Tensor, error) {
	if err := ensureSameShape(a, b); err != nil {
		return nil, err
	}
	out := zipWith(a, b, func(x, y float64) float64 { return x - y })
	attachGrad(out, func(grad *Tensor, grads map[*Tensor]*Tensor) {
		if a.requiresGrad {
			accumulate(grads, a, grad)
		}
		if b.requiresGrad {
			neg := grad.Clone()
			neg.Scale(-1)
			accumulate(grads, b, neg)
		}
	}, a, b)
	return out, nil
}

func Mul(a, b *Tensor) (*Tensor, error) {
	if err := ensureSameShape(a, b); err != nil {
		return nil, err
	}
	out := zipWith(a, b, func(x, y float64) float64 { return x * y })
	attachGrad(out, func(grad *Tensor, grads map[*Tensor]*Tensor) {
		if a.requiresGrad {
			accumulate(grads, a, hadamard(grad, b))
		}
		if b.requiresGrad {
			accumulate(grads, b, hadamard(grad, a))
		}
	}, a, b)
	return out, nil
}

func Div(a, b *Tensor) (*Tensor, error) {
	if err := ensureSameShape(a, b); err != nil {
		return nil, err
	}
	out := zipWith(a, b, func(x, y float64) float64 { return x / y })
	attachGrad(out, func(grad *Tensor, grads map[*Tensor]*Tensor) {
		if a.requiresGrad {
			g := zipWith(grad, b, func(x, y float64) float64 { return x / y })
			accumulate(grads, a, g)
		}
		if b.requiresGrad {
			g := Zeros(b.shape...)
			parallel.For(len(g.data), func(start, end int) {
				for i := start; i < end; i++ {
					g.data[i] = -grad.data[i] * a.data[i] / (b.data[i] * b.data[i])
				}
			})
			accumulate(grads, b, g)
		}
	}, a, b)
	return out, nil
}

func AddScalar(a *Tensor, value float64) *Tensor {
	out := mapUnary(a, func(x float64) float64 { return x + value })
	attachGrad(out, func(grad *Tensor, grads map[*Tensor]*Tensor) {
		accumulate(grads, a, grad)
	}, a)
	return out
}

func MulScalar(a *Tensor, value float64) *Tensor {
	out := mapUnary(a, func(x float64) float64 { return x * value })
	attachGrad(out, func(grad *Tensor, grads map[*Tensor]*Tensor) {
		scaled := grad.Clone()
		scaled.Scale(value)
		accumulate(grads, a, scaled)
	}, a)
	return out
}

func Exp(a *Tensor) *Tensor {
	out := mapUnary(a, math.Exp)
	attachGrad(out, func(grad *Tensor, grads map[*Tensor]*Tensor) {
		accumulate(grads, a, hadamard(grad, out))
	}, a)
	return out
}

func Pow(a *Tensor, value float64) *Tensor {
	out := mapUnary(a, func(x float64) float64 { return math.Pow(x, value) })
	attachGrad(out, func(grad *Tensor, grads map[*Tensor]*Tensor) {
		g := Zeros(a.shape...)
		parallel.For(len(g.data), func(start, end int) {
			for i := start; i < end; i++ {
				g.data[i] = grad.data[i] * value * math.Pow(a.data[i], value-1)
			}
		})
		accumulate(grads, a, g)
	}, a)
	return out
}

// zipWith applies fn elementwise over two same-shaped tensors without
// recording autograd history.
func zipWith(a, b *Tensor, fn func(x, y float64) float64) *Tensor {
	out := Zeros(a.shape...)
	parallel.For(len(out.data), func(start, end int) {
		for i := start; i < end; i++ {
			out.data[i] = fn(a.data[i], b.data[i])
		}
	})
	return out
}

func mapUnary(a *Tensor, fn func(x float64) float64) *Tensor {
	out := Zeros(a.shape...)
	parallel.For(len(out.data), func(start, end int) {
		for i := start; i < end; i++ {
			out.data[i] = fn(a.data[i])
		}
	})
	return out
}

func hadamard(a, b *Tensor) *Tensor {
	if err := ensureSameShape(a, b); err != nil {
		panic(err)
	}
	return zipWith(a, b, func(x, y float64) float64 { return x * y })
}
