package tensor

import (
	"errors"

	"github.com/fumitoshi0524/ixeoriVision/internal/parallel"
)

// Sum reduces all elements to a single-element tensor.
func Sum(a *Tensor) *Tensor {
	val := 0.0
	for _, v := range a.data {
		val += v
	}
	out := MustNew([]float64{val}, 1)
	attachGrad(out, func(grad *Tensor, grads map[*Tensor]*Tensor) {
		accumulate(grads, a, Full(grad.data[0], a.shape...))
	}, a)
	return out
}

// Mean reduces all elements to their average.
func Mean(a *Tensor) *Tensor {
	return MulScalar(Sum(a), 1.0/float64(a.Numel()))
}

// SumAxis sums along axis and removes it.
func SumAxis(a *Tensor, axis int) (*Tensor, error) {
	rank := len(a.shape)
	if rank == 0 {
		return nil, errors.New("reduction requires rank >= 1 tensor")
	}
	if axis < 0 {
		axis += rank
	}
	if axis < 0 || axis >= rank {
		return nil, errors.New("axis out of range")
	}
	outer := 1
	for i := 0; i < axis; i++ {
		outer *= a.shape[i]
	}
	inner := 1
	for i := axis + 1; i < rank; i++ {
		inner *= a.shape[i]
	}
	axisSize := a.shape[axis]
	outShape := make([]int, 0, rank-1)
	for i, dim := range a.shape {
		if i != axis {
			outShape = append(outShape, dim)
		}
	}
	if len(outShape) == 0 {
		outShape = []int{1}
	}
	out := Zeros(outShape...)
	parallel.For(outer, func(start, end int) {
		for o := start; o < end; o++ {
			dstBase := o * inner
			srcBase := o * axisSize * inner
			for in := 0; in < inner; in++ {
				s := 0.0
				for k := 0; k < axisSize; k++ {
					s += a.data[srcBase+k*inner+in]
				}
				out.data[dstBase+in] = s
			}
		}
	})
	attachGrad(out, func(grad *Tensor, grads map[*Tensor]*Tensor) {
		g := Zeros(a.shape...)
		parallel.For(outer*inner, func(start, end int) {
			for idx := start; idx < end; idx++ {
				outerIdx := idx / inner
				innerIdx := idx % inner
				base := outerIdx*axisSize*inner + innerIdx
				for k := 0; k < axisSize; k++ {
					g.data[base+k*inner] += grad.data[idx]
				}
			}
		})
		accumulate(grads, a, g)
	}, a)
	return out, nil
}

// MeanAxis averages along axis and removes it.
func MeanAxis(a *Tensor, axis int) (*Tensor, error) {
	s, err := SumAxis(a, axis)
	if err != nil {
		return nil, err
	}
	if axis < 0 {
		axis += len(a.shape)
	}
	return MulScalar(s, 1.0/float64(a.shape[axis])), nil
}
