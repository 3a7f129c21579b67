package tensor

import (
	"errors"

	"github.com/fumitoshi0524/ixeoriVision/internal/parallel"
)

// Concat joins tensors along axis. All other dimensions must agree.
func Concat(axis int, tensors ...*Tensor) (*Tensor, error) {
	if len(tensors) == 0 {
		return nil, errors.New("Concat requires at least one tensor")
	}
	base := tensors[0]
	rank := len(base.shape)
	if rank == 0 {
		return nil, errors.New("Concat requires rank >= 1")
	}
	if axis < 0 {
		axis += rank
	}
	if axis < 0 || axis >= rank {
		return nil, errors.New("axis out of range")
	}
	outShape := append([]int(nil), base.shape...)
	total := base.shape[axis]
	for _, t := range tensors[1:] {
		if len(t.shape) != rank {
			return nil, errors.New("rank mismatch")
		}
		for d := 0; d < rank; d++ {
			if d != axis && t.shape[d] != base.shape[d] {
				return nil, errors.New("shape mismatch")
			}
		}
		total += t.shape[axis]
	}
	outShape[axis] = total
	out := Zeros(outShape...)

	inner := 1
	for i := axis + 1; i < rank; i++ {
		inner *= base.shape[i]
	}
	outer := 1
	for i := 0; i < axis; i++ {
		outer *= base.shape[i]
	}
	offset := 0
	for _, t := range tensors {
		axisSize := t.shape[axis]
		src := t.data
		parallel.For(outer, func(start, end int) {
			for o := start; o < end; o++ {
				dstStart := (o*total + offset) * inner
				srcStart := o * axisSize * inner
				copy(out.data[dstStart:dstStart+axisSize*inner], src[srcStart:srcStart+axisSize*inner])
			}
		})
		offset += axisSize
	}

	attachGrad(out, func(grad *Tensor, grads map[*Tensor]*Tensor) {
		off := 0
		for _, t := range tensors {
			axisSize := t.shape[axis]
			if t.requiresGrad {
				g := Zeros(t.shape...)
				localOff := off
				parallel.For(outer, func(start, end int) {
					for o := start; o < end; o++ {
						srcStart := (o*total + localOff) * inner
						dstStart := o * axisSize * inner
						copy(g.data[dstStart:dstStart+axisSize*inner], grad.data[srcStart:srcStart+axisSize*inner])
					}
				})
				accumulate(grads, t, g)
			}
			off += axisSize
		}
	}, tensors...)
	return out, nil
}

// Stack concatenates tensors along a new axis.
func Stack(axis int, tensors ...*Tensor) (*Tensor, error) {
	if len(tensors) == 0 {
		return nil, errors.New("Stack requires at least one tensor")
	}
	unsqueezed := make([]*Tensor, len(tensors))
	for i, t := range tensors {
		u, err := Unsqueeze(t, axis)
		if err != nil {
			return nil, err
		}
		unsqueezed[i] = u
	}
	return Concat(axis, unsqueezed...)
}
