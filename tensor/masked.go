package tensor

import (
	"errors"

	"github.com/fumitoshi0524/ixeoriVision/internal/parallel"
)

// MaskedFill replaces every element of a whose mask entry is zero with
// value. mask must have a's shape and is treated as a constant: no gradient
// flows into it, and positions that were filled receive zero gradient.
func MaskedFill(a, mask *Tensor, value float64) (*Tensor, error) {
	if mask == nil {
		return nil, errors.New("MaskedFill requires a mask")
	}
	if err := ensureSameShape(a, mask); err != nil {
		return nil, err
	}
	out := Zeros(a.shape...)
	parallel.For(len(out.data), func(start, end int) {
		for i := start; i < end; i++ {
			if mask.data[i] == 0 {
				out.data[i] = value
			} else {
				out.data[i] = a.data[i]
			}
		}
	})
	attachGrad(out, func(grad *Tensor, grads map[*Tensor]*Tensor) {
		g := Zeros(a.shape...)
		parallel.For(len(g.data), func(start, end int) {
			for i := start; i < end; i++ {
				if mask.data[i] != 0 {
					g.data[i] = grad.data[i]
				}
			}
		})
		accumulate(grads, a, g)
	}, a)
	return out, nil
}
