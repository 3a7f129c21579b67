package tensor

import (
	"errors"
	"sort"

	"github.com/fumitoshi0524/ixeoriVision/internal/parallel"
)

// Reshape returns a view with a new shape sharing the same storage. One
// dimension may be -1 and is inferred.
func (t *Tensor) Reshape(shape ...int) (*Tensor, error) {
	if len(shape) == 0 {
		return nil, errors.New("reshape shape required")
	}
	total := t.Numel()
	prod := 1
	infer := -1
	target := append([]int(nil), shape...)
	for i, dim := range target {
		if dim == -1 {
			if infer != -1 {
				return nil, errors.New("multiple inferred dimensions")
			}
			infer = i
			continue
		}
		if dim <= 0 {
			return nil, errors.New("invalid reshape dimension")
		}
		prod *= dim
	}
	if infer != -1 {
		if prod == 0 || total%prod != 0 {
			return nil, errors.New("cannot infer dimension")
		}
		target[infer] = total / prod
		prod = total
	}
	if prod != total {
		return nil, errors.New("reshape size mismatch")
	}
	out := &Tensor{
		data:         t.data,
		shape:        target,
		requiresGrad: t.requiresGrad,
	}
	if t.requiresGrad {
		srcShape := append([]int(nil), t.shape...)
		out.prev = []*Tensor{t}
		out.back = func(grad *Tensor, grads map[*Tensor]*Tensor) {
			accumulate(grads, t, viewAs(grad, srcShape))
		}
	}
	return out, nil
}

func (t *Tensor) MustReshape(shape ...int) *Tensor {
	out, err := t.Reshape(shape...)
	if err != nil {
		panic(err)
	}
	return out
}

// Flatten2D collapses all leading axes into one, keeping the last axis.
func Flatten2D(a *Tensor) (*Tensor, error) {
	if len(a.shape) < 2 {
		return a.Reshape(1, a.Numel())
	}
	last := a.shape[len(a.shape)-1]
	return a.Reshape(a.Numel()/last, last)
}

func Squeeze(t *Tensor, axes ...int) (*Tensor, error) {
	srcShape := append([]int(nil), t.shape...)
	rank := len(srcShape)
	if rank == 0 {
		return nil, errors.New("Squeeze requires rank >= 1 tensor")
	}
	var toRemove []int
	if len(axes) == 0 {
		for i, dim := range srcShape {
			if dim == 1 {
				toRemove = append(toRemove, i)
			}
		}
	} else {
		seen := map[int]struct{}{}
		for _, axis := range axes {
			if axis < 0 {
				axis += rank
			}
			if axis < 0 || axis >= rank {
				return nil, errors.New("axis out of range")
			}
			if srcShape[axis] != 1 {
				return nil, errors.New("cannot squeeze axis with size > 1")
			}
			if _, ok := seen[axis]; !ok {
				seen[axis] = struct{}{}
				toRemove = append(toRemove, axis)
			}
		}
	}
	sort.Ints(toRemove)
	newShape := make([]int, 0, rank)
	next := 0
	for i := 0; i < rank; i++ {
		if next < len(toRemove) && toRemove[next] == i {
			next++
			continue
		}
		newShape = append(newShape, srcShape[i])
	}
	if len(newShape) == 0 {
		newShape = []int{1}
	}
	return t.Reshape(newShape...)
}

func Unsqueeze(t *Tensor, axis int) (*Tensor, error) {
	rank := len(t.shape)
	if axis < 0 {
		axis += rank + 1
	}
	if axis < 0 || axis > rank {
		return nil, errors.New("axis out of range")
	}
	newShape := make([]int, 0, rank+1)
	newShape = append(newShape, t.shape[:axis]...)
	newShape = append(newShape, 1)
	newShape = append(newShape, t.shape[axis:]...)
	return t.Reshape(newShape...)
}

// Transpose swaps the two axes of a rank-2 tensor.
func Transpose(a *Tensor) (*Tensor, error) {
	if len(a.shape) != 2 {
		return nil, errors.New("transpose expects rank 2 tensor")
	}
	return SwapAxes(a, 0, 1)
}

func (t *Tensor) MustTranspose() *Tensor {
	tr, err := Transpose(t)
	if err != nil {
		panic(err)
	}
	return tr
}

// SwapAxes exchanges two axes of a tensor of any rank, materializing the
// result. The head split [B,M,H,D] <-> [B,H,M,D] goes through here.
func SwapAxes(a *Tensor, ax1, ax2 int) (*Tensor, error) {
	rank := len(a.shape)
	if ax1 < 0 {
		ax1 += rank
	}
	if ax2 < 0 {
		ax2 += rank
	}
	if ax1 < 0 || ax1 >= rank || ax2 < 0 || ax2 >= rank {
		return nil, errors.New("axis out of range")
	}
	out := swapAxesRaw(a, ax1, ax2)
	attachGrad(out, func(grad *Tensor, grads map[*Tensor]*Tensor) {
		accumulate(grads, a, swapAxesRaw(grad, ax1, ax2))
	}, a)
	return out, nil
}

func swapAxesRaw(a *Tensor, ax1, ax2 int) *Tensor {
	if ax1 == ax2 {
		return a.Clone()
	}
	rank := len(a.shape)
	outShape := append([]int(nil), a.shape...)
	outShape[ax1], outShape[ax2] = outShape[ax2], outShape[ax1]
	out := Zeros(outShape...)
	srcStrides := stridesOf(a.shape)
	dstStrides := stridesOf(outShape)
	parallel.For(len(a.data), func(start, end int) {
		coords := make([]int, rank)
		for i := start; i < end; i++ {
			rem := i
			for d := 0; d < rank; d++ {
				coords[d] = rem / srcStrides[d]
				rem %= srcStrides[d]
			}
			coords[ax1], coords[ax2] = coords[ax2], coords[ax1]
			dst := 0
			for d := 0; d < rank; d++ {
				dst += coords[d] * dstStrides[d]
			}
			out.data[dst] = a.data[i]
		}
	})
	return out
}

// Expand broadcasts a to targetShape, aligning trailing axes, and
// materializes the result so downstream kernels can index contiguously.
// The gradient is sum-reduced back to a's shape.
func Expand(a *Tensor, targetShape ...int) (*Tensor, error) {
	srcShape := a.shape
	srcRank := len(srcShape)
	tgtRank := len(targetShape)
	if tgtRank < srcRank {
		return nil, errors.New("target rank must be >= source rank")
	}
	off := tgtRank - srcRank
	srcStrides := stridesOf(srcShape)
	effStrides := make([]int, tgtRank)
	for i := tgtRank - 1; i >= 0; i-- {
		srcDim := 1
		stride := 0
		if i-off >= 0 {
			srcDim = srcShape[i-off]
			stride = srcStrides[i-off]
		}
		switch {
		case srcDim == targetShape[i]:
			effStrides[i] = stride
		case srcDim == 1:
			effStrides[i] = 0
		default:
			return nil, errors.New("incompatible broadcast dimensions")
		}
	}
	out := Zeros(targetShape...)
	dstStrides := stridesOf(targetShape)
	parallel.For(len(out.data), func(start, end int) {
		for i := start; i < end; i++ {
			rem := i
			src := 0
			for d := 0; d < tgtRank; d++ {
				c := rem / dstStrides[d]
				rem %= dstStrides[d]
				src += c * effStrides[d]
			}
			out.data[i] = a.data[src]
		}
	})
	attachGrad(out, func(grad *Tensor, grads map[*Tensor]*Tensor) {
		reduced, err := reduceToShape(grad, srcShape)
		if err != nil {
			panic(err)
		}
		accumulate(grads, a, reduced)
	}, a)
	return out, nil
}

// reduceToShape sums grad over broadcast axes so it matches targetShape.
func reduceToShape(grad *Tensor, targetShape []int) (*Tensor, error) {
	tgt := append([]int(nil), targetShape...)
	if len(tgt) == 0 {
		tgt = []int{1}
	}
	if len(tgt) > len(grad.shape) {
		return nil, errors.New("target rank greater than grad rank")
	}
	out := grad
	diff := len(out.shape) - len(tgt)
	for axis := 0; axis < len(out.shape); axis++ {
		tgtDim := 1
		if axis >= diff {
			tgtDim = tgt[axis-diff]
		}
		if out.shape[axis] == tgtDim {
			continue
		}
		if tgtDim != 1 {
			return nil, errors.New("cannot reduce to target shape")
		}
		out = sumAxisKeep(out, axis)
	}
	return viewAs(out, tgt), nil
}

// sumAxisKeep sums over axis keeping it as size 1, without autograd.
func sumAxisKeep(t *Tensor, axis int) *Tensor {
	shape := append([]int(nil), t.shape...)
	axisSize := shape[axis]
	shape[axis] = 1
	out := Zeros(shape...)
	outer := 1
	for i := 0; i < axis; i++ {
		outer *= t.shape[i]
	}
	inner := 1
	for i := axis + 1; i < len(t.shape); i++ {
		inner *= t.shape[i]
	}
	parallel.For(outer, func(start, end int) {
		for o := start; o < end; o++ {
			dstBase := o * inner
			srcBase := o * axisSize * inner
			for k := 0; k < axisSize; k++ {
				srcOffset := srcBase + k*inner
				for j := 0; j < inner; j++ {
					out.data[dstBase+j] += t.data[srcOffset+j]
				}
			}
		}
	})
	return out
}

// viewAs reinterprets t's storage under a new shape without autograd.
func viewAs(t *Tensor, shape []int) *Tensor {
	tgt := append([]int(nil), shape...)
	if numelOf(tgt) != len(t.data) {
		panic("viewAs size mismatch")
	}
	return &Tensor{data: t.data, shape: tgt}
}

func stridesOf(shape []int) []int {
	strides := make([]int, len(shape))
	stride := 1
	for i := len(shape) - 1; i >= 0; i-- {
		strides[i] = stride
		stride *= shape[i]
	}
	return strides
}
