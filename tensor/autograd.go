package tensor

import (
	"errors"

	"github.com/fumitoshi0524/ixeoriVision/internal/parallel"
)

// Backward runs reverse-mode differentiation from t, accumulating gradients
// into every reachable tensor that requires them. t is seeded with ones.
func (t *Tensor) Backward() error {
	if t == nil {
		return errors.New("nil tensor")
	}
	if !t.requiresGrad {
		return errors.New("tensor does not require grad")
	}
	order := topoSort(t)
	grads := map[*Tensor]*Tensor{t: Full(1, t.shape...)}
	for i := len(order) - 1; i >= 0; i-- {
		cur := order[i]
		grad := grads[cur]
		if grad == nil {
			continue
		}
		if cur.grad == nil {
			cur.grad = grad.Clone()
		} else {
			addInPlace(cur.grad, grad)
		}
		if cur.back != nil {
			cur.back(grad, grads)
		}
	}
	return nil
}

func topoSort(root *Tensor) []*Tensor {
	visited := map[*Tensor]bool{}
	var order []*Tensor
	var visit func(*Tensor)
	visit = func(t *Tensor) {
		if t == nil || visited[t] {
			return
		}
		visited[t] = true
		for _, p := range t.prev {
			visit(p)
		}
		order = append(order, t)
	}
	visit(root)
	return order
}

func accumulate(grads map[*Tensor]*Tensor, target, value *Tensor) {
	if target == nil || value == nil {
		return
	}
	if existing, ok := grads[target]; ok {
		addInPlace(existing, value)
	} else {
		grads[target] = value.Clone()
	}
}

func addInPlace(dst, src *Tensor) {
	if err := ensureSameShape(dst, src); err != nil {
		panic(err)
	}
	parallel.For(len(dst.data), func(start, end int) {
		for i := start; i < end; i++ {
			dst.data[i] += src.data[i]
		}
	})
}

// attachGrad wires out into the autograd graph when any input requires
// gradients. The backward closure receives the upstream gradient and the
// per-pass gradient accumulator.
func attachGrad(out *Tensor, back func(grad *Tensor, grads map[*Tensor]*Tensor), inputs ...*Tensor) {
	need := false
	for _, in := range inputs {
		if in != nil && in.requiresGrad {
			need = true
			break
		}
	}
	if !need {
		return
	}
	out.requiresGrad = true
	parents := make([]*Tensor, 0, len(inputs))
	for _, in := range inputs {
		if in != nil && in.requiresGrad {
			parents = append(parents, in)
		}
	}
	out.prev = parents
	out.back = back
}
