package tensor

import (
	"math"

	"github.com/fumitoshi0524/ixeoriVision/internal/parallel"
)

func (t *Tensor) Scale(v float64) {
	parallel.For(len(t.data), func(start, end int) {
		for i := start; i < end; i++ {
			t.data[i] *= v
		}
	})
}

func (t *Tensor) AddScaled(other *Tensor, alpha float64) error {
	if err := ensureSameShape(t, other); err != nil {
		return err
	}
	parallel.For(len(t.data), func(start, end int) {
		for i := start; i < end; i++ {
			t.data[i] += alpha * other.data[i]
		}
	})
	return nil
}

func (t *Tensor) MulInPlace(other *Tensor) error {
	if err := ensureSameShape(t, other); err != nil {
		return err
	}
	parallel.For(len(t.data), func(start, end int) {
		for i := start; i < end; i++ {
			t.data[i] *= other.data[i]
		}
	})
	return nil
}

// GradPowSum returns sum(|g|^norm) over the stored gradient, 0 when absent.
func (t *Tensor) GradPowSum(norm float64) float64 {
	if t == nil || t.grad == nil {
		return 0
	}
	sum := 0.0
	for _, v := range t.grad.data {
		sum += math.Pow(math.Abs(v), norm)
	}
	return sum
}

func (t *Tensor) ScaleGrad(factor float64) {
	if t == nil || t.grad == nil {
		return
	}
	t.grad.Scale(factor)
}

func (t *Tensor) ClipGradValue(limit float64) {
	if t == nil || t.grad == nil || limit <= 0 {
		return
	}
	grad := t.grad
	parallel.For(len(grad.data), func(start, end int) {
		for i := start; i < end; i++ {
			if grad.data[i] > limit {
				grad.data[i] = limit
			} else if grad.data[i] < -limit {
				grad.data[i] = -limit
			}
		}
	})
}
