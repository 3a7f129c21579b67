package tensor

import (
	"errors"
)

// Tensor is a dense row-major float64 tensor that participates in
// reverse-mode automatic differentiation. Operations that consume tensors
// with requiresGrad set record a backward closure and their inputs, forming
// the graph that Backward walks.
type Tensor struct {
	data         []float64
	shape        []int
	grad         *Tensor
	requiresGrad bool
	prev         []*Tensor
	back         func(grad *Tensor, grads map[*Tensor]*Tensor)
}

func New(data []float64, shape ...int) (*Tensor, error) {
	if len(shape) == 0 {
		return nil, errors.New("shape is required")
	}
	total := 1
	for _, dim := range shape {
		if dim <= 0 {
			return nil, errors.New("invalid shape")
		}
		total *= dim
	}
	if total != len(data) {
		return nil, errors.New("data and shape mismatch")
	}
	return &Tensor{
		data:  append([]float64(nil), data...),
		shape: append([]int(nil), shape...),
	}, nil
}

func MustNew(data []float64, shape ...int) *Tensor {
	t, err := New(data, shape...)
	if err != nil {
		panic(err)
	}
	return t
}

func Zeros(shape ...int) *Tensor {
	return MustNew(make([]float64, numelOf(shape)), shape...)
}

func Ones(shape ...int) *Tensor {
	return Full(1, shape...)
}

func Full(value float64, shape ...int) *Tensor {
	data := make([]float64, numelOf(shape))
	for i := range data {
		data[i] = value
	}
	return MustNew(data, shape...)
}

func numelOf(shape []int) int {
	size := 1
	for _, dim := range shape {
		size *= dim
	}
	return size
}

func (t *Tensor) Clone() *Tensor {
	if t == nil {
		return nil
	}
	return &Tensor{
		data:  append([]float64(nil), t.data...),
		shape: append([]int(nil), t.shape...),
	}
}

func (t *Tensor) Shape() []int {
	return append([]int(nil), t.shape...)
}

func (t *Tensor) Dim(axis int) int {
	if axis < 0 {
		axis += len(t.shape)
	}
	return t.shape[axis]
}

func (t *Tensor) Rank() int {
	return len(t.shape)
}

func (t *Tensor) Numel() int {
	return len(t.data)
}

func (t *Tensor) Data() []float64 {
	return append([]float64(nil), t.data...)
}

func (t *Tensor) At(flat int) float64 {
	return t.data[flat]
}

// SetData overwrites the tensor's values. The slice must match Numel().
func (t *Tensor) SetData(values []float64) error {
	if len(values) != len(t.data) {
		return errors.New("SetData expects matching element count")
	}
	copy(t.data, values)
	return nil
}

func (t *Tensor) SetRequiresGrad(v bool) {
	t.requiresGrad = v
}

func (t *Tensor) RequiresGrad() bool {
	return t.requiresGrad
}

func (t *Tensor) Grad() *Tensor {
	if t.grad == nil {
		return nil
	}
	return t.grad.Clone()
}

func (t *Tensor) ZeroGrad() {
	t.grad = nil
}

// Detach returns a copy that shares no autograd history.
func (t *Tensor) Detach() *Tensor {
	return t.Clone()
}

// CopyInto copies src values into dst. Shapes must match exactly.
func CopyInto(dst, src *Tensor) error {
	if dst == nil || src == nil {
		return errors.New("CopyInto requires non-nil tensors")
	}
	if err := ensureSameShape(dst, src); err != nil {
		return err
	}
	copy(dst.data, src.data)
	return nil
}

func ensureSameShape(a, b *Tensor) error {
	if len(a.shape) != len(b.shape) {
		return errors.New("shape mismatch")
	}
	for i, dim := range a.shape {
		if dim != b.shape[i] {
			return errors.New("shape mismatch")
		}
	}
	return nil
}
