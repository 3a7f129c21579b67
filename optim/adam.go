package optim

import (
	"math"

	"github.com/fumitoshi0524/ixeoriVision/tensor"
)

// Adam keeps bias-corrected first and second moment estimates per parameter.
type Adam struct {
	params []*tensor.Tensor
	lr     float64
	beta1  float64
	beta2  float64
	eps    float64
	m      map[*tensor.Tensor]*tensor.Tensor
	v      map[*tensor.Tensor]*tensor.Tensor
	step   int
}

func NewAdam(params []*tensor.Tensor, lr, beta1, beta2, eps float64) *Adam {
	return &Adam{
		params: params,
		lr:     lr,
		beta1:  beta1,
		beta2:  beta2,
		eps:    eps,
		m:      make(map[*tensor.Tensor]*tensor.Tensor),
		v:      make(map[*tensor.Tensor]*tensor.Tensor),
	}
}

func (o *Adam) Step() error {
	o.step++
	corr1 := 1 - math.Pow(o.beta1, float64(o.step))
	corr2 := 1 - math.Pow(o.beta2, float64(o.step))
	for _, p := range o.params {
		if p == nil || p.Grad() == nil {
			continue
		}
		grad := p.Grad()
		m := o.m[p]
		if m == nil {
			m = tensor.Zeros(p.Shape()...)
			o.m[p] = m
		}
		v := o.v[p]
		if v == nil {
			v = tensor.Zeros(p.Shape()...)
			o.v[p] = v
		}
		m.Scale(o.beta1)
		if err := m.AddScaled(grad, 1-o.beta1); err != nil {
			return err
		}
		gradSq := grad.Clone()
		if err := gradSq.MulInPlace(grad); err != nil {
			return err
		}
		v.Scale(o.beta2)
		if err := v.AddScaled(gradSq, 1-o.beta2); err != nil {
			return err
		}

		mHat := m.Clone()
		mHat.Scale(1 / corr1)
		vHat := v.Clone()
		vHat.Scale(1 / corr2)
		denom, err := tensor.Add(tensor.Pow(vHat, 0.5), tensor.Full(o.eps, p.Shape()...))
		if err != nil {
			return err
		}
		update, err := tensor.Div(mHat, denom)
		if err != nil {
			return err
		}
		if err := p.AddScaled(update, -o.lr); err != nil {
			return err
		}
	}
	return nil
}

func (o *Adam) ZeroGrad() {
	for _, p := range o.params {
		if p != nil {
			p.ZeroGrad()
		}
	}
}
