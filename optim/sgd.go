// Package optim implements the gradient-descent updates used to train the
// refinement encoder.
package optim

import "github.com/fumitoshi0524/ixeoriVision/tensor"

// SGD applies stochastic gradient descent with optional momentum, nesterov
// lookahead, decoupled weight decay and gradient clipping.
type SGD struct {
	params      []*tensor.Tensor
	lr          float64
	momentum    float64
	weightDecay float64
	nesterov    bool
	maxGradNorm float64
	velocity    map[*tensor.Tensor]*tensor.Tensor
}

type SGDConfig struct {
	LR          float64
	Momentum    float64
	WeightDecay float64
	Nesterov    bool
	MaxGradNorm float64
}

func NewSGD(params []*tensor.Tensor, lr, momentum float64) *SGD {
	return NewSGDWithConfig(params, SGDConfig{LR: lr, Momentum: momentum})
}

func NewSGDWithConfig(params []*tensor.Tensor, cfg SGDConfig) *SGD {
	return &SGD{
		params:      params,
		lr:          cfg.LR,
		momentum:    cfg.Momentum,
		weightDecay: cfg.WeightDecay,
		nesterov:    cfg.Nesterov,
		maxGradNorm: cfg.MaxGradNorm,
		velocity:    make(map[*tensor.Tensor]*tensor.Tensor),
	}
}

func (o *SGD) Step() error {
	if o.maxGradNorm > 0 {
		ClipGradNorm(o.params, o.maxGradNorm, 2)
	}
	for _, p := range o.params {
		if p == nil || p.Grad() == nil {
			continue
		}
		update := p.Grad()
		if o.weightDecay > 0 {
			update = update.Clone()
			if err := update.AddScaled(p.Detach(), o.weightDecay); err != nil {
				return err
			}
		}
		if o.momentum > 0 {
			v := o.velocity[p]
			if v == nil {
				v = tensor.Zeros(p.Shape()...)
				o.velocity[p] = v
			}
			v.Scale(o.momentum)
			if err := v.AddScaled(update, 1); err != nil {
				return err
			}
			if o.nesterov {
				update = update.Clone()
				if err := update.AddScaled(v, o.momentum); err != nil {
					return err
				}
			} else {
				update = v
			}
		}
		if err := p.AddScaled(update, -o.lr); err != nil {
			return err
		}
	}
	return nil
}

func (o *SGD) ZeroGrad() {
	for _, p := range o.params {
		if p != nil {
			p.ZeroGrad()
		}
	}
}
