// Package loss holds the training criteria used by the demo driver.
package loss

import "github.com/fumitoshi0524/ixeoriVision/tensor"

// MSE returns the mean squared error between pred and target as a scalar
// tensor attached to the autograd graph.
func MSE(pred, target *tensor.Tensor) (*tensor.Tensor, error) {
	diff, err := tensor.Sub(pred, target)
	if err != nil {
		return nil, err
	}
	return tensor.Mean(tensor.Pow(diff, 2)), nil
}
