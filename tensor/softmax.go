package tensor

import (
	"errors"
	"math"

	"github.com/fumitoshi0524/ixeoriVision/internal/parallel"
)

// LogSoftmax computes a numerically stable log-softmax over the last axis
// of a tensor of any rank; all leading axes are treated as rows.
func LogSoftmax(a *Tensor) (*Tensor, error) {
	if len(a.shape) == 0 {
		return nil, errors.New("LogSoftmax requires rank >= 1 tensor")
	}
	cols := a.shape[len(a.shape)-1]
	rows := a.Numel() / cols
	out := Zeros(a.shape...)
	parallel.For(rows, func(start, end int) {
		for i := start; i < end; i++ {
			off := i * cols
			maxVal := a.data[off]
			for j := 1; j < cols; j++ {
				if a.data[off+j] > maxVal {
					maxVal = a.data[off+j]
				}
			}
			sum := 0.0
			for j := 0; j < cols; j++ {
				sum += math.Exp(a.data[off+j] - maxVal)
			}
			logSum := maxVal + math.Log(sum)
			for j := 0; j < cols; j++ {
				out.data[off+j] = a.data[off+j] - logSum
			}
		}
	})
	attachGrad(out, func(grad *Tensor, grads map[*Tensor]*Tensor) {
		gx := Zeros(a.shape...)
		parallel.For(rows, func(start, end int) {
			for i := start; i < end; i++ {
				off := i * cols
				sumGrad := 0.0
				for j := 0; j < cols; j++ {
					sumGrad += grad.data[off+j]
				}
				for j := 0; j < cols; j++ {
					soft := math.Exp(out.data[off+j])
					gx.data[off+j] = grad.data[off+j] - soft*sumGrad
				}
			}
		})
		accumulate(grads, a, gx)
	}, a)
	return out, nil
}

// Softmax normalizes over the last axis.
func Softmax(a *Tensor) (*Tensor, error) {
	logsm, err := LogSoftmax(a)
	if err != nil {
		return nil, err
	}
	return Exp(logsm), nil
}
