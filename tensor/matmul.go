package tensor

import (
	"errors"

	"github.com/fumitoshi0524/ixeoriVision/internal/parallel"
)

// MatMul multiplies two rank-2 tensors.
func MatMul(a, b *Tensor) (*Tensor, error) {
	if len(a.shape) != 2 || len(b.shape) != 2 {
		return nil, errors.New("matmul expects rank 2 tensors")
	}
	if a.shape[1] != b.shape[0] {
		return nil, errors.New("incompatible shapes for matmul")
	}
	out := Zeros(a.shape[0], b.shape[1])
	matmulInto(out.data, a.data, b.data, a.shape[0], a.shape[1], b.shape[1], false, false)
	attachGrad(out, func(grad *Tensor, grads map[*Tensor]*Tensor) {
		if a.requiresGrad {
			ga := Zeros(a.shape...)
			// dA = dOut @ B^T
			matmulInto(ga.data, grad.data, b.data, a.shape[0], b.shape[1], a.shape[1], false, true)
			accumulate(grads, a, ga)
		}
		if b.requiresGrad {
			gb := Zeros(b.shape...)
			// dB = A^T @ dOut
			matmulInto(gb.data, a.data, grad.data, a.shape[1], a.shape[0], b.shape[1], true, false)
			accumulate(grads, b, gb)
		}
	}, a, b)
	return out, nil
}

// BatchMatMul multiplies two tensors of rank >= 3 whose leading dimensions
// match exactly: [..., n, k] x [..., k, m] -> [..., n, m].
func BatchMatMul(a, b *Tensor) (*Tensor, error) {
	rank := len(a.shape)
	if rank < 3 || len(b.shape) != rank {
		return nil, errors.New("batch matmul expects equal rank >= 3 tensors")
	}
	batch := 1
	for i := 0; i < rank-2; i++ {
		if a.shape[i] != b.shape[i] {
			return nil, errors.New("batch dimension mismatch")
		}
		batch *= a.shape[i]
	}
	n, k := a.shape[rank-2], a.shape[rank-1]
	if b.shape[rank-2] != k {
		return nil, errors.New("incompatible shapes for batch matmul")
	}
	m := b.shape[rank-1]
	outShape := append([]int(nil), a.shape[:rank-2]...)
	outShape = append(outShape, n, m)
	out := Zeros(outShape...)
	parallel.For(batch, func(start, end int) {
		for s := start; s < end; s++ {
			matmulInto(out.data[s*n*m:(s+1)*n*m], a.data[s*n*k:(s+1)*n*k], b.data[s*k*m:(s+1)*k*m], n, k, m, false, false)
		}
	})
	attachGrad(out, func(grad *Tensor, grads map[*Tensor]*Tensor) {
		if a.requiresGrad {
			ga := Zeros(a.shape...)
			parallel.For(batch, func(start, end int) {
				for s := start; s < end; s++ {
					matmulInto(ga.data[s*n*k:(s+1)*n*k], grad.data[s*n*m:(s+1)*n*m], b.data[s*k*m:(s+1)*k*m], n, m, k, false, true)
				}
			})
			accumulate(grads, a, ga)
		}
		if b.requiresGrad {
			gb := Zeros(b.shape...)
			parallel.For(batch, func(start, end int) {
				for s := start; s < end; s++ {
					matmulInto(gb.data[s*k*m:(s+1)*k*m], a.data[s*n*k:(s+1)*n*k], grad.data[s*n*m:(s+1)*n*m], k, n, m, true, false)
				}
			})
			accumulate(grads, b, gb)
		}
	}, a, b)
	return out, nil
}

// matmulInto accumulates a (rows x inner) by (inner x cols) product into dst,
// reading either operand transposed in place. Operand layouts:
// transA false: a is rows x inner; true: a is inner x rows.
// transB false: b is inner x cols; true: b is cols x inner.
func matmulInto(dst, a, b []float64, rows, inner, cols int, transA, transB bool) {
	for i := 0; i < rows; i++ {
		dstOff := i * cols
		for k := 0; k < inner; k++ {
			var aik float64
			if transA {
				aik = a[k*rows+i]
			} else {
				aik = a[i*inner+k]
			}
			if aik == 0 {
				continue
			}
			if transB {
				for j := 0; j < cols; j++ {
					dst[dstOff+j] += aik * b[j*inner+k]
				}
			} else {
				bOff := k * cols
				for j := 0; j < cols; j++ {
					dst[dstOff+j] += aik * b[bOff+j]
				}
			}
		}
	}
}

// AddBias2D adds a rank-1 bias to every row of a rank-2 tensor.
func AddBias2D(a, bias *Tensor) (*Tensor, error) {
	if len(a.shape) != 2 {
		return nil, errors.New("AddBias2D expects rank 2 input")
	}
	if len(bias.shape) != 1 || a.shape[1] != bias.shape[0] {
		return nil, errors.New("AddBias2D dimension mismatch")
	}
	rows, cols := a.shape[0], a.shape[1]
	out := Zeros(a.shape...)
	parallel.For(rows, func(start, end int) {
		for i := start; i < end; i++ {
			off := i * cols
			for j := 0; j < cols; j++ {
				out.data[off+j] = a.data[off+j] + bias.data[j]
			}
		}
	})
	attachGrad(out, func(grad *Tensor, grads map[*Tensor]*Tensor) {
		if a.requiresGrad {
			accumulate(grads, a, grad)
		}
		if bias.requiresGrad {
			g := Zeros(bias.shape...)
			for i := 0; i < rows; i++ {
				off := i * cols
				for j := 0; j < cols; j++ {
					g.data[j] += grad.data[off+j]
				}
			}
			accumulate(grads, bias, g)
		}
	}, a, bias)
	return out, nil
}
