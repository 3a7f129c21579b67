package tensor

import (
	"math/rand"
	"sync"
	"time"
)

var rng = rand.New(rand.NewSource(time.Now().UnixNano()))
var rngLock sync.Mutex

// Seed reseeds the package RNG, making parameter initialization and dropout
// masks reproducible.
func Seed(seed int64) {
	rngLock.Lock()
	rng = rand.New(rand.NewSource(seed))
	rngLock.Unlock()
}

// Randn samples from the standard normal distribution.
func Randn(shape ...int) *Tensor {
	data := make([]float64, numelOf(shape))
	rngLock.Lock()
	for i := range data {
		data[i] = rng.NormFloat64()
	}
	rngLock.Unlock()
	return MustNew(data, shape...)
}

// Uniform samples from [low, high).
func Uniform(low, high float64, shape ...int) *Tensor {
	data := make([]float64, numelOf(shape))
	rngLock.Lock()
	for i := range data {
		data[i] = low + (high-low)*rng.Float64()
	}
	rngLock.Unlock()
	return MustNew(data, shape...)
}
