package parallel

import (
	"runtime"
	"sync"
)

// minGrain keeps goroutine overhead from dominating tiny kernels.
const minGrain = 256

// For splits [0, n) into contiguous chunks and runs fn on each chunk,
// using at most GOMAXPROCS workers.
func For(n int, fn func(start, end int)) {
	if n <= 0 {
		return
	}
	workers := runtime.GOMAXPROCS(0)
	if workers > n {
		workers = n
	}
	chunk := (n + workers - 1) / workers
	if chunk < minGrain {
		chunk = minGrain
	}
	if chunk >= n {
		fn(0, n)
		return
	}
	var wg sync.WaitGroup
	for start := 0; start < n; start += chunk {
		end := start + chunk
		if end > n {
			end = n
		}
		wg.Add(1)
		go func(s, e int) {
			defer wg.Done()
			fn(s, e)
		}(start, end)
	}
	wg.Wait()
}
