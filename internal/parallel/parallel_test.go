package parallel

import (
	"sync/atomic"
	"testing"
)

func TestForCoversRangeExactlyOnce(t *testing.T) {
	for _, n := range []int{0, 1, 7, 255, 256, 4096, 100000} {
		var total int64
		For(n, func(start, end int) {
			atomic.AddInt64(&total, int64(end-start))
		})
		if total != int64(n) {
			t.Fatalf("n=%d: covered %d elements", n, total)
		}
	}
}

func TestForChunksAreOrderedWithin(t *testing.T) {
	seen := make([]int32, 1000)
	For(len(seen), func(start, end int) {
		for i := start; i < end; i++ {
			atomic.AddInt32(&seen[i], 1)
		}
	})
	for i, c := range seen {
		if c != 1 {
			t.Fatalf("index %d visited %d times", i, c)
		}
	}
}
