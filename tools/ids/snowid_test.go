package ids

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestGenerateUniqueUnderConcurrency(t *testing.T) {
	const n = 2000
	var (
		mu   sync.Mutex
		seen = make(map[int64]bool, n)
		wg   sync.WaitGroup
	)
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < n/4; j++ {
				id := Generate()
				mu.Lock()
				assert.False(t, seen[id])
				seen[id] = true
				mu.Unlock()
			}
		}()
	}
	wg.Wait()
	assert.Len(t, seen, n)
}

func TestGenerateMonotonicPerCall(t *testing.T) {
	prev := Generate()
	for i := 0; i < 100; i++ {
		next := Generate()
		assert.Greater(t, next, prev)
		prev = next
	}
}

func TestSetNodeIDClampsRange(t *testing.T) {
	SetNodeID(5000) // out of the 10-bit range, falls back
	id := Generate()
	assert.Equal(t, int64(1), (id>>12)&0x3FF)

	SetNodeID(42)
	id = Generate()
	assert.Equal(t, int64(42), (id>>12)&0x3FF)
	SetNodeID(1)
}
