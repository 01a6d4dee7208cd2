package service

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestKeyedMutex_SerialisesPerKey(t *testing.T) {
	k := newKeyedMutex()
	counts := map[string]*int{"a": new(int), "b": new(int)}
	var wg sync.WaitGroup

	for i := 0; i < 100; i++ {
		key := []string{"a", "b"}[i%2]
		wg.Add(1)
		go func() {
			defer wg.Done()
			unlock := k.Lock(key)
			*counts[key]++
			unlock()
		}()
	}
	wg.Wait()

	assert.Equal(t, 50, *counts["a"])
	assert.Equal(t, 50, *counts["b"])
	assert.Zero(t, k.size())
}
