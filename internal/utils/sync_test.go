package utils

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestOptionalMutexUnsynchronizedIsReentrant(t *testing.T) {
	var m OptionalMutex
	require.False(t, m.Synchronized())

	m.Lock()
	m.Lock()
	m.Unlock()
	m.Unlock()
}

func TestOptionalMutexSerializes(t *testing.T) {
	var m OptionalMutex
	m.Synchronize(true)
	require.True(t, m.Synchronized())

	total := 0
	var wg sync.WaitGroup
	for g := 0; g < 8; g++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < 1000; i++ {
				m.Lock()
				total++
				m.Unlock()
			}
		}()
	}
	wg.Wait()
	require.Equal(t, 8000, total)
}

func TestOptionalRWMutex(t *testing.T) {
	var m OptionalRWMutex
	m.RLock()
	m.Lock()
	m.Unlock()
	m.RUnlock()

	m.Synchronize(true)
	require.True(t, m.Synchronized())
	m.RLock()
	m.RLock()
	m.RUnlock()
	m.RUnlock()
	m.Lock()
	m.Unlock()
}
