package memres_test

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/require"
	"github.com/vkngwrapper/memres"
)

func TestDefaultIsNewDeleteUntilSet(t *testing.T) {
	previous := memres.SetDefault(nil)
	defer memres.SetDefault(previous)

	require.Same(t, memres.NewDelete(), memres.GetDefault())
}

func TestSetDefault(t *testing.T) {
	custom := &keyedResource{key: 1}

	previous := memres.SetDefault(custom)
	require.NotNil(t, previous)
	require.Same(t, custom, memres.GetDefault())
	require.Same(t, custom, memres.GetDefault())

	other := &keyedResource{key: 2}
	require.Same(t, custom, memres.SetDefault(other))
	require.Same(t, other, memres.GetDefault())

	require.Same(t, other, memres.SetDefault(nil))
	require.Same(t, memres.NewDelete(), memres.GetDefault())

	require.Same(t, memres.NewDelete(), memres.SetDefault(previous))
	require.Equal(t, previous, memres.GetDefault())
}

func TestSetDefaultConcurrent(t *testing.T) {
	previous := memres.GetDefault()
	defer memres.SetDefault(previous)

	candidates := []memres.Resource{
		memres.NewDelete(),
		memres.Null(),
		&keyedResource{key: 1},
		&keyedResource{key: 2},
	}
	isCandidate := func(r memres.Resource) bool {
		for _, candidate := range candidates {
			if candidate == r {
				return true
			}
		}
		return false
	}

	memres.SetDefault(candidates[0])

	const goroutines = 8
	const iterations = 1000

	// Every value installed is returned by exactly one SetDefault or remains installed at the end
	returned := make([][]memres.Resource, goroutines)
	var wg sync.WaitGroup
	for g := 0; g < goroutines; g++ {
		wg.Add(1)
		go func(g int) {
			defer wg.Done()
			for i := 0; i < iterations; i++ {
				returned[g] = append(returned[g], memres.SetDefault(candidates[(g+i)%len(candidates)]))
				if current := memres.GetDefault(); !isCandidate(current) {
					t.Errorf("default resource %v was never installed", current)
				}
			}
		}(g)
	}
	wg.Wait()

	seen := map[memres.Resource]int{}
	for _, values := range returned {
		for _, r := range values {
			require.True(t, isCandidate(r))
			seen[r]++
		}
	}
	seen[memres.GetDefault()]++

	installed := map[memres.Resource]int{candidates[0]: 1}
	for g := 0; g < goroutines; g++ {
		for i := 0; i < iterations; i++ {
			installed[candidates[(g+i)%len(candidates)]]++
		}
	}
	require.Equal(t, installed, seen)
}
