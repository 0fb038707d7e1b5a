package monotonic_test

import (
	"sync"
	"testing"

	cerrors "github.com/cockroachdb/errors"
	"github.com/stretchr/testify/require"
	"github.com/vkngwrapper/memres"
	"github.com/vkngwrapper/memres/mocks"
	"github.com/vkngwrapper/memres/monotonic"
	"github.com/vkngwrapper/memres/tracking"
	"go.uber.org/mock/gomock"
)

func newUpstream() *tracking.Resource {
	return tracking.New(memres.NewDelete(), tracking.CreateOptions{})
}

func TestSixtyFourByteChunkScenario(t *testing.T) {
	ctrl := gomock.NewController(t)
	upstream := mocks.NewMockResource(ctrl)
	newDelete := memres.NewDelete()

	var chunks [][]byte
	var sizes []int
	upstream.EXPECT().Allocate(gomock.Any(), memres.MaxAlign).DoAndReturn(func(bytes int, alignment uint) ([]byte, error) {
		p, err := newDelete.Allocate(bytes, alignment)
		chunks = append(chunks, p)
		sizes = append(sizes, bytes)
		return p, err
	}).Times(2)

	arena := monotonic.NewWithSize(64, upstream)

	for i := 0; i < 3; i++ {
		p, err := arena.Allocate(16, memres.MaxAlign)
		require.NoError(t, err)
		require.Len(t, p, 16)
	}
	require.Len(t, sizes, 1)
	require.Equal(t, 64, sizes[0])
	require.Equal(t, 48, arena.Offset())

	p, err := arena.Allocate(32, memres.MaxAlign)
	require.NoError(t, err)
	require.Len(t, p, 32)
	require.Len(t, sizes, 2)
	require.GreaterOrEqual(t, sizes[1], 32)
	require.Equal(t, 32, arena.Offset())
	require.Equal(t, memres.AddressOf(chunks[1]), memres.AddressOf(p))

	upstream.EXPECT().Deallocate(chunks[0], 64, memres.MaxAlign)
	upstream.EXPECT().Deallocate(chunks[1], sizes[1], memres.MaxAlign)
	arena.Release()
}

func TestAllocationsWithinInitialChunk(t *testing.T) {
	upstream := newUpstream()
	arena := monotonic.NewWithSize(4096, upstream)

	var regions [][]byte
	for i := 0; i < 64; i++ {
		p, err := arena.Allocate(48, 16)
		require.NoError(t, err)
		regions = append(regions, p)
	}

	require.Equal(t, 1, upstream.Counters().AllocateCalls)

	// Regions do not overlap
	for i := 1; i < len(regions); i++ {
		require.GreaterOrEqual(t, uint64(memres.AddressOf(regions[i])), uint64(memres.AddressOf(regions[i-1]))+48)
	}

	arena.Release()
	require.NoError(t, upstream.CheckLeaks())
	require.NoError(t, upstream.Validate())
}

func TestOverflowRequestsExactlyOneChunk(t *testing.T) {
	upstream := newUpstream()
	arena := monotonic.NewWithSize(256, upstream)

	_, err := arena.Allocate(200, 8)
	require.NoError(t, err)
	require.Equal(t, 1, upstream.Counters().AllocateCalls)

	_, err = arena.Allocate(100, 8)
	require.NoError(t, err)
	require.Equal(t, 2, upstream.Counters().AllocateCalls)

	leaks := upstream.Leaks()
	require.Len(t, leaks, 2)
	require.GreaterOrEqual(t, leaks[1].Size, 100)

	arena.Release()
	require.NoError(t, upstream.CheckLeaks())
}

func TestLargeRequestGetsItsOwnChunkSize(t *testing.T) {
	upstream := newUpstream()
	arena := monotonic.NewWithSize(64, upstream)

	p, err := arena.Allocate(1000, 8)
	require.NoError(t, err)
	require.Len(t, p, 1000)

	leaks := upstream.Leaks()
	require.Len(t, leaks, 1)
	require.Equal(t, 1008, leaks[0].Size)
	require.Equal(t, 2016, arena.NextChunkSize())

	arena.Release()
}

func TestChunkSizesNeverDecrease(t *testing.T) {
	upstream := newUpstream()
	arena := monotonic.NewWithSize(16, upstream)

	for i := 0; i < 12; i++ {
		// Always larger than whatever remains in the current chunk
		_, err := arena.Allocate(arena.NextChunkSize(), 1)
		require.NoError(t, err)
	}

	leaks := upstream.Leaks()
	require.Len(t, leaks, 12)
	for i := 1; i < len(leaks); i++ {
		require.GreaterOrEqual(t, leaks[i].Size, leaks[i-1].Size)
		require.Equal(t, leaks[i-1].Size*2, leaks[i].Size)
	}

	arena.Release()
	require.NoError(t, upstream.CheckLeaks())
}

func TestGrowthFactor(t *testing.T) {
	upstream := newUpstream()
	arena, err := monotonic.NewWithOptions(upstream, monotonic.CreateOptions{
		InitialSize:  32,
		GrowthFactor: 4,
	})
	require.NoError(t, err)

	_, err = arena.Allocate(1, 1)
	require.NoError(t, err)
	require.Equal(t, 128, arena.NextChunkSize())

	_, err = arena.Allocate(64, 1)
	require.NoError(t, err)
	require.Equal(t, 512, arena.NextChunkSize())

	arena.Release()
	require.Equal(t, 32, arena.NextChunkSize())
}

func TestReleaseBehavesAsFresh(t *testing.T) {
	sequence := func(arena *monotonic.BufferResource) []int {
		var offsets []int
		for _, size := range []int{10, 100, 7, 300, 1, 2000, 50} {
			_, err := arena.Allocate(size, 8)
			require.NoError(t, err)
			offsets = append(offsets, arena.Offset())
		}
		return offsets
	}

	upstream := newUpstream()
	fresh := monotonic.NewWithSize(128, upstream)
	expectedOffsets := sequence(fresh)
	expectedStats := fresh.Statistics()
	expectedCalls := upstream.Counters().AllocateCalls
	fresh.Release()

	reused := monotonic.NewWithSize(128, newUpstream())
	sequence(reused)
	reused.Release()
	reused.Release()

	reusedUpstream := reused.Upstream().(*tracking.Resource)
	callsBefore := reusedUpstream.Counters().AllocateCalls
	require.Equal(t, 0, reused.Offset())
	require.Equal(t, 128, reused.NextChunkSize())
	require.Equal(t, memres.Statistics{}, reused.Statistics())

	require.Equal(t, expectedOffsets, sequence(reused))
	require.Equal(t, expectedStats, reused.Statistics())
	require.Equal(t, expectedCalls, reusedUpstream.Counters().AllocateCalls-callsBefore)

	require.NoError(t, reused.Close())
	require.NoError(t, reusedUpstream.CheckLeaks())
	require.NoError(t, reusedUpstream.Validate())
	require.NoError(t, upstream.CheckLeaks())
}

func TestInitialBufferIsNeverDeallocated(t *testing.T) {
	ctrl := gomock.NewController(t)
	upstream := mocks.NewMockResource(ctrl)

	buffer := make([]byte, 64)
	arena := monotonic.NewWithBuffer(buffer, upstream)

	p, err := arena.Allocate(48, 1)
	require.NoError(t, err)
	require.Equal(t, memres.AddressOf(buffer), memres.AddressOf(p))

	chunk, err := memres.NewDelete().Allocate(128, memres.MaxAlign)
	require.NoError(t, err)
	upstream.EXPECT().Allocate(128, memres.MaxAlign).Return(chunk, nil)

	p, err = arena.Allocate(32, 1)
	require.NoError(t, err)
	require.Equal(t, memres.AddressOf(chunk), memres.AddressOf(p))

	upstream.EXPECT().Deallocate(chunk, 128, memres.MaxAlign).Times(1)
	arena.Release()

	// The buffer is served from again after a release
	p, err = arena.Allocate(8, 1)
	require.NoError(t, err)
	require.Equal(t, memres.AddressOf(buffer), memres.AddressOf(p))

	require.NoError(t, arena.Close())
}

func TestInitialBufferOverNullUpstream(t *testing.T) {
	buffer := make([]byte, 32)
	arena := monotonic.NewWithBuffer(buffer, memres.Null())

	_, err := arena.Allocate(32, 1)
	require.NoError(t, err)

	_, err = arena.Allocate(1, 1)
	require.Error(t, err)
	require.True(t, cerrors.Is(err, memres.ErrOutOfMemory))

	arena.Release()
	_, err = arena.Allocate(32, 1)
	require.NoError(t, err)
}

func TestUpstreamFailureKeepsAcquiredChunks(t *testing.T) {
	ctrl := gomock.NewController(t)
	upstream := mocks.NewMockResource(ctrl)

	chunk, err := memres.NewDelete().Allocate(64, memres.MaxAlign)
	require.NoError(t, err)

	gomock.InOrder(
		upstream.EXPECT().Allocate(64, memres.MaxAlign).Return(chunk, nil),
		upstream.EXPECT().Allocate(128, memres.MaxAlign).Return(nil, cerrors.Wrap(memres.ErrOutOfMemory, "exhausted")),
	)

	arena := monotonic.NewWithSize(64, upstream)
	_, err = arena.Allocate(64, 8)
	require.NoError(t, err)

	_, err = arena.Allocate(8, 8)
	require.Error(t, err)
	require.True(t, cerrors.Is(err, memres.ErrOutOfMemory))
	require.NoError(t, arena.Validate())

	upstream.EXPECT().Deallocate(chunk, 64, memres.MaxAlign)
	arena.Release()
}

func TestDeallocateDoesNothing(t *testing.T) {
	upstream := newUpstream()
	arena := monotonic.New(upstream)

	p, err := arena.Allocate(100, 8)
	require.NoError(t, err)
	offset := arena.Offset()

	arena.Deallocate(p, 100, 8)
	require.Equal(t, offset, arena.Offset())
	require.Equal(t, 1, arena.Statistics().AllocationCount)
	require.Equal(t, monotonic.DefaultInitialSize, upstream.Leaks()[0].Size)

	arena.Release()
}

func TestAlignment(t *testing.T) {
	arena := monotonic.New(newUpstream())
	defer arena.Release()

	for _, alignment := range []uint{1, 2, 4, 8, 16, 64, 128, 256, 1024} {
		_, err := arena.Allocate(3, 1)
		require.NoError(t, err)

		p, err := arena.Allocate(24, alignment)
		require.NoError(t, err)
		require.Len(t, p, 24)
		require.True(t, memres.IsAligned(memres.AddressOf(p), alignment))
	}

	_, err := arena.Allocate(8, 12)
	require.True(t, cerrors.Is(err, memres.ErrContractViolation))
	_, err = arena.Allocate(-1, 8)
	require.True(t, cerrors.Is(err, memres.ErrContractViolation))
}

func TestOverAlignedChunk(t *testing.T) {
	upstream := newUpstream()
	arena := monotonic.NewWithSize(64, upstream)

	p, err := arena.Allocate(16, 4096)
	require.NoError(t, err)
	require.True(t, memres.IsAligned(memres.AddressOf(p), 4096))
	require.Equal(t, uint(4096), upstream.Leaks()[0].Alignment)

	arena.Release()
	require.NoError(t, upstream.CheckLeaks())
}

func TestZeroByteAllocation(t *testing.T) {
	arena := monotonic.NewWithSize(64, newUpstream())
	defer arena.Release()

	p, err := arena.Allocate(0, 8)
	require.NoError(t, err)
	require.NotNil(t, p)
	require.Len(t, p, 0)
}

func TestIsEqualIsIdentity(t *testing.T) {
	upstream := memres.NewDelete()
	a := monotonic.NewWithSize(64, upstream)
	b := monotonic.NewWithSize(64, upstream)

	require.True(t, a.IsEqual(a))
	require.True(t, memres.Equal(a, a))
	require.False(t, a.IsEqual(b))
	require.False(t, memres.Equal(a, b))
	require.False(t, a.IsEqual(upstream))
}

func TestNilUpstreamUsesDefault(t *testing.T) {
	upstream := newUpstream()
	previous := memres.SetDefault(upstream)
	defer memres.SetDefault(previous)

	arena := monotonic.New(nil)
	require.Same(t, upstream, arena.Upstream())

	_, err := arena.Allocate(8, 8)
	require.NoError(t, err)
	require.Equal(t, 1, upstream.Counters().AllocateCalls)

	arena.Release()
	require.NoError(t, upstream.CheckLeaks())
}

func TestCreateOptionsValidation(t *testing.T) {
	testCases := map[string]monotonic.CreateOptions{
		"Negative Initial Size": {InitialSize: -1},
		"Growth Factor One":     {GrowthFactor: 1},
		"Negative Growth":       {GrowthFactor: -2},
	}

	for name, options := range testCases {
		t.Run(name, func(t *testing.T) {
			arena, err := monotonic.NewWithOptions(memres.NewDelete(), options)
			require.Nil(t, arena)
			require.True(t, cerrors.Is(err, memres.ErrContractViolation))
		})
	}
}

func TestSynchronizedConcurrentAllocation(t *testing.T) {
	upstream := newUpstream()
	arena, err := monotonic.NewWithOptions(upstream, monotonic.CreateOptions{
		Flags:       monotonic.CreateInternallySynchronized,
		InitialSize: 256,
	})
	require.NoError(t, err)

	const goroutines = 8
	const allocations = 200

	addresses := make([][]uintptr, goroutines)
	var wg sync.WaitGroup
	for g := 0; g < goroutines; g++ {
		wg.Add(1)
		go func(g int) {
			defer wg.Done()
			for i := 0; i < allocations; i++ {
				p, err := arena.Allocate(8, 8)
				if err != nil {
					t.Error(err)
					return
				}
				addresses[g] = append(addresses[g], memres.AddressOf(p))
			}
		}(g)
	}
	wg.Wait()

	seen := map[uintptr]bool{}
	for _, list := range addresses {
		for _, address := range list {
			require.False(t, seen[address])
			seen[address] = true
		}
	}
	require.Len(t, seen, goroutines*allocations)
	require.Equal(t, goroutines*allocations, arena.Statistics().AllocationCount)
	require.NoError(t, arena.Validate())

	arena.Release()
	require.NoError(t, upstream.CheckLeaks())
}

func TestStatisticsAndStatsString(t *testing.T) {
	buffer := make([]byte, 64)
	arena := monotonic.NewWithBuffer(buffer, memres.Null())

	_, err := arena.Allocate(10, 1)
	require.NoError(t, err)
	_, err = arena.Allocate(6, 1)
	require.NoError(t, err)

	require.Equal(t, memres.Statistics{
		ChunkCount:      1,
		ChunkBytes:      64,
		AllocationCount: 2,
		AllocationBytes: 16,
	}, arena.Statistics())

	var total memres.Statistics
	arena.AddStatistics(&total)
	arena.AddStatistics(&total)
	require.Equal(t, 4, total.AllocationCount)

	require.JSONEq(t, `{
		"Flags": "None",
		"Offset": 16,
		"NextChunkSize": 128,
		"Chunks": 1,
		"ChunkBytes": 64,
		"Allocations": 2,
		"AllocationBytes": 16,
		"UnusedBytes": 48,
		"ChunkList": [{"Size": 64, "Alignment": 1, "Owned": false}]
	}`, arena.BuildStatsString())
}

func TestCreateFlagsString(t *testing.T) {
	require.Equal(t, "None", monotonic.CreateFlags(0).String())
	require.Equal(t, "CreateInternallySynchronized", monotonic.CreateInternallySynchronized.String())
	require.Equal(t, "CreateInternallySynchronized|CreateFlags(4)", (monotonic.CreateInternallySynchronized | 4).String())
}
