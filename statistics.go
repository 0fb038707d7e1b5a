package memres

import "github.com/launchdarkly/go-jsonstream/v3/jwriter"

// Statistics summarizes the memory a resource holds. Chunks are the regions the resource obtained from
// its upstream; allocations are the regions it handed out to its callers.
type Statistics struct {
	ChunkCount      int
	ChunkBytes      int
	AllocationCount int
	AllocationBytes int
}

func (s *Statistics) Clear() {
	s.ChunkCount = 0
	s.ChunkBytes = 0
	s.AllocationCount = 0
	s.AllocationBytes = 0
}

func (s *Statistics) AddStatistics(other *Statistics) {
	s.ChunkCount += other.ChunkCount
	s.ChunkBytes += other.ChunkBytes
	s.AllocationCount += other.AllocationCount
	s.AllocationBytes += other.AllocationBytes
}

func (s *Statistics) AddChunk(size int) {
	s.ChunkCount++
	s.ChunkBytes += size
}

func (s *Statistics) AddAllocation(size int) {
	s.AllocationCount++
	s.AllocationBytes += size
}

// UnusedBytes is the number of chunk bytes not handed out to callers, alignment padding included
func (s *Statistics) UnusedBytes() int {
	return s.ChunkBytes - s.AllocationBytes
}

// PrintJSON populates a json object with these statistics
func (s *Statistics) PrintJSON(json *jwriter.ObjectState) {
	json.Name("Chunks").Int(s.ChunkCount)
	json.Name("ChunkBytes").Int(s.ChunkBytes)
	json.Name("Allocations").Int(s.AllocationCount)
	json.Name("AllocationBytes").Int(s.AllocationBytes)
	json.Name("UnusedBytes").Int(s.UnusedBytes())
}
