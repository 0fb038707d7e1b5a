// Package pages provides a resource that hands out whole pages of memory, mapped directly from the
// operating system on unix platforms. It makes a good upstream for monotonic buffers that should not
// grow the Go heap.
package pages

import (
	"math"
	"os"
	"sync"

	cerrors "github.com/cockroachdb/errors"
	"github.com/dolthub/swiss"
	"github.com/vkngwrapper/memres"
	"golang.org/x/exp/slog"
)

// Resource allocates page-aligned regions, each rounded up to a whole number of pages. It is safe for
// concurrent use.
type Resource struct {
	mutex    sync.Mutex
	logger   *slog.Logger
	pageSize int

	// regions maps the address handed to callers to the full region that was mapped for it
	regions *swiss.Map[uintptr, []byte]
	stats   memres.Statistics
}

var _ memres.Resource = &Resource{}

// New creates a page Resource. slog.Default() is used when logger is nil.
func New(logger *slog.Logger) *Resource {
	if logger == nil {
		logger = slog.Default()
	}

	return &Resource{
		logger:   logger,
		pageSize: os.Getpagesize(),
		regions:  swiss.NewMap[uintptr, []byte](16),
	}
}

// PageSize is the granularity of every allocation made from this resource
func (r *Resource) PageSize() int {
	return r.pageSize
}

// Allocate maps enough pages to hold bytes bytes, aligned to the larger of alignment and the page size.
// Failures to map memory are returned as errors wrapping memres.ErrOutOfMemory.
func (r *Resource) Allocate(bytes int, alignment uint) ([]byte, error) {
	if err := memres.CheckRequest(bytes, alignment); err != nil {
		return nil, err
	}

	if alignment < uint(r.pageSize) {
		alignment = uint(r.pageSize)
	}
	memres.DebugCheckPow2(alignment, "region alignment")
	if bytes > math.MaxInt-int(alignment)-r.pageSize {
		return nil, cerrors.Wrapf(memres.ErrOutOfMemory, "%d bytes cannot be mapped", bytes)
	}

	size := memres.AlignUp(bytes, uint(r.pageSize))
	if size == 0 {
		size = r.pageSize
	}

	extra := 0
	if alignment > regionAlignment(r.pageSize) {
		extra = int(alignment - regionAlignment(r.pageSize))
	}

	region, err := mapRegion(size + extra)
	if err != nil {
		r.logger.Debug("    PageResource::Allocate FAILED", slog.Int("Size", size+extra), slog.Any("error", err))
		return nil, cerrors.Wrapf(memres.ErrOutOfMemory, "could not map %d bytes: %v", size+extra, err)
	}

	base := memres.AddressOf(region)
	shift := int(memres.AlignUp(base, alignment) - base)
	data := region[shift : shift+bytes : shift+size]

	r.mutex.Lock()
	defer r.mutex.Unlock()

	r.regions.Put(memres.AddressOf(data), region)
	r.stats.AddChunk(len(region))
	r.stats.AddAllocation(bytes)

	return data, nil
}

// Deallocate unmaps the region p was allocated from. A p that was not allocated from this resource is
// ignored.
func (r *Resource) Deallocate(p []byte, bytes int, alignment uint) {
	address := memres.AddressOf(p)

	r.mutex.Lock()
	region, ok := r.regions.Get(address)
	if ok {
		r.regions.Delete(address)
		r.stats.ChunkCount--
		r.stats.ChunkBytes -= len(region)
		r.stats.AllocationCount--
		r.stats.AllocationBytes -= bytes
	}
	r.mutex.Unlock()

	if !ok {
		return
	}

	if err := unmapRegion(region); err != nil {
		r.logger.Error("PageResource::Deallocate could not unmap region", slog.Int("Size", len(region)), slog.Any("error", err))
	}
}

// IsEqual returns true only for this same instance
func (r *Resource) IsEqual(other memres.Resource) bool {
	return memres.Resource(r) == other
}

// Statistics returns the mapped regions (as chunks) and the bytes requested from them
func (r *Resource) Statistics() memres.Statistics {
	r.mutex.Lock()
	defer r.mutex.Unlock()

	return r.stats
}
