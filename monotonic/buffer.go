// Package monotonic provides a memory resource that allocates by advancing an offset through chunks
// obtained from an upstream resource and reclaims memory only in bulk.
package monotonic

import (
	"math"

	cerrors "github.com/cockroachdb/errors"
	"github.com/launchdarkly/go-jsonstream/v3/jwriter"
	"github.com/vkngwrapper/memres"
	"github.com/vkngwrapper/memres/internal/utils"
	"golang.org/x/exp/slog"
)

type chunk struct {
	data      []byte
	size      int
	alignment uint
	// owned is false for the caller-supplied initial buffer
	owned bool
}

// BufferResource is a monotonic buffer resource: an arena. Allocations bump an offset through the
// current chunk; when a request does not fit, a new chunk is requested from upstream, each one larger
// than the last. Deallocate does nothing, and all chunks are handed back to upstream at once by Release.
//
// A BufferResource is not safe for concurrent use unless it was created with
// CreateInternallySynchronized. The upstream resource must outlive it.
type BufferResource struct {
	mutex  utils.OptionalMutex
	logger *slog.Logger
	flags  CreateFlags

	upstream        memres.Resource
	initialBuffer   []byte
	initialNextSize int
	growthFactor    int

	chunks   []chunk
	offset   int
	nextSize int
	stats    memres.Statistics
}

var _ memres.Resource = &BufferResource{}

// Upstream returns the resource chunks are requested from
func (r *BufferResource) Upstream() memres.Resource {
	return r.upstream
}

// Allocate returns bytes bytes aligned to alignment from the current chunk, requesting a new chunk from
// upstream if the current one cannot fit the request. Upstream failures are returned wrapped and leave
// previously acquired chunks in place.
func (r *BufferResource) Allocate(bytes int, alignment uint) ([]byte, error) {
	if err := memres.CheckRequest(bytes, alignment); err != nil {
		return nil, err
	}

	r.mutex.Lock()
	p, err := r.allocate(bytes, alignment)
	r.mutex.Unlock()

	if err == nil {
		memres.DebugValidate(r)
	}
	return p, err
}

func (r *BufferResource) allocate(bytes int, alignment uint) ([]byte, error) {
	if p, ok := r.bump(bytes, alignment); ok {
		return p, nil
	}

	err := r.acquireChunk(bytes, alignment)
	if err != nil {
		return nil, err
	}

	p, ok := r.bump(bytes, alignment)
	if !ok {
		return nil, cerrors.AssertionFailedf("a fresh %d byte chunk could not fit a %d byte allocation aligned to %d", r.chunks[len(r.chunks)-1].size, bytes, alignment)
	}
	return p, nil
}

// bump serves the request from the current chunk if it fits
func (r *BufferResource) bump(bytes int, alignment uint) ([]byte, bool) {
	if len(r.chunks) == 0 {
		return nil, false
	}

	current := &r.chunks[len(r.chunks)-1]
	base := memres.AddressOf(current.data)
	start := int(memres.AlignUp(base+uintptr(r.offset), alignment) - base)
	if start > current.size || bytes > current.size-start {
		return nil, false
	}

	end := start + bytes
	r.offset = end
	r.stats.AddAllocation(bytes)
	return current.data[start:end:end], true
}

func (r *BufferResource) acquireChunk(bytes int, alignment uint) error {
	if bytes > math.MaxInt-int(memres.MaxAlign) {
		return cerrors.Wrapf(memres.ErrOutOfMemory, "allocation of %d bytes cannot be served by a monotonic buffer", bytes)
	}

	chunkAlignment := alignment
	if chunkAlignment < memres.MaxAlign {
		chunkAlignment = memres.MaxAlign
	}
	memres.DebugCheckPow2(chunkAlignment, "chunk alignment")

	size := r.nextSize
	if needed := memres.AlignUp(bytes, memres.MaxAlign); needed > size {
		size = needed
	}

	data, err := r.upstream.Allocate(size, chunkAlignment)
	if err != nil {
		r.logger.Debug("    MonotonicBufferResource::acquireChunk FAILED", slog.Int("Size", size), slog.Any("error", err))
		return cerrors.Wrapf(err, "monotonic buffer could not obtain a %d byte chunk", size)
	}

	r.chunks = append(r.chunks, chunk{
		data:      data,
		size:      size,
		alignment: chunkAlignment,
		owned:     true,
	})
	r.offset = 0
	r.nextSize = r.grow(size)
	r.stats.AddChunk(size)

	r.logger.Debug("MonotonicBufferResource::acquireChunk",
		slog.Int("Size", size),
		slog.Uint64("Alignment", uint64(chunkAlignment)),
		slog.Int("NextSize", r.nextSize),
		slog.Int("ChunkCount", len(r.chunks)),
	)
	return nil
}

func (r *BufferResource) grow(size int) int {
	if size > math.MaxInt/r.growthFactor {
		return math.MaxInt
	}
	return size * r.growthFactor
}

// Deallocate does nothing: memory is only reclaimed by Release.
func (r *BufferResource) Deallocate(p []byte, bytes int, alignment uint) {}

// IsEqual returns true only for this same instance
func (r *BufferResource) IsEqual(other memres.Resource) bool {
	return memres.Resource(r) == other
}

// Release hands every chunk obtained from upstream back to upstream and returns the resource to its
// freshly constructed state. The initial buffer, if any, is kept and served from again. Every region
// previously allocated from this resource becomes invalid. It is safe to call Release more than once.
func (r *BufferResource) Release() {
	r.mutex.Lock()
	defer r.mutex.Unlock()

	r.logger.Debug("MonotonicBufferResource::Release", slog.Int("ChunkCount", len(r.chunks)))

	for i := len(r.chunks) - 1; i >= 0; i-- {
		c := r.chunks[i]
		if c.owned {
			r.upstream.Deallocate(c.data, c.size, c.alignment)
		}
	}

	r.reset()
}

// Close releases all chunks. It always returns nil.
func (r *BufferResource) Close() error {
	r.Release()
	return nil
}

func (r *BufferResource) reset() {
	for i := range r.chunks {
		r.chunks[i] = chunk{}
	}
	r.chunks = r.chunks[:0]
	r.offset = 0
	r.nextSize = r.initialNextSize
	r.stats.Clear()

	if r.initialBuffer != nil {
		r.chunks = append(r.chunks, chunk{
			data:      r.initialBuffer,
			size:      len(r.initialBuffer),
			alignment: 1,
			owned:     false,
		})
		r.stats.AddChunk(len(r.initialBuffer))
	}
}

// NextChunkSize is the minimum size of the next chunk that will be requested from upstream
func (r *BufferResource) NextChunkSize() int {
	r.mutex.Lock()
	defer r.mutex.Unlock()

	return r.nextSize
}

// Offset is the number of bytes of the current chunk consumed so far, alignment padding included
func (r *BufferResource) Offset() int {
	r.mutex.Lock()
	defer r.mutex.Unlock()

	return r.offset
}

// Statistics returns the chunk and allocation totals since construction or the last Release
func (r *BufferResource) Statistics() memres.Statistics {
	r.mutex.Lock()
	defer r.mutex.Unlock()

	return r.stats
}

// AddStatistics sums this resource's statistics into stats
func (r *BufferResource) AddStatistics(stats *memres.Statistics) {
	r.mutex.Lock()
	defer r.mutex.Unlock()

	stats.AddStatistics(&r.stats)
}

// Validate performs internal consistency checks. When the resource is functioning correctly, it should
// not be possible for this method to return an error.
func (r *BufferResource) Validate() error {
	r.mutex.Lock()
	defer r.mutex.Unlock()

	if len(r.chunks) == 0 {
		if r.offset != 0 {
			return cerrors.Newf("offset is %d but no chunk is active", r.offset)
		}
		return nil
	}

	chunkBytes := 0
	for i, c := range r.chunks {
		if len(c.data) != c.size {
			return cerrors.Newf("chunk %d has %d bytes but was recorded as %d", i, len(c.data), c.size)
		}
		if !c.owned && (i != 0 || r.initialBuffer == nil) {
			return cerrors.Newf("chunk %d is not owned but is not the initial buffer", i)
		}
		if err := memres.CheckPow2(c.alignment, "chunk alignment"); err != nil {
			return err
		}
		chunkBytes += c.size
	}

	if current := r.chunks[len(r.chunks)-1]; r.offset > current.size {
		return cerrors.Newf("offset %d is past the end of the current %d byte chunk", r.offset, current.size)
	}
	if r.stats.ChunkCount != len(r.chunks) || r.stats.ChunkBytes != chunkBytes {
		return cerrors.Newf("statistics record %d chunks of %d bytes, but there are %d chunks of %d bytes",
			r.stats.ChunkCount, r.stats.ChunkBytes, len(r.chunks), chunkBytes)
	}
	if r.nextSize < r.initialNextSize {
		return cerrors.Newf("next chunk size %d shrank below the initial size %d", r.nextSize, r.initialNextSize)
	}

	return nil
}

// BuildStatsString returns a json document describing the chunks held by this resource
func (r *BufferResource) BuildStatsString() string {
	r.mutex.Lock()
	defer r.mutex.Unlock()

	writer := jwriter.NewWriter()
	obj := writer.Object()
	obj.Name("Flags").String(r.flags.String())
	obj.Name("Offset").Int(r.offset)
	obj.Name("NextChunkSize").Int(r.nextSize)
	r.stats.PrintJSON(&obj)

	chunks := obj.Name("ChunkList").Array()
	for _, c := range r.chunks {
		o := chunks.Object()
		o.Name("Size").Int(c.size)
		o.Name("Alignment").Int(int(c.alignment))
		o.Name("Owned").Bool(c.owned)
		o.End()
	}
	chunks.End()
	obj.End()

	return string(writer.Bytes())
}
