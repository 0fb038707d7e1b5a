package memres

import (
	"math/bits"
	"sync"

	cerrors "github.com/cockroachdb/errors"
)

const (
	// DefaultNewAlignment is the alignment the Go heap guarantees for ordinary allocations. Requests above
	// it take the aligned path.
	DefaultNewAlignment uint = 8

	// maxHeapAllocation is the largest request the heap path will attempt; beyond it the runtime would
	// abort the process instead of failing.
	maxHeapAllocation = 1<<(31+16*(bits.UintSize/64)) - 1
)

type newDeleteResource struct {
	_ byte
}

var (
	newDeleteOnce     sync.Once
	newDeleteInstance *newDeleteResource
)

// NewDelete returns the resource that forwards to the Go heap. There is exactly one instance per process.
// It is safe for concurrent use.
func NewDelete() Resource {
	newDeleteOnce.Do(func() {
		newDeleteInstance = &newDeleteResource{}
	})
	return newDeleteInstance
}

func (r *newDeleteResource) Allocate(bytes int, alignment uint) ([]byte, error) {
	if err := CheckRequest(bytes, alignment); err != nil {
		return nil, err
	}
	if bytes > maxHeapAllocation-int(alignment) {
		return nil, cerrors.Wrapf(ErrOutOfMemory, "heap allocation of %d bytes", bytes)
	}

	if alignment <= DefaultNewAlignment {
		buf := make([]byte, capacityFor(bytes))
		if IsAligned(AddressOf(buf), alignment) {
			return buf[:bytes:len(buf)], nil
		}
	}

	return allocateAligned(bytes, alignment), nil
}

// Deallocate drops the region on either path; the garbage collector reclaims it once no other reference
// remains.
func (r *newDeleteResource) Deallocate(p []byte, bytes int, alignment uint) {}

func (r *newDeleteResource) IsEqual(other Resource) bool {
	return Resource(r) == other
}

// allocateAligned over-allocates by alignment and re-slices at the first aligned address
func allocateAligned(bytes int, alignment uint) []byte {
	capacity := capacityFor(bytes)
	buf := make([]byte, capacity+int(alignment))
	addr := AddressOf(buf)
	shift := int(AlignUp(addr, alignment) - addr)
	return buf[shift : shift+bytes : shift+capacity]
}

// capacityFor keeps zero-byte regions at a distinct, aligned address
func capacityFor(bytes int) int {
	if bytes == 0 {
		return 1
	}
	return bytes
}
