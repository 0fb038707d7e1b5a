// Package memres provides polymorphic memory resources: interchangeable objects that hand out raw,
// sized and aligned regions of memory. Callers obtain memory from whichever Resource they are given
// rather than from a single global allocator, which allows an entire subsystem to be moved onto an
// arena, a page allocator, or an allocator that refuses to allocate at all, without changing its code.
//
// Memory handed out by a Resource is a []byte, which the garbage collector does not scan: it must not be
// used to hold the only reference to Go heap objects.
package memres

//go:generate mockgen -package mocks -destination ./mocks/mock_resource.go github.com/vkngwrapper/memres Resource

// MaxAlign is the alignment used when a caller does not ask for a specific one. It is large enough for
// any scalar type.
const MaxAlign uint = 16

// Resource is the capability every memory resource implements.
//
// Every successful Allocate must be paired with exactly one Deallocate using the same size and alignment
// before the resource goes away, unless the resource explicitly waives this (monotonic buffers release in
// bulk). Passing a slice, size or alignment to Deallocate that does not match a live allocation from the
// same resource is undefined behavior: resources do not check it.
//
// Concrete resources should be pointer types, so that comparing two Resource values compares identity.
type Resource interface {
	// Allocate returns a region of exactly bytes length whose first byte is aligned to alignment, which must
	// be a non-zero power of two. If the request cannot be satisfied, the returned error wraps
	// ErrOutOfMemory.
	Allocate(bytes int, alignment uint) ([]byte, error)
	// Deallocate returns a region obtained from Allocate. It never fails.
	Deallocate(p []byte, bytes int, alignment uint)
	// IsEqual reports whether memory allocated from this resource can be deallocated through other and
	// vice versa.
	IsEqual(other Resource) bool
}

// Equal reports whether a and b are the same resource instance or a considers itself interchangeable
// with b.
func Equal(a, b Resource) bool {
	return a == b || a.IsEqual(b)
}

// AllocateDefault allocates bytes from r with MaxAlign alignment
func AllocateDefault(r Resource, bytes int) ([]byte, error) {
	return r.Allocate(bytes, MaxAlign)
}

// DeallocateDefault returns a region obtained from AllocateDefault
func DeallocateDefault(r Resource, p []byte) {
	r.Deallocate(p, len(p), MaxAlign)
}
