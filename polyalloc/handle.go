// Package polyalloc provides allocator handles bound to a memres.Resource, and the protocol that decides
// how a handle is threaded into the construction of allocator-aware types.
package polyalloc

import (
	"math"
	"unsafe"

	cerrors "github.com/cockroachdb/errors"
	"github.com/vkngwrapper/memres"
)

// Handle is a non-owning reference to a resource. The resource must outlive every handle bound to it.
// A handle's resource is fixed when it is created: there is no way to rebind an existing handle.
// The zero Handle is not bound to anything and must not be used; create handles with NewHandle or
// NewHandleFor.
type Handle struct {
	resource memres.Resource
}

// NewHandle returns a handle bound to the current default resource
func NewHandle() Handle {
	return Handle{resource: memres.GetDefault()}
}

// NewHandleFor returns a handle bound to r. It panics with an error wrapping memres.ErrContractViolation
// if r is nil.
func NewHandleFor(r memres.Resource) Handle {
	if r == nil {
		panic(cerrors.Wrap(memres.ErrContractViolation, "an allocator handle requires a non-nil resource"))
	}
	return Handle{resource: r}
}

// Resource returns the resource this handle allocates from
func (h Handle) Resource() memres.Resource {
	return h.resource
}

// Equal reports whether memory allocated through h can be deallocated through other, which is the case
// when their resources compare equal under memres.Equal.
func (h Handle) Equal(other Handle) bool {
	return memres.Equal(h.resource, other.resource)
}

// SelectOnCopy returns the handle a copy of a container built on h should use: one bound to the current
// default resource, not to h's resource.
func (h Handle) SelectOnCopy() Handle {
	return NewHandle()
}

// Allocator is a Handle that allocates storage for values of T
type Allocator[T any] struct {
	Handle
}

// New returns an Allocator bound to the current default resource
func New[T any]() Allocator[T] {
	return Allocator[T]{Handle: NewHandle()}
}

// NewFor returns an Allocator bound to r. It panics if r is nil.
func NewFor[T any](r memres.Resource) Allocator[T] {
	return Allocator[T]{Handle: NewHandleFor(r)}
}

// ForHandle returns an Allocator of T bound to the same resource as h
func ForHandle[T any](h Handle) Allocator[T] {
	if h.resource == nil {
		panic(cerrors.Wrap(memres.ErrContractViolation, "an allocator handle requires a non-nil resource"))
	}
	return Allocator[T]{Handle: h}
}

// Rebind returns an Allocator of U bound to the same resource as a
func Rebind[U, T any](a Allocator[T]) Allocator[U] {
	return ForHandle[U](a.Handle)
}

// Equal reports whether two allocators, possibly of different element types, use equal resources
func Equal[T, U any](a Allocator[T], b Allocator[U]) bool {
	return a.Handle.Equal(b.Handle)
}

// SelectOnCopy returns an Allocator bound to the current default resource
func (a Allocator[T]) SelectOnCopy() Allocator[T] {
	return New[T]()
}

func layoutOf[T any]() (size int, alignment uint) {
	var zero T
	return int(unsafe.Sizeof(zero)), uint(unsafe.Alignof(zero))
}

// Allocate returns uninitialized storage for n values of T, aligned for T. The storage is not scanned by
// the garbage collector, so T should not hold the only reference to heap objects.
func (a Allocator[T]) Allocate(n int) ([]T, error) {
	size, alignment := layoutOf[T]()
	if n < 0 {
		return nil, cerrors.Wrapf(memres.ErrContractViolation, "negative element count %d", n)
	}
	if size > 0 && n > math.MaxInt/size {
		return nil, cerrors.Wrapf(memres.ErrOutOfMemory, "%d elements of %d bytes overflow", n, size)
	}

	b, err := a.resource.Allocate(n*size, alignment)
	if err != nil {
		return nil, err
	}
	return unsafe.Slice((*T)(unsafe.Pointer(unsafe.SliceData(b))), n), nil
}

// Deallocate returns storage for n values obtained from Allocate(n)
func (a Allocator[T]) Deallocate(p []T, n int) {
	size, alignment := layoutOf[T]()
	bytes := n * size
	a.resource.Deallocate(unsafe.Slice((*byte)(unsafe.Pointer(unsafe.SliceData(p))), bytes), bytes, alignment)
}
