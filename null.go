package memres

import (
	"sync"

	cerrors "github.com/cockroachdb/errors"
)

type nullResource struct {
	_ byte
}

var (
	nullOnce     sync.Once
	nullInstance *nullResource
)

// Null returns a resource whose Allocate always fails with ErrOutOfMemory and whose Deallocate does
// nothing. Use it as the upstream of a resource that must never reach past its own buffer, or to assert
// that a code path does not allocate.
func Null() Resource {
	nullOnce.Do(func() {
		nullInstance = &nullResource{}
	})
	return nullInstance
}

func (r *nullResource) Allocate(bytes int, alignment uint) ([]byte, error) {
	return nil, cerrors.Wrapf(ErrOutOfMemory, "null resource cannot allocate %d bytes", bytes)
}

func (r *nullResource) Deallocate(p []byte, bytes int, alignment uint) {}

func (r *nullResource) IsEqual(other Resource) bool {
	return Resource(r) == other
}
