package memres

import "github.com/pkg/errors"

// ErrOutOfMemory is returned from Resource.Allocate when a request cannot be satisfied. Resources that
// delegate to an upstream wrap the upstream's error, so errors.Is should be used to test for it.
var ErrOutOfMemory error = errors.New("out of memory")

// ErrContractViolation is returned (or panicked with) when a caller breaks the contract of a resource or
// allocator handle: a nil resource, a negative size, an alignment that is not a power of two, or a type
// that declares itself allocator-aware without providing a construction convention.
var ErrContractViolation error = errors.New("memory resource contract violation")

// ErrNotPowerOfTwo is the error returned from CheckPow2 or other methods if the number being tested is not a power of two
var ErrNotPowerOfTwo error = errors.New("number must be a power of two")
