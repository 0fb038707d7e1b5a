package memres

import (
	"unsafe"

	cerrors "github.com/cockroachdb/errors"
	"golang.org/x/exp/constraints"
)

// CheckPow2 returns an error wrapping ErrNotPowerOfTwo if number is not a power of two. Zero passes.
func CheckPow2[T constraints.Integer](number T, name string) error {
	if number&(number-1) != 0 {
		return cerrors.Wrapf(ErrNotPowerOfTwo, "%s is %d", name, number)
	}
	return nil
}

// CheckRequest verifies the size and alignment of an allocation request. The returned error is marked
// with ErrContractViolation.
func CheckRequest(bytes int, alignment uint) error {
	if bytes < 0 {
		return cerrors.Wrapf(ErrContractViolation, "negative allocation size %d", bytes)
	}
	if alignment == 0 {
		return cerrors.Wrap(ErrContractViolation, "alignment must be non-zero")
	}
	if err := CheckPow2(alignment, "alignment"); err != nil {
		return cerrors.Mark(err, ErrContractViolation)
	}
	return nil
}

func AlignUp[T constraints.Integer](value T, alignment uint) T {
	a := T(alignment)
	return (value + a - 1) &^ (a - 1)
}

func AlignDown[T constraints.Integer](value T, alignment uint) T {
	return value &^ (T(alignment) - 1)
}

func IsAligned(address uintptr, alignment uint) bool {
	return address&uintptr(alignment-1) == 0
}

// AddressOf returns the address of the first element of b's backing array. It is valid for zero-length
// slices as long as they have capacity.
func AddressOf(b []byte) uintptr {
	return uintptr(unsafe.Pointer(unsafe.SliceData(b)))
}
