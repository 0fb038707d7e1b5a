package polyalloc

import (
	"fmt"
	"reflect"
	"sync"

	cerrors "github.com/cockroachdb/errors"
	"github.com/dolthub/swiss"
	"github.com/vkngwrapper/memres"
)

// AllocatorArgTag is the type of AllocatorArg
type AllocatorArgTag struct{}

// AllocatorArg is passed ahead of the handle to types that use the leading convention
var AllocatorArg AllocatorArgTag

// NoArgs is the argument bundle for constructing a value from nothing
type NoArgs struct{}

// AllocatorAware is implemented by types whose construction takes an allocator handle. Such a type must
// also implement LeadingConstructible or TrailingConstructible for every argument bundle it is
// constructed from. Declare that at the type, so that a missing method fails the build:
//
//	var _ polyalloc.TrailingConstructible[WidgetArgs] = (*Widget)(nil)
type AllocatorAware interface {
	UsesAllocator()
}

// Constructible is implemented by types that are not allocator-aware but initialize themselves from an
// argument bundle of type A.
type Constructible[A any] interface {
	Construct(args A)
}

// LeadingConstructible is implemented by allocator-aware types that take AllocatorArg and the handle
// ahead of their arguments.
type LeadingConstructible[A any] interface {
	AllocatorAware
	ConstructWithAllocatorArg(tag AllocatorArgTag, alloc Handle, args A)
}

// TrailingConstructible is implemented by allocator-aware types that take the handle after their
// arguments.
type TrailingConstructible[A any] interface {
	AllocatorAware
	ConstructWithAllocator(args A, alloc Handle)
}

// Convention is how a handle is passed into a type's construction
type Convention uint32

const (
	// ConventionNone means the type is not allocator-aware and the handle is ignored
	ConventionNone Convention = iota
	// ConventionLeading means the type receives AllocatorArg and the handle before its arguments
	ConventionLeading
	// ConventionTrailing means the type receives the handle after its arguments
	ConventionTrailing
)

var conventionMapping = map[Convention]string{
	ConventionNone:     "ConventionNone",
	ConventionLeading:  "ConventionLeading",
	ConventionTrailing: "ConventionTrailing",
}

func (c Convention) String() string {
	if name, ok := conventionMapping[c]; ok {
		return name
	}
	return fmt.Sprintf("Convention(%d)", uint32(c))
}

type directMode uint32

const (
	directInvalid directMode = iota
	directConstructible
	directAssign
	directZero
)

// Protocol is the construction of T from argument bundle A, classified once. Protocols for the types a
// package constructs can be computed in package-level variables with MustProtocol, so that an unusable
// combination stops the program during initialization.
type Protocol[T, A any] struct {
	convention Convention
	direct     directMode
}

func typeName[T any]() string {
	return typeOf[T]().String()
}

func typeOf[T any]() reflect.Type {
	return reflect.TypeOf((*T)(nil)).Elem()
}

type protocolKey struct {
	target reflect.Type
	args   reflect.Type
}

type classification struct {
	convention Convention
	direct     directMode
	err        error
}

// classifications remembers every (T, A) classified so far, so each pair is inspected once per process
var classifications = struct {
	mutex sync.RWMutex
	table *swiss.Map[protocolKey, classification]
}{table: swiss.NewMap[protocolKey, classification](32)}

func lookupClassification(key protocolKey) (classification, bool) {
	classifications.mutex.RLock()
	defer classifications.mutex.RUnlock()

	return classifications.table.Get(key)
}

func storeClassification(key protocolKey, c classification) {
	classifications.mutex.Lock()
	defer classifications.mutex.Unlock()

	classifications.table.Put(key, c)
}

// ProtocolFor classifies the construction of T from A. Classification takes the first of these that
// applies:
//  1. *T does not implement AllocatorAware: T is built from A alone, through Constructible[A] if *T
//     implements it, otherwise by assigning an A that is assignable to T, otherwise as the zero value
//     when A is NoArgs.
//  2. *T implements LeadingConstructible[A].
//  3. *T implements TrailingConstructible[A].
//
// Any other combination returns an error wrapping memres.ErrContractViolation. An allocator-aware type
// is never silently built without its allocator.
//
// The result for each (T, A) is computed once and remembered, so calling ProtocolFor, MustProtocol or
// Construct repeatedly costs a table lookup. Hot loops can still hold the returned Protocol to skip it.
func ProtocolFor[T, A any]() (Protocol[T, A], error) {
	key := protocolKey{target: typeOf[T](), args: typeOf[A]()}

	c, ok := lookupClassification(key)
	if !ok {
		c = classify[T, A]()
		storeClassification(key, c)
	}

	if c.err != nil {
		return Protocol[T, A]{}, c.err
	}
	return Protocol[T, A]{convention: c.convention, direct: c.direct}, nil
}

func classify[T, A any]() classification {
	var target any = (*T)(nil)

	if _, aware := target.(AllocatorAware); aware {
		if _, ok := target.(LeadingConstructible[A]); ok {
			return classification{convention: ConventionLeading}
		}
		if _, ok := target.(TrailingConstructible[A]); ok {
			return classification{convention: ConventionTrailing}
		}
		return classification{err: cerrors.Wrapf(memres.ErrContractViolation,
			"%s is allocator-aware but constructs from %s with neither a leading nor a trailing allocator",
			typeName[T](), typeName[A]())}
	}

	if _, ok := target.(Constructible[A]); ok {
		return classification{direct: directConstructible}
	}

	argType := typeOf[A]()
	if argType.AssignableTo(typeOf[T]()) {
		return classification{direct: directAssign}
	}
	if argType == reflect.TypeOf(NoArgs{}) {
		return classification{direct: directZero}
	}

	return classification{err: cerrors.Wrapf(memres.ErrContractViolation,
		"%s cannot be constructed from %s", typeName[T](), typeName[A]())}
}

// MustProtocol is ProtocolFor, panicking on error
func MustProtocol[T, A any]() Protocol[T, A] {
	protocol, err := ProtocolFor[T, A]()
	if err != nil {
		panic(err)
	}
	return protocol
}

// Classify returns the convention used to construct T from A
func Classify[T, A any]() (Convention, error) {
	protocol, err := ProtocolFor[T, A]()
	return protocol.convention, err
}

// Convention returns the way the handle is passed to T
func (p Protocol[T, A]) Convention() Convention {
	return p.convention
}

// Construct initializes *target from args, passing alloc according to the protocol's convention
func (p Protocol[T, A]) Construct(alloc Handle, target *T, args A) {
	switch p.convention {
	case ConventionLeading:
		any(target).(LeadingConstructible[A]).ConstructWithAllocatorArg(AllocatorArg, alloc, args)
	case ConventionTrailing:
		any(target).(TrailingConstructible[A]).ConstructWithAllocator(args, alloc)
	default:
		p.constructDirect(target, args)
	}
}

func (p Protocol[T, A]) constructDirect(target *T, args A) {
	switch p.direct {
	case directConstructible:
		any(target).(Constructible[A]).Construct(args)
	case directAssign:
		if value, ok := any(args).(T); ok {
			*target = value
			return
		}
		reflect.ValueOf(target).Elem().Set(reflect.ValueOf(&args).Elem())
	case directZero:
		var zero T
		*target = zero
	default:
		panic(cerrors.Wrapf(memres.ErrContractViolation, "unclassified construction of %s from %s", typeName[T](), typeName[A]()))
	}
}

// Construct initializes *target from args through the handle's construction protocol. It panics with an
// error wrapping memres.ErrContractViolation if T cannot be constructed from A; see ProtocolFor.
func Construct[T, A any](alloc Handle, target *T, args A) {
	MustProtocol[T, A]().Construct(alloc, target, args)
}

// ConstructLeading initializes *target through its leading convention. Unlike Construct, a type that
// does not implement LeadingConstructible[A] fails to compile.
func ConstructLeading[T, A any, PT interface {
	*T
	LeadingConstructible[A]
}](alloc Handle, target PT, args A) {
	target.ConstructWithAllocatorArg(AllocatorArg, alloc, args)
}

// ConstructTrailing initializes *target through its trailing convention. Unlike Construct, a type that
// does not implement TrailingConstructible[A] fails to compile.
func ConstructTrailing[T, A any, PT interface {
	*T
	TrailingConstructible[A]
}](alloc Handle, target PT, args A) {
	target.ConstructWithAllocator(args, alloc)
}

// Destroyer is implemented by types that hold resources that must be released when they are destroyed
type Destroyer interface {
	Destroy()
}

// Destroy ends the lifetime of *target: it calls Destroy if *T implements Destroyer and then zeroes
// *target. It does not deallocate the storage target points into.
func Destroy[T any](target *T) {
	if d, ok := any(target).(Destroyer); ok {
		d.Destroy()
	}

	var zero T
	*target = zero
}
