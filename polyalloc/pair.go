package polyalloc

// Pair is a two-part value whose parts are constructed independently
type Pair[T1, T2 any] struct {
	First  T1
	Second T2
}

// PiecewiseTag is the type of Piecewise
type PiecewiseTag struct{}

// Piecewise marks a pair construction that takes one argument bundle per part
var Piecewise PiecewiseTag

// ConstructPiecewise constructs target.First from x and target.Second from y, each classified and
// dispatched on its own as Construct does.
func ConstructPiecewise[T1, T2, A1, A2 any](alloc Handle, target *Pair[T1, T2], _ PiecewiseTag, x A1, y A2) {
	first := MustProtocol[T1, A1]()
	second := MustProtocol[T2, A2]()

	first.Construct(alloc, &target.First, x)
	second.Construct(alloc, &target.Second, y)
}

// ConstructPair constructs both parts of target from no arguments
func ConstructPair[T1, T2 any](alloc Handle, target *Pair[T1, T2]) {
	ConstructPiecewise(alloc, target, Piecewise, NoArgs{}, NoArgs{})
}

// ConstructPairFrom constructs target.First from u and target.Second from v
func ConstructPairFrom[T1, T2, U, V any](alloc Handle, target *Pair[T1, T2], u U, v V) {
	ConstructPiecewise(alloc, target, Piecewise, u, v)
}

// ConstructPairCopy constructs target's parts from the parts of an existing pair
func ConstructPairCopy[T1, T2, U, V any](alloc Handle, target *Pair[T1, T2], pair Pair[U, V]) {
	ConstructPiecewise(alloc, target, Piecewise, pair.First, pair.Second)
}
