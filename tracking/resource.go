// Package tracking provides a resource that forwards to an upstream resource while recording every live
// allocation, so that the allocate/deallocate contract other resources leave unchecked can be verified
// in tests and diagnostics.
package tracking

import (
	"sort"

	cerrors "github.com/cockroachdb/errors"
	"github.com/dolthub/swiss"
	"github.com/hashicorp/go-multierror"
	"github.com/launchdarkly/go-jsonstream/v3/jwriter"
	"github.com/vkngwrapper/memres"
	"github.com/vkngwrapper/memres/internal/utils"
	"golang.org/x/exp/slog"
)

// CreateOptions contains optional settings when creating a Resource
type CreateOptions struct {
	// ExternallySynchronized disables the internal mutex. The consumer must then guarantee the resource is
	// used from only one goroutine at a time.
	ExternallySynchronized bool
	// Logger receives contract violations as they are detected. slog.Default() is used when nil.
	Logger *slog.Logger
}

// Allocation describes a live allocation made through a tracking Resource
type Allocation struct {
	Address   uintptr
	Size      int
	Alignment uint
	// Sequence is the order in which the allocation was made, starting at zero
	Sequence int
}

// Counters are running totals of calls made through a tracking Resource
type Counters struct {
	AllocateCalls   int
	DeallocateCalls int
	FailedAllocates int
	PeakBytes       int
}

// Resource forwards to an upstream resource and records every live allocation. Deallocations that do
// not match a live allocation are recorded as contract violations and are not forwarded upstream.
type Resource struct {
	mutex    utils.OptionalRWMutex
	logger   *slog.Logger
	upstream memres.Resource

	live          *swiss.Map[uintptr, Allocation]
	liveZeroBytes int
	nextSequence  int
	findings      []error
	counters      Counters
	stats         memres.Statistics
}

var _ memres.Resource = &Resource{}

// New creates a tracking Resource over upstream. A nil upstream uses the current default resource.
func New(upstream memres.Resource, options CreateOptions) *Resource {
	if upstream == nil {
		upstream = memres.GetDefault()
	}

	logger := options.Logger
	if logger == nil {
		logger = slog.Default()
	}

	r := &Resource{
		logger:   logger,
		upstream: upstream,
		live:     swiss.NewMap[uintptr, Allocation](16),
	}
	r.mutex.Synchronize(!options.ExternallySynchronized)
	return r
}

// Upstream returns the resource allocations are forwarded to
func (r *Resource) Upstream() memres.Resource {
	return r.upstream
}

func (r *Resource) Allocate(bytes int, alignment uint) ([]byte, error) {
	p, err := r.upstream.Allocate(bytes, alignment)

	r.mutex.Lock()
	defer r.mutex.Unlock()

	r.counters.AllocateCalls++
	if err != nil {
		r.counters.FailedAllocates++
		return nil, err
	}

	if bytes > 0 && !memres.IsAligned(memres.AddressOf(p), alignment) {
		r.record(cerrors.Newf("upstream returned %#x for an allocation aligned to %d", memres.AddressOf(p), alignment))
	}

	allocation := Allocation{
		Address:   memres.AddressOf(p),
		Size:      bytes,
		Alignment: alignment,
		Sequence:  r.nextSequence,
	}
	r.nextSequence++

	if bytes == 0 {
		r.liveZeroBytes++
	} else {
		if previous, exists := r.live.Get(allocation.Address); exists {
			r.record(cerrors.Newf("upstream returned %#x while allocation %d of %d bytes at that address is still live",
				allocation.Address, previous.Sequence, previous.Size))
		}
		r.live.Put(allocation.Address, allocation)
	}

	r.stats.AddAllocation(bytes)
	if r.stats.AllocationBytes > r.counters.PeakBytes {
		r.counters.PeakBytes = r.stats.AllocationBytes
	}
	return p, nil
}

func (r *Resource) Deallocate(p []byte, bytes int, alignment uint) {
	r.mutex.Lock()
	forward := r.untrack(p, bytes, alignment)
	r.mutex.Unlock()

	if forward {
		r.upstream.Deallocate(p, bytes, alignment)
	}
}

func (r *Resource) untrack(p []byte, bytes int, alignment uint) bool {
	r.counters.DeallocateCalls++

	if bytes == 0 {
		if r.liveZeroBytes == 0 {
			r.record(cerrors.Wrap(memres.ErrContractViolation, "deallocate of a zero-byte region when none are live"))
			return false
		}
		r.liveZeroBytes--
		r.stats.AllocationCount--
		return true
	}

	address := memres.AddressOf(p)
	allocation, ok := r.live.Get(address)
	if !ok {
		r.record(cerrors.Wrapf(memres.ErrContractViolation, "deallocate of %d bytes at %#x, which is not a live allocation", bytes, address))
		return false
	}

	if allocation.Size != bytes || allocation.Alignment != alignment {
		r.record(cerrors.Wrapf(memres.ErrContractViolation,
			"deallocate of allocation %d at %#x with %d bytes aligned to %d, but it was allocated with %d bytes aligned to %d",
			allocation.Sequence, address, bytes, alignment, allocation.Size, allocation.Alignment))
		return false
	}

	r.live.Delete(address)
	r.stats.AllocationCount--
	r.stats.AllocationBytes -= bytes
	return true
}

func (r *Resource) record(err error) {
	r.logger.Error("TrackingResource contract violation", slog.Any("error", err))
	r.findings = append(r.findings, err)
}

// IsEqual returns true only for this same instance
func (r *Resource) IsEqual(other memres.Resource) bool {
	return memres.Resource(r) == other
}

// Validate returns every contract violation recorded so far, combined into a single error, or nil if
// there were none.
func (r *Resource) Validate() error {
	r.mutex.RLock()
	defer r.mutex.RUnlock()

	var result *multierror.Error
	for _, finding := range r.findings {
		result = multierror.Append(result, finding)
	}

	if liveCount := r.live.Count() + r.liveZeroBytes; liveCount != r.stats.AllocationCount {
		result = multierror.Append(result, cerrors.AssertionFailedf("%d live allocations are tracked, but statistics record %d", liveCount, r.stats.AllocationCount))
	}

	return result.ErrorOrNil()
}

// CheckLeaks returns an error for every allocation that is still live, or nil if there are none
func (r *Resource) CheckLeaks() error {
	var result *multierror.Error
	for _, allocation := range r.Leaks() {
		result = multierror.Append(result, cerrors.Newf("allocation %d of %d bytes aligned to %d at %#x was never deallocated",
			allocation.Sequence, allocation.Size, allocation.Alignment, allocation.Address))
	}

	r.mutex.RLock()
	zeroBytes := r.liveZeroBytes
	r.mutex.RUnlock()
	if zeroBytes > 0 {
		result = multierror.Append(result, cerrors.Newf("%d zero-byte allocations were never deallocated", zeroBytes))
	}

	return result.ErrorOrNil()
}

// Leaks returns the allocations with a non-zero size that are still live, in the order they were made
func (r *Resource) Leaks() []Allocation {
	r.mutex.RLock()
	defer r.mutex.RUnlock()

	leaks := make([]Allocation, 0, r.live.Count())
	r.live.Iter(func(_ uintptr, allocation Allocation) bool {
		leaks = append(leaks, allocation)
		return false
	})

	sort.Slice(leaks, func(i, j int) bool {
		return leaks[i].Sequence < leaks[j].Sequence
	})
	return leaks
}

// Counters returns running totals of the calls made through this resource
func (r *Resource) Counters() Counters {
	r.mutex.RLock()
	defer r.mutex.RUnlock()

	return r.counters
}

// Statistics returns the count and size of live allocations
func (r *Resource) Statistics() memres.Statistics {
	r.mutex.RLock()
	defer r.mutex.RUnlock()

	return r.stats
}

// BuildStatsString returns a json document describing the calls made through this resource and the
// allocations that are still live
func (r *Resource) BuildStatsString() string {
	leaks := r.Leaks()

	r.mutex.RLock()
	defer r.mutex.RUnlock()

	writer := jwriter.NewWriter()
	obj := writer.Object()
	obj.Name("AllocateCalls").Int(r.counters.AllocateCalls)
	obj.Name("DeallocateCalls").Int(r.counters.DeallocateCalls)
	obj.Name("FailedAllocates").Int(r.counters.FailedAllocates)
	obj.Name("PeakBytes").Int(r.counters.PeakBytes)
	obj.Name("Violations").Int(len(r.findings))
	obj.Name("Allocations").Int(r.stats.AllocationCount)
	obj.Name("AllocationBytes").Int(r.stats.AllocationBytes)

	live := obj.Name("Live").Array()
	for _, allocation := range leaks {
		o := live.Object()
		o.Name("Sequence").Int(allocation.Sequence)
		o.Name("Size").Int(allocation.Size)
		o.Name("Alignment").Int(int(allocation.Alignment))
		o.End()
	}
	live.End()
	obj.End()

	return string(writer.Bytes())
}
