package memres

import "sync/atomic"

type resourceSlot struct {
	resource Resource
}

var defaultResource atomic.Pointer[resourceSlot]

// GetDefault returns the process-wide default resource. Until SetDefault is first called, this is
// NewDelete().
func GetDefault() Resource {
	if slot := defaultResource.Load(); slot != nil {
		return slot.resource
	}

	defaultResource.CompareAndSwap(nil, &resourceSlot{resource: NewDelete()})
	return defaultResource.Load().resource
}

// SetDefault installs r as the process-wide default resource and returns the resource that was installed
// before. A nil r installs NewDelete(). Allocations already in flight against the previous default are not
// synchronized with the swap.
func SetDefault(r Resource) Resource {
	if r == nil {
		r = NewDelete()
	}

	old := defaultResource.Swap(&resourceSlot{resource: r})
	if old == nil {
		return NewDelete()
	}
	return old.resource
}
