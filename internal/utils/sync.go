// Package utils holds synchronization helpers shared by the resource implementations.
package utils

import (
	"sync"
)

// OptionalMutex guards a resource whose internal synchronization is chosen when it is created. Until
// Synchronize(true) is called, Lock and Unlock do nothing and the owner must be used from one goroutine
// at a time.
type OptionalMutex struct {
	mutex        sync.Mutex
	synchronized bool
}

// Synchronize turns locking on or off. It must be called before the owner is shared.
func (m *OptionalMutex) Synchronize(synchronized bool) {
	m.synchronized = synchronized
}

func (m *OptionalMutex) Synchronized() bool {
	return m.synchronized
}

func (m *OptionalMutex) Lock() {
	if m.synchronized {
		m.mutex.Lock()
	}
}

func (m *OptionalMutex) Unlock() {
	if m.synchronized {
		m.mutex.Unlock()
	}
}

// OptionalRWMutex is OptionalMutex with shared read locks
type OptionalRWMutex struct {
	mutex        sync.RWMutex
	synchronized bool
}

func (m *OptionalRWMutex) Synchronize(synchronized bool) {
	m.synchronized = synchronized
}

func (m *OptionalRWMutex) Synchronized() bool {
	return m.synchronized
}

func (m *OptionalRWMutex) Lock() {
	if m.synchronized {
		m.mutex.Lock()
	}
}

func (m *OptionalRWMutex) Unlock() {
	if m.synchronized {
		m.mutex.Unlock()
	}
}

func (m *OptionalRWMutex) RLock() {
	if m.synchronized {
		m.mutex.RLock()
	}
}

func (m *OptionalRWMutex) RUnlock() {
	if m.synchronized {
		m.mutex.RUnlock()
	}
}
