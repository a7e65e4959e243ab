// Package syncx provides extended synchronization primitives
package syncx

import (
	"context"
	"sync"
)

// Registry tracks live members, such as open connections, and lets an owner
// stop admitting new ones and wait for the rest to leave.
type Registry[K comparable] struct {
	mu      sync.RWMutex
	members map[K]struct{}
	closed  bool
	wg      sync.WaitGroup
}

// NewRegistry creates an empty registry.
func NewRegistry[K comparable]() *Registry[K] {
	return &Registry[K]{members: make(map[K]struct{})}
}

// Add admits k. It returns false once Close has been called.
func (r *Registry[K]) Add(k K) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return false
	}
	if _, ok := r.members[k]; ok {
		return true
	}
	r.members[k] = struct{}{}
	r.wg.Add(1)
	return true
}

// Remove drops k. Removing an unknown member is a no-op.
func (r *Registry[K]) Remove(k K) {
	r.mu.Lock()
	_, ok := r.members[k]
	delete(r.members, k)
	r.mu.Unlock()
	if ok {
		r.wg.Done()
	}
}

// Len returns the number of members.
func (r *Registry[K]) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.members)
}

// Each calls fn for every member while holding the read lock. fn must not
// call back into the registry.
func (r *Registry[K]) Each(fn func(K)) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for k := range r.members {
		fn(k)
	}
}

// Close stops admitting members and returns how many are still registered.
func (r *Registry[K]) Close() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.closed = true
	return len(r.members)
}

// Wait blocks until every member has been removed or ctx is done.
func (r *Registry[K]) Wait(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		r.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
