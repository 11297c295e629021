// Package registry holds the set of currently-connected worker handles.
package registry

import (
	"sync"

	"github.com/taskforge/dispatchd/pkg/types"
)

// Handle is the subset of dispatch.Handle the registry and dispatcher need
// without importing the dispatch package, avoiding an import cycle since
// dispatch.Handle itself is registered here.
type Handle interface {
	ID() string
	Info() types.WorkerInfo
	CanHandle(kind types.Kind) bool
	IsIdle() bool
	SendTask(task *types.Task) error
}

// Registry is a concurrent map of worker id to handle.
type Registry struct {
	mu      sync.RWMutex
	handles map[string]Handle
}

// New returns an empty registry.
func New() *Registry {
	return &Registry{handles: make(map[string]Handle)}
}

// Add registers a handle under its own id.
func (r *Registry) Add(h Handle) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.handles[h.ID()] = h
}

// Remove unregisters a handle by id.
func (r *Registry) Remove(id string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.handles, id)
}

// Get returns the handle registered under id, if any.
func (r *Registry) Get(id string) (Handle, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	h, ok := r.handles[id]
	return h, ok
}

// Snapshot returns a stable slice of the currently-registered handles,
// safe to range over even while Add/Remove run concurrently.
func (r *Registry) Snapshot() []Handle {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Handle, 0, len(r.handles))
	for _, h := range r.handles {
		out = append(out, h)
	}
	return out
}

// Count returns the number of registered handles.
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.handles)
}

// FindIdleFor scans the registry for the first idle, capable handle, in
// the order Snapshot produces, which follows map iteration and so is not
// fixed between calls. Returns false if none match.
func (r *Registry) FindIdleFor(kind types.Kind) (Handle, bool) {
	for _, h := range r.Snapshot() {
		if h.IsIdle() && h.CanHandle(kind) {
			return h, true
		}
	}
	return nil, false
}

// AnyClaims reports whether any registered handle declares kind among its
// capabilities, regardless of current idle/busy status. The dispatcher
// uses this to decide whether an unassignable head task is merely
// waiting for a busy worker to free up, or is permanently unroutable.
func (r *Registry) AnyClaims(kind types.Kind) bool {
	for _, h := range r.Snapshot() {
		if h.CanHandle(kind) {
			return true
		}
	}
	return false
}
