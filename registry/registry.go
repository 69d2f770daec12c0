// Package registry implements the process-wide mapping from a unique
// group name to a group handle, plus group-id allocation (spec.md §4.2).
//
// Unlike a package-level var with a hidden init(), the registry is an
// explicit singleton constructed by New() (design note "Global mutable
// state"): callers own its lifetime and can construct an isolated
// registry per test.
package registry

import (
	"sync"

	"github.com/nautilus-aerokernel/threadgroup/common/errkind"
	"github.com/nautilus-aerokernel/threadgroup/common/logging"
	"github.com/nautilus-aerokernel/threadgroup/common/metrics"
)

var logger = logging.GetLogger("registry")

// Handle is the minimal view of a group the registry needs: a unique
// name, a monotonic id, and a way to ask whether it is empty before
// allowing Delete to unlink it. The group package's *group.Group
// satisfies this.
type Handle interface {
	Name() string
	ID() uint64
	Size() int
}

// Registry is the process-wide group directory.
type Registry struct {
	mu     sync.Mutex
	byName map[string]Handle
	order  []Handle
	nextID uint64
}

// New constructs an empty Registry.
func New() *Registry {
	return &Registry{
		byName: make(map[string]Handle),
	}
}

// NextGroupID allocates the next group id from a monotonic counter.
// spec.md phrases allocation as "(max existing id) + 1 (0 if empty)";
// a counter that never decreases gives the same sequence for a registry
// that only ever grows, and additionally never reissues an id after a
// Delete, which a literal max-scan would do (DESIGN.md).
func (r *Registry) NextGroupID() uint64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.nextIDLocked()
}

func (r *Registry) nextIDLocked() uint64 {
	id := r.nextID
	r.nextID++
	return id
}

// Add publishes h under its Name(), rejecting a duplicate name.
func (r *Registry) Add(h Handle) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.byName[h.Name()]; exists {
		return errkind.Newf(errkind.AllocFail, "group %q already exists", h.Name())
	}

	r.byName[h.Name()] = h
	r.order = append(r.order, h)
	metrics.GroupsLive.Set(float64(len(r.order)))

	logger.Debug("group registered", "name", h.Name(), "id", h.ID())
	return nil
}

// Find looks up a group by name.
func (r *Registry) Find(name string) (Handle, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	h, ok := r.byName[name]
	if !ok {
		return nil, errkind.Newf(errkind.NotFound, "group %q", name)
	}
	return h, nil
}

// Delete removes h from the registry, refusing if it is non-empty.
func (r *Registry) Delete(h Handle) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if h.Size() != 0 {
		return errkind.Newf(errkind.NotEmpty, "group %q has %d members", h.Name(), h.Size())
	}

	existing, ok := r.byName[h.Name()]
	if !ok || existing != h {
		return errkind.Newf(errkind.NotFound, "group %q", h.Name())
	}

	delete(r.byName, h.Name())
	for i, cur := range r.order {
		if cur == h {
			r.order = append(r.order[:i], r.order[i+1:]...)
			break
		}
	}
	metrics.GroupsLive.Set(float64(len(r.order)))

	logger.Debug("group deleted", "name", h.Name(), "id", h.ID())
	return nil
}

// NumGroups returns the current count of live groups.
func (r *Registry) NumGroups() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.order)
}
