// Package registry implements the ResourceRegistry described in spec §4.5:
// a hierarchical key/value namespace addressed by colon-delimited paths
// ("a:b:c" means sub-registry a, sub-registry b, key c). Values are stored
// and returned untyped: Set and Get perform no type check, and a caller
// type-asserts the value Get returns itself. There is no pack library for a typed nested namespace like
// this — it is built directly from the operations the spec names
// (set/get/remove/contains/copy/get_all_of_type), shaped like the
// teacher's pkg/storage.Store interface-per-entity style but generalized
// to arbitrary depth. See DESIGN.md for the standard-library
// justification.
package registry

import (
	"fmt"
	"strings"
	"sync"

	"github.com/lattice-fl/lattice/pkg/errs"
)

// Well-known top-level keys, preserved from spec §4.5.
const (
	KeyWatcher          = "__watcher__"
	KeyStorage           = "__storage__"
	KeyCheckpoints       = "__checkpoints__"
	KeyClientCheckpoints = "__client_checkpoints__"
	KeyDevice            = "device"
)

type entry struct {
	value   any
	isChild bool
}

// Registry is one level of the hierarchical namespace. The zero value is
// not usable; construct with New.
type Registry struct {
	mu            sync.RWMutex
	order         []string
	entries       map[string]entry
	defaultSubNew func() *Registry
}

// New returns an empty registry. defaultSubNew, if non-nil, is used to
// auto-create intermediate sub-registries encountered while walking a
// path that has no existing entry yet; it lets a parent declare what kind
// of child a bare path segment should become (e.g. a checkpoint-manager
// sub-registry that seeds itself with typed stores). A nil defaultSubNew
// auto-creates plain registries.
func New(defaultSubNew func() *Registry) *Registry {
	return &Registry{
		entries:       make(map[string]entry),
		defaultSubNew: defaultSubNew,
	}
}

func splitPath(path string) []string {
	return strings.Split(path, ":")
}

// navigate walks all but the last segment of path, auto-creating
// sub-registries as needed, and returns the registry owning the final
// segment plus that segment's key.
func (r *Registry) navigate(path string, create bool) (*Registry, string, error) {
	segs := splitPath(path)
	cur := r
	for _, seg := range segs[:len(segs)-1] {
		cur.mu.Lock()
		e, ok := cur.entries[seg]
		if !ok {
			if !create {
				cur.mu.Unlock()
				return nil, "", fmt.Errorf("registry: %q: %w", path, errs.ErrNotFound)
			}
			var child *Registry
			if cur.defaultSubNew != nil {
				child = cur.defaultSubNew()
			} else {
				child = New(nil)
			}
			cur.order = append(cur.order, seg)
			cur.entries[seg] = entry{value: child, isChild: true}
			cur.mu.Unlock()
			cur = child
			continue
		}
		cur.mu.Unlock()
		if !e.isChild {
			return nil, "", fmt.Errorf("registry: %q: segment %q is a leaf, not a sub-registry", path, seg)
		}
		cur = e.value.(*Registry)
	}
	return cur, segs[len(segs)-1], nil
}

// Set stores value at path. It performs no type check on value; it only
// enforces overwrite semantics. overwrite=false returns ErrConflict if the
// key already holds a value.
func (r *Registry) Set(path string, value any, overwrite bool) error {
	parent, key, err := r.navigate(path, true)
	if err != nil {
		return err
	}
	parent.mu.Lock()
	defer parent.mu.Unlock()
	if _, exists := parent.entries[key]; exists && !overwrite {
		return fmt.Errorf("registry: %q already set: %w", path, errs.ErrConflict)
	}
	if _, exists := parent.entries[key]; !exists {
		parent.order = append(parent.order, key)
	}
	parent.entries[key] = entry{value: value}
	return nil
}

// SetSub installs an existing *Registry as a named sub-registry at path,
// so callers (e.g. a checkpoint manager mounting a typed store) can wire
// up pre-built children rather than relying on auto-creation.
func (r *Registry) SetSub(path string, child *Registry) error {
	parent, key, err := r.navigate(path, true)
	if err != nil {
		return err
	}
	parent.mu.Lock()
	defer parent.mu.Unlock()
	if _, exists := parent.entries[key]; !exists {
		parent.order = append(parent.order, key)
	}
	parent.entries[key] = entry{value: child, isChild: true}
	return nil
}

// Get returns the value at path. If the path is absent, Get returns def
// when hasDefault is true and ErrNotFound otherwise.
func (r *Registry) Get(path string, def any, hasDefault bool) (any, error) {
	parent, key, err := r.navigate(path, false)
	if err != nil {
		if hasDefault {
			return def, nil
		}
		return nil, err
	}
	parent.mu.RLock()
	e, ok := parent.entries[key]
	parent.mu.RUnlock()
	if !ok {
		if hasDefault {
			return def, nil
		}
		return nil, fmt.Errorf("registry: %q: %w", path, errs.ErrNotFound)
	}
	return e.value, nil
}

// Remove deletes the value at path.
func (r *Registry) Remove(path string) error {
	parent, key, err := r.navigate(path, false)
	if err != nil {
		return err
	}
	parent.mu.Lock()
	defer parent.mu.Unlock()
	if _, ok := parent.entries[key]; !ok {
		return fmt.Errorf("registry: %q: %w", path, errs.ErrNotFound)
	}
	delete(parent.entries, key)
	for i, k := range parent.order {
		if k == key {
			parent.order = append(parent.order[:i], parent.order[i+1:]...)
			break
		}
	}
	return nil
}

// Contains reports whether path resolves to a value.
func (r *Registry) Contains(path string) bool {
	parent, key, err := r.navigate(path, false)
	if err != nil {
		return false
	}
	parent.mu.RLock()
	defer parent.mu.RUnlock()
	_, ok := parent.entries[key]
	return ok
}

// Copy duplicates the value at src to dst (shallow: sub-registries are
// copied by reference, matching the spec's description of copy as moving
// a resource handle, not deep-cloning state).
func (r *Registry) Copy(src, dst string) error {
	v, err := r.Get(src, nil, false)
	if err != nil {
		return err
	}
	return r.Set(dst, v, true)
}

// GetAllOfType returns every top-level leaf value in this registry
// (insertion order) for which match(value) is true. It does not recurse
// into sub-registries, matching the spec's framing of get_all_of_type as
// a single-level scan over one registry's declared contents.
func (r *Registry) GetAllOfType(match func(v any) bool) []any {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]any, 0)
	for _, k := range r.order {
		e := r.entries[k]
		if e.isChild {
			continue
		}
		if match(e.value) {
			out = append(out, e.value)
		}
	}
	return out
}

// Keys returns the insertion-ordered keys at this level.
func (r *Registry) Keys() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, len(r.order))
	copy(out, r.order)
	return out
}
