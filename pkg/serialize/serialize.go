// Package serialize implements the wire format described by spec §4.9:
// every transferable value is an {datatype, data} envelope, and a
// process-wide registry of constructors rehydrates it on the receiving
// side. It is grounded on original_source's Transferable base class
// (theoden/common/transferables.py), translated from Python's
// __init_subclass__ registration into an explicit Go constructor registry
// assembled at startup, per spec §9's guidance on replacing global
// singletons with an explicit, process-scoped table.
package serialize

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"sort"
	"sync"
)

// Envelope is the on-wire {datatype, data} shape.
type Envelope struct {
	Datatype string          `json:"datatype"`
	Data     json.RawMessage `json:"data"`
}

// Constructor rehydrates a value from its construction data.
type Constructor func(data json.RawMessage) (any, error)

// Registry maps datatype names to constructors. It is safe for concurrent
// use; registration is expected at startup, lookups happen continuously.
type Registry struct {
	mu           sync.RWMutex
	constructors map[string]Constructor
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{constructors: make(map[string]Constructor)}
}

// Register adds a constructor for datatype. It panics on a duplicate
// registration, since duplicate datatype names indicate a programming
// error discoverable at process startup, not a runtime condition.
func (r *Registry) Register(datatype string, ctor Constructor) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.constructors[datatype]; exists {
		panic(fmt.Sprintf("serialize: duplicate registration for datatype %q", datatype))
	}
	r.constructors[datatype] = ctor
}

// Override replaces an existing (or absent) constructor for datatype. This
// is the startup-time "abstract command overwrite" mechanism from spec
// §9: call Override before building any operation program, and every
// subsequent Decode of that datatype constructs the replacement.
func (r *Registry) Override(datatype string, ctor Constructor) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.constructors[datatype] = ctor
}

// Decode looks up env.Datatype's constructor and invokes it with env.Data.
func (r *Registry) Decode(env Envelope) (any, error) {
	r.mu.RLock()
	ctor, ok := r.constructors[env.Datatype]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("serialize: unregistered datatype %q", env.Datatype)
	}
	return ctor(env.Data)
}

// Has reports whether datatype has a registered constructor.
func (r *Registry) Has(datatype string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.constructors[datatype]
	return ok
}

// Encode wraps a construction value into an Envelope tagged with datatype.
func Encode(datatype string, construction any) (Envelope, error) {
	data, err := json.Marshal(construction)
	if err != nil {
		return Envelope{}, fmt.Errorf("serialize: encode %q: %w", datatype, err)
	}
	return Envelope{Datatype: datatype, Data: data}, nil
}

// InitHash computes the deterministic "initialization hash" of a
// construction value: the SHA-256 hex digest of its JSON representation
// with object keys sorted. encoding/json already renders map keys in
// sorted order, so round-tripping through a map[string]any canonicalizes
// struct field order as a side effect.
func InitHash(construction any) (string, error) {
	raw, err := json.Marshal(construction)
	if err != nil {
		return "", fmt.Errorf("serialize: init hash: %w", err)
	}
	canon, err := canonicalize(raw)
	if err != nil {
		return "", fmt.Errorf("serialize: init hash: %w", err)
	}
	sum := sha256.Sum256(canon)
	return hex.EncodeToString(sum[:]), nil
}

// canonicalize re-marshals raw JSON so that every object's keys are sorted,
// recursively. json.Marshal of a map[string]any already sorts top-level
// keys; decoding into map[string]any/[]any and re-encoding extends that
// guarantee to nested objects.
func canonicalize(raw json.RawMessage) ([]byte, error) {
	var v any
	if err := json.Unmarshal(raw, &v); err != nil {
		return nil, err
	}
	return json.Marshal(sortedValue(v))
}

// sortedValue is a no-op for the json package's own encoding (maps are
// already sorted by key), retained as the single place that would need to
// change if a non-stdlib encoder were substituted.
func sortedValue(v any) any {
	switch t := v.(type) {
	case map[string]any:
		keys := make([]string, 0, len(t))
		for k := range t {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		out := make(map[string]any, len(t))
		for _, k := range keys {
			out[k] = sortedValue(t[k])
		}
		return out
	case []any:
		out := make([]any, len(t))
		for i, e := range t {
			out[i] = sortedValue(e)
		}
		return out
	default:
		return v
	}
}
