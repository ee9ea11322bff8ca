package utils

import (
	"sync"
)

// Registry holds an inner map[K]V with a mutex to protect accesses.
//
// Callbacks passed to RegistryVisit & RegistryDeleteFunc run while the Registry lock is held,
// they must not call back into the Registry.
type Registry[K comparable, V any] struct {
	mut     sync.RWMutex
	entries map[K]V
}

// NewRegistry returns a Registry[K, V] pointer.
func NewRegistry[K comparable, V any]() *Registry[K, V] {
	return &Registry[K, V]{entries: make(map[K]V)}
}

// RegistrySet adds a new entry to the Registry. It errors if key is already in use.
func RegistrySet[K comparable, V any](registry *Registry[K, V], key K, value V) error {
	registry.mut.Lock()
	defer registry.mut.Unlock()
	_, conflict := registry.entries[key]
	if conflict {
		return NewError(0, nil, "key %v already in use", key)
	}
	registry.entries[key] = value
	return nil
}

// RegistryVisit calls fn with the value referenced by key while holding the Registry read lock.
// It returns false if key is not in the Registry, in which case fn is not called.
func RegistryVisit[K comparable, V any](registry *Registry[K, V], key K, fn func(V)) bool {
	registry.mut.RLock()
	defer registry.mut.RUnlock()
	rv, ok := registry.entries[key]
	if ok {
		fn(rv)
	}
	return ok
}

// RegistryDeleteFunc removes the entry referenced by key if match returns true for its value.
// match is called while holding the Registry write lock.
// It returns true if the entry was removed.
func RegistryDeleteFunc[K comparable, V any](registry *Registry[K, V], key K, match func(V) bool) bool {
	registry.mut.Lock()
	defer registry.mut.Unlock()
	rv, ok := registry.entries[key]
	if !ok || !match(rv) {
		return false
	}
	delete(registry.entries, key)
	return true
}

// RegistryLen returns the number of entries in the Registry.
func RegistryLen[K comparable, V any](registry *Registry[K, V]) int {
	registry.mut.RLock()
	defer registry.mut.RUnlock()
	return len(registry.entries)
}
