// Package provider implements a uniform interface over embedding and
// chat providers with capability-based dispatch, plus the generic registry
// both concrete registries (embedding.Registry, chat.Registry) build on.
package provider

import (
	"fmt"

	lru "github.com/hashicorp/golang-lru/v2"
)

// maxCachedProviders bounds the number of tenant+config provider instances
// held in memory at once; this complements the Redis-backed session cache
// tier rather than replacing it (that tier holds session/document state,
// not live provider clients).
const maxCachedProviders = 256

// Registry is a thread-safe, bounded name->instance table backed by an LRU
// cache, so a deployment with many tenants or frequent provider/model
// switches can't grow this cache without bound.
type Registry[T any] struct {
	cache *lru.Cache[string, T]
}

func NewRegistry[T any]() *Registry[T] {
	cache, err := lru.New[string, T](maxCachedProviders)
	if err != nil {
		// Only returns an error for a non-positive size, which
		// maxCachedProviders never is.
		panic(fmt.Sprintf("provider: failed to construct LRU cache: %v", err))
	}
	return &Registry[T]{cache: cache}
}

func (r *Registry[T]) Register(name string, item T) error {
	if name == "" {
		return fmt.Errorf("name cannot be empty")
	}
	r.cache.Add(name, item)
	return nil
}

func (r *Registry[T]) Get(name string) (T, bool) {
	return r.cache.Get(name)
}

func (r *Registry[T]) Remove(name string) {
	r.cache.Remove(name)
}

func (r *Registry[T]) Count() int {
	return r.cache.Len()
}
