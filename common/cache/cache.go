package cache

import (
	"fmt"

	"github.com/dgraph-io/ristretto/v2"
)

// Backend defines interface for a Backend
type Backend[K ristretto.Key, V any] interface {
	Get(key K) (V, bool)
	Set(key K, value V) bool
	Del(key K)
}

// ristrettoCacheBackend is a RistrettoCache implemenentation of Backend
type ristrettoCacheBackend[K ristretto.Key, V any] struct {
	c *ristretto.Cache[K, V]
}

// Get a value from the cache
func (rcb *ristrettoCacheBackend[K, V]) Get(key K) (V, bool) { //nolint:ireturn
	return rcb.c.Get(key)
}

// Set a value in the cache.  The value is visible to Get once Set returns.
func (rcb *ristrettoCacheBackend[K, V]) Set(key K, value V) bool {
	ok := rcb.c.Set(key, value, 1)
	rcb.c.Wait()
	return ok
}

// Del removes a value from the cache
func (rcb *ristrettoCacheBackend[K, V]) Del(key K) {
	rcb.c.Del(key)
}

// NewRistrettoCacheBackend construct an instance of a ristrettoCacheBackend
func NewRistrettoCacheBackend[K ristretto.Key, V any]() (*ristrettoCacheBackend[K, V], error) {
	cache, err := ristretto.NewCache(
		&ristretto.Config[K, V]{
			NumCounters: 1e5,
			MaxCost:     1 << 14,
			BufferItems: 64,
		})
	if err != nil {
		return nil, fmt.Errorf("error initialising ristretto cache: %w", err)
	}
	return &ristrettoCacheBackend[K, V]{c: cache}, nil
}

// Cache provides typed read-through caching over a Backend.
type Cache[K ristretto.Key] struct {
	backend Backend[K, any]
}

// New constructs a Cache over a backend.
func New[K ristretto.Key](backend Backend[K, any]) *Cache[K] {
	return &Cache[K]{backend: backend}
}

// Get a value from the cache
func (c *Cache[K]) Get(key K) (any, bool) {
	return c.backend.Get(key)
}

// Set a value in the cache
func (c *Cache[K]) Set(key K, value any) bool {
	return c.backend.Set(key, value)
}

// Del removes a value from the cache
func (c *Cache[K]) Del(key K) {
	c.backend.Del(key)
}

// Cacheable makes a function cacheable by the given key
//
//nolint:ireturn
func Cacheable[K ristretto.Key, V any](key K, fn func() (V, error), c Backend[K, any]) (V, error) {
	var val V
	tmpVal, cacheHit := c.Get(key)
	if cacheHit {
		if v, ok := tmpVal.(V); ok {
			return v, nil
		}
	}
	retrievedVal, err := fn()
	if err != nil {
		return val, fmt.Errorf("error retrieving cacheable value for key %v: %w", key, err)
	}
	c.Set(key, retrievedVal)
	return retrievedVal, nil
}
