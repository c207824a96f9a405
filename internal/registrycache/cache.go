// Package registrycache implements the Registry Cache: an LRU of
// configured capacity over schema metadata, with concurrent-miss
// deduplication and a background invalidation-stream consumer.
package registrycache

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/singleflight"

	"github.com/commondatalayer/cdl/internal/cdl"
)

// Fetcher retrieves schema metadata from the backing registry on a cache
// miss.
type Fetcher interface {
	Get(ctx context.Context, schemaID uuid.UUID) (cdl.SchemaMetadata, error)
}

// Invalidations yields schema updates pushed by the registry, consumed by
// the cache's background refresh task.
type Invalidations interface {
	Subscribe(ctx context.Context) (<-chan cdl.SchemaMetadata, <-chan error)
}

type entry struct {
	value     cdl.SchemaMetadata
	expiresAt time.Time
}

// Cache is an LRU+TTL cache of schema metadata, grounded on
// axonops-axonops-schema-registry's internal/cache.Cache but specialized
// to cdl.SchemaMetadata and backed by a Fetcher for miss resolution.
type Cache struct {
	mu       sync.Mutex
	capacity int
	ttl      time.Duration
	items    map[uuid.UUID]*entry
	order    []uuid.UUID

	fetcher Fetcher
	group   singleflight.Group

	// OnFatal is invoked from the invalidation-consuming goroutine when
	// the stream drops; the process is expected to restart rather than
	// keep serving potentially stale data.
	OnFatal func(error)
}

// New creates a Cache of the given capacity and per-entry TTL, backed by
// fetcher for cache misses.
func New(capacity int, ttl time.Duration, fetcher Fetcher) *Cache {
	return &Cache{
		capacity: capacity,
		ttl:      ttl,
		items:    make(map[uuid.UUID]*entry),
		fetcher:  fetcher,
	}
}

// Get returns cached metadata for schemaID, fetching synchronously from
// the backing registry on a miss. Concurrent misses for the same key
// collapse into a single fetch via singleflight.
func (c *Cache) Get(ctx context.Context, schemaID uuid.UUID) (cdl.SchemaMetadata, error) {
	if v, ok := c.lookup(schemaID); ok {
		return v, nil
	}

	v, err, _ := c.group.Do(schemaID.String(), func() (interface{}, error) {
		if v, ok := c.lookup(schemaID); ok {
			return v, nil
		}
		fetched, err := c.fetcher.Get(ctx, schemaID)
		if err != nil {
			return cdl.SchemaMetadata{}, err
		}
		c.insert(schemaID, fetched)
		return fetched, nil
	})
	if err != nil {
		return cdl.SchemaMetadata{}, fmt.Errorf("registrycache: fetch %s: %w", schemaID, err)
	}
	return v.(cdl.SchemaMetadata), nil
}

func (c *Cache) lookup(schemaID uuid.UUID) (cdl.SchemaMetadata, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	e, ok := c.items[schemaID]
	if !ok {
		return cdl.SchemaMetadata{}, false
	}
	if c.ttl > 0 && time.Now().After(e.expiresAt) {
		c.removeLocked(schemaID)
		return cdl.SchemaMetadata{}, false
	}
	c.moveToEndLocked(schemaID)
	return e.value, true
}

func (c *Cache) insert(schemaID uuid.UUID, v cdl.SchemaMetadata) {
	c.mu.Lock()
	defer c.mu.Unlock()

	exp := time.Time{}
	if c.ttl > 0 {
		exp = time.Now().Add(c.ttl)
	}

	if _, exists := c.items[schemaID]; exists {
		c.items[schemaID] = &entry{value: v, expiresAt: exp}
		c.moveToEndLocked(schemaID)
		return
	}

	if c.capacity > 0 && len(c.items) >= c.capacity {
		c.evictOldestLocked()
	}
	c.items[schemaID] = &entry{value: v, expiresAt: exp}
	c.order = append(c.order, schemaID)
}

// Replace updates an existing entry in place. Entries not already cached
// are ignored — the spec's invalidation handling only refreshes present
// entries, never pre-populates the cache from the update stream.
func (c *Cache) Replace(schemaID uuid.UUID, v cdl.SchemaMetadata) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.items[schemaID]; !ok {
		return
	}
	exp := time.Time{}
	if c.ttl > 0 {
		exp = time.Now().Add(c.ttl)
	}
	c.items[schemaID] = &entry{value: v, expiresAt: exp}
	c.moveToEndLocked(schemaID)
}

func (c *Cache) evictOldestLocked() {
	if len(c.order) == 0 {
		return
	}
	oldest := c.order[0]
	c.order = c.order[1:]
	delete(c.items, oldest)
}

func (c *Cache) moveToEndLocked(schemaID uuid.UUID) {
	c.removeFromOrderLocked(schemaID)
	c.order = append(c.order, schemaID)
}

func (c *Cache) removeLocked(schemaID uuid.UUID) {
	delete(c.items, schemaID)
	c.removeFromOrderLocked(schemaID)
}

func (c *Cache) removeFromOrderLocked(schemaID uuid.UUID) {
	for i, id := range c.order {
		if id == schemaID {
			c.order = append(c.order[:i], c.order[i+1:]...)
			break
		}
	}
}

// Size returns the number of entries currently cached.
func (c *Cache) Size() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.items)
}

// ErrInvalidationStreamClosed is delivered to OnFatal when the
// invalidation subscription ends without an explicit error.
var ErrInvalidationStreamClosed = errors.New("registrycache: invalidation stream closed")

// Watch runs the background invalidation consumer until ctx is
// cancelled. On stream failure (or unexpected close) it calls OnFatal
// once and returns, per spec.md §4.B: the process is expected to restart.
func (c *Cache) Watch(ctx context.Context, inv Invalidations) {
	updates, errs := inv.Subscribe(ctx)
	for {
		select {
		case <-ctx.Done():
			return
		case u, ok := <-updates:
			if !ok {
				c.fatal(ErrInvalidationStreamClosed)
				return
			}
			c.Replace(u.ID, u)
		case err, ok := <-errs:
			if !ok {
				continue
			}
			c.fatal(err)
			return
		}
	}
}

func (c *Cache) fatal(err error) {
	if c.OnFatal != nil {
		c.OnFatal(err)
	}
}
