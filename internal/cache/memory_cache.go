package cache

import (
	"sync"

	"go.uber.org/zap"

	"mapview/internal/metrics"
	"mapview/internal/tile"
	"mapview/internal/tilesource"
)

const nilSlot = -1

// slot is one arena cell of the LRU list.
type slot struct {
	tile       *tile.Tile
	prev, next int
}

// MemoryCache is an LRU cache of tiles. The list lives in a slice arena
// indexed by key, so promotion and eviction are O(1) without per-entry
// allocations. One mutex covers both index and list.
type MemoryCache struct {
	mu       sync.Mutex
	capacity int
	slots    []slot
	free     []int
	index    map[string]int
	head     int // most recently used
	tail     int // least recently used
	log      *zap.Logger
}

// NewMemoryCache creates a new in-memory LRU tile cache
func NewMemoryCache(capacity int, log *zap.Logger) *MemoryCache {
	return &MemoryCache{
		capacity: capacity,
		slots:    make([]slot, 0, capacity+1),
		index:    make(map[string]int, capacity+1),
		head:     nilSlot,
		tail:     nilSlot,
		log:      log,
	}
}

func (c *MemoryCache) AddTile(t *tile.Tile) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if i, ok := c.index[t.Key()]; ok {
		c.slots[i].tile = t
		c.moveToFront(i)
		return
	}

	i := c.alloc(t)
	c.index[t.Key()] = i
	c.pushFront(i)

	for len(c.index) > c.capacity {
		c.evict()
	}
	metrics.CacheEntries.Set(float64(len(c.index)))
}

func (c *MemoryCache) AddIfAbsent(t *tile.Tile) (*tile.Tile, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if i, ok := c.index[t.Key()]; ok {
		resident := c.slots[i].tile
		if resident.State() == tile.Loaded {
			c.moveToFront(i)
		}
		return resident, false
	}

	i := c.alloc(t)
	c.index[t.Key()] = i
	c.pushFront(i)

	for len(c.index) > c.capacity {
		c.evict()
	}
	metrics.CacheEntries.Set(float64(len(c.index)))
	return t, true
}

func (c *MemoryCache) GetTile(src *tilesource.Source, x, y, zoom int) *tile.Tile {
	key := tile.Key(src, x, y, zoom)

	c.mu.Lock()
	defer c.mu.Unlock()

	i, ok := c.index[key]
	if !ok {
		metrics.CacheMisses.Inc()
		return nil
	}
	metrics.CacheHits.Inc()

	t := c.slots[i].tile
	if t.State() == tile.Loaded {
		c.moveToFront(i)
	}
	return t
}

func (c *MemoryCache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.index)
}

func (c *MemoryCache) Capacity() int {
	return c.capacity
}

// Keys lists the cached keys from most to least recently used.
func (c *MemoryCache) Keys() []string {
	c.mu.Lock()
	defer c.mu.Unlock()

	keys := make([]string, 0, len(c.index))
	for i := c.head; i != nilSlot; i = c.slots[i].next {
		keys = append(keys, c.slots[i].tile.Key())
	}
	return keys
}

func (c *MemoryCache) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.slots = c.slots[:0]
	c.free = c.free[:0]
	c.index = make(map[string]int, c.capacity+1)
	c.head, c.tail = nilSlot, nilSlot
	metrics.CacheEntries.Set(0)
}

func (c *MemoryCache) alloc(t *tile.Tile) int {
	if n := len(c.free); n > 0 {
		i := c.free[n-1]
		c.free = c.free[:n-1]
		c.slots[i] = slot{tile: t, prev: nilSlot, next: nilSlot}
		return i
	}
	c.slots = append(c.slots, slot{tile: t, prev: nilSlot, next: nilSlot})
	return len(c.slots) - 1
}

func (c *MemoryCache) evict() {
	i := c.tail
	if i == nilSlot {
		return
	}
	t := c.slots[i].tile
	c.unlink(i)
	delete(c.index, t.Key())
	c.slots[i] = slot{prev: nilSlot, next: nilSlot}
	c.free = append(c.free, i)

	metrics.CacheEvictions.Inc()
	c.log.Debug("Evicted tile", zap.String("key", t.Key()))
}

func (c *MemoryCache) pushFront(i int) {
	c.slots[i].prev = nilSlot
	c.slots[i].next = c.head
	if c.head != nilSlot {
		c.slots[c.head].prev = i
	}
	c.head = i
	if c.tail == nilSlot {
		c.tail = i
	}
}

func (c *MemoryCache) unlink(i int) {
	s := &c.slots[i]
	if s.prev != nilSlot {
		c.slots[s.prev].next = s.next
	} else {
		c.head = s.next
	}
	if s.next != nilSlot {
		c.slots[s.next].prev = s.prev
	} else {
		c.tail = s.prev
	}
	s.prev, s.next = nilSlot, nilSlot
}

func (c *MemoryCache) moveToFront(i int) {
	if c.head == i {
		return
	}
	c.unlink(i)
	c.pushFront(i)
}
