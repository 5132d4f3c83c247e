// Package cache implements the recursive cache's state machine:
// IncomingQuery → AclCheck → CacheLookup → {Hit|Miss(Forward)} →
// ParseUpstream → InsertCache → Return, per spec.md §4.5.
//
// ShardedCache is kept almost verbatim from the teacher's
// internal/cache/sharded.go — same shard count, per-shard RWMutex,
// background expiry sweep and oldest-entry eviction — with its hash
// function swapped from FNV to the djb2 bucketing spec.md §4.5 names
// explicitly for the cache table, and negative-entry/TTL-clamp fields
// added to Entry.
package cache

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/mydns-io/mydnsd/internal/wire"
)

const (
	defaultShardCount = 256
	defaultShardSize  = 10000
	cleanupInterval   = 60 * time.Second
)

// State distinguishes a positive cached answer from a cached negative
// (NXDOMAIN/NODATA) response, per spec.md §4.5's "state=Negative, empty
// rdata" requirement.
type State int

const (
	StatePositive State = iota
	StateNegative
)

// Entry is a single cached (name, type, rdata, ttl, expires, state) row.
type Entry struct {
	Data []byte // wire-format rdata; empty for negative entries

	ExpiresAt time.Time
	OrigTTL   uint32

	Hits atomic.Uint64

	DNSSECValidated bool
	DNSSECBogus     bool

	QName  string
	QType  uint16
	QClass uint16
	State  State
}

// IsExpired reports whether the entry's TTL has elapsed.
func (e *Entry) IsExpired() bool {
	return time.Now().After(e.ExpiresAt)
}

// IsStale reports whether an expired entry is still within the
// serve-stale window.
func (e *Entry) IsStale(maxStale time.Duration) bool {
	if !e.IsExpired() {
		return false
	}
	return time.Since(e.ExpiresAt) < maxStale
}

type shard struct {
	mu      sync.RWMutex
	entries map[uint64]*Entry
	maxSize int
}

// ShardedCache is a thread-safe, sharded cache keyed by the djb2
// bucketing spec.md §4.5 specifies for the cache table.
type ShardedCache struct {
	shards []*shard

	shardCount int
	shardMask  uint64

	serveStale   bool
	maxStaleTTL  time.Duration
	staleRefresh bool

	ttlMin uint32
	ttlMax uint32

	hits        atomic.Uint64
	misses      atomic.Uint64
	evictions   atomic.Uint64
	expirations atomic.Uint64

	stopCleanup chan struct{}
	cleanupDone sync.WaitGroup
}

// Config configures a ShardedCache.
type Config struct {
	MaxEntries int
	ShardCount int

	ServeStale   bool
	MaxStaleTTL  time.Duration
	StaleRefresh bool

	// TTLMin/TTLMax clamp every inserted entry's TTL per spec.md
	// Invariant 5. TTLMax of 0 means "no upper clamp".
	TTLMin uint32
	TTLMax uint32
}

// NewShardedCache constructs a cache per cfg, rounding ShardCount up
// to a power of 2 so shard selection can use a bitmask.
func NewShardedCache(cfg Config) *ShardedCache {
	if cfg.ShardCount == 0 {
		cfg.ShardCount = defaultShardCount
	}
	if cfg.MaxEntries == 0 {
		cfg.MaxEntries = defaultShardSize * cfg.ShardCount
	}
	if cfg.ShardCount&(cfg.ShardCount-1) != 0 {
		n := 1
		for n < cfg.ShardCount {
			n <<= 1
		}
		cfg.ShardCount = n
	}

	shardSize := cfg.MaxEntries / cfg.ShardCount

	c := &ShardedCache{
		shards:       make([]*shard, cfg.ShardCount),
		shardCount:   cfg.ShardCount,
		shardMask:    uint64(cfg.ShardCount - 1),
		serveStale:   cfg.ServeStale,
		maxStaleTTL:  cfg.MaxStaleTTL,
		staleRefresh: cfg.StaleRefresh,
		ttlMin:       cfg.TTLMin,
		ttlMax:       cfg.TTLMax,
		stopCleanup:  make(chan struct{}),
	}

	for i := 0; i < cfg.ShardCount; i++ {
		c.shards[i] = &shard{
			entries: make(map[uint64]*Entry, shardSize),
			maxSize: shardSize,
		}
	}

	c.cleanupDone.Add(1)
	go c.cleanupExpired()

	return c
}

// Key computes the cache table's djb2-bucketed lookup key for
// (name, qtype, qclass). The shard is derived from the djb2 bucket in
// the key's upper 32 bits via getShard/shardMask, so a single djb2 computation
// serves both the spec's "bucket = djb2(...) mod 65536" requirement and
// the cache's internal sharding.
func Key(name string, qtype, qclass uint16) uint64 {
	bucket := uint64(wire.Djb2Bucket(name))
	return bucket<<32 | uint64(qtype)<<16 | uint64(qclass)
}

func (c *ShardedCache) getShard(hash uint64) *shard {
	return c.shards[(hash>>32)&c.shardMask]
}

// clampTTL enforces Invariant 5: stored TTL ∈ [ttl_min, ttl_max].
func (c *ShardedCache) clampTTL(ttl uint32) uint32 {
	if ttl < c.ttlMin {
		ttl = c.ttlMin
	}
	if c.ttlMax > 0 && ttl > c.ttlMax {
		ttl = c.ttlMax
	}
	return ttl
}

// Get retrieves an entry by its Key.
func (c *ShardedCache) Get(hash uint64) (*Entry, bool) {
	sh := c.getShard(hash)

	sh.mu.RLock()
	entry, ok := sh.entries[hash]
	sh.mu.RUnlock()

	if !ok {
		c.misses.Add(1)
		return nil, false
	}

	if entry.IsExpired() {
		if !c.serveStale || !entry.IsStale(c.maxStaleTTL) {
			c.misses.Add(1)
			return nil, false
		}
		c.misses.Add(1)
	} else {
		c.hits.Add(1)
	}

	entry.Hits.Add(1)
	return entry, true
}

// Set stores entry under hash, clamping its TTL first.
func (c *ShardedCache) Set(hash uint64, entry *Entry) {
	entry.OrigTTL = c.clampTTL(entry.OrigTTL)
	entry.ExpiresAt = time.Now().Add(time.Duration(entry.OrigTTL) * time.Second)

	sh := c.getShard(hash)

	sh.mu.Lock()
	defer sh.mu.Unlock()

	if len(sh.entries) >= sh.maxSize {
		c.evictOldest(sh)
	}

	sh.entries[hash] = entry
}

// Delete removes the entry at hash, if present.
func (c *ShardedCache) Delete(hash uint64) {
	sh := c.getShard(hash)
	sh.mu.Lock()
	delete(sh.entries, hash)
	sh.mu.Unlock()
}

func (c *ShardedCache) evictOldest(s *shard) {
	var oldestHash uint64
	var oldestTime time.Time
	first := true

	for hash, entry := range s.entries {
		if first || entry.ExpiresAt.Before(oldestTime) {
			oldestHash = hash
			oldestTime = entry.ExpiresAt
			first = false
		}
	}

	if !first {
		delete(s.entries, oldestHash)
		c.evictions.Add(1)
	}
}

// Flush clears every shard.
func (c *ShardedCache) Flush() {
	for _, sh := range c.shards {
		sh.mu.Lock()
		sh.entries = make(map[uint64]*Entry, sh.maxSize)
		sh.mu.Unlock()
	}
}

func (c *ShardedCache) cleanupExpired() {
	defer c.cleanupDone.Done()

	ticker := time.NewTicker(cleanupInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			c.performCleanup()
		case <-c.stopCleanup:
			return
		}
	}
}

func (c *ShardedCache) performCleanup() {
	for _, sh := range c.shards {
		sh.mu.Lock()

		var expired []uint64
		for hash, entry := range sh.entries {
			if c.serveStale {
				if entry.IsExpired() && !entry.IsStale(c.maxStaleTTL) {
					expired = append(expired, hash)
				}
			} else if entry.IsExpired() {
				expired = append(expired, hash)
			}
		}

		for _, hash := range expired {
			delete(sh.entries, hash)
			c.expirations.Add(1)
		}

		sh.mu.Unlock()

		if len(expired) > 0 {
			time.Sleep(time.Millisecond)
		}
	}
}

// Stats reports cache-wide counters.
type Stats struct {
	Hits        uint64
	Misses      uint64
	Evictions   uint64
	Expirations uint64
	Size        int
	HitRate     float64
}

// GetStats computes a Stats snapshot.
func (c *ShardedCache) GetStats() Stats {
	hits := c.hits.Load()
	misses := c.misses.Load()

	var hitRate float64
	if total := hits + misses; total > 0 {
		hitRate = float64(hits) / float64(total)
	}

	size := 0
	for _, sh := range c.shards {
		sh.mu.RLock()
		size += len(sh.entries)
		sh.mu.RUnlock()
	}

	return Stats{
		Hits:        hits,
		Misses:      misses,
		Evictions:   c.evictions.Load(),
		Expirations: c.expirations.Load(),
		Size:        size,
		HitRate:     hitRate,
	}
}

// Close stops the background cleanup goroutine.
func (c *ShardedCache) Close() {
	close(c.stopCleanup)
	c.cleanupDone.Wait()
}

// ForEach iterates every cached entry. Locks shards one at a time; use
// sparingly (debugging/monitoring only).
func (c *ShardedCache) ForEach(fn func(hash uint64, entry *Entry)) {
	for _, sh := range c.shards {
		sh.mu.RLock()
		for hash, entry := range sh.entries {
			fn(hash, entry)
		}
		sh.mu.RUnlock()
	}
}
