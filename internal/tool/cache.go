package tool

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"sort"
	"sync"
)

// CacheEntry is the value half of the cache's (tool, args) → result map
// (spec §3 "Tool Cache Entry").
type CacheEntry struct {
	Result string
	Round  int
}

// Cache is a bounded map from (tool name, canonicalized argument string) to
// a result, with age-based eviction and global invalidation on mutation
// (spec §4.3, C4). The cache makes no assumption about result content — it
// holds opaque strings. It never stores entries for non-cacheable tools;
// callers are expected to consult the registry's IsCacheable before
// Store, but Store itself also takes an explicit cacheable flag as a
// second guard (spec's Open Question: flag is consulted at both points).
type Cache struct {
	mu      sync.Mutex
	entries map[string]*CacheEntry
	// insertOrder breaks ties between entries stored in the same round,
	// oldest first, for deterministic eviction (spec §4.3).
	insertOrder []string
}

// NewCache constructs an empty Cache.
func NewCache() *Cache {
	return &Cache{entries: make(map[string]*CacheEntry)}
}

// canonicalKey canonicalizes args by round-tripping through an ordered JSON
// re-encode (so key order never causes cache misses for identical logical
// arguments), then hashing with the tool name.
func canonicalKey(name, rawArgs string) string {
	canon := rawArgs
	var doc map[string]any
	if err := json.Unmarshal([]byte(rawArgs), &doc); err == nil {
		keys := make([]string, 0, len(doc))
		for k := range doc {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		ordered := make([]byte, 0, len(rawArgs))
		ordered = append(ordered, '{')
		for i, k := range keys {
			if i > 0 {
				ordered = append(ordered, ',')
			}
			kb, _ := json.Marshal(k)
			vb, _ := json.Marshal(doc[k])
			ordered = append(ordered, kb...)
			ordered = append(ordered, ':')
			ordered = append(ordered, vb...)
		}
		ordered = append(ordered, '}')
		canon = string(ordered)
	}
	sum := sha256.Sum256([]byte(name + "\x00" + canon))
	return hex.EncodeToString(sum[:])
}

// Lookup returns the cached result iff present. Callers must separately
// confirm the tool is cacheable (I2); Lookup itself only consults what was
// actually stored.
func (c *Cache) Lookup(name, rawArgs string) (CacheEntry, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.entries[canonicalKey(name, rawArgs)]
	if !ok {
		return CacheEntry{}, false
	}
	return *e, true
}

// Store inserts a result for (name, rawArgs) iff cacheable is true. A
// non-cacheable tool's result is never retained (spec's Tool Cache Entry
// invariant).
func (c *Cache) Store(name, rawArgs, result string, round int, cacheable bool) {
	if !cacheable {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	key := canonicalKey(name, rawArgs)
	if _, exists := c.entries[key]; !exists {
		c.insertOrder = append(c.insertOrder, key)
	}
	c.entries[key] = &CacheEntry{Result: result, Round: round}
}

// InvalidateAll drops every entry. Called once whenever any mutation tool
// executes in a round (I3).
func (c *Cache) InvalidateAll() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries = make(map[string]*CacheEntry)
	c.insertOrder = nil
}

// EvictOlderThan drops entries whose store-round is more than maxAgeRounds
// behind currentRound.
func (c *Cache) EvictOlderThan(currentRound, maxAgeRounds int) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	evicted := 0
	kept := c.insertOrder[:0:0]
	for _, key := range c.insertOrder {
		e, ok := c.entries[key]
		if !ok {
			continue
		}
		if currentRound-e.Round > maxAgeRounds {
			delete(c.entries, key)
			evicted++
			continue
		}
		kept = append(kept, key)
	}
	c.insertOrder = kept
	return evicted
}

// Len reports the number of live entries.
func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}

// EvictOldestBeyondCapacity drops the oldest entries (by store-round, ties
// broken by insertion order) until at most capacity entries remain.
func (c *Cache) EvictOldestBeyondCapacity(capacity int) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	if capacity <= 0 || len(c.entries) <= capacity {
		return 0
	}
	type kv struct {
		key   string
		round int
		order int
	}
	all := make([]kv, 0, len(c.entries))
	for i, key := range c.insertOrder {
		if e, ok := c.entries[key]; ok {
			all = append(all, kv{key: key, round: e.Round, order: i})
		}
	}
	sort.Slice(all, func(i, j int) bool {
		if all[i].round != all[j].round {
			return all[i].round < all[j].round
		}
		return all[i].order < all[j].order
	})
	toDrop := len(all) - capacity
	dropped := 0
	dropSet := make(map[string]bool, toDrop)
	for i := 0; i < toDrop; i++ {
		dropSet[all[i].key] = true
		delete(c.entries, all[i].key)
		dropped++
	}
	kept := c.insertOrder[:0:0]
	for _, key := range c.insertOrder {
		if !dropSet[key] {
			kept = append(kept, key)
		}
	}
	c.insertOrder = kept
	return dropped
}
