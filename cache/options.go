package cache

import (
	"math/rand"

	"go.uber.org/zap"
)

// EvictReason explains why an entry was removed.
type EvictReason int

const (
	// EvictTTL — the entry's time-to-live elapsed.
	EvictTTL EvictReason = iota
	// EvictLRU — the entry was the least recently used when an insertion
	// needed room.
	EvictLRU
)

// String returns a stable label for the reason ("ttl" or "lru").
func (r EvictReason) String() string {
	if r == EvictLRU {
		return "lru"
	}
	return "ttl"
}

// Metrics exposes cache-level observability hooks.
// A NoopMetrics implementation is provided and used by default.
type Metrics interface {
	Hit()
	Miss()
	Evict(reason EvictReason)
	Size(entries int)
	// Sweep reports one RemoveExpired pass: how many slots were sampled and
	// how many entries the pass removed.
	Sweep(sampled, removed int)
}

// Options configures the cache. MaxEntries and MaxLoadFactor are mandatory
// and validated by New; everything else is optional:
//   - nil Hash    => util.Fnv64a
//   - nil Metrics => NoopMetrics
//   - nil Logger  => zap.NewNop()
//   - nil Rand    => time-seeded source
type Options[K comparable, V any] struct {
	// MaxEntries is the maximum number of live entries (at least 2). The
	// table allocates ceil(MaxEntries/MaxLoadFactor) slots up front and never
	// resizes.
	MaxEntries int

	// MaxLoadFactor bounds Len()/Cap(), in [0.01, 0.5]. Lower values trade
	// memory for shorter probe clusters.
	MaxLoadFactor float64

	// Hash maps a key to a 64-bit hash. It must be deterministic and pure;
	// the hash of a key is computed once on insert and stored in the slot.
	Hash func(K) uint64

	// OnEvict is called for every entry removed by TTL expiry or LRU
	// pressure, while the cache is mid-operation: the callback must not
	// re-enter the cache.
	OnEvict func(k K, v V, reason EvictReason)

	// Metrics receives Hit/Miss/Evict/Size/Sweep signals.
	Metrics Metrics

	// Logger, when it has debug enabled, traces removals, evictions, and
	// sweep passes.
	Logger *zap.Logger

	// Rand drives the random slot sampling in RemoveExpired. Supply a seeded
	// source for deterministic tests.
	Rand *rand.Rand
}
