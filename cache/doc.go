// Package cache provides a fixed-capacity, generic, in-memory key/value cache
// that combines bounded LRU eviction with per-entry TTL expiration.
//
// Design
//
//   - Storage: a single open-addressing hash table with linear probing. Slots
//     are small (entry pointer, precomputed hash, absolute expiration) so that
//     probe runs touch few cache lines. The table size is fixed at
//     construction: ceil(MaxEntries / MaxLoadFactor) slots, with the load
//     factor capped at 0.5 so probe clusters stay short.
//
//   - Ordering: live entries form an intrusive doubly linked list from oldest
//     to newest. Reads and writes that touch a key move it to the newest end.
//     When an insertion would exceed MaxEntries, the oldest entry is evicted.
//
//   - Removal: both removal drivers (TTL and LRU pressure) funnel through one
//     mechanism, cluster repair. A repair removes every expired slot in a
//     probe cluster and then relocates the survivors leftward in a single
//     forward pass, restoring the invariant that no empty slot separates a key
//     from its ideal position. LRU eviction marks the victim's slot with a
//     past-expiration sentinel and runs the same repair.
//
//   - Active expiration: RemoveExpired samples random clusters, repairs them,
//     and keeps going until the measured expired ratio drops to the caller's
//     target, in the style of the Redis active expire cycle. Expired entries
//     that are never touched are otherwise only collected lazily.
//
//   - Time: the cache never reads a clock. Every operation takes an explicit
//     timestamp, which must be non-decreasing across calls; timestamps are
//     opaque orderable ticks. The realtime package supplies wall-clock
//     timestamps for callers that want them.
//
//   - Observability: Options.Metrics receives Hit/Miss/Evict/Size/Sweep
//     signals (NoopMetrics by default; see metrics/prom for a Prometheus
//     adapter). Options.OnEvict is called for every removed entry with the
//     removal reason. Options.Logger enables zap debug tracing of removals
//     and sweep passes.
//
// Concurrency
//
// The core is deliberately single-threaded: no method is safe for concurrent
// use, and no callback (hash function, OnEvict, Metrics) may re-enter the
// cache. Multi-threaded clients should use the realtime package, which wraps
// the core with a mutex and a monotonic clock.
//
// Basic usage
//
//	c, err := cache.New[string, string](cache.Options[string, string]{
//	    MaxEntries:    1000,
//	    MaxLoadFactor: 0.5,
//	})
//	if err != nil {
//	    // invalid configuration
//	}
//	_ = c.Insert("a", "1", 10, 100) // expires at t=110
//	if v, ok, _ := c.Get("a", 20); ok {
//	    _ = v
//	}
//	_ = c.RemoveExpired(200, 0.25) // sweep until at most 25% of a sample is expired
package cache
