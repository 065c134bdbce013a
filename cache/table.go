package cache

import "go.uber.org/zap"

// slot is one position of the open-addressing table. A slot is empty when e
// is nil; hash and expireAt are then meaningless. Keeping the hash and the
// expiration here lets probing and repair run without touching the entry.
//
// Table invariant ("open-addressing invariant"): for every occupied slot,
// every slot between the key's ideal index (hash mod capacity) and its actual
// index, walking forward with wrap-around, is occupied.
type slot[K comparable, V any] struct {
	e        *entry[K, V]
	hash     uint64
	expireAt int64
}

// evictedMark is written into a slot's expiration to force it through the
// expiry path of repairCluster. It compares as expired against every legal
// timestamp: the clock starts at zero and never goes backward, so all real
// expirations are positive.
const evictedMark int64 = -2

func (c *cache[K, V]) next(i int) int {
	return (i + 1) % c.capacity
}

func (c *cache[K, V]) prev(i int) int {
	return (i + c.capacity - 1) % c.capacity
}

func (c *cache[K, V]) idealIndex(hash uint64) int {
	return int(hash % uint64(c.capacity))
}

func (c *cache[K, V]) emptySlot(i int) bool {
	return c.slots[i].e == nil
}

// setEmpty clears only the entry reference; hash and expireAt are stale until
// the slot is reused.
func (c *cache[K, V]) setEmpty(i int) {
	c.slots[i].e = nil
}

func (c *cache[K, V]) expiredSlot(i int) bool {
	return c.now >= c.slots[i].expireAt
}

// nextEmpty walks forward from i to the first empty slot. The load bound
// stays strictly below 1.0, so one always exists.
func (c *cache[K, V]) nextEmpty(i int) int {
	for !c.emptySlot(i) {
		i = c.next(i)
	}
	return i
}

// clusterStart walks backward from an occupied slot to the first slot of its
// cluster (the one whose predecessor is empty).
func (c *cache[K, V]) clusterStart(i int) int {
	for !c.emptySlot(c.prev(i)) {
		i = c.prev(i)
	}
	return i
}

// keyAt reports whether the occupied slot i holds k. The stored hash is
// compared first so the (potentially expensive) key comparison only runs on a
// probable match.
func (c *cache[K, V]) keyAt(k K, hash uint64, i int) bool {
	return c.slots[i].hash == hash && c.slots[i].e.key == k
}

// findSlot probes forward from the key's ideal index. It returns the slot
// index holding k, or false when an empty slot terminates the probe.
// The key's hash is passed in to avoid recomputing it.
func (c *cache[K, V]) findSlot(k K, hash uint64) (int, bool) {
	for i := c.idealIndex(hash); !c.emptySlot(i); i = c.next(i) {
		if c.keyAt(k, hash, i) {
			return i, true
		}
	}
	return 0, false
}

// repairCluster is the removal workhorse. Given any index, it does nothing if
// the slot is empty; otherwise it removes every expired slot in the
// surrounding cluster and relocates the survivors so the open-addressing
// invariant holds again.
//
// Pass 1 walks the whole cluster and unlinks expired slots in place, without
// any relocation. Pass 2 walks forward from the first removal: each surviving
// slot that sits past its ideal index is moved to the earliest empty slot at
// or after its ideal index, if that is strictly earlier in probe order.
// Moving entries only leftward means a relocated entry can never jump past a
// slot another key still needs, so one sweep restores the invariant for the
// entire cluster.
func (c *cache[K, V]) repairCluster(i int) {
	if c.emptySlot(i) {
		return
	}

	start := c.clusterStart(i)
	firstRemoved := -1
	idx := start
	for !c.emptySlot(idx) {
		if c.expiredSlot(idx) {
			c.removeSlot(idx)
			if firstRemoved == -1 {
				firstRemoved = idx
			}
		}
		idx = c.next(idx)
	}
	if firstRemoved == -1 {
		return
	}
	clusterEnd := idx

	for idx = c.next(firstRemoved); idx != clusterEnd; idx = c.next(idx) {
		if c.emptySlot(idx) {
			continue
		}
		ideal := c.idealIndex(c.slots[idx].hash)
		if ideal == idx {
			continue
		}
		// Probe from the ideal index; stop at the first empty slot, or at idx
		// itself if none comes earlier.
		target := ideal
		for target != idx && !c.emptySlot(target) {
			target = c.next(target)
		}
		if target != idx {
			c.slots[target] = c.slots[idx]
			c.setEmpty(idx)
			if c.debug {
				c.log.Debug("relocated slot",
					zap.Int("from", idx), zap.Int("to", target))
			}
		}
	}
}

// removeSlot releases the entry at occupied slot i: the slot goes empty, the
// entry leaves the recency list, and the eviction hooks fire. No relocation
// happens here; repairCluster's second pass restores the invariant.
func (c *cache[K, V]) removeSlot(i int) {
	e := c.slots[i].e
	reason := EvictTTL
	if c.slots[i].expireAt == evictedMark {
		reason = EvictLRU
	}
	if c.debug {
		c.log.Debug("removed entry",
			zap.Any("key", e.key),
			zap.Int("slot", i),
			zap.Stringer("reason", reason),
			zap.Int64("expireAt", c.slots[i].expireAt),
			zap.Int64("now", c.now))
	}
	c.setEmpty(i)
	c.unlink(e)
	c.size--
	c.opt.Metrics.Evict(reason)
	if cb := c.opt.OnEvict; cb != nil {
		cb(e.key, e.val, reason)
	}
}
