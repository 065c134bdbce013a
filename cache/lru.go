package cache

// Recency list invariants:
//   - size 0: oldest and newest are both nil
//   - size 1: oldest and newest point to the sole entry
//   - otherwise they are the endpoints of the doubly linked list, which
//     contains exactly the live entries

// unlink splices e out of the recency list, fixing the endpoints when e was
// one. It does not touch size; the caller accounts for the entry.
func (c *cache[K, V]) unlink(e *entry[K, V]) {
	switch {
	case c.oldest == e && c.newest == e:
		c.oldest, c.newest = nil, nil
	case e == c.newest:
		c.newest = e.prev
		c.newest.next = nil
	case e == c.oldest:
		c.oldest = e.next
		c.oldest.prev = nil
	default:
		e.next.prev = e.prev
		e.prev.next = e.next
	}
}

// pushNewest appends e at the newest end of the list.
func (c *cache[K, V]) pushNewest(e *entry[K, V]) {
	if c.newest == nil {
		c.oldest, c.newest = e, e
		e.prev, e.next = nil, nil
		return
	}
	c.newest.next = e
	e.prev = c.newest
	e.next = nil
	c.newest = e
}

// moveToNewest marks e as the most recently used entry.
func (c *cache[K, V]) moveToNewest(e *entry[K, V]) {
	if e == c.newest {
		return
	}
	c.unlink(e)
	c.pushNewest(e)
}

// evictOldest removes the least recently used entry through the table: the
// victim's slot gets the evictedMark expiration and the cluster is repaired,
// so LRU eviction reuses the exact removal-and-relocation path TTL expiry
// takes.
func (c *cache[K, V]) evictOldest() {
	if c.oldest == nil {
		panic("cache: evictOldest on empty cache")
	}
	i, ok := c.findSlot(c.oldest.key, c.hash(c.oldest.key))
	if !ok {
		// The list and the table disagree; a bug, not a user error.
		panic("cache: oldest entry missing from table")
	}
	c.slots[i].expireAt = evictedMark
	c.repairCluster(i)
}
