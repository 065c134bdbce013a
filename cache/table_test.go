package cache

import (
	"math/rand"
	"testing"
)

// checkInvariants validates every structural invariant the table and recency
// list promise between public calls.
func checkInvariants[K comparable, V any](t *testing.T, ci Cache[K, V]) {
	t.Helper()
	c := ci.(*cache[K, V])

	occupied := 0
	for i := range c.slots {
		if c.emptySlot(i) {
			continue
		}
		occupied++
		if got := c.hash(c.slots[i].e.key); got != c.slots[i].hash {
			t.Fatalf("slot %d: stored hash %d != hash(key) %d", i, c.slots[i].hash, got)
		}
		// Open-addressing invariant: no empty slot between ideal and actual.
		for j := c.idealIndex(c.slots[i].hash); j != i; j = c.next(j) {
			if c.emptySlot(j) {
				t.Fatalf("slot %d: empty slot %d between ideal %d and actual position",
					i, j, c.idealIndex(c.slots[i].hash))
			}
		}
	}
	if occupied != c.size {
		t.Fatalf("occupied slots %d != size %d", occupied, c.size)
	}
	if float64(c.size) > c.maxLoadFactor*float64(c.capacity) {
		t.Fatalf("load bound violated: size %d, bound %v", c.size, c.maxLoadFactor*float64(c.capacity))
	}

	seen := make(map[K]bool, c.size)
	forward := 0
	for e := c.oldest; e != nil; e = e.next {
		forward++
		if seen[e.key] {
			t.Fatalf("key %v appears twice in the recency list", e.key)
		}
		seen[e.key] = true
		if _, ok := c.findSlot(e.key, c.hash(e.key)); !ok {
			t.Fatalf("listed key %v is not findable in the table", e.key)
		}
	}
	if forward != c.size {
		t.Fatalf("recency list length %d != size %d", forward, c.size)
	}
	backward := 0
	for e := c.newest; e != nil; e = e.prev {
		backward++
	}
	if backward != c.size {
		t.Fatalf("reverse recency list length %d != size %d", backward, c.size)
	}
}

// slotKeys maps occupied slot index -> key, for position assertions.
func slotKeys[K comparable, V any](ci Cache[K, V]) map[int]K {
	c := ci.(*cache[K, V])
	out := make(map[int]K, c.size)
	for i := range c.slots {
		if !c.emptySlot(i) {
			out[i] = c.slots[i].e.key
		}
	}
	return out
}

// collidingHash funnels every key into the same ideal index so tests control
// cluster shapes exactly.
func collidingHash(ideal int) func(int) uint64 {
	return func(int) uint64 { return uint64(ideal) }
}

func TestRepair_MidClusterRemovals(t *testing.T) {
	t.Parallel()

	// MaxEntries 8, load factor 0.5 -> 16 slots. All keys hash to ideal 3, so
	// keys 1..5 occupy slots 3..7 in insertion order.
	c := mustNew[int, string](t, Options[int, string]{
		MaxEntries:    8,
		MaxLoadFactor: 0.5,
		Hash:          collidingHash(3),
	})
	mustInsert(t, c, 1, "a", 1, 100) // slot 3
	mustInsert(t, c, 2, "b", 2, 5)   // slot 4, expires at 7
	mustInsert(t, c, 3, "c", 3, 100) // slot 5
	mustInsert(t, c, 4, "d", 4, 5)   // slot 6, expires at 9
	mustInsert(t, c, 5, "e", 5, 100) // slot 7

	// At t=20 keys 2 and 4 are expired. Any get touching the cluster repairs
	// it: two mid-cluster holes open up and the survivors slide left.
	if _, ok := mustGet(t, c, 3, 20); !ok {
		t.Fatal("key 3 must survive the repair")
	}
	checkInvariants(t, c)

	if c.Len() != 3 {
		t.Fatalf("Len() = %d, want 3", c.Len())
	}
	got := slotKeys(c)
	want := map[int]int{3: 1, 4: 3, 5: 5}
	for slot, key := range want {
		if got[slot] != key {
			t.Fatalf("slot layout after repair = %v, want %v", got, want)
		}
	}
	for _, k := range []int{1, 3, 5} {
		if _, ok := mustGet(t, c, k, 20); !ok {
			t.Fatalf("key %d must be findable after relocation", k)
		}
	}
	for _, k := range []int{2, 4} {
		if _, ok := mustGet(t, c, k, 20); ok {
			t.Fatalf("expired key %d must be gone", k)
		}
	}
}

func TestRepair_ClusterWrapsAround(t *testing.T) {
	t.Parallel()

	// 16 slots; ideal index 14 makes the cluster wrap: slots 14, 15, 0, 1.
	c := mustNew[int, string](t, Options[int, string]{
		MaxEntries:    8,
		MaxLoadFactor: 0.5,
		Hash:          collidingHash(14),
	})
	mustInsert(t, c, 1, "a", 1, 5)   // slot 14, expires at 6
	mustInsert(t, c, 2, "b", 2, 100) // slot 15
	mustInsert(t, c, 3, "c", 3, 5)   // slot 0, expires at 8
	mustInsert(t, c, 4, "d", 4, 100) // slot 1

	if _, ok := mustGet(t, c, 2, 10); !ok {
		t.Fatal("key 2 must survive")
	}
	checkInvariants(t, c)

	got := slotKeys(c)
	want := map[int]int{14: 2, 15: 4}
	if len(got) != len(want) {
		t.Fatalf("slot layout = %v, want %v", got, want)
	}
	for slot, key := range want {
		if got[slot] != key {
			t.Fatalf("slot layout = %v, want %v", got, want)
		}
	}
}

func TestRepair_HeadRemovalPullsClusterLeft(t *testing.T) {
	t.Parallel()

	// Removing the first slot of a cluster must slide every survivor up to
	// its ideal position.
	c := mustNew[int, string](t, Options[int, string]{
		MaxEntries:    8,
		MaxLoadFactor: 0.5,
		Hash:          collidingHash(5),
	})
	mustInsert(t, c, 1, "a", 1, 3)   // slot 5, expires at 4
	mustInsert(t, c, 2, "b", 2, 100) // slot 6
	mustInsert(t, c, 3, "c", 3, 100) // slot 7

	mustGet(t, c, 2, 4) // repair: key 1 expired, 2 and 3 slide to 5 and 6
	checkInvariants(t, c)

	got := slotKeys(c)
	if got[5] != 2 || got[6] != 3 {
		t.Fatalf("slot layout = %v, want 2@5 3@6", got)
	}
}

func TestRepair_DistinctIdealsKeepOrder(t *testing.T) {
	t.Parallel()

	// Keys with different ideal positions inside one cluster: a relocation
	// may not pull an entry before its own ideal index.
	hash := func(k int) uint64 { return uint64(k) } // ideal = k mod 16
	c := mustNew[int, string](t, Options[int, string]{
		MaxEntries:    8,
		MaxLoadFactor: 0.5,
		Hash:          hash,
	})
	mustInsert(t, c, 4, "a", 1, 3)   // slot 4, expires at 4
	mustInsert(t, c, 20, "b", 2, 100) // ideal 4 -> slot 5
	mustInsert(t, c, 6, "c", 3, 100) // ideal 6, slot 6 already its own
	mustInsert(t, c, 36, "d", 4, 100) // ideal 4 -> slot 7

	mustGet(t, c, 6, 10) // key 4 expired; 20 moves to 4, 36 to 5; 6 stays at 6
	checkInvariants(t, c)

	got := slotKeys(c)
	if got[4] != 20 || got[6] != 6 || got[5] != 36 {
		t.Fatalf("slot layout = %v, want 20@4 36@5 6@6", got)
	}
}

func TestEvictOldest_UsesRepairPath(t *testing.T) {
	t.Parallel()

	// The LRU victim sits mid-cluster; eviction must repair around it like a
	// TTL removal would.
	c := mustNew[int, string](t, Options[int, string]{
		MaxEntries:    3,
		MaxLoadFactor: 0.5,
		Hash:          collidingHash(0),
	})
	mustInsert(t, c, 1, "a", 1, 100) // slot 0, oldest
	mustInsert(t, c, 2, "b", 2, 100) // slot 1
	mustInsert(t, c, 3, "c", 3, 100) // slot 2
	mustGet(t, c, 1, 4)              // refresh 1; oldest is now 2 (mid-cluster)

	mustInsert(t, c, 4, "d", 5, 100) // evicts key 2
	checkInvariants(t, c)

	if _, ok := mustGet(t, c, 2, 6); ok {
		t.Fatal("key 2 must have been evicted")
	}
	for _, k := range []int{1, 3, 4} {
		if _, ok := mustGet(t, c, k, 6); !ok {
			t.Fatalf("key %d must still be present", k)
		}
	}
}

func TestRepair_RandomizedInvariants(t *testing.T) {
	t.Parallel()

	// A hostile hash (4 buckets for up to 20 live keys) forces long clusters
	// and constant collisions; invariants must hold after every operation.
	r := rand.New(rand.NewSource(42))
	hash := func(k int) uint64 { return uint64(k % 4) }
	c := mustNew[int, int](t, Options[int, int]{
		MaxEntries:    20,
		MaxLoadFactor: 0.5,
		Hash:          hash,
		Rand:          rand.New(rand.NewSource(43)),
	})

	ts := int64(0)
	for op := 0; op < 5000; op++ {
		ts += int64(r.Intn(3))
		key := r.Intn(100)
		switch r.Intn(10) {
		case 0:
			if err := c.RemoveExpired(ts, 0.25); err != nil {
				t.Fatalf("op %d: RemoveExpired: %v", op, err)
			}
		case 1, 2, 3, 4:
			mustInsert(t, c, key, op, ts, int64(1+r.Intn(50)))
		default:
			mustGet(t, c, key, ts)
		}
		checkInvariants(t, c)
	}
}
