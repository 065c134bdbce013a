package cache

import (
	"fmt"
	"math"
	"math/rand"
	"time"

	"go.uber.org/zap"

	"github.com/probecache/probecache/internal/util"
)

const (
	minLoadFactorBound = 0.01
	maxLoadFactorBound = 0.5

	// RemoveExpired stops sampling below these floors: with too few live
	// entries the rejection sampling gets expensive and the measured ratio
	// statistically meaningless.
	minSweepLoadFactor = 0.10
	minSweepSample     = 20

	// minTargetRatio is the floor on RemoveExpired's target: chasing a lower
	// expired ratio makes the sweep's work unbounded.
	minTargetRatio = 0.01
)

// cache is the single-threaded core. One open-addressing table plus one
// intrusive recency list, kept in lockstep: every live entry has exactly one
// slot and one list position.
type cache[K comparable, V any] struct {
	hash          func(K) uint64
	maxLoadFactor float64
	capacity      int

	slots []slot[K, V]

	oldest *entry[K, V]
	newest *entry[K, V]
	size   int

	// now is the largest timestamp any accepted operation has supplied.
	// Operations reject timestamps behind it.
	now int64

	rnd   *rand.Rand
	log   *zap.Logger
	debug bool
	opt   Options[K, V]
}

// New constructs a cache from Options. It returns ErrInvalidArgument-wrapped
// errors for MaxEntries < 2 or MaxLoadFactor outside [0.01, 0.5]. Defaults:
//   - nil Hash    -> util.Fnv64a
//   - nil Metrics -> NoopMetrics
//   - nil Logger  -> zap.NewNop()
//   - nil Rand    -> time-seeded source
func New[K comparable, V any](opt Options[K, V]) (Cache[K, V], error) {
	if opt.MaxEntries < 2 {
		return nil, fmt.Errorf("%w: MaxEntries %d, need at least 2", ErrInvalidArgument, opt.MaxEntries)
	}
	if opt.MaxLoadFactor < minLoadFactorBound {
		return nil, fmt.Errorf("%w: MaxLoadFactor %v below %v", ErrInvalidArgument, opt.MaxLoadFactor, minLoadFactorBound)
	}
	if opt.MaxLoadFactor > maxLoadFactorBound {
		return nil, fmt.Errorf("%w: MaxLoadFactor %v above %v", ErrInvalidArgument, opt.MaxLoadFactor, maxLoadFactorBound)
	}
	if opt.Hash == nil {
		opt.Hash = util.Fnv64a[K]
	}
	if opt.Metrics == nil {
		opt.Metrics = NoopMetrics{}
	}
	if opt.Logger == nil {
		opt.Logger = zap.NewNop()
	}
	if opt.Rand == nil {
		opt.Rand = rand.New(rand.NewSource(time.Now().UnixNano()))
	}

	capacity := int(math.Ceil(float64(opt.MaxEntries) / opt.MaxLoadFactor))
	c := &cache[K, V]{
		hash:          opt.Hash,
		maxLoadFactor: opt.MaxLoadFactor,
		capacity:      capacity,
		slots:         make([]slot[K, V], capacity),
		rnd:           opt.Rand,
		log:           opt.Logger,
		debug:         opt.Logger.Core().Enabled(zap.DebugLevel),
		opt:           opt,
	}
	return c, nil
}

// Get implements Cache.
func (c *cache[K, V]) Get(k K, ts int64) (V, bool, error) {
	var zero V
	if err := c.advanceClock(ts); err != nil {
		return zero, false, err
	}
	h := c.hash(k)
	c.repairCluster(c.idealIndex(h))

	i, ok := c.findSlot(k, h)
	if !ok {
		c.opt.Metrics.Miss()
		c.opt.Metrics.Size(c.size)
		return zero, false, nil
	}
	e := c.slots[i].e
	c.moveToNewest(e)
	c.opt.Metrics.Hit()
	c.opt.Metrics.Size(c.size)
	return e.val, true, nil
}

// Insert implements Cache.
func (c *cache[K, V]) Insert(k K, v V, ts, ttl int64) error {
	if ttl <= 0 {
		return fmt.Errorf("%w: ttl %d, insertion dead on arrival", ErrInvalidArgument, ttl)
	}
	if err := c.advanceClock(ts); err != nil {
		return err
	}
	h := c.hash(k)
	ideal := c.idealIndex(h)
	c.repairCluster(ideal)

	if i, ok := c.findSlot(k, h); ok {
		e := c.slots[i].e
		e.val = v
		c.slots[i].expireAt = ts + ttl
		c.moveToNewest(e)
		c.opt.Metrics.Size(c.size)
		return nil
	}

	// Only a new key grows the cache: make room for it before probing for
	// an empty slot. An update never evicts.
	if float64(c.size+1) > c.maxLoadFactor*float64(c.capacity) {
		c.evictOldest()
	}

	i := c.nextEmpty(ideal)
	e := &entry[K, V]{key: k, val: v}
	c.slots[i] = slot[K, V]{e: e, hash: h, expireAt: ts + ttl}
	c.pushNewest(e)
	c.size++
	c.opt.Metrics.Size(c.size)
	return nil
}

// RemoveExpired implements Cache. Each pass draws random occupied slots,
// pulls in their whole clusters (expired entries aggregate in long clusters,
// so this biases the sample toward where the work is), repairs them, and
// measures the expired ratio of the sample. Passes repeat until the ratio
// drops to targetRatio or the cache is too small to sample.
func (c *cache[K, V]) RemoveExpired(ts int64, targetRatio float64) error {
	if targetRatio < minTargetRatio {
		return fmt.Errorf("%w: target ratio %v below %v", ErrInvalidArgument, targetRatio, minTargetRatio)
	}
	if err := c.advanceClock(ts); err != nil {
		return err
	}

	for {
		if c.LoadFactor() < minSweepLoadFactor || c.size < minSweepSample {
			break
		}

		sizeBefore := c.size
		sample := make(map[int]struct{}, 2*minSweepSample)
		for len(sample) < minSweepSample {
			i := c.rnd.Intn(c.capacity)
			if c.emptySlot(i) {
				continue
			}
			if _, seen := sample[i]; seen {
				continue
			}
			// Sample the entire cluster, then repair it. Repair may empty
			// some of the just-sampled slots; the sample keeps counting them,
			// since they were occupied when drawn.
			for j := c.clusterStart(i); !c.emptySlot(j); j = c.next(j) {
				sample[j] = struct{}{}
			}
			c.repairCluster(i)
		}

		removed := sizeBefore - c.size
		c.opt.Metrics.Sweep(len(sample), removed)
		if c.debug {
			c.log.Debug("sweep pass",
				zap.Int("sampled", len(sample)),
				zap.Int("removed", removed),
				zap.Int("live", c.size))
		}
		if float64(removed)/float64(len(sample)) <= targetRatio {
			break
		}
	}
	c.opt.Metrics.Size(c.size)
	return nil
}

// Len implements Cache.
func (c *cache[K, V]) Len() int { return c.size }

// Empty implements Cache.
func (c *cache[K, V]) Empty() bool { return c.size == 0 }

// Cap implements Cache.
func (c *cache[K, V]) Cap() int { return c.capacity }

// LoadFactor implements Cache.
func (c *cache[K, V]) LoadFactor() float64 {
	return float64(c.size) / float64(c.capacity)
}

// Now implements Cache.
func (c *cache[K, V]) Now() int64 { return c.now }

// advanceClock validates ts against the monotonic clock and moves it forward.
func (c *cache[K, V]) advanceClock(ts int64) error {
	if ts < c.now {
		return fmt.Errorf("%w: timestamp %d behind current time %d", ErrInvalidArgument, ts, c.now)
	}
	c.now = ts
	return nil
}
